// scanorch runs security scans against web targets.
//
// A scan fans out to the tool adapters of its scan type (nmap, nuclei, zap,
// sqlmap, nikto, shodan and the built-in xss prober), normalizes their
// findings and stores them with a per-scan log.
//
//	scanorch scan --target https://example.com --type full
//	scanorch adapters
//	scanorch serve --config scanorch.yaml
//	scanorch stats --account acme
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/exploopio/scanorch/pkg/audit"
	"github.com/exploopio/scanorch/pkg/config"
	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/metrics"
	"github.com/exploopio/scanorch/pkg/orchestrator"
	"github.com/exploopio/scanorch/pkg/quota"
	"github.com/exploopio/scanorch/pkg/scanners"
	"github.com/exploopio/scanorch/pkg/store"
)

const (
	appName    = "scanorch"
	appVersion = "0.1.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Security scan orchestration",
		Long:          "scanorch runs network, web and reconnaissance scanners against a target and collects normalized findings.",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to config file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Verbose output")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: text or json (overrides config)")

	root.AddCommand(
		newScanCmd(g),
		newAdaptersCmd(g),
		newServeCmd(g),
		newStatsCmd(g),
		newReportCmd(g),
	)
	return root
}

// loadConfig reads the config file, or the defaults when none is given,
// and applies the global flags.
func loadConfig(g *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.Load(g.configPath)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}

	if g.verbose {
		cfg.Log.Level = "debug"
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.LogConfig) core.Logger {
	if cfg.Format == "json" {
		level := slog.LevelInfo
		switch core.ParseLevel(cfg.Level) {
		case core.LevelDebug:
			level = slog.LevelDebug
		case core.LevelWarn:
			level = slog.LevelWarn
		case core.LevelError, core.LevelSilent:
			level = slog.LevelError
		}
		return core.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}
	return core.NewDefaultLogger("["+appName+"] ", core.ParseLevel(cfg.Level))
}

func scannersFromConfig(cfg *config.Config) *scanners.Registry {
	return scanners.NewDefaultRegistry(cfg.ScannersConfig(newLogger(cfg.Log)))
}

// app is the runtime wired from a config.
type app struct {
	cfg      *config.Config
	logger   core.Logger
	repo     store.Repository
	registry *scanners.Registry
	guard    *quota.Guard
	metrics  metrics.Collector
	audit    *audit.Logger
	orch     *orchestrator.Orchestrator
}

func newApp(g *globalFlags) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: newLogger(cfg.Log)}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		a.repo = store.NewMemory()
	default:
		if cfg.Store.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		sq, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.repo = sq
	}

	a.metrics = &metrics.NopCollector{}
	if cfg.Metrics.Enabled {
		prom, err := metrics.NewPrometheusCollector(&metrics.PrometheusConfig{Namespace: cfg.Metrics.Namespace})
		if err != nil {
			a.repo.Close()
			return nil, err
		}
		a.metrics = prom
	}

	var sink audit.Sink = audit.Nop{}
	if cfg.Audit.Enabled {
		al, err := audit.NewLogger(&audit.LoggerConfig{LogFile: cfg.Audit.File})
		if err != nil {
			a.logger.Warn("audit log disabled: %v", err)
		} else {
			al.Start()
			a.audit = al
			sink = al
		}
	}

	a.registry = scanners.NewDefaultRegistry(cfg.ScannersConfig(a.logger))
	a.guard = quota.NewGuard(a.repo, cfg.Quota)
	a.orch = orchestrator.New(a.repo, a.registry, a.guard, cfg.OrchestratorConfig(),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithAudit(sink),
		orchestrator.WithTracer(otel.Tracer(appName)),
	)
	return a, nil
}

// close stops running scans and releases the store and audit file.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*a.cfg.Orchestrator.AdapterGrace+time.Second)
	defer cancel()
	if err := a.orch.Shutdown(ctx); err != nil {
		a.logger.Warn("shutdown: %v", err)
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("close audit log: %v", err)
		}
	}
	if err := a.repo.Close(); err != nil {
		a.logger.Warn("close store: %v", err)
	}
}
