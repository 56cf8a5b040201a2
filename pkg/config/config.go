// Package config loads the scanorch YAML configuration.
//
// Environment variables written as ${NAME} are expanded before parsing, so
// secrets such as API keys can stay out of the file:
//
//	scanners:
//	  shodan:
//	    api_key: ${SHODAN_API_KEY}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/orchestrator"
	"github.com/exploopio/scanorch/pkg/quota"
	"github.com/exploopio/scanorch/pkg/scanners"
)

// Config is the full configuration.
type Config struct {
	Log          LogConfig                `yaml:"log"`
	Orchestrator OrchestratorConfig       `yaml:"orchestrator"`
	Quota        quota.Limits             `yaml:"quota"`
	Store        StoreConfig              `yaml:"store"`
	Metrics      MetricsConfig            `yaml:"metrics"`
	Audit        AuditConfig              `yaml:"audit"`
	Scanners     map[string]ScannerConfig `yaml:"scanners"`
}

// LogConfig configures operator logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// OrchestratorConfig tunes scan execution and maintenance.
type OrchestratorConfig struct {
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	AdapterTimeout time.Duration `yaml:"adapter_timeout"`
	AdapterGrace   time.Duration `yaml:"adapter_grace"`
	RetentionDays  int           `yaml:"retention_days"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// StoreConfig selects the scan repository.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory or sqlite
	Path   string `yaml:"path"`   // sqlite file, or :memory:
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// AuditConfig configures the audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"`
}

// ScannerConfig configures one adapter. Fields that do not apply to an
// adapter are ignored.
type ScannerConfig struct {
	Binary    string        `yaml:"binary"`
	Timeout   time.Duration `yaml:"timeout"`
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second

	// Extra is added to the options this adapter sees in every scan.
	Extra map[string]any `yaml:"extra"`
}

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Orchestrator: OrchestratorConfig{
			ScanTimeout:    orchestrator.DefaultScanTimeout,
			AdapterTimeout: orchestrator.DefaultAdapterTimeout,
			AdapterGrace:   orchestrator.DefaultAdapterGrace,
			RetentionDays:  30,
			SweepInterval:  time.Minute,
		},
		Quota: quota.DefaultLimits(),
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   home + "/.scanorch/scans.db",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Addr:      ":9090",
			Namespace: "scanorch",
		},
		Audit: AuditConfig{
			Enabled: true,
			File:    home + "/.scanorch/audit.log",
		},
		Scanners: map[string]ScannerConfig{},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, scanerrors.E(scanerrors.KindInvalidInput, "config.Load", "read config", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, scanerrors.Wrap(err, "config.Load")
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, expanding ${NAME} references, and
// validates the result. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, scanerrors.E(scanerrors.KindInvalidInput, "config.Parse", "parse config", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fills secrets that were left empty from the environment.
func (c *Config) applyEnv() {
	if c.Scanners == nil {
		c.Scanners = map[string]ScannerConfig{}
	}
	for name, env := range map[string]string{"shodan": "SHODAN_API_KEY", "zap": "ZAP_API_KEY"} {
		sc := c.Scanners[name]
		if sc.APIKey == "" {
			if v := os.Getenv(env); v != "" {
				sc.APIKey = v
				c.Scanners[name] = sc
			}
		}
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	const op = "config.Validate"
	var problems []string

	o := c.Orchestrator
	if o.ScanTimeout <= 0 {
		problems = append(problems, "orchestrator.scan_timeout must be positive")
	}
	if o.AdapterTimeout <= 0 {
		problems = append(problems, "orchestrator.adapter_timeout must be positive")
	}
	if o.RetentionDays <= 0 {
		problems = append(problems, "orchestrator.retention_days must be positive")
	}
	v := core.NewValidator()
	v.MinDuration("orchestrator.sweep_interval", o.SweepInterval, time.Second)
	v.MinDuration("orchestrator.adapter_grace", o.AdapterGrace, 0)
	if o.ScanTimeout > 0 {
		if field, longest := c.longestAdapterTimeout(); o.ScanTimeout <= longest+c.adapterGrace() {
			problems = append(problems, fmt.Sprintf(
				"orchestrator.scan_timeout (%s) must exceed %s (%s) plus adapter_grace, or the timeout sweep fails running scans",
				o.ScanTimeout, field, longest))
		}
	}

	for tier, l := range map[string]quota.Limit{"standard": c.Quota.Standard, "elevated": c.Quota.Elevated} {
		if l.Monthly < 0 || l.Concurrent < 0 {
			problems = append(problems, fmt.Sprintf("quota.%s limits must not be negative", tier))
		}
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for sqlite")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not memory or sqlite", c.Store.Driver))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		problems = append(problems, "metrics.addr is required when metrics are enabled")
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not text or json", c.Log.Format))
	}

	known := scanners.ProfileAdapters(core.ScanTypeFull)
	for _, name := range slices.Sorted(maps.Keys(c.Scanners)) {
		sc := c.Scanners[name]
		if !slices.Contains(known, name) {
			problems = append(problems, fmt.Sprintf("scanners.%s: unknown adapter", name))
		}
		if sc.Timeout < 0 || sc.Port < 0 || sc.RateLimit < 0 {
			problems = append(problems, fmt.Sprintf("scanners.%s: negative value", name))
		}
		v.URL(fmt.Sprintf("scanners.%s.base_url", name), sc.BaseURL)
	}
	for _, e := range v.Errors() {
		problems = append(problems, e.Error())
	}

	if len(problems) > 0 {
		slices.Sort(problems)
		return scanerrors.E(scanerrors.KindInvalidInput, op, strings.Join(problems, "; "))
	}
	return nil
}

// longestAdapterTimeout returns the largest deadline any adapter can run
// under and the setting it comes from.
func (c *Config) longestAdapterTimeout() (string, time.Duration) {
	field, longest := "orchestrator.adapter_timeout", c.Orchestrator.AdapterTimeout
	for _, name := range scanners.ProfileAdapters(core.ScanTypeFull) {
		t := c.Scanners[name].Timeout
		if t <= 0 {
			t = scanners.DefaultTimeout(name)
		}
		if t > longest {
			field, longest = fmt.Sprintf("the %s timeout", name), t
		}
	}
	return field, longest
}

func (c *Config) adapterGrace() time.Duration {
	if c.Orchestrator.AdapterGrace > 0 {
		return c.Orchestrator.AdapterGrace
	}
	return orchestrator.DefaultAdapterGrace
}

// OrchestratorConfig returns the orchestrator settings.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		AdapterTimeout: c.Orchestrator.AdapterTimeout,
		AdapterGrace:   c.Orchestrator.AdapterGrace,
		ScanTimeout:    c.Orchestrator.ScanTimeout,
		Retention:      time.Duration(c.Orchestrator.RetentionDays) * 24 * time.Hour,
	}
}

// ScannersConfig returns the adapter settings for the default registry.
func (c *Config) ScannersConfig(logger core.Logger) scanners.Config {
	out := scanners.Config{
		Binaries: map[string]string{},
		Timeouts: map[string]time.Duration{},
		Logger:   logger,
	}
	for name, sc := range c.Scanners {
		if sc.Binary != "" {
			out.Binaries[name] = sc.Binary
		}
		if sc.Timeout > 0 {
			out.Timeouts[name] = sc.Timeout
		}
	}

	zap := c.Scanners["zap"]
	out.ZAPHost = zap.Host
	out.ZAPPort = zap.Port
	out.ZAPAPIKey = zap.APIKey

	shodan := c.Scanners["shodan"]
	out.ShodanAPIKey = shodan.APIKey
	out.ShodanBaseURL = shodan.BaseURL
	out.ShodanRequestsPerSecond = shodan.RateLimit

	out.XSSRequestsPerSecond = c.Scanners["xss"].RateLimit
	return out
}

// ScanOptions returns the options every scan starts from: the extra
// options of each configured adapter, scoped to that adapter.
func (c *Config) ScanOptions() core.Options {
	opts := core.Options{}
	for name, sc := range c.Scanners {
		for k, v := range sc.Extra {
			opts[core.ScopedKey(name, k)] = v
		}
	}
	return opts
}
