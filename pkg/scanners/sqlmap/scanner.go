// Package sqlmap provides the SQL injection adapter backed by the sqlmap
// binary.
package sqlmap

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
)

const (
	// DefaultBinary is the default sqlmap binary name.
	DefaultBinary = "sqlmap"

	// DefaultTimeout is the default scan timeout.
	DefaultTimeout = 30 * time.Minute

	// DefaultTechniques enables every injection technique.
	DefaultTechniques = "BEUSTQ"
)

// Name is the adapter name.
const Name = "sqlmap"

// scanLevels maps scan_type to --level.
var scanLevels = map[string]int{
	"quick":    1,
	"standard": 3,
	"full":     5,
}

// Scanner implements core.Adapter for sqlmap.
type Scanner struct {
	Binary  string
	Timeout time.Duration

	// TempDir is the parent of the per-scan output directory (default: os.TempDir()).
	TempDir string

	Exec   core.ExecFunc
	Logger core.Logger

	version string
}

// NewScanner creates a new sqlmap scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{
		Binary:  DefaultBinary,
		Timeout: DefaultTimeout,
	}
}

// Name returns the adapter name.
func (s *Scanner) Name() string {
	return Name
}

// Version returns the version seen by the last IsInstalled call.
func (s *Scanner) Version() string {
	return s.version
}

// ValidateTarget requires a URL with a scheme and host.
func (s *Scanner) ValidateTarget(targetURL string) bool {
	return core.ValidateTargetURL(targetURL)
}

// IsInstalled checks if sqlmap is installed.
func (s *Scanner) IsInstalled(ctx context.Context) (bool, string, error) {
	installed, version, err := core.CheckBinaryInstalled(ctx, s.binary(nil), "--version")
	if err != nil {
		return false, "", err
	}
	if installed {
		s.version = strings.TrimSuffix(strings.TrimSpace(version), "#stable")
	}
	return installed, s.version, nil
}

// Scan runs sqlmap in batch mode against the target. sqlmap writes its
// session into an output directory owned by this call and removed after.
func (s *Scanner) Scan(ctx context.Context, targetURL string, opts core.Options) *core.ScanResult {
	return core.RunScan(ctx, s, targetURL, func(ctx context.Context, result *core.ScanResult) error {
		outputDir, err := os.MkdirTemp(s.TempDir, "scanorch-sqlmap-")
		if err != nil {
			return scanerrors.E(scanerrors.KindExecution, "sqlmap", "create output directory", err)
		}
		defer os.RemoveAll(outputDir)

		args := s.buildArgs(targetURL, outputDir, opts)
		binary := s.binary(opts)
		result.Infof("Running: %s %s", binary, strings.Join(args, " "))

		res, err := s.exec()(ctx, &core.ExecConfig{
			Binary:  binary,
			Args:    args,
			Timeout: opts.Timeout(s.DefaultTimeout()),
			Logger:  s.Logger,
		})
		if err != nil {
			return err
		}
		// sqlmap exits 1 when nothing was injectable
		if err := core.CheckExitCode(binary, res, 0, 1); err != nil {
			return err
		}

		result.RawOutput = res.Stdout
		ParseOutput(result, res.Stdout, targetURL)
		parseLogFiles(result, outputDir, targetURL)
		return nil
	})
}

// GetScanSummary adds injection_types and affected_parameters to the base
// summary.
func (s *Scanner) GetScanSummary(result *core.ScanResult) *core.Summary {
	summary := core.BaseSummary(result)
	if result == nil {
		return summary
	}
	types, params := facets(result.Vulnerabilities)
	summary.Facets["injection_types"] = types
	summary.Facets["affected_parameters"] = params
	return summary
}

func (s *Scanner) buildArgs(target, outputDir string, opts core.Options) []string {
	level, ok := scanLevels[opts.String(core.OptScanType, string(core.ScanTypeStandard))]
	if !ok {
		level = scanLevels[string(core.ScanTypeStandard)]
	}
	level = opts.Int(core.OptLevel, level)

	args := []string{"-u", target, "--batch", "--random-agent", "--level", strconv.Itoa(level)}

	risk := 0
	if opts.ScanType() == core.ScanTypeFull {
		risk = 3
	}
	if risk = opts.Int(core.OptRisk, risk); risk > 0 {
		args = append(args, "--risk", strconv.Itoa(risk))
	}

	techniques := strings.Join(opts.Strings(core.OptTechniques, []string{DefaultTechniques}), "")
	args = append(args, "--technique", techniques)

	if opts.Bool(core.OptForms, false) {
		args = append(args, "--forms")
	}
	if depth := crawlDepth(opts); depth > 0 {
		args = append(args, fmt.Sprintf("--crawl=%d", depth))
	}
	if dbms := opts.String(core.OptDBMS, ""); dbms != "" {
		args = append(args, "--dbms", dbms)
	}

	args = append(args, "--output-dir", outputDir)
	return args
}

// crawlDepth accepts crawl as a depth or as a boolean meaning depth 2.
func crawlDepth(opts core.Options) int {
	if n := opts.Int(core.OptCrawl, 0); n > 0 {
		return n
	}
	if opts.Bool(core.OptCrawl, false) {
		return 2
	}
	return 0
}

func (s *Scanner) binary(opts core.Options) string {
	if b := opts.String(core.OptBinary, ""); b != "" {
		return b
	}
	if s.Binary != "" {
		return s.Binary
	}
	return DefaultBinary
}

// DefaultTimeout is the deadline used when a scan sets no timeout option.
func (s *Scanner) DefaultTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

func (s *Scanner) exec() core.ExecFunc {
	if s.Exec != nil {
		return s.Exec
	}
	return core.ExecuteScanner
}

var (
	_ core.Adapter   = (*Scanner)(nil)
	_ core.Installer = (*Scanner)(nil)
)
