// Package nuclei provides the template-based vulnerability adapter backed
// by ProjectDiscovery's nuclei binary.
package nuclei

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/exploopio/scanorch/pkg/core"
)

const (
	// DefaultBinary is the default nuclei binary name.
	DefaultBinary = "nuclei"

	// DefaultTimeout is the default scan timeout.
	DefaultTimeout = 60 * time.Minute

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 150

	// DefaultConcurrency is the default concurrency level.
	DefaultConcurrency = 25

	// DefaultRequestTimeout is the per-request timeout in seconds.
	DefaultRequestTimeout = 10
)

// Name is the adapter name.
const Name = "nuclei"

// Scanner implements core.Adapter for Nuclei.
type Scanner struct {
	// Configuration
	Binary  string        // Path to nuclei binary (default: "nuclei")
	Timeout time.Duration // Scan timeout (default: 60 minutes)

	// Scan options, overridable per scan
	Templates      []string // Template categories (default: DefaultTemplates)
	RateLimit      int      // Requests per second
	Concurrency    int      // Number of concurrent templates
	RequestTimeout int      // Per-request timeout in seconds

	Exec   core.ExecFunc
	Logger core.Logger

	version string
}

// NewScanner creates a new Nuclei scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{
		Binary:         DefaultBinary,
		Timeout:        DefaultTimeout,
		Templates:      DefaultTemplates,
		RateLimit:      DefaultRateLimit,
		Concurrency:    DefaultConcurrency,
		RequestTimeout: DefaultRequestTimeout,
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

// IsInstalled checks if Nuclei is installed.
func (s *Scanner) IsInstalled(ctx context.Context) (bool, string, error) {
	installed, version, err := core.CheckBinaryInstalled(ctx, s.binary(nil), "-version")
	if err != nil {
		return false, "", err
	}
	if installed {
		s.version = parseVersion(version)
	}
	return installed, s.version, nil
}

// parseVersion extracts version from nuclei output.
func parseVersion(output string) string {
	// Nuclei version output: "Nuclei Engine Version: v3.1.0"
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "Version:") {
			parts := strings.Split(line, ":")
			if len(parts) >= 2 {
				return strings.TrimSpace(parts[len(parts)-1])
			}
		}
	}
	return strings.TrimSpace(output)
}

// Scan runs nuclei and converts every JSON line into a finding.
func (s *Scanner) Scan(ctx context.Context, targetURL string, opts core.Options) *core.ScanResult {
	return core.RunScan(ctx, s, targetURL, func(ctx context.Context, result *core.ScanResult) error {
		args := s.buildArgs(targetURL, opts)
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

		// Nuclei exit codes:
		// 0 = success, no findings
		// 1 = findings found or partial failures
		// other = error
		if err := core.CheckExitCode(binary, res, 0, 1); err != nil {
			return err
		}

		result.RawOutput = res.Stdout
		for _, line := range strings.Split(string(res.Stderr), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				logToolNoise(result, line)
			}
		}
		return NewParser().Parse(result, res.Stdout)
	})
}

// GetScanSummary adds templates_used and cves_found to the base summary.
func (s *Scanner) GetScanSummary(result *core.ScanResult) *core.Summary {
	summary := core.BaseSummary(result)
	if result == nil {
		return summary
	}
	templates, cves := facets(result.Vulnerabilities)
	summary.Facets["templates_used"] = templates
	summary.Facets["cves_found"] = cves
	return summary
}

// buildArgs builds the nuclei command arguments.
func (s *Scanner) buildArgs(target string, opts core.Options) []string {
	args := []string{"-u", target, "-jsonl", "-silent"}

	// Severity filtering by depth
	filter, ok := severityFilters[opts.String(core.OptScanType, string(core.ScanTypeStandard))]
	if !ok {
		filter = severityFilters[string(core.ScanTypeStandard)]
	}
	args = append(args, "-severity", filter)

	defaults := s.Templates
	if len(defaults) == 0 {
		defaults = DefaultTemplates
	}
	for _, t := range opts.Strings(core.OptTemplates, defaults) {
		args = append(args, "-t", t)
	}

	if rl := opts.Int(core.OptRateLimit, s.RateLimit); rl > 0 {
		args = append(args, "-rate-limit", fmt.Sprintf("%d", rl))
	}
	if c := opts.Int(core.OptConcurrency, s.Concurrency); c > 0 {
		args = append(args, "-c", fmt.Sprintf("%d", c))
	}
	if s.RequestTimeout > 0 {
		args = append(args, "-timeout", fmt.Sprintf("%d", s.RequestTimeout))
	}

	return args
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
