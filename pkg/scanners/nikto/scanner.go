// Package nikto provides the web server adapter backed by the nikto
// binary.
package nikto

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/exploopio/scanorch/pkg/core"
)

const (
	// DefaultBinary is the default nikto binary name.
	DefaultBinary = "nikto"

	// DefaultTimeout is the default scan timeout.
	DefaultTimeout = 30 * time.Minute

	// DefaultUserAgent is sent when no user_agent option is given.
	DefaultUserAgent = "Mozilla/5.0 (Nikto Scanner)"
)

// Name is the adapter name.
const Name = "nikto"

// tuning maps scan_type to nikto -Tuning test classes.
var tuning = map[string]string{
	"quick":    "1,2,3",
	"standard": "1,2,3,4,5,6",
	"full":     "1,2,3,4,5,6,7,8,9,0,a,b,c",
}

// Scanner implements core.Adapter for nikto.
type Scanner struct {
	Binary  string
	Timeout time.Duration

	Exec   core.ExecFunc
	Logger core.Logger

	version string
}

// NewScanner creates a new nikto scanner with default settings.
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

// ValidateTarget accepts http and https URLs with a host.
func (s *Scanner) ValidateTarget(targetURL string) bool {
	return core.ValidateHTTPTarget(targetURL)
}

// IsInstalled checks if nikto is installed.
func (s *Scanner) IsInstalled(ctx context.Context) (bool, string, error) {
	installed, version, err := core.CheckBinaryInstalled(ctx, s.binary(nil), "-Version")
	if err != nil {
		return false, "", err
	}
	if installed {
		s.version = parseVersion(version)
	}
	return installed, s.version, nil
}

// parseVersion extracts "2.5.0" from lines like "Nikto 2.5.0 (LW 2.5)".
func parseVersion(output string) string {
	for _, f := range strings.Fields(output) {
		if f != "" && f[0] >= '0' && f[0] <= '9' && strings.Contains(f, ".") {
			return f
		}
	}
	return strings.TrimSpace(output)
}

// Scan runs nikto against the target web server.
func (s *Scanner) Scan(ctx context.Context, targetURL string, opts core.Options) *core.ScanResult {
	return core.RunScan(ctx, s, targetURL, func(ctx context.Context, result *core.ScanResult) error {
		host := core.Hostname(targetURL)
		result.Infof("Target host: %s", host)

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
		// nikto exits 1 when it reported items
		if err := core.CheckExitCode(binary, res, 0, 1); err != nil {
			return err
		}

		result.RawOutput = res.Stdout
		ParseOutput(result, res.Stdout, host)
		return nil
	})
}

// GetScanSummary adds vulnerability_types, the number of distinct
// categories, to the base summary.
func (s *Scanner) GetScanSummary(result *core.ScanResult) *core.Summary {
	summary := core.BaseSummary(result)
	if result == nil {
		return summary
	}
	types := make(map[string]struct{})
	for _, v := range result.Vulnerabilities {
		types[category(v.Title, v.Description)] = struct{}{}
	}
	summary.Facets["vulnerability_types"] = len(types)
	return summary
}

func (s *Scanner) buildArgs(targetURL string, opts core.Options) []string {
	args := []string{"-h", core.Hostname(targetURL), "-Format", "txt", "-nointeractive"}

	port := opts.String(core.OptPort, core.TargetPort(targetURL))
	if port != "" {
		args = append(args, "-p", port)
	}
	if opts.Bool(core.OptSSL, strings.HasPrefix(strings.ToLower(targetURL), "https://")) {
		args = append(args, "-ssl")
	}

	classes := opts.String(core.OptTuning, "")
	if classes == "" {
		var ok bool
		if classes, ok = tuning[opts.String(core.OptScanType, string(core.ScanTypeStandard))]; !ok {
			classes = tuning[string(core.ScanTypeStandard)]
		}
	}
	args = append(args, "-Tuning", classes)

	args = append(args, "-useragent", opts.String(core.OptUserAgent, DefaultUserAgent))
	if n := opts.Int(core.OptTimeout, 0); n > 0 {
		args = append(args, "-timeout", strconv.Itoa(n))
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
