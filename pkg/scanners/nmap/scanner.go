// Package nmap provides the port and service adapter backed by the nmap
// binary.
package nmap

import (
	"context"
	"strings"
	"time"

	"github.com/exploopio/scanorch/pkg/core"
)

const (
	// DefaultBinary is the default nmap binary name.
	DefaultBinary = "nmap"

	// DefaultTimeout is the default scan timeout.
	DefaultTimeout = 30 * time.Minute
)

// Name is the adapter name.
const Name = "nmap"

// scanTypeFlags maps scan_type to nmap flags. "stealth" is an nmap-only
// profile selectable through options.
var scanTypeFlags = map[string][]string{
	"quick":    {"-F", "-T4"},
	"standard": {"-sS", "-sV", "-O"},
	"full":     {"-p-", "-sS", "-sV", "-O", "-A"},
	"stealth":  {"-sS", "-sV", "-T2"},
}

// Scanner implements core.Adapter for nmap.
type Scanner struct {
	// Configuration
	Binary  string        // Path to nmap binary (default: "nmap")
	Timeout time.Duration // Scan timeout (default: 30 minutes)

	// Exec runs the binary; nil uses core.ExecuteScanner
	Exec   core.ExecFunc
	Logger core.Logger

	// Internal
	version string
}

// NewScanner creates a new nmap scanner with default settings.
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

// IsInstalled checks if nmap is installed.
func (s *Scanner) IsInstalled(ctx context.Context) (bool, string, error) {
	installed, version, err := core.CheckBinaryInstalled(ctx, s.binary(nil), "--version")
	if err != nil {
		return false, "", err
	}
	if installed {
		s.version = parseVersion(version)
	}
	return installed, s.version, nil
}

// parseVersion extracts the version from "Nmap version 7.94 ( https://nmap.org )".
func parseVersion(output string) string {
	fields := strings.Fields(output)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(output)
}

// Scan runs nmap against the target host and reports open well-known ports,
// plain HTTP and end-of-life OS fingerprints.
func (s *Scanner) Scan(ctx context.Context, targetURL string, opts core.Options) *core.ScanResult {
	return core.RunScan(ctx, s, targetURL, func(ctx context.Context, result *core.ScanResult) error {
		host := core.Hostname(targetURL)
		result.Infof("Target host: %s", host)

		args := s.buildArgs(host, opts)
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
		if err := core.CheckExitCode(binary, res, 0); err != nil {
			return err
		}

		result.RawOutput = res.Stdout
		ParseOutput(result, res.Stdout, host)
		return nil
	})
}

// GetScanSummary adds open_ports and services_detected to the base summary.
func (s *Scanner) GetScanSummary(result *core.ScanResult) *core.Summary {
	summary := core.BaseSummary(result)
	if result == nil {
		return summary
	}
	openPorts, services := facets(result.Vulnerabilities)
	summary.Facets["open_ports"] = openPorts
	summary.Facets["services_detected"] = services
	return summary
}

// buildArgs builds the nmap command arguments. XML is always requested on
// stdout; the text parser only serves output that is not XML.
func (s *Scanner) buildArgs(host string, opts core.Options) []string {
	scanType := opts.String(core.OptScanType, string(core.ScanTypeStandard))
	flags, ok := scanTypeFlags[scanType]
	if !ok {
		flags = scanTypeFlags[string(core.ScanTypeStandard)]
	}

	port := opts.String(core.OptPort, "")
	args := make([]string, 0, len(flags)+5)
	for _, f := range flags {
		// An explicit port list replaces the all-ports sweep.
		if f == "-p-" && port != "" {
			continue
		}
		args = append(args, f)
	}
	if port != "" {
		args = append(args, "-p", port)
	}

	args = append(args, "-oX", "-", host)
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
