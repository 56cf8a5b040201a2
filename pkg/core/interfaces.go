// Package core provides the shared model and interfaces of scanorch:
// the Vulnerability and ScanResult records every adapter produces, the
// Adapter contract, scan entities consumed by the orchestrator, subprocess
// execution and logging.
package core

import (
	"context"
	"time"
)

// =============================================================================
// Adapter Interface - One implementation per external tool
// =============================================================================

// Adapter wraps one external security tool.
//
// Scan never returns a Go error: every failure (invalid target, tool
// failure, timeout, panic) is recorded on the returned ScanResult with
// Status set to StatusFailed.
type Adapter interface {
	// Name returns the adapter name (e.g., "nmap", "nuclei")
	Name() string

	// ValidateTarget is a cheap, local check of the target URL
	ValidateTarget(targetURL string) bool

	// Scan runs the tool against the target and normalizes its output
	Scan(ctx context.Context, targetURL string, opts Options) *ScanResult

	// GetScanSummary computes counts and adapter facets for a result
	GetScanSummary(result *ScanResult) *Summary
}

// Installer is implemented by adapters backed by a local binary.
type Installer interface {
	// IsInstalled reports whether the binary is available and its version
	IsInstalled(ctx context.Context) (bool, string, error)
}

// TimeoutProvider is implemented by adapters with their own default
// deadline. The orchestrator uses it in place of its configured adapter
// timeout.
type TimeoutProvider interface {
	DefaultTimeout() time.Duration
}

// =============================================================================
// Scan Types
// =============================================================================

// ScanType selects the depth of a scan and the adapter set.
type ScanType string

const (
	ScanTypeQuick    ScanType = "quick"
	ScanTypeStandard ScanType = "standard"
	ScanTypeFull     ScanType = "full"
	ScanTypeCustom   ScanType = "custom"
)

// ParseScanType returns the scan type for s, defaulting to standard.
func ParseScanType(s string) ScanType {
	switch ScanType(s) {
	case ScanTypeQuick, ScanTypeStandard, ScanTypeFull, ScanTypeCustom:
		return ScanType(s)
	default:
		return ScanTypeStandard
	}
}
