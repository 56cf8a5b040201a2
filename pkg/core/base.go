package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	scanerrors "github.com/exploopio/scanorch/pkg/errors"
)

// =============================================================================
// Scan envelope shared by all adapters
// =============================================================================

// ScanFunc performs the tool-specific part of a scan, appending findings and
// log lines to result. A returned error fails the result.
type ScanFunc func(ctx context.Context, result *ScanResult) error

// RunScan wraps fn with the behavior every adapter shares: target
// pre-checks, panic containment, timeout tagging, sorting and completion.
// It always returns a terminal result.
func RunScan(ctx context.Context, a Adapter, targetURL string, fn ScanFunc) (result *ScanResult) {
	result = NewScanResult(a.Name(), targetURL)

	defer func() {
		if r := recover(); r != nil {
			result.Fail(fmt.Sprintf("%s: internal error: %v", a.Name(), r))
		}
	}()

	result.Infof("Starting %s scan for %s", a.Name(), targetURL)

	if !a.ValidateTarget(targetURL) {
		result.Fail(fmt.Sprintf("invalid target URL: %q", targetURL))
		return result
	}

	if err := fn(ctx, result); err != nil {
		result.Fail(FailureMessage(a.Name(), err))
		return result
	}

	result.Infof("%s scan completed: %d vulnerabilities found", a.Name(), len(result.Vulnerabilities))
	result.Complete()
	return result
}

// FailureMessage renders err for a failed result, tagging timeouts.
func FailureMessage(adapter string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || scanerrors.IsTimeoutError(err) {
		return fmt.Sprintf("%s timed out: %v", adapter, err)
	}
	return err.Error()
}

// =============================================================================
// Target helpers
// =============================================================================

// ValidateTargetURL reports whether target parses as an absolute URL with a
// scheme and host. It never panics.
func ValidateTargetURL(target string) bool {
	if strings.TrimSpace(target) == "" {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != "" && u.Hostname() != ""
}

// ValidateHTTPTarget is ValidateTargetURL restricted to http and https.
func ValidateHTTPTarget(target string) bool {
	if !ValidateTargetURL(target) {
		return false
	}
	u, _ := url.Parse(target)
	s := strings.ToLower(u.Scheme)
	return s == "http" || s == "https"
}

// Hostname returns the host part of target without port. For inputs that
// do not parse as URLs the raw input is returned trimmed.
func Hostname(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		if u != nil && u.Path != "" {
			return strings.Trim(u.Path, "/")
		}
		return strings.TrimSpace(target)
	}
	return u.Hostname()
}

// TargetPort returns the explicit port of target, or the scheme default.
func TargetPort(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// IsIP reports whether host is a literal IP address.
func IsIP(host string) bool {
	return net.ParseIP(host) != nil
}
