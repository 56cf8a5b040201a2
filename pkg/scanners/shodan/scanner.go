// Package shodan provides the internet-intelligence adapter backed by the
// Shodan REST API. It reports what Shodan has already observed about the
// target host; it sends no traffic to the target itself.
package shodan

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/retry"
	"github.com/exploopio/scanorch/pkg/shared/ports"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

const (
	// DefaultTimeout bounds a whole Shodan lookup.
	DefaultTimeout = 5 * time.Minute

	// DefaultRequestsPerSecond matches the API's per-key request rate.
	DefaultRequestsPerSecond = 1
)

// Name is the adapter name.
const Name = "shodan"

// searchFacets are requested with every hostname search.
var searchFacets = []string{"port", "product", "os"}

var (
	titlePort       = regexp.MustCompile(`Open Port: (\d+)`)
	evidenceService = regexp.MustCompile(`Service: (\S+)`)
)

// ResolveFunc resolves a hostname to IP addresses.
type ResolveFunc func(ctx context.Context, host string) ([]string, error)

// Scanner implements core.Adapter for Shodan.
type Scanner struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	HTTPClient *http.Client
	Retry      retry.Policy

	// Limiter paces requests across every scan sharing this adapter.
	Limiter *rate.Limiter

	// Resolve defaults to net.DefaultResolver.
	Resolve ResolveFunc
	Logger  core.Logger
}

// NewScanner creates a Shodan scanner for apiKey.
func NewScanner(apiKey string) *Scanner {
	return &Scanner{
		BaseURL:    DefaultBaseURL,
		APIKey:     apiKey,
		Timeout:    DefaultTimeout,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Retry:      retry.DefaultPolicy(),
		Limiter:    rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), 1),
	}
}

// Name returns the adapter name.
func (s *Scanner) Name() string {
	return Name
}

// ValidateTarget requires a URL with a scheme and host.
func (s *Scanner) ValidateTarget(targetURL string) bool {
	return core.ValidateTargetURL(targetURL)
}

// Scan looks the target host up by IP and, for hostnames, by hostname
// search. Open well-known ports, end-of-life operating systems and
// flagged server products become findings; repeats across the two
// lookups are reported once.
func (s *Scanner) Scan(ctx context.Context, targetURL string, opts core.Options) *core.ScanResult {
	return core.RunScan(ctx, s, targetURL, func(ctx context.Context, result *core.ScanResult) error {
		apiKey := opts.String(core.OptAPIKey, s.APIKey)
		if apiKey == "" {
			return scanerrors.ErrMissingAPIKey
		}

		ctx, cancel := context.WithTimeout(ctx, opts.Timeout(s.DefaultTimeout()))
		defer cancel()

		host := core.Hostname(targetURL)
		result.Infof("Target host: %s", host)

		client := NewClient(s.BaseURL, apiKey, s.HTTPClient, s.Limiter, s.Retry)

		ips := []string{host}
		isHostname := !core.IsIP(host)
		if isHostname {
			resolved, err := s.resolve(ctx, host)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				result.Warnf("failed to resolve %s: %v", host, err)
				ips = nil
			} else {
				ips = resolved
				result.Infof("Resolved %s to %s", host, strings.Join(ips, ", "))
			}
		}

		for _, ip := range ips {
			info, err := client.Host(ctx, ip)
			if err != nil {
				if fatal := s.lookupError(ctx, result, "host lookup "+ip, err); fatal != nil {
					return fatal
				}
				continue
			}
			analyzeHost(result, host, info)
		}

		if isHostname {
			search, err := client.Search(ctx, "hostname:"+host, searchFacets...)
			if err != nil {
				if fatal := s.lookupError(ctx, result, "hostname search", err); fatal != nil {
					return fatal
				}
				return nil
			}
			result.Infof("Hostname search returned %d matches", search.Total)
			for _, m := range search.Matches {
				analyzeBanner(result, host, m)
			}
		}
		return nil
	})
}

// lookupError decides whether a failed API call fails the scan. A rejected
// key or an ended context does; anything else is logged and the scan
// carries on with what it has.
func (s *Scanner) lookupError(ctx context.Context, result *core.ScanResult, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if se, ok := scanerrors.AsStatusError(err); ok {
		switch se.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return scanerrors.E(scanerrors.KindAuthentication, "shodan", "API key rejected", err)
		case http.StatusNotFound:
			result.Infof("%s: no information available", what)
			return nil
		}
	}
	result.Warnf("%s failed: %v", what, err)
	return nil
}

func analyzeHost(result *core.ScanResult, host string, info *HostInfo) {
	for _, p := range info.Ports {
		analyzePort(result, host, p)
	}
	if info.OS != "" {
		if desc, ok := ports.MatchEOLOS(info.OS); ok {
			v := core.Vulnerability{
				Title:       "Outdated OS Version: " + info.OS,
				Description: desc,
				Severity:    severity.High,
				Location:    host,
				Evidence:    "OS: " + info.OS,
			}
			if result.AddUniqueVulnerability(v) {
				result.Infof("End-of-life OS detected: %s", info.OS)
			}
		}
	}
	for _, b := range info.Data {
		analyzeBanner(result, host, b)
	}
}

func analyzeBanner(result *core.ScanResult, host string, b Banner) {
	if b.Port > 0 {
		analyzePort(result, host, b.Port)
	}
	if b.Product == "" {
		return
	}
	if p, ok := ports.MatchProduct(b.Product); ok {
		v := core.Vulnerability{
			Title:       "Web Server: " + b.Product,
			Description: p.Description,
			Severity:    p.Severity,
			Location:    host,
			Evidence:    "Product: " + b.Product,
		}
		if result.AddUniqueVulnerability(v) {
			result.Infof("Flagged product: %s (%s)", b.Product, p.Severity)
		}
	}
}

func analyzePort(result *core.ScanResult, host string, port int) {
	svc, ok := ports.Lookup(port)
	if !ok {
		return
	}
	name := strings.ToUpper(svc.Name)
	v := core.Vulnerability{
		Title:       fmt.Sprintf("Open Port: %d - %s", port, name),
		Description: svc.Description,
		Severity:    svc.Severity,
		Location:    fmt.Sprintf("%s:%d", host, port),
		Evidence:    fmt.Sprintf("Port %d open, Service: %s", port, name),
	}
	if result.AddUniqueVulnerability(v) {
		result.Infof("Open port: %d - %s (%s)", port, name, svc.Severity)
	}
}

// GetScanSummary adds open_ports and services to the base summary.
func (s *Scanner) GetScanSummary(result *core.ScanResult) *core.Summary {
	summary := core.BaseSummary(result)
	if result == nil {
		return summary
	}
	openPorts := make(map[string]struct{})
	services := make(map[string]struct{})
	for _, v := range result.Vulnerabilities {
		if m := titlePort.FindStringSubmatch(v.Title); m != nil {
			openPorts[m[1]] = struct{}{}
		}
		if m := evidenceService.FindStringSubmatch(v.Evidence); m != nil {
			services[m[1]] = struct{}{}
		}
	}
	summary.Facets["open_ports"] = len(openPorts)
	summary.Facets["services"] = len(services)
	return summary
}

func (s *Scanner) resolve(ctx context.Context, host string) ([]string, error) {
	if s.Resolve != nil {
		return s.Resolve(ctx, host)
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, scanerrors.E(scanerrors.KindNetwork, "shodan.resolve", err)
	}
	ips := make([]string, 0, len(addrs))
	for _, a := range addrs {
		// Shodan indexes IPv4 hosts
		if a.IP.To4() != nil {
			ips = append(ips, a.IP.String())
		}
	}
	if len(ips) == 0 {
		return nil, scanerrors.E(scanerrors.KindNotFound, "shodan.resolve", "no IPv4 address for "+host)
	}
	return ips, nil
}

// DefaultTimeout is the deadline used when a scan sets no timeout option.
func (s *Scanner) DefaultTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

var _ core.Adapter = (*Scanner)(nil)
