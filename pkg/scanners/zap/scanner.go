// Package zap provides the web application adapter driving an OWASP ZAP
// instance through its JSON API.
package zap

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/retry"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

const (
	// DefaultHost is the default ZAP API host.
	DefaultHost = "localhost"

	// DefaultPort is the default ZAP API port.
	DefaultPort = 8080

	// DefaultTimeout bounds a whole ZAP scan.
	DefaultTimeout = 30 * time.Minute

	DefaultSpiderPollInterval = 5 * time.Second
	DefaultSpiderMaxWait      = 300 * time.Second
	DefaultActivePollInterval = 10 * time.Second
	DefaultActiveMaxWait      = 600 * time.Second
)

// Name is the adapter name.
const Name = "zap"

// statusDone is the progress value ZAP reports for a finished scan.
const statusDone = "100"

// Scanner implements core.Adapter for ZAP.
type Scanner struct {
	// API location, overridable per scan with zap_host, zap_port, api_key
	Host   string
	Port   int
	APIKey string

	Timeout time.Duration

	// Polling bounds. Reaching a max wait is logged and the scan moves on.
	SpiderPollInterval time.Duration
	SpiderMaxWait      time.Duration
	ActivePollInterval time.Duration
	ActiveMaxWait      time.Duration

	HTTPClient *http.Client
	Retry      retry.Policy
	Logger     core.Logger
}

// NewScanner creates a ZAP scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{
		Host:               DefaultHost,
		Port:               DefaultPort,
		Timeout:            DefaultTimeout,
		SpiderPollInterval: DefaultSpiderPollInterval,
		SpiderMaxWait:      DefaultSpiderMaxWait,
		ActivePollInterval: DefaultActivePollInterval,
		ActiveMaxWait:      DefaultActiveMaxWait,
		HTTPClient:         &http.Client{Timeout: 60 * time.Second},
		Retry:              retry.DefaultPolicy(),
	}
}

// Name returns the adapter name.
func (s *Scanner) Name() string {
	return Name
}

// ValidateTarget accepts http and https URLs with a host.
func (s *Scanner) ValidateTarget(targetURL string) bool {
	return core.ValidateHTTPTarget(targetURL)
}

// Scan runs the spider, then the active scanner, then collects the alerts
// ZAP raised for the target.
func (s *Scanner) Scan(ctx context.Context, targetURL string, opts core.Options) *core.ScanResult {
	return core.RunScan(ctx, s, targetURL, func(ctx context.Context, result *core.ScanResult) error {
		timeout := opts.Timeout(s.DefaultTimeout())
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		baseURL := s.baseURL(opts)
		client := NewClient(baseURL, opts.String(core.OptAPIKey, s.APIKey), s.HTTPClient, s.Retry)

		version, err := client.Version(ctx)
		if err != nil {
			return scanerrors.E(scanerrors.KindNetwork, "zap", fmt.Sprintf("ZAP API not reachable at %s", baseURL), err)
		}
		result.Infof("Connected to ZAP %s at %s", version, baseURL)

		contextName := fmt.Sprintf("scanorch_%d", time.Now().UnixNano())
		contextID, err := client.NewContext(ctx, contextName)
		if err != nil {
			return scanerrors.Wrap(err, "zap: create context")
		}
		if err := client.IncludeInContext(ctx, contextName, ".*"+regexp.QuoteMeta(targetURL)+".*"); err != nil {
			return scanerrors.Wrap(err, "zap: include target in context")
		}
		result.Infof("Target added to ZAP context %s (id %s)", contextName, contextID)

		spider, active := phases(opts.String(core.OptScanType, string(core.ScanTypeStandard)))

		if spider {
			if err := s.runSpider(ctx, client, result, targetURL, contextName); err != nil {
				return err
			}
		}
		if active {
			if err := s.runActive(ctx, client, result, targetURL, contextID); err != nil {
				return err
			}
		}
		result.Infof("Passive scan results are collected with the alerts")

		alerts, err := client.Alerts(ctx, targetURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Warnf("failed to fetch ZAP alerts: %v", err)
			return nil
		}
		for _, a := range alerts {
			v := toVulnerability(a, targetURL)
			result.AddVulnerability(v)
			result.Infof("Vulnerability found: %s (%s) - %s risk, %s confidence", v.Title, v.Severity, a.Risk, a.Confidence)
		}
		return nil
	})
}

// phases selects spider and active scanning for a scan type. Quick scans
// only spider; passive-only scans collect what ZAP already saw.
func phases(scanType string) (spider, active bool) {
	switch scanType {
	case "quick", "spider":
		return true, false
	case "passive":
		return false, false
	default:
		return true, true
	}
}

func (s *Scanner) runSpider(ctx context.Context, c *Client, result *core.ScanResult, target, contextName string) error {
	result.Infof("Starting spider scan")
	id, err := c.StartSpider(ctx, target, contextName)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result.Errorf("failed to start spider: %v", err)
		return nil
	}
	return s.waitFor(ctx, result, "spider", func(ctx context.Context) (string, error) {
		return c.SpiderStatus(ctx, id)
	}, pick(s.SpiderPollInterval, DefaultSpiderPollInterval), pick(s.SpiderMaxWait, DefaultSpiderMaxWait))
}

func (s *Scanner) runActive(ctx context.Context, c *Client, result *core.ScanResult, target, contextID string) error {
	result.Infof("Starting active scan")
	id, err := c.StartActiveScan(ctx, target, contextID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result.Errorf("failed to start active scan: %v", err)
		return nil
	}
	return s.waitFor(ctx, result, "active scan", func(ctx context.Context) (string, error) {
		return c.ActiveScanStatus(ctx, id)
	}, pick(s.ActivePollInterval, DefaultActivePollInterval), pick(s.ActiveMaxWait, DefaultActiveMaxWait))
}

// waitFor polls status until it reports done or maxWait elapses. Running
// out of time is a warning; only ctx ending is an error.
func (s *Scanner) waitFor(ctx context.Context, result *core.ScanResult, phase string,
	status func(ctx context.Context) (string, error), interval, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)

	for {
		st, err := status(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Warnf("%s status check failed: %v", phase, err)
		case st == statusDone:
			result.Infof("%s completed", phase)
			return nil
		case strings.Contains(strings.ToLower(st), "error"):
			result.Errorf("%s error: %s", phase, st)
			return nil
		}

		if !time.Now().Add(interval).Before(deadline) {
			result.Warnf("%s did not finish within %s, continuing", phase, maxWait)
			return nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetScanSummary adds alerts_by_risk to the base summary.
func (s *Scanner) GetScanSummary(result *core.ScanResult) *core.Summary {
	summary := core.BaseSummary(result)
	if result == nil {
		return summary
	}
	summary.Facets["alerts_by_risk"] = map[string]int{
		"high":   summary.BySeverity.High,
		"medium": summary.BySeverity.Medium,
		"low":    summary.BySeverity.Low,
	}
	return summary
}

// riskToSeverity maps ZAP risk ratings onto the common scale.
func riskToSeverity(risk string) severity.Level {
	switch strings.ToLower(strings.TrimSpace(risk)) {
	case "high":
		return severity.High
	case "medium":
		return severity.Medium
	case "low", "informational", "info":
		return severity.Low
	default:
		return severity.Medium
	}
}

func toVulnerability(a Alert, target string) core.Vulnerability {
	location := a.URL
	if location == "" {
		location = target
	}
	evidence := a.Evidence
	if evidence == "" {
		evidence = fmt.Sprintf("Risk: %s, Confidence: %s", strings.ToLower(a.Risk), strings.ToLower(a.Confidence))
	}
	return core.Vulnerability{
		Title:       a.Title(),
		Description: a.Description,
		Severity:    riskToSeverity(a.Risk),
		Location:    location,
		Evidence:    evidence,
		Payload:     a.Solution,
	}
}

func (s *Scanner) baseURL(opts core.Options) string {
	host := opts.String(core.OptZAPHost, s.Host)
	if host == "" {
		host = DefaultHost
	}
	port := opts.Int(core.OptZAPPort, s.Port)
	if port <= 0 {
		port = DefaultPort
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return fmt.Sprintf("%s:%d", strings.TrimRight(host, "/"), port)
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// DefaultTimeout is the deadline used when a scan sets no timeout option.
func (s *Scanner) DefaultTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

func pick(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

var _ core.Adapter = (*Scanner)(nil)
