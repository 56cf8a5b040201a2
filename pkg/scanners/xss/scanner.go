// Package xss provides the cross-site scripting adapter. It fetches the
// target page, runs passive checks on the markup and probes form fields
// and query parameters with reflection payloads.
package xss

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

const (
	// DefaultTimeout bounds a whole XSS scan.
	DefaultTimeout = 10 * time.Minute

	// DefaultRequestsPerSecond paces requests to the target.
	DefaultRequestsPerSecond = 10

	// DefaultUserAgent identifies the prober.
	DefaultUserAgent = "scanorch-xss/1.0"

	// maxBodyBytes caps how much of each response is read.
	maxBodyBytes = 2 << 20

	formPayloads  = 5
	paramPayloads = 3

	// canaryParam is sent when the target URL carries no parameters.
	canaryParam = "test"
)

// Name is the adapter name.
const Name = "xss"

// Payloads are tried in order; forms get the first five, query parameters
// the first three.
var Payloads = []string{
	"<script>alert('XSS')</script>",
	"<img src=x onerror=alert('XSS')>",
	"<svg onload=alert('XSS')>",
	"javascript:alert('XSS')",
	"&#60;script&#62;alert('XSS')&#60;/script&#62;",
	"%3Cscript%3Ealert('XSS')%3C/script%3E",
	`' onmouseover='alert("XSS")' '`,
	`" onfocus="alert('XSS')" "`,
	"<ScRiPt>alert('XSS')</ScRiPt>",
	"<script>alert(String.fromCharCode(88,83,83))</script>",
	"javascript:alert(document.cookie)",
	"data:text/html,<script>alert('XSS')</script>",
}

var (
	scriptPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`(?i)<iframe[^>]*>`),
		regexp.MustCompile(`(?i)<object[^>]*>`),
		regexp.MustCompile(`(?i)<embed[^>]*>`),
	}

	domSinks = []*regexp.Regexp{
		regexp.MustCompile(`(?i)document\.write\s*\([^)]*\)`),
		regexp.MustCompile(`(?i)document\.writeln\s*\([^)]*\)`),
		regexp.MustCompile(`(?i)innerHTML\s*=`),
		regexp.MustCompile(`(?i)outerHTML\s*=`),
		regexp.MustCompile(`(?i)eval\s*\([^)]*\)`),
		regexp.MustCompile(`(?i)setTimeout\s*\([^)]*\)`),
		regexp.MustCompile(`(?i)setInterval\s*\([^)]*\)`),
	}

	probeLine = regexp.MustCompile(`Probed (\d+) forms and (\d+) parameters with (\d+) payloads`)
)

// Scanner implements core.Adapter for reflected and DOM XSS checks.
type Scanner struct {
	Timeout   time.Duration
	UserAgent string

	// RequestsPerSecond paces requests within one scan; rate_limit overrides.
	RequestsPerSecond float64

	HTTPClient *http.Client
	Logger     core.Logger
}

// NewScanner creates an XSS scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{
		Timeout:           DefaultTimeout,
		UserAgent:         DefaultUserAgent,
		RequestsPerSecond: DefaultRequestsPerSecond,
		HTTPClient:        &http.Client{Timeout: 30 * time.Second},
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

// prober sends paced requests on behalf of one scan.
type prober struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string

	sent int // payload requests
}

// Scan runs the passive checks on the target page, then probes every
// text-like form field and every query parameter.
func (s *Scanner) Scan(ctx context.Context, targetURL string, opts core.Options) *core.ScanResult {
	return core.RunScan(ctx, s, targetURL, func(ctx context.Context, result *core.ScanResult) error {
		ctx, cancel := context.WithTimeout(ctx, opts.Timeout(s.DefaultTimeout()))
		defer cancel()

		base, err := url.Parse(targetURL)
		if err != nil {
			return scanerrors.E(scanerrors.KindInvalidInput, "xss", err)
		}

		p := &prober{
			client:    s.httpClient(),
			limiter:   s.limiter(opts),
			userAgent: opts.String(core.OptUserAgent, s.userAgent()),
		}

		status, body, err := p.do(ctx, http.MethodGet, targetURL, nil)
		if err != nil {
			return err
		}
		result.RawOutput = body

		var page *Page
		if status != http.StatusOK {
			result.Warnf("target page returned HTTP %d, skipping page analysis", status)
			page = &Page{}
		} else {
			page = ParsePage(bytes.NewReader(body), base)
			passiveChecks(result, page, string(body), targetURL)
			result.Infof("Found %d forms on the page", len(page.Forms))
		}

		forms, err := probeForms(ctx, p, result, page)
		if err != nil {
			return err
		}
		params, err := probeParams(ctx, p, result, base)
		if err != nil {
			return err
		}

		result.Infof("Probed %d forms and %d parameters with %d payloads", forms, params, p.sent)
		return nil
	})
}

func passiveChecks(result *core.ScanResult, page *Page, body, target string) {
	for _, script := range page.Scripts {
		for _, re := range scriptPatterns {
			if re.MatchString(script) {
				result.AddVulnerability(core.Vulnerability{
					Title:       "Potential XSS - Script Content",
					Description: "Inline script contains markup or handlers commonly used for XSS.",
					Severity:    severity.Medium,
					Location:    target,
					Evidence:    truncate(strings.TrimSpace(script), 100),
				})
				break
			}
		}
	}

	for _, h := range page.Handlers {
		result.AddVulnerability(core.Vulnerability{
			Title:       "Potential XSS - Event Handler",
			Description: "Inline event handler attribute: " + h.Attr,
			Severity:    severity.Medium,
			Location:    target,
			Evidence:    fmt.Sprintf(`<%s %s="%s">`, h.Tag, h.Attr, truncate(h.Value, 100)),
		})
	}

	for _, re := range domSinks {
		for _, m := range re.FindAllString(body, -1) {
			result.AddVulnerability(core.Vulnerability{
				Title:       "Potential DOM XSS",
				Description: "Script writes into the DOM through a dangerous sink.",
				Severity:    severity.Medium,
				Location:    target,
				Evidence:    truncate(m, 100),
			})
		}
	}
}

// probeForms sends the first payloads to every text-like field and
// returns the number of forms that had one.
func probeForms(ctx context.Context, p *prober, result *core.ScanResult, page *Page) (int, error) {
	tested := 0
	for _, form := range page.Forms {
		var fields []Field
		for _, f := range form.Fields {
			if f.TextLike() {
				fields = append(fields, f)
			}
		}
		if len(fields) == 0 {
			continue
		}
		tested++

		for _, field := range fields {
			for _, payload := range Payloads[:formPayloads] {
				values := url.Values{field.Name: {payload}}
				p.sent++

				var status int
				var body []byte
				var err error
				title := "Reflected XSS - Form Field"
				if form.Method == "post" {
					status, body, err = p.do(ctx, http.MethodPost, form.Action, values)
				} else {
					title = "Reflected XSS - Form Field (GET)"
					status, body, err = p.do(ctx, http.MethodGet, withQuery(form.Action, values), nil)
				}
				if err != nil {
					if ctx.Err() != nil {
						return tested, ctx.Err()
					}
					result.Warnf("form probe %s %s failed: %v", field.Name, form.Action, err)
					continue
				}
				if status == http.StatusOK && reflected(body, payload) {
					result.AddVulnerability(core.Vulnerability{
						Title:       title,
						Description: "Form field reflects input without encoding: " + field.Name,
						Severity:    severity.High,
						Location:    form.Action,
						Evidence:    fmt.Sprintf("Field: %s, Payload: %s", field.Name, payload),
						Payload:     payload,
					})
					result.Infof("Reflected XSS in form field %s", field.Name)
				}
			}
		}
	}
	return tested, nil
}

// probeParams replaces each query parameter in turn with the first
// payloads, keeping the others. A target without a query gets a single
// canary parameter instead.
func probeParams(ctx context.Context, p *prober, result *core.ScanResult, target *url.URL) (int, error) {
	query := target.Query()
	payloads := Payloads[:paramPayloads]
	if len(query) == 0 {
		query = url.Values{canaryParam: {""}}
		payloads = Payloads[:1]
	}
	endpoint := *target
	endpoint.RawQuery = ""
	endpoint.Fragment = ""

	names := sortedKeys(query)
	for _, name := range names {
		for _, payload := range payloads {
			q := url.Values{}
			for k, v := range query {
				q[k] = v
			}
			q.Set(name, payload)
			testURL := withQuery(endpoint.String(), q)
			p.sent++

			status, body, err := p.do(ctx, http.MethodGet, testURL, nil)
			if err != nil {
				if ctx.Err() != nil {
					return len(names), ctx.Err()
				}
				result.Warnf("parameter probe %s failed: %v", name, err)
				continue
			}
			if status == http.StatusOK && reflected(body, payload) {
				result.AddVulnerability(core.Vulnerability{
					Title:       "Reflected XSS - URL Parameter",
					Description: "URL parameter reflects input without encoding: " + name,
					Severity:    severity.High,
					Location:    testURL,
					Evidence:    fmt.Sprintf("Parameter: %s, Payload: %s", name, payload),
					Payload:     payload,
				})
				result.Infof("Reflected XSS in parameter %s", name)
			}
		}
	}
	return len(names), nil
}

// reflected reports whether payload comes back verbatim, i.e. unescaped.
func reflected(body []byte, payload string) bool {
	return bytes.Contains(body, []byte(payload))
}

func (p *prober) do(ctx context.Context, method, target string, form url.Values) (int, []byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, scanerrors.E(scanerrors.KindInvalidInput, "xss.request", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, scanerrors.E(scanerrors.KindNetwork, "xss.request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, scanerrors.E(scanerrors.KindNetwork, "xss.read", err)
	}
	return resp.StatusCode, data, nil
}

// GetScanSummary adds forms_tested, parameters_tested and payloads to the
// base summary, read back from the scan log.
func (s *Scanner) GetScanSummary(result *core.ScanResult) *core.Summary {
	summary := core.BaseSummary(result)
	if result == nil {
		return summary
	}
	forms, params, payloads := 0, 0, 0
	for _, line := range result.ScanLog {
		if m := probeLine.FindStringSubmatch(line); m != nil {
			forms, _ = strconv.Atoi(m[1])
			params, _ = strconv.Atoi(m[2])
			payloads, _ = strconv.Atoi(m[3])
		}
	}
	summary.Facets["forms_tested"] = forms
	summary.Facets["parameters_tested"] = params
	summary.Facets["payloads"] = payloads
	return summary
}

func (s *Scanner) limiter(opts core.Options) *rate.Limiter {
	rps := s.RequestsPerSecond
	if n := opts.Int(core.OptRateLimit, 0); n > 0 {
		rps = float64(n)
	}
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func (s *Scanner) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

func (s *Scanner) userAgent() string {
	if s.UserAgent != "" {
		return s.UserAgent
	}
	return DefaultUserAgent
}

// DefaultTimeout is the deadline used when a scan sets no timeout option.
func (s *Scanner) DefaultTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

func withQuery(endpoint string, q url.Values) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint + "?" + q.Encode()
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func sortedKeys(v url.Values) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ core.Adapter = (*Scanner)(nil)
