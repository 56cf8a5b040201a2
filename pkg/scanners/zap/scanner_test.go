package zap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/retry"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

// fakeZAP serves the subset of the ZAP JSON API the adapter uses.
type fakeZAP struct {
	mu          sync.Mutex
	apiKey      string
	spiderPolls int
	spiderDone  int // polls until spider reports 100; <0 never
	activeDone  int
	activePolls int
	alerts      []Alert
	calls       []string
}

func (f *fakeZAP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/JSON/"), "/")
	f.calls = append(f.calls, path)

	if f.apiKey != "" && r.URL.Query().Get("apikey") != f.apiKey {
		http.Error(w, `{"code":"bad_api_key"}`, http.StatusForbidden)
		return
	}

	var out any
	switch path {
	case "core/view/version":
		out = map[string]string{"version": "2.14.0"}
	case "context/action/newContext":
		out = map[string]string{"contextId": "1"}
	case "context/action/includeInContext":
		out = map[string]string{"Result": "OK"}
	case "spider/action/scan", "ascan/action/scan":
		out = map[string]string{"scan": "7"}
	case "spider/view/status":
		f.spiderPolls++
		out = map[string]string{"status": progress(f.spiderPolls, f.spiderDone)}
	case "ascan/view/status":
		f.activePolls++
		out = map[string]string{"status": progress(f.activePolls, f.activeDone)}
	case "core/view/alerts":
		out = map[string]any{"alerts": f.alerts}
	default:
		http.NotFound(w, r)
		return
	}
	_ = json.NewEncoder(w).Encode(out)
}

func progress(polls, doneAt int) string {
	if doneAt >= 0 && polls >= doneAt {
		return "100"
	}
	return "42"
}

func newTestScanner(t *testing.T, f *fakeZAP) *Scanner {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	s := NewScanner()
	s.Host = u.Hostname()
	s.Port = port
	s.APIKey = f.apiKey
	s.SpiderPollInterval = time.Millisecond
	s.ActivePollInterval = time.Millisecond
	s.SpiderMaxWait = 50 * time.Millisecond
	s.ActiveMaxWait = 50 * time.Millisecond
	s.Retry = retry.Policy{MaxAttempts: 1}
	return s
}

func TestScan_FullFlow(t *testing.T) {
	f := &fakeZAP{
		apiKey:     "secret",
		spiderDone: 2,
		activeDone: 3,
		alerts: []Alert{
			{Name: "Cookie Without Secure Flag", Risk: "Low", Confidence: "Medium", URL: "https://example.com/"},
			{Alert: "SQL Injection", Risk: "High", Confidence: "High", URL: "https://example.com/q?id=1", Evidence: "syntax error", Solution: "Use prepared statements"},
			{Name: "Server Leaks Version", Risk: "Informational", Confidence: "High"},
			{Name: "Odd", Risk: "Weird"},
		},
	}
	s := newTestScanner(t, f)

	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}

	var got []string
	for _, v := range res.Vulnerabilities {
		got = append(got, v.Title+"="+string(v.Severity))
	}
	want := []string{
		"SQL Injection=high",
		"Odd=medium",
		"Cookie Without Secure Flag=low",
		"Server Leaks Version=low",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("vulnerabilities =\n%v\nwant\n%v", got, want)
	}

	sqli := res.Vulnerabilities[0]
	if sqli.Payload != "Use prepared statements" || sqli.Evidence != "syntax error" {
		t.Errorf("sqli = %+v", sqli)
	}
	cookie := res.Vulnerabilities[2]
	if cookie.Evidence != "Risk: low, Confidence: medium" {
		t.Errorf("default evidence = %q", cookie.Evidence)
	}
	if res.Vulnerabilities[3].Location != "https://example.com" {
		t.Errorf("location fallback = %q", res.Vulnerabilities[3].Location)
	}

	if f.spiderPolls != 2 || f.activePolls != 3 {
		t.Errorf("polls spider=%d active=%d", f.spiderPolls, f.activePolls)
	}

	summary := s.GetScanSummary(res)
	byRisk := summary.Facets["alerts_by_risk"].(map[string]int)
	if byRisk["high"] != 1 || byRisk["medium"] != 1 || byRisk["low"] != 2 {
		t.Errorf("alerts_by_risk = %v", byRisk)
	}
}

func TestScan_PollingTimeoutIsAWarning(t *testing.T) {
	f := &fakeZAP{spiderDone: -1, activeDone: -1, alerts: []Alert{{Name: "X", Risk: "Medium"}}}
	s := newTestScanner(t, f)

	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}
	if len(res.Vulnerabilities) != 1 {
		t.Errorf("got %d vulnerabilities", len(res.Vulnerabilities))
	}

	warnings := 0
	for _, line := range res.ScanLog {
		if strings.Contains(line, "[WARNING]") && strings.Contains(line, "did not finish") {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("bounded-wait warnings = %d, want 2: %v", warnings, res.ScanLog)
	}
}

func TestScan_QuickSkipsActiveScan(t *testing.T) {
	f := &fakeZAP{spiderDone: 1, activeDone: 1}
	s := newTestScanner(t, f)

	res := s.Scan(context.Background(), "https://example.com", core.Options{"scan_type": "quick"})
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}
	for _, c := range f.calls {
		if strings.HasPrefix(c, "ascan/") {
			t.Errorf("unexpected active scan call %q", c)
		}
	}
}

func TestScan_Unreachable(t *testing.T) {
	s := NewScanner()
	s.Host = "127.0.0.1"
	s.Port = 1
	s.Retry = retry.Policy{MaxAttempts: 1}

	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusFailed {
		t.Fatalf("Status = %v, want failed", res.Status)
	}
	if !strings.Contains(res.ErrorMessage, "not reachable") {
		t.Errorf("ErrorMessage = %q", res.ErrorMessage)
	}
}

func TestScan_WrongAPIKey(t *testing.T) {
	f := &fakeZAP{apiKey: "secret"}
	s := newTestScanner(t, f)

	res := s.Scan(context.Background(), "https://example.com", core.Options{"api_key": "wrong"})
	if res.Status != core.StatusFailed {
		t.Fatalf("Status = %v, want failed", res.Status)
	}
}

func TestScan_InvalidTarget(t *testing.T) {
	s := NewScanner()
	for _, target := range []string{"not-a-url", "ftp://example.com"} {
		res := s.Scan(context.Background(), target, nil)
		if res.Status != core.StatusFailed || res.ErrorMessage == "" || len(res.Vulnerabilities) != 0 {
			t.Errorf("%s: unexpected result %+v", target, res)
		}
	}
}

func TestRiskToSeverity(t *testing.T) {
	tests := map[string]severity.Level{
		"High":          severity.High,
		"Medium":        severity.Medium,
		"Low":           severity.Low,
		"Informational": severity.Low,
		"":              severity.Medium,
	}
	for in, want := range tests {
		if got := riskToSeverity(in); got != want {
			t.Errorf("riskToSeverity(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBaseURL(t *testing.T) {
	s := NewScanner()
	if got := s.baseURL(nil); got != "http://localhost:8080" {
		t.Errorf("baseURL() = %q", got)
	}
	if got := s.baseURL(core.Options{"zap_host": "zap.internal", "zap_port": 8090}); got != "http://zap.internal:8090" {
		t.Errorf("baseURL(opts) = %q", got)
	}
}
