package nuclei

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

const sampleOutput = `{"template-id":"CVE-2021-44228","info":{"name":"Apache Log4j RCE","severity":"critical","description":"Log4Shell","classification":{"cve-id":["cve-2021-44228"],"cvss-score":10}},"host":"https://example.com","matched-at":"https://example.com/api","request":"GET /api HTTP/1.1"}
[INF] Templates loaded for current scan: 1200
{"template-id":"tech-detect","info":{"name":"Wappalyzer Technology Detection","severity":"info"},"host":"https://example.com","extracted-results":["nginx"]}
{"template-id":"broken",
[WRN] Found 2 templates with runtime error
{"template-id":"exposed-panel","info":{"name":"Exposed Admin Panel","severity":"medium"},"matched-at":"https://example.com/admin"}
`

func fakeExec(stdout, stderr string, exitCode int) core.ExecFunc {
	return func(ctx context.Context, cfg *core.ExecConfig) (*core.ExecResult, error) {
		return &core.ExecResult{Stdout: []byte(stdout), Stderr: []byte(stderr), ExitCode: exitCode}, nil
	}
}

func TestScan_ParsesJSONLines(t *testing.T) {
	s := NewScanner()
	s.Exec = fakeExec(sampleOutput, "", 1)

	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}
	if len(res.Vulnerabilities) != 3 {
		t.Fatalf("got %d vulnerabilities, want 3", len(res.Vulnerabilities))
	}

	crit := res.Vulnerabilities[0]
	if crit.Severity != severity.Critical || crit.CVEID != "CVE-2021-44228" {
		t.Errorf("first = %+v", crit)
	}
	if crit.CVSSScore == nil || *crit.CVSSScore != 10 {
		t.Errorf("CVSSScore = %v", crit.CVSSScore)
	}
	if crit.Location != "https://example.com/api" || crit.Payload != "GET /api HTTP/1.1" {
		t.Errorf("Location/Payload = %q / %q", crit.Location, crit.Payload)
	}

	if res.Vulnerabilities[1].Severity != severity.Medium {
		t.Errorf("second severity = %v", res.Vulnerabilities[1].Severity)
	}

	// "info" is kept verbatim and sorts last.
	info := res.Vulnerabilities[2]
	if info.Severity != severity.Level("info") {
		t.Errorf("info severity = %q, want verbatim info", info.Severity)
	}
	if info.Location != "https://example.com" {
		t.Errorf("Location should fall back to the target, got %q", info.Location)
	}
	if !strings.Contains(info.Evidence, "nginx") {
		t.Errorf("Evidence = %q", info.Evidence)
	}

	var warnings int
	for _, line := range res.ScanLog {
		if strings.Contains(line, "[WARNING]") {
			warnings++
		}
	}
	// One malformed JSON line and one runtime error notice.
	if warnings != 2 {
		t.Errorf("warnings = %d, want 2: %v", warnings, res.ScanLog)
	}
}

func TestGetScanSummary(t *testing.T) {
	s := NewScanner()
	s.Exec = fakeExec(sampleOutput, "", 0)
	res := s.Scan(context.Background(), "https://example.com", nil)

	summary := s.GetScanSummary(res)
	if summary.Facets["templates_used"] != 3 {
		t.Errorf("templates_used = %v", summary.Facets["templates_used"])
	}
	if summary.Facets["cves_found"] != 1 {
		t.Errorf("cves_found = %v", summary.Facets["cves_found"])
	}
	if summary.BySeverity.Critical != 1 || summary.BySeverity.Other != 1 {
		t.Errorf("BySeverity = %+v", summary.BySeverity)
	}
	if !reflect.DeepEqual(summary, s.GetScanSummary(res)) {
		t.Error("GetScanSummary is not idempotent")
	}
}

func TestScan_StderrWarnings(t *testing.T) {
	s := NewScanner()
	s.Exec = fakeExec("", "[ERR] Error resolving host example.com\n[INF] Using Nuclei Engine\n", 0)

	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v", res.Status)
	}
	found := false
	for _, line := range res.ScanLog {
		if strings.Contains(line, "[WARNING] [ERR] Error resolving host example.com") {
			found = true
		}
	}
	if !found {
		t.Errorf("stderr error line not logged: %v", res.ScanLog)
	}
}

func TestScan_BadExitCode(t *testing.T) {
	s := NewScanner()
	s.Exec = fakeExec("", "flag provided but not defined", 2)

	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusFailed {
		t.Fatalf("Status = %v, want failed", res.Status)
	}
}

func TestScan_InvalidTarget(t *testing.T) {
	s := NewScanner()
	res := s.Scan(context.Background(), "not-a-url", nil)
	if res.Status != core.StatusFailed || res.ErrorMessage == "" || len(res.Vulnerabilities) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestBuildArgs(t *testing.T) {
	s := NewScanner()

	got := s.buildArgs("https://example.com", core.Options{
		"scan_type":   "quick",
		"templates":   []any{"cves"},
		"rate_limit":  10,
		"concurrency": "5",
	})
	want := []string{
		"-u", "https://example.com", "-jsonl", "-silent",
		"-severity", "critical,high",
		"-t", "cves",
		"-rate-limit", "10",
		"-c", "5",
		"-timeout", "10",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs() =\n%v\nwant\n%v", got, want)
	}

	full := s.buildArgs("https://example.com", core.Options{"scan_type": "full"})
	if !strings.Contains(strings.Join(full, " "), "-severity critical,high,medium,low") {
		t.Errorf("full args = %v", full)
	}
	if strings.Count(strings.Join(full, " "), "-t ") != len(DefaultTemplates) {
		t.Errorf("default templates not applied: %v", full)
	}
}

func TestParseVersion(t *testing.T) {
	if got := parseVersion("[INF] Nuclei Engine Version: v3.1.0"); got != "v3.1.0" {
		t.Errorf("parseVersion() = %q", got)
	}
}
