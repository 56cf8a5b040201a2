package nikto

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

const sampleOutput = `- Nikto v2.5.0
---------------------------------------------------------------------------
+ Target IP:          93.184.216.34
+ Target Hostname:    example.com
+ Start Time:         2024-05-01 10:00:00 (GMT0)
* Error limit (20) reached for host, giving up
+ /admin/: Directory indexing found. Directory listing may expose files.
+ /cgi-bin/test.cgi: Remote Code Execution via shellshock.
+ /login: Cross-Site Scripting in the q parameter.
+ Server leaks inodes via ETags
`

func fakeExec(stdout string, exitCode int) core.ExecFunc {
	return func(ctx context.Context, cfg *core.ExecConfig) (*core.ExecResult, error) {
		return &core.ExecResult{Stdout: []byte(stdout), ExitCode: exitCode}, nil
	}
}

func TestScan_ParsesFindings(t *testing.T) {
	s := NewScanner()
	s.Exec = fakeExec(sampleOutput, 1)

	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}

	var got []string
	for _, v := range res.Vulnerabilities {
		got = append(got, v.Title+"="+string(v.Severity))
	}
	// Header lines with a colon are findings too; nikto prints them with "+".
	want := []string{
		"/cgi-bin/test.cgi=critical",
		"/login=high",
		"/admin/=medium",
		"Target IP=low",
		"Target Hostname=low",
		"Start Time=low",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("vulnerabilities =\n%v\nwant\n%v", got, want)
	}
	if res.Vulnerabilities[0].Location != "example.com" {
		t.Errorf("Location = %q", res.Vulnerabilities[0].Location)
	}

	var info, warn bool
	for _, line := range res.ScanLog {
		if strings.Contains(line, "Info: Nikto v2.5.0") {
			info = true
		}
		if strings.Contains(line, "[WARNING]") && strings.Contains(line, "Error limit") {
			warn = true
		}
	}
	if !info || !warn {
		t.Errorf("scan log missing info/warning lines: %v", res.ScanLog)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		title, details string
		want           severity.Level
	}{
		{"/x", "SQL Injection possible", severity.Critical},
		{"Directory Traversal", "", severity.Critical},
		{"/y", "Information disclosure in headers", severity.High},
		{"/z", "Outdated software detected", severity.Medium},
		// critical outranks medium when both match
		{"Server information disclosure", "sql injection", severity.Critical},
		{"/robots.txt", "contains 2 entries", severity.Low},
	}
	for _, tt := range tests {
		if got := classify(tt.title, tt.details); got != tt.want {
			t.Errorf("classify(%q, %q) = %v, want %v", tt.title, tt.details, got, tt.want)
		}
	}
}

func TestGetScanSummary_VulnerabilityTypes(t *testing.T) {
	s := NewScanner()
	s.Exec = fakeExec("+ /a: sql error\n+ /b: outdated version\n+ /c: another sql issue\n", 0)

	res := s.Scan(context.Background(), "http://example.com", nil)
	summary := s.GetScanSummary(res)
	if summary.Facets["vulnerability_types"] != 2 {
		t.Errorf("vulnerability_types = %v, want 2", summary.Facets["vulnerability_types"])
	}
}

func TestScan_ToolFailure(t *testing.T) {
	s := NewScanner()
	s.Exec = fakeExec("", 3)
	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusFailed {
		t.Errorf("Status = %v, want failed", res.Status)
	}
}

func TestScan_InvalidTarget(t *testing.T) {
	s := NewScanner()
	s.Exec = func(ctx context.Context, cfg *core.ExecConfig) (*core.ExecResult, error) {
		t.Fatal("exec should not be called")
		return nil, nil
	}
	if s.ValidateTarget("not-a-url") {
		t.Error("ValidateTarget(not-a-url) = true")
	}
	res := s.Scan(context.Background(), "not-a-url", nil)
	if res.Status != core.StatusFailed || res.ErrorMessage == "" || len(res.Vulnerabilities) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestBuildArgs(t *testing.T) {
	s := NewScanner()
	tests := []struct {
		name   string
		target string
		opts   core.Options
		want   []string
	}{
		{
			name:   "https default",
			target: "https://example.com",
			want:   []string{"-h", "example.com", "-Format", "txt", "-nointeractive", "-p", "443", "-ssl", "-Tuning", "1,2,3,4,5,6", "-useragent", DefaultUserAgent},
		},
		{
			name:   "quick http custom port",
			target: "http://example.com:8080",
			opts:   core.Options{"scan_type": "quick", "user_agent": "probe", "timeout": 60},
			want:   []string{"-h", "example.com", "-Format", "txt", "-nointeractive", "-p", "8080", "-Tuning", "1,2,3", "-useragent", "probe", "-timeout", "60"},
		},
		{
			name:   "full",
			target: "http://example.com",
			opts:   core.Options{"scan_type": "full"},
			want:   []string{"-h", "example.com", "-Format", "txt", "-nointeractive", "-p", "80", "-Tuning", "1,2,3,4,5,6,7,8,9,0,a,b,c", "-useragent", DefaultUserAgent},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.buildArgs(tt.target, tt.opts); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("buildArgs() =\n%v\nwant\n%v", got, tt.want)
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	if got := parseVersion("Nikto 2.5.0 (LW 2.5)"); got != "2.5.0" {
		t.Errorf("parseVersion() = %q", got)
	}
}
