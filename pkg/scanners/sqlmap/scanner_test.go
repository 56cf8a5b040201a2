package sqlmap

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

const injectableOutput = `[INFO] testing connection to the target URL
[INFO] testing if GET parameter 'id' is dynamic
sqlmap identified the following injection point(s) with a total of 46 HTTP(s) requests:
---
Parameter: id (GET)
    Type: boolean-based blind
    Title: AND boolean-based blind - WHERE or HAVING clause
    Payload: id=1 AND 5467=5467

    Type: time-based blind
    Title: MySQL >= 5.0.12 AND time-based blind (query SLEEP)
    Payload: id=1 AND SLEEP(5)
---
[INFO] the back-end DBMS is MySQL
back-end DBMS: MySQL >= 5.0.12
`

func fakeExec(stdout string, exitCode int) core.ExecFunc {
	return func(ctx context.Context, cfg *core.ExecConfig) (*core.ExecResult, error) {
		return &core.ExecResult{Stdout: []byte(stdout), ExitCode: exitCode}, nil
	}
}

func newTestScanner(t *testing.T, exec core.ExecFunc) *Scanner {
	t.Helper()
	s := NewScanner()
	s.TempDir = t.TempDir()
	s.Exec = exec
	return s
}

func TestScan_InjectionPoint(t *testing.T) {
	s := newTestScanner(t, fakeExec(injectableOutput, 0))

	res := s.Scan(context.Background(), "https://example.com/item?id=1", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}
	if len(res.Vulnerabilities) != 2 {
		t.Fatalf("got %d vulnerabilities, want 2: %+v", len(res.Vulnerabilities), res.Vulnerabilities)
	}

	inj := res.Vulnerabilities[0]
	if inj.Severity != severity.Critical {
		t.Errorf("injection severity = %v", inj.Severity)
	}
	if inj.Title != "SQL Injection - AND boolean-based blind - WHERE or HAVING clause" {
		t.Errorf("Title = %q", inj.Title)
	}
	if inj.Payload != "Parameter: id (GET), Type: boolean-based blind; time-based blind" {
		t.Errorf("Payload = %q", inj.Payload)
	}
	if !strings.Contains(inj.Location, "Parameter: id (GET)") {
		t.Errorf("Location = %q", inj.Location)
	}

	db := res.Vulnerabilities[1]
	if db.Severity != severity.Low || db.Evidence != "Database: MySQL >= 5.0.12" {
		t.Errorf("db disclosure = %+v", db)
	}

	summary := s.GetScanSummary(res)
	if summary.Facets["injection_types"] != 2 || summary.Facets["affected_parameters"] != 1 {
		t.Errorf("facets = %v", summary.Facets)
	}
}

func TestParseOutput_SQLErrors(t *testing.T) {
	res := core.NewScanResult(Name, "https://example.com")
	ParseOutput(res, []byte("You have an error in your SQL syntax; check the manual that corresponds to your MySQL server version\nORA-01756: Oracle error quoted string\n"), "https://example.com")

	if len(res.Vulnerabilities) != 2 {
		t.Fatalf("got %d vulnerabilities, want 2", len(res.Vulnerabilities))
	}
	for _, v := range res.Vulnerabilities {
		if v.Severity != severity.Medium || v.Title != "SQL Error Information Disclosure" {
			t.Errorf("unexpected %+v", v)
		}
	}
}

func TestParseOutput_NoSignals(t *testing.T) {
	res := core.NewScanResult(Name, "https://example.com")
	ParseOutput(res, []byte("[INFO] testing connection to the target URL\n[WARNING] GET parameter 'q' does not seem to be injectable\n"), "https://example.com")
	if len(res.Vulnerabilities) != 0 {
		t.Errorf("got %+v, want none", res.Vulnerabilities)
	}
}

func TestScan_LogFileAndCleanup(t *testing.T) {
	var outputDir string
	exec := func(ctx context.Context, cfg *core.ExecConfig) (*core.ExecResult, error) {
		for i, a := range cfg.Args {
			if a == "--output-dir" {
				outputDir = cfg.Args[i+1]
			}
		}
		hostDir := filepath.Join(outputDir, "example.com")
		if err := os.MkdirAll(hostDir, 0o755); err != nil {
			return nil, err
		}
		log := "sqlmap identified the following injection point(s) with a total of 12 HTTP(s) requests:\nParameter: q (GET)\n"
		if err := os.WriteFile(filepath.Join(hostDir, "log"), []byte(log), 0o600); err != nil {
			return nil, err
		}
		return &core.ExecResult{ExitCode: 1}, nil
	}
	s := newTestScanner(t, exec)

	res := s.Scan(context.Background(), "https://example.com/?q=1", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}
	if len(res.Vulnerabilities) != 1 || res.Vulnerabilities[0].Title != "SQL Injection - Log Detection" {
		t.Fatalf("vulnerabilities = %+v", res.Vulnerabilities)
	}
	if _, err := os.Stat(outputDir); !os.IsNotExist(err) {
		t.Errorf("output dir %s not removed: %v", outputDir, err)
	}
}

func TestScan_ToolFailure(t *testing.T) {
	s := newTestScanner(t, fakeExec("", 2))
	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusFailed || !strings.Contains(res.ErrorMessage, "exited with code 2") {
		t.Errorf("result = %v %q", res.Status, res.ErrorMessage)
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
		name string
		opts core.Options
		want []string
	}{
		{
			name: "standard",
			opts: nil,
			want: []string{"-u", "https://t", "--batch", "--random-agent", "--level", "3", "--technique", "BEUSTQ", "--output-dir", "/out"},
		},
		{
			name: "quick",
			opts: core.Options{"scan_type": "quick"},
			want: []string{"-u", "https://t", "--batch", "--random-agent", "--level", "1", "--technique", "BEUSTQ", "--output-dir", "/out"},
		},
		{
			name: "full with forms crawl dbms",
			opts: core.Options{"scan_type": "full", "forms": true, "crawl": true, "dbms": "mysql", "techniques": []string{"B", "T"}},
			want: []string{"-u", "https://t", "--batch", "--random-agent", "--level", "5", "--risk", "3", "--technique", "BT", "--forms", "--crawl=2", "--dbms", "mysql", "--output-dir", "/out"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.buildArgs("https://t", "/out", tt.opts); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("buildArgs() =\n%v\nwant\n%v", got, tt.want)
			}
		})
	}
}
