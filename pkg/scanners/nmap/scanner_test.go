package nmap

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

const xmlRDPOnly = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" version="7.94">
  <host>
    <status state="up" reason="syn-ack"/>
    <address addr="10.0.0.5" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="3389">
        <state state="open" reason="syn-ack"/>
        <service name="ms-wbt-server" product="Microsoft Terminal Services"/>
      </port>
      <port protocol="tcp" portid="25">
        <state state="closed" reason="reset"/>
        <service name="smtp"/>
      </port>
    </ports>
  </host>
</nmaprun>`

const xmlWebHost = `<?xml version="1.0"?>
<nmaprun>
  <host>
    <ports>
      <port protocol="tcp" portid="80"><state state="open"/><service name="http" product="nginx" version="1.18.0"/></port>
      <port protocol="tcp" portid="22"><state state="open"/><service name="ssh"/></port>
      <port protocol="tcp" portid="8081"><state state="open"/><service name="blackice-icecap"/></port>
    </ports>
    <os>
      <osmatch name="Linux 3.2 - 4.9" accuracy="90"/>
      <osmatch name="Microsoft Windows 7 SP1" accuracy="95"/>
    </os>
  </host>
</nmaprun>`

const textOutput = `Starting Nmap 7.94 ( https://nmap.org )
Nmap scan report for example.com (93.184.216.34)
PORT     STATE  SERVICE VERSION
22/tcp   open   ssh     OpenSSH 8.9p1
23/tcp   closed telnet
3306/tcp open   mysql   MySQL 5.7.33
Nmap done: 1 IP address (1 host up) scanned in 1.23 seconds
`

func fakeExec(stdout string, exitCode int, gotArgs *[]string) core.ExecFunc {
	return func(ctx context.Context, cfg *core.ExecConfig) (*core.ExecResult, error) {
		if gotArgs != nil {
			*gotArgs = cfg.Args
		}
		return &core.ExecResult{Stdout: []byte(stdout), ExitCode: exitCode}, nil
	}
}

func TestScan_PortTableLookup(t *testing.T) {
	s := NewScanner()
	s.Exec = fakeExec(xmlRDPOnly, 0, nil)

	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}
	if len(res.Vulnerabilities) != 1 {
		t.Fatalf("got %d vulnerabilities, want 1: %+v", len(res.Vulnerabilities), res.Vulnerabilities)
	}
	v := res.Vulnerabilities[0]
	if !strings.Contains(v.Title, "3389") {
		t.Errorf("Title = %q, want it to contain 3389", v.Title)
	}
	if v.Severity != severity.High {
		t.Errorf("Severity = %v, want high", v.Severity)
	}
	if v.ScannerName != Name {
		t.Errorf("ScannerName = %q", v.ScannerName)
	}
	if v.Location != "example.com:3389/tcp" {
		t.Errorf("Location = %q", v.Location)
	}
}

func TestScan_XMLWithHTTPAndOS(t *testing.T) {
	s := NewScanner()
	s.Exec = fakeExec(xmlWebHost, 0, nil)

	res := s.Scan(context.Background(), "http://example.com", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}

	var titles []string
	for _, v := range res.Vulnerabilities {
		titles = append(titles, v.Title)
	}
	want := []string{
		"Outdated OS Version: Microsoft Windows 7 SP1",
		"HTTP Service - Unencrypted Traffic",
		"Open Port: 80/tcp - HTTP",
		"Open Port: 22/tcp - SSH",
	}
	if !reflect.DeepEqual(titles, want) {
		t.Errorf("titles =\n%v\nwant\n%v", titles, want)
	}

	summary := s.GetScanSummary(res)
	if summary.Facets["open_ports"] != 2 {
		t.Errorf("open_ports = %v, want 2", summary.Facets["open_ports"])
	}
	if summary.Facets["services_detected"] != 2 {
		t.Errorf("services_detected = %v, want 2", summary.Facets["services_detected"])
	}
	if !reflect.DeepEqual(summary, s.GetScanSummary(res)) {
		t.Error("GetScanSummary is not idempotent")
	}
}

func TestScan_TextFallback(t *testing.T) {
	s := NewScanner()
	s.Exec = fakeExec(textOutput, 0, nil)

	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v (%s)", res.Status, res.ErrorMessage)
	}
	if len(res.Vulnerabilities) != 2 {
		t.Fatalf("got %d vulnerabilities, want 2", len(res.Vulnerabilities))
	}
	if res.Vulnerabilities[0].Title != "Open Port: 3306/tcp - MYSQL" {
		t.Errorf("first = %q", res.Vulnerabilities[0].Title)
	}
}

func TestScan_MalformedXMLIsAWarning(t *testing.T) {
	s := NewScanner()
	s.Exec = fakeExec("<?xml version=\"1.0\"?><nmaprun><host>", 0, nil)

	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusCompleted {
		t.Fatalf("Status = %v, want completed", res.Status)
	}
	found := false
	for _, line := range res.ScanLog {
		if strings.Contains(line, "[WARNING]") && strings.Contains(line, "XML") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a warning log line, got %v", res.ScanLog)
	}
}

func TestScan_ToolFailure(t *testing.T) {
	s := NewScanner()
	s.Exec = func(ctx context.Context, cfg *core.ExecConfig) (*core.ExecResult, error) {
		return &core.ExecResult{Stderr: []byte("You requested a scan type which requires root privileges."), ExitCode: 1}, nil
	}

	res := s.Scan(context.Background(), "https://example.com", nil)
	if res.Status != core.StatusFailed {
		t.Fatalf("Status = %v, want failed", res.Status)
	}
	if !strings.Contains(res.ErrorMessage, "root privileges") {
		t.Errorf("ErrorMessage = %q", res.ErrorMessage)
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
	tests := []struct {
		name string
		opts core.Options
		want []string
	}{
		{"default", nil, []string{"-sS", "-sV", "-O", "-oX", "-", "example.com"}},
		{"quick", core.Options{"scan_type": "quick"}, []string{"-F", "-T4", "-oX", "-", "example.com"}},
		{"full with port", core.Options{"scan_type": "full", "port": "1-1024"},
			[]string{"-sS", "-sV", "-O", "-A", "-p", "1-1024", "-oX", "-", "example.com"}},
		{"stealth", core.Options{"scan_type": "stealth"}, []string{"-sS", "-sV", "-T2", "-oX", "-", "example.com"}},
		{"custom falls back", core.Options{"scan_type": "custom"}, []string{"-sS", "-sV", "-O", "-oX", "-", "example.com"}},
	}
	s := NewScanner()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.buildArgs("example.com", tt.opts); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("buildArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	if got := parseVersion("Nmap version 7.94 ( https://nmap.org )"); got != "7.94" {
		t.Errorf("parseVersion() = %q", got)
	}
}
