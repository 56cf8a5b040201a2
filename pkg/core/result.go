package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/exploopio/scanorch/pkg/shared/fingerprint"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

// ResultStatus is the status of one adapter invocation.
type ResultStatus string

const (
	StatusRunning   ResultStatus = "running"
	StatusCompleted ResultStatus = "completed"
	StatusFailed    ResultStatus = "failed"
)

// IsTerminal reports whether the status is completed or failed.
func (s ResultStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// LogLevel is the level of a scan log entry.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// logTimeLayout is the timestamp layout of scan log lines.
const logTimeLayout = "2006-01-02 15:04:05"

// Vulnerability is one normalized finding.
type Vulnerability struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    severity.Level `json:"severity"`
	CVEID       string         `json:"cve_id,omitempty"`
	CVSSScore   *float64       `json:"cvss_score,omitempty"`
	ScannerName string         `json:"scanner_name"`
	Payload     string         `json:"payload,omitempty"`
	Location    string         `json:"location,omitempty"`
	Evidence    string         `json:"evidence,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Fingerprint returns a stable identity for the finding. Exposed ports are
// keyed by host, port and protocol so two sources reporting the same port
// collapse; URL locations are keyed by title, host, path and payload.
func (v Vulnerability) Fingerprint() string {
	if strings.HasPrefix(v.Title, "Open Port") {
		if host, port, proto, ok := fingerprint.ParseLocation(v.Location); ok {
			return fingerprint.GenerateNetwork(host, port, proto)
		}
	}
	if u, err := url.Parse(v.Location); err == nil && u.Host != "" {
		return fingerprint.GenerateWeb(v.Title, u.Host, u.Path, v.Payload)
	}
	return fingerprint.GenerateGeneric(v.Title, v.Location, v.Payload)
}

// SortVulnerabilities orders vulns by severity, highest first, keeping the
// input order of equal severities.
func SortVulnerabilities(vulns []Vulnerability) {
	severity.SortStable(vulns, func(v Vulnerability) severity.Level { return v.Severity })
}

// ScanResult is the outcome of one adapter invocation. It is owned by the
// invocation that created it; the orchestrator only reads it once the
// invocation has returned.
type ScanResult struct {
	ScannerName     string          `json:"scanner_name"`
	TargetURL       string          `json:"target_url"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	Status          ResultStatus    `json:"status"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	ScanLog         []string        `json:"scan_log"`

	// RawOutput is the tool's captured output, kept for storage.
	RawOutput []byte `json:"-"`
}

// NewScanResult starts a result in the running state.
func NewScanResult(scannerName, targetURL string) *ScanResult {
	return &ScanResult{
		ScannerName: scannerName,
		TargetURL:   targetURL,
		StartTime:   time.Now(),
		Status:      StatusRunning,
	}
}

// AddVulnerability appends a finding, stamping the scanner name and the
// creation time.
func (r *ScanResult) AddVulnerability(v Vulnerability) {
	v.ScannerName = r.ScannerName
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}
	r.Vulnerabilities = append(r.Vulnerabilities, v)
}

// AddUniqueVulnerability appends v unless a finding with the same
// fingerprint is already present. It reports whether v was added.
func (r *ScanResult) AddUniqueVulnerability(v Vulnerability) bool {
	fp := v.Fingerprint()
	for _, existing := range r.Vulnerabilities {
		if existing.Fingerprint() == fp {
			return false
		}
	}
	r.AddVulnerability(v)
	return true
}

// Log appends a timestamped log line.
func (r *ScanResult) Log(level LogLevel, format string, args ...any) {
	line := fmt.Sprintf("[%s] [%s] %s",
		time.Now().Format(logTimeLayout),
		strings.ToUpper(string(level)),
		fmt.Sprintf(format, args...))
	r.ScanLog = append(r.ScanLog, line)
}

// Infof appends an info log line.
func (r *ScanResult) Infof(format string, args ...any) { r.Log(LogInfo, format, args...) }

// Warnf appends a warning log line.
func (r *ScanResult) Warnf(format string, args ...any) { r.Log(LogWarning, format, args...) }

// Errorf appends an error log line.
func (r *ScanResult) Errorf(format string, args ...any) { r.Log(LogError, format, args...) }

// Complete sorts the findings and marks the result completed.
func (r *ScanResult) Complete() {
	SortVulnerabilities(r.Vulnerabilities)
	r.finish(StatusCompleted)
}

// Fail marks the result failed with msg.
func (r *ScanResult) Fail(msg string) {
	if msg == "" {
		msg = "scan failed"
	}
	r.ErrorMessage = msg
	r.Errorf("%s", msg)
	SortVulnerabilities(r.Vulnerabilities)
	r.finish(StatusFailed)
}

func (r *ScanResult) finish(status ResultStatus) {
	now := time.Now()
	r.EndTime = &now
	r.Status = status
}

// Succeeded reports whether the adapter completed.
func (r *ScanResult) Succeeded() bool {
	return r != nil && r.Status == StatusCompleted
}

// Duration returns end_time - start_time, or zero while running.
func (r *ScanResult) Duration() time.Duration {
	if r == nil || r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// =============================================================================
// Summary
// =============================================================================

// Summary is a read-only digest of a ScanResult.
type Summary struct {
	ScannerName          string          `json:"scanner_name"`
	TargetURL            string          `json:"target_url"`
	Status               ResultStatus    `json:"status"`
	TotalVulnerabilities int             `json:"total_vulnerabilities"`
	BySeverity           severity.Counts `json:"severity_distribution"`
	DurationSeconds      float64         `json:"scan_duration"`
	ErrorMessage         string          `json:"error_message,omitempty"`
	Facets               map[string]any  `json:"facets,omitempty"`
}

// BaseSummary computes the counts every adapter summary shares. Adapters add
// their own facets on top.
func BaseSummary(r *ScanResult) *Summary {
	s := &Summary{Facets: map[string]any{}}
	if r == nil {
		s.Status = StatusFailed
		return s
	}
	s.ScannerName = r.ScannerName
	s.TargetURL = r.TargetURL
	s.Status = r.Status
	s.ErrorMessage = r.ErrorMessage
	s.TotalVulnerabilities = len(r.Vulnerabilities)
	s.DurationSeconds = r.Duration().Seconds()
	for _, v := range r.Vulnerabilities {
		s.BySeverity.Increment(v.Severity)
	}
	return s
}
