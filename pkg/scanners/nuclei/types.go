package nuclei

import "time"

// Result represents a single finding from Nuclei's JSON Lines output.
type Result struct {
	// Template information
	TemplateID   string       `json:"template-id"`
	TemplatePath string       `json:"template-path,omitempty"`
	Info         TemplateInfo `json:"info"`

	// Target information
	Type    string `json:"type"` // http, dns, file, ssl, etc.
	Host    string `json:"host"`
	Matched string `json:"matched-at,omitempty"`
	IP      string `json:"ip,omitempty"`
	Port    string `json:"port,omitempty"`
	URL     string `json:"url,omitempty"`

	// Match details
	ExtractedResults []string `json:"extracted-results,omitempty"`
	Request          string   `json:"request,omitempty"`
	CurlCommand      string   `json:"curl-command,omitempty"`
	MatcherName      string   `json:"matcher-name,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// TemplateInfo contains information about the template that matched.
type TemplateInfo struct {
	Name        string   `json:"name"`
	Author      []string `json:"author,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`

	// Severity is one of info, low, medium, high, critical, unknown
	Severity       string          `json:"severity"`
	Reference      []string        `json:"reference,omitempty"`
	Classification *Classification `json:"classification,omitempty"`
	Remediation    string          `json:"remediation,omitempty"`
}

// Classification contains vulnerability classification details.
type Classification struct {
	CVSSMetrics string   `json:"cvss-metrics,omitempty"`
	CVSSScore   float64  `json:"cvss-score,omitempty"`
	CVEId       []string `json:"cve-id,omitempty"`
	CWEId       []string `json:"cwe-id,omitempty"`
}

// severityFilters maps scan_type to the -severity filter.
var severityFilters = map[string]string{
	"quick":    "critical,high",
	"standard": "critical,high,medium",
	"full":     "critical,high,medium,low",
}

// DefaultTemplates are the template categories used when none are given.
var DefaultTemplates = []string{"cves", "vulnerabilities", "misconfiguration", "exposures"}
