package nikto

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

// severityTiers are checked in order; the first tier with a keyword in the
// title or details wins. Anything else is low.
var severityTiers = []struct {
	level    severity.Level
	keywords []string
}{
	{severity.Critical, []string{
		"remote code execution",
		"sql injection",
		"command injection",
		"file inclusion",
		"directory traversal",
		"buffer overflow",
		"privilege escalation",
	}},
	{severity.High, []string{
		"cross-site scripting",
		"cross-site request forgery",
		"authentication bypass",
		"information disclosure",
		"session fixation",
		"weak encryption",
	}},
	{severity.Medium, []string{
		"directory listing",
		"default credentials",
		"missing security headers",
		"server information disclosure",
		"outdated software",
	}},
}

// categories group findings for the vulnerability_types facet. First match
// wins.
var categories = []struct {
	name     string
	keywords []string
}{
	{"SQL Injection", []string{"sql", "injection"}},
	{"Cross-Site Scripting", []string{"xss", "cross-site scripting"}},
	{"Directory Traversal", []string{"directory", "traversal"}},
	{"File Inclusion", []string{"file", "inclusion"}},
	{"Authentication Bypass", []string{"authentication", "bypass"}},
	{"Information Disclosure", []string{"information", "disclosure"}},
	{"Default Credentials", []string{"default", "credentials"}},
	{"Outdated Software", []string{"outdated", "version"}},
}

// ParseOutput reads nikto's txt output. "+ " lines with a colon are
// findings, "- " lines are informational and "* " lines are warnings.
func ParseOutput(result *core.ScanResult, output []byte, host string) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "+ "):
			body := strings.TrimSpace(line[2:])
			title, details, ok := strings.Cut(body, ":")
			if !ok {
				continue
			}
			title = strings.TrimSpace(title)
			details = strings.TrimSpace(details)
			sev := classify(title, details)
			result.AddVulnerability(core.Vulnerability{
				Title:       title,
				Description: details,
				Severity:    sev,
				Location:    host,
				Evidence:    line,
				Payload:     details,
			})
			result.Infof("Vulnerability found: %s (%s)", title, sev)
		case strings.HasPrefix(line, "- "):
			result.Infof("Info: %s", strings.TrimSpace(line[2:]))
		case strings.HasPrefix(line, "* "):
			result.Warnf("%s", strings.TrimSpace(line[2:]))
		}
	}
	if err := scanner.Err(); err != nil {
		result.Errorf("failed to read nikto output: %v", err)
	}
}

func classify(title, details string) severity.Level {
	t, d := strings.ToLower(title), strings.ToLower(details)
	for _, tier := range severityTiers {
		for _, kw := range tier.keywords {
			if strings.Contains(t, kw) || strings.Contains(d, kw) {
				return tier.level
			}
		}
	}
	return severity.Low
}

func category(title, details string) string {
	t, d := strings.ToLower(title), strings.ToLower(details)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(t, kw) || strings.Contains(d, kw) {
				return c.name
			}
		}
	}
	return "Other"
}
