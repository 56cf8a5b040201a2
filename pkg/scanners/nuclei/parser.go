package nuclei

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

// Parser converts Nuclei JSON Lines output into findings.
type Parser struct{}

// NewParser creates a new Nuclei parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse appends one finding per JSON object in data to result. Lines that
// are not JSON are logged as warnings when they mention an error or a
// warning; malformed JSON objects are logged and skipped.
func (p *Parser) Parse(result *core.ScanResult, data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	// Increase buffer size for large responses
	const maxCapacity = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if line[0] != '{' {
			logToolNoise(result, string(line))
			continue
		}

		var r Result
		if err := json.Unmarshal(line, &r); err != nil {
			result.Warnf("failed to parse nuclei output line %d: %v", lineNum, err)
			continue
		}

		v := p.toVulnerability(r, result.TargetURL)
		result.AddVulnerability(v)
		result.Infof("Vulnerability found: %s (%s) - %s", v.Title, v.Severity, r.TemplateID)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading output: %w", err)
	}
	return nil
}

// logToolNoise records non-JSON lines that look like diagnostics.
func logToolNoise(result *core.ScanResult, line string) {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "error") || strings.Contains(lower, "warning") {
		result.Warnf("%s", line)
	}
}

// toVulnerability maps a Nuclei result. Severity is taken verbatim from the
// template.
func (p *Parser) toVulnerability(r Result, target string) core.Vulnerability {
	title := r.Info.Name
	if title == "" {
		title = r.TemplateID
	}
	if title == "" {
		title = "Unknown Vulnerability"
	}

	description := r.Info.Description
	if description == "" {
		description = "Template: " + r.TemplateID
	}

	location := r.Matched
	if location == "" {
		location = target
	}

	v := core.Vulnerability{
		Title:       title,
		Description: description,
		Severity:    severity.Verbatim(r.Info.Severity),
		Location:    location,
		Payload:     r.Request,
		Evidence:    evidence(r),
	}

	if c := r.Info.Classification; c != nil {
		if len(c.CVEId) > 0 {
			v.CVEID = strings.ToUpper(c.CVEId[0])
		}
		if c.CVSSScore > 0 {
			score := c.CVSSScore
			v.CVSSScore = &score
		}
	}
	return v
}

// evidence always starts with "Template: <id>" so the summary can count
// templates from the findings alone.
func evidence(r Result) string {
	ev := "Template: " + r.TemplateID
	if len(r.ExtractedResults) > 0 {
		ev += "; Extracted: " + strings.Join(r.ExtractedResults, ", ")
	} else if r.MatcherName != "" {
		ev += "; Matcher: " + r.MatcherName
	}
	return ev
}

var templateRe = regexp.MustCompile(`^Template: ([^;]+)`)

// facets counts distinct templates and findings carrying a CVE id.
func facets(vulns []core.Vulnerability) (templates, cves int) {
	seen := map[string]struct{}{}
	for _, v := range vulns {
		if m := templateRe.FindStringSubmatch(v.Evidence); m != nil && strings.TrimSpace(m[1]) != "" {
			seen[m[1]] = struct{}{}
		}
		if v.CVEID != "" {
			cves++
		}
	}
	return len(seen), cves
}
