package sqlmap

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

var (
	injectionHeader = regexp.MustCompile(`(?i)sqlmap identified the following injection point\(s\)`)
	paramLine       = regexp.MustCompile(`(?i)^\s*parameter:\s*(.+)$`)
	typeLine        = regexp.MustCompile(`(?i)^\s*type:\s*(.+)$`)
	titleLine       = regexp.MustCompile(`(?i)^\s*title:\s*(.+)$`)

	// errorPatterns detect DBMS error text leaking through the application.
	errorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)sql syntax.*mysql`),
		regexp.MustCompile(`(?i)mysql.*error`),
		regexp.MustCompile(`(?i)oracle.*error`),
		regexp.MustCompile(`(?i)sql server.*error`),
		regexp.MustCompile(`(?i)postgresql.*error`),
	}

	// dbPatterns match lines disclosing the back-end database.
	dbPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)back-end dbms:\s*(.+)`),
		regexp.MustCompile(`(?i)dbms:\s*(.+)`),
		regexp.MustCompile(`(?i)database:\s*(.+)`),
	}

	payloadParam = regexp.MustCompile(`Parameter: ([^,]+)`)
	payloadTypes = regexp.MustCompile(`Type: (.+)$`)
)

// injectionPoint is one parameter reported in the injection point block.
type injectionPoint struct {
	Parameter string
	Types     []string
	Titles    []string
}

// ParseOutput applies every sqlmap signal to output and appends findings to
// result. Output without signals yields no findings.
func ParseOutput(result *core.ScanResult, output []byte, target string) {
	text := string(output)

	for _, p := range parseInjectionPoints(text) {
		title := "SQL Injection Detected"
		if len(p.Titles) > 0 {
			title = p.Titles[0]
		}
		types := "Unknown"
		if len(p.Types) > 0 {
			types = strings.Join(p.Types, "; ")
		}
		result.AddVulnerability(core.Vulnerability{
			Title:       "SQL Injection - " + title,
			Description: fmt.Sprintf("SQL injection confirmed. Parameter: %s, Type: %s", p.Parameter, types),
			Severity:    severity.Critical,
			Location:    fmt.Sprintf("%s (Parameter: %s)", target, p.Parameter),
			Evidence:    truncate(strings.Join(p.Titles, "\n"), 200),
			Payload:     fmt.Sprintf("Parameter: %s, Type: %s", p.Parameter, types),
		})
		result.Infof("SQL injection found: %s - parameter %s, type %s", title, p.Parameter, types)
	}

	for _, re := range errorPatterns {
		match := re.FindString(text)
		if match == "" {
			continue
		}
		result.AddVulnerability(core.Vulnerability{
			Title:       "SQL Error Information Disclosure",
			Description: "Database error messages are exposed by the application.",
			Severity:    severity.Medium,
			Location:    target,
			Evidence:    truncate(match, 100),
			Payload:     "SQL Error Detection",
		})
		result.Infof("SQL error message detected: %s", truncate(match, 50))
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		for _, re := range dbPatterns {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			value := strings.TrimSpace(m[1])
			result.AddVulnerability(core.Vulnerability{
				Title:       "Database Information Disclosure",
				Description: "Database details disclosed: " + value,
				Severity:    severity.Low,
				Location:    target,
				Evidence:    "Database: " + value,
				Payload:     "Database Enumeration",
			})
			result.Infof("Database information detected: %s", value)
			break
		}
	}
}

// parseInjectionPoints reads the block sqlmap prints after confirming an
// injection. Each "Parameter:" line opens a new point.
func parseInjectionPoints(text string) []injectionPoint {
	loc := injectionHeader.FindStringIndex(text)
	if loc == nil {
		return nil
	}

	var (
		points  []injectionPoint
		current *injectionPoint
		dashes  int
	)
	for _, line := range strings.Split(text[loc[1]:], "\n") {
		if strings.TrimSpace(line) == "---" {
			dashes++
			if dashes == 2 {
				break
			}
			continue
		}
		if m := paramLine.FindStringSubmatch(line); m != nil {
			points = append(points, injectionPoint{Parameter: strings.TrimSpace(m[1])})
			current = &points[len(points)-1]
			continue
		}
		if current == nil {
			continue
		}
		if m := typeLine.FindStringSubmatch(line); m != nil {
			current.Types = append(current.Types, strings.TrimSpace(m[1]))
		} else if m := titleLine.FindStringSubmatch(line); m != nil {
			current.Titles = append(current.Titles, strings.TrimSpace(m[1]))
		}
	}

	if len(points) == 0 {
		// Header without a parsable block.
		points = append(points, injectionPoint{Parameter: "Unknown"})
	}
	return points
}

// parseLogFiles scans every "log" file sqlmap wrote under dir and reports
// each line mentioning an injection.
func parseLogFiles(result *core.ScanResult, dir, target string) {
	found := false
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != "log" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			result.Warnf("failed to read sqlmap log %s: %v", path, err)
			return nil
		}
		found = true
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || !strings.Contains(strings.ToLower(line), "injection") {
				continue
			}
			result.AddVulnerability(core.Vulnerability{
				Title:       "SQL Injection - Log Detection",
				Description: "The sqlmap session log records an injection.",
				Severity:    severity.Critical,
				Location:    target,
				Evidence:    truncate(line, 200),
				Payload:     "Log Analysis",
			})
		}
		return nil
	})
	if !found {
		result.Infof("No sqlmap log file found")
	}
}

// facets counts distinct injection types and affected parameters.
func facets(vulns []core.Vulnerability) (injectionTypes, parameters int) {
	types := make(map[string]struct{})
	params := make(map[string]struct{})
	for _, v := range vulns {
		if !strings.Contains(v.Title, "SQL Injection") {
			continue
		}
		if m := payloadParam.FindStringSubmatch(v.Payload); m != nil {
			params[m[1]] = struct{}{}
		}
		if m := payloadTypes.FindStringSubmatch(v.Payload); m != nil {
			for _, t := range strings.Split(m[1], "; ") {
				types[t] = struct{}{}
			}
		} else {
			types["SQL Injection"] = struct{}{}
		}
	}
	return len(types), len(params)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
