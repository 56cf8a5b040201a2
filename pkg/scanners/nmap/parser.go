package nmap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/shared/ports"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

// textPortRe matches the port table of nmap's normal output:
// "3389/tcp open  ms-wbt-server Microsoft Terminal Services".
var textPortRe = regexp.MustCompile(`(\d+)/(\w+)\s+(\w+)\s+(.+)`)

// ParseOutput converts nmap output into findings on result. XML output
// (-oX) is preferred; anything else is read as normal text output.
// Parse problems are logged as warnings and never abort the scan.
func ParseOutput(result *core.ScanResult, output []byte, host string) {
	trimmed := bytes.TrimSpace(output)
	if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<nmaprun")) {
		parseXML(result, trimmed, host)
		return
	}
	parseText(result, string(output), host)
}

func parseXML(result *core.ScanResult, data []byte, host string) {
	var run Run
	if err := xml.Unmarshal(data, &run); err != nil {
		result.Warnf("failed to parse nmap XML output: %v", err)
		return
	}

	for _, h := range run.Hosts {
		for _, p := range h.Ports {
			if p.State.State != "open" {
				continue
			}
			op := OpenPort{Port: p.PortID, Protocol: p.Protocol, Service: "unknown"}
			if p.Service != nil {
				if p.Service.Name != "" {
					op.Service = p.Service.Name
				}
				op.Version = strings.TrimSpace(p.Service.Product + " " + p.Service.Version)
			}
			analyzePort(result, host, op)
		}

		if osInfo := h.OS.BestOS(); osInfo != "" {
			result.Infof("OS fingerprint: %s", osInfo)
			analyzeOS(result, host, osInfo)
		}
	}
}

func parseText(result *core.ScanResult, text, host string) {
	for _, line := range strings.Split(text, "\n") {
		m := textPortRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if !strings.EqualFold(m[3], "open") {
			continue
		}
		port, err := strconv.Atoi(m[1])
		if err != nil {
			result.Warnf("skipping malformed port line %q", strings.TrimSpace(line))
			continue
		}
		fields := strings.Fields(m[4])
		op := OpenPort{Port: port, Protocol: m[2], Service: "unknown"}
		if len(fields) > 0 {
			op.Service = fields[0]
			op.Version = strings.Join(fields[1:], " ")
		}
		analyzePort(result, host, op)
	}
}

// analyzePort turns one open port into at most two findings: the port
// table entry and, for plain HTTP, an unencrypted-traffic finding.
func analyzePort(result *core.ScanResult, host string, p OpenPort) {
	portInfo := fmt.Sprintf("%d/%s", p.Port, p.Protocol)

	if svc, ok := ports.Lookup(p.Port); ok {
		result.AddVulnerability(core.Vulnerability{
			Title:       fmt.Sprintf("Open Port: %s - %s", portInfo, strings.ToUpper(svc.Name)),
			Description: svc.Description,
			Severity:    svc.Severity,
			Location:    fmt.Sprintf("%s:%s", host, portInfo),
			Evidence:    strings.TrimSpace(fmt.Sprintf("Port %s open, Service: %s %s", portInfo, p.Service, p.Version)),
		})
	} else {
		result.Infof("Open port %s (%s)", portInfo, p.Service)
	}

	if strings.EqualFold(p.Service, "http") {
		result.AddVulnerability(core.Vulnerability{
			Title:       "HTTP Service - Unencrypted Traffic",
			Description: "The HTTP service serves unencrypted traffic. Redirecting to HTTPS is recommended.",
			Severity:    severity.Medium,
			Location:    fmt.Sprintf("%s:%s", host, portInfo),
			Evidence:    fmt.Sprintf("HTTP service running on port %s", portInfo),
		})
	}
}

func analyzeOS(result *core.ScanResult, host, osInfo string) {
	desc, ok := ports.MatchEOLOS(osInfo)
	if !ok {
		return
	}
	result.AddVulnerability(core.Vulnerability{
		Title:       fmt.Sprintf("Outdated OS Version: %s", osInfo),
		Description: desc,
		Severity:    severity.High,
		Location:    host,
		Evidence:    fmt.Sprintf("OS: %s", osInfo),
	})
}

var (
	titlePortRe       = regexp.MustCompile(`Open Port: (\d+/\w+)`)
	evidenceServiceRe = regexp.MustCompile(`Service: (\S+)`)
)

// facets derives the open port and service counts from the findings.
func facets(vulns []core.Vulnerability) (openPorts, services int) {
	portSet := map[string]struct{}{}
	serviceSet := map[string]struct{}{}
	for _, v := range vulns {
		if m := titlePortRe.FindStringSubmatch(v.Title); m != nil {
			portSet[m[1]] = struct{}{}
		}
		if m := evidenceServiceRe.FindStringSubmatch(v.Evidence); m != nil {
			serviceSet[m[1]] = struct{}{}
		}
	}
	return len(portSet), len(serviceSet)
}
