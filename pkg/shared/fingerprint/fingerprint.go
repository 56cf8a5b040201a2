// Package fingerprint derives stable identities for findings so the same
// issue reported twice (by two endpoints of one tool, or by a retried scan)
// can be recognised.
//
// Any change to the algorithms changes stored fingerprints; keep them
// backward compatible.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Type represents the kind of finding for fingerprint generation.
type Type string

const (
	// TypeNetwork is for exposed ports and services (nmap, shodan).
	TypeNetwork Type = "network"

	// TypeHost is for host-level observations such as OS or product banners.
	TypeHost Type = "host"

	// TypeWeb is for web application findings (nuclei, zap, sqlmap, nikto, xss).
	TypeWeb Type = "web"

	// TypeGeneric is for findings that don't fit other categories.
	TypeGeneric Type = "generic"
)

// Input contains the data needed to generate a fingerprint.
// Only the fields relevant to Type are used.
type Input struct {
	Type Type

	// Common fields
	RuleID string // Title, template id or check identifier
	Host   string // Target hostname

	// Network fields
	Port     int
	Protocol string

	// Web fields
	Path      string // URL path
	Parameter string // Affected parameter name, not value

	// Generic fields
	Location string
	Message  string
}

// Generate creates a SHA256 fingerprint (64 hex characters) for input.
//
//   - Network: host + port + protocol
//   - Host: host + rule
//   - Web: rule + host + path + parameter
//   - Generic: rule + location + message
func Generate(input Input) string {
	var data string

	switch input.Type {
	case TypeNetwork:
		proto := normalize(input.Protocol)
		if proto == "" {
			proto = "tcp"
		}
		data = fmt.Sprintf("network:%s:%d:%s", normalizeHost(input.Host), input.Port, proto)

	case TypeHost:
		data = fmt.Sprintf("host:%s:%s", normalizeHost(input.Host), normalize(input.RuleID))

	case TypeWeb:
		data = fmt.Sprintf("web:%s:%s:%s:%s",
			normalize(input.RuleID),
			normalizeHost(input.Host),
			normalizePath(input.Path),
			normalize(input.Parameter),
		)

	default:
		data = fmt.Sprintf("generic:%s:%s:%s",
			normalize(input.RuleID),
			normalize(input.Location),
			normalize(input.Message),
		)
	}

	return Hash(data)
}

// GenerateNetwork fingerprints an exposed port.
func GenerateNetwork(host string, port int, protocol string) string {
	return Generate(Input{Type: TypeNetwork, Host: host, Port: port, Protocol: protocol})
}

// GenerateWeb fingerprints a web finding.
func GenerateWeb(ruleID, host, path, parameter string) string {
	return Generate(Input{Type: TypeWeb, RuleID: ruleID, Host: host, Path: path, Parameter: parameter})
}

// GenerateGeneric fingerprints a finding by its title and location.
func GenerateGeneric(ruleID, location, message string) string {
	return Generate(Input{Type: TypeGeneric, RuleID: ruleID, Location: location, Message: message})
}

// ParseLocation splits "host:port/proto" or "host:port" into its parts.
// Inputs without a numeric port return ok=false.
func ParseLocation(location string) (host string, port int, proto string, ok bool) {
	rest := location
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		proto = rest[i+1:]
		rest = rest[:i]
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return "", 0, "", false
	}
	p, err := strconv.Atoi(rest[i+1:])
	if err != nil {
		return "", 0, "", false
	}
	return rest[:i], p, proto, true
}

// Hash returns the hex SHA256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeHost strips scheme and default ports.
func normalizeHost(host string) string {
	host = normalize(host)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	host = strings.TrimSuffix(host, ":443")
	host = strings.TrimSuffix(host, ":80")
	return host
}

// normalizePath drops query and fragment and trims the trailing slash.
func normalizePath(path string) string {
	path = normalize(path)
	if idx := strings.IndexAny(path, "?#"); idx != -1 {
		path = path[:idx]
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}
