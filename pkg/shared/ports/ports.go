// Package ports holds the lookup tables shared by the port/service and
// internet-intelligence adapters: well-known ports, end-of-life operating
// system fingerprints and server products worth flagging.
package ports

import (
	"regexp"
	"sort"
	"strings"

	"github.com/exploopio/scanorch/pkg/shared/severity"
)

// Service describes a well-known port.
type Service struct {
	Port        int
	Name        string
	Severity    severity.Level
	Description string
}

var wellKnown = map[int]Service{
	21:    {21, "ftp", severity.Medium, "FTP service exposed - check for anonymous login"},
	22:    {22, "ssh", severity.Low, "SSH service exposed - verify strong ciphers"},
	23:    {23, "telnet", severity.High, "Telnet service exposed - traffic is unencrypted"},
	25:    {25, "smtp", severity.Medium, "SMTP service exposed - verify relay and spam protection"},
	53:    {53, "dns", severity.Low, "DNS service exposed - check zone transfer"},
	80:    {80, "http", severity.Low, "HTTP service exposed - redirect to HTTPS recommended"},
	110:   {110, "pop3", severity.Medium, "POP3 service exposed - traffic is unencrypted"},
	143:   {143, "imap", severity.Medium, "IMAP service exposed - traffic is unencrypted"},
	443:   {443, "https", severity.Low, "HTTPS service exposed - verify certificate"},
	1433:  {1433, "mssql", severity.High, "MSSQL service exposed - strong authentication required"},
	3306:  {3306, "mysql", severity.High, "MySQL service exposed - strong authentication required"},
	3389:  {3389, "rdp", severity.High, "RDP service exposed - strong authentication required"},
	5432:  {5432, "postgresql", severity.High, "PostgreSQL service exposed - strong authentication required"},
	5900:  {5900, "vnc", severity.High, "VNC service exposed - strong authentication required"},
	6379:  {6379, "redis", severity.High, "Redis service exposed - check authentication"},
	27017: {27017, "mongodb", severity.High, "MongoDB service exposed - check authentication"},
}

// Lookup returns the table entry for port.
func Lookup(port int) (Service, bool) {
	s, ok := wellKnown[port]
	return s, ok
}

// WellKnown returns the table sorted by port number.
func WellKnown() []Service {
	out := make([]Service, 0, len(wellKnown))
	for _, s := range wellKnown {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// OSRule flags an operating system fingerprint that no longer receives
// security updates.
type OSRule struct {
	Pattern     *regexp.Regexp
	Description string
}

// eolOS is evaluated in order; the first match wins.
var eolOS = []OSRule{
	{regexp.MustCompile(`(?i)Windows.*XP`), "Windows XP - unsupported OS, no security updates available"},
	{regexp.MustCompile(`(?i)Windows.*Vista`), "Windows Vista - unsupported OS, no security updates available"},
	{regexp.MustCompile(`(?i)Windows.*7`), "Windows 7 - end of life, security updates limited"},
	{regexp.MustCompile(`(?i)Ubuntu.*1[0-6]`), "Old Ubuntu release - check security updates"},
	{regexp.MustCompile(`(?i)CentOS.*6`), "CentOS 6 - end of life, no security updates available"},
}

// MatchEOLOS returns the description of the first end-of-life rule matching
// osInfo.
func MatchEOLOS(osInfo string) (string, bool) {
	if strings.TrimSpace(osInfo) == "" {
		return "", false
	}
	for _, r := range eolOS {
		if r.Pattern.MatchString(osInfo) {
			return r.Description, true
		}
	}
	return "", false
}

// Product is a server product keyword.
type Product struct {
	Keyword     string
	Severity    severity.Level
	Description string
}

// products is evaluated in order; the first keyword contained in the banner
// wins.
var products = []Product{
	{"apache", severity.Medium, "Apache web server - check security updates"},
	{"nginx", severity.Medium, "Nginx web server - check security updates"},
	{"iis", severity.Medium, "IIS web server - check security updates"},
	{"tomcat", severity.Medium, "Tomcat application server - check security updates"},
	{"jboss", severity.Medium, "JBoss application server - check security updates"},
	{"weblogic", severity.Medium, "WebLogic application server - check security updates"},
	{"websphere", severity.Medium, "WebSphere application server - check security updates"},
}

// MatchProduct returns the first product whose keyword occurs in banner,
// ignoring case.
func MatchProduct(banner string) (Product, bool) {
	lower := strings.ToLower(banner)
	if lower == "" {
		return Product{}, false
	}
	for _, p := range products {
		if strings.Contains(lower, p.Keyword) {
			return p, true
		}
	}
	return Product{}, false
}
