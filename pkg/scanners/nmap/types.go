package nmap

import "encoding/xml"

// Run is the root of nmap's XML output (-oX).
type Run struct {
	XMLName xml.Name `xml:"nmaprun"`
	Scanner string   `xml:"scanner,attr"`
	Version string   `xml:"version,attr"`
	Args    string   `xml:"args,attr"`
	Hosts   []Host   `xml:"host"`
}

// Host is one scanned host.
type Host struct {
	Status    Status     `xml:"status"`
	Addresses []Address  `xml:"address"`
	Hostnames []Hostname `xml:"hostnames>hostname"`
	Ports     []Port     `xml:"ports>port"`
	OS        *OS        `xml:"os"`
}

// Status is the host reachability reported by nmap.
type Status struct {
	State  string `xml:"state,attr"`
	Reason string `xml:"reason,attr"`
}

// Address is an IP or MAC address of a host.
type Address struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

// Hostname is a resolved name of a host.
type Hostname struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

// Port is one probed port.
type Port struct {
	Protocol string   `xml:"protocol,attr"`
	PortID   int      `xml:"portid,attr"`
	State    State    `xml:"state"`
	Service  *Service `xml:"service"`
}

// State of a port: open, closed, filtered.
type State struct {
	State  string `xml:"state,attr"`
	Reason string `xml:"reason,attr"`
}

// Service is the service detected on a port (-sV).
type Service struct {
	Name    string `xml:"name,attr"`
	Product string `xml:"product,attr"`
	Version string `xml:"version,attr"`
	Extra   string `xml:"extrainfo,attr"`
}

// OS holds operating system detection results (-O).
type OS struct {
	Matches []OSMatch `xml:"osmatch"`
	// Legacy flat elements written by some nmap front ends.
	Name    string `xml:"osname"`
	Version string `xml:"osversion"`
}

// OSMatch is one OS guess with its accuracy.
type OSMatch struct {
	Name     string `xml:"name,attr"`
	Accuracy int    `xml:"accuracy,attr"`
}

// OpenPort is the normalized form of an open port, from either output
// format.
type OpenPort struct {
	Port     int
	Protocol string
	Service  string
	Version  string
}

// BestOS returns the most accurate OS guess, or the legacy name/version
// pair when no osmatch elements are present.
func (o *OS) BestOS() string {
	if o == nil {
		return ""
	}
	best := ""
	acc := -1
	for _, m := range o.Matches {
		if m.Accuracy > acc {
			best, acc = m.Name, m.Accuracy
		}
	}
	if best != "" {
		return best
	}
	if o.Name == "" {
		return ""
	}
	if o.Version != "" {
		return o.Name + " " + o.Version
	}
	return o.Name
}
