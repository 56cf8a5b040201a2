// Package scanners wires the tool adapters together: the registry the
// orchestrator resolves adapter names against, and the scan-type profiles.
package scanners

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/scanners/nikto"
	"github.com/exploopio/scanorch/pkg/scanners/nmap"
	"github.com/exploopio/scanorch/pkg/scanners/nuclei"
	"github.com/exploopio/scanorch/pkg/scanners/shodan"
	"github.com/exploopio/scanorch/pkg/scanners/sqlmap"
	"github.com/exploopio/scanorch/pkg/scanners/xss"
	"github.com/exploopio/scanorch/pkg/scanners/zap"
)

// =============================================================================
// Profiles
// =============================================================================

var (
	quickProfile    = []string{xss.Name, nuclei.Name}
	standardProfile = append(slices.Clone(quickProfile), nmap.Name, nikto.Name)
	fullProfile     = append(slices.Clone(standardProfile), zap.Name, sqlmap.Name, shodan.Name)
)

// ProfileAdapters returns the adapter names a scan type runs. Custom scans
// use their own subset; ProfileAdapters returns the standard set for them,
// which is also the fallback for an empty subset.
func ProfileAdapters(t core.ScanType) []string {
	switch t {
	case core.ScanTypeQuick:
		return slices.Clone(quickProfile)
	case core.ScanTypeFull:
		return slices.Clone(fullProfile)
	default:
		return slices.Clone(standardProfile)
	}
}

// DefaultTimeout returns the built-in timeout of a named adapter, or zero
// for an unknown name.
func DefaultTimeout(name string) time.Duration {
	switch name {
	case nmap.Name:
		return nmap.DefaultTimeout
	case nuclei.Name:
		return nuclei.DefaultTimeout
	case zap.Name:
		return zap.DefaultTimeout
	case sqlmap.Name:
		return sqlmap.DefaultTimeout
	case nikto.Name:
		return nikto.DefaultTimeout
	case shodan.Name:
		return shodan.DefaultTimeout
	case xss.Name:
		return xss.DefaultTimeout
	}
	return 0
}

// =============================================================================
// Registry
// =============================================================================

// Registry holds the adapters available to the orchestrator, by name.
type Registry struct {
	adapters map[string]core.Adapter
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]core.Adapter)}
}

// Register adds an adapter, replacing any adapter with the same name.
func (r *Registry) Register(a core.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns an adapter by name.
func (r *Registry) Get(name string) (core.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// List returns the registered adapter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve returns the adapters for a scan type. For custom scans subset
// selects the adapters (standard when empty); names that are unknown or
// not registered are returned in skipped. An empty resolution is an
// invalid-input error.
func (r *Registry) Resolve(t core.ScanType, subset []string) (adapters []core.Adapter, skipped []string, err error) {
	names := ProfileAdapters(t)
	if t == core.ScanTypeCustom && len(subset) > 0 {
		names = subset
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		a, ok := r.Get(name)
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		adapters = append(adapters, a)
	}

	if len(adapters) == 0 {
		return nil, skipped, scanerrors.E(scanerrors.KindInvalidInput, "scanners.Resolve",
			fmt.Sprintf("no known adapters in %v", names))
	}
	return adapters, skipped, nil
}

// =============================================================================
// Default adapter set
// =============================================================================

// Config configures the built-in adapters.
type Config struct {
	// Binaries overrides binary paths by adapter name.
	Binaries map[string]string

	// Timeouts overrides the per-adapter scan timeout by adapter name.
	Timeouts map[string]time.Duration

	ZAPHost   string
	ZAPPort   int
	ZAPAPIKey string

	ShodanAPIKey            string
	ShodanBaseURL           string
	ShodanRequestsPerSecond float64

	XSSRequestsPerSecond float64

	Logger core.Logger
}

// NewDefaultRegistry registers all seven built-in adapters configured from
// cfg.
func NewDefaultRegistry(cfg Config) *Registry {
	r := NewRegistry()

	nm := nmap.NewScanner()
	nm.Logger = cfg.Logger
	nm.Binary = pick(cfg.Binaries[nmap.Name], nm.Binary)
	nm.Timeout = pickDuration(cfg.Timeouts[nmap.Name], nm.Timeout)
	r.Register(nm)

	nu := nuclei.NewScanner()
	nu.Logger = cfg.Logger
	nu.Binary = pick(cfg.Binaries[nuclei.Name], nu.Binary)
	nu.Timeout = pickDuration(cfg.Timeouts[nuclei.Name], nu.Timeout)
	r.Register(nu)

	sq := sqlmap.NewScanner()
	sq.Logger = cfg.Logger
	sq.Binary = pick(cfg.Binaries[sqlmap.Name], sq.Binary)
	sq.Timeout = pickDuration(cfg.Timeouts[sqlmap.Name], sq.Timeout)
	r.Register(sq)

	nk := nikto.NewScanner()
	nk.Logger = cfg.Logger
	nk.Binary = pick(cfg.Binaries[nikto.Name], nk.Binary)
	nk.Timeout = pickDuration(cfg.Timeouts[nikto.Name], nk.Timeout)
	r.Register(nk)

	zp := zap.NewScanner()
	zp.Logger = cfg.Logger
	zp.Host = pick(cfg.ZAPHost, zp.Host)
	if cfg.ZAPPort > 0 {
		zp.Port = cfg.ZAPPort
	}
	zp.APIKey = cfg.ZAPAPIKey
	zp.Timeout = pickDuration(cfg.Timeouts[zap.Name], zp.Timeout)
	r.Register(zp)

	sh := shodan.NewScanner(cfg.ShodanAPIKey)
	sh.Logger = cfg.Logger
	sh.BaseURL = pick(cfg.ShodanBaseURL, sh.BaseURL)
	if cfg.ShodanRequestsPerSecond > 0 {
		sh.Limiter = rate.NewLimiter(rate.Limit(cfg.ShodanRequestsPerSecond), 1)
	}
	sh.Timeout = pickDuration(cfg.Timeouts[shodan.Name], sh.Timeout)
	r.Register(sh)

	xs := xss.NewScanner()
	xs.Logger = cfg.Logger
	if cfg.XSSRequestsPerSecond > 0 {
		xs.RequestsPerSecond = cfg.XSSRequestsPerSecond
	}
	xs.Timeout = pickDuration(cfg.Timeouts[xss.Name], xs.Timeout)
	r.Register(xs)

	return r
}

// =============================================================================
// Installation checks
// =============================================================================

// Status describes one registered adapter for the adapters listing.
type Status struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"` // binary or api
	Installed bool   `json:"installed"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CheckAll reports every registered adapter. Binary-backed adapters are
// probed for presence and version; API adapters are reported as available.
func (r *Registry) CheckAll(ctx context.Context) []Status {
	names := r.List()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		a, _ := r.Get(name)
		st := Status{Name: name, Kind: "api", Installed: true}
		if inst, ok := a.(core.Installer); ok {
			st.Kind = "binary"
			installed, version, err := inst.IsInstalled(ctx)
			st.Installed = installed
			st.Version = version
			if err != nil {
				st.Error = err.Error()
			}
		}
		out = append(out, st)
	}
	return out
}

func pick(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func pickDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
