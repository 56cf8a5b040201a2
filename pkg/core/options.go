package core

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Well-known option keys.
const (
	OptScanType    = "scan_type"
	OptTimeout     = "timeout" // seconds
	OptPort        = "port"
	OptTechniques  = "techniques"
	OptTemplates   = "templates"
	OptRateLimit   = "rate_limit"
	OptConcurrency = "concurrency"
	OptLevel       = "level"
	OptRisk        = "risk"
	OptForms       = "forms"
	OptCrawl       = "crawl"
	OptDBMS        = "dbms"
	OptTuning      = "tuning"
	OptSSL         = "ssl"
	OptUserAgent   = "user_agent"
	OptAPIKey      = "api_key"
	OptZAPHost     = "zap_host"
	OptZAPPort     = "zap_port"
	OptBinary      = "binary"
)

// adapterOnly keys select one tool's binary or credentials. They are only
// honored when scoped to an adapter, so a value meant for one tool never
// reaches another.
var adapterOnly = []string{OptAPIKey, OptBinary}

// ScopedKey returns the option key that applies key to one adapter only,
// e.g. "shodan.api_key".
func ScopedKey(adapter, key string) string {
	return adapter + "." + key
}

// Options is the per-scan configuration passed to adapters. Values may come
// from YAML or JSON decoding, so getters accept the loose shapes those
// decoders produce (float64 numbers, []any lists, numeric strings).
type Options map[string]any

// Clone returns a shallow copy.
func (o Options) Clone() Options {
	if o == nil {
		return Options{}
	}
	return maps.Clone(o)
}

// With returns a copy with key set to value.
func (o Options) With(key string, value any) Options {
	c := o.Clone()
	c[key] = value
	return c
}

// Has reports whether key is present with a non-nil value.
func (o Options) Has(key string) bool {
	v, ok := o[key]
	return ok && v != nil
}

// ScanType returns the scan_type option, defaulting to standard.
func (o Options) ScanType() ScanType {
	return ParseScanType(o.String(OptScanType, string(ScanTypeStandard)))
}

// String returns a string option or def.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return def
		}
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Int returns an integer option or def.
func (o Options) Int(key string, def int) int {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// Bool returns a boolean option or def.
func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	}
	return def
}

// Strings returns a list option or def. A comma separated string is split.
func (o Options) Strings(key string, def []string) []string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	var out []string
	switch t := v.(type) {
	case []string:
		out = t
	case []any:
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// Timeout returns the timeout option (seconds) as a duration, or def.
func (o Options) Timeout(def time.Duration) time.Duration {
	if n := o.Int(OptTimeout, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

// ForAdapter returns the options one adapter sees: the shared keys, with
// the adapter's scoped keys applied over them. Keys scoped to other
// adapters are dropped, and so are unscoped api_key and binary values.
func (o Options) ForAdapter(name string) Options {
	out := Options{}
	prefix := name + "."
	for k, v := range o {
		if strings.Contains(k, ".") || slices.Contains(adapterOnly, k) {
			continue
		}
		out[k] = v
	}
	for k, v := range o {
		if key, ok := strings.CutPrefix(k, prefix); ok && key != "" {
			out[key] = v
		}
	}
	return out
}

// Scopes returns the adapter names that have scoped keys, sorted.
func (o Options) Scopes() []string {
	var names []string
	for k := range o {
		if name, _, ok := strings.Cut(k, "."); ok && name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
