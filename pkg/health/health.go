// Package health serves the /healthz endpoint of the ops server. Checks
// report on the scan store, the tool binaries and disk space for tool
// output.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/exploopio/scanorch/pkg/scanners"
)

// Checker is one health check.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) CheckResult

func (f CheckFunc) Check(ctx context.Context) CheckResult { return f(ctx) }

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration_ms"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Response is the full health check response.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Uptime    time.Duration          `json:"uptime_seconds,omitempty"`
}

// Handler runs the registered checks.
type Handler struct {
	mu     sync.RWMutex
	checks map[string]Checker

	version   string
	startTime time.Time
	timeout   time.Duration
}

// HandlerOption configures the health handler.
type HandlerOption func(*Handler)

// WithVersion sets the version reported in responses.
func WithVersion(version string) HandlerOption {
	return func(h *Handler) {
		h.version = version
	}
}

// WithTimeout bounds a full check run.
func WithTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		h.timeout = timeout
	}
}

// NewHandler creates a health handler with no checks.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		checks:    make(map[string]Checker),
		startTime: time.Now(),
		timeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a health check.
func (h *Handler) Register(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = checker
}

// Check runs all registered checks concurrently. The overall status is the
// worst individual status.
func (h *Handler) Check(ctx context.Context) Response {
	h.mu.RLock()
	checks := make(map[string]Checker, len(h.checks))
	for name, checker := range h.checks {
		checks[name] = checker
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make(map[string]CheckResult, len(checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, checker := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			start := time.Now()
			result := checker.Check(ctx)
			result.Duration = time.Since(start)
			result.Timestamp = time.Now()

			mu.Lock()
			results[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}

	return Response{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
		Version:   h.version,
		Uptime:    time.Since(h.startTime),
	}
}

// ServeHTTP writes the check response. Degraded still answers 200 so that a
// missing optional tool does not take the process out of rotation.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	switch response.Status {
	case StatusHealthy, StatusDegraded:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// =============================================================================
// Checks
// =============================================================================

// StoreCheck pings the scan store.
type StoreCheck struct {
	Ping func(ctx context.Context) error
}

func (c *StoreCheck) Check(ctx context.Context) CheckResult {
	if c.Ping == nil {
		return CheckResult{Status: StatusUnknown, Message: "no ping function configured"}
	}
	if err := c.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "connected"}
}

// AdapterCheck reports missing tool binaries. Any missing binary degrades
// the service; scans still run with the remaining adapters.
type AdapterCheck struct {
	Registry *scanners.Registry
}

func (c *AdapterCheck) Check(ctx context.Context) CheckResult {
	result := CheckResult{Metadata: make(map[string]any)}

	var missing []string
	for _, st := range c.Registry.CheckAll(ctx) {
		if st.Installed {
			result.Metadata[st.Name] = st.Version
			continue
		}
		missing = append(missing, st.Name)
		result.Metadata[st.Name] = "missing"
	}

	if len(missing) > 0 {
		result.Status = StatusDegraded
		result.Message = "missing: " + strings.Join(missing, ", ")
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("%d adapters available", len(result.Metadata))
	return result
}

var (
	_ Checker = (*StoreCheck)(nil)
	_ Checker = (*AdapterCheck)(nil)
	_ Checker = CheckFunc(nil)
)
