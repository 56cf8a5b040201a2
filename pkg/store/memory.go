package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
)

// Memory is a Repository held in process memory.
type Memory struct {
	mu      sync.RWMutex
	scans   map[string]*core.Scan
	vulns   map[string][]core.Vulnerability
	logs    map[string][]core.ScanLogEntry
	results map[string][]*AdapterResult

	now func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		scans:   make(map[string]*core.Scan),
		vulns:   make(map[string][]core.Vulnerability),
		logs:    make(map[string][]core.ScanLogEntry),
		results: make(map[string][]*AdapterResult),
		now:     time.Now,
	}
}

func cloneScan(s *core.Scan) *core.Scan {
	c := *s
	c.Adapters = slices.Clone(s.Adapters)
	c.Options = s.Options.Clone()
	return &c
}

func (m *Memory) CreateScan(_ context.Context, scan *core.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[scan.ID]; ok {
		return scanerrors.E(scanerrors.KindConflict, "store.CreateScan", "scan already exists: "+scan.ID)
	}
	m.scans[scan.ID] = cloneScan(scan)
	return nil
}

func (m *Memory) GetScan(_ context.Context, id string) (*core.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scans[id]
	if !ok {
		return nil, notFound("store.GetScan", id)
	}
	return cloneScan(s), nil
}

func (m *Memory) ListScans(_ context.Context, filter ListFilter) ([]*core.Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*core.Scan
	for _, s := range m.scans {
		if filter.matches(s) {
			out = append(out, cloneScan(s))
		}
	}
	slices.SortFunc(out, func(a, b *core.Scan) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) DeleteScan(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[id]; !ok {
		return notFound("store.DeleteScan", id)
	}
	delete(m.scans, id)
	delete(m.vulns, id)
	delete(m.logs, id)
	delete(m.results, id)
	return nil
}

func (m *Memory) SetScanStatus(_ context.Context, id string, status core.ScanStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok {
		return notFound("store.SetScanStatus", id)
	}
	stampStatus(s, status, errorMessage, m.now())
	return nil
}

func (m *Memory) TransitionScan(_ context.Context, id string, from []core.ScanStatus, to core.ScanStatus, errorMessage string) (*core.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok {
		return nil, notFound("store.TransitionScan", id)
	}
	if !slices.Contains(from, s.Status) {
		return nil, conflict("store.TransitionScan", id, s.Status, to)
	}
	stampStatus(s, to, errorMessage, m.now())
	return cloneScan(s), nil
}

func (m *Memory) CountScansSince(_ context.Context, accountID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.scans {
		if s.AccountID == accountID && !s.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) PersistVulnerability(_ context.Context, scanID string, v core.Vulnerability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[scanID]; !ok {
		return notFound("store.PersistVulnerability", scanID)
	}
	m.vulns[scanID] = append(m.vulns[scanID], v)
	return nil
}

func (m *Memory) Vulnerabilities(_ context.Context, scanID string) ([]core.Vulnerability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.vulns[scanID]), nil
}

func (m *Memory) AppendScanLog(_ context.Context, scanID, message string, level core.LogLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[scanID]; !ok {
		return notFound("store.AppendScanLog", scanID)
	}
	m.logs[scanID] = append(m.logs[scanID], core.ScanLogEntry{
		ScanID:    scanID,
		Message:   message,
		Level:     level,
		Timestamp: m.now(),
	})
	return nil
}

func (m *Memory) Logs(_ context.Context, scanID string) ([]core.ScanLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.logs[scanID]), nil
}

func (m *Memory) SaveAdapterResult(_ context.Context, r *AdapterResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[r.ScanID]; !ok {
		return notFound("store.SaveAdapterResult", r.ScanID)
	}
	c := *r
	m.results[r.ScanID] = append(m.results[r.ScanID], &c)
	return nil
}

func (m *Memory) AdapterResults(_ context.Context, scanID string) ([]*AdapterResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*AdapterResult, 0, len(m.results[scanID]))
	for _, r := range m.results[scanID] {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

var _ Repository = (*Memory)(nil)
