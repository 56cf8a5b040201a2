// Package store persists scans, their findings, logs and per-adapter
// results.
//
// The orchestrator writes through Persistence while a scan runs; the rest of
// Repository serves lookups, the quota counter and maintenance.
package store

import (
	"context"
	"slices"
	"time"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
)

// Persistence is what a running scan writes.
type Persistence interface {
	// PersistVulnerability stores one finding of a scan.
	PersistVulnerability(ctx context.Context, scanID string, v core.Vulnerability) error

	// AppendScanLog appends a user-visible log line.
	AppendScanLog(ctx context.Context, scanID, message string, level core.LogLevel) error

	// SetScanStatus records a status change. Moving to running stamps
	// started_at; moving to a terminal status stamps completed_at.
	SetScanStatus(ctx context.Context, scanID string, status core.ScanStatus, errorMessage string) error
}

// Repository is the full storage contract.
type Repository interface {
	Persistence

	CreateScan(ctx context.Context, scan *core.Scan) error
	GetScan(ctx context.Context, id string) (*core.Scan, error)
	ListScans(ctx context.Context, filter ListFilter) ([]*core.Scan, error)
	DeleteScan(ctx context.Context, id string) error

	// TransitionScan sets status only when the current status is one of
	// from, and returns the updated scan. Any other current status is a
	// conflict error.
	TransitionScan(ctx context.Context, id string, from []core.ScanStatus, to core.ScanStatus, errorMessage string) (*core.Scan, error)

	// CountScansSince counts an account's scans created at or after since.
	CountScansSince(ctx context.Context, accountID string, since time.Time) (int, error)

	Vulnerabilities(ctx context.Context, scanID string) ([]core.Vulnerability, error)
	Logs(ctx context.Context, scanID string) ([]core.ScanLogEntry, error)

	SaveAdapterResult(ctx context.Context, r *AdapterResult) error
	AdapterResults(ctx context.Context, scanID string) ([]*AdapterResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// ListFilter selects scans. Zero fields do not filter.
type ListFilter struct {
	AccountID     string
	Statuses      []core.ScanStatus
	CreatedBefore time.Time
	StartedBefore time.Time
	Limit         int
}

func (f ListFilter) matches(s *core.Scan) bool {
	if f.AccountID != "" && s.AccountID != f.AccountID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !s.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if !f.StartedBefore.IsZero() && (s.StartedAt == nil || !s.StartedAt.Before(f.StartedBefore)) {
		return false
	}
	return true
}

// AdapterResult is the stored outcome of one adapter within a scan.
type AdapterResult struct {
	ScanID       string            `json:"scan_id"`
	Adapter      string            `json:"adapter"`
	Status       core.ResultStatus `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	Summary      *core.Summary     `json:"summary,omitempty"`
	ScanLog      []string          `json:"scan_log,omitempty"`
	RawOutput    []byte            `json:"-"`
}

// NewAdapterResult converts an adapter's ScanResult for storage.
func NewAdapterResult(scanID string, res *core.ScanResult, summary *core.Summary) *AdapterResult {
	return &AdapterResult{
		ScanID:       scanID,
		Adapter:      res.ScannerName,
		Status:       res.Status,
		ErrorMessage: res.ErrorMessage,
		StartTime:    res.StartTime,
		EndTime:      res.EndTime,
		Summary:      summary,
		ScanLog:      res.ScanLog,
		RawOutput:    res.RawOutput,
	}
}

// stampStatus applies a status change and its timestamps to scan.
func stampStatus(scan *core.Scan, status core.ScanStatus, errorMessage string, now time.Time) {
	scan.Status = status
	if errorMessage != "" {
		scan.ErrorMessage = errorMessage
	}
	if status == core.ScanRunning && scan.StartedAt == nil {
		scan.StartedAt = &now
	}
	if status.IsTerminal() && scan.CompletedAt == nil {
		scan.CompletedAt = &now
	}
}

func notFound(op, id string) error {
	return scanerrors.E(scanerrors.KindNotFound, op, "scan not found: "+id, scanerrors.ErrScanNotFound)
}

func conflict(op string, id string, current, to core.ScanStatus) error {
	return scanerrors.E(scanerrors.KindConflict, op,
		"scan "+id+" is "+string(current)+", cannot move to "+string(to))
}
