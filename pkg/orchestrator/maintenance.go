package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/exploopio/scanorch/pkg/audit"
	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/metrics"
	"github.com/exploopio/scanorch/pkg/store"
)

// CleanupOldScans deletes terminal scans created more than olderThan ago,
// with their findings, logs and results. A non-positive olderThan uses the
// configured retention. It returns the number of scans removed.
func (o *Orchestrator) CleanupOldScans(ctx context.Context, olderThan time.Duration) (int, error) {
	const op = "orchestrator.CleanupOldScans"

	if olderThan <= 0 {
		olderThan = o.cfg.Retention
	}
	cutoff := o.now().Add(-olderThan)

	scans, err := o.repo.ListScans(ctx, store.ListFilter{
		Statuses:      []core.ScanStatus{core.ScanCompleted, core.ScanFailed, core.ScanCancelled},
		CreatedBefore: cutoff,
	})
	if err != nil {
		return 0, scanerrors.Wrap(err, op)
	}

	deleted := 0
	for _, scan := range scans {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := o.repo.DeleteScan(ctx, scan.ID); err != nil {
			if scanerrors.IsNotFound(err) {
				continue
			}
			return deleted, scanerrors.Wrap(err, op)
		}
		deleted++
	}

	if deleted > 0 {
		o.metrics.CounterAdd(metrics.MaintenanceTotal.Name, float64(deleted), "task", "cleanup")
		o.audit.Log(audit.Event{
			Type:    audit.EventRetentionRun,
			Message: fmt.Sprintf("removed %d scans created before %s", deleted, cutoff.UTC().Format(time.RFC3339)),
		})
	}
	o.logger.Info("cleanup removed %d scans older than %s", deleted, olderThan)
	return deleted, nil
}

// SweepTimedOut fails running scans whose start is older than the scan
// timeout and stops their adapters if they run in this process. It
// returns the number of scans failed.
func (o *Orchestrator) SweepTimedOut(ctx context.Context) (int, error) {
	const op = "orchestrator.SweepTimedOut"

	scans, err := o.repo.ListScans(ctx, store.ListFilter{
		Statuses:      []core.ScanStatus{core.ScanRunning},
		StartedBefore: o.now().Add(-o.cfg.ScanTimeout),
	})
	if err != nil {
		return 0, scanerrors.Wrap(err, op)
	}

	msg := fmt.Sprintf("scan timed out after %s", o.cfg.ScanTimeout)
	swept := 0
	for _, scan := range scans {
		if _, err := o.transition(ctx, scan.ID, core.ScanFailed, msg); err != nil {
			// Finished between the listing and the transition.
			if scanerrors.GetKind(err) == scanerrors.KindConflict || scanerrors.IsNotFound(err) {
				continue
			}
			return swept, scanerrors.Wrap(err, op)
		}
		swept++
		o.log(ctx, scan.ID, core.LogError, "Scan failed: %s", msg)

		o.mu.Lock()
		r := o.runs[scan.ID]
		o.mu.Unlock()
		if r != nil {
			r.cancel()
		}

		o.metrics.CounterInc(metrics.ScansTotal.Name, "scan_type", string(scan.ScanType), "status", string(core.ScanFailed))
		o.audit.Log(audit.Event{
			Type:      audit.EventScanTimedOut,
			Severity:  audit.SeverityError,
			ScanID:    scan.ID,
			AccountID: scan.AccountID,
			Message:   "running scan exceeded the scan timeout",
			Error:     msg,
		})
	}

	if swept > 0 {
		o.metrics.CounterAdd(metrics.MaintenanceTotal.Name, float64(swept), "task", "timeout")
		o.logger.Warn("timeout sweep failed %d scans", swept)
	}
	return swept, nil
}

// RunMaintenance runs the timeout sweep and the retention cleanup every
// interval until ctx ends.
func (o *Orchestrator) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := o.SweepTimedOut(ctx); err != nil {
			o.logger.Error("timeout sweep: %v", err)
		}
		if _, err := o.CleanupOldScans(ctx, 0); err != nil {
			o.logger.Error("retention cleanup: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
