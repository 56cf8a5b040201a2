package orchestrator

import (
	"context"
	"slices"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
)

// transitions lists the statuses each status may move to. Terminal
// statuses have no entry.
var transitions = map[core.ScanStatus][]core.ScanStatus{
	core.ScanPending: {core.ScanRunning, core.ScanCancelled},
	core.ScanRunning: {core.ScanCompleted, core.ScanFailed, core.ScanCancelled},
}

// CanTransition reports whether a scan may move from one status to another.
func CanTransition(from, to core.ScanStatus) bool {
	return slices.Contains(transitions[from], to)
}

// sourcesFor returns the statuses from which to is reachable, in a fixed
// order.
func sourcesFor(to core.ScanStatus) []core.ScanStatus {
	var out []core.ScanStatus
	for _, from := range []core.ScanStatus{core.ScanPending, core.ScanRunning} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// transition moves a scan to status to, failing with a conflict when the
// stored status does not allow it.
func (o *Orchestrator) transition(ctx context.Context, id string, to core.ScanStatus, errMsg string) (*core.Scan, error) {
	from := sourcesFor(to)
	if len(from) == 0 {
		return nil, scanerrors.E(scanerrors.KindConflict, "orchestrator.transition", "no transition into "+string(to))
	}
	scan, err := o.repo.TransitionScan(ctx, id, from, to, errMsg)
	if err != nil {
		return nil, scanerrors.Wrap(err, "orchestrator.transition")
	}
	return scan, nil
}
