package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/exploopio/scanorch/pkg/audit"
	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/metrics"
	"github.com/exploopio/scanorch/pkg/store"
)

type outcome struct {
	adapter core.Adapter
	result  *core.ScanResult
}

// execute runs every adapter concurrently and records outcomes in arrival
// order from a single goroutine, so the store sees one writer per scan.
func (o *Orchestrator) execute(ctx context.Context, r *run, scan *core.Scan, adapters []core.Adapter, opts core.Options) {
	defer o.wg.Done()
	defer close(r.handle.done)
	defer r.slot.Release()
	defer o.forget(scan.ID)
	defer r.cancel()

	if ctx.Err() != nil {
		// Cancelled between the transition to running and launch.
		return
	}

	ctx, span := o.tracer.Start(ctx, "scan", scanAttrs(scan))
	defer span.End()

	o.metrics.GaugeInc(metrics.ActiveScans.Name)
	defer o.metrics.GaugeDec(metrics.ActiveScans.Name)

	outcomes := make(chan outcome, len(adapters))
	for _, a := range adapters {
		go func() {
			outcomes <- outcome{adapter: a, result: o.runAdapter(ctx, a, scan.TargetURL, opts.ForAdapter(a.Name()))}
		}()
	}

	// Recording must survive cancellation of the run.
	wctx := context.WithoutCancel(ctx)

	var succeeded, found int
	for range adapters {
		out := <-outcomes
		n, ok := o.record(wctx, scan, out)
		found += n
		if ok {
			succeeded++
		}
		r.handle.completed.Add(1)
		o.log(wctx, scan.ID, core.LogInfo, "Progress: %d%%", r.handle.Progress())
	}

	span.SetAttributes(
		attribute.Int("scan.adapters_succeeded", succeeded),
		attribute.Int("scan.vulnerabilities", found),
	)

	final, err := o.transition(wctx, scan.ID, core.ScanCompleted, "")
	if err != nil {
		// Cancelled or swept while adapters were running.
		if scanerrors.GetKind(err) != scanerrors.KindConflict {
			o.logger.Error("complete scan %s: %v", scan.ID, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		o.logger.Debug("scan %s ended outside running: %v", scan.ID, err)
		span.SetStatus(codes.Ok, "")
		return
	}

	o.log(wctx, scan.ID, core.LogInfo, "Scan completed: %d/%d adapters succeeded, %d vulnerabilities found",
		succeeded, len(adapters), found)
	o.metrics.CounterInc(metrics.ScansTotal.Name, "scan_type", string(final.ScanType), "status", string(core.ScanCompleted))
	o.metrics.HistogramObserve(metrics.ScanDuration.Name, final.Duration().Seconds(), "scan_type", string(final.ScanType))
	o.audit.Log(audit.Event{
		Type:      audit.EventScanCompleted,
		ScanID:    scan.ID,
		AccountID: scan.AccountID,
		Message:   fmt.Sprintf("%d/%d adapters succeeded", succeeded, len(adapters)),
		Duration:  final.Duration(),
		Details:   map[string]any{"vulnerabilities": found},
	})
	span.SetStatus(codes.Ok, "")
}

// runAdapter invokes one adapter under its deadline. It always returns a
// terminal result: panics, hung adapters and nil results become failures.
func (o *Orchestrator) runAdapter(ctx context.Context, a core.Adapter, target string, opts core.Options) *core.ScanResult {
	name := a.Name()
	timeout := o.adapterTimeout(a, opts)

	ctx, span := o.tracer.Start(ctx, "adapter "+name, trace.WithAttributes(
		attribute.String("adapter.name", name),
		attribute.String("adapter.timeout", timeout.String()),
	))
	defer span.End()

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *core.ScanResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				res := core.NewScanResult(name, target)
				res.Fail(fmt.Sprintf("%s: internal error: %v", name, p))
				done <- res
			}
		}()
		done <- a.Scan(actx, target, opts)
	}()

	var res *core.ScanResult
	select {
	case res = <-done:
	case <-actx.Done():
		select {
		case res = <-done:
		case <-time.After(o.cfg.AdapterGrace):
			res = core.NewScanResult(name, target)
			if ctx.Err() != nil {
				res.Fail(name + " abandoned: scan cancelled")
			} else {
				res.Fail(fmt.Sprintf("%s timed out after %s", name, timeout))
			}
		}
	}

	if res == nil {
		res = core.NewScanResult(name, target)
		res.Fail(name + " returned no result")
	}
	if res.Status == core.StatusRunning {
		res.Complete()
	}
	if res.ScannerName == "" {
		res.ScannerName = name
	}

	if res.Succeeded() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, res.ErrorMessage)
	}
	return res
}

// adapterTimeout is the per-scan timeout option when set, else the
// adapter's own default, else the configured adapter timeout.
func (o *Orchestrator) adapterTimeout(a core.Adapter, opts core.Options) time.Duration {
	def := o.cfg.AdapterTimeout
	if tp, ok := a.(core.TimeoutProvider); ok {
		if d := tp.DefaultTimeout(); d > 0 {
			def = d
		}
	}
	return opts.Timeout(def)
}

// record persists one adapter outcome and returns the number of findings
// stored and whether the adapter succeeded.
func (o *Orchestrator) record(ctx context.Context, scan *core.Scan, out outcome) (int, bool) {
	name := out.adapter.Name()
	res := out.result

	stored := 0
	for _, v := range res.Vulnerabilities {
		if v.ScannerName == "" {
			v.ScannerName = name
		}
		if err := o.repo.PersistVulnerability(ctx, scan.ID, v); err != nil {
			o.logger.Error("persist %s finding for scan %s: %v", name, scan.ID, err)
			continue
		}
		stored++
		o.metrics.CounterInc(metrics.FindingsTotal.Name, "adapter", name, "severity", string(v.Severity))
	}

	if res.Succeeded() {
		o.log(ctx, scan.ID, core.LogInfo, "Adapter %s completed: %d vulnerabilities found", name, len(res.Vulnerabilities))
	} else {
		o.log(ctx, scan.ID, core.LogError, "Adapter %s failed: %s", name, res.ErrorMessage)

		evt := audit.EventAdapterFailed
		if strings.Contains(res.ErrorMessage, "timed out") {
			evt = audit.EventAdapterTimeout
		}
		o.audit.Log(audit.Event{
			Type:      evt,
			Severity:  audit.SeverityWarning,
			ScanID:    scan.ID,
			AccountID: scan.AccountID,
			Adapter:   name,
			Message:   name + " did not complete",
			Error:     res.ErrorMessage,
			Duration:  res.Duration(),
		})
	}

	summary := o.summarize(out.adapter, res)
	if err := o.repo.SaveAdapterResult(ctx, store.NewAdapterResult(scan.ID, res, summary)); err != nil {
		o.logger.Error("save %s result for scan %s: %v", name, scan.ID, err)
	}

	o.metrics.CounterInc(metrics.AdapterRunsTotal.Name, "adapter", name, "status", string(res.Status))
	o.metrics.HistogramObserve(metrics.AdapterDuration.Name, res.Duration().Seconds(), "adapter", name)

	return stored, res.Succeeded()
}

// summarize calls the adapter's summary, falling back to the generic
// summary if it panics.
func (o *Orchestrator) summarize(a core.Adapter, res *core.ScanResult) (s *core.Summary) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("%s summary: %v", a.Name(), p)
			s = core.BaseSummary(res)
		}
	}()
	if s = a.GetScanSummary(res); s == nil {
		s = core.BaseSummary(res)
	}
	return s
}
