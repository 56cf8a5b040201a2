// Package orchestrator runs scans: it admits requests against the quota,
// records them, fans the resolved adapters out concurrently and persists
// each adapter's outcome as it arrives.
//
// Scan lifecycle:
//
//	pending -> running -> completed | failed
//	pending | running -> cancelled
//
// A scan completes even when some of its adapters fail; only a scan that
// cannot start (invalid target) or is swept by the timeout task fails.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/exploopio/scanorch/pkg/audit"
	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/metrics"
	"github.com/exploopio/scanorch/pkg/quota"
	"github.com/exploopio/scanorch/pkg/scanners"
	"github.com/exploopio/scanorch/pkg/store"
)

// Defaults for Config.
const (
	DefaultAdapterTimeout = 30 * time.Minute
	DefaultAdapterGrace   = 5 * time.Second
	DefaultScanTimeout    = 300 * time.Minute
	DefaultRetention      = 30 * 24 * time.Hour
)

// Config tunes the orchestrator. Zero fields take the defaults.
type Config struct {
	// AdapterTimeout bounds one invocation of an adapter that has no
	// default timeout of its own. A per-scan "timeout" option overrides
	// both.
	AdapterTimeout time.Duration

	// AdapterGrace is how long an adapter may keep running after its
	// deadline before the orchestrator records it as timed out.
	AdapterGrace time.Duration

	// ScanTimeout is how long a scan may stay running before the timeout
	// sweep fails it. It must exceed the longest adapter timeout plus
	// AdapterGrace or the sweep fails healthy scans.
	ScanTimeout time.Duration

	// Retention is the default age after which terminal scans are removed.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = DefaultAdapterTimeout
	}
	if c.AdapterGrace <= 0 {
		c.AdapterGrace = DefaultAdapterGrace
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	return c
}

// Orchestrator owns scan execution.
type Orchestrator struct {
	repo     store.Repository
	registry *scanners.Registry
	guard    *quota.Guard
	cfg      Config

	logger  core.Logger
	metrics metrics.Collector
	audit   audit.Sink
	tracer  trace.Tracer

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup

	newID func() string
	now   func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the operational logger.
func WithLogger(l core.Logger) Option {
	return func(o *Orchestrator) { o.logger = core.LoggerOrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = metrics.OrNop(c) }
}

// WithAudit sets the audit sink.
func WithAudit(s audit.Sink) Option {
	return func(o *Orchestrator) { o.audit = audit.OrNop(s) }
}

// WithTracer sets the tracer used for scan and adapter spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// New creates an orchestrator. A nil guard disables quota enforcement.
func New(repo store.Repository, registry *scanners.Registry, guard *quota.Guard, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repo:     repo,
		registry: registry,
		guard:    guard,
		cfg:      cfg.withDefaults(),
		logger:   &core.NopLogger{},
		metrics:  &metrics.NopCollector{},
		audit:    audit.Nop{},
		tracer:   noop.NewTracerProvider().Tracer("scanorch"),
		runs:     make(map[string]*run),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// =============================================================================
// Requests and handles
// =============================================================================

// Request describes a scan to start.
type Request struct {
	AccountID string
	Tier      core.Tier
	TargetURL string
	ScanType  core.ScanType

	// Adapters selects the adapters of a custom scan.
	Adapters []string

	Options  core.Options
	Priority core.Priority // zero means the tier default

	retryOf string
}

// Handle tracks a started scan.
type Handle struct {
	ScanID string

	total     int
	completed atomic.Int64
	done      chan struct{}
}

func newHandle(id string, total int) *Handle {
	return &Handle{ScanID: id, total: total, done: make(chan struct{})}
}

// Done is closed when the scan's execution has finished, whatever its
// final status.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the scan finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns the percentage of adapters that have reported.
func (h *Handle) Progress() int {
	if h.total == 0 {
		return 100
	}
	return int(h.completed.Load() * 100 / int64(h.total))
}

type run struct {
	cancel context.CancelFunc
	slot   *quota.Slot
	handle *Handle
}

// =============================================================================
// Start
// =============================================================================

// StartScan admits, records and launches a scan. Quota rejections and
// requests that resolve to no known adapter fail without creating a
// record. A target that fails validation produces a failed scan, not an
// error. Execution continues after StartScan returns and is not tied to
// ctx; use CancelScan to stop it.
func (o *Orchestrator) StartScan(ctx context.Context, req Request) (*Handle, error) {
	const op = "orchestrator.StartScan"

	if req.ScanType == "" {
		req.ScanType = core.ScanTypeStandard
	}
	if req.Tier == "" {
		req.Tier = core.TierStandard
	}
	if req.Priority == 0 {
		req.Priority = req.Tier.DefaultPriority()
	}
	opts := req.Options.With(core.OptScanType, string(req.ScanType))
	if err := core.ValidateOptions(opts); err != nil {
		err = scanerrors.E(scanerrors.KindInvalidInput, op, "invalid scan options", err)
		o.reject(req, err)
		return nil, err
	}

	var slot *quota.Slot
	if o.guard != nil {
		var err error
		slot, err = o.guard.Admit(ctx, req.AccountID, req.Tier)
		if err != nil {
			o.reject(req, err)
			return nil, scanerrors.Wrap(err, op)
		}
	}

	adapters, skipped, err := o.registry.Resolve(req.ScanType, req.Adapters)
	if err != nil {
		slot.Release()
		o.reject(req, err)
		return nil, scanerrors.Wrap(err, op)
	}

	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = a.Name()
		scoped := opts.ForAdapter(names[i])
		if !scoped.Has(core.OptTimeout) {
			continue
		}
		if t := o.adapterTimeout(a, scoped); t+o.cfg.AdapterGrace >= o.cfg.ScanTimeout {
			slot.Release()
			err := scanerrors.E(scanerrors.KindInvalidInput, op,
				fmt.Sprintf("%s timeout %s does not fit in the scan timeout %s", names[i], t, o.cfg.ScanTimeout))
			o.reject(req, err)
			return nil, err
		}
	}

	scan := &core.Scan{
		ID:        o.newID(),
		AccountID: req.AccountID,
		Tier:      req.Tier,
		TargetURL: req.TargetURL,
		ScanType:  req.ScanType,
		Adapters:  names,
		Options:   opts,
		Status:    core.ScanPending,
		Priority:  req.Priority,
		RetryOf:   req.retryOf,
		CreatedAt: o.now().UTC(),
	}
	if err := o.repo.CreateScan(ctx, scan); err != nil {
		slot.Release()
		return nil, scanerrors.Wrap(err, op)
	}
	o.audit.Log(audit.Event{
		Type:      audit.EventScanRequested,
		ScanID:    scan.ID,
		AccountID: scan.AccountID,
		Message:   fmt.Sprintf("%s scan of %s requested", scan.ScanType, scan.TargetURL),
		Details:   map[string]any{"adapters": names, "priority": int(scan.Priority)},
	})

	for _, name := range skipped {
		o.log(ctx, scan.ID, core.LogWarning, "Unknown adapter skipped: %s", name)
	}

	// The run is registered before the scan can be seen running, so a
	// CancelScan from here on always reaches it.
	handle := newHandle(scan.ID, len(adapters))
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{cancel: cancel, slot: slot, handle: handle}
	o.mu.Lock()
	o.runs[scan.ID] = r
	o.mu.Unlock()

	abort := func() {
		o.forget(scan.ID)
		cancel()
		slot.Release()
		close(handle.done)
	}

	scan, err = o.transition(ctx, scan.ID, core.ScanRunning, "")
	if err != nil {
		abort()
		if scanerrors.GetKind(err) == scanerrors.KindConflict {
			// Cancelled while pending.
			return handle, nil
		}
		return nil, scanerrors.Wrap(err, op)
	}
	o.log(ctx, scan.ID, core.LogInfo, "Starting %s scan of %s with %d adapters: %s",
		scan.ScanType, scan.TargetURL, len(names), strings.Join(names, ", "))

	if !core.ValidateTargetURL(scan.TargetURL) {
		defer abort()
		msg := fmt.Sprintf("invalid target URL: %q", scan.TargetURL)
		if _, err := o.transition(ctx, scan.ID, core.ScanFailed, msg); err != nil {
			if scanerrors.GetKind(err) == scanerrors.KindConflict {
				return handle, nil
			}
			return nil, scanerrors.Wrap(err, op)
		}
		o.log(ctx, scan.ID, core.LogError, "Scan failed: %s", msg)
		o.metrics.CounterInc(metrics.ScansTotal.Name, "scan_type", string(scan.ScanType), "status", string(core.ScanFailed))
		o.audit.Log(audit.Event{
			Type:      audit.EventScanFailed,
			Severity:  audit.SeverityError,
			ScanID:    scan.ID,
			AccountID: scan.AccountID,
			Message:   "scan failed before launch",
			Error:     msg,
		})
		return handle, nil
	}

	o.audit.Log(audit.Event{
		Type:      audit.EventScanStarted,
		ScanID:    scan.ID,
		AccountID: scan.AccountID,
		Message:   fmt.Sprintf("running %d adapters", len(adapters)),
	})

	o.wg.Add(1)
	go o.execute(runCtx, r, scan, adapters, opts)

	return handle, nil
}

func (o *Orchestrator) reject(req Request, err error) {
	reason := scanerrors.GetKind(err).String()
	o.metrics.CounterInc(metrics.ScanRejections.Name, "reason", reason)
	o.audit.Log(audit.Event{
		Type:      audit.EventScanRejected,
		Severity:  audit.SeverityWarning,
		AccountID: req.AccountID,
		Message:   fmt.Sprintf("%s scan of %s rejected", req.ScanType, req.TargetURL),
		Error:     err.Error(),
	})
	o.logger.Info("scan request for %s rejected: %v", req.AccountID, err)
}

// =============================================================================
// Cancel, retry, delete
// =============================================================================

// CancelScan moves a pending or running scan to cancelled and stops its
// adapters. Adapters that ignore cancellation are abandoned after the grace
// period; their results are still recorded but the status stays cancelled.
func (o *Orchestrator) CancelScan(ctx context.Context, id string) error {
	const op = "orchestrator.CancelScan"

	scan, err := o.transition(ctx, id, core.ScanCancelled, "")
	if err != nil {
		return scanerrors.Wrap(err, op)
	}
	o.log(ctx, id, core.LogWarning, "Scan cancelled")

	o.mu.Lock()
	r := o.runs[id]
	o.mu.Unlock()
	if r != nil {
		r.cancel()
		r.slot.Release()
	}

	o.metrics.CounterInc(metrics.ScansTotal.Name, "scan_type", string(scan.ScanType), "status", string(core.ScanCancelled))
	o.audit.Log(audit.Event{
		Type:      audit.EventScanCancelled,
		Severity:  audit.SeverityWarning,
		ScanID:    id,
		AccountID: scan.AccountID,
		Message:   "scan cancelled",
	})
	return nil
}

// RetryScan starts a new scan with the target, type, adapters, options and
// priority of a failed scan. The new scan goes through admission like any
// other request.
func (o *Orchestrator) RetryScan(ctx context.Context, id string) (*Handle, error) {
	const op = "orchestrator.RetryScan"

	old, err := o.repo.GetScan(ctx, id)
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}
	if old.Status != core.ScanFailed {
		return nil, scanerrors.E(scanerrors.KindConflict, op,
			fmt.Sprintf("scan %s is %s, only failed scans can be retried", id, old.Status))
	}

	h, err := o.StartScan(ctx, Request{
		AccountID: old.AccountID,
		Tier:      old.Tier,
		TargetURL: old.TargetURL,
		ScanType:  old.ScanType,
		Adapters:  old.Adapters,
		Options:   old.Options,
		Priority:  old.Priority,
		retryOf:   old.ID,
	})
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}

	o.log(ctx, id, core.LogInfo, "Scan retried as %s", h.ScanID)
	o.audit.Log(audit.Event{
		Type:      audit.EventScanRetried,
		ScanID:    h.ScanID,
		AccountID: old.AccountID,
		Message:   "retry of " + old.ID,
	})
	return h, nil
}

// DeleteScan removes a terminal scan and everything recorded for it.
func (o *Orchestrator) DeleteScan(ctx context.Context, id string) error {
	const op = "orchestrator.DeleteScan"

	scan, err := o.repo.GetScan(ctx, id)
	if err != nil {
		return scanerrors.Wrap(err, op)
	}
	if scan.Status.IsActive() {
		return scanerrors.E(scanerrors.KindConflict, op,
			fmt.Sprintf("scan %s is %s, cancel it before deleting", id, scan.Status))
	}
	if err := o.repo.DeleteScan(ctx, id); err != nil {
		return scanerrors.Wrap(err, op)
	}
	o.audit.Log(audit.Event{
		Type:      audit.EventScanDeleted,
		ScanID:    id,
		AccountID: scan.AccountID,
		Message:   "scan deleted",
	})
	return nil
}

// =============================================================================
// Shutdown
// =============================================================================

// Running returns the IDs of scans executing in this process.
func (o *Orchestrator) Running() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every running scan and waits for their executions to
// finish or for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, id := range o.Running() {
		if err := o.CancelScan(ctx, id); err != nil && scanerrors.GetKind(err) != scanerrors.KindConflict {
			o.logger.Warn("cancel %s on shutdown: %v", id, err)
		}
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	delete(o.runs, id)
	o.mu.Unlock()
}

// log appends a user-visible line to a scan's log. Failures are reported
// to the operational logger only.
func (o *Orchestrator) log(ctx context.Context, scanID string, level core.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if err := o.repo.AppendScanLog(ctx, scanID, msg, level); err != nil {
		o.logger.Warn("append log to scan %s: %v", scanID, err)
	}
}

func scanAttrs(scan *core.Scan) trace.SpanStartEventOption {
	return trace.WithAttributes(
		attribute.String("scan.id", scan.ID),
		attribute.String("scan.type", string(scan.ScanType)),
		attribute.String("scan.target", scan.TargetURL),
		attribute.Int("scan.adapters", len(scan.Adapters)),
	)
}
