// Package quota enforces per-account monthly scan limits and concurrent scan
// ceilings before the orchestrator creates a scan record.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
)

// Limit is the allowance of one tier.
type Limit struct {
	// Monthly is the number of scans an account may create per UTC month.
	// Zero or less disables the monthly check.
	Monthly int `yaml:"monthly" json:"monthly"`

	// Concurrent is the number of scans an account may run at once.
	// Zero or less disables the concurrency check.
	Concurrent int `yaml:"concurrent" json:"concurrent"`
}

// Limits holds the allowance per tier.
type Limits struct {
	Standard Limit `yaml:"standard" json:"standard"`
	Elevated Limit `yaml:"elevated" json:"elevated"`
}

// DefaultLimits returns the built-in allowances.
func DefaultLimits() Limits {
	return Limits{
		Standard: Limit{Monthly: 10, Concurrent: 2},
		Elevated: Limit{Monthly: 100, Concurrent: 5},
	}
}

// For returns the limit of a tier.
func (l Limits) For(t core.Tier) Limit {
	if t == core.TierElevated {
		return l.Elevated
	}
	return l.Standard
}

// ScanCounter counts the scans an account created since a point in time.
type ScanCounter interface {
	CountScansSince(ctx context.Context, accountID string, since time.Time) (int, error)
}

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Guard admits scans against the tier limits.
//
// The monthly count is read from the ScanCounter, so a scan counts once its
// record exists. Two concurrent Admit calls for the same account can both
// pass the monthly check before either record is written; the concurrency
// ceiling bounds that window.
type Guard struct {
	counter ScanCounter
	limits  Limits

	mu     sync.Mutex
	active map[string]int

	now func() time.Time
}

// NewGuard creates a guard reading monthly counts from counter.
func NewGuard(counter ScanCounter, limits Limits) *Guard {
	return &Guard{
		counter: counter,
		limits:  limits,
		active:  make(map[string]int),
		now:     time.Now,
	}
}

// Limits returns the configured limits.
func (g *Guard) Limits() Limits {
	return g.limits
}

// Admit checks the monthly quota and takes a concurrent slot for the
// account. The returned Slot must be released when the scan reaches a
// terminal state.
func (g *Guard) Admit(ctx context.Context, accountID string, tier core.Tier) (*Slot, error) {
	const op = "quota.Admit"
	limit := g.limits.For(tier)

	if limit.Monthly > 0 {
		used, err := g.counter.CountScansSince(ctx, accountID, MonthStart(g.now()))
		if err != nil {
			return nil, scanerrors.Wrap(err, op)
		}
		if used >= limit.Monthly {
			return nil, scanerrors.E(scanerrors.KindQuotaExceeded, op,
				fmt.Sprintf("monthly scan limit reached (%d/%d)", used, limit.Monthly))
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if limit.Concurrent > 0 && g.active[accountID] >= limit.Concurrent {
		return nil, scanerrors.E(scanerrors.KindConcurrencyLimit, op,
			fmt.Sprintf("concurrent scan limit reached (%d/%d)", g.active[accountID], limit.Concurrent))
	}
	g.active[accountID]++
	return &Slot{guard: g, accountID: accountID}, nil
}

// Active returns the number of slots held by an account.
func (g *Guard) Active(accountID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[accountID]
}

func (g *Guard) release(accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[accountID] <= 1 {
		delete(g.active, accountID)
		return
	}
	g.active[accountID]--
}

// Usage is an account's position against its tier limits.
type Usage struct {
	Tier        core.Tier `json:"tier"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	Active      int       `json:"active"`
	Concurrent  int       `json:"concurrent_limit"`
	PeriodStart time.Time `json:"period_start"`
}

// Usage reports how much of the monthly allowance an account has used.
func (g *Guard) Usage(ctx context.Context, accountID string, tier core.Tier) (*Usage, error) {
	limit := g.limits.For(tier)
	start := MonthStart(g.now())

	used, err := g.counter.CountScansSince(ctx, accountID, start)
	if err != nil {
		return nil, scanerrors.Wrap(err, "quota.Usage")
	}

	u := &Usage{
		Tier:        tier,
		Used:        used,
		Limit:       limit.Monthly,
		Active:      g.Active(accountID),
		Concurrent:  limit.Concurrent,
		PeriodStart: start,
	}
	if limit.Monthly > 0 {
		u.Remaining = max(limit.Monthly-used, 0)
	}
	return u, nil
}

// Slot is one admitted scan's hold on the account's concurrency allowance.
type Slot struct {
	guard     *Guard
	accountID string
	once      sync.Once
}

// Release gives the slot back. Calling it more than once has no effect.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() { s.guard.release(s.accountID) })
}
