package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
)

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int
	since  time.Time
	err    error
}

func (f *fakeCounter) CountScansSince(_ context.Context, accountID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[accountID], nil
}

func newGuard(counts map[string]int) (*Guard, *fakeCounter) {
	c := &fakeCounter{counts: counts}
	g := NewGuard(c, DefaultLimits())
	g.now = func() time.Time { return time.Date(2026, 3, 17, 22, 30, 0, 0, time.FixedZone("X", -5*3600)) }
	return g, c
}

func TestAdmit_MonthlyBoundary(t *testing.T) {
	tests := []struct {
		name    string
		tier    core.Tier
		used    int
		wantErr scanerrors.Kind
	}{
		{name: "standard at nine", tier: core.TierStandard, used: 9},
		{name: "standard at ten", tier: core.TierStandard, used: 10, wantErr: scanerrors.KindQuotaExceeded},
		{name: "elevated at ten", tier: core.TierElevated, used: 10},
		{name: "elevated at hundred", tier: core.TierElevated, used: 100, wantErr: scanerrors.KindQuotaExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newGuard(map[string]int{"acct": tt.used})
			slot, err := g.Admit(context.Background(), "acct", tt.tier)
			if tt.wantErr != scanerrors.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, scanerrors.GetKind(err))
				assert.True(t, scanerrors.IsRecoverable(err))
				assert.Nil(t, slot)
				assert.Zero(t, g.Active("acct"))
				return
			}
			require.NoError(t, err)
			require.NotNil(t, slot)
			assert.Equal(t, 1, g.Active("acct"))
		})
	}
}

func TestAdmit_CountsFromUTCMonthStart(t *testing.T) {
	g, c := newGuard(nil)
	_, err := g.Admit(context.Background(), "acct", core.TierStandard)
	require.NoError(t, err)
	// 22:30 at UTC-5 on the 17th is already the 18th in UTC; still March.
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), c.since)
}

func TestAdmit_ConcurrencyCeiling(t *testing.T) {
	g, _ := newGuard(nil)
	ctx := context.Background()

	s1, err := g.Admit(ctx, "acct", core.TierStandard)
	require.NoError(t, err)
	_, err = g.Admit(ctx, "acct", core.TierStandard)
	require.NoError(t, err)

	_, err = g.Admit(ctx, "acct", core.TierStandard)
	require.Error(t, err)
	assert.Equal(t, scanerrors.KindConcurrencyLimit, scanerrors.GetKind(err))
	assert.True(t, scanerrors.IsRecoverable(err))

	// Other accounts are independent.
	_, err = g.Admit(ctx, "other", core.TierStandard)
	require.NoError(t, err)

	s1.Release()
	s1.Release()
	assert.Equal(t, 1, g.Active("acct"))

	_, err = g.Admit(ctx, "acct", core.TierStandard)
	require.NoError(t, err)
}

func TestAdmit_CounterError(t *testing.T) {
	g, c := newGuard(nil)
	c.err = errors.New("db down")

	_, err := g.Admit(context.Background(), "acct", core.TierStandard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.False(t, scanerrors.IsQuotaError(err))
	assert.Zero(t, g.Active("acct"))
}

func TestAdmit_Parallel(t *testing.T) {
	g, _ := newGuard(nil)
	limit := DefaultLimits().Elevated.Concurrent

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Admit(context.Background(), "acct", core.TierElevated); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, limit, admitted)
}

func TestUsage(t *testing.T) {
	g, _ := newGuard(map[string]int{"acct": 7, "heavy": 12})
	ctx := context.Background()

	_, err := g.Admit(ctx, "acct", core.TierStandard)
	require.NoError(t, err)

	u, err := g.Usage(ctx, "acct", core.TierStandard)
	require.NoError(t, err)
	assert.Equal(t, 7, u.Used)
	assert.Equal(t, 10, u.Limit)
	assert.Equal(t, 3, u.Remaining)
	assert.Equal(t, 1, u.Active)
	assert.Equal(t, 2, u.Concurrent)

	u, err = g.Usage(ctx, "heavy", core.TierStandard)
	require.NoError(t, err)
	assert.Zero(t, u.Remaining)
}

func TestSlot_ReleaseNil(t *testing.T) {
	var s *Slot
	assert.NotPanics(t, s.Release)
}
