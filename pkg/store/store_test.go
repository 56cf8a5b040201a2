package store

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Repository{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func newScan(id, account string, created time.Time) *core.Scan {
	return &core.Scan{
		ID:        id,
		AccountID: account,
		Tier:      core.TierStandard,
		TargetURL: "https://example.com",
		ScanType:  core.ScanTypeCustom,
		Adapters:  []string{"nmap", "xss"},
		Options:   core.Options{"port": 8443},
		Status:    core.ScanPending,
		Priority:  core.PriorityNormal,
		CreatedAt: created,
	}
}

func TestRepository_ScanLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			created := time.Now().Add(-time.Minute)
			require.NoError(t, repo.CreateScan(ctx, newScan("s1", "acct", created)))

			err := repo.CreateScan(ctx, newScan("s1", "acct", created))
			assert.Equal(t, scanerrors.KindConflict, scanerrors.GetKind(err))

			got, err := repo.GetScan(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, core.ScanPending, got.Status)
			assert.Equal(t, []string{"nmap", "xss"}, got.Adapters)
			assert.Equal(t, 8443, got.Options.Int("port", 0))
			assert.WithinDuration(t, created, got.CreatedAt, time.Millisecond)
			assert.Nil(t, got.StartedAt)

			require.NoError(t, repo.SetScanStatus(ctx, "s1", core.ScanRunning, ""))
			got, err = repo.GetScan(ctx, "s1")
			require.NoError(t, err)
			require.NotNil(t, got.StartedAt)
			assert.Nil(t, got.CompletedAt)

			_, err = repo.TransitionScan(ctx, "s1", []core.ScanStatus{core.ScanPending}, core.ScanRunning, "")
			assert.Equal(t, scanerrors.KindConflict, scanerrors.GetKind(err))

			got, err = repo.TransitionScan(ctx, "s1", []core.ScanStatus{core.ScanRunning}, core.ScanFailed, "boom")
			require.NoError(t, err)
			assert.Equal(t, core.ScanFailed, got.Status)
			assert.Equal(t, "boom", got.ErrorMessage)
			require.NotNil(t, got.CompletedAt)

			_, err = repo.GetScan(ctx, "missing")
			assert.True(t, scanerrors.IsNotFound(err))
			assert.ErrorIs(t, err, scanerrors.ErrScanNotFound)
		})
	}
}

func TestRepository_FindingsLogsAndResults(t *testing.T) {
	ctx := context.Background()
	score := 9.8
	raw := []byte(strings.Repeat("PORT     STATE SERVICE\n22/tcp   open  ssh\n", 50))

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.CreateScan(ctx, newScan("s1", "acct", time.Now())))

			vulns := []core.Vulnerability{
				{Title: "Open Port: 22/tcp - SSH", Severity: severity.Low, ScannerName: "nmap", Location: "example.com:22/tcp"},
				{Title: "CVE-2021-44228", Severity: severity.Critical, CVEID: "CVE-2021-44228", CVSSScore: &score, ScannerName: "nuclei", Location: "https://example.com/api"},
			}
			for _, v := range vulns {
				require.NoError(t, repo.PersistVulnerability(ctx, "s1", v))
			}
			err := repo.PersistVulnerability(ctx, "missing", vulns[0])
			assert.True(t, scanerrors.IsNotFound(err))

			got, err := repo.Vulnerabilities(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "Open Port: 22/tcp - SSH", got[0].Title)
			require.NotNil(t, got[1].CVSSScore)
			assert.InDelta(t, 9.8, *got[1].CVSSScore, 0.0001)
			assert.Equal(t, severity.Critical, got[1].Severity)

			require.NoError(t, repo.AppendScanLog(ctx, "s1", "Starting scan", core.LogInfo))
			require.NoError(t, repo.AppendScanLog(ctx, "s1", "nikto failed", core.LogError))
			assert.True(t, scanerrors.IsNotFound(repo.AppendScanLog(ctx, "missing", "x", core.LogInfo)))

			logs, err := repo.Logs(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, logs, 2)
			assert.Equal(t, "Starting scan", logs[0].Message)
			assert.Equal(t, core.LogError, logs[1].Level)
			assert.Equal(t, "s1", logs[1].ScanID)

			res := core.NewScanResult("nmap", "https://example.com")
			res.RawOutput = raw
			res.Infof("done")
			res.Complete()
			summary := core.BaseSummary(res)
			summary.Facets["open_ports"] = 1
			require.NoError(t, repo.SaveAdapterResult(ctx, NewAdapterResult("s1", res, summary)))

			results, err := repo.AdapterResults(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "nmap", results[0].Adapter)
			assert.Equal(t, core.StatusCompleted, results[0].Status)
			assert.True(t, bytes.Equal(raw, results[0].RawOutput))
			require.NotNil(t, results[0].Summary)
			assert.Len(t, results[0].ScanLog, 1)

			require.NoError(t, repo.DeleteScan(ctx, "s1"))
			got, err = repo.Vulnerabilities(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, got)
			logs, err = repo.Logs(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, logs)
			assert.True(t, scanerrors.IsNotFound(repo.DeleteScan(ctx, "s1")))
		})
	}
}

func TestRepository_ListAndCount(t *testing.T) {
	ctx := context.Background()
	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.CreateScan(ctx, newScan("old", "acct", monthStart.Add(-time.Hour))))
			require.NoError(t, repo.CreateScan(ctx, newScan("a", "acct", monthStart)))
			require.NoError(t, repo.CreateScan(ctx, newScan("b", "acct", monthStart.Add(48*time.Hour))))
			require.NoError(t, repo.CreateScan(ctx, newScan("other", "someone", monthStart.Add(time.Hour))))
			require.NoError(t, repo.SetScanStatus(ctx, "b", core.ScanRunning, ""))

			n, err := repo.CountScansSince(ctx, "acct", monthStart)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			scans, err := repo.ListScans(ctx, ListFilter{AccountID: "acct"})
			require.NoError(t, err)
			require.Len(t, scans, 3)
			assert.Equal(t, "b", scans[0].ID, "newest first")

			scans, err = repo.ListScans(ctx, ListFilter{Statuses: []core.ScanStatus{core.ScanRunning}})
			require.NoError(t, err)
			require.Len(t, scans, 1)
			assert.Equal(t, "b", scans[0].ID)

			scans, err = repo.ListScans(ctx, ListFilter{CreatedBefore: monthStart})
			require.NoError(t, err)
			require.Len(t, scans, 1)
			assert.Equal(t, "old", scans[0].ID)

			scans, err = repo.ListScans(ctx, ListFilter{StartedBefore: time.Now().Add(time.Minute)})
			require.NoError(t, err)
			require.Len(t, scans, 1)

			scans, err = repo.ListScans(ctx, ListFilter{Limit: 2})
			require.NoError(t, err)
			assert.Len(t, scans, 2)
		})
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateScan(ctx, newScan("s1", "acct", time.Now())))

	got, err := m.GetScan(ctx, "s1")
	require.NoError(t, err)
	got.Status = core.ScanCompleted
	got.Adapters[0] = "changed"

	again, err := m.GetScan(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.ScanPending, again.Status)
	assert.Equal(t, "nmap", again.Adapters[0])
}

func TestOpenSQLite_InMemory(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateScan(context.Background(), newScan("s1", "acct", time.Now())))
}

func TestSQLite_TransitionScanAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scans.db")

	worker, err := OpenSQLite(path)
	require.NoError(t, err)
	defer worker.Close()
	sweeper, err := OpenSQLite(path)
	require.NoError(t, err)
	defer sweeper.Close()

	require.NoError(t, worker.CreateScan(ctx, newScan("s1", "acct", time.Now())))
	_, err = worker.TransitionScan(ctx, "s1", []core.ScanStatus{core.ScanPending}, core.ScanRunning, "")
	require.NoError(t, err)

	// The other handle fails the scan after worker has read it as running
	// but before worker writes.
	worker.now = func() time.Time {
		_, err := sweeper.TransitionScan(ctx, "s1", []core.ScanStatus{core.ScanRunning}, core.ScanFailed, "scan timed out")
		require.NoError(t, err)
		return time.Now()
	}

	_, err = worker.TransitionScan(ctx, "s1", []core.ScanStatus{core.ScanRunning}, core.ScanCompleted, "")
	assert.Equal(t, scanerrors.KindConflict, scanerrors.GetKind(err))

	got, err := sweeper.GetScan(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.ScanFailed, got.Status)
	assert.Equal(t, "scan timed out", got.ErrorMessage)
}
