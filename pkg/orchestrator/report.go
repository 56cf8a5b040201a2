package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/exploopio/scanorch/pkg/core"
	scanerrors "github.com/exploopio/scanorch/pkg/errors"
	"github.com/exploopio/scanorch/pkg/quota"
	"github.com/exploopio/scanorch/pkg/shared/severity"
	"github.com/exploopio/scanorch/pkg/store"
)

// ScanSummary condenses a scan for listings and dashboards.
type ScanSummary struct {
	ScanID               string          `json:"scan_id"`
	TargetURL            string          `json:"target_url"`
	ScanType             core.ScanType   `json:"scan_type"`
	Status               core.ScanStatus `json:"status"`
	TotalVulnerabilities int             `json:"total_vulnerabilities"`
	Severity             severity.Counts `json:"severity_counts"`
	RiskScore            int             `json:"risk_score"`
	DurationSeconds      float64         `json:"duration_seconds"`
	AdaptersTotal        int             `json:"adapters_total"`
	AdaptersSucceeded    int             `json:"adapters_succeeded"`
	CreatedAt            time.Time       `json:"created_at"`
	StartedAt            *time.Time      `json:"started_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// Report is the full result of a finished scan.
type Report struct {
	Scan            *core.Scan             `json:"scan"`
	Summary         *ScanSummary           `json:"summary"`
	Vulnerabilities []core.Vulnerability   `json:"vulnerabilities"`
	Adapters        []*store.AdapterResult `json:"adapters"`
	Logs            []core.ScanLogEntry    `json:"logs"`
}

// ScanSummary returns the summary of any scan, finished or not.
func (o *Orchestrator) ScanSummary(ctx context.Context, id string) (*ScanSummary, error) {
	const op = "orchestrator.ScanSummary"

	scan, err := o.repo.GetScan(ctx, id)
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}
	vulns, err := o.repo.Vulnerabilities(ctx, id)
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}
	results, err := o.repo.AdapterResults(ctx, id)
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}
	return summarizeScan(scan, vulns, results), nil
}

// Report returns the findings, adapter results and logs of a terminal
// scan, findings ordered most severe first.
func (o *Orchestrator) Report(ctx context.Context, id string) (*Report, error) {
	const op = "orchestrator.Report"

	scan, err := o.repo.GetScan(ctx, id)
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}
	if !scan.Status.IsTerminal() {
		return nil, scanerrors.E(scanerrors.KindConflict, op,
			fmt.Sprintf("scan %s is still %s", id, scan.Status))
	}

	vulns, err := o.repo.Vulnerabilities(ctx, id)
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}
	core.SortVulnerabilities(vulns)

	results, err := o.repo.AdapterResults(ctx, id)
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}
	logs, err := o.repo.Logs(ctx, id)
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}

	return &Report{
		Scan:            scan,
		Summary:         summarizeScan(scan, vulns, results),
		Vulnerabilities: vulns,
		Adapters:        results,
		Logs:            logs,
	}, nil
}

func summarizeScan(scan *core.Scan, vulns []core.Vulnerability, results []*store.AdapterResult) *ScanSummary {
	s := &ScanSummary{
		ScanID:               scan.ID,
		TargetURL:            scan.TargetURL,
		ScanType:             scan.ScanType,
		Status:               scan.Status,
		TotalVulnerabilities: len(vulns),
		DurationSeconds:      scan.Duration().Seconds(),
		AdaptersTotal:        len(scan.Adapters),
		CreatedAt:            scan.CreatedAt,
		StartedAt:            scan.StartedAt,
		CompletedAt:          scan.CompletedAt,
	}
	for _, v := range vulns {
		s.Severity.Increment(v.Severity)
	}
	s.RiskScore = s.Severity.RiskScore()
	for _, r := range results {
		if r.Status == core.StatusCompleted {
			s.AdaptersSucceeded++
		}
	}
	return s
}

// AccountStats aggregates an account's scans.
type AccountStats struct {
	AccountID            string                  `json:"account_id"`
	TotalScans           int                     `json:"total_scans"`
	ByStatus             map[core.ScanStatus]int `json:"by_status"`
	TotalVulnerabilities int                     `json:"total_vulnerabilities"`
	Severity             severity.Counts         `json:"severity_counts"`
	Usage                *quota.Usage            `json:"usage"`
}

// AccountStats reports totals over every scan of an account together with
// the current month's quota usage.
func (o *Orchestrator) AccountStats(ctx context.Context, accountID string, tier core.Tier) (*AccountStats, error) {
	const op = "orchestrator.AccountStats"

	scans, err := o.repo.ListScans(ctx, store.ListFilter{AccountID: accountID})
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}

	stats := &AccountStats{
		AccountID:  accountID,
		TotalScans: len(scans),
		ByStatus:   make(map[core.ScanStatus]int),
	}
	for _, scan := range scans {
		stats.ByStatus[scan.Status]++
		vulns, err := o.repo.Vulnerabilities(ctx, scan.ID)
		if err != nil {
			return nil, scanerrors.Wrap(err, op)
		}
		stats.TotalVulnerabilities += len(vulns)
		for _, v := range vulns {
			stats.Severity.Increment(v.Severity)
		}
	}

	guard := o.guard
	if guard == nil {
		guard = quota.NewGuard(o.repo, quota.Limits{})
	}
	stats.Usage, err = guard.Usage(ctx, accountID, tier)
	if err != nil {
		return nil, scanerrors.Wrap(err, op)
	}
	return stats, nil
}
