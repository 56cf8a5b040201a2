package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/orchestrator"
	"github.com/exploopio/scanorch/pkg/scanners"
	"github.com/exploopio/scanorch/pkg/shared/severity"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, r *orchestrator.Report) {
	s := r.Summary

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scan %s %s", r.Scan.ID, r.Scan.Status)
	if s.DurationSeconds > 0 {
		fmt.Fprintf(w, " in %.1fs", s.DurationSeconds)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Target:   %s (%s)\n", r.Scan.TargetURL, r.Scan.ScanType)
	if r.Scan.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error:    %s\n", r.Scan.ErrorMessage)
	}
	fmt.Fprintf(w, "  Adapters: %d/%d succeeded\n", s.AdaptersSucceeded, s.AdaptersTotal)

	if len(r.Adapters) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, ar := range r.Adapters {
			detail := ""
			if ar.Summary != nil {
				detail = fmt.Sprintf("%d findings", ar.Summary.TotalVulnerabilities)
			}
			if ar.ErrorMessage != "" {
				detail = ar.ErrorMessage
			}
			fmt.Fprintf(tw, "    %s\t%s\t%s\n", ar.Adapter, ar.Status, detail)
		}
		tw.Flush()
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Findings: %d (%s)  risk score %d\n", s.TotalVulnerabilities, formatCounts(s.Severity), s.RiskScore)
	for _, v := range r.Vulnerabilities {
		line := fmt.Sprintf("  [%s] %s (%s)", strings.ToUpper(string(v.Severity)), v.Title, v.ScannerName)
		if v.Location != "" {
			line += " at " + v.Location
		}
		fmt.Fprintln(w, line)
	}
}

func formatCounts(c severity.Counts) string {
	return fmt.Sprintf("critical %d, high %d, medium %d, low %d", c.Critical, c.High, c.Medium, c.Low)
}

func printStats(w io.Writer, s *orchestrator.AccountStats) {
	fmt.Fprintf(w, "Account %s\n", s.AccountID)
	fmt.Fprintf(w, "  Scans:    %d total", s.TotalScans)
	for _, st := range []core.ScanStatus{core.ScanPending, core.ScanRunning, core.ScanCompleted, core.ScanFailed, core.ScanCancelled} {
		if n := s.ByStatus[st]; n > 0 {
			fmt.Fprintf(w, ", %d %s", n, st)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Findings: %d (%s)\n", s.TotalVulnerabilities, formatCounts(s.Severity))

	if u := s.Usage; u != nil {
		limit := "unlimited"
		if u.Limit > 0 {
			limit = fmt.Sprintf("%d, %d remaining", u.Limit, u.Remaining)
		}
		fmt.Fprintf(w, "  Quota:    %d used this month of %s (%s tier)\n", u.Used, limit, u.Tier)
		fmt.Fprintf(w, "  Active:   %d\n", u.Active)
	}
}

func printAdapters(w io.Writer, statuses []scanners.Status) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tAVAILABLE\tVERSION")
	for _, st := range statuses {
		available := "yes"
		if !st.Installed {
			available = "no"
		}
		version := st.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Name, st.Kind, available, version)
	}
	tw.Flush()
}
