package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/exploopio/scanorch/pkg/core"
	"github.com/exploopio/scanorch/pkg/orchestrator"
)

type scanFlags struct {
	target   string
	scanType string
	adapters []string
	account  string
	tier     string
	timeout  int
	json     bool
}

func newScanCmd(g *globalFlags) *cobra.Command {
	f := &scanFlags{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan to completion and print the report",
		Example: `  scanorch scan --target https://example.com
  scanorch scan --target https://example.com --type full --json
  scanorch scan --target https://example.com --type custom --adapters nmap,nuclei`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), g, f)
		},
	}

	cmd.Flags().StringVarP(&f.target, "target", "t", "", "Target URL (http or https)")
	cmd.Flags().StringVar(&f.scanType, "type", string(core.ScanTypeStandard), "Scan type: quick, standard, full, custom")
	cmd.Flags().StringSliceVar(&f.adapters, "adapters", nil, "Adapters for a custom scan")
	cmd.Flags().StringVar(&f.account, "account", "local", "Account the scan is charged to")
	cmd.Flags().StringVar(&f.tier, "tier", string(core.TierStandard), "Quota tier: standard or elevated")
	cmd.Flags().IntVar(&f.timeout, "timeout", 0, "Per-adapter timeout in seconds (0 = config default)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

func runScan(ctx context.Context, g *globalFlags, f *scanFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.close()

	opts := a.cfg.ScanOptions()
	if f.timeout > 0 {
		opts = opts.With(core.OptTimeout, f.timeout)
	}

	h, err := a.orch.StartScan(ctx, orchestrator.Request{
		AccountID: f.account,
		Tier:      core.ParseTier(f.tier),
		TargetURL: f.target,
		ScanType:  core.ParseScanType(f.scanType),
		Adapters:  f.adapters,
		Options:   opts,
	})
	if err != nil {
		return err
	}
	if !f.json {
		fmt.Printf("Scan %s started against %s\n", h.ScanID, f.target)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-h.Done():
			break wait
		case <-ticker.C:
			if !f.json {
				fmt.Printf("  progress: %d%%\n", h.Progress())
			}
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nCancelling scan...")
			if err := a.orch.CancelScan(context.Background(), h.ScanID); err != nil {
				a.logger.Warn("cancel %s: %v", h.ScanID, err)
			}
			<-h.Done()
			break wait
		}
	}

	report, err := a.orch.Report(context.Background(), h.ScanID)
	if err != nil {
		return err
	}
	if f.json {
		if err := writeJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		printReport(os.Stdout, report)
	}

	if report.Scan.Status == core.ScanFailed {
		return fmt.Errorf("scan failed: %s", report.Scan.ErrorMessage)
	}
	return nil
}

func newReportCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report SCAN_ID",
		Short: "Print the report of a finished scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.orch.Report(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, report)
			}
			printReport(os.Stdout, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	var (
		account string
		tier    string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show an account's scan totals and monthly quota usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.orch.AccountStats(cmd.Context(), account, core.ParseTier(tier))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(os.Stdout, stats)
			}
			printStats(os.Stdout, stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "local", "Account ID")
	cmd.Flags().StringVar(&tier, "tier", string(core.TierStandard), "Quota tier: standard or elevated")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newAdaptersCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "adapters",
		Short: "List adapters and check tool availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			registry := scannersFromConfig(cfg)
			statuses := registry.CheckAll(cmd.Context())
			if asJSON {
				return writeJSON(os.Stdout, statuses)
			}
			printAdapters(os.Stdout, statuses)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
