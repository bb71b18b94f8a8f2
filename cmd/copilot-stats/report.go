package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/alecgard/copilot-stats/internal/config"
	"github.com/alecgard/copilot-stats/internal/metering"
	"github.com/alecgard/copilot-stats/internal/pricing"
	"github.com/alecgard/copilot-stats/internal/replay"
)

var (
	colorAccent  = lipgloss.Color("#3AA99F")
	colorTextDim = lipgloss.Color("#575653")
	colorOrange  = lipgloss.Color("#DA702C")
)

var reportFlags struct {
	instance  string
	logFile   string
	instances bool
	json      bool
}

type reportJSON struct {
	Path    string           `json:"path"`
	Stats   replay.Stats     `json:"stats"`
	Summary metering.Summary `json:"summary"`
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Replay the audit log and print the usage table",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFlags.instance, "instance", "", "only replay lines from this instance id")
	reportCmd.Flags().StringVar(&reportFlags.logFile, "log-file", "", "audit log to read (default: from config)")
	reportCmd.Flags().BoolVar(&reportFlags.instances, "instances", false, "list the instance ids in the log and exit")
	reportCmd.Flags().BoolVar(&reportFlags.json, "json", false, "print rows and totals as JSON")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	path := cfg.LogFile
	if reportFlags.logFile != "" {
		path = reportFlags.logFile
	}
	out := cmd.OutOrStdout()

	if reportFlags.instances {
		ids, err := replay.Instances(path)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	table, err := pricing.New(cfg.Multipliers)
	if err != nil {
		return fmt.Errorf("building multiplier table: %w", err)
	}

	r := &replay.Replayer{InstanceID: reportFlags.instance}
	ledger, stats, err := r.File(path, table)
	if errors.Is(err, fs.ErrNotExist) {
		ledger = metering.NewLedger(table)
	} else if err != nil {
		return err
	}

	if reportFlags.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reportJSON{Path: path, Stats: stats, Summary: ledger.Snapshot()})
	}

	printReport(out, path, reportFlags.instance, ledger.Render(), stats)
	return nil
}

func printReport(w io.Writer, path, instance, table string, stats replay.Stats) {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	dimStyle := lipgloss.NewStyle().Foreground(colorTextDim)
	warnStyle := lipgloss.NewStyle().Foreground(colorOrange)

	title := "Copilot premium requests"
	if instance != "" {
		title += " (instance " + instance + ")"
	}
	fmt.Fprintf(w, "\n  %s\n", titleStyle.Render(title))
	fmt.Fprintf(w, "  %s\n\n", dimStyle.Render(path))
	fmt.Fprintln(w, table)

	summary := fmt.Sprintf("%d calls, %d diagnostics", stats.Calls, stats.Errors)
	if stats.Skipped > 0 {
		summary += fmt.Sprintf(", %d lines from other instances", stats.Skipped)
	}
	fmt.Fprintf(w, "\n  %s\n", dimStyle.Render(summary))
	if stats.Invalid > 0 {
		fmt.Fprintf(w, "  %s\n", warnStyle.Render(fmt.Sprintf("%d unreadable lines skipped", stats.Invalid)))
	}
	fmt.Fprintln(w)
}
