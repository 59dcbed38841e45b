package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/deepprinciple/reactbench/pkg/manifest"
	"github.com/deepprinciple/reactbench/pkg/runledger"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Query past batch runs",
	Long: `Query the run ledger: the SQLite history of batches and per-job
outcomes kept under the scratch root.

Examples:
  reactbench runs list
  reactbench runs list --limit 5
  reactbench runs show 7c0e5c1a-...`,
}

var (
	runsDBPath  string
	runsScratch string
	runsLimit   int
)

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded batches, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show one batch's job outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsCmd.PersistentFlags().StringVar(&runsDBPath, "db", "", "Ledger database path (default <scratch>/runs.db)")
	runsCmd.PersistentFlags().StringVar(&runsScratch, "scratch", manifest.DefaultScratch, "Scratch root holding the ledger")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 10, "Maximum batches to list (0 = all)")
}

func ledgerPath() string {
	if runsDBPath != "" {
		return runsDBPath
	}
	if appConfig != nil && appConfig.Ledger.Path != "" {
		return appConfig.Ledger.Path
	}
	return filepath.Join(runsScratch, "runs.db")
}

func openLedger(cmd *cobra.Command) (*runledger.Store, error) {
	path := ledgerPath()
	if _, err := os.Stat(path); err != nil {
		return nil, exitError(foundry.ExitFileNotFound, "No run ledger found", fmt.Errorf("%s: %w", path, err))
	}
	store, err := runledger.Open(cmd.Context(), path)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to open run ledger", err)
	}
	return store, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	batches, err := store.ListBatches(cmd.Context(), runsLimit)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to list batches", err)
	}
	if len(batches) == 0 {
		fmt.Println("no batches recorded")
		return nil
	}

	fmt.Printf("%-38s %-20s %-16s %-8s %6s %6s %6s\n",
		"BATCH", "GENERATED", "CALC", "DEVICE", "TOTAL", "OK", "FAIL")
	for _, b := range batches {
		fmt.Printf("%-38s %-20s %-16s %-8s %6d %6d %6d\n",
			b.BatchID, b.GeneratedAt.Format(time.RFC3339), b.Calc, b.Device,
			b.Total, b.Converged, b.Failed)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	outcomes, err := store.Outcomes(cmd.Context(), args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load batch", err)
	}

	fmt.Printf("%-24s %-12s %-20s %8s  %s\n", "JOB", "STAGE", "STATUS", "SECONDS", "REASON")
	for _, out := range outcomes {
		fmt.Printf("%-24s %-12s %-20s %8.1f  %s\n",
			out.JobID, out.Stage, out.Status, out.DurationSeconds, out.Reason)
	}
	return nil
}
