package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appconfig "github.com/deepprinciple/reactbench/internal/config"
	"github.com/deepprinciple/reactbench/internal/observability"
	"github.com/deepprinciple/reactbench/pkg/checkpoint"
	"github.com/deepprinciple/reactbench/pkg/gsm"
	"github.com/deepprinciple/reactbench/pkg/manifest"
	"github.com/deepprinciple/reactbench/pkg/reaction"
	"github.com/deepprinciple/reactbench/pkg/report"
	"github.com/deepprinciple/reactbench/pkg/runledger"
	"github.com/deepprinciple/reactbench/pkg/scheduler"
	"github.com/deepprinciple/reactbench/pkg/tsrefine"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a reaction batch from manifest",
	Long: `Run a batch of reaction jobs as defined in a YAML manifest.

Each reaction file under inp_path becomes one job, driven through path
growth and transition-state refinement on a bounded worker pool. The
batch report lands in <scratch>/report.json.

Example:
  reactbench run --job batch.yaml
  reactbench run --job batch.yaml --nprocs 8
  reactbench run --job batch.yaml --dry-run
  reactbench run --job batch.yaml --jsonl > outcomes.jsonl`,
	RunE: runRun,
}

var (
	runJobPath string
	runNProcs  int
	runDryRun  bool
	runPlan    bool
	runJSONL   bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runJobPath, "job", "j", "", "Path to batch manifest (required)")
	runCmd.Flags().IntVar(&runNProcs, "nprocs", 0, "Override worker-pool size")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate manifest and show plan without executing")
	runCmd.Flags().BoolVar(&runPlan, "plan", false, "Alias for --dry-run")
	runCmd.Flags().BoolVar(&runJSONL, "jsonl", false, "Emit JSONL outcome records on stdout instead of the summary table")

	_ = runCmd.MarkFlagRequired("job")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	m, err := manifest.Load(runJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", runJobPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	if runNProcs > 0 {
		m.NProcs = runNProcs
	}
	if m.ReactBenchPath != "" {
		// Stage subprocesses locate models and helper scripts through
		// this binding.
		if err := os.Setenv(appconfig.EnvPrefix+"_PATH", m.ReactBenchPath); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to export installation root", err)
		}
	}

	observability.CLILogger.Debug("Loaded manifest",
		zap.String("path", runJobPath),
		zap.String("calc", m.Calc),
		zap.String("device", m.Device),
		zap.Int("nprocs", m.NProcs))

	jobs, err := reaction.Enumerate(m.InpPath, reaction.EnumerateOptions{
		Charge:       m.Charge,
		Multiplicity: m.Multiplicity,
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return exitError(foundry.ExitFileNotFound, "Input folder not found", err)
		}
		return exitError(foundry.ExitInvalidArgument, "Failed to enumerate reactions", err)
	}

	if runPlan || runDryRun {
		return showRunPlan(os.Stdout, m, jobs)
	}

	return executeBatch(ctx, m, jobs)
}

// showRunPlan displays what would run without touching the scratch
// root, including which jobs would resume from an existing checkpoint.
func showRunPlan(w io.Writer, m *manifest.Manifest, jobs []*reaction.Job) error {
	store := checkpoint.NewStore(m.Scratch)

	fmt.Fprintln(w, "=== Batch Plan (dry-run) ===")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Input:       %s (%d reactions)\n", m.InpPath, len(jobs))
	fmt.Fprintf(w, "Scratch:     %s\n", m.Scratch)
	fmt.Fprintf(w, "Calculator:  %s on %s\n", m.Calc, m.Device)
	fmt.Fprintf(w, "Workers:     %d\n", m.NProcs)
	fmt.Fprintf(w, "Path growth: %d nodes, %d iters, conv_tol %g, wall %ds\n",
		m.GSM.NumNodes, m.GSM.MaxIters, m.GSM.ConvTol, m.GSM.WallTime)
	fmt.Fprintf(w, "Refinement:  select=%s tsopt=%s irc=%s\n",
		m.Refine.Select, m.Refine.TSOptPath, m.Refine.IRCPath)
	fmt.Fprintln(w)
	for _, job := range jobs {
		line := fmt.Sprintf("  %s  (charge %d, multiplicity %d)", job.ID, job.Charge, job.Multiplicity)
		if stages := resumableStages(store, m, job.ID); len(stages) > 0 {
			line += "  [resumes " + strings.Join(stages, ", ") + "]"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// resumableStages lists the stages a job would resume rather than
// start clean, given the manifest's restart flags and the checkpoints
// already on disk.
func resumableStages(store *checkpoint.Store, m *manifest.Manifest, jobID string) []string {
	var stages []string
	if m.GSM.Restart && store.Exists(jobID, checkpoint.StageGrowth) {
		stages = append(stages, checkpoint.StageGrowth)
	}
	if m.Refine.Restart && store.Exists(jobID, checkpoint.StageRefine) {
		stages = append(stages, checkpoint.StageRefine)
	}
	return stages
}

func executeBatch(ctx context.Context, m *manifest.Manifest, jobs []*reaction.Job) error {
	batchID := uuid.NewString()
	store := checkpoint.NewStore(m.Scratch)
	started := time.Now()

	selectMode, err := tsrefine.ParseMode(m.Refine.Select)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid refinement selection mode", err)
	}

	// Validation is done; from here on the scratch root may exist.
	if err := os.MkdirAll(m.Scratch, 0o755); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create scratch root", err)
	}

	wallTime := time.Duration(m.GSM.WallTime) * time.Second
	factory := scheduler.NewRunnerFactory(store, scheduler.FactoryOptions{
		CalcSpec: m.CalculatorSpec(),
		Growth: gsm.Config{
			NumNodes:      m.GSM.NumNodes,
			MaxIters:      m.GSM.MaxIters,
			MaxOptSteps:   m.GSM.MaxOptSteps,
			AddNodeTol:    m.GSM.AddNodeTol,
			ConvTol:       m.GSM.ConvTol,
			DMax:          m.GSM.DMax,
			FixedReactant: m.GSM.FixedR,
			FixedProduct:  m.GSM.FixedP,
			WallTime:      wallTime,
			Restart:       m.GSM.Restart,
		},
		Refine: tsrefine.Config{
			Select:    selectMode,
			Restart:   m.Refine.Restart,
			TSOptPath: m.Refine.TSOptPath,
			IRCPath:   m.Refine.IRCPath,
			WallTime:  wallTime,
		},
		EvalsPerSecond: m.CalcRateLimit,
	})

	observability.CLILogger.Info("Batch starting",
		zap.String("batch_id", batchID),
		zap.Int("jobs", len(jobs)),
		zap.Int("nprocs", m.NProcs))

	pool := scheduler.NewPool(store, m.NProcs, factory).WithLogger(observability.CLILogger)

	// In JSONL mode one writer carries the whole stream: per-job
	// progress from the pool as results land, then the outcome and
	// summary records after the batch drains.
	var stream *report.JSONLWriter
	if runJSONL {
		stream = report.NewJSONLWriter(os.Stdout, batchID)
		defer stream.Close()
		pool.WithProgress(stream)
	}

	if err := pool.Run(ctx, jobs); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Batch execution failed", err)
	}

	rep, err := report.Build(batchID, jobs, m.Calc, m.Device, time.Now().UTC())
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to build report", err)
	}
	reportPath := filepath.Join(m.Scratch, "report.json")
	if err := rep.WriteFile(reportPath); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write report", err)
	}
	observability.CLILogger.Info("Report written", zap.String("path", reportPath))

	if err := emitReport(ctx, stream, rep, started); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	recordLedger(ctx, m, rep)

	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "Batch interrupted", ctx.Err())
	}
	if !rep.AllConverged() {
		return exitError(1, fmt.Sprintf("Batch completed with %d failed job(s)", rep.Failed), nil)
	}
	observability.CLILogger.Info("Batch converged",
		zap.String("batch_id", batchID), zap.Int("jobs", rep.Total))
	return nil
}

// emitReport writes the terminal output: outcome and summary records
// onto the JSONL stream, or the human summary table.
func emitReport(ctx context.Context, w *report.JSONLWriter, rep *report.BatchReport, started time.Time) error {
	if w == nil {
		return rep.WriteSummary(os.Stdout)
	}

	for i := range rep.Outcomes {
		if err := w.WriteOutcome(ctx, &rep.Outcomes[i]); err != nil {
			return err
		}
	}
	return w.WriteSummary(ctx, &report.SummaryRecord{
		Total:           rep.Total,
		Converged:       rep.Converged,
		Failed:          rep.Failed,
		DurationSeconds: time.Since(started).Seconds(),
	})
}

// recordLedger appends the batch to the run history. Ledger failures
// are logged, never fatal: the report already landed.
func recordLedger(ctx context.Context, m *manifest.Manifest, rep *report.BatchReport) {
	if appConfig == nil || !appConfig.Ledger.Enabled {
		return
	}
	path := appConfig.Ledger.Path
	if path == "" {
		path = filepath.Join(m.Scratch, "runs.db")
	}

	ledger, err := runledger.Open(ctx, path)
	if err != nil {
		observability.CLILogger.Warn("Run ledger unavailable",
			zap.String("path", path), zap.Error(err))
		return
	}
	defer ledger.Close()

	if err := ledger.RecordBatch(ctx, rep, m.NProcs); err != nil {
		observability.CLILogger.Warn("Failed to record batch in ledger",
			zap.String("batch_id", rep.BatchID), zap.Error(err))
	}
}
