package tsrefine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deepprinciple/reactbench/pkg/checkpoint"
	"github.com/deepprinciple/reactbench/pkg/geom"
)

// ErrProcessCrashed marks an external stage executable that failed even
// after the automatic retry.
var ErrProcessCrashed = errors.New("stage process crashed")

// Config parameterizes the refinement stage.
type Config struct {
	Select    Mode
	Restart   bool
	TSOptPath string
	IRCPath   string
	WallTime  time.Duration
}

// Outcome is the terminal state of a refinement run.
type Outcome string

const (
	OutcomeConverged Outcome = "converged"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeTimeout   Outcome = "timeout"
)

// Snapshot is the refinement checkpoint payload. Cycle 1 means the
// saddle-point optimization completed and only validation remains.
type Snapshot struct {
	Cycle      int           `json:"cycle"`
	GuessIndex int           `json:"guess_index"`
	Geometry   geom.Geometry `json:"geometry"`
	Energy     float64       `json:"energy"`
	GradNorm   float64       `json:"grad_norm"`
}

// Result is the stage hand-off: the verified transition state, or the
// reason none was produced.
type Result struct {
	Outcome    Outcome
	TS         geom.Geometry
	Energy     float64
	GradNorm   float64
	GuessIndex int
	Reason     string
}

// Artifact names inside the job's scratch directory. The optimizer
// reads the guess and must write the final structure; the validator
// reads the final structure and reports through its stdout log.
const (
	guessFile = "ts_guess.xyz"
	finalFile = "ts_final.xyz"

	ircSuccessMarker = "Finished IRC"
)

// Runner executes the refinement stage for one job at a time.
type Runner struct {
	store *checkpoint.Store
	cfg   Config
	log   *zap.Logger
}

// NewRunner creates a refinement runner.
func NewRunner(store *checkpoint.Store, cfg Config) *Runner {
	return &Runner{store: store, cfg: cfg, log: zap.NewNop()}
}

// WithLogger sets the stage log destination. Returns the runner for
// chaining.
func (r *Runner) WithLogger(log *zap.Logger) *Runner {
	if log != nil {
		r.log = log
	}
	return r
}

// Run refines the grown path identified by jobID into a verified
// transition state. nodes and energies are the path hand-off, ordered
// reactant to product.
//
// A nil error means the stage reached one of its defined outcomes; an
// error means both attempts at an external executable failed.
func (r *Runner) Run(ctx context.Context, jobID string, nodes []geom.Geometry, energies []float64) (*Result, error) {
	if len(nodes) != len(energies) {
		return nil, fmt.Errorf("path has %d nodes but %d energies", len(nodes), len(energies))
	}

	workDir := r.store.JobDir(jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	charge, mult := systemOf(nodes)
	sysEnv := systemEnv(charge, mult)

	if r.cfg.WallTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.WallTime)
		defer cancel()
	}

	snap, err := r.resume(jobID)
	if err != nil {
		return nil, err
	}

	if snap == nil {
		idx, ok := SelectPeak(energies, r.cfg.Select)
		if !ok {
			r.log.Warn("no acceptable peak in energy profile",
				zap.String("job_id", jobID),
				zap.Int("images", len(energies)),
				zap.String("select", string(r.cfg.Select)))
			return &Result{
				Outcome: OutcomeNotFound,
				Reason:  fmt.Sprintf("no acceptable peak in %d-image profile (%s mode)", len(energies), r.cfg.Select),
			}, nil
		}
		r.log.Info("refinement starting",
			zap.String("job_id", jobID),
			zap.Int("guess_index", idx),
			zap.Float64("guess_energy", energies[idx]))

		if err := geom.WriteXYZFile(filepath.Join(workDir, guessFile), []geom.Geometry{nodes[idx]}, "ts guess"); err != nil {
			return nil, fmt.Errorf("write ts guess: %w", err)
		}

		snap, err = r.optimize(ctx, jobID, workDir, idx, charge, mult, sysEnv)
		if err != nil || snap == nil {
			return timeoutOr(ctx, err, idx)
		}
	} else {
		r.log.Info("resuming refinement from checkpoint",
			zap.String("job_id", jobID), zap.Int("cycle", snap.Cycle))
		// The validator reads the optimized structure from disk; a
		// process restart may have lost it.
		if err := geom.WriteXYZFile(filepath.Join(workDir, finalFile), []geom.Geometry{snap.Geometry},
			fmt.Sprintf("energy=%g grad_norm=%g", snap.Energy, snap.GradNorm)); err != nil {
			return nil, fmt.Errorf("restore optimized structure: %w", err)
		}
	}

	verified, err := r.validate(ctx, workDir, sysEnv)
	if err != nil {
		res, rerr := timeoutOr(ctx, err, snap.GuessIndex)
		if res != nil {
			res.TS = snap.Geometry
			res.Energy = snap.Energy
			res.GradNorm = snap.GradNorm
		}
		return res, rerr
	}

	res := &Result{
		TS:         snap.Geometry,
		Energy:     snap.Energy,
		GradNorm:   snap.GradNorm,
		GuessIndex: snap.GuessIndex,
	}
	if verified {
		res.Outcome = OutcomeConverged
		r.log.Info("transition state verified",
			zap.String("job_id", jobID), zap.Float64("energy", res.Energy))
	} else {
		res.Outcome = OutcomeNotFound
		res.Reason = "optimized structure failed validation"
		r.log.Warn("optimized structure failed validation", zap.String("job_id", jobID))
	}
	return res, nil
}

// resume applies restart semantics: a completed-optimization snapshot
// when enabled and present, nil for a fresh start.
func (r *Runner) resume(jobID string) (*Snapshot, error) {
	if !r.cfg.Restart {
		if err := r.store.Clear(jobID, checkpoint.StageRefine); err != nil {
			return nil, err
		}
		return nil, nil
	}
	var snap Snapshot
	err := r.store.Load(jobID, checkpoint.StageRefine, &snap)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if snap.Cycle < 1 {
		return nil, nil
	}
	return &snap, nil
}

// optimize runs the external saddle-point optimizer and checkpoints its
// result. Returns nil, nil only when the surrounding context expired.
func (r *Runner) optimize(ctx context.Context, jobID, workDir string, guessIdx, charge, mult int, sysEnv []string) (*Snapshot, error) {
	if err := r.runStage(ctx, workDir, r.cfg.TSOptPath, guessFile, "tsopt", sysEnv); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}

	frames, err := geom.ReadXYZFile(filepath.Join(workDir, finalFile))
	if err != nil || len(frames) == 0 {
		return nil, fmt.Errorf("optimizer wrote no usable %s: %w", finalFile, errors.Join(err, ErrProcessCrashed))
	}
	final := frames[len(frames)-1]
	// The XYZ file cannot carry the electronic state; restore it from
	// the guess so the checkpoint round-trips the full system.
	final.Charge, final.Multiplicity = charge, mult
	energy, gradNorm := parseResultComment(final.Comment)

	snap := &Snapshot{Cycle: 1, GuessIndex: guessIdx, Geometry: final, Energy: energy, GradNorm: gradNorm}
	if err := r.store.Save(jobID, checkpoint.StageRefine, snap); err != nil {
		return nil, fmt.Errorf("checkpoint optimized structure: %w", err)
	}
	return snap, nil
}

// validate runs the external IRC tool against the optimized structure
// and reports whether it connected the endpoints.
func (r *Runner) validate(ctx context.Context, workDir string, sysEnv []string) (bool, error) {
	if err := r.runStage(ctx, workDir, r.cfg.IRCPath, finalFile, "irc", sysEnv); err != nil {
		return false, err
	}
	return logContains(filepath.Join(workDir, "irc.out"), ircSuccessMarker)
}

// runStage invokes one external executable in the job's scratch dir,
// retrying once on a crash. stdout and stderr land in <name>.out and
// <name>.err next to the structures.
func (r *Runner) runStage(ctx context.Context, workDir, exePath, inputFile, name string, sysEnv []string) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = r.runOnce(ctx, workDir, exePath, inputFile, name, sysEnv)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		r.log.Warn("stage process failed",
			zap.String("stage", name),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return fmt.Errorf("%s failed twice: %w", name, errors.Join(lastErr, ErrProcessCrashed))
}

func (r *Runner) runOnce(ctx context.Context, workDir, exePath, inputFile, name string, sysEnv []string) error {
	stdout, err := os.Create(filepath.Join(workDir, name+".out"))
	if err != nil {
		return err
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(workDir, name+".err"))
	if err != nil {
		return err
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, exePath, inputFile)
	cmd.Dir = workDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), "OMP_NUM_THREADS=1")
	cmd.Env = append(cmd.Env, sysEnv...)
	return cmd.Run()
}

// systemOf reads the electronic state off the path nodes. A path
// shares one system; an unset multiplicity means a singlet.
func systemOf(nodes []geom.Geometry) (charge, mult int) {
	mult = 1
	if len(nodes) == 0 {
		return 0, mult
	}
	charge = nodes[0].Charge
	if nodes[0].Multiplicity > 1 {
		mult = nodes[0].Multiplicity
	}
	return charge, mult
}

// systemEnv is the environment contract with the stage executables.
func systemEnv(charge, mult int) []string {
	return []string{
		fmt.Sprintf("REACTBENCH_CHARGE=%d", charge),
		fmt.Sprintf("REACTBENCH_MULT=%d", mult),
	}
}

// timeoutOr maps a stage failure to the TIMEOUT outcome when the wall
// budget expired, and passes the crash through otherwise.
func timeoutOr(ctx context.Context, err error, guessIdx int) (*Result, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Result{
			Outcome:    OutcomeTimeout,
			GuessIndex: guessIdx,
			Reason:     "wall-time budget exhausted",
		}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, err
}

// parseResultComment extracts energy= and grad_norm= tokens from the
// optimizer's comment line. Missing tokens read as zero.
func parseResultComment(comment string) (energy, gradNorm float64) {
	for _, tok := range strings.Fields(comment) {
		if v, ok := strings.CutPrefix(tok, "energy="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				energy = f
			}
		}
		if v, ok := strings.CutPrefix(tok, "grad_norm="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				gradNorm = f
			}
		}
	}
	return energy, gradNorm
}

// logContains scans a stage log for a marker line.
func logContains(path, marker string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.Contains(sc.Text(), marker) {
			return true, nil
		}
	}
	return false, sc.Err()
}
