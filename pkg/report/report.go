// Package report aggregates per-job terminal outcomes into the batch
// report, the single terminal output of a run. Intermediate components
// only persist checkpoints and in-memory status; everything user-facing
// funnels through here.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/deepprinciple/reactbench/pkg/reaction"
)

// Outcome is one job's terminal record.
type Outcome struct {
	JobID           string    `json:"job_id"`
	Stage           string    `json:"stage"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// BatchReport is the immutable summary of one batch run, ordered by
// job ID so completion timing never affects the output.
type BatchReport struct {
	BatchID     string    `json:"batch_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Calc        string    `json:"calc"`
	Device      string    `json:"device"`
	Total       int       `json:"total"`
	Converged   int       `json:"converged"`
	Failed      int       `json:"failed"`
	Outcomes    []Outcome `json:"outcomes"`
}

// Build compiles the report once every job has reached a terminal
// status. A non-terminal job is a caller bug and fails the build.
func Build(batchID string, jobs []*reaction.Job, calc, device string, now time.Time) (*BatchReport, error) {
	rep := &BatchReport{
		BatchID:     batchID,
		GeneratedAt: now,
		Calc:        calc,
		Device:      device,
		Total:       len(jobs),
		Outcomes:    make([]Outcome, 0, len(jobs)),
	}
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			return nil, fmt.Errorf("job %s has non-terminal status %q", job.ID, job.Status)
		}
		out := Outcome{
			JobID:     job.ID,
			Stage:     string(job.Stage),
			Status:    string(job.Status),
			Reason:    job.Reason,
			StartedAt: job.StartedAt,
			EndedAt:   job.EndedAt,
		}
		if !job.StartedAt.IsZero() && !job.EndedAt.IsZero() {
			out.DurationSeconds = job.EndedAt.Sub(job.StartedAt).Seconds()
		}
		if job.Status == reaction.StatusConverged {
			rep.Converged++
		} else {
			rep.Failed++
		}
		rep.Outcomes = append(rep.Outcomes, out)
	}
	sort.Slice(rep.Outcomes, func(i, j int) bool {
		return rep.Outcomes[i].JobID < rep.Outcomes[j].JobID
	})
	return rep, nil
}

// AllConverged reports whether the process should exit zero.
func (r *BatchReport) AllConverged() bool {
	return r.Failed == 0
}

// WriteFile persists the report atomically next to the job
// directories.
func (r *BatchReport) WriteFile(path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteSummary prints the human-readable batch summary.
func (r *BatchReport) WriteSummary(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "batch %s: %d jobs, %d converged, %d failed (calc=%s device=%s)\n",
		r.BatchID, r.Total, r.Converged, r.Failed, r.Calc, r.Device); err != nil {
		return err
	}
	for _, out := range r.Outcomes {
		line := fmt.Sprintf("  %-24s %-12s %-20s %6.1fs", out.JobID, out.Stage, out.Status, out.DurationSeconds)
		if out.Reason != "" {
			line += "  " + out.Reason
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
