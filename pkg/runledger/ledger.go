package runledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deepprinciple/reactbench/pkg/report"
)

// BatchSummary is one ledger row for the batch listing.
type BatchSummary struct {
	BatchID     string
	GeneratedAt time.Time
	Calc        string
	Device      string
	NProcs      int
	Total       int
	Converged   int
	Failed      int
}

// RecordBatch persists a finished batch and all of its job outcomes in
// one transaction. Re-recording the same batch ID is an error.
func (s *Store) RecordBatch(ctx context.Context, rep *report.BatchReport, nprocs int) error {
	if rep == nil {
		return errors.New("report is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (batch_id, generated_at, calc, device, nprocs, total, converged, failed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.BatchID, rep.GeneratedAt.UTC().Format(time.RFC3339), rep.Calc, rep.Device,
		nprocs, rep.Total, rep.Converged, rep.Failed); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for _, out := range rep.Outcomes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_outcomes (batch_id, job_id, stage, status, reason, started_at, ended_at, duration_seconds)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rep.BatchID, out.JobID, out.Stage, out.Status, out.Reason,
			timeOrEmpty(out.StartedAt), timeOrEmpty(out.EndedAt), out.DurationSeconds); err != nil {
			return fmt.Errorf("insert outcome %s: %w", out.JobID, err)
		}
	}

	return tx.Commit()
}

// ListBatches returns the most recent batches, newest first. limit <= 0
// means no limit.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	query := `SELECT batch_id, generated_at, calc, device, nprocs, total, converged, failed
		FROM batches ORDER BY generated_at DESC, batch_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var b BatchSummary
		var generatedAt string
		if err := rows.Scan(&b.BatchID, &generatedAt, &b.Calc, &b.Device,
			&b.NProcs, &b.Total, &b.Converged, &b.Failed); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if ts, perr := time.Parse(time.RFC3339, generatedAt); perr == nil {
			b.GeneratedAt = ts
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Outcomes returns one batch's job outcomes ordered by job ID.
func (s *Store) Outcomes(ctx context.Context, batchID string) ([]report.Outcome, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM batches WHERE batch_id = ?`, batchID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("look up batch: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrBatchNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, stage, status, reason, started_at, ended_at, duration_seconds
			FROM job_outcomes WHERE batch_id = ? ORDER BY job_id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []report.Outcome
	for rows.Next() {
		var o report.Outcome
		var reason sql.NullString
		var started, ended sql.NullString
		if err := rows.Scan(&o.JobID, &o.Stage, &o.Status, &reason,
			&started, &ended, &o.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Reason = reason.String
		if started.Valid {
			if ts, perr := time.Parse(time.RFC3339, started.String); perr == nil {
				o.StartedAt = ts
			}
		}
		if ended.Valid {
			if ts, perr := time.Parse(time.RFC3339, ended.String); perr == nil {
				o.EndedAt = ts
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func timeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
