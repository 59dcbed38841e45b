package runledger

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the ledger schema in-place.
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS batches (
			batch_id TEXT PRIMARY KEY,
			generated_at TEXT NOT NULL,
			calc TEXT NOT NULL,
			device TEXT NOT NULL,
			nprocs INTEGER NOT NULL,
			total INTEGER NOT NULL,
			converged INTEGER NOT NULL,
			failed INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_batches_generated_at ON batches(generated_at);`,

		`CREATE TABLE IF NOT EXISTS job_outcomes (
			batch_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			started_at TEXT,
			ended_at TEXT,
			duration_seconds REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (batch_id, job_id),
			FOREIGN KEY (batch_id) REFERENCES batches(batch_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_outcomes_status ON job_outcomes(status);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE schema_meta SET schema_version = ? WHERE id = 1 AND schema_version < ?`,
		SchemaVersion, SchemaVersion); err != nil {
		return fmt.Errorf("bump schema version: %w", err)
	}

	return tx.Commit()
}
