package report

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: reactbench.<type>.v<version>
const (
	// TypeOutcome identifies per-job terminal outcome records.
	TypeOutcome = "reactbench.outcome.v1"

	// TypeProgress identifies batch progress update records.
	TypeProgress = "reactbench.progress.v1"

	// TypeSummary identifies final batch summary records.
	TypeSummary = "reactbench.summary.v1"
)

// Record is the envelope for all JSONL output. Each line is a
// self-contained JSON object that can be parsed independently; the
// type field determines how to interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "reactbench.outcome.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created.
	TS time.Time `json:"ts"`

	// BatchID is the correlation ID for this batch run.
	BatchID string `json:"batch_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ProgressRecord is the data payload for batch progress updates.
type ProgressRecord struct {
	// Completed is the number of jobs that reached a terminal status.
	Completed int `json:"completed"`

	// Total is the batch size.
	Total int `json:"total"`

	// LastJobID is the job whose completion triggered this update.
	LastJobID string `json:"last_job_id,omitempty"`

	// LastStatus is that job's terminal status.
	LastStatus string `json:"last_status,omitempty"`
}

// SummaryRecord is the data payload for the final batch summary.
type SummaryRecord struct {
	Total           int     `json:"total"`
	Converged       int     `json:"converged"`
	Failed          int     `json:"failed"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("writer is closed")
