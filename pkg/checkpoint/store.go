// Package checkpoint persists per-job, per-stage snapshots under the
// scratch root so interrupted stages can resume without redoing work.
//
// Directory layout:
//
//	<root>/<job_id>/checkpoint_<stage>.json
//	<root>/<job_id>/job.json
//
// Writes are atomic (temp file + rename): a crash mid-write leaves the
// previous snapshot intact, never a truncated one.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Stage names used as checkpoint file suffixes. These are part of the
// stable on-disk contract.
const (
	StageGrowth = "growth"
	StageRefine = "refine"
)

// ErrNoCheckpoint indicates no valid snapshot exists for the requested
// job and stage.
var ErrNoCheckpoint = errors.New("no checkpoint")

// Store reads and writes snapshots rooted at a scratch directory.
//
// A Store is safe for concurrent use across workers as long as no two
// workers own the same job, which the scheduler guarantees.
type Store struct {
	root string
}

// NewStore creates a store rooted at root. The directory is created on
// first write, not here, so validation-only paths touch nothing.
func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

// RootDir returns the scratch root.
func (s *Store) RootDir() string {
	return s.root
}

// JobDir returns the per-job directory.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) snapshotPath(jobID, stage string) string {
	return filepath.Join(s.JobDir(jobID), "checkpoint_"+stage+".json")
}

// Save atomically persists snapshot for (jobID, stage).
func (s *Store) Save(jobID, stage string, snapshot any) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("job id is required")
	}
	return s.writeAtomic(jobID, s.snapshotPath(jobID, stage), snapshot)
}

// Load reads the latest snapshot for (jobID, stage) into out.
//
// Returns ErrNoCheckpoint when no snapshot exists; a snapshot that
// exists but cannot be parsed is reported as an error rather than
// silently treated as absent.
func (s *Store) Load(jobID, stage string, out any) error {
	b, err := os.ReadFile(s.snapshotPath(jobID, stage))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoCheckpoint
		}
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return fmt.Errorf("checkpoint file is empty: %s", s.snapshotPath(jobID, stage))
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parse checkpoint: %w", err)
	}
	return nil
}

// Clear removes the snapshot for (jobID, stage). Used when restart is
// disabled so a stage starts clean.
func (s *Store) Clear(jobID, stage string) error {
	err := os.Remove(s.snapshotPath(jobID, stage))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

// Exists reports whether a snapshot file is present for (jobID, stage).
func (s *Store) Exists(jobID, stage string) bool {
	_, err := os.Stat(s.snapshotPath(jobID, stage))
	return err == nil
}

// StateRecord is the per-job pipeline state persisted to job.json.
//
// Recovery after a full process restart only needs these tuples plus
// the stage checkpoints; nothing is re-derived from logs.
type StateRecord struct {
	JobID     string `json:"job_id"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	EndedAt   string `json:"ended_at,omitempty"`
}

// SaveState atomically persists the job's pipeline state record.
func (s *Store) SaveState(rec *StateRecord) error {
	if rec == nil || strings.TrimSpace(rec.JobID) == "" {
		return fmt.Errorf("state record with job id is required")
	}
	return s.writeAtomic(rec.JobID, filepath.Join(s.JobDir(rec.JobID), "job.json"), rec)
}

// LoadState reads the job's pipeline state record, or ErrNoCheckpoint
// when none was written.
func (s *Store) LoadState(jobID string) (*StateRecord, error) {
	b, err := os.ReadFile(filepath.Join(s.JobDir(jobID), "job.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read job state: %w", err)
	}
	var rec StateRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("parse job state: %w", err)
	}
	return &rec, nil
}

func (s *Store) writeAtomic(jobID, finalPath string, v any) error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("checkpoint root dir is empty")
	}
	jobDir := s.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(jobDir, filepath.Base(finalPath)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}
