package runledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepprinciple/reactbench/pkg/report"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleReport(batchID string, generated time.Time) *report.BatchReport {
	return &report.BatchReport{
		BatchID:     batchID,
		GeneratedAt: generated,
		Calc:        "leftnet",
		Device:      "cuda:0",
		Total:       2,
		Converged:   1,
		Failed:      1,
		Outcomes: []report.Outcome{
			{
				JobID:           "rxn1",
				Stage:           "refinement",
				Status:          "converged",
				StartedAt:       generated.Add(-2 * time.Minute),
				EndedAt:         generated,
				DurationSeconds: 120,
			},
			{
				JobID:  "rxn2",
				Stage:  "path_growth",
				Status: "iter_limit_exceeded",
				Reason: "iter_limit_exceeded",
			},
		},
	}
}

func TestRecordBatchAndOutcomes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	generated := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordBatch(ctx, sampleReport("batch-1", generated), 4))

	outcomes, err := store.Outcomes(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, "rxn1", outcomes[0].JobID)
	assert.Equal(t, "converged", outcomes[0].Status)
	assert.Equal(t, generated, outcomes[0].EndedAt)
	assert.InDelta(t, 120.0, outcomes[0].DurationSeconds, 1e-9)

	assert.Equal(t, "rxn2", outcomes[1].JobID)
	assert.Equal(t, "iter_limit_exceeded", outcomes[1].Reason)
	assert.True(t, outcomes[1].StartedAt.IsZero())
}

func TestRecordBatch_DuplicateID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	rep := sampleReport("batch-1", time.Now().UTC().Truncate(time.Second))

	require.NoError(t, store.RecordBatch(ctx, rep, 2))
	assert.Error(t, store.RecordBatch(ctx, rep, 2))
}

func TestListBatches_NewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordBatch(ctx, sampleReport("batch-old", base), 2))
	require.NoError(t, store.RecordBatch(ctx, sampleReport("batch-new", base.Add(time.Hour)), 2))

	batches, err := store.ListBatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "batch-new", batches[0].BatchID)
	assert.Equal(t, "batch-old", batches[1].BatchID)
	assert.Equal(t, 2, batches[0].NProcs)
	assert.Equal(t, 1, batches[0].Failed)

	limited, err := store.ListBatches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "batch-new", limited[0].BatchID)
}

func TestOutcomes_UnknownBatch(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Outcomes(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "runs.db")

	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer reopened.Close()

	batches, err := reopened.ListBatches(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, batches)
}
