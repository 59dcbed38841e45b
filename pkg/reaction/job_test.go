package reaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	require.NoError(t, ValidateTransition(StatusQueued, StatusRunning))
	require.NoError(t, ValidateTransition(StatusRunning, StatusConverged))
	require.NoError(t, ValidateTransition(StatusRunning, StatusRunning))
	require.NoError(t, ValidateTransition(StatusRunning, StatusTimeout))

	assert.Error(t, ValidateTransition(StatusQueued, StatusConverged))
	assert.Error(t, ValidateTransition(StatusConverged, StatusRunning))
	assert.Error(t, ValidateTransition(StatusCrashed, StatusQueued))
	assert.Error(t, ValidateTransition(Status("bogus"), StatusRunning))
}

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusConverged, StatusNodeLimitExceeded,
		StatusIterLimitExceeded, StatusTimeout, StatusCrashed, StatusNotFound} {
		assert.True(t, s.IsTerminal(), string(s))
	}
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
}

func TestJobTransition(t *testing.T) {
	job := &Job{ID: "rxn1", Stage: StagePending, Status: StatusQueued}

	require.NoError(t, job.Transition(StagePathGrowth, StatusRunning, ""))
	assert.Equal(t, StagePathGrowth, job.Stage)

	// Refinement re-enters running on the next stage.
	require.NoError(t, job.Transition(StageRefinement, StatusRunning, ""))

	require.NoError(t, job.Transition(StageRefinement, StatusCrashed, "tsopt exited 137"))
	assert.Equal(t, "tsopt exited 137", job.Reason)

	err := job.Transition(StageRefinement, StatusRunning, "")
	require.Error(t, err, "terminal states do not restart")
}
