package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

func TestProgressTracker_NeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.createJob(t)
	require.NoError(t, f.st.MarkJobRunning(ctx, job.ID, "q1"))
	require.NoError(t, f.st.UpdateJobProgress(ctx, job.ID, model.JobProgress{
		Phase:           model.PhaseThemes,
		ProgressPct:     55,
		EmailsProcessed: 40,
	}))

	// A retried attempt starts from the stored checkpoint.
	tr := newProgressTracker(f.st, f.job(t, job.ID))
	tr.emails(10)
	require.NoError(t, tr.commit(ctx, model.PhaseContacts, 0))

	got := f.job(t, job.ID)
	assert.Equal(t, model.PhaseThemes, got.Phase)
	assert.Equal(t, 55, got.ProgressPct)
	assert.Equal(t, 40, got.EmailsProcessed)

	require.NoError(t, tr.commit(ctx, model.PhaseVault, 140))
	got = f.job(t, job.ID)
	assert.Equal(t, model.PhaseVault, got.Phase)
	assert.Equal(t, 100, got.ProgressPct)
}

func TestProgressTracker_CommitAfterCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.createJob(t)
	require.NoError(t, f.st.MarkJobRunning(ctx, job.ID, "q1"))
	tr := newProgressTracker(f.st, f.job(t, job.ID))

	require.NoError(t, f.st.CancelJob(ctx, job.ID))
	assert.ErrorIs(t, tr.commit(ctx, model.PhaseEmails, 20), ErrCancelled)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, tr.commit(cctx, model.PhaseEmails, 20), ErrCancelled)
}

func TestProgressTracker_CommitAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.createJob(t)
	require.NoError(t, f.st.MarkJobRunning(ctx, job.ID, "q1"))
	tr := newProgressTracker(f.st, f.job(t, job.ID))

	require.NoError(t, f.st.FailJob(ctx, job.ID, "boom"))
	err := tr.commit(ctx, model.PhaseEmails, 20)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCancelled)
}
