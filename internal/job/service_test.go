package job

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

type fakeQueue struct {
	mu        sync.Mutex
	enqueued  []model.Job
	cancelled []string
}

func (q *fakeQueue) Enqueue(job model.Job) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, job)
	return "queue-" + job.ID
}

func (q *fakeQueue) Cancel(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, jobID)
	return true
}

func newTestService(t *testing.T) (*Service, *fixture, *fakeQueue) {
	t.Helper()
	f := newFixture(t)
	q := &fakeQueue{}
	return NewService(f.st, q, f.root), f, q
}

func TestService_Start(t *testing.T) {
	ctx := context.Background()
	s, f, q := newTestService(t)

	id, err := s.Start(ctx, f.user.ID, []string{"procore-main", "personal", "procore-main"})
	require.NoError(t, err)

	require.Len(t, q.enqueued, 1)
	assert.Equal(t, id, q.enqueued[0].ID)
	assert.Equal(t, []model.AccountLabel{model.LabelProcoreMain, model.LabelPersonal}, q.enqueued[0].AccountLabels)

	job, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, job.Status)
	assert.Equal(t, f.user.ID, job.UserID)
}

func TestService_Start_DefaultLabels(t *testing.T) {
	s, f, q := newTestService(t)

	_, err := s.Start(context.Background(), f.user.ID, nil)
	require.NoError(t, err)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, model.DefaultScanOrder, q.enqueued[0].AccountLabels)
}

func TestService_Start_Rejections(t *testing.T) {
	ctx := context.Background()
	s, f, q := newTestService(t)

	_, err := s.Start(ctx, f.user.ID, []string{"personal", "work"})
	require.ErrorIs(t, err, ErrInvalidLabel)
	assert.Contains(t, err.Error(), `"work"`)

	_, err = s.Start(ctx, "no-such-user", nil)
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.Start(ctx, f.user.ID, []string{"procore-private"})
	require.ErrorIs(t, err, ErrNoAccounts)

	assert.Empty(t, q.enqueued)
}

func TestService_Start_OneActiveJobPerUser(t *testing.T) {
	ctx := context.Background()
	s, f, q := newTestService(t)

	first, err := s.Start(ctx, f.user.ID, nil)
	require.NoError(t, err)

	_, err = s.Start(ctx, f.user.ID, []string{"personal"})
	require.ErrorIs(t, err, ErrJobActive)
	assert.Len(t, q.enqueued, 1)

	require.NoError(t, s.Cancel(ctx, first))
	_, err = s.Start(ctx, f.user.ID, nil)
	require.NoError(t, err, "a terminal job does not block a new one")
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()
	s, f, q := newTestService(t)

	id, err := s.Start(ctx, f.user.ID, nil)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, id))
	assert.Equal(t, []string{id}, q.cancelled)

	job, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)

	assert.ErrorIs(t, s.Cancel(ctx, id), ErrNotCancellable)
	assert.ErrorIs(t, s.Cancel(ctx, "no-such-job"), ErrNotFound)
}

func TestService_Cancel_RunningJob(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newTestService(t)

	id, err := s.Start(ctx, f.user.ID, nil)
	require.NoError(t, err)
	require.NoError(t, f.st.MarkJobRunning(ctx, id, "q1"))

	require.NoError(t, s.Cancel(ctx, id))
	assert.Equal(t, model.JobCancelled, f.job(t, id).Status)
}

func TestService_Cancel_CompletedJob(t *testing.T) {
	ctx := context.Background()
	s, f, q := newTestService(t)

	id, err := s.Start(ctx, f.user.ID, nil)
	require.NoError(t, err)
	require.NoError(t, f.st.MarkJobRunning(ctx, id, "q1"))
	require.NoError(t, f.st.CompleteJob(ctx, id))

	assert.ErrorIs(t, s.Cancel(ctx, id), ErrNotCancellable)
	assert.Empty(t, q.cancelled)
}

func TestService_ResultsAndList(t *testing.T) {
	ctx := context.Background()
	s, f, _ := newTestService(t)

	id, err := s.Start(ctx, f.user.ID, nil)
	require.NoError(t, err)

	res, err := s.Results(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, res.JobID)
	assert.Equal(t, model.JobQueued, res.Status)
	assert.Equal(t, f.root, res.VaultPath)
	assert.Zero(t, res.MessageCount)

	_, err = s.Results(ctx, "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)

	jobs, err := s.List(ctx, f.user.ID, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
}
