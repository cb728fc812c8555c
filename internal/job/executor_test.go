package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/resilience"
)

type scriptedRunner struct {
	mu       sync.Mutex
	script   []error
	attempts map[string]int
	queueIDs map[string]string
	finished map[string]error
	started  int

	block   chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func newScriptedRunner(script ...error) *scriptedRunner {
	return &scriptedRunner{
		script:   script,
		attempts: make(map[string]int),
		queueIDs: make(map[string]string),
		finished: make(map[string]error),
	}
}

func (s *scriptedRunner) start(model.Job) {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()
}

func (s *scriptedRunner) attempt(ctx context.Context, job model.Job, queueID string) error {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.attempts[job.ID]
	s.attempts[job.ID]++
	s.queueIDs[job.ID] = queueID
	if i < len(s.script) {
		return s.script[i]
	}
	return nil
}

func (s *scriptedRunner) finish(_ context.Context, job model.Job, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[job.ID] = runErr
	return runErr
}

type retryRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *retryRecorder) IncrementJobRetry(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[jobID]++
	return nil
}

func fastExecutor(ctx context.Context, r jobRunner, retries retryCounter, maxConcurrent, maxRetries int) *Executor {
	return newExecutor(ctx, r, retries, ExecutorConfig{
		MaxConcurrent:  maxConcurrent,
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

func transient() error {
	return resilience.NewTransientError(errors.New("gmail unavailable"), 503)
}

func TestExecutor_RetriesTransientFailures(t *testing.T) {
	r := newScriptedRunner(transient(), nil)
	retries := &retryRecorder{}
	e := fastExecutor(context.Background(), r, retries, 2, 2)

	queueID := e.Enqueue(model.Job{ID: "j1"})
	e.Wait()

	assert.NotEmpty(t, queueID)
	assert.Equal(t, queueID, r.queueIDs["j1"])
	assert.Equal(t, 2, r.attempts["j1"])
	assert.Equal(t, 1, retries.calls["j1"])
	assert.Equal(t, 1, r.started)
	require.Contains(t, r.finished, "j1")
	assert.NoError(t, r.finished["j1"])
}

func TestExecutor_GivesUpAfterMaxRetries(t *testing.T) {
	r := newScriptedRunner(transient(), transient(), transient(), transient())
	retries := &retryRecorder{}
	e := fastExecutor(context.Background(), r, retries, 1, 2)

	e.Enqueue(model.Job{ID: "j1"})
	e.Wait()

	assert.Equal(t, 3, r.attempts["j1"])
	assert.Equal(t, 2, retries.calls["j1"])
	assert.True(t, resilience.IsTransient(r.finished["j1"]))
}

func TestExecutor_DoesNotRetryPermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"fatal", eris.Wrap(ErrCredentials, "account personal")},
		{"fatal even if transient", resilience.NewTransientError(ErrNoAccounts, 503)},
		{"permanent", errors.New("bad request")},
		{"cancelled", eris.Wrap(ErrCancelled, "job j1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newScriptedRunner(tt.err, nil)
			retries := &retryRecorder{}
			e := fastExecutor(context.Background(), r, retries, 1, 3)

			e.Enqueue(model.Job{ID: "j1"})
			e.Wait()

			assert.Equal(t, 1, r.attempts["j1"])
			assert.Zero(t, retries.calls["j1"])
			assert.ErrorIs(t, r.finished["j1"], tt.err)
		})
	}
}

func TestExecutor_BoundsConcurrency(t *testing.T) {
	r := newScriptedRunner()
	r.block = make(chan struct{})
	e := fastExecutor(context.Background(), r, &retryRecorder{}, 2, 0)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		e.Enqueue(model.Job{ID: id})
	}
	assert.Eventually(t, func() bool { return r.running.Load() == 2 }, time.Second, time.Millisecond)
	close(r.block)
	e.Wait()

	assert.Equal(t, int32(2), r.peak.Load())
	assert.Len(t, r.finished, 5)
}

func TestExecutor_Cancel(t *testing.T) {
	r := newScriptedRunner()
	r.block = make(chan struct{})
	e := fastExecutor(context.Background(), r, &retryRecorder{}, 1, 2)

	e.Enqueue(model.Job{ID: "j1"})
	assert.Eventually(t, func() bool { return r.running.Load() == 1 }, time.Second, time.Millisecond)

	assert.True(t, e.Cancel("j1"))
	assert.False(t, e.Cancel("unknown"))
	e.Wait()

	assert.ErrorIs(t, r.finished["j1"], ErrCancelled)
	assert.False(t, e.Cancel("j1"), "finished jobs are released")
}

func TestExecutor_ParentContextCancelsQueuedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newScriptedRunner()
	r.block = make(chan struct{})
	e := fastExecutor(ctx, r, &retryRecorder{}, 1, 0)

	e.Enqueue(model.Job{ID: "a"})
	e.Enqueue(model.Job{ID: "b"})
	cancel()
	e.Wait()

	assert.ErrorIs(t, r.finished["a"], ErrCancelled)
	assert.ErrorIs(t, r.finished["b"], ErrCancelled)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(transient()))
	assert.False(t, retryable(errors.New("permanent")))
	assert.False(t, retryable(resilience.NewTransientError(ErrUserNotFound, 500)))
	assert.False(t, retryable(context.Canceled))
}
