package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/resilience"
)

// Defaults for NewExecutor.
const (
	DefaultMaxConcurrent = 2
	DefaultMaxRetries    = 2
)

// jobRunner is the part of Runner the executor drives.
type jobRunner interface {
	start(job model.Job)
	attempt(ctx context.Context, job model.Job, queueID string) error
	finish(ctx context.Context, job model.Job, runErr error) error
}

// retryCounter records executor retries on the job row.
type retryCounter interface {
	IncrementJobRetry(ctx context.Context, jobID string) error
}

// ExecutorConfig bounds concurrency and retries.
type ExecutorConfig struct {
	MaxConcurrent  int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Executor is an in-process job queue. Jobs beyond MaxConcurrent wait for
// a free slot; transient failures are retried with backoff.
type Executor struct {
	runner  jobRunner
	retries retryCounter
	cfg     ExecutorConfig
	base    context.Context

	group   errgroup.Group
	pending sync.WaitGroup

	mu      sync.Mutex
	running map[string]*queued
}

type queued struct {
	cancel context.CancelFunc
}

// NewExecutor creates an Executor. Cancelling ctx cancels every queued and
// running job.
func NewExecutor(ctx context.Context, r *Runner, retries retryCounter, cfg ExecutorConfig) *Executor {
	return newExecutor(ctx, r, retries, cfg)
}

func newExecutor(ctx context.Context, r jobRunner, retries retryCounter, cfg ExecutorConfig) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	e := &Executor{
		runner:  r,
		retries: retries,
		cfg:     cfg,
		base:    ctx,
		running: make(map[string]*queued),
	}
	e.group.SetLimit(cfg.MaxConcurrent)
	return e
}

// Enqueue schedules job and returns the correlation id of its run.
func (e *Executor) Enqueue(job model.Job) string {
	queueID := uuid.NewString()
	ctx, cancel := context.WithCancel(e.base)
	q := &queued{cancel: cancel}

	e.mu.Lock()
	e.running[job.ID] = q
	e.mu.Unlock()

	zap.L().Info("job: enqueued",
		zap.String("job_id", job.ID),
		zap.String("correlation_id", queueID),
	)

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		e.group.Go(func() error {
			defer e.release(job.ID, q)
			e.run(ctx, job, queueID)
			return nil
		})
	}()
	return queueID
}

// Cancel cancels the in-process context of job. It reports whether the
// job was queued or running here.
func (e *Executor) Cancel(jobID string) bool {
	e.mu.Lock()
	q, ok := e.running[jobID]
	e.mu.Unlock()
	if ok {
		q.cancel()
	}
	return ok
}

// Wait blocks until every enqueued job has finished.
func (e *Executor) Wait() {
	e.pending.Wait()
	_ = e.group.Wait()
}

func (e *Executor) release(jobID string, q *queued) {
	q.cancel()
	e.mu.Lock()
	if e.running[jobID] == q {
		delete(e.running, jobID)
	}
	e.mu.Unlock()
}

func (e *Executor) run(ctx context.Context, job model.Job, queueID string) {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("correlation_id", queueID),
	)
	e.runner.start(job)

	retry := resilience.RetryConfig{
		MaxAttempts:    e.cfg.MaxRetries + 1,
		InitialBackoff: e.cfg.InitialBackoff,
		MaxBackoff:     e.cfg.MaxBackoff,
		Multiplier:     2,
		JitterFraction: 0.25,
		ShouldRetry:    retryable,
		OnRetry: func(attempt int, err error) {
			log.Warn("job: retrying", zap.Int("attempt", attempt), zap.Error(err))
		},
		BeforeRetry: func(ctx context.Context, _ int, _ error) error {
			return e.retries.IncrementJobRetry(ctx, job.ID)
		},
	}
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		return e.runner.attempt(ctx, job, queueID)
	})
	if err != nil && ctx.Err() != nil {
		err = ErrCancelled
	}
	_ = e.runner.finish(ctx, job, err)
}

// retryable reports whether a failed attempt may be run again.
func retryable(err error) bool {
	return !isCancelled(err) && !isFatal(err) && resilience.IsTransient(err)
}
