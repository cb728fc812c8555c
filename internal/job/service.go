package job

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/store"
)

// Queue accepts jobs for execution.
type Queue interface {
	Enqueue(job model.Job) string
	Cancel(jobID string) bool
}

// Service is the job surface shared by the CLI and the HTTP API.
type Service struct {
	store     store.Store
	queue     Queue
	vaultPath string
}

// NewService creates a Service that enqueues started jobs on q.
func NewService(st store.Store, q Queue, vaultPath string) *Service {
	return &Service{store: st, queue: q, vaultPath: vaultPath}
}

// Start validates the request, creates a queued job and enqueues it.
// Labels default to every account in the default scan order.
func (s *Service) Start(ctx context.Context, userID string, rawLabels []string) (string, error) {
	labels, bad, ok := model.ParseLabels(rawLabels)
	if !ok {
		return "", eris.Wrapf(ErrInvalidLabel, "%q", bad)
	}

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", eris.Wrapf(ErrUserNotFound, "user %s", userID)
		}
		return "", eris.Wrap(err, "job: get user")
	}

	all, err := s.store.ListActiveAccounts(ctx, userID)
	if err != nil {
		return "", eris.Wrap(err, "job: list accounts")
	}
	if len(selectAccounts(all, labels)) == 0 {
		return "", eris.Wrapf(ErrNoAccounts, "user %s", userID)
	}

	job, err := s.store.CreateJob(ctx, userID, labels)
	if err != nil {
		return "", err
	}

	queueID := s.queue.Enqueue(*job)
	zap.L().Info("job: created",
		zap.String("job_id", job.ID),
		zap.String("user_id", userID),
		zap.String("correlation_id", queueID),
	)
	return job.ID, nil
}

// Status returns the job with its phase, progress and counters.
func (s *Service) Status(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// Cancel cancels a queued or running job.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return eris.Wrapf(ErrNotCancellable, "job %s is %s", jobID, job.Status)
	}

	if err := s.store.CancelJob(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrJobNotActive) {
			return eris.Wrapf(ErrNotCancellable, "job %s", jobID)
		}
		return err
	}
	local := s.queue.Cancel(jobID)
	zap.L().Info("job: cancelled",
		zap.String("job_id", jobID),
		zap.Bool("in_process", local),
	)
	return nil
}

// Results summarizes what a job produced.
func (s *Service) Results(ctx context.Context, jobID string) (*model.JobResults, error) {
	r, err := s.store.JobResults(ctx, jobID)
	if err != nil {
		return nil, err
	}
	r.VaultPath = s.vaultPath
	return r, nil
}

// List returns the user's most recent jobs, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListJobs(ctx, userID, limit)
}
