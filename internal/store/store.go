package store

import (
	"context"
	"errors"
	"time"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrJobActive is returned by CreateJob when the user already has a
	// queued or running job.
	ErrJobActive = errors.New("store: user already has an active job")

	// ErrJobNotActive is returned when a transition requires a queued or
	// running job but the job is already terminal.
	ErrJobNotActive = errors.New("store: job is not active")
)

// Store defines the persistence interface for the mail-to-vault pipeline.
type Store interface {
	// Users and accounts
	CreateUser(ctx context.Context, email string) (*model.User, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)
	UpsertAccount(ctx context.Context, acct model.Account) (*model.Account, error)
	ListActiveAccounts(ctx context.Context, userID string) ([]model.Account, error)
	UpdateAccountCredentials(ctx context.Context, accountID string, blob []byte) error
	MarkAccountSynced(ctx context.Context, accountID string, at time.Time) error

	// Messages
	LatestMessageDate(ctx context.Context, accountID string) (*time.Time, error)
	InsertMessages(ctx context.Context, msgs []model.Message) (int64, error)
	ListMessages(ctx context.Context, userID string) ([]model.Message, error)
	ListUntaggedMessages(ctx context.Context, userID string) ([]model.Message, error)
	SenderRecords(ctx context.Context, userID string) ([]model.ContactRecord, error)

	// Tags
	ReplaceTags(ctx context.Context, tags map[string][]model.Tag) error
	ListTags(ctx context.Context, userID string) (map[string][]model.Tag, error)

	// Contacts
	UpsertContacts(ctx context.Context, userID string, contacts []model.Contact) (int64, error)
	ListContacts(ctx context.Context, userID string) ([]model.Contact, error)

	// Jobs
	CreateJob(ctx context.Context, userID string, labels []model.AccountLabel) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, userID string, limit int) ([]model.Job, error)
	MarkJobRunning(ctx context.Context, jobID, queueID string) error
	UpdateJobProgress(ctx context.Context, jobID string, p model.JobProgress) error
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, message string) error
	CancelJob(ctx context.Context, jobID string) error
	IncrementJobRetry(ctx context.Context, jobID string) error
	JobResults(ctx context.Context, jobID string) (*model.JobResults, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func labelStrings(labels []model.AccountLabel) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

func toLabels(raw []string) []model.AccountLabel {
	out := make([]model.AccountLabel, len(raw))
	for i, r := range raw {
		out[i] = model.AccountLabel(r)
	}
	return out
}

// clampProgress keeps a percentage within 0..100.
func clampProgress(pct int) int {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}
