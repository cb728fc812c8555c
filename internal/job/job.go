// Package job runs scan jobs: contacts, emails, themes and vault phases for
// one user, with progress committed to the store as each unit finishes.
package job

import (
	"context"
	"errors"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/store"
	"github.com/tooeysb/gmail-obsidian-integration/pkg/google"
)

var (
	// ErrInvalidLabel is returned for an account label outside the known set.
	ErrInvalidLabel = errors.New("job: invalid account label")

	// ErrUserNotFound is returned when the job's user does not exist.
	ErrUserNotFound = errors.New("job: user not found")

	// ErrNoAccounts is returned when no active account matches the labels.
	ErrNoAccounts = errors.New("job: no active accounts for labels")

	// ErrNotCancellable is returned when cancelling a terminal job.
	ErrNotCancellable = errors.New("job: job is not cancellable")

	// ErrCancelled is returned by a run that observed cancellation.
	ErrCancelled = errors.New("job: cancelled")

	// ErrCredentials is returned when an account's stored token cannot be
	// decrypted or parsed.
	ErrCredentials = errors.New("job: unusable account credentials")
)

// Re-exported store errors so callers need not import the store package.
var (
	ErrNotFound  = store.ErrNotFound
	ErrJobActive = store.ErrJobActive
)

// ClientFunc returns an authorized provider client for acct.
type ClientFunc func(ctx context.Context, acct model.Account) (google.Client, error)

// ContactSource supplies contact records for an account during the
// contacts phase.
type ContactSource interface {
	Name() string
	Collect(ctx context.Context, acct model.Account) ([]model.ContactRecord, error)
}

// Enricher classifies messages in batches. Process returns a payload for
// every input message id.
type Enricher interface {
	MaxBatchSize() int
	Process(ctx context.Context, msgs []model.Message) (map[string]model.ThemePayload, error)
}

// isCancelled reports whether err came from a cancelled run.
func isCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// isFatal reports errors that fail a job without an executor retry.
func isFatal(err error) bool {
	for _, target := range []error{ErrInvalidLabel, ErrUserNotFound, ErrNoAccounts, ErrCredentials} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// selectAccounts returns the accounts matching labels, in label order. An
// empty label list uses the default scan order.
func selectAccounts(all []model.Account, labels []model.AccountLabel) []model.Account {
	if len(labels) == 0 {
		labels = model.DefaultScanOrder
	}
	var out []model.Account
	for _, l := range labels {
		for _, a := range all {
			if a.Label == l {
				out = append(out, a)
			}
		}
	}
	return out
}
