package job

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/store"
)

// Progress range boundaries per phase.
const (
	pctContactsEnd  = 15
	pctEmailsEnd    = 40
	pctThemesEnd    = 70
	pctContactNotes = 75
	pctEmailNotes   = 85
)

// emailsPerSlot is the fetch volume that fills one account's share of the
// emails range.
const emailsPerSlot = 10000

// progressTracker commits job progress, never moving the phase backwards
// or the percentage down.
type progressTracker struct {
	store store.Store
	jobID string
	state model.JobProgress
}

func newProgressTracker(st store.Store, job *model.Job) *progressTracker {
	return &progressTracker{
		store: st,
		jobID: job.ID,
		state: model.JobProgress{
			Phase:             job.Phase,
			ProgressPct:       job.ProgressPct,
			EmailsProcessed:   job.EmailsProcessed,
			EmailsTotal:       job.EmailsTotal,
			ContactsProcessed: job.ContactsProcessed,
		},
	}
}

func (t *progressTracker) emails(processed int) {
	t.state.EmailsProcessed = max(t.state.EmailsProcessed, processed)
}

func (t *progressTracker) emailsTotal(n int) {
	t.state.EmailsTotal = &n
}

func (t *progressTracker) contacts(n int) {
	t.state.ContactsProcessed = max(t.state.ContactsProcessed, n)
}

// commit writes the current counters with phase and pct. A job that was
// cancelled in the store, or a cancelled ctx, yields ErrCancelled.
func (t *progressTracker) commit(ctx context.Context, phase model.JobPhase, pct int) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(ErrCancelled, "job %s: %v", t.jobID, err)
	}
	if phase.Rank() > t.state.Phase.Rank() {
		t.state.Phase = phase
	}
	t.state.ProgressPct = max(t.state.ProgressPct, min(max(pct, 0), 100))

	err := t.store.UpdateJobProgress(ctx, t.jobID, t.state)
	if errors.Is(err, store.ErrJobNotActive) {
		return checkCancelled(ctx, t.store, t.jobID, err)
	}
	if err != nil {
		return eris.Wrapf(err, "job %s: commit progress", t.jobID)
	}
	return nil
}

// checkCancelled returns ErrCancelled when the stored job is cancelled and
// cause otherwise.
func checkCancelled(ctx context.Context, st store.Store, jobID string, cause error) error {
	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		return cause
	}
	if job.Status == model.JobCancelled {
		return eris.Wrapf(ErrCancelled, "job %s", jobID)
	}
	return cause
}

// scale maps done/total onto [lo, hi].
func scale(lo, hi, done, total int) int {
	if total <= 0 || done >= total {
		return hi
	}
	return lo + (hi-lo)*done/total
}

// emailsPct places fetched messages of account i (of n) inside that
// account's slot of the emails range. The slot's top is reached only when
// the account finishes.
func emailsPct(i, n, fetched int) int {
	lo := scale(pctContactsEnd, pctEmailsEnd, i, n)
	hi := scale(pctContactsEnd, pctEmailsEnd, i+1, n)
	if hi-lo <= 1 || fetched <= 0 {
		return lo
	}
	return lo + (hi-lo-1)*min(fetched, emailsPerSlot)/emailsPerSlot
}
