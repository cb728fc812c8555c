package job

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tooeysb/gmail-obsidian-integration/internal/contacts"
	"github.com/tooeysb/gmail-obsidian-integration/internal/fetch"
	"github.com/tooeysb/gmail-obsidian-integration/internal/metrics"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/ratelimit"
	"github.com/tooeysb/gmail-obsidian-integration/internal/resilience"
	"github.com/tooeysb/gmail-obsidian-integration/internal/store"
	"github.com/tooeysb/gmail-obsidian-integration/internal/themes"
	"github.com/tooeysb/gmail-obsidian-integration/internal/vault"
)

// Option configures a Runner.
type Option func(*Runner)

// WithGate rate limits provider calls.
func WithGate(g *ratelimit.Gate) Option {
	return func(r *Runner) { r.gate = g }
}

// WithFetchConfig tunes the per-account fetch cursor.
func WithFetchConfig(cfg fetch.Config) Option {
	return func(r *Runner) { r.fetchCfg = cfg }
}

// WithEnricher sets the themes phase classifier. Without one the phase
// is skipped.
func WithEnricher(e Enricher) Option {
	return func(r *Runner) { r.enricher = e }
}

// WithSources sets the contacts phase sources.
func WithSources(sources ...ContactSource) Option {
	return func(r *Runner) { r.sources = sources }
}

// WithMetrics records job, phase and note metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithBreakers guards provider calls per account.
func WithBreakers(b *resilience.Breakers) Option {
	return func(r *Runner) { r.breakers = b }
}

// WithCommitEvery sets how many notes are written between progress commits.
func WithCommitEvery(n int) Option {
	return func(r *Runner) { r.commitEvery = n }
}

// Runner executes the phases of a job.
type Runner struct {
	store       store.Store
	clients     ClientFunc
	vault       *vault.Manager
	writer      *vault.Writer
	gate        *ratelimit.Gate
	fetchCfg    fetch.Config
	enricher    Enricher
	sources     []ContactSource
	metrics     *metrics.Metrics
	breakers    *resilience.Breakers
	commitEvery int
}

// NewRunner creates a Runner writing notes into vm.
func NewRunner(st store.Store, clients ClientFunc, vm *vault.Manager, opts ...Option) *Runner {
	r := &Runner{
		store:    st,
		clients:  clients,
		vault:    vm,
		fetchCfg: fetch.DefaultConfig(),
	}
	for _, o := range opts {
		o(r)
	}
	r.writer = vault.NewWriter(vm, r.commitEvery, r.metrics)
	return r
}

// runState is what one attempt carries between phases.
type runState struct {
	job      model.Job
	tracker  *progressTracker
	accounts []model.Account
	records  []model.ContactRecord
	log      *zap.Logger
}

// Run executes job to a terminal state: completed, failed with the error
// message, or cancelled (ErrCancelled).
func (r *Runner) Run(ctx context.Context, job model.Job) error {
	r.start(job)
	return r.finish(ctx, job, r.attempt(ctx, job, uuid.NewString()))
}

func (r *Runner) start(job model.Job) {
	r.metrics.JobStarted()
	zap.L().Info("job: started",
		zap.String("job_id", job.ID),
		zap.String("user_id", job.UserID),
	)
}

// attempt runs every phase once. It leaves the job running on error so a
// retry can resume it.
func (r *Runner) attempt(ctx context.Context, job model.Job, queueID string) error {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("correlation_id", queueID),
	)
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(ErrCancelled, "job %s: %v", job.ID, err)
	}

	if err := r.store.MarkJobRunning(ctx, job.ID, queueID); err != nil {
		if errors.Is(err, store.ErrJobNotActive) {
			return checkCancelled(ctx, r.store, job.ID, err)
		}
		return eris.Wrapf(err, "job %s: mark running", job.ID)
	}
	current, err := r.store.GetJob(ctx, job.ID)
	if err != nil {
		return eris.Wrapf(err, "job %s: reload", job.ID)
	}

	all, err := r.store.ListActiveAccounts(ctx, job.UserID)
	if err != nil {
		return eris.Wrapf(err, "job %s: list accounts", job.ID)
	}
	accounts := selectAccounts(all, job.AccountLabels)
	if len(accounts) == 0 {
		return eris.Wrapf(ErrNoAccounts, "job %s", job.ID)
	}

	rs := &runState{
		job:      job,
		tracker:  newProgressTracker(r.store, current),
		accounts: accounts,
		log:      log,
	}

	phases := []struct {
		phase model.JobPhase
		run   func(context.Context, *runState) error
	}{
		{model.PhaseContacts, r.contactsPhase},
		{model.PhaseEmails, r.emailsPhase},
		{model.PhaseThemes, r.themesPhase},
		{model.PhaseVault, r.vaultPhase},
	}
	for _, p := range phases {
		start := time.Now()
		err := p.run(ctx, rs)
		r.metrics.PhaseDuration(string(p.phase), time.Since(start))
		if err != nil {
			log.Warn("job: phase stopped",
				zap.String("phase", string(p.phase)),
				zap.String("class", resilience.Classify(err)),
				zap.Error(err),
			)
			return err
		}
		log.Info("job: phase complete",
			zap.String("phase", string(p.phase)),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return nil
}

// finish moves the job to its terminal state for runErr and returns the
// error the caller should see.
func (r *Runner) finish(ctx context.Context, job model.Job, runErr error) error {
	ctx = context.WithoutCancel(ctx)
	log := zap.L().With(zap.String("job_id", job.ID))

	var status model.JobStatus
	var err error
	switch {
	case runErr == nil:
		status = model.JobCompleted
		err = r.store.CompleteJob(ctx, job.ID)
	case isCancelled(runErr):
		status = model.JobCancelled
		err = r.store.CancelJob(ctx, job.ID)
		runErr = eris.Wrapf(ErrCancelled, "job %s", job.ID)
	default:
		status = model.JobFailed
		err = r.store.FailJob(ctx, job.ID, runErr.Error())
	}

	// A concurrent cancel wins over whatever this run reached.
	if errors.Is(err, store.ErrJobNotActive) {
		if cur, getErr := r.store.GetJob(ctx, job.ID); getErr == nil {
			status = cur.Status
			if status == model.JobCancelled {
				runErr = eris.Wrapf(ErrCancelled, "job %s", job.ID)
			}
		}
		err = nil
	}
	if err != nil {
		log.Error("job: record final status", zap.String("status", string(status)), zap.Error(err))
	}

	r.metrics.JobFinished(string(status))
	if runErr != nil && status == model.JobFailed {
		log.Error("job: failed", zap.Error(runErr))
	} else {
		log.Info("job: finished", zap.String("status", string(status)))
	}
	return runErr
}

func (r *Runner) contactsPhase(ctx context.Context, rs *runState) error {
	if err := rs.tracker.commit(ctx, model.PhaseContacts, 0); err != nil {
		return err
	}
	if len(r.sources) == 0 {
		rs.log.Debug("job: no contact sources configured")
		return rs.tracker.commit(ctx, model.PhaseContacts, pctContactsEnd)
	}

	units, done := len(r.sources)*len(rs.accounts), 0
	for _, src := range r.sources {
		for _, acct := range rs.accounts {
			recs, err := src.Collect(ctx, acct)
			if err != nil {
				if ctx.Err() != nil {
					return eris.Wrapf(ErrCancelled, "job %s: %v", rs.job.ID, ctx.Err())
				}
				rs.log.Warn("job: contact source failed",
					zap.String("source", src.Name()),
					zap.String("account", string(acct.Label)),
					zap.Error(err),
				)
			}
			rs.records = append(rs.records, recs...)
			done++
			if err := rs.tracker.commit(ctx, model.PhaseContacts, scale(0, pctContactsEnd, done, units)); err != nil {
				return err
			}
		}
	}
	rs.log.Info("job: contacts collected", zap.Int("records", len(rs.records)))
	return nil
}

func (r *Runner) emailsPhase(ctx context.Context, rs *runState) error {
	if err := rs.tracker.commit(ctx, model.PhaseEmails, pctContactsEnd); err != nil {
		return err
	}

	var total fetch.Result
	n := len(rs.accounts)
	for i, acct := range rs.accounts {
		client, err := r.clients(ctx, acct)
		if err != nil {
			return eris.Wrapf(err, "job %s: client for %s", rs.job.ID, acct.Label)
		}
		cur := fetch.New(client, r.store, r.gate, r.fetchCfg,
			fetch.WithMetrics(r.metrics),
			fetch.WithBreakers(r.breakers),
		)

		base := total.Fetched
		res, err := cur.Run(ctx, acct, func(ctx context.Context, acc fetch.Result) error {
			rs.tracker.emails(base + acc.Fetched)
			return rs.tracker.commit(ctx, model.PhaseEmails, emailsPct(i, n, acc.Fetched))
		})
		total.Add(res)
		if err != nil {
			return eris.Wrapf(err, "job %s: fetch %s", rs.job.ID, acct.Label)
		}
		if err := r.store.MarkAccountSynced(ctx, acct.ID, time.Now().UTC()); err != nil {
			return eris.Wrapf(err, "job %s: mark %s synced", rs.job.ID, acct.Label)
		}

		rs.tracker.emails(total.Fetched)
		if err := rs.tracker.commit(ctx, model.PhaseEmails, scale(pctContactsEnd, pctEmailsEnd, i+1, n)); err != nil {
			return err
		}
	}

	rs.tracker.emailsTotal(total.Fetched)
	rs.log.Info("job: emails fetched",
		zap.Int("fetched", total.Fetched),
		zap.Int("inserted", total.Inserted),
		zap.Int("failed", total.Failed),
	)
	return rs.tracker.commit(ctx, model.PhaseEmails, pctEmailsEnd)
}

func (r *Runner) themesPhase(ctx context.Context, rs *runState) error {
	if err := rs.tracker.commit(ctx, model.PhaseThemes, pctEmailsEnd); err != nil {
		return err
	}
	if r.enricher == nil {
		rs.log.Warn("job: no enricher configured, skipping themes")
		return rs.tracker.commit(ctx, model.PhaseThemes, pctThemesEnd)
	}

	msgs, err := r.store.ListUntaggedMessages(ctx, rs.job.UserID)
	if err != nil {
		return eris.Wrapf(err, "job %s: list untagged messages", rs.job.ID)
	}
	size := max(r.enricher.MaxBatchSize(), 1)

	for start := 0; start < len(msgs); start += size {
		end := min(start+size, len(msgs))
		chunk := msgs[start:end]

		payloads, err := r.enricher.Process(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return eris.Wrapf(ErrCancelled, "job %s: %v", rs.job.ID, ctx.Err())
			}
			return eris.Wrapf(err, "job %s: enrich messages %d-%d", rs.job.ID, start, end)
		}

		tags := make(map[string][]model.Tag, len(chunk))
		for _, m := range chunk {
			p, ok := payloads[m.ID]
			if !ok {
				p = model.DefaultThemes()
			}
			ts := themes.GenerateTags(p, m.AccountLabel)
			for i := range ts {
				ts[i].MessageID = m.ID
			}
			tags[m.ID] = ts
		}
		if err := r.store.ReplaceTags(ctx, tags); err != nil {
			return eris.Wrapf(err, "job %s: store tags", rs.job.ID)
		}

		if err := rs.tracker.commit(ctx, model.PhaseThemes, scale(pctEmailsEnd, pctThemesEnd, end, len(msgs))); err != nil {
			return err
		}
	}

	rs.log.Info("job: themes extracted", zap.Int("messages", len(msgs)))
	return rs.tracker.commit(ctx, model.PhaseThemes, pctThemesEnd)
}

func (r *Runner) vaultPhase(ctx context.Context, rs *runState) error {
	userID := rs.job.UserID
	if err := rs.tracker.commit(ctx, model.PhaseVault, pctThemesEnd); err != nil {
		return err
	}
	if err := r.vault.Init(); err != nil {
		return eris.Wrapf(err, "job %s: init vault", rs.job.ID)
	}

	senders, err := r.store.SenderRecords(ctx, userID)
	if err != nil {
		return eris.Wrapf(err, "job %s: sender records", rs.job.ID)
	}
	merged, _, err := contacts.Reconcile(ctx, r.store, userID, append(senders, rs.records...))
	if err != nil {
		return eris.Wrapf(err, "job %s: reconcile contacts", rs.job.ID)
	}
	rs.tracker.contacts(len(merged))
	if err := rs.tracker.commit(ctx, model.PhaseVault, pctThemesEnd); err != nil {
		return err
	}

	cs, err := r.store.ListContacts(ctx, userID)
	if err != nil {
		return eris.Wrapf(err, "job %s: list contacts", rs.job.ID)
	}
	msgs, err := r.store.ListMessages(ctx, userID)
	if err != nil {
		return eris.Wrapf(err, "job %s: list messages", rs.job.ID)
	}
	tags, err := r.store.ListTags(ctx, userID)
	if err != nil {
		return eris.Wrapf(err, "job %s: list tags", rs.job.ID)
	}

	if _, err := r.writer.WriteContacts(ctx, cs, msgs, func(ctx context.Context, _ string, written, total int) error {
		return rs.tracker.commit(ctx, model.PhaseVault, scale(pctThemesEnd, pctContactNotes, written, total))
	}); err != nil {
		return eris.Wrapf(err, "job %s: write contact notes", rs.job.ID)
	}
	if _, err := r.writer.WriteEmails(ctx, msgs, tags, func(ctx context.Context, _ string, written, total int) error {
		return rs.tracker.commit(ctx, model.PhaseVault, scale(pctContactNotes, pctEmailNotes, written, total))
	}); err != nil {
		return eris.Wrapf(err, "job %s: write email notes", rs.job.ID)
	}
	return nil
}
