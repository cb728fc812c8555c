package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tooeysb/gmail-obsidian-integration/internal/config"
	"github.com/tooeysb/gmail-obsidian-integration/internal/contacts"
	"github.com/tooeysb/gmail-obsidian-integration/internal/credentials"
	"github.com/tooeysb/gmail-obsidian-integration/internal/fetch"
	"github.com/tooeysb/gmail-obsidian-integration/internal/job"
	"github.com/tooeysb/gmail-obsidian-integration/internal/metrics"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/ratelimit"
	"github.com/tooeysb/gmail-obsidian-integration/internal/resilience"
	"github.com/tooeysb/gmail-obsidian-integration/internal/store"
	"github.com/tooeysb/gmail-obsidian-integration/internal/themes"
	"github.com/tooeysb/gmail-obsidian-integration/internal/vault"
	anthropicpkg "github.com/tooeysb/gmail-obsidian-integration/pkg/anthropic"
	"github.com/tooeysb/gmail-obsidian-integration/pkg/google"
)

// jobEnv holds the store, executor and job service used by the scan and
// serve commands.
type jobEnv struct {
	Store    store.Store
	Metrics  *metrics.Metrics
	Executor *job.Executor
	Service  *job.Service
}

// Close waits for in-flight jobs and releases the store.
func (e *jobEnv) Close() {
	if e.Executor != nil {
		e.Executor.Wait()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "gmail-vault.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens the store and applies the schema.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initGate builds the shared Gmail rate limit. The postgres backend shares
// the bucket with every worker using the same database.
func initGate(st store.Store, rl config.RateLimitConfig) (*ratelimit.Gate, error) {
	var backend ratelimit.Store
	switch rl.Backend {
	case "postgres":
		ps, ok := st.(*store.PostgresStore)
		if !ok {
			return nil, eris.New("rate_limit.backend postgres requires the postgres store")
		}
		backend = ratelimit.NewPostgresStore(ps.Pool())
	default:
		backend = ratelimit.NewMemoryStore()
	}

	bucket, err := ratelimit.New(backend, rl.Key, rl.MaxTokens, rl.RefillRate)
	if err != nil {
		return nil, err
	}
	return &ratelimit.Gate{Limiter: bucket, Timeout: rl.WaitTimeout}, nil
}

// fetchConfig maps the gmail settings onto the fetch cursor.
func fetchConfig(g config.GmailConfig) fetch.Config {
	fc := fetch.DefaultConfig()
	if g.PageSize > 0 {
		fc.PageSize = g.PageSize
	}
	if g.FetchChunk > 0 {
		fc.ChunkSize = g.FetchChunk
	}
	fc.PagePause = g.PagePause
	if g.MaxRetries > 0 {
		fc.Retry = resilience.NewRetryConfig(g.MaxRetries, time.Second, time.Minute)
	}
	return fc
}

// initJobs wires every pipeline component behind a job service. Cancelling
// ctx cancels all jobs the executor holds. Callers should defer env.Close().
func initJobs(ctx context.Context, mode string, execCfg job.ExecutorConfig) (*jobEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	gate, err := initGate(st, cfg.RateLimit)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	cipher, err := credentials.CipherFromBase64(cfg.Credentials.EncryptionKey)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if !cipher.Enabled() {
		zap.L().Warn("credentials.encryption_key not set, account tokens are stored unencrypted")
	}

	vm, err := vault.NewManager(cfg.Vault.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	m := metrics.New()
	breakers := resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig())
	oauth := google.OAuthConfig(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret)
	clients := job.NewClientFunc(cipher, oauth, st, google.WithConcurrency(cfg.Gmail.FetchConcurrency))

	enricher := themes.New(
		anthropicpkg.NewClient(cfg.Anthropic.Key),
		themes.ConfigFrom(cfg.Anthropic),
		themes.WithMetrics(m),
	)

	opts := []job.Option{
		job.WithGate(gate),
		job.WithFetchConfig(fetchConfig(cfg.Gmail)),
		job.WithEnricher(enricher),
		job.WithMetrics(m),
		job.WithBreakers(breakers),
		job.WithCommitEvery(cfg.Jobs.NoteCommitEvery),
	}
	if cfg.Contacts.PeopleAPI {
		opts = append(opts, job.WithSources(contacts.NewPeopleSource(contacts.ClientFunc(clients), gate)))
		zap.L().Info("people api contact source enabled")
	}

	runner := job.NewRunner(st, clients, vm, opts...)
	exec := job.NewExecutor(ctx, runner, st, execCfg)

	return &jobEnv{
		Store:    st,
		Metrics:  m,
		Executor: exec,
		Service:  job.NewService(st, exec, vm.Root()),
	}, nil
}

// detachedQueue serves job commands that run outside the process holding
// the executor. Cancellation still reaches a running job through the store.
type detachedQueue struct{}

func (detachedQueue) Enqueue(model.Job) string { return "" }
func (detachedQueue) Cancel(string) bool      { return false }
