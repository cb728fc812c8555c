// Package fetch pages through one mail account and stores every message it
// has not seen before. A run resumes from the newest stored message date, so
// it can be repeated after a crash; duplicates are absorbed by the store's
// insert-or-ignore on (account_id, provider_message_id).
package fetch

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tooeysb/gmail-obsidian-integration/internal/metrics"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
	"github.com/tooeysb/gmail-obsidian-integration/internal/ratelimit"
	"github.com/tooeysb/gmail-obsidian-integration/internal/resilience"
	"github.com/tooeysb/gmail-obsidian-integration/pkg/google"
)

// Store is the part of the persistence layer the cursor writes through.
type Store interface {
	LatestMessageDate(ctx context.Context, accountID string) (*time.Time, error)
	InsertMessages(ctx context.Context, msgs []model.Message) (int64, error)
}

// Config tunes paging and retries.
type Config struct {
	PageSize  int64
	ChunkSize int
	PagePause time.Duration
	Retry     resilience.RetryConfig
}

// DefaultConfig returns page size 500, chunks of 50 and a 2s page pause.
func DefaultConfig() Config {
	return Config{
		PageSize:  google.MaxListPageSize,
		ChunkSize: 50,
		PagePause: 2 * time.Second,
		Retry:     resilience.NewRetryConfig(5, time.Second, time.Minute),
	}
}

// Result counts what one run (or one page) did.
type Result struct {
	Listed   int `json:"listed"`
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Pages    int `json:"pages"`
}

// Add accumulates o into r.
func (r *Result) Add(o Result) {
	r.Listed += o.Listed
	r.Fetched += o.Fetched
	r.Inserted += o.Inserted
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Pages += o.Pages
}

// ProgressFunc receives the running totals after every page. Returning an
// error stops the run.
type ProgressFunc func(ctx context.Context, total Result) error

// Option configures a Cursor.
type Option func(*Cursor)

// WithMetrics records page outcomes and retries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cursor) { c.metrics = m }
}

// WithBreakers guards each account with its own circuit breaker.
func WithBreakers(b *resilience.Breakers) Option {
	return func(c *Cursor) { c.breakers = b }
}

// Cursor runs the fetch loop for one account at a time.
type Cursor struct {
	client   google.Client
	store    Store
	gate     *ratelimit.Gate
	cfg      Config
	metrics  *metrics.Metrics
	breakers *resilience.Breakers
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Cursor. A nil gate disables rate limiting.
func New(client google.Client, store Store, gate *ratelimit.Gate, cfg Config, opts ...Option) *Cursor {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	// A chunk waits for one token per id, so it cannot outgrow the bucket.
	if limit := gate.Capacity(); limit > 0 && cfg.ChunkSize > limit {
		zap.L().Warn("fetch: chunk size exceeds rate limit capacity, clamping",
			zap.Int("chunk_size", cfg.ChunkSize),
			zap.Int("capacity", limit),
		)
		cfg.ChunkSize = limit
	}
	if cfg.PagePause < 0 {
		cfg.PagePause = 0
	}
	c := &Cursor{
		client: client,
		store:  store,
		gate:   gate,
		cfg:    cfg,
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Query builds the resume query. Gmail's after: filter has day granularity,
// so the last stored day is fetched again and deduplicated on insert.
func Query(lastSeen *time.Time) string {
	if lastSeen == nil {
		return ""
	}
	return "after:" + lastSeen.UTC().Format("2006/01/02")
}

// Run fetches every message for acct newer than the last stored one.
// Progress is committed through progress after every page; on error the
// pages already stored stay stored.
func (c *Cursor) Run(ctx context.Context, acct model.Account, progress ProgressFunc) (Result, error) {
	log := zap.L().With(
		zap.String("account", string(acct.Label)),
		zap.String("account_id", acct.ID),
	)

	last, err := c.store.LatestMessageDate(ctx, acct.ID)
	if err != nil {
		return Result{}, eris.Wrapf(err, "fetch: latest message date for %s", acct.Label)
	}
	query := Query(last)
	log.Info("fetch: starting", zap.String("query", query))

	var total Result
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		ids, next, err := c.listPage(ctx, acct, query, pageToken)
		if err != nil {
			return total, eris.Wrapf(err, "fetch: list page %d for %s", total.Pages+1, acct.Label)
		}

		page, err := c.processPage(ctx, acct, ids, log)
		page.Pages = 1
		total.Add(page)
		c.metrics.FetchPage(string(acct.Label), page.Inserted, page.Skipped, page.Failed)
		if err != nil {
			return total, err
		}

		if progress != nil {
			if err := progress(ctx, total); err != nil {
				return total, err
			}
		}

		log.Debug("fetch: page done",
			zap.Int("page", total.Pages),
			zap.Int("listed", page.Listed),
			zap.Int("inserted", page.Inserted),
			zap.Int("skipped", page.Skipped),
			zap.Int("failed", page.Failed),
		)

		if next == "" || len(ids) == 0 {
			break
		}
		pageToken = next
		if err := c.sleep(ctx, c.cfg.PagePause); err != nil {
			return total, err
		}
	}

	log.Info("fetch: complete",
		zap.Int("pages", total.Pages),
		zap.Int("listed", total.Listed),
		zap.Int("inserted", total.Inserted),
		zap.Int("skipped", total.Skipped),
		zap.Int("failed", total.Failed),
	)
	return total, nil
}

type listResult struct {
	ids  []string
	next string
}

func (c *Cursor) listPage(ctx context.Context, acct model.Account, query, pageToken string) ([]string, string, error) {
	if err := c.gate.Wait(ctx, 1); err != nil {
		return nil, "", err
	}
	cfg := c.retryConfig("messages.list", func() int { return 1 })
	res, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (listResult, error) {
		return guardVal(ctx, c.breakers, acct, func(ctx context.Context) (listResult, error) {
			ids, next, err := c.client.ListMessageIDs(ctx, query, pageToken, c.cfg.PageSize)
			return listResult{ids: ids, next: next}, err
		})
	})
	if err != nil {
		return nil, "", err
	}
	return res.ids, res.next, nil
}

// processPage fetches ids in chunks and inserts what came back. The error
// is non-nil only when the run must stop (cancellation, limiter timeout,
// open circuit).
func (c *Cursor) processPage(ctx context.Context, acct model.Account, ids []string, log *zap.Logger) (Result, error) {
	res := Result{Listed: len(ids)}
	for start := 0; start < len(ids); start += c.cfg.ChunkSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		chunk := ids[start:min(start+c.cfg.ChunkSize, len(ids))]

		got, failed, err := c.fetchChunk(ctx, acct, chunk)
		if err != nil {
			return res, err
		}
		for id, ferr := range failed {
			log.Warn("fetch: message failed", zap.String("message_id", id), zap.Error(ferr))
		}
		res.Failed += len(failed)

		batch := make([]model.Message, 0, len(got))
		for _, id := range chunk {
			m, ok := got[id]
			if !ok || m == nil {
				continue
			}
			msg := *m
			msg.UserID = acct.UserID
			msg.AccountID = acct.ID
			msg.AccountLabel = acct.Label
			batch = append(batch, msg)
		}
		res.Fetched += len(batch)
		if len(batch) == 0 {
			continue
		}

		n, err := c.store.InsertMessages(ctx, batch)
		if err != nil {
			log.Warn("fetch: insert failed", zap.Int("messages", len(batch)), zap.Error(err))
			res.Failed += len(batch)
			continue
		}
		res.Inserted += int(n)
		res.Skipped += len(batch) - int(n)
	}
	return res, nil
}

// fetchChunk gets metadata for ids, retrying only the ids that failed with
// a transient error. Ids still failing after the retry budget are returned
// in failed.
func (c *Cursor) fetchChunk(ctx context.Context, acct model.Account, ids []string) (map[string]*model.Message, map[string]error, error) {
	if err := c.gate.Wait(ctx, len(ids)); err != nil {
		return nil, nil, err
	}

	got := make(map[string]*model.Message, len(ids))
	failed := make(map[string]error)
	pending := ids

	cfg := c.retryConfig("messages.get", func() int { return len(pending) })
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		_, err := guardVal(ctx, c.breakers, acct, func(ctx context.Context) (struct{}, error) {
			msgs, errs := c.client.GetMessagesBatch(ctx, pending)
			for id, m := range msgs {
				got[id] = m
				delete(failed, id)
			}

			var retry []string
			var lastErr error
			for id, err := range errs {
				failed[id] = err
				if resilience.IsTransient(err) {
					retry = append(retry, id)
					lastErr = err
				}
			}
			if len(retry) == 0 {
				return struct{}{}, nil
			}
			slices.Sort(retry)
			pending = retry
			return struct{}{}, lastErr
		})
		return err
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, ctxErr
	}
	if err != nil && !resilience.IsTransient(err) {
		return nil, nil, err
	}
	return got, failed, nil
}

// guardVal runs fn through the account's circuit breaker when one is set.
func guardVal[T any](ctx context.Context, b *resilience.Breakers, acct model.Account, fn func(ctx context.Context) (T, error)) (T, error) {
	if b == nil {
		return fn(ctx)
	}
	return resilience.ExecuteVal(ctx, b.Get(acct.ID), fn)
}

// retryConfig re-enters the limiter for the calls about to be retried.
func (c *Cursor) retryConfig(op string, tokens func() int) resilience.RetryConfig {
	cfg := c.cfg.Retry
	cfg.OnRetry = resilience.RetryLogger("gmail", op)
	cfg.BeforeRetry = func(ctx context.Context, _ int, err error) error {
		c.metrics.Retry(op)
		if resilience.IsRateLimited(err) {
			zap.L().Warn("fetch: rate limited by provider", zap.String("operation", op))
		}
		return c.gate.Wait(ctx, tokens())
	}
	return cfg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
