package anthropic

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tooeysb/gmail-obsidian-integration/internal/resilience"
)

const (
	defaultBatchPollInitial  = 10 * time.Second
	defaultBatchPollCap      = 60 * time.Second
	defaultBatchPollAttempts = 60
	defaultBatchPollTimeout  = 30 * time.Minute
)

var (
	// ErrPollTimeout is returned when a batch has not ended within the
	// polling budget.
	ErrPollTimeout = errors.New("anthropic: batch poll budget exhausted")

	// ErrBatchFailed is returned when a batch stops in any state other
	// than ended.
	ErrBatchFailed = errors.New("anthropic: batch did not complete")
)

// PollOption configures batch polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial  time.Duration
	cap      time.Duration
	attempts int
	timeout  time.Duration
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		initial:  defaultBatchPollInitial,
		cap:      defaultBatchPollCap,
		attempts: defaultBatchPollAttempts,
		timeout:  defaultBatchPollTimeout,
	}
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.initial = d
		}
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.cap = d
		}
	}
}

// WithPollAttempts overrides the maximum number of status checks.
func WithPollAttempts(n int) PollOption {
	return func(c *pollConfig) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithPollTimeout overrides the total polling budget.
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// PollBatch checks the batch status until it ends. The interval starts at
// 10s and doubles up to 60s with ±20% jitter. The budget is 60 checks or 30
// minutes, whichever runs out first; exceeding it returns ErrPollTimeout.
// Transient status errors use up an attempt and polling continues. A batch
// that stops in any state other than ended returns ErrBatchFailed.
func PollBatch(ctx context.Context, client Client, batchID string, opts ...PollOption) (*BatchResponse, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	pollCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	log := zap.L().With(zap.String("batch_id", batchID))
	interval := cfg.initial
	for attempt := 1; attempt <= cfg.attempts; attempt++ {
		batch, err := client.GetBatch(pollCtx, batchID)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil && pollCtx.Err() != nil:
			return nil, eris.Wrapf(ErrPollTimeout, "anthropic: poll batch %s", batchID)
		case err != nil && !resilience.IsTransient(err):
			return nil, eris.Wrap(err, fmt.Sprintf("anthropic: poll batch %s", batchID))
		case err != nil:
			log.Warn("anthropic: transient poll error", zap.Int("attempt", attempt), zap.Error(err))
		default:
			switch batch.ProcessingStatus {
			case StatusEnded:
				return batch, nil
			case StatusInProgress:
				log.Debug("anthropic: batch in progress",
					zap.Int("attempt", attempt),
					zap.Int64("succeeded", batch.RequestCounts.Succeeded),
					zap.Int64("errored", batch.RequestCounts.Errored),
					zap.Int64("total", batch.RequestCounts.Total()),
				)
			default:
				return batch, eris.Wrapf(ErrBatchFailed, "anthropic: batch %s status %q", batchID, batch.ProcessingStatus)
			}
		}

		if attempt == cfg.attempts {
			break
		}

		t := time.NewTimer(interval)
		select {
		case <-pollCtx.Done():
			t.Stop()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, eris.Wrapf(ErrPollTimeout, "anthropic: poll batch %s", batchID)
		case <-t.C:
		}

		interval = nextInterval(interval, cfg.cap)
	}

	return nil, eris.Wrapf(ErrPollTimeout, "anthropic: poll batch %s after %d attempts", batchID, cfg.attempts)
}

// nextInterval doubles d, caps it and applies ±20% jitter.
func nextInterval(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		d = limit
	}
	if span := int64(d) / 5; span > 0 {
		jitter := time.Duration(rand.Int64N(span))
		if rand.IntN(2) == 0 {
			d += jitter
		} else {
			d -= jitter
		}
	}
	return d
}

// BatchFailure records a single failed batch item.
type BatchFailure struct {
	CustomID string
	Type     string // errored, canceled or expired
}

// BatchCollectResult holds both succeeded and failed items from a batch.
type BatchCollectResult struct {
	Succeeded map[string]*MessageResponse
	Failures  []BatchFailure
	Usage     TokenUsage
}

// CollectBatchResultsDetailed drains a BatchResultIterator and returns
// succeeded results, failed items and the summed token usage.
func CollectBatchResultsDetailed(iter BatchResultIterator) (*BatchCollectResult, error) {
	defer iter.Close() //nolint:errcheck

	result := &BatchCollectResult{
		Succeeded: make(map[string]*MessageResponse),
	}
	for iter.Next() {
		item := iter.Item()
		if item.Type == ResultSucceeded && item.Message != nil {
			result.Succeeded[item.CustomID] = item.Message
			result.Usage = result.Usage.Add(item.Message.Usage)
			continue
		}
		result.Failures = append(result.Failures, BatchFailure{
			CustomID: item.CustomID,
			Type:     item.Type,
		})
		zap.L().Warn("anthropic: batch item failed",
			zap.String("custom_id", item.CustomID),
			zap.String("type", item.Type),
		)
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "anthropic: collect batch results")
	}

	if len(result.Failures) > 0 {
		zap.L().Warn("anthropic: batch had failed items",
			zap.Int("succeeded", len(result.Succeeded)),
			zap.Int("failed", len(result.Failures)),
		)
	}
	return result, nil
}
