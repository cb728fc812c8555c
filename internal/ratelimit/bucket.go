// Package ratelimit implements a token bucket whose state can be shared by
// every worker process. Refill and decrement always happen in one atomic
// step inside the backing Store.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrTimeout is returned by Wait when tokens did not become available in time.
	ErrTimeout = errors.New("ratelimit: timed out waiting for tokens")

	// ErrExceedsCapacity is returned when a request asks for more tokens than
	// the bucket can ever hold.
	ErrExceedsCapacity = errors.New("ratelimit: request exceeds bucket capacity")
)

const minPollInterval = 100 * time.Millisecond

// Store performs the atomic refill-then-take on a named bucket. It returns
// true only if n tokens were available and were consumed.
type Store interface {
	Take(ctx context.Context, key string, n float64, spec Spec) (bool, error)
}

// Spec describes a bucket's capacity and refill rate (tokens per second).
type Spec struct {
	MaxTokens  float64
	RefillRate float64
}

// Bucket is a token bucket stored under Key in a Store.
type Bucket struct {
	store Store
	key   string
	spec  Spec
	poll  time.Duration
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a bucket. maxTokens and refillRate must be positive.
func New(store Store, key string, maxTokens, refillRate float64) (*Bucket, error) {
	if maxTokens <= 0 || refillRate <= 0 {
		return nil, eris.Errorf("ratelimit: invalid bucket %q: max_tokens=%v refill_rate=%v", key, maxTokens, refillRate)
	}
	return &Bucket{
		store: store,
		key:   key,
		spec:  Spec{MaxTokens: maxTokens, RefillRate: refillRate},
		poll:  PollInterval(refillRate),
		sleep: sleepCtx,
	}, nil
}

// PollInterval is how often Wait retries: the time to refill one token,
// but never more often than every 100ms.
func PollInterval(refillRate float64) time.Duration {
	return max(time.Duration(float64(time.Second)/refillRate), minPollInterval)
}

// Key returns the bucket's store key.
func (b *Bucket) Key() string { return b.key }

// Capacity is the largest whole request Acquire accepts.
func (b *Bucket) Capacity() int { return int(b.spec.MaxTokens) }

// Acquire takes n tokens without blocking. It reports whether they were taken.
func (b *Bucket) Acquire(ctx context.Context, n int) (bool, error) {
	if float64(n) > b.spec.MaxTokens {
		return false, eris.Wrapf(ErrExceedsCapacity, "acquire %d of %v", n, b.spec.MaxTokens)
	}
	if n <= 0 {
		return true, nil
	}
	ok, err := b.store.Take(ctx, b.key, float64(n), b.spec)
	if err != nil {
		return false, eris.Wrapf(err, "ratelimit: take %d from %s", n, b.key)
	}
	return ok, nil
}

// Wait blocks until n tokens are acquired, the timeout elapses (ErrTimeout),
// or ctx is done.
func (b *Bucket) Wait(ctx context.Context, n int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := b.Acquire(ctx, n)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return eris.Wrapf(ErrTimeout, "waited %s for %d tokens on %s", timeout, n, b.key)
		}
		if err := b.sleep(ctx, min(b.poll, left)); err != nil {
			return eris.Wrap(err, "ratelimit: wait")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Limiter is the view of a Bucket used by callers that only need to block.
type Limiter interface {
	Wait(ctx context.Context, n int, timeout time.Duration) error
}

// Gate binds a Limiter to a fixed timeout.
type Gate struct {
	Limiter Limiter
	Timeout time.Duration
}

// Capacity is the most tokens one Wait may ask for, or 0 when the limiter
// does not say.
func (g *Gate) Capacity() int {
	if g == nil {
		return 0
	}
	if c, ok := g.Limiter.(interface{ Capacity() int }); ok {
		return c.Capacity()
	}
	return 0
}

// Wait blocks for n tokens using the gate's timeout. A nil gate never blocks.
func (g *Gate) Wait(ctx context.Context, n int) error {
	if g == nil || g.Limiter == nil {
		return nil
	}
	return g.Limiter.Wait(ctx, n, g.Timeout)
}
