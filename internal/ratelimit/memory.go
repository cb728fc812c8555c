package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryStore keeps buckets in process memory. Each bucket is an
// x/time/rate limiter, whose AllowN refills and takes under its own mutex.
type MemoryStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{limiters: make(map[string]*rate.Limiter), now: time.Now}
}

// Take implements Store.
func (m *MemoryStore) Take(_ context.Context, key string, n float64, spec Spec) (bool, error) {
	lim := m.limiter(key, spec)
	return lim.AllowN(m.now(), int(n)), nil
}

func (m *MemoryStore) limiter(key string, spec Spec) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[key]
	if !ok {
		// A fresh bucket starts full.
		lim = rate.NewLimiter(rate.Limit(spec.RefillRate), int(spec.MaxTokens))
		m.limiters[key] = lim
	}
	return lim
}
