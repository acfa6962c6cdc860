package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = time.Minute

type memoryBucket struct {
	hits   []time.Time
	window time.Duration
}

// MemoryLimiter is a process-local sliding-window limiter for single
// instances and tests. Idle buckets are dropped once their window passes.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*memoryBucket
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*memoryBucket), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, rule Rule) (Decision, error) {
	now := l.now()

	// a rule with no budget denies everything
	if rule.Limit <= 0 {
		return denied(rule, rule.Window), nil
	}

	bucketKey := rule.Name + ":" + key
	cutoff := now.Add(-rule.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	b, ok := l.buckets[bucketKey]
	if !ok {
		b = &memoryBucket{window: rule.Window}
		l.buckets[bucketKey] = b
	}
	b.window = rule.Window

	kept := b.hits[:0]
	for _, h := range b.hits {
		if h.After(cutoff) {
			kept = append(kept, h)
		}
	}
	b.hits = kept

	if len(kept) >= rule.Limit {
		return denied(rule, kept[0].Add(rule.Window).Sub(now)), nil
	}

	b.hits = append(b.hits, now)
	return allowed(rule, int64(len(b.hits))), nil
}

// sweep drops buckets whose newest hit is outside their window. Callers hold mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if len(b.hits) == 0 || !b.hits[len(b.hits)-1].After(now.Add(-b.window)) {
			delete(l.buckets, k)
		}
	}
}

// Len returns the number of live buckets.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
