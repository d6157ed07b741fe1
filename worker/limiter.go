package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxConcurrency = 3
	defaultSpawnStagger   = 2 * time.Second
)

// KindLimiter rate-limits and bounds the concurrency of worker spawns per
// Kind (C7): a per-kind semaphore caps how many workers of a given kind run
// at once, and a per-kind rate.Limiter enforces a minimum stagger between
// successive spawns of the same kind, so a plan group with many steps of the
// same worker kind does not hammer the external CLI all at once.
//
// KindLimiter has no notion of tokens or backoff; unlike the model client's
// AdaptiveRateLimiter it never adapts its rate in response to failures —
// the orchestrator's concurrency caps are a fixed configuration knob, not a
// reaction to provider-side throttling.
type KindLimiter struct {
	maxConcurrency int
	spawnInterval  time.Duration

	mu       sync.Mutex
	sem      map[Kind]chan struct{}
	limiters map[Kind]*rate.Limiter
}

// NewKindLimiter constructs a KindLimiter. maxConcurrency <= 0 defaults to 3
// concurrent workers per kind; spawnInterval <= 0 defaults to a 2s stagger.
func NewKindLimiter(maxConcurrency int, spawnInterval time.Duration) *KindLimiter {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	if spawnInterval <= 0 {
		spawnInterval = defaultSpawnStagger
	}
	return &KindLimiter{
		maxConcurrency: maxConcurrency,
		spawnInterval:  spawnInterval,
		sem:            make(map[Kind]chan struct{}),
		limiters:       make(map[Kind]*rate.Limiter),
	}
}

// Acquire blocks until a spawn slot for kind is available: first the
// per-kind stagger interval, then the per-kind concurrency semaphore. The
// returned release func must be called exactly once, typically via defer,
// once the worker for this spawn has finished.
func (l *KindLimiter) Acquire(ctx context.Context, kind Kind) (release func(), err error) {
	sem, lim := l.forKind(kind)

	if err := lim.Wait(ctx); err != nil {
		return nil, err
	}
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-sem })
	}, nil
}

func (l *KindLimiter) forKind(kind Kind) (chan struct{}, *rate.Limiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sem[kind]
	if !ok {
		sem = make(chan struct{}, l.maxConcurrency)
		l.sem[kind] = sem
	}
	lim, ok := l.limiters[kind]
	if !ok {
		// One permit every spawnInterval, with a burst of 1: the bucket
		// starts full so the first spawn of a kind proceeds immediately,
		// and every spawn after that waits out the stagger interval.
		lim = rate.NewLimiter(rate.Every(l.spawnInterval), 1)
		l.limiters[kind] = lim
	}
	return sem, lim
}
