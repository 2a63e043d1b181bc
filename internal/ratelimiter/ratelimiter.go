// Package ratelimiter implements the two-bucket token-rate limiter the
// exchange client shell depends on: one bucket for query operations and one
// for order operations, each additionally enforcing a minimum inter-request
// spacing even when tokens are available, to defeat upstream burst
// detection.
//
// Built on golang.org/x/time/rate: a proactive token bucket rather than a
// reactive retry-after-failure loop, so throttling happens before the
// upstream ever sees the request.
package ratelimiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

// Kind classifies an operation into one of the two buckets.
type Kind string

const (
	KindQuery Kind = "query"
	KindOrder Kind = "order"
)

// OpClassifier maps an opaque operation id to a bucket Kind. Unknown ids
// default to KindQuery. This mapping is part of the
// ExchangeClient contract, so it lives here rather than being hardcoded.
type OpClassifier func(opID string) Kind

// DefaultClassifier classifies the operation ids the ExchangeClient's
// typed facade uses.
func DefaultClassifier(opID string) Kind {
	switch opID {
	case "place-buy", "place-sell", "modify", "cancel":
		return KindOrder
	default:
		return KindQuery
	}
}

// Config tunes one bucket.
type Config struct {
	Capacity        int           // tokens, default 5
	RefillPerSecond float64       // tokens/sec, default 5
	MinInterval     time.Duration // minimum spacing between acquires, default 700ms
}

// DefaultConfig returns this package's conservative defaults.
func DefaultConfig() Config {
	return Config{Capacity: 5, RefillPerSecond: 5, MinInterval: 700 * time.Millisecond}
}

type bucket struct {
	limiter     *rate.Limiter
	minInterval time.Duration

	mu          sync.Mutex
	lastRequest time.Time

	requests int64
	waitTime time.Duration
}

func newBucket(cfg Config) *bucket {
	return &bucket{
		limiter:     rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity),
		minInterval: cfg.MinInterval,
	}
}

// RateLimiter owns the query and order buckets.
type RateLimiter struct {
	classifier OpClassifier
	buckets    map[Kind]*bucket
	log        zerolog.Logger
}

// New constructs a RateLimiter with the given per-kind configs and
// classifier. A nil classifier falls back to DefaultClassifier.
func New(queryCfg, orderCfg Config, classifier OpClassifier, log zerolog.Logger) *RateLimiter {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return &RateLimiter{
		classifier: classifier,
		buckets: map[Kind]*bucket{
			KindQuery: newBucket(queryCfg),
			KindOrder: newBucket(orderCfg),
		},
		log: log.With().Str("component", "ratelimiter").Logger(),
	}
}

// Acquire blocks cooperatively until a token is available for opID's bucket
// and at least MinInterval has elapsed since the last request of that kind,
// then consumes one token. Returns types.ErrRateLimitExceeded (wrapped) if
// ctx's deadline is hit first.
func (r *RateLimiter) Acquire(ctx context.Context, opID string) error {
	kind := r.classifier(opID)
	b, ok := r.buckets[kind]
	if !ok {
		b = r.buckets[KindQuery]
	}
	return r.acquireBucket(ctx, kind, b)
}

func (r *RateLimiter) acquireBucket(ctx context.Context, kind Kind, b *bucket) error {
	start := time.Now()

	// Enforce minimum inter-request spacing first: this holds the bucket's
	// own mutex only briefly, then the caller sleeps unlocked, matching the
	// concurrency model's "guarded by a mutex, sleep unlocked" rule.
	b.mu.Lock()
	var sleepFor time.Duration
	if !b.lastRequest.IsZero() {
		elapsed := time.Since(b.lastRequest)
		if elapsed < b.minInterval {
			sleepFor = b.minInterval - elapsed
		}
	}
	b.mu.Unlock()

	if sleepFor > 0 {
		t := time.NewTimer(sleepFor)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return types.NewError(types.ErrRateLimitExceeded, types.CodeRateLimitExceeded,
				fmt.Sprintf("deadline exceeded waiting for %s min-interval spacing", kind))
		}
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return types.NewError(types.ErrRateLimitExceeded, types.CodeRateLimitExceeded,
			fmt.Sprintf("deadline exceeded waiting for %s token: %v", kind, err))
	}

	b.mu.Lock()
	b.lastRequest = time.Now()
	b.requests++
	b.waitTime += time.Since(start)
	b.mu.Unlock()

	return nil
}

// Stats is the cumulative-counter snapshot exposed for observability.
type Stats struct {
	Requests int64
	WaitTime time.Duration
}

// StatsFor returns the cumulative request count and total wait time for the
// given kind.
func (r *RateLimiter) StatsFor(kind Kind) Stats {
	b, ok := r.buckets[kind]
	if !ok {
		return Stats{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Requests: b.requests, WaitTime: b.waitTime}
}
