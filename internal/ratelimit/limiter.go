// Package ratelimit implements sliding-window admission control keyed by an
// arbitrary identity string, backed by a shared counting store.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leadflowhq/leadstream/internal/telemetry"
)

// Clock supplies the current time so window math is testable.
type Clock interface {
	Now() time.Time
}

// Store abstracts the shared counting backend. Implementations must be safe
// for concurrent use.
type Store interface {
	// CountInWindow removes entries for key older than cutoff and returns
	// how many remain.
	CountInWindow(ctx context.Context, key string, cutoff time.Time) (int64, error)
	// Record appends an entry stamped now and refreshes the key's TTL.
	Record(ctx context.Context, key string, now time.Time, ttl time.Duration) error
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Config controls Limiter behavior.
type Config struct {
	// FailOpen admits requests when the store is unreachable. This is a
	// deliberate availability-over-strictness posture; set false to deny
	// instead.
	FailOpen bool
	Clock    Clock
	Logger   *zap.Logger
}

// Limiter counts admissions per key over a trailing window.
//
// The prune/count/record sequence is not atomic across store round-trips:
// under concurrent access the admitted count may transiently exceed the
// limit by at most the number of in-flight calls. That bound is accepted by
// design; see the package tests.
type Limiter struct {
	store    Store
	failOpen bool
	clock    Clock
	logger   *zap.Logger
}

// New constructs a Limiter around the given store.
func New(store Store, cfg Config) *Limiter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Limiter{
		store:    store,
		failOpen: cfg.FailOpen,
		clock:    clock,
		logger:   logger,
	}
}

// Admit decides whether one more request for key is allowed given limit
// requests per window. Store failures never surface to the caller; they
// resolve to the configured fail-open policy.
func (l *Limiter) Admit(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 || window <= 0 {
		return Decision{Allowed: true}
	}
	now := l.clock.Now()
	cutoff := now.Add(-window)

	count, err := l.store.CountInWindow(ctx, key, cutoff)
	if err != nil {
		return l.storeFailure(key, err)
	}
	if count >= int64(limit) {
		telemetry.ObserveRateLimitDecision("denied")
		l.logger.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("window", window),
		)
		return Decision{Allowed: false, Remaining: 0, RetryAfter: window}
	}
	if err := l.store.Record(ctx, key, now, window); err != nil {
		return l.storeFailure(key, err)
	}
	telemetry.ObserveRateLimitDecision("allowed")
	return Decision{Allowed: true, Remaining: limit - int(count) - 1}
}

func (l *Limiter) storeFailure(key string, err error) Decision {
	if l.failOpen {
		telemetry.ObserveRateLimitDecision("failopen")
		l.logger.Warn("rate limit store unavailable, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		return Decision{Allowed: true}
	}
	telemetry.ObserveRateLimitDecision("denied")
	l.logger.Error("rate limit store unavailable, failing closed",
		zap.String("key", key),
		zap.Error(err),
	)
	return Decision{Allowed: false}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
