package limiters

import (
	"context"
	"strings"

	"github.com/securestorage/authcore/cache"
)

// DefaultLockoutThreshold is the number of attempts tolerated inside one
// window. The attempt after it locks the account.
const DefaultLockoutThreshold = 5

// LockoutConfig holds configuration for login attempt tracking.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
}

// Attempt is the outcome of recording one login attempt.
type Attempt struct {
	// Count is the number of attempts in the current window, this one included.
	Count int64
	// FreshWindow is true when no earlier attempt survives in the window.
	FreshWindow bool
	// Exceeded is true once Count passes the threshold.
	Exceeded bool
}

// AttemptTracker counts login attempts per identity key over a decaying
// counter. It only counts; the caller decides what a lock means.
type AttemptTracker struct {
	counter cache.Counter
	config  LockoutConfig
}

// NewAttemptTracker creates a tracker. A non-positive threshold falls back to
// DefaultLockoutThreshold.
func NewAttemptTracker(counter cache.Counter, cfg LockoutConfig) *AttemptTracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultLockoutThreshold
	}
	return &AttemptTracker{counter: counter, config: cfg}
}

// Threshold returns the configured attempt threshold.
func (t *AttemptTracker) Threshold() int {
	return t.config.Threshold
}

func key(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Record counts one attempt for identity. A disabled tracker counts nothing:
// it never exceeds and never opens a fresh window, so it cannot release a lock.
func (t *AttemptTracker) Record(ctx context.Context, identity string) (Attempt, error) {
	if t == nil || !t.config.Enabled || identity == "" {
		return Attempt{}, nil
	}

	n, err := t.counter.Increment(ctx, key(identity))
	if err != nil {
		return Attempt{}, err
	}
	return Attempt{
		Count:       n,
		FreshWindow: n == 1,
		Exceeded:    n > int64(t.config.Threshold),
	}, nil
}

// Reset forgets every attempt recorded for identity.
func (t *AttemptTracker) Reset(ctx context.Context, identity string) error {
	if t == nil || !t.config.Enabled || identity == "" {
		return nil
	}
	return t.counter.Evict(ctx, key(identity))
}

// Count returns the attempts currently recorded for identity.
func (t *AttemptTracker) Count(ctx context.Context, identity string) (int64, error) {
	if t == nil || !t.config.Enabled || identity == "" {
		return 0, nil
	}
	return t.counter.Count(ctx, key(identity))
}
