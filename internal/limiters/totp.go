package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/securestorage/authcore/cache"
)

const (
	defaultTOTPMaxAttempts = 5
	// DefaultTOTPCooldown is how long failures against one user are remembered.
	DefaultTOTPCooldown = time.Minute
)

var (
	// ErrTOTPRateLimited means the user has too many recent wrong codes.
	ErrTOTPRateLimited = errors.New("totp rate limited")
)

// TOTPLimiterConfig holds thresholds for code verification outside a login
// challenge.
type TOTPLimiterConfig struct {
	MaxAttempts int
}

// TOTPLimiter throttles wrong TOTP codes per user. The counter it is given
// determines the cooldown window.
type TOTPLimiter struct {
	counter     cache.Counter
	maxAttempts int64
}

// NewTOTPLimiter creates a limiter. A zero MaxAttempts falls back to 5.
func NewTOTPLimiter(counter cache.Counter, cfg TOTPLimiterConfig) *TOTPLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultTOTPMaxAttempts
	}
	return &TOTPLimiter{counter: counter, maxAttempts: int64(max)}
}

// Check returns ErrTOTPRateLimited once the user has used up their attempts.
func (l *TOTPLimiter) Check(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	n, err := l.counter.Count(ctx, userID)
	if err != nil {
		return err
	}
	if n >= l.maxAttempts {
		return ErrTOTPRateLimited
	}
	return nil
}

// RecordFailure counts one wrong code.
func (l *TOTPLimiter) RecordFailure(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	n, err := l.counter.Increment(ctx, userID)
	if err != nil {
		return err
	}
	if n >= l.maxAttempts {
		return ErrTOTPRateLimited
	}
	return nil
}

// Reset clears the user's failures after a correct code.
func (l *TOTPLimiter) Reset(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	return l.counter.Evict(ctx, userID)
}
