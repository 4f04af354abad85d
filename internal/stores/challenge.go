package stores

import (
	"context"
	"errors"
	"time"

	"github.com/securestorage/authcore/cache"
)

var (
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeExpired  = errors.New("mfa challenge expired")
	ErrChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// Challenge is a pending second factor: the password step passed for UserID
// and a TOTP code is still owed.
type Challenge struct {
	UserID    string
	ExpiresAt int64
	Attempts  uint16
}

func (c *Challenge) expired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// ChallengeStore persists pending MFA challenges by opaque id.
//
// RecordFailure counts one wrong code and reports whether maxAttempts has been
// reached, in which case the challenge is already gone.
type ChallengeStore interface {
	Save(ctx context.Context, id string, c *Challenge) error
	Get(ctx context.Context, id string) (*Challenge, error)
	Delete(ctx context.Context, id string) (bool, error)
	RecordFailure(ctx context.Context, id string, maxAttempts int) (bool, error)
}

// MemoryChallengeStore keeps challenges in process.
type MemoryChallengeStore struct {
	store *cache.Store[Challenge]
	now   func() time.Time
}

// NewMemoryChallengeStore creates a store whose entries are dropped ttl after
// creation regardless of ExpiresAt.
func NewMemoryChallengeStore(ttl time.Duration, now func() time.Time) *MemoryChallengeStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryChallengeStore{
		store: cache.New[Challenge](ttl, cache.WithClock(now), cache.WithJanitor(ttl)),
		now:   now,
	}
}

func (s *MemoryChallengeStore) Save(_ context.Context, id string, c *Challenge) error {
	s.store.Put(id, *c)
	return nil
}

func (s *MemoryChallengeStore) Get(_ context.Context, id string) (*Challenge, error) {
	c, ok := s.store.Get(id)
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if c.expired(s.now()) {
		s.store.Evict(id)
		return nil, ErrChallengeExpired
	}
	return &c, nil
}

func (s *MemoryChallengeStore) Delete(_ context.Context, id string) (bool, error) {
	var existed bool
	s.store.Compute(id, func(_ Challenge, ok bool) (Challenge, bool) {
		existed = ok
		return Challenge{}, false
	})
	return existed, nil
}

func (s *MemoryChallengeStore) RecordFailure(_ context.Context, id string, maxAttempts int) (bool, error) {
	var (
		exceeded bool
		err      error
	)
	now := s.now()
	s.store.Compute(id, func(c Challenge, ok bool) (Challenge, bool) {
		switch {
		case !ok:
			err = ErrChallengeNotFound
			return c, false
		case c.expired(now):
			err = ErrChallengeExpired
			return c, false
		}
		c.Attempts++
		if int(c.Attempts) >= maxAttempts {
			exceeded = true
			return c, false
		}
		return c, true
	})
	return exceeded, err
}

// Close stops the background janitor.
func (s *MemoryChallengeStore) Close() {
	s.store.Close()
}
