package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/securestorage/authcore/cache"
	internalaudit "github.com/securestorage/authcore/internal/audit"
	"github.com/securestorage/authcore/internal/flows"
	"github.com/securestorage/authcore/internal/limiters"
	"github.com/securestorage/authcore/internal/stores"
	"github.com/securestorage/authcore/jwt"
	"github.com/securestorage/authcore/password"
	"github.com/securestorage/authcore/totp"
)

// Engine authenticates logins, issues and rotates session tokens, and runs
// the account flows around them. It is safe for concurrent use once built.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	users         UserDirectory
	credentials   CredentialStore
	confirmations ConfirmationStore
	notifier      Notifier

	codec     *jwt.Codec
	cookies   jwt.CookieConfig
	hasher    password.Hasher
	dummyHash string

	attempts      *limiters.AttemptTracker
	totp          *totp.Engine
	totpLimiter   *limiters.TOTPLimiter
	challenges    stores.ChallengeStore
	resetGrants   stores.ChallengeStore
	acceptedSteps *cache.Store[int64]

	flows flows.Deps

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	closers []func()
}

// Close flushes pending audit events and stops background janitors.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	for _, c := range e.closers {
		c()
	}
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters for an exporter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.users != nil && e.credentials != nil && e.codec != nil && e.hasher != nil
}

// issueTokens mints an access and a refresh token for the same instant.
func (e *Engine) issueTokens(userID string, authorities []string) (string, string, error) {
	issuedAt := e.now()
	access, err := e.codec.Mint(jwt.Access, userID, authorities, issuedAt)
	if err != nil {
		return "", "", err
	}
	refresh, err := e.codec.Mint(jwt.Refresh, userID, authorities, issuedAt)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Authorize validates an access token and returns its principal. Every
// failure is ErrInvalidToken.
func (e *Engine) Authorize(token string) (*Principal, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	claims, err := e.codec.ValidateKind(jwt.Access, token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &Principal{UserID: claims.Subject, Authorities: claims.Authorities}, nil
}

// saveIdentity is the read-modify-write used by every flag change. mutate
// sees the freshest record the directory has.
func (e *Engine) saveIdentity(ctx context.Context, userID string, mutate func(*Identity)) (*Identity, error) {
	if u, ok := e.users.(IdentityUpdater); ok {
		return u.Update(ctx, userID, func(i *Identity) {
			mutate(i)
			i.UpdatedAt = e.now()
		})
	}
	identity, err := e.users.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	mutate(identity)
	identity.UpdatedAt = e.now()
	if err := e.users.Save(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// lookupError keeps ErrIdentityNotFound and reports anything else as a
// backend outage.
func lookupError(err error) error {
	if errors.Is(err, ErrIdentityNotFound) ||
		errors.Is(err, ErrCredentialNotFound) ||
		errors.Is(err, ErrConfirmationNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
