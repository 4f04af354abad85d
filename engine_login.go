package authcore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/securestorage/authcore/internal/flows"
	"github.com/securestorage/authcore/internal/limiters"
	"github.com/securestorage/authcore/internal/stores"
	"github.com/securestorage/authcore/password"
)

// Login checks email and password. On success it returns tokens, or, for an
// account with MFA enabled, a challenge id to pass to ConfirmLoginMFA.
//
// Failures are ErrBadCredentials for anything that would reveal whether the
// email exists, and the explicit account status errors otherwise. Every
// attempt against a known email counts toward the lockout threshold.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	res, err := flows.RunLogin(ctx, email, password, e.flows.Login)
	if e.metrics != nil {
		e.metrics.Observe(MetricLoginLatency, e.now().Sub(start))
	}
	return toLoginResult(res), err
}

// ConfirmLoginMFA completes a login that returned MFARequired.
func (e *Engine) ConfirmLoginMFA(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res, err := flows.RunConfirmLoginMFA(ctx, challengeID, code, e.flows.Login)
	return toLoginResult(res), err
}

func toLoginResult(res *flows.LoginResult) *LoginResult {
	if res == nil {
		return nil
	}
	return &LoginResult{
		UserID:       res.UserID,
		Authorities:  res.Authorities,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		MFARequired:  res.MFARequired,
		ChallengeID:  res.ChallengeID,
	}
}

func toLoginAccount(i *Identity) flows.LoginAccount {
	return flows.LoginAccount{
		UserID:        i.UserID,
		Email:         i.Email,
		Authorities:   i.Authorities,
		Enabled:       i.Enabled,
		NonExpired:    i.NonExpired,
		NonLocked:     i.NonLocked,
		MFAEnabled:    i.MFAEnabled,
		MFASecret:     i.MFASecret,
		LoginAttempts: i.LoginAttempts,
	}
}

func (e *Engine) loginDeps() flows.LoginDeps {
	return flows.LoginDeps{
		CredentialMaxAge:              e.config.Credential.MaxAge,
		EqualizeUnknownIdentityTiming: e.config.Security.EqualizeUnknownIdentityTiming,
		MFAChallengeTTL:               e.config.TOTP.MFAChallengeTTL,
		MFAMaxAttempts:                e.config.TOTP.MFAMaxAttempts,
		EnforceReplayProtection:       e.config.TOTP.EnforceReplayProtection,
		LockThreshold:                 e.attempts.Threshold(),

		Now:                 e.now,
		ClientIPFromContext: ClientIPFromContext,

		FindByEmail: func(ctx context.Context, email string) (flows.LoginAccount, error) {
			identity, err := e.users.FindByEmail(ctx, email)
			if err != nil {
				return flows.LoginAccount{}, err
			}
			return toLoginAccount(identity), nil
		},
		FindByUserID: func(ctx context.Context, userID string) (flows.LoginAccount, error) {
			identity, err := e.users.FindByUserID(ctx, userID)
			if err != nil {
				return flows.LoginAccount{}, err
			}
			return toLoginAccount(identity), nil
		},
		SaveLoginState: func(ctx context.Context, userID string, state flows.LoginState) error {
			_, err := e.saveIdentity(ctx, userID, func(i *Identity) {
				if state.Reset || !state.NonLocked {
					i.NonLocked = state.NonLocked
				}
				i.LoginAttempts = state.LoginAttempts
				if !state.LastLogin.IsZero() {
					i.LastLogin = state.LastLogin
				}
			})
			return err
		},
		FindCredential: func(ctx context.Context, userID string) (flows.LoginCredential, error) {
			c, err := e.credentials.FindByUserID(ctx, userID)
			if err != nil {
				return flows.LoginCredential{}, err
			}
			return flows.LoginCredential{Hash: c.Hash, UpdatedAt: c.UpdatedAt}, nil
		},
		VerifyPassword: e.hasher.Verify,
		UpgradeHash:    e.upgradeHash,
		DummyVerify: func(pw string) {
			if e.dummyHash != "" {
				_, _ = e.hasher.Verify(pw, e.dummyHash)
			}
		},
		RecordAttempt: func(ctx context.Context, email string) (limiters.Attempt, error) {
			return e.attempts.Record(ctx, email)
		},
		ResetAttempts: e.attempts.Reset,

		CreateChallenge: func(ctx context.Context, userID string, expiresAt time.Time) (string, error) {
			id := uuid.NewString()
			err := e.challenges.Save(ctx, id, &stores.Challenge{UserID: userID, ExpiresAt: expiresAt.Unix()})
			return id, err
		},
		GetChallenge: func(ctx context.Context, id string) (string, error) {
			c, err := e.challenges.Get(ctx, id)
			if err != nil {
				return "", err
			}
			return c.UserID, nil
		},
		DeleteChallenge:        e.challenges.Delete,
		RecordChallengeFailure: e.challenges.RecordFailure,
		VerifyTOTP:             e.totp.VerifyAt,
		AcceptStep:             e.acceptStep,

		IssueTokens: func(_ context.Context, a flows.LoginAccount) (string, string, error) {
			return e.issueTokens(a.UserID, a.Authorities)
		},

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,
		Warn: func(msg string, args ...any) {
			e.logger.Warn(msg, args...)
		},

		Metrics: flows.LoginMetrics{
			LoginSuccess:        int(MetricLoginSuccess),
			LoginFailure:        int(MetricLoginFailure),
			AccountLocked:       int(MetricAccountLocked),
			LockReleased:        int(MetricLockReleased),
			MFARequired:         int(MetricMFARequired),
			MFASuccess:          int(MetricMFASuccess),
			MFAFailure:          int(MetricMFAFailure),
			MFAReplay:           int(MetricMFAReplay),
			MFAAttemptsExceeded: int(MetricMFAAttemptsExceeded),
		},
		Events: flows.LoginEvents{
			LoginSuccess:  auditEventLoginSuccess,
			LoginFailure:  auditEventLoginFailure,
			AccountLocked: auditEventAccountLocked,
			MFARequired:   auditEventMFARequired,
			MFASuccess:    auditEventMFASuccess,
			MFAFailure:    auditEventMFAFailure,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			BadCredentials:     ErrBadCredentials,
			AccountLocked:      ErrAccountLocked,
			AccountDisabled:    ErrAccountDisabled,
			AccountExpired:     ErrAccountExpired,
			CredentialsExpired: ErrCredentialsExpired,
			InvalidMFACode:     ErrInvalidMFACode,
			MFAChallenge:       ErrMFAChallengeInvalid,
			Unavailable:        ErrUnavailable,
			NotFound:           ErrIdentityNotFound,
		},
	}
}

// acceptStep records step as used for userID. It returns false when the step
// (or a later one) was already accepted.
func (e *Engine) acceptStep(userID string, step int64) bool {
	if e.acceptedSteps == nil {
		return true
	}
	accepted := true
	e.acceptedSteps.Update(userID, func(last int64, ok bool) int64 {
		if ok && step <= last {
			accepted = false
			return last
		}
		return step
	})
	return accepted
}

// upgradeHash rehashes a verified password when its stored hash uses an old
// scheme or cost. Failures are logged; the login already succeeded.
func (e *Engine) upgradeHash(ctx context.Context, userID, pw, hash string) {
	up, ok := e.hasher.(password.Upgrader)
	if !ok {
		return
	}
	needs, err := up.NeedsUpgrade(hash)
	if err != nil || !needs {
		return
	}
	cred, err := e.credentials.FindByUserID(ctx, userID)
	if err != nil {
		e.logger.Warn("password upgrade skipped", "user_id", userID, "error", err)
		return
	}
	newHash, err := e.hasher.Hash(pw)
	if err != nil {
		e.logger.Warn("password upgrade hash failed", "user_id", userID, "error", err)
		return
	}
	// Keep UpdatedAt: an upgrade is not a password change and must not
	// extend the credential's age.
	cred.Hash = newHash
	if err := e.credentials.Save(ctx, cred); err != nil {
		e.logger.Warn("password upgrade save failed", "user_id", userID, "error", err)
	}
}
