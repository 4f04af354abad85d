package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/securestorage/authcore/internal/limiters"
)

// LoginAccount is the flow-local view of an identity.
type LoginAccount struct {
	UserID        string
	Email         string
	Authorities   []string
	Enabled       bool
	NonExpired    bool
	NonLocked     bool
	MFAEnabled    bool
	MFASecret     string
	LoginAttempts int
}

// LoginCredential is the flow-local view of a stored secret.
type LoginCredential struct {
	Hash      string
	UpdatedAt time.Time
}

// LoginState is what a login attempt writes back to the directory. Unless
// Reset is set the write may only clear NonLocked, so concurrent failures
// never undo a lock.
type LoginState struct {
	NonLocked     bool
	LoginAttempts int
	LastLogin     time.Time
	Reset         bool
}

// LoginResult is the flow-local login outcome.
type LoginResult struct {
	UserID       string
	Authorities  []string
	AccessToken  string
	RefreshToken string
	MFARequired  bool
	ChallengeID  string
}

// LoginMetrics carries metric IDs used by the login and MFA flows.
type LoginMetrics struct {
	LoginSuccess        int
	LoginFailure        int
	AccountLocked       int
	LockReleased        int
	MFARequired         int
	MFASuccess          int
	MFAFailure          int
	MFAReplay           int
	MFAAttemptsExceeded int
}

// LoginEvents carries audit event names used by the login and MFA flows.
type LoginEvents struct {
	LoginSuccess  string
	LoginFailure  string
	AccountLocked string
	MFARequired   string
	MFASuccess    string
	MFAFailure    string
}

// LoginErrors carries the host package's sentinel errors.
type LoginErrors struct {
	EngineNotReady     error
	BadCredentials     error
	AccountLocked      error
	AccountDisabled    error
	AccountExpired     error
	CredentialsExpired error
	InvalidMFACode     error
	MFAChallenge       error
	Unavailable        error
	NotFound           error
}

// LoginDeps captures everything the login and MFA confirmation flows touch.
type LoginDeps struct {
	CredentialMaxAge              time.Duration
	EqualizeUnknownIdentityTiming bool
	MFAChallengeTTL               time.Duration
	MFAMaxAttempts                int
	EnforceReplayProtection       bool

	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string

	FindByEmail    func(context.Context, string) (LoginAccount, error)
	FindByUserID   func(context.Context, string) (LoginAccount, error)
	SaveLoginState func(context.Context, string, LoginState) error
	FindCredential func(context.Context, string) (LoginCredential, error)
	VerifyPassword func(string, string) (bool, error)
	UpgradeHash    func(ctx context.Context, userID, password, hash string)
	DummyVerify    func(string)
	RecordAttempt  func(context.Context, string) (limiters.Attempt, error)
	ResetAttempts  func(context.Context, string) error
	LockThreshold  int

	CreateChallenge        func(context.Context, string, time.Time) (string, error)
	GetChallenge           func(context.Context, string) (string, error)
	DeleteChallenge        func(context.Context, string) (bool, error)
	RecordChallengeFailure func(context.Context, string, int) (bool, error)
	VerifyTOTP             func(secret, code string, at time.Time) (bool, int64)
	AcceptStep             func(userID string, step int64) bool

	IssueTokens func(context.Context, LoginAccount) (string, string, error)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, userID, email string, err error, metadata func() map[string]string)
	Warn      func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

func (d *LoginDeps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ClientIPFromContext == nil {
		d.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if d.MetricInc == nil {
		d.MetricInc = func(int) {}
	}
	if d.EmitAudit == nil {
		d.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if d.Warn == nil {
		d.Warn = func(string, ...any) {}
	}
}

// NormalizeEmail lower-cases and trims an email so lookups and counter keys
// agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RunLogin checks the credential of email and either issues tokens or opens an
// MFA challenge.
//
// Every attempt against a known identity is counted before the password is
// compared. The attempt that pushes the count past the threshold clears the
// non-locked flag but is still answered by the password check. Later attempts
// in the same window are refused before any password comparison.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (*LoginResult, error) {
	deps.defaults()
	if deps.FindByEmail == nil ||
		deps.FindCredential == nil ||
		deps.SaveLoginState == nil ||
		deps.VerifyPassword == nil ||
		deps.RecordAttempt == nil ||
		deps.IssueTokens == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email = NormalizeEmail(email)
	fail := func(userID string, err error, reason string) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, email, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return nil, err
	}

	if email == "" || password == "" {
		return fail("", deps.Errors.BadCredentials, "empty_input")
	}

	account, err := deps.FindByEmail(ctx, email)
	if err != nil {
		if deps.EqualizeUnknownIdentityTiming && deps.DummyVerify != nil {
			deps.DummyVerify(password)
		}
		if !errors.Is(err, deps.Errors.NotFound) {
			deps.Warn("authcore: identity lookup failed", "error", err)
		}
		return fail("", deps.Errors.BadCredentials, "identity_lookup")
	}

	attempt, err := deps.RecordAttempt(ctx, email)
	if err != nil {
		deps.Warn("authcore: attempt counter unavailable", "error", err)
		return fail(account.UserID, deps.Errors.Unavailable, "counter_unavailable")
	}

	// A fresh window releases a lock that attempt tracking produced earlier.
	released := false
	if attempt.FreshWindow && !account.NonLocked && account.LoginAttempts > deps.LockThreshold {
		account.NonLocked = true
		released = true
		deps.MetricInc(deps.Metrics.LockReleased)
	}

	// The counter is atomic while the snapshot is not. Any attempt beyond the
	// one that crossed the threshold is locked whatever the snapshot says.
	if account.NonLocked && attempt.Count > int64(deps.LockThreshold)+1 && deps.LockThreshold > 0 {
		account.NonLocked = false
		state := LoginState{NonLocked: false, LoginAttempts: int(attempt.Count)}
		if err := deps.SaveLoginState(ctx, account.UserID, state); err != nil {
			deps.Warn("authcore: saving login attempts failed", "user_id", account.UserID, "error", err)
		}
	}

	lockedBefore := !account.NonLocked
	if attempt.Exceeded && account.NonLocked {
		account.NonLocked = false
		deps.MetricInc(deps.Metrics.AccountLocked)
		deps.EmitAudit(ctx, deps.Events.AccountLocked, true, account.UserID, email, nil, func() map[string]string {
			return map[string]string{"attempts": itoa(attempt.Count)}
		})
	}
	if !lockedBefore {
		state := LoginState{NonLocked: account.NonLocked, LoginAttempts: int(attempt.Count), Reset: released}
		if err := deps.SaveLoginState(ctx, account.UserID, state); err != nil {
			deps.Warn("authcore: saving login attempts failed", "user_id", account.UserID, "error", err)
		}
	}

	if lockedBefore {
		return fail(account.UserID, deps.Errors.AccountLocked, "locked")
	}

	cred, err := deps.FindCredential(ctx, account.UserID)
	if err != nil {
		if !errors.Is(err, deps.Errors.NotFound) {
			deps.Warn("authcore: credential lookup failed", "user_id", account.UserID, "error", err)
		}
		return fail(account.UserID, deps.Errors.BadCredentials, "credential_lookup")
	}

	now := deps.Now()
	if reason, statusErr := accountStatusError(account, cred, now, deps.CredentialMaxAge, deps.Errors); statusErr != nil {
		return fail(account.UserID, statusErr, reason)
	}

	ok, err := deps.VerifyPassword(password, cred.Hash)
	if err != nil || !ok {
		if err != nil {
			deps.Warn("authcore: password verification error", "user_id", account.UserID, "error", err)
		}
		return fail(account.UserID, deps.Errors.BadCredentials, "password_mismatch")
	}

	if deps.UpgradeHash != nil {
		deps.UpgradeHash(ctx, account.UserID, password, cred.Hash)
	}

	// A correct password re-asserts the flag, including on the attempt that
	// crossed the threshold.
	if deps.ResetAttempts != nil {
		if err := deps.ResetAttempts(ctx, email); err != nil {
			deps.Warn("authcore: attempt counter evict failed", "user_id", account.UserID, "error", err)
		}
	}
	account.NonLocked = true
	state := LoginState{NonLocked: true, LoginAttempts: 0, LastLogin: now, Reset: true}
	if err := deps.SaveLoginState(ctx, account.UserID, state); err != nil {
		deps.Warn("authcore: saving login success failed", "user_id", account.UserID, "error", err)
	}

	if account.MFAEnabled {
		if deps.CreateChallenge == nil {
			return nil, deps.Errors.EngineNotReady
		}
		id, err := deps.CreateChallenge(ctx, account.UserID, now.Add(deps.MFAChallengeTTL))
		if err != nil {
			deps.Warn("authcore: mfa challenge create failed", "user_id", account.UserID, "error", err)
			return fail(account.UserID, deps.Errors.Unavailable, "challenge_unavailable")
		}
		deps.MetricInc(deps.Metrics.MFARequired)
		deps.EmitAudit(ctx, deps.Events.MFARequired, true, account.UserID, email, nil, nil)
		return &LoginResult{
			UserID:      account.UserID,
			Authorities: account.Authorities,
			MFARequired: true,
			ChallengeID: id,
		}, nil
	}

	return issue(ctx, account, deps, deps.Metrics.LoginSuccess, deps.Events.LoginSuccess)
}

func issue(ctx context.Context, account LoginAccount, deps LoginDeps, metric int, event string) (*LoginResult, error) {
	access, refresh, err := deps.IssueTokens(ctx, account)
	if err != nil {
		deps.Warn("authcore: token issue failed", "user_id", account.UserID, "error", err)
		return nil, deps.Errors.Unavailable
	}
	deps.MetricInc(metric)
	deps.EmitAudit(ctx, event, true, account.UserID, account.Email, nil, nil)
	return &LoginResult{
		UserID:       account.UserID,
		Authorities:  account.Authorities,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}
