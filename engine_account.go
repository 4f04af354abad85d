package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/securestorage/authcore/internal/flows"
	"github.com/securestorage/authcore/internal/stores"
	"github.com/securestorage/authcore/password"
)

// Credentials marked expired by an administrator are rewound to this instant,
// which is past any realistic maximum age.
var expiredCredentialStamp = time.Date(1999, time.January, 1, 12, 0, 0, 0, time.UTC)

func (e *Engine) accountsReady() bool {
	return e.ready() && e.confirmations != nil && e.notifier != nil
}

func (e *Engine) hashPassword(pw string) (string, error) {
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			return "", ErrPasswordPolicy
		}
		return "", err
	}
	return hash, nil
}

// Register creates a disabled (or, without verification, enabled) account,
// its credential and a verification key, then asks the notifier to send the
// key. It returns the new public user id.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (string, error) {
	if !e.accountsReady() {
		return "", ErrEngineNotReady
	}
	email := flows.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return "", ErrInvalidRequest
	}

	if _, err := e.users.FindByEmail(ctx, email); err == nil {
		e.metricInc(MetricAccountDuplicate)
		e.emitAudit(ctx, auditEventAccountDuplicate, false, "", email, ErrAccountExists, nil)
		return "", ErrAccountExists
	} else if !errors.Is(err, ErrIdentityNotFound) {
		return "", lookupError(err)
	}

	hash, err := e.hashPassword(req.Password)
	if err != nil {
		return "", err
	}

	now := e.now()
	identity := &Identity{
		UserID:      uuid.NewString(),
		Email:       email,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Role:        e.config.Account.DefaultRole,
		Authorities: cloneStrings(e.config.Account.DefaultAuthorities),
		Enabled:     !e.config.Account.RequireVerification,
		NonExpired:  true,
		NonLocked:   true,
		LastLogin:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.users.Save(ctx, identity); err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricAccountDuplicate)
			return "", ErrAccountExists
		}
		return "", lookupError(err)
	}
	if err := e.credentials.Save(ctx, &Credential{UserID: identity.UserID, Hash: hash, UpdatedAt: now}); err != nil {
		return "", lookupError(err)
	}

	if e.config.Account.RequireVerification {
		key, err := e.newConfirmation(ctx, identity.UserID)
		if err != nil {
			return "", err
		}
		if err := e.notifier.SendVerification(ctx, identity.Name(), email, key); err != nil {
			e.logger.Error("verification notification failed", "user_id", identity.UserID, "error", err)
		}
	}

	e.metricInc(MetricAccountRegistered)
	e.emitAudit(ctx, auditEventAccountRegistered, true, identity.UserID, email, nil, nil)
	return identity.UserID, nil
}

func (e *Engine) newConfirmation(ctx context.Context, userID string) (string, error) {
	c := &Confirmation{Key: uuid.NewString(), UserID: userID, CreatedAt: e.now()}
	if err := e.confirmations.Save(ctx, c); err != nil {
		return "", lookupError(err)
	}
	return c.Key, nil
}

// consumeConfirmation loads key and deletes it. Expired keys are deleted and
// rejected.
func (e *Engine) consumeConfirmation(ctx context.Context, key string) (*Confirmation, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrConfirmationInvalid
	}
	c, err := e.confirmations.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrConfirmationNotFound) {
			return nil, ErrConfirmationInvalid
		}
		return nil, lookupError(err)
	}
	if err := e.confirmations.Delete(ctx, key); err != nil {
		return nil, lookupError(err)
	}
	if ttl := e.config.Account.ConfirmationTTL; ttl > 0 && e.now().After(c.CreatedAt.Add(ttl)) {
		return nil, ErrConfirmationInvalid
	}
	return c, nil
}

// VerifyAccount enables the account the key was issued for.
func (e *Engine) VerifyAccount(ctx context.Context, key string) error {
	if !e.accountsReady() {
		return ErrEngineNotReady
	}
	c, err := e.consumeConfirmation(ctx, key)
	if err != nil {
		e.emitAudit(ctx, auditEventAccountVerified, false, "", "", err, nil)
		return err
	}
	identity, err := e.saveIdentity(ctx, c.UserID, func(i *Identity) {
		i.Enabled = true
	})
	if err != nil {
		return lookupError(err)
	}

	e.metricInc(MetricAccountVerified)
	e.emitAudit(ctx, auditEventAccountVerified, true, identity.UserID, identity.Email, nil, nil)
	return nil
}

// RequestPasswordReset sends a reset key to email. An unknown email returns
// nil so the response does not reveal which accounts exist. A pending key
// for the user is reused.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if !e.accountsReady() {
		return ErrEngineNotReady
	}
	email = flows.NormalizeEmail(email)
	e.metricInc(MetricPasswordResetRequest)

	identity, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", email, err, nil)
			return nil
		}
		return lookupError(err)
	}

	var key string
	existing, err := e.confirmations.FindByUserID(ctx, identity.UserID)
	switch {
	case err == nil:
		key = existing.Key
	case errors.Is(err, ErrConfirmationNotFound):
		if key, err = e.newConfirmation(ctx, identity.UserID); err != nil {
			return err
		}
	default:
		return lookupError(err)
	}

	if err := e.notifier.SendPasswordReset(ctx, identity.Name(), identity.Email, key); err != nil {
		e.logger.Error("password reset notification failed", "user_id", identity.UserID, "error", err)
		return ErrUnavailable
	}
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, identity.UserID, identity.Email, nil, nil)
	return nil
}

// PasswordResetGrant is handed out by VerifyPasswordReset. Token authorizes
// exactly one ResetPassword call before ExpiresAt.
type PasswordResetGrant struct {
	Token     string
	ExpiresAt time.Time
	Identity  *Identity
}

// VerifyPasswordReset consumes a reset key and returns a grant for the account
// it belongs to. The account status gates apply, except the lock: a locked
// user is expected to reset their password.
func (e *Engine) VerifyPasswordReset(ctx context.Context, key string) (*PasswordResetGrant, error) {
	if !e.accountsReady() || e.resetGrants == nil {
		return nil, ErrEngineNotReady
	}
	c, err := e.consumeConfirmation(ctx, key)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordResetVerify, false, "", "", err, nil)
		return nil, err
	}
	identity, err := e.users.FindByUserID(ctx, c.UserID)
	if err != nil {
		return nil, lookupError(err)
	}
	switch {
	case !identity.Enabled:
		err = ErrAccountDisabled
	case !identity.NonExpired:
		err = ErrAccountExpired
	}
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordResetVerify, false, identity.UserID, identity.Email, err, nil)
		return nil, err
	}

	grant := &PasswordResetGrant{
		Token:     uuid.NewString(),
		ExpiresAt: e.now().Add(e.config.Account.ResetGrantTTL),
		Identity:  identity,
	}
	challenge := &stores.Challenge{UserID: identity.UserID, ExpiresAt: grant.ExpiresAt.Unix()}
	if err := e.resetGrants.Save(ctx, grant.Token, challenge); err != nil {
		e.logger.Warn("reset grant save failed", "user_id", identity.UserID, "error", err)
		return nil, ErrUnavailable
	}

	e.emitAudit(ctx, auditEventPasswordResetVerify, true, identity.UserID, identity.Email, nil, nil)
	return grant, nil
}

// ResetPassword sets a new password for the account a reset grant was issued
// to. The grant is spent by the first call that gets past the password
// checks. A successful reset clears the lock and the attempt counter.
func (e *Engine) ResetPassword(ctx context.Context, grant, newPassword, confirmPassword string) error {
	if !e.ready() || e.resetGrants == nil {
		return ErrEngineNotReady
	}
	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}
	hash, err := e.hashPassword(newPassword)
	if err != nil {
		return err
	}

	userID, err := e.spendResetGrant(ctx, grant)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, userID, "", err, nil)
		return err
	}
	identity, err := e.users.FindByUserID(ctx, userID)
	if err != nil {
		return lookupError(err)
	}
	if !identity.Enabled {
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, userID, identity.Email, ErrAccountDisabled, nil)
		return ErrAccountDisabled
	}

	cred := &Credential{UserID: userID, Hash: hash, UpdatedAt: e.now()}
	if err := e.credentials.Save(ctx, cred); err != nil {
		return lookupError(err)
	}
	if !identity.NonLocked || identity.LoginAttempts > 0 {
		if _, err := e.saveIdentity(ctx, userID, func(i *Identity) {
			i.NonLocked = true
			i.LoginAttempts = 0
		}); err != nil {
			e.logger.Warn("unlock after password reset failed", "user_id", userID, "error", err)
		}
	}
	if err := e.attempts.Reset(ctx, identity.Email); err != nil {
		e.logger.Warn("attempt counter evict failed", "user_id", userID, "error", err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetSuccess, true, userID, identity.Email, nil, nil)
	return nil
}

// spendResetGrant deletes grant and returns its user. Of two concurrent
// callers only the one whose delete removed the grant succeeds.
func (e *Engine) spendResetGrant(ctx context.Context, grant string) (string, error) {
	if grant == "" {
		return "", ErrConfirmationInvalid
	}
	c, err := e.resetGrants.Get(ctx, grant)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeBackend) {
			e.logger.Warn("reset grant store unavailable", "error", err)
			return "", ErrUnavailable
		}
		return "", ErrConfirmationInvalid
	}
	deleted, err := e.resetGrants.Delete(ctx, grant)
	if err != nil {
		e.logger.Warn("reset grant delete failed", "user_id", c.UserID, "error", err)
		return c.UserID, ErrUnavailable
	}
	if !deleted {
		return c.UserID, ErrConfirmationInvalid
	}
	return c.UserID, nil
}

// UpdatePassword changes the password of a signed-in user after checking the
// current one.
func (e *Engine) UpdatePassword(ctx context.Context, userID, currentPassword, newPassword, confirmPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}
	identity, err := e.users.FindByUserID(ctx, userID)
	if err != nil {
		return lookupError(err)
	}
	switch {
	case !identity.Enabled:
		return ErrAccountDisabled
	case !identity.NonExpired:
		return ErrAccountExpired
	case !identity.NonLocked:
		return ErrAccountLocked
	}

	cred, err := e.credentials.FindByUserID(ctx, userID)
	if err != nil {
		return lookupError(err)
	}
	ok, err := e.hasher.Verify(currentPassword, cred.Hash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, identity.Email, ErrCurrentPasswordInvalid, nil)
		return ErrCurrentPasswordInvalid
	}

	if err := e.replaceCredential(ctx, userID, newPassword); err != nil {
		return err
	}
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, userID, identity.Email, nil, nil)
	return nil
}

func (e *Engine) replaceCredential(ctx context.Context, userID, pw string) error {
	hash, err := e.hashPassword(pw)
	if err != nil {
		return err
	}
	cred := &Credential{UserID: userID, Hash: hash, UpdatedAt: e.now()}
	if err := e.credentials.Save(ctx, cred); err != nil {
		return lookupError(err)
	}
	return nil
}

// SetAccountFlag sets one status flag. value is the state the flag names:
// SetAccountFlag(ctx, id, FlagLocked, true) locks the account.
//
// Locking by hand leaves the stored attempt count at zero, so an expired
// attempt window never releases it. Unlocking also forgets recorded attempts.
func (e *Engine) SetAccountFlag(ctx context.Context, userID string, flag AccountFlag, value bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	if flag == FlagCredentialsExpired {
		cred, err := e.credentials.FindByUserID(ctx, userID)
		if err != nil {
			return lookupError(err)
		}
		if value {
			cred.UpdatedAt = expiredCredentialStamp
		} else {
			cred.UpdatedAt = e.now()
		}
		if err := e.credentials.Save(ctx, cred); err != nil {
			return lookupError(err)
		}
		e.flagChanged(ctx, userID, "", flag, value)
		return nil
	}

	var mutate func(*Identity)
	switch flag {
	case FlagEnabled:
		mutate = func(i *Identity) { i.Enabled = value }
	case FlagAccountExpired:
		mutate = func(i *Identity) { i.NonExpired = !value }
	case FlagLocked:
		mutate = func(i *Identity) {
			i.NonLocked = !value
			i.LoginAttempts = 0
		}
	default:
		return ErrInvalidRequest
	}

	identity, err := e.saveIdentity(ctx, userID, mutate)
	if err != nil {
		return lookupError(err)
	}
	if flag == FlagLocked && !value {
		if err := e.attempts.Reset(ctx, identity.Email); err != nil {
			e.logger.Warn("attempt counter evict failed", "user_id", userID, "error", err)
		}
	}
	e.flagChanged(ctx, userID, identity.Email, flag, value)
	return nil
}

func (e *Engine) flagChanged(ctx context.Context, userID, email string, flag AccountFlag, value bool) {
	e.metricInc(MetricAccountFlagChanged)
	e.emitAudit(ctx, auditEventAccountFlagChange, true, userID, email, nil, func() map[string]string {
		v := "false"
		if value {
			v = "true"
		}
		return map[string]string{"flag": flag.String(), "value": v}
	})
}

// UpdateAuthorities replaces the role and authority set of a user. Tokens
// already issued keep their old authorities until they expire.
func (e *Engine) UpdateAuthorities(ctx context.Context, userID, role string, authorities []string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return ErrInvalidRequest
	}
	for _, a := range authorities {
		if strings.TrimSpace(a) == "" {
			return ErrInvalidRequest
		}
	}

	identity, err := e.saveIdentity(ctx, userID, func(i *Identity) {
		i.Role = strings.ToUpper(role)
		i.Authorities = cloneStrings(authorities)
	})
	if err != nil {
		return lookupError(err)
	}
	e.emitAudit(ctx, auditEventAuthoritiesChange, true, userID, identity.Email, nil, func() map[string]string {
		return map[string]string{"role": identity.Role, "authorities": strings.Join(identity.Authorities, ",")}
	})
	return nil
}

// Profile returns a copy of the stored identity for userID.
func (e *Engine) Profile(ctx context.Context, userID string) (*Identity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	identity, err := e.users.FindByUserID(ctx, userID)
	if err != nil {
		return nil, lookupError(err)
	}
	return identity, nil
}

// UpdateProfile changes the display names of a user. Empty fields keep their
// stored value.
func (e *Engine) UpdateProfile(ctx context.Context, userID string, req ProfileUpdate) (*Identity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	identity, err := e.saveIdentity(ctx, userID, func(i *Identity) {
		if first != "" {
			i.FirstName = first
		}
		if last != "" {
			i.LastName = last
		}
	})
	if err != nil {
		return nil, lookupError(err)
	}
	e.emitAudit(ctx, auditEventProfileUpdated, true, userID, identity.Email, nil, nil)
	return identity, nil
}
