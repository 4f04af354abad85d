package authcore

import (
	"context"
	"errors"

	"github.com/securestorage/authcore/internal/limiters"
)

// SetupMFA generates a new TOTP secret for userID, stores it with its
// enrollment image and turns MFA on. Calling it again replaces the secret.
func (e *Engine) SetupMFA(ctx context.Context, userID string) (*MFASetup, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	identity, err := e.users.FindByUserID(ctx, userID)
	if err != nil {
		return nil, lookupError(err)
	}

	enrollment, err := e.totp.GenerateSecret(identity.Email)
	if err != nil {
		e.logger.Error("totp secret generation failed", "user_id", userID, "error", err)
		return nil, err
	}

	identity.MFAEnabled = true
	identity.MFASecret = enrollment.Secret
	identity.MFAImageURI = enrollment.ImageURI
	identity.UpdatedAt = e.now()
	if err := e.users.Save(ctx, identity); err != nil {
		return nil, lookupError(err)
	}

	e.metricInc(MetricMFAEnrolled)
	e.emitAudit(ctx, auditEventMFAEnrolled, true, userID, identity.Email, nil, nil)
	return &MFASetup{
		Secret:   enrollment.Secret,
		URI:      enrollment.URI,
		ImageURI: enrollment.ImageURI,
	}, nil
}

// CancelMFA turns MFA off and blanks the stored secret and image.
func (e *Engine) CancelMFA(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	identity, err := e.saveIdentity(ctx, userID, func(i *Identity) {
		i.MFAEnabled = false
		i.MFASecret = ""
		i.MFAImageURI = ""
	})
	if err != nil {
		return lookupError(err)
	}
	if err := e.totpLimiter.Reset(ctx, userID); err != nil {
		e.logger.Warn("totp limiter reset failed", "user_id", userID, "error", err)
	}

	e.metricInc(MetricMFACancelled)
	e.emitAudit(ctx, auditEventMFACancelled, true, userID, identity.Email, nil, nil)
	return nil
}

// VerifyMFA checks code for an enrolled user outside a login, for example to
// confirm enrollment. Wrong codes are throttled per user.
func (e *Engine) VerifyMFA(ctx context.Context, userID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	identity, err := e.users.FindByUserID(ctx, userID)
	if err != nil {
		return lookupError(err)
	}
	if !identity.MFAEnabled || identity.MFASecret == "" {
		return ErrMFANotEnabled
	}

	if err := e.totpLimiter.Check(ctx, userID); err != nil {
		if errors.Is(err, limiters.ErrTOTPRateLimited) {
			e.emitAudit(ctx, auditEventMFAVerify, false, userID, identity.Email, ErrMFARateLimited, nil)
			return ErrMFARateLimited
		}
		e.logger.Error("totp limiter unavailable", "user_id", userID, "error", err)
		return ErrUnavailable
	}

	ok, step := e.totp.VerifyAt(identity.MFASecret, code, e.now())
	if ok && e.config.TOTP.EnforceReplayProtection && !e.acceptStep(userID, step) {
		e.metricInc(MetricMFAReplay)
		ok = false
	}
	if !ok {
		if err := e.totpLimiter.RecordFailure(ctx, userID); err != nil && !errors.Is(err, limiters.ErrTOTPRateLimited) {
			e.logger.Warn("totp failure not recorded", "user_id", userID, "error", err)
		}
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAVerify, false, userID, identity.Email, ErrInvalidMFACode, nil)
		return ErrInvalidMFACode
	}

	if err := e.totpLimiter.Reset(ctx, userID); err != nil {
		e.logger.Warn("totp limiter reset failed", "user_id", userID, "error", err)
	}
	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFAVerify, true, userID, identity.Email, nil, nil)
	return nil
}
