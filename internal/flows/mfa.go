package flows

import (
	"context"
	"errors"

	"github.com/securestorage/authcore/internal/stores"
)

// RunConfirmLoginMFA completes a login left pending by RunLogin. The account is
// loaded again so a lock or disable applied in between still wins.
func RunConfirmLoginMFA(ctx context.Context, challengeID, code string, deps LoginDeps) (*LoginResult, error) {
	deps.defaults()
	if deps.GetChallenge == nil ||
		deps.DeleteChallenge == nil ||
		deps.RecordChallengeFailure == nil ||
		deps.FindByUserID == nil ||
		deps.VerifyTOTP == nil ||
		deps.IssueTokens == nil {
		return nil, deps.Errors.EngineNotReady
	}

	fail := func(userID, email string, err error, reason string) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.MFAFailure)
		deps.EmitAudit(ctx, deps.Events.MFAFailure, false, userID, email, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return nil, err
	}
	discard := func(userID string) bool {
		deleted, err := deps.DeleteChallenge(ctx, challengeID)
		if err != nil {
			deps.Warn("authcore: mfa challenge delete failed", "user_id", userID, "error", err)
		}
		return deleted
	}

	if challengeID == "" {
		return fail("", "", deps.Errors.MFAChallenge, "missing_challenge")
	}

	userID, err := deps.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeBackend) {
			deps.Warn("authcore: mfa challenge store unavailable", "error", err)
			return fail("", "", deps.Errors.Unavailable, "challenge_unavailable")
		}
		return fail("", "", deps.Errors.MFAChallenge, "challenge_invalid")
	}

	account, err := deps.FindByUserID(ctx, userID)
	if err != nil {
		discard(userID)
		return fail(userID, "", deps.Errors.BadCredentials, "identity_lookup")
	}
	switch {
	case !account.NonLocked:
		discard(userID)
		return fail(userID, account.Email, deps.Errors.AccountLocked, "locked")
	case !account.Enabled:
		discard(userID)
		return fail(userID, account.Email, deps.Errors.AccountDisabled, "disabled")
	case !account.MFAEnabled || account.MFASecret == "":
		discard(userID)
		return fail(userID, account.Email, deps.Errors.MFAChallenge, "mfa_not_enrolled")
	}

	ok, step := deps.VerifyTOTP(account.MFASecret, code, deps.Now())
	if !ok {
		exceeded, err := deps.RecordChallengeFailure(ctx, challengeID, deps.MFAMaxAttempts)
		if err != nil && errors.Is(err, stores.ErrChallengeBackend) {
			deps.Warn("authcore: mfa failure not recorded", "user_id", userID, "error", err)
		}
		if exceeded {
			deps.MetricInc(deps.Metrics.MFAAttemptsExceeded)
			return fail(userID, account.Email, deps.Errors.MFAChallenge, "attempts_exceeded")
		}
		return fail(userID, account.Email, deps.Errors.InvalidMFACode, "code_mismatch")
	}

	if deps.EnforceReplayProtection && deps.AcceptStep != nil && !deps.AcceptStep(userID, step) {
		deps.MetricInc(deps.Metrics.MFAReplay)
		return fail(userID, account.Email, deps.Errors.InvalidMFACode, "replay")
	}

	// Only the caller that removed the challenge may mint tokens for it.
	if !discard(userID) {
		return fail(userID, account.Email, deps.Errors.MFAChallenge, "challenge_consumed")
	}
	return issue(ctx, account, deps, deps.Metrics.MFASuccess, deps.Events.MFASuccess)
}
