package internaldefs

import (
	"github.com/securestorage/authcore"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter every exporter adds for audit backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Logins that issued tokens without MFA."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Rejected login attempts."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Accounts locked by attempt tracking."},
	{ID: authcore.MetricLockReleased, Name: "authcore_lock_released_total", Help: "Attempt locks released by an expired window."},
	{ID: authcore.MetricMFARequired, Name: "authcore_mfa_required_total", Help: "Logins that opened an MFA challenge."},
	{ID: authcore.MetricMFASuccess, Name: "authcore_mfa_success_total", Help: "Accepted TOTP codes."},
	{ID: authcore.MetricMFAFailure, Name: "authcore_mfa_failure_total", Help: "Rejected TOTP codes."},
	{ID: authcore.MetricMFAReplay, Name: "authcore_mfa_replay_total", Help: "TOTP codes rejected as replays."},
	{ID: authcore.MetricMFAAttemptsExceeded, Name: "authcore_mfa_attempts_exceeded_total", Help: "MFA challenges discarded after too many wrong codes."},
	{ID: authcore.MetricAccessAccepted, Name: "authcore_access_accepted_total", Help: "Requests authenticated by the access cookie."},
	{ID: authcore.MetricRefreshRotated, Name: "authcore_refresh_rotated_total", Help: "Access tokens minted from a refresh cookie."},
	{ID: authcore.MetricRotationFailed, Name: "authcore_rotation_failed_total", Help: "Valid refresh cookies that failed to mint an access token."},
	{ID: authcore.MetricAnonymousRequest, Name: "authcore_anonymous_request_total", Help: "Intercepted requests without a valid session."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logouts."},
	{ID: authcore.MetricAccountRegistered, Name: "authcore_account_registered_total", Help: "Created accounts."},
	{ID: authcore.MetricAccountDuplicate, Name: "authcore_account_duplicate_total", Help: "Registrations rejected for a taken email."},
	{ID: authcore.MetricAccountVerified, Name: "authcore_account_verified_total", Help: "Accounts enabled by a verification key."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Passwords set through a reset key."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Password changes by signed-in users."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password changes rejected for a wrong current password."},
	{ID: authcore.MetricMFAEnrolled, Name: "authcore_mfa_enrolled_total", Help: "MFA enrollments."},
	{ID: authcore.MetricMFACancelled, Name: "authcore_mfa_cancelled_total", Help: "MFA cancellations."},
	{ID: authcore.MetricAccountFlagChanged, Name: "authcore_account_flag_changed_total", Help: "Administrative account flag changes."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Login latency including password hashing."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one more bucket for +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the eight engine buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
