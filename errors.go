package authcore

import (
	"errors"
	"net/http"

	"github.com/securestorage/authcore/jwt"
)

var (
	// ErrBadCredentials covers unknown email, wrong password and missing
	// credential alike so callers cannot enumerate accounts.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrAccountLocked is returned while the non-locked flag is cleared.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for accounts that are not enabled.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountExpired is returned when the account itself has expired.
	ErrAccountExpired = errors.New("account expired")
	// ErrCredentialsExpired is returned when the password is older than the
	// configured maximum age.
	ErrCredentialsExpired = errors.New("credentials expired")
	// ErrInvalidMFACode is returned for a wrong or replayed TOTP code.
	ErrInvalidMFACode = errors.New("invalid mfa code")
	// ErrMFAChallengeInvalid is returned for an unknown, expired or exhausted
	// MFA login challenge.
	ErrMFAChallengeInvalid = errors.New("mfa challenge invalid")
	// ErrMFANotEnabled is returned when a code is checked for a user without MFA.
	ErrMFANotEnabled = errors.New("mfa not enabled")
	// ErrMFARateLimited is returned after too many wrong codes outside a login.
	ErrMFARateLimited = errors.New("mfa attempts rate limited")
	// ErrInvalidToken is the single failure for malformed, unsigned, tampered
	// or expired session tokens.
	ErrInvalidToken = jwt.ErrInvalidToken
	// ErrUnauthenticated is returned when a request carries no valid session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPermissionDenied is returned when a principal lacks an authority.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAccountExists is returned by Register for a taken email.
	ErrAccountExists = errors.New("account already exists")
	// ErrConfirmationInvalid is returned for unknown or expired confirmation keys.
	ErrConfirmationInvalid = errors.New("confirmation key invalid")
	// ErrPasswordMismatch is returned when a new password and its confirmation differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrCurrentPasswordInvalid is returned by UpdatePassword for a wrong current password.
	ErrCurrentPasswordInvalid = errors.New("current password incorrect")
	// ErrPasswordPolicy is returned for passwords outside the length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidRequest is returned for malformed account-management input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnavailable is returned when a backend the decision depends on is
	// unreachable.
	ErrUnavailable = errors.New("authentication backend unavailable")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorKind is the closed set of failure categories the transport maps to a
// status and message.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindBadCredentials
	KindAccountLocked
	KindAccountDisabled
	KindAccountExpired
	KindCredentialsExpired
	KindInvalidMFACode
	KindInvalidToken
	KindUnauthenticated
	KindPermissionDenied
	KindConflict
	KindInvalidRequest
	KindUnavailable
	KindInternal
)

var kindNames = [...]string{
	KindNone:               "none",
	KindBadCredentials:     "bad_credentials",
	KindAccountLocked:      "account_locked",
	KindAccountDisabled:    "account_disabled",
	KindAccountExpired:     "account_expired",
	KindCredentialsExpired: "credentials_expired",
	KindInvalidMFACode:     "invalid_mfa_code",
	KindInvalidToken:       "invalid_token",
	KindUnauthenticated:    "unauthenticated",
	KindPermissionDenied:   "permission_denied",
	KindConflict:           "conflict",
	KindInvalidRequest:     "invalid_request",
	KindUnavailable:        "unavailable",
	KindInternal:           "internal",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// kindTable is checked in order; the first sentinel err wraps decides.
var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrBadCredentials, KindBadCredentials},
	{ErrAccountLocked, KindAccountLocked},
	{ErrAccountDisabled, KindAccountDisabled},
	{ErrAccountExpired, KindAccountExpired},
	{ErrCredentialsExpired, KindCredentialsExpired},
	{ErrInvalidMFACode, KindInvalidMFACode},
	{ErrMFAChallengeInvalid, KindInvalidMFACode},
	{ErrMFARateLimited, KindInvalidMFACode},
	{ErrInvalidToken, KindInvalidToken},
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrAccountExists, KindConflict},
	{ErrConfirmationInvalid, KindInvalidRequest},
	{ErrPasswordMismatch, KindInvalidRequest},
	{ErrCurrentPasswordInvalid, KindInvalidRequest},
	{ErrPasswordPolicy, KindInvalidRequest},
	{ErrMFANotEnabled, KindInvalidRequest},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrIdentityNotFound, KindInvalidRequest},
	{ErrUnavailable, KindUnavailable},
}

// KindOf classifies err. Nil is KindNone; anything unrecognised is
// KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}

var kindStatus = [...]int{
	KindNone:               http.StatusOK,
	KindBadCredentials:     http.StatusBadRequest,
	KindAccountLocked:      http.StatusBadRequest,
	KindAccountDisabled:    http.StatusBadRequest,
	KindAccountExpired:     http.StatusBadRequest,
	KindCredentialsExpired: http.StatusBadRequest,
	KindInvalidMFACode:     http.StatusBadRequest,
	KindInvalidToken:       http.StatusUnauthorized,
	KindUnauthenticated:    http.StatusUnauthorized,
	KindPermissionDenied:   http.StatusForbidden,
	KindConflict:           http.StatusConflict,
	KindInvalidRequest:     http.StatusBadRequest,
	KindUnavailable:        http.StatusServiceUnavailable,
	KindInternal:           http.StatusInternalServerError,
}

// HTTPStatus maps kind to a response status.
func HTTPStatus(kind ErrorKind) int {
	if int(kind) < len(kindStatus) {
		return kindStatus[kind]
	}
	return http.StatusInternalServerError
}

var kindMessage = [...]string{
	KindNone:               "",
	KindBadCredentials:     "Email and/or password incorrect. Please try again",
	KindAccountLocked:      "Your account is currently locked",
	KindAccountDisabled:    "Your account is currently disabled",
	KindAccountExpired:     "Your account has expired. Please contact administrator",
	KindCredentialsExpired: "Your password has expired. Please update your password",
	KindInvalidMFACode:     "Invalid QR code. Please try again.",
	KindInvalidToken:       "You are not logged in",
	KindUnauthenticated:    "You are not logged in",
	KindPermissionDenied:   "You do not have enough permission",
	KindConflict:           "Email already exists. Please use a different email and try again",
	KindInvalidRequest:     "An error occurred. Please try again.",
	KindUnavailable:        "Service temporarily unavailable. Please try again later",
	KindInternal:           "An internal server error occurred",
}

// Message returns the user-facing text for kind. Login failures never say
// whether the email or the password was wrong.
func Message(kind ErrorKind) string {
	if int(kind) < len(kindMessage) {
		return kindMessage[kind]
	}
	return kindMessage[KindInternal]
}

var detailMessage = map[error]string{
	ErrPasswordMismatch:       "Passwords don't match. Please try again.",
	ErrCurrentPasswordInvalid: "Existing password is incorrect. Please try again.",
	ErrConfirmationInvalid:    "Unable to find key. Please request a new one.",
	ErrPasswordPolicy:         "Password does not meet the length requirements.",
	ErrMFANotEnabled:          "Two-factor authentication is not enabled.",
}

// ErrorMessage returns the user-facing text for err. Account-management
// errors that carry no security signal get their own text; everything else
// falls back to Message(KindOf(err)).
func ErrorMessage(err error) string {
	for sentinel, msg := range detailMessage {
		if errors.Is(err, sentinel) {
			return msg
		}
	}
	return Message(KindOf(err))
}
