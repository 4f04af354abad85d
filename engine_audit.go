package authcore

import "context"

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventAccountLocked         = "account_locked"
	auditEventMFARequired           = "mfa_required"
	auditEventMFASuccess            = "mfa_success"
	auditEventMFAFailure            = "mfa_failure"
	auditEventMFAEnrolled           = "mfa_enrolled"
	auditEventMFACancelled          = "mfa_cancelled"
	auditEventMFAVerify             = "mfa_verify"
	auditEventLogout                = "logout"
	auditEventAccountRegistered     = "account_registered"
	auditEventAccountDuplicate      = "account_duplicate"
	auditEventAccountVerified       = "account_verified"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetVerify   = "password_reset_verify"
	auditEventPasswordResetSuccess  = "password_reset_success"
	auditEventPasswordResetFailure  = "password_reset_failure"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventAccountFlagChange     = "account_flag_change"
	auditEventAuthoritiesChange     = "authorities_change"
	auditEventProfileUpdated        = "profile_updated"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	email string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = KindOf(err).String()
	}

	e.audit.Emit(ctx, event)
}
