package domain

import "time"

// AuditEventType is a closed taxonomy of events the audit log accepts.
type AuditEventType string

const (
	EventAuthRegister         AuditEventType = "auth.register"
	EventAuthLogin             AuditEventType = "auth.login"
	EventAuthLogout            AuditEventType = "auth.logout"
	EventAuthLogoutAll         AuditEventType = "auth.logout_all"
	EventAuthRefresh           AuditEventType = "auth.refresh"
	EventAuthPasswordReset     AuditEventType = "auth.password_reset"
	EventAuthEmailVerify       AuditEventType = "auth.email_verify"
	EventAuthTwoFactorEnable   AuditEventType = "auth.2fa_enable"
	EventAuthTwoFactorDisable  AuditEventType = "auth.2fa_disable"
	EventAuthSessionRevoke     AuditEventType = "auth.session_revoke"

	EventUserPasswordChanged  AuditEventType = "user.password_changed"
	EventUserPasswordResetReq AuditEventType = "user.password_reset_requested"
	EventUserProfileUpdate    AuditEventType = "user.profile_update"
	EventUserAccountLocked    AuditEventType = "user.account_locked"

	EventSecurityFailedLogin       AuditEventType = "security.failed_login"
	EventSecurityRateLimitExceeded AuditEventType = "security.rate_limit_exceeded"
	EventSecuritySuspiciousActivity AuditEventType = "security.suspicious_activity"
	EventSecurityFraudDetected     AuditEventType = "security.fraud_detected"
	EventSecurityRefreshReuse      AuditEventType = "security.refresh_reuse_detected"

	EventPaymentInitiated AuditEventType = "payment.initiated"
	EventPaymentCompleted AuditEventType = "payment.completed"
	EventPaymentFailed    AuditEventType = "payment.failed"

	EventOrderCreated AuditEventType = "order.created"

	EventAdminSessionRevoked AuditEventType = "admin.session_revoked"

	EventSystemStartup AuditEventType = "system.startup"
)

// AuditResult is the closed outcome taxonomy an audit entry records.
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
	AuditResultPartial AuditResult = "partial"
)

// AuditChanges captures a before/after pair for entries that record a
// mutation (e.g. profile updates); either side may be nil.
type AuditChanges struct {
	Before map[string]any
	After  map[string]any
}

// AuditLogEntry is one append-only, hash-chained row of the audit log.
//
// PreviousHash links to the prior entry's (Signature, Timestamp) pair, and
// Signature is an HMAC over the entry's own fields. Neither field is
// recomputed or mutated after insert.
type AuditLogEntry struct {
	ID           int64
	EventType    AuditEventType
	UserID       *int64
	Action       string
	Resource     string
	ResourceID   *string
	Changes      *AuditChanges
	Result       AuditResult
	ErrorMessage string
	RiskScore    *int
	IPAddress    string
	UserAgent    string
	Metadata     map[string]any
	PreviousHash string
	Signature    string
	Timestamp    time.Time
}
