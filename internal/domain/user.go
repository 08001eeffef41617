package domain

import "time"

// UserStatus enumerates the lifecycle states of a User row.
type UserStatus string

const (
	UserStatusPending UserStatus = "PENDING"
	UserStatusActive  UserStatus = "ACTIVE"
	UserStatusLocked  UserStatus = "LOCKED"
	UserStatusDeleted UserStatus = "DELETED"
)

// Role enumerates the two roles the orchestrator understands. Role is never
// settable from registration input — it is always forced to RoleUser there.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Provider distinguishes locally-managed credentials from federated ones;
// password reset/change only applies to ProviderLocal accounts.
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderExternal Provider = "external-idp"
)

// LoginHistoryEntry is one append-only record of an authentication attempt.
type LoginHistoryEntry struct {
	Timestamp time.Time
	IPAddress string
	UserAgent string
	Success   bool
	Reason    string
}

// TrustedDevice records a device that has previously completed a full login.
type TrustedDevice struct {
	DeviceID string
	FirstSeen time.Time
}

// User represents an end user that can authenticate against this service.
type User struct {
	ID                     int64
	Email                  string
	EmailVerified          bool
	EmailVerificationToken string
	EmailVerificationExpiresAt *time.Time
	PasswordHash           string
	PasswordHistory        []string
	PasswordResetToken     string
	PasswordResetExpiresAt *time.Time
	LastPasswordChange     *time.Time
	Name                   string
	Phone                  string
	PhoneVerified          bool
	AvatarURL              string
	Role                   Role
	Provider               Provider
	Status                 UserStatus
	TokenVersion           int64
	TwoFactorEnabled       bool
	TwoFactorTempToken     string
	TwoFactorTempExpiresAt *time.Time
	TOTPSecretEncrypted    []byte
	TOTPSecretNonce        []byte
	BackupCodeHashes       []string
	FailedLoginAttempts    int
	LockedUntil            *time.Time
	TrustedDevices         []TrustedDevice
	LoginHistory           []LoginHistoryEntry
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsLocked reports whether the account is currently under a lockout.
func (u User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}
