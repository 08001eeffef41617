package domain

import "time"

// RefreshSession is a single rotation-lineage entry for a user's refresh token.
//
// FamilyID is minted fresh on every login and every refresh, so a family
// holds a single session rather than a whole rotation chain; reuse of a
// revoked token revokes its family, not the sessions rotated from it.
type RefreshSession struct {
	ID              int64
	UserID          int64
	FamilyID        int64
	HashedToken     string
	Fingerprint     string
	LegacyFingerprint string
	IPAddress       string
	UserAgent       string
	Revoked         bool
	RevokedAt       *time.Time
	ReplacedBy      *int64
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// FailedLoginRecord tracks consecutive failed authentication attempts for a
// given key (IP, or IP+email+UA hash, depending on the tier that recorded it).
type FailedLoginRecord struct {
	Key         string
	Count       int
	LastAttempt time.Time
	LockedUntil *time.Time
}
