package session_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/shieldcart-auth/internal/domain"
	"github.com/smallbiznis/shieldcart-auth/internal/jwt"
	"github.com/smallbiznis/shieldcart-auth/internal/repository"
	"github.com/smallbiznis/shieldcart-auth/internal/session"
)

type memoryUserRepo struct {
	users map[int64]domain.User
}

func (m *memoryUserRepo) GetByID(_ context.Context, userID int64) (domain.User, error) {
	u, ok := m.users[userID]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return u, nil
}
func (m *memoryUserRepo) GetByEmail(context.Context, string) (domain.User, error) { return domain.User{}, repository.ErrNotFound }
func (m *memoryUserRepo) GetByEmailVerificationToken(context.Context, string) (domain.User, error) { return domain.User{}, repository.ErrNotFound }
func (m *memoryUserRepo) GetByPasswordResetToken(context.Context, string) (domain.User, error) { return domain.User{}, repository.ErrNotFound }
func (m *memoryUserRepo) GetByTwoFactorTempToken(context.Context, string) (domain.User, error) { return domain.User{}, repository.ErrNotFound }
func (m *memoryUserRepo) Create(context.Context, domain.User) (domain.User, error) { return domain.User{}, nil }
func (m *memoryUserRepo) ResetFailedAttempts(context.Context, int64) error { return nil }
func (m *memoryUserRepo) UpdateProfile(context.Context, domain.User) error { return nil }
func (m *memoryUserRepo) SetPasswordHash(context.Context, int64, string, []string) error { return nil }
func (m *memoryUserRepo) SetEmailVerification(context.Context, int64, string, *time.Time) error { return nil }
func (m *memoryUserRepo) MarkEmailVerified(context.Context, int64) error { return nil }
func (m *memoryUserRepo) SetPasswordResetToken(context.Context, int64, string, *time.Time) error { return nil }
func (m *memoryUserRepo) ClearPasswordResetToken(context.Context, int64) error { return nil }
func (m *memoryUserRepo) IncrementTokenVersion(_ context.Context, userID int64) error {
	u := m.users[userID]
	u.TokenVersion++
	m.users[userID] = u
	return nil
}
func (m *memoryUserRepo) SetTwoFactorSecret(context.Context, int64, []byte, []byte, []string) error { return nil }
func (m *memoryUserRepo) EnableTwoFactor(context.Context, int64, bool) error { return nil }
func (m *memoryUserRepo) SetTwoFactorTempToken(context.Context, int64, string, *time.Time) error { return nil }
func (m *memoryUserRepo) RecordFailedAttempt(context.Context, int64) (int, error) { return 0, nil }
func (m *memoryUserRepo) LockAccount(context.Context, int64, time.Time) error { return nil }
func (m *memoryUserRepo) UnlockAccount(context.Context, int64) error { return nil }
func (m *memoryUserRepo) AppendLoginHistory(context.Context, int64, domain.LoginHistoryEntry) error { return nil }
func (m *memoryUserRepo) AppendTrustedDevice(context.Context, int64, domain.TrustedDevice) error { return nil }
func (m *memoryUserRepo) UpdateBackupCodeHashes(context.Context, int64, []string) error { return nil }

type memorySessionRepo struct {
	byHash map[string]domain.RefreshSession
	nextID int64
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{byHash: map[string]domain.RefreshSession{}}
}

func (m *memorySessionRepo) Create(_ context.Context, s domain.RefreshSession) (domain.RefreshSession, error) {
	if _, exists := m.byHash[s.HashedToken]; exists {
		return domain.RefreshSession{}, repository.ErrDuplicateSession
	}
	m.nextID++
	s.ID = m.nextID
	s.CreatedAt = time.Now()
	m.byHash[s.HashedToken] = s
	return s, nil
}

func (m *memorySessionRepo) GetByHashedToken(_ context.Context, hashedToken string) (domain.RefreshSession, error) {
	s, ok := m.byHash[hashedToken]
	if !ok {
		return domain.RefreshSession{}, repository.ErrNotFound
	}
	return s, nil
}

func (m *memorySessionRepo) Revoke(_ context.Context, sessionID int64, replacedBy *int64) error {
	for k, s := range m.byHash {
		if s.ID == sessionID {
			s.Revoked = true
			s.ReplacedBy = replacedBy
			m.byHash[k] = s
		}
	}
	return nil
}

func (m *memorySessionRepo) RevokeFamily(_ context.Context, familyID int64) error {
	for k, s := range m.byHash {
		if s.FamilyID == familyID {
			s.Revoked = true
			m.byHash[k] = s
		}
	}
	return nil
}

func (m *memorySessionRepo) RevokeAllForUser(_ context.Context, userID int64) error {
	for k, s := range m.byHash {
		if s.UserID == userID {
			s.Revoked = true
			m.byHash[k] = s
		}
	}
	return nil
}

func (m *memorySessionRepo) ListActiveForUser(_ context.Context, userID int64) ([]domain.RefreshSession, error) {
	var active []domain.RefreshSession
	for _, s := range m.byHash {
		if s.UserID == userID && !s.Revoked {
			active = append(active, s)
		}
	}
	return active, nil
}

func writeTestKey(t *testing.T, dir, name string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func newTestGenerator(t *testing.T) *jwt.Generator {
	t.Helper()
	dir := t.TempDir()
	accessPath := writeTestKey(t, dir, "access.pem")
	refreshPath := writeTestKey(t, dir, "refresh.pem")

	keys, err := jwt.NewKeyManager(accessPath, "access-1", refreshPath, "refresh-1")
	require.NoError(t, err)
	return jwt.NewGenerator(keys, "shieldcart-auth-test", time.Minute, time.Hour)
}

func TestIssueThenRotateSucceeds(t *testing.T) {
	ctx := context.Background()
	users := &memoryUserRepo{users: map[int64]domain.User{1: {ID: 1, Email: "a@example.com", Role: domain.RoleUser}}}
	sessions := newMemorySessionRepo()
	tokens := newTestGenerator(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	rotator := session.NewRotator(sessions, users, tokens, nil, node, time.Hour)
	info := jwt.RequestInfo{IP: "1.2.3.4", UserAgent: "test-agent"}

	issued, err := rotator.Issue(ctx, users.users[1], info)
	require.NoError(t, err)
	require.NotEmpty(t, issued.RefreshToken)

	rotated, err := rotator.Rotate(ctx, issued.RefreshToken, info)
	require.NoError(t, err)
	assert.NotEqual(t, issued.RefreshToken, rotated.RefreshToken)

	_, err = rotator.Rotate(ctx, issued.RefreshToken, info)
	assert.Error(t, err)
}

func TestRotateOnTokenVersionMismatchFails(t *testing.T) {
	ctx := context.Background()
	users := &memoryUserRepo{users: map[int64]domain.User{1: {ID: 1, Email: "a@example.com", Role: domain.RoleUser}}}
	sessions := newMemorySessionRepo()
	tokens := newTestGenerator(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	rotator := session.NewRotator(sessions, users, tokens, nil, node, time.Hour)
	info := jwt.RequestInfo{IP: "1.2.3.4", UserAgent: "test-agent"}

	issued, err := rotator.Issue(ctx, users.users[1], info)
	require.NoError(t, err)

	require.NoError(t, users.IncrementTokenVersion(ctx, 1))

	_, err = rotator.Rotate(ctx, issued.RefreshToken, info)
	assert.Error(t, err)
}
