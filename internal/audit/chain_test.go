package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/shieldcart-auth/internal/audit"
	"github.com/smallbiznis/shieldcart-auth/internal/domain"
)

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
	nextID  int64
}

func (f *fakeAuditRepo) Latest(context.Context) (*domain.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil, nil
	}
	latest := f.entries[len(f.entries)-1]
	return &latest, nil
}

func (f *fakeAuditRepo) Insert(_ context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	entry.ID = f.nextID
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeAuditRepo) ListByTimeRange(context.Context, time.Time, time.Time) ([]domain.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditLogEntry{}, f.entries...), nil
}

func TestChainLinksConsecutiveEntries(t *testing.T) {
	ctx := context.Background()
	repo := &fakeAuditRepo{}
	writer := audit.NewWriter(repo, []byte("test-signing-key"))

	for i := 0; i < 3; i++ {
		_, err := writer.Append(ctx, domain.AuditLogEntry{EventType: domain.EventAuthLogin})
		require.NoError(t, err)
	}

	entries, err := repo.ListByTimeRange(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Empty(t, entries[0].PreviousHash)
	assert.NotEmpty(t, entries[1].PreviousHash)
	assert.NotEmpty(t, entries[2].PreviousHash)

	for _, e := range entries {
		assert.True(t, writer.VerifyEntry(e))
	}

	assert.Nil(t, writer.VerifyChain(entries))
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	ctx := context.Background()
	repo := &fakeAuditRepo{}
	writer := audit.NewWriter(repo, []byte("test-signing-key"))

	for i := 0; i < 2; i++ {
		_, err := writer.Append(ctx, domain.AuditLogEntry{EventType: domain.EventAuthLogin, Action: "login"})
		require.NoError(t, err)
	}

	entries, err := repo.ListByTimeRange(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)

	entries[0].Action = "tampered"

	brk := writer.VerifyChain(entries)
	require.NotNil(t, brk)
	assert.Equal(t, entries[0].ID, brk.EntryID)
}
