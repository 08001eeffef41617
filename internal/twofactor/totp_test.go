package twofactor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/shieldcart-auth/internal/twofactor"
)

func TestGenerateAndVerify(t *testing.T) {
	secret, _, err := twofactor.GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	code := twofactor.Generate(secret, now)

	assert.True(t, twofactor.Verify(secret, code, now))
	assert.True(t, twofactor.Verify(secret, code, now.Add(twofactor.StepSeconds*time.Second)))
	assert.False(t, twofactor.Verify(secret, code, now.Add(3*twofactor.StepSeconds*time.Second)))
}

func TestVerifyRejectsWrongLength(t *testing.T) {
	secret, _, err := twofactor.GenerateSecret()
	require.NoError(t, err)
	assert.False(t, twofactor.Verify(secret, "12345", time.Now()))
}

func TestBackupCodesSingleUse(t *testing.T) {
	plaintext, hashes, err := twofactor.GenerateBackupCodes()
	require.NoError(t, err)
	require.Len(t, plaintext, twofactor.BackupCodeCount)

	remaining, ok := twofactor.ConsumeBackupCode(plaintext[0], hashes)
	require.True(t, ok)
	assert.Len(t, remaining, twofactor.BackupCodeCount-1)

	_, ok = twofactor.ConsumeBackupCode(plaintext[0], remaining)
	assert.False(t, ok)
}
