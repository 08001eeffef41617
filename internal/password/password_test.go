package password_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/shieldcart-auth/internal/password"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := password.Hash("correct-horse-battery")
	require.NoError(t, err)
	assert.True(t, password.Verify("correct-horse-battery", hash))
	assert.False(t, password.Verify("wrong-password", hash))
}

func TestHashRejectsShortPassword(t *testing.T) {
	_, err := password.Hash("short")
	assert.ErrorIs(t, err, password.ErrTooShort)
}

func TestInHistory(t *testing.T) {
	var history []string
	for _, pw := range []string{"password-one", "password-two", "password-three"} {
		hash, err := password.Hash(pw)
		require.NoError(t, err)
		history = password.PushHistory(history, hash)
	}

	assert.True(t, password.InHistory("password-two", history))
	assert.False(t, password.InHistory("password-four", history))
}

func TestPushHistoryEvictsOldest(t *testing.T) {
	var history []string
	for i := 0; i < password.HistoryLimit+2; i++ {
		hash, err := password.Hash("rotating-password-value")
		require.NoError(t, err)
		history = password.PushHistory(history, hash)
	}
	assert.Len(t, history, password.HistoryLimit)
}
