package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTManager_RejectsEmptySecret(t *testing.T) {
	_, err := NewJWTManager("", time.Minute)
	assert.Error(t, err)
}

func TestNewJWTManager_DefaultsExpiration(t *testing.T) {
	m, err := NewJWTManager("secret", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenTTL, m.expiration)
}

func TestIssueAndValidateToken_RoundTrips(t *testing.T) {
	m, err := NewJWTManager("a-shared-secret", time.Hour)
	require.NoError(t, err)

	token, exp, err := m.IssueToken("user-1", "session-1")
	require.NoError(t, err)
	assert.False(t, exp.IsZero())

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestValidateToken_RejectsWrongSecret(t *testing.T) {
	m1, err := NewJWTManager("secret-one", time.Hour)
	require.NoError(t, err)
	m2, err := NewJWTManager("secret-two", time.Hour)
	require.NoError(t, err)

	token, _, err := m1.IssueToken("user-1", "")
	require.NoError(t, err)

	_, err = m2.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_RejectsExpiredToken(t *testing.T) {
	m, err := NewJWTManager("secret", time.Hour)
	require.NoError(t, err)
	m.expiration = -time.Minute

	token, _, err := m.IssueToken("user-1", "")
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestHashAndVerifyAPIKey_RoundTrips(t *testing.T) {
	encoded, err := HashAPIKey("my-secret-key")
	require.NoError(t, err)

	ok, err := VerifyAPIKey("my-secret-key", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyAPIKey("wrong-key", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}
