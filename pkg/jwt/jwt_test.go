package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager("secret", "talk", time.Hour)

	token, err := m.Generate("alice", "Alice")
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "Alice", claims.Username)
	assert.Equal(t, "talk", claims.Issuer)
}

func TestValidateRejects(t *testing.T) {
	m := NewManager("secret", "talk", time.Hour)
	token, err := m.Generate("alice", "")
	require.NoError(t, err)

	_, err = NewManager("other", "talk", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewManager("secret", "someone-else", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewManager("secret", "talk", -time.Minute).Generate("alice", "")
	require.NoError(t, err)
	_, err = m.Validate(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
