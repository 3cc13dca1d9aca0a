package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_ValidPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"8 characters", "password"},
		{"long password", "this-is-a-very-long-password-123!@#"},
		{"with special chars", "p@ssw0rd!"},
		{"with unicode", "パスワード12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NotEqual(t, tt.password, hash)
			assert.True(t, len(hash) >= 60, "bcrypt hash should be at least 60 chars")
		})
	}
}

func TestHashPassword_ShortPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"7 characters", "1234567"},
		{"empty", ""},
		{"1 character", "a"},
		{"spaces only", "       "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			assert.ErrorIs(t, err, ErrPasswordTooShort)
			assert.Empty(t, hash)
		})
	}
}

func TestHashPassword_TooLong(t *testing.T) {
	hash, err := HashPassword(strings.Repeat("a", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
	assert.Empty(t, hash)
}

func TestHashPassword_DifferentHashesForSamePassword(t *testing.T) {
	hash1, err := HashPassword("testpassword123")
	require.NoError(t, err)
	hash2, err := HashPassword("testpassword123")
	require.NoError(t, err)

	// bcrypt salts each hash.
	assert.NotEqual(t, hash1, hash2)
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("correctpassword")
	require.NoError(t, err)

	assert.True(t, CheckPassword("correctpassword", hash))
	assert.False(t, CheckPassword("wrongpassword", hash))
	assert.False(t, CheckPassword("", hash))
	assert.False(t, CheckPassword("correctpassword", "invalid-hash"))
	assert.False(t, CheckPassword("correctpassword", ""))
}

func TestCheckPassword_CaseSensitive(t *testing.T) {
	hash, err := HashPassword("Password123")
	require.NoError(t, err)

	assert.True(t, CheckPassword("Password123", hash))
	assert.False(t, CheckPassword("password123", hash))
	assert.False(t, CheckPassword("PASSWORD123", hash))
}
