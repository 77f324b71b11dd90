package jwt

import (
	"testing"
	"time"

	"atypik-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	j := NewJWTUtil("secret", time.Hour)

	token, err := j.GenerateToken("u1", "driver@example.com", models.RoleDriver)
	require.NoError(t, err)

	claims, err := j.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.Principal{UserID: "u1", Email: "driver@example.com", Role: models.RoleDriver}, claims.Principal())
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTUtil("secret", time.Hour).GenerateToken("u1", "a@b.c", models.RoleParent)
	require.NoError(t, err)

	_, err = NewJWTUtil("other", time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	j := NewJWTUtil("secret", time.Hour)
	j.expiry = -time.Minute

	token, err := j.GenerateToken("u1", "a@b.c", models.RoleParent)
	require.NoError(t, err)

	_, err = j.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownRole(t *testing.T) {
	j := NewJWTUtil("secret", time.Hour)
	token, err := j.GenerateToken("u1", "a@b.c", models.Role("superuser"))
	require.NoError(t, err)

	_, err = j.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshKeepsFreshToken(t *testing.T) {
	j := NewJWTUtil("secret", 24*time.Hour)
	token, err := j.GenerateToken("u1", "a@b.c", models.RoleAdmin)
	require.NoError(t, err)

	refreshed, err := j.RefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, token, refreshed)
}
