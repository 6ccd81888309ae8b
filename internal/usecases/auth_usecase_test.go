package usecases

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthLogin(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	uc := NewAuthUsecase("admin", hash, "jwt-secret")

	tokenString, err := uc.Login("admin", "hunter22")
	require.NoError(t, err)

	parsed, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) { return []byte("jwt-secret"), nil })
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "admin", claims["sub"])
	assert.Equal(t, "admin", claims["role"])

	_, err = uc.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = uc.Login("root", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	hash, _ := HashPassword("pw")
	uc := NewAuthUsecase("admin", hash, "")
	assert.False(t, uc.Enabled())
	_, err := uc.Login("admin", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = HashPassword("")
	assert.Error(t, err)
}
