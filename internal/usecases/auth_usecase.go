package usecases

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"dermabot/internal/entities"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const tokenTTL = 24 * time.Hour

// AuthUsecase authenticates the single configured operator and issues JWTs
// for the admin API.
type AuthUsecase struct {
	operator  entities.Operator
	jwtSecret []byte
}

func NewAuthUsecase(username, passwordHash, secret string) *AuthUsecase {
	return &AuthUsecase{
		operator: entities.Operator{
			Username:     username,
			PasswordHash: passwordHash,
			Role:         "admin",
		},
		jwtSecret: []byte(secret),
	}
}

// Enabled reports whether logins can succeed at all.
func (uc *AuthUsecase) Enabled() bool {
	return len(uc.jwtSecret) > 0 && uc.operator.PasswordHash != ""
}

func (uc *AuthUsecase) Login(username, password string) (string, error) {
	if !uc.Enabled() {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(uc.operator.Username)) != 1 {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(uc.operator.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  uc.operator.Username,
		"role": uc.operator.Role,
		"exp":  time.Now().Add(tokenTTL).Unix(),
	})
	tokenString, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// HashPassword returns the bcrypt hash to put in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
