package testutil

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SignToken returns an HS256 JWT for userID that the service accepts in
// shared secret mode.
func SignToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is required")
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

// TokenFromEnv signs with LOCAL_AUTH_SHARED_SECRET, falling back to
// TEST_JWT_SECRET.
func TokenFromEnv(userID string) (string, error) {
	secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
	if secret == "" {
		secret = os.Getenv("TEST_JWT_SECRET")
	}
	if secret == "" {
		return "", errors.New("LOCAL_AUTH_SHARED_SECRET or TEST_JWT_SECRET must be set")
	}
	return SignToken([]byte(secret), userID, time.Hour)
}
