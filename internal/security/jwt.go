package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no bearer token is available.
	ErrMissingToken = errors.New("security: missing authorization token")
	// ErrInvalidToken is returned when the JWT is malformed, badly signed or
	// carries a scope this build does not know.
	ErrInvalidToken = errors.New("security: invalid token")
	// ErrExpiredToken is returned when the JWT has expired.
	ErrExpiredToken = errors.New("security: token expired")
)

// Claims are the local control API token claims. The subject is the device
// the token was minted for.
type Claims struct {
	DeviceID string `json:"device_id"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// GenerateToken mints an HS256 token for deviceID with the given scope.
func GenerateToken(deviceID, scope string, secret []byte, expiry time.Duration) (string, error) {
	if !ValidScope(scope) {
		return "", fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
	now := time.Now()
	claims := Claims{
		DeviceID: deviceID,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateToken verifies signature and expiry and returns the claims. A
// token whose scope is unknown is invalid, so CheckPermission only ever
// sees scopes from ValidScopes.
func ValidateToken(tokenStr string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	}
	if !ValidScope(claims.Scope) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
