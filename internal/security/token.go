package security

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer credential for each outbound call.
// Implementations return ErrMissingToken or ErrExpiredToken when no usable
// credential exists; callers treat both as authentication failures.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential, usually from config.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrMissingToken
	}
	return string(t), nil
}

// FileToken reads the credential from a file on every call, so whatever
// performs login can rotate it without restarting the daemon.
type FileToken struct {
	Path string
}

func (f FileToken) Token(context.Context) (string, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrMissingToken
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return "", ErrMissingToken
	}
	return tok, nil
}

// ExpiryChecked wraps a source and rejects JWTs whose exp claim has passed,
// so an expired credential fails locally without a round trip. Tokens that
// are not JWTs pass through unchanged. The signature is not verified here;
// that is the remote's job.
type ExpiryChecked struct {
	Source TokenSource
	Leeway time.Duration
	now    func() time.Time
}

// NewExpiryChecked wraps src.
func NewExpiryChecked(src TokenSource, leeway time.Duration) *ExpiryChecked {
	return &ExpiryChecked{Source: src, Leeway: leeway, now: time.Now}
}

func (e *ExpiryChecked) Token(ctx context.Context) (string, error) {
	tok, err := e.Source.Token(ctx)
	if err != nil {
		return "", err
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return tok, nil
	}
	if claims.ExpiresAt == nil {
		return tok, nil
	}

	now := time.Now
	if e.now != nil {
		now = e.now
	}
	if !now().Before(claims.ExpiresAt.Add(-e.Leeway)) {
		return "", ErrExpiredToken
	}
	return tok, nil
}
