package security

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStaticToken(t *testing.T) {
	ctx := context.Background()

	tok, err := StaticToken("abc").Token(ctx)
	if err != nil || tok != "abc" {
		t.Errorf("Token() = %q, %v", tok, err)
	}
	if _, err := StaticToken("").Token(ctx); !errors.Is(err, ErrMissingToken) {
		t.Errorf("empty token error = %v, want ErrMissingToken", err)
	}
}

func TestFileToken(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token")
	src := FileToken{Path: path}

	if _, err := src.Token(ctx); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("missing file error = %v, want ErrMissingToken", err)
	}

	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Token(ctx); !errors.Is(err, ErrMissingToken) {
		t.Errorf("blank file error = %v, want ErrMissingToken", err)
	}

	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, _ := src.Token(ctx); tok != "first" {
		t.Errorf("Token() = %q, want first", tok)
	}

	// Rotation is picked up without reconstructing the source.
	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, _ := src.Token(ctx); tok != "second" {
		t.Errorf("Token() after rotation = %q, want second", tok)
	}
}

func TestExpiryChecked(t *testing.T) {
	ctx := context.Background()
	secret := []byte("remote-secret")

	live, _ := GenerateToken("device-1", ScopeProducer, secret, time.Hour)
	stale, _ := GenerateToken("device-1", ScopeProducer, secret, -time.Minute)
	nearly, _ := GenerateToken("device-1", ScopeProducer, secret, 10*time.Second)

	tests := []struct {
		name    string
		src     TokenSource
		leeway  time.Duration
		wantErr error
	}{
		{"live jwt", StaticToken(live), 0, nil},
		{"expired jwt", StaticToken(stale), 0, ErrExpiredToken},
		{"inside leeway", StaticToken(nearly), 30 * time.Second, ErrExpiredToken},
		{"opaque token", StaticToken("opaque-api-key"), 0, nil},
		{"missing", StaticToken(""), 0, ErrMissingToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := NewExpiryChecked(tt.src, tt.leeway).Token(ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && tok == "" {
				t.Error("expected token to pass through")
			}
		})
	}
}
