package services_test

import (
	"errors"
	"testing"
	"time"

	"harbor-chat/internal/services"
	harbor_errors "harbor-chat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims services.AccessClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	v := services.NewJWTVerifier(testSecret)
	token := signToken(t, testSecret, services.AccessClaims{
		DisplayName: "Alice",
		Email:       "alice@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Ref != "user-123" || id.DisplayName != "Alice" || id.Email != "alice@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyFallsBackToEmailForName(t *testing.T) {
	v := services.NewJWTVerifier(testSecret)
	token := signToken(t, testSecret, services.AccessClaims{
		Email: "bob@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-456",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.DisplayName != "bob@example.com" {
		t.Fatalf("want email fallback for display name, got %q", id.DisplayName)
	}
}

func TestVerifyRejections(t *testing.T) {
	v := services.NewJWTVerifier(testSecret)

	expired := signToken(t, testSecret, services.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	wrongKey := signToken(t, "other-secret", services.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	noSubject := signToken(t, testSecret, services.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"expired", expired},
		{"wrong key", wrongKey},
		{"missing subject", noSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); !errors.Is(err, harbor_errors.ErrUnauthorized) {
				t.Fatalf("want ErrUnauthorized, got %v", err)
			}
		})
	}
}
