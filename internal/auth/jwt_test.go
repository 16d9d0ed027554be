package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestValidateToken(t *testing.T) {
	validator := NewValidator("relay-secret")

	signed := signToken(t, "relay-secret", Claims{
		ClientID: "device-42",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})

	claims, err := validator.Validate(signed)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.ClientID != "device-42" {
		t.Errorf("Expected client id device-42, got %q", claims.ClientID)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	validator := NewValidator("relay-secret")

	signed := signToken(t, "some-other-secret", Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := validator.Validate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	validator := NewValidator("relay-secret")

	signed := signToken(t, "relay-secret", Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	if _, err := validator.Validate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Expected ErrInvalidToken for an expired token, got %v", err)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	validator := NewValidator("relay-secret")

	if _, err := validator.Validate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Expected ErrInvalidToken for garbage, got %v", err)
	}
}
