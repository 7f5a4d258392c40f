package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestValidateServiceToken(t *testing.T) {
	if err := ValidateServiceToken("", "expected"); err == nil {
		t.Fatalf("expected missing token error")
	}
	if err := ValidateServiceToken("bad", "expected"); err == nil {
		t.Fatalf("expected invalid token error")
	}
	if err := ValidateServiceToken("expected", "expected"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTGenerateValidate(t *testing.T) {
	secret := []byte("s3cr3t")
	token, err := GenerateJWT("user1", "u@example.com", "admin", secret)
	if err != nil {
		t.Fatalf("generate jwt: %v", err)
	}
	claims, err := ValidateJWT(token, secret)
	if err != nil {
		t.Fatalf("validate jwt: %v", err)
	}
	if claims.UserID != "user1" || claims.Role != "admin" {
		t.Fatalf("claims mismatch")
	}
}

func TestJWTValidationEdgeCases(t *testing.T) {
	tests := []struct {
		name        string
		setupToken  func() string
		secret      []byte
		expectError bool
		errorType   error
	}{
		{
			name: "valid token with correct secret",
			setupToken: func() string {
				token, _ := GenerateJWT("user1", "test@example.com", "user", []byte("correct-secret"))
				return token
			},
			secret:      []byte("correct-secret"),
			expectError: false,
		},
		{
			name: "valid token with wrong secret",
			setupToken: func() string {
				token, _ := GenerateJWT("user1", "test@example.com", "user", []byte("correct-secret"))
				return token
			},
			secret:      []byte("wrong-secret"),
			expectError: true,
			errorType:   ErrInvalidJWT,
		},
		{
			name: "expired token",
			setupToken: func() string {
				claims := &Claims{
					UserID: "user1",
					Email:  "test@example.com",
					Role:   "user",
					RegisteredClaims: jwt.RegisteredClaims{
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
						IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
					},
				}
				token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
				tokenString, _ := token.SignedString([]byte("test-secret"))
				return tokenString
			},
			secret:      []byte("test-secret"),
			expectError: true,
			errorType:   ErrExpiredJWT,
		},
		{
			name: "malformed token",
			setupToken: func() string {
				return "not.a.valid.jwt.token"
			},
			secret:      []byte("test-secret"),
			expectError: true,
			errorType:   ErrInvalidJWT,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ValidateJWT(tt.setupToken(), tt.secret)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error, got claims %+v", claims)
				}
				if tt.errorType != nil && !errors.Is(err, tt.errorType) {
					t.Fatalf("expected %v, got %v", tt.errorType, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if claims.UserID != "user1" {
				t.Fatalf("claims mismatch: %+v", claims)
			}
		})
	}
}
