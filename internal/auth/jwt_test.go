package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestVerifyRoundTrip(t *testing.T) {
	v := NewTokenVerifier(testSecret)
	token := signToken(t, testSecret, "account-42", time.Hour)

	accountID, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if accountID != "account-42" {
		t.Errorf("expected subject account-42, got %q", accountID)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := NewTokenVerifier(testSecret)

	cases := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other-secret", "account-42", time.Hour)},
		{"expired", signToken(t, testSecret, "account-42", -time.Minute)},
		{"empty subject", signToken(t, testSecret, "", time.Hour)},
		{"garbage", "not.a.jwt"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(tc.token); err == nil {
				t.Fatal("expected verification to fail")
			}
		})
	}
}

func TestExtractTokenFromHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/chat", nil)
	r.Header.Set("Authorization", "Bearer abc123")

	token, err := ExtractTokenFromHeader(r)
	if err != nil {
		t.Fatalf("ExtractTokenFromHeader failed: %v", err)
	}
	if token != "abc123" {
		t.Errorf("expected abc123, got %q", token)
	}

	r = httptest.NewRequest("GET", "/chat", nil)
	if _, err := ExtractTokenFromHeader(r); err == nil {
		t.Error("expected error for missing header")
	}

	r = httptest.NewRequest("GET", "/chat", nil)
	r.Header.Set("Authorization", "Basic abc123")
	if _, err := ExtractTokenFromHeader(r); err == nil {
		t.Error("expected error for non-bearer scheme")
	}
}

func TestExtractTokenFromRequestPrefersQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")

	token, err := ExtractTokenFromRequest(r)
	if err != nil {
		t.Fatalf("ExtractTokenFromRequest failed: %v", err)
	}
	if token != "query-token" {
		t.Errorf("expected query token to win, got %q", token)
	}

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	token, err = ExtractTokenFromRequest(r)
	if err != nil {
		t.Fatalf("ExtractTokenFromRequest failed: %v", err)
	}
	if token != "header-token" {
		t.Errorf("expected header fallback, got %q", token)
	}
}
