package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var jwtTestSecret = bytes.Repeat([]byte{0x42}, 32)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGenerateToken(t *testing.T) {
	token, expiresAt, err := GenerateToken(jwtTestSecret, "switch-1")
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if !expiresAt.After(time.Now()) {
		t.Errorf("expiry %v is in the past", expiresAt)
	}

	claims := &APIClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return jwtTestSecret, nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("parsing own token: %v", err)
	}
	if claims.Client != "switch-1" {
		t.Errorf("Client = %q, want switch-1", claims.Client)
	}
	if claims.Issuer != "callpolicy" {
		t.Errorf("Issuer = %q, want callpolicy", claims.Issuer)
	}
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(jwtTestSecret)(okHandler())

	token, _, err := GenerateToken(jwtTestSecret, "switch-1")
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/decide", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequireAuthRejectsWrongSecret(t *testing.T) {
	handler := RequireAuth(jwtTestSecret)(okHandler())

	token, _, err := GenerateToken(bytes.Repeat([]byte{0x99}, 32), "forger")
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/decide", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthRejectsUnsignedToken(t *testing.T) {
	handler := RequireAuth(jwtTestSecret)(okHandler())

	// alg=none tokens must never pass.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, APIClaims{Client: "forger"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/decide", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
