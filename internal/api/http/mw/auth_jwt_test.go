package mw

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whalewatch/internal/security"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv, &priv.PublicKey
}

func createTestToken(t *testing.T, priv *rsa.PrivateKey, sub string) string {
	t.Helper()

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		Audience:  jwt.ClaimStrings{"test-aud"},
		Issuer:    "test-iss",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	require.NoError(t, err)
	return token
}

func TestNewJWTMiddleware_PanicsOnNilVerifier(t *testing.T) {
	assert.Panics(t, func() {
		NewJWTMiddleware(nil)
	})
}

func TestJWTMiddleware_ValidTokenInjectsSubject(t *testing.T) {
	priv, pub := generateTestKeys(t)
	verifier := &security.RS256Verifier{PubKey: pub, Aud: "test-aud", Iss: "test-iss", Leeway: time.Minute}
	m := NewJWTMiddleware(verifier)

	var gotSub string
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = UserID(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, priv, "user123"))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user123", gotSub)
}

func TestJWTMiddleware_MissingToken(t *testing.T) {
	_, pub := generateTestKeys(t)
	m := NewJWTMiddleware(&security.RS256Verifier{PubKey: pub, Leeway: time.Minute})

	called := false
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestJWTMiddleware_EmptySubject(t *testing.T) {
	priv, pub := generateTestKeys(t)
	m := NewJWTMiddleware(&security.RS256Verifier{PubKey: pub, Leeway: time.Minute})

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a subject")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, priv, ""))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserID_NoContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, UserID(req))
}
