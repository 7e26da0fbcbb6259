package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

// principalEcho records the principal the middleware resolved.
func principalEcho(captured **Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestIdentityValidToken(t *testing.T) {
	raw := signToken(t, testSecret, jwt.MapClaims{
		"sub":     "auth0|user1",
		"name":    "Alice",
		"email":   "alice@example.com",
		"picture": "https://cdn/alice.png",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	var got *Principal
	h := Identity(testSecret, "")(principalEcho(&got))
	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "auth0|user1", got.Subject)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "https://cdn/alice.png", got.AvatarURL)
}

func TestIdentityMissingTokenPassesThrough(t *testing.T) {
	var got *Principal
	h := Identity(testSecret, "")(principalEcho(&got))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, got)
}

func TestIdentityWrongSecret(t *testing.T) {
	raw := signToken(t, "other-secret", jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	var got *Principal
	h := Identity(testSecret, "")(principalEcho(&got))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Nil(t, got)
}

func TestIdentityExpiredToken(t *testing.T) {
	raw := signToken(t, testSecret, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	var got *Principal
	h := Identity(testSecret, "")(principalEcho(&got))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Nil(t, got)
}

func TestIdentityEmptySubjectRejected(t *testing.T) {
	raw := signToken(t, testSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	var got *Principal
	h := Identity(testSecret, "")(principalEcho(&got))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Nil(t, got)
}

func TestIdentityIssuerEnforced(t *testing.T) {
	raw := signToken(t, testSecret, jwt.MapClaims{
		"sub": "u1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	var got *Principal
	h := Identity(testSecret, "expected-issuer")(principalEcho(&got))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Nil(t, got)
}

func TestIdentityQueryTokenForWebSocket(t *testing.T) {
	raw := signToken(t, testSecret, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	var got *Principal
	h := Identity(testSecret, "")(principalEcho(&got))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws?token="+raw, nil))

	require.NotNil(t, got)
	assert.Equal(t, "u1", got.Subject)
}

func TestRequireIdentityRejectsAnonymous(t *testing.T) {
	h := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/users/sync", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthenticated"}`, rec.Body.String())
}

func TestRequireIdentityPassesAuthenticated(t *testing.T) {
	h := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/users/sync", nil)
	req = req.WithContext(WithPrincipal(req.Context(), &Principal{Subject: "u1"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
