package admission

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestGate() *Gate {
	return NewGate(Config{
		AllowedOrigins: []string{"https://archiver.example.com", "http://localhost:3000"},
		AuthSecret:     "s3cret",
	})
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGate_CORSBlocksDisallowedOriginOnWrite(t *testing.T) {
	g := newTestGate()
	h := g.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/whatever", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGate_CORSAllowsGETRegardlessOfOrigin(t *testing.T) {
	g := newTestGate()
	h := g.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/items/1", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_CORSAllowsListedOrigin(t *testing.T) {
	g := newTestGate()
	h := g.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/whatever", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_RateLimitExceededReturns429(t *testing.T) {
	g := newTestGate()
	h := g.Wrap(okHandler())

	var lastCode int
	for i := 0; i < RateLimitRequests+1; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/items/1", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.5")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	assert.Equalf(t, http.StatusTooManyRequests, lastCode, "expected 429 on the %dth request", RateLimitRequests+1)
}

func TestGate_RateLimitFallsThroughWithoutForwardedFor(t *testing.T) {
	g := newTestGate()
	h := g.Wrap(okHandler())

	// No X-Forwarded-For header at all: forwardedFor returns "" and the
	// request passes through ungated, no matter how many are sent.
	for i := 0; i < RateLimitRequests+5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/items/1", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equalf(t, http.StatusOK, rec.Code, "request %d: expected 200 with no forwarded-for header", i)
	}
}

func TestGate_PrivilegedRouteRequiresBearer(t *testing.T) {
	g := newTestGate()
	h := g.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/trigger/discovery", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGate_PrivilegedRouteAcceptsCorrectBearer(t *testing.T) {
	g := newTestGate()
	h := g.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/trigger/discovery", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_PrivilegedRouteFailsClosedWithNoSecretConfigured(t *testing.T) {
	g := NewGate(Config{AllowedOrigins: []string{"http://localhost:3000"}})
	h := g.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/similar/1", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGate_UnprivilegedRouteBypassesAuth(t *testing.T) {
	g := newTestGate()
	h := g.Wrap(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/items/1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
