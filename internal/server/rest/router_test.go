package rest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/artkiosk/kiosk/internal/logging"
)

func validBearerToken(t *testing.T) (string, func(*testing.T) http.Handler) {
	t.Helper()
	priv, pub := generateTestKey(t)
	tok := signToken(t, priv, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Subject:   "test",
	})
	build := func(t *testing.T) http.Handler {
		state, bc := newDisplay()
		srv := NewServer(
			WithLogger(logging.Discard()),
			WithDisplay(state, bc),
			WithHistory(&mockHistory{}),
			WithRotator(&mockRotator{candidates: []string{"/pool/a.jpg"}}),
		)
		return NewRouter(srv, pub)
	}
	return "Bearer " + tok, build
}

// TestRouter_PublicRoutesNoAuth verifies the kiosk surface is reachable
// without a JWT.
func TestRouter_PublicRoutesNoAuth(t *testing.T) {
	_, build := validBearerToken(t)
	h := build(t)

	for _, route := range []string{"/healthz", "/"} {
		req := httptest.NewRequest(http.MethodGet, route, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", route, rec.Code)
		}
	}
}

var apiRoutes = []struct {
	method string
	path   string
}{
	{http.MethodGet, "/api/v1/state"},
	{http.MethodGet, "/api/v1/history"},
	{http.MethodGet, "/api/v1/candidates"},
	{http.MethodPost, "/api/v1/rotate"},
	{http.MethodPost, "/api/v1/fullscreen"},
}

// TestRouter_APIRoutesRequireJWT verifies that all /api/v1/* routes return 401
// when no Authorization header is present.
func TestRouter_APIRoutesRequireJWT(t *testing.T) {
	_, build := validBearerToken(t)
	h := build(t)

	for _, route := range apiRoutes {
		req := httptest.NewRequest(route.method, route.path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 without JWT, got %d", route.method, route.path, rec.Code)
		}
	}
}

// TestRouter_APIRoutesAccessibleWithJWT verifies that a valid JWT passes the
// middleware and reaches the handlers.
func TestRouter_APIRoutesAccessibleWithJWT(t *testing.T) {
	bearer, build := validBearerToken(t)
	h := build(t)

	for _, route := range apiRoutes {
		req := httptest.NewRequest(route.method, route.path, nil)
		req.Header.Set("Authorization", bearer)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s %s: expected 200 with JWT, got %d", route.method, route.path, rec.Code)
		}
	}
}
