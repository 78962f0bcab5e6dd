// Package rest provides the HTTP surface of the kiosk: the fullscreen page,
// the current artwork, the WebSocket feed and the JSON control API.
// This file implements RS256 JWT bearer-token authentication middleware.
//
// # Authentication Flow
//
// All requests to protected routes must include an Authorization header:
//
//	Authorization: Bearer <compact-JWT>
//
// The middleware verifies the token with golang-jwt, accepting only RS256,
// checks the standard time claims and, when configured, the issuer and
// audience, then injects the verified [Claims] into the request context.
//
// On any failure the middleware responds with HTTP 401 and a JSON error body;
// it does NOT call the next handler.
package rest

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const claimsKey contextKey = 0

// Claims holds the verified JWT claims injected by [JWTMiddleware].
type Claims struct {
	jwt.RegisteredClaims
}

// JWTConfig holds the configuration for [JWTMiddlewareWithConfig].
type JWTConfig struct {
	// PublicKey verifies RS256 signatures. Required.
	PublicKey *rsa.PublicKey

	// Issuer, if non-empty, must match the "iss" claim.
	Issuer string

	// Audience, if non-empty, must appear in the "aud" claim.
	Audience string

	// SkipPaths lists exact URL paths that bypass authentication.
	SkipPaths []string

	// Logger records authentication failures. Nil uses slog.Default().
	Logger *slog.Logger
}

// ClaimsFromContext retrieves the verified [Claims] injected by the
// middleware. It returns (nil, false) for unauthenticated requests.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// ParseRSAPublicKey decodes a PEM RSA public key in PKCS#1 ("RSA PUBLIC KEY")
// or PKIX ("PUBLIC KEY") form.
func ParseRSAPublicKey(pemData []byte) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("jwt: parse public key: %w", err)
	}
	return key, nil
}

// LoadRSAPublicKey reads and parses the PEM public key at path.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jwt: read public key %q: %w", path, err)
	}
	return ParseRSAPublicKey(data)
}

// JWTMiddleware returns chi-compatible middleware verifying RS256 tokens
// against pub.
func JWTMiddleware(pub *rsa.PublicKey) func(http.Handler) http.Handler {
	return JWTMiddlewareWithConfig(JWTConfig{PublicKey: pub})
}

// JWTMiddlewareWithConfig is [JWTMiddleware] with issuer, audience and skip
// path checks.
func JWTMiddlewareWithConfig(cfg JWTConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := extractAndValidate(r, parser, cfg.PublicKey)
			if err != nil {
				logger.Warn("jwt: authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("error", err.Error()),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractAndValidate parses the Authorization header and verifies the token.
func extractAndValidate(r *http.Request, parser *jwt.Parser, pub *rsa.PublicKey) (*Claims, error) {
	raw := r.Header.Get("Authorization")
	if !strings.HasPrefix(raw, "Bearer ") {
		return nil, errors.New("missing or malformed Authorization header")
	}
	token := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if token == "" {
		return nil, errors.New("empty bearer token")
	}

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// writeJSONError writes an HTTP error response with a JSON body.
func writeJSONError(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := fmt.Sprintf(`{"error":%q}`, detail)
	_, _ = w.Write([]byte(body))
}
