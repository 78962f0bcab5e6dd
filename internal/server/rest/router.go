package rest

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the kiosk.
//
// Route layout:
//
//	GET  /                    – fullscreen kiosk page
//	GET  /artwork.jpg         – current composed artwork
//	GET  /ws                  – WebSocket feed of display changes
//	GET  /healthz             – liveness probe
//	GET  /api/v1/state        – display state (JWT required)
//	GET  /api/v1/history      – recent rotations (JWT required)
//	GET  /api/v1/candidates   – pool files eligible for rotation (JWT required)
//	POST /api/v1/rotate       – rotate now (JWT required)
//	POST /api/v1/fullscreen   – set or toggle fullscreen (JWT required)
//
// pubKey verifies RS256 bearer tokens on /api routes. Pass nil to disable
// authentication.
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", srv.handleIndex)
	r.Get("/artwork.jpg", srv.handleArtwork)
	r.Head("/artwork.jpg", srv.handleArtwork)
	r.Get("/ws", srv.handleWS)
	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		r.Get("/state", srv.handleGetState)
		r.Get("/history", srv.handleGetHistory)
		r.Get("/candidates", srv.handleGetCandidates)
		r.Post("/rotate", srv.handleRotate)
		r.Post("/fullscreen", srv.handleFullscreen)
	})

	return r
}
