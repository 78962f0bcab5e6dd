package rest

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/artkiosk/kiosk/internal/history"
	"github.com/artkiosk/kiosk/internal/rotator"
	"github.com/artkiosk/kiosk/internal/server/websocket"
	"github.com/artkiosk/kiosk/internal/viewer"
)

// ErrNoRotator is reported by rotation endpoints on a server without a
// rotator attached (the viewer process).
var ErrNoRotator = errors.New("rest: no rotator attached")

//go:embed static/kiosk.html
var kioskPage []byte

// maxHistoryLimit caps the limit query parameter of /api/v1/history.
const maxHistoryLimit = 1000

// Rotator is the subset of *rotator.Rotator the control API uses.
type Rotator interface {
	RotateOnce(ctx context.Context, trigger history.Trigger) (history.Rotation, error)
	Candidates() ([]string, error)
}

// HistoryReader is the read side of history.Store.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Rotation, error)
	Count(ctx context.Context) (int64, error)
}

// writeError writes an HTTP error response with a JSON "error" field.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONError(w, code, msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server holds the dependencies of the HTTP handlers. Every dependency is
// optional; endpoints whose dependency is missing answer 404 or 501.
type Server struct {
	state   *viewer.State
	bc      *websocket.Broadcaster
	ws      http.Handler
	history HistoryReader
	rot     Rotator
	healthz http.HandlerFunc
	logger  *slog.Logger
}

// Option is a functional option for Server construction.
type Option func(*Server)

// WithDisplay attaches the display state and the broadcaster pushing its
// changes, enabling the kiosk page, the artwork, the WebSocket feed and the
// fullscreen endpoint.
func WithDisplay(state *viewer.State, bc *websocket.Broadcaster) Option {
	return func(s *Server) {
		s.state = state
		s.bc = bc
	}
}

// WithHistory attaches the rotation history.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithRotator attaches a rotator, enabling manual rotation.
func WithRotator(r Rotator) Option {
	return func(s *Server) { s.rot = r }
}

// WithHealthz replaces the default /healthz handler.
func WithHealthz(h http.HandlerFunc) Option {
	return func(s *Server) { s.healthz = h }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a Server from opts.
func NewServer(opts ...Option) *Server {
	s := &Server{logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.bc != nil {
		s.ws = websocket.NewHandler(s.bc, s.logger, 0).WithGreeting(s.greeting)
	}
	return s
}

// greeting is sent to every page on connect so it shows the current state
// immediately.
func (s *Server) greeting() []websocket.Message {
	snap := s.state.Snapshot()
	msgs := []websocket.Message{websocket.FullscreenMessage(snap.Fullscreen)}
	if snap.Ready() {
		msgs = append(msgs, websocket.ArtworkMessage(snap))
	}
	return msgs
}

// handleHealthz responds to GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.healthz != nil {
		s.healthz(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIndex serves the fullscreen kiosk page.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	if s.state == nil {
		writeError(w, http.StatusNotFound, "no display on this server")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(kioskPage)
}

// handleArtwork serves the current composed JPEG. The ETag combines the boot
// id and the content version so that pages can revalidate cheaply, even
// across viewer restarts. Before the first render the
// response is 503.
func (s *Server) handleArtwork(w http.ResponseWriter, r *http.Request) {
	if s.state == nil {
		writeError(w, http.StatusNotFound, "no display on this server")
		return
	}
	snap := s.state.Snapshot()
	if !snap.Ready() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "artwork not rendered yet")
		return
	}

	etag := `"` + snap.Tag() + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Last-Modified", snap.UpdatedAt.UTC().Format(http.TimeFormat))
	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(snap.JPEG)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(snap.JPEG)
	}
}

// handleWS upgrades to the WebSocket feed.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.ws == nil {
		writeError(w, http.StatusNotFound, "no display on this server")
		return
	}
	s.ws.ServeHTTP(w, r)
}

// handleGetState responds to GET /api/v1/state with the display state.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	if s.state == nil {
		writeError(w, http.StatusNotFound, "no display on this server")
		return
	}
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// historyResponse is the body of GET /api/v1/history.
type historyResponse struct {
	Total     int64              `json:"total"`
	Rotations []history.Rotation `json:"rotations"`
}

// handleGetHistory responds to GET /api/v1/history.
//
// Supported query parameters:
//
//	limit – maximum number of rotations, newest first (default 50, max 1000)
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "rotation history is not configured")
		return
	}

	limit := history.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rows, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("rest: history query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	total, err := s.history.Count(r.Context())
	if err != nil {
		s.logger.Error("rest: history count failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if rows == nil {
		rows = []history.Rotation{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Total: total, Rotations: rows})
}

// handleGetCandidates responds to GET /api/v1/candidates with the pool files
// eligible for the next rotation.
func (s *Server) handleGetCandidates(w http.ResponseWriter, _ *http.Request) {
	if s.rot == nil {
		writeError(w, http.StatusNotImplemented, ErrNoRotator.Error())
		return
	}
	files, err := s.rot.Candidates()
	if err != nil {
		s.logger.Error("rest: list candidates failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": files})
}

// handleRotate responds to POST /api/v1/rotate by rotating immediately.
// An empty pool answers 409.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	if s.rot == nil {
		writeError(w, http.StatusNotImplemented, ErrNoRotator.Error())
		return
	}
	rot, err := s.rot.RotateOnce(r.Context(), history.TriggerManual)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rot)
	case errors.Is(err, rotator.ErrEmptyPool):
		writeError(w, http.StatusConflict, "image pool is empty")
	default:
		s.logger.Error("rest: manual rotation failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "rotation failed")
	}
}

// fullscreenRequest is the optional body of POST /api/v1/fullscreen. A
// missing body or a null field toggles the current state.
type fullscreenRequest struct {
	Fullscreen *bool `json:"fullscreen"`
}

// handleFullscreen responds to POST /api/v1/fullscreen and pushes the new
// state to every connected page.
func (s *Server) handleFullscreen(w http.ResponseWriter, r *http.Request) {
	if s.state == nil {
		writeError(w, http.StatusNotFound, "no display on this server")
		return
	}

	var req fullscreenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "body must be {\"fullscreen\": bool} or empty")
		return
	}

	var snap viewer.Snapshot
	if req.Fullscreen == nil {
		snap = s.state.ToggleFullscreen()
	} else {
		snap = s.state.SetFullscreen(*req.Fullscreen)
	}
	if s.bc != nil {
		s.bc.PublishFullscreen(snap.Fullscreen)
	}
	s.logger.Info("rest: fullscreen changed", slog.Bool("fullscreen", snap.Fullscreen))
	writeJSON(w, http.StatusOK, map[string]bool{"fullscreen": snap.Fullscreen})
}
