package viewer

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artkiosk/kiosk/internal/render"
)

// Snapshot is a point-in-time copy of the display state.
type Snapshot struct {
	// Boot identifies the viewer process. Versions restart at one in a new
	// process, so Version alone does not identify an image across restarts.
	Boot string `json:"boot"`
	// Version increases by one every time a new image is displayed. Zero
	// means nothing has been rendered yet.
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	// SourceFormat is the decoded format of the artwork file.
	SourceFormat string `json:"source_format,omitempty"`
	Fullscreen   bool   `json:"fullscreen"`
	// LastError is the most recent render failure, cleared by the next
	// successful render.
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
	// Redisplays counts successful renders since start-up.
	Redisplays uint64 `json:"redisplays"`

	// JPEG is the composed image. It is shared, never mutated.
	JPEG []byte `json:"-"`
}

// Ready reports whether an image has been rendered.
func (s Snapshot) Ready() bool { return s.Version > 0 }

// Tag identifies the displayed image across viewer restarts. It is used for
// the artwork ETag and URL.
func (s Snapshot) Tag() string {
	v := strconv.FormatUint(s.Version, 10)
	if s.Boot == "" {
		return v
	}
	return s.Boot + "." + v
}

// State holds what the display currently shows. It is written by the
// Reactor and the control API and read by HTTP handlers.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewState returns an empty State with the given initial fullscreen flag and
// a fresh boot id.
func NewState(fullscreen bool) *State {
	boot := uuid.NewString()[:8]
	return &State{snap: Snapshot{Boot: boot, Fullscreen: fullscreen}}
}

// Update stores a freshly rendered image and returns the new snapshot.
func (s *State) Update(res *render.Result, at time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Version++
	s.snap.Redisplays++
	s.snap.UpdatedAt = at
	s.snap.Width = res.Width
	s.snap.Height = res.Height
	s.snap.SourceFormat = res.SourceFormat
	s.snap.JPEG = res.JPEG
	s.snap.LastError = ""
	s.snap.LastErrorAt = time.Time{}
	return s.snap
}

// SetError records a render failure. The displayed image is kept.
func (s *State) SetError(err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastError = err.Error()
	s.snap.LastErrorAt = at
}

// SetFullscreen sets the fullscreen flag and returns the new snapshot.
func (s *State) SetFullscreen(on bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Fullscreen = on
	return s.snap
}

// ToggleFullscreen flips the fullscreen flag and returns the new snapshot.
func (s *State) ToggleFullscreen() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Fullscreen = !s.snap.Fullscreen
	return s.snap
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
