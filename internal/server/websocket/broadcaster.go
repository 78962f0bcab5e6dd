// Package websocket pushes display updates to the kiosk pages connected to
// the viewer. The Broadcaster fans messages out to every connected client
// without blocking the reactor that produces them.
//
// Each client has a dedicated buffered channel of JSON-encoded messages. A
// non-blocking send is used so that a slow or disconnected page never stalls
// the reactor. Clients are tracked in a sync.Map keyed by client ID.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artkiosk/kiosk/internal/viewer"
)

// Message types.
const (
	TypeArtwork    = "artwork"
	TypeFullscreen = "fullscreen"
)

// Message is the JSON envelope pushed to kiosk pages.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ArtworkData announces a new image. Pages fetch it from URL.
type ArtworkData struct {
	Boot      string `json:"boot"`
	Version   uint64 `json:"version"`
	UpdatedAt string `json:"updated_at"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	URL       string `json:"url"`
}

// FullscreenData carries the requested fullscreen state.
type FullscreenData struct {
	Fullscreen bool `json:"fullscreen"`
}

// ArtworkMessage builds the artwork announcement for s.
func ArtworkMessage(s viewer.Snapshot) Message {
	return Message{
		Type: TypeArtwork,
		Data: ArtworkData{
			Boot:      s.Boot,
			Version:   s.Version,
			UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339Nano),
			Width:     s.Width,
			Height:    s.Height,
			URL:       "/artwork.jpg?v=" + s.Tag(),
		},
	}
}

// FullscreenMessage builds the fullscreen announcement.
func FullscreenMessage(on bool) Message {
	return Message{Type: TypeFullscreen, Data: FullscreenData{Fullscreen: on}}
}

// Client represents a single connected page. It is created by
// Broadcaster.Register and is valid until Broadcaster.Unregister is called.
type Client struct {
	id      string
	send    chan []byte
	Dropped atomic.Int64 // incremented when the send buffer is full

	mu     sync.Mutex
	closed bool
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Send returns the channel on which JSON-encoded frames are delivered. The
// channel is closed when the client is unregistered.
func (c *Client) Send() <-chan []byte { return c.send }

// offer performs a non-blocking send and reports whether raw was queued.
func (c *Client) offer(raw []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Broadcaster fans messages out to all connected clients. It is safe for
// concurrent use and satisfies viewer.Publisher.
type Broadcaster struct {
	clients   sync.Map // map[string]*Client
	clientCnt atomic.Int64

	bufSize int
	logger  *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewBroadcaster creates a Broadcaster. bufSize is the per-client channel
// depth; 0 uses 16.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Broadcaster{
		bufSize: bufSize,
		logger:  logger,
	}
}

// Register creates a Client with the given id. The caller must call
// Unregister(id) when the client disconnects. After Close, Register returns a
// Client whose Send channel is already closed.
func (b *Broadcaster) Register(id string) *Client {
	c := &Client{
		id:   id,
		send: make(chan []byte, b.bufSize),
	}
	if b.closed.Load() {
		c.close()
		return c
	}
	b.clients.Store(id, c)
	b.clientCnt.Add(1)
	return c
}

// Unregister removes the client with id and closes its Send channel. Unknown
// ids are ignored.
func (b *Broadcaster) Unregister(id string) {
	if v, loaded := b.clients.LoadAndDelete(id); loaded {
		v.(*Client).close()
		b.clientCnt.Add(-1)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	return int(b.clientCnt.Load())
}

// Broadcast marshals msg to JSON and offers it to every client. When a
// client's buffer is full the message is dropped for that client.
func (b *Broadcaster) Broadcast(msg Message) {
	if b.closed.Load() {
		return
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("websocket broadcaster: marshal failed", slog.Any("error", err))
		return
	}

	b.clients.Range(func(_, v any) bool {
		c := v.(*Client)
		if !c.offer(raw) {
			c.Dropped.Add(1)
			b.logger.Warn("websocket broadcaster: client buffer full, dropping message",
				slog.String("client_id", c.id),
				slog.String("type", msg.Type),
			)
		}
		return true
	})
}

// Publish announces a newly displayed image to every client.
func (b *Broadcaster) Publish(s viewer.Snapshot) {
	b.Broadcast(ArtworkMessage(s))
}

// PublishFullscreen announces a fullscreen change to every client.
func (b *Broadcaster) PublishFullscreen(on bool) {
	b.Broadcast(FullscreenMessage(on))
}

// Close unregisters every client. Afterwards Broadcast is a no-op.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.clients.Range(func(key, _ any) bool {
			// Unregister may remove the same client concurrently; only
			// the caller that deletes it decrements the count.
			if v, loaded := b.clients.LoadAndDelete(key); loaded {
				v.(*Client).close()
				b.clientCnt.Add(-1)
			}
			return true
		})
	})
}
