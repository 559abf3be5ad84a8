package render

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lenslate/lenslate/pkg/types"
)

// writeTimeout bounds how long a single client write may take before the
// client is considered stuck and dropped.
const writeTimeout = 2 * time.Second

// clientBufferSize is the per-client outbound frame buffer. A client that
// falls this many frames behind starts losing old frames (latest-wins).
const clientBufferSize = 4

// OverlayFrame is the JSON message broadcast to overlay clients.
type OverlayFrame struct {
	FrameID     string                  `json:"frameId"`
	Units       []types.TranslationUnit `json:"units"`
	CompletedAt time.Time               `json:"completedAt"`
}

// WSRenderer broadcasts completed frames to overlay UI clients over
// WebSocket. Render never blocks: each client has a small buffer and slow
// clients lose stale frames rather than stalling the pipeline.
//
// Newly connected clients immediately receive the latest completed frame so
// the overlay is populated without waiting for the next tick.
type WSRenderer struct {
	logger *slog.Logger
	latest LatestFrame

	mu        sync.Mutex
	clients   map[*wsClient]struct{}
	closed    bool
	onClients func(delta int)
}

// wsClient is one connected overlay consumer.
type wsClient struct {
	frames chan OverlayFrame
}

// NewWSRenderer creates a WSRenderer. logger may be nil for slog.Default.
func NewWSRenderer(logger *slog.Logger) *WSRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRenderer{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// SetClientObserver registers fn to be called with the change in connected
// client count: +1 per connect, -1 per disconnect, and the remaining count
// negated on Close. Set it before the renderer starts serving; the callback
// runs outside the renderer's lock.
func (r *WSRenderer) SetClientObserver(fn func(delta int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClients = fn
}

// Render implements Renderer. It records the frame as latest and fans it out
// to every connected client without blocking.
func (r *WSRenderer) Render(frameID string, units []types.TranslationUnit) {
	r.latest.Set(frameID, units)
	frame := OverlayFrame{FrameID: frameID, Units: units, CompletedAt: time.Now()}

	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		select {
		case c.frames <- frame:
		default:
			// Client buffer full: drop its oldest frame to make room.
			select {
			case <-c.frames:
			default:
			}
			select {
			case c.frames <- frame:
			default:
			}
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams overlay frames
// until the client disconnects. Register it on the server mux, typically at
// GET /overlay.
func (r *WSRenderer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Warn("overlay websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	c := &wsClient{frames: make(chan OverlayFrame, clientBufferSize)}
	if !r.addClient(c) {
		conn.Close(websocket.StatusGoingAway, "renderer closed")
		return
	}
	defer r.removeClient(c)

	// Seed the new client with the latest completed frame, if any.
	if frameID, units, at := r.latest.Get(); frameID != "" {
		select {
		case c.frames <- OverlayFrame{FrameID: frameID, Units: units, CompletedAt: at}:
		default:
		}
	}

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.frames:
			if err := writeFrame(ctx, conn, frame); err != nil {
				r.logger.Debug("overlay client write failed, dropping client", "err", err)
				return
			}
		}
	}
}

// Close disconnects all clients and rejects future connections.
func (r *WSRenderer) Close() {
	r.mu.Lock()
	dropped := len(r.clients)
	r.closed = true
	clear(r.clients)
	onChange := r.onClients
	r.mu.Unlock()
	if dropped > 0 && onChange != nil {
		onChange(-dropped)
	}
}

// ClientCount returns the number of connected overlay clients.
func (r *WSRenderer) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *WSRenderer) addClient(c *wsClient) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.clients[c] = struct{}{}
	onChange := r.onClients
	r.mu.Unlock()
	if onChange != nil {
		onChange(1)
	}
	return true
}

func (r *WSRenderer) removeClient(c *wsClient) {
	r.mu.Lock()
	_, present := r.clients[c]
	delete(r.clients, c)
	onChange := r.onClients
	r.mu.Unlock()
	if present && onChange != nil {
		onChange(-1)
	}
}

// writeFrame sends one frame as a text message with a bounded deadline.
func writeFrame(ctx context.Context, conn *websocket.Conn, frame OverlayFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
