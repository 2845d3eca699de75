package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/caelven/listend/internal/metrics"
	"github.com/caelven/listend/internal/presence"
)

// SessionHook is called when a listener session joins or leaves over the
// WebSocket transport (e.g. for listening-history logging).
type SessionHook func(sessionID string)

// CountChangeHandler is called with the live listener count on every
// snapshot (e.g. for daily peak tracking).
type CountChangeHandler func(count int)

// Hub fans presence snapshots out to connected WebSocket clients. It holds a
// single store subscription; every store change (from any transport, on any
// instance) is pushed to every connected client as a "snapshot" event.
type Hub struct {
	store  presence.Store
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	unsub   func()
	onJoin  SessionHook
	onLeave SessionHook
	onCount CountChangeHandler
}

// NewHub creates a WebSocket hub over the given presence store.
func NewHub(store presence.Store, logger *zap.Logger) *Hub {
	return &Hub{
		store:   store,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// SetSessionHooks sets join/leave callbacks for session logging.
func (h *Hub) SetSessionHooks(onJoin, onLeave SessionHook) {
	h.mu.Lock()
	h.onJoin = onJoin
	h.onLeave = onLeave
	h.mu.Unlock()
}

// SetCountChangeHandler sets the callback invoked with the listener count on
// every snapshot.
func (h *Hub) SetCountChangeHandler(fn CountChangeHandler) {
	h.mu.Lock()
	h.onCount = fn
	h.mu.Unlock()
}

// Start opens the hub's store subscription.
func (h *Hub) Start() error {
	unsub, err := h.store.Subscribe(h.pushSnapshot)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.unsub = unsub
	h.mu.Unlock()
	return nil
}

// Stop cancels the store subscription. Connected clients are closed by the
// HTTP server shutdown.
func (h *Hub) Stop() {
	h.mu.Lock()
	unsub := h.unsub
	h.unsub = nil
	h.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Register adds a client and immediately sends it the current snapshot, so a
// subscriber sees state before the first change arrives.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	metrics.WSConnections.Inc()

	snap, err := h.store.Load(context.Background())
	if err != nil {
		h.logger.Warn("initial snapshot", zap.String("client_id", c.ID), zap.Error(err))
		return
	}
	h.sendSnapshot(c, snap)
	h.logger.Debug("ws client connected",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID))
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
	metrics.WSConnections.Dec()
	h.logger.Debug("ws client disconnected",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID))
}

func (h *Hub) pushSnapshot(snap presence.Snapshot) {
	view := presence.DeriveView(snap, "", nil)
	metrics.ActiveListeners.Set(float64(view.Count))

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	onCount := h.onCount
	h.mu.RUnlock()

	if onCount != nil {
		onCount(view.Count)
	}
	for _, c := range clients {
		h.sendSnapshot(c, snap)
	}
}

func (h *Hub) sendSnapshot(c *Client, snap presence.Snapshot) {
	data, err := json.Marshal(snapshotPayload{Records: snap})
	if err != nil {
		return
	}
	msg := WSMessage{Event: EventSnapshot, Data: data}
	select {
	case c.send <- msg:
	default:
		// buffer full, skip; the next snapshot supersedes this one anyway
	}
}

func (h *Hub) sessionJoined(sessionID string) {
	h.mu.RLock()
	fn := h.onJoin
	h.mu.RUnlock()
	if fn != nil {
		fn(sessionID)
	}
}

func (h *Hub) sessionLeft(sessionID string) {
	h.mu.RLock()
	fn := h.onLeave
	h.mu.RUnlock()
	if fn != nil {
		fn(sessionID)
	}
}
