package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/caelven/listend/internal/metrics"
	"github.com/caelven/listend/internal/presence"
)

const (
	// PingInterval and PongWait are used for connection heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// Client -> server events.
const (
	EventJoin      = "join"
	EventTrack     = "track"
	EventHeartbeat = "heartbeat"
	EventLeave     = "leave"
)

// Server -> client events.
const (
	EventSnapshot = "snapshot"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinPayload struct {
	NowPlaying *presence.NowPlaying `json:"nowPlaying,omitempty"`
}

type trackPayload struct {
	NowPlaying *presence.NowPlaying `json:"nowPlaying"`
}

type snapshotPayload struct {
	Records presence.Snapshot `json:"records"`
}

// Client represents one WebSocket connection owning one listener session.
// The connection is the session's disconnect hook: if it drops after a join
// without an explicit leave, the session's record is removed.
type Client struct {
	ID        string
	SessionID string
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
	joined    bool
	left      bool
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			hub:       hub,
			conn:      conn,
			send:      make(chan WSMessage, 64),
			logger:    logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		// Disconnect hook: an unclean drop after join removes the record.
		if c.joined && !c.left {
			ctx, cancel := contextWithOpTimeout()
			if err := c.hub.store.Remove(ctx, c.SessionID); err != nil {
				c.logger.Warn("disconnect cleanup", zap.String("session_id", c.SessionID), zap.Error(err))
			}
			cancel()
			c.hub.sessionLeft(c.SessionID)
		}
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		metrics.WSMessagesReceived.Inc()
		c.handle(msg)
	}
}

// handle applies one client event to the presence store. Timestamps are
// always store-assigned; whatever the client put in its payload clocks is
// ignored.
func (c *Client) handle(msg WSMessage) {
	ctx, cancel := contextWithOpTimeout()
	defer cancel()
	store := c.hub.store

	switch msg.Event {
	case EventJoin:
		metrics.PresenceOps.WithLabelValues("join").Inc()
		var p joinPayload
		_ = json.Unmarshal(msg.Data, &p)
		now := store.Now(ctx)
		rec := presence.Record{Online: true, JoinedAt: now, UpdatedAt: now, NowPlaying: p.NowPlaying}
		if err := store.Write(ctx, c.SessionID, rec); err != nil {
			metrics.PresenceOpErrors.WithLabelValues("join").Inc()
			c.logger.Warn("join", zap.String("session_id", c.SessionID), zap.Error(err))
			return
		}
		_ = store.OnDisconnectRemove(ctx, c.SessionID)
		wasJoined := c.joined
		c.joined = true
		c.left = false
		if !wasJoined {
			c.hub.sessionJoined(c.SessionID)
		}

	case EventTrack:
		metrics.PresenceOps.WithLabelValues("track").Inc()
		var p trackPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.NowPlaying == nil {
			return
		}
		now := store.Now(ctx)
		// Merge, not write: a track change must not reset joinedAt.
		if err := store.Merge(ctx, c.SessionID, presence.Patch{UpdatedAt: &now, NowPlaying: p.NowPlaying}); err != nil {
			metrics.PresenceOpErrors.WithLabelValues("track").Inc()
			c.logger.Warn("track change", zap.String("session_id", c.SessionID), zap.Error(err))
		}

	case EventHeartbeat:
		metrics.PresenceOps.WithLabelValues("heartbeat").Inc()
		now := store.Now(ctx)
		if err := store.Merge(ctx, c.SessionID, presence.Patch{UpdatedAt: &now}); err != nil {
			metrics.PresenceOpErrors.WithLabelValues("heartbeat").Inc()
			c.logger.Warn("heartbeat", zap.String("session_id", c.SessionID), zap.Error(err))
		}

	case EventLeave:
		metrics.PresenceOps.WithLabelValues("leave").Inc()
		if err := store.Remove(ctx, c.SessionID); err != nil {
			metrics.PresenceOpErrors.WithLabelValues("leave").Inc()
			c.logger.Warn("leave", zap.String("session_id", c.SessionID), zap.Error(err))
		}
		if c.joined && !c.left {
			c.hub.sessionLeft(c.SessionID)
		}
		c.left = true

	default:
		// ignore
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
