package listen

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/caelven/listend/internal/presence"
	"github.com/caelven/listend/internal/realtime"
)

// RemoteStore speaks the server's WebSocket protocol and presents it as a
// presence.Store bound to one session. The connection itself is the
// disconnect hook: dropping it without a leave removes the record
// server-side, so OnDisconnectRemove needs no wire traffic.
type RemoteStore struct {
	sessionID string
	conn      *websocket.Conn
	logger    *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[int]func(presence.Snapshot)
	nextSub int
	last    presence.Snapshot
	closed  bool

	dispatchMu sync.Mutex
}

// DialRemote connects to the server's /ws endpoint for the given session.
func DialRemote(ctx context.Context, wsURL, sessionID string, logger *zap.Logger) (*RemoteStore, error) {
	url := fmt.Sprintf("%s?session_id=%s", wsURL, sessionID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial presence server: %w", err)
	}
	r := &RemoteStore{
		sessionID: sessionID,
		conn:      conn,
		logger:    logger,
		subs:      make(map[int]func(presence.Snapshot)),
	}
	go r.readLoop()
	return r, nil
}

func (r *RemoteStore) readLoop() {
	for {
		var msg realtime.WSMessage
		if err := r.conn.ReadJSON(&msg); err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if !closed {
				r.logger.Warn("presence connection lost", zap.Error(err))
			}
			return
		}
		if msg.Event != realtime.EventSnapshot {
			continue
		}
		var p struct {
			Records presence.Snapshot `json:"records"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			continue
		}
		r.mu.Lock()
		r.last = p.Records
		subs := make([]func(presence.Snapshot), 0, len(r.subs))
		for _, fn := range r.subs {
			subs = append(subs, fn)
		}
		r.mu.Unlock()
		r.dispatch(p.Records, subs)
	}
}

func (r *RemoteStore) send(event string, payload interface{}) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		data = b
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return r.conn.WriteJSON(realtime.WSMessage{Event: event, Data: data})
}

func (r *RemoteStore) checkOwn(sessionID string) error {
	if sessionID != r.sessionID {
		return fmt.Errorf("remote store is bound to session %s", r.sessionID)
	}
	return nil
}

// Write joins (or rejoins) the bound session. The server assigns the
// timestamps; the record's clock fields are ignored on the wire.
func (r *RemoteStore) Write(_ context.Context, sessionID string, rec presence.Record) error {
	if err := r.checkOwn(sessionID); err != nil {
		return err
	}
	return r.send(realtime.EventJoin, map[string]interface{}{"nowPlaying": rec.NowPlaying})
}

// Merge sends a track change or, for a bare updatedAt refresh, a heartbeat.
func (r *RemoteStore) Merge(_ context.Context, sessionID string, p presence.Patch) error {
	if err := r.checkOwn(sessionID); err != nil {
		return err
	}
	if p.NowPlaying != nil {
		return r.send(realtime.EventTrack, map[string]interface{}{"nowPlaying": p.NowPlaying})
	}
	return r.send(realtime.EventHeartbeat, nil)
}

// Remove leaves the bound session.
func (r *RemoteStore) Remove(_ context.Context, sessionID string) error {
	if err := r.checkOwn(sessionID); err != nil {
		return err
	}
	return r.send(realtime.EventLeave, nil)
}

// OnDisconnectRemove is satisfied by the connection itself; the server
// removes the record when this connection drops after a join.
func (r *RemoteStore) OnDisconnectRemove(_ context.Context, sessionID string) error {
	return r.checkOwn(sessionID)
}

// Subscribe registers a snapshot callback; fires immediately with the last
// received snapshot, if any has arrived yet.
func (r *RemoteStore) Subscribe(fn func(presence.Snapshot)) (func(), error) {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	last := r.last
	r.mu.Unlock()

	if last != nil {
		r.dispatch(last, []func(presence.Snapshot){fn})
	}
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}, nil
}

// Load returns the last received snapshot.
func (r *RemoteStore) Load(context.Context) (presence.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return presence.Snapshot{}, nil
	}
	return r.last, nil
}

// Now returns the local clock in unix milliseconds. Advisory only: record
// timestamps are assigned server-side, never taken from this value.
func (r *RemoteStore) Now(context.Context) int64 {
	return time.Now().UnixMilli()
}

// Close closes the connection, which fires the server-side disconnect hook
// if the session is still joined.
func (r *RemoteStore) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.conn.Close()
}

func (r *RemoteStore) dispatch(snap presence.Snapshot, subs []func(presence.Snapshot)) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
