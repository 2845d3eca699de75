package listen

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caelven/listend/internal/presence"
)

// DefaultHeartbeat is the liveness refresh interval while online. It must be
// shorter than the deployment's staleness threshold.
const DefaultHeartbeat = 10 * time.Second

// Client is the per-session presence state machine. Driven by the playback
// observer, it writes, refreshes and removes this session's record in the
// store and feeds the subscribed aggregate view to onView.
//
// Store failures never propagate to the caller: presence is decorative
// relative to playback, so every store error is logged and swallowed.
type Client struct {
	store     presence.Store
	observer  *Observer
	sessionID string
	heartbeat time.Duration
	onView    func(presence.View)
	logger    *zap.Logger

	mu         sync.Mutex
	online     bool
	nowPlaying *presence.NowPlaying
	stopBeat   chan struct{}
	unsubObs   func()
	unsubStore func()
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHeartbeat overrides the heartbeat interval.
func WithHeartbeat(d time.Duration) ClientOption {
	return func(c *Client) { c.heartbeat = d }
}

// WithSessionID overrides the generated session id. Test hook.
func WithSessionID(id string) ClientOption {
	return func(c *Client) { c.sessionID = id }
}

// NewClient creates a presence client bound to a store and an observer.
// onView receives the derived view on every snapshot; may be nil.
func NewClient(store presence.Store, observer *Observer, onView func(presence.View), logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		store:     store,
		observer:  observer,
		sessionID: GenerateSessionID(),
		heartbeat: DefaultHeartbeat,
		onView:    onView,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns this session's identifier.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Start subscribes to the observer and the store. If the observer already
// reports active playback, the session goes online immediately.
func (c *Client) Start(ctx context.Context) error {
	c.unsubObs = c.observer.Subscribe(func(ev PlaybackEvent) { c.handle(ev) })

	unsub, err := c.store.Subscribe(func(snap presence.Snapshot) {
		if c.onView == nil {
			return
		}
		c.mu.Lock()
		self := c.nowPlaying
		c.mu.Unlock()
		c.onView(presence.DeriveView(snap, c.sessionID, self))
	})
	if err != nil {
		return err
	}
	c.unsubStore = unsub

	if c.observer.Listening() {
		c.handle(PlaybackEvent{State: StateStarted, Track: c.observer.Track()})
	}
	return nil
}

// Close tears the session down: unsubscribes, cancels the heartbeat and
// makes a best-effort Remove. The store-side disconnect hook remains the
// authoritative cleanup if this never runs.
func (c *Client) Close() {
	if c.unsubObs != nil {
		c.unsubObs()
		c.unsubObs = nil
	}
	if c.unsubStore != nil {
		c.unsubStore()
		c.unsubStore = nil
	}
	c.goOffline()
}

func (c *Client) handle(ev PlaybackEvent) {
	switch ev.State {
	case StateStarted:
		c.goOnline(ev.Track)
	case StateStopped:
		c.goOffline()
	case StateTrack:
		c.trackChanged(ev.Track)
	}
}

func (c *Client) goOnline(track *presence.NowPlaying) {
	c.mu.Lock()
	if c.online {
		c.nowPlaying = track
		c.mu.Unlock()
		c.trackChanged(track)
		return
	}
	c.online = true
	c.nowPlaying = track
	stop := make(chan struct{})
	c.stopBeat = stop
	c.mu.Unlock()

	ctx, cancel := c.opCtx()
	now := c.store.Now(ctx)
	rec := presence.Record{Online: true, JoinedAt: now, UpdatedAt: now, NowPlaying: track}
	if err := c.store.Write(ctx, c.sessionID, rec); err != nil {
		c.logger.Warn("presence join", zap.String("session_id", c.sessionID), zap.Error(err))
	}
	// Re-arm on every (re)creation: the hook is scoped to the current
	// connection and record.
	if err := c.store.OnDisconnectRemove(ctx, c.sessionID); err != nil {
		c.logger.Warn("arm disconnect hook", zap.String("session_id", c.sessionID), zap.Error(err))
	}
	cancel()

	go c.runHeartbeat(stop)
}

func (c *Client) goOffline() {
	c.mu.Lock()
	if !c.online {
		c.mu.Unlock()
		return
	}
	c.online = false
	c.nowPlaying = nil
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
	c.mu.Unlock()

	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.store.Remove(ctx, c.sessionID); err != nil {
		c.logger.Warn("presence leave", zap.String("session_id", c.sessionID), zap.Error(err))
	}
}

// trackChanged merges the new track into the existing record. Merge, not
// write: joinedAt must survive a track change.
func (c *Client) trackChanged(track *presence.NowPlaying) {
	c.mu.Lock()
	if !c.online {
		c.nowPlaying = track
		c.mu.Unlock()
		return
	}
	c.nowPlaying = track
	c.mu.Unlock()

	ctx, cancel := c.opCtx()
	defer cancel()
	now := c.store.Now(ctx)
	if err := c.store.Merge(ctx, c.sessionID, presence.Patch{UpdatedAt: &now, NowPlaying: track}); err != nil {
		c.logger.Warn("presence track change", zap.String("session_id", c.sessionID), zap.Error(err))
	}
}

// runHeartbeat refreshes updatedAt while online, proving liveness for
// staleness-pruning deployments. Exits when the session goes offline.
func (c *Client) runHeartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := c.opCtx()
			now := c.store.Now(ctx)
			if err := c.store.Merge(ctx, c.sessionID, presence.Patch{UpdatedAt: &now}); err != nil {
				c.logger.Warn("presence heartbeat", zap.String("session_id", c.sessionID), zap.Error(err))
			}
			cancel()
		}
	}
}

func (c *Client) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
