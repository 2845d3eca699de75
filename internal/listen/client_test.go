package listen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caelven/listend/internal/presence"
)

func track(title string) *presence.NowPlaying {
	return &presence.NowPlaying{ID: title, Title: title, Artist: "Caelven"}
}

func loadRecord(t *testing.T, s *presence.MemoryStore, id string) (presence.Record, bool) {
	t.Helper()
	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	rec, ok := snap[id]
	return rec, ok
}

func TestClientGoesOnlineWhenPlaybackStarts(t *testing.T) {
	store := presence.NewMemoryStore()
	observer := NewObserver()
	c := NewClient(store, observer, nil, zap.NewNop(), WithSessionID("s1"))
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	_, ok := loadRecord(t, store, "s1")
	assert.False(t, ok, "no record before playback starts")

	observer.OnPlay(track("Aurora"))

	rec, ok := loadRecord(t, store, "s1")
	require.True(t, ok)
	assert.True(t, rec.Online)
	require.NotNil(t, rec.NowPlaying)
	assert.Equal(t, "Aurora", rec.NowPlaying.Title)
	assert.NotZero(t, rec.JoinedAt)
	assert.Equal(t, rec.JoinedAt, rec.UpdatedAt)
}

func TestClientTrackChangePreservesJoinedAt(t *testing.T) {
	store := presence.NewMemoryStore()
	now := time.UnixMilli(1000)
	store.SetClock(func() time.Time { return now })

	observer := NewObserver()
	c := NewClient(store, observer, nil, zap.NewNop(), WithSessionID("s1"))
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	observer.OnPlay(track("Aurora"))
	rec, _ := loadRecord(t, store, "s1")
	joined := rec.JoinedAt
	require.Equal(t, int64(1000), joined)

	now = time.UnixMilli(2000)
	observer.OnTrackChanged(track("Driftwood"))

	rec, ok := loadRecord(t, store, "s1")
	require.True(t, ok)
	assert.Equal(t, joined, rec.JoinedAt, "track change must not reset joinedAt")
	assert.Equal(t, int64(2000), rec.UpdatedAt)
	assert.Equal(t, "Driftwood", rec.NowPlaying.Title)
}

func TestClientRemovesRecordOnStop(t *testing.T) {
	store := presence.NewMemoryStore()
	observer := NewObserver()
	c := NewClient(store, observer, nil, zap.NewNop(), WithSessionID("s1"))
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	observer.OnPlay(track("Aurora"))
	_, ok := loadRecord(t, store, "s1")
	require.True(t, ok)

	observer.OnPause()
	_, ok = loadRecord(t, store, "s1")
	assert.False(t, ok, "delete-on-leave: no ghost record after pausing")
}

func TestClientHeartbeatRefreshesUpdatedAt(t *testing.T) {
	store := presence.NewMemoryStore()
	observer := NewObserver()
	c := NewClient(store, observer, nil, zap.NewNop(),
		WithSessionID("s1"),
		WithHeartbeat(20*time.Millisecond))
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	observer.OnPlay(track("Aurora"))
	rec, _ := loadRecord(t, store, "s1")
	joined := rec.JoinedAt

	require.Eventually(t, func() bool {
		rec, ok := loadRecord(t, store, "s1")
		return ok && rec.UpdatedAt > joined
	}, 2*time.Second, 5*time.Millisecond)

	rec, _ = loadRecord(t, store, "s1")
	assert.Equal(t, joined, rec.JoinedAt)
	assert.Equal(t, "Aurora", rec.NowPlaying.Title, "heartbeat leaves nowPlaying alone")
}

func TestClientHeartbeatStopsAfterLeave(t *testing.T) {
	store := presence.NewMemoryStore()
	observer := NewObserver()
	c := NewClient(store, observer, nil, zap.NewNop(),
		WithSessionID("s1"),
		WithHeartbeat(10*time.Millisecond))
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	observer.OnPlay(track("Aurora"))
	observer.OnPause()

	// A leaked heartbeat would recreate the record via merge-upsert.
	time.Sleep(100 * time.Millisecond)
	_, ok := loadRecord(t, store, "s1")
	assert.False(t, ok, "no heartbeat writes after going offline")
}

func TestClientViewSelfOverride(t *testing.T) {
	store := presence.NewMemoryStore()
	observer := NewObserver()

	var mu sync.Mutex
	var last presence.View
	onView := func(v presence.View) {
		mu.Lock()
		last = v
		mu.Unlock()
	}

	c := NewClient(store, observer, onView, zap.NewNop(), WithSessionID("me"))
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	// Another session is already listening.
	ctx := context.Background()
	now := store.Now(ctx)
	require.NoError(t, store.Write(ctx, "peer", presence.Record{
		Online: true, JoinedAt: now, UpdatedAt: now, NowPlaying: track("Y"),
	}))

	observer.OnPlay(track("X"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Count == 2 && len(last.Roster) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	titles := map[string]string{}
	for _, e := range last.Roster {
		titles[e.SessionID] = e.NowPlaying.Title
	}
	assert.Equal(t, "X", titles["me"])
	assert.Equal(t, "Y", titles["peer"])
}

func TestClientInitialAlreadyPlaying(t *testing.T) {
	store := presence.NewMemoryStore()
	observer := NewObserver()

	// Player mid-song before the observer attaches.
	observer.Attach(playingPlayer{t: track("Aurora")})

	c := NewClient(store, observer, nil, zap.NewNop(), WithSessionID("s1"))
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	rec, ok := loadRecord(t, store, "s1")
	require.True(t, ok, "client picks up already-active playback at start")
	assert.Equal(t, "Aurora", rec.NowPlaying.Title)
}

type playingPlayer struct {
	t *presence.NowPlaying
}

func (p playingPlayer) Playing() bool                 { return true }
func (p playingPlayer) Position() float64             { return 42.0 }
func (p playingPlayer) Current() *presence.NowPlaying { return p.t }
