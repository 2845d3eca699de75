package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caelven/listend/internal/presence"
)

type capture struct {
	mu   sync.Mutex
	seen []Notification
}

func (c *capture) add(n Notification) {
	c.mu.Lock()
	c.seen = append(c.seen, n)
	c.mu.Unlock()
}

func (c *capture) list() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.seen))
	copy(out, c.seen)
	return out
}

func view(entries ...presence.RosterEntry) presence.View {
	return presence.View{Count: len(entries), Roster: entries}
}

func entry(sessionID, title string) presence.RosterEntry {
	return presence.RosterEntry{
		SessionID:  sessionID,
		NowPlaying: presence.NowPlaying{ID: title, Title: title, Artist: "Caelven"},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSequencerDebounceCoalescesBurst(t *testing.T) {
	c := &capture{}
	s := NewSequencer("self", c.add, zap.NewNop(), WithDebounce(100*time.Millisecond))
	defer s.Stop()

	// Three rapid changes from one session inside the debounce window.
	s.Observe(view(entry("peer", "Song A")))
	time.Sleep(20 * time.Millisecond)
	s.Observe(view(entry("peer", "Song B")))
	time.Sleep(20 * time.Millisecond)
	s.Observe(view(entry("peer", "Song C")))

	waitFor(t, func() bool { return len(c.list()) == 1 })
	time.Sleep(200 * time.Millisecond)

	got := c.list()
	require.Len(t, got, 1, "burst coalesces into exactly one notification")
	assert.Equal(t, "Song C", got[0].Title)
	assert.Equal(t, "peer", got[0].SessionID)
}

func TestSequencerCooldownSuppressesRepeat(t *testing.T) {
	c := &capture{}
	now := time.UnixMilli(0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	s := NewSequencer("self", c.add, zap.NewNop(),
		WithDebounce(10*time.Millisecond),
		WithCooldown(5*time.Second),
		WithClock(clock))
	defer s.Stop()

	s.Observe(view(entry("peer", "Song A")))
	waitFor(t, func() bool { return len(c.list()) == 1 })
	s.Advance()

	// Overlapping snapshot deliveries replay the same title: the session
	// briefly looked different (lastTitle cleared by a roster flap), then
	// announces Song A again within the cooldown.
	s.Observe(view(entry("peer", "Song B")))
	waitFor(t, func() bool { return len(c.list()) == 2 })
	s.Advance()

	mu.Lock()
	now = time.UnixMilli(1000)
	mu.Unlock()
	s.Observe(view(entry("peer", "Song A")))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, c.list(), 2, "same title within cooldown is suppressed")

	// After the cooldown expires the same title announces again.
	mu.Lock()
	now = time.UnixMilli(10_000)
	mu.Unlock()
	s.Observe(view(entry("peer", "Song B")))
	waitFor(t, func() bool { return len(c.list()) == 3 })
	s.Advance()
	s.Observe(view(entry("peer", "Song A")))
	waitFor(t, func() bool { return len(c.list()) == 4 })
}

func TestSequencerFiltersSelf(t *testing.T) {
	c := &capture{}
	s := NewSequencer("self", c.add, zap.NewNop(), WithDebounce(10*time.Millisecond))
	defer s.Stop()

	s.Observe(view(entry("self", "My Song"), entry("peer", "Their Song")))
	waitFor(t, func() bool { return len(c.list()) == 1 })
	time.Sleep(100 * time.Millisecond)

	got := c.list()
	require.Len(t, got, 1)
	assert.Equal(t, "peer", got[0].SessionID)
}

func TestSequencerSingleActiveFIFO(t *testing.T) {
	c := &capture{}
	s := NewSequencer("self", c.add, zap.NewNop(), WithDebounce(10*time.Millisecond))
	defer s.Stop()

	s.Observe(view(entry("p1", "One"), entry("p2", "Two")))
	waitFor(t, func() bool { return s.Active() != nil && s.QueueLen() == 1 })

	// Second notification waits until the first presentation completes.
	assert.Len(t, c.list(), 1)

	s.Advance()
	waitFor(t, func() bool { return len(c.list()) == 2 })
	assert.Equal(t, 0, s.QueueLen())

	s.Advance()
	assert.Nil(t, s.Active())
}

func TestSequencerSupersedesQueuedEntry(t *testing.T) {
	c := &capture{}
	s := NewSequencer("self", c.add, zap.NewNop(), WithDebounce(10*time.Millisecond))
	defer s.Stop()

	// p1 becomes active; p2 queues.
	s.Observe(view(entry("p1", "One"), entry("p2", "Two")))
	waitFor(t, func() bool { return s.Active() != nil && s.QueueLen() == 1 })

	// p2 changes track again before ever being presented: the queued entry
	// is dropped in favor of the new one.
	s.Observe(view(entry("p1", "One"), entry("p2", "Three")))
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.queue) == 1 && s.queue[0].Title == "Three"
	})

	s.Advance()
	waitFor(t, func() bool { return len(c.list()) == 2 })
	got := c.list()
	assert.Equal(t, "One", got[0].Title)
	assert.Equal(t, "Three", got[1].Title)
}

func TestSequencerUnchangedTitleIsQuiet(t *testing.T) {
	c := &capture{}
	s := NewSequencer("self", c.add, zap.NewNop(), WithDebounce(10*time.Millisecond))
	defer s.Stop()

	s.Observe(view(entry("peer", "Song A")))
	waitFor(t, func() bool { return len(c.list()) == 1 })
	s.Advance()

	// Snapshot echoes with the same title produce nothing new.
	for i := 0; i < 5; i++ {
		s.Observe(view(entry("peer", "Song A")))
	}
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, c.list(), 1)
}
