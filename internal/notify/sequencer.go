// Package notify turns roster changes into a one-at-a-time notification feed
// for the listener badge UI.
package notify

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caelven/listend/internal/metrics"
	"github.com/caelven/listend/internal/presence"
)

const (
	// DefaultDebounce coalesces rapid successive track changes from one
	// session into a single notification.
	DefaultDebounce = 250 * time.Millisecond
	// DefaultCooldown suppresses re-announcing the same title for the same
	// session, which otherwise happens when overlapping snapshot deliveries
	// replay a change.
	DefaultCooldown = 5 * time.Second
)

// Notification is one "X is listening to Y" event.
type Notification struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	CoverURL  string `json:"coverUrl,omitempty"`
}

// recentKey keys the cooldown table by session and title, so "A then B then
// A again" within the window is still suppressed for the replayed A.
func recentKey(sessionID, title string) string {
	return sessionID + "\x00" + title
}

// Sequencer consumes successive aggregator views and owes the UI this
// contract: at most one active notification at a time, enqueue/dequeue in
// arrival order, superseded entries for the same session dropped. The
// caller's own session never produces a notification.
type Sequencer struct {
	selfID   string
	debounce time.Duration
	cooldown time.Duration
	onActive func(Notification)
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastTitle map[string]string
	pending   map[string]presence.RosterEntry
	timers    map[string]*time.Timer
	recent    map[string]time.Time
	queue     []Notification
	active    *Notification
	stopped   bool
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(s *Sequencer) { s.debounce = d }
}

// WithCooldown overrides the per-session same-title cooldown.
func WithCooldown(d time.Duration) Option {
	return func(s *Sequencer) { s.cooldown = d }
}

// WithClock overrides the cooldown clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// NewSequencer creates a sequencer. onActive is invoked each time a
// notification becomes the active one; the UI calls Advance when its
// presentation completes.
func NewSequencer(selfID string, onActive func(Notification), logger *zap.Logger, opts ...Option) *Sequencer {
	s := &Sequencer{
		selfID:    selfID,
		debounce:  DefaultDebounce,
		cooldown:  DefaultCooldown,
		onActive:  onActive,
		logger:    logger,
		now:       time.Now,
		lastTitle: make(map[string]string),
		pending:   make(map[string]presence.RosterEntry),
		timers:    make(map[string]*time.Timer),
		recent:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Observe consumes one aggregator view. For every non-self roster entry whose
// title differs from the last title seen for that session, a candidate
// notification is scheduled after the debounce window, cancel-and-replace per
// session so only the final title of a burst survives.
func (s *Sequencer) Observe(v presence.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	seen := make(map[string]bool, len(v.Roster))
	for _, entry := range v.Roster {
		seen[entry.SessionID] = true
		if entry.SessionID == s.selfID {
			continue
		}
		title := entry.NowPlaying.Title
		if title == "" || title == s.lastTitle[entry.SessionID] {
			continue
		}
		s.schedule(entry)
	}

	// Sessions gone from the roster release their timer-table slots.
	for id, t := range s.timers {
		if !seen[id] {
			t.Stop()
			delete(s.timers, id)
			delete(s.pending, id)
		}
	}
	for id := range s.lastTitle {
		if !seen[id] {
			delete(s.lastTitle, id)
		}
	}
	for key := range s.recent {
		if id, _, ok := strings.Cut(key, "\x00"); ok && !seen[id] {
			delete(s.recent, key)
		}
	}
}

// schedule arms (or re-arms) the debounce timer for a session. Re-delivery
// of the same pending title (snapshot echo) leaves the timer alone, so a
// steady stream of identical snapshots can't postpone the candidate forever.
// Caller holds s.mu.
func (s *Sequencer) schedule(entry presence.RosterEntry) {
	id := entry.SessionID
	if prev, ok := s.pending[id]; ok && prev.NowPlaying.Title == entry.NowPlaying.Title {
		return
	}
	s.pending[id] = entry
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(s.debounce, func() { s.fire(id) })
}

// fire promotes the pending candidate for a session into the queue, unless
// the cooldown suppresses it.
func (s *Sequencer) fire(id string) {
	s.mu.Lock()
	entry, ok := s.pending[id]
	delete(s.pending, id)
	delete(s.timers, id)
	if !ok || s.stopped {
		s.mu.Unlock()
		return
	}

	title := entry.NowPlaying.Title
	s.lastTitle[id] = title

	key := recentKey(id, title)
	if at, ok := s.recent[key]; ok && s.now().Sub(at) < s.cooldown {
		s.mu.Unlock()
		return
	}
	s.recent[key] = s.now()

	n := Notification{
		SessionID: id,
		Title:     title,
		Artist:    entry.NowPlaying.Artist,
		CoverURL:  entry.NowPlaying.CoverURL,
	}
	metrics.NotificationsEnqueued.Inc()

	var activated *Notification
	if s.active == nil {
		s.active = &n
		activated = &n
	} else {
		// Drop queued (not yet active) entries for the same session; the
		// new one supersedes them.
		kept := s.queue[:0]
		for _, q := range s.queue {
			if q.SessionID != id {
				kept = append(kept, q)
			}
		}
		s.queue = append(kept, n)
	}
	onActive := s.onActive
	s.mu.Unlock()

	if activated != nil && onActive != nil {
		onActive(*activated)
	}
}

// Advance marks the active notification's presentation as complete and
// promotes the next queued one, if any.
func (s *Sequencer) Advance() {
	s.mu.Lock()
	s.active = nil
	var activated *Notification
	if len(s.queue) > 0 {
		n := s.queue[0]
		s.queue = s.queue[1:]
		s.active = &n
		activated = &n
	}
	onActive := s.onActive
	s.mu.Unlock()

	if activated != nil && onActive != nil {
		onActive(*activated)
	}
}

// Active returns the currently presented notification, or nil.
func (s *Sequencer) Active() *Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	n := *s.active
	return &n
}

// QueueLen returns the number of notifications waiting behind the active one.
func (s *Sequencer) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stop cancels all pending debounce timers. The sequencer accepts no further
// observations afterwards.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.pending = make(map[string]presence.RosterEntry)
}
