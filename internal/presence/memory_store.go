package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used by single-node deployments and
// tests. Disconnect hooks are armed per session and fired via Disconnect,
// which the realtime layer calls when a client's connection drops.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	hooks   map[string]bool
	subs    map[int]func(Snapshot)
	nextSub int
	nowFn   func() time.Time

	// dispatchMu serializes snapshot delivery so each subscriber observes a
	// total order. Callbacks must not mutate the store synchronously.
	dispatchMu sync.Mutex
}

// NewMemoryStore creates an empty in-process presence store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		hooks:   make(map[string]bool),
		subs:    make(map[int]func(Snapshot)),
		nowFn:   time.Now,
	}
}

// SetClock overrides the store clock. Test hook.
func (s *MemoryStore) SetClock(fn func() time.Time) {
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// Write upserts the full record for a session.
func (s *MemoryStore) Write(_ context.Context, sessionID string, rec Record) error {
	s.mu.Lock()
	s.records[sessionID] = rec
	snap, subs := s.changedLocked()
	s.mu.Unlock()
	s.dispatch(snap, subs)
	return nil
}

// Merge updates named fields only. A merge against a missing key creates the
// record so a pruned session's next heartbeat re-joins it.
func (s *MemoryStore) Merge(_ context.Context, sessionID string, p Patch) error {
	s.mu.Lock()
	rec, ok := s.records[sessionID]
	if !ok {
		rec = Record{Online: true, JoinedAt: s.nowFn().UnixMilli()}
	}
	if p.UpdatedAt != nil {
		rec.UpdatedAt = *p.UpdatedAt
	}
	if p.NowPlaying != nil {
		rec.NowPlaying = p.NowPlaying
	} else if p.ClearNowPlaying {
		rec.NowPlaying = nil
	}
	s.records[sessionID] = rec
	snap, subs := s.changedLocked()
	s.mu.Unlock()
	s.dispatch(snap, subs)
	return nil
}

// Remove deletes the record and disarms its disconnect hook.
func (s *MemoryStore) Remove(_ context.Context, sessionID string) error {
	s.mu.Lock()
	_, existed := s.records[sessionID]
	delete(s.records, sessionID)
	delete(s.hooks, sessionID)
	var snap Snapshot
	var subs []func(Snapshot)
	if existed {
		snap, subs = s.changedLocked()
	}
	s.mu.Unlock()
	if existed {
		s.dispatch(snap, subs)
	}
	return nil
}

// OnDisconnectRemove arms delete-on-disconnect for the session.
func (s *MemoryStore) OnDisconnectRemove(_ context.Context, sessionID string) error {
	s.mu.Lock()
	s.hooks[sessionID] = true
	s.mu.Unlock()
	return nil
}

// Disconnect fires the armed hook for a session: called by the connection
// owner when the client vanishes without an explicit Remove.
func (s *MemoryStore) Disconnect(sessionID string) {
	s.mu.Lock()
	fired := false
	if s.hooks[sessionID] {
		delete(s.hooks, sessionID)
		if _, ok := s.records[sessionID]; ok {
			delete(s.records, sessionID)
			fired = true
		}
	}
	var snap Snapshot
	var subs []func(Snapshot)
	if fired {
		snap, subs = s.changedLocked()
	}
	s.mu.Unlock()
	if fired {
		s.dispatch(snap, subs)
	}
}

// Subscribe registers a snapshot callback; fires immediately with current state.
func (s *MemoryStore) Subscribe(fn func(Snapshot)) (func(), error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.dispatch(snap, []func(Snapshot){fn})
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

// Load returns the current snapshot.
func (s *MemoryStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	return snap, nil
}

// Now returns the store clock in unix milliseconds.
func (s *MemoryStore) Now(_ context.Context) int64 {
	s.mu.Lock()
	now := s.nowFn()
	s.mu.Unlock()
	return now.UnixMilli()
}

// Prune removes records whose UpdatedAt is older than the cutoff and returns
// how many were removed. Used by the staleness-pruning deployment.
func (s *MemoryStore) Prune(_ context.Context, olderThan int64) (int, error) {
	s.mu.Lock()
	removed := 0
	for id, rec := range s.records {
		if rec.UpdatedAt < olderThan {
			delete(s.records, id)
			delete(s.hooks, id)
			removed++
		}
	}
	var snap Snapshot
	var subs []func(Snapshot)
	if removed > 0 {
		snap, subs = s.changedLocked()
	}
	s.mu.Unlock()
	if removed > 0 {
		s.dispatch(snap, subs)
	}
	return removed, nil
}

func (s *MemoryStore) snapshotLocked() Snapshot {
	snap := make(Snapshot, len(s.records))
	for id, rec := range s.records {
		snap[id] = rec
	}
	return snap
}

func (s *MemoryStore) changedLocked() (Snapshot, []func(Snapshot)) {
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return snap, subs
}

func (s *MemoryStore) dispatch(snap Snapshot, subs []func(Snapshot)) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
