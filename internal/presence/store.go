package presence

import "context"

// Store is the shared presence mapping, keyed by session id. Each session is
// the exclusive writer of its own key; other sessions only ever read it.
//
// All write paths are fire-and-forget from the caller's perspective: a failed
// presence write is logged and swallowed, never propagated into playback.
type Store interface {
	// Write upserts the full record for a session.
	Write(ctx context.Context, sessionID string, rec Record) error

	// Merge updates only the fields named in the patch. A merge against a
	// missing key creates the record (with JoinedAt set to the store clock),
	// so a pruned session's next heartbeat re-joins it.
	Merge(ctx context.Context, sessionID string, p Patch) error

	// Remove deletes the record. Removing a missing key is not an error.
	Remove(ctx context.Context, sessionID string) error

	// OnDisconnectRemove arms the store-side cleanup rule: if the client's
	// connection drops without an explicit Remove, the store deletes the key.
	// Scoped to the current connection and record, so it must be re-armed
	// whenever the record is recreated.
	OnDisconnectRemove(ctx context.Context, sessionID string) error

	// Subscribe registers a callback that fires immediately with the current
	// snapshot and again on every change to any record. Snapshots are
	// delivered in a total order per subscriber. Returns an unsubscribe func.
	Subscribe(fn func(Snapshot)) (func(), error)

	// Load returns the current snapshot.
	Load(ctx context.Context) (Snapshot, error)

	// Now returns the store's clock in unix milliseconds. Monotonic across
	// clients; not derived from any client clock.
	Now(ctx context.Context) int64
}
