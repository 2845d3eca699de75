package presence

import "sort"

// RosterEntry is one online session and what it is playing.
type RosterEntry struct {
	SessionID  string     `json:"sessionId"`
	NowPlaying NowPlaying `json:"nowPlaying"`
}

// View is the derived display state: the live listener count and the roster
// of what everyone is playing.
type View struct {
	Count  int           `json:"count"`
	Roster []RosterEntry `json:"roster"`
}

// DeriveView computes the display view from a snapshot. Pure; recomputed
// wholesale on every subscription callback rather than patched incrementally.
//
// selfNow, when non-nil, overrides the caller's own roster entry with its
// freshest local track: between a write and the store's echo the snapshot may
// still carry the previous track, and the writer shouldn't see itself lag.
func DeriveView(snap Snapshot, selfID string, selfNow *NowPlaying) View {
	v := View{}
	for id, rec := range snap {
		if !rec.Online {
			continue
		}
		v.Count++
		np := rec.NowPlaying
		if id == selfID && selfNow != nil {
			np = selfNow
		}
		if np == nil || np.Title == "" {
			continue
		}
		v.Roster = append(v.Roster, RosterEntry{SessionID: id, NowPlaying: *np})
	}
	sort.Slice(v.Roster, func(i, j int) bool {
		a, b := snap[v.Roster[i].SessionID], snap[v.Roster[j].SessionID]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return v.Roster[i].SessionID < v.Roster[j].SessionID
	})
	return v
}
