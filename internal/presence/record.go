package presence

import "strings"

// NowPlaying describes the track a session is currently playing.
type NowPlaying struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	CoverURL string `json:"coverUrl,omitempty"`
	State    string `json:"state,omitempty"`
}

// Record is one session's presence entry. Timestamps are store-assigned
// unix milliseconds; clients never write their own clocks into records.
type Record struct {
	Online     bool        `json:"online"`
	JoinedAt   int64       `json:"joinedAt"`
	UpdatedAt  int64       `json:"updatedAt"`
	NowPlaying *NowPlaying `json:"nowPlaying,omitempty"`
}

// Patch updates named fields of a record; nil fields are left untouched.
// There is deliberately no Online field: a session that stops listening is
// removed, never flagged offline.
type Patch struct {
	UpdatedAt       *int64
	NowPlaying      *NowPlaying
	ClearNowPlaying bool
}

// Snapshot is the full session-id -> record mapping at one point in time.
type Snapshot map[string]Record

// AnonName derives the anonymized display name shown for a session.
func AnonName(sessionID string) string {
	s := strings.ReplaceAll(sessionID, "-", "")
	if len(s) > 6 {
		s = s[len(s)-6:]
	}
	return "Anonymous" + strings.ToUpper(s)
}
