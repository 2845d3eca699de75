package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveView(t *testing.T) {
	track := func(title string) *NowPlaying {
		return &NowPlaying{ID: title, Title: title, Artist: "Caelven"}
	}

	testCases := []struct {
		name       string
		snap       Snapshot
		selfID     string
		selfNow    *NowPlaying
		wantCount  int
		wantRoster []string // titles in order
	}{
		{
			name:      "empty snapshot",
			snap:      Snapshot{},
			wantCount: 0,
		},
		{
			name: "counts online sessions only",
			snap: Snapshot{
				"a": {Online: true, JoinedAt: 1, NowPlaying: track("X")},
				"b": {Online: false, JoinedAt: 2, NowPlaying: track("Y")},
			},
			wantCount:  1,
			wantRoster: []string{"X"},
		},
		{
			name: "roster excludes sessions with nothing playing",
			snap: Snapshot{
				"a": {Online: true, JoinedAt: 1, NowPlaying: track("X")},
				"b": {Online: true, JoinedAt: 2},
			},
			wantCount:  2,
			wantRoster: []string{"X"},
		},
		{
			name: "roster ordered by join time",
			snap: Snapshot{
				"late":  {Online: true, JoinedAt: 300, NowPlaying: track("C")},
				"early": {Online: true, JoinedAt: 100, NowPlaying: track("A")},
				"mid":   {Online: true, JoinedAt: 200, NowPlaying: track("B")},
			},
			wantCount:  3,
			wantRoster: []string{"A", "B", "C"},
		},
		{
			name: "self override hides write echo latency",
			snap: Snapshot{
				"me":    {Online: true, JoinedAt: 1, NowPlaying: track("Stale")},
				"other": {Online: true, JoinedAt: 2, NowPlaying: track("Y")},
			},
			selfID:     "me",
			selfNow:    track("Fresh"),
			wantCount:  2,
			wantRoster: []string{"Fresh", "Y"},
		},
		{
			name: "self override ignored when snapshot lacks self",
			snap: Snapshot{
				"other": {Online: true, JoinedAt: 2, NowPlaying: track("Y")},
			},
			selfID:     "me",
			selfNow:    track("Fresh"),
			wantCount:  1,
			wantRoster: []string{"Y"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := DeriveView(tc.snap, tc.selfID, tc.selfNow)
			assert.Equal(t, tc.wantCount, v.Count)
			titles := make([]string, 0, len(v.Roster))
			for _, e := range v.Roster {
				titles = append(titles, e.NowPlaying.Title)
			}
			if len(tc.wantRoster) == 0 {
				assert.Empty(t, titles)
			} else {
				assert.Equal(t, tc.wantRoster, titles)
			}
		})
	}
}

func TestAnonName(t *testing.T) {
	assert.Equal(t, "AnonymousDEF123", AnonName("abc-def123"))
	assert.Equal(t, "AnonymousAB", AnonName("ab"))
}
