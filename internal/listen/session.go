// Package listen is the client side of the presence system: session
// identity, the playback observer, and the per-session presence client that
// keeps this session's record in the store.
package listen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateSessionID returns a fresh per-session identifier: a random UUID,
// or a timestamp+random fallback if UUID generation fails. The fallback's
// wider collision window is acceptable because a collision only makes two
// sessions share one presence slot. Called once per client lifetime; never
// persisted or reused.
func GenerateSessionID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}
