package listen

import (
	"sync"

	"github.com/caelven/listend/internal/presence"
)

// PlaybackState is the observed state of the media player.
type PlaybackState string

const (
	StateStarted PlaybackState = "started"
	StateStopped PlaybackState = "stopped"
	StateTrack   PlaybackState = "track_changed"
)

// PlaybackEvent is the single typed payload between the player and anything
// interested in playback, replacing ad hoc global event names.
type PlaybackEvent struct {
	State PlaybackState
	Track *presence.NowPlaying
}

// Player is the media-player collaborator surface the observer can inspect
// at attach time. The player drives the observer through the On* methods as
// it emits play/pause/ended/track events.
type Player interface {
	Playing() bool
	Position() float64
	Current() *presence.NowPlaying
}

// Observer is the publish/subscribe boundary between the media player and
// the presence client (and any other subscriber, e.g. the badge UI).
type Observer struct {
	mu      sync.Mutex
	subs    map[int]func(PlaybackEvent)
	nextSub int
	playing bool
	track   *presence.NowPlaying
}

// NewObserver creates a playback observer.
func NewObserver() *Observer {
	return &Observer{subs: make(map[int]func(PlaybackEvent))}
}

// Subscribe registers an event callback and returns an unsubscribe func.
func (o *Observer) Subscribe(fn func(PlaybackEvent)) func() {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// Attach inspects a player that may already be mid-playback when the
// observer starts: paused=false with position>0 counts as an initial
// "already playing".
func (o *Observer) Attach(p Player) {
	if p == nil {
		return
	}
	if p.Playing() && p.Position() > 0 {
		o.OnPlay(p.Current())
	}
}

// OnPlay reports the player starting (or resuming) playback.
func (o *Observer) OnPlay(track *presence.NowPlaying) {
	o.mu.Lock()
	o.playing = true
	o.track = track
	o.mu.Unlock()
	o.publish(PlaybackEvent{State: StateStarted, Track: track})
}

// OnPause reports playback pausing.
func (o *Observer) OnPause() {
	o.mu.Lock()
	o.playing = false
	o.mu.Unlock()
	o.publish(PlaybackEvent{State: StateStopped})
}

// OnEnded reports the current item finishing with nothing queued next.
func (o *Observer) OnEnded() {
	o.mu.Lock()
	o.playing = false
	o.track = nil
	o.mu.Unlock()
	o.publish(PlaybackEvent{State: StateStopped})
}

// OnTrackChanged reports the active track changing while playback continues.
func (o *Observer) OnTrackChanged(track *presence.NowPlaying) {
	o.mu.Lock()
	o.track = track
	o.mu.Unlock()
	o.publish(PlaybackEvent{State: StateTrack, Track: track})
}

// Listening reports whether the player is actively playing.
func (o *Observer) Listening() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing
}

// Track returns the currently playing track, or nil.
func (o *Observer) Track() *presence.NowPlaying {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.track
}

func (o *Observer) publish(ev PlaybackEvent) {
	o.mu.Lock()
	subs := make([]func(PlaybackEvent), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	o.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}
