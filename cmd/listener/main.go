// Package main runs a headless listener: it connects to the presence server
// over WebSocket, simulates a playback session from a small tracklist, and
// prints the live listener view and track-change notifications. Useful for
// demoing and smoke-testing a deployment.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caelven/listend/internal/listen"
	"github.com/caelven/listend/internal/notify"
	"github.com/caelven/listend/internal/presence"
)

var tracks = []presence.NowPlaying{
	{ID: "aurora", Title: "Aurora", Artist: "Caelven"},
	{ID: "driftwood", Title: "Driftwood", Artist: "Caelven"},
	{ID: "low-tide", Title: "Low Tide", Artist: "Caelven"},
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "presence server WebSocket URL")
	trackEvery := flag.Duration("track-every", 20*time.Second, "interval between simulated track changes")
	heartbeat := flag.Duration("heartbeat", listen.DefaultHeartbeat, "presence liveness refresh interval")
	debounce := flag.Duration("debounce", notify.DefaultDebounce, "track-change notification debounce window")
	cooldown := flag.Duration("cooldown", notify.DefaultCooldown, "same-title notification cooldown")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	sessionID := listen.GenerateSessionID()
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := listen.DialRemote(dialCtx, *serverURL, sessionID, logger)
	dialCancel()
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer store.Close()

	// Presentation is just a log line here; a fixed display window stands in
	// for the badge animation before the next notification is promoted.
	var seq *notify.Sequencer
	seq = notify.NewSequencer(sessionID, func(n notify.Notification) {
		logger.Info("now listening",
			zap.String("who", presence.AnonName(n.SessionID)),
			zap.String("title", n.Title),
			zap.String("artist", n.Artist))
		time.AfterFunc(3*time.Second, seq.Advance)
	}, logger, notify.WithDebounce(*debounce), notify.WithCooldown(*cooldown))
	defer seq.Stop()

	var lastCount int
	observer := listen.NewObserver()
	client := listen.NewClient(store, observer, func(v presence.View) {
		seq.Observe(v)
		if v.Count != lastCount {
			lastCount = v.Count
			logger.Info("live listeners", zap.Int("count", v.Count))
		}
	}, logger, listen.WithSessionID(sessionID), listen.WithHeartbeat(*heartbeat))

	if err := client.Start(context.Background()); err != nil {
		logger.Fatal("start presence client", zap.Error(err))
	}
	defer client.Close()

	// Simulate playback: start on the first track, rotate through the rest.
	observer.OnPlay(&tracks[0])
	logger.Info("playing", zap.String("title", tracks[0].Title))

	ticker := time.NewTicker(*trackEvery)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	i := 0
	for {
		select {
		case <-ticker.C:
			i = (i + 1) % len(tracks)
			observer.OnTrackChanged(&tracks[i])
			logger.Info("playing", zap.String("title", tracks[i].Title))
		case <-quit:
			observer.OnPause()
			logger.Info("listener stopped")
			return
		}
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
