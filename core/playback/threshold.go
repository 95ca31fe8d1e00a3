package playback

import (
	"context"
	"sync"
	"time"

	"SpotWire/core/cluster"
	"SpotWire/logger"
)

// DefaultThreshold is how long a track must play continuously before it
// counts as a completed stream.
const DefaultThreshold = 30 * time.Second

// ThresholdTracker observes reconciled snapshots and invokes
// PlayerThresholdReached once a playback survives the threshold without a
// pause or track change. The report is never speculative: any interruption
// before the threshold cancels the countdown, and each playback reports at
// most once.
type ThresholdTracker struct {
	sim       *Simulator
	threshold time.Duration

	mu         sync.Mutex
	playbackID string
	reported   bool
	timer      *time.Timer
}

// NewThresholdTracker builds a tracker around the simulator.
func NewThresholdTracker(sim *Simulator) *ThresholdTracker {
	return &ThresholdTracker{sim: sim, threshold: DefaultThreshold}
}

// Observe feeds one reconciled snapshot into the tracker. Register it as
// a receive callback on the reconciler.
func (t *ThresholdTracker) Observe(c *cluster.Cluster) {
	if c == nil || c.PlayerState == nil {
		return
	}
	ps := c.PlayerState

	// A playback is identified by its playback id, falling back to the
	// track uri for snapshots that omit one.
	id := ps.PlaybackID
	if id == "" && ps.Track != nil {
		id = ps.Track.URI
	}
	playing := ps.IsPlaying && !ps.IsPaused

	t.mu.Lock()
	defer t.mu.Unlock()

	if id != t.playbackID {
		t.playbackID = id
		t.reported = false
		t.stopCountdown()
	}

	if !playing || t.reported || id == "" {
		t.stopCountdown()
		return
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(t.threshold, t.fire)
	}
}

// stopCountdown cancels a pending countdown. Callers hold t.mu.
func (t *ThresholdTracker) stopCountdown() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// fire runs on the timer goroutine once the countdown completes
// uninterrupted.
func (t *ThresholdTracker) fire() {
	t.mu.Lock()
	if t.reported || t.timer == nil {
		t.mu.Unlock()
		return
	}
	t.reported = true
	t.timer = nil
	id := t.playbackID
	t.mu.Unlock()

	if !t.sim.HasSession() {
		logger.Debug("playback threshold reached without a session, not reporting")
		return
	}
	if err := t.sim.PlayerThresholdReached(context.Background()); err != nil {
		logger.Warn("threshold report failed",
			logger.String("playback_id", id),
			logger.ErrorField(err))
		return
	}
	logger.Info("playback threshold reached", logger.String("playback_id", id))
}
