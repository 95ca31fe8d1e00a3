package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"SpotWire/core/cluster"
)

// captureReporter records reports instead of delivering them.
type captureReporter struct {
	reports []*Report
	err     error
}

func (r *captureReporter) Report(_ context.Context, report *Report) error {
	if r.err != nil {
		return r.err
	}
	r.reports = append(r.reports, report)
	return nil
}

func (r *captureReporter) sources() []DebugSource {
	out := make([]DebugSource, len(r.reports))
	for i, rep := range r.reports {
		out[i] = rep.DebugSource
	}
	return out
}

// staticClusters serves a fixed snapshot.
type staticClusters struct {
	cluster *cluster.Cluster
}

func (s *staticClusters) Current() *cluster.Cluster { return s.cluster }

func playingCluster() *cluster.Cluster {
	return &cluster.Cluster{
		PlayerState: &cluster.PlayerState{
			IsPlaying:     true,
			DurationMs:    180000,
			PlaybackSpeed: 1,
			Position: &cluster.PositionClock{
				IsPlaying:     true,
				RawPositionMs: 4000,
				CapturedAt:    time.Now(),
			},
			Track: &cluster.Track{URI: "spotify:track:t1"},
		},
	}
}

func replaceEvent() map[string]any {
	return map[string]any{
		"type": "replace_state",
		"state_machine": map[string]any{
			"state_machine_id": "machine-1",
			"states": []any{
				map[string]any{"state_id": "state-0"},
				map[string]any{"state_id": "state-1"},
			},
		},
		"state_ref": map[string]any{
			"state_index": float64(1),
			"paused":      false,
		},
	}
}

func newTestSimulator(c *cluster.Cluster) (*Simulator, *captureReporter) {
	rep := &captureReporter{}
	sim := NewSimulator(&staticClusters{cluster: c}, rep)
	return sim, rep
}

func TestAcceptRequiresCluster(t *testing.T) {
	sim, _ := newTestSimulator(nil)
	if err := sim.Accept(context.Background(), replaceEvent()); !errors.Is(err, ErrNoCluster) {
		t.Errorf("expected ErrNoCluster, got %v", err)
	}

	sim, _ = newTestSimulator(&cluster.Cluster{})
	if err := sim.Accept(context.Background(), replaceEvent()); !errors.Is(err, ErrNoPlayerState) {
		t.Errorf("expected ErrNoPlayerState, got %v", err)
	}
}

func TestAcceptEmitsLoadSequence(t *testing.T) {
	sim, rep := newTestSimulator(playingCluster())

	if err := sim.HandleReplaceState(context.Background(), replaceEvent()); err != nil {
		t.Fatal(err)
	}
	if !sim.HasSession() {
		t.Fatal("expected an active session after accept")
	}

	want := []DebugSource{SourceBeforeTrackLoad, SourceResume, SourceStartedPlaying}
	got := rep.sources()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	first := rep.reports[0]
	if first.StateRef == nil {
		t.Fatal("load-sequence reports must carry a state ref")
	}
	if first.StateRef.StateID != "state-1" || first.StateRef.StateMachineID != "machine-1" {
		t.Errorf("state ref should resolve via state_index: %+v", first.StateRef)
	}
	if first.SubState.Duration != 180000 {
		t.Errorf("sub_state duration should mirror the cluster, got %d", first.SubState.Duration)
	}
}

func TestAcceptPrefersExplicitStateID(t *testing.T) {
	sim, rep := newTestSimulator(playingCluster())

	ev := replaceEvent()
	ev["state_ref"].(map[string]any)["state_id"] = "explicit-id"
	if err := sim.Accept(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if rep.reports[0].StateRef.StateID != "explicit-id" {
		t.Errorf("state_ref.state_id must win over state_index, got %q",
			rep.reports[0].StateRef.StateID)
	}
}

func TestAcceptWithoutStateRefIsNoop(t *testing.T) {
	sim, rep := newTestSimulator(playingCluster())

	if err := sim.Accept(context.Background(), map[string]any{"type": "replace_state"}); err != nil {
		t.Fatal(err)
	}
	if sim.HasSession() {
		t.Error("an event without a state reference must not open a session")
	}
	if len(rep.reports) != 0 {
		t.Errorf("expected no reports, got %v", rep.sources())
	}
}

func TestReplacePausedDefault(t *testing.T) {
	sim, rep := newTestSimulator(playingCluster())
	if err := sim.Accept(context.Background(), replaceEvent()); err != nil {
		t.Fatal(err)
	}
	rep.reports = nil

	// No paused flag at all: the event defaults to paused.
	ev := replaceEvent()
	delete(ev["state_ref"].(map[string]any), "paused")
	if err := sim.HandleReplaceState(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	got := rep.sources()
	if len(got) != 1 || got[0] != SourcePause {
		t.Errorf("expected [pause], got %v", got)
	}
}

func TestReplaceSeekEmitsPositionChanged(t *testing.T) {
	sim, rep := newTestSimulator(playingCluster())
	if err := sim.Accept(context.Background(), replaceEvent()); err != nil {
		t.Fatal(err)
	}
	rep.reports = nil

	ev := replaceEvent()
	ev["seek_to"] = float64(65000)
	if err := sim.HandleReplaceState(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	got := rep.sources()
	if len(got) != 2 || got[0] != SourceResume || got[1] != SourcePositionChanged {
		t.Fatalf("expected [resume position_changed], got %v", got)
	}
	if rep.reports[1].SubState.Position != 65000 {
		t.Errorf("seek position should land in sub_state, got %d", rep.reports[1].SubState.Position)
	}
}

func TestReplaceWithoutSession(t *testing.T) {
	sim, _ := newTestSimulator(playingCluster())
	if err := sim.Replace(context.Background(), replaceEvent()); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
}

func TestStateClearDestroysSession(t *testing.T) {
	sim, rep := newTestSimulator(playingCluster())
	if err := sim.Accept(context.Background(), replaceEvent()); err != nil {
		t.Fatal(err)
	}
	rep.reports = nil

	if err := sim.StateClear(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sim.HasSession() {
		t.Error("state_clear must destroy the session")
	}
	if len(rep.reports) != 1 || rep.reports[0].DebugSource != SourceStateClear {
		t.Fatalf("expected one state_clear report, got %v", rep.sources())
	}
	if rep.reports[0].StateRef != nil {
		t.Error("state_clear must carry a nil state ref")
	}
}

func TestThresholdReachedNotifiesRecorder(t *testing.T) {
	sim, rep := newTestSimulator(playingCluster())
	if err := sim.Accept(context.Background(), replaceEvent()); err != nil {
		t.Fatal(err)
	}
	rep.reports = nil

	var recorded *cluster.Cluster
	sim.SetStreamRecorder(func(_ context.Context, c *cluster.Cluster) { recorded = c })

	if err := sim.PlayerThresholdReached(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rep.reports) != 1 || rep.reports[0].DebugSource != SourcePlayerThresholdReached {
		t.Fatalf("expected one threshold report, got %v", rep.sources())
	}
	if recorded == nil || recorded.PlayerState == nil {
		t.Error("recorder should receive the current cluster")
	}
}

func TestThresholdFailureSkipsRecorder(t *testing.T) {
	sim, rep := newTestSimulator(playingCluster())
	if err := sim.Accept(context.Background(), replaceEvent()); err != nil {
		t.Fatal(err)
	}
	rep.err = errors.New("endpoint down")

	called := false
	sim.SetStreamRecorder(func(context.Context, *cluster.Cluster) { called = true })

	if err := sim.PlayerThresholdReached(context.Background()); err == nil {
		t.Fatal("expected delivery failure to surface")
	}
	if called {
		t.Error("a failed report must not count as a stream")
	}
}

func TestSeqNumIsWallClockMillis(t *testing.T) {
	sim, rep := newTestSimulator(playingCluster())
	at := time.UnixMilli(1700000123456)
	sim.now = func() time.Time { return at }

	if err := sim.Accept(context.Background(), replaceEvent()); err != nil {
		t.Fatal(err)
	}
	for _, r := range rep.reports {
		if r.SeqNum != 1700000123456 {
			t.Errorf("seq_num should be wall-clock millis, got %d", r.SeqNum)
		}
	}
}

func TestSendDerivesPositionFromClock(t *testing.T) {
	c := playingCluster()
	captured := time.UnixMilli(1700000000000)
	c.PlayerState.Position = &cluster.PositionClock{
		IsPlaying:     true,
		RawPositionMs: 10000,
		CapturedAt:    captured,
	}

	sim, rep := newTestSimulator(c)
	sim.now = func() time.Time { return captured.Add(5 * time.Second) }

	if err := sim.Accept(context.Background(), replaceEvent()); err != nil {
		t.Fatal(err)
	}
	if got := rep.reports[0].PreviousPosition; got != 15000 {
		t.Errorf("previous_position should advance with the clock: expected 15000, got %d", got)
	}
}
