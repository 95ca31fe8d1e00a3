package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SpotWire/core/cluster"
	"SpotWire/logger"
)

// Telemetry preconditions. Session operations need a reconciled cluster
// with player state; reporting without one is a logical error, not
// something to silently ignore.
var (
	ErrNoCluster     = errors.New("playback: no cluster has been loaded yet")
	ErrNoPlayerState = errors.New("playback: cluster has no player state")
	ErrNoSession     = errors.New("playback: no active playback session")
)

// DebugSource enumerates the telemetry events the service expects.
type DebugSource string

const (
	SourceBeforeTrackLoad        DebugSource = "before_track_load"
	SourcePositionChanged        DebugSource = "position_changed"
	SourceStartedPlaying         DebugSource = "started_playing"
	SourceResume                 DebugSource = "resume"
	SourcePause                  DebugSource = "pause"
	SourcePlayerThresholdReached DebugSource = "player_threshold_reached"
	SourceStateClear             DebugSource = "state_clear"
	SourceModifyCurrentState     DebugSource = "modify_current_state"
)

// Sampled from the service's audio manifests; kept constant so reports
// stay self-consistent.
var defaultFile = struct {
	AudioQuality string
	Bitrate      int64
	Format       int
	TrackType    string
}{
	AudioQuality: "VERY_HIGH",
	Bitrate:      320000,
	Format:       11,
	TrackType:    "AUDIO",
}

// StateRef identifies the playback state being asserted. Nil for
// state_clear.
type StateRef struct {
	Paused         bool   `json:"paused"`
	StateID        string `json:"state_id"`
	StateMachineID string `json:"state_machine_id"`
}

// SubState summarizes the simulated player for one report.
type SubState struct {
	AudioQuality  string `json:"audio_quality"`
	Bitrate       int64  `json:"bitrate"`
	Duration      int64  `json:"duration"`
	Format        int    `json:"format"`
	MediaType     string `json:"media_type"`
	PlaybackSpeed int64  `json:"playback_speed"`
	Position      int64  `json:"position"`
}

// Report is one telemetry PUT body.
type Report struct {
	DebugSource      DebugSource    `json:"debug_source"`
	SeqNum           int64          `json:"seq_num"`
	StateRef         *StateRef      `json:"state_ref"`
	SubState         SubState       `json:"sub_state"`
	PreviousPosition int64          `json:"previous_position"`
	Extra            map[string]any `json:"-"`
}

// Reporter delivers one report to the telemetry endpoint.
type Reporter interface {
	Report(ctx context.Context, r *Report) error
}

// ClusterSource exposes the latest reconciled snapshot.
type ClusterSource interface {
	Current() *cluster.Cluster
}

// StreamRecorder is notified after a successful player_threshold_reached
// report (a completed "stream" in the service's accounting). Optional.
type StreamRecorder func(ctx context.Context, c *cluster.Cluster)

// session is the single active playback session of a connection.
type session struct {
	stateID        string
	stateMachineID string
	lastReplace    map[string]any
}

// Simulator emits the telemetry sequence the service expects around
// track-load/play/pause/seek, driven by replace_state events and the
// reconciled cluster. At most one session exists per connection.
type Simulator struct {
	clusters ClusterSource
	reporter Reporter
	recorder StreamRecorder
	now      func() time.Time

	mu      sync.Mutex
	session *session
}

// NewSimulator builds a playback state simulator.
func NewSimulator(clusters ClusterSource, reporter Reporter) *Simulator {
	return &Simulator{
		clusters: clusters,
		reporter: reporter,
		now:      time.Now,
	}
}

// SetStreamRecorder attaches the completed-stream hook.
func (s *Simulator) SetStreamRecorder(rec StreamRecorder) {
	s.recorder = rec
}

// HasSession reports whether a playback session is active.
func (s *Simulator) HasSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// HandleReplaceState drives the session from one replace_state event:
// the first event with a playing cluster accepts a new session, every
// later one replaces the session's state.
func (s *Simulator) HandleReplaceState(ctx context.Context, content map[string]any) error {
	s.mu.Lock()
	active := s.session != nil
	s.mu.Unlock()

	if active {
		return s.Replace(ctx, content)
	}
	return s.Accept(ctx, content)
}

// Accept constructs the session from the event's state machine reference
// and emits before_track_load, resume, started_playing, in that order.
func (s *Simulator) Accept(ctx context.Context, content map[string]any) error {
	if _, err := s.playerState(); err != nil {
		return err
	}

	stateID, machineID, ok := extractStateRef(content)
	if !ok {
		logger.Debug("replace_state event without a state reference, not accepting")
		return nil
	}

	s.mu.Lock()
	s.session = &session{
		stateID:        stateID,
		stateMachineID: machineID,
		lastReplace:    content,
	}
	s.mu.Unlock()

	logger.Info("playback session accepted",
		logger.String("state_id", stateID),
		logger.String("state_machine_id", machineID))

	for _, step := range []func(context.Context) error{
		s.BeforeTrackLoad,
		s.Resume,
		s.StartedPlaying,
	} {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Replace reacts to a subsequent replace_state event: pause or resume per
// the event's state_ref, seek when it carries one, then store the event as
// the session's current content.
func (s *Simulator) Replace(ctx context.Context, content map[string]any) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.mu.Unlock()

	paused := true
	if ref, ok := content["state_ref"].(map[string]any); ok {
		if p, ok := ref["paused"].(bool); ok {
			paused = p
		}
	}

	var err error
	if paused {
		err = s.Pause(ctx)
	} else {
		err = s.Resume(ctx)
	}
	if err != nil {
		return err
	}

	if seekTo, ok := numeric(content["seek_to"]); ok {
		if err := s.PositionChanged(ctx, seekTo); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.session != nil {
		s.session.lastReplace = content
	}
	s.mu.Unlock()
	return nil
}

// BeforeTrackLoad reports the track-load phase.
func (s *Simulator) BeforeTrackLoad(ctx context.Context) error {
	return s.send(ctx, SourceBeforeTrackLoad, true, nil, nil)
}

// PositionChanged reports a seek to the given position.
func (s *Simulator) PositionChanged(ctx context.Context, position int64) error {
	return s.send(ctx, SourcePositionChanged, true, &position, nil)
}

// StartedPlaying reports playback start.
func (s *Simulator) StartedPlaying(ctx context.Context) error {
	return s.send(ctx, SourceStartedPlaying, false, nil, nil)
}

// Resume reports a resume.
func (s *Simulator) Resume(ctx context.Context) error {
	return s.send(ctx, SourceResume, false, nil, nil)
}

// Pause reports a pause.
func (s *Simulator) Pause(ctx context.Context) error {
	return s.send(ctx, SourcePause, true, nil, nil)
}

// PlayerThresholdReached reports a completed stream. Callers must only
// invoke this after observing at least 30 continuous seconds of
// started_playing; the service accounts it as a finished stream, so it is
// never emitted speculatively.
func (s *Simulator) PlayerThresholdReached(ctx context.Context) error {
	if err := s.send(ctx, SourcePlayerThresholdReached, true, nil, nil); err != nil {
		return err
	}
	if s.recorder != nil {
		s.recorder(ctx, s.clusters.Current())
	}
	return nil
}

// StateClear clears the remote state and destroys the session.
func (s *Simulator) StateClear(ctx context.Context) error {
	if err := s.send(ctx, SourceStateClear, true, nil, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
	logger.Info("playback session cleared")
	return nil
}

// ModifyCurrentState sends a modify_current_state report carrying extra
// fields.
func (s *Simulator) ModifyCurrentState(ctx context.Context, extra map[string]any) error {
	return s.send(ctx, SourceModifyCurrentState, true, nil, extra)
}

func (s *Simulator) playerState() (*cluster.PlayerState, error) {
	c := s.clusters.Current()
	if c == nil {
		return nil, ErrNoCluster
	}
	if c.PlayerState == nil {
		return nil, ErrNoPlayerState
	}
	return c.PlayerState, nil
}

// send builds and delivers one report. Sequence numbers are wall-clock
// milliseconds, which the service requires to be monotonically increasing.
func (s *Simulator) send(ctx context.Context, source DebugSource, paused bool, position *int64, extra map[string]any) error {
	ps, err := s.playerState()
	if err != nil {
		return err
	}

	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}

	var stateRef *StateRef
	if source != SourceStateClear {
		stateRef = &StateRef{
			Paused:         paused,
			StateID:        sess.stateID,
			StateMachineID: sess.stateMachineID,
		}
	}

	now := s.now()
	currentPos := ps.Position.ValueAt(now)
	pos := currentPos
	if position != nil {
		pos = *position
	}

	speed := int64(ps.PlaybackSpeed)
	if speed == 0 {
		speed = 1
	}

	report := &Report{
		DebugSource: source,
		SeqNum:      now.UnixMilli(),
		StateRef:    stateRef,
		SubState: SubState{
			AudioQuality:  defaultFile.AudioQuality,
			Bitrate:       defaultFile.Bitrate,
			Duration:      ps.DurationMs,
			Format:        defaultFile.Format,
			MediaType:     defaultFile.TrackType,
			PlaybackSpeed: speed,
			Position:      pos,
		},
		PreviousPosition: currentPos,
		Extra:            extra,
	}

	if err := s.reporter.Report(ctx, report); err != nil {
		return fmt.Errorf("reporting %s: %w", source, err)
	}
	logger.Debug("telemetry report sent", logger.String("source", string(source)))
	return nil
}

// extractStateRef pulls the state machine id and the indexed state id out
// of a replace_state event. The state id comes from state_ref.state_id
// when present, otherwise from the state machine's states list indexed by
// state_ref.state_index.
func extractStateRef(content map[string]any) (stateID, machineID string, ok bool) {
	machine, _ := content["state_machine"].(map[string]any)
	ref, _ := content["state_ref"].(map[string]any)
	if machine == nil && ref == nil {
		return "", "", false
	}

	if machine != nil {
		machineID, _ = machine["state_machine_id"].(string)
	}
	if ref != nil {
		if id, _ := ref["state_id"].(string); id != "" {
			return id, machineID, machineID != ""
		}
	}

	states, _ := machine["states"].([]any)
	index := int64(0)
	if ref != nil {
		if i, ok := numeric(ref["state_index"]); ok {
			index = i
		}
	}
	if index < 0 || index >= int64(len(states)) {
		return "", "", false
	}
	state, _ := states[index].(map[string]any)
	stateID, _ = state["state_id"].(string)
	return stateID, machineID, stateID != "" && machineID != ""
}

func numeric(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
