package cluster

import (
	"encoding/json"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		kind   Kind
		reason string
	}{
		{
			name:   "device state change",
			input:  map[string]any{"update_reason": "DEVICE_STATE_CHANGED", "cluster": map[string]any{"active_device_id": "d1"}},
			kind:   KindClusterUpdate,
			reason: ReasonDeviceStateChanged,
		},
		{
			name:   "volume change",
			input:  map[string]any{"update_reason": "DEVICE_VOLUME_CHANGED", "cluster": map[string]any{}},
			kind:   KindClusterUpdate,
			reason: ReasonDeviceVolumeChanged,
		},
		{
			name:  "replace state",
			input: map[string]any{"type": "replace_state", "state_machine": map[string]any{}},
			kind:  KindReplaceState,
		},
		{
			name:   "cluster without reason defaults to client callback",
			input:  map[string]any{"cluster": map[string]any{"active_device_id": "d2"}},
			kind:   KindClusterUpdate,
			reason: ReasonClientCallback,
		},
		{
			name:  "unrelated payload ignored",
			input: map[string]any{"type": "broadcast", "data": 1},
			kind:  KindIgnored,
		},
		{
			name:  "non mapping ignored",
			input: []any{"nope"},
			kind:  KindIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, reason, _ := Classify(tt.input)
			if kind != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, kind)
			}
			if reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, reason)
			}
		})
	}
}

func TestDecodeClusterEmpty(t *testing.T) {
	if c := DecodeCluster(ReasonOnLoad, nil); c != nil {
		t.Error("expected nil cluster for empty document")
	}
	if c := DecodeCluster(ReasonOnLoad, map[string]any{}); c != nil {
		t.Error("expected nil cluster for empty map")
	}
}

func TestDecodeClusterDefaults(t *testing.T) {
	raw := map[string]any{
		"server_timestamp_ms": float64(1700000000000),
		"player_state": map[string]any{
			"session_id": "s1",
		},
	}
	c := DecodeCluster(ReasonDeviceStateChanged, raw)
	if c == nil {
		t.Fatal("expected cluster")
	}
	if c.UpdateReason != ReasonDeviceStateChanged {
		t.Errorf("expected reason to be recorded, got %q", c.UpdateReason)
	}
	if c.ServerTimestampMs != "1700000000000" {
		t.Errorf("expected numeric timestamp as string, got %q", c.ServerTimestampMs)
	}
	if c.NeedFullPlayerState {
		t.Error("missing boolean should default to false")
	}
	ps := c.PlayerState
	if ps == nil {
		t.Fatal("expected player state")
	}
	if ps.IsPlaying || ps.IsPaused {
		t.Error("missing booleans should default to false")
	}
	if ps.Track != nil {
		t.Error("missing track should stay absent")
	}
	if len(ps.NextTracks) != 0 {
		t.Error("missing collection should stay empty")
	}
}

func TestDecodePlayerState(t *testing.T) {
	raw := map[string]any{
		"player_state": map[string]any{
			"context_uri":              "spotify:playlist:abc",
			"is_playing":               true,
			"is_paused":                false,
			"playback_speed":           float64(1),
			"duration":                 "215000",
			"position_as_of_timestamp": "10000",
			"session_id":               "sess",
			"queue_revision":           "rev9",
			"options": map[string]any{
				"shuffling_context": true,
				"repeating_context": false,
			},
			"track": map[string]any{
				"uri":      "spotify:track:t1",
				"uid":      "u1",
				"provider": "context",
			},
			"next_tracks": []any{
				map[string]any{"uri": "spotify:track:t2", "provider": "context"},
			},
		},
		"devices": map[string]any{
			"d1": map[string]any{"device_id": "d1", "can_play": true, "volume": float64(32768)},
		},
		"active_device_id": "d1",
	}

	c := DecodeCluster(ReasonOnLoad, raw)
	ps := c.PlayerState
	if ps == nil {
		t.Fatal("expected player state")
	}
	if !ps.IsPlaying {
		t.Error("expected is_playing true")
	}
	if ps.DurationMs != 215000 {
		t.Errorf("expected duration 215000, got %d", ps.DurationMs)
	}
	if ps.Options == nil || !ps.Options.ShufflingContext {
		t.Error("expected shuffling_context true")
	}
	if ps.Track == nil || ps.Track.URI != "spotify:track:t1" {
		t.Error("expected decoded track")
	}
	if len(ps.NextTracks) != 1 || ps.NextTracks[0].URI != "spotify:track:t2" {
		t.Error("expected one next track")
	}
	if c.Devices["d1"] == nil || !c.Devices["d1"].CanPlay {
		t.Error("expected playable device d1")
	}
	if c.ActiveDeviceID != "d1" {
		t.Errorf("expected active device d1, got %q", c.ActiveDeviceID)
	}
	if ps.Position == nil {
		t.Fatal("expected position clock")
	}
	if ps.Position.RawPositionMs != 10000 {
		t.Errorf("expected raw position 10000, got %d", ps.Position.RawPositionMs)
	}
}

func TestPositionClockDerived(t *testing.T) {
	captured := time.Now()
	playing := &PositionClock{IsPlaying: true, RawPositionMs: 5000, CapturedAt: captured}
	paused := &PositionClock{IsPlaying: false, RawPositionMs: 5000, CapturedAt: captured}

	later := captured.Add(2 * time.Second)
	if got := playing.ValueAt(later); got != 7000 {
		t.Errorf("playing position should advance: expected 7000, got %d", got)
	}
	if got := paused.ValueAt(later); got != 5000 {
		t.Errorf("paused position should be constant: expected 5000, got %d", got)
	}
}

func TestTrackMetadataLifting(t *testing.T) {
	raw := map[string]any{
		"player_state": map[string]any{
			"track": map[string]any{
				"uri": "spotify:track:t1",
				"metadata": map[string]any{
					"actions.advancing_past_track":     "resume",
					"actions.skipping_next_past_track": "resume",
					"autoplay.is_autoplay":             "false",
					"media.media_type":                 "audio",
					"media.start_position":             "0",
					"collection.is_banned":             "false",
					"collection.artist.is_banned":      "false",
					"shuffle.distribution":             "unknown",
					"album_title":                      "Album",
					"title":                            "Song",
				},
			},
		},
	}

	meta := DecodeCluster(ReasonOnLoad, raw).PlayerState.Track.Metadata
	if meta == nil {
		t.Fatal("expected metadata")
	}
	if meta.Actions.AdvancingPastTrack != "resume" {
		t.Error("actions.advancing_past_track not lifted")
	}
	if meta.Autoplay.IsAutoplay != "false" {
		t.Error("autoplay.is_autoplay not lifted")
	}
	if meta.Media.MediaType != "audio" || meta.Media.StartPosition != "0" {
		t.Error("media group not lifted")
	}
	if meta.Collection.IsBanned != "false" || meta.Collection.Artist.IsBanned != "false" {
		t.Error("collection group not lifted")
	}
	if meta.Shuffle.Distribution != "unknown" {
		t.Error("shuffle group not lifted")
	}
	if meta.AlbumTitle != "Album" || meta.Title != "Song" {
		t.Error("scalar metadata fields lost")
	}
}

func TestArtistIndexLifting(t *testing.T) {
	raw := map[string]any{
		"player_state": map[string]any{
			"track": map[string]any{
				"metadata": map[string]any{
					"artist_name:0": "A",
					"artist_uri:0":  "spotify:artist:1",
					"artist_name:1": "B",
				},
			},
		},
	}

	artists := DecodeCluster(ReasonOnLoad, raw).PlayerState.Track.Metadata.Artists
	if len(artists) != 2 {
		t.Fatalf("expected 2 artists, got %d", len(artists))
	}
	if artists[0].Index != "0" || artists[0].Name != "A" || artists[0].URI != "spotify:artist:1" {
		t.Errorf("unexpected first artist: %+v", artists[0])
	}
	if artists[1].Index != "1" || artists[1].Name != "B" || artists[1].URI != "" {
		t.Errorf("unexpected second artist: %+v", artists[1])
	}
}

func TestArtistIndexOrdering(t *testing.T) {
	// Indices above 9 must sort numerically, not lexically.
	meta := map[string]any{}
	for _, i := range []string{"10", "2", "0", "1"} {
		meta["artist_name:"+i] = "artist-" + i
	}
	raw := map[string]any{
		"player_state": map[string]any{
			"track": map[string]any{"metadata": meta},
		},
	}

	artists := DecodeCluster(ReasonOnLoad, raw).PlayerState.Track.Metadata.Artists
	want := []string{"0", "1", "2", "10"}
	for i, idx := range want {
		if artists[i].Index != idx {
			t.Fatalf("expected index %s at slot %d, got %s", idx, i, artists[i].Index)
		}
	}
}

func TestUnknownFieldsTolerated(t *testing.T) {
	raw := map[string]any{
		"some_future_field": map[string]any{"x": 1},
		"player_state": map[string]any{
			"session_id": "s1",
			"track": map[string]any{
				"metadata": map[string]any{
					"title":              "Song",
					"brand_new_metadata": "whatever",
				},
			},
		},
	}

	c := DecodeCluster(ReasonOnLoad, raw)
	if c == nil || c.PlayerState == nil {
		t.Fatal("unknown fields must not abort decoding")
	}
	if c.PlayerState.Track.Metadata.Title != "Song" {
		t.Error("known fields must survive unknown siblings")
	}
}

func TestDecodeFromWireJSON(t *testing.T) {
	// Values arrive via encoding/json, so numbers are float64.
	payload := `{"update_reason":"DEVICE_STATE_CHANGED","cluster":{
		"player_state":{"is_playing":true,"duration":1000,"position_as_of_timestamp":"500"},
		"server_timestamp_ms":1700000000000}}`
	var frame map[string]any
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		t.Fatal(err)
	}

	kind, reason, body := Classify(frame)
	if kind != KindClusterUpdate {
		t.Fatalf("expected cluster update, got %v", kind)
	}
	c := DecodeCluster(reason, body)
	if c == nil || c.PlayerState == nil || !c.PlayerState.IsPlaying {
		t.Fatal("wire decode lost player state")
	}
	if c.PlayerState.DurationMs != 1000 {
		t.Errorf("expected duration 1000, got %d", c.PlayerState.DurationMs)
	}
}
