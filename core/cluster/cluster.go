package cluster

import (
	"time"
)

// Cluster is one authoritative snapshot of account-wide playback/device
// state as delivered by the dealer. A Cluster is immutable once built;
// reconciliation always produces a fresh copy.
type Cluster struct {
	Timestamp                string                    `json:"timestamp,omitempty"`
	PlayerState              *PlayerState              `json:"player_state,omitempty"`
	Devices                  map[string]*ConnectDevice `json:"devices,omitempty"`
	NeedFullPlayerState      bool                      `json:"need_full_player_state"`
	ServerTimestampMs        string                    `json:"server_timestamp_ms,omitempty"`
	NotPlayingSinceTimestamp string                    `json:"not_playing_since_timestamp,omitempty"`
	TransferDataTimestamp    string                    `json:"transfer_data_timestamp,omitempty"`
	ActiveDeviceID           string                    `json:"active_device_id,omitempty"`

	// UpdateReason records why the dealer pushed this snapshot
	// (DEVICE_STATE_CHANGED, ON_LOAD, ...). Not part of the cluster
	// document itself.
	UpdateReason string `json:"update_reason,omitempty"`
}

// PlayerState describes the playback half of a cluster.
type PlayerState struct {
	ContextURL          string                 `json:"context_url,omitempty"`
	ContextURI          string                 `json:"context_uri,omitempty"`
	ContextRestrictions map[string]any         `json:"context_restrictions,omitempty"`
	ContextMetadata     map[string]any         `json:"context_metadata,omitempty"`
	PlayOrigin          map[string]any         `json:"play_origin,omitempty"`
	Track               *Track                 `json:"track,omitempty"`
	PlaybackSpeed       float64                `json:"playback_speed,omitempty"`
	Position            *PositionClock         `json:"position_as_of_timestamp,omitempty"`
	Timestamp           string                 `json:"timestamp,omitempty"`
	IsPlaying           bool                   `json:"is_playing"`
	IsPaused            bool                   `json:"is_paused"`
	IsBuffering         bool                   `json:"is_buffering"`
	IsSystemInitiated   bool                   `json:"is_system_initiated"`
	Options             *PlayerOptions         `json:"options,omitempty"`
	Restrictions        map[string]any         `json:"restrictions,omitempty"`
	Suppressions        map[string]any         `json:"suppressions,omitempty"`
	PageMetadata        map[string]any         `json:"page_metadata,omitempty"`
	Index               map[string]any         `json:"index,omitempty"`
	SessionID           string                 `json:"session_id,omitempty"`
	PlaybackID          string                 `json:"playback_id,omitempty"`
	QueueRevision       string                 `json:"queue_revision,omitempty"`
	DurationMs          int64                  `json:"duration,omitempty"`
	AudioStream         string                 `json:"audio_stream,omitempty"`
	NextTracks          []*PartialTrack        `json:"next_tracks,omitempty"`
	PrevTracks          []*PartialTrack        `json:"prev_tracks,omitempty"`
	PlaybackQuality     *PlaybackQuality       `json:"playback_quality,omitempty"`
}

// PositionClock is a derived clock: while playing, the effective position
// keeps advancing from the raw position captured at decode time. It must
// be recomputed on every read, never cached.
type PositionClock struct {
	IsPlaying     bool      `json:"is_playing"`
	RawPositionMs int64     `json:"raw_position_ms"`
	CapturedAt    time.Time `json:"captured_at"`
}

// ValueAt returns the effective position in milliseconds at the given wall
// clock time.
func (p *PositionClock) ValueAt(now time.Time) int64 {
	if p == nil {
		return 0
	}
	if !p.IsPlaying {
		return p.RawPositionMs
	}
	return p.RawPositionMs + now.Sub(p.CapturedAt).Milliseconds()
}

// Value returns the effective position in milliseconds right now.
func (p *PositionClock) Value() int64 {
	return p.ValueAt(time.Now())
}

// PlayerOptions carries the shuffle/repeat toggles.
type PlayerOptions struct {
	ShufflingContext bool `json:"shuffling_context"`
	RepeatingContext bool `json:"repeating_context"`
	RepeatingTrack   bool `json:"repeating_track"`
}

// PlaybackQuality mirrors the playback_quality block.
type PlaybackQuality struct {
	BitrateLevel           string `json:"bitrate_level,omitempty"`
	Strategy               string `json:"strategy,omitempty"`
	TargetBitrateLevel     string `json:"target_bitrate_level,omitempty"`
	TargetBitrateAvailable bool   `json:"target_bitrate_available"`
}

// Track is the currently loaded track.
type Track struct {
	URI      string         `json:"uri,omitempty"`
	UID      string         `json:"uid,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Metadata *TrackMetadata `json:"metadata,omitempty"`
}

// PartialTrack is a queue entry in next_tracks/prev_tracks.
type PartialTrack struct {
	URI      string         `json:"uri,omitempty"`
	UID      string         `json:"uid,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Removed  []string       `json:"removed,omitempty"`
	Blocked  string         `json:"blocked,omitempty"`
	Metadata *TrackMetadata `json:"metadata,omitempty"`
}

// TrackActions groups the protocol-flattened actions.* metadata keys.
type TrackActions struct {
	AdvancingPastTrack    string `json:"advancing_past_track,omitempty"`
	SkippingNextPastTrack string `json:"skipping_next_past_track,omitempty"`
	SkippingPrevPastTrack string `json:"skipping_prev_past_track,omitempty"`
}

// TrackAutoplay groups the autoplay.* keys.
type TrackAutoplay struct {
	IsAutoplay string `json:"is_autoplay,omitempty"`
}

// TrackMedia groups the media.* keys.
type TrackMedia struct {
	MediaType     string `json:"media_type,omitempty"`
	StartPosition string `json:"media_start_position,omitempty"`
}

// TrackCollection groups the collection.* keys.
type TrackCollection struct {
	IsBanned string                `json:"is_banned,omitempty"`
	Artist   TrackArtistCollection `json:"artist"`
}

// TrackArtistCollection groups the collection.artist.* keys.
type TrackArtistCollection struct {
	IsBanned string `json:"is_banned,omitempty"`
}

// TrackShuffle groups the shuffle.* keys.
type TrackShuffle struct {
	Distribution string `json:"distribution,omitempty"`
}

// TrackArtist is one entry lifted from the repeated artist_name:<n> /
// artist_uri:<n> metadata keys. Index keeps the protocol's string form.
type TrackArtist struct {
	Index string `json:"index"`
	Name  string `json:"name,omitempty"`
	URI   string `json:"uri,omitempty"`
}

// TrackMetadata is the track-metadata object with the flattened dotted keys
// lifted into nested groups.
type TrackMetadata struct {
	Actions    TrackActions    `json:"actions"`
	Autoplay   TrackAutoplay   `json:"autoplay"`
	Media      TrackMedia      `json:"media"`
	Collection TrackCollection `json:"collection"`
	Shuffle    TrackShuffle    `json:"shuffle"`
	Artists    []TrackArtist   `json:"artists,omitempty"`

	ContextURI        string `json:"context_uri,omitempty"`
	EntityURI         string `json:"entity_uri,omitempty"`
	PageInstanceID    string `json:"page_instance_id,omitempty"`
	TrackPlayer       string `json:"track_player,omitempty"`
	Hidden            string `json:"hidden,omitempty"`
	Iteration         string `json:"iteration,omitempty"`
	ImageURL          string `json:"image_url,omitempty"`
	ImageXLargeURL    string `json:"image_xlarge_url,omitempty"`
	ImageLargeURL     string `json:"image_large_url,omitempty"`
	ImageSmallURL     string `json:"image_small_url,omitempty"`
	AlbumTitle        string `json:"album_title,omitempty"`
	AlbumURI          string `json:"album_uri,omitempty"`
	Provider          string `json:"provider,omitempty"`
	DecisionID        string `json:"decision_id,omitempty"`
	InteractionID     string `json:"interaction_id,omitempty"`
	AddedBy           string `json:"added_by_user,omitempty"`
	AddedByUsername   string `json:"added_by_username,omitempty"`
	AddedAt           string `json:"added_at,omitempty"`
	IsAdvertisement   string `json:"is_advertisement,omitempty"`
	IsQueued          string `json:"is_queued,omitempty"`
	QueuedBy          string `json:"queued_by,omitempty"`
	KeepSkipDirection string `json:"keep_skip_direction,omitempty"`
	Title             string `json:"title,omitempty"`
	ArtistURI         string `json:"artist_uri,omitempty"`
}

// ConnectDevice describes one device connected to the account.
type ConnectDevice struct {
	DeviceID              string         `json:"device_id,omitempty"`
	DeviceType            string         `json:"device_type,omitempty"`
	Name                  string         `json:"name,omitempty"`
	CanPlay               bool           `json:"can_play"`
	Volume                int64          `json:"volume,omitempty"`
	Capabilities          map[string]any `json:"capabilities,omitempty"`
	DeviceSoftwareVersion string         `json:"device_software_version,omitempty"`
	ClientID              string         `json:"client_id,omitempty"`
	Brand                 string         `json:"brand,omitempty"`
	Model                 string         `json:"model,omitempty"`
	License               string         `json:"license,omitempty"`
	SpircVersion          string         `json:"spirc_version,omitempty"`
	MetadataMap           map[string]any `json:"metadata_map,omitempty"`
	DeduplicationID       string         `json:"deduplication_id,omitempty"`
	IsPrivateSession      bool           `json:"is_private_session"`
	PublicIP              string         `json:"public_ip,omitempty"`
}
