package cluster

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"SpotWire/logger"
)

// Kind classifies a dealer payload.
type Kind int

const (
	KindIgnored Kind = iota
	KindClusterUpdate
	KindReplaceState
)

// Update reasons the dealer attaches to cluster pushes. CLIENT_CALLBACK is
// the implicit default for cluster bodies delivered without a reason;
// ON_LOAD marks the synthetic first snapshot from device registration.
const (
	ReasonDeviceStateChanged  = "DEVICE_STATE_CHANGED"
	ReasonDeviceVolumeChanged = "DEVICE_VOLUME_CHANGED"
	ReasonDevicesDisappeared  = "DEVICES_DISAPPEARED"
	ReasonDeviceNewConnection = "DEVICE_NEW_CONNECTION"
	ReasonClientCallback      = "CLIENT_CALLBACK"
	ReasonOnLoad              = "ON_LOAD"
)

var clusterUpdateReasons = map[string]bool{
	ReasonDeviceStateChanged:  true,
	ReasonDeviceVolumeChanged: true,
	ReasonDevicesDisappeared:  true,
	ReasonDeviceNewConnection: true,
	ReasonOnLoad:              true,
}

// Classify inspects one raw dealer payload and decides how it should be
// handled. For cluster updates the returned body is the raw cluster
// document and reason the update reason; for replace_state the body is the
// payload itself.
func Classify(payload any) (Kind, string, map[string]any) {
	m, ok := payload.(map[string]any)
	if !ok {
		return KindIgnored, "", nil
	}

	if reason, _ := m["update_reason"].(string); clusterUpdateReasons[reason] {
		body, _ := m["cluster"].(map[string]any)
		return KindClusterUpdate, reason, body
	}

	if t, _ := m["type"].(string); t == "replace_state" {
		return KindReplaceState, "", m
	}

	// Cluster bodies pushed without a recognized reason still count as
	// cluster updates.
	if body, ok := m["cluster"].(map[string]any); ok {
		return KindClusterUpdate, ReasonClientCallback, body
	}

	return KindIgnored, "", nil
}

// DecodeCluster builds the typed snapshot from a raw cluster document.
// Missing known fields default (booleans to false, collections to empty,
// everything else absent); unknown fields are logged at debug and dropped.
// Returns nil for an empty document.
func DecodeCluster(reason string, raw map[string]any) *Cluster {
	if len(raw) == 0 {
		return nil
	}

	d := decoder{capturedAt: time.Now()}
	c := &Cluster{
		UpdateReason:             reason,
		Timestamp:                d.str(raw, "timestamp"),
		NeedFullPlayerState:      d.boolean(raw, "need_full_player_state"),
		ServerTimestampMs:        d.str(raw, "server_timestamp_ms"),
		NotPlayingSinceTimestamp: d.str(raw, "not_playing_since_timestamp"),
		TransferDataTimestamp:    d.str(raw, "transfer_data_timestamp"),
		ActiveDeviceID:           d.str(raw, "active_device_id"),
	}

	if ps, ok := raw["player_state"].(map[string]any); ok {
		c.PlayerState = d.playerState(ps)
	}
	if devices, ok := raw["devices"].(map[string]any); ok {
		c.Devices = make(map[string]*ConnectDevice, len(devices))
		for id, dev := range devices {
			if dm, ok := dev.(map[string]any); ok {
				c.Devices[id] = d.device(dm)
			}
		}
	}

	d.reportUnknown("cluster", raw, map[string]bool{
		"timestamp": true, "player_state": true, "devices": true,
		"need_full_player_state": true, "server_timestamp_ms": true,
		"not_playing_since_timestamp": true, "transfer_data_timestamp": true,
		"active_device_id": true, "update_reason": true,
	})

	return c
}

type decoder struct {
	capturedAt time.Time
}

func (d decoder) playerState(m map[string]any) *PlayerState {
	ps := &PlayerState{
		ContextURL:          d.str(m, "context_url"),
		ContextURI:          d.str(m, "context_uri"),
		ContextRestrictions: d.mapping(m, "context_restrictions"),
		ContextMetadata:     d.mapping(m, "context_metadata"),
		PlayOrigin:          d.mapping(m, "play_origin"),
		PlaybackSpeed:       d.float(m, "playback_speed"),
		Timestamp:           d.str(m, "timestamp"),
		IsPlaying:           d.boolean(m, "is_playing"),
		IsPaused:            d.boolean(m, "is_paused"),
		IsBuffering:         d.boolean(m, "is_buffering"),
		IsSystemInitiated:   d.boolean(m, "is_system_initiated"),
		Restrictions:        d.mapping(m, "restrictions"),
		Suppressions:        d.mapping(m, "suppressions"),
		PageMetadata:        d.mapping(m, "page_metadata"),
		Index:               d.mapping(m, "index"),
		SessionID:           d.str(m, "session_id"),
		PlaybackID:          d.str(m, "playback_id"),
		QueueRevision:       d.str(m, "queue_revision"),
		DurationMs:          d.integer(m, "duration"),
		AudioStream:         d.str(m, "audio_stream"),
	}

	if raw := d.integer(m, "position_as_of_timestamp"); raw != 0 || hasKey(m, "position_as_of_timestamp") {
		ps.Position = &PositionClock{
			IsPlaying:     ps.IsPlaying,
			RawPositionMs: raw,
			CapturedAt:    d.capturedAt,
		}
	}

	if tm, ok := m["track"].(map[string]any); ok {
		ps.Track = &Track{
			URI:      d.str(tm, "uri"),
			UID:      d.str(tm, "uid"),
			Provider: d.str(tm, "provider"),
			Metadata: d.trackMetadata(tm["metadata"]),
		}
	}
	if om, ok := m["options"].(map[string]any); ok {
		ps.Options = &PlayerOptions{
			ShufflingContext: d.boolean(om, "shuffling_context"),
			RepeatingContext: d.boolean(om, "repeating_context"),
			RepeatingTrack:   d.boolean(om, "repeating_track"),
		}
	}
	if qm, ok := m["playback_quality"].(map[string]any); ok {
		ps.PlaybackQuality = &PlaybackQuality{
			BitrateLevel:           d.str(qm, "bitrate_level"),
			Strategy:               d.str(qm, "strategy"),
			TargetBitrateLevel:     d.str(qm, "target_bitrate_level"),
			TargetBitrateAvailable: d.boolean(qm, "target_bitrate_available"),
		}
	}
	ps.NextTracks = d.partialTracks(m, "next_tracks")
	ps.PrevTracks = d.partialTracks(m, "prev_tracks")

	return ps
}

func (d decoder) partialTracks(m map[string]any, key string) []*PartialTrack {
	list, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]*PartialTrack, 0, len(list))
	for _, entry := range list {
		tm, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, &PartialTrack{
			URI:      d.str(tm, "uri"),
			UID:      d.str(tm, "uid"),
			Provider: d.str(tm, "provider"),
			Blocked:  d.str(tm, "blocked"),
			Removed:  d.strings(tm, "removed"),
			Metadata: d.trackMetadata(tm["metadata"]),
		})
	}
	return out
}

// trackMetadataScalars maps the flat protocol keys onto the metadata struct.
var trackMetadataScalars = map[string]func(*TrackMetadata, string){
	"context_uri":         func(t *TrackMetadata, v string) { t.ContextURI = v },
	"entity_uri":          func(t *TrackMetadata, v string) { t.EntityURI = v },
	"page_instance_id":    func(t *TrackMetadata, v string) { t.PageInstanceID = v },
	"track_player":        func(t *TrackMetadata, v string) { t.TrackPlayer = v },
	"hidden":              func(t *TrackMetadata, v string) { t.Hidden = v },
	"iteration":           func(t *TrackMetadata, v string) { t.Iteration = v },
	"artist_uri":          func(t *TrackMetadata, v string) { t.ArtistURI = v },
	"image_url":           func(t *TrackMetadata, v string) { t.ImageURL = v },
	"image_xlarge_url":    func(t *TrackMetadata, v string) { t.ImageXLargeURL = v },
	"image_large_url":     func(t *TrackMetadata, v string) { t.ImageLargeURL = v },
	"image_small_url":     func(t *TrackMetadata, v string) { t.ImageSmallURL = v },
	"album_title":         func(t *TrackMetadata, v string) { t.AlbumTitle = v },
	"album_uri":           func(t *TrackMetadata, v string) { t.AlbumURI = v },
	"provider":            func(t *TrackMetadata, v string) { t.Provider = v },
	"decision_id":         func(t *TrackMetadata, v string) { t.DecisionID = v },
	"interaction_id":      func(t *TrackMetadata, v string) { t.InteractionID = v },
	"added_by_user":       func(t *TrackMetadata, v string) { t.AddedBy = v },
	"added_by_username":   func(t *TrackMetadata, v string) { t.AddedByUsername = v },
	"added_at":            func(t *TrackMetadata, v string) { t.AddedAt = v },
	"is_advertisement":    func(t *TrackMetadata, v string) { t.IsAdvertisement = v },
	"is_queued":           func(t *TrackMetadata, v string) { t.IsQueued = v },
	"queued_by":           func(t *TrackMetadata, v string) { t.QueuedBy = v },
	"keep_skip_direction": func(t *TrackMetadata, v string) { t.KeepSkipDirection = v },
	"title":               func(t *TrackMetadata, v string) { t.Title = v },
}

// trackMetadataGroups maps the dotted protocol keys into their lifted groups.
var trackMetadataGroups = map[string]func(*TrackMetadata, string){
	"actions.advancing_past_track":     func(t *TrackMetadata, v string) { t.Actions.AdvancingPastTrack = v },
	"actions.skipping_next_past_track": func(t *TrackMetadata, v string) { t.Actions.SkippingNextPastTrack = v },
	"actions.skipping_prev_past_track": func(t *TrackMetadata, v string) { t.Actions.SkippingPrevPastTrack = v },
	"autoplay.is_autoplay":             func(t *TrackMetadata, v string) { t.Autoplay.IsAutoplay = v },
	"media.media_type":                 func(t *TrackMetadata, v string) { t.Media.MediaType = v },
	"media.start_position":             func(t *TrackMetadata, v string) { t.Media.StartPosition = v },
	"collection.is_banned":             func(t *TrackMetadata, v string) { t.Collection.IsBanned = v },
	"collection.artist.is_banned":      func(t *TrackMetadata, v string) { t.Collection.Artist.IsBanned = v },
	"shuffle.distribution":             func(t *TrackMetadata, v string) { t.Shuffle.Distribution = v },
}

func (d decoder) trackMetadata(raw any) *TrackMetadata {
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}

	meta := &TrackMetadata{}
	artists := map[string]*TrackArtist{}

	for key, value := range m {
		str := toString(value)

		if set, ok := trackMetadataGroups[key]; ok {
			set(meta, str)
			continue
		}

		// Repeated-index artist keys: artist_name:<n> / artist_uri:<n>.
		if field, index, ok := splitIndexedKey(key); ok {
			entry := artists[index]
			if entry == nil {
				entry = &TrackArtist{Index: index}
				artists[index] = entry
			}
			switch field {
			case "artist_name":
				entry.Name = str
			case "artist_uri":
				entry.URI = str
			}
			continue
		}

		if set, ok := trackMetadataScalars[key]; ok {
			set(meta, str)
			continue
		}

		logger.Debug("unknown track metadata field",
			logger.String("field", key))
	}

	if len(artists) > 0 {
		meta.Artists = make([]TrackArtist, 0, len(artists))
		for _, a := range artists {
			meta.Artists = append(meta.Artists, *a)
		}
		sort.Slice(meta.Artists, func(i, j int) bool {
			ii, _ := strconv.Atoi(meta.Artists[i].Index)
			jj, _ := strconv.Atoi(meta.Artists[j].Index)
			return ii < jj
		})
	}

	return meta
}

// splitIndexedKey splits "artist_name:0" into ("artist_name", "0", true).
func splitIndexedKey(key string) (field, index string, ok bool) {
	i := strings.IndexByte(key, ':')
	if i < 0 {
		return "", "", false
	}
	field, index = key[:i], key[i+1:]
	if field != "artist_name" && field != "artist_uri" {
		return "", "", false
	}
	if _, err := strconv.Atoi(index); err != nil {
		return "", "", false
	}
	return field, index, true
}

func (d decoder) device(m map[string]any) *ConnectDevice {
	return &ConnectDevice{
		DeviceID:              d.str(m, "device_id"),
		DeviceType:            d.str(m, "device_type"),
		Name:                  d.str(m, "name"),
		CanPlay:               d.boolean(m, "can_play"),
		Volume:                d.integer(m, "volume"),
		Capabilities:          d.mapping(m, "capabilities"),
		DeviceSoftwareVersion: d.str(m, "device_software_version"),
		ClientID:              d.str(m, "client_id"),
		Brand:                 d.str(m, "brand"),
		Model:                 d.str(m, "model"),
		License:               d.str(m, "license"),
		SpircVersion:          d.str(m, "spirc_version"),
		MetadataMap:           d.mapping(m, "metadata_map"),
		DeduplicationID:       d.str(m, "deduplication_id"),
		IsPrivateSession:      d.boolean(m, "is_private_session"),
		PublicIP:              d.str(m, "public_ip"),
	}
}

func (d decoder) reportUnknown(scope string, m map[string]any, known map[string]bool) {
	for key := range m {
		if !known[key] {
			logger.Debug("unknown field in "+scope, logger.String("field", key))
		}
	}
}

// Lenient value accessors. The dealer mixes strings and numbers for the
// same fields across revisions, so everything tolerates both.

func (d decoder) str(m map[string]any, key string) string {
	return toString(m[key])
}

func (d decoder) boolean(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func (d decoder) integer(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

func (d decoder) float(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

func (d decoder) mapping(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func (d decoder) strings(m map[string]any, key string) []string {
	list, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, toString(v))
	}
	return out
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}
