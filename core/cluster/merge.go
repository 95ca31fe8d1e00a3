package cluster

// Null retention: the dealer only sends fields that changed, so a field
// absent from a new snapshot means "unchanged", not "cleared". Merge copies
// forward every absent field from the previous snapshot into a fresh copy
// of the new one. Boolean flags are the exception: the protocol treats them
// as edge-triggered, so a true that the server stopped sending resets to
// false instead of sticking.

// Merge reconciles old into next and returns a new snapshot. Neither input
// is mutated. A nil old returns next unchanged; a nil next retains old with
// boolean flags reset.
func Merge(old, next *Cluster) *Cluster {
	if old == nil {
		return next
	}
	if next == nil {
		return retainCluster(old)
	}

	c := *next
	c.Timestamp = retainStr(old.Timestamp, c.Timestamp)
	c.ServerTimestampMs = retainStr(old.ServerTimestampMs, c.ServerTimestampMs)
	c.NotPlayingSinceTimestamp = retainStr(old.NotPlayingSinceTimestamp, c.NotPlayingSinceTimestamp)
	c.TransferDataTimestamp = retainStr(old.TransferDataTimestamp, c.TransferDataTimestamp)
	c.ActiveDeviceID = retainStr(old.ActiveDeviceID, c.ActiveDeviceID)
	if c.Devices == nil {
		c.Devices = old.Devices
	}

	switch {
	case c.PlayerState == nil && old.PlayerState != nil:
		c.PlayerState = retainPlayerState(old.PlayerState)
	case c.PlayerState != nil && old.PlayerState != nil:
		c.PlayerState = mergePlayerState(old.PlayerState, c.PlayerState)
	}

	return &c
}

func mergePlayerState(old, next *PlayerState) *PlayerState {
	ps := *next
	ps.ContextURL = retainStr(old.ContextURL, ps.ContextURL)
	ps.ContextURI = retainStr(old.ContextURI, ps.ContextURI)
	ps.Timestamp = retainStr(old.Timestamp, ps.Timestamp)
	ps.SessionID = retainStr(old.SessionID, ps.SessionID)
	ps.PlaybackID = retainStr(old.PlaybackID, ps.PlaybackID)
	ps.QueueRevision = retainStr(old.QueueRevision, ps.QueueRevision)
	ps.AudioStream = retainStr(old.AudioStream, ps.AudioStream)
	if ps.DurationMs == 0 {
		ps.DurationMs = old.DurationMs
	}
	if ps.PlaybackSpeed == 0 {
		ps.PlaybackSpeed = old.PlaybackSpeed
	}
	if ps.ContextRestrictions == nil {
		ps.ContextRestrictions = old.ContextRestrictions
	}
	if ps.ContextMetadata == nil {
		ps.ContextMetadata = old.ContextMetadata
	}
	if ps.PlayOrigin == nil {
		ps.PlayOrigin = old.PlayOrigin
	}
	if ps.Restrictions == nil {
		ps.Restrictions = old.Restrictions
	}
	if ps.Suppressions == nil {
		ps.Suppressions = old.Suppressions
	}
	if ps.PageMetadata == nil {
		ps.PageMetadata = old.PageMetadata
	}
	if ps.Index == nil {
		ps.Index = old.Index
	}
	if ps.NextTracks == nil {
		ps.NextTracks = old.NextTracks
	}
	if ps.PrevTracks == nil {
		ps.PrevTracks = old.PrevTracks
	}
	if ps.Position == nil {
		ps.Position = retainPosition(old.Position)
	}
	if ps.PlaybackQuality == nil {
		ps.PlaybackQuality = retainQuality(old.PlaybackQuality)
	}

	switch {
	case ps.Options == nil && old.Options != nil:
		ps.Options = &PlayerOptions{} // flags are edge-triggered
	}

	switch {
	case ps.Track == nil && old.Track != nil:
		ps.Track = old.Track
	case ps.Track != nil && old.Track != nil:
		ps.Track = mergeTrack(old.Track, ps.Track)
	}

	return &ps
}

func mergeTrack(old, next *Track) *Track {
	t := *next
	t.URI = retainStr(old.URI, t.URI)
	t.UID = retainStr(old.UID, t.UID)
	t.Provider = retainStr(old.Provider, t.Provider)
	switch {
	case t.Metadata == nil && old.Metadata != nil:
		t.Metadata = old.Metadata
	case t.Metadata != nil && old.Metadata != nil:
		t.Metadata = mergeTrackMetadata(old.Metadata, t.Metadata)
	}
	return &t
}

func mergeTrackMetadata(old, next *TrackMetadata) *TrackMetadata {
	m := *next
	m.Actions.AdvancingPastTrack = retainStr(old.Actions.AdvancingPastTrack, m.Actions.AdvancingPastTrack)
	m.Actions.SkippingNextPastTrack = retainStr(old.Actions.SkippingNextPastTrack, m.Actions.SkippingNextPastTrack)
	m.Actions.SkippingPrevPastTrack = retainStr(old.Actions.SkippingPrevPastTrack, m.Actions.SkippingPrevPastTrack)
	m.Autoplay.IsAutoplay = retainStr(old.Autoplay.IsAutoplay, m.Autoplay.IsAutoplay)
	m.Media.MediaType = retainStr(old.Media.MediaType, m.Media.MediaType)
	m.Media.StartPosition = retainStr(old.Media.StartPosition, m.Media.StartPosition)
	m.Collection.IsBanned = retainStr(old.Collection.IsBanned, m.Collection.IsBanned)
	m.Collection.Artist.IsBanned = retainStr(old.Collection.Artist.IsBanned, m.Collection.Artist.IsBanned)
	m.Shuffle.Distribution = retainStr(old.Shuffle.Distribution, m.Shuffle.Distribution)
	if m.Artists == nil {
		m.Artists = old.Artists
	}
	m.ContextURI = retainStr(old.ContextURI, m.ContextURI)
	m.EntityURI = retainStr(old.EntityURI, m.EntityURI)
	m.PageInstanceID = retainStr(old.PageInstanceID, m.PageInstanceID)
	m.TrackPlayer = retainStr(old.TrackPlayer, m.TrackPlayer)
	m.Hidden = retainStr(old.Hidden, m.Hidden)
	m.Iteration = retainStr(old.Iteration, m.Iteration)
	m.ImageURL = retainStr(old.ImageURL, m.ImageURL)
	m.ImageXLargeURL = retainStr(old.ImageXLargeURL, m.ImageXLargeURL)
	m.ImageLargeURL = retainStr(old.ImageLargeURL, m.ImageLargeURL)
	m.ImageSmallURL = retainStr(old.ImageSmallURL, m.ImageSmallURL)
	m.AlbumTitle = retainStr(old.AlbumTitle, m.AlbumTitle)
	m.AlbumURI = retainStr(old.AlbumURI, m.AlbumURI)
	m.Provider = retainStr(old.Provider, m.Provider)
	m.DecisionID = retainStr(old.DecisionID, m.DecisionID)
	m.InteractionID = retainStr(old.InteractionID, m.InteractionID)
	m.AddedBy = retainStr(old.AddedBy, m.AddedBy)
	m.AddedByUsername = retainStr(old.AddedByUsername, m.AddedByUsername)
	m.AddedAt = retainStr(old.AddedAt, m.AddedAt)
	m.IsAdvertisement = retainStr(old.IsAdvertisement, m.IsAdvertisement)
	m.IsQueued = retainStr(old.IsQueued, m.IsQueued)
	m.QueuedBy = retainStr(old.QueuedBy, m.QueuedBy)
	m.KeepSkipDirection = retainStr(old.KeepSkipDirection, m.KeepSkipDirection)
	m.Title = retainStr(old.Title, m.Title)
	m.ArtistURI = retainStr(old.ArtistURI, m.ArtistURI)
	return &m
}

// retainCluster copies a snapshot forward in full, resetting boolean flags.
func retainCluster(old *Cluster) *Cluster {
	c := *old
	c.NeedFullPlayerState = false
	if old.PlayerState != nil {
		c.PlayerState = retainPlayerState(old.PlayerState)
	}
	return &c
}

func retainPlayerState(old *PlayerState) *PlayerState {
	ps := *old
	ps.IsPlaying = false
	ps.IsPaused = false
	ps.IsBuffering = false
	ps.IsSystemInitiated = false
	if old.Options != nil {
		ps.Options = &PlayerOptions{}
	}
	ps.Position = retainPosition(old.Position)
	ps.PlaybackQuality = retainQuality(old.PlaybackQuality)
	return &ps
}

func retainPosition(old *PositionClock) *PositionClock {
	if old == nil {
		return nil
	}
	p := *old
	p.IsPlaying = false // the clock freezes once the flag stops arriving
	return &p
}

func retainQuality(old *PlaybackQuality) *PlaybackQuality {
	if old == nil {
		return nil
	}
	q := *old
	q.TargetBitrateAvailable = false
	return &q
}

func retainStr(old, next string) string {
	if next == "" {
		return old
	}
	return next
}
