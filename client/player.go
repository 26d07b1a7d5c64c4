package client

import "encoding/json"

// Player is the local playback engine the controller drives. Implementations
// wrap whatever actually decodes audio; the controller only needs transport
// control and state queries.
type Player interface {
	Play()
	Pause()
	// SeekTo moves the playhead to an absolute position in seconds.
	SeekTo(position float64)
	// SetTrack switches to the given track. The track object is opaque to the
	// sync layer beyond its id.
	SetTrack(track json.RawMessage)
	SetPlaylist(playlist json.RawMessage)

	IsPlaying() bool
	// Position is the current playhead in seconds.
	Position() float64
	// TrackID identifies the current track, or "" if nothing is loaded.
	TrackID() string
	// CurrentTrack returns the current track object for the initial-state
	// handoff to a newcomer.
	CurrentTrack() json.RawMessage
}
