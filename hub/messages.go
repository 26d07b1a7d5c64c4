package hub

import "encoding/json"

// Client -> server event names.
const (
	EventInvite        = "invite"
	EventRespondInvite = "respond_invite"
	EventSyncCommand   = "sync_command"
	EventPlayerLeft    = "player_left"
)

// Server -> client event names.
const (
	EventInviteReceived      = "invite_received"
	EventInviteHandled       = "invite_handled"
	EventInviteRejected      = "invite_rejected"
	EventSessionStarted      = "sync_session_started"
	EventRequestInitialState = "request_initial_state"
	EventSyncEvent           = "sync_event"
	EventSessionEnded        = "session_ended"
	EventParticipantsUpdate  = "participants_update"
)

// Sync event types carried inside sync_command / sync_event. The hub treats the
// accompanying data as opaque; only clients interpret it.
const (
	SyncPlay           = "play"
	SyncPause          = "pause"
	SyncSeek           = "seek"
	SyncTrackChange    = "track_change"
	SyncPlaylistChange = "playlist_change"
)

// InviteReceived is delivered to every connection of each invite target.
type InviteReceived struct {
	FromUserID     int64           `json:"fromUserId"`
	FromUsername   string          `json:"fromUsername"`
	FromDeviceName string          `json:"fromDeviceName"`
	FromSocketID   string          `json:"fromSocketId"`
	SessionID      string          `json:"sessionId"`
	CurrentTrack   json.RawMessage `json:"currentTrack,omitempty"`
	Playlist       json.RawMessage `json:"playlist,omitempty"`
	Progress       *float64        `json:"progress,omitempty"`
	Timestamp      int64           `json:"timestamp"`
}

// InviteHandled tells a user's other devices that one of their devices already
// accepted or rejected, so they can dismiss the prompt.
type InviteHandled struct {
	FromUserID      int64  `json:"fromUserId"`
	HandledByDevice string `json:"handledByDevice"`
}

// InviteRejected is sent to the inviter. Reason is only set for server-side
// expiry of an unanswered invite.
type InviteRejected struct {
	FromUserID int64  `json:"fromUserId"`
	Reason     string `json:"reason,omitempty"`
}

type SessionStarted struct {
	SessionID string  `json:"sessionId"`
	Users     []int64 `json:"users"`
}

type RequestInitialState struct {
	TargetRoom string `json:"targetRoom"`
}

// SyncEvent is the relayed form of a sync_command: same type and data, tagged with
// the origin's user id.
type SyncEvent struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	SenderID int64           `json:"senderId"`
}

// PlayerLeft is the notification form (the request form is just {sessionId}).
type PlayerLeft struct {
	UserID     int64  `json:"userId"`
	Username   string `json:"username"`
	DeviceName string `json:"deviceName"`
}

type SessionEnded struct {
	SessionID string `json:"sessionId"`
}

// Participant is the resolved human-readable view of one session member.
type Participant struct {
	SocketID   string `json:"socketId"`
	UserID     int64  `json:"userId"`
	Username   string `json:"username"`
	DeviceName string `json:"deviceName"`
}

type ParticipantsUpdate struct {
	Participants []Participant `json:"participants"`
}
