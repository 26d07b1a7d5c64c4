// Package hub implements the server side of synchronized playback: the
// connection registry, the invitation handshake, session rooms and the relay
// that mirrors one device's play/pause/seek/track-change actions onto every
// other device in the same session.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/zardlove1991/AudioDock-sub000/pubsub"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

type Opts struct {
	// Directory resolves user ids to display names. May be nil, in which case
	// placeholder names are used everywhere.
	Directory Directory
	// Presence receives device online/offline transitions. May be nil.
	Presence pubsub.Notifier
	// InviteTTL auto-expires unanswered invites, notifying the inviter. Zero
	// disables expiry and restores the v1 behaviour of waiting forever.
	InviteTTL time.Duration
	// EnablePrometheus registers hub metrics with the default registerer.
	EnablePrometheus bool
}

// Hub owns all mutable sync-playback state. Each map lives behind its own lock
// and locks are never nested, so no lock ordering issues can arise; outbound
// fan-out happens after state mutation completes and never blocks on the
// network (frames are queued per connection or dropped).
type Hub struct {
	registry *Registry
	sessions *SessionTracker
	invites  *InviteStore
	names    *usernameCache
	metrics  *metrics
}

func NewHub(opts Opts) *Hub {
	h := &Hub{
		registry: NewRegistry(opts.Presence),
		sessions: NewSessionTracker(),
		names:    newUsernameCache(opts.Directory),
	}
	h.invites = NewInviteStore(opts.InviteTTL, h.onInviteExpired)
	if opts.EnablePrometheus {
		h.metrics = newMetrics()
	}
	return h
}

// Teardown releases background cache workers and unregisters metrics. Used by
// tests and on shutdown.
func (h *Hub) Teardown() {
	h.invites.Stop()
	h.names.Stop()
	if h.metrics != nil {
		h.metrics.unregister()
	}
}

// Connect registers an authenticated connection and returns its id.
func (h *Hub) Connect(conn *Conn) string {
	id := h.registry.Register(conn)
	if h.metrics != nil {
		h.metrics.activeConns.Inc()
	}
	logger.Info().Str("conn", id).Int64("user", conn.UserID).Str("device", conn.DeviceName).Msg("connection registered")
	return id
}

// Disconnect is the cleanup hook for a transport drop: it performs the same
// leave as an explicit player_left for every session the connection belongs to,
// then unregisters the connection.
func (h *Hub) Disconnect(ctx context.Context, conn *Conn) {
	for _, sessionID := range h.sessions.SessionsForConn(conn.ID) {
		h.leaveSession(ctx, conn, sessionID, false)
	}
	h.registry.Unregister(conn.ID)
	conn.out.Close()
	if h.metrics != nil {
		h.metrics.activeConns.Dec()
	}
	logger.Info().Str("conn", conn.ID).Int64("user", conn.UserID).Msg("connection unregistered")
}

// InviteCommand is the parsed client->server invite request.
type InviteCommand struct {
	TargetUserIDs []int64
	CurrentTrack  json.RawMessage
	Playlist      json.RawMessage
	Progress      *float64
	SessionID     string
}

// Invite delivers an invite_received notification to every device of every
// target user. Targets with no live connection are skipped silently. The
// session id is caller-supplied or generated as a documented fallback.
func (h *Hub) Invite(ctx context.Context, origin *Conn, cmd InviteCommand) {
	username := h.names.Lookup(ctx, origin.UserID)
	sessionID := cmd.SessionID
	if sessionID == "" {
		sessionID = fallbackSessionID(origin.UserID)
	}
	notif := InviteReceived{
		FromUserID:     origin.UserID,
		FromUsername:   username,
		FromDeviceName: origin.DeviceName,
		FromSocketID:   origin.ID,
		SessionID:      sessionID,
		CurrentTrack:   cmd.CurrentTrack,
		Playlist:       cmd.Playlist,
		Progress:       cmd.Progress,
		Timestamp:      time.Now().UnixMilli(),
	}
	for _, target := range cmd.TargetUserIDs {
		h.invites.Put(&InviteRequest{
			SessionID:      sessionID,
			FromUserID:     origin.UserID,
			FromConnID:     origin.ID,
			FromDeviceName: origin.DeviceName,
			TargetUserID:   target,
			CurrentTrack:   cmd.CurrentTrack,
			Playlist:       cmd.Playlist,
			Progress:       cmd.Progress,
			CreatedAt:      time.Now(),
		})
		conns := h.registry.ConnsForUser(target)
		if len(conns) == 0 {
			logger.Debug().Int64("target", target).Msg("invite target has no live connection")
			continue
		}
		for _, c := range conns {
			if h.send(c, EventInviteReceived, notif) && h.metrics != nil {
				h.metrics.invitesSent.Inc()
			}
		}
	}
}

// RespondCommand is the parsed client->server invite response. FromUserID is
// the inviter; FromSocketID is the inviter's connection if the responder knows
// it.
type RespondCommand struct {
	FromUserID   int64
	FromSocketID string
	SessionID    string
	Accept       bool
}

// RespondInvite completes the handshake. Regardless of accept/reject, the
// responder's other devices are told the invite was handled so a multi-device
// user sees the prompt dismissed everywhere once answered on one device.
func (h *Hub) RespondInvite(ctx context.Context, origin *Conn, cmd RespondCommand) {
	for _, c := range h.registry.ConnsForUser(origin.UserID) {
		if c.ID != origin.ID {
			h.send(c, EventInviteHandled, InviteHandled{
				FromUserID:      cmd.FromUserID,
				HandledByDevice: origin.DeviceName,
			})
		}
	}

	invite := h.invites.Take(cmd.FromUserID, origin.UserID)
	inviterConnID := cmd.FromSocketID
	if inviterConnID == "" && invite != nil {
		inviterConnID = invite.FromConnID
	}
	sessionID := cmd.SessionID
	if sessionID == "" && invite != nil {
		sessionID = invite.SessionID
	}

	if !cmd.Accept {
		h.rejectInvite(cmd.FromUserID, inviterConnID, InviteRejected{FromUserID: origin.UserID})
		return
	}

	if sessionID == "" {
		sessionID = fallbackSessionID(cmd.FromUserID)
	}

	// The inviter's specific connection may have disconnected between invite
	// and response. Fall back to all of the inviter's live connections; if
	// there are none the accept degrades to a session with only the responder.
	members := []*Conn{origin}
	authority := h.registry.Conn(inviterConnID)
	if authority != nil {
		members = append(members, authority)
	} else {
		inviterConns := h.registry.ConnsForUser(cmd.FromUserID)
		if len(inviterConns) > 0 {
			authority = inviterConns[0]
			members = append(members, inviterConns...)
		} else {
			logger.Warn().Int64("inviter", cmd.FromUserID).Str("session", sessionID).
				Msg("accepting invite with no live inviter connection")
		}
	}
	for _, c := range members {
		h.sessions.Join(sessionID, c.ID)
	}
	h.updateSessionsGauge()

	started := SessionStarted{SessionID: sessionID, Users: h.sessionUsers(sessionID)}
	for _, c := range h.memberConns(sessionID) {
		h.send(c, EventSessionStarted, started)
	}
	// Ask the inviter for authoritative state so the newcomer can catch up.
	if authority != nil {
		h.send(authority, EventRequestInitialState, RequestInitialState{TargetRoom: sessionID})
	}
	h.broadcastParticipants(ctx, sessionID)
	logger.Info().Str("session", sessionID).Ints64("users", started.Users).Msg("sync session started")
}

func (h *Hub) rejectInvite(inviterUserID int64, inviterConnID string, rej InviteRejected) {
	if c := h.registry.Conn(inviterConnID); c != nil {
		h.send(c, EventInviteRejected, rej)
		return
	}
	for _, c := range h.registry.ConnsForUser(inviterUserID) {
		h.send(c, EventInviteRejected, rej)
	}
}

func (h *Hub) onInviteExpired(invite *InviteRequest) {
	logger.Info().Int64("inviter", invite.FromUserID).Int64("target", invite.TargetUserID).
		Msg("invite expired without a response")
	h.rejectInvite(invite.FromUserID, invite.FromConnID, InviteRejected{
		FromUserID: invite.TargetUserID,
		Reason:     "expired",
	})
}

// Relay fans a playback event out to every member of the session except the
// origin, tagged with the origin's user id. At-most-once, best effort: no
// acknowledgement, no retry, no queueing beyond the per-connection buffer.
// Commands referencing sessions the origin is not a member of are dropped.
func (h *Hub) Relay(origin *Conn, sessionID, eventType string, data json.RawMessage) {
	if !h.sessions.IsMember(sessionID, origin.ID) {
		logger.Warn().Str("conn", origin.ID).Str("session", sessionID).Str("type", eventType).
			Msg("dropping sync_command from non-member")
		return
	}
	ev := SyncEvent{Type: eventType, Data: data, SenderID: origin.UserID}
	for _, c := range h.memberConns(sessionID) {
		if c.ID == origin.ID {
			continue
		}
		h.send(c, EventSyncEvent, ev)
	}
	if h.metrics != nil {
		h.metrics.relayedEvents.WithLabelValues(eventType).Inc()
	}
}

// LeaveSession handles an explicit player_left request.
func (h *Hub) LeaveSession(ctx context.Context, origin *Conn, sessionID string) {
	h.leaveSession(ctx, origin, sessionID, true)
}

func (h *Hub) leaveSession(ctx context.Context, conn *Conn, sessionID string, graceful bool) {
	wasMember, remaining := h.sessions.Leave(sessionID, conn.ID)
	if !wasMember {
		return
	}
	h.updateSessionsGauge()
	if remaining == 0 {
		if graceful {
			h.send(conn, EventSessionEnded, SessionEnded{SessionID: sessionID})
		}
		logger.Info().Str("session", sessionID).Msg("session ended")
		return
	}
	// Attribution is best effort: if no lookup ever ran for this user the
	// notification carries a placeholder name.
	name, _ := h.names.Cached(conn.UserID)
	left := PlayerLeft{UserID: conn.UserID, Username: name, DeviceName: conn.DeviceName}
	for _, c := range h.memberConns(sessionID) {
		h.send(c, EventPlayerLeft, left)
	}
	h.broadcastParticipants(ctx, sessionID)
}

// broadcastParticipants joins current membership against the registry and the
// username cache to produce the resolved participant list.
func (h *Hub) broadcastParticipants(ctx context.Context, sessionID string) {
	conns := h.memberConns(sessionID)
	participants := make([]Participant, 0, len(conns))
	for _, c := range conns {
		participants = append(participants, Participant{
			SocketID:   c.ID,
			UserID:     c.UserID,
			Username:   h.names.Lookup(ctx, c.UserID),
			DeviceName: c.DeviceName,
		})
	}
	update := ParticipantsUpdate{Participants: participants}
	for _, c := range conns {
		h.send(c, EventParticipantsUpdate, update)
	}
}

// memberConns resolves session membership to live connections, skipping ids the
// registry no longer knows about.
func (h *Hub) memberConns(sessionID string) []*Conn {
	ids := h.sessions.ConnsInSession(sessionID)
	conns := make([]*Conn, 0, len(ids))
	for _, id := range ids {
		if c := h.registry.Conn(id); c != nil {
			conns = append(conns, c)
		}
	}
	return conns
}

func (h *Hub) sessionUsers(sessionID string) []int64 {
	seen := make(map[int64]struct{})
	var users []int64
	for _, c := range h.memberConns(sessionID) {
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		users = append(users, c.UserID)
	}
	return users
}

func (h *Hub) send(conn *Conn, event string, payload any) bool {
	sent := conn.Send(event, payload)
	if !sent && h.metrics != nil {
		h.metrics.droppedFrames.Inc()
	}
	return sent
}

func (h *Hub) updateSessionsGauge() {
	if h.metrics != nil {
		h.metrics.activeSessions.Set(float64(h.sessions.NumSessions()))
	}
}

func fallbackSessionID(inviterUserID int64) string {
	return fmt.Sprintf("sync_session_%d_%d", inviterUserID, time.Now().UnixMilli())
}
