package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/zardlove1991/AudioDock-sub000/internal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// auth happens out of band; the hub only propagates identity
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request to a websocket and runs the connection's read
// loop until the transport drops. Identity arrives as handshake metadata:
// ?user_id=<int>&device=<name>.
func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	userID, err := strconv.ParseInt(req.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, &internal.HandlerError{
			StatusCode: 400,
			Err:        fmt.Errorf("missing or malformed user_id: %s", err),
		})
		return
	}
	deviceName := req.URL.Query().Get("device")
	if deviceName == "" {
		writeError(w, &internal.HandlerError{
			StatusCode: 400,
			Err:        fmt.Errorf("missing device"),
		})
		return
	}
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already replied to the client
		logger.Err(err).Msg("websocket upgrade failed")
		return
	}

	out := newWSOutbound(ws)
	conn := &Conn{UserID: userID, DeviceName: deviceName, out: out}
	h.Connect(conn)
	go out.writePump()

	ctx := req.Context()
	defer h.Disconnect(ctx, conn)
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Err(err).Str("conn", conn.ID).Msg("websocket read error")
			}
			return
		}
		h.dispatch(req.Context(), conn, msg)
	}
}

// dispatch routes one inbound frame. Malformed frames are dropped with a log
// entry; a panic in a handler is captured and never kills the read loop.
func (h *Hub) dispatch(ctx context.Context, conn *Conn, msg []byte) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			logger.Error().Str("conn", conn.ID).Interface("panic", panicErr).Msg(string(debug.Stack()))
			internal.GetSentryHubFromContextOrDefault(ctx).RecoverWithContext(ctx, panicErr)
		}
	}()
	parsed := gjson.ParseBytes(msg)
	event := parsed.Get("event").Str
	data := parsed.Get("data")
	switch event {
	case EventInvite:
		cmd := InviteCommand{SessionID: data.Get("sessionId").Str}
		for _, t := range data.Get("targetUserIds").Array() {
			cmd.TargetUserIDs = append(cmd.TargetUserIDs, t.Int())
		}
		if len(cmd.TargetUserIDs) == 0 {
			logger.Warn().Str("conn", conn.ID).Msg("dropping invite with no targets")
			return
		}
		cmd.CurrentTrack = rawField(data, "currentTrack")
		cmd.Playlist = rawField(data, "playlist")
		if p := data.Get("progress"); p.Exists() {
			v := p.Float()
			cmd.Progress = &v
		}
		h.Invite(ctx, conn, cmd)
	case EventRespondInvite:
		from := data.Get("fromUserId")
		if !from.Exists() {
			logger.Warn().Str("conn", conn.ID).Msg("dropping respond_invite without fromUserId")
			return
		}
		h.RespondInvite(ctx, conn, RespondCommand{
			FromUserID:   from.Int(),
			FromSocketID: data.Get("fromSocketId").Str,
			SessionID:    data.Get("sessionId").Str,
			Accept:       data.Get("accept").Bool(),
		})
	case EventSyncCommand:
		sessionID := data.Get("sessionId").Str
		eventType := data.Get("type").Str
		if sessionID == "" || eventType == "" {
			logger.Warn().Str("conn", conn.ID).Msg("dropping malformed sync_command")
			return
		}
		h.Relay(conn, sessionID, eventType, rawField(data, "data"))
	case EventPlayerLeft:
		sessionID := data.Get("sessionId").Str
		if sessionID == "" {
			logger.Warn().Str("conn", conn.ID).Msg("dropping player_left without sessionId")
			return
		}
		h.LeaveSession(ctx, conn, sessionID)
	default:
		logger.Warn().Str("conn", conn.ID).Str("event", event).Msg("dropping unknown event")
	}
}

// rawField extracts a payload subtree without parsing it: track and playlist
// contents are opaque to the hub.
func rawField(data gjson.Result, key string) json.RawMessage {
	field := data.Get(key)
	if !field.Exists() {
		return nil
	}
	return json.RawMessage(field.Raw)
}

func writeError(w http.ResponseWriter, herr *internal.HandlerError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(herr.StatusCode)
	w.Write(herr.JSON())
}
