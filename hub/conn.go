package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/sjson"
)

const (
	// time allowed to write a frame to the peer before giving up on it
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	// outbound frames buffered per connection; when full, frames are dropped
	// (delivery is "deliver now or drop", there is no retry or queueing)
	sendBufferSize = 64
)

// Outbound is the server->client half of a connection. Send returns false if the
// frame was dropped rather than queued. Implementations must never block.
type Outbound interface {
	Send(event string, data json.RawMessage) bool
	Close()
}

// Conn ties one transport-level connection to a user identity and device name.
// A user may hold many concurrent Conns (multiple devices or windows); a Conn
// belongs to exactly one user. Never persisted.
type Conn struct {
	ID         string
	UserID     int64
	DeviceName string

	out Outbound
}

// Send marshals the payload and queues it on the connection, returning false if
// the frame was dropped. Marshal failures and dropped frames are logged and
// otherwise ignored: the protocol is best-effort.
func (c *Conn) Send(event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Err(err).Str("event", event).Str("conn", c.ID).Msg("failed to marshal outbound payload")
		return false
	}
	if !c.out.Send(event, data) {
		logger.Warn().Str("event", event).Str("conn", c.ID).Msg("dropped outbound frame: send buffer full")
		return false
	}
	return true
}

// wsOutbound pumps enveloped frames onto a websocket from a buffered channel so
// that no hub code ever blocks on network I/O.
type wsOutbound struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newWSOutbound(ws *websocket.Conn) *wsOutbound {
	return &wsOutbound{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
	}
}

func (o *wsOutbound) Send(event string, data json.RawMessage) bool {
	frame, err := sjson.SetBytes([]byte(`{}`), "event", event)
	if err != nil {
		return false
	}
	if len(data) > 0 {
		frame, err = sjson.SetRawBytes(frame, "data", data)
		if err != nil {
			return false
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.send <- frame:
		return true
	default:
		return false
	}
}

func (o *wsOutbound) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.send)
}

// writePump runs until Close() or a write error. It owns all writes to the
// websocket, including pings.
func (o *wsOutbound) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		o.ws.Close()
	}()
	for {
		select {
		case frame, ok := <-o.send:
			o.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				o.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := o.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			o.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
