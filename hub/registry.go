package hub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/zardlove1991/AudioDock-sub000/internal"
	"github.com/zardlove1991/AudioDock-sub000/pubsub"
)

type presenceKey struct {
	userID     int64
	deviceName string
}

// Registry tracks live connections per user and per-connection device metadata.
// It is the authoritative source for "is this user/device online". The per-user
// index doubles as the implicit user:{id} broadcast group used to deliver
// invitations to all of a user's devices at once.
//
// Presence is reference-counted per (user, device): the external presence
// collaborator is told a device went offline only when its last connection
// unregisters, not on any disconnect.
type Registry struct {
	mu           *sync.Mutex
	conns        map[string]*Conn
	userToConns  map[int64][]*Conn
	deviceCounts map[presenceKey]int

	presence pubsub.Notifier
}

// NewRegistry creates a registry publishing presence transitions to the given
// notifier. A nil notifier disables presence publishing.
func NewRegistry(presence pubsub.Notifier) *Registry {
	return &Registry{
		mu:           &sync.Mutex{},
		conns:        make(map[string]*Conn),
		userToConns:  make(map[int64][]*Conn),
		deviceCounts: make(map[presenceKey]int),
		presence:     presence,
	}
}

// Register assigns the connection an id if it has none, indexes it and flips the
// device online if this is its first connection. Returns the connection id.
func (r *Registry) Register(conn *Conn) string {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	key := presenceKey{conn.UserID, conn.DeviceName}
	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.userToConns[conn.UserID] = append(r.userToConns[conn.UserID], conn)
	r.deviceCounts[key]++
	first := r.deviceCounts[key] == 1
	r.mu.Unlock()

	if first {
		r.notifyPresence(&pubsub.DeviceOnline{UserID: conn.UserID, DeviceName: conn.DeviceName})
	}
	return conn.ID
}

// Unregister removes the connection and flips the device offline if no other
// connection for the same (user, device) pair remains.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	conn := r.conns[connID]
	if conn == nil {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	conns := r.userToConns[conn.UserID]
	for i := 0; i < len(conns); i++ {
		if conns[i].ID == connID {
			// delete without preserving order
			conns[i] = conns[len(conns)-1]
			conns = conns[:len(conns)-1]
			break
		}
	}
	if len(conns) == 0 {
		delete(r.userToConns, conn.UserID)
	} else {
		r.userToConns[conn.UserID] = conns
	}
	key := presenceKey{conn.UserID, conn.DeviceName}
	r.deviceCounts[key]--
	internal.Assert("device refcount is not negative", r.deviceCounts[key] >= 0)
	last := r.deviceCounts[key] <= 0
	if last {
		delete(r.deviceCounts, key)
	}
	r.mu.Unlock()

	if last {
		r.notifyPresence(&pubsub.DeviceOffline{UserID: conn.UserID, DeviceName: conn.DeviceName})
	}
}

// Conn returns the connection with this id, or nil.
func (r *Registry) Conn(connID string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[connID]
}

// ConnsForUser returns all live connections of the given user, i.e. the
// user:{id} group.
func (r *Registry) ConnsForUser(userID int64) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.userToConns[userID]
	result := make([]*Conn, len(conns))
	copy(result, conns)
	return result
}

// DeviceName returns the device name of the given connection, or "" if unknown.
func (r *Registry) DeviceName(connID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn := r.conns[connID]; conn != nil {
		return conn.DeviceName
	}
	return ""
}

func (r *Registry) NumConns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) notifyPresence(p pubsub.Payload) {
	if r.presence == nil {
		return
	}
	if err := r.presence.Notify(pubsub.ChanPresence, p); err != nil {
		logger.Err(err).Str("payload", p.Type()).Msg("failed to publish presence transition")
	}
}
