package hub

import (
	"sync"
	"testing"

	"github.com/zardlove1991/AudioDock-sub000/pubsub"
)

type recordingNotifier struct {
	mu       sync.Mutex
	payloads []pubsub.Payload
}

func (n *recordingNotifier) Notify(chanName string, p pubsub.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, p)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, p := range n.payloads {
		out = append(out, p.Type())
	}
	return out
}

func TestRegistryIndexesConnections(t *testing.T) {
	r := NewRegistry(nil)
	c1 := &Conn{UserID: 1, DeviceName: "desktop", out: newRecordingOutbound()}
	c2 := &Conn{UserID: 1, DeviceName: "phone", out: newRecordingOutbound()}
	c3 := &Conn{UserID: 2, DeviceName: "phone", out: newRecordingOutbound()}
	id1 := r.Register(c1)
	r.Register(c2)
	r.Register(c3)

	if r.Conn(id1) != c1 {
		t.Errorf("Conn(%s) did not return the registered connection", id1)
	}
	assertNumEquals(t, len(r.ConnsForUser(1)), 2)
	assertNumEquals(t, len(r.ConnsForUser(2)), 1)
	assertNumEquals(t, len(r.ConnsForUser(99)), 0)
	if got := r.DeviceName(id1); got != "desktop" {
		t.Errorf("DeviceName: got %q want %q", got, "desktop")
	}
	assertNumEquals(t, r.NumConns(), 3)

	r.Unregister(id1)
	if r.Conn(id1) != nil {
		t.Errorf("Conn(%s) returned an unregistered connection", id1)
	}
	assertNumEquals(t, len(r.ConnsForUser(1)), 1)
	// unregistering twice is a no-op
	r.Unregister(id1)
	assertNumEquals(t, r.NumConns(), 2)
}

// A device flips offline only when its last connection unregisters, not on any
// disconnect: two windows on the same device must not fight over presence.
func TestRegistryPresenceIsRefCounted(t *testing.T) {
	notifier := &recordingNotifier{}
	r := NewRegistry(notifier)
	c1 := &Conn{UserID: 1, DeviceName: "desktop", out: newRecordingOutbound()}
	c2 := &Conn{UserID: 1, DeviceName: "desktop", out: newRecordingOutbound()}
	id1 := r.Register(c1)
	assertEqualSlices(t, "after first register", notifier.types(), []string{"device_online"})
	id2 := r.Register(c2)
	assertEqualSlices(t, "second window does not re-announce", notifier.types(), []string{"device_online"})

	r.Unregister(id1)
	assertEqualSlices(t, "one window remains, still online", notifier.types(), []string{"device_online"})
	r.Unregister(id2)
	assertEqualSlices(t, "last window gone", notifier.types(), []string{"device_online", "device_offline"})

	offline := notifier.payloads[1].(*pubsub.DeviceOffline)
	if offline.UserID != 1 || offline.DeviceName != "desktop" {
		t.Errorf("wrong offline payload: %+v", offline)
	}
}

func TestRegistryPresenceDistinctDevices(t *testing.T) {
	notifier := &recordingNotifier{}
	r := NewRegistry(notifier)
	id1 := r.Register(&Conn{UserID: 1, DeviceName: "desktop", out: newRecordingOutbound()})
	r.Register(&Conn{UserID: 1, DeviceName: "phone", out: newRecordingOutbound()})
	assertEqualSlices(t, "both devices announce", notifier.types(), []string{"device_online", "device_online"})
	r.Unregister(id1)
	assertEqualSlices(t, "desktop offline does not touch phone", notifier.types(), []string{"device_online", "device_online", "device_offline"})
}
