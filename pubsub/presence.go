package pubsub

// The channel which has device presence payloads
const ChanPresence = "presence"

// PresenceListener is the consumer side of device presence: whatever part of the app
// renders "which of my devices are online" subscribes with one of these. The hub only
// publishes transitions, it never reads them back.
type PresenceListener interface {
	OnDeviceOnline(p *DeviceOnline)
	OnDeviceOffline(p *DeviceOffline)
}

// DeviceOnline is published when the first connection for a (user, device) pair registers.
type DeviceOnline struct {
	UserID     int64
	DeviceName string
}

func (o DeviceOnline) Type() string { return "device_online" }

// DeviceOffline is published when the last connection for a (user, device) pair unregisters.
type DeviceOffline struct {
	UserID     int64
	DeviceName string
}

func (o DeviceOffline) Type() string { return "device_offline" }

type PresenceSub struct {
	listener Listener
	receiver PresenceListener
}

func NewPresenceSub(l Listener, recv PresenceListener) *PresenceSub {
	return &PresenceSub{
		listener: l,
		receiver: recv,
	}
}

func (s *PresenceSub) Teardown() {
	s.listener.Close()
}

func (s *PresenceSub) onMessage(p Payload) {
	switch pl := p.(type) {
	case *DeviceOnline:
		s.receiver.OnDeviceOnline(pl)
	case *DeviceOffline:
		s.receiver.OnDeviceOffline(pl)
	}
}

func (s *PresenceSub) Listen() error {
	return s.listener.Listen(ChanPresence, s.onMessage)
}
