package client

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

type fakePlayer struct {
	playing  bool
	position float64
	trackID  string
	track    json.RawMessage
	playlist json.RawMessage
	calls    []string
}

func (p *fakePlayer) Play()  { p.playing = true; p.calls = append(p.calls, "play") }
func (p *fakePlayer) Pause() { p.playing = false; p.calls = append(p.calls, "pause") }
func (p *fakePlayer) SeekTo(position float64) {
	p.position = position
	p.calls = append(p.calls, fmt.Sprintf("seek:%g", position))
}
func (p *fakePlayer) SetTrack(track json.RawMessage) {
	p.track = track
	p.trackID = gjson.GetBytes(track, "id").String()
	p.calls = append(p.calls, "track:"+p.trackID)
}
func (p *fakePlayer) SetPlaylist(playlist json.RawMessage) {
	p.playlist = playlist
	p.calls = append(p.calls, "playlist")
}
func (p *fakePlayer) IsPlaying() bool               { return p.playing }
func (p *fakePlayer) Position() float64             { return p.position }
func (p *fakePlayer) TrackID() string               { return p.trackID }
func (p *fakePlayer) CurrentTrack() json.RawMessage { return p.track }

type sentCommand struct {
	sessionID string
	eventType string
	data      json.RawMessage
}

type harness struct {
	player *fakePlayer
	ctrl   *Controller
	sent   []sentCommand
	clock  time.Time
	// deferred holds callbacks scheduled by the controller's delay hook
	deferred []func()
}

func newHarness() *harness {
	h := &harness{
		player: &fakePlayer{},
		clock:  time.Unix(1700000000, 0),
	}
	h.ctrl = New(h.player, 1, func(sessionID, eventType string, data json.RawMessage) {
		h.sent = append(h.sent, sentCommand{sessionID, eventType, data})
	})
	h.ctrl.now = func() time.Time { return h.clock }
	h.ctrl.after = func(d time.Duration, fn func()) { h.deferred = append(h.deferred, fn) }
	return h
}

func (h *harness) advance(d time.Duration) { h.clock = h.clock.Add(d) }

func (h *harness) runDeferred() {
	for _, fn := range h.deferred {
		fn()
	}
	h.deferred = nil
}

func TestIgnoresOwnEcho(t *testing.T) {
	// defense in depth: even though the relay excludes the origin, an event
	// tagged with the local user must never be applied (another of the user's
	// own devices could re-broadcast it)
	h := newHarness()
	h.ctrl.JoinSession("s1")
	h.ctrl.HandleEvent("play", nil, 1)
	if h.player.playing {
		t.Errorf("applied an event from the local user")
	}
}

func TestPlayPauseAreIdempotent(t *testing.T) {
	h := newHarness()
	h.ctrl.JoinSession("s1")

	h.ctrl.HandleEvent("play", nil, 2)
	if !h.player.playing {
		t.Fatalf("play was not applied")
	}
	h.ctrl.HandleEvent("play", nil, 2)
	assertCalls(t, h.player, "play")

	h.ctrl.HandleEvent("pause", nil, 2)
	h.ctrl.HandleEvent("pause", nil, 2)
	assertCalls(t, h.player, "play", "pause")
}

func TestSeekTolerance(t *testing.T) {
	h := newHarness()
	h.ctrl.JoinSession("s1")
	h.player.position = 10.0

	// sub-second jitter is not corrected
	h.ctrl.HandleEvent("seek", []byte(`{"position":10.5}`), 2)
	h.ctrl.HandleEvent("seek", []byte(`{"position":9.2}`), 2)
	assertCalls(t, h.player)

	// a real deviation is applied exactly once
	h.ctrl.HandleEvent("seek", []byte(`{"position":12.5}`), 2)
	assertCalls(t, h.player, "seek:12.5")
	h.ctrl.HandleEvent("seek", []byte(`{"position":12.5}`), 2)
	assertCalls(t, h.player, "seek:12.5")
}

func TestTrackChangeOnlyOnDifferentTrack(t *testing.T) {
	h := newHarness()
	h.ctrl.JoinSession("s1")
	h.player.trackID = "t1"

	h.ctrl.HandleEvent("track_change", []byte(`{"id":"t1","title":"same"}`), 2)
	assertCalls(t, h.player)

	h.ctrl.HandleEvent("track_change", []byte(`{"id":"t2","title":"other"}`), 2)
	assertCalls(t, h.player, "track:t2")
}

func TestPlayAppliesCarriedPosition(t *testing.T) {
	// the initial-state handoff carries the authority's playhead with the
	// transport state so the newcomer seeks before playing
	h := newHarness()
	h.ctrl.JoinSession("s1")
	h.player.position = 0

	h.ctrl.HandleEvent("play", []byte(`{"position":63.2}`), 2)
	assertCalls(t, h.player, "seek:63.2", "play")
}

func TestSuppressionAfterJoin(t *testing.T) {
	h := newHarness()
	h.ctrl.JoinSession("s1")

	// the initial catch-up lands inside the window and is not re-broadcast
	h.ctrl.OnPlayerStateChange("play", nil)
	if len(h.sent) != 0 {
		t.Fatalf("state change inside the suppression window was broadcast: %+v", h.sent)
	}

	h.advance(DefaultSuppressionWindow + time.Millisecond)
	h.ctrl.OnPlayerStateChange("pause", nil)
	if len(h.sent) != 1 || h.sent[0].eventType != "pause" || h.sent[0].sessionID != "s1" {
		t.Fatalf("state change outside the window was not broadcast: %+v", h.sent)
	}
}

func TestAppliedEventIsNotMirroredBack(t *testing.T) {
	h := newHarness()
	h.ctrl.JoinSession("s1")
	h.advance(DefaultSuppressionWindow + time.Millisecond)

	// a remote play arrives and is applied; the local watcher then observes
	// the change and fires, which must not re-broadcast
	h.ctrl.HandleEvent("play", nil, 2)
	h.ctrl.OnPlayerStateChange("play", nil)
	if len(h.sent) != 0 {
		t.Fatalf("applied remote event was mirrored back out: %+v", h.sent)
	}
}

func TestBroadcastReopensWindow(t *testing.T) {
	h := newHarness()
	h.ctrl.JoinSession("s1")
	h.advance(DefaultSuppressionWindow + time.Millisecond)

	h.ctrl.OnPlayerStateChange("play", nil)
	if len(h.sent) != 1 {
		t.Fatalf("genuine local action was not broadcast")
	}
	// the action's own follow-up watcher callbacks land inside the new window
	h.ctrl.OnPlayerStateChange("seek", []byte(`{"position":1}`))
	if len(h.sent) != 1 {
		t.Fatalf("echo of the just-broadcast action was re-broadcast: %+v", h.sent)
	}
}

func TestNoBroadcastOutsideSession(t *testing.T) {
	h := newHarness()
	h.advance(DefaultSuppressionWindow + time.Millisecond)
	h.ctrl.OnPlayerStateChange("play", nil)
	if len(h.sent) != 0 {
		t.Fatalf("broadcast while not in a session: %+v", h.sent)
	}
	h.ctrl.JoinSession("s1")
	h.ctrl.LeaveSession()
	h.advance(DefaultSuppressionWindow + time.Millisecond)
	h.ctrl.OnPlayerStateChange("play", nil)
	if len(h.sent) != 0 {
		t.Fatalf("broadcast after leaving the session: %+v", h.sent)
	}
}

func TestInitialStatePushOrder(t *testing.T) {
	h := newHarness()
	h.ctrl.JoinSession("s1")
	h.player.track = json.RawMessage(`{"id":"t9","title":"Current"}`)
	h.player.trackID = "t9"
	h.player.playing = true
	h.player.position = 42.5

	h.ctrl.HandleInitialStateRequest()
	// the track goes out immediately, transport state only after the delay
	if len(h.sent) != 1 || h.sent[0].eventType != "track_change" {
		t.Fatalf("expected an immediate track_change, got %+v", h.sent)
	}
	h.runDeferred()
	if len(h.sent) != 2 || h.sent[1].eventType != "play" {
		t.Fatalf("expected a delayed play, got %+v", h.sent)
	}
	if pos := gjson.GetBytes(h.sent[1].data, "position").Float(); pos != 42.5 {
		t.Errorf("transport state position: got %v want 42.5", pos)
	}
}

func TestInitialStatePushesPauseWhenStopped(t *testing.T) {
	h := newHarness()
	h.ctrl.JoinSession("s1")
	h.player.track = json.RawMessage(`{"id":"t9"}`)
	h.player.playing = false

	h.ctrl.HandleInitialStateRequest()
	h.runDeferred()
	if len(h.sent) != 2 || h.sent[1].eventType != "pause" {
		t.Fatalf("expected a delayed pause, got %+v", h.sent)
	}
}

func TestHandleSyncEventFrame(t *testing.T) {
	h := newHarness()
	h.ctrl.JoinSession("s1")
	h.ctrl.HandleSyncEventFrame([]byte(`{"type":"seek","data":{"position":99},"senderId":2}`))
	assertCalls(t, h.player, "seek:99")
}

func assertCalls(t *testing.T, p *fakePlayer, want ...string) {
	t.Helper()
	if len(p.calls) != len(want) {
		t.Fatalf("player calls: got %v want %v", p.calls, want)
	}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Errorf("player call %d: got %q want %q", i, p.calls[i], want[i])
		}
	}
}
