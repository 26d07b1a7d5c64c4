// Package client implements the reconciliation side of synchronized playback:
// it decides, for each sync event received from the hub, whether applying it
// would create a mirror loop or fight a just-issued local action, and applies
// it with tolerance rather than exact equality.
package client

import (
	"encoding/json"
	"math"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

const (
	// DefaultSuppressionWindow is how long locally-observed state changes are
	// withheld from broadcast after joining a session or applying an event.
	DefaultSuppressionWindow = 400 * time.Millisecond
	// DefaultSeekTolerance is the playhead difference, in seconds, below which
	// an incoming seek is ignored. Correcting sub-second jitter causes audible
	// stutter.
	DefaultSeekTolerance = 1.0
	// initialStateDelay separates the authority's track_change push from its
	// transport-state push so the newcomer can load the track and seek before
	// playing.
	initialStateDelay = 100 * time.Millisecond
)

// Sync event types, mirrored from the wire protocol.
const (
	eventPlay           = "play"
	eventPause          = "pause"
	eventSeek           = "seek"
	eventTrackChange    = "track_change"
	eventPlaylistChange = "playlist_change"
)

// CommandSender pushes a sync_command to the hub. Implementations must not
// block; the controller may call this from player-watcher callbacks.
type CommandSender func(sessionID, eventType string, data json.RawMessage)

// Controller applies incoming sync events to the local player and decides which
// locally-observed state changes are genuine user actions worth broadcasting,
// as opposed to echoes of events it just applied.
type Controller struct {
	mu     sync.Mutex
	player Player
	userID int64
	send   CommandSender

	sessionID     string
	suppressUntil time.Time

	window    time.Duration
	tolerance float64

	now   func() time.Time
	after func(d time.Duration, fn func())
}

func New(player Player, userID int64, send CommandSender) *Controller {
	return &Controller{
		player:    player,
		userID:    userID,
		send:      send,
		window:    DefaultSuppressionWindow,
		tolerance: DefaultSeekTolerance,
		now:       time.Now,
		after:     func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// JoinSession attaches the controller to a session. The suppression window
// opens immediately: the initial catch-up a newcomer receives must not be
// re-broadcast as if it were local actions.
func (c *Controller) JoinSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.suppressLocked()
}

// LeaveSession detaches the controller. Subsequent local actions are no longer
// broadcast and incoming events are ignored by the caller not routing them here.
func (c *Controller) LeaveSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
}

// SessionID returns the attached session, or "".
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// HandleSyncEventFrame parses a sync_event payload off the wire and applies it.
func (c *Controller) HandleSyncEventFrame(payload []byte) {
	parsed := gjson.ParseBytes(payload)
	var data json.RawMessage
	if d := parsed.Get("data"); d.Exists() {
		data = json.RawMessage(d.Raw)
	}
	c.HandleEvent(parsed.Get("type").Str, data, parsed.Get("senderId").Int())
}

// HandleEvent applies one incoming sync event. Events from the local user are
// ignored outright: the relay already excludes the origin connection, but the
// user's other devices re-broadcasting must not bounce back either. Applied
// events open the suppression window so the local player watcher does not
// mirror them straight back out.
func (c *Controller) HandleEvent(eventType string, data json.RawMessage, senderID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if senderID == c.userID {
		return
	}
	switch eventType {
	case eventPlay:
		if c.player.IsPlaying() {
			return
		}
		c.applyPositionLocked(data)
		c.player.Play()
		c.suppressLocked()
	case eventPause:
		if !c.player.IsPlaying() {
			return
		}
		c.applyPositionLocked(data)
		c.player.Pause()
		c.suppressLocked()
	case eventSeek:
		position := gjson.GetBytes(data, "position")
		if !position.Exists() {
			return
		}
		if math.Abs(c.player.Position()-position.Float()) <= c.tolerance {
			return
		}
		c.player.SeekTo(position.Float())
		c.suppressLocked()
	case eventTrackChange:
		incomingID := gjson.GetBytes(data, "id").String()
		if incomingID != "" && incomingID == c.player.TrackID() {
			return
		}
		c.player.SetTrack(data)
		c.suppressLocked()
	case eventPlaylistChange:
		c.player.SetPlaylist(data)
		c.suppressLocked()
	default:
		logger.Warn().Str("type", eventType).Msg("ignoring unknown sync event type")
	}
}

// OnPlayerStateChange is the hook for the local player watcher: it fires for
// every state change the player observes, whether caused by the user or by an
// applied sync event. Changes inside the suppression window are swallowed,
// breaking the loop: local action -> relay -> peer applies -> peer's watcher
// fires -> suppressed. A change that is broadcast reopens the window so its own
// follow-up watcher callbacks are not broadcast again.
func (c *Controller) OnPlayerStateChange(eventType string, data json.RawMessage) {
	c.mu.Lock()
	sessionID := c.sessionID
	suppressed := c.suppressedLocked()
	if sessionID != "" && !suppressed {
		c.suppressLocked()
	}
	c.mu.Unlock()
	if sessionID == "" || suppressed {
		return
	}
	c.send(sessionID, eventType, data)
}

// HandleInitialStateRequest runs on the authority side when the hub asks it to
// catch a newcomer up: push the current track first, then the transport state
// and playhead after a short delay, so the newcomer seeks correctly before
// playing.
func (c *Controller) HandleInitialStateRequest() {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return
	}
	if track := c.player.CurrentTrack(); len(track) > 0 {
		c.send(sessionID, eventTrackChange, track)
	}
	c.after(initialStateDelay, func() {
		c.mu.Lock()
		sessionID := c.sessionID
		c.mu.Unlock()
		if sessionID == "" {
			return
		}
		data, err := sjson.SetBytes([]byte(`{}`), "position", c.player.Position())
		if err != nil {
			logger.Err(err).Msg("failed to encode transport state")
			return
		}
		eventType := eventPause
		if c.player.IsPlaying() {
			eventType = eventPlay
		}
		c.send(sessionID, eventType, data)
	})
}

// applyPositionLocked seeks to the position carried by a play/pause event, if
// any, subject to the same tolerance as explicit seeks.
func (c *Controller) applyPositionLocked(data json.RawMessage) {
	position := gjson.GetBytes(data, "position")
	if !position.Exists() {
		return
	}
	if math.Abs(c.player.Position()-position.Float()) <= c.tolerance {
		return
	}
	c.player.SeekTo(position.Float())
}

func (c *Controller) suppressLocked() {
	c.suppressUntil = c.now().Add(c.window)
}

func (c *Controller) suppressedLocked() bool {
	return c.now().Before(c.suppressUntil)
}
