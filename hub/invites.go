package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// InviteRequest is the ephemeral record of a proposed shared session. It exists
// only until the target accepts or rejects, or until the TTL expires.
type InviteRequest struct {
	SessionID      string
	FromUserID     int64
	FromConnID     string
	FromDeviceName string
	TargetUserID   int64
	CurrentTrack   json.RawMessage
	Playlist       json.RawMessage
	Progress       *float64
	CreatedAt      time.Time
}

// InviteStore holds pending invites keyed by (inviter, target) user pair. An
// invite that is never answered expires after the configured TTL; the expiry
// callback lets the hub tell the inviter instead of leaving their UI waiting
// forever.
type InviteStore struct {
	cache   *ttlcache.Cache[string, *InviteRequest]
	started bool
}

func inviteKey(fromUserID, targetUserID int64) string {
	return fmt.Sprintf("%d/%d", fromUserID, targetUserID)
}

// NewInviteStore creates the store. onExpire fires only for TTL expiry, not for
// invites consumed by Take. A zero ttl disables expiry.
func NewInviteStore(ttl time.Duration, onExpire func(invite *InviteRequest)) *InviteStore {
	opts := []ttlcache.Option[string, *InviteRequest]{
		ttlcache.WithDisableTouchOnHit[string, *InviteRequest](),
	}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, *InviteRequest](ttl))
	}
	cache := ttlcache.New[string, *InviteRequest](opts...)
	if onExpire != nil {
		cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *InviteRequest]) {
			if reason == ttlcache.EvictionReasonExpired {
				onExpire(item.Value())
			}
		})
	}
	s := &InviteStore{cache: cache}
	if ttl > 0 {
		// the cleanup worker is what fires expiry callbacks
		s.started = true
		go cache.Start()
	}
	return s
}

// Put records a pending invite, replacing any earlier invite for the same
// (inviter, target) pair. A retried invite restarts the TTL.
func (s *InviteStore) Put(invite *InviteRequest) {
	s.cache.Set(inviteKey(invite.FromUserID, invite.TargetUserID), invite, ttlcache.DefaultTTL)
}

// Take removes and returns the pending invite for this pair, or nil. The removal
// does not count as an expiry.
func (s *InviteStore) Take(fromUserID, targetUserID int64) *InviteRequest {
	key := inviteKey(fromUserID, targetUserID)
	item := s.cache.Get(key)
	if item == nil {
		return nil
	}
	s.cache.Delete(key)
	return item.Value()
}

// Stop halts the cleanup worker. Only valid to call once.
func (s *InviteStore) Stop() {
	if s.started {
		s.cache.Stop()
	}
}
