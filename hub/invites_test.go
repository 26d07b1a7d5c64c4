package hub

import (
	"sync"
	"testing"
	"time"
)

func TestInviteStorePutTake(t *testing.T) {
	s := NewInviteStore(0, nil)
	defer s.Stop()
	s.Put(&InviteRequest{SessionID: "s1", FromUserID: 1, TargetUserID: 2})
	s.Put(&InviteRequest{SessionID: "s2", FromUserID: 1, TargetUserID: 3})

	invite := s.Take(1, 2)
	if invite == nil || invite.SessionID != "s1" {
		t.Fatalf("Take(1,2): got %+v want session s1", invite)
	}
	if s.Take(1, 2) != nil {
		t.Errorf("Take consumed the invite but it is still there")
	}
	if s.Take(2, 1) != nil {
		t.Errorf("Take matched a reversed (inviter, target) pair")
	}
	if s.Take(1, 3) == nil {
		t.Errorf("unrelated invite was lost")
	}
}

func TestInviteStoreRetryReplaces(t *testing.T) {
	s := NewInviteStore(0, nil)
	defer s.Stop()
	s.Put(&InviteRequest{SessionID: "old", FromUserID: 1, TargetUserID: 2})
	s.Put(&InviteRequest{SessionID: "new", FromUserID: 1, TargetUserID: 2})
	invite := s.Take(1, 2)
	if invite == nil || invite.SessionID != "new" {
		t.Fatalf("retried invite did not replace the old one: %+v", invite)
	}
}

func TestInviteStoreExpiry(t *testing.T) {
	var mu sync.Mutex
	var expired []*InviteRequest
	s := NewInviteStore(10*time.Millisecond, func(invite *InviteRequest) {
		mu.Lock()
		defer mu.Unlock()
		expired = append(expired, invite)
	})
	defer s.Stop()

	s.Put(&InviteRequest{SessionID: "s1", FromUserID: 1, TargetUserID: 2})
	s.Put(&InviteRequest{SessionID: "s1", FromUserID: 1, TargetUserID: 3})
	// answering one invite must not count as expiry
	s.Take(1, 3)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 {
		t.Fatalf("expiry callbacks: got %d want 1 (%+v)", len(expired), expired)
	}
	if expired[0].TargetUserID != 2 {
		t.Errorf("wrong invite expired: %+v", expired[0])
	}
}
