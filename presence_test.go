package main

import (
	"encoding/json"
	"sync"
	"testing"
)

// fakePresence is a minimal in-process stand-in for PresenceStore's contract,
// used to exercise the join/leave reference-counting invariant without a real
// Redis instance (no redis mock library appears anywhere in the pack).
type fakePresence struct {
	mu     sync.Mutex
	counts map[string]map[string]int
	info   map[string]map[string]json.RawMessage
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		counts: make(map[string]map[string]int),
		info:   make(map[string]map[string]json.RawMessage),
	}
}

func (f *fakePresence) join(channel, userID string, userInfo json.RawMessage) (added bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.counts[channel] == nil {
		f.counts[channel] = make(map[string]int)
		f.info[channel] = make(map[string]json.RawMessage)
	}
	f.counts[channel][userID]++
	if f.counts[channel][userID] == 1 {
		f.info[channel][userID] = userInfo
		return true
	}
	return false
}

func (f *fakePresence) leave(channel, userID string) (removed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts[channel][userID]--
	if f.counts[channel][userID] <= 0 {
		delete(f.counts[channel], userID)
		delete(f.info[channel], userID)
		return true
	}
	return false
}

func (f *fakePresence) rosterCount(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.info[channel])
}

// TestPresenceDedup exercises E5: a user joining from two sockets is
// represented once, and member_removed-equivalent ("Removed") only fires on
// the last socket's departure.
func TestPresenceDedup(t *testing.T) {
	p := newFakePresence()

	if added := p.join("presence-chat", "u1", json.RawMessage(`{"n":"Alice"}`)); !added {
		t.Fatal("first join for u1 should be Added")
	}
	if added := p.join("presence-chat", "u1", json.RawMessage(`{"n":"Alice"}`)); added {
		t.Fatal("second join (second socket) for u1 should not be Added again")
	}
	if got := p.rosterCount("presence-chat"); got != 1 {
		t.Fatalf("roster count = %d, want 1", got)
	}

	if removed := p.leave("presence-chat", "u1"); removed {
		t.Fatal("first socket leaving should not be Removed while second still holds u1")
	}
	if got := p.rosterCount("presence-chat"); got != 1 {
		t.Fatalf("roster count after first leave = %d, want 1", got)
	}

	if removed := p.leave("presence-chat", "u1"); !removed {
		t.Fatal("last socket leaving should be Removed")
	}
	if got := p.rosterCount("presence-chat"); got != 0 {
		t.Fatalf("roster count after last leave = %d, want 0", got)
	}
}

func TestPresenceMultiUserRoster(t *testing.T) {
	p := newFakePresence()
	p.join("presence-chat", "u1", json.RawMessage(`{}`))
	p.join("presence-chat", "u2", json.RawMessage(`{}`))

	if got := p.rosterCount("presence-chat"); got != 2 {
		t.Fatalf("roster count = %d, want 2", got)
	}
}
