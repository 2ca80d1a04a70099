// Package watch follows the video identity of a single-page watch tab and
// keeps the action control injected for the current video.
package watch

import (
	"net/url"
	"sync"
)

// SessionState is an immutable snapshot of one tab's injection bookkeeping.
// InjectedForVideoID is empty or names the video whose control is present.
type SessionState struct {
	LastSeenVideoID    string `json:"last_seen_video_id"`
	InjectedForVideoID string `json:"injected_for_video_id"`
}

// VideoID returns the "v" query parameter of href, or "" when href has no
// video identity.
func VideoID(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}

// Session hands snapshots from one operation to the next.
type Session struct {
	mu    sync.Mutex
	state SessionState
}

// Snapshot returns the current state.
func (s *Session) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Update replaces the state with fn(current) atomically and returns the new
// state.
func (s *Session) Update(fn func(SessionState) SessionState) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fn(s.state)
	return s.state
}

// Reset clears the state, as after a full document load.
func (s *Session) Reset() {
	s.Update(func(SessionState) SessionState { return SessionState{} })
}
