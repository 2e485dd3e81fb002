package session

import (
	"sync"
	"time"

	"crewdesk.app/internal/obs"
)

// Store owns the Session value. Transitions are applied atomically under
// one mutex, so no observer ever sees a partially-applied state.
type Store struct {
	mu   sync.RWMutex
	cur  Session
	subs map[int]chan Session
	next int
}

// NewStore returns an unauthenticated store.
func NewStore() *Store {
	return &Store{subs: make(map[int]chan Session)}
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// SetAuthenticated transitions to a fully authenticated session.
func (s *Store) SetAuthenticated(user *UserProfile, token string, expiresAt time.Time) {
	s.mu.Lock()
	s.cur = Session{
		Authenticated: true,
		User:          user,
		Token:         token,
		ExpiresAt:     expiresAt,
	}
	obs.SetSessionAuthenticated(true)
	s.publishLocked()
	s.mu.Unlock()
}

// SetToken replaces the token and expiry after a refresh, leaving the user
// untouched. It is a no-op on an unauthenticated session: there is no
// token to rotate and accepting one would break the invariant.
func (s *Store) SetToken(token string, expiresAt time.Time) {
	s.mu.Lock()
	if s.cur.Authenticated {
		s.cur.Token = token
		s.cur.ExpiresAt = expiresAt
		s.cur.Err = ""
		s.publishLocked()
	}
	s.mu.Unlock()
}

// SetLoading toggles the loading flag.
func (s *Store) SetLoading(on bool) {
	s.mu.Lock()
	s.cur.Loading = on
	s.publishLocked()
	s.mu.Unlock()
}

// SetError records a user-facing error message; an empty string clears it.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.cur.Err = msg
	s.publishLocked()
	s.mu.Unlock()
}

// Clear resets to the unauthenticated state. Used on logout and on forced
// logout after a rejected refresh.
func (s *Store) Clear() {
	s.mu.Lock()
	s.cur = Session{}
	obs.SetSessionAuthenticated(false)
	s.publishLocked()
	s.mu.Unlock()
}

// Watch subscribes to state changes. Each transition is delivered as a
// snapshot on the returned channel; slow consumers drop intermediate
// states rather than blocking transitions. The cancel func must be called
// on teardown.
func (s *Store) Watch() (<-chan Session, func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	ch := make(chan Session, 8)
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) publishLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- s.cur:
		default:
		}
	}
}
