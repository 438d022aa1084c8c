// Package session is the single source of truth for signed-in sessions.
// Interested parties subscribe to auth state changes instead of polling.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"mailoreply.ai/platform/internal/models"
)

type Event string

const (
	SignedIn       Event = "signed_in"
	SignedOut      Event = "signed_out"
	TokenRefreshed Event = "token_refreshed"
)

type Session struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	IssuedAt  time.Time   `json:"issued_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type Listener func(Event, Session)

// Revocations shares sign-outs across instances. The Redis client satisfies it.
type Revocations interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

type Store struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	revoked   map[string]time.Time
	listeners map[int]Listener
	nextID    int
	shared    Revocations
	now       func() time.Time
}

// NewStore returns an empty store. shared may be nil.
func NewStore(shared Revocations) *Store {
	return &Store{
		sessions:  map[string]Session{},
		revoked:   map[string]time.Time{},
		listeners: map[int]Listener{},
		shared:    shared,
		now:       time.Now,
	}
}

// Subscribe registers fn for every later event and returns the function
// that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(ev Event, sess Session) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(ev, sess)
	}
}

func (s *Store) Put(sess Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.notify(SignedIn, sess)
}

// Replace swaps an old session for its refreshed successor. The old id is
// revoked on every instance until oldExpiresAt.
func (s *Store) Replace(ctx context.Context, oldID string, oldExpiresAt time.Time, next Session) error {
	s.mu.Lock()
	delete(s.sessions, oldID)
	s.revoked[oldID] = oldExpiresAt
	s.sessions[next.ID] = next
	s.mu.Unlock()

	err := s.revokeShared(ctx, oldID, oldExpiresAt)
	s.notify(TokenRefreshed, next)
	return err
}

func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || sess.Expired(s.now()) {
		return Session{}, false
	}
	return sess, true
}

// Revoke ends the session. The id stays blocked until expiresAt.
func (s *Store) Revoke(ctx context.Context, id string, expiresAt time.Time) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.revoked[id] = expiresAt
	s.mu.Unlock()

	err := s.revokeShared(ctx, id, expiresAt)
	if !ok {
		sess = Session{ID: id, ExpiresAt: expiresAt}
	}
	s.notify(SignedOut, sess)
	return err
}

func (s *Store) revokeShared(ctx context.Context, id string, expiresAt time.Time) error {
	if s.shared == nil {
		return nil
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.shared.Set(ctx, revokedKey(id), "1", ttl)
}

func (s *Store) IsRevoked(ctx context.Context, id string) bool {
	s.mu.RLock()
	_, revoked := s.revoked[id]
	s.mu.RUnlock()
	if revoked {
		return true
	}
	if s.shared == nil {
		return false
	}
	_, err := s.shared.Get(ctx, revokedKey(id))
	return err == nil
}

// Count is the number of live sessions held by this instance.
func (s *Store) Count() int {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if !sess.Expired(now) {
			n++
		}
	}
	return n
}

// Prune drops expired sessions and revocations.
func (s *Store) Prune() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
		}
	}
	for id, exp := range s.revoked {
		if !now.Before(exp) {
			delete(s.revoked, id)
		}
	}
}

func revokedKey(id string) string {
	return "session:revoked:" + id
}
