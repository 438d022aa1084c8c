package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mapRevocations map[string]string

func (m mapRevocations) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m[key] = value.(string)
	return nil
}

func (m mapRevocations) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errors.New("nil")
	}
	return v, nil
}

func TestSubscribeReceivesEvents(t *testing.T) {
	s := NewStore(nil)
	var got []Event
	unsubscribe := s.Subscribe(func(ev Event, _ Session) { got = append(got, ev) })

	exp := time.Now().Add(time.Hour)
	s.Put(Session{ID: "a", UserID: "u1", ExpiresAt: exp})
	if err := s.Replace(context.Background(), "a", exp, Session{ID: "b", UserID: "u1", ExpiresAt: exp}); err != nil {
		t.Fatal(err)
	}
	if err := s.Revoke(context.Background(), "b", exp); err != nil {
		t.Fatal(err)
	}

	want := []Event{SignedIn, TokenRefreshed, SignedOut}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	unsubscribe()
	s.Put(Session{ID: "c", ExpiresAt: exp})
	if len(got) != 3 {
		t.Fatal("unsubscribed listener still called")
	}
}

func TestRevokeIsShared(t *testing.T) {
	shared := mapRevocations{}
	a := NewStore(shared)
	b := NewStore(shared)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	a.Put(Session{ID: "tok", ExpiresAt: exp})
	if a.IsRevoked(ctx, "tok") {
		t.Fatal("fresh session should not be revoked")
	}
	if err := a.Revoke(ctx, "tok", exp); err != nil {
		t.Fatal(err)
	}
	if !a.IsRevoked(ctx, "tok") || !b.IsRevoked(ctx, "tok") {
		t.Fatal("revocation should be visible on both instances")
	}
	if _, ok := a.Get("tok"); ok {
		t.Fatal("revoked session should be gone")
	}
}

func TestReplaceRevokesOldID(t *testing.T) {
	shared := mapRevocations{}
	s := NewStore(shared)
	other := NewStore(shared)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	s.Put(Session{ID: "old", ExpiresAt: exp})
	if err := s.Replace(ctx, "old", exp, Session{ID: "new", ExpiresAt: exp.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	if !s.IsRevoked(ctx, "old") {
		t.Fatal("refreshed-away token should be revoked")
	}
	if !other.IsRevoked(ctx, "old") {
		t.Fatal("refreshed-away token should be revoked on other instances")
	}
	if other.IsRevoked(ctx, "new") {
		t.Fatal("new token must stay valid")
	}
	if _, ok := s.Get("new"); !ok {
		t.Fatal("new session missing")
	}
}

func TestReplaceRevokesUnknownOldID(t *testing.T) {
	// the old token may have been issued by another instance
	shared := mapRevocations{}
	s := NewStore(shared)
	exp := time.Now().Add(time.Hour)
	if err := s.Replace(context.Background(), "elsewhere", exp, Session{ID: "new", ExpiresAt: exp}); err != nil {
		t.Fatal(err)
	}
	if _, ok := shared[revokedKey("elsewhere")]; !ok {
		t.Fatal("old id should be revoked in the shared store")
	}
}

func TestCountAndPrune(t *testing.T) {
	s := NewStore(nil)
	now := time.Now()
	s.Put(Session{ID: "live", ExpiresAt: now.Add(time.Hour)})
	s.Put(Session{ID: "dead", ExpiresAt: now.Add(-time.Minute)})

	if s.Count() != 1 {
		t.Fatalf("Count = %d, want 1", s.Count())
	}
	s.Prune()
	s.mu.RLock()
	n := len(s.sessions)
	s.mu.RUnlock()
	if n != 1 {
		t.Fatalf("sessions after prune = %d, want 1", n)
	}
}
