// Package identity resolves the calling user from an opaque session
// identifier. Credential verification is deliberately out of scope:
// callers provision a user (via storage) and ask for a session.
package identity

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL bounds how long an idle session survives.
const DefaultSessionTTL = 24 * time.Hour

const cleanupInterval = 10 * time.Minute

// ErrSessionNotFound means the session id is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// Session binds an opaque id to a user. The id doubles as the owner
// identity for the receipt pipeline, so results reach exactly the
// browser session that uploaded the image.
type Session struct {
	ID        string
	UserID    int64
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is an in-memory session store with TTL eviction. Lifecycle is
// tied to the server process; Close stops the cleanup goroutine.
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session
	ttl      time.Duration

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &Store{
		sessions:    make(map[string]Session),
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Create mints a session for the given user.
func (s *Store) Create(userID int64, username string) Session {
	now := time.Now()
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess
}

// Resolve returns the session for id, or ErrSessionNotFound when the
// id is unknown or past its expiry.
func (s *Store) Resolve(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if time.Now().After(sess.ExpiresAt) {
		delete(s.sessions, id)
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// Delete removes the session for id, if present.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
