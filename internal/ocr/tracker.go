package ocr

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL is how long an unconsumed correlation token survives
// before the sweep removes it. Covers engine failures and abandoned
// uploads without unbounded growth.
const DefaultTokenTTL = 15 * time.Minute

const sweepInterval = time.Minute

type tokenRecord struct {
	owner     string
	createdAt time.Time
}

// Tracker mints correlation tokens binding one upload to one eventual
// engine callback. A token resolves to exactly one owner and is
// consumable at most once; consumption is a single lock-held
// check-and-delete, never a check-then-act pair.
type Tracker struct {
	mu     sync.Mutex
	tokens map[string]tokenRecord
	ttl    time.Duration

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// NewTracker creates a tracker whose tokens expire after ttl (or
// DefaultTokenTTL when ttl <= 0) and starts the background sweep.
// Call Close to stop the sweeper.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	t := &Tracker{
		tokens:    make(map[string]tokenRecord),
		ttl:       ttl,
		stopSweep: make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// Issue mints a new unpredictable token bound to owner.
func (t *Tracker) Issue(owner string) string {
	id := uuid.NewString()

	t.mu.Lock()
	t.tokens[id] = tokenRecord{owner: owner, createdAt: time.Now()}
	t.mu.Unlock()

	return id
}

// Resolve returns the owner bound to tokenID without consuming it.
// Unknown, consumed and expired tokens all yield ErrTokenNotFound.
func (t *Tracker) Resolve(tokenID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.tokens[tokenID]
	if !ok {
		return "", ErrTokenNotFound
	}
	if time.Since(rec.createdAt) > t.ttl {
		delete(t.tokens, tokenID)
		return "", ErrTokenNotFound
	}
	return rec.owner, nil
}

// Consume atomically removes a live token and returns its owner.
// Of any number of concurrent Consume calls for the same token, exactly
// one succeeds; the rest observe ErrTokenNotFound.
func (t *Tracker) Consume(tokenID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.tokens[tokenID]
	if !ok {
		return "", ErrTokenNotFound
	}
	delete(t.tokens, tokenID)
	if time.Since(rec.createdAt) > t.ttl {
		return "", ErrTokenNotFound
	}
	return rec.owner, nil
}

// Len returns the number of live tokens.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tokens)
}

// Close stops the background sweep. Safe to call more than once.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() {
		close(t.stopSweep)
	})
}

func (t *Tracker) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := t.sweepExpired(); removed > 0 {
				slog.Debug("Swept expired correlation tokens", "removed", removed)
			}
		case <-t.stopSweep:
			return
		}
	}
}

func (t *Tracker) sweepExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.ttl)
	removed := 0
	for id, rec := range t.tokens {
		if rec.createdAt.Before(cutoff) {
			delete(t.tokens, id)
			removed++
		}
	}
	return removed
}
