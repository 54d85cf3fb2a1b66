package sinks

import (
	"sync"
	"time"
)

// position is the last known segment of a live session and when it became
// active.
type position struct {
	segment int
	since   time.Time
}

// sessionTracker remembers live sessions across batches.
type sessionTracker struct {
	mu   sync.Mutex
	live map[[16]byte]position
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{live: make(map[[16]byte]position)}
}

// start records id at segment 0 and reports whether it was not yet live.
func (t *sessionTracker) start(id [16]byte, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.live[id]
	t.live[id] = position{since: at}
	return !ok
}

// move records a new active segment and returns the previous position.
func (t *sessionTracker) move(id [16]byte, segment int, at time.Time) (position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.live[id]
	t.live[id] = position{segment: segment, since: at}
	return prev, ok
}

// finish forgets id and returns its last position.
func (t *sessionTracker) finish(id [16]byte) (position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.live[id]
	if ok {
		delete(t.live, id)
	}
	return prev, ok
}

func (t *sessionTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}
