package bot

import (
	"sync"
	"time"
)

// sessionKey addresses mid-dialog state: wizard sessions use both ids,
// private dialogs leave Group zero.
type sessionKey struct {
	Group int64
	User  int64
}

type sessionEntry[T any] struct {
	value   T
	touched time.Time
}

// Sessions is a TTL-bounded in-memory table for volatile dialog state.
// Idle entries are evicted by a janitor so abandoned dialogs cannot grow
// the table without bound. State here never survives a restart.
type Sessions[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[sessionKey]*sessionEntry[T]
	stop    chan struct{}
	once    sync.Once
}

// NewSessions builds a session table. A zero ttl disables eviction.
func NewSessions[T any](ttl, sweepEvery time.Duration) *Sessions[T] {
	s := &Sessions[T]{
		ttl:     ttl,
		entries: make(map[sessionKey]*sessionEntry[T]),
		stop:    make(chan struct{}),
	}
	if ttl > 0 && sweepEvery > 0 {
		go s.janitor(sweepEvery)
	}
	return s
}

// Put stores the value, replacing any previous entry for the key.
func (s *Sessions[T]) Put(k sessionKey, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[k] = &sessionEntry[T]{value: v, touched: time.Now()}
}

// Get returns the value and refreshes its idle timer.
func (s *Sessions[T]) Get(k sessionKey) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	if !ok {
		var zero T
		return zero, false
	}
	e.touched = time.Now()
	return e.value, true
}

// Delete removes the entry if present.
func (s *Sessions[T]) Delete(k sessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, k)
}

// Len reports the number of live entries.
func (s *Sessions[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop terminates the janitor.
func (s *Sessions[T]) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *Sessions[T]) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Sessions[T]) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for k, e := range s.entries {
		if now.Sub(e.touched) > s.ttl {
			delete(s.entries, k)
			evicted++
		}
	}
	return evicted
}
