package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionsPutGetDelete(t *testing.T) {
	s := NewSessions[string](0, 0)
	k := sessionKey{Group: 1, User: 2}

	_, ok := s.Get(k)
	assert.False(t, ok)

	s.Put(k, "a")
	v, ok := s.Get(k)
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, s.Len())

	s.Put(k, "b")
	v, _ = s.Get(k)
	assert.Equal(t, "b", v)
	assert.Equal(t, 1, s.Len())

	s.Delete(k)
	_, ok = s.Get(k)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestSessionsSweepEvictsIdle(t *testing.T) {
	s := NewSessions[int](time.Minute, 0)
	s.Put(sessionKey{User: 1}, 1)
	s.Put(sessionKey{User: 2}, 2)

	// Touch one entry so only the other exceeds the idle ttl.
	_, _ = s.Get(sessionKey{User: 1})

	s.mu.Lock()
	s.entries[sessionKey{User: 2}].touched = time.Now().Add(-2 * time.Minute)
	s.mu.Unlock()

	evicted := s.sweep(time.Now())
	assert.Equal(t, 1, evicted)

	_, ok := s.Get(sessionKey{User: 1})
	assert.True(t, ok)
	_, ok = s.Get(sessionKey{User: 2})
	assert.False(t, ok)
}

func TestSessionsGetRefreshesIdleTimer(t *testing.T) {
	s := NewSessions[int](time.Minute, 0)
	k := sessionKey{User: 5}
	s.Put(k, 1)

	s.mu.Lock()
	s.entries[k].touched = time.Now().Add(-50 * time.Second)
	s.mu.Unlock()

	// A read within the ttl keeps the entry alive past its original deadline.
	_, ok := s.Get(k)
	require.True(t, ok)

	assert.Equal(t, 0, s.sweep(time.Now().Add(30*time.Second)))
	_, ok = s.Get(k)
	assert.True(t, ok)
}

func TestSessionsStopIsIdempotent(t *testing.T) {
	s := NewSessions[int](time.Minute, time.Second)
	s.Stop()
	s.Stop()
}
