package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInsertRemove(t *testing.T) {
	r := NewRegistry()
	s := New("CA123", "MZ123", "+15550001111")

	require.True(t, r.Insert(s))
	assert.False(t, r.Insert(s), "duplicate insert must be rejected")
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("CA123")
	require.True(t, ok)
	assert.Equal(t, s.DialogueSessionID, got.DialogueSessionID)

	assert.True(t, r.Remove("CA123"))
	assert.False(t, r.Remove("CA123"), "second remove is a no-op")

	_, ok = r.Get("CA123")
	assert.False(t, ok)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := fmt.Sprintf("CA%03d", i)
			s := New(sid, "MZ"+sid, "+15550000000")
			r.Insert(s)
			r.Get(sid)
			r.Remove(sid)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}

func TestSessionStateAndDeactivate(t *testing.T) {
	s := New("CA1", "MZ1", "caller")

	assert.Equal(t, StateListening, s.State())
	s.SetState(StateThinking)
	assert.Equal(t, StateThinking, s.State())

	assert.True(t, s.Active())
	assert.True(t, s.Deactivate())
	assert.False(t, s.Deactivate(), "deactivate is one-shot")
	assert.False(t, s.Active())
}
