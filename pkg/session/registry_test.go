package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pilot/pkg/engine/enginetest"
)

func newWebSession(t *testing.T, id string) *Session {
	t.Helper()
	ctx := enginetest.NewContext()
	return New(id, KindWeb, ctx, ctx.Page(0), &WebExt{Browser: "chromium"})
}

func TestRegistry_CreateGet(t *testing.T) {
	r := NewRegistry()
	s := newWebSession(t, "s1")
	r.Create(s)

	got, err := r.Get("s1")
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")

	var notFound *SessionNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "missing", notFound.ID)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Create(newWebSession(t, "s1"))

	r.Remove("s1")
	r.Remove("s1")
	r.Remove("never-existed")

	_, err := r.Get("s1")
	assert.Error(t, err)
	assert.True(t, r.WasRemoved("s1"))
	assert.False(t, r.WasRemoved("never-existed"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DuplicateIDPanics(t *testing.T) {
	r := NewRegistry()
	r.Create(newWebSession(t, "dup"))

	assert.Panics(t, func() { r.Create(newWebSession(t, "dup")) })
}

func TestRegistry_ReusedIDPanics(t *testing.T) {
	r := NewRegistry()
	r.Create(newWebSession(t, "old"))
	r.Remove("old")

	assert.Panics(t, func() { r.Create(newWebSession(t, "old")) })
}

func TestRegistry_ListAndDrain(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		r.Create(newWebSession(t, fmt.Sprintf("s%d", i)))
	}

	listed := r.List()
	require.Len(t, listed, 3)

	drained := r.Drain()
	assert.Len(t, drained, 3)
	assert.Equal(t, 0, r.Len())
	for _, s := range drained {
		assert.True(t, r.WasRemoved(s.ID))
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			r.Create(newWebSession(t, id))
			_, err := r.Get(id)
			assert.NoError(t, err)
			r.Remove(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
