package connection

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(Connection{Source: "a", Target: "b", Protocol: "envelope"}))

	c, ok := r.Resolve("a", "b")
	require.True(t, ok)
	assert.Equal(t, RequestReply, c.Pattern)
	assert.False(t, c.CreatedAt.IsZero())

	_, ok = r.Resolve("b", "a")
	assert.False(t, ok, "edges are directed")
}

func TestAddRejects(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(Connection{Source: "a", Target: "b"}))

	assert.ErrorIs(t, r.Add(Connection{Source: "a", Target: "b", Pattern: FireAndForget}), ErrExists)
	assert.ErrorIs(t, r.Add(Connection{Source: "a", Target: "a"}), ErrInvalid)
	assert.ErrorIs(t, r.Add(Connection{Source: "", Target: "a"}), ErrInvalid)
	assert.ErrorIs(t, r.Add(Connection{Source: "a", Target: "c", Pattern: "pubsub"}), ErrInvalid)
	assert.Equal(t, 1, r.Len())
}

func TestBroadcastTargets(t *testing.T) {
	r := NewRegistry()
	for _, target := range []string{"c", "b", "d"} {
		require.NoError(t, r.Add(Connection{Source: "a", Target: target}))
	}
	require.NoError(t, r.Add(Connection{Source: "x", Target: "b"}))

	assert.Equal(t, []string{"b", "c", "d"}, r.Targets("a"))
	assert.Equal(t, []string{"a", "x"}, r.Sources("b"))
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(Connection{Source: "a", Target: "b"}))

	assert.True(t, r.Remove("a", "b"))
	assert.False(t, r.Remove("a", "b"))
	require.NoError(t, r.Add(Connection{Source: "a", Target: "b"}), "pair is free again")
}

func TestRemoveEndpoint(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(Connection{Source: "a", Target: "b"}))
	require.NoError(t, r.Add(Connection{Source: "b", Target: "c"}))
	require.NoError(t, r.Add(Connection{Source: "c", Target: "a"}))

	removed := r.RemoveEndpoint("b")
	require.Len(t, removed, 2)
	assert.Equal(t, "a", removed[0].Source)
	assert.Equal(t, "b", removed[1].Source)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].Source)
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Add(Connection{Source: "hub", Target: fmt.Sprintf("t%d", i)})
		}()
		go func() {
			defer wg.Done()
			r.Resolve("hub", fmt.Sprintf("t%d", i))
			r.Targets("hub")
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}
