package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	online := r.Register("alice", "c1")
	require.Equal(t, []string{"alice"}, online)

	conn, ok := r.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, "c1", conn)

	_, ok = r.Lookup("bob")
	require.False(t, ok)
}

func TestRegisterOverwritesPreviousConnection(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")
	r.Register("alice", "c2")

	conn, ok := r.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, "c2", conn)
	require.Equal(t, 1, r.Len())

	// The overwritten handle is stale: unregistering it must not evict c2.
	identity, online, ok := r.Unregister("c1")
	require.False(t, ok)
	require.Empty(t, identity)
	require.Nil(t, online)

	conn, ok = r.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, "c2", conn)
}

func TestUnregisterReturnsUpdatedSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register("bob", "c2")
	r.Register("alice", "c1")

	identity, online, ok := r.Unregister("c1")
	require.True(t, ok)
	require.Equal(t, "alice", identity)
	require.Equal(t, []string{"bob"}, online)

	_, ok = r.Lookup("alice")
	require.False(t, ok)
}

func TestRegisterIgnoresEmptyIdentity(t *testing.T) {
	r := NewRegistry()
	r.Register("bob", "c2")

	online := r.Register("", "c9")
	require.Equal(t, []string{"bob"}, online)

	_, _, ok := r.Unregister("c9")
	require.False(t, ok)
}

func TestConnectionHandleReusedByAnotherIdentity(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "c1")
	r.Register("bob", "c1")

	_, ok := r.Lookup("alice")
	assert.False(t, ok)
	conn, ok := r.Lookup("bob")
	assert.True(t, ok)
	assert.Equal(t, "c1", conn)
}

func TestOnlineIsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("carol", "c3")
	r.Register("alice", "c1")
	r.Register("bob", "c2")

	require.Equal(t, []string{"alice", "bob", "carol"}, r.Online())
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(id int) {
			defer wg.Done()
			identity := fmt.Sprintf("user-%d", id)
			conn := fmt.Sprintf("conn-%d", id)
			r.Register(identity, conn)
			_, _ = r.Lookup(identity)
			if id%2 == 0 {
				r.Unregister(conn)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, workers/2, r.Len())
	for i := 1; i < workers; i += 2 {
		conn, ok := r.Lookup(fmt.Sprintf("user-%d", i))
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("conn-%d", i), conn)
	}
}
