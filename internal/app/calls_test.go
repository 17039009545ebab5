package app

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Dial/internal/domain"
)

func TestCallRegistryStartKeysBothParties(t *testing.T) {
	r := NewCallRegistry()

	call, err := r.Start("alice", "bob", domain.CallAudio)
	require.NoError(t, err)
	assert.Equal(t, domain.CallRinging, call.Status)

	forCaller, ok := r.ForUser("alice")
	require.True(t, ok)
	forReceiver, ok := r.ForUser("bob")
	require.True(t, ok)
	// Same logical record, shared by identity.
	assert.Same(t, forCaller, forReceiver)
}

func TestCallRegistryBusyGuard(t *testing.T) {
	r := NewCallRegistry()
	_, err := r.Start("alice", "bob", domain.CallAudio)
	require.NoError(t, err)

	// Receiver busy.
	_, err = r.Start("carol", "bob", domain.CallVideo)
	assert.ErrorIs(t, err, domain.ErrBusy)
	// Caller busy.
	_, err = r.Start("alice", "carol", domain.CallVideo)
	assert.ErrorIs(t, err, domain.ErrBusy)

	// The original record is untouched.
	call, ok := r.ForPair("alice", "bob")
	require.True(t, ok)
	assert.Equal(t, domain.CallRinging, call.Status)
	assert.Equal(t, 2, r.Len())
}

func TestCallRegistryAcceptIsIdempotent(t *testing.T) {
	r := NewCallRegistry()
	_, err := r.Start("alice", "bob", domain.CallAudio)
	require.NoError(t, err)

	call, flipped, err := r.Accept("alice", "bob")
	require.NoError(t, err)
	assert.True(t, flipped)
	assert.Equal(t, domain.CallActive, call.Status)
	assert.False(t, call.AnsweredAt.IsZero())

	answeredAt := call.AnsweredAt
	_, flipped, err = r.Accept("alice", "bob")
	require.NoError(t, err)
	assert.False(t, flipped, "second accept must not flip again")
	assert.Equal(t, answeredAt, call.AnsweredAt)
}

func TestCallRegistryAcceptUnknownPair(t *testing.T) {
	r := NewCallRegistry()
	_, _, err := r.Accept("alice", "bob")
	assert.ErrorIs(t, err, domain.ErrNoCall)
}

func TestCallRegistryRemoveClearsBothKeys(t *testing.T) {
	r := NewCallRegistry()
	call, err := r.Start("alice", "bob", domain.CallAudio)
	require.NoError(t, err)

	assert.True(t, r.Remove(call, domain.CallEnded))
	_, ok := r.ForUser("alice")
	assert.False(t, ok)
	_, ok = r.ForUser("bob")
	assert.False(t, ok)
	assert.Equal(t, domain.CallEnded, call.Status)

	// Second remove from another teardown trigger is a no-op.
	assert.False(t, r.Remove(call, domain.CallEnded))
}

func TestCallRegistryRemoveIfRinging(t *testing.T) {
	r := NewCallRegistry()
	ringing, err := r.Start("alice", "bob", domain.CallAudio)
	require.NoError(t, err)

	assert.True(t, r.RemoveIfRinging(ringing))
	assert.Equal(t, domain.CallFailed, ringing.Status)
	assert.Equal(t, 0, r.Len())

	// An accepted record refuses the conditional remove.
	active, err := r.Start("alice", "bob", domain.CallAudio)
	require.NoError(t, err)
	_, flipped, err := r.Accept("alice", "bob")
	require.NoError(t, err)
	require.True(t, flipped)

	assert.False(t, r.RemoveIfRinging(active))
	got, ok := r.ForUser("alice")
	require.True(t, ok)
	assert.Equal(t, domain.CallActive, got.Status)
}

// TestCallRegistryAtMostOneLiveRecord hammers the registry with random
// interleavings of start/accept/remove from many goroutines and checks
// the per-user uniqueness invariant after every operation.
func TestCallRegistryAtMostOneLiveRecord(t *testing.T) {
	r := NewCallRegistry()
	users := []domain.UserID{"u1", "u2", "u3", "u4", "u5", "u6"}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				a := users[rng.Intn(len(users))]
				b := users[rng.Intn(len(users))]
				if a == b {
					continue
				}
				switch rng.Intn(3) {
				case 0:
					_, _ = r.Start(a, b, domain.CallAudio)
				case 1:
					_, _, _ = r.Accept(a, b)
				case 2:
					if c, ok := r.ForPair(a, b); ok {
						r.Remove(c, domain.CallEnded)
					}
				}
			}
		}(int64(g))
	}
	wg.Wait()

	// Every remaining record must be live and keyed under exactly its two
	// parties; verify consistency both ways.
	seen := map[domain.UserID]*domain.Call{}
	for _, u := range users {
		if c, ok := r.ForUser(u); ok {
			require.True(t, c.Live())
			require.True(t, c.Involves(u))
			seen[u] = c
		}
	}
	for u, c := range seen {
		other := c.Other(u)
		got, ok := r.ForUser(other)
		require.True(t, ok, "record must exist under both keys")
		require.Same(t, c, got)
	}
}
