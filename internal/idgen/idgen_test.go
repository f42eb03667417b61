package idgen_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"browserd/internal/idgen"
)

func TestAllocateLengthAndAlphabet(t *testing.T) {
	id, err := idgen.Allocate(nil)
	require.NoError(t, err)
	require.Len(t, id, 8)
	for _, r := range id {
		require.True(t, (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}
}

func TestAllocateRetriesOnCollision(t *testing.T) {
	calls := 0
	existing := func(id string) bool {
		calls++
		return calls <= 2 // force two collisions before accepting
	}
	id, err := idgen.Allocate(existing)
	require.NoError(t, err)
	require.Len(t, id, 8)
	require.Equal(t, 3, calls)
}

func TestAllocateNeverCollidesAmongMany(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]struct{})
	existing := func(id string) bool {
		mu.Lock()
		defer mu.Unlock()
		_, ok := seen[id]
		return ok
	}

	var wg sync.WaitGroup
	ids := make(chan string, 500)
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := idgen.Allocate(existing)
			require.NoError(t, err)
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	unique := make(map[string]struct{})
	for id := range ids {
		_, dup := unique[id]
		require.False(t, dup, "duplicate id %s", id)
		unique[id] = struct{}{}
	}
	require.Len(t, unique, 500)
}
