package pool_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-tcp/pool"
)

func TestFreeList_LIFO(t *testing.T) {
	var f pool.FreeList[int]
	_, ok := f.Pop()
	require.False(t, ok)

	f.Push(1)
	f.Push(2)
	f.Push(3)
	assert.Equal(t, 3, f.Len())

	v, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	assert.Equal(t, []int{2, 1}, f.PopAll())
	assert.Equal(t, 0, f.Len())
	assert.Nil(t, f.PopAll())
}

// Every value pushed is popped exactly once across concurrent pushers/poppers.
func TestFreeList_ConcurrentConservation(t *testing.T) {
	const (
		workers = 8
		rounds  = 5000
		seed    = 64
	)
	var f pool.FreeList[*int]
	all := make([]*int, seed)
	for i := range all {
		v := i
		all[i] = &v
		f.Push(&v)
	}

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < rounds; i++ {
				if v, ok := f.Pop(); ok {
					f.Push(v)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got := f.PopAll()
	require.Len(t, got, seed)
	seen := make(map[*int]bool, seed)
	for _, v := range got {
		require.False(t, seen[v], "value popped twice")
		seen[v] = true
	}
	for _, v := range all {
		assert.True(t, seen[v])
	}
}

func TestFreeList_PopAllRacesPush(t *testing.T) {
	var f pool.FreeList[int]
	var wg sync.WaitGroup
	total := 0
	var mu sync.Mutex

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			f.Push(i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			n := len(f.PopAll())
			mu.Lock()
			total += n
			mu.Unlock()
		}
	}()
	wg.Wait()
	total += len(f.PopAll())
	assert.Equal(t, 10000, total)
}

func TestBytePool_GetPut(t *testing.T) {
	p := pool.NewBytePool(512)
	b := p.Get()
	require.Len(t, b, 512)
	assert.EqualValues(t, 1, p.InUse())
	p.Put(b[:10])
	assert.EqualValues(t, 0, p.InUse())
	p.Put(make([]byte, 8))
	assert.EqualValues(t, 0, p.InUse())
}
