package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-tcp/api"
)

func newTestExecutor(t *testing.T, workers, depth int) *Executor {
	t.Helper()
	e := NewExecutor(&Config{Workers: workers, QueueDepth: depth}, zerolog.Nop())
	t.Cleanup(e.Close)
	return e
}

func TestExecutor_PreThenPost(t *testing.T) {
	e := newTestExecutor(t, 2, 16)

	var order []string
	var mu sync.Mutex
	done := make(chan struct{})
	ok := e.Submit(api.Task{
		Tag: "ordered",
		Pre: func() {
			mu.Lock()
			order = append(order, "pre")
			mu.Unlock()
		},
		Post: func() {
			mu.Lock()
			order = append(order, "post")
			mu.Unlock()
			close(done)
		},
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pre", "post"}, order)
}

func TestExecutor_PostRunsAfterPrePanic(t *testing.T) {
	e := newTestExecutor(t, 1, 16)

	done := make(chan struct{})
	require.True(t, e.Submit(api.Task{
		Tag:  "panicky",
		Pre:  func() { panic("boom") },
		Post: func() { close(done) },
	}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("post did not run after pre panic")
	}
	assert.Eventually(t, func() bool { return e.Stats()["panics"] == 1 }, time.Second, time.Millisecond)
}

func TestExecutor_SameKeyIsFIFO(t *testing.T) {
	e := newTestExecutor(t, 4, 4096)

	const n = 1000
	var got []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		require.True(t, e.Submit(api.Task{
			Key: 7,
			Pre: func() {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			},
			Post: wg.Done,
		}))
	}
	wg.Wait()
	for i := range got {
		require.Equal(t, i, got[i])
	}
}

func TestExecutor_RejectsWhenFull(t *testing.T) {
	e := newTestExecutor(t, 1, 2)

	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, e.Submit(api.Task{Key: 1, Pre: func() { close(started); <-block }}))
	<-started

	require.True(t, e.Submit(api.Task{Key: 1}))
	require.True(t, e.Submit(api.Task{Key: 1}))

	var ran atomic.Bool
	assert.False(t, e.Submit(api.Task{Key: 1, Pre: func() { ran.Store(true) }, Post: func() { ran.Store(true) }}))
	close(block)

	assert.Eventually(t, func() bool { return e.Pending() == 0 }, 2*time.Second, time.Millisecond)
	assert.False(t, ran.Load())
	assert.EqualValues(t, 1, e.Stats()["rejected_tasks"])
}

func TestExecutor_CloseDrainsAccepted(t *testing.T) {
	e := NewExecutor(&Config{Workers: 2, QueueDepth: 128}, zerolog.Nop())

	var posts atomic.Int64
	for i := 0; i < 100; i++ {
		require.True(t, e.Submit(api.Task{Key: uint64(i + 1), Post: func() { posts.Add(1) }}))
	}
	e.Close()
	assert.EqualValues(t, 100, posts.Load())
	assert.False(t, e.Submit(api.Task{}))
	e.Close()
}
