package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Submit(t *testing.T) {
	t.Parallel()
	p := New(4)
	defer p.Close()

	var counter atomic.Int64
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		require.True(t, p.Submit(func() {
			defer wg.Done()
			counter.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int64(100), counter.Load())
}

func TestPool_HardBound(t *testing.T) {
	t.Parallel()
	p := New(3)

	var wg sync.WaitGroup
	for range 30 {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			time.Sleep(5 * time.Millisecond)
		})
	}
	wg.Wait()
	p.Close()

	assert.LessOrEqual(t, p.Peak(), 3)
	assert.LessOrEqual(t, int(p.running.Load()), 3)
}

func TestPool_ExtraTasksQueue(t *testing.T) {
	t.Parallel()
	p := New(2)
	defer p.Close()

	blocker := make(chan struct{})
	var started atomic.Int32
	for range 5 {
		p.Submit(func() {
			started.Add(1)
			<-blocker
		})
	}

	assert.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return started.Load() > 2 }, 20*time.Millisecond, time.Millisecond)
	assert.Equal(t, 2, p.Peak())
	close(blocker)
	assert.Eventually(t, func() bool { return started.Load() == 5 }, time.Second, time.Millisecond)
}

func TestPool_CloseRunsQueued(t *testing.T) {
	t.Parallel()
	p := New(1)
	var counter atomic.Int32
	for range 10 {
		p.Submit(func() { counter.Add(1) })
	}
	p.Close()
	assert.Equal(t, int32(10), counter.Load())
}

func TestPool_SubmitAfterClose(t *testing.T) {
	t.Parallel()
	p := New(2)
	p.Close()
	assert.False(t, p.Submit(func() {}))
	assert.NotPanics(t, p.Close, "double close")
}

func TestPool_ConcurrentSubmitAndClose(t *testing.T) {
	t.Parallel()
	p := New(4)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				p.Submit(func() {})
			}
		}()
	}
	time.Sleep(time.Millisecond)
	assert.NotPanics(t, p.Close)
	wg.Wait()
}

func TestPool_PanicRecovery(t *testing.T) {
	t.Parallel()
	var recovered atomic.Value
	p := New(1, WithPanicHandler(func(r any) { recovered.Store(r) }))
	defer p.Close()

	done := make(chan struct{})
	p.Submit(func() { panic("boom") })
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker stopped after panic")
	}
	assert.Equal(t, "boom", recovered.Load())
	assert.Equal(t, int32(1), p.running.Load())
}

func TestNew_DefaultWorkers(t *testing.T) {
	t.Parallel()
	p := New(0)
	defer p.Close()
	assert.Positive(t, p.workers)
}
