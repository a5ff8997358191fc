package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForAllImmediateWhenIdle(t *testing.T) {
	s := New("idle")
	ran := false
	s.WaitForAll(func() { ran = true })
	assert.True(t, ran)
	assert.False(t, s.IsActive())
}

func TestWaitForAllAfterPending(t *testing.T) {
	s := New("stage")
	var order []string
	a := s.Pending(func() { order = append(order, "a") })
	b := s.Pending(nil)
	s.WaitForAll(func() { order = append(order, "done") })

	assert.True(t, s.IsActive())
	a()
	a()
	assert.Equal(t, []string{"a"}, order)
	b()
	assert.Equal(t, []string{"a", "done"}, order)
	assert.False(t, s.IsActive())
}

func TestNestedSignals(t *testing.T) {
	outer := New("outer")
	inner := New("inner")
	done := outer.Pending(nil)
	work := inner.Pending(nil)
	inner.WaitForAll(done)

	finished := false
	outer.WaitForAll(func() { finished = true })
	assert.False(t, finished)
	work()
	assert.True(t, finished)
}

func TestOrPending(t *testing.T) {
	s := New("opt")
	assert.Nil(t, s.OrPending(nil))
	cb := s.OrPending(func() {})
	assert.True(t, s.IsActive())
	cb()
	assert.False(t, s.IsActive())
}

func TestWaitAcrossGoroutines(t *testing.T) {
	s := New("io")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		done := s.Pending(nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			done()
		}()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	wg.Wait()
	assert.False(t, s.IsActive())
}

func TestWaitHonoursContext(t *testing.T) {
	s := New("stuck")
	s.Pending(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.Canceled)
}
