package mclock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterElapsed(t *testing.T) {
	var c Counter
	assert.Equal(t, Tick(0), c.Now(), "counter should start at zero")

	start := c.Now()
	assert.Equal(t, int64(0), c.Elapsed(start), "elapsed right after Now should be zero")

	prev := c.Elapsed(start)
	for i := 1; i <= 50; i++ {
		c.Advance()
		e := c.Elapsed(start)
		assert.GreaterOrEqual(t, e, prev, "elapsed must not decrease")
		assert.Equal(t, int64(i), e)
		prev = e
	}
}

func TestCounterConcurrentReads(t *testing.T) {
	var (
		c  Counter
		wg sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			c.Advance()
		}
	}()
	go func() {
		defer wg.Done()
		last := c.Now()
		for i := 0; i < 10000; i++ {
			now := c.Now()
			if now < last {
				t.Errorf("tick went backwards: %v -> %v", last, now)
				return
			}
			last = now
		}
	}()
	wg.Wait()
	assert.Equal(t, Tick(10000), c.Now())
}

func TestTickArithmetic(t *testing.T) {
	base := Tick(100)
	assert.Equal(t, Tick(110), base.Add(10))
	assert.Equal(t, int64(-5), base.Sub(105))
	assert.Equal(t, "100", base.String())
}

func TestSimulatedAdvance(t *testing.T) {
	var (
		sim   Simulated
		fired atomic.Int64
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx, func() { fired.Add(1) }) }()

	require.NoError(t, sim.Advance(ctx, 3))
	assert.Equal(t, int64(3), fired.Load(), "Advance should wait for all ticks")
	require.NoError(t, sim.Advance(ctx, 2))
	assert.Equal(t, int64(5), fired.Load())

	cancel()
	assert.NoError(t, <-done)
}

func TestSystemSource(t *testing.T) {
	var fired atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := System{Hz: 1000}.Run(ctx, func() { fired.Add(1) })
	assert.NoError(t, err)
	assert.Greater(t, fired.Load(), int64(0), "system source should have fired")

	assert.Error(t, System{}.Run(context.Background(), func() {}))
}
