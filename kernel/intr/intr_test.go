package intr

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisableNesting(t *testing.T) {
	c := New()
	require.Equal(t, On, c.Get())

	outer := c.Disable()
	assert.Equal(t, On, outer)
	assert.Equal(t, Off, c.Get())

	inner := c.Disable()
	assert.Equal(t, Off, inner, "nested disable should report off")
	c.SetLevel(inner)
	assert.Equal(t, Off, c.Get(), "restoring the inner level must keep interrupts off")

	c.SetLevel(outer)
	assert.Equal(t, On, c.Get())
}

func TestRaiseDeferredWhileOff(t *testing.T) {
	c := New()
	var ran int
	c.Register(0x20, "test timer", func() {
		assert.True(t, c.Context(), "handler should run in interrupt context")
		assert.Equal(t, Off, c.Get(), "handler should run with interrupts off")
		ran++
	})

	old := c.Disable()
	require.NoError(t, c.Raise(0x20))
	require.NoError(t, c.Raise(0x20))
	assert.False(t, c.Poll(), "poll must not deliver while interrupts are off")
	assert.Equal(t, 0, ran)

	c.SetLevel(old)
	assert.Equal(t, 2, ran, "re-enabling should deliver pending interrupts")
	assert.Equal(t, uint64(2), c.Count(0x20))
	assert.False(t, c.Context())
}

func TestRaiseUnknownVector(t *testing.T) {
	c := New()
	err := c.Raise(0x42)
	assert.True(t, errors.Is(err, ErrUnhandledVector))
	assert.Equal(t, "unknown", c.Name(0x42))
}

func TestRegisterTwice(t *testing.T) {
	c := New()
	c.Register(0x20, "a", func() {})
	assert.Equal(t, "a", c.Name(0x20))
	assert.Panics(t, func() { c.Register(0x20, "b", func() {}) })
}

func TestEnableInsideHandlerPanics(t *testing.T) {
	c := New()
	var recovered interface{}
	c.Register(0x20, "bad", func() {
		defer func() { recovered = recover() }()
		c.Enable()
	})
	c.Raise(0x20)
	c.Poll()
	assert.NotNil(t, recovered)
}

func TestYieldOnReturn(t *testing.T) {
	c := New()
	assert.Panics(t, func() { c.YieldOnReturn() }, "yield-on-return is only legal in a handler")

	c.Register(0x20, "slice", func() { c.YieldOnReturn() })
	c.Raise(0x20)
	c.Poll()
	assert.True(t, c.TakeYield())
	assert.False(t, c.TakeYield(), "the request should be consumed")
}

func TestAtomicallyExcludesDisabledPath(t *testing.T) {
	c := New()
	old := c.Disable()

	var (
		wg       sync.WaitGroup
		observed = make(chan struct{})
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Atomically(func() { close(observed) })
	}()

	select {
	case <-observed:
		t.Fatal("observer entered the domain while interrupts were off")
	default:
	}
	c.SetLevel(old)
	wg.Wait()
	<-observed
}

func TestKick(t *testing.T) {
	c := New()
	c.Register(0x20, "timer", func() {})
	c.Raise(0x20)
	c.Raise(0x20)

	select {
	case <-c.Kick():
	default:
		t.Fatal("raise should kick an idle CPU")
	}
	assert.True(t, c.Poll())
	assert.False(t, c.Poll(), "nothing left to deliver")
}
