package timer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunyihoo/tickos/common/mclock"
	"github.com/sunyihoo/tickos/kernel/intr"
	"github.com/sunyihoo/tickos/kernel/thread"
)

type testRig struct {
	t     *testing.T
	ic    *intr.Controller
	sched *thread.Scheduler
	clock *mclock.Counter
	timer *Timer
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	ic := intr.New()
	sched := thread.NewScheduler(thread.Defaults, ic)
	clock := new(mclock.Counter)
	tm, err := New(Defaults, ic, sched, clock)
	require.NoError(t, err)
	tm.Init()
	return &testRig{t: t, ic: ic, sched: sched, clock: clock, timer: tm}
}

// tick fires n timer interrupts and delivers them.
func (r *testRig) tick(n int) {
	r.t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(r.t, r.ic.Raise(Vector))
	}
	r.ic.Poll()
}

func (r *testRig) advanceTo(target mclock.Tick) {
	r.t.Helper()
	r.tick(int(target.Sub(r.clock.Now())))
	require.Equal(r.t, target, r.clock.Now())
}

func (r *testRig) drain() {
	for r.sched.Step() {
	}
}

// sleeper spawns a thread that sleeps for ticks and records its name in woke
// once it runs again.
func (r *testRig) sleeper(name string, ticks int64, woke *[]string) *thread.Thread {
	return r.sched.Spawn(name, func(self *thread.Thread) {
		r.timer.Sleep(self, ticks)
		*woke = append(*woke, name)
	})
}

func TestConfigSanitize(t *testing.T) {
	assert.NoError(t, Defaults.Sanitize())
	assert.NoError(t, Config{Frequency: MinFrequency}.Sanitize())
	assert.NoError(t, Config{Frequency: MaxFrequency}.Sanitize())
	assert.True(t, errors.Is(Config{Frequency: 18}.Sanitize(), ErrFrequencyTooLow))
	assert.True(t, errors.Is(Config{Frequency: 1001}.Sanitize(), ErrFrequencyTooHigh))
	assert.Equal(t, uint16(11932), Defaults.Divisor())

	_, err := New(Config{Frequency: 5}, intr.New(), nil, new(mclock.Counter))
	assert.ErrorIs(t, err, ErrFrequencyTooLow)
}

func TestInitRegistersVector(t *testing.T) {
	r := newTestRig(t)
	assert.Equal(t, VectorName, r.ic.Name(Vector))
	assert.Panics(t, func() { r.timer.Init() }, "the vector can only be claimed once")

	r.tick(3)
	assert.Equal(t, mclock.Tick(3), r.timer.Ticks())
	assert.Equal(t, uint64(3), r.ic.Count(Vector))
	assert.Equal(t, uint64(3), r.sched.Stats().IdleTicks, "ticks with nothing running are idle ticks")
}

func TestElapsed(t *testing.T) {
	r := newTestRig(t)
	r.tick(7)

	then := r.timer.Ticks()
	assert.Zero(t, r.timer.Elapsed(r.timer.Ticks()))

	prev := int64(0)
	for i := 0; i < 5; i++ {
		r.tick(i)
		e := r.timer.Elapsed(then)
		assert.GreaterOrEqual(t, e, prev)
		prev = e
	}
	assert.Equal(t, int64(0+1+2+3+4), prev)
}

func TestSleepWakesInDeadlineOrder(t *testing.T) {
	r := newTestRig(t)
	r.advanceTo(100)

	var woke []string
	a := r.sleeper("A", 10, &woke)
	b := r.sleeper("B", 5, &woke)
	r.drain()
	require.Equal(t, thread.Blocked, a.Status())
	require.Equal(t, thread.Blocked, b.Status())

	pending := r.timer.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, Entry[*thread.Thread]{Deadline: 105, Handle: b}, pending[0])
	assert.Equal(t, Entry[*thread.Thread]{Deadline: 110, Handle: a}, pending[1])

	r.advanceTo(104)
	assert.Equal(t, thread.Blocked, b.Status(), "B must not wake early")

	r.advanceTo(105)
	assert.Equal(t, thread.Ready, b.Status())
	assert.Equal(t, thread.Blocked, a.Status())

	r.advanceTo(110)
	assert.Equal(t, thread.Ready, a.Status())

	r.drain()
	assert.Equal(t, []string{"B", "A"}, woke)
	assert.Empty(t, r.timer.Pending())
	assert.Equal(t, uint64(2), r.timer.Stats().Wakeups)
}

func TestEqualDeadlinesWakeFIFO(t *testing.T) {
	r := newTestRig(t)
	r.advanceTo(100)

	var woke []string
	a := r.sleeper("A", 10, &woke)
	b := r.sleeper("B", 10, &woke)
	r.drain()

	r.advanceTo(109)
	assert.Equal(t, thread.Blocked, a.Status())
	assert.Equal(t, thread.Blocked, b.Status())

	r.advanceTo(110)
	assert.Equal(t, thread.Ready, a.Status())
	assert.Equal(t, thread.Ready, b.Status())

	require.True(t, r.sched.Step())
	assert.Equal(t, []string{"A"}, woke, "A is dispatched first")
	require.True(t, r.sched.Step())
	assert.Equal(t, []string{"A", "B"}, woke)
}

func TestManySleepersWakeSorted(t *testing.T) {
	r := newTestRig(t)

	var (
		woke      []string
		durations = []int64{7, 3, 9, 3, 1, 7, 2}
		names     = []string{"s0", "s1", "s2", "s3", "s4", "s5", "s6"}
	)
	for i, d := range durations {
		r.sleeper(names[i], d, &woke)
	}
	r.drain()

	for i := 0; i < 10; i++ {
		r.tick(1)
		r.drain()
	}
	assert.Equal(t, []string{"s4", "s6", "s1", "s3", "s0", "s5", "s2"}, woke)
}

func TestSleepZeroReturnsImmediately(t *testing.T) {
	r := newTestRig(t)
	r.advanceTo(50)

	var (
		done    bool
		pending int
	)
	th := r.sched.Spawn("eager", func(self *thread.Thread) {
		r.timer.Sleep(self, 0)
		r.timer.Sleep(self, -3)
		r.timer.SleepUntil(self, 20)
		r.timer.SleepUntil(self, 50)
		pending = len(r.timer.Pending())
		done = true
	})
	require.True(t, r.sched.Step())
	assert.True(t, done)
	assert.Zero(t, pending)
	assert.Equal(t, thread.Dying, th.Status())
	assert.Zero(t, r.timer.Stats().Sleeps)
}

func TestSleepPreconditions(t *testing.T) {
	r := newTestRig(t)

	assert.Panics(t, func() { r.timer.Sleep(r.sched.Idle(), 5) }, "idle must never sleep")

	th := r.sched.Spawn("victim", func(*thread.Thread) {})
	old := r.ic.Disable()
	assert.Panics(t, func() { r.timer.Sleep(th, 5) }, "sleep with interrupts off")
	r.ic.SetLevel(old)

	var recovered interface{}
	r.ic.Register(0x21, "sleepy handler", func() {
		defer func() { recovered = recover() }()
		r.timer.Sleep(th, 5)
	})
	require.NoError(t, r.ic.Raise(0x21))
	r.ic.Poll()
	assert.NotNil(t, recovered, "sleep in interrupt context")

	r.drain()
	assert.Empty(t, r.timer.Pending())
}

func TestSleepForeverBlocks(t *testing.T) {
	r := newTestRig(t)
	r.tick(1)

	var returned bool
	th := r.sched.Spawn("forever", func(self *thread.Thread) {
		r.timer.Sleep(self, math.MaxInt64)
		returned = true
	})
	r.drain()

	assert.False(t, returned, "a huge duration must not wrap into the past")
	assert.Equal(t, thread.Blocked, th.Status())
	pending := r.timer.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, mclock.Tick(math.MaxInt64), pending[0].Deadline)
	assert.Equal(t, uint64(1), r.timer.Stats().Sleeps)

	r.tick(100)
	assert.Equal(t, thread.Blocked, th.Status())

	r.sched.Kill(th)
	assert.Empty(t, r.timer.Pending())
}

func TestSleepOnBehalfOfAnotherThread(t *testing.T) {
	r := newTestRig(t)

	var (
		recovered interface{}
		level     intr.Level
	)
	other := r.sched.Spawn("other", func(*thread.Thread) {})
	r.sched.Spawn("caller", func(self *thread.Thread) {
		defer func() {
			recovered = recover()
			level = r.ic.Get()
		}()
		r.timer.Sleep(other, 5)
	})
	// Run "other" to completion first so the caller holds a stale handle.
	require.True(t, r.sched.Step())
	require.True(t, r.sched.Step())

	assert.NotNil(t, recovered, "only the running thread may sleep")
	assert.Equal(t, intr.On, level, "the precondition check must not leave interrupts off")
	assert.Empty(t, r.timer.Pending())
	assert.Zero(t, r.timer.Stats().Sleeps)
}

func TestKillSleepingThread(t *testing.T) {
	r := newTestRig(t)

	var woke []string
	victim := r.sleeper("victim", 10, &woke)
	other := r.sleeper("other", 10, &woke)
	r.drain()
	require.Len(t, r.timer.Pending(), 2)

	r.sched.Kill(victim)
	pending := r.timer.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, other, pending[0].Handle)
	assert.Equal(t, uint64(1), r.timer.Stats().Unlinked)

	r.tick(20)
	assert.Equal(t, thread.Dying, victim.Status())
	assert.Equal(t, thread.Ready, other.Status())
	r.drain()
	assert.Equal(t, []string{"other"}, woke)
	assert.Equal(t, uint64(1), r.timer.Stats().Wakeups)
	assert.Zero(t, r.sched.Live())
}

func TestSleepEvents(t *testing.T) {
	r := newTestRig(t)
	r.advanceTo(100)

	events := make(chan SleepEvent, 4)
	sub := r.timer.SubscribeSleeps(events)
	defer sub.Unsubscribe()

	var woke []string
	a := r.sleeper("A", 10, &woke)
	r.drain()
	r.advanceTo(113)
	r.drain()

	require.Len(t, events, 1)
	ev := <-events
	assert.Equal(t, SleepEvent{Thread: a.ID(), Name: "A", Start: 100, Deadline: 110, Woke: 113}, ev)

	r.timer.Close()
	_, open := <-sub.Err()
	assert.False(t, open, "closing the timer ends subscriptions")
}

func TestRealTimeSleep(t *testing.T) {
	r := newTestRig(t)
	r.timer.loopsPerTick.Store(1000)

	var after []mclock.Tick
	r.sched.Spawn("rt", func(self *thread.Thread) {
		r.timer.MSleep(self, 30) // 3 ticks at 100 Hz
		after = append(after, r.timer.Ticks())
		r.timer.USleep(self, 10) // well below one tick
		after = append(after, r.timer.Ticks())
		r.timer.NSleep(self, 500)
		after = append(after, r.timer.Ticks())
	})
	r.drain()
	require.Len(t, r.timer.Pending(), 1)
	assert.Equal(t, mclock.Tick(3), r.timer.Pending()[0].Deadline)

	r.tick(3)
	r.drain()
	assert.Equal(t, []mclock.Tick{3, 3, 3}, after)
	assert.Equal(t, uint64(1), r.timer.Stats().Sleeps, "sub-tick sleeps must not block")
}

func TestCalibrate(t *testing.T) {
	if testing.Short() {
		t.Skip("calibration runs against the wall clock")
	}
	r := newTestRig(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- mclock.System{Hz: r.timer.Frequency()}.Run(ctx, func() { r.ic.Raise(Vector) })
	}()

	loops := r.timer.Calibrate()
	assert.GreaterOrEqual(t, loops, uint64(1)<<10)
	assert.Equal(t, loops, r.timer.LoopsPerTick())
	assert.Equal(t, loops, r.timer.Stats().LoopsPerTick)

	cancel()
	require.NoError(t, <-done)
	r.timer.PrintStats()
}

func TestCalibrateRequiresInterrupts(t *testing.T) {
	r := newTestRig(t)
	old := r.ic.Disable()
	defer r.ic.SetLevel(old)
	assert.Panics(t, func() { r.timer.Calibrate() })
}
