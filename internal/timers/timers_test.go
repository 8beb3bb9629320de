package timers

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = time.Second

func TestEvery_TicksUntilStopped(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := New(clock)

	var calls atomic.Int32
	g.Every("tick", time.Minute, func() { calls.Add(1) })
	require.True(t, g.Running("tick"))

	for i := int32(1); i <= 3; i++ {
		clock.Advance(time.Minute)
		require.Eventually(t, func() bool { return calls.Load() == i }, waitFor, time.Millisecond)
	}

	assert.True(t, g.Stop("tick"))
	assert.False(t, g.Running("tick"))
	assert.False(t, g.Stop("tick"))

	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEvery_RestartReplacesHandle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := New(clock)

	var first, second atomic.Int32
	g.Every("reconnect", time.Second, func() { first.Add(1) })
	g.Every("reconnect", time.Second, func() { second.Add(1) })
	assert.Equal(t, 1, g.Active())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return second.Load() == 1 }, waitFor, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestStop_FromInsideCallback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := New(clock)

	var calls atomic.Int32
	g.Every("once", time.Second, func() {
		calls.Add(1)
		g.Stop("once")
	})

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return !g.Running("once") }, waitFor, time.Millisecond)

	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStopAll_ClosesGroup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := New(clock)

	g.Every("a", time.Second, func() {})
	g.Every("b", time.Second, func() {})
	require.Equal(t, 2, g.Active())

	g.StopAll()
	assert.Equal(t, 0, g.Active())

	g.Every("c", time.Second, func() {})
	assert.False(t, g.Running("c"))
}

func TestEvery_IgnoresNonPositiveInterval(t *testing.T) {
	g := New(nil)
	g.Every("zero", 0, func() {})
	assert.False(t, g.Running("zero"))
	assert.NotNil(t, g.Clock())
}
