package monitor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"connkeeper/internal/timers"
)

func TestInterfaceWatcher_ReportsEdges(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	probe := NewInterfaceProbeFunc(func() (bool, error) { return up.Load(), nil })

	clock := clockwork.NewFakeClock()
	w := NewInterfaceWatcher(probe, 5*time.Second, timers.New(clock), nil)
	require.True(t, w.Online())

	var mu sync.Mutex
	var seen []bool
	cancel := w.Watch(func(online bool) {
		mu.Lock()
		seen = append(seen, online)
		mu.Unlock()
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}

	w.Start()
	defer w.Stop()

	clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, count(), "no edge, no notification")

	up.Store(false)
	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return count() == 1 }, time.Second, time.Millisecond)
	assert.False(t, w.Online())

	up.Store(true)
	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []bool{false, true}, seen)
	mu.Unlock()

	cancel()
	cancel()
	up.Store(false)
	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return !w.Online() }, time.Second, time.Millisecond)
	assert.Equal(t, 2, count())
}
