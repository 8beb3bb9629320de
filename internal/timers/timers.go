// Package timers owns periodic tasks keyed by concern name. Starting a
// concern always stops the previous handle for that concern first, so a
// concern can never run twice.
package timers

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Group is a set of named periodic tasks driven by one clock.
type Group struct {
	clock clockwork.Clock

	mu      sync.Mutex
	handles map[string]*handle
	closed  bool
}

type handle struct {
	ticker clockwork.Ticker
	stopCh chan struct{}
}

// New creates an empty group. A nil clock uses the real clock.
func New(clock clockwork.Clock) *Group {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Group{
		clock:   clock,
		handles: make(map[string]*handle),
	}
}

// Every runs fn on every interval tick until the concern is stopped. Any
// running handle for the same concern is stopped first. The ticker is armed
// before Every returns. Calls on a closed group are ignored.
func (g *Group) Every(concern string, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	if old, ok := g.handles[concern]; ok {
		old.stop()
		delete(g.handles, concern)
	}

	h := &handle{
		ticker: g.clock.NewTicker(interval),
		stopCh: make(chan struct{}),
	}
	g.handles[concern] = h
	go h.run(fn)
}

// Stop cancels the concern. It does not wait for an in-progress callback, so
// it is safe to call from inside fn. It reports whether a handle was running.
func (g *Group) Stop(concern string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.handles[concern]
	if !ok {
		return false
	}
	h.stop()
	delete(g.handles, concern)
	return true
}

// Running reports whether the concern currently has a live handle.
func (g *Group) Running(concern string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.handles[concern]
	return ok
}

// Active returns the number of live handles.
func (g *Group) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// StopAll cancels every handle and closes the group.
func (g *Group) StopAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	for concern, h := range g.handles {
		h.stop()
		delete(g.handles, concern)
	}
}

// Clock returns the clock that drives the group.
func (g *Group) Clock() clockwork.Clock {
	return g.clock
}

func (h *handle) stop() {
	h.ticker.Stop()
	close(h.stopCh)
}

func (h *handle) run(fn func()) {
	for {
		select {
		case <-h.stopCh:
			return
		case <-h.ticker.Chan():
			select {
			case <-h.stopCh:
				return
			default:
			}
			fn()
		}
	}
}
