package monitor

import (
	"log/slog"
	"sync"
	"time"

	"connkeeper/internal/timers"
)

const concernInterfacePoll = "interface-poll"

// InterfaceWatcher turns periodic interface checks into online/offline
// notifications. Listeners are called only on edges.
type InterfaceWatcher struct {
	probe    *InterfaceProbe
	interval time.Duration
	timers   *timers.Group
	logger   *slog.Logger

	mu        sync.Mutex
	online    bool
	listeners map[int]func(online bool)
	nextID    int
}

// NewInterfaceWatcher creates a watcher polling probe on interval using the
// timers group. The initial state is read immediately.
func NewInterfaceWatcher(probe *InterfaceProbe, interval time.Duration, group *timers.Group, logger *slog.Logger) *InterfaceWatcher {
	if probe == nil {
		probe = NewInterfaceProbe()
	}
	if group == nil {
		group = timers.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InterfaceWatcher{
		probe:     probe,
		interval:  interval,
		timers:    group,
		logger:    logger,
		online:    probe.Up(),
		listeners: make(map[int]func(bool)),
	}
}

// Start begins polling. A non-positive interval disables polling.
func (w *InterfaceWatcher) Start() {
	w.timers.Every(concernInterfacePoll, w.interval, w.poll)
}

// Stop ends polling.
func (w *InterfaceWatcher) Stop() {
	w.timers.Stop(concernInterfacePoll)
}

// Online returns the last observed interface state.
func (w *InterfaceWatcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Watch registers fn for state edges and returns a function removing it.
func (w *InterfaceWatcher) Watch(fn func(online bool)) (cancel func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	w.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.listeners, id)
			w.mu.Unlock()
		})
	}
}

func (w *InterfaceWatcher) poll() {
	up := w.probe.Up()

	w.mu.Lock()
	if up == w.online {
		w.mu.Unlock()
		return
	}
	w.online = up
	fns := make([]func(bool), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	w.logger.Info("network interface state changed", "online", up)
	for _, fn := range fns {
		fn(up)
	}
}
