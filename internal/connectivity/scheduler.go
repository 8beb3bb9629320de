package connectivity

import (
	"time"

	"connkeeper/internal/timers"
)

const (
	concernReconnect   = "reconnect"
	concernHealthCheck = "health-check"
)

// scheduler drives automatic reconnection attempts on a fixed interval.
// Attempt accounting lives in the manager.
type scheduler struct {
	timers   *timers.Group
	interval time.Duration
	tick     func()
}

// start arms the reconnect timer unless it is already running.
func (s scheduler) start() {
	if s.timers.Running(concernReconnect) {
		return
	}
	s.timers.Every(concernReconnect, s.interval, s.tick)
}

// restart re-arms the timer so the next tick is a full interval away.
func (s scheduler) restart() {
	s.timers.Every(concernReconnect, s.interval, s.tick)
}

func (s scheduler) stop() {
	s.timers.Stop(concernReconnect)
}
