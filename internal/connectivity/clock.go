package connectivity

import (
	"time"

	"connkeeper/internal/timers"
)

const (
	concernOfflineClock = "offline-clock"
	offlineTick         = time.Minute
)

// offlineClock ticks once per minute while the client is not online.
type offlineClock struct {
	timers *timers.Group
	tick   func()
}

// start restarts the tick; a running clock is replaced.
func (c offlineClock) start() {
	c.timers.Every(concernOfflineClock, offlineTick, c.tick)
}

func (c offlineClock) stop() {
	c.timers.Stop(concernOfflineClock)
}
