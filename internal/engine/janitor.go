package engine

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// StartSweeper runs OptimizeConnections on a fixed interval, removing
// connections whose last heartbeat is older than maxIdle. It returns a
// stop function that halts the sweeper; calling it more than once is safe.
func (e *Engine) StartSweeper(clock clockwork.Clock, interval, maxIdle time.Duration) func() {
	ticker := clock.NewTicker(interval)
	stopCh := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.Chan():
				if swept := e.OptimizeConnections(maxIdle); swept > 0 {
					slog.Debug("Connection sweep completed", "swept", swept, "max_idle", maxIdle)
				}
			case <-stopCh:
				ticker.Stop()
				return
			case <-e.done:
				ticker.Stop()
				return
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(stopCh)
	}
}
