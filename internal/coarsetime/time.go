// Package coarsetime provides a clock that trades precision for speed.
//
// The server refreshes connection deadlines on every read and write; reading
// a cached timestamp instead of calling time.Now keeps that off the hot path.
// The cached value lags the real clock by at most one tick (10ms), which is
// negligible next to idle and write timeouts counted in seconds.
package coarsetime

import (
	"sync"
	"sync/atomic"
	"time"
)

const tick = 10 * time.Millisecond

var (
	now   atomic.Pointer[time.Time]
	start sync.Once
)

func refresh() {
	t := time.Now()
	now.Store(&t)
}

// Now returns the cached current time. The refresh goroutine starts on the
// first call.
func Now() time.Time {
	start.Do(func() {
		refresh()
		go func() {
			ticker := time.NewTicker(tick)
			for range ticker.C {
				refresh()
			}
		}()
	})
	return *now.Load()
}
