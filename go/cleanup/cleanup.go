// Package cleanup provides a process-wide registry of repeating background
// tasks that must be stopped and given a chance to flush state when the
// dispatcher shuts down.
package cleanup

import (
	"sync"
	"time"

	"pixi.build/dispatcher/go/now"
)

type repeater struct {
	ticker now.TimeTicker
	stop   chan struct{}
	done   chan struct{}
	fn     func()
}

var (
	mtx       sync.Mutex
	repeaters []*repeater

	// newTicker builds the ticker each Repeat call drives itself off of.
	// Tests substitute a fake now.TimeTicker here to control ticks
	// directly instead of sleeping on a real interval.
	newTicker now.NewTimeTickerFunc = now.NewTicker
)

// Repeat calls tickFn every interval, in its own goroutine, until Cleanup is
// called, at which point the ticker is stopped and cleanupFn is called
// exactly once.
func Repeat(interval time.Duration, tickFn func(), cleanupFn func()) {
	r := &repeater{
		ticker: newTicker(interval),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		fn:     cleanupFn,
	}
	mtx.Lock()
	repeaters = append(repeaters, r)
	mtx.Unlock()

	go func() {
		defer close(r.done)
		for {
			select {
			case <-r.ticker.C():
				tickFn()
			case <-r.stop:
				return
			}
		}
	}()
}

// Cleanup stops every repeater registered via Repeat and waits for each to
// run its cleanup function exactly once.
func Cleanup() {
	mtx.Lock()
	toStop := repeaters
	mtx.Unlock()

	for _, r := range toStop {
		r.ticker.Stop()
		close(r.stop)
		<-r.done
		r.fn()
	}
}

// reset clears the registry. Exposed only for tests, which need a clean
// slate between scenarios within the same process.
func reset() {
	mtx.Lock()
	defer mtx.Unlock()
	repeaters = nil
}
