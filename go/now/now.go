// Package now abstracts the wall clock so that dispatcher components which
// schedule work on a timer (the build backend pool's idle-handle reaper,
// through go/cleanup.Repeat) can be driven deterministically in tests
// instead of sleeping on a real clock.
package now

import "time"

// TimeTicker is the subset of time.Ticker used by dispatcher components,
// narrowed to an interface so tests can substitute a fake ticker driven by a
// channel they control directly.
type TimeTicker interface {
	C() <-chan time.Time
	Stop()
}

// realTicker adapts time.Ticker to TimeTicker.
type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// NewTimeTickerFunc constructs a TimeTicker for the given period.
type NewTimeTickerFunc func(d time.Duration) TimeTicker

// NewTicker is the production NewTimeTickerFunc, backed by time.NewTicker.
func NewTicker(d time.Duration) TimeTicker {
	return &realTicker{t: time.NewTicker(d)}
}

// NowFunc is the shape of time.Now used by dispatcher components that stamp
// the current time, such as the backend pool's handle idle-since stamps.
type NowFunc func() time.Time

// Now is the production NowFunc.
func Now() time.Time {
	return time.Now()
}
