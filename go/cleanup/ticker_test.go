package cleanup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pixi.build/dispatcher/go/now"
	"pixi.build/dispatcher/go/now/mocks"
	"pixi.build/dispatcher/go/testutils"
)

// TestRepeatDrivesOffInjectedTicker substitutes a fake now.TimeTicker for
// Repeat's usual real-time ticker, proving a tick is driven entirely by the
// channel under the test's control rather than by elapsed wall-clock time.
func TestRepeatDrivesOffInjectedTicker(t *testing.T) {
	testutils.SmallTest(t)
	reset()

	tickC := make(chan time.Time)
	var built now.TimeTicker
	fakeFunc := mocks.NewTimeTickerFunc(tickC)

	prev := newTicker
	newTicker = func(d time.Duration) now.TimeTicker {
		built = fakeFunc(d)
		return built
	}
	defer func() { newTicker = prev }()

	ticks := 0
	done := make(chan struct{})
	Repeat(time.Hour, func() { ticks++ }, func() { close(done) })

	tickC <- time.Time{}
	tickC <- time.Time{}

	Cleanup()
	<-done

	require.Equal(t, 2, ticks, "Repeat must call tickFn once per value sent on the injected ticker's channel")
	built.(*mocks.TimeTicker).AssertCalled(t, "Stop")
}
