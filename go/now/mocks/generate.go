package mocks

import (
	time "time"

	"pixi.build/dispatcher/go/now"
)

func NewTimeTickerFunc(ch <-chan time.Time) now.NewTimeTickerFunc {
	return func(unused time.Duration) now.TimeTicker {
		rv := &TimeTicker{}
		rv.On("C").Return(ch)
		rv.On("Stop").Return()
		return rv
	}
}
