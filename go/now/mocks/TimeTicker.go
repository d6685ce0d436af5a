// Code generated by mockery. Hand-maintained here since the pack did not
// retrieve the generated output, only the generator invocation in
// generate.go.

package mocks

import (
	time "time"

	mock "github.com/stretchr/testify/mock"
)

// TimeTicker is a mock of now.TimeTicker.
type TimeTicker struct {
	mock.Mock
}

// C mocks the now.TimeTicker.C method.
func (m *TimeTicker) C() <-chan time.Time {
	ret := m.Called()
	return ret.Get(0).(<-chan time.Time)
}

// Stop mocks the now.TimeTicker.Stop method.
func (m *TimeTicker) Stop() {
	m.Called()
}
