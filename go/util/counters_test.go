package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicCounterIncDecGet(t *testing.T) {
	var c AtomicCounter
	require.Equal(t, 0, c.Get())

	c.Inc()
	c.Inc()
	require.Equal(t, 2, c.Get())

	c.Dec()
	require.Equal(t, 1, c.Get())
}

func TestAtomicCounterConcurrentIncDec(t *testing.T) {
	var c AtomicCounter
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc()
		}()
	}
	wg.Wait()
	require.Equal(t, 100, c.Get())

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Dec()
		}()
	}
	wg.Wait()
	require.Equal(t, 0, c.Get())
}
