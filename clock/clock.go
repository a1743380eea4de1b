// Package clock provides the microsecond time base shared by the drivers.
//
// All timestamps are monotonic microseconds measured from process start, so
// they never jump when the wall clock is adjusted.
package clock

import (
	"sync/atomic"
	"time"
)

var epoch = time.Now()

// Now returns monotonic microseconds since process start.
func Now() uint64 {
	return uint64(time.Since(epoch) / time.Microsecond)
}

// Sleep pauses the calling goroutine for roughly d. It is a no-op for d <= 0.
func Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}

// Source supplies the current time in microseconds.
type Source interface {
	Micros() uint64
}

type system struct{}

func (system) Micros() uint64 { return Now() }

// System is the process monotonic clock.
var System Source = system{}

// Manual is a Source that only moves when told to. The zero value reads 0.
type Manual struct {
	now atomic.Uint64
}

// NewManual returns a manual clock set to start.
func NewManual(start uint64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

func (m *Manual) Micros() uint64 { return m.now.Load() }

// Set moves the clock to us.
func (m *Manual) Set(us uint64) { m.now.Store(us) }

// Advance moves the clock forward by d and returns the new reading.
func (m *Manual) Advance(d time.Duration) uint64 {
	return m.now.Add(uint64(d / time.Microsecond))
}
