// Package simclock drives simulated time from an explicit tick counter so a
// simulated day runs as fast as the CPU allows.
package simclock

import (
	"fmt"
	"math"
	"time"
)

// Clock maps tick indexes onto instants: origin + tick*interval.
type Clock struct {
	origin   time.Time
	interval time.Duration
	length   time.Duration
}

// New creates a clock. The origin is truncated to whole seconds in UTC.
func New(origin time.Time, interval, length time.Duration) (*Clock, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", interval)
	}
	if length <= 0 {
		return nil, fmt.Errorf("run length must be positive, got %v", length)
	}
	return &Clock{
		origin:   origin.UTC().Truncate(time.Second),
		interval: interval,
		length:   length,
	}, nil
}

// HoursToDuration converts a run length in hours, rounding to the nearest nanosecond
// so values like 1/720 h come out as exactly five seconds.
func HoursToDuration(hours float64) time.Duration {
	return time.Duration(math.Round(hours * float64(time.Hour)))
}

// Origin returns the instant of tick zero
func (c *Clock) Origin() time.Time {
	return c.origin
}

// Interval returns the tick length
func (c *Clock) Interval() time.Duration {
	return c.interval
}

// Ticks returns ceil(length / interval), the number of ticks in a run
func (c *Clock) Ticks() int {
	return int((c.length + c.interval - 1) / c.interval)
}

// At returns the simulated instant of a tick
func (c *Clock) At(tick int) time.Time {
	return c.origin.Add(time.Duration(tick) * c.interval)
}

// Done reports whether the tick lies at or beyond the end of the run
func (c *Clock) Done(tick int) bool {
	return tick >= c.Ticks()
}
