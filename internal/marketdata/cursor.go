package marketdata

import "time"

// Cursor reads a Series at the simulated time last set on it. Only the
// engine moves a cursor; strategies and the broker read through it.
type Cursor struct {
	series *Series
	now    time.Time
}

// NewCursor creates a cursor positioned at the series' first bar.
func NewCursor(series *Series) *Cursor {
	c := &Cursor{series: series}
	if start, err := series.Start(); err == nil {
		c.now = start
	}
	return c
}

// SetTime moves the cursor to now.
func (c *Cursor) SetTime(now time.Time) { c.now = now }

// Now returns the cursor's simulated time.
func (c *Cursor) Now() time.Time { return c.now }

// Series returns the underlying series.
func (c *Cursor) Series() *Series { return c.series }

// Get returns field barsAgo bars before the bar at the current time. It
// reports false when the current time has no bar of its own.
func (c *Cursor) Get(field string, barsAgo int) (float64, bool) {
	return c.series.At(c.now, field, barsAgo)
}

// GetLast returns field of the most recent bar at or before the current time.
func (c *Cursor) GetLast(field string) (float64, error) {
	return c.series.AsOf(c.now, field)
}

// Exists reports whether the series has a bar at exactly t.
func (c *Cursor) Exists(t time.Time) bool {
	return c.series.Exists(t)
}

// HasBar reports whether the series has a bar at the current time.
func (c *Cursor) HasBar() bool {
	return c.series.Exists(c.now)
}
