// Package clock supplies wall-clock time in a fixed civil time zone along
// with the tickers and timers the schedulers run on.
package clock

import (
	"fmt"
	"time"
)

// CivilLayout is the layout used for log timestamps and alert messages.
const CivilLayout = "2006-01-02 15:04:05"

// DefaultZone is the civil time zone used when none is configured.
const DefaultZone = "Asia/Hong_Kong"

// Ticker is the subset of *time.Ticker the schedulers need.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// Clock provides the current time in a fixed location and time-based
// primitives.
type Clock interface {
	Now() time.Time
	Location() *time.Location
	NewTicker(d time.Duration) Ticker
	AfterFunc(d time.Duration, f func()) Timer
}

// Format renders t as a civil timestamp in the clock's location.
func Format(c Clock, t time.Time) string {
	return t.In(c.Location()).Format(CivilLayout)
}

// Parse reads a civil timestamp in the clock's location.
func Parse(c Clock, s string) (time.Time, error) {
	return time.ParseInLocation(CivilLayout, s, c.Location())
}

// Real is a Clock backed by the runtime.
type Real struct {
	loc *time.Location
}

// New loads the named zone and returns a Real clock for it.
func New(zone string) (*Real, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", zone, err)
	}
	return &Real{loc: loc}, nil
}

func (r *Real) Now() time.Time           { return time.Now().In(r.loc) }
func (r *Real) Location() *time.Location { return r.loc }

func (r *Real) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

func (r *Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type realTicker struct {
	t *time.Ticker
}

func (t realTicker) C() <-chan time.Time { return t.t.C }
func (t realTicker) Stop()               { t.t.Stop() }
