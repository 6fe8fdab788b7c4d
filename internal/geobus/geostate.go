// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// GeolocationState remembers the last reading of a provider.
type GeolocationState struct {
	last     Coordinate
	haveLast bool
}

// HasChanged reports whether c moved significantly from the last reading. The first reading
// always counts as a change.
func (s *GeolocationState) HasChanged(c Coordinate) bool {
	return !s.haveLast || c.PosHasSignificantChange(s.last)
}

// Update stores c as the last reading.
func (s *GeolocationState) Update(c Coordinate) {
	s.last, s.haveLast = c, true
}

// Emitter turns the readings of one provider stream into results. Readings that did not move
// significantly are suppressed.
type Emitter struct {
	Key    string
	Source string
	TTL    time.Duration
	Clock  clockwork.Clock

	state GeolocationState
}

// NewEmitter returns an Emitter for the stream of source on key.
func NewEmitter(clock clockwork.Clock, key, source string, ttl time.Duration) *Emitter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Emitter{Key: key, Source: source, TTL: ttl, Clock: clock}
}

// Result stamps c as a result of the stream.
func (e *Emitter) Result(c Coordinate) Result {
	return Result{
		Key:            e.Key,
		Lat:            c.Lat,
		Lon:            c.Lon,
		Alt:            c.Alt,
		HasAlt:         c.HasAlt,
		AccuracyMeters: c.Acc,
		Source:         e.Source,
		At:             e.Clock.Now(),
		TTL:            e.TTL,
	}
}

// Emit sends c on out if it changed. It reports false if ctx ended before the result was
// taken.
func (e *Emitter) Emit(ctx context.Context, out chan<- Result, c Coordinate) bool {
	if !e.state.HasChanged(c) {
		return ctx.Err() == nil
	}
	e.state.Update(c)
	select {
	case <-ctx.Done():
		return false
	case out <- e.Result(c):
		return true
	}
}
