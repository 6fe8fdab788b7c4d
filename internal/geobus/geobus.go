// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geobus collects position readings from several providers and keeps the best result
// per key.
package geobus

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geoanchor/internal/geo"
	"github.com/wneessen/geoanchor/internal/logger"
)

// Accuracy estimates in meters for providers that do not report one.
const (
	AccuracyHigh    = 50
	AccuracyGPS3D   = 10
	AccuracyGPS2D   = 25
	AccuracyUnknown = 1000000
)

// TruncPrecision is the number of decimal places providers keep of a reading.
const TruncPrecision = 7

const (
	accuracyEpsilon = 1e-6
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
)

// Provider streams position readings for a key until the context ends or the source is
// exhausted.
type Provider interface {
	Name() string
	LookupStream(ctx context.Context, key string) <-chan Result
}

// Result is a position reading of a provider.
type Result struct {
	Key            string
	Lat, Lon       float64
	Alt            float64
	HasAlt         bool
	AccuracyMeters float64
	Source         string
	At             time.Time
	TTL            time.Duration
}

// Coordinate returns the position reading of the result.
func (r Result) Coordinate() Coordinate {
	return Coordinate{Lat: r.Lat, Lon: r.Lon, Alt: r.Alt, Acc: r.AccuracyMeters, HasAlt: r.HasAlt}
}

// Geo returns the geodetic coordinate of the result.
func (r Result) Geo() geo.Coordinate {
	return r.Coordinate().Geo()
}

// improves reports whether r should replace prev: it must not be older and must be more
// accurate.
func (r Result) improves(prev Result) bool {
	if r.At.Before(prev.At) {
		return false
	}
	return r.AccuracyMeters < prev.AccuracyMeters-accuracyEpsilon
}

func (r Result) expired(now time.Time) bool {
	return r.TTL > 0 && now.Sub(r.At) > r.TTL
}

// GeoBus keeps the best result per key and fans new results out to the subscribers of the key.
type GeoBus struct {
	clock  clockwork.Clock
	logger *logger.Logger

	mu          sync.RWMutex
	best        map[string]Result
	subscribers map[string]map[chan Result]struct{}
}

// New returns a GeoBus on the wall clock.
func New(logger *logger.Logger) *GeoBus {
	return NewWithClock(logger, clockwork.NewRealClock())
}

// NewWithClock returns a GeoBus that timestamps and expires results with the given clock.
func NewWithClock(logger *logger.Logger, clock clockwork.Clock) *GeoBus {
	return &GeoBus{
		clock:       clock,
		logger:      logger,
		best:        make(map[string]Result),
		subscribers: make(map[string]map[chan Result]struct{}),
	}
}

// NewOrchestrator returns an Orchestrator that publishes the results of the given providers on
// the bus.
func (b *GeoBus) NewOrchestrator(providers []Provider) *Orchestrator {
	return &Orchestrator{Bus: b, Providers: providers}
}

// Subscribe registers a buffered channel for the results of key. The current best result, if
// any, is delivered right away. The returned function unregisters and closes the channel.
// When the last subscriber of key leaves, the best result of key is forgotten.
func (b *GeoBus) Subscribe(key string, size int) (<-chan Result, func()) {
	ch := make(chan Result, size)

	b.mu.Lock()
	subs, ok := b.subscribers[key]
	if !ok {
		subs = make(map[chan Result]struct{})
		b.subscribers[key] = subs
	}
	subs[ch] = struct{}{}
	if best, ok := b.best[key]; ok && !best.expired(b.clock.Now()) && size > 0 {
		ch <- best
	}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers[key], ch)
			if len(b.subscribers[key]) == 0 {
				delete(b.subscribers, key)
				delete(b.best, key)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish keeps r as the best result of its key if there is none yet, the previous one expired,
// r is more accurate, or the same source reports a significant move. Kept results are sent to
// the subscribers of the key. Results without accuracy or with an invalid position are dropped.
func (b *GeoBus) Publish(r Result) {
	if r.AccuracyMeters == 0 || !r.Coordinate().Valid() {
		return
	}
	now := b.clock.Now()
	if r.At.IsZero() {
		r.At = now
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev, ok := b.best[r.Key]
	sameSource := ok && prev.Source == r.Source
	switch {
	case !ok, prev.expired(now), r.improves(prev),
		sameSource && r.Coordinate().PosHasSignificantChange(prev.Coordinate()):
		b.best[r.Key] = r
		b.broadcast(r)
		if b.logger != nil {
			b.logger.Debug("geolocation result published", slog.String("key", r.Key),
				slog.String("source", r.Source), slog.Float64("accuracy", r.AccuracyMeters))
		}
	case sameSource:
		// unchanged reading of the same source keeps the result alive
		prev.At = r.At
		b.best[r.Key] = prev
	}
}

// broadcast must be called with the lock held. Slow subscribers miss results.
func (b *GeoBus) broadcast(r Result) {
	for ch := range b.subscribers[r.Key] {
		select {
		case ch <- r:
		default:
		}
	}
}

// Best returns the current unexpired best result of key.
func (b *GeoBus) Best(key string) (Result, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.best[key]
	if !ok || r.expired(b.clock.Now()) {
		return Result{}, false
	}
	return r, true
}

// Truncate cuts x to the given number of decimal places.
func Truncate(x float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Trunc(x*p) / p
}
