// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNoResult is returned by Locate if no sufficiently accurate result was published in time.
var ErrNoResult = errors.New("no geolocation result")

// Orchestrator runs a set of providers and publishes their readings on a GeoBus.
type Orchestrator struct {
	Bus       *GeoBus
	Providers []Provider
}

// Track runs all providers for key until ctx is done. Providers whose stream ends are restarted
// with an exponential backoff.
func (o *Orchestrator) Track(ctx context.Context, key string) {
	var wg sync.WaitGroup
	for _, p := range o.Providers {
		wg.Go(func() {
			o.run(ctx, p, key)
		})
	}
	wg.Wait()
}

// Locate tracks all providers until a result for key with an accuracy of at most maxAccuracy
// meters is available, or the context ends. A maxAccuracy of 0 accepts any result.
func (o *Orchestrator) Locate(ctx context.Context, key string, maxAccuracy float64) (Result, error) {
	if len(o.Providers) == 0 {
		return Result{}, fmt.Errorf("%w: no providers configured", ErrNoResult)
	}

	results, unsubscribe := o.Bus.Subscribe(key, 8)
	defer unsubscribe()

	trackCtx, stop := context.WithCancel(ctx)
	tracking := make(chan struct{})
	go func() {
		defer close(tracking)
		o.Track(trackCtx, key)
	}()
	defer func() {
		stop()
		<-tracking
	}()

	for {
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %w", ErrNoResult, ctx.Err())
		case r, ok := <-results:
			if !ok {
				return Result{}, ErrNoResult
			}
			if maxAccuracy <= 0 || r.AccuracyMeters <= maxAccuracy {
				return r, nil
			}
		}
	}
}

// run publishes the stream of a single provider and restarts it when it ends or fails to start.
func (o *Orchestrator) run(ctx context.Context, p Provider, key string) {
	backoff := initialBackoff
	for ctx.Err() == nil {
		if !o.drain(ctx, o.lookup(ctx, p, key), &backoff) || !o.wait(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// drain publishes the stream until it is closed. It reports false if ctx ended first.
func (o *Orchestrator) drain(ctx context.Context, stream <-chan Result, backoff *time.Duration) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case r, ok := <-stream:
			if !ok {
				return true
			}
			o.Bus.Publish(r)
			*backoff = initialBackoff
		}
	}
}

// lookup starts the stream of p. A provider that panics yields a closed stream.
func (o *Orchestrator) lookup(ctx context.Context, p Provider, key string) (stream <-chan Result) {
	defer func() {
		if r := recover(); r != nil {
			if o.Bus.logger != nil {
				o.Bus.logger.Error("geolocation provider panicked", slog.String("provider", p.Name()),
					slog.Any("panic", r))
			}
			closed := make(chan Result)
			close(closed)
			stream = closed
		}
	}()
	if stream = p.LookupStream(ctx, key); stream == nil {
		closed := make(chan Result)
		close(closed)
		stream = closed
	}
	return stream
}

// wait blocks for d on the bus clock and reports false if ctx ended first.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration) bool {
	timer := o.Bus.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
