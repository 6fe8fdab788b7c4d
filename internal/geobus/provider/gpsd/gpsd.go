// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/geoanchor/internal/geobus"
	"github.com/wneessen/geoanchor/internal/gpspoll"
	"github.com/wneessen/geoanchor/internal/logger"
)

const (
	name        = "gpsd"
	pollTimeout = time.Second * 5
	resultTTL   = time.Minute * 2
)

// GeolocationGPSDProvider reads fixes from a gpsd daemon. Every cycle starts with a one-shot
// poll and then follows the TPV stream until the connection ends.
type GeolocationGPSDProvider struct {
	addr     string
	logger   *logger.Logger
	period   time.Duration
	locateFn func(ctx context.Context) (gpspoll.Fix, error)
	watchFn  func(ctx context.Context, emit func(gpspoll.Fix)) error
}

func NewGeolocationGPSDProvider(log *logger.Logger, host, port string) *GeolocationGPSDProvider {
	provider := &GeolocationGPSDProvider{
		addr:   net.JoinHostPort(host, port),
		logger: log,
		period: time.Second * 30,
	}
	client := gpspoll.New(host, port)
	provider.locateFn = func(ctx context.Context) (gpspoll.Fix, error) {
		ctxPoll, cancel := context.WithTimeout(ctx, pollTimeout)
		defer cancel()
		return client.Poll(ctxPoll)
	}
	provider.watchFn = provider.watch
	return provider
}

func (p *GeolocationGPSDProvider) Name() string {
	return name
}

func (p *GeolocationGPSDProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)

	// emit is called from the poll loop and the go-gpsd watch goroutine
	var mu sync.Mutex
	closed := false
	emitter := geobus.NewEmitter(nil, key, name, resultTTL)
	emit := func(fix gpspoll.Fix) {
		mu.Lock()
		defer mu.Unlock()
		if closed || !fix.Has2DFix() {
			return
		}
		emitter.Emit(ctx, out, coordinate(fix))
	}

	go func() {
		defer func() {
			mu.Lock()
			closed = true
			close(out)
			mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			fix, err := p.locateFn(ctx)
			if err != nil {
				p.logger.Debug("failed to poll gpsd", logger.Err(err))
			} else {
				emit(fix)
			}

			if p.watchFn != nil {
				if err = p.watchFn(ctx, emit); err != nil && ctx.Err() == nil {
					p.logger.Debug("gpsd watch ended", logger.Err(err))
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
	}()

	return out
}

// watch follows the TPV stream of gpsd until the connection ends or the context is done.
func (p *GeolocationGPSDProvider) watch(ctx context.Context, emit func(gpspoll.Fix)) error {
	session, err := gpsd.Dial(p.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to gpsd at %q: %w", p.addr, err)
	}

	session.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok {
			return
		}
		emit(gpspoll.FromReport(tpv.Lat, tpv.Lon, tpv.Alt, tpv.Epx, tpv.Epy, int(tpv.Mode)))
	})

	// go-gpsd has no Close(); the session goroutine ends with the connection.
	done := session.Watch()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// coordinate converts a fix into a reading. Only 3D fixes carry an altitude.
func coordinate(fix gpspoll.Fix) geobus.Coordinate {
	return geobus.Coordinate{
		Lat:    geobus.Truncate(fix.Lat, geobus.TruncPrecision),
		Lon:    geobus.Truncate(fix.Lon, geobus.TruncPrecision),
		Alt:    fix.Alt,
		Acc:    geobus.Truncate(fix.Acc, geobus.TruncPrecision),
		HasAlt: fix.Has3DFix(),
	}
}
