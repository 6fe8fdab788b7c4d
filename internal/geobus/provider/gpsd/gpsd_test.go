// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/geoanchor/internal/geobus"
	"github.com/wneessen/geoanchor/internal/gpspoll"
	"github.com/wneessen/geoanchor/internal/logger"
)

const (
	testLat = 6.2825
	testLon = -75.6203
)

func testProvider() *GeolocationGPSDProvider {
	provider := NewGeolocationGPSDProvider(logger.NewLogger(slog.LevelDebug, io.Discard), "localhost", "2947")
	provider.watchFn = nil
	return provider
}

func TestNewGeolocationGPSDProvider(t *testing.T) {
	provider := testProvider()
	if provider.addr != "localhost:2947" {
		t.Errorf("expected address to be localhost:2947, got %s", provider.addr)
	}
	if provider.Name() != name {
		t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
	}
}

func TestCoordinate(t *testing.T) {
	tests := []struct {
		name   string
		fix    gpspoll.Fix
		hasAlt bool
	}{
		{"3D fix keeps altitude", gpspoll.Fix{Lat: testLat, Lon: testLon, Alt: 1913, Acc: 4.8, Mode: 3}, true},
		{"2D fix drops altitude", gpspoll.Fix{Lat: testLat, Lon: testLon, Alt: 1913, Acc: 4.8, Mode: 2}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			coord := coordinate(tc.fix)
			if coord.Lat != testLat || coord.Lon != testLon || coord.Acc != 4.8 {
				t.Errorf("unexpected coordinate %+v", coord)
			}
			if coord.HasAlt != tc.hasAlt {
				t.Errorf("expected altitude presence %t, got %t", tc.hasAlt, coord.HasAlt)
			}
		})
	}
}

func TestGeolocationGPSDProvider_LookupStream(t *testing.T) {
	t.Run("fetching GPS data fails on first run but then succeeds", func(t *testing.T) {
		runCount := 0
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := testProvider()
			provider.period = time.Millisecond * 10
			provider.locateFn = func(ctx context.Context) (gpspoll.Fix, error) {
				if runCount == 0 {
					runCount++
					return gpspoll.Fix{}, errors.New("intentionally failing")
				}
				if runCount == 1 {
					runCount++
					return gpspoll.Fix{Lat: 1, Lon: 2, Acc: 3, Mode: 1}, nil
				}
				return gpspoll.Fix{Lat: 1.0, Lon: 2.0, Alt: 12, Acc: 3.0, Mode: 3}, nil
			}

			out := provider.LookupStream(ctx, "test")
			if out == nil {
				t.Fatal("expected stream to be non-nil")
			}

			var result geobus.Result
			select {
			case r := <-out:
				result = r
				cancel()
			case <-ctx.Done():
				t.Fatalf("context done before result: %v", ctx.Err())
			}
			synctest.Wait()

			if result.Lat != 1.0 {
				t.Errorf("expected latitude to be %f, got %f", 1.0, result.Lat)
			}
			if result.Lon != 2.0 {
				t.Errorf("expected longitude to be %f, got %f", 2.0, result.Lon)
			}
			if result.AccuracyMeters != 3.0 {
				t.Errorf("expected accuracy to be %f, got %f", 3.0, result.AccuracyMeters)
			}
			if !result.HasAlt || result.Alt != 12 {
				t.Errorf("expected altitude to be 12, got %f", result.Alt)
			}
			if result.Source != name || result.Key != "test" || result.TTL != resultTTL {
				t.Errorf("unexpected result identity %+v", result)
			}
		})
	})
	t.Run("watch stream emits moved fixes only", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := testProvider()
			provider.locateFn = func(context.Context) (gpspoll.Fix, error) {
				return gpspoll.Fix{}, errors.New("no poll")
			}
			provider.watchFn = func(ctx context.Context, emit func(gpspoll.Fix)) error {
				emit(gpspoll.Fix{Lat: testLat, Lon: testLon, Acc: 5, Mode: 2})
				emit(gpspoll.Fix{Lat: testLat, Lon: testLon, Acc: 5, Mode: 2})
				emit(gpspoll.Fix{Lat: testLat + 0.001, Lon: testLon, Acc: 5, Mode: 2})
				<-ctx.Done()
				return ctx.Err()
			}

			out := provider.LookupStream(ctx, "test")
			first := <-out
			second := <-out
			cancel()
			synctest.Wait()

			if first.Lat != geobus.Truncate(testLat, geobus.TruncPrecision) {
				t.Errorf("expected first latitude to be %f, got %f", testLat, first.Lat)
			}
			if second.Lat != geobus.Truncate(testLat+0.001, geobus.TruncPrecision) {
				t.Errorf("expected second latitude to be moved, got %f", second.Lat)
			}
			if first.HasAlt {
				t.Error("expected 2D fix to carry no altitude")
			}
		})
	})
}
