// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package serialnmea

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/wneessen/geoanchor/internal/geobus"
	"github.com/wneessen/geoanchor/internal/logger"
)

const (
	sentenceGGA         = "$GPGGA,092750.000,0617.0000,N,07537.2000,W,1,8,1.03,1913.0,M,5.2,M,,*44"
	sentenceGGANoFix    = "$GPGGA,092751.000,0617.0000,N,07537.2000,W,0,0,,,M,,M,,*6D"
	sentenceGGAMoved    = "$GPGGA,092752.000,0617.0600,N,07537.2000,W,2,9,0.80,1914.5,M,5.2,M,,*4A"
	sentenceRMC         = "$GPRMC,092750.000,A,0617.0000,N,07537.2000,W,0.02,31.66,280511,,,A*4E"
	sentenceRMCVoid     = "$GPRMC,092750.000,V,0617.0000,N,07537.2000,W,0.02,31.66,280511,,,N*56"
	sentenceBadSum      = "$GPGGA,092750.000,0617.0000,N,07537.2000,W,1,8,1.03,1913.0,M,5.2,M,,*00"
	testLat             = 6.2833333
	testLon             = -75.62
	coordinateTolerance = 1e-6
)

func testProvider() *GeolocationNMEAProvider {
	return NewGeolocationNMEAProvider(logger.NewLogger(slog.LevelDebug, io.Discard), "/dev/ttyUSB0", 9600)
}

func TestNewGeolocationNMEAProvider(t *testing.T) {
	provider := testProvider()
	if provider == nil {
		t.Fatal("expected provider to be non-nil")
	}
	if provider.Name() != name {
		t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
	}
	if provider.baud != 9600 {
		t.Errorf("expected baud rate to be 9600, got %d", provider.baud)
	}
}

func TestParseSentence(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		ok     bool
		hasAlt bool
		acc    float64
	}{
		{"GGA with fix", sentenceGGA, true, true, 1.03 * userRangeError},
		{"GGA without fix", sentenceGGANoFix, false, false, 0},
		{"RMC valid", sentenceRMC, true, false, geobus.AccuracyGPS2D},
		{"RMC void", sentenceRMCVoid, false, false, 0},
		{"checksum mismatch", sentenceBadSum, false, false, 0},
		{"not a sentence", "hello world", false, false, 0},
		{"empty line", "", false, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			coord, ok := parseSentence(tc.line)
			if ok != tc.ok {
				t.Fatalf("expected ok to be %t, got %t", tc.ok, ok)
			}
			if !ok {
				return
			}
			if math.Abs(coord.Lat-testLat) > coordinateTolerance {
				t.Errorf("expected latitude to be %f, got %f", testLat, coord.Lat)
			}
			if math.Abs(coord.Lon-testLon) > coordinateTolerance {
				t.Errorf("expected longitude to be %f, got %f", testLon, coord.Lon)
			}
			if coord.HasAlt != tc.hasAlt {
				t.Errorf("expected altitude presence to be %t, got %t", tc.hasAlt, coord.HasAlt)
			}
			if math.Abs(coord.Acc-tc.acc) > coordinateTolerance {
				t.Errorf("expected accuracy to be %f, got %f", tc.acc, coord.Acc)
			}
		})
	}
	t.Run("GGA altitude is read", func(t *testing.T) {
		coord, ok := parseSentence(sentenceGGA)
		if !ok {
			t.Fatal("expected sentence to parse")
		}
		if coord.Alt != 1913 {
			t.Errorf("expected altitude to be 1913, got %f", coord.Alt)
		}
	})
}

func TestGeolocationNMEAProvider_LookupStream(t *testing.T) {
	t.Run("stream emits changed positions only", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := testProvider()
			provider.openFn = func() (io.ReadCloser, error) {
				data := strings.Join([]string{
					sentenceGGANoFix, sentenceGGA, sentenceRMC, "garbage", sentenceGGAMoved,
				}, "\r\n")
				return io.NopCloser(strings.NewReader(data)), nil
			}

			out := provider.LookupStream(ctx, "test")
			first := <-out
			second := <-out
			cancel()
			synctest.Wait()

			if !first.HasAlt || first.Alt != 1913 {
				t.Errorf("expected first result altitude to be 1913, got %f", first.Alt)
			}
			if second.Alt != 1914.5 {
				t.Errorf("expected second result altitude to be 1914.5, got %f", second.Alt)
			}
			if second.Lat <= first.Lat {
				t.Errorf("expected second result to have moved north, got %f <= %f", second.Lat, first.Lat)
			}
			if second.Source != name {
				t.Errorf("expected source to be %s, got %s", name, second.Source)
			}
		})
	})
	t.Run("failing port is reopened", func(t *testing.T) {
		runCount := 0
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := testProvider()
			provider.period = time.Millisecond * 10
			provider.openFn = func() (io.ReadCloser, error) {
				if runCount == 0 {
					runCount++
					return nil, errors.New("intentionally failing")
				}
				return io.NopCloser(strings.NewReader(sentenceRMC + "\r\n")), nil
			}

			out := provider.LookupStream(ctx, "test")
			result := <-out
			cancel()
			synctest.Wait()

			if result.AccuracyMeters != geobus.AccuracyGPS2D {
				t.Errorf("expected accuracy to be %d, got %f", geobus.AccuracyGPS2D, result.AccuracyMeters)
			}
		})
	})
}
