// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpspoll implements a one-shot gpsd client that waits for the first TPV report.
package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"github.com/wneessen/geoanchor/internal/geo"
)

const (
	// accuracies in meters for reports without error estimates
	fallbackAccuracy3DFix = 10
	fallbackAccuracy2DFix = 25
	fallbackAccuracyNoFix = 1e6
	watchTimeout          = time.Second * 2
	watchCommand          = `?WATCH={"enable":true,"json":true}` + "\n"

	mode2D = 2
	mode3D = 3
)

// ErrNoTPV is returned if gpsd closed the stream before sending a TPV report.
var ErrNoTPV = errors.New("no TPV response received from GPSd")

// Client polls a single fix from gpsd.
type Client struct {
	Addr string
}

// Fix represents a single GPS fix from gpsd.
type Fix struct {
	Lat  float64
	Lon  float64
	Alt  float64
	Acc  float64
	Mode int
}

// tpvReport holds the position fields of a gpsd TPV report.
type tpvReport struct {
	Class string  `json:"class"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"alt"`
	Mode  int     `json:"mode"`
	Epx   float64 `json:"epx"`
	Epy   float64 `json:"epy"`
	Eph   float64 `json:"eph"`
}

// New constructs a new Client for the given host and port.
func New(host, port string) *Client {
	return &Client{
		Addr: net.JoinHostPort(host, port),
	}
}

// Poll connects to gpsd, enables watch mode and returns the first TPV report. Without a
// deadline on ctx the poll gives up after watchTimeout.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return Fix{}, fmt.Errorf("failed to connect to gpsd at %q: %w", c.Addr, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer func() {
		stop()
		_ = conn.Close()
	}()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(watchTimeout)
	}
	_ = conn.SetDeadline(deadline)

	if _, err = io.WriteString(conn, watchCommand); err != nil {
		return Fix{}, fmt.Errorf("failed to enable gpsd watch mode: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var report tpvReport
		if json.Unmarshal(scanner.Bytes(), &report) != nil || report.Class != "TPV" {
			continue
		}
		return Fix{
			Lat:  report.Lat,
			Lon:  report.Lon,
			Alt:  report.Alt,
			Acc:  horizontalAccuracyMeters(report.Eph, report.Epx, report.Epy, report.Mode),
			Mode: report.Mode,
		}, nil
	}
	if ctx.Err() != nil {
		return Fix{}, ctx.Err()
	}
	if err = scanner.Err(); err != nil {
		return Fix{}, fmt.Errorf("failed to read gpsd reports: %w", err)
	}
	return Fix{}, ErrNoTPV
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= mode2D
}

// Has3DFix reports whether the fix carries a usable altitude.
func (f Fix) Has3DFix() bool {
	return f.Mode >= mode3D
}

// Geo returns the geodetic coordinate of the fix. The altitude is only set for 3D fixes.
func (f Fix) Geo() geo.Coordinate {
	if f.Has3DFix() {
		return geo.NewCoordinateWithAltitude(f.Lat, f.Lon, f.Alt)
	}
	return geo.NewCoordinate(f.Lat, f.Lon)
}

// FromReport builds a Fix from the position fields of a streamed TPV report.
func FromReport(lat, lon, alt, epx, epy float64, mode int) Fix {
	return Fix{
		Lat:  lat,
		Lon:  lon,
		Alt:  alt,
		Acc:  horizontalAccuracyMeters(0, epx, epy, mode),
		Mode: mode,
	}
}

func horizontalAccuracyMeters(eph, epx, epy float64, mode int) float64 {
	switch {
	case eph > 0:
		return eph
	case epx > 0 && epy > 0:
		return math.Hypot(epx, epy)
	default:
		return horizontalAccuracyFallback(mode)
	}
}

func horizontalAccuracyFallback(mode int) float64 {
	switch mode {
	case mode3D:
		return fallbackAccuracy3DFix
	case mode2D:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
