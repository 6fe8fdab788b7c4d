// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geo converts pairs of geodetic coordinates into local tangent-plane offsets.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/wneessen/geoanchor/internal/vartype"
)

const (
	// EquatorialRadius is the WGS84 semi-major axis in meters.
	EquatorialRadius = 6378137.0
	// MeanRadius is the mean earth radius in meters.
	MeanRadius = 6371000.0
)

// ErrInvalidCoordinate is returned for out-of-range or non-finite geodetic input.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate represents a geodetic coordinate. Latitude and longitude are in degrees, the
// optional altitude is in meters above the reference ellipsoid.
type Coordinate struct {
	Lat float64
	Lon float64
	Alt vartype.VarFloat64
}

// NewCoordinate returns a Coordinate without altitude.
func NewCoordinate(lat, lon float64) Coordinate {
	return Coordinate{Lat: lat, Lon: lon}
}

// NewCoordinateWithAltitude returns a Coordinate with altitude.
func NewCoordinateWithAltitude(lat, lon, alt float64) Coordinate {
	return Coordinate{Lat: lat, Lon: lon, Alt: vartype.NewVariable(alt)}
}

// Altitude returns the altitude in meters, 0 if it is absent.
func (c Coordinate) Altitude() float64 {
	return c.Alt.ValueOr(0)
}

// Valid checks if the coordinate is valid according to the EPSG logic
func (c Coordinate) Valid() bool {
	return c.Validate() == nil
}

// Validate returns ErrInvalidCoordinate if the latitude or longitude is out of range or any
// component is not a finite number.
func (c Coordinate) Validate() error {
	if !finite(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, c.Lat)
	}
	if !finite(c.Lon) || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, c.Lon)
	}
	if c.Alt.IsSet() && !finite(c.Alt.Value()) {
		return fmt.Errorf("%w: altitude %v is not finite", ErrInvalidCoordinate, c.Alt.Value())
	}
	return nil
}

func (c Coordinate) String() string {
	if !c.Alt.IsSet() {
		return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
	}
	return fmt.Sprintf("%.6f,%.6f,%.1fm", c.Lat, c.Lon, c.Alt.Value())
}

// Haversine returns the great-circle distance in meters between two coordinates on a sphere
// with the mean earth radius.
func Haversine(from, to Coordinate) float64 {
	lat1 := radians(from.Lat)
	lat2 := radians(to.Lat)
	dLat := radians(to.Lat - from.Lat)
	dLon := radians(to.Lon - from.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return MeanRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing returns the initial great-circle bearing from one coordinate to another, in radians
// clockwise from true north.
func Bearing(from, to Coordinate) float64 {
	lat1 := radians(from.Lat)
	lat2 := radians(to.Lat)
	dLon := radians(to.Lon - from.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Atan2(y, x)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
