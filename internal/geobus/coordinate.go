// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"github.com/wneessen/geoanchor/internal/geo"
)

const (
	DistanceThreshold = 1.0 // meters
	AccuracyThreshold = 5.0 // meters
)

// Coordinate represents a geographic position reading of a provider.
type Coordinate struct {
	Lat float64
	Lon float64
	Alt float64
	Acc float64

	HasAlt bool
}

// PosHasSignificantChange checks if the geographic position differs significantly from
// another based on the distance threshold. We are using the Haversine formula to calculate
// great-circle distance between two points on a sphere (in our case: Earth).
func (c Coordinate) PosHasSignificantChange(other Coordinate) bool {
	// Higher accuracy always trumps the distance threshold.
	if c.Acc < other.Acc && other.Acc-c.Acc > AccuracyThreshold {
		return true
	}
	return geo.Haversine(c.Geo(), other.Geo()) > DistanceThreshold
}

// Geo converts the reading into a geodetic coordinate.
func (c Coordinate) Geo() geo.Coordinate {
	if c.HasAlt {
		return geo.NewCoordinateWithAltitude(c.Lat, c.Lon, c.Alt)
	}
	return geo.NewCoordinate(c.Lat, c.Lon)
}

// Valid checks if the coordinate is valid according to the EPSG logic
func (c Coordinate) Valid() bool {
	return c.Geo().Valid()
}
