// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geo

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	StrategyEquirectangular = "equirectangular"
	StrategyHaversine       = "haversine"
)

// LocalOffset is a displacement in a local tangent plane, in meters.
type LocalOffset struct {
	East  float64
	Up    float64
	North float64
}

// Vec3 returns the offset in tracking-space axes: +X east, +Y up, -Z north.
func (o LocalOffset) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{o.East, o.Up, -o.North}
}

// Negate returns the offset pointing the opposite way.
func (o LocalOffset) Negate() LocalOffset {
	return LocalOffset{East: -o.East, Up: -o.Up, North: -o.North}
}

// HorizontalDistance returns the length of the east/north component.
func (o LocalOffset) HorizontalDistance() float64 {
	return math.Hypot(o.East, o.North)
}

func (o LocalOffset) String() string {
	return fmt.Sprintf("east=%.2fm up=%.2fm north=%.2fm", o.East, o.Up, o.North)
}

// OffsetStrategy turns an observer and a target coordinate into a local offset. All
// implementations are flat-earth approximations that are only accurate at short range.
type OffsetStrategy interface {
	Name() string
	Offset(observer, target Coordinate) (LocalOffset, error)
}

// Equirectangular maps latitude and longitude differences linearly to north and east
// distances, scaling longitude by the cosine of the mean latitude.
type Equirectangular struct{}

// HaversineBearing computes the great-circle distance and initial bearing and splits the
// distance into east and north components.
type HaversineBearing struct{}

// DefaultStrategy is used by ComputeOffset.
var DefaultStrategy OffsetStrategy = Equirectangular{}

// ComputeOffset returns the offset from observer to target using DefaultStrategy.
func ComputeOffset(observer, target Coordinate) (LocalOffset, error) {
	return DefaultStrategy.Offset(observer, target)
}

// StrategyByName returns the OffsetStrategy for the given name.
func StrategyByName(name string) (OffsetStrategy, error) {
	switch strings.ToLower(name) {
	case StrategyEquirectangular, "":
		return Equirectangular{}, nil
	case StrategyHaversine:
		return HaversineBearing{}, nil
	default:
		return nil, fmt.Errorf("unsupported offset strategy: %s", name)
	}
}

func (Equirectangular) Name() string {
	return StrategyEquirectangular
}

func (Equirectangular) Offset(observer, target Coordinate) (LocalOffset, error) {
	if err := validatePair(observer, target); err != nil {
		return LocalOffset{}, err
	}

	dLat := radians(target.Lat - observer.Lat)
	dLon := radians(target.Lon - observer.Lon)
	latAvg := radians((target.Lat + observer.Lat) / 2)

	return LocalOffset{
		East:  dLon * EquatorialRadius * math.Cos(latAvg),
		Up:    target.Altitude() - observer.Altitude(),
		North: dLat * EquatorialRadius,
	}, nil
}

func (HaversineBearing) Name() string {
	return StrategyHaversine
}

func (HaversineBearing) Offset(observer, target Coordinate) (LocalOffset, error) {
	if err := validatePair(observer, target); err != nil {
		return LocalOffset{}, err
	}

	distance := Haversine(observer, target)
	if distance == 0 {
		return LocalOffset{Up: target.Altitude() - observer.Altitude()}, nil
	}
	bearing := Bearing(observer, target)

	return LocalOffset{
		East:  distance * math.Sin(bearing),
		Up:    target.Altitude() - observer.Altitude(),
		North: distance * math.Cos(bearing),
	}, nil
}

func validatePair(observer, target Coordinate) error {
	if err := observer.Validate(); err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return nil
}
