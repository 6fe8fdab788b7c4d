// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"fmt"

	"github.com/wneessen/geoanchor/internal/geobus"
	"github.com/wneessen/geoanchor/internal/placement"
)

// GeoBusLocator resolves fixes server side by racing the providers of a geobus orchestrator.
type GeoBusLocator struct {
	Orchestrator *geobus.Orchestrator
	// MaxAccuracy is the worst accepted accuracy in meters for high accuracy requests.
	MaxAccuracy float64
}

// Locate waits for the first provider result that satisfies the request.
func (l GeoBusLocator) Locate(ctx context.Context, req Request) (Fix, error) {
	maxAccuracy := 0.0
	if req.HighAccuracy {
		maxAccuracy = l.MaxAccuracy
	}
	result, err := l.Orchestrator.Locate(ctx, req.Session, maxAccuracy)
	if err != nil {
		return Fix{}, fmt.Errorf("%w: %w", placement.ErrFixUnavailable, err)
	}
	return Fix{
		Coordinate: result.Geo(),
		Accuracy:   result.AccuracyMeters,
		Source:     result.Source,
		At:         result.At,
	}, nil
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func(ctx context.Context, req Request) (Fix, error)

func (f LocatorFunc) Locate(ctx context.Context, req Request) (Fix, error) {
	return f(ctx, req)
}
