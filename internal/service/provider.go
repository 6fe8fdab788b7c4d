// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"errors"
	"fmt"

	"github.com/wneessen/geoanchor/internal/geobus"
	"github.com/wneessen/geoanchor/internal/geobus/provider/geolocation_file"
	"github.com/wneessen/geoanchor/internal/geobus/provider/gpsd"
	"github.com/wneessen/geoanchor/internal/geobus/provider/ichnaea"
	"github.com/wneessen/geoanchor/internal/geobus/provider/serialnmea"
	"github.com/wneessen/geoanchor/internal/http"
	"github.com/wneessen/geoanchor/internal/logger"
)

// ErrNoProviders is returned if server side fixes are configured without any provider.
var ErrNoProviders = errors.New("no geolocation providers enabled")

func (s *Service) selectGeobusProviders() ([]geobus.Provider, error) {
	conf := s.config.GeoLocation
	var provider []geobus.Provider

	if !conf.DisableGeolocationFile {
		provider = append(provider, geolocation_file.NewGeolocationFileProvider(conf.File))
	}

	if !conf.DisableGPSD {
		provider = append(provider, gpsd.NewGeolocationGPSDProvider(s.logger, conf.GPSDHost, conf.GPSDPort))
	}

	// A serial receiver has no sensible default port, so it is only used when one is configured
	if !conf.DisableNMEA && conf.NMEAPort != "" {
		provider = append(provider, serialnmea.NewGeolocationNMEAProvider(s.logger, conf.NMEAPort, conf.NMEABaud))
	}

	if !conf.DisableICHNAEA {
		mls, err := ichnaea.NewGeolocationICHNAEAProvider(http.New(s.logger), s.logger, conf.Ichnaea)
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}
	if len(provider) == 0 {
		return nil, fmt.Errorf("failed to select geolocation providers: %w", ErrNoProviders)
	}

	return provider, nil
}
