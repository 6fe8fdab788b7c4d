// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package ichnaea implements a geobus provider for Ichnaea compatible geolocation APIs such as
// beaconDB. Visible WiFi access points are sent along with the request when the host can scan.
package ichnaea

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mdlayher/wifi"

	"github.com/wneessen/geoanchor/internal/geobus"
	"github.com/wneessen/geoanchor/internal/http"
	"github.com/wneessen/geoanchor/internal/logger"
)

const (
	DefaultEndpoint = "https://api.beacondb.net/v1/geolocate"
	name            = "ichnaea"

	lookupTimeout = time.Second * 5
	lookupPeriod  = time.Minute
	resultTTL     = time.Minute * 10
	scanMaxAge    = time.Minute * 2
)

var (
	ErrNoLocation   = errors.New("geolocation API returned no location")
	ErrNoHTTPClient = errors.New("http client is required")
)

// scanner lists the access points seen by the station interfaces of the host.
type scanner interface {
	Interfaces() ([]*wifi.Interface, error)
	AccessPoints(ifi *wifi.Interface) ([]*wifi.BSS, error)
}

// GeolocationICHNAEAProvider resolves the host position through an Ichnaea compatible API.
type GeolocationICHNAEAProvider struct {
	endpoint string
	http     *http.Client
	logger   *logger.Logger
	clock    clockwork.Clock
	wlan     scanner
	period   time.Duration
	locateFn func(ctx context.Context) (geobus.Coordinate, error)

	scanLock sync.Mutex
	scanned  time.Time
	aps      []WirelessNetwork
}

// APIResult is the response of the geolocate endpoint.
type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

// WirelessNetwork is an access point entry of the geolocate request.
type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

type apiRequest struct {
	ConsiderIP   bool              `json:"considerIp"`
	AccessPoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
}

// NewGeolocationICHNAEAProvider returns a provider for the given API endpoint. An empty
// endpoint selects DefaultEndpoint. Without WiFi support the lookup is IP based only.
func NewGeolocationICHNAEAProvider(client *http.Client, log *logger.Logger, endpoint string) (*GeolocationICHNAEAProvider, error) {
	if client == nil {
		return nil, ErrNoHTTPClient
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	provider := &GeolocationICHNAEAProvider{
		endpoint: endpoint,
		http:     client,
		logger:   log,
		clock:    clockwork.NewRealClock(),
		period:   lookupPeriod,
	}
	if wlan, err := wifi.New(); err != nil {
		log.Debug("WiFi not available, using IP based geolocation only", logger.Err(err))
	} else {
		provider.wlan = wlan
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *GeolocationICHNAEAProvider) Name() string {
	return name
}

// LookupStream queries the API right away and then once per period. A result is emitted for
// the first position and for every significant change.
func (p *GeolocationICHNAEAProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	emitter := geobus.NewEmitter(p.clock, key, name, resultTTL)
	return geobus.Poll(ctx, emitter, p.period, p.locateFn, func(err error) {
		p.logger.Debug("ichnaea lookup failed", logger.Err(err))
	})
}

// accessPoints returns the visible access points, scanning again once the last scan is older
// than scanMaxAge. Scan failures yield an empty list.
func (p *GeolocationICHNAEAProvider) accessPoints() []WirelessNetwork {
	if p.wlan == nil {
		return nil
	}
	p.scanLock.Lock()
	defer p.scanLock.Unlock()
	if !p.scanned.IsZero() && p.clock.Since(p.scanned) < scanMaxAge {
		return p.aps
	}

	list, err := p.wifiAccessPoints()
	if err != nil {
		p.logger.Debug("WiFi scan failed", logger.Err(err))
	}
	p.aps = list
	p.scanned = p.clock.Now()
	return list
}

func (p *GeolocationICHNAEAProvider) wifiAccessPoints() ([]WirelessNetwork, error) {
	ifaces, err := p.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var list []WirelessNetwork
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		aps, err := p.wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			// Networks ending in _nomap opted out of location services
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}
	return list, nil
}

func (p *GeolocationICHNAEAProvider) locate(ctx context.Context) (geobus.Coordinate, error) {
	request := apiRequest{ConsiderIP: true, AccessPoints: p.accessPoints()}
	var result APIResult
	if _, err := p.http.PostJSON(ctx, p.endpoint, request, &result, lookupTimeout); err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}

	coord := geobus.Coordinate{
		Lat: geobus.Truncate(result.Location.Latitude, geobus.TruncPrecision),
		Lon: geobus.Truncate(result.Location.Longitude, geobus.TruncPrecision),
		Acc: result.Accuracy,
	}
	if coord.Acc <= 0 || !coord.Valid() {
		return geobus.Coordinate{}, ErrNoLocation
	}
	return coord, nil
}
