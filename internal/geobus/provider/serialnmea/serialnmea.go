// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package serialnmea

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/wneessen/geoanchor/internal/geobus"
	"github.com/wneessen/geoanchor/internal/logger"
)

const (
	name      = "nmea"
	resultTTL = time.Minute * 2

	// userRangeError is the assumed user equivalent range error in meters of a consumer
	// receiver. Multiplied with the HDOP it yields the horizontal accuracy.
	userRangeError = 5.0
)

// GeolocationNMEAProvider reads NMEA 0183 sentences from a serial GPS receiver.
type GeolocationNMEAProvider struct {
	port   string
	baud   uint
	logger *logger.Logger
	period time.Duration
	openFn func() (io.ReadCloser, error)
}

// NewGeolocationNMEAProvider returns a provider reading from the given serial port.
func NewGeolocationNMEAProvider(log *logger.Logger, port string, baud uint) *GeolocationNMEAProvider {
	provider := &GeolocationNMEAProvider{
		port:   port,
		baud:   baud,
		logger: log,
		period: time.Second * 30,
	}
	provider.openFn = provider.openSerial
	return provider
}

func (p *GeolocationNMEAProvider) Name() string {
	return name
}

// LookupStream reads the serial port and emits a result for every GGA or RMC sentence that
// moved the position. The port is reopened after the period if reading fails.
func (p *GeolocationNMEAProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		emitter := geobus.NewEmitter(nil, key, name, resultTTL)
		for {
			if err := p.readPort(ctx, emitter, out); err != nil && ctx.Err() == nil {
				p.logger.Debug("failed to read NMEA stream", slog.String("port", p.port), logger.Err(err))
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

func (p *GeolocationNMEAProvider) readPort(ctx context.Context, emitter *geobus.Emitter, out chan<- geobus.Result) error {
	port, err := p.openFn()
	if err != nil {
		return fmt.Errorf("failed to open serial port %q: %w", p.port, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = port.Close()
	})
	defer func() {
		if stop() {
			_ = port.Close()
		}
	}()

	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		coord, ok := parseSentence(scanner.Text())
		if !ok {
			continue
		}
		if !emitter.Emit(ctx, out, coord) {
			return ctx.Err()
		}
	}
	if err = scanner.Err(); err != nil {
		return fmt.Errorf("failed to read NMEA sentence: %w", err)
	}
	return nil
}

func (p *GeolocationNMEAProvider) openSerial() (io.ReadCloser, error) {
	return serial.Open(serial.OpenOptions{
		PortName:        p.port,
		BaudRate:        p.baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
}

// parseSentence extracts a position from a GGA or RMC sentence. Sentences without a valid
// fix are rejected.
func parseSentence(line string) (geobus.Coordinate, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return geobus.Coordinate{}, false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return geobus.Coordinate{}, false
	}

	var coord geobus.Coordinate
	switch sentence.DataType() {
	case nmea.TypeGGA:
		gga := sentence.(nmea.GGA)
		if gga.FixQuality == nmea.Invalid {
			return geobus.Coordinate{}, false
		}
		coord = geobus.Coordinate{
			Lat:    gga.Latitude,
			Lon:    gga.Longitude,
			Alt:    gga.Altitude,
			HasAlt: true,
			Acc:    geobus.AccuracyGPS3D,
		}
		if gga.HDOP > 0 {
			coord.Acc = gga.HDOP * userRangeError
		}
	case nmea.TypeRMC:
		rmc := sentence.(nmea.RMC)
		if rmc.Validity != nmea.ValidRMC {
			return geobus.Coordinate{}, false
		}
		coord = geobus.Coordinate{Lat: rmc.Latitude, Lon: rmc.Longitude, Acc: geobus.AccuracyGPS2D}
	default:
		return geobus.Coordinate{}, false
	}

	coord.Lat = geobus.Truncate(coord.Lat, geobus.TruncPrecision)
	coord.Lon = geobus.Truncate(coord.Lon, geobus.TruncPrecision)
	return coord, coord.Valid()
}
