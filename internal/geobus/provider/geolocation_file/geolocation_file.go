// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geolocation_file implements a geobus provider for a surveyed observer position kept
// in a local file.
package geolocation_file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geoanchor/internal/geobus"
)

const (
	name = "geolocation_file"

	// DefaultAccuracy is used for lines that carry no accuracy column.
	DefaultAccuracy = 5

	checkPeriod = time.Second * 30
	resultTTL   = time.Hour
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// GeolocationFileProvider reads the observer position from a file. Each non-comment line has
// the form "lat,lon[,alt[,accuracy]]" and the first valid line wins. The file is read again
// whenever its modification time changes.
type GeolocationFileProvider struct {
	path     string
	clock    clockwork.Clock
	period   time.Duration
	locateFn func(context.Context) (geobus.Coordinate, error)

	cacheLock sync.Mutex
	modTime   time.Time
	cached    geobus.Coordinate
}

// NewGeolocationFileProvider returns a provider for the file at path.
func NewGeolocationFileProvider(path string) *GeolocationFileProvider {
	provider := &GeolocationFileProvider{
		path:   path,
		clock:  clockwork.NewRealClock(),
		period: checkPeriod,
	}
	provider.locateFn = provider.locate
	return provider
}

func (p *GeolocationFileProvider) Name() string {
	return name
}

// LookupStream emits the position of the file right away and again whenever it changes.
func (p *GeolocationFileProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	return geobus.Poll(ctx, geobus.NewEmitter(p.clock, key, name, resultTTL), p.period, p.locateFn, nil)
}

// locate returns the cached position unless the file was modified since it was read.
func (p *GeolocationFileProvider) locate(context.Context) (geobus.Coordinate, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to stat geolocation file %q: %w", p.path, err)
	}

	p.cacheLock.Lock()
	defer p.cacheLock.Unlock()
	if !p.modTime.IsZero() && info.ModTime().Equal(p.modTime) {
		return p.cached, nil
	}
	coord, err := p.readFile()
	if err != nil {
		return geobus.Coordinate{}, err
	}
	p.modTime, p.cached = info.ModTime(), coord
	return coord, nil
}

// readFile reads the first valid position from the file.
func (p *GeolocationFileProvider) readFile() (geobus.Coordinate, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if coord, ok := parseLine(line); ok {
			return coord, nil
		}
	}
	if err = scanner.Err(); err != nil {
		return geobus.Coordinate{}, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}
	return geobus.Coordinate{}, ErrNoCoordinates
}

func parseLine(line string) (geobus.Coordinate, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 4 {
		return geobus.Coordinate{}, false
	}
	var values [4]float64
	for i, field := range fields {
		val, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return geobus.Coordinate{}, false
		}
		values[i] = val
	}

	coord := geobus.Coordinate{Lat: values[0], Lon: values[1], Acc: DefaultAccuracy}
	if len(fields) > 2 {
		coord.Alt, coord.HasAlt = values[2], true
	}
	if len(fields) > 3 && values[3] > 0 {
		coord.Acc = values[3]
	}
	return coord, coord.Valid()
}
