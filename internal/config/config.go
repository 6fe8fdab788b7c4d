// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kkyr/fig"

	"github.com/wneessen/geoanchor/internal/geo"
	"github.com/wneessen/geoanchor/internal/placement"
)

const (
	configEnv = "GEOANCHOR"

	SourceClient = "client"
	SourceServer = "server"
)

// Config represents the application's configuration structure.
type Config struct {
	LogLevel slog.Level `fig:"loglevel" default:"0"`

	Target struct {
		Latitude  float64 `fig:"latitude" default:"6.2825"`
		Longitude float64 `fig:"longitude" default:"-75.6203"`
		Altitude  float64 `fig:"altitude" default:"1913"`
	} `fig:"target"`

	Placement struct {
		// Allowed values: equirectangular, haversine
		Strategy string `fig:"strategy" default:"equirectangular"`
		// Allowed values: camera, world
		Projection string        `fig:"projection" default:"camera"`
		FixTimeout time.Duration `fig:"fix_timeout" default:"5s"`
		UseAnchor  bool          `fig:"use_anchor"`
		// Without fallback a failed fix keeps the session waiting forever
		DisableFallback bool `fig:"disable_fallback"`
	} `fig:"placement"`

	GeoLocation struct {
		// Allowed values: client, server
		Source            string  `fig:"source" default:"client"`
		LowAccuracy       bool    `fig:"low_accuracy"`
		AccuracyThreshold float64 `fig:"accuracy_threshold" default:"50"`

		File     string `fig:"file"`
		GPSDHost string `fig:"gpsd_host" default:"localhost"`
		GPSDPort string `fig:"gpsd_port" default:"2947"`
		NMEAPort string `fig:"nmea_port"`
		NMEABaud uint   `fig:"nmea_baud" default:"9600"`
		Ichnaea  string `fig:"ichnaea_endpoint"`

		DisableGPSD            bool `fig:"disable_gpsd"`
		DisableNMEA            bool `fig:"disable_nmea"`
		DisableGeolocationFile bool `fig:"disable_geolocation_file"`
		DisableICHNAEA         bool `fig:"disable_ichnaea"`
	} `fig:"geolocation"`

	Server struct {
		Listen  string `fig:"listen" default:":8080"`
		LogFile string `fig:"log_file" default:"logs.txt"`
	} `fig:"server"`

	Intervals struct {
		Frame  time.Duration `fig:"frame" default:"33ms"`
		Status time.Duration `fig:"status" default:"30s"`
	} `fig:"intervals"`

	MQTT struct {
		Broker   string `fig:"broker"`
		ClientID string `fig:"client_id" default:"geoanchor"`
		Topic    string `fig:"topic" default:"geoanchor/placement"`
	} `fig:"mqtt"`

	RemoteLog struct {
		Endpoint string `fig:"endpoint"`
	} `fig:"remotelog"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if err := c.TargetCoordinate().Validate(); err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	if _, err := geo.StrategyByName(c.Placement.Strategy); err != nil {
		return fmt.Errorf("invalid placement strategy: %w", err)
	}
	if _, err := placement.ProjectorByName(c.Placement.Projection); err != nil {
		return fmt.Errorf("invalid placement projection: %w", err)
	}
	if c.Placement.FixTimeout <= 0 {
		return fmt.Errorf("invalid fix timeout: %s", c.Placement.FixTimeout)
	}
	if c.GeoLocation.Source != SourceClient && c.GeoLocation.Source != SourceServer {
		return fmt.Errorf("invalid geolocation source: %s", c.GeoLocation.Source)
	}
	if c.GeoLocation.AccuracyThreshold < 0 {
		return fmt.Errorf("invalid accuracy threshold: %f", c.GeoLocation.AccuracyThreshold)
	}
	if c.Intervals.Frame <= 0 {
		return fmt.Errorf("invalid frame interval: %s", c.Intervals.Frame)
	}
	if c.Intervals.Status <= 0 {
		return fmt.Errorf("invalid status interval: %s", c.Intervals.Status)
	}
	if c.GeoLocation.File == "" {
		home, _ := os.UserHomeDir()
		c.GeoLocation.File = filepath.Join(home, ".config", "geoanchor", "geolocation")
	}

	return nil
}

// TargetCoordinate returns the configured placement target.
func (c *Config) TargetCoordinate() geo.Coordinate {
	return geo.NewCoordinateWithAltitude(c.Target.Latitude, c.Target.Longitude, c.Target.Altitude)
}
