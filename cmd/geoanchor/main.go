// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package main implements the geoanchor placement server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wneessen/geoanchor/internal/config"
	"github.com/wneessen/geoanchor/internal/http"
	"github.com/wneessen/geoanchor/internal/logger"
	"github.com/wneessen/geoanchor/internal/remotelog"
	"github.com/wneessen/geoanchor/internal/service"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGABRT, os.Interrupt)
	defer cancel()

	confPath := flag.String("config", "", "path to the config file")
	replayPath := flag.String("replay", "", "replay a recorded session from a JSON lines file and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("geoanchor %s (commit: %s, built: %s)\n", version, commit, date)
		return 0
	}

	log := logger.New(slog.LevelError)
	conf, err := loadConfig(*confPath)
	if err != nil {
		log.Error("failed to load config", logger.Err(err))
		return 1
	}

	log = logger.New(conf.LogLevel)
	if conf.RemoteLog.Endpoint != "" {
		remote := remotelog.NewHandler(ctx, log.Handler(), http.New(log), conf.RemoteLog.Endpoint, remotelog.Meta{
			URL:       conf.Server.Listen,
			UserAgent: http.UserAgent,
			Lang:      os.Getenv("LANG"),
		})
		defer remote.Close()
		log = logger.FromHandler(remote)
	}

	serv, err := service.New(conf, log)
	if err != nil {
		log.Error("failed to initialize geoanchor service", logger.Err(err))
		return 1
	}

	if *replayPath != "" {
		if err = replay(ctx, serv, *replayPath); err != nil {
			log.Error("failed to replay session", logger.Err(err))
			return 1
		}
		return 0
	}

	log.Info("starting geoanchor service", slog.String("version", version),
		slog.String("commit", commit), slog.String("date", date))
	if err = serv.Run(ctx); err != nil {
		log.Error("geoanchor service failed", logger.Err(err))
		return 1
	}
	log.Info("geoanchor service stopped")
	return 0
}

// loadConfig reads the config file given on the command line. Without one, the first config
// file found in the user config directory is used, falling back to defaults and environment.
func loadConfig(confPath string) (*config.Config, error) {
	if confPath != "" {
		return config.NewFromFile(filepath.Dir(confPath), filepath.Base(confPath))
	}
	if path, file := findConfigFile(); file != "" {
		return config.NewFromFile(path, file)
	}
	return config.New()
}

func replay(ctx context.Context, serv *service.Service, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open replay trace: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return serv.Replay(ctx, file, os.Stdout)
}

func findConfigFile() (string, string) {
	confDir, err := os.UserConfigDir()
	if err != nil {
		return "", ""
	}
	dir := filepath.Join(confDir, "geoanchor")
	for _, ext := range []string{"toml", "yaml", "yml", "json"} {
		file := "config." + ext
		if _, err = os.Stat(filepath.Join(dir, file)); err == nil {
			return dir, file
		}
	}
	return "", ""
}
