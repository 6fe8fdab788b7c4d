// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package service runs the placement server: browser clients open a WebSocket session per AR
// session, stream tracking frames and receive a placement decision per frame.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geoanchor/internal/config"
	"github.com/wneessen/geoanchor/internal/geo"
	"github.com/wneessen/geoanchor/internal/geobus"
	"github.com/wneessen/geoanchor/internal/logger"
	"github.com/wneessen/geoanchor/internal/placement"
	"github.com/wneessen/geoanchor/internal/publish"
	"github.com/wneessen/geoanchor/internal/remotelog"
	"github.com/wneessen/geoanchor/internal/session"
)

const (
	shutdownTimeout = time.Second * 10
	publishTimeout  = time.Second * 10
	readHeaderLimit = time.Second * 10
)

type Service struct {
	config       *config.Config
	geobus       *geobus.GeoBus
	logger       *logger.Logger
	orchestrator *geobus.Orchestrator
	publisher    publish.Publisher
	scheduler    gocron.Scheduler
	sink         *remotelog.Sink
	clock        clockwork.Clock
	upgrader     websocket.Upgrader

	strategy  geo.OffsetStrategy
	projector placement.Projector

	clientsLock sync.RWMutex
	clients     map[string]*client

	wg sync.WaitGroup
}

// New creates the placement service from the given configuration.
func New(conf *config.Config, log *logger.Logger) (*Service, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	strategy, err := geo.StrategyByName(conf.Placement.Strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to select offset strategy: %w", err)
	}
	projector, err := placement.ProjectorByName(conf.Placement.Projection)
	if err != nil {
		return nil, fmt.Errorf("failed to select projector: %w", err)
	}

	publisher, err := publish.New(log, publish.Options{
		Broker:   conf.MQTT.Broker,
		ClientID: conf.MQTT.ClientID,
		Topic:    conf.MQTT.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create placement publisher: %w", err)
	}

	service := &Service{
		config:    conf,
		geobus:    geobus.New(log),
		logger:    log,
		publisher: publisher,
		scheduler: scheduler,
		sink:      remotelog.NewSink(conf.Server.LogFile),
		clock:     clockwork.NewRealClock(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*stdhttp.Request) bool { return true },
		},
		strategy:  strategy,
		projector: projector,
		clients:   make(map[string]*client),
	}

	if conf.GeoLocation.Source == config.SourceServer {
		providers, err := service.selectGeobusProviders()
		if err != nil {
			return nil, err
		}
		service.orchestrator = service.geobus.NewOrchestrator(providers)
	}
	return service, nil
}

// Run serves HTTP until ctx is cancelled and then shuts down all sessions.
func (s *Service) Run(ctx context.Context) error {
	if err := s.createScheduledJob(ctx, s.config.Intervals.Status, s.logSessionStatus,
		"session_status_job"); err != nil {
		return err
	}
	s.scheduler.Start()

	server := &stdhttp.Server{
		Addr:              s.config.Server.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderLimit,
	}
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("placement server listening", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("failed to serve HTTP: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to shut down HTTP server: %w", err))
	}
	s.closeClients()
	s.wg.Wait()
	s.publisher.Close()

	if err := s.scheduler.Shutdown(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("failed to shut down scheduler: %w", err))
	}
	return runErr
}

// Router returns the HTTP handler of the service.
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), cors)

	router.GET("/session", s.handleSession)
	router.GET("/sessions", s.handleSessions)
	router.POST("/log", s.sink.Handle)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"status": "ok", "sessions": s.clientCount()})
	})
	return router
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// sessionOptions returns the session options derived from the configuration. The commit hook
// publishes each placement.
func (s *Service) sessionOptions() []session.Option {
	opts := []session.Option{
		session.WithReconcilerOptions(
			placement.WithStrategy(s.strategy),
			placement.WithProjector(s.projector),
			placement.WithClock(s.clock),
			placement.WithFixTimeout(s.config.Placement.FixTimeout),
			placement.WithFallback(!s.config.Placement.DisableFallback),
		),
		session.WithCommitHook(s.publishPlacement),
	}
	if s.config.Placement.UseAnchor {
		opts = append(opts, session.WithGeospatialAnchor())
	}
	return opts
}

// publishPlacement announces a placement without blocking the frame loop.
func (s *Service) publishPlacement(sess *session.Session, decision placement.Decision) {
	if decision.Transform == nil {
		return
	}
	target := sess.Target()
	event := publish.Event{
		Session:  sess.ID(),
		State:    decision.State.String(),
		Position: decision.Transform.Position,
		Target:   [3]float64{target.Lat, target.Lon, target.Altitude()},
		At:       s.clock.Now(),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Error("failed to publish placement", logger.Err(err),
				slog.String("session", event.Session))
		}
	}()
}

// logSessionStatus logs a status line for every active session.
func (s *Service) logSessionStatus(context.Context) {
	statuses := s.sessionStatuses()
	s.logger.Debug("active placement sessions", slog.Int("count", len(statuses)))
	for _, status := range statuses {
		s.logger.Info("session status", slog.String("session", status.ID),
			slog.String("state", status.State.String()), slog.Bool("stabilized", status.Stabilized),
			slog.Uint64("frames", status.Frames), slog.Duration("age", s.clock.Since(status.Started)))
	}
}

func (s *Service) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.clock.Now()
		c.Next()
		s.logger.Debug("http request", slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path), slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", s.clock.Since(start)))
		for _, err := range c.Errors {
			s.logger.Error("http request failed", logger.Err(err.Err), slog.String("path", c.Request.URL.Path))
		}
	}
}

func cors(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length")
	if c.Request.Method == stdhttp.MethodOptions {
		c.AbortWithStatus(stdhttp.StatusNoContent)
		return
	}
	c.Next()
}
