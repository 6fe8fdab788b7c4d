// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package session holds the per-session application context of a placement session. Fix
// results, anchor failures and tap-to-place requests may arrive from other goroutines; they are
// queued and applied to the reconciler at the start of the next Tick, so the reconciler itself
// is only ever touched by the frame loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wneessen/geoanchor/internal/geo"
	"github.com/wneessen/geoanchor/internal/logger"
	"github.com/wneessen/geoanchor/internal/placement"
	"github.com/wneessen/geoanchor/internal/pose"
)

const eventQueueSize = 16

var ErrQueueFull = errors.New("session event queue is full")

// Fix is a position fix of the observer.
type Fix struct {
	Coordinate geo.Coordinate
	Accuracy   float64
	Source     string
	At         time.Time
}

// Request describes a fix request issued once per session.
type Request struct {
	Session      string
	Timeout      time.Duration
	HighAccuracy bool
}

// Locator resolves the position of the observer.
type Locator interface {
	Locate(ctx context.Context, req Request) (Fix, error)
}

// Status is a snapshot of the session taken after the last frame.
type Status struct {
	ID         string
	State      placement.State
	Stabilized bool
	Frames     uint64
	Started    time.Time
	LastFrame  time.Time
}

type eventKind int

const (
	eventFix eventKind = iota
	eventFixError
	eventAnchorError
	eventSelect
)

type event struct {
	kind eventKind
	fix  Fix
	err  error
}

// Session couples one placement reconciler with its asynchronous inputs.
type Session struct {
	id         string
	logger     *logger.Logger
	reconciler *placement.Reconciler
	anchor     *placement.StaticAnchor
	onCommit   func(*Session, placement.Decision)

	events chan event
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup

	mu     sync.RWMutex
	status Status
}

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	useAnchor  bool
	onCommit   func(*Session, placement.Decision)
	reconciler []placement.Option
}

// WithGeospatialAnchor enables the anchor variant. The anchor pose is supplied per frame via
// UpdateAnchor.
func WithGeospatialAnchor() Option {
	return func(o *sessionOptions) {
		o.useAnchor = true
	}
}

// WithCommitHook registers a function called on the frame that enters Placed, either by the
// one-shot commit or by the first localized anchor pose.
func WithCommitHook(fn func(*Session, placement.Decision)) Option {
	return func(o *sessionOptions) {
		o.onCommit = fn
	}
}

// WithReconcilerOptions passes options to the placement reconciler.
func WithReconcilerOptions(opts ...placement.Option) Option {
	return func(o *sessionOptions) {
		o.reconciler = append(o.reconciler, opts...)
	}
}

// New creates a session for the given target. The session ends when parent is done or Close
// is called.
func New(parent context.Context, log *logger.Logger, target geo.Coordinate, opts ...Option) (*Session, error) {
	options := new(sessionOptions)
	for _, opt := range opts {
		opt(options)
	}

	id := uuid.NewString()
	log = log.With(slog.String("session", id))
	recOpts := append([]placement.Option{placement.WithLogger(log)}, options.reconciler...)

	var anchor *placement.StaticAnchor
	if options.useAnchor {
		anchor = new(placement.StaticAnchor)
		recOpts = append(recOpts, placement.WithAnchor(anchor))
	}

	reconciler, err := placement.New(target, recOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create placement reconciler: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	sess := &Session{
		id:         id,
		logger:     log,
		reconciler: reconciler,
		anchor:     anchor,
		onCommit:   options.onCommit,
		events:     make(chan event, eventQueueSize),
		ctx:        ctx,
		cancel:     cancel,
		status: Status{
			ID:      id,
			State:   reconciler.State(),
			Started: time.Now(),
		},
	}
	context.AfterFunc(ctx, func() {
		sess.closed.Store(true)
	})
	return sess, nil
}

// ID returns the unique session ID.
func (s *Session) ID() string {
	return s.id
}

// Target returns the geographic target of the session.
func (s *Session) Target() geo.Coordinate {
	return s.reconciler.Target()
}

// UsesAnchor reports whether the session runs the geospatial anchor variant.
func (s *Session) UsesAnchor() bool {
	return s.anchor != nil
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Status returns the snapshot of the last frame.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// RequestFix issues the single fix request of the session in the background. The result is
// applied on the next Tick after it arrives. Closing the session cancels the request.
func (s *Session) RequestFix(locator Locator, req Request) {
	req.Session = s.id
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := s.ctx
		if req.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(s.ctx, req.Timeout)
			defer cancel()
		}

		fix, err := locator.Locate(ctx, req)
		if s.ctx.Err() != nil {
			return
		}
		if err == nil {
			err = fix.Coordinate.Validate()
		}
		if err != nil {
			s.deliver(event{kind: eventFixError, err: err})
			return
		}
		s.deliver(event{kind: eventFix, fix: fix})
	}()
}

// deliver queues the outcome of the fix request, waiting for room in the queue until the
// session ends.
func (s *Session) deliver(ev event) {
	select {
	case <-s.ctx.Done():
	case s.events <- ev:
	}
}

// DeliverFix queues a fix obtained elsewhere. Invalid coordinates are rejected immediately and
// leave the session unchanged.
func (s *Session) DeliverFix(fix Fix) error {
	if err := fix.Coordinate.Validate(); err != nil {
		return fmt.Errorf("failed to accept position fix: %w", err)
	}
	return s.enqueue(event{kind: eventFix, fix: fix})
}

// DeliverFixError queues the failure of the fix request.
func (s *Session) DeliverFixError(err error) error {
	return s.enqueue(event{kind: eventFixError, err: err})
}

// DeliverAnchorError queues the rejection of the geospatial anchor.
func (s *Session) DeliverAnchorError(err error) error {
	return s.enqueue(event{kind: eventAnchorError, err: err})
}

// Select queues a tap-to-place request.
func (s *Session) Select() error {
	return s.enqueue(event{kind: eventSelect})
}

// UpdateAnchor sets the anchor pose for the next frame. A nil pose marks the anchor as not
// localized. It is a no-op for sessions without the anchor variant.
func (s *Session) UpdateAnchor(p *pose.Pose) {
	if s.anchor == nil {
		return
	}
	if p == nil {
		s.anchor.Invalidate()
		return
	}
	s.anchor.Update(*p)
}

// Tick applies all queued events and evaluates the frame.
func (s *Session) Tick(frame placement.Frame) (placement.Decision, error) {
	if s.closed.Load() {
		return placement.Decision{}, placement.ErrSessionTerminated
	}
	s.drain()

	previous := s.reconciler.State()
	decision := s.reconciler.Step(frame)
	placed := decision.State == placement.Placed && previous != placement.Placed
	if placed && s.onCommit != nil {
		s.onCommit(s, decision)
	}

	s.mu.Lock()
	s.status.State = decision.State
	s.status.Stabilized = decision.Stabilized
	s.status.Frames++
	s.status.LastFrame = time.Now()
	s.mu.Unlock()
	return decision, nil
}

// Close ends the session and waits for a pending fix request to return.
func (s *Session) Close() {
	s.closed.Store(true)
	s.cancel()
	s.wg.Wait()
	s.logger.Debug("session closed")
}

func (s *Session) enqueue(ev event) error {
	if s.closed.Load() {
		return placement.ErrSessionTerminated
	}
	select {
	case <-s.ctx.Done():
		return placement.ErrSessionTerminated
	case s.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Session) drain() {
	for {
		select {
		case ev := <-s.events:
			s.apply(ev)
		default:
			return
		}
	}
}

func (s *Session) apply(ev event) {
	switch ev.kind {
	case eventFix:
		if err := s.reconciler.OnFix(ev.fix.Coordinate); err != nil {
			s.logger.Error("failed to apply position fix", logger.Err(err))
			return
		}
		s.logger.Debug("position fix received", slog.String("source", ev.fix.Source),
			slog.Float64("accuracy", ev.fix.Accuracy))
	case eventFixError:
		s.reconciler.OnFixError(ev.err)
	case eventAnchorError:
		s.reconciler.OnAnchorError(ev.err)
	case eventSelect:
		s.reconciler.Select()
	}
}
