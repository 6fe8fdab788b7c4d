// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package placement decides per tracking frame where to render a geo-referenced object. It
// arbitrates between a one-shot offset derived from a position fix, an optional geospatial
// anchor and surface hit-tests that serve as cursor and placement fallback.
package placement

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geoanchor/internal/geo"
	"github.com/wneessen/geoanchor/internal/logger"
)

// DefaultFixTimeout is the time to wait for a position fix before falling back to surface-only
// placement.
const DefaultFixTimeout = time.Second * 5

var (
	// ErrFixUnavailable is recorded when no position fix can be obtained.
	ErrFixUnavailable = errors.New("position fix unavailable")
	// ErrAnchorCreationFailed is recorded when the platform cannot provide a geospatial anchor.
	ErrAnchorCreationFailed = errors.New("anchor creation failed")
	// ErrSessionTerminated is returned once the hosting session has ended.
	ErrSessionTerminated = errors.New("session terminated")
)

// Reconciler is the placement state machine of a single object in a single session. It is not
// safe for concurrent use; callers serialize fixes and frames onto one goroutine.
type Reconciler struct {
	target    geo.Coordinate
	strategy  geo.OffsetStrategy
	projector Projector
	clock     clockwork.Clock
	logger    *logger.Logger

	fixTimeout time.Duration
	fallback   bool
	deadline   time.Time

	state      State
	offset     geo.LocalOffset
	haveOffset bool
	fixErr     error

	anchor    Anchor
	anchorErr error

	committed     Transform
	haveCommitted bool
	stabilized    bool
	selectPending int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithStrategy sets the offset strategy, the default is geo.Equirectangular.
func WithStrategy(strategy geo.OffsetStrategy) Option {
	return func(r *Reconciler) {
		if strategy != nil {
			r.strategy = strategy
		}
	}
}

// WithProjector sets how offsets are mapped into tracking space, the default is CameraRelative.
func WithProjector(projector Projector) Option {
	return func(r *Reconciler) {
		if projector != nil {
			r.projector = projector
		}
	}
}

// WithClock sets the clock used for the fix deadline.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithFixTimeout sets how long to wait for a fix before entering Fallback.
func WithFixTimeout(timeout time.Duration) Option {
	return func(r *Reconciler) {
		if timeout > 0 {
			r.fixTimeout = timeout
		}
	}
}

// WithFallback enables or disables surface-only placement when no fix is available.
func WithFallback(enabled bool) Option {
	return func(r *Reconciler) {
		r.fallback = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(r *Reconciler) {
		if log != nil {
			r.logger = log
		}
	}
}

// WithAnchor attaches a geospatial anchor from the start.
func WithAnchor(anchor Anchor) Option {
	return func(r *Reconciler) {
		r.anchor = anchor
	}
}

// New returns a Reconciler in state AwaitingFix for the given target. The fix deadline starts
// counting immediately.
func New(target geo.Coordinate, opts ...Option) (*Reconciler, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("invalid placement target: %w", err)
	}
	r := &Reconciler{
		target:     target,
		strategy:   geo.Equirectangular{},
		projector:  CameraRelative{},
		clock:      clockwork.NewRealClock(),
		logger:     logger.NewLogger(slog.LevelError, io.Discard),
		fixTimeout: DefaultFixTimeout,
		fallback:   true,
		state:      AwaitingFix,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.deadline = r.clock.Now().Add(r.fixTimeout)
	return r, nil
}

// State returns the current placement state.
func (r *Reconciler) State() State {
	return r.state
}

// Target returns the geodetic placement target.
func (r *Reconciler) Target() geo.Coordinate {
	return r.target
}

// Offset returns the cached offset from the observer fix to the target.
func (r *Reconciler) Offset() (geo.LocalOffset, bool) {
	return r.offset, r.haveOffset
}

// Committed returns the one-shot committed transform.
func (r *Reconciler) Committed() (Transform, bool) {
	return r.committed, r.haveCommitted
}

// FixErr returns the error recorded for the fix request, if any.
func (r *Reconciler) FixErr() error {
	return r.fixErr
}

// AnchorErr returns the error recorded for the anchor request, if any.
func (r *Reconciler) AnchorErr() error {
	return r.anchorErr
}

// OnFix applies a position fix of the observer. The offset is computed once; fixes arriving
// after the reconciler left AwaitingFix are ignored.
func (r *Reconciler) OnFix(observer geo.Coordinate) error {
	if r.state != AwaitingFix {
		r.logger.Debug("ignoring position fix", slog.String("state", r.state.String()),
			slog.String("observer", observer.String()))
		return nil
	}

	offset, err := r.strategy.Offset(observer, r.target)
	if err != nil {
		return fmt.Errorf("failed to compute offset: %w", err)
	}
	r.offset = offset
	r.haveOffset = true
	r.logger.Info("position fix applied", slog.String("observer", observer.String()),
		slog.String("strategy", r.strategy.Name()), slog.String("offset", offset.String()))
	r.transition(AwaitingSurface)
	return nil
}

// OnFixError records a failed fix request. A failed fix is final for the session: with fallback
// enabled the reconciler enters Fallback, otherwise it stays in AwaitingFix.
func (r *Reconciler) OnFixError(err error) {
	if !errors.Is(err, ErrFixUnavailable) {
		err = fmt.Errorf("%w: %w", ErrFixUnavailable, err)
	}
	r.fixErr = err
	if r.state != AwaitingFix {
		return
	}
	r.logger.Warn("position fix failed", logger.Err(err))
	if r.fallback {
		r.transition(Fallback)
	}
}

// AttachAnchor sets the geospatial anchor that drives the transform once it reports a pose.
func (r *Reconciler) AttachAnchor(anchor Anchor) {
	r.anchor = anchor
}

// OnAnchorError records that no geospatial anchor is available. Placement continues without
// anchor-driven updates.
func (r *Reconciler) OnAnchorError(err error) {
	if !errors.Is(err, ErrAnchorCreationFailed) {
		err = fmt.Errorf("%w: %w", ErrAnchorCreationFailed, err)
	}
	r.anchorErr = err
	r.anchor = nil
	r.logger.Warn("continuing without geospatial anchor", logger.Err(err))
}

// Select requests a copy of the object at the cursor position of the next frame that has one.
func (r *Reconciler) Select() {
	r.selectPending++
}

// Step evaluates one tracking frame.
func (r *Reconciler) Step(frame Frame) Decision {
	r.checkDeadline()

	if frame.Camera == nil {
		return r.decision()
	}

	hit, haveHit := frame.NearestHit()
	if haveHit {
		r.stabilized = true
	}

	var selections []mgl64.Vec3
	if haveHit {
		for ; r.selectPending > 0; r.selectPending-- {
			selections = append(selections, hit.Position())
		}
	}

	if transform, ok := r.anchorTransform(); ok {
		if r.state != Placed {
			r.transition(Placed)
		}
		d := r.decision()
		d.Transform = &transform
		d.Selections = selections
		return d
	}

	var written *Transform
	if haveHit {
		switch r.state {
		case AwaitingSurface:
			written = r.commit(hit.Position().Add(r.projector.Project(r.offset, *frame.Camera)))
		case Fallback:
			written = r.commit(hit.Position())
		}
	}

	d := r.decision()
	d.Transform = written
	d.Committed = written != nil
	d.Selections = selections
	if haveHit && r.state != Placed {
		d.Cursor = Cursor{Visible: true, Position: hit.Position()}
	}
	return d
}

func (r *Reconciler) checkDeadline() {
	if r.state != AwaitingFix || !r.fallback || r.fixErr != nil {
		return
	}
	if r.clock.Now().Before(r.deadline) {
		return
	}
	r.fixErr = fmt.Errorf("%w: no fix within %s", ErrFixUnavailable, r.fixTimeout)
	r.logger.Warn("position fix timed out, falling back to surface placement",
		slog.Duration("timeout", r.fixTimeout))
	r.transition(Fallback)
}

func (r *Reconciler) anchorTransform() (Transform, bool) {
	if r.anchor == nil {
		return Transform{}, false
	}
	p, ok := r.anchor.Pose()
	if !ok {
		return Transform{}, false
	}
	return transformFromPose(p), true
}

func (r *Reconciler) commit(position mgl64.Vec3) *Transform {
	transform := transformAt(position)
	r.committed = transform
	r.haveCommitted = true
	r.logger.Info("object placed", slog.String("from", r.state.String()),
		slog.Float64("x", position.X()), slog.Float64("y", position.Y()), slog.Float64("z", position.Z()))
	r.transition(Placed)
	return &transform
}

func (r *Reconciler) transition(next State) {
	if !r.state.canTransition(next) {
		r.logger.Debug("rejected placement state transition", slog.String("from", r.state.String()),
			slog.String("to", next.String()))
		return
	}
	r.logger.Debug("placement state transition", slog.String("from", r.state.String()),
		slog.String("to", next.String()))
	r.state = next
}

func (r *Reconciler) decision() Decision {
	d := Decision{
		State:      r.state,
		Stabilized: r.stabilized,
	}
	if r.haveOffset {
		offset := r.offset
		d.Offset = &offset
	}
	return d
}
