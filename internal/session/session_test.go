// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/synctest"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/wneessen/geoanchor/internal/geo"
	"github.com/wneessen/geoanchor/internal/geobus"
	"github.com/wneessen/geoanchor/internal/logger"
	"github.com/wneessen/geoanchor/internal/placement"
	"github.com/wneessen/geoanchor/internal/pose"
)

var (
	testTarget   = geo.NewCoordinateWithAltitude(6.2825, -75.6203, 1913)
	testObserver = geo.NewCoordinateWithAltitude(6.28, -75.6200, 1900)
)

func testLogger() *logger.Logger {
	return logger.NewLogger(slog.LevelDebug, io.Discard)
}

func testSession(t *testing.T, opts ...Option) (*Session, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts = append(opts, WithReconcilerOptions(placement.WithClock(clock)))
	sess, err := New(t.Context(), testLogger(), testTarget, opts...)
	if err != nil {
		t.Fatalf("failed to create session: %s", err)
	}
	t.Cleanup(sess.Close)
	return sess, clock
}

func cameraFrame(hits ...mgl64.Vec3) placement.Frame {
	camera := pose.Identity()
	frame := placement.Frame{Camera: &camera, Projection: mgl64.Ident4()}
	for _, hit := range hits {
		frame.Hits = append(frame.Hits, pose.FromPosition(hit))
	}
	return frame
}

func TestNew(t *testing.T) {
	t.Run("new session starts awaiting a fix", func(t *testing.T) {
		sess, _ := testSession(t)
		if _, err := uuid.Parse(sess.ID()); err != nil {
			t.Errorf("expected session ID to be a UUID, got %q: %s", sess.ID(), err)
		}
		if sess.Status().State != placement.AwaitingFix {
			t.Errorf("expected state to be %s, got %s", placement.AwaitingFix, sess.Status().State)
		}
		if sess.UsesAnchor() {
			t.Error("expected session without geospatial anchor")
		}
	})
	t.Run("new session with invalid target fails", func(t *testing.T) {
		_, err := New(t.Context(), testLogger(), geo.NewCoordinate(200, 0))
		if !errors.Is(err, geo.ErrInvalidCoordinate) {
			t.Errorf("expected error to be %s, got %v", geo.ErrInvalidCoordinate, err)
		}
	})
	t.Run("session IDs are unique", func(t *testing.T) {
		first, _ := testSession(t)
		second, _ := testSession(t)
		if first.ID() == second.ID() {
			t.Error("expected session IDs to differ")
		}
	})
}

func TestSession_DeliverFix(t *testing.T) {
	t.Run("delivered fix is applied on the next tick", func(t *testing.T) {
		sess, _ := testSession(t)
		if err := sess.DeliverFix(Fix{Coordinate: testObserver, Accuracy: 8, Source: "client"}); err != nil {
			t.Fatalf("failed to deliver fix: %s", err)
		}
		decision, err := sess.Tick(cameraFrame())
		if err != nil {
			t.Fatalf("failed to tick session: %s", err)
		}
		if decision.State != placement.AwaitingSurface {
			t.Errorf("expected state to be %s, got %s", placement.AwaitingSurface, decision.State)
		}
		if decision.Offset == nil {
			t.Fatal("expected offset to be set")
		}
		if decision.Offset.Up != 13 {
			t.Errorf("expected up offset to be 13, got %f", decision.Offset.Up)
		}
	})
	t.Run("invalid fix is rejected without state change", func(t *testing.T) {
		sess, _ := testSession(t)
		err := sess.DeliverFix(Fix{Coordinate: geo.NewCoordinate(200, 0)})
		if !errors.Is(err, geo.ErrInvalidCoordinate) {
			t.Errorf("expected error to be %s, got %v", geo.ErrInvalidCoordinate, err)
		}
		decision, err := sess.Tick(cameraFrame())
		if err != nil {
			t.Fatalf("failed to tick session: %s", err)
		}
		if decision.State != placement.AwaitingFix {
			t.Errorf("expected state to be %s, got %s", placement.AwaitingFix, decision.State)
		}
	})
	t.Run("fix and hit in the same tick commit the placement", func(t *testing.T) {
		commits := 0
		sess, _ := testSession(t, WithCommitHook(func(s *Session, d placement.Decision) {
			commits++
		}))
		if err := sess.DeliverFix(Fix{Coordinate: testObserver}); err != nil {
			t.Fatalf("failed to deliver fix: %s", err)
		}
		decision, err := sess.Tick(cameraFrame(mgl64.Vec3{0, -1.5, -2}))
		if err != nil {
			t.Fatalf("failed to tick session: %s", err)
		}
		if !decision.Committed || decision.State != placement.Placed {
			t.Errorf("expected placement to be committed, got state %s", decision.State)
		}
		for range 3 {
			if _, err = sess.Tick(cameraFrame(mgl64.Vec3{0, -1.5, -2})); err != nil {
				t.Fatalf("failed to tick session: %s", err)
			}
		}
		if commits != 1 {
			t.Errorf("expected commit hook to be called once, got %d", commits)
		}
		if sess.Status().Frames != 4 {
			t.Errorf("expected 4 frames, got %d", sess.Status().Frames)
		}
	})
}

func TestSession_DeliverFixError(t *testing.T) {
	sess, _ := testSession(t)
	if err := sess.DeliverFixError(errors.New("user denied geolocation")); err != nil {
		t.Fatalf("failed to deliver fix error: %s", err)
	}
	decision, err := sess.Tick(cameraFrame(mgl64.Vec3{1, 0, -1}))
	if err != nil {
		t.Fatalf("failed to tick session: %s", err)
	}
	if decision.State != placement.Placed {
		t.Errorf("expected state to be %s, got %s", placement.Placed, decision.State)
	}
	if decision.Transform == nil || decision.Transform.Position != (mgl64.Vec3{1, 0, -1}) {
		t.Errorf("expected object at the hit position, got %+v", decision.Transform)
	}
}

func TestSession_RequestFix(t *testing.T) {
	t.Run("located fix is applied", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			sess, _ := testSession(t)
			var got Request
			sess.RequestFix(LocatorFunc(func(ctx context.Context, req Request) (Fix, error) {
				got = req
				return Fix{Coordinate: testObserver, Source: "test"}, nil
			}), Request{Timeout: time.Second * 5, HighAccuracy: true})
			synctest.Wait()

			decision, err := sess.Tick(cameraFrame())
			if err != nil {
				t.Fatalf("failed to tick session: %s", err)
			}
			if decision.State != placement.AwaitingSurface {
				t.Errorf("expected state to be %s, got %s", placement.AwaitingSurface, decision.State)
			}
			if got.Session != sess.ID() || !got.HighAccuracy {
				t.Errorf("expected request for session %s with high accuracy, got %+v", sess.ID(), got)
			}
		})
	})
	t.Run("failed request falls back", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			sess, _ := testSession(t)
			sess.RequestFix(LocatorFunc(func(ctx context.Context, req Request) (Fix, error) {
				<-ctx.Done()
				return Fix{}, ctx.Err()
			}), Request{Timeout: time.Second})
			time.Sleep(time.Second * 2)
			synctest.Wait()

			decision, err := sess.Tick(cameraFrame())
			if err != nil {
				t.Fatalf("failed to tick session: %s", err)
			}
			if decision.State != placement.Fallback {
				t.Errorf("expected state to be %s, got %s", placement.Fallback, decision.State)
			}
		})
	})
	t.Run("located fix waits for room in a full queue", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			sess, _ := testSession(t)
			for range eventQueueSize {
				if err := sess.Select(); err != nil {
					t.Fatalf("failed to queue selection: %s", err)
				}
			}
			sess.RequestFix(LocatorFunc(func(context.Context, Request) (Fix, error) {
				return Fix{Coordinate: testObserver, Source: "test"}, nil
			}), Request{})
			synctest.Wait()

			if _, err := sess.Tick(cameraFrame()); err != nil {
				t.Fatalf("failed to tick session: %s", err)
			}
			synctest.Wait()
			decision, err := sess.Tick(cameraFrame())
			if err != nil {
				t.Fatalf("failed to tick session: %s", err)
			}
			if decision.State != placement.AwaitingSurface {
				t.Errorf("expected state to be %s, got %s", placement.AwaitingSurface, decision.State)
			}
			if _, ok := sess.reconciler.Offset(); !ok {
				t.Error("expected offset to be computed from the fix")
			}
		})
	})
	t.Run("closing the session cancels the request", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			sess, _ := testSession(t)
			canceled := false
			sess.RequestFix(LocatorFunc(func(ctx context.Context, req Request) (Fix, error) {
				<-ctx.Done()
				canceled = true
				return Fix{}, ctx.Err()
			}), Request{})
			synctest.Wait()
			sess.Close()

			if !canceled {
				t.Error("expected fix request to be canceled")
			}
			if _, err := sess.Tick(cameraFrame()); !errors.Is(err, placement.ErrSessionTerminated) {
				t.Errorf("expected error to be %s, got %v", placement.ErrSessionTerminated, err)
			}
		})
	})
}

func TestSession_Tick(t *testing.T) {
	t.Run("fix timeout enters fallback", func(t *testing.T) {
		sess, clock := testSession(t)
		clock.Advance(placement.DefaultFixTimeout)
		decision, err := sess.Tick(cameraFrame())
		if err != nil {
			t.Fatalf("failed to tick session: %s", err)
		}
		if decision.State != placement.Fallback {
			t.Errorf("expected state to be %s, got %s", placement.Fallback, decision.State)
		}
	})
	t.Run("canceled parent terminates the session", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			sess, err := New(ctx, testLogger(), testTarget)
			if err != nil {
				t.Fatalf("failed to create session: %s", err)
			}
			cancel()
			synctest.Wait()

			if _, err = sess.Tick(cameraFrame()); !errors.Is(err, placement.ErrSessionTerminated) {
				t.Errorf("expected error to be %s, got %v", placement.ErrSessionTerminated, err)
			}
			if err = sess.DeliverFix(Fix{Coordinate: testObserver}); !errors.Is(err, placement.ErrSessionTerminated) {
				t.Errorf("expected error to be %s, got %v", placement.ErrSessionTerminated, err)
			}
			select {
			case <-sess.Done():
			default:
				t.Error("expected session to be done")
			}
		})
	})
	t.Run("selection is reported at the cursor", func(t *testing.T) {
		sess, _ := testSession(t)
		if err := sess.Select(); err != nil {
			t.Fatalf("failed to select: %s", err)
		}
		decision, err := sess.Tick(cameraFrame(mgl64.Vec3{0, -1, -3}))
		if err != nil {
			t.Fatalf("failed to tick session: %s", err)
		}
		if len(decision.Selections) != 1 || decision.Selections[0] != (mgl64.Vec3{0, -1, -3}) {
			t.Errorf("expected one selection at the cursor, got %v", decision.Selections)
		}
		if !decision.Stabilized {
			t.Error("expected session to be stabilized")
		}
	})
	t.Run("full event queue is reported", func(t *testing.T) {
		sess, _ := testSession(t)
		var err error
		for range eventQueueSize + 1 {
			err = sess.Select()
		}
		if !errors.Is(err, ErrQueueFull) {
			t.Errorf("expected error to be %s, got %v", ErrQueueFull, err)
		}
	})
}

func TestSession_UpdateAnchor(t *testing.T) {
	t.Run("anchor pose drives the transform", func(t *testing.T) {
		sess, _ := testSession(t, WithGeospatialAnchor())
		if !sess.UsesAnchor() {
			t.Fatal("expected session with geospatial anchor")
		}
		anchorPose := pose.FromPosition(mgl64.Vec3{-33, 13, -278})
		for i := range 3 {
			sess.UpdateAnchor(&anchorPose)
			decision, err := sess.Tick(cameraFrame())
			if err != nil {
				t.Fatalf("failed to tick session: %s", err)
			}
			if decision.State != placement.Placed {
				t.Errorf("frame %d: expected state to be %s, got %s", i, placement.Placed, decision.State)
			}
			if decision.Transform == nil || decision.Transform.Position != anchorPose.Position() {
				t.Errorf("frame %d: expected transform at the anchor, got %+v", i, decision.Transform)
			}
		}
	})
	t.Run("unlocalized anchor writes nothing", func(t *testing.T) {
		sess, _ := testSession(t, WithGeospatialAnchor())
		sess.UpdateAnchor(nil)
		decision, err := sess.Tick(cameraFrame())
		if err != nil {
			t.Fatalf("failed to tick session: %s", err)
		}
		if decision.Transform != nil {
			t.Errorf("expected no transform, got %+v", decision.Transform)
		}
	})
	t.Run("rejected anchor continues without it", func(t *testing.T) {
		sess, _ := testSession(t, WithGeospatialAnchor())
		if err := sess.DeliverAnchorError(errors.New("not supported")); err != nil {
			t.Fatalf("failed to deliver anchor error: %s", err)
		}
		anchorPose := pose.FromPosition(mgl64.Vec3{1, 2, 3})
		sess.UpdateAnchor(&anchorPose)
		decision, err := sess.Tick(cameraFrame())
		if err != nil {
			t.Fatalf("failed to tick session: %s", err)
		}
		if decision.State == placement.Placed {
			t.Error("expected rejected anchor to be ignored")
		}
	})
	t.Run("sessions without anchor ignore updates", func(t *testing.T) {
		sess, _ := testSession(t)
		anchorPose := pose.FromPosition(mgl64.Vec3{1, 2, 3})
		sess.UpdateAnchor(&anchorPose)
		decision, err := sess.Tick(cameraFrame())
		if err != nil {
			t.Fatalf("failed to tick session: %s", err)
		}
		if decision.State != placement.AwaitingFix {
			t.Errorf("expected state to be %s, got %s", placement.AwaitingFix, decision.State)
		}
	})
}

type fixedProvider struct {
	result geobus.Result
}

func (p fixedProvider) Name() string { return "fixed" }

func (p fixedProvider) LookupStream(ctx context.Context, key string) <-chan geobus.Result {
	out := make(chan geobus.Result)
	go func() {
		defer close(out)
		r := p.result
		r.Key = key
		r.Source = p.Name()
		select {
		case <-ctx.Done():
			return
		case out <- r:
		}
		<-ctx.Done()
	}()
	return out
}

func TestGeoBusLocator_Locate(t *testing.T) {
	t.Run("located result is converted to a fix", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			bus := geobus.New(testLogger())
			locator := GeoBusLocator{
				Orchestrator: bus.NewOrchestrator([]geobus.Provider{fixedProvider{result: geobus.Result{
					Lat: 6.28, Lon: -75.62, Alt: 1900, HasAlt: true, AccuracyMeters: 12,
				}}}),
				MaxAccuracy: geobus.AccuracyHigh,
			}
			fix, err := locator.Locate(t.Context(), Request{Session: "test", HighAccuracy: true})
			if err != nil {
				t.Fatalf("failed to locate: %s", err)
			}
			if fix.Coordinate.Altitude() != 1900 {
				t.Errorf("expected altitude to be 1900, got %f", fix.Coordinate.Altitude())
			}
			if fix.Source != "fixed" || fix.Accuracy != 12 {
				t.Errorf("expected fix from fixed provider with accuracy 12, got %s/%f", fix.Source, fix.Accuracy)
			}
		})
	})
	t.Run("inaccurate result times out as fix unavailable", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			bus := geobus.New(testLogger())
			locator := GeoBusLocator{
				Orchestrator: bus.NewOrchestrator([]geobus.Provider{fixedProvider{result: geobus.Result{
					Lat: 6.28, Lon: -75.62, AccuracyMeters: 900,
				}}}),
				MaxAccuracy: geobus.AccuracyHigh,
			}
			ctx, cancel := context.WithTimeout(t.Context(), time.Second)
			defer cancel()
			_, err := locator.Locate(ctx, Request{Session: "test", HighAccuracy: true})
			if !errors.Is(err, placement.ErrFixUnavailable) {
				t.Errorf("expected error to be %s, got %v", placement.ErrFixUnavailable, err)
			}
		})
	})
}
