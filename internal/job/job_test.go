// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package job

import (
	"context"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestJob_Start(t *testing.T) {
	t.Run("task runs on every tick until cancelled", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			var runs atomic.Int32
			ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond*55)
			defer cancel()

			New(nil, time.Millisecond*10, func(context.Context) {
				runs.Add(1)
			}).Start(ctx)
			if got := runs.Load(); got != 5 {
				t.Errorf("expected 5 runs, got %d", got)
			}
		})
	})
	t.Run("overlapping ticks are dropped", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			var runs atomic.Int32
			ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond*95)
			defer cancel()

			// runs start at 10ms, 40ms and 70ms
			New(nil, time.Millisecond*10, func(context.Context) {
				runs.Add(1)
				time.Sleep(time.Millisecond * 25)
			}).Start(ctx)
			if got := runs.Load(); got != 3 {
				t.Errorf("expected 3 runs of the slow task, got %d", got)
			}
		})
	})
	t.Run("start waits for the running task", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			var finished atomic.Bool
			ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond*15)
			defer cancel()

			New(nil, time.Millisecond*10, func(context.Context) {
				time.Sleep(time.Millisecond * 50)
				finished.Store(true)
			}).Start(ctx)
			if !finished.Load() {
				t.Error("expected start to return after the task finished")
			}
		})
	})
	t.Run("task follows the given clock", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		ticks := make(chan struct{})
		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan struct{})
		go func() {
			defer close(done)
			New(clock, time.Second, func(context.Context) {
				ticks <- struct{}{}
			}).Start(ctx)
		}()
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("failed to wait for ticker: %s", err)
		}

		for i := range 3 {
			clock.Advance(time.Second)
			select {
			case <-ticks:
			case <-time.After(time.Second * 5):
				t.Fatalf("expected tick %d", i+1)
			}
		}
		cancel()
		<-done
	})
	t.Run("jobs without work return", func(t *testing.T) {
		tests := []struct {
			name     string
			interval time.Duration
			task     func(context.Context)
		}{
			{"nil task", time.Second, nil},
			{"zero interval", 0, func(context.Context) {}},
			{"negative interval", -time.Second, func(context.Context) {}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				New(clockwork.NewFakeClock(), tc.interval, tc.task).Start(t.Context())
			})
		}
	})
}
