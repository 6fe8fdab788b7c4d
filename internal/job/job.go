// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package job runs a task at a fixed interval, e.g. the frame loop of a replayed session.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Job runs a task on every tick of its interval. Runs never overlap: a tick that fires while
// the previous run is still executing is dropped.
type Job struct {
	clock    clockwork.Clock
	interval time.Duration
	task     func(context.Context)
}

// New returns a Job whose ticks are driven by clock. A nil clock selects the wall clock.
func New(clock clockwork.Clock, interval time.Duration, task func(context.Context)) *Job {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Job{clock: clock, interval: interval, task: task}
}

// Start runs the job until ctx is done and the last run has returned. A Job without task or
// with a non-positive interval returns right away.
func (j *Job) Start(ctx context.Context) {
	if j.task == nil || j.interval <= 0 {
		return
	}

	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()

	var running sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !running.TryLock() {
				continue
			}
			wg.Go(func() {
				defer running.Unlock()
				j.task(ctx)
			})
		}
	}
}
