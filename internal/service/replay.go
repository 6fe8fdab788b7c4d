// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wneessen/geoanchor/internal/job"
	"github.com/wneessen/geoanchor/internal/protocol"
	"github.com/wneessen/geoanchor/internal/session"
)

// Replay drives a single session from recorded client messages, one JSON message per line. On
// every tick of the frame interval the messages up to and including the next frame are applied
// and the decision of that frame is written to output as a JSON line. Replay returns once the
// input is exhausted or ctx is cancelled.
func (s *Service) Replay(ctx context.Context, input io.Reader, output io.Writer) error {
	sess, err := session.New(ctx, s.logger, s.config.TargetCoordinate(), s.sessionOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create replay session: %w", err)
	}
	defer sess.Close()
	s.requestFix(sess)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	player := &replayer{
		service: s,
		session: sess,
		scanner: bufio.NewScanner(input),
		encoder: json.NewEncoder(output),
		cancel:  cancel,
	}
	player.scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxMessageSize)

	s.logger.Info("replaying recorded session", slog.String("session", sess.ID()),
		slog.Duration("interval", s.config.Intervals.Frame))
	job.New(s.clock, s.config.Intervals.Frame, player.step).Start(ctx)

	// Wait for a running step and keep late ticks from touching the closed session
	player.mu.Lock()
	defer player.mu.Unlock()
	player.done = true
	s.wg.Wait()
	return player.err
}

type replayer struct {
	service *Service
	session *session.Session
	scanner *bufio.Scanner
	encoder *json.Encoder
	cancel  context.CancelFunc

	mu     sync.Mutex
	line   int
	frames int
	done   bool
	err    error
}

// step applies recorded messages until one frame has been evaluated.
func (r *replayer) step(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done || r.err != nil {
		return
	}

	for r.scanner.Scan() {
		r.line++
		raw := bytes.TrimSpace(r.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			r.fail(fmt.Errorf("failed to decode line %d: %w", r.line, err))
			return
		}
		decision, err := r.service.apply(r.session, msg)
		if err != nil {
			r.fail(fmt.Errorf("failed to apply line %d: %w", r.line, err))
			return
		}
		if decision == nil {
			continue
		}
		r.frames++
		if err = r.encoder.Encode(protocol.NewDecision(*decision)); err != nil {
			r.fail(fmt.Errorf("failed to write decision: %w", err))
		}
		return
	}

	if err := r.scanner.Err(); err != nil {
		r.fail(fmt.Errorf("failed to read replay input: %w", err))
		return
	}
	r.service.logger.Info("replay finished", slog.Int("frames", r.frames),
		slog.String("state", r.session.Status().State.String()))
	r.done = true
	r.cancel()
}

func (r *replayer) fail(err error) {
	r.err = err
	r.cancel()
}
