// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"errors"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wneessen/geoanchor/internal/config"
	"github.com/wneessen/geoanchor/internal/logger"
	"github.com/wneessen/geoanchor/internal/placement"
	"github.com/wneessen/geoanchor/internal/protocol"
	"github.com/wneessen/geoanchor/internal/session"
)

const (
	maxMessageSize = 64 * 1024
	idleTimeout    = time.Second * 60
	writeTimeout   = time.Second * 5
)

// ErrServerFixSource is returned for client fixes when fixes are resolved server side.
var ErrServerFixSource = errors.New("position fixes are resolved by the server")

// client is one WebSocket connection and its placement session.
type client struct {
	conn   *websocket.Conn
	sess   *session.Session
	logger *logger.Logger

	writeLock sync.Mutex
}

func (c *client) send(v any) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *client) sendError(err error) {
	if sendErr := c.send(protocol.NewError(err)); sendErr != nil {
		c.logger.Debug("failed to send error message", logger.Err(sendErr))
	}
}

// handleSession upgrades the request and runs one placement session until the connection is
// closed.
func (s *Service) handleSession(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade websocket connection", logger.Err(err))
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	sess, err := session.New(c.Request.Context(), s.logger, s.config.TargetCoordinate(), s.sessionOptions()...)
	if err != nil {
		s.logger.Error("failed to create placement session", logger.Err(err))
		_ = conn.WriteJSON(protocol.NewError(err))
		return
	}
	cl := &client{
		conn:   conn,
		sess:   sess,
		logger: s.logger.With(slog.String("session", sess.ID())),
	}
	s.addClient(cl)
	defer func() {
		s.removeClient(cl)
		sess.Close()
	}()
	cl.logger.Info("placement session started", slog.String("remote", c.Request.RemoteAddr))

	highAccuracy := !s.config.GeoLocation.LowAccuracy
	hello := protocol.NewHello(sess, s.config.GeoLocation.Source, s.config.Placement.FixTimeout, highAccuracy)
	if err = cl.send(hello); err != nil {
		cl.logger.Error("failed to send hello", logger.Err(err))
		return
	}
	s.requestFix(sess)

	s.readMessages(cl)
	cl.logger.Info("placement session ended", slog.String("state", sess.Status().State.String()))
}

// requestFix issues the fix request of the session if fixes are resolved server side.
func (s *Service) requestFix(sess *session.Session) {
	if s.orchestrator == nil {
		return
	}
	sess.RequestFix(session.GeoBusLocator{
		Orchestrator: s.orchestrator,
		MaxAccuracy:  s.config.GeoLocation.AccuracyThreshold,
	}, session.Request{
		Timeout:      s.config.Placement.FixTimeout,
		HighAccuracy: !s.config.GeoLocation.LowAccuracy,
	})
}

// readMessages dispatches client messages until the connection fails or the session ends.
func (s *Service) readMessages(cl *client) {
	cl.conn.SetReadLimit(maxMessageSize)
	for {
		if err := cl.conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.logger.Warn("websocket connection failed", logger.Err(err))
			}
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			cl.sendError(err)
			continue
		}
		if err = s.dispatch(cl, msg); err != nil {
			cl.sendError(err)
			if errors.Is(err, placement.ErrSessionTerminated) {
				return
			}
		}
	}
}

func (s *Service) dispatch(cl *client, msg protocol.ClientMessage) error {
	decision, err := s.apply(cl.sess, msg)
	if err != nil || decision == nil {
		return err
	}
	if err = cl.send(protocol.NewDecision(*decision)); err != nil {
		return fmt.Errorf("failed to send decision: %w", err)
	}
	return nil
}

// apply hands a client message to the session. Frame messages return the decision of the frame.
func (s *Service) apply(sess *session.Session, msg protocol.ClientMessage) (*placement.Decision, error) {
	switch msg.Type {
	case protocol.TypeFrame:
		frame, anchor, err := msg.Frame()
		if err != nil {
			return nil, err
		}
		sess.UpdateAnchor(anchor)
		decision, err := sess.Tick(frame)
		if err != nil {
			return nil, err
		}
		return &decision, nil
	case protocol.TypeFix:
		if s.config.GeoLocation.Source == config.SourceServer {
			return nil, ErrServerFixSource
		}
		fix, err := msg.Fix(s.clock.Now())
		if err != nil {
			return nil, err
		}
		return nil, sess.DeliverFix(fix)
	case protocol.TypeFixError:
		return nil, sess.DeliverFixError(msg.FixError())
	case protocol.TypeAnchorError:
		return nil, sess.DeliverAnchorError(msg.AnchorError())
	case protocol.TypeSelect:
		return nil, sess.Select()
	default:
		return nil, fmt.Errorf("%w: %q", protocol.ErrUnknownType, msg.Type)
	}
}

// handleSessions lists the status of all active sessions.
func (s *Service) handleSessions(c *gin.Context) {
	type sessionStatus struct {
		ID         string          `json:"id"`
		State      placement.State `json:"state"`
		Stabilized bool            `json:"stabilized"`
		Frames     uint64          `json:"frames"`
		Started    time.Time       `json:"started"`
		LastFrame  *time.Time      `json:"last_frame,omitempty"`
	}
	statuses := s.sessionStatuses()
	list := make([]sessionStatus, 0, len(statuses))
	for _, status := range statuses {
		entry := sessionStatus{
			ID:         status.ID,
			State:      status.State,
			Stabilized: status.Stabilized,
			Frames:     status.Frames,
			Started:    status.Started,
		}
		if !status.LastFrame.IsZero() {
			last := status.LastFrame
			entry.LastFrame = &last
		}
		list = append(list, entry)
	}
	c.JSON(stdhttp.StatusOK, list)
}

func (s *Service) addClient(cl *client) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()
	s.clients[cl.sess.ID()] = cl
}

func (s *Service) removeClient(cl *client) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()
	delete(s.clients, cl.sess.ID())
}

func (s *Service) clientCount() int {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	return len(s.clients)
}

// sessionStatuses returns the status of all active sessions, oldest first.
func (s *Service) sessionStatuses() []session.Status {
	s.clientsLock.RLock()
	statuses := make([]session.Status, 0, len(s.clients))
	for _, cl := range s.clients {
		statuses = append(statuses, cl.sess.Status())
	}
	s.clientsLock.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Started.Before(statuses[j].Started)
	})
	return statuses
}

// closeClients ends all sessions by closing their connections. Hijacked connections are not
// closed by the HTTP server shutdown.
func (s *Service) closeClients() {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	for _, cl := range s.clients {
		cl.sess.Close()
		cl.writeLock.Lock()
		_ = cl.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeTimeout))
		cl.writeLock.Unlock()
		_ = cl.conn.Close()
	}
}
