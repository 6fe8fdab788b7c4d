// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package remotelog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wneessen/geoanchor/internal/http"
)

const (
	queueSize = 64

	// flushTimeout bounds how long Close waits for queued entries.
	flushTimeout = time.Second * 5

	// SessionKey is the attribute key that is lifted into Entry.SessionID.
	SessionKey = "session"
)

// Meta is the static context attached to every forwarded entry.
type Meta struct {
	URL       string
	UserAgent string
	Lang      string
}

// Handler is a slog.Handler that forwards every record to a remote endpoint and then passes it
// on to the next handler. Forwarding is fire-and-forget: records are dropped if the queue is
// full and failed requests are ignored.
type Handler struct {
	next   slog.Handler
	sender *sender
	meta   Meta
	attrs  []slog.Attr
	group  string
}

type sender struct {
	client   *http.Client
	endpoint string
	queue    chan Entry
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewHandler returns a Handler forwarding to endpoint. Requests carry the values of ctx but
// outlive its cancellation, so records logged during shutdown are still delivered. The sender
// runs until Close.
func NewHandler(ctx context.Context, next slog.Handler, client *http.Client, endpoint string, meta Meta) *Handler {
	s := &sender{
		client:   client,
		endpoint: endpoint,
		queue:    make(chan Entry, queueSize),
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.wg.Add(1)
	go s.run()
	return &Handler{next: next, sender: s, meta: meta}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	entry := Entry{
		Level:     strings.ToLower(record.Level.String()),
		URL:       h.meta.URL,
		UserAgent: h.meta.UserAgent,
		Lang:      h.meta.Lang,
		Timestamp: record.Time.UnixMilli(),
	}

	var msg strings.Builder
	msg.WriteString(record.Message)
	appendAttr := func(attr slog.Attr) {
		if attr.Key == SessionKey && entry.SessionID == "" {
			entry.SessionID = attr.Value.String()
			return
		}
		key := attr.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		_, _ = fmt.Fprintf(&msg, " %s=%s", key, attr.Value.String())
	}
	for _, attr := range h.attrs {
		appendAttr(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		appendAttr(attr)
		return true
	})
	entry.Message = msg.String()

	h.sender.enqueue(entry)
	return h.next.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	if h.group != "" {
		name = h.group + "." + name
	}
	clone.group = name
	return &clone
}

// Close stops accepting entries and waits until the queued ones were sent. After flushTimeout
// the pending requests are aborted and the rest of the queue is dropped.
func (h *Handler) Close() {
	s := h.sender
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	flushed := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(flushTimeout):
		s.cancel()
		<-flushed
	}
	s.cancel()
}

func (s *sender) enqueue(entry Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- entry:
	default:
	}
}

func (s *sender) run() {
	defer s.wg.Done()
	for entry := range s.queue {
		if s.ctx.Err() != nil {
			continue
		}
		_, _ = s.client.SendJSON(s.ctx, s.endpoint, entry)
	}
}
