// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package remotelog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const maxEntrySize = 1 << 20

var (
	ErrNoData      = errors.New("no data")
	ErrInvalidJSON = errors.New("invalid JSON")
)

// responses are the plain text bodies sent for rejected entries.
var responses = map[error]string{
	ErrNoData:      "No data",
	ErrInvalidJSON: "Invalid JSON",
}

// Sink appends received entries to a log file, one line per entry.
type Sink struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewSink returns a Sink writing to the file at path.
func NewSink(path string) *Sink {
	return &Sink{path: path, now: time.Now}
}

// Decode parses a raw entry.
func Decode(raw []byte) (Entry, error) {
	var entry Entry
	if len(bytes.TrimSpace(raw)) == 0 {
		return entry, ErrNoData
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return entry, ErrInvalidJSON
	}
	entry.Level, _ = fields["level"].(string)
	entry.Message, _ = fields["message"].(string)
	entry.URL, _ = fields["url"].(string)
	entry.UserAgent, _ = fields["ua"].(string)
	entry.SessionID, _ = fields["sessionId"].(string)
	entry.Lang, _ = fields["lang"].(string)
	if ts, ok := fields["ts"].(float64); ok {
		entry.Timestamp = int64(ts)
	}
	return entry, nil
}

// Append writes the entry to the log file.
func (s *Sink) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	_, err = io.WriteString(file, entry.Line(s.now()))
	if closeErr := file.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		return fmt.Errorf("failed to write log line: %w", err)
	}
	return nil
}

// Handle is the gin handler of the collecting endpoint.
func (s *Sink) Handle(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEntrySize))
	if err != nil {
		c.String(http.StatusBadRequest, responses[ErrNoData])
		return
	}
	entry, err := Decode(raw)
	if err != nil {
		c.String(http.StatusBadRequest, responses[err])
		return
	}
	if err = s.Append(entry); err != nil {
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "Write failed")
		return
	}
	c.String(http.StatusOK, "OK")
}
