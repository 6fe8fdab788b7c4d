// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package remotelog ships log records from a session to a collecting endpoint and implements
// that endpoint.
package remotelog

import (
	"fmt"
	"strings"
	"time"
)

// lineTimeFormat is ISO 8601 with a numeric zone offset.
const lineTimeFormat = "2006-01-02T15:04:05-07:00"

// DefaultLevel is used for entries without a level.
const DefaultLevel = "log"

// Entry is a single forwarded log record.
type Entry struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	URL       string `json:"url,omitempty"`
	UserAgent string `json:"ua,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Lang      string `json:"lang,omitempty"`
	// Timestamp is the client time in milliseconds since the Unix epoch.
	Timestamp int64 `json:"ts,omitempty"`
}

// Line formats the entry as a log file line received at the given time.
func (e Entry) Line(received time.Time) string {
	level := e.Level
	if level == "" {
		level = DefaultLevel
	}
	message := strings.ReplaceAll(e.Message, "\n", `\n`)
	return fmt.Sprintf("[%s][%s] %s\n", received.UTC().Format(lineTimeFormat), level, message)
}
