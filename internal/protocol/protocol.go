// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package protocol defines the JSON messages exchanged with a browser client over the session
// WebSocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/wneessen/geoanchor/internal/geo"
	"github.com/wneessen/geoanchor/internal/placement"
	"github.com/wneessen/geoanchor/internal/pose"
	"github.com/wneessen/geoanchor/internal/session"
	"github.com/wneessen/geoanchor/internal/vartype"
)

const (
	TypeFrame       = "frame"
	TypeFix         = "fix"
	TypeFixError    = "fix_error"
	TypeAnchorError = "anchor_error"
	TypeSelect      = "select"

	TypeHello    = "hello"
	TypeDecision = "decision"
	TypeError    = "error"

	// SourceBrowser marks fixes reported by the browser geolocation API.
	SourceBrowser = "browser"
)

// Codes of the browser GeolocationPositionError.
const (
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

var (
	ErrMissingType = errors.New("message type is missing")
	ErrUnknownType = errors.New("unknown message type")
)

var fixErrorCodes = map[int]string{
	CodePermissionDenied:    "permission denied",
	CodePositionUnavailable: "position unavailable",
	CodeTimeout:             "timeout",
}

// ClientMessage is any message sent by the client. Only the fields of the given Type are set.
type ClientMessage struct {
	Type string `json:"type"`

	// frame
	Time       float64     `json:"time,omitempty"`
	Camera     []float64   `json:"camera,omitempty"`
	Projection []float64   `json:"projection,omitempty"`
	Hits       [][]float64 `json:"hits,omitempty"`
	Anchor     []float64   `json:"anchor,omitempty"`

	// fix
	Latitude  *float64           `json:"latitude,omitempty"`
	Longitude *float64           `json:"longitude,omitempty"`
	Altitude  vartype.VarFloat64 `json:"altitude"`
	Accuracy  float64            `json:"accuracy,omitempty"`

	// fix_error, anchor_error
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Decode parses and checks the type of a client message.
func Decode(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode client message: %w", err)
	}
	switch msg.Type {
	case TypeFrame, TypeFix, TypeFixError, TypeAnchorError, TypeSelect:
		return msg, nil
	case "":
		return msg, ErrMissingType
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// Frame converts a frame message into a tracking frame and the anchor pose of that frame. A
// missing camera yields a frame without pose, a missing anchor a nil anchor pose.
func (m ClientMessage) Frame() (placement.Frame, *pose.Pose, error) {
	frame := placement.Frame{
		Time:       time.Duration(m.Time * float64(time.Millisecond)),
		Projection: mgl64.Ident4(),
	}
	if len(m.Camera) > 0 {
		camera, err := pose.FromSlice(m.Camera)
		if err != nil {
			return frame, nil, fmt.Errorf("failed to read camera pose: %w", err)
		}
		frame.Camera = &camera
	}
	if len(m.Projection) > 0 {
		projection, err := pose.FromSlice(m.Projection)
		if err != nil {
			return frame, nil, fmt.Errorf("failed to read projection matrix: %w", err)
		}
		frame.Projection = projection.Matrix
	}
	for i, elements := range m.Hits {
		hit, err := pose.FromSlice(elements)
		if err != nil {
			return frame, nil, fmt.Errorf("failed to read hit %d: %w", i, err)
		}
		frame.Hits = append(frame.Hits, hit)
	}

	var anchor *pose.Pose
	if len(m.Anchor) > 0 {
		p, err := pose.FromSlice(m.Anchor)
		if err != nil {
			return frame, nil, fmt.Errorf("failed to read anchor pose: %w", err)
		}
		anchor = &p
	}
	return frame, anchor, nil
}

// Fix converts a fix message into a session fix received at the given time.
func (m ClientMessage) Fix(received time.Time) (session.Fix, error) {
	if m.Latitude == nil || m.Longitude == nil {
		return session.Fix{}, fmt.Errorf("%w: latitude and longitude are required", geo.ErrInvalidCoordinate)
	}
	coord := geo.Coordinate{Lat: *m.Latitude, Lon: *m.Longitude, Alt: m.Altitude}
	if err := coord.Validate(); err != nil {
		return session.Fix{}, err
	}
	return session.Fix{
		Coordinate: coord,
		Accuracy:   m.Accuracy,
		Source:     SourceBrowser,
		At:         received,
	}, nil
}

// FixError converts a fix_error message into an error wrapping placement.ErrFixUnavailable.
func (m ClientMessage) FixError() error {
	reason, ok := fixErrorCodes[m.Code]
	if !ok {
		reason = fmt.Sprintf("code %d", m.Code)
	}
	if m.Message == "" {
		return fmt.Errorf("%w: %s", placement.ErrFixUnavailable, reason)
	}
	return fmt.Errorf("%w: %s: %s", placement.ErrFixUnavailable, reason, m.Message)
}

// AnchorError converts an anchor_error message into an error wrapping
// placement.ErrAnchorCreationFailed.
func (m ClientMessage) AnchorError() error {
	if m.Message == "" {
		return placement.ErrAnchorCreationFailed
	}
	return fmt.Errorf("%w: %s", placement.ErrAnchorCreationFailed, m.Message)
}

// Target is the geographic placement target.
type Target struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

// Hello is sent once after the connection is established.
type Hello struct {
	Type         string `json:"type"`
	Session      string `json:"session"`
	Target       Target `json:"target"`
	UseAnchor    bool   `json:"use_anchor"`
	FixSource    string `json:"fix_source"`
	FixTimeoutMS int64  `json:"fix_timeout_ms"`
	HighAccuracy bool   `json:"high_accuracy"`
}

// NewHello returns the hello message of a session.
func NewHello(sess *session.Session, fixSource string, fixTimeout time.Duration, highAccuracy bool) Hello {
	target := sess.Target()
	hello := Hello{
		Type:    TypeHello,
		Session: sess.ID(),
		Target: Target{
			Latitude:  target.Lat,
			Longitude: target.Lon,
			Altitude:  target.Alt.Ptr(),
		},
		UseAnchor:    sess.UsesAnchor(),
		FixSource:    fixSource,
		FixTimeoutMS: fixTimeout.Milliseconds(),
		HighAccuracy: highAccuracy,
	}
	return hello
}

// Cursor is the provisional reticle.
type Cursor struct {
	Visible  bool       `json:"visible"`
	Position [3]float64 `json:"position"`
}

// Transform is the object transform to apply in this frame.
type Transform struct {
	Position [3]float64  `json:"position"`
	Matrix   [16]float64 `json:"matrix"`
}

// Offset is the local east, up, north offset from observer to target in meters.
type Offset struct {
	East  float64 `json:"east"`
	Up    float64 `json:"up"`
	North float64 `json:"north"`
}

// Decision is the per-frame answer to a frame message.
type Decision struct {
	Type       string          `json:"type"`
	State      placement.State `json:"state"`
	Stabilized bool            `json:"stabilized"`
	Cursor     Cursor          `json:"cursor"`
	Transform  *Transform      `json:"transform"`
	Committed  bool            `json:"committed"`
	Offset     *Offset         `json:"offset,omitempty"`
	Selections [][3]float64    `json:"selections,omitempty"`
}

// NewDecision converts a placement decision into its message.
func NewDecision(d placement.Decision) Decision {
	msg := Decision{
		Type:       TypeDecision,
		State:      d.State,
		Stabilized: d.Stabilized,
		Cursor: Cursor{
			Visible:  d.Cursor.Visible,
			Position: d.Cursor.Position,
		},
		Committed: d.Committed,
	}
	if d.Transform != nil {
		msg.Transform = &Transform{
			Position: d.Transform.Position,
			Matrix:   d.Transform.Matrix,
		}
	}
	if d.Offset != nil {
		msg.Offset = &Offset{East: d.Offset.East, Up: d.Offset.Up, North: d.Offset.North}
	}
	for _, s := range d.Selections {
		msg.Selections = append(msg.Selections, s)
	}
	return msg
}

// Error reports a rejected message or a session failure.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError returns the error message for err.
func NewError(err error) Error {
	return Error{Type: TypeError, Message: err.Error()}
}
