// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package placement

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/wneessen/geoanchor/internal/geo"
	"github.com/wneessen/geoanchor/internal/pose"
)

// Frame is the tracking data of a single display refresh. Camera is nil while the tracking
// system has not established a pose. Hits are ordered by distance, nearest first.
type Frame struct {
	Time       time.Duration
	Camera     *pose.Pose
	Projection mgl64.Mat4
	Hits       []pose.Pose
}

// NearestHit returns the nearest surface hit of the frame.
func (f Frame) NearestHit() (pose.Pose, bool) {
	if len(f.Hits) == 0 {
		return pose.Pose{}, false
	}
	return f.Hits[0], true
}

// Transform is the world transform written to the render target.
type Transform struct {
	Position mgl64.Vec3
	Matrix   mgl64.Mat4
}

// Cursor is the provisional reticle shown on a detected surface.
type Cursor struct {
	Visible  bool
	Position mgl64.Vec3
}

// Decision is the outcome of evaluating one frame.
type Decision struct {
	State State
	// Stabilized is true once any frame of the session reported a surface hit.
	Stabilized bool
	Cursor     Cursor
	// Transform is set on frames that write the object transform.
	Transform *Transform
	// Committed is true on the single frame that performed the one-shot placement.
	Committed bool
	Offset    *geo.LocalOffset
	// Selections holds the cursor positions of tap-to-place requests handled in this frame.
	Selections []mgl64.Vec3
}

func transformAt(position mgl64.Vec3) Transform {
	return Transform{
		Position: position,
		Matrix:   mgl64.Translate3D(position.X(), position.Y(), position.Z()),
	}
}

func transformFromPose(p pose.Pose) Transform {
	return Transform{Position: p.Position(), Matrix: p.Matrix}
}
