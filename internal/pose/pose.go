// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package pose wraps rigid 4x4 transforms reported by a tracking system.
package pose

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// horizontalEpsilon is the minimum length of a projected axis before it is considered degenerate.
const horizontalEpsilon = 1e-6

var (
	// ErrInvalidMatrix is returned when a matrix does not have 16 finite elements.
	ErrInvalidMatrix = errors.New("invalid transform matrix")

	worldUp = mgl64.Vec3{0, 1, 0}
)

// Pose is a rigid transform in a session-local tracking space. The matrix is column-major,
// as delivered by WebXR.
type Pose struct {
	Matrix mgl64.Mat4
}

// Identity returns the identity pose.
func Identity() Pose {
	return Pose{Matrix: mgl64.Ident4()}
}

// FromPosition returns a pose without rotation at the given position.
func FromPosition(position mgl64.Vec3) Pose {
	return Pose{Matrix: mgl64.Translate3D(position.X(), position.Y(), position.Z())}
}

// FromSlice returns a pose from 16 column-major matrix elements.
func FromSlice(elements []float64) (Pose, error) {
	if len(elements) != 16 {
		return Pose{}, fmt.Errorf("%w: expected 16 elements, got %d", ErrInvalidMatrix, len(elements))
	}
	var m mgl64.Mat4
	for i, e := range elements {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return Pose{}, fmt.Errorf("%w: element %d is not finite", ErrInvalidMatrix, i)
		}
		m[i] = e
	}
	return Pose{Matrix: m}, nil
}

// Slice returns the 16 column-major matrix elements.
func (p Pose) Slice() []float64 {
	out := make([]float64, 16)
	copy(out, p.Matrix[:])
	return out
}

// Position returns the translation component.
func (p Pose) Position() mgl64.Vec3 {
	return p.Matrix.Col(3).Vec3()
}

// Right returns the local +X axis in tracking space.
func (p Pose) Right() mgl64.Vec3 {
	return p.Matrix.Col(0).Vec3()
}

// Up returns the local +Y axis in tracking space.
func (p Pose) Up() mgl64.Vec3 {
	return p.Matrix.Col(1).Vec3()
}

// Forward returns the viewing direction, the local -Z axis in tracking space.
func (p Pose) Forward() mgl64.Vec3 {
	return p.Matrix.Col(2).Vec3().Mul(-1)
}

// HorizontalAxes returns unit forward and right vectors in the horizontal plane of the
// tracking space. When the camera looks straight up or down, the screen's up axis is used
// as forward direction instead. ok is false if no horizontal direction can be derived.
func (p Pose) HorizontalAxes() (forward, right mgl64.Vec3, ok bool) {
	forward, ok = flatten(p.Forward())
	if !ok {
		// looking straight down, the top of the screen points forward
		if forward, ok = flatten(p.Up()); !ok {
			return mgl64.Vec3{}, mgl64.Vec3{}, false
		}
	}
	right = forward.Cross(worldUp).Normalize()
	return forward, right, true
}

// Transform applies the pose to a point.
func (p Pose) Transform(point mgl64.Vec3) mgl64.Vec3 {
	return p.Matrix.Mul4x1(point.Vec4(1)).Vec3()
}

func flatten(v mgl64.Vec3) (mgl64.Vec3, bool) {
	h := mgl64.Vec3{v.X(), 0, v.Z()}
	if h.Len() < horizontalEpsilon {
		return mgl64.Vec3{}, false
	}
	return h.Normalize(), true
}
