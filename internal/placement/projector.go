// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package placement

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/wneessen/geoanchor/internal/geo"
	"github.com/wneessen/geoanchor/internal/pose"
)

const (
	ProjectionCamera = "camera"
	ProjectionWorld  = "world"
)

// Projector maps a local geographic offset into tracking space.
type Projector interface {
	Name() string
	Project(offset geo.LocalOffset, camera pose.Pose) mgl64.Vec3
}

// CameraRelative treats the camera's horizontal viewing direction as north, since the
// tracking space carries no compass heading. East maps to the camera's horizontal right axis.
type CameraRelative struct{}

// WorldAligned assumes the tracking space is aligned with the geographic frame, +X east and
// -Z north, and uses the offset unchanged.
type WorldAligned struct{}

// ProjectorByName returns the Projector for the given name.
func ProjectorByName(name string) (Projector, error) {
	switch strings.ToLower(name) {
	case ProjectionCamera, "":
		return CameraRelative{}, nil
	case ProjectionWorld:
		return WorldAligned{}, nil
	default:
		return nil, fmt.Errorf("unsupported projection: %s", name)
	}
}

func (CameraRelative) Name() string {
	return ProjectionCamera
}

func (CameraRelative) Project(offset geo.LocalOffset, camera pose.Pose) mgl64.Vec3 {
	forward, right, ok := camera.HorizontalAxes()
	if !ok {
		return WorldAligned{}.Project(offset, camera)
	}
	return right.Mul(offset.East).
		Add(forward.Mul(offset.North)).
		Add(mgl64.Vec3{0, offset.Up, 0})
}

func (WorldAligned) Name() string {
	return ProjectionWorld
}

func (WorldAligned) Project(offset geo.LocalOffset, _ pose.Pose) mgl64.Vec3 {
	return offset.Vec3()
}
