// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package placement

import (
	"github.com/wneessen/geoanchor/internal/pose"
)

// Anchor is a platform-provided geospatial anchor. Pose reports the anchor pose in the
// session's tracking space for the current frame, ok is false while the platform has not
// localized the anchor yet.
type Anchor interface {
	Pose() (p pose.Pose, ok bool)
}

// StaticAnchor is an Anchor whose pose is updated by the caller, e.g. from frame data
// delivered by a remote client. It is not safe for concurrent use: updates and reads belong
// to the goroutine that steps the reconciler.
type StaticAnchor struct {
	pose  pose.Pose
	valid bool
}

// Update sets the anchor pose for the current frame.
func (a *StaticAnchor) Update(p pose.Pose) {
	a.pose = p
	a.valid = true
}

// Invalidate marks the anchor as not localized.
func (a *StaticAnchor) Invalidate() {
	a.valid = false
}

func (a *StaticAnchor) Pose() (pose.Pose, bool) {
	return a.pose, a.valid
}
