// Package region computes the part of the screen where direct-touch
// passthrough is safe: the full screen minus system windows, accessibility
// overlays and, unless direct typing is on, input-method windows.
package region

import (
	"touchbridge/internal/geom"
	"touchbridge/internal/platform"
)

// excluded reports whether a surface of kind k is carved out of the region.
func excluded(k platform.SurfaceKind, directTyping bool) bool {
	switch k {
	case platform.KindSystem, platform.KindAccessibilityOverlay:
		return true
	case platform.KindInputMethod:
		return !directTyping
	}
	return false
}

// ComputePassthroughRegion returns fullScreen minus the bounds of every
// excluded surface. With directTyping set, input-method windows stay inside
// the region so the application receives keyboard-area touches directly.
// The result never extends beyond fullScreen and is empty when nothing is
// left.
func ComputePassthroughRegion(surfaces []platform.Surface, fullScreen geom.Rect, directTyping bool) geom.Region {
	r := geom.NewRegion(fullScreen)
	for _, s := range surfaces {
		if r.IsEmpty() {
			break
		}
		if excluded(s.Kind, directTyping) {
			r = r.Subtract(s.Bounds)
		}
	}
	return r
}
