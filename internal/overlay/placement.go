package overlay

import (
	"github.com/filbertlab/twoverlay/internal/config"
	"github.com/filbertlab/twoverlay/internal/window"
)

// Kind selects a managed window's placement rule and offset convention.
type Kind int

const (
	// KindPrimary is offset from the target's top-left corner.
	KindPrimary Kind = iota
	// KindSidebar is pinned to the target's right edge.
	KindSidebar
	// KindSatellite is offset from the target's top-right corner.
	KindSatellite
)

func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindSidebar:
		return "sidebar"
	default:
		return "satellite"
	}
}

// clampMargin keeps clamped windows off the work area's edges.
const clampMargin = 10

// primaryBounds places the primary overlay at the target origin plus offset,
// keeping its size.
func primaryBounds(target, cur window.Bounds, off config.WindowPosition) window.Bounds {
	return window.Bounds{
		X:      target.X + off.OffsetX,
		Y:      target.Y + off.OffsetY,
		Width:  cur.Width,
		Height: cur.Height,
	}
}

// sidebarBounds pins the sidebar to the target's right edge. Zero width or
// height keeps the current size on that axis.
func sidebarBounds(target, cur window.Bounds, offsetY, width, height int) window.Bounds {
	if width <= 0 {
		width = cur.Width
	}
	if height <= 0 {
		height = cur.Height
	}
	return window.Bounds{
		X:      target.Right(),
		Y:      target.Y + offsetY,
		Width:  width,
		Height: height,
	}
}

// satelliteBounds places a satellite at the target's right edge plus offset
// with the given size; zero width or height keeps the current size. With
// clamp set, the window is kept horizontally inside the work area.
func satelliteBounds(target, cur window.Bounds, off config.WindowPosition, width, height int, clamp bool, work window.Bounds) window.Bounds {
	if width <= 0 {
		width = cur.Width
	}
	if height <= 0 {
		height = cur.Height
	}
	b := window.Bounds{
		X:      target.Right() + off.OffsetX,
		Y:      target.Y + off.OffsetY,
		Width:  width,
		Height: height,
	}
	if !clamp || work.Width <= 0 {
		return b
	}
	if b.X < work.X {
		b.X = work.X + clampMargin
	}
	if b.X+b.Width > work.Right() {
		b.X = work.Right() - b.Width - clampMargin
	}
	return b
}

// offsetFor derives the offset a window at b has under kind's convention.
func offsetFor(kind Kind, target, b window.Bounds) config.WindowPosition {
	if kind == KindPrimary {
		return config.WindowPosition{OffsetX: b.X - target.X, OffsetY: b.Y - target.Y}
	}
	return config.WindowPosition{OffsetX: b.X - target.Right(), OffsetY: b.Y - target.Y}
}

// exceeds reports whether want differs from cur by more than threshold on
// any axis.
func exceeds(cur, want window.Bounds, threshold int) bool {
	return abs(cur.X-want.X) > threshold ||
		abs(cur.Y-want.Y) > threshold ||
		abs(cur.Width-want.Width) > threshold ||
		abs(cur.Height-want.Height) > threshold
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
