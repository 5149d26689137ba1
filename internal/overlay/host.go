package overlay

import (
	"github.com/filbertlab/twoverlay/internal/window"
)

// Host is a live top-level window owned by the shell. The manager never
// creates or destroys hosts; it only moves, shows and hides them.
type Host interface {
	// Handle returns the native window handle
	Handle() window.Handle

	// Bounds returns the current screen bounds
	Bounds() (window.Bounds, error)

	// SetBounds moves and resizes the window without activating it
	SetBounds(b window.Bounds) error

	// Show shows the window without activating it
	Show() error

	// Hide hides the window
	Hide() error

	// IsVisible returns whether the window is shown
	IsVisible() bool
}

// Screen reports the usable desktop area for clamped placements.
type Screen interface {
	WorkArea() (window.Bounds, error)
}

// NativeHost drives a window created by another process through the window
// system, identified only by its handle.
type NativeHost struct {
	sys    window.System
	handle window.Handle
}

// NewNativeHost wraps handle.
func NewNativeHost(sys window.System, handle window.Handle) *NativeHost {
	return &NativeHost{sys: sys, handle: handle}
}

// Handle returns the wrapped handle
func (h *NativeHost) Handle() window.Handle {
	return h.handle
}

// Bounds returns the raw window rectangle
func (h *NativeHost) Bounds() (window.Bounds, error) {
	return h.sys.WindowBounds(h.handle)
}

// SetBounds moves the window
func (h *NativeHost) SetBounds(b window.Bounds) error {
	return h.sys.SetBounds(h.handle, b)
}

// Show shows the window without activating it
func (h *NativeHost) Show() error {
	return h.sys.Show(h.handle, true)
}

// Hide hides the window
func (h *NativeHost) Hide() error {
	return h.sys.Show(h.handle, false)
}

// IsVisible returns the window's visibility style
func (h *NativeHost) IsVisible() bool {
	return h.sys.IsVisible(h.handle)
}
