package window

// System is the platform binding for top-level window primitives. Win32System
// is the real implementation; windowtest.System is a deterministic fake.
type System interface {
	// EnumWindows calls fn for every top-level window until fn returns false.
	EnumWindows(fn func(Handle) bool) error

	// WindowText returns the title of h, truncated to maxLen UTF-16 units.
	WindowText(h Handle, maxLen int) (string, error)

	// WindowProcessID returns the pid owning h, or an error if h is gone.
	WindowProcessID(h Handle) (uint32, error)

	// ProcessImagePath returns the executable path of pid. Processes that
	// cannot be opened yield ErrPermissionDenied.
	ProcessImagePath(pid uint32) (string, error)

	// IsMinimized reports the iconic state of h.
	IsMinimized(h Handle) bool

	// IsVisible reports the visibility style of h.
	IsVisible(h Handle) bool

	// FrameBounds returns the composited (DWM) frame bounds of h.
	FrameBounds(h Handle) (Bounds, error)

	// WindowBounds returns the raw window rectangle of h.
	WindowBounds(h Handle) (Bounds, error)

	// ForegroundWindow returns the window that currently has input focus.
	ForegroundWindow() Handle

	// PrevWindow returns the window directly above h in the stack, or 0 if
	// h is topmost.
	PrevWindow(h Handle) (Handle, error)

	// InsertAfter moves h directly below after in the stack without moving,
	// resizing or activating it.
	InsertAfter(h, after Handle) error

	// SetBounds moves and resizes h without activating it.
	SetBounds(h Handle, b Bounds) error

	// Show shows h without activating it, or hides it.
	Show(h Handle, visible bool) error

	// WorkArea returns the primary monitor's work area.
	WorkArea() (Bounds, error)

	// RaisePriority moves pid to the high priority class.
	RaisePriority(pid uint32) (BoostResult, error)

	// Activate restores h and makes it the foreground window.
	Activate(h Handle) error

	// Hook registers one desktop-wide hook for foreground and location
	// notifications and calls fn for each. fn may be called from an OS
	// thread. The returned function removes the hook.
	Hook(fn func(Event)) (unhook func() error, err error)
}
