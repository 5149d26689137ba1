package window

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrNotFound means the target window or process is absent.
	ErrNotFound = errors.New("target not found")
	// ErrPermissionDenied means a process could not be opened or queried.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTransient is an OS call failure during an otherwise healthy session.
	ErrTransient = errors.New("transient window system error")
	// ErrUnsupported is returned on platforms without a window system binding.
	ErrUnsupported = errors.New("window system not supported on this platform")
	// ErrNotRegistered is returned when unhooking without an active hook.
	ErrNotRegistered = errors.New("event hook not registered")
)

// Handle is an opaque top-level window identifier.
type Handle uintptr

// String formats the handle as a decimal string, the form shells pass around.
func (h Handle) String() string {
	return strconv.FormatUint(uint64(h), 10)
}

// ParseHandle is the inverse of Handle.String.
func ParseHandle(s string) (Handle, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid window handle %q: %w", s, err)
	}
	return Handle(v), nil
}

// Bounds is a screen rectangle in physical pixels.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Right returns the x coordinate just past the right edge.
func (b Bounds) Right() int { return b.X + b.Width }

// Rect is a successful geometry observation of the target window.
type Rect struct {
	Bounds
	Foreground bool   `json:"foreground"`
	Handle     Handle `json:"handle"`
}

// Equal compares geometry and foreground state.
func (r Rect) Equal(o Rect) bool {
	return r.Bounds == o.Bounds && r.Foreground == o.Foreground
}

// QueryKind tags a QueryResult.
type QueryKind int

const (
	KindRect QueryKind = iota
	KindNotRunning
	KindTransientError
	KindMinimized
)

func (k QueryKind) String() string {
	switch k {
	case KindRect:
		return "rect"
	case KindNotRunning:
		return "not_running"
	case KindTransientError:
		return "transient_error"
	case KindMinimized:
		return "minimized"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k QueryKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *QueryKind) UnmarshalText(b []byte) error {
	for _, c := range []QueryKind{KindRect, KindNotRunning, KindTransientError, KindMinimized} {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown query kind %q", b)
}

// QueryResult is the outcome of a Rect Query. Rect is set only for
// KindRect and Message only for KindTransientError.
type QueryResult struct {
	Kind    QueryKind `json:"kind"`
	Rect    Rect      `json:"rect"`
	Message string    `json:"message,omitempty"`
}

func rectResult(r Rect) QueryResult { return QueryResult{Kind: KindRect, Rect: r} }

func transientResult(err error) QueryResult {
	return QueryResult{Kind: KindTransientError, Message: err.Error()}
}

// Equal reports whether two results describe the same observation.
func (q QueryResult) Equal(o QueryResult) bool {
	if q.Kind != o.Kind {
		return false
	}
	if q.Kind == KindRect {
		return q.Rect.Equal(o.Rect)
	}
	return true
}

// BoostResult is the outcome of a priority boost.
type BoostResult int

const (
	Boosted BoostResult = iota
	AlreadyHigh
	BoostFailed
)

func (b BoostResult) String() string {
	switch b {
	case Boosted:
		return "boosted"
	case AlreadyHigh:
		return "already_high"
	default:
		return "failed"
	}
}

// EventKind identifies an OS window notification.
type EventKind int

const (
	EventForeground EventKind = iota
	EventLocationChange
	EventOther
)

// Event is a desktop-wide window notification.
type Event struct {
	Kind   EventKind
	Handle Handle
}

// WindowInfo describes a top-level window, used by the locate command.
type WindowInfo struct {
	Handle  Handle `json:"handle"`
	Title   string `json:"title"`
	PID     uint32 `json:"pid"`
	Image   string `json:"image,omitempty"`
	Visible bool   `json:"visible"`
	Bounds  Bounds `json:"bounds"`
}
