//go:build !windows

package window

// NewSystem returns ErrUnsupported; only the Win32 window system is bound.
func NewSystem() (System, error) {
	return nil, ErrUnsupported
}
