package window

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultTitleBufferLen bounds window title reads.
const DefaultTitleBufferLen = 256

// Target identifies the tracked application window.
type Target struct {
	TitleFragment string
	ProcessName   string
}

// matchesImage reports whether the executable base name contains the
// configured process name, ignoring case.
func (t Target) matchesImage(path string) bool {
	if t.ProcessName == "" {
		return true
	}
	base := strings.ToLower(imageBase(path))
	return strings.Contains(base, strings.ToLower(t.ProcessName))
}

// isValid confirms h is still a live window owned by the process recorded
// when it was located.
func (t *Tracker) isValid(h Handle) bool {
	if h == 0 {
		return false
	}
	pid, err := t.sys.WindowProcessID(h)
	if err != nil {
		return false
	}
	return pid == t.pid
}

// locate enumerates top-level windows and returns the first one whose title
// contains the title fragment and whose process image matches. Candidates
// whose process cannot be opened are skipped.
func (t *Tracker) locate() (Handle, uint32, error) {
	var (
		found    Handle
		foundPID uint32
	)
	err := t.sys.EnumWindows(func(h Handle) bool {
		title, err := t.sys.WindowText(h, t.titleBufferLen)
		if err != nil || title == "" {
			return true
		}
		if !strings.Contains(title, t.target.TitleFragment) {
			return true
		}

		pid, err := t.sys.WindowProcessID(h)
		if err != nil {
			return true
		}
		image, err := t.sys.ProcessImagePath(pid)
		if err != nil {
			if errors.Is(err, ErrPermissionDenied) {
				t.log.Debug().Str("hwnd", h.String()).Uint32("pid", pid).Msg("Skipping window of inaccessible process")
			}
			return true
		}
		if !t.target.matchesImage(image) {
			return true
		}
		found, foundPID = h, pid
		return false
	})
	if err != nil {
		t.log.Debug().Err(err).Msg("Window enumeration failed")
		return 0, 0, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if found == 0 {
		return 0, 0, ErrNotFound
	}
	return found, foundPID, nil
}

// ListWindows returns every top-level window whose title contains
// titleFragment, or every titled window if titleFragment is empty.
func ListWindows(sys System, titleFragment string) ([]WindowInfo, error) {
	var out []WindowInfo
	err := sys.EnumWindows(func(h Handle) bool {
		title, err := sys.WindowText(h, DefaultTitleBufferLen)
		if err != nil || title == "" {
			return true
		}
		if titleFragment != "" && !strings.Contains(title, titleFragment) {
			return true
		}
		info := WindowInfo{
			Handle:  h,
			Title:   title,
			Visible: sys.IsVisible(h),
		}
		if pid, err := sys.WindowProcessID(h); err == nil {
			info.PID = pid
			if image, err := sys.ProcessImagePath(pid); err == nil {
				info.Image = imageBase(image)
			}
		}
		if b, err := sys.FrameBounds(h); err == nil {
			info.Bounds = b
		} else if b, err := sys.WindowBounds(h); err == nil {
			info.Bounds = b
		}
		out = append(out, info)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate windows: %w", err)
	}
	return out, nil
}

// imageBase strips the directory from an image path using either separator.
func imageBase(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}
