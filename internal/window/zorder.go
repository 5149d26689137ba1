package window

import (
	"github.com/samber/lo"
)

// PromoteResult reports what a sandwich pass observed and did.
type PromoteResult struct {
	// Focused is true when the target or one of the overlays is foreground.
	Focused bool `json:"focused"`
	// Reordered is true when overlays were reinserted.
	Reordered bool `json:"reordered"`
	// Calls counts z-order moves issued.
	Calls int `json:"calls"`
}

// PromoteWindows stacks the visible overlays directly above target, ordered
// so the last overlay ends up highest. Windows above the overlays keep their
// place, so a third-party window activated by the user still covers them.
func (t *Tracker) PromoteWindows(target Handle, overlays []Handle) PromoteResult {
	var res PromoteResult
	if target == 0 {
		return res
	}

	fg := t.sys.ForegroundWindow()
	res.Focused = fg == target || lo.Contains(overlays, fg)
	if len(overlays) == 0 {
		return res
	}

	visible := lo.Filter(lo.Uniq(overlays), func(h Handle, _ int) bool {
		return h != 0 && h != target && t.sys.IsVisible(h)
	})
	if len(visible) == 0 {
		return res
	}

	anchor, ok := t.sandwichAnchor(target, visible)
	if !ok {
		return res
	}

	insertAfter := anchor
	for i := len(visible) - 1; i >= 0; i-- {
		h := visible[i]
		if err := t.sys.InsertAfter(h, insertAfter); err != nil {
			t.log.Debug().Err(err).Str("hwnd", h.String()).Msg("Promote failed")
			return res
		}
		res.Calls++
		insertAfter = h
	}
	res.Reordered = true
	return res
}

// sandwichAnchor inspects the windows above target. It returns ok=false when
// nothing needs to move: either every one of the len(overlays) windows
// directly above target is an overlay, or target is already topmost.
// Otherwise it returns the first non-overlay window above target, or 0 (top
// of the stack) when only overlays lie above it.
func (t *Tracker) sandwichAnchor(target Handle, overlays []Handle) (Handle, bool) {
	prev, err := t.sys.PrevWindow(target)
	if err != nil || prev == 0 {
		return 0, false
	}

	seen := make(map[Handle]bool, len(overlays))
	cur := prev
	for cur != 0 && lo.Contains(overlays, cur) {
		if seen[cur] {
			return 0, false
		}
		seen[cur] = true
		if len(seen) == len(overlays) {
			return 0, false
		}
		next, err := t.sys.PrevWindow(cur)
		if err != nil {
			return 0, false
		}
		cur = next
	}
	return cur, true
}
