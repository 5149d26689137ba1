package window

import (
	"errors"
	"fmt"

	"github.com/filbertlab/twoverlay/internal/logger"
	"github.com/filbertlab/twoverlay/internal/sched"
	"github.com/rs/zerolog"
)

// Tracker owns the cached target handle and the desktop event hook. All
// methods must be called on the scheduler; hook notifications are posted to
// it before they reach the listeners.
type Tracker struct {
	sys    System
	sched  sched.Scheduler
	target Target
	log    *zerolog.Logger

	titleBufferLen int

	handle Handle
	pid    uint32
	unhook func() error

	onWindowEvent func()
	onForeground  func(targetFocused bool, foreground Handle)
	onLocation    func(h Handle)
}

// NewTracker creates a tracker for target.
func NewTracker(sys System, s sched.Scheduler, target Target) *Tracker {
	return &Tracker{
		sys:            sys,
		sched:          s,
		target:         target,
		log:            logger.WithComponent("tracker"),
		titleBufferLen: DefaultTitleBufferLen,
	}
}

// Start logs the target identity. Location happens lazily on QueryRect.
func (t *Tracker) Start() {
	t.log.Info().
		Str("title", t.target.TitleFragment).
		Str("process", t.target.ProcessName).
		Msg("Tracker initialized")
}

// Stop releases the event hook and forgets the cached handle. Safe to call
// repeatedly or without Start.
func (t *Tracker) Stop() {
	if err := t.unregisterHook(); err != nil && !errors.Is(err, ErrNotRegistered) {
		t.log.Warn().Err(err).Msg("Failed to release event hook")
	}
	t.handle = 0
	t.pid = 0
}

// SetTarget changes the tracked identity and drops the cached handle.
func (t *Tracker) SetTarget(target Target) {
	if target == t.target {
		return
	}
	t.target = target
	t.handle = 0
	t.pid = 0
}

// SetWindowEventListener sets the callback for any notification about the
// target window.
func (t *Tracker) SetWindowEventListener(fn func()) { t.onWindowEvent = fn }

// SetForegroundChangeListener sets the callback for every foreground change,
// whichever window gained focus.
func (t *Tracker) SetForegroundChangeListener(fn func(targetFocused bool, foreground Handle)) {
	t.onForeground = fn
}

// SetLocationChangeListener sets the callback for location changes of any
// window.
func (t *Tracker) SetLocationChangeListener(fn func(h Handle)) { t.onLocation = fn }

// Handle returns the cached target handle, 0 if none.
func (t *Tracker) Handle() Handle { return t.handle }

// PID returns the pid recorded when the target was located.
func (t *Tracker) PID() uint32 { return t.pid }

// QueryRect returns the target's current geometry, locating it first when
// there is no valid cached handle.
func (t *Tracker) QueryRect() (res QueryResult) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Msg("Rect query panicked")
			res = transientResult(fmt.Errorf("%w: %v", ErrTransient, r))
		}
	}()

	if t.handle == 0 || !t.isValid(t.handle) {
		t.handle, t.pid = 0, 0
		h, pid, err := t.locate()
		if err != nil {
			return QueryResult{Kind: KindNotRunning}
		}
		t.handle, t.pid = h, pid
		t.log.Info().Str("hwnd", h.String()).Uint32("pid", pid).Msg("Found target window")
		t.ensureHook()
	}

	if t.sys.IsMinimized(t.handle) {
		return QueryResult{Kind: KindMinimized}
	}

	b, err := t.sys.FrameBounds(t.handle)
	if err != nil {
		b, err = t.sys.WindowBounds(t.handle)
		if err != nil {
			t.log.Debug().Err(err).Msg("Failed to get rect")
			return transientResult(fmt.Errorf("%w: failed to get rect: %v", ErrTransient, err))
		}
	}

	return rectResult(Rect{
		Bounds:     b,
		Foreground: t.sys.ForegroundWindow() == t.handle,
		Handle:     t.handle,
	})
}

// BoostProcess raises the located process to the high priority class.
func (t *Tracker) BoostProcess() BoostResult {
	return t.BoostPID(t.pid)
}

// BoostPID raises pid to the high priority class. It touches no tracker
// state, so it may run off the scheduler.
func (t *Tracker) BoostPID(pid uint32) BoostResult {
	if pid == 0 {
		return BoostFailed
	}
	res, err := t.sys.RaisePriority(pid)
	if err != nil {
		t.log.Warn().Err(err).Uint32("pid", pid).Msg("Process boost failed")
		return BoostFailed
	}
	return res
}

// FocusTarget makes the target the foreground window unless it already is.
func (t *Tracker) FocusTarget() error {
	if t.handle == 0 || !t.isValid(t.handle) {
		return ErrNotFound
	}
	if t.sys.ForegroundWindow() == t.handle {
		return nil
	}
	if err := t.sys.Activate(t.handle); err != nil {
		t.log.Warn().Err(err).Msg("Focus failed")
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return nil
}

// ensureHook registers the desktop hook once.
func (t *Tracker) ensureHook() {
	if t.unhook != nil {
		return
	}
	unhook, err := t.sys.Hook(func(ev Event) {
		t.sched.Post(func() { t.dispatch(ev) })
	})
	if err != nil {
		t.log.Warn().Err(err).Msg("Failed to register event hook, relying on polling")
		return
	}
	t.unhook = unhook
	t.log.Debug().Msg("Event hook registered")
}

func (t *Tracker) unregisterHook() error {
	if t.unhook == nil {
		return ErrNotRegistered
	}
	unhook := t.unhook
	t.unhook = nil
	return unhook()
}

// HookActive reports whether the desktop hook is registered.
func (t *Tracker) HookActive() bool { return t.unhook != nil }

func (t *Tracker) dispatch(ev Event) {
	isTarget := t.handle != 0 && ev.Handle == t.handle
	if isTarget && t.onWindowEvent != nil {
		t.onWindowEvent()
	}
	switch ev.Kind {
	case EventForeground:
		if t.onForeground != nil {
			t.onForeground(isTarget, ev.Handle)
		}
	case EventLocationChange:
		if t.onLocation != nil && !isTarget {
			t.onLocation(ev.Handle)
		}
	}
}
