// Package engine wires the tracker, the polling loop and the overlay registry
// onto one serial scheduler and exposes them to the shell.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/filbertlab/twoverlay/internal/config"
	"github.com/filbertlab/twoverlay/internal/logger"
	"github.com/filbertlab/twoverlay/internal/overlay"
	"github.com/filbertlab/twoverlay/internal/poller"
	"github.com/filbertlab/twoverlay/internal/sched"
	"github.com/filbertlab/twoverlay/internal/window"
	"github.com/rs/zerolog"
)

// Status is a snapshot of the engine for the shell.
type Status struct {
	Running        bool          `json:"running"`
	Handle         window.Handle `json:"handle"`
	PID            uint32        `json:"pid"`
	HookActive     bool          `json:"hook_active"`
	Scope          FocusScope    `json:"focus_scope"`
	Focused        bool          `json:"focused"`
	OverlayVisible bool          `json:"overlay_visible"`
	PrimaryVisible bool          `json:"primary_visible"`
	Tracking       bool          `json:"tracking"`
	Resizing       bool          `json:"resizing"`
	Polling        poller.State  `json:"polling"`
}

// Engine owns every piece of tracking state. Everything except Subscribe,
// Unsubscribe and Done runs on the executor.
type Engine struct {
	cfg     *config.Manager
	sys     window.System
	exec    sched.Executor
	tracker *window.Tracker
	overlay *overlay.Manager
	poller  *poller.Loop
	log     *zerolog.Logger
	now     func() time.Time

	overrides config.Overrides

	// loop-owned
	started    bool
	stopped    bool
	scope      FocusScope
	focused    bool
	lastResult window.QueryResult

	mu        sync.RWMutex
	listeners []chan Event

	done     chan struct{}
	doneOnce sync.Once
}

// New builds an engine from the current configuration.
func New(cfgMgr *config.Manager, sys window.System, exec sched.Executor) *Engine {
	cfg := cfgMgr.Get()

	e := &Engine{
		cfg:  cfgMgr,
		sys:  sys,
		exec: exec,
		log:  logger.WithComponent("engine"),
		now:  time.Now,
		done: make(chan struct{}),
	}
	e.tracker = window.NewTracker(sys, exec, targetOf(cfg))
	e.overlay = overlay.NewManager(cfgMgr, sys, overlay.OptionsFromConfig(cfg))
	e.poller = poller.New(e.tracker, e.overlay, exec, poller.OptionsFromConfig(cfg))

	e.tracker.SetForegroundChangeListener(e.onForeground)
	e.tracker.SetLocationChangeListener(e.onLocation)
	e.poller.SetExitHandler(e.onTargetExit)
	e.poller.SetFocusHandler(e.onFocusPolicy)
	e.poller.SetResultHandler(e.onResult)
	return e
}

func targetOf(cfg *config.Config) window.Target {
	return window.Target{
		TitleFragment: cfg.Target.TitleFragment,
		ProcessName:   cfg.Target.ProcessName,
	}
}

// SetAsync replaces the runner the polling loop uses for blocking OS calls.
func (e *Engine) SetAsync(fn func(func())) { e.poller.SetAsync(fn) }

// SetOverrides records command-line overrides so they survive config
// reloads.
func (e *Engine) SetOverrides(o config.Overrides) { e.overrides = o }

// Done is closed once the engine has stopped, either through Stop or
// because the target exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Start begins tracking. The config watcher runs until ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	var launched bool
	err := e.exec.Call(ctx, func() {
		if e.started || e.stopped {
			return
		}
		e.started, launched = true, true
		e.tracker.Start()
		e.poller.Start()
	})
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	if !launched {
		return nil
	}

	go func() {
		err := e.cfg.Watch(ctx, func(cfg *config.Config) {
			e.exec.Post(func() { e.applyConfig(cfg) })
		})
		if err != nil {
			e.log.Warn().Err(err).Msg("Config watcher unavailable")
		}
	}()
	return nil
}

// Stop cancels polling, releases the event hook, forgets the target and
// flushes pending configuration. Safe to call more than once.
func (e *Engine) Stop(ctx context.Context) error {
	return e.exec.Call(ctx, e.shutdown)
}

func (e *Engine) shutdown() {
	if e.stopped {
		return
	}
	e.stopped = true
	e.poller.Stop()
	e.tracker.Stop()
	e.flushConfig()
	e.doneOnce.Do(func() { close(e.done) })
	e.log.Info().Msg("Engine stopped")
}

func (e *Engine) flushConfig() {
	if !e.cfg.HasPending() {
		return
	}
	if err := e.cfg.SaveImmediate(); err != nil {
		e.log.Warn().Err(err).Msg("Failed to flush config")
	}
}

func (e *Engine) onTargetExit() {
	e.publish(EventExit, nil)
	e.shutdown()
}

func (e *Engine) onForeground(targetFocused bool, fg window.Handle) {
	scope := ScopeThirdParty
	switch {
	case targetFocused:
		scope = ScopeTarget
	case e.overlay.Owns(fg):
		scope = ScopeOverlay
		if key, ok := e.overlay.KeyFor(fg); ok {
			e.overlay.Push(key)
		}
	}
	if scope == e.scope {
		return
	}
	e.scope = scope
	e.log.Debug().Str("scope", string(scope)).Str("hwnd", fg.String()).Msg("Foreground changed")
	e.publish(EventFocusScope, scope)
}

func (e *Engine) onLocation(h window.Handle) {
	e.overlay.HandleMovedHandle(h)
}

func (e *Engine) onFocusPolicy(focused bool) {
	if focused == e.focused {
		return
	}
	e.focused = focused
	e.publish(EventTopmost, focused)
}

func (e *Engine) onResult(res window.QueryResult, _ poller.State) {
	if res.Equal(e.lastResult) {
		return
	}
	e.lastResult = res
	e.publish(EventTarget, res)
}

func (e *Engine) applyConfig(cfg *config.Config) {
	if e.stopped {
		return
	}
	e.cfg.ApplyOverrides(e.overrides)
	cfg = e.cfg.Get()

	e.overlay.Reload(cfg)
	e.poller.SetOptions(poller.OptionsFromConfig(cfg))
	e.tracker.SetTarget(targetOf(cfg))
	e.publish(EventConfig, nil)
	e.poller.Resync()
}

// call runs fn on the loop and returns its error.
func (e *Engine) call(ctx context.Context, fn func() error) error {
	var err error
	if cerr := e.exec.Call(ctx, func() { err = fn() }); cerr != nil {
		return cerr
	}
	return err
}

// QueryTarget runs one rect query.
func (e *Engine) QueryTarget(ctx context.Context) (window.QueryResult, error) {
	var res window.QueryResult
	err := e.exec.Call(ctx, func() { res = e.tracker.QueryRect() })
	return res, err
}

// FocusTarget brings the target to the foreground.
func (e *Engine) FocusTarget(ctx context.Context) error {
	return e.call(ctx, e.tracker.FocusTarget)
}

// Boost raises the target's priority. The OS call runs on the caller's
// goroutine.
func (e *Engine) Boost(ctx context.Context) (window.BoostResult, error) {
	var pid uint32
	if err := e.exec.Call(ctx, func() { pid = e.tracker.PID() }); err != nil {
		return window.BoostFailed, err
	}
	if pid == 0 {
		return window.BoostFailed, window.ErrNotFound
	}
	return e.tracker.BoostPID(pid), nil
}

// Status returns a snapshot of the engine.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.exec.Call(ctx, func() {
		st = Status{
			Running:        e.poller.Running(),
			Handle:         e.tracker.Handle(),
			PID:            e.tracker.PID(),
			HookActive:     e.tracker.HookActive(),
			Scope:          e.scope,
			Focused:        e.focused,
			OverlayVisible: e.overlay.Visible(),
			PrimaryVisible: e.overlay.PrimaryVisible(),
			Tracking:       e.overlay.Tracking(),
			Resizing:       e.overlay.Resizing(),
			Polling:        e.poller.State(),
		}
	})
	return st, err
}

// Windows lists the managed windows.
func (e *Engine) Windows(ctx context.Context) ([]overlay.WindowState, error) {
	var out []overlay.WindowState
	err := e.exec.Call(ctx, func() { out = e.overlay.Snapshot() })
	return out, err
}

// RegisterWindow manages the native window h under key and polls so it is
// placed right away.
func (e *Engine) RegisterWindow(ctx context.Context, key string, h window.Handle) error {
	return e.call(ctx, func() error {
		if key == "" || h == 0 {
			return fmt.Errorf("key and handle are required")
		}
		if err := e.overlay.Register(key, overlay.NewNativeHost(e.sys, h)); err != nil {
			return err
		}
		e.publish(EventWindows, e.overlay.Snapshot())
		e.poller.PollNow()
		return nil
	})
}

// UnregisterWindow stops managing key.
func (e *Engine) UnregisterWindow(ctx context.Context, key string) error {
	return e.call(ctx, func() error {
		if err := e.overlay.Unregister(key); err != nil {
			return err
		}
		e.publish(EventWindows, e.overlay.Snapshot())
		return nil
	})
}

// ActivateWindow records that the shell showed or focused key.
func (e *Engine) ActivateWindow(ctx context.Context, key string) error {
	return e.call(ctx, func() error { return e.overlay.Push(key) })
}

// ToggleOverlay flips and persists the primary overlay visibility and
// returns the new value.
func (e *Engine) ToggleOverlay(ctx context.Context) (bool, error) {
	var visible bool
	err := e.exec.Call(ctx, func() {
		visible = !e.overlay.PrimaryVisible()
		e.overlay.SetPrimaryVisible(visible)
		e.cfg.SetOverlayVisible(visible)
		e.publish(EventOverlay, visible)
	})
	return visible, err
}

// SetResizing suspends syncing while the shell applies a size change to
// the primary overlay.
func (e *Engine) SetResizing(ctx context.Context, active bool) error {
	return e.exec.Call(ctx, func() {
		if active {
			e.overlay.BeginResize()
			return
		}
		e.overlay.EndResize()
		e.poller.Resync()
	})
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg.Get()
}
