// Package poller drives the target rect query on an adaptive cadence: fast
// while the target moves, slow once it settles, and immediately after a
// window event.
package poller

import (
	"fmt"
	"time"

	"github.com/filbertlab/twoverlay/internal/config"
	"github.com/filbertlab/twoverlay/internal/logger"
	"github.com/filbertlab/twoverlay/internal/sched"
	"github.com/filbertlab/twoverlay/internal/window"
	"github.com/rs/zerolog"
)

// Tracker is the subset of window.Tracker the loop drives.
type Tracker interface {
	QueryRect() window.QueryResult
	PID() uint32
	BoostPID(pid uint32) window.BoostResult
	PromoteWindows(target window.Handle, overlays []window.Handle) window.PromoteResult
	SetWindowEventListener(fn func())
}

// Overlay is the subset of overlay.Manager the loop drives.
type Overlay interface {
	Sync(target window.Bounds) int
	HideAll()
	Visible() bool
	Handles() []window.Handle
}

// Options holds cadences and thresholds.
type Options struct {
	Fast               time.Duration
	Stable             time.Duration
	Minimized          time.Duration
	Idle               time.Duration
	Debounce           time.Duration
	StableThreshold    int
	MinimizedThreshold int

	// ExitWithTarget signals exit when a previously seen target disappears.
	ExitWithTarget bool
}

// OptionsFromConfig converts the polling section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	p := cfg.Polling
	return Options{
		Fast:               p.Fast(),
		Stable:             p.Stable(),
		Minimized:          p.Minimized(),
		Idle:               p.Idle(),
		Debounce:           p.Debounce(),
		StableThreshold:    p.StableThreshold,
		MinimizedThreshold: p.MinimizedThreshold,
		ExitWithTarget:     cfg.Overlay.ExitWithTarget,
	}
}

// Phase names the loop's implicit state.
type Phase string

const (
	PhaseFast        Phase = "fast"
	PhaseStabilizing Phase = "stabilizing"
	PhaseStable      Phase = "stable"
	PhaseMinimized   Phase = "minimized"
	PhaseIdle        Phase = "idle"
	PhaseTransient   Phase = "transient"
	PhaseExited      Phase = "exited"
)

// State is the polling state.
type State struct {
	StableCount int                `json:"stable_count"`
	LastRect    window.QueryResult `json:"last_rect"`
	Boosted     bool               `json:"boosted"`
	NextDelay   time.Duration      `json:"next_delay"`
	Phase       Phase              `json:"phase"`
	EverFound   bool               `json:"ever_found"`
	Ticks       int                `json:"ticks"`
}

// Loop is the adaptive polling state machine. Every method runs on the
// scheduler.
type Loop struct {
	tracker Tracker
	overlay Overlay
	sched   sched.Scheduler
	opts    Options
	log     *zerolog.Logger

	state State
	timer sched.Timer

	running         bool
	processingEvent bool
	exited          bool

	boostPID     uint32
	boostPending bool

	// async runs blocking work off the scheduler.
	async func(func())

	onExit   func()
	onFocus  func(focused bool)
	onResult func(res window.QueryResult, st State)
}

// New creates a stopped loop.
func New(t Tracker, o Overlay, s sched.Scheduler, opts Options) *Loop {
	return &Loop{
		tracker: t,
		overlay: o,
		sched:   s,
		opts:    opts,
		log:     logger.WithComponent("poller"),
		async:   func(fn func()) { go fn() },
	}
}

// SetAsync replaces the runner for blocking calls.
func (l *Loop) SetAsync(fn func(func())) { l.async = fn }

// SetExitHandler sets the callback run once when the target exits.
func (l *Loop) SetExitHandler(fn func()) { l.onExit = fn }

// SetFocusHandler sets the always-on-top policy callback, called once per
// tick that observes a rect.
func (l *Loop) SetFocusHandler(fn func(focused bool)) { l.onFocus = fn }

// SetResultHandler sets a callback run after every tick.
func (l *Loop) SetResultHandler(fn func(res window.QueryResult, st State)) { l.onResult = fn }

// SetOptions replaces cadences; the next scheduled tick uses them.
func (l *Loop) SetOptions(opts Options) { l.opts = opts }

// State returns a copy of the polling state.
func (l *Loop) State() State { return l.state }

// Running reports whether the loop is scheduling ticks.
func (l *Loop) Running() bool { return l.running }

// Start registers the window event listener and polls immediately.
func (l *Loop) Start() {
	if l.running || l.exited {
		return
	}
	l.running = true
	l.tracker.SetWindowEventListener(l.onWindowEvent)
	l.log.Info().Dur("fast", l.opts.Fast).Dur("stable", l.opts.Stable).Msg("Polling started")
	l.poll()
}

// Stop cancels the pending tick. Safe to call repeatedly.
func (l *Loop) Stop() {
	l.running = false
	l.processingEvent = false
	l.cancelTimer()
}

// PollNow cancels the pending tick and polls immediately.
func (l *Loop) PollNow() {
	if !l.running {
		return
	}
	l.cancelTimer()
	l.processingEvent = false
	l.poll()
}

// Resync forgets the last rect so the next poll re-places the overlay even
// if the target has not moved, then polls immediately.
func (l *Loop) Resync() {
	l.state.LastRect = window.QueryResult{}
	l.PollNow()
}

func (l *Loop) cancelTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// onWindowEvent supersedes the pending tick with a poll after the debounce
// window. Events arriving within the window are coalesced.
func (l *Loop) onWindowEvent() {
	if !l.running || l.processingEvent || l.timer == nil {
		return
	}
	l.cancelTimer()
	l.processingEvent = true
	l.timer = l.sched.AfterFunc(l.opts.Debounce, func() {
		l.timer = nil
		l.processingEvent = false
		l.poll()
	})
}

func (l *Loop) poll() {
	l.timer = nil
	if !l.running {
		return
	}

	delay := l.opts.Fast
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Str("panic", fmt.Sprint(r)).Msg("Poll tick panicked, retrying")
			delay = l.opts.Fast
		}
		if !l.running {
			return
		}
		l.state.NextDelay = delay
		l.timer = l.sched.AfterFunc(delay, l.poll)
	}()

	res := l.tracker.QueryRect()
	l.state.Ticks++
	delay = l.tick(res)
	l.state.NextDelay = delay

	if l.onResult != nil {
		l.onResult(res, l.state)
	}
}

func (l *Loop) tick(res window.QueryResult) time.Duration {
	switch res.Kind {
	case window.KindTransientError:
		l.log.Debug().Str("error", res.Message).Msg("Transient query failure")
		l.state.Phase = PhaseTransient
		return l.opts.Fast

	case window.KindNotRunning:
		if l.state.EverFound && l.opts.ExitWithTarget {
			l.signalExit()
			return 0
		}
		l.reset(res, PhaseIdle)
		return l.opts.Idle

	case window.KindMinimized:
		l.reset(res, PhaseMinimized)
		return l.opts.Minimized
	}

	rect := res.Rect
	if rect.X <= l.opts.MinimizedThreshold {
		l.reset(res, PhaseMinimized)
		return l.opts.Minimized
	}

	l.state.EverFound = true
	l.maybeBoost()

	if rect.Handle != 0 {
		promoted := l.tracker.PromoteWindows(rect.Handle, l.overlay.Handles())
		if l.onFocus != nil {
			l.onFocus(promoted.Focused)
		}
	}

	if !res.Equal(l.state.LastRect) || !l.overlay.Visible() {
		l.overlay.Sync(rect.Bounds)
		l.state.LastRect = res
		l.state.StableCount = 0
		l.state.Phase = PhaseFast
		return l.opts.Fast
	}

	l.state.StableCount++
	if l.state.StableCount >= l.opts.StableThreshold {
		l.state.Phase = PhaseStable
		return l.opts.Stable
	}
	l.state.Phase = PhaseStabilizing
	return l.opts.Fast
}

// reset hides the overlay and clears the polling state for a target that is
// gone or minimized. Boost state survives a minimize since the process keeps
// its priority class.
func (l *Loop) reset(res window.QueryResult, phase Phase) {
	if l.state.Phase != phase {
		l.log.Debug().Str("phase", string(phase)).Msg("Target unavailable, hiding overlay")
	}
	l.overlay.HideAll()
	l.state.StableCount = 0
	l.state.LastRect = res
	l.state.Phase = phase
	if phase == PhaseIdle {
		l.state.Boosted = false
		l.boostPID = 0
	}
}

func (l *Loop) signalExit() {
	l.running = false
	l.state.Phase = PhaseExited
	if l.exited {
		return
	}
	l.exited = true
	l.log.Info().Msg("Target exited, shutting down")
	if l.onExit != nil {
		l.onExit()
	}
}

// maybeBoost raises the target's priority once per detection. The OS call
// runs off the scheduler and its outcome is posted back.
func (l *Loop) maybeBoost() {
	pid := l.tracker.PID()
	if pid == 0 || l.boostPending || l.boostPID == pid {
		return
	}
	l.boostPID = pid
	l.boostPending = true
	l.state.Boosted = false

	l.async(func() {
		res := l.tracker.BoostPID(pid)
		l.sched.Post(func() {
			l.boostPending = false
			if l.boostPID != pid {
				return
			}
			if res == window.Boosted || res == window.AlreadyHigh {
				l.state.Boosted = true
				l.log.Info().Str("result", res.String()).Uint32("pid", pid).Msg("Target process priority elevated")
			}
		})
	})
}
