package poller

import (
	"testing"
	"time"

	"github.com/filbertlab/twoverlay/internal/config"
	"github.com/filbertlab/twoverlay/internal/overlay"
	"github.com/filbertlab/twoverlay/internal/sched"
	"github.com/filbertlab/twoverlay/internal/window"
	"github.com/filbertlab/twoverlay/internal/window/windowtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gameHandle  window.Handle = 100
	primaryWin  window.Handle = 1
	sidebarWin  window.Handle = 2
	galleryWin  window.Handle = 3
	settingsWin window.Handle = 4

	gamePID uint32 = 42
)

const (
	fast         = 100 * time.Millisecond
	stableDelay  = time.Second
	idleDelay    = 3 * time.Second
	minimizedDly = 2 * time.Second
	debounce     = 16 * time.Millisecond
)

type mapStore map[string]config.WindowPosition

func (s mapStore) Position(key string) (config.WindowPosition, bool) {
	p, ok := s[key]
	return p, ok
}

func (s mapStore) SavePosition(key string, pos config.WindowPosition) { s[key] = pos }

type harness struct {
	sys     *windowtest.System
	v       *sched.Virtual
	tracker *window.Tracker
	overlay *overlay.Manager
	loop    *Loop
	exits   int
	focus   []bool
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Defaults()
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{sys: windowtest.New(), v: sched.NewVirtual()}
	h.sys.SetProcess(gamePID, `C:\Games\InphaseNXD.exe`)

	h.tracker = window.NewTracker(h.sys, h.v, window.Target{
		TitleFragment: cfg.Target.TitleFragment,
		ProcessName:   cfg.Target.ProcessName,
	})
	h.overlay = overlay.NewManager(mapStore(cfg.Positions), h.sys, overlay.OptionsFromConfig(cfg))

	for _, w := range []struct {
		key    string
		handle window.Handle
		bounds window.Bounds
	}{
		{config.KeyOverlay, primaryWin, window.Bounds{Width: 400, Height: 300}},
		{config.KeyMain, sidebarWin, window.Bounds{Width: 200, Height: 800}},
		{"gallery", galleryWin, window.Bounds{Width: 380, Height: 600}},
		{"settings", settingsWin, window.Bounds{Width: 1000, Height: 650}},
	} {
		h.sys.AddWindow(w.handle, windowtest.Window{Title: "overlay " + w.key, PID: 7, Bounds: w.bounds})
		require.NoError(t, h.overlay.Register(w.key, overlay.NewNativeHost(h.sys, w.handle)))
	}

	h.loop = New(h.tracker, h.overlay, h.v, OptionsFromConfig(cfg))
	h.loop.SetAsync(func(fn func()) { fn() })
	h.loop.SetExitHandler(func() { h.exits++ })
	h.loop.SetFocusHandler(func(f bool) { h.focus = append(h.focus, f) })
	return h
}

func (h *harness) addGame(b window.Bounds) {
	h.sys.AddWindow(gameHandle, windowtest.Window{Title: "Talesweaver", PID: gamePID, Visible: true, Bounds: b})
}

func (h *harness) moveGame(x, y int) {
	h.sys.Update(gameHandle, func(w *windowtest.Window) { w.Bounds.X, w.Bounds.Y = x, y })
}

func (h *harness) bounds(handle window.Handle) window.Bounds {
	w, _ := h.sys.Window(handle)
	return w.Bounds
}

func (h *harness) visible(handle window.Handle) bool {
	return h.sys.IsVisible(handle)
}

func countMoves(calls []window.Handle, handle window.Handle) int {
	n := 0
	for _, c := range calls {
		if c == handle {
			n++
		}
	}
	return n
}

var gameBounds = window.Bounds{X: 100, Y: 100, Width: 800, Height: 600}

func TestLoop_StableCountGrowsToStableCadence(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)

	h.loop.Start()
	require.Equal(t, PhaseFast, h.loop.State().Phase)
	assert.Equal(t, fast, h.loop.State().NextDelay)

	for i := 1; i <= 10; i++ {
		h.v.Advance(fast)
		st := h.loop.State()
		assert.Equal(t, i, st.StableCount)
		if i < 10 {
			assert.Equal(t, fast, st.NextDelay, "tick %d", i)
			assert.Equal(t, PhaseStabilizing, st.Phase)
		}
	}
	assert.Equal(t, stableDelay, h.loop.State().NextDelay)
	assert.Equal(t, PhaseStable, h.loop.State().Phase)
	assert.Equal(t, []time.Duration{stableDelay}, h.v.Pending())

	h.v.Advance(stableDelay)
	assert.Equal(t, 11, h.loop.State().StableCount)
	assert.Equal(t, stableDelay, h.loop.State().NextDelay)
}

func TestLoop_ChangeAfterStableResetsToFast(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.loop.Start()
	for i := 0; i < 10; i++ {
		h.v.Advance(fast)
	}
	require.Equal(t, stableDelay, h.loop.State().NextDelay)

	h.moveGame(300, 200)
	h.v.Advance(stableDelay)

	st := h.loop.State()
	assert.Equal(t, 0, st.StableCount)
	assert.Equal(t, fast, st.NextDelay)
	assert.Equal(t, 310, h.bounds(primaryWin).X)
}

func TestLoop_ForegroundChangeCountsAsChange(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.loop.Start()
	h.v.Advance(fast)
	require.Equal(t, 1, h.loop.State().StableCount)

	h.sys.SetForeground(gameHandle)
	h.v.Advance(fast)
	assert.Equal(t, 0, h.loop.State().StableCount)
}

func TestLoop_HiddenOverlayKeepsFastCadence(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.loop.Start()
	h.v.Advance(fast)
	require.Equal(t, 1, h.loop.State().StableCount)

	// The shell hid the sidebar; the next tick resyncs and shows it again.
	h.sys.Show(sidebarWin, false)
	h.v.Advance(fast)
	assert.Equal(t, 0, h.loop.State().StableCount)
	assert.True(t, h.visible(sidebarWin))
}

func TestLoop_NotRunningNeverSeenKeepsPolling(t *testing.T) {
	h := newHarness(t, nil)
	h.sys.Show(primaryWin, true)

	h.loop.Start()
	for i := 0; i < 20; i++ {
		st := h.loop.State()
		assert.Equal(t, window.KindNotRunning, st.LastRect.Kind)
		assert.Equal(t, idleDelay, st.NextDelay)
		assert.Equal(t, PhaseIdle, st.Phase)
		h.v.Advance(idleDelay)
	}
	assert.Equal(t, 0, h.exits)
	assert.True(t, h.loop.Running())
	assert.False(t, h.visible(primaryWin))
	assert.Equal(t, []time.Duration{idleDelay}, h.v.Pending())
}

func TestLoop_TargetExitSignalsOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.loop.Start()
	h.v.Advance(fast)

	h.sys.RemoveWindow(gameHandle)
	h.v.Advance(fast)

	assert.Equal(t, 1, h.exits)
	assert.False(t, h.loop.Running())
	assert.Equal(t, PhaseExited, h.loop.State().Phase)
	assert.Empty(t, h.v.Pending(), "no further ticks after exit")

	h.v.Advance(time.Minute)
	h.loop.Start()
	h.loop.PollNow()
	assert.Equal(t, 1, h.exits)
}

func TestLoop_TargetExitWithoutShutdown(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Overlay.ExitWithTarget = false })
	h.addGame(gameBounds)
	h.loop.Start()

	h.sys.RemoveWindow(gameHandle)
	h.v.Advance(fast)

	assert.Equal(t, 0, h.exits)
	assert.Equal(t, PhaseIdle, h.loop.State().Phase)
	assert.False(t, h.visible(sidebarWin))
}

func TestLoop_Minimized(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.loop.Start()
	h.v.Advance(fast)
	require.True(t, h.loop.State().Boosted)
	require.True(t, h.visible(sidebarWin))

	h.sys.Update(gameHandle, func(w *windowtest.Window) { w.Minimized = true })
	h.v.Advance(fast)

	st := h.loop.State()
	assert.Equal(t, PhaseMinimized, st.Phase)
	assert.Equal(t, minimizedDly, st.NextDelay)
	assert.Equal(t, 0, st.StableCount)
	assert.True(t, st.Boosted, "the process keeps its priority while minimized")
	assert.False(t, h.visible(sidebarWin))

	// Restored: resynced and shown, the same pid is not boosted again.
	h.sys.Update(gameHandle, func(w *windowtest.Window) { w.Minimized = false })
	h.v.Advance(minimizedDly)
	assert.Equal(t, PhaseFast, h.loop.State().Phase)
	assert.True(t, h.visible(sidebarWin))
	assert.True(t, h.loop.State().Boosted)
	assert.Equal(t, 1, h.sys.BoostCalls())
}

func TestLoop_MinimizeCyclesBoostOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.loop.Start()
	h.v.Advance(fast)

	for i := 0; i < 3; i++ {
		h.sys.Update(gameHandle, func(w *windowtest.Window) { w.Minimized = true })
		h.v.Advance(fast)
		require.Equal(t, PhaseMinimized, h.loop.State().Phase)
		h.sys.Update(gameHandle, func(w *windowtest.Window) { w.Minimized = false })
		h.v.Advance(minimizedDly)
		require.Equal(t, PhaseFast, h.loop.State().Phase)
	}
	assert.Equal(t, 1, h.sys.BoostCalls())
}

func TestLoop_OffscreenSentinelIsMinimized(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(window.Bounds{X: -32000, Y: -32000, Width: 160, Height: 28})
	h.loop.Start()

	assert.Equal(t, PhaseMinimized, h.loop.State().Phase)
	assert.Equal(t, minimizedDly, h.loop.State().NextDelay)
	assert.Empty(t, h.sys.SetBoundsCalls())
}

func TestLoop_TransientErrorKeepsState(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.loop.Start()
	h.v.Advance(fast)
	h.v.Advance(fast)
	require.Equal(t, 2, h.loop.State().StableCount)
	movesBefore := len(h.sys.SetBoundsCalls())

	h.sys.Update(gameHandle, func(w *windowtest.Window) {
		w.FrameErr = window.ErrTransient
		w.BoundsErr = window.ErrTransient
	})
	h.v.Advance(fast)

	st := h.loop.State()
	assert.Equal(t, PhaseTransient, st.Phase)
	assert.Equal(t, fast, st.NextDelay)
	assert.Equal(t, 2, st.StableCount, "transient errors do not reset stability")
	assert.True(t, h.visible(sidebarWin), "transient errors do not hide the overlay")
	assert.Len(t, h.sys.SetBoundsCalls(), movesBefore)
	assert.Equal(t, 0, h.exits)
}

func TestLoop_EventsCoalesceIntoOnePoll(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.loop.Start()
	for i := 0; i < 10; i++ {
		h.v.Advance(fast)
	}
	require.Equal(t, []time.Duration{stableDelay}, h.v.Pending())
	ticks := h.loop.State().Ticks

	h.moveGame(110, 100)
	h.sys.Fire(window.Event{Kind: window.EventLocationChange, Handle: gameHandle})
	h.sys.Fire(window.Event{Kind: window.EventLocationChange, Handle: gameHandle})
	h.v.Flush()

	assert.Equal(t, []time.Duration{debounce}, h.v.Pending(), "event supersedes the pending stable tick")

	h.sys.Fire(window.Event{Kind: window.EventLocationChange, Handle: gameHandle})
	h.v.Advance(debounce)

	assert.Equal(t, ticks+1, h.loop.State().Ticks, "exactly one poll for the burst")
	assert.Equal(t, 120, h.bounds(primaryWin).X)
	assert.Equal(t, []time.Duration{fast}, h.v.Pending())
}

func TestLoop_EventsForOtherWindowsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.loop.Start()
	ticks := h.loop.State().Ticks

	h.sys.Fire(window.Event{Kind: window.EventLocationChange, Handle: 555})
	h.v.Flush()
	assert.Equal(t, []time.Duration{fast}, h.v.Pending())
	assert.Equal(t, ticks, h.loop.State().Ticks)
}

func TestLoop_BoostOncePerDetection(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Overlay.ExitWithTarget = false })
	h.addGame(gameBounds)
	h.loop.Start()
	for i := 0; i < 5; i++ {
		h.v.Advance(fast)
	}
	assert.Equal(t, 1, h.sys.BoostCalls())
	assert.True(t, h.loop.State().Boosted)

	h.sys.RemoveWindow(gameHandle)
	h.v.Advance(fast)
	assert.False(t, h.loop.State().Boosted)

	h.addGame(gameBounds)
	h.v.Advance(idleDelay)
	assert.Equal(t, 2, h.sys.BoostCalls())
}

func TestLoop_FailedBoostNotRetriedEveryTick(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	var queued []func()
	h.loop.SetAsync(func(fn func()) { queued = append(queued, fn) })

	h.loop.Start()
	require.Len(t, queued, 1)
	h.sys.DenyProcess(gamePID)
	queued[0]()

	for i := 0; i < 5; i++ {
		h.v.Advance(fast)
	}
	assert.Len(t, queued, 1)
	assert.Equal(t, 1, h.sys.BoostCalls())
	assert.False(t, h.loop.State().Boosted)
	assert.Equal(t, window.KindRect, h.loop.State().LastRect.Kind)
}

func TestLoop_BoostRunsAsync(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	var queued []func()
	h.loop.SetAsync(func(fn func()) { queued = append(queued, fn) })

	h.loop.Start()
	h.v.Advance(fast)
	require.Len(t, queued, 1, "one boost in flight")
	assert.False(t, h.loop.State().Boosted)

	queued[0]()
	h.v.Flush()
	assert.True(t, h.loop.State().Boosted)
}

func TestLoop_PromotesAndReportsFocus(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.sys.AddWindow(555, windowtest.Window{Title: "Browser", Visible: true})
	h.sys.SetForeground(gameHandle)

	// The first tick shows the overlays; the second stacks them.
	h.loop.Start()
	assert.Equal(t, []bool{true}, h.focus)
	h.v.Advance(fast)
	assert.Equal(t, []bool{true, true}, h.focus)

	stack := h.sys.Stack()
	idx := func(x window.Handle) int {
		for i, s := range stack {
			if s == x {
				return i
			}
		}
		return -1
	}
	assert.Equal(t, 0, idx(555), "third-party window keeps its place")
	assert.Equal(t, idx(gameHandle)-1, idx(primaryWin), "primary overlay sits directly above the target")
	assert.Equal(t, idx(gameHandle)-2, idx(sidebarWin))

	calls := h.sys.ZOrderCalls()
	h.v.Advance(fast)
	assert.Equal(t, calls, h.sys.ZOrderCalls(), "already sandwiched")

	h.sys.SetForeground(555)
	h.v.Advance(fast)
	assert.Equal(t, []bool{true, true, true, false}, h.focus)
}

type panickyTracker struct {
	*window.Tracker
	panics int
}

func (p *panickyTracker) PromoteWindows(target window.Handle, overlays []window.Handle) window.PromoteResult {
	if p.panics > 0 {
		p.panics--
		panic("bad handle")
	}
	return p.Tracker.PromoteWindows(target, overlays)
}

func TestLoop_PanicReschedulesFast(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	pt := &panickyTracker{Tracker: h.tracker, panics: 1}
	loop := New(pt, h.overlay, h.v, OptionsFromConfig(config.Defaults()))
	loop.SetAsync(func(fn func()) { fn() })

	require.NotPanics(t, loop.Start)
	assert.Equal(t, []time.Duration{fast}, h.v.Pending())

	h.v.Advance(fast)
	assert.Equal(t, 2, loop.State().Ticks)
	assert.Equal(t, PhaseFast, loop.State().Phase)
}

func TestLoop_StopCancelsPendingTick(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.loop.Start()
	h.loop.Stop()
	h.loop.Stop()

	assert.Empty(t, h.v.Pending())
	ticks := h.loop.State().Ticks
	h.sys.Fire(window.Event{Kind: window.EventLocationChange, Handle: gameHandle})
	h.v.Advance(time.Minute)
	assert.Equal(t, ticks, h.loop.State().Ticks)
}

func TestLoop_EndToEndScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.sys.Show(galleryWin, true)
	h.sys.Show(settingsWin, true)

	// Ticks 1-3: the target is not running.
	h.loop.Start()
	for tick := 1; tick <= 3; tick++ {
		if tick > 1 {
			h.v.Advance(idleDelay)
		}
		assert.Equal(t, window.KindNotRunning, h.loop.State().LastRect.Kind, "tick %d", tick)
		assert.False(t, h.visible(primaryWin))
		assert.False(t, h.visible(sidebarWin))
	}
	assert.Equal(t, 0, h.exits)

	// Tick 4: the target appears.
	h.addGame(gameBounds)
	h.v.Advance(idleDelay)
	assert.Equal(t, window.Bounds{X: 110, Y: 110, Width: 400, Height: 300}, h.bounds(primaryWin))
	assert.True(t, h.visible(primaryWin))
	assert.True(t, h.visible(galleryWin))
	assert.Equal(t, 580, h.bounds(galleryWin).X)
	assert.Equal(t, 10, h.bounds(settingsWin).X, "clamped to the work area")

	// Tick 5: the target moves 5px right.
	before := len(h.sys.SetBoundsCalls())
	h.moveGame(105, 100)
	h.v.Advance(fast)
	calls := h.sys.SetBoundsCalls()[before:]

	assert.Equal(t, 1, countMoves(calls, primaryWin))
	assert.Equal(t, 115, h.bounds(primaryWin).X)
	assert.Equal(t, 1, countMoves(calls, galleryWin))
	assert.Equal(t, 0, countMoves(calls, settingsWin), "clamped position did not change")
	assert.Equal(t, 0, h.exits)
}

func TestLoop_ResyncReplacesUnmovedTarget(t *testing.T) {
	h := newHarness(t, nil)
	h.addGame(gameBounds)
	h.loop.Start()
	h.v.Advance(fast)
	require.Equal(t, 1, h.loop.State().StableCount)

	h.sys.Update(primaryWin, func(w *windowtest.Window) { w.Bounds.X = 600 })
	h.loop.Resync()

	assert.Equal(t, 0, h.loop.State().StableCount)
	assert.Equal(t, 110, h.bounds(primaryWin).X)
	assert.Equal(t, []time.Duration{fast}, h.v.Pending())
}
