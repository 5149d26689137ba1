package overlay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/filbertlab/twoverlay/internal/config"
	"github.com/filbertlab/twoverlay/internal/logger"
	"github.com/filbertlab/twoverlay/internal/window"
	"github.com/samber/lo"
)

var (
	// ErrAlreadyRegistered is returned when a key or handle is taken.
	ErrAlreadyRegistered = errors.New("window already registered")
	// ErrUnknownWindow is returned for keys that are not registered.
	ErrUnknownWindow = errors.New("window not registered")
)

// PositionStore persists per-window offsets.
type PositionStore interface {
	Position(key string) (config.WindowPosition, bool)
	SavePosition(key string, pos config.WindowPosition)
}

// Options configures placement.
type Options struct {
	Threshold      int
	SidebarWidth   int
	SidebarHeight  int
	SidebarOffsetY int
	PrimaryVisible bool
	Satellites     []config.SatelliteConfig
}

// OptionsFromConfig extracts placement options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Threshold:      cfg.Overlay.PositionThreshold,
		SidebarWidth:   cfg.Overlay.SidebarWidth,
		SidebarHeight:  cfg.Overlay.SidebarHeight,
		SidebarOffsetY: cfg.Overlay.SidebarOffsetY,
		PrimaryVisible: cfg.Overlay.Visible,
		Satellites:     cfg.Satellites,
	}
}

type managedWindow struct {
	key    string
	kind   Kind
	host   Host
	width  int
	height int
	clamp  bool
	offset config.WindowPosition

	// sized is set once a satellite has been given its configured size;
	// later placements keep whatever size the user gives it.
	sized bool

	// programmatic marks a move issued by Sync, consumed by HandleMoved.
	programmatic bool
	// autoHidden marks a satellite hidden by HideAll, shown again by Sync.
	autoHidden bool
}

// WindowState is a snapshot of one managed window.
type WindowState struct {
	Key     string                `json:"key"`
	Kind    string                `json:"kind"`
	Handle  window.Handle         `json:"handle"`
	Visible bool                  `json:"visible"`
	Offset  config.WindowPosition `json:"offset"`
	Bounds  window.Bounds         `json:"bounds"`
}

// Manager keeps the managed windows locked to the target window.
type Manager struct {
	mu      sync.RWMutex
	windows map[string]*managedWindow
	order   []string
	stack   []string

	store  PositionStore
	screen Screen
	opts   Options

	target   window.Bounds
	tracking bool
	resizing bool
}

// NewManager creates a new overlay manager
func NewManager(store PositionStore, screen Screen, opts Options) *Manager {
	return &Manager{
		windows: make(map[string]*managedWindow),
		store:   store,
		screen:  screen,
		opts:    opts,
	}
}

func (m *Manager) kindOf(key string) (Kind, config.SatelliteConfig) {
	switch key {
	case config.KeyOverlay:
		return KindPrimary, config.SatelliteConfig{}
	case config.KeyMain:
		return KindSidebar, config.SatelliteConfig{}
	}
	sat, _ := lo.Find(m.opts.Satellites, func(s config.SatelliteConfig) bool { return s.Key == key })
	return KindSatellite, sat
}

// Register adds a window under key. The primary overlay uses the key
// "overlay", the sidebar "main"; any other key is a satellite.
func (m *Manager) Register(key string, host Host) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.windows[key]; exists {
		return fmt.Errorf("%w: key %s", ErrAlreadyRegistered, key)
	}
	if host.Handle() != 0 {
		if other, taken := m.byHandle(host.Handle()); taken {
			return fmt.Errorf("%w: handle %s is %s", ErrAlreadyRegistered, host.Handle(), other.key)
		}
	}

	kind, sat := m.kindOf(key)
	w := &managedWindow{key: key, kind: kind, host: host, width: sat.Width, height: sat.Height, clamp: sat.ClampToWorkArea}
	if m.store != nil {
		if pos, ok := m.store.Position(key); ok {
			w.offset = pos
		}
	}
	m.windows[key] = w
	m.order = append(m.order, key)
	m.push(key)

	logger.WithComponent("overlay").Info().
		Str("key", key).
		Str("kind", kind.String()).
		Str("hwnd", host.Handle().String()).
		Msg("Registered window")

	if m.tracking && host.IsVisible() && !m.resizing {
		m.place(w)
	}
	return nil
}

// Unregister removes a window
func (m *Manager) Unregister(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.windows[key]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownWindow, key)
	}
	delete(m.windows, key)
	m.order = lo.Without(m.order, key)
	m.stack = lo.Without(m.stack, key)

	logger.WithComponent("overlay").Info().Str("key", key).Msg("Unregistered window")
	return nil
}

// Get returns the host registered under key
func (m *Manager) Get(key string) (Host, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[key]
	if !ok {
		return nil, false
	}
	return w.host, true
}

// KeyFor returns the key a handle is registered under
func (m *Manager) KeyFor(h window.Handle) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.byHandle(h)
	if !ok {
		return "", false
	}
	return w.key, true
}

func (m *Manager) byHandle(h window.Handle) (*managedWindow, bool) {
	for _, w := range m.windows {
		if w.host.Handle() == h {
			return w, true
		}
	}
	return nil, false
}

// Snapshot returns the state of every managed window in registration order
func (m *Manager) Snapshot() []WindowState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]WindowState, 0, len(m.order))
	for _, key := range m.order {
		w := m.windows[key]
		b, _ := w.host.Bounds()
		out = append(out, WindowState{
			Key:     key,
			Kind:    w.kind.String(),
			Handle:  w.host.Handle(),
			Visible: w.host.IsVisible(),
			Offset:  w.offset,
			Bounds:  b,
		})
	}
	return out
}

// Push moves key to the top of the activation stack, as when the window is
// shown or focused.
func (m *Manager) Push(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.windows[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWindow, key)
	}
	m.push(key)
	return nil
}

func (m *Manager) push(key string) {
	m.stack = append(lo.Without(m.stack, key), key)
}

// Handles returns the visible windows' handles in activation order, most
// recently activated last.
func (m *Manager) Handles() []window.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.FilterMap(m.stack, func(key string, _ int) (window.Handle, bool) {
		w := m.windows[key]
		if w == nil || w.host.Handle() == 0 || !w.host.IsVisible() {
			return 0, false
		}
		return w.host.Handle(), true
	})
}

// Owns reports whether h is one of the managed windows
func (m *Manager) Owns(h window.Handle) bool {
	_, ok := m.KeyFor(h)
	return ok
}

// Visible reports whether the overlay is currently shown: the sidebar's
// visibility when one is registered, otherwise whether tracking is active.
func (m *Manager) Visible() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.windows[config.KeyMain]; ok {
		return w.host.IsVisible()
	}
	return m.tracking
}

// Tracking reports whether the windows follow a target rect
func (m *Manager) Tracking() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracking
}

// Sync places every managed window relative to target and returns the
// number of moves issued. Windows already within the threshold are left
// alone.
func (m *Manager) Sync(target window.Bounds) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resizing {
		return 0
	}
	m.target = target
	m.tracking = true

	moves := 0
	for _, key := range m.order {
		w := m.windows[key]
		switch w.kind {
		case KindPrimary:
			if !m.opts.PrimaryVisible {
				continue
			}
			m.ensureShown(w)
		case KindSidebar:
			m.ensureShown(w)
		case KindSatellite:
			if w.autoHidden {
				m.ensureShown(w)
			}
			if !w.host.IsVisible() {
				continue
			}
		}
		if m.place(w) {
			moves++
		}
	}
	return moves
}

func (m *Manager) ensureShown(w *managedWindow) {
	w.autoHidden = false
	if w.host.IsVisible() {
		return
	}
	if err := w.host.Show(); err != nil {
		logger.WithComponent("overlay").Debug().Err(err).Str("key", w.key).Msg("Failed to show window")
		return
	}
	m.push(w.key)
}

// place moves w to its computed bounds if it is off by more than the
// threshold. Callers hold mu.
func (m *Manager) place(w *managedWindow) bool {
	cur, err := w.host.Bounds()
	if err != nil {
		logger.WithComponent("overlay").Debug().Err(err).Str("key", w.key).Msg("Failed to read bounds")
		return false
	}

	var want window.Bounds
	switch w.kind {
	case KindPrimary:
		want = primaryBounds(m.target, cur, w.offset)
	case KindSidebar:
		want = sidebarBounds(m.target, cur, m.opts.SidebarOffsetY, m.opts.SidebarWidth, m.opts.SidebarHeight)
	default:
		var work window.Bounds
		if w.clamp && m.screen != nil {
			work, _ = m.screen.WorkArea()
		}
		width, height := w.width, w.height
		if w.sized {
			width, height = 0, 0
		}
		want = satelliteBounds(m.target, cur, w.offset, width, height, w.clamp, work)
	}

	if !exceeds(cur, want, m.opts.Threshold) {
		w.sized = true
		return false
	}
	w.programmatic = true
	if err := w.host.SetBounds(want); err != nil {
		w.programmatic = false
		logger.WithComponent("overlay").Debug().Err(err).Str("key", w.key).Msg("Failed to move window")
		return false
	}
	w.sized = true
	return true
}

// HandleMoved processes a location change of a managed window. A move that
// Sync issued only consumes its marker. A user drag of the primary overlay
// or a satellite stores the new offset.
func (m *Manager) HandleMoved(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok {
		return
	}
	if w.programmatic {
		w.programmatic = false
		return
	}
	if w.kind == KindSidebar || !m.tracking || m.resizing {
		return
	}

	b, err := w.host.Bounds()
	if err != nil {
		return
	}
	off := offsetFor(w.kind, m.target, b)
	if off == w.offset {
		return
	}
	w.offset = off

	logger.WithComponent("overlay").Debug().
		Str("key", key).
		Int("offset_x", off.OffsetX).
		Int("offset_y", off.OffsetY).
		Msg("Window dragged, saving offset")

	if m.store != nil {
		m.store.SavePosition(key, off)
	}
}

// HandleMovedHandle is HandleMoved keyed by native handle. It reports
// whether h is managed.
func (m *Manager) HandleMovedHandle(h window.Handle) bool {
	key, ok := m.KeyFor(h)
	if ok {
		m.HandleMoved(key)
	}
	return ok
}

// HideAll hides every visible managed window and stops tracking. Satellites
// hidden here reappear on the next Sync.
func (m *Manager) HideAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range m.order {
		w := m.windows[key]
		if !w.host.IsVisible() {
			continue
		}
		if err := w.host.Hide(); err != nil {
			logger.WithComponent("overlay").Debug().Err(err).Str("key", key).Msg("Failed to hide window")
			continue
		}
		w.autoHidden = w.kind == KindSatellite
	}
	m.tracking = false
}

// SetPrimaryVisible shows or hides the primary overlay. Hiding it flushes
// nothing itself; callers persist the toggle.
func (m *Manager) SetPrimaryVisible(visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opts.PrimaryVisible = visible
	w, ok := m.windows[config.KeyOverlay]
	if !ok {
		return
	}
	if !visible {
		if w.host.IsVisible() {
			w.host.Hide()
		}
		return
	}
	if m.tracking {
		m.ensureShown(w)
		m.place(w)
	}
}

// PrimaryVisible returns the primary overlay toggle
func (m *Manager) PrimaryVisible() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts.PrimaryVisible
}

// BeginResize suspends syncing and drag persistence while the shell
// resizes the primary overlay.
func (m *Manager) BeginResize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resizing = true
}

// EndResize resumes syncing.
func (m *Manager) EndResize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resizing = false
}

// Resizing reports whether a resize is in progress
func (m *Manager) Resizing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resizing
}

// Reload applies offsets and options from a new configuration, as after an
// external edit of the config file.
func (m *Manager) Reload(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opts = OptionsFromConfig(cfg)
	for key, w := range m.windows {
		if pos, ok := cfg.Positions[key]; ok {
			w.offset = pos
		}
		kind, sat := m.kindOf(key)
		if sat.Width != w.width || sat.Height != w.height {
			w.sized = false
		}
		w.kind, w.width, w.height, w.clamp = kind, sat.Width, sat.Height, sat.ClampToWorkArea
	}
}
