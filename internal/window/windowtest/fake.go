// Package windowtest provides a deterministic in-memory window.System.
package windowtest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/filbertlab/twoverlay/internal/window"
)

// Window is the state of one fake top-level window.
type Window struct {
	Title     string
	PID       uint32
	Visible   bool
	Minimized bool
	Bounds    window.Bounds

	// FrameErr and BoundsErr make the geometry queries fail.
	FrameErr  error
	BoundsErr error
}

// System is a fake window system. The stack is ordered top to bottom.
type System struct {
	mu sync.Mutex

	windows    map[window.Handle]*Window
	stack      []window.Handle
	images     map[uint32]string
	denied     map[uint32]bool
	highPrio   map[uint32]bool
	foreground window.Handle
	workArea   window.Bounds

	EnumErr     error
	ActivateErr error

	hookFn   func(window.Event)
	hookErr  error
	unhooked int

	enumCalls     int
	zorderCalls   int
	setBoundsLog  []window.Handle
	activateCalls int
	boostCalls    int
}

// New returns an empty fake with a 1920x1040 work area.
func New() *System {
	return &System{
		windows:  make(map[window.Handle]*Window),
		images:   make(map[uint32]string),
		denied:   make(map[uint32]bool),
		highPrio: make(map[uint32]bool),
		workArea: window.Bounds{Width: 1920, Height: 1040},
	}
}

// AddWindow places a new window on top of the stack.
func (s *System) AddWindow(h window.Handle, w Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := w
	s.windows[h] = &cp
	s.stack = append([]window.Handle{h}, s.remove(h)...)
}

// RemoveWindow destroys h.
func (s *System) RemoveWindow(h window.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, h)
	s.stack = s.remove(h)
	if s.foreground == h {
		s.foreground = 0
	}
}

// Update mutates the state of h.
func (s *System) Update(h window.Handle, fn func(w *Window)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[h]; ok {
		fn(w)
	}
}

// Window returns a copy of the state of h.
func (s *System) Window(h window.Handle) (Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[h]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// SetProcess registers the image path of pid.
func (s *System) SetProcess(pid uint32, image string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[pid] = image
}

// DenyProcess makes opening pid fail with ErrPermissionDenied.
func (s *System) DenyProcess(pid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[pid] = true
}

// SetHighPriority marks pid as already running at high priority.
func (s *System) SetHighPriority(pid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highPrio[pid] = true
}

// IsHighPriority reports whether pid was boosted.
func (s *System) IsHighPriority(pid uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highPrio[pid]
}

// SetForeground changes the foreground window.
func (s *System) SetForeground(h window.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foreground = h
}

// SetStack replaces the stack order, top first.
func (s *System) SetStack(order ...window.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = append([]window.Handle(nil), order...)
}

// Stack returns the stack order, top first.
func (s *System) Stack() []window.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]window.Handle(nil), s.stack...)
}

// SetWorkArea changes the reported work area.
func (s *System) SetWorkArea(b window.Bounds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workArea = b
}

// FailHook makes the next Hook call fail with err.
func (s *System) FailHook(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hookErr = err
}

// Fire delivers ev to the registered hook, as the OS thread would. It
// reports whether a hook was registered.
func (s *System) Fire(ev window.Event) bool {
	s.mu.Lock()
	fn := s.hookFn
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(ev)
	return true
}

// Hooked reports whether a hook is registered.
func (s *System) Hooked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hookFn != nil
}

// Unhooked counts hook releases.
func (s *System) Unhooked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unhooked
}

// EnumCalls counts EnumWindows calls.
func (s *System) EnumCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enumCalls
}

// ZOrderCalls counts InsertAfter calls.
func (s *System) ZOrderCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zorderCalls
}

// SetBoundsCalls returns the handles passed to SetBounds, in call order.
func (s *System) SetBoundsCalls() []window.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]window.Handle(nil), s.setBoundsLog...)
}

// ActivateCalls counts Activate calls.
func (s *System) ActivateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activateCalls
}

// BoostCalls counts RaisePriority calls.
func (s *System) BoostCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boostCalls
}

// remove returns the stack without h. Callers hold mu.
func (s *System) remove(h window.Handle) []window.Handle {
	out := make([]window.Handle, 0, len(s.stack))
	for _, x := range s.stack {
		if x != h {
			out = append(out, x)
		}
	}
	return out
}

func (s *System) get(h window.Handle) (*Window, error) {
	w, ok := s.windows[h]
	if !ok {
		return nil, fmt.Errorf("invalid window handle %s", h)
	}
	return w, nil
}

func (s *System) EnumWindows(fn func(window.Handle) bool) error {
	s.mu.Lock()
	s.enumCalls++
	if s.EnumErr != nil {
		err := s.EnumErr
		s.mu.Unlock()
		return err
	}
	order := append([]window.Handle(nil), s.stack...)
	s.mu.Unlock()

	for _, h := range order {
		if !fn(h) {
			break
		}
	}
	return nil
}

func (s *System) WindowText(h window.Handle, maxLen int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(h)
	if err != nil {
		return "", err
	}
	title := []rune(w.Title)
	if len(title) > maxLen-1 {
		title = title[:maxLen-1]
	}
	return string(title), nil
}

func (s *System) WindowProcessID(h window.Handle) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(h)
	if err != nil {
		return 0, err
	}
	return w.PID, nil
}

func (s *System) ProcessImagePath(pid uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denied[pid] {
		return "", fmt.Errorf("open process %d: %w", pid, window.ErrPermissionDenied)
	}
	image, ok := s.images[pid]
	if !ok {
		return "", fmt.Errorf("no such process %d", pid)
	}
	return image, nil
}

func (s *System) IsMinimized(h window.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(h)
	return err == nil && w.Minimized
}

func (s *System) IsVisible(h window.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(h)
	return err == nil && w.Visible
}

func (s *System) FrameBounds(h window.Handle) (window.Bounds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(h)
	if err != nil {
		return window.Bounds{}, err
	}
	if w.FrameErr != nil {
		return window.Bounds{}, w.FrameErr
	}
	return w.Bounds, nil
}

func (s *System) WindowBounds(h window.Handle) (window.Bounds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(h)
	if err != nil {
		return window.Bounds{}, err
	}
	if w.BoundsErr != nil {
		return window.Bounds{}, w.BoundsErr
	}
	return w.Bounds, nil
}

func (s *System) ForegroundWindow() window.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foreground
}

func (s *System) PrevWindow(h window.Handle) (window.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.stack {
		if x == h {
			if i == 0 {
				return 0, nil
			}
			return s.stack[i-1], nil
		}
	}
	return 0, fmt.Errorf("invalid window handle %s", h)
}

func (s *System) InsertAfter(h, after window.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zorderCalls++
	if _, err := s.get(h); err != nil {
		return err
	}
	rest := s.remove(h)
	if after == 0 {
		s.stack = append([]window.Handle{h}, rest...)
		return nil
	}
	for i, x := range rest {
		if x == after {
			out := make([]window.Handle, 0, len(rest)+1)
			out = append(out, rest[:i+1]...)
			out = append(out, h)
			out = append(out, rest[i+1:]...)
			s.stack = out
			return nil
		}
	}
	return fmt.Errorf("invalid insert-after handle %s", after)
}

func (s *System) SetBounds(h window.Handle, b window.Bounds) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(h)
	if err != nil {
		return err
	}
	s.setBoundsLog = append(s.setBoundsLog, h)
	w.Bounds = b
	return nil
}

func (s *System) Show(h window.Handle, visible bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.get(h)
	if err != nil {
		return err
	}
	w.Visible = visible
	return nil
}

func (s *System) WorkArea() (window.Bounds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workArea, nil
}

func (s *System) RaisePriority(pid uint32) (window.BoostResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boostCalls++
	if s.denied[pid] {
		return window.BoostFailed, window.ErrPermissionDenied
	}
	if s.highPrio[pid] {
		return window.AlreadyHigh, nil
	}
	s.highPrio[pid] = true
	return window.Boosted, nil
}

func (s *System) Activate(h window.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activateCalls++
	if s.ActivateErr != nil {
		return s.ActivateErr
	}
	w, err := s.get(h)
	if err != nil {
		return err
	}
	w.Minimized = false
	s.foreground = h
	s.stack = append([]window.Handle{h}, s.remove(h)...)
	return nil
}

func (s *System) Hook(fn func(window.Event)) (func() error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hookErr != nil {
		err := s.hookErr
		s.hookErr = nil
		return nil, err
	}
	if s.hookFn != nil {
		return nil, errors.New("hook already installed")
	}
	s.hookFn = fn
	var once sync.Once
	return func() error {
		once.Do(func() {
			s.mu.Lock()
			s.hookFn = nil
			s.unhooked++
			s.mu.Unlock()
		})
		return nil
	}, nil
}

var _ window.System = (*System)(nil)
