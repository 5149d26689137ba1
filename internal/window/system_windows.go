//go:build windows

package window

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/filbertlab/twoverlay/internal/logger"
	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	dwmapi = windows.NewLazySystemDLL("dwmapi.dll")
	kernel = windows.NewLazySystemDLL("kernel32.dll")

	procEnumWindows              = user32.NewProc("EnumWindows")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procIsIconic                 = user32.NewProc("IsIconic")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procGetWindowRect            = user32.NewProc("GetWindowRect")
	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procGetWindow                = user32.NewProc("GetWindow")
	procSetWindowPos             = user32.NewProc("SetWindowPos")
	procShowWindow               = user32.NewProc("ShowWindow")
	procBringWindowToTop         = user32.NewProc("BringWindowToTop")
	procSetForegroundWindow      = user32.NewProc("SetForegroundWindow")
	procKeybdEvent               = user32.NewProc("keybd_event")
	procSystemParametersInfoW    = user32.NewProc("SystemParametersInfoW")
	procSetWinEventHook          = user32.NewProc("SetWinEventHook")
	procUnhookWinEvent           = user32.NewProc("UnhookWinEvent")
	procGetMessageW              = user32.NewProc("GetMessageW")
	procPostThreadMessageW       = user32.NewProc("PostThreadMessageW")

	procSetProcessDpiAwarenessContext = user32.NewProc("SetProcessDpiAwarenessContext")
	procSetProcessDPIAware            = user32.NewProc("SetProcessDPIAware")
	procIsProcessDPIAware             = user32.NewProc("IsProcessDPIAware")

	procDwmGetWindowAttribute = dwmapi.NewProc("DwmGetWindowAttribute")

	procGetPriorityClass = kernel.NewProc("GetPriorityClass")
)

const (
	_GW_HWNDPREV = 3

	_SWP_NOSIZE         = 0x0001
	_SWP_NOMOVE         = 0x0002
	_SWP_NOZORDER       = 0x0004
	_SWP_NOACTIVATE     = 0x0010
	_SWP_NOCOPYBITS     = 0x0100
	_SWP_NOOWNERZORDER  = 0x0200
	_SWP_NOSENDCHANGING = 0x0400
	_SWP_DEFERERASE     = 0x2000

	zOrderFlags = _SWP_NOMOVE | _SWP_NOSIZE | _SWP_NOACTIVATE | _SWP_NOOWNERZORDER |
		_SWP_NOSENDCHANGING | _SWP_DEFERERASE | _SWP_NOCOPYBITS
	boundsFlags = _SWP_NOZORDER | _SWP_NOACTIVATE | _SWP_NOOWNERZORDER

	_SW_HIDE           = 0
	_SW_SHOWNOACTIVATE = 4
	_SW_RESTORE        = 9

	_SPI_GETWORKAREA = 0x0030

	_DWMWA_EXTENDED_FRAME_BOUNDS = 9

	_EVENT_SYSTEM_FOREGROUND     = 0x0003
	_EVENT_OBJECT_LOCATIONCHANGE = 0x800B
	_WINEVENT_OUTOFCONTEXT       = 0x0000
	_OBJID_WINDOW                = 0

	_VK_MENU         = 0x12
	_KEYEVENTF_KEYUP = 0x0002

	_WM_QUIT = 0x0012

	// DPI_AWARENESS_CONTEXT_PER_MONITOR_AWARE_V2 is the pseudo handle -4.
	_DPI_AWARENESS_CONTEXT_PER_MONITOR_AWARE_V2 = ^uintptr(3)
)

type rect struct {
	Left, Top, Right, Bottom int32
}

func (r rect) bounds() Bounds {
	return Bounds{
		X:      int(r.Left),
		Y:      int(r.Top),
		Width:  int(r.Right - r.Left),
		Height: int(r.Bottom - r.Top),
	}
}

type msg struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

// Callbacks created by windows.NewCallback are never released, so each
// trampoline is created once and dispatches through a package variable.
var (
	enumMu   sync.Mutex
	enumFn   func(Handle) bool
	enumProc = windows.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		if enumFn != nil && !enumFn(Handle(hwnd)) {
			return 0
		}
		return 1
	})

	hookMu   sync.Mutex
	hookFn   func(Event)
	hookProc = windows.NewCallback(func(hHook, event, hwnd, idObject, idChild, idThread, eventTime uintptr) uintptr {
		hookMu.Lock()
		fn := hookFn
		hookMu.Unlock()
		if fn == nil || hwnd == 0 {
			return 0
		}
		switch event {
		case _EVENT_SYSTEM_FOREGROUND:
			fn(Event{Kind: EventForeground, Handle: Handle(hwnd)})
		case _EVENT_OBJECT_LOCATIONCHANGE:
			// Caret and cursor location changes carry other object ids.
			if int32(idObject) == _OBJID_WINDOW {
				fn(Event{Kind: EventLocationChange, Handle: Handle(hwnd)})
			}
		default:
			fn(Event{Kind: EventOther, Handle: Handle(hwnd)})
		}
		return 0
	})
)

// Win32System binds System to user32, dwmapi and kernel32.
type Win32System struct {
	titleBuf []uint16
	imageBuf []uint16
}

// NewSystem returns the Win32 window system. It makes the process DPI aware
// first: DWM frame bounds are always physical pixels, and GetWindowRect,
// SetWindowPos and the work area only agree with them once the process is
// aware.
func NewSystem() (System, error) {
	if err := user32.Load(); err != nil {
		return nil, fmt.Errorf("failed to load user32: %w", err)
	}
	enableDPIAwareness()
	return &Win32System{
		titleBuf: make([]uint16, 256),
		imageBuf: make([]uint16, windows.MAX_LONG_PATH),
	}, nil
}

// enableDPIAwareness declares per-monitor v2 awareness, falling back to
// system awareness before Windows 10 1703. A process that is already aware,
// through a manifest or an earlier call, is left as it is.
func enableDPIAwareness() {
	log := logger.WithComponent("win32")

	if procSetProcessDpiAwarenessContext.Find() == nil {
		if r, _, err := procSetProcessDpiAwarenessContext.Call(_DPI_AWARENESS_CONTEXT_PER_MONITOR_AWARE_V2); r != 0 {
			log.Debug().Msg("DPI awareness: per-monitor v2")
			return
		} else if isProcessDPIAware() {
			log.Debug().Err(err).Msg("DPI awareness already set")
			return
		}
	}
	if procSetProcessDPIAware.Find() == nil {
		if r, _, _ := procSetProcessDPIAware.Call(); r != 0 {
			log.Debug().Msg("DPI awareness: system")
			return
		}
	}
	log.Warn().Msg("Failed to make the process DPI aware, overlays may be misplaced on scaled displays")
}

func isProcessDPIAware() bool {
	if procIsProcessDPIAware.Find() != nil {
		return false
	}
	r, _, _ := procIsProcessDPIAware.Call()
	return r != 0
}

func (s *Win32System) EnumWindows(fn func(Handle) bool) error {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumFn = fn
	defer func() { enumFn = nil }()

	r, _, err := procEnumWindows.Call(enumProc, 0)
	// EnumWindows returns FALSE both on error and when the callback stops
	// early; only a set last-error is a failure.
	if r == 0 && err != nil && !errors.Is(err, windows.ERROR_SUCCESS) {
		return fmt.Errorf("EnumWindows: %w", err)
	}
	return nil
}

func (s *Win32System) WindowText(h Handle, maxLen int) (string, error) {
	if maxLen > len(s.titleBuf) {
		s.titleBuf = make([]uint16, maxLen)
	}
	buf := s.titleBuf[:maxLen]
	n, _, _ := procGetWindowTextW.Call(uintptr(h), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return "", nil
	}
	return windows.UTF16ToString(buf[:n]), nil
}

func (s *Win32System) WindowProcessID(h Handle) (uint32, error) {
	var pid uint32
	tid, _, err := procGetWindowThreadProcessId.Call(uintptr(h), uintptr(unsafe.Pointer(&pid)))
	if tid == 0 {
		return 0, fmt.Errorf("GetWindowThreadProcessId(%s): %w", h, err)
	}
	return pid, nil
}

func (s *Win32System) ProcessImagePath(pid uint32) (string, error) {
	proc, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return "", fmt.Errorf("open process %d: %w", pid, ErrPermissionDenied)
		}
		return "", fmt.Errorf("open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(proc)

	size := uint32(len(s.imageBuf))
	if err := windows.QueryFullProcessImageName(proc, 0, &s.imageBuf[0], &size); err != nil {
		return "", fmt.Errorf("query image of %d: %w", pid, err)
	}
	return windows.UTF16ToString(s.imageBuf[:size]), nil
}

func (s *Win32System) IsMinimized(h Handle) bool {
	r, _, _ := procIsIconic.Call(uintptr(h))
	return r != 0
}

func (s *Win32System) IsVisible(h Handle) bool {
	r, _, _ := procIsWindowVisible.Call(uintptr(h))
	return r != 0
}

func (s *Win32System) FrameBounds(h Handle) (Bounds, error) {
	if err := procDwmGetWindowAttribute.Find(); err != nil {
		return Bounds{}, ErrUnsupported
	}
	var r rect
	hr, _, _ := procDwmGetWindowAttribute.Call(
		uintptr(h),
		_DWMWA_EXTENDED_FRAME_BOUNDS,
		uintptr(unsafe.Pointer(&r)),
		unsafe.Sizeof(r),
	)
	if hr != 0 {
		return Bounds{}, fmt.Errorf("DwmGetWindowAttribute: HRESULT 0x%08x", uint32(hr))
	}
	return r.bounds(), nil
}

func (s *Win32System) WindowBounds(h Handle) (Bounds, error) {
	var r rect
	ok, _, err := procGetWindowRect.Call(uintptr(h), uintptr(unsafe.Pointer(&r)))
	if ok == 0 {
		return Bounds{}, fmt.Errorf("GetWindowRect: %w", err)
	}
	return r.bounds(), nil
}

func (s *Win32System) ForegroundWindow() Handle {
	h, _, _ := procGetForegroundWindow.Call()
	return Handle(h)
}

func (s *Win32System) PrevWindow(h Handle) (Handle, error) {
	prev, _, err := procGetWindow.Call(uintptr(h), _GW_HWNDPREV)
	if prev == 0 && err != nil && !errors.Is(err, windows.ERROR_SUCCESS) {
		return 0, fmt.Errorf("GetWindow: %w", err)
	}
	return Handle(prev), nil
}

func (s *Win32System) InsertAfter(h, after Handle) error {
	ok, _, err := procSetWindowPos.Call(uintptr(h), uintptr(after), 0, 0, 0, 0, zOrderFlags)
	if ok == 0 {
		return fmt.Errorf("SetWindowPos(%s after %s): %w", h, after, err)
	}
	return nil
}

func (s *Win32System) SetBounds(h Handle, b Bounds) error {
	ok, _, err := procSetWindowPos.Call(
		uintptr(h), 0,
		uintptr(int32(b.X)), uintptr(int32(b.Y)),
		uintptr(int32(b.Width)), uintptr(int32(b.Height)),
		boundsFlags,
	)
	if ok == 0 {
		return fmt.Errorf("SetWindowPos(%s): %w", h, err)
	}
	return nil
}

func (s *Win32System) Show(h Handle, visible bool) error {
	cmd := uintptr(_SW_HIDE)
	if visible {
		cmd = _SW_SHOWNOACTIVATE
	}
	// ShowWindow returns the previous visibility, not success.
	procShowWindow.Call(uintptr(h), cmd)
	return nil
}

func (s *Win32System) WorkArea() (Bounds, error) {
	var r rect
	ok, _, err := procSystemParametersInfoW.Call(_SPI_GETWORKAREA, 0, uintptr(unsafe.Pointer(&r)), 0)
	if ok == 0 {
		return Bounds{}, fmt.Errorf("SystemParametersInfo: %w", err)
	}
	return r.bounds(), nil
}

func (s *Win32System) RaisePriority(pid uint32) (BoostResult, error) {
	proc, err := windows.OpenProcess(windows.PROCESS_SET_INFORMATION|windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return BoostFailed, fmt.Errorf("open process %d: %w", pid, ErrPermissionDenied)
		}
		return BoostFailed, fmt.Errorf("open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(proc)

	if class, _, _ := procGetPriorityClass.Call(uintptr(proc)); uint32(class) == windows.HIGH_PRIORITY_CLASS || uint32(class) == windows.REALTIME_PRIORITY_CLASS {
		return AlreadyHigh, nil
	}
	if err := windows.SetPriorityClass(proc, windows.HIGH_PRIORITY_CLASS); err != nil {
		return BoostFailed, fmt.Errorf("SetPriorityClass: %w", err)
	}
	return Boosted, nil
}

func (s *Win32System) Activate(h Handle) error {
	// A synthetic Alt press lifts the foreground lock for this process.
	procKeybdEvent.Call(_VK_MENU, 0, 0, 0)
	procKeybdEvent.Call(_VK_MENU, 0, _KEYEVENTF_KEYUP, 0)

	procShowWindow.Call(uintptr(h), _SW_RESTORE)
	procBringWindowToTop.Call(uintptr(h))
	ok, _, err := procSetForegroundWindow.Call(uintptr(h))
	if ok == 0 {
		return fmt.Errorf("SetForegroundWindow(%s): %w", h, err)
	}
	return nil
}

// Hook installs the WinEvent hook on a dedicated locked OS thread that pumps
// messages, since out-of-context hooks are delivered through the installing
// thread's message queue.
func (s *Win32System) Hook(fn func(Event)) (func() error, error) {
	hookMu.Lock()
	if hookFn != nil {
		hookMu.Unlock()
		return nil, fmt.Errorf("hook already installed")
	}
	hookFn = fn
	hookMu.Unlock()

	type started struct {
		tid uint32
		err error
	}
	ready := make(chan started, 1)
	exited := make(chan struct{})

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(exited)

		h, _, err := procSetWinEventHook.Call(
			_EVENT_SYSTEM_FOREGROUND,
			_EVENT_OBJECT_LOCATIONCHANGE,
			0,
			hookProc,
			0,
			0,
			_WINEVENT_OUTOFCONTEXT,
		)
		if h == 0 {
			ready <- started{err: fmt.Errorf("SetWinEventHook: %w", err)}
			return
		}
		ready <- started{tid: windows.GetCurrentThreadId()}

		var m msg
		for {
			r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
			if int32(r) <= 0 {
				break
			}
		}
		procUnhookWinEvent.Call(h)
		logger.WithComponent("win32").Debug().Msg("WinEvent hook released")
	}()

	st := <-ready
	if st.err != nil {
		hookMu.Lock()
		hookFn = nil
		hookMu.Unlock()
		return nil, st.err
	}

	var once sync.Once
	unhook := func() error {
		var err error
		once.Do(func() {
			hookMu.Lock()
			hookFn = nil
			hookMu.Unlock()
			r, _, perr := procPostThreadMessageW.Call(uintptr(st.tid), _WM_QUIT, 0, 0)
			if r == 0 {
				err = fmt.Errorf("PostThreadMessage: %w", perr)
				return
			}
			<-exited
		})
		return err
	}
	return unhook, nil
}
