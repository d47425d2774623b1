//go:build windows

package infra

import (
	"fmt"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/pavkata12/client8/internal/domain"
)

const (
	whKeyboardLL  = 13
	hcAction      = 0
	wmQuit        = 0x0012
	wmKeyDown     = 0x0100
	wmSysKeyDown  = 0x0104
	pmNoRemove    = 0x0000
	llkhfInjected = 0x00000010
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procGetMessageW         = user32.NewProc("GetMessageW")
	procPeekMessageW        = user32.NewProc("PeekMessageW")
	procPostThreadMessageW  = user32.NewProc("PostThreadMessageW")
)

type kbdLLHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type point struct {
	X, Y int32
}

type msg struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      point
}

// One low-level hook per process; callbacks made with NewCallback are never freed.
var (
	activeHandler atomic.Pointer[domain.KeyHandler]
	hookCallback  = syscall.NewCallback(lowLevelKeyboardProc)
)

func lowLevelKeyboardProc(nCode int, wParam, lParam uintptr) uintptr {
	if nCode == hcAction && decide(wParam, lParam) == domain.KeyBlock {
		return 1
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

func decide(wParam, lParam uintptr) (d domain.KeyDecision) {
	defer func() {
		if recover() != nil {
			d = domain.KeyPass
		}
	}()

	h := activeHandler.Load()
	if h == nil {
		return domain.KeyPass
	}
	kb := (*kbdLLHookStruct)(unsafe.Pointer(lParam))
	return (*h)(domain.KeyEvent{
		VK:       kb.VkCode,
		Down:     wParam == wmKeyDown || wParam == wmSysKeyDown,
		Injected: kb.Flags&llkhfInjected != 0,
	})
}

// KeyFilterImpl implements domain.KeyFilter with a WH_KEYBOARD_LL hook.
type KeyFilterImpl struct {
	hook     uintptr
	threadID atomic.Uint32
}

// NewKeyFilter creates the platform key filter.
func NewKeyFilter() domain.KeyFilter {
	return &KeyFilterImpl{}
}

// Install registers the hook on the calling (locked) thread.
func (f *KeyFilterImpl) Install(handler domain.KeyHandler) error {
	// Force creation of the thread message queue so Wake never races Pump.
	var m msg
	procPeekMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0, pmNoRemove)
	f.threadID.Store(windows.GetCurrentThreadId())

	var module windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &module); err != nil {
		return fmt.Errorf("module handle: %w", err)
	}

	activeHandler.Store(&handler)
	hook, _, callErr := procSetWindowsHookExW.Call(whKeyboardLL, hookCallback, uintptr(module), 0)
	if hook == 0 {
		activeHandler.Store(nil)
		return fmt.Errorf("SetWindowsHookExW: %w", callErr)
	}
	f.hook = hook
	return nil
}

// Pump runs the message loop until WM_QUIT.
func (f *KeyFilterImpl) Pump() {
	var m msg
	for {
		r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if int32(r) <= 0 {
			return
		}
	}
}

// Wake posts WM_QUIT to the pump thread.
func (f *KeyFilterImpl) Wake() {
	if tid := f.threadID.Load(); tid != 0 {
		procPostThreadMessageW.Call(uintptr(tid), wmQuit, 0, 0)
	}
}

// Uninstall removes the hook.
func (f *KeyFilterImpl) Uninstall() error {
	activeHandler.Store(nil)
	f.threadID.Store(0)
	if f.hook == 0 {
		return nil
	}
	r, _, callErr := procUnhookWindowsHookEx.Call(f.hook)
	f.hook = 0
	if r == 0 {
		return fmt.Errorf("UnhookWindowsHookEx: %w", callErr)
	}
	return nil
}

// Ensure KeyFilterImpl implements domain.KeyFilter.
var _ domain.KeyFilter = (*KeyFilterImpl)(nil)
