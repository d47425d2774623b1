//go:build windows

package infra

import (
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/pavkata12/client8/internal/domain"
)

const (
	wmClose      = 0x0010
	maxClassName = 256
	maxTitle     = 512
)

var (
	procEnumWindows     = user32.NewProc("EnumWindows")
	procGetClassNameW   = user32.NewProc("GetClassNameW")
	procGetWindowTextW  = user32.NewProc("GetWindowTextW")
	procIsWindowVisible = user32.NewProc("IsWindowVisible")
	procPostMessageW    = user32.NewProc("PostMessageW")
)

// enumMu serializes EnumWindows; the callback appends to enumTarget.
var (
	enumMu       sync.Mutex
	enumTarget   []uintptr
	enumCallback = syscall.NewCallback(func(hwnd, _ uintptr) uintptr {
		enumTarget = append(enumTarget, hwnd)
		return 1
	})
)

// WindowCloserImpl implements domain.WindowCloser with user32 window enumeration.
type WindowCloserImpl struct{}

// NewWindowCloser creates the platform window closer.
func NewWindowCloser() domain.WindowCloser {
	return &WindowCloserImpl{}
}

// CloseWindows posts WM_CLOSE to every visible top-level window matching a rule.
func (c *WindowCloserImpl) CloseWindows(rules []domain.ProcessRule) (int, error) {
	hwnds, err := topLevelWindows()
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, hwnd := range hwnds {
		if visible, _, _ := procIsWindowVisible.Call(hwnd); visible == 0 {
			continue
		}
		if !MatchWindow(rules, windowString(procGetClassNameW, hwnd, maxClassName), windowString(procGetWindowTextW, hwnd, maxTitle)) {
			continue
		}
		if r, _, _ := procPostMessageW.Call(hwnd, wmClose, 0, 0); r != 0 {
			closed++
		}
	}
	return closed, nil
}

func topLevelWindows() ([]uintptr, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumTarget = nil
	r, _, callErr := procEnumWindows.Call(enumCallback, 0)
	if r == 0 {
		return nil, callErr
	}
	hwnds := enumTarget
	enumTarget = nil
	return hwnds, nil
}

func windowString(proc *windows.LazyProc, hwnd uintptr, size int) string {
	buf := make([]uint16, size)
	n, _, _ := proc.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(size))
	return windows.UTF16ToString(buf[:n])
}

var _ domain.WindowCloser = (*WindowCloserImpl)(nil)
