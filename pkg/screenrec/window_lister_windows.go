package screenrec

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	ps "github.com/mitchellh/go-ps"
	"go.uber.org/zap"
)

var (
	moduser32               = syscall.NewLazyDLL("user32.dll")
	procEnumWindows         = moduser32.NewProc("EnumWindows")
	procGetWindowTextLength = moduser32.NewProc("GetWindowTextLengthW")
	procGetWindowText       = moduser32.NewProc("GetWindowTextW")

	// callbacks can't be freed and the runtime only has room for a couple thousand, so there's exactly one
	enumWindowsMutex    sync.Mutex
	enumWindowsVisit    func(hwnd win.HWND)
	enumWindowsCallback = syscall.NewCallback(func(hwnd win.HWND, lParam uintptr) uintptr {
		enumWindowsVisit(hwnd)
		return 1 // continue enumeration
	})
)

type nativeWindowLister struct {
	logger *zap.SugaredLogger
}

func newNativeWindowLister(logger *zap.SugaredLogger) (windowLister, error) {
	if err := procEnumWindows.Find(); err != nil {
		return nil, fmt.Errorf("find EnumWindows: %w", err)
	}

	return &nativeWindowLister{logger: logger.Named("windows")}, nil
}

// listWindows walks visible top-level windows with a title, the same set gdigrab can address
func (l *nativeWindowLister) listWindows() ([]WindowInfo, error) {
	windows := []WindowInfo{}
	seen := map[string]bool{}

	enumWindowsMutex.Lock()
	defer enumWindowsMutex.Unlock()

	enumWindowsVisit = func(hwnd win.HWND) {
		if !win.IsWindowVisible(hwnd) || win.GetParent(hwnd) != 0 {
			return
		}

		title := getWindowTitle(hwnd)
		if title == "" || seen[title] {
			return
		}
		seen[title] = true

		var pid uint32
		win.GetWindowThreadProcessId(hwnd, &pid)

		info := WindowInfo{Title: title, PID: int(pid)}

		process, err := ps.FindProcess(int(pid))
		if err != nil {
			l.logger.Debugw("Failed to find window owner", "pid", pid, "error", err)
		} else if process != nil {
			info.Executable = process.Executable()
		}

		windows = append(windows, info)
	}

	if ret, _, err := procEnumWindows.Call(enumWindowsCallback, 0); ret == 0 {
		return nil, fmt.Errorf("enumerate windows: %w", err)
	}

	return windows, nil
}

// getWindowTitle retrieves the title of a window
func getWindowTitle(hwnd win.HWND) string {
	length, _, _ := procGetWindowTextLength.Call(uintptr(hwnd))
	if length == 0 {
		return ""
	}

	buf := make([]uint16, length+1)
	procGetWindowText.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return syscall.UTF16ToString(buf)
}
