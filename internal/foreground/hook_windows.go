//go:build windows

package foreground

import (
	"errors"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/gamegov/optimizer/internal/types"
)

// errHookInstallFailed is returned when SetWinEventHook fails to install
// (spec §7: "failure at install → log ERROR, continue without foreground
// adaptation").
var errHookInstallFailed = errors.New("foreground: SetWinEventHook failed")

// lockOSThread pins the calling goroutine to its OS thread for the life of
// the message pump (spec §4.4: "runs on a dedicated thread pumping the OS
// message loop").
func lockOSThread() { runtime.LockOSThread() }

var (
	user32                = windows.NewLazySystemDLL("user32.dll")
	procSetWinEventHook   = user32.NewProc("SetWinEventHook")
	procUnhookWinEvent    = user32.NewProc("UnhookWinEvent")
	procGetMessage        = user32.NewProc("GetMessageW")
	procPostThreadMessage = user32.NewProc("PostThreadMessageW")
)

const (
	eventSystemForeground = 0x0003
	winEventOutOfContext  = 0x0000
	wmQuit                = 0x0012
)

// winHook pumps the Win32 message loop on a dedicated OS thread and
// forwards EVENT_SYSTEM_FOREGROUND notifications as PIDs.
type winHook struct {
	mu       sync.Mutex
	hookH    uintptr
	threadID uint32
	done     chan struct{}
}

// NewHook returns the real Windows foreground-window hook.
func NewHook() Hook { return &winHook{} }

func (h *winHook) Install(onForeground func(types.ProcessId)) error {
	h.done = make(chan struct{})
	started := make(chan error, 1)

	go func() {
		// LockOSThread: the message pump must stay on one real OS thread
		// for the lifetime of the hook (spec §4.4).
		runtimeLockOSThread()

		callback := windows.NewCallback(func(hWinEventHook uintptr, event uint32, hwnd uintptr, idObject, idChild int32, idEventThread, dwmsEventTime uint32) uintptr {
			if event != eventSystemForeground || hwnd == 0 {
				return 0
			}
			var pid uint32
			getWindowThreadProcessID(hwnd, &pid)
			if pid != 0 {
				onForeground(types.ProcessId(pid))
			}
			return 0
		})

		r, _, _ := procSetWinEventHook.Call(
			eventSystemForeground, eventSystemForeground,
			0, callback, 0, 0, winEventOutOfContext,
		)
		if r == 0 {
			started <- errHookInstallFailed
			return
		}
		h.mu.Lock()
		h.hookH = r
		h.threadID = currentThreadID()
		h.mu.Unlock()
		started <- nil

		pumpMessages(h.done)
	}()

	return <-started
}

func (h *winHook) Close() error {
	h.mu.Lock()
	hookH, threadID := h.hookH, h.threadID
	h.mu.Unlock()
	if hookH != 0 {
		procUnhookWinEvent.Call(hookH)
	}
	if threadID != 0 {
		procPostThreadMessage.Call(uintptr(threadID), wmQuit, 0, 0)
	}
	close(h.done)
	return nil
}

func pumpMessages(done chan struct{}) {
	var msg struct {
		hwnd    uintptr
		message uint32
		wParam  uintptr
		lParam  uintptr
		time    uint32
		pt      struct{ x, y int32 }
	}
	for {
		select {
		case <-done:
			return
		default:
		}
		r, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		if r == 0 || msg.message == wmQuit {
			return
		}
	}
}

func getWindowThreadProcessID(hwnd uintptr, pid *uint32) uint32 {
	proc := user32.NewProc("GetWindowThreadProcessId")
	tid, _, _ := proc.Call(hwnd, uintptr(unsafe.Pointer(pid)))
	return uint32(tid)
}

func currentThreadID() uint32 {
	return windows.GetCurrentThreadId()
}

func runtimeLockOSThread() {
	// kept as its own function so intent reads clearly at the call site.
	lockOSThread()
}
