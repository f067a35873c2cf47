//go:build windows

package monitor

import (
	"path/filepath"
	"strings"
	"syscall"
	"unsafe"
)

var (
	user32   = syscall.NewLazyDLL("user32.dll")
	kernel32 = syscall.NewLazyDLL("kernel32.dll")

	procGetForegroundWindow        = user32.NewProc("GetForegroundWindow")
	procGetWindowThreadProcessId   = user32.NewProc("GetWindowThreadProcessId")
	procGetWindowTextW             = user32.NewProc("GetWindowTextW")
	procOpenProcess                = kernel32.NewProc("OpenProcess")
	procQueryFullProcessImageName  = kernel32.NewProc("QueryFullProcessImageNameW")
	procCloseHandle                = kernel32.NewProc("CloseHandle")
)

const (
	processQueryLimitedInformation = 0x1000
	maxPathLen                     = 1024
)

// WindowsPlatform implements Platform using user32/kernel32.
type WindowsPlatform struct{}

// NewWindowsPlatform creates a new Windows platform implementation.
func NewWindowsPlatform() *WindowsPlatform {
	return &WindowsPlatform{}
}

// ForegroundDescriptor reads the foreground window's title and owning
// process executable name.
func (p *WindowsPlatform) ForegroundDescriptor() (Descriptor, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return Descriptor{Executable: "unknown"}, nil
	}

	var pid uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))

	title := windowTitle(hwnd)
	executable := executableForPID(pid)

	return Descriptor{
		Executable:  executable,
		WindowTitle: title,
		PID:         int32(pid),
	}, nil
}

func windowTitle(hwnd uintptr) string {
	buf := make([]uint16, 256)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return syscall.UTF16ToString(buf[:n])
}

func executableForPID(pid uint32) string {
	handle, _, _ := procOpenProcess.Call(uintptr(processQueryLimitedInformation), 0, uintptr(pid))
	if handle == 0 {
		return "unknown"
	}
	defer procCloseHandle.Call(handle)

	buf := make([]uint16, maxPathLen)
	size := uint32(len(buf))
	ret, _, _ := procQueryFullProcessImageName.Call(
		handle, 0, uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)),
	)
	if ret == 0 {
		return "unknown"
	}

	fullPath := syscall.UTF16ToString(buf[:size])
	return strings.ToLower(filepath.Base(fullPath))
}

// NewPlatform creates a platform implementation for the current OS.
func NewPlatform() Platform {
	return NewWindowsPlatform()
}

var _ Platform = (*WindowsPlatform)(nil)
