//go:build windows

package progress

import (
	"os"

	"golang.org/x/sys/windows"
)

// enableANSIOnWindows enables Virtual Terminal processing so mpb's cursor
// movement renders instead of printing escape codes.
func enableANSIOnWindows(f *os.File) {
	handle := windows.Handle(f.Fd())
	var mode uint32

	if err := windows.GetConsoleMode(handle, &mode); err == nil {
		const ENABLE_VIRTUAL_TERMINAL_PROCESSING = 0x0004
		_ = windows.SetConsoleMode(handle, mode|ENABLE_VIRTUAL_TERMINAL_PROCESSING)
	}
}
