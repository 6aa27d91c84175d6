//go:build windows

package dispatch

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// terminateProcessGroup kills the child. Windows has no process group
// signals, so grandchildren are left to the job object of the console.
func terminateProcessGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
