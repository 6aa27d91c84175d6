//go:build !windows

package dispatch

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/popgen/structure-threader/internal/constants"
)

// setProcessGroup starts the child in its own process group so the whole
// tree can be signalled on cancellation.
func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcessGroup sends SIGTERM to the group and SIGKILL after
// KillGracePeriod if anything is left.
func terminateProcessGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	pgid := -p.Pid
	if err := unix.Kill(pgid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	time.AfterFunc(constants.KillGracePeriod, func() {
		_ = unix.Kill(pgid, unix.SIGKILL)
	})
	return nil
}
