//go:build unix

package normalize

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs cmd in its own process group and makes context
// cancellation kill the whole group. soffice is a launcher that forks
// soffice.bin, which would otherwise outlive the kill and hold stderr open.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
}
