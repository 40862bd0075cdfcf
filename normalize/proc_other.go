//go:build !unix

package normalize

import "os/exec"

func killProcessGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = waitDelay
}
