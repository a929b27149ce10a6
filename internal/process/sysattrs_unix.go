//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// detach starts the child in a new session (setsid) so it is not tied to
// the server's controlling terminal or process group and survives restarts
// of the panel.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
