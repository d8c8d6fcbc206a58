//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr starts the child as leader of a new session (setsid) so
// it has no controlling terminal and is outside the caller's process group;
// signals aimed at the caller's group never reach it.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
