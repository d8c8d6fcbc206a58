//go:build !windows

package process

import "golang.org/x/sys/unix"

var terminateSignalName = unix.SignalName(unix.SIGTERM)

// sendTerminate delivers the default termination signal to pid.
func sendTerminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}
