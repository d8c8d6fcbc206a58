//go:build windows

package process

import "os"

var terminateSignalName = "TerminateProcess"

// sendTerminate ends pid; Windows has no SIGTERM equivalent for arbitrary processes.
func sendTerminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
