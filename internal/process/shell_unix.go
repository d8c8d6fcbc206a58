//go:build !windows

package process

import "os/exec"

// getShellCommand runs script through /bin/sh. The absolute path keeps the
// lookup independent of a PATH overridden in Spec.Env.
func getShellCommand(script string) *exec.Cmd {
	// #nosec G204 -- script is the caller's command line
	return exec.Command("/bin/sh", "-c", script)
}

// getTrueCommand is launched for an empty command line.
func getTrueCommand() *exec.Cmd {
	return exec.Command("/bin/sh", "-c", "exit 0")
}
