//go:build windows

package process

import "os/exec"

// getShellCommand runs script through cmd.exe. /d skips AutoRun entries and /s
// keeps the quoting of script intact.
func getShellCommand(script string) *exec.Cmd {
	// #nosec G204 -- script is the caller's command line
	return exec.Command("cmd.exe", "/d", "/s", "/c", script)
}

// getTrueCommand is launched for an empty command line.
func getTrueCommand() *exec.Cmd {
	return exec.Command("cmd.exe", "/d", "/c", "exit 0")
}
