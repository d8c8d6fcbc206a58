package process

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/loykin/harness/internal/errs"
	"github.com/loykin/harness/internal/pidfile"
)

// Spec describes a detached process to launch.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`       // logical name; selects <name>.pid and <name>-{out,err}.log
	Command string   `json:"command" mapstructure:"command"` // executable, or a full command line when Args is empty
	Args    []string `json:"args" mapstructure:"args"`
	Dir     string   `json:"dir" mapstructure:"dir"`         // directory for the pid and log files (default ".")
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"` // child working directory (default: inherited)
	Env     []string `json:"env" mapstructure:"env"`         // extra K=V entries merged over the base environment
}

// Validate checks the fields Launch depends on.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errs.ErrEmptyName
	}
	if strings.ContainsAny(s.Name, `/\`) || s.Name == "." || s.Name == ".." {
		return fmt.Errorf("process name %q must not contain path separators", s.Name)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("process %s: command must not be empty", s.Name)
	}
	return nil
}

// PIDFile returns the path of the sidecar PID file.
func (s Spec) PIDFile() string { return pidfile.Path(s.Dir, s.Name) }

// LogPaths returns the stdout and stderr log file paths.
func (s Spec) LogPaths() (stdout, stderr string) { return LogPaths(s.Dir, s.Name) }

// LogPaths returns dir/<name>-out.log and dir/<name>-err.log.
func LogPaths(dir, name string) (stdout, stderr string) {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, name+"-out.log"), filepath.Join(dir, name+"-err.log")
}

// CommandLine renders the command for logging.
func (s Spec) CommandLine() string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return s.Command + " " + strings.Join(s.Args, " ")
}

// BuildCommand constructs an *exec.Cmd for the spec.
// With explicit Args the command runs directly. Otherwise Command is treated
// as a command line: an explicit "sh -c" prefix is honoured without another
// shell layer, shell metacharacters fall back to /bin/sh -c, and anything
// else is split on whitespace.
func (s *Spec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204 -- launching caller-supplied commands is the point
		return exec.Command(s.Command, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return getTrueCommand()
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// Strip one pair of wrapping quotes so redirections inside the script still work.
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
