package detector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/harness/internal/pidfile"
)

// PIDAlive reports whether pid names a live, non-zombie process.
func PIDAlive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExistsWithContext(ctx, int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil || !ok {
		return false
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid)) // #nosec G115
	if err != nil {
		return false
	}
	// An exited child stays a zombie until its parent reaps it.
	if st, err := p.StatusWithContext(ctx); err == nil && slices.Contains(st, gopsproc.Zombie) {
		return false
	}
	return true
}

// PIDFileDetector detects a process via a PID file.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	pid, err := pidfile.Read(d.PIDFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return PIDAlive(context.Background(), pid), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return PIDAlive(context.Background(), d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }
