// Package pidfile reads and writes <name>.pid sidecar files.
//
// A PID file holds one decimal process identifier on its first line. Readers
// ignore anything after the first line so older multi-line files still parse.
package pidfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/loykin/harness/internal/errs"
)

const lockRetryInterval = 20 * time.Millisecond

// Path returns dir/<name>.pid.
func Path(dir, name string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, name+".pid")
}

// Read returns the PID stored at path.
func Read(path string) (int, error) {
	b, err := os.ReadFile(path) // #nosec G304 -- path derived from process name
	if err != nil {
		return 0, &errs.FileReadError{Path: path, Err: err}
	}
	first, _, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, &errs.ParseError{Path: path, Err: err}
	}
	if pid <= 0 {
		return 0, &errs.ParseError{Path: path, Err: fmt.Errorf("%w: %d", errs.ErrInvalidPID, pid)}
	}
	return pid, nil
}

// Write stores pid at path, creating parent directories as needed.
func Write(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return &errs.FileWriteError{Path: path, Err: err}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600); err != nil {
		return &errs.FileWriteError{Path: path, Err: err}
	}
	return nil
}

// Remove deletes the PID file at path.
func Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return &errs.FileDeleteError{Path: path, Err: err}
	}
	return nil
}

// Lock takes an exclusive advisory lock guarding path. The lock file
// (path + ".lock") stays on disk after unlock so a concurrent holder never
// loses its lock to a removal.
func Lock(ctx context.Context, path string) (unlock func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	fl := flock.New(path + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: not acquired", path)
	}
	return func() { _ = fl.Close() }, nil
}
