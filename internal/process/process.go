package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/loykin/harness/internal/detector"
	"github.com/loykin/harness/internal/env"
	"github.com/loykin/harness/internal/errs"
	"github.com/loykin/harness/internal/logger"
	"github.com/loykin/harness/internal/metrics"
	"github.com/loykin/harness/internal/pidfile"
)

// Handle identifies a launched process. It is all the caller gets back:
// the child's exit is never observed.
type Handle struct {
	Name       string `json:"name"`
	PID        int    `json:"pid"`
	PIDFile    string `json:"pid_file"`
	StdoutPath string `json:"stdout_path"`
	StderrPath string `json:"stderr_path"`
}

// Control launches and terminates detached processes tracked by PID files.
// The zero value is ready to use: children inherit the OS environment and
// diagnostics go to the package logger.
type Control struct {
	Env    *env.Env
	Logger *slog.Logger
}

func (c *Control) log() *slog.Logger { return logger.Or(c.Logger) }

// Launch starts spec.Command as a detached session leader with stdout and
// stderr redirected to truncated log files, records its PID in <name>.pid and
// returns without waiting for it.
func (c *Control) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if err := spec.Validate(); err != nil {
		return Handle{}, err
	}
	pidPath := spec.PIDFile()
	outPath, errPath := spec.LogPaths()
	log := c.log().With("name", spec.Name)

	unlock, err := pidfile.Lock(ctx, pidPath)
	if err != nil {
		return Handle{}, err
	}
	defer unlock()

	outF, err := openLog(outPath)
	if err != nil {
		return Handle{}, err
	}
	// The child holds its own descriptors once started.
	defer func() { _ = outF.Close() }()
	errF, err := openLog(errPath)
	if err != nil {
		return Handle{}, err
	}
	defer func() { _ = errF.Close() }()

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if c.Env != nil || len(spec.Env) > 0 {
		base := c.Env
		if base == nil {
			base = env.New()
		}
		cmd.Env = base.Merge(spec.Env)
	}
	cmd.Stdout = outF
	cmd.Stderr = errF
	configureSysProcAttr(cmd)

	log.Info("starting detached process", "command", spec.CommandLine())
	if err := cmd.Start(); err != nil {
		log.Error("process could not be started", "error", err)
		return Handle{}, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	pid := cmd.Process.Pid

	if err := pidfile.Write(pidPath, pid); err != nil {
		// Without a PID file nothing could ever stop the child.
		log.Error("pid file could not be written; killing child", "pid", pid, "error", err)
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return Handle{}, err
	}

	// Reap in the background so an exited child does not linger as a zombie
	// of a long-running caller. The exit status is discarded.
	go func() { _ = cmd.Wait() }()

	metrics.IncLaunch(spec.Name)
	log.Info("detached process started", "pid", pid, "pid_file", pidPath)
	return Handle{Name: spec.Name, PID: pid, PIDFile: pidPath, StdoutPath: outPath, StderrPath: errPath}, nil
}

// Terminate reads dir/<name>.pid, sends the termination signal to that PID
// and deletes the PID file. It stops at the first failure: a missing or
// unreadable PID file is neither signalled nor deleted, and a PID that
// cannot be signalled leaves its file in place.
func (c *Control) Terminate(ctx context.Context, dir, name string) (err error) {
	if name == "" {
		return errs.ErrEmptyName
	}
	defer func() { metrics.ObserveTerminate(name, err) }()
	path := pidfile.Path(dir, name)
	log := c.log().With("name", name, "pid_file", path)

	// Nothing is created on disk for a name that has no pid file.
	if _, err := os.Stat(path); err != nil {
		err = &errs.FileReadError{Path: path, Err: err}
		log.Error("pid file could not be read", "error", err)
		return err
	}

	unlock, err := pidfile.Lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	pid, err := pidfile.Read(path)
	if err != nil {
		log.Error("pid file could not be read", "error", err)
		return err
	}
	log = log.With("pid", pid)
	log.Info("sending termination signal", "signal", terminateSignalName)
	if err := sendTerminate(pid); err != nil {
		log.Error("pid could not be killed", "error", err)
		return &errs.SignalError{PID: pid, Signal: terminateSignalName, Err: err}
	}
	log.Info("kill command successful")

	if err := pidfile.Remove(path); err != nil {
		log.Error("pid file could not be deleted", "error", err)
		return err
	}
	return nil
}

// TerminateAsync runs Terminate in a goroutine and reports through done exactly once.
func (c *Control) TerminateAsync(ctx context.Context, dir, name string, done func(error)) {
	go func() {
		err := c.Terminate(ctx, dir, name)
		if done != nil {
			done(err)
		}
	}()
}

// Detector returns the liveness check for the process recorded in dir/<name>.pid.
func (c *Control) Detector(dir, name string) detector.Detector {
	return detector.PIDFileDetector{PIDFile: pidfile.Path(dir, name)}
}

// Alive reports whether the process recorded in dir/<name>.pid is running.
func (c *Control) Alive(dir, name string) (bool, error) {
	return c.Detector(dir, name).Alive()
}

func openLog(path string) (*os.File, error) {
	// #nosec G302 G304 -- log files are meant to be read by the test
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &errs.FileWriteError{Path: path, Err: err}
	}
	return f, nil
}

var defaultControl Control

// Launch starts spec with the default Control.
func Launch(ctx context.Context, spec Spec) (Handle, error) {
	return defaultControl.Launch(ctx, spec)
}

// Terminate stops dir/<name>.pid with the default Control.
func Terminate(ctx context.Context, dir, name string) error {
	return defaultControl.Terminate(ctx, dir, name)
}
