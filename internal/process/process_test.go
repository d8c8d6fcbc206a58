//go:build !windows

package process

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/loykin/harness/internal/detector"
	"github.com/loykin/harness/internal/env"
	"github.com/loykin/harness/internal/errs"
)

func waitUntil(timeout, step time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(step)
	}
	return cond()
}

func fileContains(path, want string) func() bool {
	return func() bool {
		b, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(b), want)
	}
}

func TestLaunch_EchoWritesPIDAndStdout(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	h, err := Launch(context.Background(), Spec{Name: "test", Command: "echo", Args: []string{"hi"}, Dir: dir})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "test.pid"))
	if err != nil {
		t.Fatalf("pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 || pid != h.PID {
		t.Fatalf("pid file content %q, handle pid %d", b, h.PID)
	}
	if !waitUntil(2*time.Second, 20*time.Millisecond, fileContains(filepath.Join(dir, "test-out.log"), "hi")) {
		t.Fatalf("stdout log never contained output")
	}
	if _, err := os.Stat(filepath.Join(dir, "test-err.log")); err != nil {
		t.Fatalf("stderr log not created: %v", err)
	}
}

func TestLaunch_StderrAndTruncate(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	_, errPath := LogPaths(dir, "noisy")
	if err := os.WriteFile(errPath, []byte("stale-content\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Launch(context.Background(), Spec{Name: "noisy", Command: "sh -c 'echo oops 1>&2'", Dir: dir}); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !waitUntil(2*time.Second, 20*time.Millisecond, fileContains(errPath, "oops")) {
		t.Fatalf("stderr not redirected")
	}
	b, _ := os.ReadFile(errPath)
	if strings.Contains(string(b), "stale-content") {
		t.Fatalf("log file was not truncated: %q", b)
	}
}

func TestLaunch_NewSessionLeader(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	h, err := Launch(context.Background(), Spec{Name: "sess", Command: "sleep", Args: []string{"5"}, Dir: dir})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	t.Cleanup(func() { _ = unix.Kill(h.PID, unix.SIGKILL) })
	sid, err := unix.Getsid(h.PID)
	if err != nil {
		t.Fatalf("getsid: %v", err)
	}
	if sid != h.PID {
		t.Fatalf("expected child to lead its own session, sid=%d pid=%d", sid, h.PID)
	}
	if sid == unix.Getpid() {
		t.Fatalf("child shares the caller's session")
	}
}

func TestLaunch_EnvMerged(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	c := &Control{Env: env.NewFrom(env.Var{"PATH": os.Getenv("PATH"), "BASE": "b"})}
	_, err := c.Launch(context.Background(), Spec{
		Name:    "envy",
		Command: "sh -c 'echo $BASE-$EXTRA'",
		Dir:     dir,
		Env:     []string{"EXTRA=x"},
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	out, _ := LogPaths(dir, "envy")
	if !waitUntil(2*time.Second, 20*time.Millisecond, fileContains(out, "b-x")) {
		b, _ := os.ReadFile(out)
		t.Fatalf("env not merged, stdout=%q", b)
	}
}

func TestLaunch_StartFailureLeavesNoPIDFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Launch(context.Background(), Spec{Name: "ghost", Command: filepath.Join(dir, "does-not-exist"), Args: []string{"x"}, Dir: dir})
	if err == nil {
		t.Fatalf("expected start error")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "ghost.pid")); !errors.Is(statErr, fs.ErrNotExist) {
		t.Fatalf("pid file should not exist after failed start")
	}
}

func TestLaunch_InvalidSpec(t *testing.T) {
	if _, err := Launch(context.Background(), Spec{Command: "echo"}); !errors.Is(err, errs.ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}

func TestTerminate_StopsProcessAndRemovesPIDFile(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	c := &Control{}
	h, err := c.Launch(context.Background(), Spec{Name: "sleeper", Command: "sleep", Args: []string{"30"}, Dir: dir})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if alive, _ := c.Alive(dir, "sleeper"); !alive {
		t.Fatalf("expected process alive after launch")
	}
	if err := c.Terminate(context.Background(), dir, "sleeper"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if _, err := os.Stat(h.PIDFile); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("pid file should be removed, stat err=%v", err)
	}
	if !waitUntil(2*time.Second, 20*time.Millisecond, func() bool {
		alive, _ := detector.PIDDetector{PID: h.PID}.Alive()
		return !alive
	}) {
		t.Fatalf("process %d still alive after terminate", h.PID)
	}
}

func TestTerminate_MissingPIDFile(t *testing.T) {
	dir := t.TempDir()
	err := Terminate(context.Background(), dir, "nothing")
	var re *errs.FileReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected FileReadError, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("terminate left files behind: %v", entries)
	}
}

func TestTerminate_MissingDirIsNotCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")
	err := Terminate(context.Background(), dir, "api")
	var re *errs.FileReadError
	if !errors.As(err, &re) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected FileReadError wrapping ErrNotExist, got %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("terminate created %s, stat err=%v", dir, err)
	}
}

func TestTerminate_GarbagePIDFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.pid")
	_ = os.WriteFile(path, []byte("abc"), 0o600)
	err := Terminate(context.Background(), dir, "junk")
	var pe *errs.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("pid file should remain: %v", err)
	}
}

func TestTerminate_SignalFailureKeepsPIDFile(t *testing.T) {
	requireUnix(t)
	// A reaped child's PID no longer names any process.
	// #nosec G204
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	dead := cmd.ProcessState.Pid()

	dir := t.TempDir()
	path := filepath.Join(dir, "dead.pid")
	_ = os.WriteFile(path, []byte(strconv.Itoa(dead)), 0o600)

	err := Terminate(context.Background(), dir, "dead")
	var se *errs.SignalError
	if !errors.As(err, &se) || se.PID != dead {
		t.Fatalf("expected SignalError for pid %d, got %v", dead, err)
	}
	if !errors.Is(err, unix.ESRCH) {
		t.Fatalf("expected ESRCH cause, got %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("pid file should remain for diagnosis: %v", err)
	}
}

func TestTerminate_DeleteFailure(t *testing.T) {
	requireUnix(t)
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	h, err := Launch(context.Background(), Spec{Name: "stuck", Command: "sleep", Args: []string{"30"}, Dir: dir})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chmod(dir, 0o700)
		_ = unix.Kill(h.PID, unix.SIGKILL)
	})
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	err = Terminate(context.Background(), dir, "stuck")
	var de *errs.FileDeleteError
	if !errors.As(err, &de) {
		t.Fatalf("expected FileDeleteError, got %v", err)
	}
}

func TestTerminateAsync_CallsOnce(t *testing.T) {
	dir := t.TempDir()
	ch := make(chan error, 2)
	(&Control{}).TerminateAsync(context.Background(), dir, "absent", func(err error) { ch <- err })
	select {
	case err := <-ch:
		if err == nil {
			t.Fatalf("expected error for missing pid file")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("callback not called")
	}
	select {
	case <-ch:
		t.Fatalf("callback called twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTerminate_EmptyName(t *testing.T) {
	if err := Terminate(context.Background(), t.TempDir(), ""); !errors.Is(err, errs.ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
}
