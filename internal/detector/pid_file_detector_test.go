package detector

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

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

func TestPIDFileDetector_LiveProcess(t *testing.T) {
	requireUnix(t)
	// #nosec G204
	cmd := exec.Command("sleep", "2")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = cmd.Process.Kill(); _ = cmd.Wait() }()

	pf := filepath.Join(t.TempDir(), "sleep.pid")
	if err := os.WriteFile(pf, []byte(strconv.Itoa(cmd.Process.Pid)), 0o600); err != nil {
		t.Fatal(err)
	}
	d := PIDFileDetector{PIDFile: pf}
	alive, err := d.Alive()
	if err != nil || !alive {
		t.Fatalf("expected alive, got %v %v", alive, err)
	}
	if d.Describe() != "pidfile:"+pf {
		t.Fatalf("unexpected describe %q", d.Describe())
	}
}

func TestPIDDetector_ZombieIsNotAlive(t *testing.T) {
	requireUnix(t)
	// #nosec G204
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid
	defer func() { _ = cmd.Wait() }()
	// Not reaped yet, so it lingers as a zombie once it exits.
	if !waitUntil(2*time.Second, 10*time.Millisecond, func() bool {
		alive, _ := PIDDetector{PID: pid}.Alive()
		return !alive
	}) {
		t.Fatalf("exited child should not be reported alive")
	}
}

func TestPIDFileDetector_MissingFile(t *testing.T) {
	d := PIDFileDetector{PIDFile: filepath.Join(t.TempDir(), "none.pid")}
	alive, err := d.Alive()
	if err != nil || alive {
		t.Fatalf("missing pidfile should be not-alive without error, got %v %v", alive, err)
	}
}

func TestPIDFileDetector_GarbageFile(t *testing.T) {
	pf := filepath.Join(t.TempDir(), "g.pid")
	_ = os.WriteFile(pf, []byte("garbage"), 0o600)
	alive, err := PIDFileDetector{PIDFile: pf}.Alive()
	if err == nil || alive {
		t.Fatalf("expected parse error, got %v %v", alive, err)
	}
}

func TestPIDDetector_NonPositive(t *testing.T) {
	for _, pid := range []int{0, -1} {
		if alive, _ := (PIDDetector{PID: pid}).Alive(); alive {
			t.Fatalf("pid %d should never be alive", pid)
		}
	}
	if (PIDDetector{PID: 7}).Describe() != "pid:7" {
		t.Fatalf("unexpected describe")
	}
}
