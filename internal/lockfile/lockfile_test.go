package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireLock_WritesHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, ":8080")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	h := parseHolder(string(content))
	if h.PID != os.Getpid() || h.Addr != ":8080" {
		t.Errorf("unexpected holder %+v from %q", h, content)
	}
	if time.Since(h.Started) > time.Minute {
		t.Errorf("unexpected start time %v", h.Started)
	}
	if lock.Holder().PID != os.Getpid() {
		t.Errorf("Holder() = %+v", lock.Holder())
	}
}

func TestAcquireLock_Conflict(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir, "127.0.0.1:9000")
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir, ":8081")
	if err == nil {
		second.Release()
		t.Fatal("Expected conflict acquiring the same directory twice")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected *LockError, got %T: %v", err, err)
	}
	if lockErr.Holder.PID != os.Getpid() || lockErr.Holder.Addr != "127.0.0.1:9000" {
		t.Errorf("conflict should name the running holder: %+v", lockErr.Holder)
	}
	for _, want := range []string{"another FlowPilot server", "(running)", "127.0.0.1:9000"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
	if lockErr.Unwrap() == nil {
		t.Error("Expected underlying flock error")
	}
}

func TestRelease_AllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}

	again, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("Failed to reacquire lock: %v", err)
	}
	again.Release()
}

func TestAcquireLock_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("Should create the directory and lock it: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should have been created: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Holder
	}{
		{"full", "pid=42\nstarted=2026-01-02T03:04:05Z\naddr=:8080\n", Holder{PID: 42, Started: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Addr: ":8080"}},
		{"pid only", "pid=12345\n", Holder{PID: 12345}},
		{"bad pid", "pid=abc\naddr=x", Holder{Addr: "x"}},
		{"negative pid", "pid=-3", Holder{}},
		{"no equals", "pid12345", Holder{}},
		{"empty", "", Holder{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHolder(tt.content)
			if got.PID != tt.want.PID || got.Addr != tt.want.Addr || !got.Started.Equal(tt.want.Started) {
				t.Errorf("parseHolder(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}

func TestHolderString_RoundTrips(t *testing.T) {
	h := Holder{PID: 7, Started: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC), Addr: "0.0.0.0:80"}
	got := parseHolder(h.String())
	if got.PID != h.PID || got.Addr != h.Addr || !got.Started.Equal(h.Started) {
		t.Errorf("round trip = %+v, want %+v", got, h)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("Our own process should be detected as running")
	}
}
