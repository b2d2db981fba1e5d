// Package lockfile keeps two FlowPilot servers from sharing one state directory.
//
// The lock is a flock on a file inside the state directory, so the kernel
// releases it when the holding process exits, however it exits.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "flowpilot.lock"

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Started time.Time
	Addr    string
}

// String renders the holder as the key=value lines stored in the lock file.
func (h Holder) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", h.PID)
	if !h.Started.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", h.Started.UTC().Format(time.RFC3339))
	}
	if h.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", h.Addr)
	}
	return b.String()
}

// parseHolder reads key=value lines; unknown keys and bad values are ignored.
func parseHolder(content string) Holder {
	var h Holder
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(val); err == nil && pid > 0 {
				h.PID = pid
			}
		case "started":
			if ts, err := time.Parse(time.RFC3339, val); err == nil {
				h.Started = ts
			}
		case "addr":
			h.Addr = val
		}
	}
	return h
}

// Lock represents an active directory lock
type Lock struct {
	file   *os.File
	path   string
	holder Holder
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory if
// needed. addr is recorded so a conflicting start can name the running server.
func AcquireLock(stateDir, addr string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("AcquireLock: attempting", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC is deferred until the lock is held so a conflicting start can
	// still read the running holder.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		existing := readHolder(lockPath)
		slog.Error("AcquireLock: state directory is locked by another FlowPilot server",
			"lock_path", lockPath, "holder_pid", existing.PID, "holder_addr", existing.Addr)
		return nil, &LockError{LockPath: lockPath, Holder: existing, Cause: err}
	}

	holder := Holder{PID: os.Getpid(), Started: time.Now(), Addr: addr}
	if err := writeHolder(file, holder); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: state directory locked", "lock_path", lockPath, "pid", holder.PID)
	return &Lock{file: file, path: lockPath, holder: holder}, nil
}

func writeHolder(file *os.File, h Holder) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(h.String()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("writeHolder: failed to sync lock file", "error", err, "lock_path", file.Name())
	}
	return nil
}

// Holder returns what this lock recorded about the current process.
func (l *Lock) Holder() Holder {
	return l.holder
}

// Release releases the lock and removes the lock file. It is safe to call
// more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the flock so a waiting server never sees our file.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: failed to unlock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return err
}

// LockError is returned when another process holds the state directory.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another FlowPilot server is using this state directory (lock file %s)", e.LockPath)
	if e.Holder.PID > 0 {
		state := "running"
		if !isProcessRunning(e.Holder.PID) {
			state = "not running, lock may be stale"
		}
		fmt.Fprintf(&b, "; holder pid %d (%s)", e.Holder.PID, state)
	}
	if e.Holder.Addr != "" {
		fmt.Fprintf(&b, ", serving %s", e.Holder.Addr)
	}
	if !e.Holder.Started.IsZero() {
		fmt.Fprintf(&b, ", started %s", e.Holder.Started.Format(time.RFC3339))
	}
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// readHolder returns the holder recorded in lockPath, or the zero Holder.
func readHolder(lockPath string) Holder {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Holder{}
	}
	return parseHolder(string(data))
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
