package storage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Lockfile enforces at most one engine process per data directory: a
// plain text file holding the owning PID, checked with a signal-0 probe
// rather than an OS-level flock so the check works identically across
// the platforms this engine targets.
type Lockfile struct {
	path string
}

// Acquire opens (or creates) path and fails if a live process already
// holds it. A stale lockfile — pointing at a PID that no longer exists —
// is silently reclaimed.
func Acquire(path string) (*Lockfile, error) {
	if existing, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(existing))); perr == nil && pid > 0 && processAlive(pid) {
			return nil, fmt.Errorf("storage.Acquire: engine already running with pid %d (lockfile %s)", pid, path)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("storage.Acquire: write lockfile %s: %w", path, err)
	}
	return &Lockfile{path: path}, nil
}

// Release removes the lockfile. Safe to call even if another process has
// since overwritten it with its own PID — in that rare race the removal
// just deletes the file; the new owner re-acquires on its own next
// restart check.
func (l *Lockfile) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage.Lockfile.Release: %w", err)
	}
	return nil
}

// processAlive probes for PID liveness via signal 0, which the OS
// delivers to no one but still validates the PID exists and is
// reachable by this process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
