//go:build !windows && !js && !wasip1

package block

import (
	"fmt"
	"os"
	"syscall"
)

// FileLock represents an OS-level advisory lock on a database file, taken
// out against a sibling "<path>.lock" file rather than the database file
// itself so the database file's own fd can be opened read-only when needed.
type FileLock struct {
	file *os.File
}

// LockFile acquires an exclusive, non-blocking lock for path. It fails
// immediately (rather than waiting) if another process already holds it,
// since this engine is single-writer-friendly, not a lock-queueing system.
func LockFile(path string) (*FileLock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("block: cannot open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("block: database %q is locked by another process", path)
	}

	return &FileLock{file: f}, nil
}

// Unlock releases the lock and removes the sidecar lock file.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	name := fl.file.Name()
	err := fl.file.Close()
	os.Remove(name)
	return err
}
