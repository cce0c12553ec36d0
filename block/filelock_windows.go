//go:build windows

package block

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock = 0x00000002
	lockfileFailImmediate = 0x00000001
)

// FileLock represents an OS-level advisory lock (Windows implementation).
type FileLock struct {
	file *os.File
}

// LockFile acquires an exclusive, non-blocking lock for path.
func LockFile(path string) (*FileLock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("block: cannot open lock file: %w", err)
	}

	ol := new(syscall.Overlapped)
	r1, _, _ := procLockFileEx.Call(
		f.Fd(),
		uintptr(lockfileExclusiveLock|lockfileFailImmediate),
		0,
		1, 0,
		uintptr(unsafe.Pointer(ol)),
	)
	if r1 == 0 {
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
	ol := new(syscall.Overlapped)
	procUnlockFileEx.Call(
		fl.file.Fd(),
		0,
		1, 0,
		uintptr(unsafe.Pointer(ol)),
	)
	name := fl.file.Name()
	err := fl.file.Close()
	os.Remove(name)
	return err
}
