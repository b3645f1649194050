package registry

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/nah-dev/nah/internal/fault"
)

// lockFileName is the root-level writer lock. Readers never take it;
// writers hold it for the publish phase only.
const lockFileName = ".nah.lock"

// Lock is an acquired exclusive lock on the root.
type Lock struct {
	file *os.File
}

// Lock acquires the exclusive writer lock, blocking until available.
func (r *Root) Lock() (*Lock, error) {
	if err := os.MkdirAll(r.path, 0755); err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "creating root %s", r.path)
	}
	path := filepath.Join(r.path, lockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "opening lock file")
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		file.Close()
		return nil, fault.Wrap(fault.KindIOError, err, "acquiring root lock")
	}
	return &Lock{file: file}, nil
}

// TryLock acquires the lock without blocking. Returns nil and no error
// when another writer holds it.
func (r *Root) TryLock() (*Lock, error) {
	if err := os.MkdirAll(r.path, 0755); err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "creating root %s", r.path)
	}
	path := filepath.Join(r.path, lockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "opening lock file")
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, fault.Wrap(fault.KindIOError, err, "acquiring root lock")
	}
	return &Lock{file: file}, nil
}

// Release drops the lock. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fault.Wrap(fault.KindIOError, err, "releasing root lock")
	}
	if closeErr != nil {
		return fault.Wrap(fault.KindIOError, closeErr, "closing lock file")
	}
	return nil
}
