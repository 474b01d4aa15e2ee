package session

import (
	"os"

	"golang.org/x/sys/unix"
)

// flockShared blocks until a shared (read) lock is held on f.
func flockShared(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_SH)
}

// flockExclusive blocks until an exclusive (write) lock is held on f.
func flockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

func funlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
