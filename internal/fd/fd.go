// Package fd provides the minimal descriptor abstraction shared by the
// resolver, the escape verifier, and the descriptor-to-path recovery code.
package fd

import (
	"os"

	"golang.org/x/sys/unix"
)

// Fd is anything that behaves like a file descriptor: something that was
// opened relative to a directory and knows its own (informational) name.
type Fd interface {
	Fd() uintptr
	Name() string
}

// Closer is a Fd that can also be released.
type Closer interface {
	Fd
	Close() error
}

// Fstat runs fstat(2) on f.
func Fstat(f Fd) (unix.Stat_t, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &stat); err != nil {
		return stat, &os.PathError{Op: "fstat", Path: f.Name(), Err: err}
	}
	return stat, nil
}

// SameFile returns whether a and b refer to the same underlying inode (same
// device and inode number). Matching on inode alone is not sufficient --
// inode numbers are only unique within a single filesystem, so two unrelated
// files on different mounts can share one.
func SameFile(a, b unix.Stat_t) bool {
	return a.Dev == b.Dev && a.Ino == b.Ino
}

// nopCloser wraps a Closer so that Close is a no-op. It is used for
// descriptors the walker borrows rather than owns -- most importantly the
// caller-supplied root descriptor, which must never be closed by the walker
// (see the "descriptor cursor" invariant: the cursor is either the borrowed
// root sentinel or something the walker owns and must close).
type nopCloser struct {
	Closer
}

func (n nopCloser) Close() error { return nil }

// NopCloser wraps f so that calling Close on the result does nothing. The
// underlying descriptor is left open and owned by whoever gave it to us.
func NopCloser(f Closer) Closer {
	return nopCloser{f}
}
