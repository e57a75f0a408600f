// Copyright (C) 2017-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Sentinel errors in the taxonomy from spec.md §7. Wrap the platform errno
// with fmt.Errorf("...: %w", ...) or *os.PathError so callers can match
// either the sentinel or the underlying errno with errors.Is.
var (
	// ErrCrossDevice is returned when the escape verifier proves that the
	// walk left the subtree rooted at the nominated root.
	ErrCrossDevice = errors.New("beneath: path escaped the confinement root")

	// ErrPossibleAttack is returned when the OS gives a sequence of
	// responses that are individually sensible but jointly contradictory --
	// the signature of a concurrent rename race rather than a bug.
	ErrPossibleAttack = errors.New("beneath: inconsistent lookup result (possible concurrent rename)")

	// ErrInvalidRoot is returned when the supplied root descriptor does not
	// refer to a directory.
	ErrInvalidRoot = errors.New("beneath: root is not a directory")

	// ErrDeletedInode names the case of a directory along the path being
	// unlinked out from under the walk. No function in this package returns
	// it: MkdirAll and MkdirAllHandle report that case with the underlying
	// errno (typically ENOENT) instead.
	ErrDeletedInode = errors.New("beneath: directory was deleted during resolution")

	// ErrNotSupported is returned when an operation is asked to do something
	// it fundamentally cannot: on non-Linux platforms, every confined
	// resolution operation returns it since this package's openat2/O_PATH
	// tricks have no equivalent there; on Linux it is also returned by
	// RecoverPath for any descriptor that does not refer to a directory,
	// checked before either the procfs-readlink path or the scan-based
	// fallback is tried.
	ErrNotSupported = errors.New("beneath: not supported")

	// ErrBadDescriptor is returned by RecoverPath when given a descriptor
	// that is not a valid open file descriptor at all (e.g. a negative or
	// already-closed one).
	ErrBadDescriptor = errors.New("beneath: bad file descriptor")
)

// isPossibleSymlink reports whether err is one of the OS-specific errno
// values that can mean "you tried to open a symlink with O_NOFOLLOW",
// depending on platform: ELOOP on most systems, ENOTDIR when
// O_DIRECTORY|O_NOFOLLOW was combined, EMLINK on FreeBSD, and EFTYPE on
// NetBSD/macOS. All four are treated identically: probe with readlink to
// find out which it was.
func isPossibleSymlink(err error) bool {
	return errors.Is(err, unix.ELOOP) ||
		errors.Is(err, unix.ENOTDIR) ||
		errors.Is(err, unix.EMLINK) ||
		errors.Is(err, eftype)
}

// IsNotExist tells you if err is an error that implies that either the path
// accessed does not exist (or path components don't exist). This is a
// broader version of os.IsNotExist that also treats ENOTDIR as "not found",
// since an intermediate non-directory component surfaces as ENOTDIR rather
// than ENOENT in some cases.
func IsNotExist(err error) bool {
	return errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOTDIR)
}
