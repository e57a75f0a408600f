//go:build linux

// Copyright (C) 2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/beneathfs/beneath/internal/fd"
	"github.com/beneathfs/beneath/internal/procfs"
)

// RecoverPath returns the current path of an open file descriptor, as seen
// from the root of the real filesystem (not relative to any confinement
// root). The fast path reads /proc/thread-self/fd/N through the hardened
// procfs handle; if that fails it falls back to walking up via ".." and
// scanning each parent directory for the child's (dev, ino), the same
// upward walk the userspace walker's escape verifier (checkBeneath) uses.
//
// file must refer to a directory and must be a valid, open descriptor:
// RecoverPath fails with ErrBadDescriptor if fcntl(F_GETFD) rejects it, and
// with ErrNotSupported if it is open but not a directory (a pipe or socket,
// say), since the scan fallback has no way to find a non-directory entry by
// scanning its parent and the fast path's result cannot be trusted to be a
// real path for such descriptors either (e.g. a pipe's "path" reads back as
// "pipe:[12345]").
func RecoverPath(file *os.File) (string, error) {
	if _, err := unix.FcntlInt(file.Fd(), unix.F_GETFD, 0); err != nil {
		return "", fmt.Errorf("recover path: %w", ErrBadDescriptor)
	}

	stat, err := fd.Fstat(file)
	if err != nil {
		return "", fmt.Errorf("recover path: %w", err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFDIR {
		return "", fmt.Errorf("recover path: %w", ErrNotSupported)
	}

	if path, err := procfs.ProcSelfFdReadlink(file); err == nil {
		return path, nil
	}
	return recoverPathByScan(file)
}

// recoverPathByScan reconstructs the path of file by repeatedly opening its
// parent directory and scanning it for an entry whose (dev, ino) matches
// file, prepending the matched name, until it reaches the real filesystem
// root (detected the same way checkBeneath detects it: opening ".." of "."
// yields itself).
func recoverPathByScan(file *os.File) (string, error) {
	stat, err := fd.Fstat(file)
	if err != nil {
		return "", fmt.Errorf("recover path: %w", err)
	}

	cur, err := dupFile(file)
	if err != nil {
		return "", fmt.Errorf("recover path: %w", err)
	}
	defer cur.Close() //nolint:errcheck

	var parts []string
	curStat := stat
	for {
		parent, err := openatFile(cur, "..", dirOpenFlags, 0)
		if err != nil {
			return "", fmt.Errorf("recover path: open parent: %w", err)
		}
		parentStat, err := fd.Fstat(parent)
		if err != nil {
			_ = parent.Close()
			return "", fmt.Errorf("recover path: %w", err)
		}
		if fd.SameFile(parentStat, curStat) {
			// We've reached the real filesystem root.
			_ = parent.Close()
			break
		}

		name, err := findNameInDir(parent, curStat)
		if err != nil {
			_ = parent.Close()
			return "", fmt.Errorf("recover path: %w", err)
		}
		parts = append([]string{name}, parts...)

		_ = cur.Close()
		cur = parent
		curStat = parentStat
	}

	return "/" + strings.Join(parts, "/"), nil
}

// findNameInDir scans dir for the single entry whose (dev, ino) matches
// want, returning its name. Each candidate is fstatat'd directly (rather
// than trusting os.DirEntry.Info(), whose Sys() value is a *syscall.Stat_t
// and not directly comparable to the unix.Stat_t the rest of this package
// works with) so a rename racing the scan just means we miss that entry,
// never that we report a false match.
func findNameInDir(dir *os.File, want unix.Stat_t) (string, error) {
	dupDir, err := dupFile(dir)
	if err != nil {
		return "", err
	}
	f := os.NewFile(dupDir.Fd(), dir.Name())
	defer f.Close() //nolint:errcheck

	names, err := f.Readdirnames(-1)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		st, err := fstatatFile(dir, name, unix.AT_SYMLINK_NOFOLLOW)
		if err != nil {
			continue
		}
		if fd.SameFile(st, want) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no matching entry found in %q", unix.ENOENT, filepath.Clean(dir.Name()))
}
