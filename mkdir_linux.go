//go:build linux

// Copyright (C) 2024-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

var errInvalidMode = errors.New("beneath: invalid permission mode")

// partialLookupBeneath behaves like openBeneath but tolerates the target not
// existing: it resolves as much of unsafePath as already exists (following
// symlinks exactly as openBeneath would) and returns a handle to the
// deepest existing directory together with whatever path remains
// unresolved. It is used by MkdirAllHandle to find out which of the
// directories it needs to create already exist.
func partialLookupBeneath(root *os.File, unsafePath string) (_ *os.File, remaining string, Err error) {
	const lookupFlags = unix.O_PATH | unix.O_DIRECTORY

	handle, err := openBeneath(root, unsafePath, lookupFlags, 0, Options{})
	if err == nil {
		return handle, "", nil
	}
	if !errors.Is(err, unix.ENOENT) {
		return nil, "", err
	}

	// Walk back up the path one component at a time until we find a prefix
	// that does exist. This is O(depth) calls to openBeneath in the worst
	// case, but MkdirAll is not a hot path and the common case (most of the
	// tree already exists) resolves in one call above. The path is split
	// as-is (not lexically cleaned) so ".." is resolved by openBeneath.
	parts := strings.Split(unsafePath, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		prefix := strings.Join(parts[:i], "/")
		rest := strings.Join(parts[i:], "/")
		handle, err := openBeneath(root, prefix, lookupFlags, 0, Options{})
		if err == nil {
			return handle, rest, nil
		}
		if !errors.Is(err, unix.ENOENT) {
			return nil, "", err
		}
	}

	handle, err = dupFile(root)
	if err != nil {
		return nil, "", err
	}
	return handle, unsafePath, nil
}

// MkdirAllHandle is equivalent to MkdirAll, except that the caller provides
// the root as an already-open descriptor, and a handle to the final
// directory is returned instead of being discarded. Creating the missing
// components is done relative to a handle obtained from partialLookupBeneath,
// so a concurrent attacker can only ever affect the single final component
// being created at any one time, never redirect an entire subtree.
func MkdirAllHandle(root *os.File, unsafePath string, mode int) (_ *os.File, Err error) {
	if mode&^0o7777 != 0 {
		return nil, fmt.Errorf("%w for mkdir 0o%.3o", errInvalidMode, mode)
	}
	// mkdirat(2) silently ignores suid/sgid, so reject them explicitly.
	if mode&^0o1777 != 0 {
		return nil, fmt.Errorf("%w for mkdir 0o%.3o: suid and sgid are ignored by mkdir", errInvalidMode, mode)
	}

	currentDir, remainingPath, err := partialLookupBeneath(root, unsafePath)
	if err != nil {
		return nil, fmt.Errorf("find existing subpath of %q: %w", unsafePath, err)
	}
	defer func() {
		if Err != nil {
			_ = currentDir.Close()
		}
	}()

	remainingParts := strings.Split(remainingPath, "/")
	for _, part := range remainingParts {
		if part == ".." {
			return nil, fmt.Errorf("%w: yet-to-be-created path %q contains '..' components", unix.ENOENT, remainingPath)
		}
	}

	for _, part := range remainingParts {
		switch part {
		case "", ".":
			continue
		}

		// mkdirat(2) never follows a trailing symlink, so creating the
		// final component is race-free with respect to symlink-exchange.
		// EEXIST (a racing creator, or an existing non-directory) is left
		// to the O_NOFOLLOW|O_DIRECTORY open below to accept or reject.
		if err := unix.Mkdirat(int(currentDir.Fd()), part, uint32(mode)); err != nil && !errors.Is(err, unix.EEXIST) {
			return nil, &os.PathError{Op: "mkdirat", Path: currentDir.Name() + "/" + part, Err: err}
		}

		next, err := openatFile(currentDir, part, unix.O_PATH|unix.O_NOFOLLOW|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
		if err != nil {
			return nil, err
		}
		_ = currentDir.Close()
		currentDir = next
	}
	return currentDir, nil
}

// MkdirAll is a race-safe alternative to os.MkdirAll: the new directory tree
// is guaranteed to stay within root even if an attacker is concurrently
// replacing path components with symlinks elsewhere in the tree.
//
// NOTE: mode uses the raw unix mode bits (unix.S_I...), not os.FileMode.
func MkdirAll(root, unsafePath string, mode int) error {
	rootDir, err := os.OpenFile(root, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer rootDir.Close() //nolint:errcheck

	f, err := MkdirAllHandle(rootDir, unsafePath, mode)
	if err != nil {
		return err
	}
	return f.Close()
}
