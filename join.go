// Copyright (C) 2014-2015 Docker Inc & Go Authors. All rights reserved.
// Copyright (C) 2017-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrSymlinkLoop is returned by Join when too many symlinks have been
// evaluated while resolving the path.
var ErrSymlinkLoop = errors.New("beneath: too many links")

// Join joins root and unsafePath (similar to filepath.Join) except that the
// returned path is guaranteed to be lexically scoped inside root once any
// symlinks encountered along the way are evaluated, treating root as though
// it were the root of the filesystem (chroot-style).
//
// Join does not open any descriptors and does not guard against concurrent
// modification: a symlink race between the lstat/readlink calls below and
// whatever the caller eventually does with the returned path is entirely
// possible. Callers that need a guarantee that holds even against a
// concurrent attacker must use [Open] or [OpenRoot] instead, which resolve
// and hold an open descriptor in one atomic-with-respect-to-the-attacker
// operation. Join exists purely as a convenience for callers who just want a
// best-effort scoped path string, matching the same tradeoff as the
// "SecureJoin" helper it is descended from.
func Join(root, unsafePath string) (string, error) {
	if hasDotDot(root) {
		return "", errUnsafeRoot
	}

	var path bytes.Buffer
	n := 0
	for unsafePath != "" {
		if n > 255 {
			return "", ErrSymlinkLoop
		}

		i := strings.IndexRune(unsafePath, filepath.Separator)
		var p string
		if i == -1 {
			p, unsafePath = unsafePath, ""
		} else {
			p, unsafePath = unsafePath[:i], unsafePath[i+1:]
		}

		// Create a cleaned path, using the lexical semantics of /../a, to
		// create a "scoped" path component which can safely be joined to
		// fullP for evaluation. At this point, path.String() doesn't
		// contain any symlink components.
		cleanP := filepath.Clean(string(filepath.Separator) + path.String() + p)
		if cleanP == string(filepath.Separator) {
			path.Reset()
			continue
		}
		fullP := filepath.Clean(root + cleanP)

		fi, err := os.Lstat(fullP)
		if err != nil && !os.IsNotExist(err) {
			return "", err
		}
		// Treat non-existent path components the same as non-symlinks (we
		// can't do any better here).
		if os.IsNotExist(err) || fi.Mode()&os.ModeSymlink == 0 {
			path.WriteString(p)
			path.WriteRune(filepath.Separator)
			continue
		}

		// Only increment when we actually dereference a link.
		n++

		dest, err := os.Readlink(fullP)
		if err != nil {
			return "", err
		}
		// Absolute symlinks reset any work we've already done.
		if filepath.IsAbs(dest) {
			path.Reset()
		}
		unsafePath = dest + string(filepath.Separator) + unsafePath
	}

	// We have to clean path.String() here because it may contain '..'
	// components that are entirely lexical, but would be misleading
	// otherwise. And finally do a final clean to ensure that root is also
	// lexically clean.
	fullP := filepath.Clean(string(filepath.Separator) + path.String())
	return filepath.Clean(root + fullP), nil
}
