// Copyright (C) 2017-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// pathPart is a single component of a split path, together with the openat
// flags that should be used to open it. Every component except the last
// (and the synthetic leading "/" root marker) is opened with dirOpenFlags --
// only the final component is allowed to carry the caller's requested
// flags, so an intermediate component that turns out to be a non-directory
// always surfaces as ENOTDIR rather than silently being opened with the
// wrong mode.
type pathPart struct {
	name  string
	flags int
}

// splitPath decomposes path into an ordered work queue of components. A
// leading "/" becomes a synthetic first component naming the filesystem
// root (handled specially by the resolver: it rewinds to the root
// descriptor rather than doing a lookup). finalFlags are the flags the
// caller actually asked for on the complete path; they are only attached to
// the last real component (or to the "/" marker when the path has no other
// components). A trailing "/" forces O_DIRECTORY onto that
// component regardless of what the caller asked for.
func splitPath(path string, finalFlags int, origPath string) ([]pathPart, error) {
	if path == "" {
		return nil, &os.PathError{Op: "beneath", Path: origPath, Err: unix.ENOENT}
	}

	if strings.HasSuffix(path, "/") && path != "/" {
		finalFlags |= unix.O_DIRECTORY
	}

	var rawParts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			rawParts = append(rawParts, p)
		}
	}

	var parts []pathPart
	if strings.HasPrefix(path, "/") {
		flags := dirOpenFlags
		if len(rawParts) == 0 {
			flags = finalFlags
		}
		parts = append(parts, pathPart{name: "/", flags: flags})
	}

	for i, p := range rawParts {
		flags := dirOpenFlags
		if i == len(rawParts)-1 {
			flags = finalFlags
		}
		parts = append(parts, pathPart{name: p, flags: flags})
	}

	return parts, nil
}

// prependParts pushes the components of a freshly-expanded symlink target
// onto the front of the still-to-process work queue. trailingFlags are the
// flags to attach to the target's own last component: the caller's
// requested finalFlags if the symlink being expanded was itself the last
// component of the walk, or dirOpenFlags if more of the original path
// remains to be processed after it.
func prependParts(queue []pathPart, target string, trailingFlags int, origPath string) ([]pathPart, error) {
	expanded, err := splitPath(target, trailingFlags, origPath)
	if err != nil {
		return nil, err
	}
	return append(expanded, queue...), nil
}
