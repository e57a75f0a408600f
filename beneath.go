//go:build linux

// Copyright (C) 2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package beneath implements openat2(RESOLVE_IN_ROOT)-style confined path
// resolution in pure Go, for kernels and filesystems where the openat2 fast
// path is unavailable (old kernels, FUSE filesystems that don't implement
// it, or callers that need per-component auditing). A path is resolved
// exactly as if root were the root of the filesystem: "." and ".." can
// never walk above it, and every symlink -- relative or absolute -- is
// expanded with root substituted in for "/".
package beneath

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/beneathfs/beneath/internal/procfs"
)

// OpenRoot resolves unsafePath relative to the open directory root and
// opens the final component with flags and mode, exactly as open(2) would
// if root were the filesystem root. opts may be nil, which is equivalent to
// the zero Options (stateless escape policy, symlinks followed, no audit).
//
// When no AuditFunc is set, this prefers the openat2(RESOLVE_IN_ROOT) fast
// path if the kernel supports it, falling back to a userspace walk
// otherwise; both paths enforce identical confinement semantics.
func OpenRoot(root *os.File, unsafePath string, flags int, mode int, opts *Options) (*os.File, error) {
	if opts == nil {
		opts = &Options{}
	}
	if handle, ok, err := tryOpenBeneath(root, unsafePath, flags, mode, opts.NoSymlinks, opts.AuditFunc); ok {
		return handle, err
	}
	return openBeneath(root, unsafePath, flags, mode, *opts)
}

// Open is a convenience wrapper around OpenRoot that opens rootPath itself
// first. The root descriptor is always closed before Open returns,
// regardless of outcome.
func Open(rootPath string, unsafePath string, flags int, mode int, opts *Options) (*os.File, error) {
	root, err := os.OpenFile(rootPath, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open root %q: %w", rootPath, err)
	}
	defer root.Close() //nolint:errcheck

	return OpenRoot(root, unsafePath, flags, mode, opts)
}

// Reopen upgrades an O_PATH-only (or otherwise access-restricted) handle
// into one opened with flags, without ever re-resolving the path by name --
// which would reintroduce exactly the symlink-race window this package
// exists to avoid. It does this via the hardened /proc/thread-self/fd
// magic-link, verifying there is no overmount hiding the real link before
// trusting it.
func Reopen(handle *os.File, flags int) (*os.File, error) {
	proc, err := procfs.OpenProcRoot()
	if err != nil {
		return nil, fmt.Errorf("reopen: %w", err)
	}
	defer proc.Close() //nolint:errcheck

	return proc.ReopenFd(int(handle.Fd()), flags)
}
