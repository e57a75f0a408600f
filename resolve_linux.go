//go:build linux

// Copyright (C) 2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/beneathfs/beneath/internal/fd"
)

// maxSymlinkDepth bounds the number of symlinks a single resolution may
// expand before giving up with ELOOP. This matches the kernel's own
// internal nested-symlink limit (see MAXSYMLINKS in fs/namei.c), rather than
// the much larger historical SecureJoin-style counters, since it is meant
// to track what the kernel itself would allow.
const maxSymlinkDepth = 40

// AuditFunc is an optional callback invoked at two points during resolution,
// distinguished by stage:
//
//   - "before": called just before every work-queue item is dispatched,
//     including "/" and "..", with cursor set to the descriptor resolution
//     is currently sitting on and name set to the component about to be
//     resolved.
//
//   - "symlink": called immediately after a symlink is read (but before it
//     is expanded or counted against the symlink budget), with cursor set
//     to the directory the symlink was read from and name set to the
//     symlink's target.
//
// AuditFunc must not perform any operation on cursor; its lifetime is owned
// entirely by the walker. Returning a non-nil error aborts the resolution
// immediately, and that error (unwrapped) is returned to the caller of
// Open/OpenRoot. Because it requires userspace visibility into every step,
// supplying an AuditFunc disables the openat2 fast path for the whole call.
type AuditFunc func(stage string, cursor *os.File, name string) error

// Options controls how a single Open/OpenRoot call resolves its path.
type Options struct {
	// NoSymlinks forbids symlinks anywhere in the path, including the final
	// component: any symlink encountered fails the whole resolution with
	// ErrPossibleAttack-free ELOOP rather than being expanded.
	NoSymlinks bool
	// RememberParents selects the "remember-parents" escape-prevention
	// policy (a stack of already-opened parent descriptors, rewound by
	// popping on ".."), instead of the default "stateless" policy (walking
	// back up via fstat/samestat verification whenever a ".." has been seen
	// since the last time containment was proven).
	RememberParents bool
	// AuditFunc, if set, is called before every work-queue item and after
	// every symlink read; see its docs for the exact semantics. Setting this forces
	// the userspace walker (the openat2 fast path is skipped).
	AuditFunc AuditFunc
}

// openBeneath resolves unsafePath relative to root the way openat(2) would
// resolve an absolute path inside a chroot: "." and ".." never escape root,
// and every symlink (relative or absolute) is expanded as if root were "/".
// flags and mode apply only to the final path component; every intermediate
// component is opened as a plain, non-following directory lookup.
func openBeneath(root *os.File, unsafePath string, flags, mode int, opts Options) (_ *os.File, Err error) {
	rootStat, err := fd.Fstat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if rootStat.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, ErrInvalidRoot
	}

	queue, err := splitPath(unsafePath, flags, unsafePath)
	if err != nil {
		return nil, err
	}

	// cur is always an "owned" descriptor as far as Close bookkeeping is
	// concerned, even though it may alias root -- fd.NopCloser makes
	// closing it a no-op until it's swapped out for a real owned
	// descriptor, so the rest of this function never needs to special-case
	// "is this the root".
	cur := &ownedFile{File: root, closer: fd.NopCloser(root)}
	defer func() {
		if Err != nil {
			_ = cur.Close()
		}
	}()

	var parents []*ownedFile      // remember-parents policy
	escapePending := false        // stateless policy
	symlinkCount := 0
	maxDepth := maxSymlinkDepth
	if opts.NoSymlinks {
		// The symlink budget is 40 when symlinks are allowed, 0 otherwise:
		// any symlink that's actually encountered still goes through the
		// same probe-and-audit path below, it just always loses the budget
		// check and fails with ELOOP.
		maxDepth = 0
	}

	toRoot := func() *ownedFile {
		return &ownedFile{File: root, closer: fd.NopCloser(root)}
	}

	// popParent implements the remember-parents ".." dispatch: pop one
	// descriptor from the parent stack and make it the cursor, or fall back
	// to the root descriptor if the stack is already empty. flags is the
	// dequeued ".." item's own flags; per spec, it is only ever something
	// other than dirOpenFlags when this is the final work item, in which
	// case the popped parent must be reopened via "." with those flags
	// rather than handed back as-is.
	popParent := func(flags int) error {
		_ = cur.Close()
		if n := len(parents); n > 0 {
			parent := parents[n-1]
			parents = parents[:n-1]
			if flags == dirOpenFlags {
				cur = parent
				return nil
			}
			next, err := openatFile(parent.File, ".", flags, mode)
			_ = parent.Close()
			if err != nil {
				return fmt.Errorf("resolve %q: %w", unsafePath, err)
			}
			cur = &ownedFile{File: next, closer: next}
			return nil
		}
		cur = toRoot()
		return nil
	}

	resetToRoot := func() {
		for _, p := range parents {
			_ = p.Close()
		}
		parents = nil
		_ = cur.Close()
		cur = toRoot()
		escapePending = false
	}

	for len(queue) > 0 {
		part := queue[0]
		queue = queue[1:]

		if opts.AuditFunc != nil {
			if err := opts.AuditFunc("before", cur.File, part.name); err != nil {
				return nil, err
			}
		}

		switch part.name {
		case "":
			continue
		case ".":
			// Nothing to do unless this is the final component and the
			// caller asked for something other than a plain directory
			// lookup on it.
			if cur.File != root && part.flags != dirOpenFlags {
				next, err := openatFile(cur.File, ".", part.flags, mode)
				if err != nil {
					return nil, fmt.Errorf("resolve %q: %w", unsafePath, err)
				}
				_ = cur.Close()
				cur = &ownedFile{File: next, closer: next}
			}
			continue
		case "/":
			resetToRoot()
			continue
		case "..":
			if opts.RememberParents {
				if err := popParent(part.flags); err != nil {
					return nil, err
				}
			} else {
				curStat, err := fd.Fstat(cur.File)
				if err != nil {
					return nil, fmt.Errorf("resolve %q: %w", unsafePath, err)
				}
				if cur.File == root || fd.SameFile(curStat, rootStat) {
					// Already at (the identity of) root: ".." is clamped
					// here rather than actually walked, exactly like
					// openat2(RESOLVE_IN_ROOT) would -- we must never give
					// the real ".." lookup a chance to step above root.
					_ = cur.Close()
					cur = toRoot()
					escapePending = false
				} else {
					parent, err := openatFile(cur.File, "..", part.flags, mode)
					if err != nil {
						return nil, fmt.Errorf("resolve %q: %w", unsafePath, err)
					}
					_ = cur.Close()
					cur = &ownedFile{File: parent, closer: parent}
					escapePending = true
				}
			}
			continue
		}

		// Ordinary name.
		if escapePending {
			// Run the verifier on the cursor *before* touching the
			// filesystem for this component: if we've already escaped, we
			// must not let whether the named file happens to exist at the
			// escaped location leak into the error the caller sees.
			if err := checkBeneath(cur.File, rootStat, unsafePath); err != nil {
				return nil, err
			}
			escapePending = false
		}

		openFlags := part.flags | unix.O_NOFOLLOW | unix.O_CLOEXEC
		next, err := openatFile(cur.File, part.name, openFlags, mode)
		if err == nil && part.flags&unix.O_PATH != 0 && part.flags&(unix.O_NOFOLLOW|unix.O_DIRECTORY) == 0 {
			// O_PATH|O_NOFOLLOW hands back a symlink itself instead of
			// failing, so check for that and probe it like any other
			// possible symlink.
			st, serr := fd.Fstat(next)
			if serr != nil {
				_ = next.Close()
				return nil, fmt.Errorf("resolve %q: %w", unsafePath, serr)
			}
			if st.Mode&unix.S_IFMT == unix.S_IFLNK {
				_ = next.Close()
				next, err = nil, unix.ELOOP
			}
		}
		if err != nil {
			if !isPossibleSymlink(err) {
				return nil, fmt.Errorf("resolve %q: %w", unsafePath, err)
			}
			// Probe: was this actually a symlink?
			target, rerr := readlinkatFile(cur.File, part.name)
			if rerr != nil {
				if errors.Is(rerr, unix.EINVAL) {
					if errors.Is(err, unix.ENOTDIR) {
						// All we knew was that it wasn't a directory, so
						// it's probably another file type: re-raise the
						// original error.
						return nil, fmt.Errorf("resolve %q: %w", unsafePath, err)
					}
					// The OS told us it was (possibly) a symlink; now it's
					// telling us it isn't. That's a race, not a bug.
					return nil, fmt.Errorf("resolve %q: %w: %w", unsafePath, ErrPossibleAttack, unix.EAGAIN)
				}
				return nil, fmt.Errorf("resolve %q: %w", unsafePath, rerr)
			}

			if opts.AuditFunc != nil {
				if err := opts.AuditFunc("symlink", cur.File, target); err != nil {
					return nil, err
				}
			}

			symlinkCount++
			if symlinkCount > maxDepth || part.flags&unix.O_NOFOLLOW != 0 {
				return nil, fmt.Errorf("resolve %q: %w", unsafePath, unix.ELOOP)
			}

			if len(target) > 0 && target[0] == '/' {
				resetToRoot()
				target = target[1:]
				if target == "" {
					// A link to "/" itself resolves to root.
					target = "."
				}
			}
			queue, err = prependParts(queue, target, part.flags, unsafePath)
			if err != nil {
				return nil, err
			}
			continue
		}

		// Successfully opened a real (non-symlink) component.
		if opts.RememberParents && cur.File != root {
			parents = append(parents, cur)
		} else {
			_ = cur.Close()
		}
		cur = &ownedFile{File: next, closer: next}
	}

	if escapePending {
		if err := checkBeneath(cur.File, rootStat, unsafePath); err != nil {
			return nil, err
		}
	}

	for _, p := range parents {
		_ = p.Close()
	}

	if cur.File == root {
		// The walk never left the root (e.g. unsafePath was "." or "/"):
		// reopen "." with the caller's original flags rather than
		// handing back root itself, since the caller must be able to close
		// what we return without affecting root, and must get back a
		// descriptor honoring the flags/mode they actually asked for.
		return openatFile(root, ".", flags, mode)
	}
	return cur.File, nil
}

// ownedFile pairs a live *os.File with the Closer that actually owns it --
// either the file itself, or fd.NopCloser(root) when this alias refers to
// the borrowed root descriptor that the caller of Open/OpenRoot must not
// have closed out from under them.
type ownedFile struct {
	*os.File
	closer fd.Closer
}

func (o *ownedFile) Close() error {
	return o.closer.Close()
}
