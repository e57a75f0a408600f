//go:build linux

// Copyright (C) 2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"errors"
	"os"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/beneathfs/beneath/internal/gocompat"
)

// hasOpenat2 memoizes whether openat2(2) is available on this kernel.
// openat2 was added in Linux 5.6; older kernels return ENOSYS.
var hasOpenat2 = gocompat.SyncOnceValue(func() bool {
	fd, err := unix.Openat2(-int(unix.EBADF), ".", &unix.OpenHow{
		Flags: unix.O_PATH | unix.O_CLOEXEC,
	})
	if err != nil {
		return !errors.Is(err, unix.ENOSYS)
	}
	_ = unix.Close(fd)
	return true
})

// tryOpenBeneath attempts to resolve path relative to root entirely inside
// the kernel using openat2(RESOLVE_IN_ROOT). It returns (nil, false, nil)
// when the fast path declines to handle the request (unsupported kernel, or
// an audit callback was supplied, which openat2 cannot invoke mid-walk) so
// the caller should fall back to the userspace walker. A non-nil error
// together with ok == true means openat2 itself definitively answered the
// request (including with a failure).
func tryOpenBeneath(root *os.File, path string, flags int, mode int, noSymlinks bool, audit AuditFunc) (_ *os.File, ok bool, _ error) {
	if audit != nil {
		// openat2 cannot call back into userspace mid-resolution, so if the
		// caller wants to audit each component we must use the slow path.
		return nil, false, nil
	}
	if !hasOpenat2() {
		return nil, false, nil
	}

	resolveFlags := uint64(unix.RESOLVE_IN_ROOT | unix.RESOLVE_NO_MAGICLINKS)
	if noSymlinks {
		resolveFlags |= unix.RESOLVE_NO_SYMLINKS
	}

	how := unix.OpenHow{
		Flags:   uint64(flags) | unix.O_CLOEXEC,
		Mode:    uint64(mode),
		Resolve: resolveFlags,
	}

	for {
		fd, err := unix.Openat2(int(root.Fd()), path, &how)
		runtime.KeepAlive(root)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.E2BIG):
				// The kernel doesn't actually support openat2 (or a flag we
				// asked for), despite the earlier probe -- fall back.
				return nil, false, nil
			}
			return nil, true, &os.PathError{Op: "openat2", Path: root.Name() + "/" + path, Err: err}
		}
		return os.NewFile(uintptr(fd), root.Name()+"/"+path), true, nil
	}
}
