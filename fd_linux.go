//go:build linux

// Copyright (C) 2014-2015 Docker Inc & Go Authors. All rights reserved.
// Copyright (C) 2017-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"
)

// dirOpenFlags is the directory-open flag set from spec.md §3: the minimum
// permissions needed to use a descriptor as a lookup base. O_PATH gives us a
// "look but don't touch" handle that works even on files we have no read
// permission on (matching the "path-only" mode spec.md prefers); O_DIRECTORY
// ensures we never silently open a non-directory as a lookup base.
const dirOpenFlags = unix.O_PATH | unix.O_DIRECTORY | unix.O_CLOEXEC

func dupFile(f *os.File) (*os.File, error) {
	fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("fcntl(F_DUPFD_CLOEXEC)", err)
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}

// prepareAt returns the dirfd to use for an *at(2) syscall (-EBADF if dir is
// nil, which forces the kernel to reject any attempt to resolve relative to
// the current working directory) and an informational path string for error
// messages -- never use the returned path for an actual filesystem
// operation.
func prepareAt(dir *os.File, path string) (dirFd int, unsafeUnmaskedPath string) {
	dirFd, dirPath := -int(unix.EBADF), "."
	if dir != nil {
		dirFd, dirPath = int(dir.Fd()), dir.Name()
	}
	if !filepath.IsAbs(path) {
		path = dirPath + "/" + path
	}
	return dirFd, path
}

func openatFile(dir *os.File, path string, flags int, mode int) (*os.File, error) {
	dirFd, fullPath := prepareAt(dir, path)
	flags |= unix.O_CLOEXEC
	fd, err := unix.Openat(dirFd, path, flags, uint32(mode))
	if err != nil {
		return nil, &os.PathError{Op: "openat", Path: fullPath, Err: err}
	}
	runtime.KeepAlive(dir)
	return os.NewFile(uintptr(fd), filepath.Clean(fullPath)), nil
}

func fstatatFile(dir *os.File, path string, flags int) (unix.Stat_t, error) {
	dirFd, fullPath := prepareAt(dir, path)
	var stat unix.Stat_t
	if err := unix.Fstatat(dirFd, path, &stat, flags); err != nil {
		return stat, &os.PathError{Op: "fstatat", Path: fullPath, Err: err}
	}
	runtime.KeepAlive(dir)
	return stat, nil
}

func readlinkatFile(dir *os.File, path string) (string, error) {
	dirFd, fullPath := prepareAt(dir, path)
	size := 1024
	for {
		buf := make([]byte, size)
		n, err := unix.Readlinkat(dirFd, path, buf)
		if err != nil {
			return "", &os.PathError{Op: "readlinkat", Path: fullPath, Err: err}
		}
		runtime.KeepAlive(dir)
		if n != size {
			return string(buf[:n]), nil
		}
		size *= 2
	}
}
