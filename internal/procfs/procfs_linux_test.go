//go:build linux

// Copyright (C) 2024-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procfs

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func testVerifyProcRoot(t *testing.T, procRoot string, expectedErr error, errString string) {
	fakeProcRoot, err := os.OpenFile(procRoot, unix.O_PATH|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	defer fakeProcRoot.Close() //nolint:errcheck

	err = verifyProcRoot(fakeProcRoot)
	assert.ErrorIsf(t, err, expectedErr, "verifyProcRoot(%s)", procRoot)
	if expectedErr != nil {
		assert.ErrorContainsf(t, err, errString, "verifyProcRoot(%s)", procRoot)
	}
}

func TestVerifyProcRoot_Regular(t *testing.T) {
	testVerifyProcRoot(t, "/proc", nil, "")
}

func TestVerifyProcRoot_ProcNonRoot(t *testing.T) {
	testVerifyProcRoot(t, "/proc/self", errUnsafeProcfs, "incorrect procfs root inode number")
	testVerifyProcRoot(t, "/proc/mounts", errUnsafeProcfs, "incorrect procfs root inode number")
}

func TestVerifyProcRoot_NotProc(t *testing.T) {
	testVerifyProcRoot(t, "/", errUnsafeProcfs, "incorrect procfs root filesystem type")
	testVerifyProcRoot(t, t.TempDir(), errUnsafeProcfs, "incorrect procfs root filesystem type")
}

func TestOpenProcRoot(t *testing.T) {
	proc, err := OpenProcRoot()
	require.NoError(t, err)
	defer proc.Close() //nolint:errcheck

	self, err := proc.OpenSelf("status")
	require.NoError(t, err)
	defer self.Close() //nolint:errcheck
}

func TestProcSelfFdReadlink(t *testing.T) {
	dir := t.TempDir()
	handle, err := os.Open(dir)
	require.NoError(t, err)
	defer handle.Close() //nolint:errcheck

	link, err := ProcSelfFdReadlink(handle)
	require.NoError(t, err)
	assert.Equal(t, dir, link)
}

func TestCheckProcSelfFdPath(t *testing.T) {
	root := t.TempDir()

	filePath := path.Join(root, "file")
	require.NoError(t, unix.Mknod(filePath, unix.S_IFREG|0o644, 0))

	symPath := path.Join(root, "sym")
	require.NoError(t, unix.Symlink(filePath, symPath))

	handle, err := os.Open(symPath)
	require.NoError(t, err)
	defer handle.Close() //nolint:errcheck

	// checkProcSelfFdPath must fail when given the symlink path, since the
	// handle actually refers to the target.
	err = checkProcSelfFdPath(symPath, handle)
	assert.ErrorIs(t, err, errPossibleBreakout)

	err = checkProcSelfFdPath(filePath, handle)
	assert.NoError(t, err)
}

func TestCheckProcSelfFdPath_DeadFile(t *testing.T) {
	root := t.TempDir()
	fullPath := path.Join(root, "file")

	handle, err := os.Create(fullPath)
	require.NoError(t, err)
	defer handle.Close() //nolint:errcheck

	require.NoError(t, checkProcSelfFdPath(fullPath, handle))

	require.NoError(t, os.Remove(fullPath))

	err = checkProcSelfFdPath(fullPath, handle)
	assert.ErrorIs(t, err, errDeletedInode)
}

func TestCheckProcSelfFdPath_DeadDir(t *testing.T) {
	root := t.TempDir()
	fullPath := path.Join(root, "dir")
	require.NoError(t, os.Mkdir(fullPath, 0o755))

	handle, err := os.OpenFile(fullPath, unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	defer handle.Close() //nolint:errcheck

	require.NoError(t, checkProcSelfFdPath(fullPath, handle))

	require.NoError(t, os.Remove(fullPath))

	err = checkProcSelfFdPath(fullPath, handle)
	assert.ErrorIs(t, err, errInvalidDirectory)
}

func TestProcfsDummyHooks(t *testing.T) {
	assert.False(t, hookDummy(), "hookDummy should always return false")
	assert.False(t, hookDummyFile(nil), "hookDummyFile should always return false")
}
