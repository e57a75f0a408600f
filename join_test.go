// Copyright (C) 2017-2024 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func symlink(t *testing.T, oldname, newname string) {
	err := os.Symlink(oldname, newname)
	require.NoError(t, err)
}

type joinInput struct {
	root, unsafe string
	expected     string
}

func TestJoinSymlink(t *testing.T) {
	dir := t.TempDir()
	dir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	symlink(t, "somepath", filepath.Join(dir, "etc"))
	symlink(t, "../../../../../../../../../../../../../etc", filepath.Join(dir, "etclink"))
	symlink(t, "/../../../../../../../../../../../../../etc/passwd", filepath.Join(dir, "passwd"))

	for _, test := range []joinInput{
		{dir, "passwd", filepath.Join(dir, "somepath", "passwd")},
		{dir, "etclink", filepath.Join(dir, "somepath")},
		{dir, "etc", filepath.Join(dir, "somepath")},
		{dir, "etc/test", filepath.Join(dir, "somepath", "test")},
		{dir, "etc/test/..", filepath.Join(dir, "somepath")},
	} {
		got, err := Join(test.root, test.unsafe)
		if assert.NoErrorf(t, err, "Join(%q, %q)", test.root, test.unsafe) {
			assert.Equalf(t, test.expected, got, "Join(%q, %q)", test.root, test.unsafe)
		}
	}
}

// In a path without symlinks, Join is equivalent to Clean+Join.
func TestJoinNoSymlink(t *testing.T) {
	dir := t.TempDir()
	dir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	for _, test := range []joinInput{
		{dir, "somepath", filepath.Join(dir, "somepath")},
		{dir, "even/more/path", filepath.Join(dir, "even", "more", "path")},
		{dir, "/this/is/a/path", filepath.Join(dir, "this", "is", "a", "path")},
		{dir, "also/a/../path/././/with/some/./.././junk", filepath.Join(dir, "also", "path", "with", "junk")},
		{dir, "../../../../../../../../../../../../../../../../somedir", filepath.Join(dir, "somedir")},
		{dir, "../../../../../../../../../../../../../../../../", filepath.Join(dir)},
	} {
		got, err := Join(test.root, test.unsafe)
		if assert.NoErrorf(t, err, "Join(%q, %q)", test.root, test.unsafe) {
			assert.Equalf(t, test.expected, got, "Join(%q, %q)", test.root, test.unsafe)
		}
	}
}

// Make sure that .. is **not** expanded lexically across symlinks.
func TestJoinNonLexical(t *testing.T) {
	dir := t.TempDir()
	dir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "subdir"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cousinparent", "cousin"), 0o755))
	symlink(t, "../cousinparent/cousin", filepath.Join(dir, "subdir", "link"))

	for _, test := range []joinInput{
		{dir, "subdir", filepath.Join(dir, "subdir")},
		{dir, "subdir/link/test", filepath.Join(dir, "cousinparent", "cousin", "test")},
		{dir, "subdir/../test", filepath.Join(dir, "test")},
		// This is the divergence from a simple filepath.Clean implementation.
		{dir, "subdir/link/../test", filepath.Join(dir, "cousinparent", "test")},
	} {
		got, err := Join(test.root, test.unsafe)
		if assert.NoErrorf(t, err, "Join(%q, %q)", test.root, test.unsafe) {
			assert.Equalf(t, test.expected, got, "Join(%q, %q)", test.root, test.unsafe)
		}
	}
}

// Make sure that symlink loops result in errors.
func TestJoinSymlinkLoop(t *testing.T) {
	dir := t.TempDir()
	dir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "subdir"), 0o755))
	symlink(t, "../../../../../../../../../../../../../../../../path", filepath.Join(dir, "subdir", "link"))
	symlink(t, "/subdir/link", filepath.Join(dir, "path"))

	for _, test := range []struct {
		root, unsafe string
	}{
		{dir, "subdir/link"},
		{dir, "path"},
		{dir, "../../path"},
	} {
		_, err := Join(test.root, test.unsafe)
		assert.ErrorIsf(t, err, ErrSymlinkLoop, "Join(%q, %q)", test.root, test.unsafe)
	}
}

// Make sure that ENOTDIR is correctly handled.
func TestJoinEnotdir(t *testing.T) {
	dir := t.TempDir()
	dir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "subdir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notdir"), []byte("I am not a directory!"), 0o755))
	symlink(t, "/../../../notdir/somechild", filepath.Join(dir, "subdir", "link"))

	for _, test := range []joinInput{
		{dir, "subdir/link", filepath.Join(dir, "notdir/somechild")},
		{dir, "notdir", filepath.Join(dir, "notdir")},
		{dir, "notdir/child", filepath.Join(dir, "notdir/child")},
	} {
		got, err := Join(test.root, test.unsafe)
		if assert.NoErrorf(t, err, "Join(%q, %q)", test.root, test.unsafe) {
			assert.Equalf(t, test.expected, got, "Join(%q, %q)", test.root, test.unsafe)
		}
	}
}

func TestJoinUnsafeRoot(t *testing.T) {
	_, err := Join("/a/../b", "c")
	assert.ErrorIs(t, err, errUnsafeRoot)
}

func TestIsNotExist(t *testing.T) {
	for _, test := range []struct {
		err      error
		expected bool
	}{
		{&os.PathError{Op: "test1", Err: syscall.ENOENT}, true},
		{&os.LinkError{Op: "test1", Err: syscall.ENOENT}, true},
		{&os.PathError{Op: "test2", Err: syscall.ENOTDIR}, true},
		{&os.PathError{Op: "test3", Err: syscall.EACCES}, false},
		{syscall.EACCES, false},
	} {
		got := IsNotExist(test.err)
		assert.Equalf(t, test.expected, got, "IsNotExist(%#v)", test.err)
	}
}
