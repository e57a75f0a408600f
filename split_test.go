// Copyright (C) 2017-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSplitPathBasic(t *testing.T) {
	got, err := splitPath("a/b/c", unix.O_RDWR, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, []pathPart{
		{name: "a", flags: dirOpenFlags},
		{name: "b", flags: dirOpenFlags},
		{name: "c", flags: unix.O_RDWR},
	}, got)
}

func TestSplitPathAbsolute(t *testing.T) {
	got, err := splitPath("/a/b", unix.O_RDWR, "/a/b")
	require.NoError(t, err)
	assert.Equal(t, []pathPart{
		{name: "/", flags: dirOpenFlags},
		{name: "a", flags: dirOpenFlags},
		{name: "b", flags: unix.O_RDWR},
	}, got)
}

func TestSplitPathRootOnly(t *testing.T) {
	got, err := splitPath("/", unix.O_RDWR, "/")
	require.NoError(t, err)
	assert.Equal(t, []pathPart{{name: "/", flags: unix.O_RDWR}}, got)
}

func TestSplitPathTrailingSlash(t *testing.T) {
	got, err := splitPath("a/b/", unix.O_RDWR, "a/b/")
	require.NoError(t, err)
	assert.Equal(t, []pathPart{
		{name: "a", flags: dirOpenFlags},
		{name: "b", flags: unix.O_RDWR | unix.O_DIRECTORY},
	}, got)
}

func TestSplitPathDotDotAndDot(t *testing.T) {
	got, err := splitPath("a/../b/./c", unix.O_RDWR, "a/../b/./c")
	require.NoError(t, err)
	assert.Equal(t, []pathPart{
		{name: "a", flags: dirOpenFlags},
		{name: "..", flags: dirOpenFlags},
		{name: "b", flags: dirOpenFlags},
		{name: ".", flags: dirOpenFlags},
		{name: "c", flags: unix.O_RDWR},
	}, got)
}

func TestSplitPathEmpty(t *testing.T) {
	_, err := splitPath("", unix.O_RDWR, "somepath")
	assert.ErrorIs(t, err, unix.ENOENT)
}

func TestPrependPartsRelative(t *testing.T) {
	queue := []pathPart{{name: "tail", flags: unix.O_RDWR}}
	got, err := prependParts(queue, "foo/bar", dirOpenFlags, "orig")
	require.NoError(t, err)
	assert.Equal(t, []pathPart{
		{name: "foo", flags: dirOpenFlags},
		{name: "bar", flags: dirOpenFlags},
		{name: "tail", flags: unix.O_RDWR},
	}, got)
}

func TestPrependPartsTrailingFlags(t *testing.T) {
	// When the symlink being expanded was the last component of the walk,
	// its own last part should carry the caller's requested flags.
	got, err := prependParts(nil, "foo/bar", unix.O_RDWR, "orig")
	require.NoError(t, err)
	assert.Equal(t, []pathPart{
		{name: "foo", flags: dirOpenFlags},
		{name: "bar", flags: unix.O_RDWR},
	}, got)
}
