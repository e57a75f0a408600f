//go:build linux

// Copyright (C) 2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beneathfs/beneath/internal/fd"
)

func TestCheckBeneathContained(t *testing.T) {
	dir := createTree(t, "dir a/b/c")

	root := openRootDir(t, dir)
	rootStat, err := fd.Fstat(root)
	require.NoError(t, err)

	cur := openRootDir(t, filepath.Join(dir, "a/b/c"))
	assert.NoError(t, checkBeneath(cur, rootStat, "a/b/c"))
}

func TestCheckBeneathEscaped(t *testing.T) {
	dir := createTree(t, "dir a")

	// Use a subdirectory of the tree as the "root" so that its real parent
	// (the tree itself) is reachable by walking upward, proving escape.
	root := openRootDir(t, filepath.Join(dir, "a"))
	rootStat, err := fd.Fstat(root)
	require.NoError(t, err)

	cur := openRootDir(t, dir)
	err = checkBeneath(cur, rootStat, "..")
	assert.ErrorIs(t, err, ErrCrossDevice)
}
