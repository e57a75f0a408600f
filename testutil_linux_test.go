//go:build linux

// Copyright (C) 2024-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func requireRoot(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("test requires root")
	}
}

// withWithoutOpenat2 runs testFn once per openat2-availability setting so
// that both the kernel fast path and the userspace walker get exercised by
// the same test body. When doAuto is set, an extra subtest lets hasOpenat2
// probe the real kernel instead of being forced.
func withWithoutOpenat2(t *testing.T, doAuto bool, testFn func(t *testing.T)) {
	if doAuto {
		t.Run("openat2=auto", testFn)
	}
	for _, useOpenat2 := range []bool{true, false} {
		useOpenat2 := useOpenat2
		t.Run(fmt.Sprintf("openat2=%v", useOpenat2), func(t *testing.T) {
			if useOpenat2 && !hasOpenat2() {
				t.Skip("no openat2 support")
			}
			origHasOpenat2 := hasOpenat2
			hasOpenat2 = func() bool { return useOpenat2 }
			defer func() { hasOpenat2 = origHasOpenat2 }()

			testFn(t)
		})
	}
}

// createInTree materializes a single tree entry, of the form:
//
//	dir <name> <?uid:gid:mode>
//	file <name> <?content>
//	symlink <name> <target>
func createInTree(t *testing.T, root, spec string) {
	f := strings.Fields(spec)
	require.GreaterOrEqualf(t, len(f), 2, "invalid spec %q", spec)
	inoType, subPath, f := f[0], f[1], f[2:]
	fullPath := filepath.Join(root, subPath)

	var setOwnerMode *string
	switch inoType {
	case "dir":
		if len(f) >= 1 {
			setOwnerMode = &f[0]
		}
		require.NoError(t, os.MkdirAll(fullPath, 0o755))
	case "file":
		var contents []byte
		if len(f) >= 1 {
			contents = []byte(f[0])
		}
		require.NoError(t, os.WriteFile(fullPath, contents, 0o644))
	case "symlink":
		require.GreaterOrEqualf(t, len(f), 1, "invalid spec %q", spec)
		require.NoError(t, os.Symlink(f[0], fullPath))
	default:
		t.Fatalf("unknown tree entry type %q in spec %q", inoType, spec)
	}

	if setOwnerMode != nil {
		fields := strings.Split(*setOwnerMode, ":")
		require.Lenf(t, fields, 3, "set owner-mode format uid:gid:mode")
		uidStr, gidStr, modeStr := fields[0], fields[1], fields[2]

		if uidStr != "" && gidStr != "" {
			uid, err := strconv.Atoi(uidStr)
			require.NoErrorf(t, err, "chown %s: parse uid", fullPath)
			gid, err := strconv.Atoi(gidStr)
			require.NoErrorf(t, err, "chown %s: parse gid", fullPath)
			require.NoErrorf(t, unix.Chown(fullPath, uid, gid), "chown %s", fullPath)
		}
		if modeStr != "" {
			mode, err := strconv.ParseUint(modeStr, 8, 32)
			require.NoErrorf(t, err, "chmod %s: parse mode", fullPath)
			require.NoErrorf(t, unix.Chmod(fullPath, uint32(mode)), "chmod %s", fullPath)
		}
	}
}

func createTree(t *testing.T, specs ...string) string {
	root := t.TempDir()

	// Put the actual tree in a subdirectory so tests can freely remove
	// components of it without disturbing t.TempDir()'s own bookkeeping.
	treeRoot := filepath.Join(root, "tree")
	require.NoError(t, os.MkdirAll(treeRoot, 0o755))

	for _, spec := range specs {
		createInTree(t, treeRoot, spec)
	}
	return treeRoot
}
