//go:build linux

// Copyright (C) 2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/beneathfs/beneath/internal/fd"
)

// checkBeneath proves that cur is still located somewhere inside the
// subtree rooted at a descriptor with identity rootStat, by walking upward
// through ".." until either the walk reaches a directory with the same
// (dev, ino) as the root (CONTAINED) or the walk reaches the real
// filesystem root without ever finding it (ESCAPED). It never closes cur
// itself -- the caller retains ownership of it -- but any intermediate
// descriptors opened along the way are always closed before returning.
func checkBeneath(cur *os.File, rootStat unix.Stat_t, origPath string) error {
	walker := cur
	defer func() {
		if walker != cur {
			_ = walker.Close()
		}
	}()

	for {
		walkerStat, err := fd.Fstat(walker)
		if err != nil {
			return fmt.Errorf("check containment of %q: %w", origPath, err)
		}
		if fd.SameFile(walkerStat, rootStat) {
			return nil
		}

		parent, err := openatFile(walker, "..", dirOpenFlags, 0)
		if err != nil {
			return fmt.Errorf("check containment of %q: open parent: %w", origPath, err)
		}
		parentStat, err := fd.Fstat(parent)
		if err != nil {
			_ = parent.Close()
			return fmt.Errorf("check containment of %q: %w", origPath, err)
		}
		if fd.SameFile(parentStat, walkerStat) {
			// ".." of walker is walker itself: we have reached the real
			// filesystem root without ever finding rootStat along the way.
			_ = parent.Close()
			return fmt.Errorf("%w: %q walked outside of the confinement root: %w", ErrCrossDevice, origPath, unix.EXDEV)
		}

		if walker != cur {
			_ = walker.Close()
		}
		walker = parent
	}
}
