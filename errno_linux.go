//go:build linux

// Copyright (C) 2024 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import "golang.org/x/sys/unix"

// eftype is BSD/Darwin's EFTYPE, which has no equivalent errno on Linux.
// unix.Errno(0) never matches a real error via errors.Is (syscalls never
// return a zero errno as a failure), so this is a safe always-false probe.
const eftype = unix.Errno(0)
