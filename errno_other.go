//go:build !linux

// Copyright (C) 2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import "golang.org/x/sys/unix"

// eftype is a stand-in for platforms where this package's resolver isn't
// implemented at all; see errors.go. unix.Errno(0) never matches a real
// error via errors.Is, so this is a safe always-false probe.
const eftype = unix.Errno(0)
