//go:build !linux

// Copyright (C) 2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"os"

	"golang.org/x/sys/unix"
)

// dirOpenFlags is the flag set the platform-independent path splitter
// attaches to intermediate components; nothing on this platform opens a
// descriptor with it.
const dirOpenFlags = unix.O_DIRECTORY | unix.O_CLOEXEC

// Options controls how a single Open/OpenRoot call resolves its path. See
// the Linux implementation for the meaning of each field; none of them have
// any effect here since every operation simply fails with
// [ErrNotSupported].
type Options struct {
	NoSymlinks      bool
	RememberParents bool
	AuditFunc       AuditFunc
}

// AuditFunc is an optional per-component callback; see the Linux
// implementation for its semantics.
type AuditFunc func(stage string, cursor *os.File, name string) error

// OpenRoot always returns [ErrNotSupported] on this platform.
func OpenRoot(_ *os.File, _ string, _ int, _ int, _ *Options) (*os.File, error) {
	return nil, ErrNotSupported
}

// Open always returns [ErrNotSupported] on this platform.
func Open(_ string, _ string, _ int, _ int, _ *Options) (*os.File, error) {
	return nil, ErrNotSupported
}

// Reopen always returns [ErrNotSupported] on this platform.
func Reopen(_ *os.File, _ int) (*os.File, error) {
	return nil, ErrNotSupported
}

// RecoverPath always returns [ErrNotSupported] on this platform.
func RecoverPath(_ *os.File) (string, error) {
	return "", ErrNotSupported
}

// MkdirAllHandle always returns [ErrNotSupported] on this platform.
func MkdirAllHandle(_ *os.File, _ string, _ int) (*os.File, error) {
	return nil, ErrNotSupported
}

// MkdirAll always returns [ErrNotSupported] on this platform.
func MkdirAll(_ string, _ string, _ int) error {
	return ErrNotSupported
}
