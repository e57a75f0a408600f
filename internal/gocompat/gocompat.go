// SPDX-License-Identifier: BSD-3-Clause

// Package gocompat centralizes the handful of stdlib helpers this module
// leans on for one-time feature probing (openat2 support, new-mount-API
// support, procfs features) so the probing sites don't each re-implement
// memoization.
package gocompat

import "sync"

// SyncOnceValue is sync.OnceValue, named explicitly so call sites read as
// "memoize this probe" rather than bare sync.Once boilerplate.
func SyncOnceValue[T any](f func() T) func() T {
	return sync.OnceValue(f)
}
