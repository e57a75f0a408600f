// SPDX-License-Identifier: MPL-2.0

// Package assert provides a minimal panic-on-violated-invariant helper, used
// sparingly in places where a violation would mean a logic bug in this
// module rather than a normal runtime error (which should always be
// returned, never panicked).
package assert

import "fmt"

// Assert panics with msg if cond is false.
func Assert(cond bool, msg any) {
	if !cond {
		panic(msg)
	}
}

// Assertf panics with a formatted message if cond is false.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
