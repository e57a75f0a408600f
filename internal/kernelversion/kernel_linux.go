// SPDX-License-Identifier: BSD-3-Clause

//go:build linux

// Package kernelversion provides a minimal uname-based kernel version
// comparison, used to gate use of the openat2(2) fast path and the new
// mount API (fsopen/fsmount/open_tree) behind the kernel versions that
// actually implement them.
package kernelversion

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// KernelVersion is a parsed dotted version number, e.g. {5, 15, 0} for
// "5.15.0-generic".
type KernelVersion []int

var errInvalidKernelVersion = errors.New("invalid kernel version")

// parseKernelVersion parses the leading dotted-numeric prefix of a
// `uname -r`-style string, stopping at the first non-numeric suffix (e.g.
// "-generic", "-default"). At least two numeric components are required.
func parseKernelVersion(kver string) (KernelVersion, error) {
	fields := strings.Split(kver, ".")
	if len(fields) < 2 {
		return nil, errInvalidKernelVersion
	}

	var version KernelVersion
	for _, field := range fields {
		// Strip any non-numeric suffix from this component (e.g. "16foobar"
		// or "0-1-default" after splitting on '.').
		end := 0
		for end < len(field) && field[end] >= '0' && field[end] <= '9' {
			end++
		}
		if end == 0 {
			return nil, errInvalidKernelVersion
		}
		num, err := strconv.Atoi(field[:end])
		if err != nil {
			return nil, errInvalidKernelVersion
		}
		version = append(version, num)
		if end != len(field) {
			// A non-numeric suffix terminates the dotted version (it may
			// itself contain dots, e.g. "6.12.0-1-default").
			break
		}
	}
	if len(version) < 2 {
		return nil, errInvalidKernelVersion
	}
	return version, nil
}

func getKernelVersion() (KernelVersion, error) {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return nil, err
	}
	release := uname.Release[:bytes.IndexByte(uname.Release[:], 0)]
	return parseKernelVersion(string(release))
}

// GreaterEqualThan returns whether the running kernel's version is greater
// than or equal to want. Missing trailing components in either version are
// treated as zero.
func GreaterEqualThan(want KernelVersion) (bool, error) {
	host, err := getKernelVersion()
	if err != nil {
		return false, err
	}
	for i := 0; i < len(want) || i < len(host); i++ {
		var w, h int
		if i < len(want) {
			w = want[i]
		}
		if i < len(host) {
			h = host[i]
		}
		if h != w {
			return h > w, nil
		}
	}
	return true, nil
}
