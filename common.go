// Copyright (C) 2014-2015 Docker Inc & Go Authors. All rights reserved.
// Copyright (C) 2017-2025 SUSE LLC. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beneath

import (
	"errors"
	"path/filepath"
	"strings"
)

// errUnsafeRoot is returned if the user provides Join with a root that
// contains ".." components.
var errUnsafeRoot = errors.New("beneath: root path contains '..' components")

// hasDotDot checks if the path contains ".." components in a
// platform-agnostic way.
func hasDotDot(path string) bool {
	path = stripVolume(path)
	path = filepath.ToSlash(path)
	return strings.Contains("/"+path+"/", "/../")
}

// stripVolume strips any Windows volume prefix from path; a no-op on Linux.
func stripVolume(path string) string {
	return path[len(filepath.VolumeName(path)):]
}
