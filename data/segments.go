package data

import (
	"runtime"
	"strings"
)

// Segments is the canonical path representation used at the filesystem
// engine boundary: an ordered list of root-relative path components.
// After normalization a Segments value never contains empty, "." or ".."
// components.
type Segments []string

// FoldCase reports whether path components are compared case-insensitively
// on this host. Windows and macOS filesystems are case-insensitive, all
// other systems compare strictly.
//
// Portability caveat: deployments sharing one virtual-folder table across
// OS families will observe different matches for the same configuration.
var FoldCase = runtime.GOOS == "windows" || runtime.GOOS == "darwin"

// SplitPath splits a raw path into components.
//
// When windows is true both separator conventions are accepted and a drive
// marker like "c:" is reduced to its letter. On POSIX only "/" separates
// components, since "\" is a valid character inside a file name.
func SplitPath(path string, windows bool) Segments {
	var parts []string
	if windows {
		parts = strings.FieldsFunc(path, func(r rune) bool {
			return r == '/' || r == '\\'
		})
	} else {
		parts = strings.Split(path, "/")
	}

	segments := make(Segments, 0, len(parts))
	for i, part := range parts {
		if i == 0 {
			part = strings.Trim(part, ":")
		}
		if part == "" {
			continue
		}
		segments = append(segments, part)
	}
	return segments
}

// Normalize resolves "." and ".." components.
//
// Parent references that would climb above the root are clamped at the
// root instead of failing. This matches the behavior the original file
// transfer service shipped with and is relied upon by existing path
// tables; see the clamping tests before changing it.
func (s Segments) Normalize() Segments {
	result := make(Segments, 0, len(s))
	for _, segment := range s {
		switch segment {
		case "", ".":
			continue
		case "..":
			if len(result) > 0 {
				result = result[:len(result)-1]
			}
		default:
			result = append(result, segment)
		}
	}
	return result
}

// ParseSegments converts a textual path into normalized segments.
//
// Empty input and "." resolve to the home segments. Relative input is
// resolved against home. The windows flag selects the separator
// conventions accepted by SplitPath.
func ParseSegments(path string, home Segments, windows bool) Segments {
	if path == "" || path == "." {
		return append(Segments{}, home...)
	}

	relative := !strings.HasPrefix(path, "/")
	if windows && strings.HasPrefix(path, "\\") {
		// Both separator conventions are absolute on Windows.
		relative = false
	}
	if windows && len(path) >= 2 && path[1] == ':' {
		// Drive-qualified paths like "c:\temp" are absolute.
		relative = false
	}

	segments := SplitPath(path, windows)
	if relative {
		segments = append(append(Segments{}, home...), segments...)
	}
	return segments.Normalize()
}

// RenderPath returns the canonical display form of segments: "/" joined
// components with a leading "/", regardless of the host separator. The
// root renders as "/".
func RenderPath(segments Segments) string {
	segments = segments.Normalize()
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

// EqualSegments reports whether two segment lists name the same path,
// folding case when fold is true.
func EqualSegments(first, second Segments, fold bool) bool {
	if len(first) != len(second) {
		return false
	}
	for i := range first {
		if first[i] == second[i] {
			continue
		}
		if !fold || !strings.EqualFold(first[i], second[i]) {
			return false
		}
	}
	return true
}

// HasSegmentsPrefix reports whether prefix is an ancestor of (or equal to)
// segments.
func HasSegmentsPrefix(segments, prefix Segments, fold bool) bool {
	if len(prefix) > len(segments) {
		return false
	}
	return EqualSegments(segments[:len(prefix)], prefix, fold)
}
