package oscompat

import (
	"fmt"
	"strings"

	"github.com/chevah/oscompat/data"
)

// NT path rendering and parsing. These helpers are pure string
// manipulation kept free of build tags so the translation rules are
// testable on any development host.

const (
	ntSeparator  = `\`
	ntLongPrefix = `\\?\`
	// ntLongPathThreshold is where Win32 APIs start failing without the
	// extended-length prefix.
	ntLongPathThreshold = 248
)

// ntUnlockedPath renders segments as a native Windows path for an
// unrestricted avatar. The first segment selects the drive, or names a
// UNC share when it is "UNC".
func ntUnlockedPath(segments data.Segments) (string, error) {
	segments = segments.Normalize()
	if len(segments) == 0 {
		// The virtual computer root maps to the system drive.
		return `c:\`, nil
	}

	first := segments[0]
	var path string
	switch {
	case strings.EqualFold(first, "UNC"):
		if len(segments) < 3 {
			return "", fmt.Errorf(
				"%w: UNC path needs a server and a share", data.ErrNotFound)
		}
		path = `\\` + strings.Join(segments[1:], ntSeparator)
	case isDriveLetter(first):
		path = first + `:`
		if len(segments) == 1 {
			path += ntSeparator
		} else {
			path += ntSeparator + strings.Join(segments[1:], ntSeparator)
		}
	default:
		return "", fmt.Errorf("%w: invalid drive %q", data.ErrNotFound, first)
	}
	return ntLongPath(path), nil
}

// ntLockedPath renders segments under the native root path of a confined
// avatar.
func ntLockedPath(root string, segments data.Segments) string {
	segments = segments.Normalize()
	root = strings.TrimRight(root, `\/`)
	if len(segments) == 0 {
		return ntLongPath(root + ntSeparator)
	}
	return ntLongPath(root + ntSeparator + strings.Join(segments, ntSeparator))
}

// ntSegmentsFromPath parses a native Windows path into segments, with the
// drive letter or "UNC" marker as the first segment.
func ntSegmentsFromPath(path string) (data.Segments, error) {
	trimmed := path
	for _, prefix := range []string{ntLongPrefix, `\\.\`} {
		if strings.HasPrefix(trimmed, prefix) {
			trimmed = trimmed[len(prefix):]
			break
		}
	}

	// The extended-length form spells UNC paths as \\?\UNC\server\share.
	if strings.HasPrefix(trimmed, `UNC\`) && trimmed != path {
		return data.SplitPath(trimmed, true).Normalize(), nil
	}
	if strings.HasPrefix(trimmed, `\\`) {
		segments := data.SplitPath(trimmed, true).Normalize()
		if len(segments) < 2 {
			return nil, fmt.Errorf(
				"%w: UNC path %q has no share", data.ErrNotFound, path)
		}
		return append(data.Segments{"UNC"}, segments...), nil
	}

	if len(trimmed) < 2 || trimmed[1] != ':' || !isDriveLetter(trimmed[:1]) {
		return nil, fmt.Errorf(
			"%w: path %q is not absolute", data.ErrPathOutsideRoot, path)
	}
	return data.SplitPath(trimmed, true).Normalize(), nil
}

// ntLongPath adds the extended-length prefix to paths long enough to
// break plain Win32 calls. UNC paths get the \\?\UNC\ spelling.
func ntLongPath(path string) string {
	if len(path) < ntLongPathThreshold || strings.HasPrefix(path, ntLongPrefix) {
		return path
	}
	if strings.HasPrefix(path, `\\`) {
		return ntLongPrefix + `UNC` + path[1:]
	}
	return ntLongPrefix + path
}

func isDriveLetter(s string) bool {
	if len(s) != 1 {
		return false
	}
	c := s[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
