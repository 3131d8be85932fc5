package oscompat

import (
	"errors"
	"strings"
	"testing"

	"github.com/chevah/oscompat/data"
)

func TestNTUnlockedPath(t *testing.T) {
	cases := []struct {
		name     string
		segments data.Segments
		want     string
	}{
		{"root maps to the system drive", data.Segments{}, `c:\`},
		{"bare drive", data.Segments{"c"}, `c:\`},
		{"drive path", data.Segments{"c", "temp", "a.txt"}, `c:\temp\a.txt`},
		{"unc share", data.Segments{"UNC", "server", "share", "x"},
			`\\server\share\x`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ntUnlockedPath(tc.segments)
			if err != nil {
				t.Fatalf("ntUnlockedPath(%v) failed: %v", tc.segments, err)
			}
			if got != tc.want {
				t.Fatalf("ntUnlockedPath(%v) = %q, want %q",
					tc.segments, got, tc.want)
			}
		})
	}
}

func TestNTUnlockedPathRejectsBadDrive(t *testing.T) {
	for _, segments := range []data.Segments{
		{"drive", "temp"},
		{"1", "temp"},
	} {
		if _, err := ntUnlockedPath(segments); err == nil {
			t.Errorf("invalid drive %v must be rejected", segments)
		}
	}
}

func TestNTSegmentsFromPath(t *testing.T) {
	cases := []struct {
		name string
		path string
		want data.Segments
	}{
		{"drive path", `c:\temp\a.txt`, data.Segments{"c", "temp", "a.txt"}},
		{"drive root", `c:\`, data.Segments{"c"}},
		{"long form", `\\?\c:\temp\a.txt`, data.Segments{"c", "temp", "a.txt"}},
		{"device form", `\\.\c:\temp`, data.Segments{"c", "temp"}},
		{"unc", `\\server\share\x`, data.Segments{"UNC", "server", "share", "x"}},
		{"long unc", `\\?\UNC\server\share\x`,
			data.Segments{"UNC", "server", "share", "x"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ntSegmentsFromPath(tc.path)
			if err != nil {
				t.Fatalf("ntSegmentsFromPath(%q) failed: %v", tc.path, err)
			}
			if !data.EqualSegments(got, tc.want, true) {
				t.Fatalf("ntSegmentsFromPath(%q) = %v, want %v",
					tc.path, got, tc.want)
			}
		})
	}
}

func TestNTSegmentsFromPathRejectsRelative(t *testing.T) {
	for _, path := range []string{`temp\a.txt`, `..\a`, ``} {
		if _, err := ntSegmentsFromPath(path); err == nil {
			t.Errorf("relative path %q must be rejected", path)
		} else if !errors.Is(err, data.ErrPathOutsideRoot) {
			t.Errorf("unexpected error for %q: %v", path, err)
		}
	}
}

func TestNTPathRoundTrip(t *testing.T) {
	segments := data.Segments{"c", "temp", "a.txt"}
	path, err := ntUnlockedPath(segments)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	back, err := ntSegmentsFromPath(path)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !data.EqualSegments(segments, back, true) {
		t.Fatalf("round trip changed %v into %v", segments, back)
	}
}

func TestNTLockedPath(t *testing.T) {
	root := `c:\srv\root`
	if got := ntLockedPath(root, data.Segments{"a", "b"}); got != `c:\srv\root\a\b` {
		t.Fatalf("unexpected locked path %q", got)
	}
	if got := ntLockedPath(root, data.Segments{}); got != `c:\srv\root\` {
		t.Fatalf("unexpected locked root %q", got)
	}
	// Parent references never escape the root.
	if got := ntLockedPath(root, data.Segments{"..", "..", "a"}); got != `c:\srv\root\a` {
		t.Fatalf("parent references must clamp, got %q", got)
	}
}

func TestNTLongPath(t *testing.T) {
	long := `c:\` + strings.Repeat(`folder\`, 40) + "file.txt"
	if len(long) < ntLongPathThreshold {
		t.Fatalf("fixture is too short to trigger the long form")
	}

	got := ntLongPath(long)
	if !strings.HasPrefix(got, `\\?\c:\`) {
		t.Fatalf("long path missing extended prefix: %q", got)
	}
	// Parsing strips the prefix again.
	segments, err := ntSegmentsFromPath(got)
	if err != nil {
		t.Fatalf("failed to parse long path: %v", err)
	}
	if segments[0] != "c" {
		t.Fatalf("unexpected first segment %q", segments[0])
	}

	short := `c:\temp\a.txt`
	if ntLongPath(short) != short {
		t.Fatalf("short paths are left alone")
	}
}
