//go:build windows

package oscompat

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/chevah/oscompat/testutil"
)

func TestRenameMissingSourceKeepsDestination(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "dest.txt", "content")

	err := renameOS(
		filepath.Join(dir, "missing.txt"), filepath.Join(dir, "dest.txt"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("renaming a missing source must fail with not-exist, got %v", err)
	}
	// The failure is about the source, so the destination is never
	// deleted for a retry.
	if _, err := os.Lstat(filepath.Join(dir, "dest.txt")); err != nil {
		t.Fatalf("destination removed by a failed rename: %v", err)
	}
}

func TestRenameMissingSourceWithoutDestination(t *testing.T) {
	dir := t.TempDir()

	err := renameOS(
		filepath.Join(dir, "missing.txt"), filepath.Join(dir, "dest.txt"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("renaming a missing source must fail with not-exist, got %v", err)
	}
}
