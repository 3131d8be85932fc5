// Package testutil holds small fixture helpers shared by the engine
// tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

// UniqueName returns a name no concurrent test run can collide on.
func UniqueName(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// WriteFile creates a file with content inside dir and returns its path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", path, err)
	}
	return path
}

// MakeFolder creates a folder inside dir and returns its path.
func MakeFolder(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("failed to create fixture folder %s: %v", path, err)
	}
	return path
}
