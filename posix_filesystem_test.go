//go:build !windows

package oscompat

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/chevah/oscompat/data"
	"github.com/chevah/oscompat/testutil"
)

// newTestFilesystem returns an engine locked inside a fresh folder,
// running as the test process identity.
func newTestFilesystem(t *testing.T, opts ...AvatarOption) (LocalFilesystem, string) {
	t.Helper()
	home := t.TempDir()
	avatar, err := NewApplicationAvatar("service", home, opts...)
	if err != nil {
		t.Fatalf("failed to create avatar: %v", err)
	}
	fs, err := NewLocalFilesystem(avatar)
	if err != nil {
		t.Fatalf("failed to create filesystem: %v", err)
	}
	return fs, home
}

func segmentsOf(parts ...string) data.Segments {
	return data.Segments(parts)
}

func TestCreateFolderAndExists(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	docs := segmentsOf("docs")
	if fs.Exists(ctx, docs) {
		t.Fatalf("folder must not exist before creation")
	}
	if err := fs.CreateFolder(ctx, docs, false); err != nil {
		t.Fatalf("failed to create folder: %v", err)
	}
	if !fs.Exists(ctx, docs) || !fs.IsFolder(ctx, docs) {
		t.Fatalf("created folder not visible")
	}

	// The folder lands inside the locked root.
	if _, err := os.Stat(filepath.Join(home, "docs")); err != nil {
		t.Fatalf("folder missing on disk: %v", err)
	}

	err := fs.CreateFolder(ctx, docs, false)
	if !errors.Is(err, data.ErrAlreadyExists) {
		t.Fatalf("creating an existing folder must fail, got %v", err)
	}
}

func TestCreateFolderRecursive(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	ctx := context.Background()

	deep := segmentsOf("a", "b", "c")
	if err := fs.CreateFolder(ctx, deep, false); err == nil {
		t.Fatalf("creating a folder with missing parents must fail")
	}
	if err := fs.CreateFolder(ctx, deep, true); err != nil {
		t.Fatalf("recursive creation failed: %v", err)
	}
	err := fs.CreateFolder(ctx, deep, true)
	if !errors.Is(err, data.ErrAlreadyExists) {
		t.Fatalf("recursive creation of an existing folder must fail, got %v", err)
	}
}

func TestRootLocking(t *testing.T) {
	fs, home := newTestFilesystem(t)

	// Parent references clamp at the root instead of escaping it.
	escaping, err := fs.GetSegments("/../../etc/passwd")
	if err != nil {
		t.Fatalf("failed to parse path: %v", err)
	}
	real, err := fs.GetRealPathFromSegments(escaping)
	if err != nil {
		t.Fatalf("failed to resolve path: %v", err)
	}
	if want := filepath.Join(home, "etc", "passwd"); real != want {
		t.Fatalf("escaping path resolved to %q, want %q", real, want)
	}

	// A real path outside the root has no segments representation.
	_, err = fs.GetSegmentsFromRealPath("/etc/passwd")
	if !errors.Is(err, data.ErrPathOutsideRoot) {
		t.Fatalf("outside path must be rejected, got %v", err)
	}
	if !isEventError(err, data.EventOutsideRoot) {
		t.Fatalf("outside path must carry event %d, got %v",
			data.EventOutsideRoot, err)
	}

	// Round trip for a path inside the root.
	inside, err := fs.GetSegmentsFromRealPath(filepath.Join(home, "a", "b"))
	if err != nil {
		t.Fatalf("failed to map inside path: %v", err)
	}
	if !data.EqualSegments(inside, segmentsOf("a", "b"), false) {
		t.Fatalf("inside path mapped to %v", inside)
	}
}

func TestRootFolderSlash(t *testing.T) {
	avatar, err := NewApplicationAvatar("service", t.TempDir(), WithRootFolder("/"))
	if err != nil {
		t.Fatalf("failed to create avatar: %v", err)
	}
	fs, err := NewLocalFilesystem(avatar)
	if err != nil {
		t.Fatalf("failed to create filesystem: %v", err)
	}

	real, err := fs.GetRealPathFromSegments(segmentsOf("etc"))
	if err != nil {
		t.Fatalf("failed to resolve under a / root: %v", err)
	}
	if real != "/etc" {
		t.Fatalf("path resolved to %q, want /etc", real)
	}

	segments, err := fs.GetSegmentsFromRealPath("/etc/passwd")
	if err != nil {
		t.Fatalf("failed to map a real path under a / root: %v", err)
	}
	if !data.EqualSegments(segments, segmentsOf("etc", "passwd"), false) {
		t.Fatalf("real path mapped to %v", segments)
	}

	segments, err = fs.GetSegmentsFromRealPath("/")
	if err != nil {
		t.Fatalf("failed to map the root itself: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("the root maps to empty segments, got %v", segments)
	}
}

func TestHomeSegments(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	home, err := fs.HomeSegments()
	if err != nil {
		t.Fatalf("failed to get home segments: %v", err)
	}
	if len(home) != 0 {
		t.Fatalf("a home-locked avatar lives at the root, got %v", home)
	}
}

func TestHomeSegmentsUnderRootFolder(t *testing.T) {
	root := t.TempDir()
	homePath := filepath.Join(root, "users", "alice")
	avatar, err := NewApplicationAvatar("alice", homePath, WithRootFolder(root))
	if err != nil {
		t.Fatalf("failed to create avatar: %v", err)
	}
	fs, err := NewLocalFilesystem(avatar)
	if err != nil {
		t.Fatalf("failed to create filesystem: %v", err)
	}

	home, err := fs.HomeSegments()
	if err != nil {
		t.Fatalf("failed to get home segments: %v", err)
	}
	if !data.EqualSegments(home, segmentsOf("users", "alice"), false) {
		t.Fatalf("unexpected home segments %v", home)
	}
}

func TestHomeSegmentsOutsideRootFolder(t *testing.T) {
	avatar, err := NewApplicationAvatar(
		"alice", "/home/alice", WithRootFolder(t.TempDir()))
	if err != nil {
		t.Fatalf("failed to create avatar: %v", err)
	}
	fs, err := NewLocalFilesystem(avatar)
	if err != nil {
		t.Fatalf("failed to create filesystem: %v", err)
	}

	_, err = fs.HomeSegments()
	if !errors.Is(err, data.ErrPathOutsideRoot) {
		t.Fatalf("home outside the root must be rejected, got %v", err)
	}
	if !isEventError(err, data.EventHomeOutsideRoot) {
		t.Fatalf("expected event %d, got %v", data.EventHomeOutsideRoot, err)
	}
}

func TestOpenModes(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	ctx := context.Background()
	name := segmentsOf("notes.txt")

	writer, err := fs.OpenForWriting(ctx, name)
	if err != nil {
		t.Fatalf("failed to open for writing: %v", err)
	}
	if _, err := writer.WriteString("first"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	writer.Close()

	appender, err := fs.OpenForAppending(ctx, name)
	if err != nil {
		t.Fatalf("failed to open for appending: %v", err)
	}
	if _, err := appender.WriteString("+more"); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	appender.Close()

	reader, err := fs.OpenForReading(ctx, name)
	if err != nil {
		t.Fatalf("failed to open for reading: %v", err)
	}
	content, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(content) != "first+more" {
		t.Fatalf("unexpected content %q", content)
	}

	// Updating seeks without truncating.
	updater, err := fs.OpenForUpdating(ctx, name)
	if err != nil {
		t.Fatalf("failed to open for updating: %v", err)
	}
	if _, err := updater.WriteAt([]byte("F"), 0); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	updater.Close()
	size, err := fs.GetFileSize(ctx, name)
	if err != nil {
		t.Fatalf("failed to get size: %v", err)
	}
	if size != int64(len("first+more")) {
		t.Fatalf("updating truncated the file to %d bytes", size)
	}

	// Writing truncates.
	truncator, err := fs.OpenForWriting(ctx, name)
	if err != nil {
		t.Fatalf("failed to reopen for writing: %v", err)
	}
	truncator.Close()
	if size, _ := fs.GetFileSize(ctx, name); size != 0 {
		t.Fatalf("writing must truncate, size is %d", size)
	}
}

func TestOpenErrors(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	ctx := context.Background()

	_, err := fs.OpenForReading(ctx, segmentsOf("missing.txt"))
	if !errors.Is(err, data.ErrNotFound) {
		t.Fatalf("missing file must fail with ErrNotFound, got %v", err)
	}

	if err := fs.CreateFolder(ctx, segmentsOf("docs"), false); err != nil {
		t.Fatalf("failed to create folder: %v", err)
	}
	_, err = fs.OpenForReading(ctx, segmentsOf("docs"))
	if !errors.Is(err, data.ErrIsFolder) {
		t.Fatalf("opening a folder must fail with ErrIsFolder, got %v", err)
	}
}

func TestDeleteFile(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	testutil.WriteFile(t, home, "a.txt", "content")
	if err := fs.DeleteFile(ctx, segmentsOf("a.txt")); err != nil {
		t.Fatalf("failed to delete file: %v", err)
	}
	if fs.Exists(ctx, segmentsOf("a.txt")) {
		t.Fatalf("file still exists after delete")
	}

	err := fs.DeleteFile(ctx, segmentsOf("a.txt"))
	if !errors.Is(err, data.ErrNotFound) {
		t.Fatalf("deleting a missing file must fail, got %v", err)
	}

	testutil.MakeFolder(t, home, "docs")
	err = fs.DeleteFile(ctx, segmentsOf("docs"))
	if !errors.Is(err, data.ErrIsFolder) {
		t.Fatalf("deleting a folder as a file must fail, got %v", err)
	}
}

func TestDeleteFileOnLink(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	target := testutil.WriteFile(t, home, "target.txt", "content")
	if err := os.Symlink(target, filepath.Join(home, "link")); err != nil {
		t.Fatalf("failed to create link: %v", err)
	}

	if err := fs.DeleteFile(ctx, segmentsOf("link")); err != nil {
		t.Fatalf("failed to delete link: %v", err)
	}
	if fs.Exists(ctx, segmentsOf("link")) {
		t.Fatalf("link still exists")
	}
	if !fs.Exists(ctx, segmentsOf("target.txt")) {
		t.Fatalf("deleting the link must keep the target")
	}
}

func TestDeleteFolder(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	folder := testutil.MakeFolder(t, home, "docs")
	testutil.WriteFile(t, folder, "a.txt", "content")

	err := fs.DeleteFolder(ctx, segmentsOf("docs"), false)
	if !errors.Is(err, data.ErrNotEmpty) {
		t.Fatalf("non-recursive delete of a full folder must fail, got %v", err)
	}
	if err := fs.DeleteFolder(ctx, segmentsOf("docs"), true); err != nil {
		t.Fatalf("recursive delete failed: %v", err)
	}
	if fs.Exists(ctx, segmentsOf("docs")) {
		t.Fatalf("folder still exists after delete")
	}
}

func TestDeleteEmptyFolderNonRecursive(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	ctx := context.Background()

	if err := fs.CreateFolder(ctx, segmentsOf("empty"), false); err != nil {
		t.Fatalf("failed to create folder: %v", err)
	}
	if err := fs.DeleteFolder(ctx, segmentsOf("empty"), false); err != nil {
		t.Fatalf("non-recursive delete of an empty folder failed: %v", err)
	}
	if fs.Exists(ctx, segmentsOf("empty")) {
		t.Fatalf("folder still exists after delete")
	}
}

func TestDeleteFolderRefusesRoot(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	err := fs.DeleteFolder(context.Background(), data.Segments{}, true)
	if !errors.Is(err, data.ErrPermissionDenied) {
		t.Fatalf("deleting the root must be refused, got %v", err)
	}
	if !isEventError(err, data.EventDeleteRootFolder) {
		t.Fatalf("expected event %d, got %v", data.EventDeleteRootFolder, err)
	}
}

func TestDeleteFolderOnLinkKeepsTarget(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	target := testutil.MakeFolder(t, home, "real")
	testutil.WriteFile(t, target, "keep.txt", "content")
	if err := os.Symlink(target, filepath.Join(home, "linked")); err != nil {
		t.Fatalf("failed to create link: %v", err)
	}

	if err := fs.DeleteFolder(ctx, segmentsOf("linked"), true); err != nil {
		t.Fatalf("failed to delete linked folder: %v", err)
	}
	if fs.Exists(ctx, segmentsOf("linked")) {
		t.Fatalf("link still exists")
	}
	if !fs.Exists(ctx, segmentsOf("real", "keep.txt")) {
		t.Fatalf("deleting a folder link must never traverse the target")
	}
}

func TestRename(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	testutil.WriteFile(t, home, "old.txt", "content")
	if err := fs.Rename(ctx, segmentsOf("old.txt"), segmentsOf("new.txt")); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if fs.Exists(ctx, segmentsOf("old.txt")) || !fs.Exists(ctx, segmentsOf("new.txt")) {
		t.Fatalf("rename did not move the file")
	}

	err := fs.Rename(ctx, segmentsOf("missing"), segmentsOf("other"))
	if !errors.Is(err, data.ErrNotFound) {
		t.Fatalf("renaming a missing file must fail, got %v", err)
	}
}

func TestCopyFile(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	testutil.WriteFile(t, home, "src.txt", "payload")
	if err := fs.CopyFile(
		ctx, segmentsOf("src.txt"), segmentsOf("dst.txt"), false); err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(home, "dst.txt"))
	if err != nil || string(content) != "payload" {
		t.Fatalf("copy produced %q, %v", content, err)
	}

	// Without overwrite an existing destination is refused.
	err = fs.CopyFile(ctx, segmentsOf("src.txt"), segmentsOf("dst.txt"), false)
	if !errors.Is(err, data.ErrAlreadyExists) {
		t.Fatalf("copy onto existing file must fail, got %v", err)
	}
	if err := fs.CopyFile(
		ctx, segmentsOf("src.txt"), segmentsOf("dst.txt"), true); err != nil {
		t.Fatalf("overwriting copy failed: %v", err)
	}

	// Copying into a folder appends the source name.
	testutil.MakeFolder(t, home, "backup")
	if err := fs.CopyFile(
		ctx, segmentsOf("src.txt"), segmentsOf("backup"), false); err != nil {
		t.Fatalf("copy into folder failed: %v", err)
	}
	if !fs.Exists(ctx, segmentsOf("backup", "src.txt")) {
		t.Fatalf("copy into folder must use the source name")
	}
}

func TestTouch(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	name := segmentsOf("stamp")
	if err := fs.Touch(ctx, name); err != nil {
		t.Fatalf("touch failed to create the file: %v", err)
	}
	if !fs.IsFile(ctx, name) {
		t.Fatalf("touch must create an empty file")
	}

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(home, "stamp"), past, past); err != nil {
		t.Fatalf("failed to age the file: %v", err)
	}
	if err := fs.Touch(ctx, name); err != nil {
		t.Fatalf("touch failed on existing file: %v", err)
	}
	attributes, err := fs.GetAttributes(ctx, name)
	if err != nil {
		t.Fatalf("failed to stat: %v", err)
	}
	if attributes.Modified <= past.Unix() {
		t.Fatalf("touch did not refresh the modification time")
	}
}

func TestSetAttributes(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	testutil.WriteFile(t, home, "a.txt", "content")
	mode := os.FileMode(0o600)
	when := time.Unix(946684800, 0) // 2000-01-01
	err := fs.SetAttributes(ctx, segmentsOf("a.txt"), data.AttributeChanges{
		Mode:  &mode,
		MTime: &when,
	})
	if err != nil {
		t.Fatalf("set attributes failed: %v", err)
	}

	attributes, err := fs.GetAttributes(ctx, segmentsOf("a.txt"))
	if err != nil {
		t.Fatalf("failed to stat: %v", err)
	}
	if attributes.Mode.Perm() != 0o600 {
		t.Errorf("mode not applied, got %v", attributes.Mode)
	}
	if attributes.Modified != when.Unix() {
		t.Errorf("mtime not applied, got %d", attributes.Modified)
	}
}

func TestGetAttributes(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	testutil.WriteFile(t, home, "a.txt", "payload")
	attributes, err := fs.GetAttributes(ctx, segmentsOf("a.txt"))
	if err != nil {
		t.Fatalf("failed to stat: %v", err)
	}

	if attributes.Name != "a.txt" {
		t.Errorf("unexpected name %q", attributes.Name)
	}
	if attributes.Path != "/a.txt" {
		t.Errorf("attributes carry the display path, got %q", attributes.Path)
	}
	if !attributes.IsFile || attributes.IsFolder || attributes.IsLink {
		t.Errorf("kind flags wrong: %+v", attributes)
	}
	if attributes.Size != int64(len("payload")) {
		t.Errorf("unexpected size %d", attributes.Size)
	}
	if attributes.UID != os.Getuid() || attributes.GID != os.Getgid() {
		t.Errorf("ownership ids wrong: uid %d gid %d",
			attributes.UID, attributes.GID)
	}
	if attributes.NodeID == 0 {
		t.Errorf("inode missing")
	}
	if attributes.HardLinks != 1 {
		t.Errorf("unexpected hard link count %d", attributes.HardLinks)
	}
}

func TestGetAttributesOnLink(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	target := testutil.WriteFile(t, home, "target.txt", "payload")
	if err := os.Symlink(target, filepath.Join(home, "link")); err != nil {
		t.Fatalf("failed to create link: %v", err)
	}

	attributes, err := fs.GetAttributes(ctx, segmentsOf("link"))
	if err != nil {
		t.Fatalf("failed to stat link: %v", err)
	}
	if !attributes.IsLink || !attributes.IsFile {
		t.Errorf("a link to a file reports both IsLink and IsFile: %+v", attributes)
	}
	if attributes.Size != int64(len("payload")) {
		t.Errorf("link attributes borrow the target size, got %d", attributes.Size)
	}

	// GetStatus follows the link completely.
	status, err := fs.GetStatus(ctx, segmentsOf("link"))
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if status.IsLink {
		t.Errorf("status follows links: %+v", status)
	}
}

func TestBrokenLink(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	if err := os.Symlink(
		filepath.Join(home, "gone"), filepath.Join(home, "broken")); err != nil {
		t.Fatalf("failed to create link: %v", err)
	}

	// The link entry itself exists.
	if !fs.Exists(ctx, segmentsOf("broken")) {
		t.Fatalf("a broken link still exists as an entry")
	}
	attributes, err := fs.GetAttributes(ctx, segmentsOf("broken"))
	if err != nil {
		t.Fatalf("failed to stat broken link: %v", err)
	}
	if !attributes.IsLink || attributes.IsFile || attributes.IsFolder {
		t.Errorf("broken link flags wrong: %+v", attributes)
	}

	// Following it fails.
	if _, err := fs.GetStatus(ctx, segmentsOf("broken")); !errors.Is(err, data.ErrNotFound) {
		t.Fatalf("status of a broken link must fail, got %v", err)
	}
}

func TestReadLinkAndMakeLink(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	testutil.MakeFolder(t, home, "data")
	testutil.WriteFile(t, filepath.Join(home, "data"), "t.txt", "content")

	target := segmentsOf("data", "t.txt")
	link := segmentsOf("data", "l")
	if err := fs.MakeLink(ctx, target, link); err != nil {
		t.Fatalf("failed to make link: %v", err)
	}

	resolved, err := fs.ReadLink(ctx, link)
	if err != nil {
		t.Fatalf("failed to read link: %v", err)
	}
	if !data.EqualSegments(resolved, target, false) {
		t.Fatalf("link resolves to %v, want %v", resolved, target)
	}

	_, err = fs.ReadLink(ctx, target)
	if !errors.Is(err, data.ErrNotALink) {
		t.Fatalf("reading a plain file as a link must fail, got %v", err)
	}
}

func TestGetFolderContent(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	testutil.WriteFile(t, home, "b.txt", "2")
	testutil.WriteFile(t, home, "a.txt", "1")
	testutil.MakeFolder(t, home, "sub")

	names, err := fs.GetFolderContent(ctx, data.Segments{})
	if err != nil {
		t.Fatalf("failed to list root: %v", err)
	}
	sort.Strings(names)
	want := []string{"a.txt", "b.txt", "sub"}
	if len(names) != len(want) {
		t.Fatalf("listing is %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("listing is %v, want %v", names, want)
		}
	}

	_, err = fs.GetFolderContent(ctx, segmentsOf("a.txt"))
	if !errors.Is(err, data.ErrNotFolder) {
		t.Fatalf("listing a file must fail, got %v", err)
	}
}

func TestIterateFolderContent(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	expected := map[string]bool{}
	for i := 0; i < 300; i++ {
		name := testutil.UniqueName("entry")
		testutil.WriteFile(t, home, name, "x")
		expected[name] = true
	}

	iterator, err := fs.IterateFolderContent(ctx, data.Segments{})
	if err != nil {
		t.Fatalf("failed to open iterator: %v", err)
	}
	defer iterator.Close()

	seen := map[string]bool{}
	for iterator.Next() {
		attributes := iterator.Attributes()
		if seen[attributes.Name] {
			t.Fatalf("duplicate entry %q", attributes.Name)
		}
		seen[attributes.Name] = true
		if !attributes.IsFile {
			t.Errorf("entry %q must be a file", attributes.Name)
		}
		if attributes.Path != "/"+attributes.Name {
			t.Errorf("entry %q carries path %q", attributes.Name, attributes.Path)
		}
	}
	if err := iterator.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	if len(seen) != len(expected) {
		t.Fatalf("iterated %d entries, want %d", len(seen), len(expected))
	}
	if err := iterator.Close(); err != nil {
		t.Fatalf("close must be idempotent: %v", err)
	}
}

func TestIterateNotAFolder(t *testing.T) {
	fs, home := newTestFilesystem(t)
	testutil.WriteFile(t, home, "a.txt", "1")

	_, err := fs.IterateFolderContent(context.Background(), segmentsOf("a.txt"))
	if !errors.Is(err, data.ErrNotFolder) {
		t.Fatalf("iterating a file must fail, got %v", err)
	}
}

func TestOwnerAndGroup(t *testing.T) {
	fs, home := newTestFilesystem(t)
	ctx := context.Background()

	testutil.WriteFile(t, home, "a.txt", "content")

	owner, err := fs.GetOwner(ctx, segmentsOf("a.txt"))
	if err != nil {
		t.Fatalf("failed to get owner: %v", err)
	}
	if owner == "" {
		t.Fatalf("owner name is empty")
	}

	attributes, err := fs.GetAttributes(ctx, segmentsOf("a.txt"))
	if err != nil {
		t.Fatalf("failed to stat: %v", err)
	}
	group, err := groupNameForGID(attributes.GID)
	if err != nil {
		t.Skipf("no group database entry for gid %d", attributes.GID)
	}
	has, err := fs.HasGroup(ctx, segmentsOf("a.txt"), group)
	if err != nil {
		t.Fatalf("failed to check group: %v", err)
	}
	if !has {
		t.Fatalf("file must belong to its own group %q", group)
	}

	err = fs.AddGroup(ctx, segmentsOf("a.txt"), "no-such-group-here")
	if !errors.Is(err, data.ErrIdentity) {
		t.Fatalf("unknown group must fail with ErrIdentity, got %v", err)
	}
	if !isEventError(err, data.EventAddGroupFailed) {
		t.Fatalf("expected event %d, got %v", data.EventAddGroupFailed, err)
	}

	err = fs.RemoveGroup(ctx, segmentsOf("a.txt"), group)
	if !errors.Is(err, data.ErrUnsupported) {
		t.Fatalf("removing the single POSIX group is unsupported, got %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	caps := fs.Capabilities()

	if caps.OSFamily() != "posix" {
		t.Errorf("unexpected OS family %q", caps.OSFamily())
	}
	if !caps.SymbolicLink() {
		t.Errorf("symbolic links are always available on posix")
	}
	if caps.Description() == "" {
		t.Errorf("description is empty")
	}
}
