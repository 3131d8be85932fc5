package oscompat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chevah/oscompat/data"
	"github.com/chevah/oscompat/log"
)

// pathResolver is the OS-specific half of path handling: mapping between
// segments and native paths for the non-virtual part of the tree.
type pathResolver interface {
	realPathFromSegments(segments data.Segments) (string, error)
	segmentsFromRealPath(path string) (data.Segments, error)
	isAbsolutePath(path string) bool
	tempSegments() data.Segments
}

// filesystemBase carries the state and OS-independent operations shared
// by the engine variants. Variants embed it and install themselves as the
// path resolver.
type filesystemBase struct {
	avatar *Avatar
	caps   *ProcessCapabilities
	logger *log.Logger

	// rootPath is the native path of the confinement root, empty for an
	// unrestricted avatar.
	rootPath string
	paths    pathResolver
}

func newFilesystemBase(avatar *Avatar, opts []FilesystemOption) filesystemBase {
	base := filesystemBase{
		avatar: avatar,
		caps:   NewProcessCapabilities(),
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

func (f *filesystemBase) Avatar() *Avatar { return f.avatar }

func (f *filesystemBase) Capabilities() *ProcessCapabilities { return f.caps }

// withScope runs fn inside the avatar impersonation scope. Every native
// filesystem call in the engine goes through here.
func (f *filesystemBase) withScope(fn func() error) error {
	scope, err := f.avatar.ImpersonationScope()
	if err != nil {
		f.logger.Warn("[%d] impersonation failed for %q: %v",
			data.EventImpersonation, f.avatar.Name(), err)
		return err
	}
	defer func() {
		if releaseErr := scope.Release(); releaseErr != nil {
			f.logger.Error("failed to restore process identity: %v", releaseErr)
		}
	}()
	return fn()
}

// Virtual-folder classification of a segments value.
type virtualKind int

const (
	// virtualNone: unrelated to the overlay, resolve against the root.
	virtualNone virtualKind = iota
	// virtualInside: strict descendant of a mapping, resolve against the
	// mapped real path.
	virtualInside
	// virtualRoot: exactly a mapping root. Reads resolve to the mapped
	// path, mutations are denied.
	virtualRoot
	// virtualAncestor: strict ancestor of a mapping, synthesized as a
	// read-only placeholder folder.
	virtualAncestor
	// virtualBroken: goes through virtual-only territory without leading
	// to any mapping.
	virtualBroken
)

type virtualResolution struct {
	kind     virtualKind
	folder   VirtualFolder
	realPath string
}

func (f *filesystemBase) resolveVirtual(segments data.Segments) virtualResolution {
	folders := f.avatar.VirtualFolders()
	if len(folders) == 0 || len(segments) == 0 {
		// The overlay never replaces the root itself; root listings merge
		// virtual members separately.
		return virtualResolution{kind: virtualNone}
	}

	for _, folder := range folders {
		if !data.HasSegmentsPrefix(segments, folder.Segments, data.FoldCase) {
			continue
		}
		if len(segments) == len(folder.Segments) {
			return virtualResolution{
				kind: virtualRoot, folder: folder, realPath: folder.RealPath}
		}
		remainder := segments[len(folder.Segments):]
		return virtualResolution{
			kind:     virtualInside,
			folder:   folder,
			realPath: filepath.Join(folder.RealPath, filepath.Join(remainder...)),
		}
	}

	for _, folder := range folders {
		if data.HasSegmentsPrefix(folder.Segments, segments, data.FoldCase) {
			return virtualResolution{kind: virtualAncestor, folder: folder}
		}
	}

	// A proper prefix that is itself a virtual ancestor means the path
	// leaves the mapped tree through a folder that only exists virtually.
	for k := len(segments) - 1; k >= 1; k-- {
		prefix := segments[:k]
		for _, folder := range folders {
			if len(prefix) < len(folder.Segments) &&
				data.HasSegmentsPrefix(folder.Segments, prefix, data.FoldCase) {
				return virtualResolution{kind: virtualBroken, folder: folder}
			}
		}
	}
	return virtualResolution{kind: virtualNone}
}

// virtualMembers returns the overlay's immediate child names at segments.
func (f *filesystemBase) virtualMembers(segments data.Segments) []string {
	var members []string
	seen := map[string]bool{}
	for _, folder := range f.avatar.VirtualFolders() {
		if len(folder.Segments) <= len(segments) {
			continue
		}
		if !data.HasSegmentsPrefix(folder.Segments, segments, data.FoldCase) {
			continue
		}
		name := folder.Segments[len(segments)]
		if !seen[name] {
			seen[name] = true
			members = append(members, name)
		}
	}
	return members
}

func (f *filesystemBase) deniedError(op string, segments data.Segments) error {
	display := data.RenderPath(segments)
	f.logger.Warn("[%d] %s denied on virtual path %s for %q",
		data.EventVirtualPathDenied, op, display, f.avatar.Name())
	return data.NewEventError(
		data.EventVirtualPathDenied, op, display, data.ErrVirtualPathDenied)
}

func (f *filesystemBase) brokenError(op string, segments data.Segments) error {
	display := data.RenderPath(segments)
	f.logger.Warn("[%d] %s on broken virtual path %s for %q",
		data.EventBrokenVirtualPath, op, display, f.avatar.Name())
	return data.NewEventError(
		data.EventBrokenVirtualPath, op, display, data.ErrBrokenVirtualPath)
}

// resolveRealPath maps segments to the native path an operation acts on.
// forUpdate marks operations that mutate the operand.
func (f *filesystemBase) resolveRealPath(
	segments data.Segments, op string, forUpdate bool,
) (string, error) {
	res := f.resolveVirtual(segments)
	switch res.kind {
	case virtualInside:
		return res.realPath, nil
	case virtualRoot:
		if forUpdate {
			return "", f.deniedError(op, segments)
		}
		return res.realPath, nil
	case virtualAncestor:
		return "", f.deniedError(op, segments)
	case virtualBroken:
		return "", f.brokenError(op, segments)
	}
	return f.paths.realPathFromSegments(segments)
}

// GetRealPathFromSegments resolves segments to the OS path inside the
// avatar root, applying the virtual overlay.
func (f *filesystemBase) GetRealPathFromSegments(segments data.Segments) (string, error) {
	return f.resolveRealPath(segments, "resolve", false)
}

// GetSegmentsFromRealPath delegates to the engine variant.
func (f *filesystemBase) GetSegmentsFromRealPath(path string) (data.Segments, error) {
	return f.paths.segmentsFromRealPath(path)
}

// GetPath renders segments in the canonical display form.
func (f *filesystemBase) GetPath(segments data.Segments) string {
	return data.RenderPath(segments)
}

// GetSegments parses a display path relative to the avatar home folder.
func (f *filesystemBase) GetSegments(path string) (data.Segments, error) {
	home, err := f.HomeSegments()
	if err != nil {
		return nil, err
	}
	return data.ParseSegments(path, home, runtime.GOOS == "windows"), nil
}

// IsAbsolutePath reports whether path is absolute in the host syntax.
func (f *filesystemBase) IsAbsolutePath(path string) bool {
	return f.paths.isAbsolutePath(path)
}

// TempSegments returns the folder for temporary files.
func (f *filesystemBase) TempSegments() data.Segments {
	return f.paths.tempSegments()
}

// HomeSegments returns the avatar home folder relative to the root. The
// prefix check always folds case: home folders come from OS account
// databases which report them with unreliable casing.
func (f *filesystemBase) HomeSegments() (data.Segments, error) {
	if f.avatar.LockInHomeFolder() {
		return data.Segments{}, nil
	}

	windows := runtime.GOOS == "windows"
	home := data.SplitPath(f.avatar.HomeFolderPath(), windows)
	root := f.avatar.RootFolderPath()
	if root == "" {
		return home, nil
	}

	rootSegments := data.SplitPath(root, windows)
	if !data.HasSegmentsPrefix(home, rootSegments, true) {
		f.logger.Warn("[%d] home folder %q is not inside root folder %q",
			data.EventHomeOutsideRoot, f.avatar.HomeFolderPath(), root)
		return nil, data.NewEventError(
			data.EventHomeOutsideRoot,
			"home",
			f.avatar.HomeFolderPath(),
			fmt.Errorf("%w: home folder not inside the root folder",
				data.ErrPathOutsideRoot),
		)
	}
	return home[len(rootSegments):], nil
}

// Exists reports whether segments name an existing file, folder or link.
// A link counts even when its target is broken.
func (f *filesystemBase) Exists(ctx context.Context, segments data.Segments) bool {
	res := f.resolveVirtual(segments)
	switch res.kind {
	case virtualAncestor:
		return true
	case virtualRoot:
		return true
	case virtualBroken:
		f.logger.Warn("[%d] existence check on broken virtual path %s",
			data.EventBrokenVirtualPath, data.RenderPath(segments))
		return false
	}

	path, err := f.resolveRealPath(segments, "exists", false)
	if err != nil {
		return false
	}
	exists := false
	_ = f.withScope(func() error {
		if _, statErr := os.Lstat(path); statErr == nil {
			exists = true
		}
		return nil
	})
	return exists
}

func (f *filesystemBase) IsFile(ctx context.Context, segments data.Segments) bool {
	attributes, err := f.GetAttributes(ctx, segments)
	return err == nil && attributes.IsFile
}

func (f *filesystemBase) IsFolder(ctx context.Context, segments data.Segments) bool {
	attributes, err := f.GetAttributes(ctx, segments)
	return err == nil && attributes.IsFolder
}

func (f *filesystemBase) IsLink(ctx context.Context, segments data.Segments) bool {
	attributes, err := f.GetAttributes(ctx, segments)
	return err == nil && attributes.IsLink
}

// GetAttributes returns the attributes of segments. The identity of the
// operand is taken from the link itself, while size, kind and modification
// time come from the resolved target when it exists. Failures on the
// target are reported against the requested path so a link can never leak
// where it points outside the root.
func (f *filesystemBase) GetAttributes(
	ctx context.Context, segments data.Segments,
) (*data.FileAttributes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := f.resolveVirtual(segments)
	switch res.kind {
	case virtualAncestor:
		return f.placeholder(segments), nil
	case virtualBroken:
		return nil, f.brokenError("attributes", segments)
	}

	path, err := f.resolveRealPath(segments, "attributes", false)
	if err != nil {
		return nil, err
	}

	var attributes *data.FileAttributes
	scopeErr := f.withScope(func() error {
		info, statErr := os.Lstat(path)
		if statErr != nil {
			if res.kind == virtualRoot {
				// The mapping target is missing; the overlay still shows
				// the folder.
				attributes = f.placeholder(segments)
				return nil
			}
			return data.MapOSError("attributes", data.RenderPath(segments), statErr)
		}
		attributes = f.attributesFromInfo(segments, info)
		if attributes.IsLink {
			if target, targetErr := os.Stat(path); targetErr == nil {
				attributes.Size = target.Size()
				attributes.Modified = target.ModTime().Unix()
				attributes.IsFile = target.Mode().IsRegular()
				attributes.IsFolder = target.IsDir()
				attributes.Mode = target.Mode()
			}
		}
		return nil
	})
	if scopeErr != nil {
		return nil, scopeErr
	}
	f.fillOwnerNames(attributes)
	return attributes, nil
}

// GetStatus is GetAttributes with the final link fully followed. A broken
// link is an error here, not a link entry.
func (f *filesystemBase) GetStatus(
	ctx context.Context, segments data.Segments,
) (*data.FileAttributes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := f.resolveVirtual(segments)
	switch res.kind {
	case virtualAncestor:
		return f.placeholder(segments), nil
	case virtualBroken:
		return nil, f.brokenError("status", segments)
	}

	path, err := f.resolveRealPath(segments, "status", false)
	if err != nil {
		return nil, err
	}

	var attributes *data.FileAttributes
	scopeErr := f.withScope(func() error {
		info, statErr := os.Stat(path)
		if statErr != nil {
			if res.kind == virtualRoot {
				attributes = f.placeholder(segments)
				return nil
			}
			return data.MapOSError("status", data.RenderPath(segments), statErr)
		}
		attributes = f.attributesFromInfo(segments, info)
		return nil
	})
	if scopeErr != nil {
		return nil, scopeErr
	}
	f.fillOwnerNames(attributes)
	return attributes, nil
}

// GetFileSize returns the size of the resolved target of segments.
func (f *filesystemBase) GetFileSize(
	ctx context.Context, segments data.Segments,
) (int64, error) {
	attributes, err := f.GetStatus(ctx, segments)
	if err != nil {
		return 0, err
	}
	return attributes.Size, nil
}

func (f *filesystemBase) placeholder(segments data.Segments) *data.FileAttributes {
	name := "/"
	if len(segments) > 0 {
		name = segments[len(segments)-1]
	}
	return data.PlaceholderAttributes(name, data.RenderPath(segments))
}

func (f *filesystemBase) attributesFromInfo(
	segments data.Segments, info fs.FileInfo,
) *data.FileAttributes {
	name := "/"
	if len(segments) > 0 {
		name = segments[len(segments)-1]
	}
	uid, gid, hardLinks, nodeID := statIDs(info)
	return &data.FileAttributes{
		Name:      name,
		Path:      data.RenderPath(segments),
		Size:      info.Size(),
		IsFile:    info.Mode().IsRegular(),
		IsFolder:  info.IsDir(),
		IsLink:    info.Mode()&fs.ModeSymlink != 0,
		Modified:  info.ModTime().Unix(),
		Mode:      info.Mode(),
		HardLinks: hardLinks,
		UID:       uid,
		GID:       gid,
		NodeID:    nodeID,
	}
}

// fillOwnerNames resolves numeric ids to names, best effort. Kept out of
// the folder iterator where per-entry account lookups would dominate.
func (f *filesystemBase) fillOwnerNames(attributes *data.FileAttributes) {
	if attributes == nil || attributes.UID == data.UnknownID {
		return
	}
	if owner, err := accountNameForUID(attributes.UID); err == nil {
		attributes.Owner = owner
	}
	if group, err := groupNameForGID(attributes.GID); err == nil {
		attributes.Group = group
	}
}

// CreateFolder creates a folder. With recursive, missing parents are
// created too, but an already existing target is still an error.
func (f *filesystemBase) CreateFolder(
	ctx context.Context, segments data.Segments, recursive bool,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.resolveRealPath(segments, "create-folder", true)
	if err != nil {
		return err
	}
	display := data.RenderPath(segments)
	return f.withScope(func() error {
		if !recursive {
			return data.MapOSError("create-folder", display, os.Mkdir(path, 0o777))
		}
		if _, statErr := os.Lstat(path); statErr == nil {
			// MkdirAll reports success for an existing folder.
			return data.NewError("create-folder", display, data.ErrAlreadyExists)
		}
		return data.MapOSError("create-folder", display, os.MkdirAll(path, 0o777))
	})
}

// Rename moves a file or folder inside the root.
func (f *filesystemBase) Rename(ctx context.Context, from, to data.Segments) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fromPath, err := f.resolveRealPath(from, "rename", true)
	if err != nil {
		return err
	}
	toPath, err := f.resolveRealPath(to, "rename", true)
	if err != nil {
		return err
	}
	return f.withScope(func() error {
		return data.MapOSError(
			"rename", data.RenderPath(from), renameOS(fromPath, toPath))
	})
}

// Touch updates the modification time of segments to the current time,
// creating an empty file when it does not exist.
func (f *filesystemBase) Touch(ctx context.Context, segments data.Segments) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.resolveRealPath(segments, "touch", true)
	if err != nil {
		return err
	}
	display := data.RenderPath(segments)
	return f.withScope(func() error {
		now := time.Now()
		chErr := os.Chtimes(path, now, now)
		if chErr == nil {
			return nil
		}
		if !errors.Is(chErr, fs.ErrNotExist) {
			return data.MapOSError("touch", display, chErr)
		}
		file, openErr := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o666)
		if openErr != nil {
			return data.MapOSError("touch", display, openErr)
		}
		return data.MapOSError("touch", display, file.Close())
	})
}

// CopyFile copies a regular file. When destination is an existing folder
// the source base name is appended, matching shell copy semantics.
func (f *filesystemBase) CopyFile(
	ctx context.Context, source, destination data.Segments, overwrite bool,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(source) == 0 {
		return data.NewError("copy", "/", data.ErrIsFolder)
	}
	sourcePath, err := f.resolveRealPath(source, "copy", false)
	if err != nil {
		return err
	}

	if f.IsFolder(ctx, destination) {
		destination = append(
			append(data.Segments{}, destination...), source[len(source)-1])
	}
	destinationPath, err := f.resolveRealPath(destination, "copy", true)
	if err != nil {
		return err
	}
	display := data.RenderPath(destination)

	return f.withScope(func() error {
		reader, openErr := os.Open(sourcePath)
		if openErr != nil {
			return data.MapOSError("copy", data.RenderPath(source), openErr)
		}
		defer reader.Close()

		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if !overwrite {
			flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
		}
		writer, createErr := os.OpenFile(destinationPath, flags, 0o666)
		if createErr != nil {
			return data.MapOSError("copy", display, createErr)
		}

		if _, copyErr := io.Copy(writer, reader); copyErr != nil {
			writer.Close()
			return data.MapOSError("copy", display, copyErr)
		}
		return data.MapOSError("copy", display, writer.Close())
	})
}

// OpenForReading opens segments for sequential reads.
func (f *filesystemBase) OpenForReading(
	ctx context.Context, segments data.Segments,
) (*os.File, error) {
	return f.openFile(ctx, segments, os.O_RDONLY, false, "open-read")
}

// OpenForWriting opens segments for writing, truncating existing content.
func (f *filesystemBase) OpenForWriting(
	ctx context.Context, segments data.Segments,
) (*os.File, error) {
	return f.openFile(
		ctx, segments, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, true, "open-write")
}

// OpenForAppending opens segments for writing at the end of the file.
func (f *filesystemBase) OpenForAppending(
	ctx context.Context, segments data.Segments,
) (*os.File, error) {
	return f.openFile(
		ctx, segments, os.O_WRONLY|os.O_CREATE|os.O_APPEND, true, "open-append")
}

// OpenForUpdating opens segments for reads and in-place writes without
// truncation.
func (f *filesystemBase) OpenForUpdating(
	ctx context.Context, segments data.Segments,
) (*os.File, error) {
	return f.openFile(
		ctx, segments, os.O_RDWR|os.O_CREATE, true, "open-update")
}

func (f *filesystemBase) openFile(
	ctx context.Context, segments data.Segments, flag int, forUpdate bool, op string,
) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := f.resolveVirtual(segments)
	if res.kind == virtualAncestor || res.kind == virtualRoot {
		if forUpdate {
			return nil, f.deniedError(op, segments)
		}
		return nil, data.NewError(op, data.RenderPath(segments), data.ErrIsFolder)
	}

	path, err := f.resolveRealPath(segments, op, forUpdate)
	if err != nil {
		return nil, err
	}
	display := data.RenderPath(segments)

	var file *os.File
	scopeErr := f.withScope(func() error {
		handle, openErr := os.OpenFile(path, flag, 0o666)
		if openErr != nil {
			return data.MapOSError(op, display, openErr)
		}
		// Opening a folder read-only succeeds on POSIX; reject it here so
		// every variant behaves the same.
		if info, statErr := handle.Stat(); statErr == nil && info.IsDir() {
			handle.Close()
			return data.NewError(op, display, data.ErrIsFolder)
		}
		file = handle
		return nil
	})
	if scopeErr != nil {
		return nil, scopeErr
	}
	return file, nil
}

// GetFolderContent returns the member names of a folder. Virtual members
// are merged ahead of real entries at the root; a purely virtual ancestor
// lists only its virtual members.
func (f *filesystemBase) GetFolderContent(
	ctx context.Context, segments data.Segments,
) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := f.resolveVirtual(segments)
	switch res.kind {
	case virtualAncestor:
		return f.virtualMembers(segments), nil
	case virtualBroken:
		return nil, f.brokenError("list", segments)
	}

	path, err := f.resolveRealPath(segments, "list", false)
	if err != nil {
		return nil, err
	}
	display := data.RenderPath(segments)

	var names []string
	scopeErr := f.withScope(func() error {
		entries, readErr := os.ReadDir(path)
		if readErr != nil {
			return data.MapOSError("list", display, readErr)
		}
		names = make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, decodeFileName(entry.Name()))
		}
		return nil
	})
	if scopeErr != nil {
		return nil, scopeErr
	}

	if len(segments) == 0 {
		names = mergeVirtualNames(f.virtualMembers(segments), names)
	}
	return names, nil
}

// mergeVirtualNames puts overlay members first and drops real entries
// shadowed by them.
func mergeVirtualNames(virtual, real []string) []string {
	if len(virtual) == 0 {
		return real
	}
	shadowed := make(map[string]bool, len(virtual))
	for _, name := range virtual {
		shadowed[foldName(name)] = true
	}
	merged := append([]string{}, virtual...)
	for _, name := range real {
		if !shadowed[foldName(name)] {
			merged = append(merged, name)
		}
	}
	return merged
}

// pairTimes expands a partial time change: when only one of access and
// modification time is given it is applied to both.
func pairTimes(changes data.AttributeChanges) (time.Time, time.Time) {
	var atime, mtime time.Time
	if changes.ATime != nil {
		atime = *changes.ATime
	}
	if changes.MTime != nil {
		mtime = *changes.MTime
	}
	if changes.ATime == nil {
		atime = mtime
	}
	if changes.MTime == nil {
		mtime = atime
	}
	return atime, mtime
}

func foldName(name string) string {
	if data.FoldCase {
		return strings.ToLower(name)
	}
	return name
}
