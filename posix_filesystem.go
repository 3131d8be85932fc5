//go:build !windows

package oscompat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/chevah/oscompat/data"
)

// PosixFilesystem is the engine variant for Linux, macOS and the BSDs.
type PosixFilesystem struct {
	filesystemBase
}

func newLocalFilesystem(avatar *Avatar, opts ...FilesystemOption) (LocalFilesystem, error) {
	engine := &PosixFilesystem{
		filesystemBase: newFilesystemBase(avatar, opts),
	}
	engine.paths = engine

	switch {
	case avatar.LockInHomeFolder():
		engine.rootPath = filepath.Clean(avatar.HomeFolderPath())
	case avatar.RootFolderPath() != "":
		engine.rootPath = filepath.Clean(avatar.RootFolderPath())
	}
	return engine, nil
}

func renameOS(from, to string) error {
	return os.Rename(from, to)
}

func (p *PosixFilesystem) realPathFromSegments(segments data.Segments) (string, error) {
	segments = segments.Normalize()
	root := p.rootPath
	if root == "" {
		root = "/"
	}
	path := filepath.Join(root, filepath.Join(segments...))

	// Normalization cannot produce an escaping path, but the root
	// confinement is a security boundary so it is checked again here.
	if p.rootPath != "" && path != p.rootPath &&
		!strings.HasPrefix(path, rootPrefix(p.rootPath)) {
		p.logger.Warn("[%d] resolved path %q escapes root %q",
			data.EventOutsideRoot, path, p.rootPath)
		return "", data.NewEventError(
			data.EventOutsideRoot,
			"resolve",
			data.RenderPath(segments),
			data.ErrPathEscapesRoot,
		)
	}
	return path, nil
}

func (p *PosixFilesystem) segmentsFromRealPath(path string) (data.Segments, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, data.NewError("resolve", path,
			fmt.Errorf("%w: path is not absolute", data.ErrPathOutsideRoot))
	}
	cleaned := filepath.Clean(path)

	// Paths inside a virtual mapping translate back through the overlay.
	for _, folder := range p.avatar.VirtualFolders() {
		target := filepath.Clean(folder.RealPath)
		if cleaned == target {
			return append(data.Segments{}, folder.Segments...), nil
		}
		if strings.HasPrefix(cleaned, target+"/") {
			remainder := data.SplitPath(cleaned[len(target):], false)
			return append(
				append(data.Segments{}, folder.Segments...), remainder...), nil
		}
	}

	if p.rootPath == "" {
		return data.SplitPath(cleaned, false), nil
	}
	if cleaned == p.rootPath {
		return data.Segments{}, nil
	}
	if !strings.HasPrefix(cleaned, rootPrefix(p.rootPath)) {
		p.logger.Warn("[%d] real path %q is outside root %q",
			data.EventOutsideRoot, cleaned, p.rootPath)
		return nil, data.NewEventError(
			data.EventOutsideRoot, "resolve", path, data.ErrPathOutsideRoot)
	}
	return data.SplitPath(cleaned[len(p.rootPath):], false), nil
}

// rootPrefix is the string a confined path must start with. A root of
// "/" already ends in the separator.
func rootPrefix(root string) string {
	if root == "/" {
		return root
	}
	return root + "/"
}

func (p *PosixFilesystem) isAbsolutePath(path string) bool {
	return strings.HasPrefix(path, "/")
}

func (p *PosixFilesystem) tempSegments() data.Segments {
	if p.rootPath == "" {
		return data.SplitPath(os.TempDir(), false)
	}
	// Confined avatars get a temporary folder inside the root.
	return data.Segments{"tmp"}
}

// DeleteFile removes a file or a symbolic link, never a folder. os.Remove
// would also delete empty folders, so the raw unlink call is used.
func (p *PosixFilesystem) DeleteFile(ctx context.Context, segments data.Segments) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := p.resolveRealPath(segments, "delete-file", true)
	if err != nil {
		return err
	}
	display := data.RenderPath(segments)
	return p.withScope(func() error {
		unlinkErr := unix.Unlink(path)
		if unlinkErr == nil {
			return nil
		}
		// Linux reports EISDIR, macOS EPERM, for unlink on a folder.
		if errors.Is(unlinkErr, unix.EISDIR) || errors.Is(unlinkErr, unix.EPERM) {
			if info, statErr := os.Lstat(path); statErr == nil && info.IsDir() {
				return data.NewError("delete-file", display, data.ErrIsFolder)
			}
		}
		return data.MapOSError("delete-file", display,
			&fs.PathError{Op: "unlink", Path: path, Err: unlinkErr})
	})
}

// DeleteFolder removes a folder. A symlinked folder is deleted as a link
// and its target is never traversed. The avatar root itself is refused.
func (p *PosixFilesystem) DeleteFolder(
	ctx context.Context, segments data.Segments, recursive bool,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(segments.Normalize()) == 0 {
		p.logger.Warn("[%d] refused to delete the root folder for %q",
			data.EventDeleteRootFolder, p.avatar.Name())
		return data.NewEventError(
			data.EventDeleteRootFolder, "delete-folder", "/",
			fmt.Errorf("%w: deleting the root folder is not allowed",
				data.ErrPermissionDenied))
	}

	path, err := p.resolveRealPath(segments, "delete-folder", true)
	if err != nil {
		return err
	}
	display := data.RenderPath(segments)
	return p.withScope(func() error {
		info, statErr := os.Lstat(path)
		if statErr != nil {
			return data.MapOSError("delete-folder", display, statErr)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			if unlinkErr := unix.Unlink(path); unlinkErr != nil {
				return data.MapOSError("delete-folder", display,
					&fs.PathError{Op: "unlink", Path: path, Err: unlinkErr})
			}
			return nil
		}
		if !info.IsDir() {
			return data.NewError("delete-folder", display, data.ErrNotFolder)
		}
		if !recursive {
			if rmdirErr := unix.Rmdir(path); rmdirErr != nil {
				return data.MapOSError("delete-folder", display,
					&fs.PathError{Op: "rmdir", Path: path, Err: rmdirErr})
			}
			return nil
		}
		return data.MapOSError("delete-folder", display, os.RemoveAll(path))
	})
}

// SetAttributes applies the present fields of changes. Times are paired:
// when only one of access/modification time is given the other is kept
// from the current attributes.
func (p *PosixFilesystem) SetAttributes(
	ctx context.Context, segments data.Segments, changes data.AttributeChanges,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := p.resolveRealPath(segments, "set-attributes", true)
	if err != nil {
		return err
	}
	display := data.RenderPath(segments)
	return p.withScope(func() error {
		if changes.Mode != nil {
			if chmodErr := os.Chmod(path, *changes.Mode); chmodErr != nil {
				return data.MapOSError("set-attributes", display, chmodErr)
			}
		}
		if changes.UID != nil || changes.GID != nil {
			uid, gid := data.UnknownID, data.UnknownID
			if changes.UID != nil {
				uid = *changes.UID
			}
			if changes.GID != nil {
				gid = *changes.GID
			}
			if chownErr := os.Lchown(path, uid, gid); chownErr != nil {
				return data.MapOSError("set-attributes", display, chownErr)
			}
		}
		if changes.ATime != nil || changes.MTime != nil {
			atime, mtime := pairTimes(changes)
			if chErr := os.Chtimes(path, atime, mtime); chErr != nil {
				return data.MapOSError("set-attributes", display, chErr)
			}
		}
		return nil
	})
}


// SetOwner changes the owner of segments to the named account.
func (p *PosixFilesystem) SetOwner(
	ctx context.Context, segments data.Segments, owner string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	display := data.RenderPath(segments)
	uid, err := lookupAccountUID(owner)
	if err != nil {
		return data.NewEventError(
			data.EventSetOwnerFailed, "set-owner", display,
			fmt.Errorf("%w: unknown account %q", data.ErrIdentity, owner))
	}
	path, err := p.resolveRealPath(segments, "set-owner", true)
	if err != nil {
		return err
	}
	return p.withScope(func() error {
		if chownErr := os.Lchown(path, uid, data.UnknownID); chownErr != nil {
			p.logger.Warn("[%d] failed to set owner %q on %s: %v",
				data.EventSetOwnerFailed, owner, display, chownErr)
			return data.NewEventError(
				data.EventSetOwnerFailed, "set-owner", display,
				fmt.Errorf("%w: %v",
					data.ErrPermissionDenied, causeText(chownErr)))
		}
		return nil
	})
}

// GetOwner returns the account name owning segments.
func (p *PosixFilesystem) GetOwner(
	ctx context.Context, segments data.Segments,
) (string, error) {
	attributes, err := p.GetStatus(ctx, segments)
	if err != nil {
		return "", err
	}
	owner, err := accountNameForUID(attributes.UID)
	if err != nil {
		return "", data.NewError("get-owner", attributes.Path,
			fmt.Errorf("%w: no account for uid %d",
				data.ErrIdentity, attributes.UID))
	}
	return owner, nil
}

// AddGroup associates the named group with segments. A POSIX file has a
// single group, so this sets it.
func (p *PosixFilesystem) AddGroup(
	ctx context.Context, segments data.Segments, group string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	display := data.RenderPath(segments)
	gid, err := lookupGroupGID(group)
	if err != nil {
		return data.NewEventError(
			data.EventAddGroupFailed, "add-group", display,
			fmt.Errorf("%w: unknown group %q", data.ErrIdentity, group))
	}
	path, err := p.resolveRealPath(segments, "add-group", true)
	if err != nil {
		return err
	}
	return p.withScope(func() error {
		if chownErr := os.Lchown(path, data.UnknownID, gid); chownErr != nil {
			p.logger.Warn("[%d] failed to add group %q on %s: %v",
				data.EventAddGroupFailed, group, display, chownErr)
			return data.NewEventError(
				data.EventAddGroupFailed, "add-group", display,
				fmt.Errorf("%w: %v",
					data.ErrPermissionDenied, causeText(chownErr)))
		}
		return nil
	})
}

// RemoveGroup is not meaningful on POSIX, where a file always has exactly
// one group. The group name is still validated so configuration mistakes
// surface.
func (p *PosixFilesystem) RemoveGroup(
	ctx context.Context, segments data.Segments, group string,
) error {
	display := data.RenderPath(segments)
	if _, err := lookupGroupGID(group); err != nil {
		return data.NewEventError(
			data.EventRemoveGroupFailed, "remove-group", display,
			fmt.Errorf("%w: unknown group %q", data.ErrIdentity, group))
	}
	return data.NewEventError(
		data.EventRemoveGroupFailed, "remove-group", display,
		fmt.Errorf("%w: a POSIX file always keeps one group",
			data.ErrUnsupported))
}

// HasGroup reports whether segments belong to the named group.
func (p *PosixFilesystem) HasGroup(
	ctx context.Context, segments data.Segments, group string,
) (bool, error) {
	gid, err := lookupGroupGID(group)
	if err != nil {
		return false, data.NewError("has-group", data.RenderPath(segments),
			fmt.Errorf("%w: unknown group %q", data.ErrIdentity, group))
	}
	attributes, err := p.GetStatus(ctx, segments)
	if err != nil {
		return false, err
	}
	return attributes.GID == gid, nil
}

// ReadLink returns the segments a symbolic link points to. A relative
// target is resolved against the link's parent folder; a target outside a
// locked root is an error.
func (p *PosixFilesystem) ReadLink(
	ctx context.Context, segments data.Segments,
) (data.Segments, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := p.resolveRealPath(segments, "read-link", false)
	if err != nil {
		return nil, err
	}
	display := data.RenderPath(segments)

	var target string
	scopeErr := p.withScope(func() error {
		value, readErr := os.Readlink(path)
		if readErr != nil {
			if errors.Is(readErr, unix.EINVAL) {
				return data.NewError("read-link", display, data.ErrNotALink)
			}
			return data.MapOSError("read-link", display, readErr)
		}
		target = value
		return nil
	})
	if scopeErr != nil {
		return nil, scopeErr
	}

	if !strings.HasPrefix(target, "/") {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return p.segmentsFromRealPath(target)
}

// MakeLink creates a symbolic link at link pointing to target.
func (p *PosixFilesystem) MakeLink(
	ctx context.Context, target, link data.Segments,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	targetPath, err := p.resolveRealPath(target, "make-link", false)
	if err != nil {
		return err
	}
	linkPath, err := p.resolveRealPath(link, "make-link", true)
	if err != nil {
		return err
	}
	return p.withScope(func() error {
		return data.MapOSError(
			"make-link", data.RenderPath(link),
			os.Symlink(targetPath, linkPath))
	})
}

// causeText strips the os wrapper so event errors carry the cause once.
func causeText(err error) string {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err.Error()
	}
	return err.Error()
}
