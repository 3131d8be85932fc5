//go:build windows

package oscompat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/chevah/oscompat/data"
)

var (
	procGetAce    = advapi32.NewProc("GetAce")
	procDeleteAce = advapi32.NewProc("DeleteAce")
)

// WindowsFilesystem is the engine variant for Windows. An unrestricted
// avatar sees a virtual computer root whose children are the local
// drives.
type WindowsFilesystem struct {
	filesystemBase
}

func newLocalFilesystem(avatar *Avatar, opts ...FilesystemOption) (LocalFilesystem, error) {
	engine := &WindowsFilesystem{
		filesystemBase: newFilesystemBase(avatar, opts),
	}
	engine.paths = engine

	switch {
	case avatar.LockInHomeFolder():
		engine.rootPath = strings.TrimRight(avatar.HomeFolderPath(), `\/`)
	case avatar.RootFolderPath() != "":
		engine.rootPath = strings.TrimRight(avatar.RootFolderPath(), `\/`)
	}
	return engine, nil
}

// renameOS retries a rename over an existing destination. Another process
// holding the destination open makes the replace fail transiently, so the
// destination is deleted and the move retried a few times. Failures not
// caused by the destination, like a missing source, are returned as is.
func renameOS(from, to string) error {
	err := os.Rename(from, to)
	for attempt := 0; err != nil && attempt < 3; attempt++ {
		if !destinationBlocksRename(err, to) {
			return err
		}
		if removeErr := os.Remove(to); removeErr != nil && !os.IsNotExist(removeErr) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		err = os.Rename(from, to)
	}
	return err
}

// destinationBlocksRename reports whether a rename failure points at a
// pre-existing destination that a delete-and-retry could clear.
func destinationBlocksRename(err error, to string) bool {
	if !errors.Is(err, fs.ErrExist) &&
		!errors.Is(err, fs.ErrPermission) &&
		!errors.Is(err, windows.ERROR_SHARING_VIOLATION) {
		return false
	}
	_, statErr := os.Lstat(to)
	return statErr == nil
}

func (w *WindowsFilesystem) realPathFromSegments(segments data.Segments) (string, error) {
	// Normalization strips every parent reference, so a locked path can
	// not climb above the root by construction.
	if w.rootPath != "" {
		return ntLockedPath(w.rootPath, segments), nil
	}
	return ntUnlockedPath(segments)
}

func (w *WindowsFilesystem) segmentsFromRealPath(path string) (data.Segments, error) {
	cleaned := strings.TrimRight(strings.ReplaceAll(path, "/", `\`), `\`)
	if strings.HasPrefix(cleaned, ntLongPrefix) &&
		!strings.HasPrefix(cleaned, ntLongPrefix+`UNC\`) {
		cleaned = cleaned[len(ntLongPrefix):]
	}

	for _, folder := range w.avatar.VirtualFolders() {
		target := strings.TrimRight(
			strings.ReplaceAll(folder.RealPath, "/", `\`), `\`)
		if strings.EqualFold(cleaned, target) {
			return append(data.Segments{}, folder.Segments...), nil
		}
		if len(cleaned) > len(target) &&
			strings.EqualFold(cleaned[:len(target)], target) &&
			cleaned[len(target)] == '\\' {
			remainder := data.SplitPath(cleaned[len(target):], true)
			return append(
				append(data.Segments{}, folder.Segments...), remainder...), nil
		}
	}

	if w.rootPath == "" {
		return ntSegmentsFromPath(cleaned)
	}
	root := strings.TrimRight(strings.ReplaceAll(w.rootPath, "/", `\`), `\`)
	if strings.EqualFold(cleaned, root) {
		return data.Segments{}, nil
	}
	if len(cleaned) <= len(root) ||
		!strings.EqualFold(cleaned[:len(root)], root) ||
		cleaned[len(root)] != '\\' {
		w.logger.Warn("[%d] real path %q is outside root %q",
			data.EventOutsideRoot, path, w.rootPath)
		return nil, data.NewEventError(
			data.EventOutsideRoot, "resolve", path, data.ErrPathOutsideRoot)
	}
	return data.SplitPath(cleaned[len(root):], true), nil
}

func (w *WindowsFilesystem) isAbsolutePath(path string) bool {
	if strings.HasPrefix(path, `\\`) {
		return true
	}
	return len(path) >= 2 && path[1] == ':' && isDriveLetter(path[:1])
}

func (w *WindowsFilesystem) tempSegments() data.Segments {
	if w.rootPath != "" {
		return data.Segments{"tmp"}
	}
	segments, err := ntSegmentsFromPath(os.TempDir())
	if err != nil {
		return data.Segments{"c", "temp"}
	}
	return segments
}

// driveNames lists the mounted drive letters as member names of the
// virtual computer root.
func driveNames() []string {
	mask, err := windows.GetLogicalDrives()
	if err != nil {
		return nil
	}
	var names []string
	for i := 0; i < 26; i++ {
		if mask&(1<<uint(i)) != 0 {
			names = append(names, string(rune('a'+i)))
		}
	}
	return names
}

func (w *WindowsFilesystem) listsDrives(segments data.Segments) bool {
	return w.rootPath == "" && len(segments.Normalize()) == 0
}

// GetFolderContent lists drive letters at the virtual computer root and
// folder members everywhere else.
func (w *WindowsFilesystem) GetFolderContent(
	ctx context.Context, segments data.Segments,
) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.listsDrives(segments) {
		return mergeVirtualNames(w.virtualMembers(segments), driveNames()), nil
	}
	return w.filesystemBase.GetFolderContent(ctx, segments)
}

// IterateFolderContent streams drives as placeholder folders at the
// virtual computer root.
func (w *WindowsFilesystem) IterateFolderContent(
	ctx context.Context, segments data.Segments,
) (*FolderIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.listsDrives(segments) {
		return &FolderIterator{
			ctx:      ctx,
			fs:       &w.filesystemBase,
			segments: data.Segments{},
			shadowed: map[string]bool{},
			virtual: mergeVirtualNames(
				w.virtualMembers(segments), driveNames()),
		}, nil
	}
	return w.filesystemBase.IterateFolderContent(ctx, segments)
}

// GetStatus completes the base attributes with the NTFS file index as the
// node id.
func (w *WindowsFilesystem) GetStatus(
	ctx context.Context, segments data.Segments,
) (*data.FileAttributes, error) {
	attributes, err := w.filesystemBase.GetStatus(ctx, segments)
	if err != nil {
		return nil, err
	}
	w.fillNodeID(segments, attributes)
	return attributes, nil
}

func (w *WindowsFilesystem) GetAttributes(
	ctx context.Context, segments data.Segments,
) (*data.FileAttributes, error) {
	attributes, err := w.filesystemBase.GetAttributes(ctx, segments)
	if err != nil {
		return nil, err
	}
	w.fillNodeID(segments, attributes)
	return attributes, nil
}

func (w *WindowsFilesystem) fillNodeID(
	segments data.Segments, attributes *data.FileAttributes,
) {
	if attributes == nil || attributes.NodeID != 0 {
		return
	}
	path, err := w.resolveRealPath(segments, "status", false)
	if err != nil {
		return
	}
	_ = w.withScope(func() error {
		if id, idErr := fileNodeID(path); idErr == nil {
			attributes.NodeID = id
		}
		return nil
	})
}

func fileNodeID(path string) (uint64, error) {
	pathUTF16, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	handle, err := windows.CreateFile(
		pathUTF16,
		windows.FILE_READ_ATTRIBUTES,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(handle)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(handle, &info); err != nil {
		return 0, err
	}
	return uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow), nil
}

// DeleteFile removes a file or a file symlink. A read-only file blocks
// the first delete; the attribute is cleared and the delete retried.
func (w *WindowsFilesystem) DeleteFile(ctx context.Context, segments data.Segments) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := w.resolveRealPath(segments, "delete-file", true)
	if err != nil {
		return err
	}
	display := data.RenderPath(segments)
	return w.withScope(func() error {
		info, statErr := os.Lstat(path)
		if statErr != nil {
			return data.MapOSError("delete-file", display, statErr)
		}
		if info.IsDir() && info.Mode()&fs.ModeSymlink == 0 {
			return data.NewError("delete-file", display, data.ErrIsFolder)
		}

		removeErr := os.Remove(path)
		if removeErr != nil && os.IsPermission(removeErr) {
			if clearReadOnly(path) == nil {
				removeErr = os.Remove(path)
			}
		}
		return data.MapOSError("delete-file", display, removeErr)
	})
}

func clearReadOnly(path string) error {
	pathUTF16, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	attributes, err := windows.GetFileAttributes(pathUTF16)
	if err != nil {
		return err
	}
	return windows.SetFileAttributes(
		pathUTF16, attributes&^windows.FILE_ATTRIBUTE_READONLY)
}

// DeleteFolder removes a folder. A symlinked folder is deleted as a link
// and its target is never traversed. The avatar root itself is refused.
func (w *WindowsFilesystem) DeleteFolder(
	ctx context.Context, segments data.Segments, recursive bool,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(segments.Normalize()) == 0 {
		w.logger.Warn("[%d] refused to delete the root folder for %q",
			data.EventDeleteRootFolder, w.avatar.Name())
		return data.NewEventError(
			data.EventDeleteRootFolder, "delete-folder", "/",
			fmt.Errorf("%w: deleting the root folder is not allowed",
				data.ErrPermissionDenied))
	}

	path, err := w.resolveRealPath(segments, "delete-folder", true)
	if err != nil {
		return err
	}
	display := data.RenderPath(segments)
	return w.withScope(func() error {
		info, statErr := os.Lstat(path)
		if statErr != nil {
			return data.MapOSError("delete-folder", display, statErr)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return data.MapOSError("delete-folder", display, os.Remove(path))
		}
		if !info.IsDir() {
			return data.NewError("delete-folder", display, data.ErrNotFolder)
		}
		if !recursive {
			return data.MapOSError("delete-folder", display, os.Remove(path))
		}
		return data.MapOSError("delete-folder", display, os.RemoveAll(path))
	})
}

// SetAttributes applies the present fields of changes. Ownership changes
// go through SetOwner; numeric ids have no meaning here.
func (w *WindowsFilesystem) SetAttributes(
	ctx context.Context, segments data.Segments, changes data.AttributeChanges,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := w.resolveRealPath(segments, "set-attributes", true)
	if err != nil {
		return err
	}
	display := data.RenderPath(segments)
	if changes.UID != nil || changes.GID != nil {
		return data.NewError("set-attributes", display,
			fmt.Errorf("%w: numeric ownership ids", data.ErrUnsupported))
	}
	return w.withScope(func() error {
		if changes.Mode != nil {
			// Only the read-only bit maps onto the Windows model.
			if chmodErr := os.Chmod(path, *changes.Mode); chmodErr != nil {
				return data.MapOSError("set-attributes", display, chmodErr)
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

func lookupSID(account string) (*windows.SID, error) {
	sid, _, _, err := windows.LookupSID("", account)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: unknown account %q", data.ErrIdentity, account)
	}
	return sid, nil
}

// SetOwner transfers ownership of segments to the named account. Taking
// ownership for another account needs the restore privilege enabled.
func (w *WindowsFilesystem) SetOwner(
	ctx context.Context, segments data.Segments, owner string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	display := data.RenderPath(segments)
	sid, err := lookupSID(owner)
	if err != nil {
		return data.NewEventError(
			data.EventSetOwnerFailed, "set-owner", display, err)
	}
	path, err := w.resolveRealPath(segments, "set-owner", true)
	if err != nil {
		return err
	}
	return w.withScope(func() error {
		_ = enablePrivilege("SeTakeOwnershipPrivilege")
		_ = enablePrivilege("SeRestorePrivilege")
		setErr := windows.SetNamedSecurityInfo(
			path,
			windows.SE_FILE_OBJECT,
			windows.OWNER_SECURITY_INFORMATION,
			sid, nil, nil, nil,
		)
		if setErr != nil {
			w.logger.Warn("[%d] failed to set owner %q on %s: %v",
				data.EventSetOwnerFailed, owner, display, setErr)
			return data.NewEventError(
				data.EventSetOwnerFailed, "set-owner", display,
				fmt.Errorf("%w: %v", data.ErrPermissionDenied, setErr))
		}
		return nil
	})
}

// GetOwner returns the account name owning segments.
func (w *WindowsFilesystem) GetOwner(
	ctx context.Context, segments data.Segments,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := w.resolveRealPath(segments, "get-owner", false)
	if err != nil {
		return "", err
	}
	display := data.RenderPath(segments)

	var owner string
	scopeErr := w.withScope(func() error {
		descriptor, getErr := windows.GetNamedSecurityInfo(
			path, windows.SE_FILE_OBJECT, windows.OWNER_SECURITY_INFORMATION)
		if getErr != nil {
			return data.MapOSError("get-owner", display, getErr)
		}
		sid, _, sidErr := descriptor.Owner()
		if sidErr != nil {
			return data.MapOSError("get-owner", display, sidErr)
		}
		account, _, _, lookupErr := sid.LookupAccount("")
		if lookupErr != nil {
			return data.NewError("get-owner", display,
				fmt.Errorf("%w: no account for owner sid",
					data.ErrIdentity))
		}
		owner = account
		return nil
	})
	return owner, scopeErr
}

func (w *WindowsFilesystem) fileDACL(path string) (*windows.ACL, error) {
	descriptor, err := windows.GetNamedSecurityInfo(
		path, windows.SE_FILE_OBJECT, windows.DACL_SECURITY_INFORMATION)
	if err != nil {
		return nil, err
	}
	dacl, _, err := descriptor.DACL()
	if err != nil {
		return nil, err
	}
	return dacl, nil
}

// accessAllowedACE mirrors the ACCESS_ALLOWED_ACE layout; the SID is
// stored inline starting at SidStart.
type accessAllowedACE struct {
	AceType  byte
	AceFlags byte
	AceSize  uint16
	Mask     uint32
	SidStart uint32
}

// eachACE walks the DACL, stopping when visit returns false.
func eachACE(dacl *windows.ACL, visit func(index int, ace *accessAllowedACE) bool) {
	for index := 0; ; index++ {
		var ace *accessAllowedACE
		ret, _, _ := procGetAce.Call(
			uintptr(unsafe.Pointer(dacl)),
			uintptr(index),
			uintptr(unsafe.Pointer(&ace)),
		)
		if ret == 0 {
			return
		}
		if !visit(index, ace) {
			return
		}
	}
}

func aceSID(ace *accessAllowedACE) *windows.SID {
	return (*windows.SID)(unsafe.Pointer(&ace.SidStart))
}

// AddGroup grants the named group read access to segments, inherited by
// folder members.
func (w *WindowsFilesystem) AddGroup(
	ctx context.Context, segments data.Segments, group string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	display := data.RenderPath(segments)
	sid, err := lookupSID(group)
	if err != nil {
		return data.NewEventError(
			data.EventAddGroupFailed, "add-group", display, err)
	}
	path, err := w.resolveRealPath(segments, "add-group", true)
	if err != nil {
		return err
	}
	return w.withScope(func() error {
		dacl, daclErr := w.fileDACL(path)
		if daclErr != nil {
			return data.MapOSError("add-group", display, daclErr)
		}
		entry := windows.EXPLICIT_ACCESS{
			AccessPermissions: windows.GENERIC_READ | windows.GENERIC_EXECUTE,
			AccessMode:        windows.GRANT_ACCESS,
			Inheritance:       windows.SUB_CONTAINERS_AND_OBJECTS_INHERIT,
			Trustee: windows.TRUSTEE{
				TrusteeForm:  windows.TRUSTEE_IS_SID,
				TrusteeType:  windows.TRUSTEE_IS_GROUP,
				TrusteeValue: windows.TrusteeValueFromSID(sid),
			},
		}
		newDACL, aclErr := windows.ACLFromEntries(
			[]windows.EXPLICIT_ACCESS{entry}, dacl)
		if aclErr != nil {
			return data.MapOSError("add-group", display, aclErr)
		}
		setErr := windows.SetNamedSecurityInfo(
			path,
			windows.SE_FILE_OBJECT,
			windows.DACL_SECURITY_INFORMATION,
			nil, nil, newDACL, nil,
		)
		if setErr != nil {
			w.logger.Warn("[%d] failed to add group %q on %s: %v",
				data.EventAddGroupFailed, group, display, setErr)
			return data.NewEventError(
				data.EventAddGroupFailed, "add-group", display,
				fmt.Errorf("%w: %v", data.ErrPermissionDenied, setErr))
		}
		return nil
	})
}

// RemoveGroup drops every access entry of the named group from segments.
func (w *WindowsFilesystem) RemoveGroup(
	ctx context.Context, segments data.Segments, group string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	display := data.RenderPath(segments)
	sid, err := lookupSID(group)
	if err != nil {
		return data.NewEventError(
			data.EventRemoveGroupFailed, "remove-group", display, err)
	}
	path, err := w.resolveRealPath(segments, "remove-group", true)
	if err != nil {
		return err
	}
	return w.withScope(func() error {
		dacl, daclErr := w.fileDACL(path)
		if daclErr != nil {
			return data.MapOSError("remove-group", display, daclErr)
		}

		wanted := sid.String()
		// Deleting shifts later entries down, so matches are removed from
		// the highest index first.
		var matches []int
		eachACE(dacl, func(index int, ace *accessAllowedACE) bool {
			if aceSID(ace).String() == wanted {
				matches = append(matches, index)
			}
			return true
		})
		for i := len(matches) - 1; i >= 0; i-- {
			ret, _, callErr := procDeleteAce.Call(
				uintptr(unsafe.Pointer(dacl)), uintptr(matches[i]))
			if ret == 0 {
				return data.NewEventError(
					data.EventRemoveGroupFailed, "remove-group", display,
					fmt.Errorf("%w: %v", data.ErrPermissionDenied, callErr))
			}
		}

		setErr := windows.SetNamedSecurityInfo(
			path,
			windows.SE_FILE_OBJECT,
			windows.DACL_SECURITY_INFORMATION,
			nil, nil, dacl, nil,
		)
		if setErr != nil {
			w.logger.Warn("[%d] failed to remove group %q on %s: %v",
				data.EventRemoveGroupFailed, group, display, setErr)
			return data.NewEventError(
				data.EventRemoveGroupFailed, "remove-group", display,
				fmt.Errorf("%w: %v", data.ErrPermissionDenied, setErr))
		}
		return nil
	})
}

// HasGroup reports whether the named group holds an access entry on
// segments.
func (w *WindowsFilesystem) HasGroup(
	ctx context.Context, segments data.Segments, group string,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	display := data.RenderPath(segments)
	sid, err := lookupSID(group)
	if err != nil {
		return false, data.NewError("has-group", display, err)
	}
	path, err := w.resolveRealPath(segments, "has-group", false)
	if err != nil {
		return false, err
	}

	found := false
	scopeErr := w.withScope(func() error {
		dacl, daclErr := w.fileDACL(path)
		if daclErr != nil {
			return data.MapOSError("has-group", display, daclErr)
		}
		wanted := sid.String()
		eachACE(dacl, func(index int, ace *accessAllowedACE) bool {
			if aceSID(ace).String() == wanted {
				found = true
				return false
			}
			return true
		})
		return nil
	})
	return found, scopeErr
}

// ReadLink returns the segments a symbolic link points to, decoded from
// the reparse point.
func (w *WindowsFilesystem) ReadLink(
	ctx context.Context, segments data.Segments,
) (data.Segments, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := w.resolveRealPath(segments, "read-link", false)
	if err != nil {
		return nil, err
	}
	display := data.RenderPath(segments)

	var reparse *SymbolicLinkReparse
	scopeErr := w.withScope(func() error {
		buffer, readErr := readReparseData(path)
		if readErr != nil {
			return data.MapOSError("read-link", display, readErr)
		}
		decoded, decodeErr := decodeReparseData(buffer)
		if decodeErr != nil {
			return data.NewError("read-link", display, decodeErr)
		}
		reparse = decoded
		return nil
	})
	if scopeErr != nil {
		return nil, scopeErr
	}

	target := reparse.PrintName
	if target == "" {
		target = reparse.SubstituteName
	}
	return w.segmentsFromRealPath(target)
}

func readReparseData(path string) ([]byte, error) {
	pathUTF16, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}
	handle, err := windows.CreateFile(
		pathUTF16,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OPEN_REPARSE_POINT,
		0,
	)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(handle)

	buffer := make([]byte, windows.MAXIMUM_REPARSE_DATA_BUFFER_SIZE)
	var returned uint32
	err = windows.DeviceIoControl(
		handle,
		windows.FSCTL_GET_REPARSE_POINT,
		nil, 0,
		&buffer[0], uint32(len(buffer)),
		&returned, nil,
	)
	if err != nil {
		return nil, err
	}
	return buffer[:returned], nil
}

// MakeLink creates a symbolic link at link pointing to target. Creating
// links needs a privilege that starts disabled on elevated tokens.
func (w *WindowsFilesystem) MakeLink(
	ctx context.Context, target, link data.Segments,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	targetPath, err := w.resolveRealPath(target, "make-link", false)
	if err != nil {
		return err
	}
	linkPath, err := w.resolveRealPath(link, "make-link", true)
	if err != nil {
		return err
	}
	isFolder := w.IsFolder(ctx, target)
	return w.withScope(func() error {
		_ = enablePrivilege("SeCreateSymbolicLinkPrivilege")

		linkUTF16, convErr := windows.UTF16PtrFromString(linkPath)
		if convErr != nil {
			return convErr
		}
		targetUTF16, convErr := windows.UTF16PtrFromString(targetPath)
		if convErr != nil {
			return convErr
		}
		var flags uint32
		if isFolder {
			flags = windows.SYMBOLIC_LINK_FLAG_DIRECTORY
		}
		makeErr := windows.CreateSymbolicLink(linkUTF16, targetUTF16, flags)
		return data.MapOSError("make-link", data.RenderPath(link), makeErr)
	})
}
