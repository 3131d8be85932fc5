package oscompat

import (
	"context"
	"os"

	"github.com/chevah/oscompat/data"
	"github.com/chevah/oscompat/log"
)

// LocalFilesystem is elevated access to the local filesystem on behalf of
// an avatar. All paths are data.Segments relative to the avatar root;
// native calls run inside the avatar impersonation scope.
type LocalFilesystem interface {
	// Avatar returns the identity the filesystem operates as.
	Avatar() *Avatar
	// Capabilities returns the process capability detector.
	Capabilities() *ProcessCapabilities

	// HomeSegments returns the avatar home folder relative to the root.
	// Fails when a configured root does not contain the home folder.
	HomeSegments() (data.Segments, error)
	// TempSegments returns the folder for temporary files.
	TempSegments() data.Segments
	// GetPath renders segments in the canonical display form.
	GetPath(segments data.Segments) string
	// GetSegments parses a display path, resolving relative input against
	// the home folder.
	GetSegments(path string) (data.Segments, error)
	// GetRealPathFromSegments resolves segments to the OS path inside the
	// avatar root.
	GetRealPathFromSegments(segments data.Segments) (string, error)
	// GetSegmentsFromRealPath is the inverse mapping. It fails when the
	// real path falls outside a locked root.
	GetSegmentsFromRealPath(path string) (data.Segments, error)
	// IsAbsolutePath reports whether path is absolute in the host syntax.
	IsAbsolutePath(path string) bool

	Exists(ctx context.Context, segments data.Segments) bool
	IsFile(ctx context.Context, segments data.Segments) bool
	IsFolder(ctx context.Context, segments data.Segments) bool
	IsLink(ctx context.Context, segments data.Segments) bool

	CreateFolder(ctx context.Context, segments data.Segments, recursive bool) error
	DeleteFile(ctx context.Context, segments data.Segments) error
	DeleteFolder(ctx context.Context, segments data.Segments, recursive bool) error
	Rename(ctx context.Context, from, to data.Segments) error
	CopyFile(ctx context.Context, source, destination data.Segments, overwrite bool) error
	Touch(ctx context.Context, segments data.Segments) error

	OpenForReading(ctx context.Context, segments data.Segments) (*os.File, error)
	OpenForWriting(ctx context.Context, segments data.Segments) (*os.File, error)
	OpenForAppending(ctx context.Context, segments data.Segments) (*os.File, error)
	OpenForUpdating(ctx context.Context, segments data.Segments) (*os.File, error)

	// GetAttributes returns the attributes of segments without following a
	// final link for identity, but borrowing size/kind/modified from the
	// link target when it resolves.
	GetAttributes(ctx context.Context, segments data.Segments) (*data.FileAttributes, error)
	// GetStatus is GetAttributes with links fully followed.
	GetStatus(ctx context.Context, segments data.Segments) (*data.FileAttributes, error)
	GetFileSize(ctx context.Context, segments data.Segments) (int64, error)
	SetAttributes(ctx context.Context, segments data.Segments, changes data.AttributeChanges) error

	SetOwner(ctx context.Context, segments data.Segments, owner string) error
	GetOwner(ctx context.Context, segments data.Segments) (string, error)
	AddGroup(ctx context.Context, segments data.Segments, group string) error
	RemoveGroup(ctx context.Context, segments data.Segments, group string) error
	HasGroup(ctx context.Context, segments data.Segments, group string) (bool, error)

	ReadLink(ctx context.Context, segments data.Segments) (data.Segments, error)
	MakeLink(ctx context.Context, target, link data.Segments) error

	// GetFolderContent returns the member names of a folder, virtual
	// members included.
	GetFolderContent(ctx context.Context, segments data.Segments) ([]string, error)
	// IterateFolderContent streams folder members with bounded per-item
	// cost. The iterator must be closed.
	IterateFolderContent(ctx context.Context, segments data.Segments) (*FolderIterator, error)
}

// FilesystemOption configures a filesystem during construction.
type FilesystemOption func(*filesystemBase)

// WithLogger routes engine diagnostics to the given logger.
func WithLogger(logger *log.Logger) FilesystemOption {
	return func(f *filesystemBase) {
		f.logger = logger
	}
}

// NewLocalFilesystem returns the filesystem engine for the current OS,
// confined and impersonated per the avatar. A nil avatar gets the
// unrestricted avatar of the current process.
func NewLocalFilesystem(avatar *Avatar, opts ...FilesystemOption) (LocalFilesystem, error) {
	if avatar == nil {
		current, err := CurrentProcessAvatar()
		if err != nil {
			return nil, err
		}
		avatar = current
	}
	return newLocalFilesystem(avatar, opts...)
}
