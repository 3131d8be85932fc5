package data

import (
	"io/fs"
	"time"
)

// UnknownID marks an uid/gid that the host cannot report, such as POSIX
// ownership fields on Windows.
const UnknownID = -1

// FileAttributes is the portable projection of file metadata returned by
// the filesystem engine.
//
// IsFile, IsFolder and IsLink are not mutually exclusive: a symbolic link
// to a file reports both IsFile and IsLink.
type FileAttributes struct {
	Name string
	Path string

	Size     int64
	IsFile   bool
	IsFolder bool
	IsLink   bool

	// Modified is a unix timestamp in seconds.
	Modified int64

	// Mode holds POSIX-style permission bits. On Windows only the
	// read-only projection supplied by the runtime is meaningful.
	Mode      fs.FileMode
	HardLinks int

	// UID and GID are UnknownID when the host has no POSIX ownership.
	UID int
	GID int

	Owner string
	Group string

	// NodeID is the inode number, or the NTFS file index on Windows.
	NodeID uint64
}

// AttributeChanges describes the subset of attributes to update with
// SetAttributes. Nil fields are left untouched. UID and GID must be set
// together, as must ATime and MTime.
type AttributeChanges struct {
	Mode *fs.FileMode

	UID *int
	GID *int

	ATime *time.Time
	MTime *time.Time
}

// placeholderModified is the fixed sentinel modification time used for
// synthesized virtual-folder attributes: midnight January 1 of the
// current year.
func placeholderModified() int64 {
	now := time.Now()
	return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.Local).Unix()
}

// PlaceholderAttributes synthesizes read-only directory attributes for a
// path that exists only as part of the virtual-folder overlay. The
// virtual tree must stay browsable even where no backing directory
// exists.
func PlaceholderAttributes(name, path string) *FileAttributes {
	return &FileAttributes{
		Name:      name,
		Path:      path,
		Size:      0,
		IsFile:    false,
		IsFolder:  true,
		IsLink:    false,
		Modified:  placeholderModified(),
		Mode:      fs.ModeDir | 0o555,
		HardLinks: 1,
		UID:       1,
		GID:       1,
	}
}
