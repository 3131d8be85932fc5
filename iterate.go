package oscompat

import (
	"context"
	"io"
	"os"

	"github.com/chevah/oscompat/data"
)

// iteratorBatchSize bounds how many directory entries are read and
// stat-ed per impersonation scope acquisition.
const iteratorBatchSize = 128

// FolderIterator streams the members of a folder without materializing
// the whole listing. Virtual members come first, then real entries in
// directory order. Close releases the directory handle and must always
// be called.
type FolderIterator struct {
	ctx      context.Context
	fs       *filesystemBase
	segments data.Segments
	file     *os.File

	virtual  []string
	shadowed map[string]bool
	batch    []*data.FileAttributes
	current  *data.FileAttributes
	err      error
	done     bool
}

// IterateFolderContent opens a folder member stream.
func (f *filesystemBase) IterateFolderContent(
	ctx context.Context, segments data.Segments,
) (*FolderIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	iterator := &FolderIterator{
		ctx:      ctx,
		fs:       f,
		segments: append(data.Segments{}, segments...),
		shadowed: map[string]bool{},
	}

	res := f.resolveVirtual(segments)
	switch res.kind {
	case virtualAncestor:
		// Purely virtual folder, nothing to open.
		iterator.virtual = f.virtualMembers(segments)
		return iterator, nil
	case virtualBroken:
		return nil, f.brokenError("iterate", segments)
	}

	path, err := f.resolveRealPath(segments, "iterate", false)
	if err != nil {
		return nil, err
	}
	display := data.RenderPath(segments)

	scopeErr := f.withScope(func() error {
		handle, openErr := os.Open(path)
		if openErr != nil {
			return data.MapOSError("iterate", display, openErr)
		}
		info, statErr := handle.Stat()
		if statErr != nil {
			handle.Close()
			return data.MapOSError("iterate", display, statErr)
		}
		if !info.IsDir() {
			handle.Close()
			return data.NewError("iterate", display, data.ErrNotFolder)
		}
		iterator.file = handle
		return nil
	})
	if scopeErr != nil {
		return nil, scopeErr
	}

	if len(segments) == 0 {
		iterator.virtual = f.virtualMembers(segments)
		for _, name := range iterator.virtual {
			iterator.shadowed[foldName(name)] = true
		}
	}
	return iterator, nil
}

// Next advances to the next member. It returns false at the end of the
// folder or on error; check Err afterwards.
func (it *FolderIterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}

	if len(it.virtual) > 0 {
		name := it.virtual[0]
		it.virtual = it.virtual[1:]
		member := append(append(data.Segments{}, it.segments...), name)
		it.current = data.PlaceholderAttributes(name, data.RenderPath(member))
		return true
	}

	for {
		if len(it.batch) == 0 {
			if !it.fill() {
				return false
			}
		}
		it.current = it.batch[0]
		it.batch = it.batch[1:]
		if !it.shadowed[foldName(it.current.Name)] {
			return true
		}
	}
}

// fill reads and stats the next batch of entries inside one scope.
func (it *FolderIterator) fill() bool {
	if it.file == nil {
		it.done = true
		return false
	}

	scopeErr := it.fs.withScope(func() error {
		entries, readErr := it.file.ReadDir(iteratorBatchSize)
		if readErr == io.EOF || (readErr == nil && len(entries) == 0) {
			it.done = true
			return nil
		}
		if readErr != nil {
			return data.MapOSError(
				"iterate", data.RenderPath(it.segments), readErr)
		}

		it.batch = make([]*data.FileAttributes, 0, len(entries))
		for _, entry := range entries {
			info, infoErr := entry.Info()
			if infoErr != nil {
				// Entry removed between listing and stat.
				continue
			}
			name := decodeFileName(entry.Name())
			member := append(append(data.Segments{}, it.segments...), name)
			attributes := it.fs.attributesFromInfo(member, info)
			attributes.Name = name
			it.batch = append(it.batch, attributes)
		}
		return nil
	})
	if scopeErr != nil {
		it.err = scopeErr
		return false
	}
	return !it.done || len(it.batch) > 0
}

// Attributes returns the member the iterator is positioned on. Only valid
// after Next reported true.
func (it *FolderIterator) Attributes() *data.FileAttributes {
	return it.current
}

// Err returns the first error hit while iterating, nil at a clean end.
func (it *FolderIterator) Err() error {
	return it.err
}

// Close releases the directory handle. Safe to call more than once.
func (it *FolderIterator) Close() error {
	it.done = true
	if it.file == nil {
		return nil
	}
	file := it.file
	it.file = nil
	return file.Close()
}
