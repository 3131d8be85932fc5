//go:build windows

package oscompat

import (
	"io/fs"

	"github.com/chevah/oscompat/data"
)

// statIDs reports no numeric ownership on Windows, where owners are SIDs
// resolved separately. The node id is filled by the engine variant from
// the volume serial and file index when a handle is available.
func statIDs(info fs.FileInfo) (uid, gid, hardLinks int, nodeID uint64) {
	return data.UnknownID, data.UnknownID, 1, 0
}
