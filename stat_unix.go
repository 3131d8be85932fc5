//go:build !windows

package oscompat

import (
	"io/fs"
	"syscall"

	"github.com/chevah/oscompat/data"
)

// statIDs extracts ownership and identity fields from the native stat
// result backing info.
func statIDs(info fs.FileInfo) (uid, gid, hardLinks int, nodeID uint64) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return data.UnknownID, data.UnknownID, 1, 0
	}
	return int(stat.Uid), int(stat.Gid), int(stat.Nlink), stat.Ino
}
