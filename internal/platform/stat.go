// Package platform extracts filesystem metadata that the standard library
// only exposes through platform-specific stat structures.
package platform

import (
	"io/fs"
	"time"
)

// blockSize is the unit of st_blocks on every supported Unix.
const blockSize = 512

// FileStat is the subset of file metadata used for cache accounting.
type FileStat struct {
	// AccessTime is the last access time, or the modification time where the
	// platform does not report one.
	AccessTime time.Time
	// AllocatedSize is the number of bytes the filesystem has allocated for
	// the file, or the logical size where that is unavailable.
	AllocatedSize int64
	// Size is the logical length in bytes.
	Size int64
}

// Stat converts info into a FileStat.
func Stat(info fs.FileInfo) FileStat {
	st := FileStat{
		AccessTime:    info.ModTime(),
		AllocatedSize: info.Size(),
		Size:          info.Size(),
	}
	if atime, blocks, ok := sysStat(info); ok {
		st.AccessTime = atime
		st.AllocatedSize = blocks * blockSize
	}
	return st
}
