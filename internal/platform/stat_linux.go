//go:build linux

package platform

import (
	"io/fs"
	"syscall"
	"time"
)

func sysStat(info fs.FileInfo) (atime time.Time, blocks int64, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, 0, false
	}
	return time.Unix(st.Atim.Unix()), st.Blocks, true
}
