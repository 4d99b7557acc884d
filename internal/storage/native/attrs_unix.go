//go:build !windows
// +build !windows

package native

import (
	"io/fs"
	"syscall"
)

// platformAttributes reads what the host adds on top of fs.FileInfo.
// Unix has no hidden bit beyond dotfiles and no portable birth time;
// the inode number serves as the file reference number.
func platformAttributes(_ string, info fs.FileInfo) platformAttrs {
	var pa platformAttrs
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		pa.frn, pa.frnOK = uint64(st.Ino), true
	}
	return pa
}
