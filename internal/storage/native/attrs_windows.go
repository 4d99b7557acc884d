//go:build windows
// +build windows

package native

import (
	"io/fs"
	"syscall"

	"nmfstore/internal/storage"
)

// Windows file attributes constants
const (
	FILE_ATTRIBUTE_HIDDEN = 0x02
	FILE_ATTRIBUTE_SYSTEM = 0x04
)

// platformAttributes checks the Windows hidden/system attributes and creation time.
// The file reference number needs an open handle and is left unknown.
func platformAttributes(path string, info fs.FileInfo) platformAttrs {
	var pa platformAttrs
	if d, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		ft := uint64(d.CreationTime.HighDateTime)<<32 | uint64(d.CreationTime.LowDateTime)
		pa.created = storage.FileTimeToTime(ft)
	}

	// Convert Go string to UTF-16 for Windows API
	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return pa
	}
	attrs, err := syscall.GetFileAttributes(pathPtr)
	if err != nil {
		return pa
	}
	pa.hidden = attrs&FILE_ATTRIBUTE_HIDDEN != 0
	pa.system = attrs&FILE_ATTRIBUTE_SYSTEM != 0
	return pa
}
