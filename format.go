package main

import (
	"context"
	"fmt"
	"time"

	"nmfstore/internal/constants"
	"nmfstore/internal/storage"
)

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = constants.FileSizeUnit
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), constants.FileSizeUnits[exp])
}

const timeLayout = "2006-01-02 15:04"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// formatEntry renders one listing line: type, size, modified time, name.
// Folders get a trailing slash and no size.
func formatEntry(ctx context.Context, it storage.Item) string {
	size, mod := "", "-"
	if bp, err := it.BasicProperties(ctx); err == nil {
		if it.Kind() == storage.KindFile && bp.HasSize() {
			size = FormatFileSize(int64(bp.Size()))
		}
		if bp.HasDateModified() {
			mod = formatTime(bp.DateModified())
		}
	} else {
		debugPrint("properties %s: %v", it.Path(), err)
	}
	typ, name := "-", it.DisplayName()
	if it.Kind() == storage.KindFolder {
		typ, name = "d", name+"/"
	}
	if it.Attributes().Has(storage.AttrReparsePoint) {
		typ = "l"
	}
	return fmt.Sprintf("%s %10s  %-16s  %s", typ, size, mod, name)
}
