package storage

import (
	"mime"
	"strings"
	"time"
)

// NormalizeDisplayName appends the extension of parsingPath to displayName
// when the provider's display name dropped it. Recycle bin entries and shell
// items are the usual offenders. Applying it twice is the same as once.
func NormalizeDisplayName(displayName, parsingPath string) string {
	ext := extOf(parsingPath)
	if ext == "" {
		return displayName
	}
	if strings.HasSuffix(strings.ToLower(displayName), strings.ToLower(ext)) {
		return displayName
	}
	return displayName + ext
}

// extOf is filepath.Ext over both separator styles and URIs.
func extOf(p string) string {
	base := BaseName(p)
	i := strings.LastIndexByte(base, '.')
	if i <= 0 || i == len(base)-1 {
		return ""
	}
	return base[i:]
}

// CanonicalTime converts a provider time to the canonical representation: local time, zero stays zero.
func CanonicalTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Local()
}

// TimeOrDefault returns CanonicalTime(t), or DefaultTimestamp when t is zero.
func TimeOrDefault(t time.Time) time.Time {
	if t.IsZero() {
		return DefaultTimestamp()
	}
	return t.Local()
}

// Windows FILETIME: 100ns ticks since 1601-01-01 UTC.
const fileTimeEpochDelta = 116444736000000000

// FileTimeToTime converts a FILETIME value (as found in zip extra fields and
// SMB attributes) to canonical local time. 0 yields the zero time.
func FileTimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - fileTimeEpochDelta
	return time.Unix(0, ticks*100).Local()
}

// ContentType guesses a MIME type from the name's extension.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(FileType(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
