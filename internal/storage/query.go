package storage

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	apperrors "nmfstore/internal/errors"
)

// QueryKind is the closed set of common queries.
type QueryKind int

const (
	QueryAll QueryKind = iota
	QueryFiles
	QueryFolders
)

// Extension groups usable in Query.Group.
var ExtensionGroups = map[string][]string{
	"documents": {".txt", ".md", ".pdf", ".doc", ".docx", ".odt", ".rtf", ".xls", ".xlsx", ".ppt", ".pptx"},
	"images":    {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".tif", ".tiff", ".svg", ".heic"},
	"music":     {".mp3", ".flac", ".wav", ".ogg", ".m4a", ".aac", ".opus"},
	"videos":    {".mp4", ".mkv", ".avi", ".mov", ".webm", ".wmv"},
	"archives":  {".zip", ".7z", ".rar", ".tar", ".gz", ".lzh", ".mrpack", ".jar"},
}

// Query filters and pages a folder listing. The zero value lists everything.
// Extensions and Group only ever match files.
type Query struct {
	Kind       QueryKind
	Extensions []string
	Group      string
	Pattern    string // doublestar pattern matched against the item name
	StartIndex int
	MaxItems   int // 0 = no limit
}

// Validate checks the pattern and pagination bounds.
func (q Query) Validate() error {
	if q.StartIndex < 0 || q.MaxItems < 0 {
		return apperrors.NewIOError("", "query", "", errNegativePage)
	}
	if q.Pattern != "" && !doublestar.ValidatePattern(q.Pattern) {
		return apperrors.NewIOError("", "query", q.Pattern, doublestar.ErrBadPattern)
	}
	if q.Group != "" {
		if _, ok := ExtensionGroups[strings.ToLower(q.Group)]; !ok {
			return apperrors.NewIOError("", "query", q.Group, errUnknownGroup)
		}
	}
	return nil
}

const (
	errNegativePage constError = "negative start index or page size"
	errUnknownGroup constError = "unknown extension group"
)

// Matches reports whether item passes the query's filters (pagination aside).
func (q Query) Matches(item Item) bool {
	switch q.Kind {
	case QueryFiles:
		if item.Kind() != KindFile {
			return false
		}
	case QueryFolders:
		if item.Kind() != KindFolder {
			return false
		}
	}
	exts := q.Extensions
	if q.Group != "" {
		exts = append(append([]string(nil), exts...), ExtensionGroups[strings.ToLower(q.Group)]...)
	}
	if len(exts) > 0 {
		if item.Kind() != KindFile {
			return false
		}
		ft := FileType(item.Name())
		hit := false
		for _, e := range exts {
			if strings.EqualFold(ft, e) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if q.Pattern != "" {
		ok, err := doublestar.Match(q.Pattern, item.Name())
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// ApplyQuery filters items in their natural order and then pages the result.
// Adapters list everything and hand the slice here, so filtering and
// pagination behave the same on every provider.
func ApplyQuery(ctx context.Context, items []Item, q Query) ([]Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(items))
	skipped := 0
	for i, it := range items {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, apperrors.NewCanceledError("", "query", "", err)
			}
		}
		if !q.Matches(it) {
			continue
		}
		if skipped < q.StartIndex {
			skipped++
			continue
		}
		out = append(out, it)
		if q.MaxItems > 0 && len(out) == q.MaxItems {
			break
		}
	}
	return out, nil
}

// GetItems lists every item of folder.
func GetItems(ctx context.Context, f Folder) ([]Item, error) {
	return f.Items(ctx, Query{})
}

// GetFiles lists the files of folder.
func GetFiles(ctx context.Context, f Folder) ([]File, error) {
	items, err := f.Items(ctx, Query{Kind: QueryFiles})
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(items))
	for _, it := range items {
		if file, ok := TryFile(it); ok {
			files = append(files, file)
		}
	}
	return files, nil
}

// GetFolders lists the subfolders of folder.
func GetFolders(ctx context.Context, f Folder) ([]Folder, error) {
	items, err := f.Items(ctx, Query{Kind: QueryFolders})
	if err != nil {
		return nil, err
	}
	folders := make([]Folder, 0, len(items))
	for _, it := range items {
		if folder, ok := TryFolder(it); ok {
			folders = append(folders, folder)
		}
	}
	return folders, nil
}
