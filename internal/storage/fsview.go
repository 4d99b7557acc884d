package storage

import (
	"context"
	"io"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	apperrors "nmfstore/internal/errors"
)

// The io/fs view lets code written against fs.FS (templates, http.FS,
// doublestar, fs.WalkDir) use any folder. Every method forwards to the
// canonical Item/File/Folder operation and only converts the result.

// FileInfo is the fs.FileInfo view of an item. Sys returns the Item.
type FileInfo struct {
	item  Item
	basic BasicProperties
}

// NewFileInfo reads the item's basic properties once and wraps them.
func NewFileInfo(ctx context.Context, item Item) (*FileInfo, error) {
	b, err := item.BasicProperties(ctx)
	if err != nil {
		return nil, err
	}
	return &FileInfo{item: item, basic: b}, nil
}

func (fi *FileInfo) Name() string { return fi.item.Name() }

func (fi *FileInfo) Size() int64 {
	if fi.item.Kind() == KindFolder {
		return 0
	}
	return int64(fi.basic.Size())
}

func (fi *FileInfo) Mode() fs.FileMode {
	m := fs.FileMode(0o644)
	if fi.item.Kind() == KindFolder {
		m = fs.ModeDir | 0o755
	}
	if fi.item.Attributes().Has(AttrReadOnly) {
		m &^= 0o222
	}
	if fi.item.Attributes().Has(AttrReparsePoint) {
		m |= fs.ModeSymlink
	}
	return m
}

// ModTime is the zero time when the provider supplied none, as with embed.FS.
func (fi *FileInfo) ModTime() time.Time {
	if !fi.basic.HasDateModified() {
		return time.Time{}
	}
	return fi.basic.DateModified()
}

func (fi *FileInfo) IsDir() bool { return fi.item.Kind() == KindFolder }
func (fi *FileInfo) Sys() any    { return fi.item }

// ItemFromFileInfo recovers the Item behind a FileInfo produced by this package.
func ItemFromFileInfo(info fs.FileInfo) (Item, bool) {
	it, ok := info.Sys().(Item)
	return it, ok
}

// DirEntry is the fs.DirEntry view of an item.
type DirEntry struct {
	ctx  context.Context
	item Item
}

func NewDirEntry(ctx context.Context, item Item) *DirEntry {
	return &DirEntry{ctx: ctx, item: item}
}

func (d *DirEntry) Name() string               { return d.item.Name() }
func (d *DirEntry) IsDir() bool                { return d.item.Kind() == KindFolder }
func (d *DirEntry) Type() fs.FileMode          { return (&FileInfo{item: d.item}).Mode().Type() }
func (d *DirEntry) Info() (fs.FileInfo, error) { return NewFileInfo(d.ctx, d.item) }
func (d *DirEntry) Item() Item                 { return d.item }

// FS is the fs.FS view of a folder.
type FS struct {
	ctx  context.Context
	root Folder
}

var (
	_ fs.FS        = (*FS)(nil)
	_ fs.StatFS    = (*FS)(nil)
	_ fs.ReadDirFS = (*FS)(nil)
)

// NewFS exposes root as an fs.FS. ctx bounds every call made through it.
func NewFS(ctx context.Context, root Folder) *FS {
	return &FS{ctx: ctx, root: root}
}

func (f *FS) lookup(op, name string) (Item, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	var cur Item = f.root
	if name == "." {
		return cur, nil
	}
	for _, seg := range strings.Split(name, "/") {
		dir, ok := TryFolder(cur)
		if !ok {
			return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
		}
		next, err := dir.GetItem(f.ctx, seg)
		if err != nil {
			return nil, toPathError(op, name, err)
		}
		cur = next
	}
	return cur, nil
}

func toPathError(op, name string, err error) error {
	if apperrors.IsNotFound(err) {
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

func (f *FS) Open(name string) (fs.File, error) {
	item, err := f.lookup("open", name)
	if err != nil {
		return nil, err
	}
	info, err := NewFileInfo(f.ctx, item)
	if err != nil {
		return nil, toPathError("open", name, err)
	}
	if dir, ok := TryFolder(item); ok {
		return &fsDir{fsys: f, dir: dir, info: info, name: name}, nil
	}
	file, ok := TryFile(item)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	rs, err := file.OpenRead(f.ctx)
	if err != nil {
		return nil, toPathError("open", name, err)
	}
	return &fsFile{ReadStream: rs, info: info}, nil
}

func (f *FS) Stat(name string) (fs.FileInfo, error) {
	item, err := f.lookup("stat", name)
	if err != nil {
		return nil, err
	}
	info, err := NewFileInfo(f.ctx, item)
	if err != nil {
		return nil, toPathError("stat", name, err)
	}
	return info, nil
}

// ReadDir returns the entries sorted by name, as fs.ReadDirFS requires.
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	item, err := f.lookup("readdir", name)
	if err != nil {
		return nil, err
	}
	dir, ok := TryFolder(item)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: errIsFile}
	}
	return f.readDir(dir, name)
}

func (f *FS) readDir(dir Folder, name string) ([]fs.DirEntry, error) {
	items, err := dir.Items(f.ctx, Query{})
	if err != nil {
		return nil, toPathError("readdir", name, err)
	}
	entries := make([]fs.DirEntry, len(items))
	for i, it := range items {
		entries[i] = NewDirEntry(f.ctx, it)
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })
	return entries, nil
}

type fsFile struct {
	ReadStream
	info *FileInfo
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return f.info, nil }

type fsDir struct {
	fsys    *FS
	dir     Folder
	info    *FileInfo
	name    string
	entries []fs.DirEntry
	loaded  bool
	offset  int
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *fsDir) Close() error               { return nil }

func (d *fsDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.loaded {
		entries, err := d.fsys.readDir(d.dir, d.name)
		if err != nil {
			return nil, err
		}
		d.entries, d.loaded = entries, true
	}
	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.offset += n
	return rest[:n], nil
}

// Glob returns the items below folder whose slash separated relative path matches pattern.
func Glob(ctx context.Context, folder Folder, pattern string) ([]Item, error) {
	fsys := NewFS(ctx, folder)
	names, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, WrapError(folder.Provider(), "glob", folder.Path(), err)
	}
	items := make([]Item, 0, len(names))
	for _, n := range names {
		it, err := fsys.lookup("glob", n)
		if err != nil {
			return nil, WrapError(folder.Provider(), "glob", n, err)
		}
		items = append(items, it)
	}
	return items, nil
}
