package archive

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/mholt/archives"
	"github.com/spf13/afero"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
)

// entry is one file or directory recorded in an archive's index.
type entry struct {
	name       string // slash separated, no leading or trailing slash
	dir        bool
	implicit   bool // directory only implied by a deeper entry
	size       int64
	compressed int64 // -1 when the format does not tell
	modTime    time.Time
	mode       fs.FileMode
}

func (e *entry) base() string { return path.Base(e.name) }

// index is the listing of one container, valid while the container's
// modification time and size stay the same.
type index struct {
	format   archives.Format
	modTime  time.Time
	size     int64
	entries  map[string]*entry
	children map[string][]string
}

func newIndex(format archives.Format, info fs.FileInfo) *index {
	return &index{
		format:   format,
		modTime:  info.ModTime(),
		size:     info.Size(),
		entries:  make(map[string]*entry),
		children: make(map[string][]string),
	}
}

func (idx *index) add(e *entry) {
	if old, ok := idx.entries[e.name]; ok {
		// A real directory entry replaces an implied one; duplicates keep the last.
		if old.implicit || !e.dir {
			*old = *e
		}
		return
	}
	idx.entries[e.name] = e
	parent := parentOf(e.name)
	idx.children[parent] = append(idx.children[parent], e.name)
	if parent != "" {
		if _, ok := idx.entries[parent]; !ok {
			idx.add(&entry{name: parent, dir: true, implicit: true, compressed: -1, mode: fs.ModeDir | 0o755})
		}
	}
}

func (idx *index) sort() {
	for _, names := range idx.children {
		sort.Strings(names)
	}
}

func (idx *index) lookup(inner string) (*entry, bool) {
	e, ok := idx.entries[inner]
	return e, ok
}

// list returns the entries directly below dir ("" is the root).
func (idx *index) list(dir string) []*entry {
	names := idx.children[dir]
	out := make([]*entry, 0, len(names))
	for _, n := range names {
		out = append(out, idx.entries[n])
	}
	return out
}

func (idx *index) canWrite() bool {
	if ca, ok := idx.format.(archives.CompressedArchive); ok {
		return ca.Archival != nil && ca.Compression != nil
	}
	_, ok := idx.format.(archives.Archiver)
	return ok
}

func parentOf(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

// cleanName turns a name as stored in the archive into an index key.
func cleanName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func compressedSize(header any) int64 {
	switch h := header.(type) {
	case zip.FileHeader:
		return int64(h.CompressedSize64)
	case *zip.FileHeader:
		return int64(h.CompressedSize64)
	}
	return -1
}

// index returns the cached listing of container, rebuilding it when the
// container changed on disk.
func (a *Adapter) index(ctx context.Context, container string) (*index, error) {
	l := a.lockFor(container)
	l.RLock()
	defer l.RUnlock()
	return a.loadIndex(ctx, container)
}

// loadIndex expects the caller to hold the container lock.
func (a *Adapter) loadIndex(ctx context.Context, container string) (*index, error) {
	if err := storage.CheckContext(ctx, kind, "index", container); err != nil {
		return nil, err
	}
	info, err := a.host.Fs().Stat(container)
	if err != nil {
		return nil, storage.WrapError(kind, "index", container, err)
	}
	if !info.Mode().IsRegular() {
		return nil, apperrors.NewNotFoundError(kind.String(), "index", container, errNotRegular)
	}
	if idx, ok := a.cache.Get(container); ok && idx.modTime.Equal(info.ModTime()) && idx.size == info.Size() {
		return idx, nil
	}

	f, format, err := a.open(ctx, container)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ex, ok := format.(archives.Extractor)
	if !ok {
		return nil, apperrors.NewUnsupportedError(kind.String(), "index", container)
	}
	idx := newIndex(format, info)
	err = ex.Extract(ctx, f, func(_ context.Context, fi archives.FileInfo) error {
		name := cleanName(fi.NameInArchive)
		if name == "" {
			return nil
		}
		e := &entry{
			name:       name,
			dir:        fi.IsDir(),
			compressed: compressedSize(fi.Header),
			modTime:    fi.ModTime(),
			mode:       fi.Mode(),
		}
		if !e.dir {
			e.size = fi.Size()
		}
		idx.add(e)
		return nil
	})
	if err != nil {
		return nil, storage.WrapError(kind, "index", container, err)
	}
	idx.sort()
	a.cache.Add(container, idx)
	storage.LogFor(kind, container).WithField("entries", len(idx.entries)).Debug("indexed archive")
	return idx, nil
}

// open identifies the container format and returns the file rewound to its start.
func (a *Adapter) open(ctx context.Context, container string) (afero.File, archives.Format, error) {
	f, err := a.host.Fs().Open(container)
	if err != nil {
		return nil, nil, storage.WrapError(kind, "open", container, err)
	}
	format, _, err := archives.Identify(ctx, filepath.Base(container), f)
	if err != nil {
		f.Close()
		if errors.Is(err, archives.NoMatch) {
			return nil, nil, apperrors.NewNotFoundError(kind.String(), "identify", container, err)
		}
		return nil, nil, storage.WrapError(kind, "identify", container, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, nil, storage.WrapError(kind, "open", container, err)
	}
	return f, a.withEncoding(format), nil
}

func (a *Adapter) withEncoding(format archives.Format) archives.Format {
	if z, ok := format.(archives.Zip); ok && a.encoding != nil {
		z.TextEncoding = a.encoding
		return z
	}
	return format
}

// invalidate drops the cached index of container.
func (a *Adapter) invalidate(container string) {
	a.cache.Remove(container)
}
