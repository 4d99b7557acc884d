package archive

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/mholt/archives"
	"github.com/spf13/afero"

	"nmfstore/internal/constants"
	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
)

type item struct {
	storage.Meta
	a         *Adapter
	container string
	inner     string // "" for the container root
	e         *entry
}

// itemFor builds the item for inner, or NotFound when the index has no such entry.
func (a *Adapter) itemFor(container, inner string, idx *index) (storage.Item, error) {
	if inner == "" {
		it := &item{
			Meta: storage.Meta{
				ItemPath:     container,
				ItemName:     filepath.Base(container),
				Attrs:        storage.AttrDirectory | storage.AttrArchive,
				Created:      storage.CanonicalTime(idx.modTime),
				ItemKind:     storage.KindFolder,
				ProviderKind: kind,
			},
			a:         a,
			container: container,
		}
		return &folder{it}, nil
	}
	e, ok := idx.lookup(inner)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve", itemPath(container, inner), errEntryMissing)
	}
	return a.wrap(container, e), nil
}

func (a *Adapter) entryItem(ctx context.Context, container, inner string) (storage.Item, error) {
	idx, err := a.index(ctx, container)
	if err != nil {
		return nil, err
	}
	return a.itemFor(container, inner, idx)
}

func (a *Adapter) wrap(container string, e *entry) storage.Item {
	attrs := storage.AttrNormal
	k := storage.KindFile
	if e.dir {
		attrs, k = storage.AttrDirectory, storage.KindFolder
	}
	it := &item{
		Meta: storage.Meta{
			ItemPath:     itemPath(container, e.name),
			ItemName:     e.base(),
			Attrs:        attrs,
			Created:      storage.CanonicalTime(e.modTime),
			ItemKind:     k,
			ProviderKind: kind,
		},
		a:         a,
		container: container,
		inner:     e.name,
		e:         e,
	}
	if e.dir {
		return &folder{it}
	}
	return &file{it}
}

func (it *item) self() storage.Item {
	if it.ItemKind == storage.KindFolder {
		return &folder{it}
	}
	return &file{it}
}

func (it *item) BasicProperties(ctx context.Context) (storage.BasicProperties, error) {
	if err := storage.CheckContext(ctx, kind, "properties", it.ItemPath); err != nil {
		return storage.BasicProperties{}, err
	}
	idx, err := it.a.index(ctx, it.container)
	if err != nil {
		return storage.BasicProperties{}, err
	}
	b := storage.NewBasicProperties()
	if it.inner == "" {
		return b.WithDateModified(idx.modTime).WithItemDate(idx.modTime), nil
	}
	e, ok := idx.lookup(it.inner)
	if !ok {
		return b, apperrors.NewNotFoundError(kind.String(), "properties", it.ItemPath, errEntryMissing)
	}
	if !e.dir {
		b = b.WithSize(uint64(e.size))
	}
	return b.WithDateModified(e.modTime).WithItemDate(e.modTime), nil
}

func (it *item) Properties() storage.ExtraProperties {
	ps := storage.NewPropertySet(it.self())
	ps.RegisterValue(storage.KeyArchiveContainer, it.container)
	if it.e != nil && it.e.compressed >= 0 && !it.e.dir {
		ps.RegisterValue(storage.KeyCompressedSize, uint64(it.e.compressed))
	}
	return ps
}

func (it *item) Parent(ctx context.Context) (storage.Folder, error) {
	if it.inner == "" {
		return it.a.host.ResolveFolder(ctx, filepath.Dir(it.container))
	}
	idx, err := it.a.index(ctx, it.container)
	if err != nil {
		return nil, err
	}
	it2, err := it.a.itemFor(it.container, parentOf(it.inner), idx)
	if err != nil {
		return nil, err
	}
	return it2.(storage.Folder), nil
}

func (it *item) existsIn(dir string) storage.ExistsFunc {
	return func(ctx context.Context, name string) (bool, error) {
		idx, err := it.a.index(ctx, it.container)
		if err != nil {
			return false, err
		}
		_, ok := idx.lookup(path.Join(dir, name))
		return ok, nil
	}
}

// Rename renames the entry inside the archive. On the container root it
// renames the archive file itself.
func (it *item) Rename(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.Item, error) {
	if it.inner == "" {
		hostItem, err := it.a.host.Resolve(ctx, it.container)
		if err != nil {
			return nil, err
		}
		renamed, err := hostItem.Rename(ctx, desiredName, opt)
		if err != nil {
			return nil, err
		}
		if archived, err := it.a.Resolve(ctx, renamed.Path()); err == nil {
			return archived, nil
		}
		return renamed, nil
	}
	if opt == storage.OpenIfExists {
		opt = storage.FailIfExists
	}
	dir := parentOf(it.inner)
	final, existing, err := storage.ResolveCollision(ctx, kind, itemPath(it.container, dir), desiredName, opt, it.existsIn(dir))
	if err != nil {
		return nil, err
	}
	target := path.Join(dir, final)
	if target == it.inner {
		return it.self(), nil
	}
	if err := it.a.rewrite(ctx, it.container, "rename", renameEntry(it.inner, target, existing)); err != nil {
		return nil, err
	}
	return it.a.entryItem(ctx, it.container, target)
}

// Delete removes the entry from the archive; entries have no recycle bin, so
// both options delete permanently. On the container root it deletes the
// archive file through the native adapter.
func (it *item) Delete(ctx context.Context, opt storage.DeleteOption) error {
	if it.inner == "" {
		hostItem, err := it.a.host.Resolve(ctx, it.container)
		if err != nil {
			return err
		}
		return hostItem.Delete(ctx, opt)
	}
	return it.a.rewrite(ctx, it.container, "delete", removeEntry(it.inner))
}

type file struct{ *item }

// OpenRead extracts the entry. Small entries are buffered in memory, larger
// ones are spooled to the scratch filesystem and removed on Close.
func (f *file) OpenRead(ctx context.Context) (storage.ReadStream, error) {
	l := f.a.lockFor(f.container)
	l.RLock()
	defer l.RUnlock()

	src, format, err := f.a.open(ctx, f.container)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var rs storage.ReadStream
	found := false
	err = format.(archives.Extractor).Extract(ctx, src, func(ctx context.Context, fi archives.FileInfo) error {
		if cleanName(fi.NameInArchive) != f.inner || fi.IsDir() {
			return nil
		}
		found = true
		r, err := fi.Open()
		if err != nil {
			return err
		}
		defer r.Close()
		rs, err = f.a.spool(ctx, r, fi.Size())
		if err != nil {
			return err
		}
		return fs.SkipAll
	})
	if err != nil {
		return nil, storage.WrapError(kind, "open_read", f.ItemPath, err)
	}
	if !found {
		return nil, apperrors.NewNotFoundError(kind.String(), "open_read", f.ItemPath, errEntryMissing)
	}
	return rs, nil
}

func (a *Adapter) spool(ctx context.Context, r io.Reader, size int64) (storage.ReadStream, error) {
	if size >= 0 && size <= constants.SpoolThreshold {
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, storage.ContextReader(ctx, r)); err != nil {
			return nil, err
		}
		return storage.NewReadStream(io.NopCloser(&buf), int64(buf.Len())), nil
	}
	tmp, err := afero.TempFile(a.scratch, a.scratchDir, "nmf-entry-*")
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(tmp, storage.ContextReader(ctx, r))
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		tmp.Close()
		a.scratch.Remove(tmp.Name())
		return nil, err
	}
	return storage.NewReadStream(&spoolFile{File: tmp, fs: a.scratch}, n), nil
}

type spoolFile struct {
	afero.File
	fs afero.Fs
}

func (s *spoolFile) Close() error {
	err := s.File.Close()
	s.fs.Remove(s.File.Name())
	return err
}

// OpenWrite buffers what is written and rewrites the container on Close.
func (f *file) OpenWrite(ctx context.Context, mode storage.WriteMode) (io.WriteCloser, error) {
	if err := storage.CheckContext(ctx, kind, "open_write", f.ItemPath); err != nil {
		return nil, err
	}
	idx, err := f.a.index(ctx, f.container)
	if err != nil {
		return nil, err
	}
	if !idx.canWrite() {
		return nil, apperrors.NewUnsupportedError(kind.String(), "open_write", f.ItemPath)
	}
	return &entryWriter{ctx: ctx, f: f, appendTo: mode == storage.WriteAppend}, nil
}

type entryWriter struct {
	ctx      context.Context
	f        *file
	appendTo bool
	buf      bytes.Buffer
	closed   bool
}

func (w *entryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *entryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.a.rewrite(w.ctx, w.f.container, "write", putFile(w.f.inner, &w.buf, w.appendTo))
}

func (f *file) CopyTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	return storage.StreamCopy(ctx, f, dest, desiredName, opt)
}

func (f *file) MoveTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	return storage.StreamMove(ctx, f, dest, desiredName, opt)
}

type folder struct{ *item }

func (d *folder) TryGetItem(ctx context.Context, name string) (storage.Item, error) {
	idx, err := d.a.index(ctx, d.container)
	if err != nil {
		return nil, err
	}
	e, ok := idx.lookup(path.Join(d.inner, name))
	if !ok {
		return nil, nil
	}
	return d.a.wrap(d.container, e), nil
}

func (d *folder) GetItem(ctx context.Context, name string) (storage.Item, error) {
	it, err := d.TryGetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, apperrors.NewNotFoundError(kind.String(), "get_item", storage.JoinPath(d.ItemPath, name), errEntryMissing)
	}
	return it, nil
}

func (d *folder) GetFile(ctx context.Context, name string) (storage.File, error) {
	it, err := d.GetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFile(it)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "get_file", it.Path(), errIsDir)
	}
	return f, nil
}

func (d *folder) GetFolder(ctx context.Context, name string) (storage.Folder, error) {
	it, err := d.GetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFolder(it)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "get_folder", it.Path(), errNotDir)
	}
	return f, nil
}

func (d *folder) Items(ctx context.Context, q storage.Query) ([]storage.Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	idx, err := d.a.index(ctx, d.container)
	if err != nil {
		return nil, err
	}
	entries := idx.list(d.inner)
	items := make([]storage.Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, d.a.wrap(d.container, e))
	}
	return storage.ApplyQuery(ctx, items, q)
}

func (d *folder) CreateFile(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	final, existing, err := storage.ResolveCollision(ctx, kind, d.ItemPath, desiredName, opt, d.existsIn(d.inner))
	if err != nil {
		return nil, err
	}
	inner := path.Join(d.inner, final)
	if !(existing && opt == storage.OpenIfExists) {
		if err := d.a.rewrite(ctx, d.container, "create_file", putFile(inner, nil, false)); err != nil {
			return nil, err
		}
	}
	it, err := d.a.entryItem(ctx, d.container, inner)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFile(it)
	if !ok {
		return nil, apperrors.NewCollisionError(kind.String(), "create_file", it.Path())
	}
	return f, nil
}

func (d *folder) CreateFolder(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.Folder, error) {
	final, existing, err := storage.ResolveCollision(ctx, kind, d.ItemPath, desiredName, opt, d.existsIn(d.inner))
	if err != nil {
		return nil, err
	}
	inner := path.Join(d.inner, final)
	if !(existing && opt == storage.OpenIfExists) {
		if err := d.a.rewrite(ctx, d.container, "create_folder", putDir(inner, existing)); err != nil {
			return nil, err
		}
	}
	it, err := d.a.entryItem(ctx, d.container, inner)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFolder(it)
	if !ok {
		return nil, apperrors.NewCollisionError(kind.String(), "create_folder", it.Path())
	}
	return f, nil
}

var (
	_ storage.File   = (*file)(nil)
	_ storage.Folder = (*folder)(nil)
)
