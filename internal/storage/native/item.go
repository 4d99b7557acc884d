package native

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
)

type item struct {
	storage.Meta
	a     *Adapter
	info  os.FileInfo
	frn   uint64
	frnOK bool
	link  bool
}

func (it *item) BasicProperties(ctx context.Context) (storage.BasicProperties, error) {
	if err := storage.CheckContext(ctx, kind, "properties", it.ItemPath); err != nil {
		return storage.BasicProperties{}, err
	}
	info, err := it.a.fs.Stat(it.ItemPath)
	if err != nil {
		// Dangling links still report what lstat saw.
		if !it.link {
			return storage.BasicProperties{}, storage.WrapError(kind, "properties", it.ItemPath, err)
		}
		info = it.info
	}
	b := storage.NewBasicProperties().WithDateModified(info.ModTime())
	if !info.IsDir() {
		b = b.WithSize(uint64(info.Size()))
	}
	if !it.Created.IsZero() {
		b = b.WithItemDate(it.Created)
	} else {
		b = b.WithItemDate(info.ModTime())
	}
	return b, nil
}

func (it *item) Properties() storage.ExtraProperties {
	ps := storage.NewPropertySet(it.self())
	if it.frnOK {
		ps.RegisterValue(storage.KeyFileFRN, it.frn)
	}
	if it.link {
		ps.Register(storage.KeyLinkTarget, func(ctx context.Context, _ *storage.PropertySource) (any, bool) {
			target, err := it.a.readlink(it.ItemPath)
			return target, err == nil
		})
	}
	return ps
}

// self rewraps it so the property set sees the File or Folder view.
func (it *item) self() storage.Item {
	if it.ItemKind == storage.KindFolder {
		return &folder{it}
	}
	return &file{it}
}

func (it *item) Parent(ctx context.Context) (storage.Folder, error) {
	dir := filepath.Dir(it.ItemPath)
	if dir == it.ItemPath {
		return nil, apperrors.NewNotFoundError(kind.String(), "parent", it.ItemPath, nil)
	}
	return it.a.ResolveFolder(ctx, dir)
}

func (it *item) Rename(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.Item, error) {
	dir := filepath.Dir(it.ItemPath)
	if desiredName == it.ItemName {
		return it.self(), nil
	}
	if opt == storage.OpenIfExists {
		// Renaming onto an existing item cannot "open" it.
		opt = storage.FailIfExists
	}
	final, existing, err := storage.ResolveCollision(ctx, kind, dir, desiredName, opt, it.a.existsIn(dir))
	if err != nil {
		return nil, err
	}
	target := filepath.Join(dir, final)
	if existing {
		if err := it.a.fs.RemoveAll(target); err != nil {
			return nil, storage.WrapError(kind, "rename", target, err)
		}
	}
	if err := it.a.fs.Rename(it.ItemPath, target); err != nil {
		return nil, storage.WrapError(kind, "rename", it.ItemPath, err)
	}
	storage.LogFor(kind, it.ItemPath).WithField("to", target).Debug("renamed")
	return it.a.Resolve(ctx, target)
}

func (it *item) Delete(ctx context.Context, opt storage.DeleteOption) error {
	if err := storage.CheckContext(ctx, kind, "delete", it.ItemPath); err != nil {
		return err
	}
	if filepath.Dir(it.ItemPath) == it.ItemPath {
		return apperrors.NewIOError(kind.String(), "delete", it.ItemPath, errRootDelete)
	}
	if opt == storage.DeleteToRecycleBin {
		if it.a.trash == nil {
			return apperrors.NewUnsupportedError(kind.String(), "delete", it.ItemPath)
		}
		return it.a.trash.Trash(ctx, it.ItemPath)
	}
	var err error
	if it.ItemKind == storage.KindFolder && !it.link {
		err = it.a.fs.RemoveAll(it.ItemPath)
	} else {
		err = it.a.fs.Remove(it.ItemPath)
	}
	if err != nil {
		return storage.WrapError(kind, "delete", it.ItemPath, err)
	}
	return nil
}

type file struct{ *item }

func (f *file) OpenRead(ctx context.Context) (storage.ReadStream, error) {
	if err := storage.CheckContext(ctx, kind, "open_read", f.ItemPath); err != nil {
		return nil, err
	}
	h, err := f.a.fs.Open(f.ItemPath)
	if err != nil {
		return nil, storage.WrapError(kind, "open_read", f.ItemPath, err)
	}
	size := int64(-1)
	if info, err := h.Stat(); err == nil {
		if info.IsDir() {
			h.Close()
			return nil, apperrors.NewIOError(kind.String(), "open_read", f.ItemPath, errIsDir)
		}
		size = info.Size()
	}
	return storage.NewReadStream(h, size), nil
}

func (f *file) OpenWrite(ctx context.Context, mode storage.WriteMode) (io.WriteCloser, error) {
	if err := storage.CheckContext(ctx, kind, "open_write", f.ItemPath); err != nil {
		return nil, err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if mode == storage.WriteAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	h, err := f.a.fs.OpenFile(f.ItemPath, flags, 0o644)
	if err != nil {
		return nil, storage.WrapError(kind, "open_write", f.ItemPath, err)
	}
	return h, nil
}

// sameFs reports whether dest is a folder of this adapter.
func (f *file) sameFs(dest storage.Folder) (*folder, bool) {
	d, ok := dest.(*folder)
	return d, ok && d.a == f.a
}

func (f *file) CopyTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	d, ok := f.sameFs(dest)
	if !ok {
		return storage.StreamCopy(ctx, f, dest, desiredName, opt)
	}
	if desiredName == "" {
		desiredName = f.ItemName
	}
	copied, err := storage.StreamCopy(ctx, f, d, desiredName, opt)
	if err != nil {
		return nil, err
	}
	if info, err := f.a.fs.Stat(f.ItemPath); err == nil {
		_ = f.a.fs.Chtimes(copied.Path(), info.ModTime(), info.ModTime())
		_ = f.a.fs.Chmod(copied.Path(), info.Mode().Perm())
	}
	return f.a.resolveFile(ctx, copied.Path())
}

func (f *file) MoveTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	d, ok := f.sameFs(dest)
	if !ok {
		return storage.StreamMove(ctx, f, dest, desiredName, opt)
	}
	if desiredName == "" {
		desiredName = f.ItemName
	}
	target, err := f.a.renameInto(ctx, f.ItemPath, d.ItemPath, desiredName, opt)
	if errors.Is(err, syscall.EXDEV) {
		return storage.StreamMove(ctx, f, dest, desiredName, opt)
	}
	if err != nil {
		return nil, err
	}
	return f.a.resolveFile(ctx, target)
}

type folder struct{ *item }

func (d *folder) TryGetItem(ctx context.Context, name string) (storage.Item, error) {
	if err := storage.CheckContext(ctx, kind, "get_item", d.ItemPath); err != nil {
		return nil, err
	}
	p := filepath.Join(d.ItemPath, name)
	info, err := d.a.lstat(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.WrapError(kind, "get_item", p, err)
	}
	return d.a.newItem(p, info), nil
}

func (d *folder) GetItem(ctx context.Context, name string) (storage.Item, error) {
	it, err := d.TryGetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, apperrors.NewNotFoundError(kind.String(), "get_item", filepath.Join(d.ItemPath, name), nil)
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
	if err := storage.CheckContext(ctx, kind, "items", d.ItemPath); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(d.a.fs, d.ItemPath)
	if err != nil {
		return nil, storage.WrapError(kind, "items", d.ItemPath, err)
	}
	items := make([]storage.Item, 0, len(infos))
	for _, info := range infos {
		items = append(items, d.a.newItem(filepath.Join(d.ItemPath, info.Name()), info))
	}
	return storage.ApplyQuery(ctx, items, q)
}

func (d *folder) CreateFile(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	final, existing, err := storage.ResolveCollision(ctx, kind, d.ItemPath, desiredName, opt, d.a.existsIn(d.ItemPath))
	if err != nil {
		return nil, err
	}
	p := filepath.Join(d.ItemPath, final)
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if existing {
		if opt == storage.OpenIfExists {
			return d.a.resolveFile(ctx, p)
		}
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	h, err := d.a.fs.OpenFile(p, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// Lost a race with another writer.
			return nil, apperrors.NewCollisionError(kind.String(), "create_file", p)
		}
		return nil, storage.WrapError(kind, "create_file", p, err)
	}
	if err := h.Close(); err != nil {
		return nil, storage.WrapError(kind, "create_file", p, err)
	}
	return d.a.resolveFile(ctx, p)
}

func (d *folder) CreateFolder(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.Folder, error) {
	final, existing, err := storage.ResolveCollision(ctx, kind, d.ItemPath, desiredName, opt, d.a.existsIn(d.ItemPath))
	if err != nil {
		return nil, err
	}
	p := filepath.Join(d.ItemPath, final)
	if existing {
		if opt == storage.OpenIfExists {
			return d.a.ResolveFolder(ctx, p)
		}
		if err := d.a.fs.RemoveAll(p); err != nil {
			return nil, storage.WrapError(kind, "create_folder", p, err)
		}
	}
	if err := d.a.fs.Mkdir(p, 0o755); err != nil {
		return nil, storage.WrapError(kind, "create_folder", p, err)
	}
	return d.a.ResolveFolder(ctx, p)
}

// MoveTo renames the whole tree when dest is on the same filesystem.
func (d *folder) MoveTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.Folder, error) {
	df, ok := dest.(*folder)
	if !ok || df.a != d.a {
		return nil, apperrors.NewUnsupportedError(kind.String(), "move", d.ItemPath)
	}
	if desiredName == "" {
		desiredName = d.ItemName
	}
	if storage.PathWithin(df.ItemPath, d.ItemPath) {
		return nil, apperrors.NewIOError(kind.String(), "move", d.ItemPath, errMoveInside)
	}
	target, err := d.a.renameInto(ctx, d.ItemPath, df.ItemPath, desiredName, opt)
	if errors.Is(err, syscall.EXDEV) {
		return nil, apperrors.NewUnsupportedError(kind.String(), "move", d.ItemPath)
	}
	if err != nil {
		return nil, err
	}
	return d.a.ResolveFolder(ctx, target)
}

// renameInto moves src into dir under the collision-resolved name and returns the new path.
// A cross-device failure is returned unwrapped so callers can fall back to copying.
func (a *Adapter) renameInto(ctx context.Context, src, dir, desiredName string, opt storage.CollisionOption) (string, error) {
	if opt == storage.OpenIfExists {
		opt = storage.ReplaceExisting
	}
	final, existing, err := storage.ResolveCollision(ctx, kind, dir, desiredName, opt, a.existsIn(dir))
	if err != nil {
		return "", err
	}
	target := filepath.Join(dir, final)
	if target == src {
		return target, nil
	}
	if existing && storage.PathWithin(src, target) {
		return "", apperrors.NewIOError(kind.String(), "move", src, errReplaceOwn)
	}
	if existing {
		if err := a.fs.RemoveAll(target); err != nil {
			return "", storage.WrapError(kind, "move", target, err)
		}
	}
	if err := a.fs.Rename(src, target); err != nil {
		if errors.Is(err, syscall.EXDEV) {
			return "", err
		}
		return "", storage.WrapError(kind, "move", src, err)
	}
	storage.LogFor(kind, src).WithField("to", target).Debug("moved")
	return target, nil
}

func (a *Adapter) resolveFile(ctx context.Context, p string) (storage.File, error) {
	it, err := a.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFile(it)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve_file", p, errIsDir)
	}
	return f, nil
}

func (a *Adapter) readlink(p string) (string, error) {
	if r, ok := a.fs.(afero.LinkReader); ok {
		return r.ReadlinkIfPossible(p)
	}
	return "", apperrors.NewUnsupportedError(kind.String(), "readlink", p)
}

var (
	_ storage.File        = (*file)(nil)
	_ storage.Folder      = (*folder)(nil)
	_ storage.FolderMover = (*folder)(nil)
)
