package shell

import (
	"context"
	"io"
	"path/filepath"
	"time"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
)

// recycleBin is shell:RecycleBinFolder.
type recycleBin struct{ node }

func (a *Adapter) recycleBin() *recycleBin {
	return &recycleBin{a.node(storage.RecycleBinRoot, recycleBinName, "Recycle Bin", storage.KindFolder)}
}

func (r *recycleBin) Properties() storage.ExtraProperties { return storage.NewPropertySet(r) }

func (r *recycleBin) Items(ctx context.Context, q storage.Query) ([]storage.Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	entries, err := r.a.trash.Entries(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]storage.Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, r.a.newTrashItem(e))
	}
	return storage.ApplyQuery(ctx, items, q)
}

func (r *recycleBin) TryGetItem(ctx context.Context, name string) (storage.Item, error) {
	if err := storage.CheckContext(ctx, kind, "get_item", r.ItemPath); err != nil {
		return nil, err
	}
	e, err := r.a.trash.Entry(name)
	if err != nil {
		err = storage.WrapError(kind, "get_item", storage.JoinPath(r.ItemPath, name), err)
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.a.newTrashItem(e), nil
}

func (r *recycleBin) GetItem(ctx context.Context, name string) (storage.Item, error) {
	return getItem(ctx, r, r.ItemPath, name)
}

func (r *recycleBin) GetFile(ctx context.Context, name string) (storage.File, error) {
	return getFile(ctx, r, r.ItemPath, name)
}

func (r *recycleBin) GetFolder(ctx context.Context, name string) (storage.Folder, error) {
	return getFolder(ctx, r, r.ItemPath, name)
}

// Empty deletes everything in the recycle bin permanently.
func (r *recycleBin) Empty(ctx context.Context) error {
	return r.a.trash.Empty(ctx)
}

// trashItem is one entry of the recycle bin.
type trashItem struct {
	node
	entry TrashEntry
}

func (a *Adapter) newTrashItem(e TrashEntry) storage.Item {
	k := storage.KindFile
	if e.IsDir {
		k = storage.KindFolder
	}
	p := storage.JoinPath(storage.RecycleBinRoot, e.Name)
	display := filepath.Base(e.OriginalPath)
	if !e.IsDir {
		display = storage.NormalizeDisplayName(display, p)
	}
	it := &trashItem{node: a.node(p, e.Name, display, k), entry: e}
	it.Created = storage.CanonicalTime(e.ModTime)
	if e.IsDir {
		return &trashFolder{it}
	}
	return &trashFile{it}
}

func (it *trashItem) self() storage.Item {
	if it.ItemKind == storage.KindFolder {
		return &trashFolder{it}
	}
	return &trashFile{it}
}

// OriginalPath is where the item was deleted from, including its name.
func (it *trashItem) OriginalPath() string {
	if it.ItemKind == storage.KindFolder {
		return it.entry.OriginalPath
	}
	return storage.NormalizeDisplayName(it.entry.OriginalPath, it.ItemPath)
}

// DateDeleted is the local deletion time, or now when the trash did not record one.
func (it *trashItem) DateDeleted() time.Time {
	return storage.TimeOrDefault(it.entry.Deleted)
}

// Restore puts the item back where it was deleted from.
func (it *trashItem) Restore(ctx context.Context, opt storage.CollisionOption) (storage.Item, error) {
	target, err := it.a.trash.Restore(ctx, it.entry.Name, opt)
	if err != nil {
		return nil, err
	}
	return it.a.native.Resolve(ctx, target)
}

func (it *trashItem) BasicProperties(ctx context.Context) (storage.BasicProperties, error) {
	if err := storage.CheckContext(ctx, kind, "properties", it.ItemPath); err != nil {
		return storage.BasicProperties{}, err
	}
	e, err := it.a.trash.Entry(it.entry.Name)
	if err != nil {
		return storage.BasicProperties{}, storage.WrapError(kind, "properties", it.ItemPath, err)
	}
	b := storage.NewBasicProperties().WithDateModified(e.ModTime).WithItemDate(e.Deleted)
	if !e.IsDir {
		b = b.WithSize(uint64(e.Size))
	}
	return b, nil
}

func (it *trashItem) Properties() storage.ExtraProperties {
	return storage.NewPropertySet(it.self()).
		RegisterValue(storage.KeyDateDeleted, it.DateDeleted()).
		RegisterValue(storage.KeyDeletedFrom, filepath.Dir(it.entry.OriginalPath))
}

// Delete is always permanent: the item is already in the recycle bin.
func (it *trashItem) Delete(ctx context.Context, _ storage.DeleteOption) error {
	if err := it.a.trash.Purge(ctx, it.entry.Name); err != nil {
		return err
	}
	storage.LogFor(kind, it.ItemPath).Debug("purged")
	return nil
}

type trashFile struct{ *trashItem }

func (f *trashFile) OpenRead(ctx context.Context) (storage.ReadStream, error) {
	if err := storage.CheckContext(ctx, kind, "open_read", f.ItemPath); err != nil {
		return nil, err
	}
	h, err := f.a.native.Fs().Open(f.a.trash.contentPath(f.entry.Name))
	if err != nil {
		return nil, storage.WrapError(kind, "open_read", f.ItemPath, err)
	}
	return storage.NewReadStream(h, f.entry.Size), nil
}

// OpenWrite is refused; restore the item first.
func (f *trashFile) OpenWrite(context.Context, storage.WriteMode) (io.WriteCloser, error) {
	return nil, apperrors.NewUnsupportedError(kind.String(), "open_write", f.ItemPath)
}

func (f *trashFile) CopyTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	if desiredName == "" {
		desiredName = f.DisplayName()
	}
	return storage.StreamCopy(ctx, f, dest, desiredName, opt)
}

func (f *trashFile) MoveTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	if desiredName == "" {
		desiredName = f.DisplayName()
	}
	return storage.StreamMove(ctx, f, dest, desiredName, opt)
}

// trashFolder browses a deleted folder; its children are native items.
type trashFolder struct{ *trashItem }

func (d *trashFolder) content(ctx context.Context) (storage.Folder, error) {
	return d.a.native.ResolveFolder(ctx, d.a.trash.contentPath(d.entry.Name))
}

func (d *trashFolder) Items(ctx context.Context, q storage.Query) ([]storage.Item, error) {
	c, err := d.content(ctx)
	if err != nil {
		return nil, err
	}
	return c.Items(ctx, q)
}

func (d *trashFolder) TryGetItem(ctx context.Context, name string) (storage.Item, error) {
	c, err := d.content(ctx)
	if err != nil {
		return nil, err
	}
	return c.TryGetItem(ctx, name)
}

func (d *trashFolder) GetItem(ctx context.Context, name string) (storage.Item, error) {
	return getItem(ctx, d, d.ItemPath, name)
}

func (d *trashFolder) GetFile(ctx context.Context, name string) (storage.File, error) {
	return getFile(ctx, d, d.ItemPath, name)
}

func (d *trashFolder) GetFolder(ctx context.Context, name string) (storage.Folder, error) {
	return getFolder(ctx, d, d.ItemPath, name)
}

var (
	_ storage.Folder = (*recycleBin)(nil)
	_ storage.File   = (*trashFile)(nil)
	_ storage.Folder = (*trashFolder)(nil)
	_ Restorer       = (*trashFile)(nil)
	_ Restorer       = (*trashFolder)(nil)
)
