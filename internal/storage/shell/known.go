package shell

import (
	"context"

	"nmfstore/internal/storage"
)

// knownItem is a shell:<Name> folder backed by a native directory.
type knownItem struct {
	node
	dir storage.Folder
}

func (a *Adapter) newKnownFolder(ctx context.Context, kf knownFolder) (storage.Item, error) {
	dir, err := a.native.ResolveFolder(ctx, kf.dir)
	if err != nil {
		return nil, err
	}
	it := &knownItem{node: a.node(storage.ShellPrefix+kf.name, kf.name, kf.name, storage.KindFolder), dir: dir}
	it.Attrs = dir.Attributes()
	it.Created = dir.DateCreated()
	return it, nil
}

// Target is the native directory behind the known folder.
func (k *knownItem) Target() string { return k.dir.Path() }

func (k *knownItem) BasicProperties(ctx context.Context) (storage.BasicProperties, error) {
	return k.dir.BasicProperties(ctx)
}

func (k *knownItem) Properties() storage.ExtraProperties {
	return storage.NewPropertySet(k).RegisterValue(storage.KeyLinkTarget, k.dir.Path())
}

func (k *knownItem) Items(ctx context.Context, q storage.Query) ([]storage.Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	items, err := k.dir.Items(ctx, storage.Query{})
	if err != nil {
		return nil, err
	}
	return storage.ApplyQuery(ctx, k.a.wrapAll(ctx, k.ItemPath, items), q)
}

func (k *knownItem) TryGetItem(ctx context.Context, name string) (storage.Item, error) {
	it, err := k.dir.TryGetItem(ctx, name)
	if err != nil || it == nil {
		return nil, err
	}
	return k.a.wrap(ctx, storage.JoinPath(k.ItemPath, name), it), nil
}

func (k *knownItem) GetItem(ctx context.Context, name string) (storage.Item, error) {
	return getItem(ctx, k, k.ItemPath, name)
}

func (k *knownItem) GetFile(ctx context.Context, name string) (storage.File, error) {
	return getFile(ctx, k, k.ItemPath, name)
}

func (k *knownItem) GetFolder(ctx context.Context, name string) (storage.Folder, error) {
	return getFolder(ctx, k, k.ItemPath, name)
}

func (k *knownItem) CreateFile(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	return k.dir.CreateFile(ctx, desiredName, opt)
}

func (k *knownItem) CreateFolder(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.Folder, error) {
	return k.dir.CreateFolder(ctx, desiredName, opt)
}

var _ storage.Folder = (*knownItem)(nil)
