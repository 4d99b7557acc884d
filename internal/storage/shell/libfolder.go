package shell

import (
	"context"
	"errors"
	"strings"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
)

func (a *Adapter) libraryError(verb, p string, err error) error {
	switch {
	case errors.Is(err, ErrLibraryNotFound):
		return apperrors.NewNotFoundError(kind.String(), verb, p, err)
	case errors.Is(err, ErrLibraryExists):
		e := apperrors.NewCollisionError(kind.String(), verb, p)
		e.Err = err
		return e
	}
	return storage.WrapError(kind, verb, p, err)
}

func (a *Adapter) libraryExists(ctx context.Context, name string) (bool, error) {
	_, err := a.libs.Get(name)
	if errors.Is(err, ErrLibraryNotFound) {
		return false, nil
	}
	return err == nil, err
}

// librariesRoot is shell:Libraries. Creating a folder in it creates a library.
type librariesRoot struct{ node }

func (a *Adapter) librariesRoot() *librariesRoot {
	return &librariesRoot{a.node(storage.LibrariesRoot, librariesName, librariesName, storage.KindFolder)}
}

func (r *librariesRoot) Properties() storage.ExtraProperties { return storage.NewPropertySet(r) }

func (r *librariesRoot) Items(ctx context.Context, q storage.Query) ([]storage.Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	libs, err := r.a.libs.List()
	if err != nil {
		return nil, storage.WrapError(kind, "items", r.ItemPath, err)
	}
	items := make([]storage.Item, 0, len(libs))
	for _, l := range libs {
		items = append(items, r.a.newLibrary(l))
	}
	return storage.ApplyQuery(ctx, items, q)
}

func (r *librariesRoot) TryGetItem(ctx context.Context, name string) (storage.Item, error) {
	if err := storage.CheckContext(ctx, kind, "get_item", r.ItemPath); err != nil {
		return nil, err
	}
	lib, err := r.a.libs.Get(name)
	if errors.Is(err, ErrLibraryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, r.a.libraryError("get_item", storage.JoinPath(r.ItemPath, name), err)
	}
	return r.a.newLibrary(*lib), nil
}

func (r *librariesRoot) GetItem(ctx context.Context, name string) (storage.Item, error) {
	return getItem(ctx, r, r.ItemPath, name)
}

func (r *librariesRoot) GetFile(ctx context.Context, name string) (storage.File, error) {
	return getFile(ctx, r, r.ItemPath, name)
}

func (r *librariesRoot) GetFolder(ctx context.Context, name string) (storage.Folder, error) {
	return getFolder(ctx, r, r.ItemPath, name)
}

// CreateFolder creates an empty library.
func (r *librariesRoot) CreateFolder(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.Folder, error) {
	final, existing, err := storage.ResolveCollision(ctx, kind, r.ItemPath, desiredName, opt, r.a.libraryExists)
	if err != nil {
		return nil, err
	}
	p := storage.JoinPath(r.ItemPath, final)
	if existing {
		if opt == storage.OpenIfExists {
			return r.GetFolder(ctx, final)
		}
		if err := r.a.libs.Delete(final); err != nil {
			return nil, r.a.libraryError("create_folder", p, err)
		}
	}
	lib, err := r.a.libs.Create(final)
	if err != nil {
		return nil, r.a.libraryError("create_folder", p, err)
	}
	storage.LogFor(kind, p).Debug("library created")
	return r.a.newLibrary(*lib), nil
}

// library merges the listings of its member folders.
type library struct {
	node
	lib Library
}

func (a *Adapter) newLibrary(l Library) *library {
	it := &library{node: a.node(storage.JoinPath(storage.LibrariesRoot, l.Name), l.Name, l.Name, storage.KindFolder), lib: l}
	it.Created = storage.CanonicalTime(l.Created)
	return it
}

// Folders returns the member folders; the first is the default save location.
func (l *library) Folders() []string {
	return append([]string(nil), l.lib.Folders...)
}

func (l *library) BasicProperties(ctx context.Context) (storage.BasicProperties, error) {
	if err := storage.CheckContext(ctx, kind, "properties", l.ItemPath); err != nil {
		return storage.BasicProperties{}, err
	}
	return storage.NewBasicProperties().WithItemDate(l.lib.Created), nil
}

func (l *library) Properties() storage.ExtraProperties { return storage.NewPropertySet(l) }

// members resolves the member folders, skipping ones that are gone.
func (l *library) members(ctx context.Context) ([]storage.Folder, error) {
	var out []storage.Folder
	for _, dir := range l.lib.Folders {
		f, err := l.a.native.ResolveFolder(ctx, dir)
		if apperrors.IsNotFound(err) {
			storage.LogFor(kind, l.ItemPath).WithField("folder", dir).Debug("library member missing")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Items lists the members in order. Names are not de-duplicated across members.
func (l *library) Items(ctx context.Context, q storage.Query) ([]storage.Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	members, err := l.members(ctx)
	if err != nil {
		return nil, err
	}
	var items []storage.Item
	for _, m := range members {
		sub, err := m.Items(ctx, storage.Query{})
		if err != nil {
			return nil, err
		}
		items = append(items, l.a.wrapAll(ctx, l.ItemPath, sub)...)
	}
	return storage.ApplyQuery(ctx, items, q)
}

// TryGetItem returns the first member's item called name.
func (l *library) TryGetItem(ctx context.Context, name string) (storage.Item, error) {
	members, err := l.members(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		it, err := m.TryGetItem(ctx, name)
		if err != nil {
			return nil, err
		}
		if it != nil {
			return l.a.wrap(ctx, storage.JoinPath(l.ItemPath, name), it), nil
		}
	}
	return nil, nil
}

func (l *library) GetItem(ctx context.Context, name string) (storage.Item, error) {
	return getItem(ctx, l, l.ItemPath, name)
}

func (l *library) GetFile(ctx context.Context, name string) (storage.File, error) {
	return getFile(ctx, l, l.ItemPath, name)
}

func (l *library) GetFolder(ctx context.Context, name string) (storage.Folder, error) {
	return getFolder(ctx, l, l.ItemPath, name)
}

func (l *library) saveFolder(ctx context.Context, verb string) (storage.Folder, error) {
	if len(l.lib.Folders) == 0 {
		return nil, apperrors.NewIOError(kind.String(), verb, l.ItemPath, errEmptyLibrary)
	}
	return l.a.native.ResolveFolder(ctx, l.lib.Folders[0])
}

// CreateFile creates the file in the default save location.
func (l *library) CreateFile(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	d, err := l.saveFolder(ctx, "create_file")
	if err != nil {
		return nil, err
	}
	return d.CreateFile(ctx, desiredName, opt)
}

// CreateFolder creates the folder in the default save location.
func (l *library) CreateFolder(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.Folder, error) {
	d, err := l.saveFolder(ctx, "create_folder")
	if err != nil {
		return nil, err
	}
	return d.CreateFolder(ctx, desiredName, opt)
}

// Rename renames the library definition.
func (l *library) Rename(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.Item, error) {
	if desiredName == l.ItemName {
		return l, nil
	}
	if opt == storage.OpenIfExists {
		opt = storage.FailIfExists
	}
	exists := l.a.libraryExists
	if strings.EqualFold(desiredName, l.ItemName) {
		// Only the case changes; the library does not collide with itself.
		exists = func(context.Context, string) (bool, error) { return false, nil }
	}
	final, existing, err := storage.ResolveCollision(ctx, kind, storage.LibrariesRoot, desiredName, opt, exists)
	if err != nil {
		return nil, err
	}
	p := storage.JoinPath(storage.LibrariesRoot, final)
	if existing {
		if err := l.a.libs.Delete(final); err != nil {
			return nil, l.a.libraryError("rename", p, err)
		}
	}
	lib, err := l.a.libs.Rename(l.ItemName, final)
	if err != nil {
		return nil, l.a.libraryError("rename", l.ItemPath, err)
	}
	return l.a.newLibrary(*lib), nil
}

// Delete removes the library definition; member folders are left alone.
func (l *library) Delete(ctx context.Context, _ storage.DeleteOption) error {
	if err := storage.CheckContext(ctx, kind, "delete", l.ItemPath); err != nil {
		return err
	}
	if err := l.a.libs.Delete(l.ItemName); err != nil {
		return l.a.libraryError("delete", l.ItemPath, err)
	}
	return nil
}

var (
	_ storage.Folder = (*librariesRoot)(nil)
	_ storage.Folder = (*library)(nil)
)
