package network

import (
	"bytes"
	"context"
	"io"
	"path"
	"sync"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
)

type item struct {
	storage.Meta
	a      *Adapter
	ep     Endpoint
	remote string
	entry  Entry
}

func (a *Adapter) newItem(ep Endpoint, remote string, e Entry) storage.Item {
	name := path.Base(remote)
	isRoot := remote == "/"
	if isRoot {
		name = ep.Host
		if ep.Share != "" {
			name = ep.Share
		}
		e.Dir = true
	}
	var attrs storage.Attributes
	if e.Dir {
		attrs |= storage.AttrDirectory
	}
	if e.LinkTarget != "" {
		attrs |= storage.AttrReparsePoint
	}
	if attrs == 0 {
		attrs = storage.AttrNormal
	}
	k := storage.KindFile
	if e.Dir {
		k = storage.KindFolder
	}
	it := &item{
		Meta: storage.Meta{
			ItemPath:     ep.URI(remote),
			ItemName:     name,
			Attrs:        attrs,
			Created:      storage.CanonicalTime(e.ModTime),
			ItemKind:     k,
			ProviderKind: kind,
		},
		a:      a,
		ep:     ep,
		remote: remote,
		entry:  e,
	}
	return it.self()
}

func (it *item) self() storage.Item {
	if it.ItemKind == storage.KindFolder {
		return &folder{it}
	}
	return &file{it}
}

func (it *item) isRoot() bool { return it.remote == "/" }

// BasicProperties asks the server again; dates it does not report stay defaulted.
func (it *item) BasicProperties(ctx context.Context) (storage.BasicProperties, error) {
	var e Entry
	err := it.a.with(ctx, it.ep, "properties", it.remote, func(c Client) error {
		var err error
		e, err = c.Stat(ctx, it.remote)
		return err
	})
	if err != nil {
		return storage.BasicProperties{}, err
	}
	b := storage.NewBasicProperties()
	if !e.ModTime.IsZero() {
		b = b.WithDateModified(e.ModTime).WithItemDate(e.ModTime)
	}
	if !e.Dir {
		b = b.WithSize(uint64(max(e.Size, 0)))
	}
	return b, nil
}

func (it *item) Properties() storage.ExtraProperties {
	ps := storage.NewPropertySet(it.self())
	if it.entry.LinkTarget != "" {
		ps.RegisterValue(storage.KeyLinkTarget, it.entry.LinkTarget)
	}
	return ps
}

func (it *item) Parent(ctx context.Context) (storage.Folder, error) {
	if it.isRoot() {
		return nil, apperrors.NewNotFoundError(kind.String(), "parent", it.ItemPath, nil)
	}
	p, err := it.a.resolve(ctx, it.ep, path.Dir(it.remote))
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFolder(p)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "parent", p.Path(), errNotDir)
	}
	return f, nil
}

func (it *item) Rename(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.Item, error) {
	if it.isRoot() {
		return nil, apperrors.NewUnsupportedError(kind.String(), "rename", it.ItemPath)
	}
	if desiredName == it.ItemName {
		return it.self(), nil
	}
	if opt == storage.OpenIfExists {
		opt = storage.FailIfExists
	}
	target, err := it.a.moveInto(ctx, it.ep, it.remote, path.Dir(it.remote), desiredName, opt)
	if err != nil {
		return nil, err
	}
	return it.a.resolve(ctx, it.ep, target)
}

// Delete removes the item permanently. Remote stores have no recycle bin.
func (it *item) Delete(ctx context.Context, opt storage.DeleteOption) error {
	if opt == storage.DeleteToRecycleBin {
		return apperrors.NewUnsupportedError(kind.String(), "delete", it.ItemPath)
	}
	if it.isRoot() {
		return apperrors.NewIOError(kind.String(), "delete", it.ItemPath, errRootDelete)
	}
	err := it.a.with(ctx, it.ep, "delete", it.remote, func(c Client) error {
		return c.Remove(ctx, it.remote, it.ItemKind == storage.KindFolder)
	})
	if err == nil {
		storage.LogFor(kind, it.ItemPath).Debug("deleted")
	}
	return err
}

// moveInto renames src into dir under the collision-resolved name on the
// same endpoint and returns the new remote path.
func (a *Adapter) moveInto(ctx context.Context, ep Endpoint, src, dir, desiredName string, opt storage.CollisionOption) (string, error) {
	final, existing, err := storage.ResolveCollision(ctx, kind, ep.URI(dir), desiredName, opt, a.existsIn(ep, dir))
	if err != nil {
		return "", err
	}
	target := path.Join(dir, final)
	if target == src {
		return target, nil
	}
	if existing && storage.PathWithin(src, target) {
		return "", apperrors.NewIOError(kind.String(), "move", ep.URI(src), errReplaceOwn)
	}
	err = a.with(ctx, ep, "rename", src, func(c Client) error {
		if existing {
			old, err := c.Stat(ctx, target)
			if err != nil {
				return err
			}
			if err := c.Remove(ctx, target, old.Dir); err != nil {
				return err
			}
		}
		return c.Rename(ctx, src, target)
	})
	if err != nil {
		return "", err
	}
	storage.LogFor(kind, ep.URI(src)).WithField("to", ep.URI(target)).Debug("renamed")
	return target, nil
}

func (a *Adapter) existsIn(ep Endpoint, dir string) storage.ExistsFunc {
	return func(ctx context.Context, name string) (bool, error) {
		p := path.Join(dir, name)
		err := a.with(ctx, ep, "stat", p, func(c Client) error {
			_, err := c.Stat(ctx, p)
			return err
		})
		if apperrors.IsNotFound(err) {
			return false, nil
		}
		return err == nil, err
	}
}

type file struct{ *item }

// OpenRead keeps the session busy until the returned stream is closed.
func (f *file) OpenRead(ctx context.Context) (storage.ReadStream, error) {
	c, err := f.a.session(ctx, f.ep)
	if err != nil {
		return nil, err
	}
	rc, size, err := c.Open(ctx, f.remote)
	if err != nil {
		f.a.pool.release(f.ep.Key(), c, isBroken(ctx, err))
		return nil, storage.WrapError(kind, "open_read", f.ItemPath, err)
	}
	if size < 0 && f.entry.Size > 0 {
		size = f.entry.Size
	}
	r := &sessionReader{rc: rc}
	r.done = func(broken bool) { f.a.pool.release(f.ep.Key(), c, broken || ctx.Err() != nil) }
	return storage.NewReadStream(r, size), nil
}

type sessionReader struct {
	rc     io.ReadCloser
	done   func(broken bool)
	once   sync.Once
	failed bool
}

func (r *sessionReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if err != nil && err != io.EOF {
		r.failed = true
	}
	return n, err
}

func (r *sessionReader) Close() error {
	err := r.rc.Close()
	r.once.Do(func() { r.done(r.failed || err != nil) })
	return err
}

// OpenWrite streams into the server through a pipe; the upload finishes
// when the writer is closed.
func (f *file) OpenWrite(ctx context.Context, mode storage.WriteMode) (io.WriteCloser, error) {
	c, err := f.a.session(ctx, f.ep)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	w := &sessionWriter{pw: pw, done: make(chan error, 1), path: f.ItemPath}
	go func() {
		err := c.Store(ctx, f.remote, pr, mode == storage.WriteAppend)
		// Unblock the writer if the server gave up early.
		pr.CloseWithError(err)
		f.a.pool.release(f.ep.Key(), c, isBroken(ctx, err))
		w.done <- err
	}()
	return w, nil
}

type sessionWriter struct {
	pw     *io.PipeWriter
	done   chan error
	path   string
	once   sync.Once
	result error
}

func (w *sessionWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *sessionWriter) Close() error {
	w.once.Do(func() {
		w.pw.Close()
		w.result = storage.WrapError(kind, "open_write", w.path, <-w.done)
	})
	return w.result
}

func (f *file) CopyTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	return storage.StreamCopy(ctx, f, dest, desiredName, opt)
}

// MoveTo renames on the server when dest is on the same endpoint.
func (f *file) MoveTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	d, ok := dest.(*folder)
	if !ok || d.a != f.a || d.ep.Key() != f.ep.Key() {
		return storage.StreamMove(ctx, f, dest, desiredName, opt)
	}
	if desiredName == "" {
		desiredName = f.ItemName
	}
	if opt == storage.OpenIfExists {
		opt = storage.ReplaceExisting
	}
	target, err := f.a.moveInto(ctx, f.ep, f.remote, d.remote, desiredName, opt)
	if err != nil {
		return nil, err
	}
	return f.a.resolveFile(ctx, f.ep, target)
}

type folder struct{ *item }

func (d *folder) child(name string) string { return path.Join(d.remote, name) }

func (d *folder) TryGetItem(ctx context.Context, name string) (storage.Item, error) {
	p := d.child(name)
	var e Entry
	err := d.a.with(ctx, d.ep, "get_item", p, func(c Client) error {
		var err error
		e, err = c.Stat(ctx, p)
		return err
	})
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.a.newItem(d.ep, p, e), nil
}

func (d *folder) GetItem(ctx context.Context, name string) (storage.Item, error) {
	it, err := d.TryGetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, apperrors.NewNotFoundError(kind.String(), "get_item", d.ep.URI(d.child(name)), nil)
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

// Items lists the whole directory and filters client side.
func (d *folder) Items(ctx context.Context, q storage.Query) ([]storage.Item, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var entries []Entry
	err := d.a.with(ctx, d.ep, "items", d.remote, func(c Client) error {
		var err error
		entries, err = c.List(ctx, d.remote)
		return err
	})
	if err != nil {
		return nil, err
	}
	items := make([]storage.Item, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" || e.Name == "." || e.Name == ".." {
			continue
		}
		items = append(items, d.a.newItem(d.ep, d.child(e.Name), e))
	}
	return storage.ApplyQuery(ctx, items, q)
}

func (d *folder) CreateFile(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	final, existing, err := storage.ResolveCollision(ctx, kind, d.ItemPath, desiredName, opt, d.a.existsIn(d.ep, d.remote))
	if err != nil {
		return nil, err
	}
	p := d.child(final)
	if existing && opt == storage.OpenIfExists {
		return d.a.resolveFile(ctx, d.ep, p)
	}
	err = d.a.with(ctx, d.ep, "create_file", p, func(c Client) error {
		if existing {
			if old, err := c.Stat(ctx, p); err == nil && old.Dir {
				if err := c.Remove(ctx, p, true); err != nil {
					return err
				}
			}
		}
		return c.Store(ctx, p, bytes.NewReader(nil), false)
	})
	if err != nil {
		return nil, err
	}
	return d.a.resolveFile(ctx, d.ep, p)
}

func (d *folder) CreateFolder(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.Folder, error) {
	final, existing, err := storage.ResolveCollision(ctx, kind, d.ItemPath, desiredName, opt, d.a.existsIn(d.ep, d.remote))
	if err != nil {
		return nil, err
	}
	p := d.child(final)
	if !existing || opt != storage.OpenIfExists {
		err = d.a.with(ctx, d.ep, "create_folder", p, func(c Client) error {
			if existing {
				old, err := c.Stat(ctx, p)
				if err != nil {
					return err
				}
				if err := c.Remove(ctx, p, old.Dir); err != nil {
					return err
				}
			}
			return c.Mkdir(ctx, p)
		})
		if err != nil {
			return nil, err
		}
	}
	it, err := d.a.resolve(ctx, d.ep, p)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFolder(it)
	if !ok {
		return nil, apperrors.NewCollisionError(kind.String(), "create_folder", it.Path())
	}
	return f, nil
}

// MoveTo renames the whole tree when dest is on the same endpoint.
func (d *folder) MoveTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.Folder, error) {
	df, ok := dest.(*folder)
	if !ok || df.a != d.a || df.ep.Key() != d.ep.Key() || d.isRoot() {
		return nil, apperrors.NewUnsupportedError(kind.String(), "move", d.ItemPath)
	}
	if desiredName == "" {
		desiredName = d.ItemName
	}
	if opt == storage.OpenIfExists {
		opt = storage.ReplaceExisting
	}
	if storage.PathWithin(df.remote, d.remote) {
		return nil, apperrors.NewIOError(kind.String(), "move", d.ItemPath, errMoveInside)
	}
	target, err := d.a.moveInto(ctx, d.ep, d.remote, df.remote, desiredName, opt)
	if err != nil {
		return nil, err
	}
	it, err := d.a.resolve(ctx, d.ep, target)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFolder(it)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "move", it.Path(), errNotDir)
	}
	return f, nil
}

func (a *Adapter) resolveFile(ctx context.Context, ep Endpoint, remote string) (storage.File, error) {
	it, err := a.resolve(ctx, ep, remote)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFile(it)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve_file", it.Path(), errIsDir)
	}
	return f, nil
}

var (
	_ storage.File        = (*file)(nil)
	_ storage.Folder      = (*folder)(nil)
	_ storage.FolderMover = (*folder)(nil)
)
