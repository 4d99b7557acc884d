package storage

import (
	"bytes"
	"context"
	"io"
	"time"

	apperrors "nmfstore/internal/errors"
)

// memNode is a tiny in-memory tree used to exercise the provider-neutral code.
type memNode struct {
	name     string
	dir      bool
	data     []byte
	children []*memNode
	parent   *memNode
	mod      time.Time
	noDates  bool
}

func newMemRoot() *memNode { return &memNode{name: "root", dir: true} }

func (n *memNode) path() string {
	if n.parent == nil {
		return "/mem"
	}
	return JoinPath(n.parent.path(), n.name)
}

func (n *memNode) child(name string) *memNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *memNode) addFile(name, content string) *memNode {
	c := &memNode{name: name, data: []byte(content), parent: n, mod: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	n.children = append(n.children, c)
	return c
}

func (n *memNode) addDir(name string) *memNode {
	c := &memNode{name: name, dir: true, parent: n}
	n.children = append(n.children, c)
	return c
}

func (n *memNode) remove() {
	p := n.parent
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return
		}
	}
}

type memItem struct {
	Meta
	node *memNode
}

func wrapMem(n *memNode) Item {
	kind := KindFile
	if n.dir {
		kind = KindFolder
	}
	it := &memItem{Meta: Meta{ItemPath: n.path(), ItemName: n.name, ItemKind: kind, ProviderKind: ProviderNative}, node: n}
	if n.dir {
		return &memFolder{it}
	}
	return &memFile{it}
}

func (m *memItem) BasicProperties(ctx context.Context) (BasicProperties, error) {
	if err := ctx.Err(); err != nil {
		return BasicProperties{}, err
	}
	b := NewBasicProperties()
	if !m.node.dir {
		b = b.WithSize(uint64(len(m.node.data)))
	}
	if !m.node.noDates {
		b = b.WithDateModified(m.node.mod)
	}
	return b, nil
}

func (m *memItem) Properties() ExtraProperties { return NewPropertySet(wrapMem(m.node)) }

func (m *memItem) Parent(ctx context.Context) (Folder, error) {
	if m.node.parent == nil {
		return nil, apperrors.NewNotFoundError("native", "parent", m.ItemPath, nil)
	}
	return wrapMem(m.node.parent).(Folder), nil
}

func (m *memItem) Rename(ctx context.Context, name string, opt CollisionOption) (Item, error) {
	parent := wrapMem(m.node.parent).(Folder)
	final, existing, err := ResolveCollision(ctx, ProviderNative, parent.Path(), name, opt, ExistsInFolder(parent))
	if err != nil {
		return nil, err
	}
	if existing {
		m.node.parent.child(final).remove()
	}
	m.node.name = final
	return wrapMem(m.node), nil
}

func (m *memItem) Delete(ctx context.Context, opt DeleteOption) error {
	if m.node.parent == nil {
		return apperrors.NewUnsupportedError("native", "delete", m.ItemPath)
	}
	m.node.remove()
	return nil
}

type memFile struct{ *memItem }

func (f *memFile) OpenRead(ctx context.Context) (ReadStream, error) {
	return NewReadStream(io.NopCloser(bytes.NewReader(f.node.data)), int64(len(f.node.data))), nil
}

type memWriter struct {
	bytes.Buffer
	node *memNode
}

func (w *memWriter) Close() error {
	w.node.data = append([]byte(nil), w.Bytes()...)
	return nil
}

func (f *memFile) OpenWrite(ctx context.Context, mode WriteMode) (io.WriteCloser, error) {
	w := &memWriter{node: f.node}
	if mode == WriteAppend {
		w.Write(f.node.data)
	}
	return w, nil
}

func (f *memFile) CopyTo(ctx context.Context, dest Folder, name string, opt CollisionOption) (File, error) {
	return StreamCopy(ctx, f, dest, name, opt)
}

func (f *memFile) MoveTo(ctx context.Context, dest Folder, name string, opt CollisionOption) (File, error) {
	return StreamMove(ctx, f, dest, name, opt)
}

type memFolder struct{ *memItem }

func (d *memFolder) TryGetItem(ctx context.Context, name string) (Item, error) {
	if c := d.node.child(name); c != nil {
		return wrapMem(c), nil
	}
	return nil, nil
}

func (d *memFolder) GetItem(ctx context.Context, name string) (Item, error) {
	it, _ := d.TryGetItem(ctx, name)
	if it == nil {
		return nil, apperrors.NewNotFoundError("native", "get_item", JoinPath(d.ItemPath, name), nil)
	}
	return it, nil
}

func (d *memFolder) GetFile(ctx context.Context, name string) (File, error) {
	it, err := d.GetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	f, ok := TryFile(it)
	if !ok {
		return nil, apperrors.NewNotFoundError("native", "get_file", it.Path(), nil)
	}
	return f, nil
}

func (d *memFolder) GetFolder(ctx context.Context, name string) (Folder, error) {
	it, err := d.GetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	f, ok := TryFolder(it)
	if !ok {
		return nil, apperrors.NewNotFoundError("native", "get_folder", it.Path(), nil)
	}
	return f, nil
}

func (d *memFolder) Items(ctx context.Context, q Query) ([]Item, error) {
	items := make([]Item, len(d.node.children))
	for i, c := range d.node.children {
		items[i] = wrapMem(c)
	}
	return ApplyQuery(ctx, items, q)
}

func (d *memFolder) CreateFile(ctx context.Context, name string, opt CollisionOption) (File, error) {
	final, existing, err := ResolveCollision(ctx, ProviderNative, d.ItemPath, name, opt, ExistsInFolder(d))
	if err != nil {
		return nil, err
	}
	if existing {
		c := d.node.child(final)
		if opt == ReplaceExisting {
			c.data = nil
		}
		return wrapMem(c).(File), nil
	}
	return wrapMem(d.node.addFile(final, "")).(File), nil
}

func (d *memFolder) CreateFolder(ctx context.Context, name string, opt CollisionOption) (Folder, error) {
	final, existing, err := ResolveCollision(ctx, ProviderNative, d.ItemPath, name, opt, ExistsInFolder(d))
	if err != nil {
		return nil, err
	}
	if existing {
		return wrapMem(d.node.child(final)).(Folder), nil
	}
	return wrapMem(d.node.addDir(final)).(Folder), nil
}

var (
	_ File   = (*memFile)(nil)
	_ Folder = (*memFolder)(nil)
)
