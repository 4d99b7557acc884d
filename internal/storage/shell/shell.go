// Package shell implements the virtual namespace: the recycle bin, libraries
// and known folders addressed as shell:Name, ::{GUID} or \\SHELL\Name.
// Content below a virtual root is native content; only symbolic links are
// re-surfaced as shortcut items.
package shell

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
	"nmfstore/internal/storage/native"
)

const kind = storage.ProviderVirtualNamespace

type shellError string

func (e shellError) Error() string { return string(e) }

const (
	errInsideTrash  shellError = "cannot trash an item inside the trash"
	errBadTrashInfo shellError = "trash info has no Path"
	errNoLibraries  shellError = "libraries are not configured"
	errEmptyLibrary shellError = "library has no folders"
	errTargetDir    shellError = "shortcut target is a folder"
)

// Root names below shell:.
const (
	recycleBinName = "RecycleBinFolder"
	librariesName  = "Libraries"
)

// GUID forms of the roots, lower case without braces.
var guidRoots = map[string]string{
	"645ff040-5081-101b-9f08-00aa002f954e": recycleBinName,
	"031e4825-7b94-4dc3-b131-e946b44c8dd5": librariesName,
}

// Known folder names and their location relative to the home directory.
var defaultKnownFolders = map[string]string{
	"Desktop":   "Desktop",
	"Documents": "Documents",
	"Downloads": "Downloads",
	"Music":     "Music",
	"Pictures":  "Pictures",
	"Videos":    "Videos",
	"Profile":   "",
}

// Restorer is implemented by recycle bin items.
type Restorer interface {
	OriginalPath() string
	DateDeleted() time.Time
	Restore(ctx context.Context, opt storage.CollisionOption) (storage.Item, error)
}

// Shortcut is implemented by link items inside virtual folders.
type Shortcut interface {
	TargetPath() string
}

// Adapter resolves virtual paths. Its content lives on the native adapter's filesystem.
type Adapter struct {
	native *native.Adapter
	trash  *Trash
	libs   *Libraries
	known  map[string]knownFolder // keyed by lower case name
}

type knownFolder struct {
	name string
	dir  string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTrash sets the recycle bin backing store.
func WithTrash(t *Trash) Option {
	return func(a *Adapter) { a.trash = t }
}

// WithLibraries enables shell:Libraries.
func WithLibraries(l *Libraries) Option {
	return func(a *Adapter) { a.libs = l }
}

// WithKnownFolders adds or overrides shell:<Name> targets.
func WithKnownFolders(m map[string]string) Option {
	return func(a *Adapter) {
		for name, dir := range m {
			a.known[strings.ToLower(name)] = knownFolder{name: name, dir: filepath.Clean(dir)}
		}
	}
}

// New builds the adapter over nat. Known folders default to the usual
// directories under the home directory.
func New(nat *native.Adapter, opts ...Option) *Adapter {
	a := &Adapter{native: nat, known: make(map[string]knownFolder)}
	if home, err := os.UserHomeDir(); err == nil {
		for name, rel := range defaultKnownFolders {
			a.known[strings.ToLower(name)] = knownFolder{name: name, dir: filepath.Join(home, rel)}
		}
	}
	for _, o := range opts {
		o(a)
	}
	if a.trash == nil {
		a.trash = NewTrash(nat.Fs(), "")
	}
	return a
}

// Trash returns the recycle bin store; it doubles as the native adapter's Trasher.
func (a *Adapter) Trash() *Trash { return a.trash }

// Libraries returns the library store, or nil when libraries are disabled.
func (a *Adapter) Libraries() *Libraries { return a.libs }

// Probe claims shell:, ::{ and \\SHELL\ paths.
func (a *Adapter) Probe() storage.Probe {
	return storage.Probe{
		Provider: kind,
		Match:    storage.IsVirtualPath,
		Resolve:  a.Resolve,
	}
}

type rootKind int

const (
	rootRecycleBin rootKind = iota
	rootLibraries
	rootKnown
)

// location is a parsed virtual path.
type location struct {
	root  rootKind
	known knownFolder
	segs  []string
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func (a *Adapter) parse(p string) (location, bool) {
	s := strings.TrimSpace(p)
	if hasPrefixFold(s, storage.ShellUNCPrefix) {
		s = s[len(storage.ShellUNCPrefix):]
		if !hasPrefixFold(s, storage.ShellPrefix) && !strings.HasPrefix(s, storage.ShellGUIDPrefix) {
			s = storage.ShellPrefix + s
		}
	}
	var head, tail string
	switch {
	case strings.HasPrefix(s, storage.ShellGUIDPrefix):
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return location{}, false
		}
		name, ok := guidRoots[strings.ToLower(s[len(storage.ShellGUIDPrefix):end])]
		if !ok {
			return location{}, false
		}
		head, tail = name, s[end+1:]
	case hasPrefixFold(s, storage.ShellPrefix):
		rest := s[len(storage.ShellPrefix):]
		head = rest
		if i := strings.IndexAny(rest, `/\`); i >= 0 {
			head, tail = rest[:i], rest[i+1:]
		}
	default:
		return location{}, false
	}

	var loc location
	switch {
	case strings.EqualFold(head, recycleBinName):
		loc.root = rootRecycleBin
	case strings.EqualFold(head, librariesName):
		loc.root = rootLibraries
	default:
		kf, ok := a.known[strings.ToLower(head)]
		if !ok {
			return location{}, false
		}
		loc.root, loc.known = rootKnown, kf
	}
	for _, seg := range strings.FieldsFunc(tail, func(r rune) bool { return r == '/' || r == '\\' }) {
		switch seg {
		case ".":
		case "..":
			if len(loc.segs) > 0 {
				loc.segs = loc.segs[:len(loc.segs)-1]
			}
		default:
			loc.segs = append(loc.segs, seg)
		}
	}
	return loc, true
}

// rootPath is the canonical path of the location's root.
func (l location) rootPath() string {
	switch l.root {
	case rootRecycleBin:
		return storage.RecycleBinRoot
	case rootLibraries:
		return storage.LibrariesRoot
	}
	return storage.ShellPrefix + l.known.name
}

// path is the canonical path of the whole location.
func (l location) path() string {
	p := l.rootPath()
	for _, s := range l.segs {
		p = storage.JoinPath(p, s)
	}
	return p
}

// Resolve returns the item a virtual path names.
func (a *Adapter) Resolve(ctx context.Context, p string) (storage.Item, error) {
	if err := storage.CheckContext(ctx, kind, "resolve", p); err != nil {
		return nil, err
	}
	loc, ok := a.parse(p)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve", p, nil)
	}
	switch loc.root {
	case rootRecycleBin:
		return a.resolveTrash(ctx, loc)
	case rootLibraries:
		return a.resolveLibrary(ctx, loc)
	}
	return a.resolveKnown(ctx, loc)
}

// ResolveFolder resolves p and requires a folder.
func (a *Adapter) ResolveFolder(ctx context.Context, p string) (storage.Folder, error) {
	it, err := a.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFolder(it)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve_folder", p, nil)
	}
	return f, nil
}

func (a *Adapter) resolveTrash(ctx context.Context, loc location) (storage.Item, error) {
	if len(loc.segs) == 0 {
		return a.recycleBin(), nil
	}
	e, err := a.trash.Entry(loc.segs[0])
	if err != nil {
		return nil, storage.WrapError(kind, "resolve", loc.path(), err)
	}
	if len(loc.segs) == 1 {
		return a.newTrashItem(e), nil
	}
	// Below a trashed folder everything is plain native content.
	p := filepath.Join(append([]string{a.trash.contentPath(e.Name)}, loc.segs[1:]...)...)
	return a.native.Resolve(ctx, p)
}

func (a *Adapter) resolveLibrary(ctx context.Context, loc location) (storage.Item, error) {
	if a.libs == nil {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve", loc.path(), errNoLibraries)
	}
	if len(loc.segs) == 0 {
		return a.librariesRoot(), nil
	}
	lib, err := a.libs.Get(loc.segs[0])
	if err != nil {
		return nil, a.libraryError("resolve", storage.JoinPath(storage.LibrariesRoot, loc.segs[0]), err)
	}
	l := a.newLibrary(*lib)
	if len(loc.segs) == 1 {
		return l, nil
	}
	rel := filepath.Join(loc.segs[1:]...)
	for _, dir := range lib.Folders {
		it, err := a.native.Resolve(ctx, filepath.Join(dir, rel))
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return a.wrap(ctx, loc.path(), it), nil
	}
	return nil, apperrors.NewNotFoundError(kind.String(), "resolve", loc.path(), nil)
}

func (a *Adapter) resolveKnown(ctx context.Context, loc location) (storage.Item, error) {
	if len(loc.segs) == 0 {
		return a.newKnownFolder(ctx, loc.known)
	}
	it, err := a.native.Resolve(ctx, filepath.Join(append([]string{loc.known.dir}, loc.segs...)...))
	if err != nil {
		return nil, err
	}
	return a.wrap(ctx, loc.path(), it), nil
}

// wrap turns native symbolic links found under a virtual folder into
// shortcut items addressed by their virtual path.
func (a *Adapter) wrap(ctx context.Context, vpath string, it storage.Item) storage.Item {
	if it.Provider() != storage.ProviderNative || !it.Attributes().Has(storage.AttrReparsePoint) {
		return it
	}
	bag, err := it.Properties().RetrieveProperties(ctx, []storage.PropertyKey{storage.KeyLinkTarget})
	if err != nil {
		return it
	}
	v, ok := bag[storage.KeyLinkTarget].Value()
	target, _ := v.(string)
	if !ok || target == "" {
		return it
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(it.Path()), target)
	}
	return a.newShortcut(vpath, it, target)
}

// wrapAll applies wrap to a native listing of the virtual folder vdir.
func (a *Adapter) wrapAll(ctx context.Context, vdir string, items []storage.Item) []storage.Item {
	for i, it := range items {
		items[i] = a.wrap(ctx, storage.JoinPath(vdir, it.Name()), it)
	}
	return items
}

type tryGetter interface {
	TryGetItem(ctx context.Context, name string) (storage.Item, error)
}

func getItem(ctx context.Context, d tryGetter, dir, name string) (storage.Item, error) {
	it, err := d.TryGetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, apperrors.NewNotFoundError(kind.String(), "get_item", storage.JoinPath(dir, name), nil)
	}
	return it, nil
}

func getFile(ctx context.Context, d tryGetter, dir, name string) (storage.File, error) {
	it, err := getItem(ctx, d, dir, name)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFile(it)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "get_file", it.Path(), nil)
	}
	return f, nil
}

func getFolder(ctx context.Context, d tryGetter, dir, name string) (storage.Folder, error) {
	it, err := getItem(ctx, d, dir, name)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFolder(it)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "get_folder", it.Path(), nil)
	}
	return f, nil
}

// node carries what every virtual item shares. Mutations default to unsupported.
type node struct {
	storage.Meta
	a *Adapter
}

func (a *Adapter) node(p, name, display string, k storage.ItemKind) node {
	attrs := storage.AttrNormal
	if k == storage.KindFolder {
		attrs = storage.AttrDirectory
	}
	return node{
		Meta: storage.Meta{
			ItemPath:     p,
			ItemName:     name,
			Display:      display,
			Attrs:        attrs,
			ItemKind:     k,
			ProviderKind: kind,
		},
		a: a,
	}
}

func (n *node) BasicProperties(ctx context.Context) (storage.BasicProperties, error) {
	if err := storage.CheckContext(ctx, kind, "properties", n.ItemPath); err != nil {
		return storage.BasicProperties{}, err
	}
	return storage.NewBasicProperties(), nil
}

func (n *node) Parent(ctx context.Context) (storage.Folder, error) {
	parent := storage.ParentPath(n.ItemPath)
	if parent == "" {
		return nil, apperrors.NewNotFoundError(kind.String(), "parent", n.ItemPath, nil)
	}
	return n.a.ResolveFolder(ctx, parent)
}

func (n *node) Rename(context.Context, string, storage.CollisionOption) (storage.Item, error) {
	return nil, apperrors.NewUnsupportedError(kind.String(), "rename", n.ItemPath)
}

func (n *node) Delete(context.Context, storage.DeleteOption) error {
	return apperrors.NewUnsupportedError(kind.String(), "delete", n.ItemPath)
}

func (n *node) CreateFile(context.Context, string, storage.CollisionOption) (storage.File, error) {
	return nil, apperrors.NewUnsupportedError(kind.String(), "create_file", n.ItemPath)
}

func (n *node) CreateFolder(context.Context, string, storage.CollisionOption) (storage.Folder, error) {
	return nil, apperrors.NewUnsupportedError(kind.String(), "create_folder", n.ItemPath)
}
