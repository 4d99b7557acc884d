// Package native implements the storage contract on top of an afero.Fs,
// normally the host OS filesystem.
package native

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
)

const kind = storage.ProviderNative

// Trasher moves a native path to the recycle bin.
type Trasher interface {
	Trash(ctx context.Context, path string) error
}

// Adapter resolves and builds native items.
type Adapter struct {
	fs      afero.Fs
	trash   Trasher
	hostFS  bool
	homeDir func() (string, error)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTrasher enables DeleteToRecycleBin.
func WithTrasher(t Trasher) Option {
	return func(a *Adapter) { a.trash = t }
}

// New wraps fsys. Platform specific metadata (hidden bit, creation time,
// file reference number) is only read when fsys is an *afero.OsFs.
func New(fsys afero.Fs, opts ...Option) *Adapter {
	_, host := fsys.(*afero.OsFs)
	a := &Adapter{fs: fsys, hostFS: host, homeDir: os.UserHomeDir}
	for _, o := range opts {
		o(a)
	}
	return a
}

// NewOS returns an adapter over the host filesystem.
func NewOS(opts ...Option) *Adapter {
	return New(afero.NewOsFs(), opts...)
}

// SetTrasher installs t after construction; the shell adapter needs the native adapter first.
func (a *Adapter) SetTrasher(t Trasher) { a.trash = t }

// Fs exposes the underlying filesystem.
func (a *Adapter) Fs() afero.Fs { return a.fs }

// Probe is the unconditional last step of the resolution chain.
func (a *Adapter) Probe() storage.Probe {
	return storage.Probe{
		Provider: kind,
		Resolve:  a.Resolve,
	}
}

// Clean normalizes p: "~" expansion, absolute path on the host fs, filepath.Clean.
func (a *Adapter) Clean(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := a.homeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	if a.hostFS {
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
	}
	return filepath.Clean(p)
}

// Resolve returns the item at p or a NotFound error.
func (a *Adapter) Resolve(ctx context.Context, p string) (storage.Item, error) {
	if err := storage.CheckContext(ctx, kind, "resolve", p); err != nil {
		return nil, err
	}
	p = a.Clean(p)
	info, err := a.lstat(p)
	if err != nil {
		return nil, storage.WrapError(kind, "resolve", p, err)
	}
	return a.newItem(p, info), nil
}

// ResolveFolder resolves p and requires a directory.
func (a *Adapter) ResolveFolder(ctx context.Context, p string) (storage.Folder, error) {
	it, err := a.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFolder(it)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve_folder", p, errNotDir)
	}
	return f, nil
}

// FromFileInfo converts a directory listing entry into an item.
// It fails when info did not come from this adapter's filesystem under dir.
func (a *Adapter) FromFileInfo(dir string, info fs.FileInfo) (storage.Item, error) {
	if info == nil {
		return nil, apperrors.NewNotFoundError(kind.String(), "from_file_info", dir, nil)
	}
	if it, ok := storage.ItemFromFileInfo(info); ok {
		if it.Provider() != kind {
			return nil, apperrors.NewUnsupportedError(it.Provider().String(), "from_file_info", it.Path())
		}
		return it, nil
	}
	p := filepath.Join(dir, info.Name())
	if _, err := a.lstat(p); err != nil {
		return nil, storage.WrapError(kind, "from_file_info", p, err)
	}
	return a.newItem(p, info), nil
}

func (a *Adapter) lstat(p string) (fs.FileInfo, error) {
	if l, ok := a.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(p)
		return info, err
	}
	return a.fs.Stat(p)
}

func (a *Adapter) exists(p string) (bool, error) {
	_, err := a.lstat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (a *Adapter) existsIn(dir string) storage.ExistsFunc {
	return func(_ context.Context, name string) (bool, error) {
		return a.exists(filepath.Join(dir, name))
	}
}

func (a *Adapter) newItem(p string, info fs.FileInfo) storage.Item {
	isLink := info.Mode()&fs.ModeSymlink != 0
	isDir := info.IsDir()
	if isLink {
		// Links take the kind of their target; dangling links are files.
		if target, err := a.fs.Stat(p); err == nil {
			isDir = target.IsDir()
		}
	}

	var attrs storage.Attributes
	if isDir {
		attrs |= storage.AttrDirectory
	}
	if info.Mode().Perm()&0o200 == 0 {
		attrs |= storage.AttrReadOnly
	}
	if strings.HasPrefix(info.Name(), ".") {
		attrs |= storage.AttrHidden
	}
	if isLink {
		attrs |= storage.AttrReparsePoint
	}

	var created time.Time
	var frn uint64
	var frnOK bool
	if a.hostFS {
		pa := platformAttributes(p, info)
		if pa.hidden {
			attrs |= storage.AttrHidden
		}
		if pa.system {
			attrs |= storage.AttrSystem
		}
		created, frn, frnOK = pa.created, pa.frn, pa.frnOK
	}
	if attrs == 0 {
		attrs = storage.AttrNormal
	}

	k := storage.KindFile
	if isDir {
		k = storage.KindFolder
	}
	it := &item{
		Meta: storage.Meta{
			ItemPath:     p,
			ItemName:     filepath.Base(p),
			Attrs:        attrs,
			Created:      storage.CanonicalTime(created),
			ItemKind:     k,
			ProviderKind: kind,
		},
		a:     a,
		info:  info,
		frn:   frn,
		frnOK: frnOK,
		link:  isLink,
	}
	if isDir {
		return &folder{it}
	}
	return &file{it}
}

// platformAttrs is filled by attrs_<os>.go.
type platformAttrs struct {
	hidden  bool
	system  bool
	created time.Time
	frn     uint64
	frnOK   bool
}

type nativeError string

func (e nativeError) Error() string { return string(e) }

const (
	errNotDir     nativeError = "not a directory"
	errIsDir      nativeError = "is a directory"
	errRootDelete nativeError = "refusing to delete a filesystem root"
	errReplaceOwn nativeError = "replace target contains the source"
	errMoveInside nativeError = "cannot move a folder into itself"
)
