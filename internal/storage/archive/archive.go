// Package archive exposes the entries of archive files (zip, tar, 7z, rar, ...)
// as storage items. Reading works for every format mholt/archives can extract;
// writing rewrites the container and needs a format that can also be created.
package archive

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding"

	"nmfstore/internal/constants"
	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
	"nmfstore/internal/storage/native"
)

const kind = storage.ProviderArchive

// Adapter resolves paths that run through an archive file on the native filesystem.
type Adapter struct {
	host       *native.Adapter
	syntax     *storage.Syntax
	cache      *lru.Cache[string, *index]
	encoding   encoding.Encoding
	scratch    afero.Fs
	scratchDir string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTextEncoding sets the charset for zip entry names that are not UTF-8.
func WithTextEncoding(enc encoding.Encoding) Option {
	return func(a *Adapter) { a.encoding = enc }
}

// WithScratch sets where large entries are spooled when opened for reading.
func WithScratch(fsys afero.Fs, dir string) Option {
	return func(a *Adapter) { a.scratch, a.scratchDir = fsys, dir }
}

// WithIndexCacheSize bounds the number of archive indexes kept in memory.
func WithIndexCacheSize(n int) Option {
	return func(a *Adapter) {
		if c, err := lru.New[string, *index](n); err == nil {
			a.cache = c
		}
	}
}

// New builds an adapter whose containers live on host.
func New(host *native.Adapter, syntax *storage.Syntax, opts ...Option) *Adapter {
	cache, _ := lru.New[string, *index](constants.DefaultIndexCacheSize)
	a := &Adapter{
		host:    host,
		syntax:  syntax,
		cache:   cache,
		scratch: afero.NewOsFs(),
		locks:   make(map[string]*sync.RWMutex),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Probe is the first step of the resolution chain. Any failure falls through
// so a path that merely looks like it runs through an archive still reaches
// the native adapter. The container path itself is left to the native
// adapter as a file; only folder lookups open it as an archive root.
func (a *Adapter) Probe() storage.Probe {
	return storage.Probe{
		Provider: kind,
		Match: func(p string) bool {
			_, _, ok := a.syntax.SplitArchivePath(p)
			return ok
		},
		Resolve:       a.resolveEntry,
		ResolveFolder: a.ResolveFolder,
		FallThrough:   storage.FallThroughAny,
	}
}

// resolveEntry resolves paths below a container and nothing else.
func (a *Adapter) resolveEntry(ctx context.Context, p string) (storage.Item, error) {
	if _, inner, ok := a.syntax.SplitArchivePath(p); ok && inner == "" {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve", p, errContainerRoot)
	}
	return a.Resolve(ctx, p)
}

// Resolve returns the entry at p. The container itself resolves as the root folder.
func (a *Adapter) Resolve(ctx context.Context, p string) (storage.Item, error) {
	container, inner, ok := a.syntax.SplitArchivePath(p)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve", p, errNotArchivePath)
	}
	container = a.host.Clean(container)
	idx, err := a.index(ctx, container)
	if err != nil {
		return nil, err
	}
	return a.itemFor(container, inner, idx)
}

// ResolveFolder opens container as a browsable folder.
func (a *Adapter) ResolveFolder(ctx context.Context, container string) (storage.Folder, error) {
	it, err := a.Resolve(ctx, container)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFolder(it)
	if !ok {
		return nil, apperrors.NewNotFoundError(kind.String(), "resolve_folder", container, errNotDir)
	}
	return f, nil
}

// lockFor returns the mutex serializing rewrites of one container.
func (a *Adapter) lockFor(container string) *sync.RWMutex {
	key := strings.ToLower(filepath.Clean(container))
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		a.locks[key] = l
	}
	return l
}

// itemPath is the parsing path of inner below container.
func itemPath(container, inner string) string {
	if inner == "" {
		return container
	}
	return filepath.Join(container, filepath.FromSlash(inner))
}

type archiveError string

func (e archiveError) Error() string { return string(e) }

const (
	errNotArchivePath archiveError = "path does not run through an archive"
	errNotRegular     archiveError = "archive container is not a regular file"
	errNotDir         archiveError = "not a directory"
	errIsDir          archiveError = "is a directory"
	errEntryMissing   archiveError = "no such entry in archive"
	errContainerRoot  archiveError = "archive container resolves as a file"
)
