package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"nmfstore/internal/constants"
	"nmfstore/internal/storage"
)

const trashInfoHeader = "[Trash Info]"

// TrashEntry is one item in the trash.
type TrashEntry struct {
	Name         string // name under files/, unique within the trash
	OriginalPath string
	Deleted      time.Time
	IsDir        bool
	Size         int64
	ModTime      time.Time
}

// Trash is a freedesktop.org trash directory: the trashed content lives in
// files/ and one .trashinfo file per item in info/ records where it came from.
type Trash struct {
	fs  afero.Fs
	dir string
	now func() time.Time

	// mu serializes name allocation and restore.
	mu sync.Mutex
}

// NewTrash uses dir on fsys. An empty dir means DefaultTrashDir.
func NewTrash(fsys afero.Fs, dir string) *Trash {
	if dir == "" {
		dir = DefaultTrashDir()
	}
	return &Trash{fs: fsys, dir: filepath.Clean(dir), now: time.Now}
}

// DefaultTrashDir returns $XDG_DATA_HOME/Trash, falling back to ~/.local/share/Trash.
func DefaultTrashDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "Trash")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "Trash")
	}
	return filepath.Join(home, ".local", "share", "Trash")
}

// Dir returns the trash directory.
func (t *Trash) Dir() string { return t.dir }

func (t *Trash) filesDir() string { return filepath.Join(t.dir, "files") }
func (t *Trash) infoDir() string  { return filepath.Join(t.dir, "info") }

func (t *Trash) contentPath(name string) string { return filepath.Join(t.filesDir(), name) }

func (t *Trash) infoPath(name string) string {
	return filepath.Join(t.infoDir(), name+constants.TrashInfoExtension)
}

func (t *Trash) lstat(p string) (fs.FileInfo, error) {
	if l, ok := t.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(p)
		return info, err
	}
	return t.fs.Stat(p)
}

// Trash moves p into the trash. It satisfies native.Trasher.
func (t *Trash) Trash(ctx context.Context, p string) error {
	if err := storage.CheckContext(ctx, kind, "trash", p); err != nil {
		return err
	}
	p = filepath.Clean(p)
	if _, err := t.lstat(p); err != nil {
		return storage.WrapError(kind, "trash", p, err)
	}
	if strings.HasPrefix(p+string(filepath.Separator), t.dir+string(filepath.Separator)) {
		return storage.WrapError(kind, "trash", p, errInsideTrash)
	}
	for _, d := range []string{t.filesDir(), t.infoDir()} {
		if err := t.fs.MkdirAll(d, 0o700); err != nil {
			return storage.WrapError(kind, "trash", d, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	name, err := t.allocate(ctx, p)
	if err != nil {
		return err
	}
	if err := t.fs.Rename(p, t.contentPath(name)); err != nil {
		t.fs.Remove(t.infoPath(name))
		return storage.WrapError(kind, "trash", p, err)
	}
	storage.LogFor(kind, p).WithField("name", name).Debug("trashed")
	return nil
}

// allocate reserves a name by creating its info file exclusively.
func (t *Trash) allocate(ctx context.Context, p string) (string, error) {
	info := formatTrashInfo(p, t.now())
	exists := func(_ context.Context, name string) (bool, error) {
		f, err := t.fs.OpenFile(t.infoPath(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		_, werr := f.WriteString(info)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			t.fs.Remove(t.infoPath(name))
			return false, werr
		}
		// A leftover content file without info still blocks the name.
		if _, err := t.lstat(t.contentPath(name)); err == nil {
			t.fs.Remove(t.infoPath(name))
			return true, nil
		}
		return false, nil
	}
	name, _, err := storage.ResolveCollision(ctx, kind, storage.RecycleBinRoot, filepath.Base(p), storage.GenerateUniqueName, exists)
	return name, err
}

func formatTrashInfo(p string, deleted time.Time) string {
	var b strings.Builder
	b.WriteString(trashInfoHeader + "\n")
	b.WriteString("Path=" + (&url.URL{Path: p}).EscapedPath() + "\n")
	b.WriteString("DeletionDate=" + deleted.Local().Format(constants.TrashInfoTimeLayout) + "\n")
	return b.String()
}

func (t *Trash) readInfo(name string) (path string, deleted time.Time, err error) {
	f, err := t.fs.Open(t.infoPath(name))
	if err != nil {
		return "", time.Time{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	header := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			header = line == trashInfoHeader
			continue
		}
		if !header {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "Path":
			if path, err = url.PathUnescape(value); err != nil {
				return "", time.Time{}, fmt.Errorf("bad Path in %s: %w", name, err)
			}
			if !filepath.IsAbs(path) {
				// Relative to the top directory of the volume the trash lives on.
				path = filepath.Join(filepath.Dir(t.dir), path)
			}
		case "DeletionDate":
			// A malformed date is left zero and reported as unknown.
			deleted, _ = time.ParseInLocation(constants.TrashInfoTimeLayout, value, time.Local)
		}
	}
	if err := sc.Err(); err != nil {
		return "", time.Time{}, err
	}
	if path == "" {
		return "", time.Time{}, fmt.Errorf("%s: %w", name, errBadTrashInfo)
	}
	return path, deleted, nil
}

// Entry returns the trash entry called name.
func (t *Trash) Entry(name string) (TrashEntry, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return TrashEntry{}, fs.ErrNotExist
	}
	orig, deleted, err := t.readInfo(name)
	if err != nil {
		return TrashEntry{}, err
	}
	info, err := t.lstat(t.contentPath(name))
	if err != nil {
		return TrashEntry{}, err
	}
	e := TrashEntry{
		Name:         name,
		OriginalPath: orig,
		Deleted:      deleted,
		IsDir:        info.IsDir(),
		ModTime:      info.ModTime(),
	}
	if !e.IsDir {
		e.Size = info.Size()
	}
	return e, nil
}

// Entries lists the trash. Info files without content and unreadable
// info files are skipped.
func (t *Trash) Entries(ctx context.Context) ([]TrashEntry, error) {
	infos, err := afero.ReadDir(t.fs, t.infoDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storage.WrapError(kind, "list_trash", t.infoDir(), err)
	}
	out := make([]TrashEntry, 0, len(infos))
	for _, fi := range infos {
		if err := storage.CheckContext(ctx, kind, "list_trash", t.dir); err != nil {
			return nil, err
		}
		name, ok := strings.CutSuffix(fi.Name(), constants.TrashInfoExtension)
		if !ok || fi.IsDir() {
			continue
		}
		e, err := t.Entry(name)
		if err != nil {
			storage.LogFor(kind, t.infoPath(name)).WithError(err).Debug("skipping trash entry")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Restore moves the entry back to its original location and returns the
// restored path. The parent directory is recreated when it is gone.
func (t *Trash) Restore(ctx context.Context, name string, opt storage.CollisionOption) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.Entry(name)
	if err != nil {
		return "", storage.WrapError(kind, "restore", storage.JoinPath(storage.RecycleBinRoot, name), err)
	}
	dir := filepath.Dir(e.OriginalPath)
	if err := t.fs.MkdirAll(dir, 0o755); err != nil {
		return "", storage.WrapError(kind, "restore", dir, err)
	}
	if opt == storage.OpenIfExists {
		opt = storage.FailIfExists
	}
	exists := func(_ context.Context, n string) (bool, error) {
		_, err := t.lstat(filepath.Join(dir, n))
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return err == nil, err
	}
	final, existing, err := storage.ResolveCollision(ctx, kind, dir, filepath.Base(e.OriginalPath), opt, exists)
	if err != nil {
		return "", err
	}
	target := filepath.Join(dir, final)
	if existing {
		if err := t.fs.RemoveAll(target); err != nil {
			return "", storage.WrapError(kind, "restore", target, err)
		}
	}
	if err := t.fs.Rename(t.contentPath(name), target); err != nil {
		return "", storage.WrapError(kind, "restore", target, err)
	}
	if err := t.fs.Remove(t.infoPath(name)); err != nil {
		storage.LogFor(kind, t.infoPath(name)).WithError(err).Warn("could not remove trash info")
	}
	storage.LogFor(kind, target).WithField("name", name).Debug("restored")
	return target, nil
}

// Purge deletes the entry permanently.
func (t *Trash) Purge(ctx context.Context, name string) error {
	if err := storage.CheckContext(ctx, kind, "purge", name); err != nil {
		return err
	}
	if _, err := t.Entry(name); err != nil {
		return storage.WrapError(kind, "purge", storage.JoinPath(storage.RecycleBinRoot, name), err)
	}
	if err := t.fs.RemoveAll(t.contentPath(name)); err != nil {
		return storage.WrapError(kind, "purge", t.contentPath(name), err)
	}
	if err := t.fs.Remove(t.infoPath(name)); err != nil {
		return storage.WrapError(kind, "purge", t.infoPath(name), err)
	}
	return nil
}

// Empty purges every entry; failures are collected and the rest still go.
func (t *Trash) Empty(ctx context.Context) error {
	entries, err := t.Entries(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := t.Purge(ctx, e.Name); err != nil {
			errs = append(errs, err)
			if storage.CheckContext(ctx, kind, "empty", t.dir) != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}
