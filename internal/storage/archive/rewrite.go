package archive

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"github.com/spf13/afero"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
)

// mutation edits the staged copy of an archive. Entry names in stage are
// rooted at "/" and slash separated.
type mutation func(ctx context.Context, stage afero.Fs, idx *index) error

// rewrite applies mut to a staged copy of container and replaces the
// container with the result. The container is exclusively locked for the
// whole operation; a failure leaves the original untouched.
func (a *Adapter) rewrite(ctx context.Context, container, verb string, mut mutation) error {
	l := a.lockFor(container)
	l.Lock()
	defer l.Unlock()

	idx, err := a.loadIndex(ctx, container)
	if err != nil {
		return err
	}
	if !idx.canWrite() {
		return apperrors.NewUnsupportedError(kind.String(), verb, container)
	}
	archiver := idx.format.(archives.Archiver)

	stage := afero.NewMemMapFs()
	if err := a.stage(ctx, container, stage); err != nil {
		return err
	}
	if err := mut(ctx, stage, idx); err != nil {
		return err
	}
	files, err := stagedFiles(stage)
	if err != nil {
		return storage.WrapError(kind, verb, container, err)
	}

	hostFs := a.host.Fs()
	tmp, err := afero.TempFile(hostFs, filepath.Dir(container), "."+filepath.Base(container)+".*")
	if err != nil {
		return storage.WrapError(kind, verb, container, err)
	}
	tmpName := tmp.Name()
	err = archiver.Archive(ctx, tmp, files)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = hostFs.Rename(tmpName, container)
	}
	a.invalidate(container)
	if err != nil {
		hostFs.Remove(tmpName)
		return storage.WrapError(kind, verb, container, err)
	}
	storage.LogFor(kind, container).WithField("verb", verb).Debug("archive rewritten")
	return nil
}

// stage extracts every entry of container into stage.
func (a *Adapter) stage(ctx context.Context, container string, stage afero.Fs) error {
	f, format, err := a.open(ctx, container)
	if err != nil {
		return err
	}
	defer f.Close()
	ex := format.(archives.Extractor)
	err = ex.Extract(ctx, f, func(ctx context.Context, fi archives.FileInfo) error {
		name := cleanName(fi.NameInArchive)
		if name == "" {
			return nil
		}
		p := "/" + name
		if fi.IsDir() {
			return stage.MkdirAll(p, 0o755)
		}
		if err := stage.MkdirAll(path.Dir(p), 0o755); err != nil {
			return err
		}
		src, err := fi.Open()
		if err != nil {
			return err
		}
		defer src.Close()
		if err := writeStaged(ctx, stage, p, src, false); err != nil {
			return err
		}
		return stage.Chtimes(p, fi.ModTime(), fi.ModTime())
	})
	if err != nil {
		return storage.WrapError(kind, "stage", container, err)
	}
	return nil
}

func writeStaged(ctx context.Context, stage afero.Fs, p string, r io.Reader, appendTo bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendTo {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	w, err := stage.OpenFile(p, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, storage.ContextReader(ctx, r)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// stagedFiles lists stage in walk order as archive input.
func stagedFiles(stage afero.Fs) ([]archives.FileInfo, error) {
	var files []archives.FileInfo
	err := afero.Walk(stage, "/", func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if name == "" {
			return nil
		}
		files = append(files, archives.FileInfo{
			FileInfo:      info,
			NameInArchive: name,
			Open: func() (fs.File, error) {
				return stage.Open(p)
			},
		})
		return nil
	})
	return files, err
}

// Mutations used by items.

func putFile(inner string, content io.Reader, appendTo bool) mutation {
	return func(ctx context.Context, stage afero.Fs, _ *index) error {
		p := "/" + inner
		if err := stage.MkdirAll(path.Dir(p), 0o755); err != nil {
			return err
		}
		if content == nil {
			content = strings.NewReader("")
		}
		return writeStaged(ctx, stage, p, content, appendTo)
	}
}

func putDir(inner string, replace bool) mutation {
	return func(_ context.Context, stage afero.Fs, _ *index) error {
		p := "/" + inner
		if replace {
			if err := stage.RemoveAll(p); err != nil {
				return err
			}
		}
		return stage.MkdirAll(p, 0o755)
	}
}

func removeEntry(inner string) mutation {
	return func(_ context.Context, stage afero.Fs, _ *index) error {
		p := "/" + inner
		if _, err := stage.Stat(p); err != nil {
			return err
		}
		return stage.RemoveAll(p)
	}
}

func renameEntry(from, to string, replace bool) mutation {
	return func(_ context.Context, stage afero.Fs, _ *index) error {
		src, dst := "/"+from, "/"+to
		if _, err := stage.Stat(src); err != nil {
			return err
		}
		if replace {
			if err := stage.RemoveAll(dst); err != nil {
				return err
			}
		}
		return stage.Rename(src, dst)
	}
}
