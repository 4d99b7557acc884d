package shell

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
	"nmfstore/internal/storage/native"
)

type testEnv struct {
	a    *Adapter
	nat  *native.Adapter
	fs   afero.Fs
	libs *Libraries
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fsys := afero.NewMemMapFs()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(fsys.MkdirAll("/home/docs/notes", 0o755))
	must(fsys.MkdirAll("/music", 0o755))
	must(fsys.MkdirAll("/data/dir", 0o755))
	must(afero.WriteFile(fsys, "/home/docs/report.txt", []byte("report"), 0o644))
	must(afero.WriteFile(fsys, "/music/song.mp3", []byte("la"), 0o644))
	must(afero.WriteFile(fsys, "/data/keep.txt", []byte("keep"), 0o644))
	must(afero.WriteFile(fsys, "/data/dir/child.txt", []byte("child"), 0o644))

	libs, err := OpenLibraries(filepath.Join(t.TempDir(), "libraries.db"))
	must(err)
	t.Cleanup(func() { libs.Close() })

	tr := NewTrash(fsys, "/trash")
	tr.now = func() time.Time { return deletedAt }
	nat := native.New(fsys)
	a := New(nat, WithTrash(tr), WithLibraries(libs), WithKnownFolders(map[string]string{"Documents": "/home/docs"}))
	nat.SetTrasher(a.Trash())
	return &testEnv{a: a, nat: nat, fs: fsys, libs: libs}
}

func (e *testEnv) trash(t *testing.T, p string) {
	t.Helper()
	it, err := e.nat.Resolve(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if err := it.Delete(context.Background(), storage.DeleteToRecycleBin); err != nil {
		t.Fatalf("Delete(%s): %v", p, err)
	}
}

func names(items []storage.Item) string {
	var out []string
	for _, it := range items {
		out = append(out, it.Name())
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func TestResolvePathForms(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		path     string
		wantPath string
		wantKind storage.ItemKind
	}{
		{"shell:RecycleBinFolder", storage.RecycleBinRoot, storage.KindFolder},
		{"SHELL:recyclebinfolder", storage.RecycleBinRoot, storage.KindFolder},
		{"::{645FF040-5081-101B-9F08-00AA002F954E}", storage.RecycleBinRoot, storage.KindFolder},
		{`\\SHELL\RecycleBinFolder`, storage.RecycleBinRoot, storage.KindFolder},
		{`\\shell\::{031e4825-7b94-4dc3-b131-e946b44c8dd5}`, storage.LibrariesRoot, storage.KindFolder},
		{"shell:Libraries", storage.LibrariesRoot, storage.KindFolder},
		{"shell:documents", "shell:Documents", storage.KindFolder},
		{"shell:Documents/report.txt", "/home/docs/report.txt", storage.KindFile},
		{`shell:Documents\notes\..\report.txt`, "/home/docs/report.txt", storage.KindFile},
		{"shell:Documents/notes", "/home/docs/notes", storage.KindFolder},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			it, err := env.a.Resolve(ctx, tt.path)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if it.Path() != tt.wantPath || it.Kind() != tt.wantKind {
				t.Errorf("got %s (%v), want %s (%v)", it.Path(), it.Kind(), tt.wantPath, tt.wantKind)
			}
		})
	}

	for _, p := range []string{"shell:Nope", "::{00000000-0000-0000-0000-000000000000}", "::{broken", "/home/docs", "shell:Documents/missing"} {
		if _, err := env.a.Resolve(ctx, p); !apperrors.IsNotFound(err) {
			t.Errorf("Resolve(%s): expected not found, got %v", p, err)
		}
	}
	if _, err := env.a.ResolveFolder(ctx, "shell:Documents/report.txt"); !apperrors.IsNotFound(err) {
		t.Errorf("ResolveFolder on a file: got %v", err)
	}
}

func TestProbe(t *testing.T) {
	env := newTestEnv(t)
	r := storage.NewResolver(env.a.Probe(), env.nat.Probe())

	it, err := r.Resolve(context.Background(), "shell:RecycleBinFolder")
	if err != nil || it.Provider() != storage.ProviderVirtualNamespace {
		t.Fatalf("virtual path: %v, %v", it, err)
	}
	it, err = r.Resolve(context.Background(), "/data/keep.txt")
	if err != nil || it.Provider() != storage.ProviderNative {
		t.Fatalf("native path: %v, %v", it, err)
	}
}

func TestRecycleBinItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.trash(t, "/data/keep.txt")
	env.trash(t, "/data/dir")

	bin, err := env.a.ResolveFolder(ctx, storage.RecycleBinRoot)
	if err != nil {
		t.Fatal(err)
	}
	if bin.DisplayName() != "Recycle Bin" {
		t.Errorf("DisplayName = %q", bin.DisplayName())
	}
	items, err := bin.Items(ctx, storage.Query{})
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if got := names(items); got != "dir,keep.txt" {
		t.Errorf("Items = %s", got)
	}
	files, err := bin.Items(ctx, storage.Query{Kind: storage.QueryFiles})
	if err != nil || len(files) != 1 {
		t.Fatalf("files = %v, %v", files, err)
	}

	f, err := bin.GetFile(ctx, "keep.txt")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f.Path() != "shell:RecycleBinFolder/keep.txt" || f.Provider() != storage.ProviderVirtualNamespace {
		t.Errorf("file = %s %v", f.Path(), f.Provider())
	}
	r, ok := f.(Restorer)
	if !ok {
		t.Fatal("trash file is not a Restorer")
	}
	if r.OriginalPath() != "/data/keep.txt" || !r.DateDeleted().Equal(deletedAt) {
		t.Errorf("OriginalPath=%s DateDeleted=%v", r.OriginalPath(), r.DateDeleted())
	}

	props, err := f.BasicProperties(ctx)
	if err != nil || props.Size() != 4 || !props.ItemDate().Equal(deletedAt) {
		t.Errorf("BasicProperties = %+v, %v", props, err)
	}
	bag, err := f.Properties().RetrieveProperties(ctx, []storage.PropertyKey{storage.KeyDeletedFrom, storage.KeyDateDeleted, storage.KeyFileFRN})
	if err != nil {
		t.Fatal(err)
	}
	if from, _ := bag[storage.KeyDeletedFrom].Value(); from != "/data" {
		t.Errorf("DeletedFrom = %v", from)
	}
	if !bag[storage.KeyDateDeleted].IsKnown() || bag[storage.KeyFileFRN].IsKnown() {
		t.Errorf("bag = %v", bag)
	}

	rs, err := f.OpenRead(ctx)
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	data, _ := io.ReadAll(rs)
	rs.Close()
	if string(data) != "keep" {
		t.Errorf("content = %q", data)
	}
	if _, err := f.OpenWrite(ctx, storage.WriteTruncate); !apperrors.IsUnsupported(err) {
		t.Errorf("OpenWrite: expected unsupported, got %v", err)
	}
	if _, err := f.Rename(ctx, "x.txt", storage.FailIfExists); !apperrors.IsUnsupported(err) {
		t.Errorf("Rename: expected unsupported, got %v", err)
	}
	if p, err := f.Parent(ctx); err != nil || p.Path() != storage.RecycleBinRoot {
		t.Errorf("Parent = %v, %v", p, err)
	}

	d, err := bin.GetFolder(ctx, "dir")
	if err != nil {
		t.Fatalf("GetFolder: %v", err)
	}
	children, err := d.Items(ctx, storage.Query{})
	if err != nil || names(children) != "child.txt" {
		t.Errorf("trashed folder Items = %s, %v", names(children), err)
	}
	child, err := env.a.Resolve(ctx, "shell:RecycleBinFolder/dir/child.txt")
	if err != nil || child.Path() != "/trash/files/dir/child.txt" {
		t.Errorf("nested resolve = %v, %v", child, err)
	}

	if it, err := bin.TryGetItem(ctx, "missing"); it != nil || err != nil {
		t.Errorf("TryGetItem(missing) = %v, %v", it, err)
	}
	if _, err := bin.GetItem(ctx, "missing"); !apperrors.IsNotFound(err) {
		t.Errorf("GetItem(missing): %v", err)
	}
}

func TestRecycleBinRestoreAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.trash(t, "/data/keep.txt")
	env.trash(t, "/data/dir")

	it, err := env.a.Resolve(ctx, "shell:RecycleBinFolder/keep.txt")
	if err != nil {
		t.Fatal(err)
	}
	restored, err := it.(Restorer).Restore(ctx, storage.FailIfExists)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Path() != "/data/keep.txt" || restored.Provider() != storage.ProviderNative {
		t.Errorf("restored = %s %v", restored.Path(), restored.Provider())
	}

	dir, err := env.a.Resolve(ctx, "shell:RecycleBinFolder/dir")
	if err != nil {
		t.Fatal(err)
	}
	// Deleting from the recycle bin is always permanent.
	if err := dir.Delete(ctx, storage.DeleteToRecycleBin); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if entries, _ := env.a.Trash().Entries(ctx); len(entries) != 0 {
		t.Errorf("entries = %v", entries)
	}
	if ok, _ := afero.Exists(env.fs, "/data/dir"); ok {
		t.Error("deleted folder came back")
	}
}

func TestRecycleBinEmpty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.trash(t, "/data/keep.txt")
	env.trash(t, "/data/dir")

	bin, err := env.a.Resolve(ctx, storage.RecycleBinRoot)
	if err != nil {
		t.Fatal(err)
	}
	if err := bin.(interface{ Empty(context.Context) error }).Empty(ctx); err != nil {
		t.Fatalf("Empty: %v", err)
	}
	items, err := bin.(storage.Folder).Items(ctx, storage.Query{})
	if err != nil || len(items) != 0 {
		t.Errorf("Items after Empty = %v, %v", items, err)
	}
	if err := bin.Delete(ctx, storage.DeletePermanently); !apperrors.IsUnsupported(err) {
		t.Errorf("deleting the bin: got %v", err)
	}
}

func TestTrashDisplayNameNormalized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tr := env.a.Trash()
	for _, d := range []string{tr.filesDir(), tr.infoDir()} {
		if err := env.fs.MkdirAll(d, 0o700); err != nil {
			t.Fatal(err)
		}
	}
	// The info file lost the extension the content still has.
	if err := afero.WriteFile(env.fs, tr.infoPath("report.txt"), []byte(formatTrashInfo("/data/report", deletedAt)), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(env.fs, tr.contentPath("report.txt"), []byte("r"), 0o600); err != nil {
		t.Fatal(err)
	}

	it, err := env.a.Resolve(ctx, "shell:RecycleBinFolder/report.txt")
	if err != nil {
		t.Fatal(err)
	}
	if it.DisplayName() != "report.txt" {
		t.Errorf("DisplayName = %q", it.DisplayName())
	}
	if got := it.(Restorer).OriginalPath(); got != "/data/report.txt" {
		t.Errorf("OriginalPath = %q", got)
	}
	if f, ok := storage.TryFile(it); !ok || f.FileType() != ".txt" {
		t.Errorf("FileType wrong for %v", it)
	}
}

func TestKnownFolder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	docs, err := env.a.ResolveFolder(ctx, "shell:Documents")
	if err != nil {
		t.Fatal(err)
	}
	items, err := docs.Items(ctx, storage.Query{})
	if err != nil || names(items) != "notes,report.txt" {
		t.Errorf("Items = %s, %v", names(items), err)
	}
	folders, err := docs.Items(ctx, storage.Query{Kind: storage.QueryFolders})
	if err != nil || names(folders) != "notes" {
		t.Errorf("folders = %s, %v", names(folders), err)
	}
	bag, err := docs.Properties().RetrieveProperties(ctx, []storage.PropertyKey{storage.KeyLinkTarget})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := bag[storage.KeyLinkTarget].Value(); v != "/home/docs" {
		t.Errorf("target = %v", v)
	}

	f, err := docs.CreateFile(ctx, "new.txt", storage.FailIfExists)
	if err != nil || f.Path() != "/home/docs/new.txt" {
		t.Fatalf("CreateFile = %v, %v", f, err)
	}
	if _, err := docs.CreateFile(ctx, "new.txt", storage.FailIfExists); !apperrors.IsCollision(err) {
		t.Errorf("second CreateFile: %v", err)
	}
	got, err := docs.GetFile(ctx, "report.txt")
	if err != nil || got.Path() != "/home/docs/report.txt" {
		t.Errorf("GetFile = %v, %v", got, err)
	}

	if _, err := docs.Rename(ctx, "Docs", storage.FailIfExists); !apperrors.IsUnsupported(err) {
		t.Errorf("Rename: %v", err)
	}
	if err := docs.Delete(ctx, storage.DeletePermanently); !apperrors.IsUnsupported(err) {
		t.Errorf("Delete: %v", err)
	}
	if _, err := docs.Parent(ctx); !apperrors.IsNotFound(err) {
		t.Errorf("Parent: %v", err)
	}
}

func TestKnownFolderMissing(t *testing.T) {
	env := newTestEnv(t)
	a := New(env.nat, WithTrash(env.a.Trash()), WithKnownFolders(map[string]string{"Nowhere": "/nowhere"}))
	if _, err := a.Resolve(context.Background(), "shell:Nowhere"); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := a.Resolve(context.Background(), "shell:Libraries"); !apperrors.IsNotFound(err) {
		t.Errorf("libraries without a store: got %v", err)
	}
}

func TestShortcuts(t *testing.T) {
	root := t.TempDir()
	docs := filepath.Join(root, "docs")
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(docs, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "target.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("../target.txt", filepath.Join(docs, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "sub"), filepath.Join(docs, "dirlink")); err != nil {
		t.Fatal(err)
	}

	nat := native.NewOS()
	a := New(nat, WithTrash(NewTrash(nat.Fs(), filepath.Join(root, "trash"))), WithKnownFolders(map[string]string{"Docs": docs}))
	ctx := context.Background()

	folder, err := a.ResolveFolder(ctx, "shell:Docs")
	if err != nil {
		t.Fatal(err)
	}
	items, err := folder.Items(ctx, storage.Query{})
	if err != nil || names(items) != "dirlink,link.txt" {
		t.Fatalf("Items = %s, %v", names(items), err)
	}
	for _, it := range items {
		if _, ok := it.(Shortcut); !ok || it.Kind() != storage.KindFile || !it.Attributes().Has(storage.AttrReparsePoint) {
			t.Errorf("%s is not a shortcut file", it.Name())
		}
	}

	it, err := a.Resolve(ctx, "shell:Docs/link.txt")
	if err != nil {
		t.Fatal(err)
	}
	sc, ok := it.(Shortcut)
	if !ok {
		t.Fatalf("resolved %T, want shortcut", it)
	}
	if sc.TargetPath() != filepath.Join(root, "target.txt") || it.Path() != "shell:Docs/link.txt" {
		t.Errorf("target=%s path=%s", sc.TargetPath(), it.Path())
	}
	bag, _ := it.Properties().RetrieveProperties(ctx, []storage.PropertyKey{storage.KeyLinkTarget})
	if v, _ := bag[storage.KeyLinkTarget].Value(); v != sc.TargetPath() {
		t.Errorf("LinkTarget = %v", v)
	}

	f, _ := storage.TryFile(it)
	rs, err := f.OpenRead(ctx)
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	data, _ := io.ReadAll(rs)
	rs.Close()
	if string(data) != "payload" {
		t.Errorf("content = %q", data)
	}

	dirlink, err := a.Resolve(ctx, "shell:Docs/dirlink")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dirlink.(storage.File).OpenRead(ctx); err == nil {
		t.Error("reading a folder shortcut should fail")
	}

	if err := it.Delete(ctx, storage.DeletePermanently); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(docs, "link.txt")); !os.IsNotExist(err) {
		t.Errorf("link still there: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "target.txt")); err != nil {
		t.Errorf("target removed with the link: %v", err)
	}
}
