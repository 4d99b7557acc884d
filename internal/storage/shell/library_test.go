package shell

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
)

func TestLibrariesStore(t *testing.T) {
	libs, err := OpenLibraries(filepath.Join(t.TempDir(), "libraries.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer libs.Close()

	for _, name := range []string{"Music", "documents"} {
		if _, err := libs.Create(name); err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
	}
	if _, err := libs.Create("MUSIC"); !errors.Is(err, ErrLibraryExists) {
		t.Errorf("duplicate Create: %v", err)
	}
	for _, bad := range []string{"", "  ", "a/b", `a\b`} {
		if _, err := libs.Create(bad); err == nil {
			t.Errorf("Create(%q) should fail", bad)
		}
	}

	if err := libs.AddFolder("music", "/music/"); err != nil {
		t.Fatal(err)
	}
	if err := libs.AddFolder("Music", "/music"); err != nil {
		t.Fatal(err)
	}
	if err := libs.AddFolder("Music", "/more"); err != nil {
		t.Fatal(err)
	}
	lib, err := libs.Get("music")
	if err != nil {
		t.Fatal(err)
	}
	if lib.Name != "Music" || len(lib.Folders) != 2 || lib.Folders[0] != "/music" {
		t.Errorf("library = %+v", lib)
	}
	if err := libs.RemoveFolder("Music", "/music"); err != nil {
		t.Fatal(err)
	}
	if lib, _ := libs.Get("Music"); len(lib.Folders) != 1 || lib.Folders[0] != "/more" {
		t.Errorf("after RemoveFolder = %+v", lib)
	}

	list, err := libs.List()
	if err != nil || len(list) != 2 || list[0].Name != "documents" || list[1].Name != "Music" {
		t.Errorf("List = %+v, %v", list, err)
	}

	if _, err := libs.Rename("Music", "documents"); !errors.Is(err, ErrLibraryExists) {
		t.Errorf("Rename onto existing: %v", err)
	}
	if lib, err := libs.Rename("documents", "Documents"); err != nil || lib.Name != "Documents" {
		t.Errorf("case-only Rename = %+v, %v", lib, err)
	}
	if _, err := libs.Rename("missing", "x"); !errors.Is(err, ErrLibraryNotFound) {
		t.Errorf("Rename missing: %v", err)
	}
	if err := libs.Delete("documents"); err != nil {
		t.Fatal(err)
	}
	if _, err := libs.Get("Documents"); !errors.Is(err, ErrLibraryNotFound) {
		t.Errorf("Get after Delete: %v", err)
	}
	if err := libs.Delete("documents"); !errors.Is(err, ErrLibraryNotFound) {
		t.Errorf("second Delete: %v", err)
	}
}

func TestLibrariesPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libraries.db")
	libs, err := OpenLibraries(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := libs.Create("Photos"); err != nil {
		t.Fatal(err)
	}
	if err := libs.AddFolder("Photos", "/pics"); err != nil {
		t.Fatal(err)
	}
	libs.Close()

	libs, err = OpenLibraries(path)
	if err != nil {
		t.Fatal(err)
	}
	defer libs.Close()
	lib, err := libs.Get("photos")
	if err != nil || lib.Folders[0] != "/pics" || lib.Created.IsZero() {
		t.Errorf("reopened = %+v, %v", lib, err)
	}
}

func TestLibrariesRoot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root, err := env.a.ResolveFolder(ctx, "shell:Libraries")
	if err != nil {
		t.Fatal(err)
	}
	lib, err := root.CreateFolder(ctx, "Media", storage.FailIfExists)
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if lib.Path() != "shell:Libraries/Media" || lib.Provider() != storage.ProviderVirtualNamespace {
		t.Errorf("library = %s %v", lib.Path(), lib.Provider())
	}

	tests := []struct {
		opt      storage.CollisionOption
		wantName string
		wantErr  bool
	}{
		{storage.FailIfExists, "", true},
		{storage.GenerateUniqueName, "media (2)", false},
		{storage.OpenIfExists, "Media", false},
		{storage.ReplaceExisting, "Media", false},
	}
	for _, tt := range tests {
		t.Run(tt.opt.String(), func(t *testing.T) {
			got, err := root.CreateFolder(ctx, "media", tt.opt)
			if tt.wantErr {
				if !apperrors.IsCollision(err) {
					t.Errorf("expected collision, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !strings.EqualFold(got.Name(), tt.wantName) {
				t.Errorf("name = %q, want %q", got.Name(), tt.wantName)
			}
		})
	}

	items, err := root.Items(ctx, storage.Query{})
	if err != nil || len(items) != 2 {
		t.Errorf("Items = %v, %v", items, err)
	}
	if _, err := root.CreateFile(ctx, "x.txt", storage.FailIfExists); !apperrors.IsUnsupported(err) {
		t.Errorf("CreateFile in libraries root: %v", err)
	}
	if _, err := root.GetItem(ctx, "Nope"); !apperrors.IsNotFound(err) {
		t.Errorf("GetItem(Nope): %v", err)
	}
	if _, err := env.a.Resolve(ctx, "shell:Libraries/Nope"); !apperrors.IsNotFound(err) {
		t.Errorf("Resolve missing library: %v", err)
	}
}

func TestLibraryFolder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.libs.Create("Media"); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{"/home/docs", "/music", "/gone"} {
		if err := env.libs.AddFolder("Media", dir); err != nil {
			t.Fatal(err)
		}
	}

	lib, err := env.a.ResolveFolder(ctx, "shell:Libraries/media")
	if err != nil {
		t.Fatal(err)
	}
	if got := lib.(interface{ Folders() []string }).Folders(); len(got) != 3 {
		t.Errorf("Folders = %v", got)
	}
	items, err := lib.Items(ctx, storage.Query{})
	if err != nil || names(items) != "notes,report.txt,song.mp3" {
		t.Errorf("merged Items = %s, %v", names(items), err)
	}
	music, err := lib.Items(ctx, storage.Query{Group: "music"})
	if err != nil || names(music) != "song.mp3" {
		t.Errorf("music group = %s, %v", names(music), err)
	}

	song, err := lib.GetFile(ctx, "song.mp3")
	if err != nil || song.Path() != "/music/song.mp3" {
		t.Errorf("GetFile = %v, %v", song, err)
	}
	it, err := env.a.Resolve(ctx, "shell:Libraries/Media/song.mp3")
	if err != nil || it.Path() != "/music/song.mp3" {
		t.Errorf("Resolve inside library = %v, %v", it, err)
	}
	if p, err := lib.Parent(ctx); err != nil || p.Path() != storage.LibrariesRoot {
		t.Errorf("Parent = %v, %v", p, err)
	}

	// New items land in the first member folder.
	f, err := lib.CreateFile(ctx, "new.txt", storage.FailIfExists)
	if err != nil || f.Path() != "/home/docs/new.txt" {
		t.Errorf("CreateFile = %v, %v", f, err)
	}
	d, err := lib.CreateFolder(ctx, "album", storage.FailIfExists)
	if err != nil || d.Path() != "/home/docs/album" {
		t.Errorf("CreateFolder = %v, %v", d, err)
	}

	renamed, err := lib.Rename(ctx, "Tunes", storage.FailIfExists)
	if err != nil || renamed.Path() != "shell:Libraries/Tunes" {
		t.Fatalf("Rename = %v, %v", renamed, err)
	}
	if _, err := env.a.Resolve(ctx, "shell:Libraries/Media"); !apperrors.IsNotFound(err) {
		t.Errorf("old name still resolves: %v", err)
	}
	upper, err := renamed.Rename(ctx, "TUNES", storage.FailIfExists)
	if err != nil || upper.Name() != "TUNES" {
		t.Fatalf("case-only Rename = %v, %v", upper, err)
	}

	if err := upper.Delete(ctx, storage.DeletePermanently); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := env.nat.Resolve(ctx, "/music/song.mp3"); err != nil {
		t.Errorf("member content removed with the library: %v", err)
	}
}

func TestEmptyLibrary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root, err := env.a.ResolveFolder(ctx, storage.LibrariesRoot)
	if err != nil {
		t.Fatal(err)
	}
	lib, err := root.CreateFolder(ctx, "Empty", storage.FailIfExists)
	if err != nil {
		t.Fatal(err)
	}
	items, err := lib.Items(ctx, storage.Query{})
	if err != nil || len(items) != 0 {
		t.Errorf("Items = %v, %v", items, err)
	}
	_, err = lib.CreateFile(ctx, "a.txt", storage.FailIfExists)
	if typ, ok := apperrors.TypeOf(err); !ok || typ != apperrors.ErrorTypeIO || !errors.Is(err, errEmptyLibrary) {
		t.Errorf("CreateFile in empty library: %v", err)
	}
}
