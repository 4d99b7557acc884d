package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	apperrors "nmfstore/internal/errors"
)

type probeLog struct {
	mu    sync.Mutex
	calls []ProviderKind
}

func (l *probeLog) record(k ProviderKind) {
	l.mu.Lock()
	l.calls = append(l.calls, k)
	l.mu.Unlock()
}

func fakeItem(kind ProviderKind, path string) Item {
	return &memFile{&memItem{Meta: Meta{ItemPath: path, ItemName: BaseName(path), ProviderKind: kind}, node: &memNode{name: BaseName(path)}}}
}

// chain mirrors the production probe order with stubbed I/O.
func chain(log *probeLog, nativeExists map[string]bool, archiveHas map[string]bool, networkErr error) *Resolver {
	syn := DefaultSyntax()
	return NewResolver(
		Probe{
			Provider: ProviderArchive,
			Match: func(p string) bool {
				_, _, ok := syn.SplitArchivePath(p)
				return ok
			},
			Resolve: func(_ context.Context, p string) (Item, error) {
				log.record(ProviderArchive)
				if archiveHas[p] {
					return fakeItem(ProviderArchive, p), nil
				}
				return nil, apperrors.NewNotFoundError("archive", "resolve", p, nil)
			},
			FallThrough: FallThroughAny,
		},
		Probe{
			Provider: ProviderNetwork,
			Match:    syn.IsNetworkPath,
			Resolve: func(_ context.Context, p string) (Item, error) {
				log.record(ProviderNetwork)
				if networkErr != nil {
					return nil, networkErr
				}
				return fakeItem(ProviderNetwork, p), nil
			},
		},
		Probe{
			Provider: ProviderVirtualNamespace,
			Match:    IsVirtualPath,
			Resolve: func(_ context.Context, p string) (Item, error) {
				log.record(ProviderVirtualNamespace)
				if strings.EqualFold(p, RecycleBinRoot) {
					return fakeItem(ProviderVirtualNamespace, p), nil
				}
				return nil, apperrors.NewNotFoundError("virtual", "resolve", p, nil)
			},
		},
		Probe{
			Provider: ProviderNative,
			Resolve: func(_ context.Context, p string) (Item, error) {
				log.record(ProviderNative)
				if nativeExists[p] {
					return fakeItem(ProviderNative, p), nil
				}
				return nil, apperrors.NewNotFoundError("native", "resolve", p, nil)
			},
		},
	)
}

func TestResolverPriority(t *testing.T) {
	native := map[string]bool{
		"/data.zip/inner/file.txt": true,
		"/home/user/notes.txt":     true,
		"/broken.zip/x":            true,
	}
	archive := map[string]bool{"/data.zip/inner/file.txt": true}

	tests := []struct {
		path  string
		want  ProviderKind
		calls []ProviderKind
	}{
		// Archive wins even though a native path with the same name exists.
		{"/data.zip/inner/file.txt", ProviderArchive, []ProviderKind{ProviderArchive}},
		// Archive probe fails, native fallback finds it.
		{"/broken.zip/x", ProviderNative, []ProviderKind{ProviderArchive, ProviderNative}},
		{"/home/user/notes.txt", ProviderNative, []ProviderKind{ProviderNative}},
		{"ftp://host/archive.zip/docs/readme.txt", ProviderNetwork, []ProviderKind{ProviderNetwork}},
		{"shell:RecycleBinFolder", ProviderVirtualNamespace, []ProviderKind{ProviderVirtualNamespace}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			log := &probeLog{}
			item, err := chain(log, native, archive, nil).Resolve(context.Background(), tt.path)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if item.Provider() != tt.want {
				t.Errorf("provider = %v, want %v", item.Provider(), tt.want)
			}
			if len(log.calls) != len(tt.calls) {
				t.Fatalf("probe calls = %v, want %v", log.calls, tt.calls)
			}
			for i := range tt.calls {
				if log.calls[i] != tt.calls[i] {
					t.Errorf("probe calls = %v, want %v", log.calls, tt.calls)
				}
			}
		})
	}
}

func TestResolverNotFound(t *testing.T) {
	log := &probeLog{}
	_, err := chain(log, nil, nil, nil).Resolve(context.Background(), "/nope")
	if !apperrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	// Virtual path that the shell adapter does not know still ends at native.
	log = &probeLog{}
	_, err = chain(log, nil, nil, nil).Resolve(context.Background(), "shell:Nowhere")
	if !apperrors.IsNotFound(err) || len(log.calls) != 2 {
		t.Errorf("err = %v, calls = %v", err, log.calls)
	}
	if _, err := chain(log, nil, nil, nil).Resolve(context.Background(), "  "); !apperrors.IsNotFound(err) {
		t.Errorf("blank path should be not found, got %v", err)
	}
}

func TestResolverNetworkErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantType    apperrors.ErrorType
		fellThrough bool
	}{
		{"auth", apperrors.NewAuthRequiredError("network", "dial", "ftp://h/x", nil), apperrors.ErrorTypeAuthRequired, false},
		{"io", apperrors.NewIOError("network", "stat", "ftp://h/x", errors.New("connection reset")), apperrors.ErrorTypeIO, false},
		{"not found", apperrors.NewNotFoundError("network", "stat", "ftp://h/x", nil), apperrors.ErrorTypeNotFound, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &probeLog{}
			_, err := chain(log, nil, nil, tt.err).Resolve(context.Background(), "ftp://h/x")
			if typ, _ := apperrors.TypeOf(err); typ != tt.wantType {
				t.Errorf("error = %v", err)
			}
			reachedNative := log.calls[len(log.calls)-1] == ProviderNative
			if reachedNative != tt.fellThrough {
				t.Errorf("calls = %v, fall through expected %v", log.calls, tt.fellThrough)
			}
		})
	}
}

func TestResolverDeterministic(t *testing.T) {
	native := map[string]bool{"/a/b": true}
	r := chain(&probeLog{}, native, nil, nil)
	first, err := r.Resolve(context.Background(), "/a/b")
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			again, err := r.Resolve(context.Background(), "/a/b")
			if err != nil || again.Provider() != first.Provider() || again.Path() != first.Path() {
				t.Errorf("resolution differs: %v %v", again, err)
			}
		}()
	}
	wg.Wait()
}

func TestResolverAtomicCancel(t *testing.T) {
	// Cancel while the probe is running; it still returns an item.
	ctx, cancel := context.WithCancel(context.Background())
	r := NewResolver(Probe{
		Provider: ProviderNative,
		Resolve: func(_ context.Context, p string) (Item, error) {
			cancel()
			return fakeItem(ProviderNative, p), nil
		},
	})
	item, err := r.Resolve(ctx, "/x")
	if item != nil {
		t.Fatal("canceled resolution must not yield an item")
	}
	if !apperrors.IsCanceled(err) {
		t.Errorf("expected canceled error, got %v", err)
	}

	// Already canceled: no probe runs.
	called := false
	r = NewResolver(Probe{Provider: ProviderNative, Resolve: func(context.Context, string) (Item, error) {
		called = true
		return nil, nil
	}})
	if _, err := r.Resolve(ctx, "/x"); !apperrors.IsCanceled(err) || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
}

func TestResolveFileFolder(t *testing.T) {
	root := sampleTree()
	r := NewResolver(Probe{Provider: ProviderNative, Resolve: func(_ context.Context, p string) (Item, error) {
		if p == "/mem/docs" {
			return wrapMem(root.child("docs")), nil
		}
		return wrapMem(root.child("a.txt")), nil
	}})
	if _, err := r.ResolveFile(context.Background(), "/mem/docs"); !apperrors.IsNotFound(err) {
		t.Errorf("folder resolved as file: %v", err)
	}
	if _, err := r.ResolveFolder(context.Background(), "/mem/a.txt"); !apperrors.IsNotFound(err) {
		t.Errorf("file resolved as folder: %v", err)
	}
	if f, err := r.ResolveFile(context.Background(), "/mem/a.txt"); err != nil || f.Name() != "a.txt" {
		t.Errorf("ResolveFile = %v, %v", f, err)
	}
}

func TestResolverFolderLookup(t *testing.T) {
	syn := DefaultSyntax()
	root := sampleTree()
	container := &memFolder{&memItem{
		Meta: Meta{ItemPath: "/data.zip", ItemName: "data.zip", ItemKind: KindFolder, ProviderKind: ProviderArchive},
		node: root,
	}}
	r := NewResolver(
		Probe{
			Provider: ProviderArchive,
			Match: func(p string) bool {
				_, _, ok := syn.SplitArchivePath(p)
				return ok
			},
			Resolve: func(_ context.Context, p string) (Item, error) {
				return nil, apperrors.NewNotFoundError("archive", "resolve", p, nil)
			},
			ResolveFolder: func(_ context.Context, p string) (Folder, error) {
				return container, nil
			},
			FallThrough: FallThroughAny,
		},
		Probe{
			Provider: ProviderNative,
			Resolve: func(_ context.Context, p string) (Item, error) {
				return fakeItem(ProviderNative, p), nil
			},
		},
	)
	ctx := context.Background()

	f, err := r.ResolveFile(ctx, "/data.zip")
	if err != nil || f.Provider() != ProviderNative {
		t.Errorf("ResolveFile = %v, %v", f, err)
	}
	it, err := r.Resolve(ctx, "/data.zip")
	if err != nil || it.Provider() != ProviderNative {
		t.Errorf("Resolve = %v, %v", it, err)
	}
	d, err := r.ResolveFolder(ctx, "/data.zip")
	if err != nil || d.Provider() != ProviderArchive {
		t.Fatalf("ResolveFolder = %v, %v", d, err)
	}
	if items, _ := d.Items(ctx, Query{}); len(items) == 0 {
		t.Error("container folder is empty")
	}
}

func TestResolverKeepsFailureCause(t *testing.T) {
	l, hook := logtest.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	SetLogger(l)
	t.Cleanup(func() { SetLogger(nil) })

	corrupt := errors.New("zip: not a valid zip file")
	r := NewResolver(
		Probe{
			Provider: ProviderArchive,
			Resolve: func(_ context.Context, p string) (Item, error) {
				return nil, apperrors.NewIOError("archive", "index", "/bad.zip", corrupt)
			},
			FallThrough: FallThroughAny,
		},
		Probe{
			Provider: ProviderNative,
			Resolve: func(_ context.Context, p string) (Item, error) {
				return nil, apperrors.NewNotFoundError("native", "resolve", p, errors.New("not a directory"))
			},
		},
	)
	_, err := r.Resolve(context.Background(), "/bad.zip/x")
	if !apperrors.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
	if !errors.Is(err, corrupt) {
		t.Errorf("err = %v, lost the archive failure", err)
	}

	var logged bool
	for _, e := range hook.AllEntries() {
		cause, _ := e.Data[logrus.ErrorKey].(error)
		if e.Level == logrus.DebugLevel && e.Data["provider"] == "archive" && errors.Is(cause, corrupt) {
			logged = true
		}
	}
	if !logged {
		t.Error("archive failure was not logged")
	}
}
