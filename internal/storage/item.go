package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Item is the provider independent view of a file or folder.
// Items are immutable: Rename and Move return new items, and the
// provider an item was resolved through never changes.
type Item interface {
	Path() string
	Name() string
	DisplayName() string
	Attributes() Attributes
	DateCreated() time.Time
	Kind() ItemKind
	Provider() ProviderKind

	// IsOfType and IsEqual never fail; incomparable inputs give false.
	IsOfType(kind ItemKind) bool
	IsEqual(other Item) bool

	BasicProperties(ctx context.Context) (BasicProperties, error)
	Properties() ExtraProperties
	Parent(ctx context.Context) (Folder, error)

	Rename(ctx context.Context, desiredName string, opt CollisionOption) (Item, error)
	Delete(ctx context.Context, opt DeleteOption) error
}

// File adds content access to Item.
type File interface {
	Item
	// FileType is the lower case extension including the dot, or "".
	FileType() string
	ContentType() string
	OpenRead(ctx context.Context) (ReadStream, error)
	OpenWrite(ctx context.Context, mode WriteMode) (io.WriteCloser, error)
	CopyTo(ctx context.Context, dest Folder, desiredName string, opt CollisionOption) (File, error)
	MoveTo(ctx context.Context, dest Folder, desiredName string, opt CollisionOption) (File, error)
}

// Folder adds enumeration and creation to Item.
type Folder interface {
	Item
	GetItem(ctx context.Context, name string) (Item, error)
	// TryGetItem returns nil, nil when name does not exist.
	TryGetItem(ctx context.Context, name string) (Item, error)
	GetFile(ctx context.Context, name string) (File, error)
	GetFolder(ctx context.Context, name string) (Folder, error)
	Items(ctx context.Context, q Query) ([]Item, error)
	CreateFile(ctx context.Context, desiredName string, opt CollisionOption) (File, error)
	CreateFolder(ctx context.Context, desiredName string, opt CollisionOption) (Folder, error)
}

// TryFile converts item to a File.
func TryFile(item Item) (File, bool) {
	f, ok := item.(File)
	return f, ok && item.Kind() == KindFile
}

// TryFolder converts item to a Folder.
func TryFolder(item Item) (Folder, bool) {
	f, ok := item.(Folder)
	return f, ok && item.Kind() == KindFolder
}

// Meta carries the identity fields shared by every adapter's items.
// Adapters embed it and implement the remaining operations.
type Meta struct {
	ItemPath     string
	ItemName     string
	Display      string
	Attrs        Attributes
	Created      time.Time
	ItemKind     ItemKind
	ProviderKind ProviderKind
}

func (m *Meta) Path() string { return m.ItemPath }
func (m *Meta) Name() string { return m.ItemName }

func (m *Meta) DisplayName() string {
	if m.Display == "" {
		return m.ItemName
	}
	return m.Display
}

func (m *Meta) Attributes() Attributes { return m.Attrs }

func (m *Meta) DateCreated() time.Time {
	if m.Created.IsZero() {
		return DefaultTimestamp()
	}
	return m.Created
}

// HasDateCreated reports whether DateCreated is a real timestamp rather than the default.
func (m *Meta) HasDateCreated() bool { return !m.Created.IsZero() }

func (m *Meta) Kind() ItemKind              { return m.ItemKind }
func (m *Meta) Provider() ProviderKind      { return m.ProviderKind }
func (m *Meta) IsOfType(kind ItemKind) bool { return m != nil && m.ItemKind == kind }
func (m *Meta) FileType() string            { return FileType(m.ItemName) }
func (m *Meta) ContentType() string         { return ContentType(m.ItemName) }

func (m *Meta) IsEqual(other Item) bool {
	if m == nil || other == nil {
		return false
	}
	return other.Provider() == m.ProviderKind && samePath(other.Path(), m.ItemPath)
}

func samePath(a, b string) bool {
	return strings.TrimRight(a, `/\`) == strings.TrimRight(b, `/\`)
}

// FileType returns the lower case extension of name including the dot.
func FileType(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
