package storage

import (
	"context"
	"fmt"
	"sync"
)

// PropertyKey names an extra property, e.g. "System.DateModified".
type PropertyKey string

const (
	KeyItemPathDisplay PropertyKey = "System.ItemPathDisplay"
	KeyItemNameDisplay PropertyKey = "System.ItemNameDisplay"
	KeyDateCreated     PropertyKey = "System.DateCreated"
	KeyDateModified    PropertyKey = "System.DateModified"
	KeySize            PropertyKey = "System.Size"
	KeyFileExtension   PropertyKey = "System.FileExtension"
	KeyItemType        PropertyKey = "System.ItemType"
	KeyProvider        PropertyKey = "System.Storage.Provider"

	KeyDateDeleted      PropertyKey = "System.Recycle.DateDeleted"
	KeyDeletedFrom      PropertyKey = "System.Recycle.DeletedFrom"
	KeyLinkTarget       PropertyKey = "System.Link.TargetParsingPath"
	KeyFileFRN          PropertyKey = "System.FileFRN"
	KeyCompressedSize   PropertyKey = "System.Archive.CompressedSize"
	KeyArchiveContainer PropertyKey = "System.Archive.Container"
)

// PropertyValue is either a known value or the explicit unknown marker.
type PropertyValue struct {
	v  any
	ok bool
}

func Known(v any) PropertyValue       { return PropertyValue{v: v, ok: true} }
func Unknown() PropertyValue          { return PropertyValue{} }
func (p PropertyValue) IsKnown() bool { return p.ok }

// Value returns the value and whether it is known.
func (p PropertyValue) Value() (any, bool) { return p.v, p.ok }

func (p PropertyValue) String() string {
	if !p.ok {
		return "<unknown>"
	}
	return fmt.Sprint(p.v)
}

// PropertyBag holds exactly the keys that were requested.
type PropertyBag map[PropertyKey]PropertyValue

// ExtraProperties is the capability degrading property interface.
// RetrieveProperties never fails because of an unsupported key; the only
// error it returns is a context error. SaveProperties succeeds without
// persisting anything on providers that have nowhere to store metadata.
type ExtraProperties interface {
	RetrieveProperties(ctx context.Context, keys []PropertyKey) (PropertyBag, error)
	SaveProperties(ctx context.Context, values map[PropertyKey]any) error
}

// PropertySource is handed to resolvers; BasicProperties is fetched at most once per retrieval.
type PropertySource struct {
	Item  Item
	once  sync.Once
	basic BasicProperties
	err   error
}

// Basic returns the item's basic properties; ok is false when they could not be read.
func (s *PropertySource) Basic(ctx context.Context) (BasicProperties, bool) {
	s.once.Do(func() {
		s.basic, s.err = s.Item.BasicProperties(ctx)
	})
	return s.basic, s.err == nil
}

// PropertyResolver yields a value for one key, or false when the item has none.
type PropertyResolver func(ctx context.Context, src *PropertySource) (any, bool)

// PropertySet is the resolver table behind ExtraProperties.
// NewPropertySet registers the common keys; adapters add their own.
type PropertySet struct {
	item      Item
	resolvers map[PropertyKey]PropertyResolver
	save      func(ctx context.Context, values map[PropertyKey]any) error
}

func NewPropertySet(item Item) *PropertySet {
	s := &PropertySet{item: item, resolvers: make(map[PropertyKey]PropertyResolver)}
	s.Register(KeyItemPathDisplay, func(_ context.Context, src *PropertySource) (any, bool) {
		return src.Item.Path(), true
	})
	s.Register(KeyItemNameDisplay, func(_ context.Context, src *PropertySource) (any, bool) {
		return src.Item.DisplayName(), true
	})
	s.Register(KeyDateCreated, func(_ context.Context, src *PropertySource) (any, bool) {
		if c, ok := src.Item.(interface{ HasDateCreated() bool }); ok && !c.HasDateCreated() {
			return nil, false
		}
		return src.Item.DateCreated(), true
	})
	s.Register(KeyDateModified, func(ctx context.Context, src *PropertySource) (any, bool) {
		b, ok := src.Basic(ctx)
		if !ok || !b.HasDateModified() {
			return nil, false
		}
		return b.DateModified(), true
	})
	s.Register(KeySize, func(ctx context.Context, src *PropertySource) (any, bool) {
		if src.Item.Kind() == KindFolder {
			return nil, false
		}
		b, ok := src.Basic(ctx)
		if !ok || !b.HasSize() {
			return nil, false
		}
		return b.Size(), true
	})
	s.Register(KeyFileExtension, func(_ context.Context, src *PropertySource) (any, bool) {
		if src.Item.Kind() == KindFolder {
			return nil, false
		}
		ext := FileType(src.Item.Name())
		return ext, ext != ""
	})
	s.Register(KeyItemType, func(_ context.Context, src *PropertySource) (any, bool) {
		return src.Item.Kind().String(), true
	})
	s.Register(KeyProvider, func(_ context.Context, src *PropertySource) (any, bool) {
		return src.Item.Provider().String(), true
	})
	return s
}

// Register adds or replaces the resolver for key.
func (s *PropertySet) Register(key PropertyKey, r PropertyResolver) *PropertySet {
	s.resolvers[key] = r
	return s
}

// RegisterValue registers a constant value for key.
func (s *PropertySet) RegisterValue(key PropertyKey, v any) *PropertySet {
	return s.Register(key, func(context.Context, *PropertySource) (any, bool) { return v, true })
}

// OnSave installs the persistence hook; without one SaveProperties is a no-op success.
func (s *PropertySet) OnSave(fn func(ctx context.Context, values map[PropertyKey]any) error) *PropertySet {
	s.save = fn
	return s
}

func (s *PropertySet) RetrieveProperties(ctx context.Context, keys []PropertyKey) (PropertyBag, error) {
	bag := make(PropertyBag, len(keys))
	src := &PropertySource{Item: s.item}
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, ok := s.resolvers[k]
		if !ok {
			bag[k] = Unknown()
			continue
		}
		if v, ok := r(ctx, src); ok {
			bag[k] = Known(v)
		} else {
			bag[k] = Unknown()
		}
	}
	return bag, nil
}

func (s *PropertySet) SaveProperties(ctx context.Context, values map[PropertyKey]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.save == nil {
		Logger().WithField("path", s.item.Path()).Debug("save properties: provider has no metadata store")
		return nil
	}
	return s.save(ctx, values)
}
