package storage

import (
	"io"
	"time"
)

// ProviderKind identifies the backing store an item was resolved through.
type ProviderKind int

const (
	ProviderNative ProviderKind = iota
	ProviderArchive
	ProviderNetwork
	ProviderVirtualNamespace
)

func (k ProviderKind) String() string {
	switch k {
	case ProviderNative:
		return "native"
	case ProviderArchive:
		return "archive"
	case ProviderNetwork:
		return "network"
	case ProviderVirtualNamespace:
		return "virtual"
	default:
		return "unknown"
	}
}

// ItemKind separates files from folders.
type ItemKind int

const (
	KindFile ItemKind = iota
	KindFolder
)

func (k ItemKind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

// Attributes is a provider specific bit set. Not every bit is meaningful for every provider.
type Attributes uint32

const (
	AttrReadOnly Attributes = 1 << iota
	AttrHidden
	AttrSystem
	AttrDirectory
	AttrArchive
	AttrNormal
	AttrTemporary
	AttrReparsePoint
	AttrOffline
)

var attributeNames = []struct {
	bit  Attributes
	name string
}{
	{AttrReadOnly, "readonly"},
	{AttrHidden, "hidden"},
	{AttrSystem, "system"},
	{AttrDirectory, "directory"},
	{AttrArchive, "archive"},
	{AttrNormal, "normal"},
	{AttrTemporary, "temporary"},
	{AttrReparsePoint, "reparse"},
	{AttrOffline, "offline"},
}

func (a Attributes) Has(bit Attributes) bool { return a&bit != 0 }

func (a Attributes) String() string {
	s := ""
	for _, n := range attributeNames {
		if a.Has(n.bit) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// DefaultSize is the size reported when a provider cannot determine one.
func DefaultSize() uint64 { return 0 }

// DefaultTimestamp is the time reported when a provider has no value for a date field.
func DefaultTimestamp() time.Time { return time.Now().Local() }

// BasicProperties is the minimal metadata every provider supplies.
// Fields that were not supplied fall back to DefaultSize / DefaultTimestamp
// on access; the Has* methods tell the two cases apart.
type BasicProperties struct {
	size         uint64
	itemDate     time.Time
	dateModified time.Time
	hasSize      bool
	hasItemDate  bool
	hasModified  bool
}

func NewBasicProperties() BasicProperties { return BasicProperties{} }

func (b BasicProperties) WithSize(n uint64) BasicProperties {
	b.size, b.hasSize = n, true
	return b
}

func (b BasicProperties) WithItemDate(t time.Time) BasicProperties {
	if t.IsZero() {
		return b
	}
	b.itemDate, b.hasItemDate = CanonicalTime(t), true
	return b
}

func (b BasicProperties) WithDateModified(t time.Time) BasicProperties {
	if t.IsZero() {
		return b
	}
	b.dateModified, b.hasModified = CanonicalTime(t), true
	return b
}

func (b BasicProperties) Size() uint64 {
	if !b.hasSize {
		return DefaultSize()
	}
	return b.size
}

func (b BasicProperties) ItemDate() time.Time {
	if !b.hasItemDate {
		return DefaultTimestamp()
	}
	return b.itemDate
}

func (b BasicProperties) DateModified() time.Time {
	if !b.hasModified {
		return DefaultTimestamp()
	}
	return b.dateModified
}

func (b BasicProperties) HasSize() bool         { return b.hasSize }
func (b BasicProperties) HasItemDate() bool     { return b.hasItemDate }
func (b BasicProperties) HasDateModified() bool { return b.hasModified }

// ReadStream is an open read handle. Size is -1 when the provider does not know it up front.
type ReadStream interface {
	io.ReadCloser
	Size() int64
}

type readStream struct {
	io.ReadCloser
	size int64
}

func (r *readStream) Size() int64 { return r.size }

// NewReadStream attaches a size to rc.
func NewReadStream(rc io.ReadCloser, size int64) ReadStream {
	return &readStream{ReadCloser: rc, size: size}
}

// WriteMode selects what OpenWrite does with existing content.
type WriteMode int

const (
	WriteTruncate WriteMode = iota
	WriteAppend
)

// DeleteOption selects permanent deletion or a move to the recycle bin.
type DeleteOption int

const (
	DeleteToRecycleBin DeleteOption = iota
	DeletePermanently
)
