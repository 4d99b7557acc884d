package shell

import (
	"context"
	"io"

	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/storage"
)

// shortcut is a symbolic link seen through a virtual folder. It is always a
// file; reading it reads the target.
type shortcut struct {
	node
	link   storage.Item
	target string
}

func (a *Adapter) newShortcut(vpath string, link storage.Item, target string) *shortcut {
	s := &shortcut{node: a.node(vpath, link.Name(), link.Name(), storage.KindFile), link: link, target: target}
	s.Attrs = storage.AttrReparsePoint
	s.Created = link.DateCreated()
	return s
}

// TargetPath is the absolute native path the link points at.
func (s *shortcut) TargetPath() string { return s.target }

func (s *shortcut) BasicProperties(ctx context.Context) (storage.BasicProperties, error) {
	return s.link.BasicProperties(ctx)
}

func (s *shortcut) Properties() storage.ExtraProperties {
	return storage.NewPropertySet(s).RegisterValue(storage.KeyLinkTarget, s.target)
}

func (s *shortcut) Rename(ctx context.Context, desiredName string, opt storage.CollisionOption) (storage.Item, error) {
	renamed, err := s.link.Rename(ctx, desiredName, opt)
	if err != nil {
		return nil, err
	}
	vpath := storage.JoinPath(storage.ParentPath(s.ItemPath), renamed.Name())
	return s.a.wrap(ctx, vpath, renamed), nil
}

// Delete removes the link, never the target.
func (s *shortcut) Delete(ctx context.Context, opt storage.DeleteOption) error {
	return s.link.Delete(ctx, opt)
}

func (s *shortcut) targetFile(ctx context.Context, verb string) (storage.File, error) {
	it, err := s.a.native.Resolve(ctx, s.target)
	if err != nil {
		return nil, err
	}
	f, ok := storage.TryFile(it)
	if !ok {
		return nil, apperrors.NewIOError(kind.String(), verb, s.ItemPath, errTargetDir)
	}
	return f, nil
}

func (s *shortcut) OpenRead(ctx context.Context) (storage.ReadStream, error) {
	f, err := s.targetFile(ctx, "open_read")
	if err != nil {
		return nil, err
	}
	return f.OpenRead(ctx)
}

func (s *shortcut) OpenWrite(ctx context.Context, mode storage.WriteMode) (io.WriteCloser, error) {
	f, err := s.targetFile(ctx, "open_write")
	if err != nil {
		return nil, err
	}
	return f.OpenWrite(ctx, mode)
}

// CopyTo copies the target's content.
func (s *shortcut) CopyTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	return storage.StreamCopy(ctx, s, dest, desiredName, opt)
}

// MoveTo moves the link itself.
func (s *shortcut) MoveTo(ctx context.Context, dest storage.Folder, desiredName string, opt storage.CollisionOption) (storage.File, error) {
	if f, ok := storage.TryFile(s.link); ok {
		return f.MoveTo(ctx, dest, desiredName, opt)
	}
	return nil, apperrors.NewUnsupportedError(kind.String(), "move", s.ItemPath)
}

var (
	_ storage.File = (*shortcut)(nil)
	_ Shortcut     = (*shortcut)(nil)
)
