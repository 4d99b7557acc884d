package storage

import (
	"context"
	"io"
	"strings"

	apperrors "nmfstore/internal/errors"
)

// contextReader stops a copy promptly once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// ContextReader wraps r so that reads fail with ctx.Err() after cancellation.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

// StreamCopy copies src into dest by streaming its content. It works across
// providers and is what adapters fall back to when they have no native copy.
func StreamCopy(ctx context.Context, src File, dest Folder, desiredName string, opt CollisionOption) (File, error) {
	if desiredName == "" {
		desiredName = src.Name()
	}
	if opt == OpenIfExists {
		opt = ReplaceExisting
	}
	if opt == ReplaceExisting && dest.Provider() == src.Provider() && samePath(JoinPath(dest.Path(), desiredName), src.Path()) {
		// Replacing a file with itself would truncate the source before reading it.
		return src, nil
	}
	rs, err := src.OpenRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	target, err := dest.CreateFile(ctx, desiredName, opt)
	if err != nil {
		return nil, err
	}

	w, err := target.OpenWrite(ctx, WriteTruncate)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, ContextReader(ctx, rs)); err != nil {
		w.Close()
		return nil, WrapError(dest.Provider(), "copy", target.Path(), err)
	}
	if err := w.Close(); err != nil {
		return nil, WrapError(dest.Provider(), "copy", target.Path(), err)
	}
	LogFor(src.Provider(), src.Path()).WithField("to", target.Path()).Debug("stream copy done")
	return target, nil
}

// StreamMove is StreamCopy followed by a permanent delete of src.
// If the delete fails the copy stays in place and the error is returned.
func StreamMove(ctx context.Context, src File, dest Folder, desiredName string, opt CollisionOption) (File, error) {
	moved, err := StreamCopy(ctx, src, dest, desiredName, opt)
	if err != nil {
		return nil, err
	}
	if moved.Provider() == src.Provider() && samePath(moved.Path(), src.Path()) {
		return moved, nil
	}
	if err := src.Delete(ctx, DeletePermanently); err != nil {
		return moved, err
	}
	return moved, nil
}

// FolderMover is implemented by folders that can move a whole tree natively.
type FolderMover interface {
	MoveTo(ctx context.Context, dest Folder, desiredName string, opt CollisionOption) (Folder, error)
}

func isInside(child, parent Item) bool {
	return child.Provider() == parent.Provider() && PathWithin(child.Path(), parent.Path())
}

// PathWithin reports whether child is parent or lies below it.
func PathWithin(child, parent string) bool {
	c := strings.TrimRight(child, `/\`)
	p := strings.TrimRight(parent, `/\`)
	return c == p || strings.HasPrefix(c, p+"/") || strings.HasPrefix(c, p+`\`)
}

// CopyItem copies a file or a folder tree into dest.
func CopyItem(ctx context.Context, item Item, dest Folder, opt CollisionOption) (Item, error) {
	if f, ok := TryFile(item); ok {
		return f.CopyTo(ctx, dest, "", opt)
	}
	if d, ok := TryFolder(item); ok {
		return CopyFolder(ctx, d, dest, "", opt)
	}
	return nil, apperrors.NewUnsupportedError(item.Provider().String(), "copy", item.Path())
}

// CopyFolder copies src and everything below it into dest. Per-item failures
// do not stop the copy; they come back together as a *BulkError.
func CopyFolder(ctx context.Context, src Folder, dest Folder, desiredName string, opt CollisionOption) (Folder, error) {
	if desiredName == "" {
		desiredName = src.Name()
	}
	if isInside(dest, src) {
		return nil, apperrors.NewIOError(src.Provider().String(), "copy", src.Path(), errCopyIntoSelf)
	}
	folderOpt := opt
	if opt == ReplaceExisting {
		// Merge into the existing folder instead of wiping it.
		folderOpt = OpenIfExists
	}
	created, err := dest.CreateFolder(ctx, desiredName, folderOpt)
	if err != nil {
		return nil, err
	}
	bulk := &BulkError{}
	copyTree(ctx, src, created, opt, bulk)
	return created, bulk.orNil()
}

func copyTree(ctx context.Context, src, dest Folder, opt CollisionOption, bulk *BulkError) {
	items, err := src.Items(ctx, Query{})
	if err != nil {
		bulk.add(src.Path(), err)
		return
	}
	for _, it := range items {
		if err := CheckContext(ctx, src.Provider(), "copy", it.Path()); err != nil {
			bulk.add(it.Path(), err)
			return
		}
		if f, ok := TryFile(it); ok {
			if _, err := f.CopyTo(ctx, dest, "", opt); err != nil {
				bulk.add(it.Path(), err)
			}
			continue
		}
		if d, ok := TryFolder(it); ok {
			folderOpt := opt
			if opt == ReplaceExisting {
				folderOpt = OpenIfExists
			}
			sub, err := dest.CreateFolder(ctx, d.Name(), folderOpt)
			if err != nil {
				bulk.add(it.Path(), err)
				continue
			}
			copyTree(ctx, d, sub, opt, bulk)
		}
	}
}

// MoveItem moves a file or a folder tree into dest. A folder is moved natively
// when its adapter supports it, otherwise copied and then deleted; the source
// is only deleted when every item was copied.
func MoveItem(ctx context.Context, item Item, dest Folder, opt CollisionOption) (Item, error) {
	if f, ok := TryFile(item); ok {
		return f.MoveTo(ctx, dest, "", opt)
	}
	d, ok := TryFolder(item)
	if !ok {
		return nil, apperrors.NewUnsupportedError(item.Provider().String(), "move", item.Path())
	}
	if mv, ok := d.(FolderMover); ok && d.Provider() == dest.Provider() {
		moved, err := mv.MoveTo(ctx, dest, "", opt)
		if err == nil || !apperrors.IsUnsupported(err) {
			return moved, err
		}
	}
	copied, err := CopyFolder(ctx, d, dest, "", opt)
	if err != nil {
		return copied, err
	}
	if err := d.Delete(ctx, DeletePermanently); err != nil {
		return copied, err
	}
	return copied, nil
}

// DeleteAll deletes every item and reports the failures as a *BulkError.
func DeleteAll(ctx context.Context, items []Item, opt DeleteOption) error {
	bulk := &BulkError{}
	for _, it := range items {
		if err := CheckContext(ctx, it.Provider(), "delete", it.Path()); err != nil {
			bulk.add(it.Path(), err)
			break
		}
		if err := it.Delete(ctx, opt); err != nil {
			bulk.add(it.Path(), err)
		}
	}
	return bulk.orNil()
}

const errCopyIntoSelf constError = "cannot copy a folder into itself"
