package storage

import (
	"context"
	"fmt"
	"strings"

	apperrors "nmfstore/internal/errors"
)

// CollisionOption decides what create/copy/move/rename do when the target name exists.
type CollisionOption int

const (
	GenerateUniqueName CollisionOption = iota
	ReplaceExisting
	FailIfExists
	OpenIfExists
)

func (o CollisionOption) String() string {
	switch o {
	case GenerateUniqueName:
		return "unique"
	case ReplaceExisting:
		return "replace"
	case FailIfExists:
		return "fail"
	case OpenIfExists:
		return "open"
	default:
		return "unknown"
	}
}

// ParseCollisionOption is the inverse of String.
func ParseCollisionOption(s string) (CollisionOption, bool) {
	switch strings.ToLower(s) {
	case "unique", "":
		return GenerateUniqueName, true
	case "replace":
		return ReplaceExisting, true
	case "fail":
		return FailIfExists, true
	case "open":
		return OpenIfExists, true
	}
	return 0, false
}

// ExistsFunc is a provider's existence probe for a name inside one folder.
type ExistsFunc func(ctx context.Context, name string) (bool, error)

// Bound on unique name generation.
const maxUniqueAttempts = 10000

// ResolveCollision applies opt to desiredName. It returns the name to use
// and whether that name refers to an existing entry the caller must open
// or replace. Every adapter goes through here; only exists differs.
// GenerateUniqueName inserts " (n)", n counting from 2, before the
// extension of desiredName as given: "a (2).txt" becomes "a (2) (2).txt".
func ResolveCollision(ctx context.Context, kind ProviderKind, folderPath, desiredName string, opt CollisionOption, exists ExistsFunc) (string, bool, error) {
	if desiredName == "" || strings.ContainsAny(desiredName, `/\`) {
		return "", false, apperrors.NewIOError(kind.String(), "resolve_collision", folderPath, fmt.Errorf("invalid name %q", desiredName))
	}
	target := JoinPath(folderPath, desiredName)
	found, err := exists(ctx, desiredName)
	if err != nil {
		return "", false, WrapError(kind, "resolve_collision", target, err)
	}
	if !found {
		return desiredName, false, nil
	}
	switch opt {
	case FailIfExists:
		return "", false, apperrors.NewCollisionError(kind.String(), "resolve_collision", target)
	case ReplaceExisting, OpenIfExists:
		return desiredName, true, nil
	}

	stem, ext := splitExt(desiredName)
	for n := 2; n < maxUniqueAttempts; n++ {
		if err := CheckContext(ctx, kind, "resolve_collision", target); err != nil {
			return "", false, err
		}
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		found, err := exists(ctx, candidate)
		if err != nil {
			return "", false, WrapError(kind, "resolve_collision", JoinPath(folderPath, candidate), err)
		}
		if !found {
			return candidate, false, nil
		}
	}
	return "", false, apperrors.NewCollisionError(kind.String(), "resolve_collision", target)
}

func splitExt(name string) (string, string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:]
}

// ExistsInFolder builds an ExistsFunc from a folder's TryGetItem.
func ExistsInFolder(f Folder) ExistsFunc {
	return func(ctx context.Context, name string) (bool, error) {
		it, err := f.TryGetItem(ctx, name)
		return it != nil, err
	}
}
