package storage

import (
	"context"
	"strings"

	apperrors "nmfstore/internal/errors"
)

// Probe is one step of the resolution chain.
// Match is a syntax check only and must not do I/O; Resolve does the I/O.
type Probe struct {
	Provider ProviderKind
	Match    func(path string) bool
	Resolve  func(ctx context.Context, path string) (Item, error)
	// ResolveFolder, when set, replaces Resolve for folder lookups. An
	// archive container is a file to Resolve but browsable as a folder.
	ResolveFolder func(ctx context.Context, path string) (Folder, error)
	// FallThrough decides whether an error from Resolve lets the next probe run.
	// nil means only NotFound falls through.
	FallThrough func(err error) bool
}

// Resolver maps opaque path strings to items by running its probes in order
// and returning the first success.
//
// Resolution of independent paths can run concurrently. Resolving the same
// path concurrently is not de-duplicated; callers that need at most once
// resolution have to coordinate themselves.
type Resolver struct {
	probes []Probe
}

// NewResolver builds a resolver. The probe order is the priority order.
func NewResolver(probes ...Probe) *Resolver {
	return &Resolver{probes: probes}
}

// Probes returns the providers in priority order.
func (r *Resolver) Probes() []ProviderKind {
	out := make([]ProviderKind, len(r.probes))
	for i, p := range r.probes {
		out[i] = p.Provider
	}
	return out
}

// Resolve returns the item for path, a NotFound error when no provider has it,
// or the error of a provider that does not fall through (auth failures on
// network paths, for example). A canceled ctx never yields an item.
func (r *Resolver) Resolve(ctx context.Context, path string) (Item, error) {
	return r.resolve(ctx, path, false)
}

func (r *Resolver) resolve(ctx context.Context, path string, wantFolder bool) (Item, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, apperrors.NewNotFoundError("", "resolve", path, nil)
	}
	log := Logger().WithField("path", path)
	var lastErr error
	for _, p := range r.probes {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewCanceledError(p.Provider.String(), "resolve", path, err)
		}
		if p.Match != nil && !p.Match(path) {
			continue
		}
		item, err := p.lookup(ctx, path, wantFolder)
		if err == nil && item != nil {
			// The probe may have finished just as ctx was canceled; drop the item.
			if cerr := ctx.Err(); cerr != nil {
				return nil, apperrors.NewCanceledError(p.Provider.String(), "resolve", path, cerr)
			}
			log.WithField("provider", p.Provider.String()).Debug("resolved")
			return item, nil
		}
		if err == nil {
			err = apperrors.NewNotFoundError(p.Provider.String(), "resolve", path, nil)
		}
		if apperrors.IsCanceled(err) {
			return nil, WrapError(p.Provider, "resolve", path, err)
		}
		fall := apperrors.IsNotFound
		if p.FallThrough != nil {
			fall = p.FallThrough
		}
		if !fall(err) {
			return nil, WrapError(p.Provider, "resolve", path, err)
		}
		log.WithField("provider", p.Provider.String()).WithError(err).Debug("falling through")
		// A real failure (a corrupt archive, say) stays the cause over later NotFounds.
		if lastErr == nil || apperrors.IsNotFound(lastErr) {
			lastErr = err
		}
	}
	return nil, apperrors.NewNotFoundError("", "resolve", path, lastErr)
}

// ResolveFile resolves path and requires a file.
func (r *Resolver) ResolveFile(ctx context.Context, path string) (File, error) {
	item, err := r.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	f, ok := TryFile(item)
	if !ok {
		return nil, apperrors.NewNotFoundError(item.Provider().String(), "resolve_file", path, errIsFolder)
	}
	return f, nil
}

func (p Probe) lookup(ctx context.Context, path string, wantFolder bool) (Item, error) {
	if !wantFolder || p.ResolveFolder == nil {
		return p.Resolve(ctx, path)
	}
	f, err := p.ResolveFolder(ctx, path)
	if err != nil || f == nil {
		return nil, err
	}
	return f, nil
}

// ResolveFolder resolves path and requires a folder. Steps with a folder
// lookup use it here, so an archive file opens as its root folder.
func (r *Resolver) ResolveFolder(ctx context.Context, path string) (Folder, error) {
	item, err := r.resolve(ctx, path, true)
	if err != nil {
		return nil, err
	}
	f, ok := TryFolder(item)
	if !ok {
		return nil, apperrors.NewNotFoundError(item.Provider().String(), "resolve_folder", path, errIsFile)
	}
	return f, nil
}

const (
	errIsFolder constError = "item is a folder"
	errIsFile   constError = "item is a file"
)

// FallThroughAny lets every error pass to the next probe. The archive probe
// uses it: a path that merely looks like an archive may still be native.
func FallThroughAny(error) bool { return true }
