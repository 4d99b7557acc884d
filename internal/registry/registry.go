// Package registry assembles the storage adapters and the resolution chain
// from the configuration.
package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding/ianaindex"

	"nmfstore/internal/config"
	apperrors "nmfstore/internal/errors"
	"nmfstore/internal/secret"
	"nmfstore/internal/storage"
	"nmfstore/internal/storage/archive"
	"nmfstore/internal/storage/native"
	"nmfstore/internal/storage/network"
	"nmfstore/internal/storage/shell"
)

// Registry owns one instance of every adapter. Resolution order is
// Archive, Network, VirtualNamespace, Native.
type Registry struct {
	Syntax   *storage.Syntax
	Native   *native.Adapter
	Archive  *archive.Adapter
	Network  *network.Adapter
	Shell    *shell.Adapter
	Resolver *storage.Resolver

	libs *shell.Libraries
}

type options struct {
	fs      afero.Fs
	secrets secret.Store
	prompt  network.Prompt
	dialers map[string]network.Dialer
	noLibs  bool
}

// Option customizes New.
type Option func(*options)

// WithFs replaces the host filesystem, mainly for tests.
func WithFs(fsys afero.Fs) Option {
	return func(o *options) { o.fs = fsys }
}

// WithSecretStore replaces the OS keyring.
func WithSecretStore(s secret.Store) Option {
	return func(o *options) { o.secrets = s }
}

// WithPrompt installs the interactive credential request.
func WithPrompt(p network.Prompt) Option {
	return func(o *options) { o.prompt = p }
}

// WithDialer overrides the client factory of one network scheme.
func WithDialer(scheme string, d network.Dialer) Option {
	return func(o *options) { o.dialers[scheme] = d }
}

// WithoutLibraries skips opening the library database.
func WithoutLibraries() Option {
	return func(o *options) { o.noLibs = true }
}

// New builds every adapter from cfg. configPath locates the default library database.
func New(cfg *config.Config, configPath string, opts ...Option) (*Registry, error) {
	o := options{dialers: make(map[string]network.Dialer)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}

	r := &Registry{Syntax: storage.NewSyntax(cfg.Archive.Extensions, cfg.Network.Schemes)}
	r.Native = native.New(o.fs)

	archiveOpts := []archive.Option{archive.WithIndexCacheSize(cfg.Archive.IndexCacheSize)}
	if cfg.Archive.TextEncoding != "" {
		enc, err := ianaindex.IANA.Encoding(cfg.Archive.TextEncoding)
		if err != nil || enc == nil {
			return nil, apperrors.NewConfigError("registry", "unknown archive.textEncoding "+cfg.Archive.TextEncoding, err)
		}
		archiveOpts = append(archiveOpts, archive.WithTextEncoding(enc))
	}
	if cfg.Archive.ScratchDir != "" {
		archiveOpts = append(archiveOpts, archive.WithScratch(afero.NewOsFs(), cfg.Archive.ScratchDir))
	}
	r.Archive = archive.New(r.Native, r.Syntax, archiveOpts...)

	if o.secrets == nil {
		s, err := secret.Open()
		if err != nil {
			logrus.WithError(err).Warn("OS keyring unavailable, credentials are kept in memory")
		}
		o.secrets = s
	}
	netOpts := []network.Option{
		network.WithDialer("ftp", network.FTPDialer{}),
		network.WithDialer("ftps", network.FTPDialer{}),
		network.WithDialer("smb", network.SMBDialer{}),
		network.WithDialer("s3", network.S3Dialer{Region: cfg.Network.S3Region, Endpoint: cfg.Network.S3Endpoint}),
		network.WithSecretStore(o.secrets),
		network.WithAnonymousFTP(cfg.Network.AnonymousFTP),
		network.WithPersistCredentials(cfg.Network.PersistCredentials),
		network.WithMaxConnsPerHost(cfg.Network.MaxConnsPerHost),
		network.WithDialTimeout(time.Duration(cfg.Network.DialTimeoutSeconds) * time.Second),
	}
	for scheme, d := range o.dialers {
		netOpts = append(netOpts, network.WithDialer(scheme, d))
	}
	if o.prompt != nil {
		netOpts = append(netOpts, network.WithPrompt(o.prompt))
	}
	r.Network = network.New(r.Syntax, netOpts...)

	shellOpts := []shell.Option{
		shell.WithTrash(shell.NewTrash(o.fs, cfg.Shell.TrashDir)),
		shell.WithKnownFolders(cfg.Shell.KnownFolders),
	}
	if !o.noLibs {
		libs, err := openLibraries(cfg.LibraryDBPath(configPath))
		if err != nil {
			// Another process may hold the database; everything else still works.
			logrus.WithError(err).Warn("libraries disabled")
		} else {
			r.libs = libs
			shellOpts = append(shellOpts, shell.WithLibraries(libs))
		}
	}
	r.Shell = shell.New(r.Native, shellOpts...)
	r.Native.SetTrasher(r.Shell.Trash())

	r.Resolver = storage.NewResolver(
		r.Archive.Probe(),
		r.Network.Probe(),
		r.Shell.Probe(),
		r.Native.Probe(),
	)
	logrus.WithField("probes", r.Resolver.Probes()).Debug("registry ready")
	return r, nil
}

func openLibraries(path string) (*shell.Libraries, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return shell.OpenLibraries(path)
}

// Libraries returns the library store, or nil when it could not be opened.
func (r *Registry) Libraries() *shell.Libraries { return r.libs }

// Resolve maps any path string to an item.
func (r *Registry) Resolve(ctx context.Context, p string) (storage.Item, error) {
	return r.Resolver.Resolve(ctx, p)
}

// ResolveFile resolves p and requires a file.
func (r *Registry) ResolveFile(ctx context.Context, p string) (storage.File, error) {
	return r.Resolver.ResolveFile(ctx, p)
}

// ResolveFolder resolves p and requires a folder.
func (r *Registry) ResolveFolder(ctx context.Context, p string) (storage.Folder, error) {
	return r.Resolver.ResolveFolder(ctx, p)
}

// Close releases pooled sessions and the library database.
func (r *Registry) Close() error {
	var errs []error
	if err := r.Network.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.libs != nil {
		if err := r.libs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
