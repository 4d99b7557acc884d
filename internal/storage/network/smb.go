package network

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"

	"nmfstore/internal/secret"
	"nmfstore/internal/storage"
)

// SMBDialer opens a session and mounts the endpoint's share.
type SMBDialer struct{}

func (SMBDialer) Dial(ctx context.Context, ep Endpoint, cred secret.Credential) (Client, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     cred.User,
			Password: cred.Password,
			Domain:   cred.Domain,
		},
	}
	sess, err := d.Dial(conn)
	if err != nil {
		conn.Close()
		return nil, smbError(err)
	}
	share, err := sess.Mount(ep.Share)
	if err != nil {
		sess.Logoff()
		conn.Close()
		return nil, smbError(err)
	}
	_ = conn.SetDeadline(time.Time{})
	return &smbClient{conn: conn, sess: sess, share: share}, nil
}

type smbClient struct {
	conn  net.Conn
	sess  *smb2.Session
	share *smb2.Share
}

// sharePath turns a remote path into one relative to the share;
// go-smb2 forbids leading separators.
func sharePath(remote string) string {
	p := remote
	for len(p) > 0 && (p[0] == '/' || p[0] == '\\') {
		p = p[1:]
	}
	return p
}

// smbError classifies server errors by their text; the status codes
// reach us wrapped in path errors that differ between servers.
func smbError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isAuthError(err):
		return wrapAuth(err)
	case isNotFoundError(err):
		return fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	case isExistError(err):
		return fmt.Errorf("%w: %w", fs.ErrExist, err)
	}
	return err
}

func isAuthError(err error) bool {
	e := strings.ToLower(err.Error())
	// Common indicators from Windows/SMB servers
	return strings.Contains(e, "logon is invalid") ||
		strings.Contains(e, "bad username") ||
		strings.Contains(e, "authentication") ||
		strings.Contains(e, "status_logon_failure") ||
		strings.Contains(e, "access is denied")
}

func isNotFoundError(err error) bool {
	if os.IsNotExist(err) {
		return true
	}
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "object name not found") ||
		strings.Contains(e, "object_name_not_found") ||
		strings.Contains(e, "object_path_not_found") ||
		strings.Contains(e, "path not found") ||
		strings.Contains(e, "no such file") ||
		strings.Contains(e, "bad_network_name")
}

func isExistError(err error) bool {
	if os.IsExist(err) {
		return true
	}
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "object name collision") ||
		strings.Contains(e, "object_name_collision") ||
		strings.Contains(e, "already exists")
}

func fromSMB(fi os.FileInfo) Entry {
	return Entry{
		Name:    fi.Name(),
		Dir:     fi.IsDir(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}
}

func (c *smbClient) Stat(ctx context.Context, remote string) (Entry, error) {
	p := sharePath(remote)
	if p == "" {
		p = "."
	}
	sh := c.share.WithContext(ctx)
	fi, err := sh.Lstat(p)
	if err != nil {
		return Entry{}, smbError(err)
	}
	e := fromSMB(fi)
	if fi.Mode()&os.ModeSymlink != 0 {
		if target, err := sh.Readlink(p); err == nil {
			e.LinkTarget = target
		}
		if tfi, err := sh.Stat(p); err == nil {
			e.Dir = tfi.IsDir()
		}
	}
	return e, nil
}

func (c *smbClient) List(ctx context.Context, dir string) ([]Entry, error) {
	fis, err := c.share.WithContext(ctx).ReadDir(sharePath(dir))
	if err != nil {
		return nil, smbError(err)
	}
	out := make([]Entry, 0, len(fis))
	for _, fi := range fis {
		// skip "." entries if any
		if fi.Name() == "." || fi.Name() == ".." {
			continue
		}
		out = append(out, fromSMB(fi))
	}
	return out, nil
}

func (c *smbClient) Open(ctx context.Context, remote string) (io.ReadCloser, int64, error) {
	f, err := c.share.WithContext(ctx).Open(sharePath(remote))
	if err != nil {
		return nil, -1, smbError(err)
	}
	size := int64(-1)
	if fi, err := f.Stat(); err == nil {
		if fi.IsDir() {
			f.Close()
			return nil, -1, errIsDir
		}
		size = fi.Size()
	}
	return f, size, nil
}

func (c *smbClient) Store(ctx context.Context, remote string, r io.Reader, appendTo bool) error {
	flags := os.O_WRONLY | os.O_CREATE
	if appendTo {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := c.share.WithContext(ctx).OpenFile(sharePath(remote), flags, 0o644)
	if err != nil {
		return smbError(err)
	}
	if _, err := io.Copy(f, storage.ContextReader(ctx, r)); err != nil {
		f.Close()
		return smbError(err)
	}
	return smbError(f.Close())
}

func (c *smbClient) Rename(ctx context.Context, from, to string) error {
	return smbError(c.share.WithContext(ctx).Rename(sharePath(from), sharePath(to)))
}

func (c *smbClient) Remove(ctx context.Context, remote string, dir bool) error {
	sh := c.share.WithContext(ctx)
	if dir {
		return smbError(sh.RemoveAll(sharePath(remote)))
	}
	return smbError(sh.Remove(sharePath(remote)))
}

func (c *smbClient) Mkdir(ctx context.Context, remote string) error {
	return smbError(c.share.WithContext(ctx).Mkdir(sharePath(remote), 0o755))
}

func (c *smbClient) Close() error {
	c.share.Umount()
	c.sess.Logoff()
	return c.conn.Close()
}
