package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"nmfstore/internal/secret"
)

// FTPDialer opens FTP sessions; ftps endpoints use explicit TLS (AUTH TLS).
type FTPDialer struct {
	TLSConfig *tls.Config
	Location  *time.Location // server time zone for LIST output, default UTC
}

func (d FTPDialer) Dial(ctx context.Context, ep Endpoint, cred secret.Credential) (Client, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if dl, ok := ctx.Deadline(); ok {
		opts = append(opts, ftp.DialWithTimeout(time.Until(dl)))
	}
	if d.Location != nil {
		opts = append(opts, ftp.DialWithLocation(d.Location))
	}
	if ep.Scheme == "ftps" {
		cfg := &tls.Config{ServerName: ep.Hostname()}
		if d.TLSConfig != nil {
			cfg = d.TLSConfig.Clone()
		}
		opts = append(opts, ftp.DialWithExplicitTLS(cfg))
	}
	conn, err := ftp.Dial(ep.Addr(), opts...)
	if err != nil {
		return nil, err
	}
	c := &ftpClient{conn: conn}
	defer c.guard(ctx)()
	if err := conn.Login(cred.User, cred.Password); err != nil {
		conn.Quit()
		return nil, loginError(err)
	}
	return c, nil
}

// loginError classifies a failed login. The library reports an unexpected
// USER reply as a plain error, which is a rejection too.
func loginError(err error) error {
	var tp *textproto.Error
	if errors.As(err, &tp) {
		switch tp.Code {
		case ftp.StatusNotLoggedIn, ftp.StatusInvalidCredentials, ftp.StatusLoginNeedAccount, ftp.StatusStorNeedAccount:
			return wrapAuth(err)
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return err
	}
	return wrapAuth(err)
}

// ftpClient is one logged in control connection. The library is not
// context aware; cancellation closes the connection.
type ftpClient struct {
	conn *ftp.ServerConn
}

func (c *ftpClient) guard(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() { _ = c.conn.Quit() })
}

// ftpError maps reply codes to the errors the adapter understands.
func ftpError(err error) error {
	var tp *textproto.Error
	if !errors.As(err, &tp) {
		return err
	}
	switch tp.Code {
	case ftp.StatusNotLoggedIn:
		return wrapAuth(err)
	case ftp.StatusFileUnavailable:
		return fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	case ftp.StatusNotImplemented, ftp.StatusNotImplementedParameter:
		return fmt.Errorf("%w: %w", errors.ErrUnsupported, err)
	}
	return err
}

func fromFTP(e *ftp.Entry, name string) Entry {
	out := Entry{
		Name:    name,
		Dir:     e.Type == ftp.EntryTypeFolder,
		Size:    int64(e.Size),
		ModTime: e.Time,
	}
	if e.Type == ftp.EntryTypeLink {
		out.LinkTarget = e.Target
	}
	return out
}

func (c *ftpClient) Stat(ctx context.Context, remote string) (Entry, error) {
	if remote == "/" {
		return Entry{Name: "/", Dir: true}, nil
	}
	defer c.guard(ctx)()
	name := path.Base(remote)
	e, err := c.conn.GetEntry(remote)
	if err == nil {
		out := fromFTP(e, name)
		if e.Type == ftp.EntryTypeLink {
			out.Dir = c.isDir(remote)
		}
		return out, nil
	}
	mapped := ftpError(err)
	if errors.Is(mapped, fs.ErrNotExist) || IsAuthError(mapped) {
		return Entry{}, mapped
	}

	// No MLST: find the name in the parent listing.
	entries, err := c.conn.List(path.Dir(remote))
	if err != nil {
		return Entry{}, ftpError(err)
	}
	for _, e := range entries {
		if e.Name == name {
			out := fromFTP(e, name)
			if e.Type == ftp.EntryTypeLink {
				out.Dir = c.isDir(remote)
			}
			return out, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", fs.ErrNotExist, remote)
}

// isDir follows a link by trying to change into it.
func (c *ftpClient) isDir(remote string) bool {
	if err := c.conn.ChangeDir(remote); err != nil {
		return false
	}
	_ = c.conn.ChangeDir("/")
	return true
}

func (c *ftpClient) List(ctx context.Context, dir string) ([]Entry, error) {
	defer c.guard(ctx)()
	entries, err := c.conn.List(dir)
	if err != nil {
		return nil, ftpError(err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, fromFTP(e, e.Name))
	}
	return out, nil
}

func (c *ftpClient) Open(ctx context.Context, remote string) (io.ReadCloser, int64, error) {
	stop := c.guard(ctx)
	size, err := c.conn.FileSize(remote)
	if err != nil {
		size = -1
	}
	resp, err := c.conn.Retr(remote)
	stop()
	if err != nil {
		return nil, -1, ftpError(err)
	}
	stopData := context.AfterFunc(ctx, func() { _ = resp.SetDeadline(time.Now()) })
	return &ftpResponse{Response: resp, stop: stopData}, size, nil
}

type ftpResponse struct {
	*ftp.Response
	stop func() bool
}

func (r *ftpResponse) Close() error {
	r.stop()
	return r.Response.Close()
}

func (c *ftpClient) Store(ctx context.Context, remote string, r io.Reader, appendTo bool) error {
	defer c.guard(ctx)()
	var err error
	if appendTo {
		err = c.conn.Append(remote, r)
	} else {
		err = c.conn.Stor(remote, r)
	}
	return ftpError(err)
}

func (c *ftpClient) Rename(ctx context.Context, from, to string) error {
	defer c.guard(ctx)()
	return ftpError(c.conn.Rename(from, to))
}

func (c *ftpClient) Remove(ctx context.Context, remote string, dir bool) error {
	defer c.guard(ctx)()
	if dir {
		return ftpError(c.conn.RemoveDirRecur(remote))
	}
	return ftpError(c.conn.Delete(remote))
}

// Mkdir reports an existing name as fs.ErrExist; 550 alone does not say
// whether the name exists or the parent is missing.
func (c *ftpClient) Mkdir(ctx context.Context, remote string) error {
	stop := c.guard(ctx)
	err := c.conn.MakeDir(remote)
	stop()
	if err == nil {
		return nil
	}
	mapped := ftpError(err)
	if errors.Is(mapped, fs.ErrNotExist) {
		if _, serr := c.Stat(ctx, remote); serr == nil {
			return fmt.Errorf("%w: %w", fs.ErrExist, err)
		}
	}
	return mapped
}

func (c *ftpClient) Close() error {
	return c.conn.Quit()
}
