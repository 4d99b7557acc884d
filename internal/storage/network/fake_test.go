package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"nmfstore/internal/secret"
)

// fakeServer is an in-memory remote store; it doubles as the Dialer.
type fakeServer struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string]bool
	links   map[string]string
	accept  []secret.Credential
	dials   int
	modTime time.Time
}

func newFakeServer(accept ...secret.Credential) *fakeServer {
	return &fakeServer{
		files:   make(map[string][]byte),
		dirs:    map[string]bool{"/": true},
		links:   make(map[string]string),
		accept:  accept,
		modTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *fakeServer) addFile(p, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for d := path.Dir(p); d != "/"; d = path.Dir(d) {
		s.dirs[d] = true
	}
	s.files[p] = []byte(content)
}

func (s *fakeServer) addDir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for d := p; d != "/"; d = path.Dir(d) {
		s.dirs[d] = true
	}
}

func (s *fakeServer) content(p string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[p]
	return string(b), ok
}

func (s *fakeServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *fakeServer) Dial(ctx context.Context, ep Endpoint, cred secret.Credential) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	for _, c := range s.accept {
		if c == cred {
			return &fakeClient{srv: s}, nil
		}
	}
	return nil, wrapAuth(fmt.Errorf("530 login incorrect for %q", cred.User))
}

type fakeClient struct {
	srv    *fakeServer
	closed bool
}

func notExist(p string) error { return fmt.Errorf("%w: %s", fs.ErrNotExist, p) }

func (c *fakeClient) entry(p string) (Entry, bool) {
	s := c.srv
	if s.dirs[p] {
		return Entry{Name: path.Base(p), Dir: true, ModTime: s.modTime}, true
	}
	if b, ok := s.files[p]; ok {
		return Entry{Name: path.Base(p), Size: int64(len(b)), ModTime: s.modTime, LinkTarget: s.links[p]}, true
	}
	return Entry{}, false
}

func (c *fakeClient) Stat(ctx context.Context, remote string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	e, ok := c.entry(remote)
	if !ok {
		return Entry{}, notExist(remote)
	}
	return e, nil
}

func (c *fakeClient) List(ctx context.Context, dir string) ([]Entry, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if !c.srv.dirs[dir] {
		return nil, notExist(dir)
	}
	var names []string
	for p := range c.srv.dirs {
		if p != "/" && path.Dir(p) == dir {
			names = append(names, p)
		}
	}
	for p := range c.srv.files {
		if path.Dir(p) == dir {
			names = append(names, p)
		}
	}
	sort.Strings(names)
	out := make([]Entry, 0, len(names))
	for _, p := range names {
		e, _ := c.entry(p)
		out = append(out, e)
	}
	return out, nil
}

func (c *fakeClient) Open(ctx context.Context, remote string) (io.ReadCloser, int64, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	b, ok := c.srv.files[remote]
	if !ok {
		return nil, -1, notExist(remote)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), b...))), int64(len(b)), nil
}

func (c *fakeClient) Store(ctx context.Context, remote string, r io.Reader, appendTo bool) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if !c.srv.dirs[path.Dir(remote)] {
		return notExist(path.Dir(remote))
	}
	if c.srv.dirs[remote] {
		return errIsDir
	}
	if appendTo {
		data = append(append([]byte(nil), c.srv.files[remote]...), data...)
	}
	c.srv.files[remote] = data
	return nil
}

func moveKeys[V any](m map[string]V, from, to string) {
	moved := make(map[string]V)
	for k, v := range m {
		if k == from || strings.HasPrefix(k, from+"/") {
			delete(m, k)
			moved[to+strings.TrimPrefix(k, from)] = v
		}
	}
	for k, v := range moved {
		m[k] = v
	}
}

func (c *fakeClient) Rename(ctx context.Context, from, to string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if _, ok := c.entry(from); !ok {
		return notExist(from)
	}
	if _, ok := c.entry(to); ok {
		return fmt.Errorf("%w: %s", fs.ErrExist, to)
	}
	moveKeys(c.srv.files, from, to)
	moveKeys(c.srv.dirs, from, to)
	return nil
}

func (c *fakeClient) Remove(ctx context.Context, remote string, dir bool) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if _, ok := c.entry(remote); !ok {
		return notExist(remote)
	}
	if !dir {
		delete(c.srv.files, remote)
		return nil
	}
	for k := range c.srv.dirs {
		if k == remote || strings.HasPrefix(k, remote+"/") {
			delete(c.srv.dirs, k)
		}
	}
	for k := range c.srv.files {
		if strings.HasPrefix(k, remote+"/") {
			delete(c.srv.files, k)
		}
	}
	return nil
}

func (c *fakeClient) Mkdir(ctx context.Context, remote string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if _, ok := c.entry(remote); ok {
		return fmt.Errorf("%w: %s", fs.ErrExist, remote)
	}
	if !c.srv.dirs[path.Dir(remote)] {
		return notExist(path.Dir(remote))
	}
	c.srv.dirs[remote] = true
	return nil
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

var errBoom = errors.New("connection reset")
