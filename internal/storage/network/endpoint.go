package network

import (
	"net"
	"net/url"
	"path"
	"strings"

	"nmfstore/internal/secret"
)

// Default ports per scheme.
var defaultPorts = map[string]string{
	"ftp":  "21",
	"ftps": "21",
	"smb":  "445",
}

// Endpoint identifies one remote store: a server for FTP, a share for SMB,
// a bucket for S3. Sessions are pooled per endpoint.
type Endpoint struct {
	Scheme string
	Host   string // host[:port]; the bucket for s3
	Share  string // smb only

	// Credentials embedded in the URI, if any.
	User *secret.Credential
}

// Key identifies the endpoint in the pool and the credential cache.
func (e Endpoint) Key() string {
	k := e.Scheme + "://" + strings.ToLower(e.Host)
	if e.Share != "" {
		k += "/" + strings.ToLower(e.Share)
	}
	return k
}

// Target is the keyring target credentials for this endpoint are stored under.
func (e Endpoint) Target() string { return e.Key() }

// Addr returns host:port with the scheme's default port filled in.
func (e Endpoint) Addr() string {
	if _, _, err := net.SplitHostPort(e.Host); err == nil {
		return e.Host
	}
	if p, ok := defaultPorts[e.Scheme]; ok {
		return net.JoinHostPort(e.Host, p)
	}
	return e.Host
}

// Hostname is Host without the port.
func (e Endpoint) Hostname() string {
	if h, _, err := net.SplitHostPort(e.Host); err == nil {
		return h
	}
	return e.Host
}

// URI builds the parsing path of remote (slash separated, rooted at "/").
// Credentials are never part of an item path.
func (e Endpoint) URI(remote string) string {
	u := e.Scheme + "://" + e.Host
	if e.Share != "" {
		u += "/" + e.Share
	}
	remote = strings.Trim(remote, "/")
	if remote == "" {
		return u + "/"
	}
	return u + "/" + remote
}

// ParseURI splits a network path into its endpoint and the remote path
// below it. The remote path is cleaned, slash separated and starts with "/".
func ParseURI(raw string) (Endpoint, string, error) {
	scheme, rest, _ := strings.Cut(normalizeURI(raw), "://")
	auth, rawPath := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		auth, rawPath = rest[:i], rest[i:]
	}
	// Only the authority goes through url.Parse; names may contain '%', '?' or '#'.
	u, err := url.Parse(scheme + "://" + auth)
	if err != nil {
		return Endpoint{}, "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return Endpoint{}, "", errBadURI
	}
	ep := Endpoint{Scheme: strings.ToLower(u.Scheme), Host: u.Host}
	if u.User != nil {
		c := parseUserInfo(u.User)
		ep.User = &c
	}
	remote := path.Clean("/" + rawPath)
	if ep.Scheme == "smb" {
		parts := strings.SplitN(strings.TrimPrefix(remote, "/"), "/", 2)
		if parts[0] == "" {
			return Endpoint{}, "", errNoShare
		}
		ep.Share = parts[0]
		remote = "/"
		if len(parts) == 2 {
			remote = "/" + parts[1]
		}
	}
	return ep, remote, nil
}

// normalizeURI turns backslashes in the path into slashes and escapes the
// one allowed in "domain\user" userinfo.
func normalizeURI(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	authEnd := strings.IndexByte(rest, '/')
	if authEnd < 0 {
		authEnd = len(rest)
	}
	start := 0
	if at := strings.LastIndexByte(rest[:authEnd], '@'); at >= 0 {
		userinfo := strings.ReplaceAll(rest[:at], `\`, "%5C")
		rest = userinfo + rest[at:]
		start = len(userinfo) + 1
	}
	if j := strings.IndexAny(rest[start:], `/\`); j >= 0 {
		rest = rest[:start+j] + strings.ReplaceAll(rest[start+j:], `\`, "/")
	}
	return scheme + "://" + rest
}

// parseUserInfo accepts "user", "user:pass", "domain;user:pass" and "domain\user:pass".
func parseUserInfo(ui *url.Userinfo) secret.Credential {
	var c secret.Credential
	c.User = ui.Username()
	c.Password, _ = ui.Password()
	if i := strings.IndexAny(c.User, `;\`); i >= 0 {
		c.Domain, c.User = c.User[:i], c.User[i+1:]
	}
	return c
}
