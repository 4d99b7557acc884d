package storage

import (
	"path"
	"path/filepath"
	"strings"
)

// Syntax is the one place path recognition rules live. Resolver probes and
// adapters consult the same instance so that probing and dispatch agree.
type Syntax struct {
	archiveExts []string
	schemes     map[string]bool
}

// Virtual root prefixes, matched case-insensitively.
const (
	ShellPrefix     = "shell:"
	ShellGUIDPrefix = "::{"
	ShellUNCPrefix  = `\\SHELL\`
	RecycleBinGUID  = "::{645FF040-5081-101B-9F08-00AA002F954E}"
	RecycleBinRoot  = "shell:RecycleBinFolder"
	LibrariesRoot   = "shell:Libraries"
	schemeSeparator = "://"
)

// NewSyntax builds the recognition table. Extensions are matched case-insensitively
// and must include the dot; schemes are lower case without "://".
func NewSyntax(archiveExts, schemes []string) *Syntax {
	s := &Syntax{schemes: make(map[string]bool, len(schemes))}
	for _, e := range archiveExts {
		s.archiveExts = append(s.archiveExts, strings.ToLower(e))
	}
	for _, sc := range schemes {
		s.schemes[strings.ToLower(sc)] = true
	}
	return s
}

// DefaultSyntax recognises the stock archive extensions and network schemes.
func DefaultSyntax() *Syntax {
	return NewSyntax(
		[]string{".zip", ".7z", ".rar", ".tar", ".gz", ".lzh", ".mrpack", ".jar"},
		[]string{"ftp", "ftps", "smb", "s3"},
	)
}

// Scheme returns the lower case URI scheme of p, if p has one.
func Scheme(p string) (string, bool) {
	i := strings.Index(p, schemeSeparator)
	if i <= 0 {
		return "", false
	}
	sc := p[:i]
	for _, r := range sc {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return "", false
		}
	}
	return strings.ToLower(sc), true
}

// HasScheme reports whether p is a URI of any scheme.
func HasScheme(p string) bool {
	_, ok := Scheme(p)
	return ok
}

// IsNetworkPath reports whether p uses one of the registered network schemes.
func (s *Syntax) IsNetworkPath(p string) bool {
	sc, ok := Scheme(strings.TrimSpace(p))
	return ok && s.schemes[sc]
}

// Schemes returns the registered network schemes.
func (s *Syntax) Schemes() []string {
	out := make([]string, 0, len(s.schemes))
	for sc := range s.schemes {
		out = append(out, sc)
	}
	return out
}

// IsVirtualPath reports whether p names a shell namespace root or an item below one.
func IsVirtualPath(p string) bool {
	l := strings.ToLower(strings.TrimSpace(p))
	return strings.HasPrefix(l, ShellPrefix) ||
		strings.HasPrefix(l, ShellGUIDPrefix) ||
		strings.HasPrefix(l, strings.ToLower(ShellUNCPrefix))
}

// IsArchiveName reports whether name ends with a browsable archive extension.
func (s *Syntax) IsArchiveName(name string) bool {
	l := strings.ToLower(name)
	for _, ext := range s.archiveExts {
		if strings.HasSuffix(l, ext) && len(l) > len(ext) {
			return true
		}
	}
	return false
}

// SplitArchivePath finds the first segment of p that names an archive and
// splits p into the container path and the slash separated entry path inside it.
// URIs are never split: network resources are resolved as a whole.
func (s *Syntax) SplitArchivePath(p string) (container, inner string, ok bool) {
	if HasScheme(p) || IsVirtualPath(p) {
		return "", "", false
	}
	start := 0
	for i := 0; i <= len(p); i++ {
		if i < len(p) && p[i] != '/' && p[i] != '\\' {
			continue
		}
		seg := p[start:i]
		if seg != "" && s.IsArchiveName(seg) {
			container = p[:i]
			inner = strings.ReplaceAll(p[i:], `\`, "/")
			inner = strings.Trim(path.Clean("/"+inner), "/")
			return container, inner, true
		}
		start = i + 1
	}
	return "", "", false
}

// JoinPath joins parent and name.
// - For URIs and virtual roots, it joins using forward slashes.
// - Otherwise it uses filepath.Join.
func JoinPath(parent, name string) string {
	if HasScheme(parent) || strings.HasPrefix(strings.ToLower(parent), ShellPrefix) {
		return strings.TrimRight(parent, "/") + "/" + name
	}
	if strings.HasPrefix(parent, ShellGUIDPrefix) || strings.HasPrefix(strings.ToUpper(parent), ShellUNCPrefix) {
		return strings.TrimRight(parent, `\`) + `\` + name
	}
	return filepath.Join(parent, name)
}

// ParentPath returns the parent of p, or "" when p is a root.
//   - For URIs the authority (scheme://host) is the root.
//   - For virtual paths the first segment is the root.
//   - Otherwise it uses filepath.Dir.
func ParentPath(p string) string {
	if sc, ok := Scheme(p); ok {
		rest := strings.TrimRight(p[len(sc)+len(schemeSeparator):], "/")
		i := strings.LastIndex(rest, "/")
		if i < 0 {
			return ""
		}
		return p[:len(sc)+len(schemeSeparator)] + rest[:i]
	}
	if IsVirtualPath(p) {
		t := strings.TrimRight(p, `/\`)
		i := strings.LastIndexAny(t, `/\`)
		if strings.HasPrefix(strings.ToUpper(t), ShellUNCPrefix) && i < len(ShellUNCPrefix) {
			return ""
		}
		if i < 0 {
			return ""
		}
		return t[:i]
	}
	d := filepath.Dir(p)
	if d == p {
		return ""
	}
	return d
}

// BaseName returns the last segment of p.
// For URIs, it uses URL-style segments; a bare authority returns the host.
func BaseName(p string) string {
	if sc, ok := Scheme(p); ok {
		rest := strings.TrimRight(p[len(sc)+len(schemeSeparator):], "/")
		_, last := path.Split(rest)
		return last
	}
	if IsVirtualPath(p) {
		t := strings.TrimRight(p, `/\`)
		if i := strings.LastIndexAny(t, `/\`); i >= 0 {
			return t[i+1:]
		}
		return t
	}
	return filepath.Base(p)
}
