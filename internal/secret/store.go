package secret

// Credential is a username/password pair, optionally scoped to a Windows domain.
type Credential struct {
	Domain   string
	User     string
	Password string
}

// Store abstracts a secure credentials store (e.g., OS keyring).
// Targets are opaque strings such as "ftp://host:21" or "smb://host/share".
// Implementations should be safe to call from multiple goroutines.
type Store interface {
	Get(target string) (c Credential, found bool, err error)
	Set(target string, c Credential) error
	Delete(target string) error
}
