package constants

import "time"

// Application constants
const (
	ApplicationName  = "nmfstore"
	ApplicationTitle = "Storage Tool"
)

// Configuration constants
const (
	ConfigFileName    = "storage.json"
	LibraryDBFileName = "libraries.db"
)

// Archive adapter defaults
var DefaultArchiveExtensions = []string{".zip", ".7z", ".rar", ".tar", ".gz", ".lzh", ".mrpack", ".jar"}

const (
	DefaultIndexCacheSize = 32
	// Entries larger than this are spooled to disk instead of memory when opened
	SpoolThreshold = 8 << 20
)

// Network adapter defaults
var DefaultNetworkSchemes = []string{"ftp", "ftps", "smb", "s3"}

const (
	DefaultDialTimeout     = 15 * time.Second
	DefaultMaxConnsPerHost = 4
	IdleConnTimeout        = 90 * time.Second
	AnonymousFTPUser       = "anonymous"
	AnonymousFTPPassword   = "anonymous@"
	KeyringServiceName     = "nmf"
)

// File size constants
const (
	FileSizeUnit  = 1024
	FileSizeUnits = "KMGTPE"
)

// Query defaults
const (
	// MaxItemsUnlimited disables the page size limit
	MaxItemsUnlimited = 0
)

// File system constants
const (
	RootPath            = "/"
	ParentDirectoryName = ".."
	TrashInfoExtension  = ".trashinfo"
	TrashInfoTimeLayout = "2006-01-02T15:04:05"
)
