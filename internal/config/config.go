package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/ianaindex"

	"nmfstore/internal/constants"
	apperrors "nmfstore/internal/errors"
)

// Config represents the application configuration
type Config struct {
	Archive ArchiveConfig `json:"archive"`
	Network NetworkConfig `json:"network"`
	Shell   ShellConfig   `json:"shell"`
	Log     LogConfig     `json:"log"`
}

// ArchiveConfig represents archive adapter settings
type ArchiveConfig struct {
	Extensions     []string `json:"extensions"`     // Browsable container extensions, lower case with dot
	IndexCacheSize int      `json:"indexCacheSize"` // Number of archive indexes kept in memory
	TextEncoding   string   `json:"textEncoding"`   // IANA name for legacy zip file names, "" = UTF-8
	ScratchDir     string   `json:"scratchDir"`     // Where entry spools and rewrite temp files go, "" = OS temp
}

// NetworkConfig represents network adapter settings
type NetworkConfig struct {
	Schemes            []string `json:"schemes"`
	DialTimeoutSeconds int      `json:"dialTimeoutSeconds"`
	MaxConnsPerHost    int      `json:"maxConnsPerHost"`
	AnonymousFTP       bool     `json:"anonymousFTP"` // Try anonymous login before prompting
	S3Region           string   `json:"s3Region"`
	S3Endpoint         string   `json:"s3Endpoint"` // Custom endpoint (MinIO etc.), forces path-style
	PersistCredentials bool     `json:"persistCredentials"`
}

// ShellConfig represents virtual namespace settings
type ShellConfig struct {
	TrashDir     string            `json:"trashDir"`     // "" = $XDG_DATA_HOME/Trash
	LibraryDB    string            `json:"libraryDB"`    // "" = next to the config file
	KnownFolders map[string]string `json:"knownFolders"` // Overrides for shell:<Name> targets
}

// LogConfig represents logging settings
type LogConfig struct {
	Level string `json:"level"` // logrus level name
}

// Loader is what the registry needs from a configuration source
type Loader interface {
	Load() (*Config, error)
	Save(*Config) error
	Path() string
}

var _ Loader = (*Manager)(nil)

// Manager provides configuration management functionality
type Manager struct {
	configPath string
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{
		configPath: getConfigPath(),
	}
}

// NewManagerAt creates a manager bound to an explicit file
func NewManagerAt(path string) *Manager {
	return &Manager{configPath: path}
}

// Path returns the configuration file location
func (m *Manager) Path() string {
	return m.configPath
}

// Load loads configuration from file and merges with defaults
func (m *Manager) Load() (*Config, error) {
	config := getDefaultConfig()

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		logrus.WithField("path", m.configPath).Debugf("Config file not found, using defaults: %v", err)
		return config, nil
	}

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, apperrors.NewConfigError("load_config", "error parsing config file", err)
	}

	mergeConfigs(config, &fileConfig)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves configuration to file
func (m *Manager) Save(config *Config) error {
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Validate rejects values the adapters cannot work with
func (c *Config) Validate() error {
	if c.Archive.IndexCacheSize <= 0 {
		return apperrors.NewConfigError("validate", "archive.indexCacheSize must be positive", nil)
	}
	if c.Network.MaxConnsPerHost <= 0 {
		return apperrors.NewConfigError("validate", "network.maxConnsPerHost must be positive", nil)
	}
	if c.Network.DialTimeoutSeconds <= 0 {
		return apperrors.NewConfigError("validate", "network.dialTimeoutSeconds must be positive", nil)
	}
	if c.Archive.TextEncoding != "" {
		if enc, err := ianaindex.IANA.Encoding(c.Archive.TextEncoding); err != nil || enc == nil {
			return apperrors.NewConfigError("validate", "unknown archive.textEncoding "+c.Archive.TextEncoding, err)
		}
	}
	if c.Log.Level != "" {
		if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
			return apperrors.NewConfigError("validate", "invalid log.level", err)
		}
	}
	for _, ext := range c.Archive.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return apperrors.NewConfigError("validate", "archive extension must start with a dot: "+ext, nil)
		}
	}
	return nil
}

// getDefaultConfig returns the default configuration
func getDefaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			Extensions:     append([]string(nil), constants.DefaultArchiveExtensions...),
			IndexCacheSize: constants.DefaultIndexCacheSize,
		},
		Network: NetworkConfig{
			Schemes:            append([]string(nil), constants.DefaultNetworkSchemes...),
			DialTimeoutSeconds: int(constants.DefaultDialTimeout.Seconds()),
			MaxConnsPerHost:    constants.DefaultMaxConnsPerHost,
			AnonymousFTP:       true,
			PersistCredentials: true,
		},
		Shell: ShellConfig{
			KnownFolders: make(map[string]string),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// getConfigPath returns the path to the configuration file following OS conventions
func getConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		// Windows: %APPDATA%\nekomimist\nmf\storage.json
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return constants.ConfigFileName
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "nekomimist", "nmf")

	case "darwin":
		// macOS: ~/Library/Application Support/nekomimist/nmf/storage.json
		home, err := os.UserHomeDir()
		if err != nil {
			return constants.ConfigFileName
		}
		configDir = filepath.Join(home, "Library", "Application Support", "nekomimist", "nmf")

	default:
		// Linux/Unix: $XDG_CONFIG_HOME/nekomimist/nmf/storage.json or ~/.config/nekomimist/nmf/storage.json
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return constants.ConfigFileName
			}
			xdgConfigHome = filepath.Join(home, ".config")
		}
		configDir = filepath.Join(xdgConfigHome, "nekomimist", "nmf")
	}

	return filepath.Join(configDir, constants.ConfigFileName)
}

// mergeConfigs merges file config values into default config
func mergeConfigs(defaultConfig *Config, fileConfig *Config) {
	// Merge Archive config
	if len(fileConfig.Archive.Extensions) > 0 {
		defaultConfig.Archive.Extensions = normalizeExtensions(fileConfig.Archive.Extensions)
	}
	if fileConfig.Archive.IndexCacheSize != 0 {
		defaultConfig.Archive.IndexCacheSize = fileConfig.Archive.IndexCacheSize
	}
	if fileConfig.Archive.TextEncoding != "" {
		defaultConfig.Archive.TextEncoding = fileConfig.Archive.TextEncoding
	}
	if fileConfig.Archive.ScratchDir != "" {
		defaultConfig.Archive.ScratchDir = fileConfig.Archive.ScratchDir
	}

	// Merge Network config
	if len(fileConfig.Network.Schemes) > 0 {
		defaultConfig.Network.Schemes = fileConfig.Network.Schemes
	}
	if fileConfig.Network.DialTimeoutSeconds != 0 {
		defaultConfig.Network.DialTimeoutSeconds = fileConfig.Network.DialTimeoutSeconds
	}
	if fileConfig.Network.MaxConnsPerHost != 0 {
		defaultConfig.Network.MaxConnsPerHost = fileConfig.Network.MaxConnsPerHost
	}
	// Note: for bool values, we can't distinguish between false and unset, so we always use file value
	defaultConfig.Network.AnonymousFTP = fileConfig.Network.AnonymousFTP
	defaultConfig.Network.PersistCredentials = fileConfig.Network.PersistCredentials
	if fileConfig.Network.S3Region != "" {
		defaultConfig.Network.S3Region = fileConfig.Network.S3Region
	}
	if fileConfig.Network.S3Endpoint != "" {
		defaultConfig.Network.S3Endpoint = fileConfig.Network.S3Endpoint
	}

	// Merge Shell config
	if fileConfig.Shell.TrashDir != "" {
		defaultConfig.Shell.TrashDir = fileConfig.Shell.TrashDir
	}
	if fileConfig.Shell.LibraryDB != "" {
		defaultConfig.Shell.LibraryDB = fileConfig.Shell.LibraryDB
	}
	for name, target := range fileConfig.Shell.KnownFolders {
		defaultConfig.Shell.KnownFolders[name] = target
	}

	if fileConfig.Log.Level != "" {
		defaultConfig.Log.Level = fileConfig.Log.Level
	}
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// LibraryDBPath returns the bbolt file holding library definitions
func (c *Config) LibraryDBPath(configPath string) string {
	if c.Shell.LibraryDB != "" {
		return c.Shell.LibraryDB
	}
	return filepath.Join(filepath.Dir(configPath), constants.LibraryDBFileName)
}
