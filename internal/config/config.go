// Package config provides the configuration schema, loader, file watcher and
// store backend registry of the votevoice server.
package config

import (
	"log/slog"
	"slices"
	"time"

	"github.com/MrWong99/votevoice/internal/election"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Backend names a document store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// Backends lists every backend [Validate] accepts.
var Backends = []Backend{BackendMemory, BackendPostgres, BackendSQLite}

// IsValid reports whether b is a known backend.
func (b Backend) IsValid() bool { return slices.Contains(Backends, b) }

// NeedsDSN reports whether b requires a connection string.
func (b Backend) NeedsDSN() bool { return b == BackendPostgres || b == BackendSQLite }

// Config is the root configuration, typically loaded with [Load].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Blob     BlobConfig     `yaml:"blob"`
	Dialogue DialogueConfig `yaml:"dialogue"`
	Election ElectionConfig `yaml:"election"`
}

// ServerConfig holds network, logging and admin settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP server (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// AdminToken guards the admin API. Empty disables it.
	AdminToken string `yaml:"admin_token"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists host patterns accepted on the voice WebSocket
	// in addition to the server's own host.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Backend Backend `yaml:"backend"`

	// DSN is a postgres:// URL for postgres or a file name for sqlite.
	DSN string `yaml:"dsn"`
}

// BlobConfig configures uploaded file storage.
type BlobConfig struct {
	// Dir is where uploads are written. It is also served under /files/.
	Dir string `yaml:"dir"`

	// BaseURL prefixes the download URLs handed to devices.
	BaseURL string `yaml:"base_url"`
}

// DialogueConfig tunes voice sessions. It is the only section applied
// without a restart.
type DialogueConfig struct {
	Language        string        `yaml:"language"`
	InterimResults  bool          `yaml:"interim_results"`
	MaxAlternatives int           `yaml:"max_alternatives"`
	MaxRetries      int           `yaml:"max_retries"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// ElectionConfig parameterises the election itself.
type ElectionConfig struct {
	AdminEmail       string   `yaml:"admin_email"`
	Positions        []string `yaml:"positions"`
	ReportCategories []string `yaml:"report_categories"`
}

// Default returns the configuration used for every key a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			LogLevel:        LogInfo,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{Backend: BackendMemory},
		Blob: BlobConfig{
			Dir:     "./uploads",
			BaseURL: "http://localhost:8080/files",
		},
		Dialogue: DialogueConfig{
			Language:        "en-US",
			InterimResults:  true,
			MaxAlternatives: 1,
			MaxRetries:      2,
			WriteTimeout:    10 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
		Election: ElectionConfig{
			Positions:        slices.Clone(election.DefaultPositions),
			ReportCategories: slices.Clone(election.DefaultReportCategories),
		},
	}
}
