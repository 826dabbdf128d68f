// Package config provides centralized configuration management for cmdhist.
// It loads configuration from environment variables, validates required
// fields, and provides sensible defaults. CLI flags override individual
// fields after loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// StoreMemory selects the in-process history store.
	StoreMemory = "memory"
	// StoreIndexed selects the SQLite full-text history store.
	StoreIndexed = "indexed"

	// DriverSQLite is the pure-Go SQLite driver (unencrypted index files).
	DriverSQLite = "sqlite"
	// DriverSQLCipher encrypts index files with a per-owner derived key.
	DriverSQLCipher = "sqlcipher"

	// DefaultPageSize is the number of records per page on paged backends.
	DefaultPageSize = 50

	// DefaultLargeUpdate is the batch size above which sync prints a notice.
	DefaultLargeUpdate = 50

	defaultSnapshotName = ".cmdhist_history"
	defaultHistoryName  = ".bash_history"
	defaultDataDirName  = ".cmdhist"
	localSnapshotName   = "snapshot"
	defaultAWSRegion    = "auto"
)

// Config holds the client configuration.
type Config struct {
	// Remote store
	URL     string        // CMDHIST_URL
	Token   string        // CMDHIST_TOKEN
	Timeout time.Duration // CMDHIST_TIMEOUT
	RPS     float64       // CMDHIST_RPS, requests per second to the remote

	// Local files
	HistFile     string // HISTFILE
	SnapshotPath string // CMDHIST_SNAPSHOT, last history uploaded to the server
	// LocalSnapshotPath is the last history stored with --local. It is kept
	// apart from SnapshotPath so local syncs never advance the server's.
	LocalSnapshotPath string // CMDHIST_LOCAL_SNAPSHOT, default <data dir>/snapshot

	// Sync
	LargeUpdate int // CMDHIST_LARGE_UPDATE

	LogLevel string // CMDHIST_LOG_LEVEL

	Store StoreConfig
	S3    S3Config
}

// StoreConfig selects and tunes the history store backend.
type StoreConfig struct {
	Type     string // CMDHIST_STORE: memory | indexed
	DataDir  string // CMDHIST_DATA_DIR, one index file per owner lives here
	Driver   string // CMDHIST_INDEX_DRIVER: sqlite | sqlcipher
	IndexKey string // CMDHIST_INDEX_KEY, 64 hex characters, sqlcipher only
	PageSize int    // CMDHIST_PAGE_SIZE
}

// S3Config holds object storage settings for s3:// import sources and
// export sinks. The AWS_ names match what `fly storage create` sets.
type S3Config struct {
	Endpoint        string // AWS_ENDPOINT_URL_S3
	Region          string // AWS_REGION
	AccessKeyID     string // AWS_ACCESS_KEY_ID
	SecretAccessKey string // AWS_SECRET_ACCESS_KEY
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// LoadConfig loads configuration from environment variables and validates
// the parts every command needs. Remote settings are checked separately by
// RequireRemote because local commands do not need them.
func LoadConfig() (*Config, error) {
	home := homeDir()

	cfg := &Config{}

	cfg.URL = strings.TrimRight(strings.TrimSpace(os.Getenv("CMDHIST_URL")), "/")
	cfg.Token = strings.TrimSpace(os.Getenv("CMDHIST_TOKEN"))
	cfg.Timeout = parseDurationOrDefault("CMDHIST_TIMEOUT", 30*time.Second)
	cfg.RPS = parseFloat64OrDefault("CMDHIST_RPS", 10)

	cfg.HistFile = expandHome(getEnvOrDefault("HISTFILE", filepath.Join(home, defaultHistoryName)), home)
	cfg.SnapshotPath = expandHome(getEnvOrDefault("CMDHIST_SNAPSHOT", filepath.Join(home, defaultSnapshotName)), home)

	cfg.LargeUpdate = parseIntOrDefault("CMDHIST_LARGE_UPDATE", DefaultLargeUpdate)
	cfg.LogLevel = getEnvOrDefault("CMDHIST_LOG_LEVEL", "info")

	cfg.Store = StoreConfig{
		Type:     strings.ToLower(getEnvOrDefault("CMDHIST_STORE", StoreMemory)),
		DataDir:  expandHome(getEnvOrDefault("CMDHIST_DATA_DIR", filepath.Join(home, defaultDataDirName)), home),
		Driver:   strings.ToLower(getEnvOrDefault("CMDHIST_INDEX_DRIVER", DriverSQLite)),
		IndexKey: strings.TrimSpace(os.Getenv("CMDHIST_INDEX_KEY")),
		PageSize: parseIntOrDefault("CMDHIST_PAGE_SIZE", DefaultPageSize),
	}
	cfg.LocalSnapshotPath = expandHome(getEnvOrDefault("CMDHIST_LOCAL_SNAPSHOT", filepath.Join(cfg.Store.DataDir, localSnapshotName)), home)

	cfg.S3 = S3Config{
		Endpoint:        strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3")),
		Region:          getEnvOrDefault("AWS_REGION", defaultAWSRegion),
		AccessKeyID:     strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all configured values are usable.
func (c *Config) Validate() error {
	var errs []string

	if c.Timeout <= 0 {
		errs = append(errs, "CMDHIST_TIMEOUT must be positive")
	}
	if c.RPS <= 0 {
		errs = append(errs, "CMDHIST_RPS must be positive")
	}
	if c.LargeUpdate <= 0 {
		errs = append(errs, "CMDHIST_LARGE_UPDATE must be positive")
	}
	if c.HistFile == "" {
		errs = append(errs, "HISTFILE must not be empty")
	}
	if c.SnapshotPath == "" {
		errs = append(errs, "CMDHIST_SNAPSHOT must not be empty")
	}
	if c.LocalSnapshotPath == "" {
		errs = append(errs, "CMDHIST_LOCAL_SNAPSHOT must not be empty")
	} else if filepath.Clean(c.LocalSnapshotPath) == filepath.Clean(c.SnapshotPath) {
		errs = append(errs, "CMDHIST_LOCAL_SNAPSHOT must differ from CMDHIST_SNAPSHOT")
	}

	errs = append(errs, c.Store.problems()...)

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Validate checks the store settings on their own.
func (s StoreConfig) Validate() error {
	if errs := s.problems(); len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func (s StoreConfig) problems() []string {
	var errs []string

	switch s.Type {
	case StoreMemory:
	case StoreIndexed:
		if s.DataDir == "" {
			errs = append(errs, "CMDHIST_DATA_DIR is required for the indexed store")
		}
		switch s.Driver {
		case DriverSQLite:
		case DriverSQLCipher:
			if s.IndexKey == "" {
				errs = append(errs, "CMDHIST_INDEX_KEY is required for sqlcipher (generate with: openssl rand -hex 32)")
			} else if len(s.IndexKey) != 64 {
				errs = append(errs, "CMDHIST_INDEX_KEY must be 64 hex characters (32 bytes)")
			}
		default:
			errs = append(errs, fmt.Sprintf("CMDHIST_INDEX_DRIVER must be %q or %q, got %q", DriverSQLite, DriverSQLCipher, s.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("CMDHIST_STORE must be %q or %q, got %q", StoreMemory, StoreIndexed, s.Type))
	}

	if s.PageSize <= 0 {
		errs = append(errs, "CMDHIST_PAGE_SIZE must be positive")
	}
	return errs
}

// RequireRemote reports whether the remote store is configured. Commands
// that talk to the remote call it before doing any work.
func (c *Config) RequireRemote() error {
	var errs []string
	if c.URL == "" {
		errs = append(errs, "CMDHIST_URL is required (base URL of the history server)")
	} else if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		errs = append(errs, "CMDHIST_URL must start with http:// or https://")
	}
	if c.Token == "" {
		errs = append(errs, "CMDHIST_TOKEN is required (API token issued by the history server)")
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// RequireDurableStore reports whether the local store outlives the process.
// Commands that advance the local snapshot call it before storing anything,
// since a snapshot ahead of a discarded store would skip those lines forever.
func (c *Config) RequireDurableStore() error {
	if c.Store.Type == StoreMemory {
		return &ValidationError{Errors: []string{
			fmt.Sprintf("CMDHIST_STORE=%s is required to sync or import with --local (the %s store is discarded on exit)", StoreIndexed, StoreMemory),
		}}
	}
	return nil
}

// RequireS3 reports whether object storage is usable for s3:// paths.
// Endpoint and keys are optional (AWS S3 and the SDK credential chain are
// the defaults), but the keys come as a pair.
func (c *Config) RequireS3() error {
	var errs []string
	if c.S3.Region == "" {
		errs = append(errs, "AWS_REGION is required for s3:// paths")
	}
	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		errs = append(errs, "AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}
	if c.S3.Endpoint != "" && !strings.HasPrefix(c.S3.Endpoint, "http://") && !strings.HasPrefix(c.S3.Endpoint, "https://") {
		errs = append(errs, "AWS_ENDPOINT_URL_S3 must start with http:// or https://")
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// IsValidationError reports whether err carries configuration problems.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
