// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for drivevault. Values resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Google  GoogleConfig  `toml:"google"`
	Backup  BackupConfig  `toml:"backup"`
	Formats FormatsConfig `toml:"formats"`
	Retry   RetryConfig   `toml:"retry"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// GoogleConfig identifies the domain and the service account acting on it.
type GoogleConfig struct {
	Domain     string `toml:"domain"`
	AdminLogin string `toml:"admin_login"`
	// KeyFile is the service account's JSON key.
	KeyFile string `toml:"key_file"`
	// Scopes overrides the OAuth scopes requested; empty means the defaults.
	Scopes []string `toml:"scopes"`
}

// BackupConfig controls where and how documents are stored.
type BackupConfig struct {
	RootDir        string `toml:"root_dir"`
	Backend        string `toml:"backend"`
	Compression    string `toml:"compression"`
	KeepDirs       bool   `toml:"keep_dirs"`
	Streaming      bool   `toml:"streaming"`
	KeepOnCrash    bool   `toml:"keep_on_crash"`
	OwnerOnly      bool   `toml:"owner_only"`
	RetentionDays  int    `toml:"retention_days"`
	ParallelUsers  int    `toml:"parallel_users"`
	ChunkSize      string `toml:"chunk_size"`
	AuthRetryPause string `toml:"auth_retry_pause"`
	MaxFolderDepth int    `toml:"max_folder_depth"`
	// CatalogPath locates the run-history database; empty means the
	// platform data directory.
	CatalogPath string `toml:"catalog_path"`
	// SpoolDir holds temporary spool files of streamed downloads; empty
	// means the system temp directory.
	SpoolDir string `toml:"spool_dir"`
}

// FormatsConfig selects which renditions of a document are downloaded.
// Entries are file extensions ("pdf", ".docx").
type FormatsConfig struct {
	Preferred []string `toml:"preferred"`
	Exclusive []string `toml:"exclusive"`
}

// RetryConfig is the backoff policy applied to every network operation.
type RetryConfig struct {
	Attempts     int     `toml:"attempts"`
	InitialDelay string  `toml:"initial_delay"`
	Factor       float64 `toml:"factor"`
	MaxDelay     string  `toml:"max_delay"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath    string  // --config flag (empty = use default)
	RootDir       *string // --root-dir
	Backend       *string // --backend
	KeepDirs      *bool   // --keep-dirs
	Streaming     *bool   // --streaming
	KeepOnCrash   *bool   // --keep-on-crash
	RetentionDays *int    // --retention-days
	// Preferred and Exclusive are merged with the file's lists.
	Preferred []string
	Exclusive []string
}

// ChunkSizeBytes returns the parsed chunk size. Only meaningful after
// Validate succeeded.
func (b *BackupConfig) ChunkSizeBytes() int64 {
	n, _ := ParseSize(b.ChunkSize)
	return n
}

// AuthRetryPauseDuration returns the parsed pause before re-authorizing.
func (b *BackupConfig) AuthRetryPauseDuration() time.Duration {
	return parseDurationOrZero(b.AuthRetryPause)
}

// CatalogFile returns the catalog database path, defaulting into the data
// directory.
func (b *BackupConfig) CatalogFile() string {
	if b.CatalogPath != "" {
		return b.CatalogPath
	}

	return DefaultCatalogPath()
}

// InitialDelayDuration returns the parsed first backoff delay.
func (r *RetryConfig) InitialDelayDuration() time.Duration {
	return parseDurationOrZero(r.InitialDelay)
}

// MaxDelayDuration returns the parsed backoff cap.
func (r *RetryConfig) MaxDelayDuration() time.Duration {
	return parseDurationOrZero(r.MaxDelay)
}

// TimeoutDuration returns the parsed HTTP timeout.
func (n *NetworkConfig) TimeoutDuration() time.Duration {
	return parseDurationOrZero(n.Timeout)
}

func parseDurationOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
