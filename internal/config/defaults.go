package config

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultBackend        = "plain"
	defaultCompression    = "gzip"
	defaultParallelUsers  = 1
	defaultChunkSize      = "1MiB"
	defaultAuthRetryPause = "5s"
	defaultMaxFolderDepth = 100
	defaultAttempts       = 3
	defaultInitialDelay   = "1s"
	defaultFactor         = 2.0
	defaultMaxDelay       = "60s"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultTimeout        = "5m"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Backup: BackupConfig{
			Backend:        defaultBackend,
			Compression:    defaultCompression,
			ParallelUsers:  defaultParallelUsers,
			ChunkSize:      defaultChunkSize,
			AuthRetryPause: defaultAuthRetryPause,
			MaxFolderDepth: defaultMaxFolderDepth,
		},
		Retry: RetryConfig{
			Attempts:     defaultAttempts,
			InitialDelay: defaultInitialDelay,
			Factor:       defaultFactor,
			MaxDelay:     defaultMaxDelay,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			Timeout: defaultTimeout,
		},
	}
}
