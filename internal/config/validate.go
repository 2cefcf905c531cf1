package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Validation range constants.
const (
	minParallelUsers  = 1
	maxParallelUsers  = 64
	minChunkBytes     = 4 * 1024
	maxChunkBytes     = 64 * 1024 * 1024
	minFolderDepth    = 1
	maxFolderDepth    = 1000
	minAttempts       = 1
	maxAttempts       = 20
	minFactor         = 1.0
	maxRetentionDays  = 36500
	minNetworkTimeout = 1 * time.Second
)

var (
	validBackends     = []string{"plain", "archive"}
	validCompressions = []string{"gzip", "gz", "bzip2", "bz2"}
	validLogLevels    = []string{"debug", "info", "warn", "error"}
	validLogFormats   = []string{"auto", "text", "json"}
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass. Required settings are checked
// separately by Require, since not every command needs them.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateGoogle(&cfg.Google)...)
	errs = append(errs, validateBackup(&cfg.Backup)...)
	errs = append(errs, validateFormats(&cfg.Formats)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateGoogle(g *GoogleConfig) []error {
	var errs []error

	if strings.Contains(g.Domain, "@") {
		errs = append(errs, fmt.Errorf("google.domain: must be a bare domain, got %q", g.Domain))
	}

	if strings.Contains(g.AdminLogin, "@") {
		errs = append(errs, fmt.Errorf("google.admin_login: must be a login without domain, got %q", g.AdminLogin))
	}

	for _, s := range g.Scopes {
		if !strings.HasPrefix(s, "https://") {
			errs = append(errs, fmt.Errorf("google.scopes: %q is not a scope URL", s))
		}
	}

	return errs
}

func validateBackup(b *BackupConfig) []error {
	var errs []error

	errs = append(errs, oneOf("backup.backend", strings.ToLower(b.Backend), validBackends)...)
	errs = append(errs, oneOf("backup.compression", strings.ToLower(b.Compression), validCompressions)...)

	if b.RetentionDays < 0 || b.RetentionDays > maxRetentionDays {
		errs = append(errs, fmt.Errorf("backup.retention_days: must be between 0 and %d, got %d",
			maxRetentionDays, b.RetentionDays))
	}

	if b.ParallelUsers < minParallelUsers || b.ParallelUsers > maxParallelUsers {
		errs = append(errs, fmt.Errorf("backup.parallel_users: must be between %d and %d, got %d",
			minParallelUsers, maxParallelUsers, b.ParallelUsers))
	}

	if n, err := ParseSize(b.ChunkSize); err != nil {
		errs = append(errs, fmt.Errorf("backup.chunk_size: %w", err))
	} else if n < minChunkBytes || n > maxChunkBytes {
		errs = append(errs, fmt.Errorf("backup.chunk_size: must be between 4KiB and 64MiB, got %q", b.ChunkSize))
	}

	if d, err := time.ParseDuration(b.AuthRetryPause); err != nil {
		errs = append(errs, fmt.Errorf("backup.auth_retry_pause: %w", err))
	} else if d < 0 {
		errs = append(errs, fmt.Errorf("backup.auth_retry_pause: must not be negative, got %s", d))
	}

	if b.MaxFolderDepth < minFolderDepth || b.MaxFolderDepth > maxFolderDepth {
		errs = append(errs, fmt.Errorf("backup.max_folder_depth: must be between %d and %d, got %d",
			minFolderDepth, maxFolderDepth, b.MaxFolderDepth))
	}

	return errs
}

func validateFormats(f *FormatsConfig) []error {
	var errs []error

	for _, list := range []struct {
		key   string
		items []string
	}{{"formats.preferred", f.Preferred}, {"formats.exclusive", f.Exclusive}} {
		for _, item := range list.items {
			if n := normalizeFormat(item); n == "" || strings.ContainsAny(n, "/\\ .") {
				errs = append(errs, fmt.Errorf("%s: invalid extension %q", list.key, item))
			}
		}
	}

	if len(f.Exclusive) == 0 {
		return errs
	}

	exclusive := MergeFormats(f.Exclusive)

	for _, p := range MergeFormats(f.Preferred) {
		if !slices.Contains(exclusive, p) {
			errs = append(errs, fmt.Errorf("formats.preferred: %q is not among the exclusive formats", p))
		}
	}

	return errs
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	if r.Attempts < minAttempts || r.Attempts > maxAttempts {
		errs = append(errs, fmt.Errorf("retry.attempts: must be between %d and %d, got %d",
			minAttempts, maxAttempts, r.Attempts))
	}

	if r.Factor < minFactor {
		errs = append(errs, fmt.Errorf("retry.factor: must be at least %.1f, got %g", minFactor, r.Factor))
	}

	initial, err := positiveDuration("retry.initial_delay", r.InitialDelay)
	if err != nil {
		errs = append(errs, err)
	}

	maxDelay, err := positiveDuration("retry.max_delay", r.MaxDelay)
	if err != nil {
		errs = append(errs, err)
	}

	if initial > 0 && maxDelay > 0 && maxDelay < initial {
		errs = append(errs, fmt.Errorf("retry.max_delay: %s is shorter than initial_delay %s", maxDelay, initial))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, oneOf("logging.log_level", strings.ToLower(l.LogLevel), validLogLevels)...)
	errs = append(errs, oneOf("logging.log_format", strings.ToLower(l.LogFormat), validLogFormats)...)

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	d, err := positiveDuration("network.timeout", n.Timeout)
	if err != nil {
		return []error{err}
	}

	if d < minNetworkTimeout {
		return []error{fmt.Errorf("network.timeout: must be at least %s, got %s", minNetworkTimeout, d)}
	}

	return nil
}

func oneOf(key, value string, valid []string) []error {
	if slices.Contains(valid, value) {
		return nil
	}

	return []error{fmt.Errorf("%s: must be one of %s, got %q", key, strings.Join(valid, ", "), value)}
}

func positiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, d)
	}

	return d, nil
}
