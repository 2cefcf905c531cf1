package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultsAreValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"domain with at", func(c *Config) { c.Google.Domain = "admin@example.com" }, "google.domain"},
		{"admin with domain", func(c *Config) { c.Google.AdminLogin = "admin@example.com" }, "google.admin_login"},
		{"scope not url", func(c *Config) { c.Google.Scopes = []string{"drive"} }, "google.scopes"},
		{"backend", func(c *Config) { c.Backup.Backend = "tape" }, "backup.backend"},
		{"compression", func(c *Config) { c.Backup.Compression = "xz" }, "backup.compression"},
		{"negative retention", func(c *Config) { c.Backup.RetentionDays = -1 }, "backup.retention_days"},
		{"zero parallel", func(c *Config) { c.Backup.ParallelUsers = 0 }, "backup.parallel_users"},
		{"too many parallel", func(c *Config) { c.Backup.ParallelUsers = 65 }, "backup.parallel_users"},
		{"chunk garbage", func(c *Config) { c.Backup.ChunkSize = "lots" }, "backup.chunk_size"},
		{"chunk tiny", func(c *Config) { c.Backup.ChunkSize = "1KiB" }, "backup.chunk_size"},
		{"chunk huge", func(c *Config) { c.Backup.ChunkSize = "1GiB" }, "backup.chunk_size"},
		{"pause garbage", func(c *Config) { c.Backup.AuthRetryPause = "soon" }, "backup.auth_retry_pause"},
		{"pause negative", func(c *Config) { c.Backup.AuthRetryPause = "-1s" }, "backup.auth_retry_pause"},
		{"folder depth", func(c *Config) { c.Backup.MaxFolderDepth = 0 }, "backup.max_folder_depth"},
		{"bad extension", func(c *Config) { c.Formats.Preferred = []string{"tar.gz"} }, "formats.preferred"},
		{"preferred outside exclusive", func(c *Config) {
			c.Formats.Preferred = []string{"pdf"}
			c.Formats.Exclusive = []string{"docx"}
		}, "not among the exclusive formats"},
		{"attempts", func(c *Config) { c.Retry.Attempts = 0 }, "retry.attempts"},
		{"factor", func(c *Config) { c.Retry.Factor = 0.5 }, "retry.factor"},
		{"initial delay", func(c *Config) { c.Retry.InitialDelay = "0s" }, "retry.initial_delay"},
		{"max below initial", func(c *Config) {
			c.Retry.InitialDelay = "10s"
			c.Retry.MaxDelay = "1s"
		}, "shorter than initial_delay"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "verbose" }, "logging.log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
		{"timeout", func(c *Config) { c.Network.Timeout = "500ms" }, "network.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CaseInsensitiveEnums(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backup.Backend = "Archive"
	cfg.Backup.Compression = "BZ2"
	cfg.Logging.LogLevel = "WARN"

	assert.NoError(t, Validate(cfg))
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backup.Backend = "tape"
	cfg.Retry.Attempts = 0
	cfg.Network.Timeout = "forever"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup.backend")
	assert.Contains(t, err.Error(), "retry.attempts")
	assert.Contains(t, err.Error(), "network.timeout")
}

func TestValidate_FormatsAcceptDotsAndCase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Formats.Preferred = []string{".PDF"}
	cfg.Formats.Exclusive = []string{"pdf", ".docx"}

	assert.NoError(t, Validate(cfg))
}
