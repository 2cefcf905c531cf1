package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// Format lists from the file and the CLI are merged rather than replaced.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.RootDir != "" {
		cfg.Backup.RootDir = env.RootDir
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	applyCLI(cfg, cli)

	// 5. Validate the final result
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyCLI(cfg *Config, cli CLIOverrides) {
	if cli.RootDir != nil {
		cfg.Backup.RootDir = *cli.RootDir
	}

	if cli.Backend != nil {
		cfg.Backup.Backend = *cli.Backend
	}

	if cli.KeepDirs != nil {
		cfg.Backup.KeepDirs = *cli.KeepDirs
	}

	if cli.Streaming != nil {
		cfg.Backup.Streaming = *cli.Streaming
	}

	if cli.KeepOnCrash != nil {
		cfg.Backup.KeepOnCrash = *cli.KeepOnCrash
	}

	if cli.RetentionDays != nil {
		cfg.Backup.RetentionDays = *cli.RetentionDays
	}

	cfg.Formats.Preferred = MergeFormats(cfg.Formats.Preferred, cli.Preferred)
	cfg.Formats.Exclusive = MergeFormats(cfg.Formats.Exclusive, cli.Exclusive)
}

// MergeFormats returns the union of the format lists, normalized to
// lower-case extensions without a leading dot, in first-seen order.
func MergeFormats(lists ...[]string) []string {
	seen := make(map[string]struct{})

	var out []string

	for _, list := range lists {
		for _, f := range list {
			f = normalizeFormat(f)
			if f == "" {
				continue
			}

			if _, dup := seen[f]; dup {
				continue
			}

			seen[f] = struct{}{}
			out = append(out, f)
		}
	}

	return out
}

func normalizeFormat(f string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(f)), ".")
}

// Require fails when any of the named settings is empty. Names use the
// file's dotted form ("google.domain").
func (c *Config) Require(keys ...string) error {
	var errs []error

	for _, key := range keys {
		v, known := c.lookup(key)
		if !known {
			errs = append(errs, fmt.Errorf("unknown config key %q", key))
			continue
		}

		if v == "" {
			errs = append(errs, fmt.Errorf("%s: required but not set", key))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) lookup(key string) (string, bool) {
	switch key {
	case "google.domain":
		return c.Google.Domain, true
	case "google.admin_login":
		return c.Google.AdminLogin, true
	case "google.key_file":
		return c.Google.KeyFile, true
	case "backup.root_dir":
		return c.Backup.RootDir, true
	case "backup.catalog_path":
		return c.Backup.CatalogFile(), true
	default:
		return "", false
	}
}
