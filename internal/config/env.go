package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "DRIVEVAULT_CONFIG"
	EnvRootDir = "DRIVEVAULT_ROOT_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // DRIVEVAULT_CONFIG: override config file path
	RootDir    string // DRIVEVAULT_ROOT_DIR: backup root override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		RootDir:    os.Getenv(EnvRootDir),
	}
}
