package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// appName names the per-user directories on every platform.
const appName = "drivevault"

const (
	configFileName  = "config.toml"
	catalogFileName = "catalog.db"
)

// dirKind describes where one class of files lives: an XDG variable and
// its fallback under $HOME on Linux and other Unixes. macOS keeps both
// classes under Application Support.
type dirKind struct {
	xdgEnv   string
	fallback []string
}

var (
	configDirKind = dirKind{xdgEnv: "XDG_CONFIG_HOME", fallback: []string{".config"}}
	dataDirKind   = dirKind{xdgEnv: "XDG_DATA_HOME", fallback: []string{".local", "share"}}
)

func (k dirKind) resolve(goos string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if goos == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if goos == "linux" {
		if xdg := os.Getenv(k.xdgEnv); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	return filepath.Join(append(append([]string{home}, k.fallback...), appName)...)
}

// DefaultConfigDir is ~/.config/drivevault (or $XDG_CONFIG_HOME/drivevault)
// on Linux and ~/Library/Application Support/drivevault on macOS.
func DefaultConfigDir() string {
	return configDirKind.resolve(runtime.GOOS)
}

// DefaultDataDir holds the run catalog: ~/.local/share/drivevault (or
// $XDG_DATA_HOME/drivevault) on Linux.
func DefaultDataDir() string {
	return dataDirKind.resolve(runtime.GOOS)
}

// DefaultConfigPath is used when neither DRIVEVAULT_CONFIG nor --config is
// given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultCatalogPath returns the default run catalog location.
func DefaultCatalogPath() string {
	return filepath.Join(DefaultDataDir(), catalogFileName)
}
