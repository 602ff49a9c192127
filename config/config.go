// Package config handles daemon configuration.
//
// Precedence, lowest to highest: defaults, config file, environment,
// command-line flags. The seed secret is only ever read from the
// environment or the config file, never from a flag, so it cannot leak
// through process listings.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

// SeedSecretEnv is the environment variable holding the seed-cipher secret.
const SeedSecretEnv = "KLINGNET_SEED_SECRET"

// StoreBackend selects the persistence implementation.
type StoreBackend string

const (
	StoreBadger   StoreBackend = "badger"
	StorePostgres StoreBackend = "postgres"
)

// Config holds daemon runtime configuration.
type Config struct {
	// Core
	DataDir string `conf:"datadir"`

	// Store
	Store StoreConfig

	// Chains maps chain keys to RPC/REST endpoints. Only base chains take
	// endpoints; token aliases ride their base chain.
	Chains map[chain.Key]string

	// Seed-cipher secret. Loaded from the environment or config file.
	SeedSecret string `conf:"seed.secret"`

	// Sync holds background-job intervals.
	Sync SyncConfig

	// Logging
	Log LogConfig
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Backend StoreBackend `conf:"store.backend"`
	// Dir is the Badger database directory (badger backend).
	Dir string `conf:"store.dir"`
	// DSN is the Postgres connection string (postgres backend).
	DSN string `conf:"store.dsn"`
}

// SyncConfig holds background-job intervals, in seconds.
type SyncConfig struct {
	BalanceInterval int `conf:"sync.balance"`
	MonitorInterval int `conf:"sync.monitor"`
	GasInterval     int `conf:"sync.gas"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-custody
//	macOS:   ~/Library/Application Support/KlingnetCustody
//	Windows: %APPDATA%\KlingnetCustody
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-custody"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetCustody")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetCustody")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetCustody")
	default:
		return filepath.Join(home, ".klingnet-custody")
	}
}

// StoreDir returns the embedded store directory.
func (c *Config) StoreDir() string {
	if c.Store.Dir != "" {
		return c.Store.Dir
	}
	return filepath.Join(c.DataDir, "store")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "custody.conf")
}
