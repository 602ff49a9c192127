package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

// Flags holds parsed command-line flags for the daemon.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string

	// Store
	StoreBackend string
	StoreDir     string
	StoreDSN     string

	// Chain endpoints as comma-separated key=url pairs.
	Chains string

	// Sync intervals (seconds)
	BalanceInterval int
	MonitorInterval int
	GasInterval     int

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetLogJSON bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("custodyd", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Store
	fs.StringVar(&f.StoreBackend, "store", "", "Store backend (badger or postgres)")
	fs.StringVar(&f.StoreDir, "store-dir", "", "Badger database directory")
	fs.StringVar(&f.StoreDSN, "store-dsn", "", "Postgres connection string")

	// Chains
	fs.StringVar(&f.Chains, "chains", "", "Chain endpoints as comma-separated key=url pairs")

	// Sync
	fs.IntVar(&f.BalanceInterval, "sync-balance", 0, "Balance sync interval in seconds")
	fs.IntVar(&f.MonitorInterval, "sync-monitor", 0, "Transaction monitor interval in seconds")
	fs.IntVar(&f.GasInterval, "sync-gas", 0, "Gas sampling interval in seconds")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = Usage

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "log-json" {
			f.SetLogJSON = true
		}
	})
	f.Args = fs.Args()
	return f
}

// Apply overlays parsed flags onto a Config.
func Apply(cfg *Config, f *Flags) error {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.StoreBackend != "" {
		cfg.Store.Backend = StoreBackend(f.StoreBackend)
	}
	if f.StoreDir != "" {
		cfg.Store.Dir = f.StoreDir
	}
	if f.StoreDSN != "" {
		cfg.Store.DSN = f.StoreDSN
	}
	if f.Chains != "" {
		for _, pair := range strings.Split(f.Chains, ",") {
			key, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				return fmt.Errorf("invalid -chains entry %q (expected key=url)", pair)
			}
			if _, err := chain.Get(chain.Key(key)); err != nil {
				return err
			}
			if cfg.Chains == nil {
				cfg.Chains = make(map[chain.Key]string)
			}
			cfg.Chains[chain.Key(key)] = url
		}
	}
	if f.BalanceInterval > 0 {
		cfg.Sync.BalanceInterval = f.BalanceInterval
	}
	if f.MonitorInterval > 0 {
		cfg.Sync.MonitorInterval = f.MonitorInterval
	}
	if f.GasInterval > 0 {
		cfg.Sync.GasInterval = f.GasInterval
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
	return nil
}

// Load builds the effective configuration: defaults, then the config file,
// then the environment, then flags.
func Load(f *Flags) (*Config, error) {
	cfg := Default()
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	path := f.Config
	if path == "" {
		path = cfg.ConfigFile()
	}
	values, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		return nil, err
	}

	if secret := os.Getenv(SeedSecretEnv); secret != "" {
		cfg.SeedSecret = secret
	}

	if err := Apply(cfg, f); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Usage prints the daemon's flag help to stderr.
func Usage() {
	fmt.Fprintf(os.Stderr, `custodyd - multi-chain HD custody engine

Usage:
  custodyd [flags]

Flags:
  -h, -help             Show this help message
  -v, -version          Show version information
  -datadir <path>       Data directory
  -c, -config <path>    Config file path
  -store <backend>      Store backend: badger or postgres
  -store-dir <path>     Badger database directory
  -store-dsn <dsn>      Postgres connection string
  -chains <pairs>       Chain endpoints, e.g. ethereum=https://...,tron=https://...
  -sync-balance <sec>   Balance sync interval
  -sync-monitor <sec>   Transaction monitor interval
  -sync-gas <sec>       Gas sampling interval
  -log-level <level>    Log level (debug, info, warn, error)
  -log-file <path>      Log file path
  -log-json             Output logs as JSON

The seed-cipher secret is read from the %s environment
variable or the seed.secret config key, never from a flag.
`, SeedSecretEnv)
}
