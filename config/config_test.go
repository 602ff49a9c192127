package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

func validConfig() *Config {
	cfg := Default()
	cfg.SeedSecret = "unit-test-seed-secret-0123456789"
	return cfg
}

func TestDefaultIsValidWithSecret(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("Validate(default + secret): %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing secret", func(c *Config) { c.SeedSecret = "" }, "seed secret is required"},
		{"short secret", func(c *Config) { c.SeedSecret = "short" }, "at least 16 characters"},
		{"bad backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = StorePostgres }, "requires store.dsn"},
		{"no chains", func(c *Config) { c.Chains = nil }, "at least one chain"},
		{"alias endpoint", func(c *Config) { c.Chains[chain.USDT] = "https://x" }, "token alias"},
		{"non-http endpoint", func(c *Config) { c.Chains[chain.Sepolia] = "ws://x" }, "http(s)"},
		{"unknown chain", func(c *Config) { c.Chains["dogecoin"] = "https://x" }, "unsupported chain"},
		{"zero interval", func(c *Config) { c.Sync.MonitorInterval = 0 }, "sync intervals"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("LoadFile(missing): %v", err)
	}
	if len(values) != 0 {
		t.Errorf("missing file yielded %d values", len(values))
	}
}

func TestLoadFileParsing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.conf")
	content := `# comment
store.backend = badger

log.level = "debug"
seed.secret = 'quoted secret value'
chain.sepolia = https://rpc.example.org
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := map[string]string{
		"store.backend": "badger",
		"log.level":     "debug",
		"seed.secret":   "quoted secret value",
		"chain.sepolia": "https://rpc.example.org",
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("values[%q] = %q, want %q", k, values[k], v)
		}
	}
}

func TestLoadFileRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.conf")
	if err := os.WriteFile(path, []byte("no equals sign here\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyFileConfig(t *testing.T) {
	cfg := Default()
	err := ApplyFileConfig(cfg, map[string]string{
		"store.backend": "postgres",
		"store.dsn":     "postgres://u:p@localhost/custody",
		"seed.secret":   "file-provided-secret-value",
		"sync.balance":  "120",
		"log.json":      "yes",
		"chain.bitcoin": "https://blockstream.info/api",
	})
	if err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.Store.Backend != StorePostgres {
		t.Errorf("backend = %s", cfg.Store.Backend)
	}
	if cfg.Store.DSN != "postgres://u:p@localhost/custody" {
		t.Errorf("dsn = %s", cfg.Store.DSN)
	}
	if cfg.Sync.BalanceInterval != 120 {
		t.Errorf("balance interval = %d", cfg.Sync.BalanceInterval)
	}
	if !cfg.Log.JSON {
		t.Error("log.json not applied")
	}
	if cfg.Chains[chain.Bitcoin] != "https://blockstream.info/api" {
		t.Errorf("bitcoin endpoint = %s", cfg.Chains[chain.Bitcoin])
	}
	// Defaults not named in the file survive.
	if cfg.Chains[chain.Sepolia] == "" {
		t.Error("default sepolia endpoint was lost")
	}
}

func TestApplyFileConfigUnknownKey(t *testing.T) {
	cfg := Default()
	if err := ApplyFileConfig(cfg, map[string]string{"store.flavor": "x"}); err == nil {
		t.Fatal("expected unknown-key error")
	}
	if err := ApplyFileConfig(cfg, map[string]string{"chain.dogecoin": "https://x"}); err == nil {
		t.Fatal("expected unknown-chain error")
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "yes", "on", "1"} {
		if !parseBool(v) {
			t.Errorf("parseBool(%q) = false", v)
		}
	}
	for _, v := range []string{"false", "no", "off", "0", ""} {
		if parseBool(v) {
			t.Errorf("parseBool(%q) = true", v)
		}
	}
}

func TestFlagsApply(t *testing.T) {
	cfg := validConfig()
	f := &Flags{
		DataDir:      "/tmp/custody-data",
		StoreBackend: "postgres",
		StoreDSN:     "postgres://u:p@localhost/custody",
		LogLevel:     "debug",
		Chains:       "sepolia=https://rpc.alt.example,bitcoin=https://esplora.example/api",
	}
	if err := Apply(cfg, f); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if cfg.DataDir != "/tmp/custody-data" {
		t.Errorf("datadir = %s", cfg.DataDir)
	}
	if cfg.Store.Backend != StorePostgres {
		t.Errorf("backend = %s", cfg.Store.Backend)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %s", cfg.Log.Level)
	}
	if cfg.Chains[chain.Sepolia] != "https://rpc.alt.example" {
		t.Errorf("sepolia endpoint = %s", cfg.Chains[chain.Sepolia])
	}
	if cfg.Chains[chain.Bitcoin] != "https://esplora.example/api" {
		t.Errorf("bitcoin endpoint = %s", cfg.Chains[chain.Bitcoin])
	}
}

func TestFlagsApplyBadChainPair(t *testing.T) {
	cfg := validConfig()
	if err := Apply(cfg, &Flags{Chains: "sepolia"}); err == nil {
		t.Fatal("expected error for malformed chain pair")
	}
	if err := Apply(cfg, &Flags{Chains: "dogecoin=https://x"}); err == nil {
		t.Fatal("expected error for unknown chain")
	}
}

func TestWriteDefaultFileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custody.conf")
	if err := WriteDefaultFile(path); err != nil {
		t.Fatalf("WriteDefaultFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %o, want 0600", info.Mode().Perm())
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg := Default()
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig(default file): %v", err)
	}
}
