package config

import (
	"fmt"
	"strings"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch cfg.Store.Backend {
	case StoreBadger:
	case StorePostgres:
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.backend=postgres requires store.dsn")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q", StoreBadger, StorePostgres)
	}

	if cfg.SeedSecret == "" {
		return fmt.Errorf("seed secret is required; set %s or seed.secret", SeedSecretEnv)
	}
	if len(cfg.SeedSecret) < 16 {
		return fmt.Errorf("seed secret must be at least 16 characters")
	}

	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain endpoint is required")
	}
	for key, url := range cfg.Chains {
		p, err := chain.Get(key)
		if err != nil {
			return err
		}
		if p.IsTokenAlias {
			return fmt.Errorf("chain.%s is a token alias; configure its base chain %q", key, p.BaseChain)
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("chain.%s endpoint %q must be an http(s) URL", key, url)
		}
	}

	if cfg.Sync.BalanceInterval <= 0 || cfg.Sync.MonitorInterval <= 0 || cfg.Sync.GasInterval <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	return nil
}
