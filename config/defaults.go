package config

import "github.com/Klingon-tech/klingnet-custody/internal/chain"

// Default returns the default daemon configuration. Chain endpoints default
// to public testnet nodes so a fresh install can run without touching real
// funds; operators point them at their own infrastructure for mainnet.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Store: StoreConfig{
			Backend: StoreBadger,
		},
		Chains: map[chain.Key]string{
			chain.Sepolia:        "https://rpc.sepolia.org",
			chain.BitcoinTestnet: "https://blockstream.info/testnet/api",
			chain.SolanaDevnet:   "https://api.devnet.solana.com",
			chain.TronShasta:     "https://api.shasta.trongrid.io",
		},
		Sync: SyncConfig{
			BalanceInterval: 300,
			MonitorInterval: 30,
			GasInterval:     60,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
