package chain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnsupportedChain is returned for chain keys not present in the registry.
var ErrUnsupportedChain = errors.New("unsupported chain")

// registry is the static table of supported chains and token aliases.
// Keys are lowercase; lookups are case-insensitive.
var registry = map[Key]Params{
	Ethereum: {
		Key: Ethereum, Name: "Ethereum", Symbol: "ETH", Family: FamilyEVM,
		CoinType: 60, Decimals: 18, ChainID: 1,
		Explorer:    "https://etherscan.io",
		WithdrawFee: "0.0005", MinWithdraw: "0.01",
	},
	Sepolia: {
		Key: Sepolia, Name: "Sepolia", Symbol: "ETH", Family: FamilyEVM,
		CoinType: 60, Decimals: 18, ChainID: 11155111, Testnet: true,
		Explorer:    "https://sepolia.etherscan.io",
		WithdrawFee: "0.0005", MinWithdraw: "0.001",
	},
	BSC: {
		Key: BSC, Name: "BNB Smart Chain", Symbol: "BNB", Family: FamilyEVM,
		CoinType: 60, Decimals: 18, ChainID: 56,
		Explorer:    "https://bscscan.com",
		WithdrawFee: "0.0002", MinWithdraw: "0.002",
	},
	Polygon: {
		Key: Polygon, Name: "Polygon", Symbol: "POL", Family: FamilyEVM,
		CoinType: 60, Decimals: 18, ChainID: 137,
		Explorer:    "https://polygonscan.com",
		WithdrawFee: "0.01", MinWithdraw: "1",
	},
	Bitcoin: {
		Key: Bitcoin, Name: "Bitcoin", Symbol: "BTC", Family: FamilyBTC,
		CoinType: 0, Decimals: 8,
		Explorer:    "https://blockstream.info",
		WithdrawFee: "0.0001", MinWithdraw: "0.0005",
	},
	BitcoinTestnet: {
		Key: BitcoinTestnet, Name: "Bitcoin Testnet", Symbol: "BTC", Family: FamilyBTC,
		CoinType: 1, Decimals: 8, Testnet: true,
		Explorer:    "https://blockstream.info/testnet",
		WithdrawFee: "0.0001", MinWithdraw: "0.0001",
	},
	Solana: {
		Key: Solana, Name: "Solana", Symbol: "SOL", Family: FamilySOL,
		CoinType: 501, Decimals: 9,
		Explorer:    "https://solscan.io",
		WithdrawFee: "0.000005", MinWithdraw: "0.01",
	},
	SolanaDevnet: {
		Key: SolanaDevnet, Name: "Solana Devnet", Symbol: "SOL", Family: FamilySOL,
		CoinType: 501, Decimals: 9, Testnet: true,
		Explorer:    "https://solscan.io/?cluster=devnet",
		WithdrawFee: "0.000005", MinWithdraw: "0.001",
	},
	Tron: {
		Key: Tron, Name: "Tron", Symbol: "TRX", Family: FamilyTRX,
		CoinType: 195, Decimals: 6,
		Explorer:    "https://tronscan.org",
		WithdrawFee: "1.1", MinWithdraw: "10",
	},
	TronShasta: {
		Key: TronShasta, Name: "Tron Shasta", Symbol: "TRX", Family: FamilyTRX,
		CoinType: 195, Decimals: 6, Testnet: true,
		Explorer:    "https://shasta.tronscan.org",
		WithdrawFee: "1.1", MinWithdraw: "1",
	},

	USDT: {
		Key: USDT, Name: "Tether USD", Symbol: "USDT", Family: FamilyEVM,
		Decimals: 6, IsTokenAlias: true, BaseChain: Ethereum,
		Contract:    "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		WithdrawFee: "2", MinWithdraw: "10",
	},
	USDC: {
		Key: USDC, Name: "USD Coin", Symbol: "USDC", Family: FamilyEVM,
		Decimals: 6, IsTokenAlias: true, BaseChain: Ethereum,
		Contract:    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		WithdrawFee: "2", MinWithdraw: "10",
	},
	USDTTron: {
		Key: USDTTron, Name: "Tether USD (TRC-20)", Symbol: "USDT", Family: FamilyTRX,
		Decimals: 6, IsTokenAlias: true, BaseChain: Tron,
		Contract:    "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		WithdrawFee: "2", MinWithdraw: "10",
	},
	USDCSol: {
		Key: USDCSol, Name: "USD Coin (SPL)", Symbol: "USDC", Family: FamilySOL,
		Decimals: 6, IsTokenAlias: true, BaseChain: Solana,
		Contract:    "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		WithdrawFee: "1", MinWithdraw: "1",
	},
}

// Get returns the registry entry for a chain key.
func Get(key Key) (Params, error) {
	p, ok := registry[Key(strings.ToLower(string(key)))]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", ErrUnsupportedChain, key)
	}
	return p, nil
}

// Resolve resolves a chain key to its base-chain parameters plus an asset tag.
// For a regular chain the asset is empty. For a token alias it returns the
// base chain's parameters, the token symbol as the asset, and the token
// contract address on that chain.
func Resolve(key Key) (base Params, asset, contract string, err error) {
	p, err := Get(key)
	if err != nil {
		return Params{}, "", "", err
	}
	if !p.IsTokenAlias {
		return p, "", "", nil
	}
	base, err = Get(p.BaseChain)
	if err != nil {
		return Params{}, "", "", fmt.Errorf("alias %q: %w", key, err)
	}
	return base, p.Symbol, p.Contract, nil
}

// TokenDecimals returns the decimals declared for an asset on a base chain.
// Falls back to the base chain's native decimals when the asset is unknown.
func TokenDecimals(base Key, asset string) int32 {
	for _, p := range registry {
		if p.IsTokenAlias && p.BaseChain == base && p.Symbol == asset {
			return p.Decimals
		}
	}
	if p, err := Get(base); err == nil {
		return p.Decimals
	}
	return 18
}

// TokenContract returns the contract (or mint) address for an asset on a base
// chain, or an empty string when the asset is not registered there.
func TokenContract(base Key, asset string) string {
	for _, p := range registry {
		if p.IsTokenAlias && p.BaseChain == base && p.Symbol == asset {
			return p.Contract
		}
	}
	return ""
}

// Supported returns every registry entry, sorted by key for stable output.
func Supported() []Params {
	out := make([]Params, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
