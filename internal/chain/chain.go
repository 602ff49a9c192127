// Package chain defines the static registry of supported chains and assets.
// All chain-specific parameters are hardcoded here - no external configuration
// is needed to know how to derive or encode an address.
package chain

// Family represents the blockchain family, which determines the curve and
// address encoding used for derivation.
type Family string

const (
	FamilyEVM Family = "evm" // Ethereum and EVM-compatible chains (secp256k1, Keccak)
	FamilyBTC Family = "btc" // Bitcoin and forks (secp256k1, Base58Check P2PKH)
	FamilySOL Family = "sol" // Solana (ed25519, SLIP-0010)
	FamilyTRX Family = "trx" // Tron (secp256k1, Keccak + Base58Check)
)

// Key identifies a chain (or token-alias pseudo-chain) in the registry.
type Key string

// Registered chain keys.
const (
	Ethereum       Key = "ethereum"
	Sepolia        Key = "sepolia"
	BSC            Key = "bsc"
	Polygon        Key = "polygon"
	Bitcoin        Key = "bitcoin"
	BitcoinTestnet Key = "bitcoin-testnet"
	Solana         Key = "solana"
	SolanaDevnet   Key = "solana-devnet"
	Tron           Key = "tron"
	TronShasta     Key = "tron-shasta"

	// Token-alias pseudo-chains. These resolve to a base chain plus an
	// asset tag before any derivation or network operation.
	USDT     Key = "usdt"      // ERC-20 on Ethereum
	USDC     Key = "usdc"      // ERC-20 on Ethereum
	USDTTron Key = "usdt-tron" // TRC-20 on Tron
	USDCSol  Key = "usdc-sol"  // SPL on Solana
)

// Params contains all static parameters for a chain or token alias.
type Params struct {
	Key    Key
	Name   string
	Symbol string
	Family Family

	// BIP-44 coin type. The derivation path is
	// m/44'/CoinType'/0'/0/{index} for secp256k1 families and
	// m/44'/CoinType'/0'/0'/{index}' for SLIP-0010 ed25519.
	CoinType uint32

	// Decimals of the native (or aliased token) unit.
	Decimals int32

	// ChainID is the EVM chain id. Zero for non-EVM chains.
	ChainID int64

	Testnet  bool
	Explorer string

	// WithdrawFee is the flat network-fee estimate in whole units, used by
	// chains without live fee estimation (BTC approximation, SOL, TRX).
	WithdrawFee string

	// MinWithdraw is the smallest withdrawal the engine accepts, in whole units.
	MinWithdraw string

	// Token alias fields. When IsTokenAlias is set, BaseChain names the chain
	// whose address space the token lives in and Contract is the token
	// contract address (or SPL mint) on that chain.
	IsTokenAlias bool
	BaseChain    Key
	Contract     string
}

// IsEVM reports whether the chain belongs to the EVM family.
func (p Params) IsEVM() bool { return p.Family == FamilyEVM }
