// Package derive implements deterministic per-chain address derivation.
//
// Given a wallet seed, a chain, and an index, it derives the chain-native
// keypair and address encoding. Derivation is a pure function of its inputs:
// the same (seed, chain, index) always yields the same address. Token-alias
// chains resolve to their base chain before dispatch, so a USDT address is
// the wallet's Ethereum address tagged with the asset.
package derive

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/wallet"
)

// maxIndex is the highest allocatable address index. Non-hardened BIP-32
// indices occupy the lower half of the uint32 range.
const maxIndex = 0x7FFFFFFF

// ErrInvalidIndex is returned for negative or out-of-range derivation indices.
var ErrInvalidIndex = errors.New("invalid derivation index")

// Error wraps a cryptographic failure during derivation. Derivation errors
// are never retried; they indicate a programming or data-corruption issue.
type Error struct {
	Chain chain.Key
	Index int64
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("derive %s index %d: %v", e.Chain, e.Index, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is a derived keypair and its chain-native address.
type Result struct {
	// Address is the chain-native encoded public address.
	Address string

	// Path is the full derivation path, stored for auditability.
	Path string

	// Asset is the token symbol when the request targeted a token alias,
	// empty for the native asset.
	Asset string

	// PrivateKey is the raw signing key: 32 bytes for secp256k1 families,
	// 64 bytes (ed25519 private key) for Solana. Callers must Zero it as
	// soon as signing completes.
	PrivateKey []byte
}

// Derive derives the keypair and address for (seed, chainKey, index).
// Token-alias keys are resolved to their base chain first and the result is
// tagged with the alias symbol.
func Derive(seed []byte, chainKey chain.Key, index int64) (*Result, error) {
	if index < 0 || index > maxIndex {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}

	base, asset, _, err := chain.Resolve(chainKey)
	if err != nil {
		return nil, err
	}

	var res *Result
	switch base.Family {
	case chain.FamilyEVM:
		res, err = deriveEVM(seed, base, uint32(index))
	case chain.FamilyBTC:
		res, err = deriveBTC(seed, base, uint32(index))
	case chain.FamilySOL:
		res, err = deriveSolana(seed, base, uint32(index))
	case chain.FamilyTRX:
		res, err = deriveTron(seed, base, uint32(index))
	default:
		return nil, fmt.Errorf("%w: family %q", chain.ErrUnsupportedChain, base.Family)
	}
	if err != nil {
		return nil, &Error{Chain: chainKey, Index: index, Err: err}
	}
	res.Asset = asset
	return res, nil
}

// secpKey walks m/44'/coinType'/0'/0/{index} on the secp256k1 curve.
func secpKey(seed []byte, coinType, index uint32) (*wallet.HDKey, error) {
	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	return master.DeriveBIP44(coinType, 0, 0, index)
}

// bip44Path renders the secp256k1 path m/44'/coin'/0'/0/{index}.
func bip44Path(coinType, index uint32) string {
	return fmt.Sprintf("m/44'/%d'/0'/0/%d", coinType, index)
}
