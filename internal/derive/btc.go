package derive

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

// netParams selects the Bitcoin network parameters for the chain variant.
// Testnet uses different P2PKH version bytes, so a mainnet-encoded address
// is invalid on testnet and vice versa.
func netParams(p chain.Params) *chaincfg.Params {
	if p.Testnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// deriveBTC derives a P2PKH address: BIP-32 secp256k1 along
// m/44'/{coin}'/0'/0/{index}, HASH160 of the compressed public key,
// version byte + Base58Check.
func deriveBTC(seed []byte, p chain.Params, index uint32) (*Result, error) {
	key, err := secpKey(seed, p.CoinType, index)
	if err != nil {
		return nil, err
	}

	pkHash := btcutil.Hash160(key.PublicKeyBytes())
	addr, err := btcutil.NewAddressPubKeyHash(pkHash, netParams(p))
	if err != nil {
		return nil, fmt.Errorf("encode p2pkh address: %w", err)
	}

	return &Result{
		Address:    addr.EncodeAddress(),
		Path:       bip44Path(p.CoinType, index),
		PrivateKey: key.PrivateKeyBytes(),
	}, nil
}
