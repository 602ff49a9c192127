package derive

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

// deriveEVM derives an EVM address: BIP-32 secp256k1 along
// m/44'/60'/0'/0/{index}, Keccak-256 of the uncompressed public key,
// last 20 bytes, EIP-55 checksum-cased hex.
func deriveEVM(seed []byte, p chain.Params, index uint32) (*Result, error) {
	key, err := secpKey(seed, p.CoinType, index)
	if err != nil {
		return nil, err
	}

	pub, err := secp256k1.ParsePubKey(key.PublicKeyBytes())
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	// Keccak over the 64-byte X||Y, skipping the 0x04 prefix.
	uncompressed := pub.SerializeUncompressed()
	hash := ethcrypto.Keccak256(uncompressed[1:])
	addr := common.BytesToAddress(hash[12:])

	return &Result{
		Address:    addr.Hex(),
		Path:       bip44Path(p.CoinType, index),
		PrivateKey: key.PrivateKeyBytes(),
	}, nil
}
