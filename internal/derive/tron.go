package derive

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

// tronAddressVersion is Tron's mainnet address prefix (encodes to a leading 'T').
const tronAddressVersion = 0x41

// deriveTron derives a Tron address: BIP-32 secp256k1 along
// m/44'/195'/0'/0/{index}, Keccak-256 of the uncompressed public key, last
// 20 bytes, 0x41 version byte, Base58Check.
func deriveTron(seed []byte, p chain.Params, index uint32) (*Result, error) {
	key, err := secpKey(seed, p.CoinType, index)
	if err != nil {
		return nil, err
	}

	pub, err := secp256k1.ParsePubKey(key.PublicKeyBytes())
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	uncompressed := pub.SerializeUncompressed()
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:])
	hash := h.Sum(nil)

	return &Result{
		Address:    base58.CheckEncode(hash[12:], tronAddressVersion),
		Path:       bip44Path(p.CoinType, index),
		PrivateKey: key.PrivateKeyBytes(),
	}, nil
}

// TronHexAddress converts a base58check Tron address to the 21-byte hex form
// (41-prefixed) used by the Tron HTTP API. The checksum is verified.
func TronHexAddress(addr string) (string, error) {
	decoded, version, err := base58.CheckDecode(addr)
	if err != nil {
		return "", fmt.Errorf("decode tron address: %w", err)
	}
	if version != tronAddressVersion || len(decoded) != 20 {
		return "", fmt.Errorf("not a tron address: %s", addr)
	}
	return fmt.Sprintf("%02x%x", version, decoded), nil
}
