package derive

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

// slip10HardenedOffset marks an index as hardened. SLIP-0010 ed25519
// derivation supports only hardened children.
const slip10HardenedOffset = 0x80000000

// ed25519MasterKey is the HMAC key for the SLIP-0010 ed25519 master node.
var ed25519MasterKey = []byte("ed25519 seed")

// slip10Node is a SLIP-0010 (key, chain code) pair.
type slip10Node struct {
	key       [32]byte
	chainCode [32]byte
}

// slip10Master computes the ed25519 master node:
// HMAC-SHA512("ed25519 seed", seed), left 32 bytes key, right 32 chain code.
func slip10Master(seed []byte) slip10Node {
	mac := hmac.New(sha512.New, ed25519MasterKey)
	mac.Write(seed)
	sum := mac.Sum(nil)

	var n slip10Node
	copy(n.key[:], sum[:32])
	copy(n.chainCode[:], sum[32:])
	return n
}

// child derives the hardened child at index:
// HMAC-SHA512(chainCode, 0x00 || parentKey || ser32(index | 0x80000000)).
func (n slip10Node) child(index uint32) slip10Node {
	data := make([]byte, 0, 1+32+4)
	data = append(data, 0x00)
	data = append(data, n.key[:]...)
	data = binary.BigEndian.AppendUint32(data, index|slip10HardenedOffset)

	mac := hmac.New(sha512.New, n.chainCode[:])
	mac.Write(data)
	sum := mac.Sum(nil)

	var c slip10Node
	copy(c.key[:], sum[:32])
	copy(c.chainCode[:], sum[32:])
	return c
}

// slip10Derive walks the given indices from the master node. Every segment
// is hardened regardless of whether the caller set the hardened bit.
func slip10Derive(seed []byte, indices ...uint32) slip10Node {
	n := slip10Master(seed)
	for _, idx := range indices {
		n = n.child(idx &^ slip10HardenedOffset)
	}
	return n
}

// deriveSolana derives a Solana address along m/44'/501'/0'/0'/{index}'.
// Note the trailing apostrophe: the index segment itself is hardened. The
// SLIP-0010 child key is the ed25519 seed; the base58-encoded public key is
// the address.
func deriveSolana(seed []byte, p chain.Params, index uint32) (*Result, error) {
	n := slip10Derive(seed, 44, p.CoinType, 0, 0, index)

	priv := ed25519.NewKeyFromSeed(n.key[:])
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected ed25519 public key type")
	}

	return &Result{
		Address:    base58.Encode(pub),
		Path:       fmt.Sprintf("m/44'/%d'/0'/0'/%d'", p.CoinType, index),
		PrivateKey: priv,
	}, nil
}
