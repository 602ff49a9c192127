package wallet

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrDecryption indicates the stored seed could not be decrypted: corrupt
// ciphertext, wrong key material, or a malformed blob. Callers must treat
// this as a data-loss event and never silently regenerate the seed.
var ErrDecryption = errors.New("seed decryption failed")

// blobDelimiter separates the hex-encoded IV from the base64 ciphertext in
// the stored blob. The IV is not secret; it only has to be unique.
const blobDelimiter = ":"

// Cipher encrypts and decrypts mnemonic seeds with AES-256-CBC.
// The key is derived once from the operator secret and is read-only after
// construction, so a Cipher is safe for concurrent use.
type Cipher struct {
	key [32]byte
}

// NewCipher derives the seed-encryption key from an operator-supplied secret.
// A 64-character hex secret is used directly as the 32-byte key; anything
// else is hashed with SHA-256. The derivation is deterministic: the same
// secret always yields the same key, otherwise previously encrypted seeds
// become unrecoverable.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty seed secret")
	}
	c := &Cipher{}
	if len(secret) == 64 {
		if raw, err := hex.DecodeString(secret); err == nil {
			copy(c.key[:], raw)
			return c, nil
		}
	}
	c.key = sha256.Sum256([]byte(secret))
	return c, nil
}

// Encrypt encrypts a plaintext mnemonic. Each call draws a fresh random
// 16-byte IV; the blob format is hex(iv) ":" base64(ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return hex.EncodeToString(iv) + blobDelimiter + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt decrypts a blob produced by Encrypt. If the blob does not carry an
// IV delimiter it is treated as the legacy single-argument format and
// decrypted with a zero IV for backward compatibility. Any failure returns
// ErrDecryption; the caller decides recovery policy.
func (c *Cipher) Decrypt(blob string) (string, error) {
	ivHex, ctB64, found := strings.Cut(blob, blobDelimiter)
	if !found {
		return c.decryptLegacy(blob)
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: malformed iv", ErrDecryption)
	}
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", fmt.Errorf("%w: malformed ciphertext", ErrDecryption)
	}

	plain, err := c.decryptCBC(iv, ct)
	if err != nil {
		return "", err
	}
	return plain, nil
}

// decryptLegacy handles blobs written before the IV-prefixed format:
// base64 ciphertext only, zero IV.
func (c *Cipher) decryptLegacy(blob string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: malformed blob", ErrDecryption)
	}
	iv := make([]byte, aes.BlockSize)
	return c.decryptCBC(iv, ct)
}

func (c *Cipher) decryptCBC(iv, ct []byte) (string, error) {
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d", ErrDecryption, len(ct))
	}
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	// CBC is unauthenticated, so a wrong key can survive the padding check
	// only to yield garbage. A mnemonic is always printable ASCII; reject
	// anything else before it reaches derivation.
	for _, b := range unpadded {
		if b < 0x20 || b > 0x7e {
			return "", fmt.Errorf("%w: implausible plaintext", ErrDecryption)
		}
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
