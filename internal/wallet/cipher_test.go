package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher("unit-test-secret")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

func TestCipherRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	blob, err := c.Encrypt(testMnemonic)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.Contains(blob, ":") {
		t.Fatalf("blob missing iv delimiter: %q", blob)
	}

	got, err := c.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != testMnemonic {
		t.Errorf("round trip = %q, want %q", got, testMnemonic)
	}
}

func TestCipherFreshIVPerCall(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt(testMnemonic)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encrypt(testMnemonic)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestCipherHexSecretUsedDirectly(t *testing.T) {
	hexSecret := strings.Repeat("ab", 32)
	c1, err := NewCipher(hexSecret)
	if err != nil {
		t.Fatal(err)
	}
	blob, err := c1.Encrypt(testMnemonic)
	if err != nil {
		t.Fatal(err)
	}

	// A fresh cipher from the same hex secret decrypts the blob.
	c2, err := NewCipher(hexSecret)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c2.Decrypt(blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != testMnemonic {
		t.Errorf("got %q, want %q", got, testMnemonic)
	}
}

func TestCipherEmptySecret(t *testing.T) {
	if _, err := NewCipher(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestDecryptCorruption(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Encrypt(testMnemonic)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		blob string
	}{
		{"truncated iv", blob[4:]},
		{"flipped ciphertext", func() string {
			iv, ct, _ := strings.Cut(blob, ":")
			raw, _ := base64.StdEncoding.DecodeString(ct)
			raw[0] ^= 0xff
			return iv + ":" + base64.StdEncoding.EncodeToString(raw)
		}()},
		{"not base64", strings.Repeat("00", 16) + ":!!not-base64!!"},
		{"empty ciphertext", strings.Repeat("00", 16) + ":"},
		{"garbage", "complete garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decrypt(tt.blob); !errors.Is(err, ErrDecryption) {
				t.Errorf("Decrypt(%q) error = %v, want ErrDecryption", tt.blob, err)
			}
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Encrypt(testMnemonic)
	if err != nil {
		t.Fatal(err)
	}

	other, err := NewCipher("a different secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Decrypt(blob); !errors.Is(err, ErrDecryption) {
		t.Errorf("wrong-key Decrypt error = %v, want ErrDecryption", err)
	}
}

// Blobs written before the IV-prefixed format carry base64 ciphertext only
// and were encrypted with a zero IV.
func TestDecryptLegacyFormat(t *testing.T) {
	c := newTestCipher(t)

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		t.Fatal(err)
	}
	padded := pkcs7Pad([]byte(testMnemonic), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(ct, padded)
	legacy := base64.StdEncoding.EncodeToString(ct)

	got, err := c.Decrypt(legacy)
	if err != nil {
		t.Fatalf("Decrypt legacy: %v", err)
	}
	if got != testMnemonic {
		t.Errorf("got %q, want %q", got, testMnemonic)
	}
}

func TestPKCS7Unpad(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		ok   bool
	}{
		{"valid", append([]byte("abc"), 13, 13, 13, 13, 13, 13, 13, 13, 13, 13, 13, 13, 13), true},
		{"zero pad byte", append(make([]byte, 15), 0), false},
		{"oversized pad byte", append(make([]byte, 15), 17), false},
		{"inconsistent", append([]byte("aaaaaaaaaaaaaa"), 3, 2), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pkcs7Unpad(tt.data, aes.BlockSize)
			if (err == nil) != tt.ok {
				t.Errorf("pkcs7Unpad error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestSeedFromMnemonic(t *testing.T) {
	seed, err := SeedFromMnemonic(testMnemonic)
	if err != nil {
		t.Fatalf("SeedFromMnemonic: %v", err)
	}
	if len(seed) != SeedSize {
		t.Errorf("seed length = %d, want %d", len(seed), SeedSize)
	}

	if _, err := SeedFromMnemonic("not a mnemonic at all"); err == nil {
		t.Error("expected error for invalid mnemonic")
	}
}

func TestGenerateMnemonic(t *testing.T) {
	m, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}
	if words := strings.Fields(m); len(words) != 24 {
		t.Errorf("word count = %d, want 24", len(words))
	}
	if !ValidateMnemonic(m) {
		t.Error("generated mnemonic fails validation")
	}
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("b[%d] = %d after Zero", i, v)
		}
	}
}
