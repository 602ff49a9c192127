package custody

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/tyler-smith/go-bip39"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
	"github.com/Klingon-tech/klingnet-custody/internal/wallet"
)

const testSecret = "unit-test-seed-secret-0123456789"

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	cipher, err := wallet.NewCipher(testSecret)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	store := storage.NewMemory()
	return New(store, cipher, nil, nil), store
}

func TestCreateWalletIdempotent(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	w1, a1, err := s.CreateWallet(ctx, "acct-1", chain.Ethereum)
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if a1.AddressIndex != 0 {
		t.Errorf("default address index = %d, want 0", a1.AddressIndex)
	}
	if a1.Chain != chain.Ethereum || a1.Asset != "" {
		t.Errorf("default address = %+v", a1)
	}

	w2, a2, err := s.CreateWallet(ctx, "acct-1", chain.Ethereum)
	if err != nil {
		t.Fatalf("repeat CreateWallet: %v", err)
	}
	if w2.ID != w1.ID {
		t.Errorf("repeat call created a second wallet: %s vs %s", w2.ID, w1.ID)
	}
	if a2.ID != a1.ID || a2.Address != a1.Address {
		t.Errorf("repeat call produced a different default address")
	}
}

// One seed spans all chains: a second chain on the same account reuses the
// wallet and derives a chain-native address from the same seed.
func TestCreateWalletSecondChain(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	w1, ethAddr, err := s.CreateWallet(ctx, "acct-1", chain.Ethereum)
	if err != nil {
		t.Fatal(err)
	}
	w2, btcAddr, err := s.CreateWallet(ctx, "acct-1", chain.Bitcoin)
	if err != nil {
		t.Fatal(err)
	}
	if w2.ID != w1.ID {
		t.Errorf("second chain created a second wallet")
	}
	if btcAddr.Address == ethAddr.Address {
		t.Errorf("bitcoin default address equals the ethereum one")
	}
	if btcAddr.Chain != chain.Bitcoin {
		t.Errorf("chain = %s, want bitcoin", btcAddr.Chain)
	}
}

func TestTokenAliasSharesDefaultAddress(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, native, err := s.CreateWallet(ctx, "acct-1", chain.Ethereum)
	if err != nil {
		t.Fatal(err)
	}
	_, usdt, err := s.CreateWallet(ctx, "acct-1", chain.USDT)
	if err != nil {
		t.Fatal(err)
	}
	if usdt.Address != native.Address {
		t.Errorf("USDT address %s differs from native %s", usdt.Address, native.Address)
	}
	if usdt.Asset != "USDT" {
		t.Errorf("asset = %q, want USDT", usdt.Asset)
	}
	if usdt.Chain != chain.Ethereum {
		t.Errorf("chain = %s, want base chain ethereum", usdt.Chain)
	}
	if usdt.ID == native.ID {
		t.Error("token row reused the native row id")
	}
}

// The default allocation owns index 0, so the very first explicit
// allocation must land on index 1 with a fresh address.
func TestAllocateAfterCreateIsFresh(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()

	w, def, err := s.CreateWallet(ctx, "acct-1", chain.Sepolia)
	if err != nil {
		t.Fatal(err)
	}
	got, err := store.GetWallet(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AddressIndex != 0 {
		t.Fatalf("wallet AddressIndex after create = %d, want 0", got.AddressIndex)
	}

	a, err := s.AllocateAddress(ctx, w.ID, chain.Sepolia, "deposit")
	if err != nil {
		t.Fatalf("AllocateAddress: %v", err)
	}
	if a.AddressIndex != 1 {
		t.Errorf("allocated index = %d, want 1", a.AddressIndex)
	}
	if a.Address == def.Address {
		t.Errorf("AllocateAddress returned the default address %s again", def.Address)
	}
}

func TestAllocateAddressIncrementsIndex(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()

	w, _, err := s.CreateWallet(ctx, "acct-1", chain.Ethereum)
	if err != nil {
		t.Fatal(err)
	}

	a1, err := s.AllocateAddress(ctx, w.ID, chain.Ethereum, "deposit")
	if err != nil {
		t.Fatalf("AllocateAddress: %v", err)
	}
	a2, err := s.AllocateAddress(ctx, w.ID, chain.Ethereum, "deposit")
	if err != nil {
		t.Fatalf("AllocateAddress: %v", err)
	}
	if a1.AddressIndex != 1 || a2.AddressIndex != 2 {
		t.Errorf("indices = %d, %d, want 1, 2", a1.AddressIndex, a2.AddressIndex)
	}
	if a1.Address == a2.Address {
		t.Error("distinct indices derived the same address")
	}

	got, err := store.GetWallet(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AddressIndex != 2 {
		t.Errorf("wallet AddressIndex = %d, want 2", got.AddressIndex)
	}
}

func TestAllocateAddressConcurrent(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	w, _, err := s.CreateWallet(ctx, "acct-1", chain.Ethereum)
	if err != nil {
		t.Fatal(err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*storage.WalletAddress, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.AllocateAddress(ctx, w.ID, chain.Ethereum, "deposit")
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("AllocateAddress[%d]: %v", i, errs[i])
		}
		if seen[results[i].Address] {
			t.Fatalf("address %s allocated twice", results[i].Address)
		}
		seen[results[i].Address] = true
	}
}

func TestGetDepositAddress(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	w, def, err := s.CreateWallet(ctx, "acct-1", chain.Ethereum)
	if err != nil {
		t.Fatal(err)
	}

	// The default address starts unused, so it is handed out first.
	got, err := s.GetDepositAddress(ctx, w.ID, chain.Ethereum)
	if err != nil {
		t.Fatalf("GetDepositAddress: %v", err)
	}
	if got.ID != def.ID {
		t.Errorf("deposit address = index %d, want the unused default", got.AddressIndex)
	}

	// Token aliases always resolve to the shared default address.
	_, usdt, err := s.CreateWallet(ctx, "acct-1", chain.USDT)
	if err != nil {
		t.Fatal(err)
	}
	got, err = s.GetDepositAddress(ctx, w.ID, chain.USDT)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != usdt.ID {
		t.Errorf("USDT deposit address id = %s, want %s", got.ID, usdt.ID)
	}
}

func TestGetWallet(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.GetWallet(ctx, "nobody", chain.Ethereum); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing wallet error = %v, want ErrNotFound", err)
	}

	w, _, err := s.CreateWallet(ctx, "acct-1", chain.Ethereum)
	if err != nil {
		t.Fatal(err)
	}
	info, err := s.GetWallet(ctx, "acct-1", chain.Ethereum)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if info.Wallet.ID != w.ID {
		t.Errorf("wallet ID = %s, want %s", info.Wallet.ID, w.ID)
	}
	if len(info.Addresses) != 1 {
		t.Errorf("%d addresses, want 1", len(info.Addresses))
	}
}

func TestExportMnemonic(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	w, _, err := s.CreateWallet(ctx, "acct-1", chain.Ethereum)
	if err != nil {
		t.Fatal(err)
	}

	mnemonic, err := s.ExportMnemonic(ctx, w.ID)
	if err != nil {
		t.Fatalf("ExportMnemonic: %v", err)
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		t.Error("exported mnemonic fails BIP-39 validation")
	}
}

// A tampered seed blob must refuse to decrypt. Silently serving a different
// seed would derive addresses that hold nothing.
func TestTamperedSeedFailsLoud(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()

	w := &storage.HDWallet{
		ID:            uuid.New(),
		AccountID:     "acct-1",
		EncryptedSeed: "00112233445566778899aabbccddeeff:bm90LWEtcmVhbC1jaXBoZXJ0ZXh0", // valid format, garbage content
		AddressIndex:  -1,
		IsActive:      true,
	}
	if err := store.CreateWallet(ctx, w); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ExportMnemonic(ctx, w.ID); !errors.Is(err, wallet.ErrDecryption) {
		t.Errorf("ExportMnemonic error = %v, want ErrDecryption", err)
	}
	if _, err := s.AllocateAddress(ctx, w.ID, chain.Ethereum, "deposit"); !errors.Is(err, wallet.ErrDecryption) {
		t.Errorf("AllocateAddress error = %v, want ErrDecryption", err)
	}
}

func TestGetSupportedChains(t *testing.T) {
	s, _ := newTestService(t)
	chains := s.GetSupportedChains()
	if len(chains) == 0 {
		t.Fatal("no supported chains")
	}
	keys := map[chain.Key]bool{}
	for _, p := range chains {
		keys[p.Key] = true
	}
	for _, want := range []chain.Key{chain.Ethereum, chain.Bitcoin, chain.Solana, chain.Tron, chain.USDT} {
		if !keys[want] {
			t.Errorf("chain %s missing from supported list", want)
		}
	}
}
