package transfer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/chainclient"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryStore) {
	t.Helper()
	clients, err := chainclient.New(nil)
	if err != nil {
		t.Fatalf("chainclient.New: %v", err)
	}
	store := storage.NewMemory()
	return New(store, clients, nil), store
}

func seedWallet(t *testing.T, store storage.Store) *storage.HDWallet {
	t.Helper()
	w := &storage.HDWallet{
		ID:            uuid.New(),
		AccountID:     "acct-1",
		EncryptedSeed: "deadbeef:c2VlZA==",
		AddressIndex:  -1,
		IsActive:      true,
	}
	if err := store.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	return w
}

func seedAddress(t *testing.T, store storage.Store, w *storage.HDWallet, c chain.Key, index int64, asset, balance, tokenBalance string) *storage.WalletAddress {
	t.Helper()
	a := &storage.WalletAddress{
		ID:           uuid.New(),
		WalletID:     w.ID,
		Address:      "addr-" + string(c) + "-" + uuid.NewString()[:8],
		AddressIndex: index,
		Chain:        c,
		Asset:        asset,
		Balance:      balance,
		TokenBalance: tokenBalance,
	}
	if err := store.CreateAddress(context.Background(), a); err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}
	return a
}

func addr(index int64, asset, balance, tokenBalance string) *storage.WalletAddress {
	return &storage.WalletAddress{
		ID:           uuid.New(),
		AddressIndex: index,
		Asset:        asset,
		Balance:      balance,
		TokenBalance: tokenBalance,
	}
}

func TestRichestAddress(t *testing.T) {
	addrs := []*storage.WalletAddress{
		addr(0, "", "0.5", "0"),
		addr(1, "", "2.0", "0"),
		addr(2, "", "1.0", "0"),
		addr(0, "USDT", "0", "500"),
	}

	got := richestAddress(addrs, "")
	if got == nil || got.AddressIndex != 1 {
		t.Errorf("richestAddress(native) = %+v, want index 1", got)
	}

	got = richestAddress(addrs, "USDT")
	if got == nil || got.AddressIndex != 0 {
		t.Errorf("richestAddress(USDT) = %+v, want index 0", got)
	}

	if got := richestAddress(nil, ""); got != nil {
		t.Errorf("richestAddress(empty) = %+v, want nil", got)
	}
	if got := richestAddress([]*storage.WalletAddress{addr(0, "", "0", "0")}, ""); got != nil {
		t.Errorf("richestAddress(zero balances) = %+v, want nil", got)
	}
}

func TestAddressCovering(t *testing.T) {
	addrs := []*storage.WalletAddress{
		addr(0, "", "0.1", "0"),
		addr(1, "", "0.6", "0"),
		addr(2, "", "5.0", "0"),
	}

	got := addressCovering(addrs, "", decimal.RequireFromString("0.5"))
	if got == nil || got.AddressIndex != 1 {
		t.Errorf("addressCovering(0.5) = %+v, want lowest covering index 1", got)
	}

	if got := addressCovering(addrs, "", decimal.RequireFromString("10")); got != nil {
		t.Errorf("addressCovering(10) = %+v, want nil", got)
	}
}

func TestAliasFor(t *testing.T) {
	if got := aliasFor(chain.Ethereum, "USDT"); got != chain.USDT {
		t.Errorf("aliasFor(ethereum, USDT) = %q, want %q", got, chain.USDT)
	}
	if got := aliasFor(chain.Bitcoin, "USDT"); got != "" {
		t.Errorf("aliasFor(bitcoin, USDT) = %q, want empty", got)
	}
}

func TestSweepNoFundedAddress(t *testing.T) {
	e, store := newTestEngine(t)
	w := seedWallet(t, store)

	_, err := e.Sweep(context.Background(), w, chain.Bitcoin, "1Dest")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("Sweep error = %v, want ErrInsufficientFunds", err)
	}
}

// A balance below the flat fee must be refused before any key material is
// touched; no transaction row is created either.
func TestSweepBalanceBelowFee(t *testing.T) {
	e, store := newTestEngine(t)
	w := seedWallet(t, store)
	seedAddress(t, store, w, chain.Bitcoin, 0, "", "0.00005", "0")

	_, err := e.Sweep(context.Background(), w, chain.Bitcoin, "1Dest")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("Sweep error = %v, want ErrInsufficientFunds", err)
	}

	pending, err := store.PendingTransactions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("refused sweep left %d transaction rows", len(pending))
	}
}

func TestInitiateBelowMinimum(t *testing.T) {
	e, store := newTestEngine(t)
	w := seedWallet(t, store)

	_, err := e.Initiate(context.Background(), w, chain.Bitcoin, decimal.RequireFromString("0.0001"), "1Dest")
	if err == nil || !strings.Contains(err.Error(), "below minimum") {
		t.Errorf("Initiate error = %v, want below-minimum rejection", err)
	}
}

func TestInitiateRecordsPending(t *testing.T) {
	e, store := newTestEngine(t)
	w := seedWallet(t, store)

	tx, err := e.Initiate(context.Background(), w, chain.USDT, decimal.RequireFromString("25"), "0xdest")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if tx.Status != storage.StatusPending {
		t.Errorf("status = %s, want pending", tx.Status)
	}
	if tx.Chain != chain.Ethereum || tx.Asset != "USDT" {
		t.Errorf("alias not resolved: chain=%s asset=%s", tx.Chain, tx.Asset)
	}
	if tx.Type != storage.TxWithdrawal {
		t.Errorf("type = %s, want withdrawal", tx.Type)
	}

	got, err := store.GetTransaction(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Amount != "25" || got.ToAddress != "0xdest" {
		t.Errorf("persisted tx = %+v", got)
	}
}

func TestExecuteRequiresPending(t *testing.T) {
	e, store := newTestEngine(t)
	w := seedWallet(t, store)

	tx, err := e.Initiate(context.Background(), w, chain.Bitcoin, decimal.RequireFromString("0.01"), "1Dest")
	if err != nil {
		t.Fatal(err)
	}
	tx.Status = storage.StatusFailed
	if err := store.UpdateTransaction(context.Background(), tx); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Execute(context.Background(), w, tx); err == nil ||
		!strings.Contains(err.Error(), "not pending") {
		t.Errorf("Execute error = %v, want not-pending rejection", err)
	}
}

func TestExecuteNoCoveringAddress(t *testing.T) {
	e, store := newTestEngine(t)
	w := seedWallet(t, store)
	seedAddress(t, store, w, chain.Bitcoin, 0, "", "0.005", "0")

	tx, err := e.Initiate(context.Background(), w, chain.Bitcoin, decimal.RequireFromString("0.01"), "1Dest")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.Execute(context.Background(), w, tx); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("Execute error = %v, want ErrInsufficientFunds", err)
	}
}

func TestDebitNativeClampsAtZero(t *testing.T) {
	e, store := newTestEngine(t)
	w := seedWallet(t, store)
	a := seedAddress(t, store, w, chain.Ethereum, 0, "", "1.0", "0")

	err := e.debit(context.Background(), a,
		"", decimal.RequireFromString("0.9"), decimal.RequireFromString("0.2"))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}

	got, err := store.GetAddress(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance != "0" {
		t.Errorf("balance = %s, want clamped 0", got.Balance)
	}
}

func TestDebitTokenChargesNativeFee(t *testing.T) {
	e, store := newTestEngine(t)
	w := seedWallet(t, store)
	a := seedAddress(t, store, w, chain.Ethereum, 0, "USDT", "0.5", "100")

	err := e.debit(context.Background(), a,
		"USDT", decimal.RequireFromString("40"), decimal.RequireFromString("0.1"))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}

	got, err := store.GetAddress(context.Background(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TokenBalance != "60" {
		t.Errorf("token balance = %s, want 60", got.TokenBalance)
	}
	if got.Balance != "0.4" {
		t.Errorf("native balance = %s, want 0.4 after fee", got.Balance)
	}
}

func TestEstimateFeeFlat(t *testing.T) {
	e, _ := newTestEngine(t)
	p, err := chain.Get(chain.Bitcoin)
	if err != nil {
		t.Fatal(err)
	}
	fee, err := e.estimateFee(context.Background(), p, "")
	if err != nil {
		t.Fatalf("estimateFee: %v", err)
	}
	if fee.String() != "0.0001" {
		t.Errorf("fee = %s, want 0.0001", fee)
	}
}
