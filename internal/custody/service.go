// Package custody is the transport-independent service facade over the
// wallet, derivation, storage, balance, and transfer components. An API
// layer in front of it owns authentication and disclosure policy; this
// package owns the custody semantics.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingnet-custody/internal/balance"
	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/derive"
	"github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
	"github.com/Klingon-tech/klingnet-custody/internal/transfer"
	"github.com/Klingon-tech/klingnet-custody/internal/wallet"
)

// defaultAddressIndex is the derivation index of a wallet's default address
// on each chain. Token aliases share the base chain's default address.
const defaultAddressIndex = 0

// Service exposes the custody operations.
type Service struct {
	store  storage.Store
	cipher *wallet.Cipher
	oracle *balance.Oracle
	engine *transfer.Engine

	// Allocation for a single wallet is serialized here; the store's
	// uniqueness constraint is the backstop for multi-process deployments.
	// Entries are never evicted, so the map is bounded by the number of
	// wallets the process allocates for.
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// New creates a Service.
func New(store storage.Store, cipher *wallet.Cipher, oracle *balance.Oracle, engine *transfer.Engine) *Service {
	return &Service{
		store:  store,
		cipher: cipher,
		oracle: oracle,
		engine: engine,
		locks:  map[uuid.UUID]*sync.Mutex{},
	}
}

func (s *Service) walletLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// WalletInfo is a wallet with its addresses and stored balances.
type WalletInfo struct {
	Wallet    *storage.HDWallet
	Addresses []*storage.WalletAddress
}

// CreateWallet provisions the account's HD wallet and its default address
// on the given chain. One wallet exists per account; calling again returns
// the existing wallet, and the default address is allocated at most once
// per (chain, asset). The mnemonic is generated, encrypted, and stored; it
// is never returned here (see ExportMnemonic).
func (s *Service) CreateWallet(ctx context.Context, accountID string, chainKey chain.Key) (*storage.HDWallet, *storage.WalletAddress, error) {
	if _, err := chain.Get(chainKey); err != nil {
		return nil, nil, err
	}

	w, err := s.store.GetWalletByAccount(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		w, err = s.provisionWallet(ctx, accountID)
	}
	if err != nil {
		return nil, nil, err
	}

	addr, err := s.defaultAddress(ctx, w, chainKey)
	if err != nil {
		return nil, nil, err
	}
	return w, addr, nil
}

func (s *Service) provisionWallet(ctx context.Context, accountID string) (*storage.HDWallet, error) {
	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		return nil, fmt.Errorf("generate mnemonic: %w", err)
	}
	blob, err := s.cipher.Encrypt(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("encrypt seed: %w", err)
	}

	w := &storage.HDWallet{
		ID:            uuid.New(),
		AccountID:     accountID,
		EncryptedSeed: blob,
		AddressIndex:  -1,
		Type:          "spot",
		IsActive:      true,
	}
	err = s.store.CreateWallet(ctx, w)
	if errors.Is(err, storage.ErrWalletExists) {
		// Lost a creation race; the winner's wallet is the wallet.
		return s.store.GetWalletByAccount(ctx, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("persist wallet: %w", err)
	}
	log.Wallet.Info().Str("wallet", w.ID.String()).Str("account", accountID).
		Msg("wallet created")
	return w, nil
}

// defaultAddress returns the wallet's shared default address for a chain
// key, deriving and persisting it on first use. A token alias resolves to
// the same base-chain address tagged with the asset symbol.
func (s *Service) defaultAddress(ctx context.Context, w *storage.HDWallet, chainKey chain.Key) (*storage.WalletAddress, error) {
	base, asset, _, err := chain.Resolve(chainKey)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.FindAddress(ctx, w.ID, base.Key, defaultAddressIndex, asset)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return s.allocateAt(ctx, w, chainKey, defaultAddressIndex, "deposit")
}

// AllocateAddress derives and persists the wallet's next address on a
// chain. Allocation for one wallet is strictly serialized; the per-wallet
// derivation counter only moves forward.
func (s *Service) AllocateAddress(ctx context.Context, walletID uuid.UUID, chainKey chain.Key, purpose string) (*storage.WalletAddress, error) {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	l := s.walletLock(w.ID)
	l.Lock()
	defer l.Unlock()

	// Re-read under the lock; another allocation may have moved the counter.
	w, err = s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return s.allocateAt(ctx, w, chainKey, w.AddressIndex+1, purpose)
}

// allocateAt derives the address at an explicit index, persists it, and
// advances the wallet's derivation counter to the index. Losing an insert
// race returns the already-stored row; derivation is deterministic so the
// rows are interchangeable.
func (s *Service) allocateAt(ctx context.Context, w *storage.HDWallet, chainKey chain.Key, index int64, purpose string) (*storage.WalletAddress, error) {
	base, asset, _, err := chain.Resolve(chainKey)
	if err != nil {
		return nil, err
	}

	res, err := s.deriveAt(w, chainKey, index)
	if err != nil {
		return nil, err
	}
	wallet.Zero(res.PrivateKey)

	addr := &storage.WalletAddress{
		ID:             uuid.New(),
		WalletID:       w.ID,
		Address:        res.Address,
		AddressIndex:   index,
		DerivationPath: res.Path,
		Chain:          base.Key,
		Asset:          asset,
		Balance:        "0",
		TokenBalance:   "0",
		Purpose:        purpose,
	}
	err = s.store.CreateAddress(ctx, addr)
	switch {
	case errors.Is(err, storage.ErrIndexConflict):
		// Lost an insert race; the stored row at this index is the address.
		addr, err = s.store.FindAddress(ctx, w.ID, base.Key, index, asset)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("persist address: %w", err)
	default:
		log.Wallet.Info().Str("wallet", w.ID.String()).Str("chain", string(base.Key)).
			Int64("index", index).Str("address", res.Address).Msg("address allocated")
	}
	if err := s.store.SetWalletIndex(ctx, w.ID, index); err != nil {
		return nil, fmt.Errorf("advance wallet index: %w", err)
	}
	return addr, nil
}

func (s *Service) deriveAt(w *storage.HDWallet, chainKey chain.Key, index int64) (*derive.Result, error) {
	mnemonic, err := s.cipher.Decrypt(w.EncryptedSeed)
	if err != nil {
		return nil, err
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	defer wallet.Zero(seed)
	return derive.Derive(seed, chainKey, index)
}

// GetWallet returns the account's wallet with its addresses on a chain.
// An empty chain key returns all addresses.
func (s *Service) GetWallet(ctx context.Context, accountID string, chainKey chain.Key) (*WalletInfo, error) {
	w, err := s.store.GetWalletByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	base := chain.Key("")
	if chainKey != "" {
		p, _, _, err := chain.Resolve(chainKey)
		if err != nil {
			return nil, err
		}
		base = p.Key
	}
	addrs, err := s.store.ListAddresses(ctx, w.ID, base)
	if err != nil {
		return nil, err
	}
	return &WalletInfo{Wallet: w, Addresses: addrs}, nil
}

// GetDepositAddress returns an unused deposit address on the chain,
// reusing the lowest-index unused one before allocating fresh.
func (s *Service) GetDepositAddress(ctx context.Context, walletID uuid.UUID, chainKey chain.Key) (*storage.WalletAddress, error) {
	base, asset, _, err := chain.Resolve(chainKey)
	if err != nil {
		return nil, err
	}
	if asset != "" {
		w, err := s.store.GetWallet(ctx, walletID)
		if err != nil {
			return nil, err
		}
		return s.defaultAddress(ctx, w, chainKey)
	}
	addr, err := s.store.UnusedAddress(ctx, walletID, base.Key)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return s.AllocateAddress(ctx, walletID, chainKey, "deposit")
}

// DepositEvent reports a detected balance increase on a deposit address.
type DepositEvent struct {
	Address       string
	Asset         string
	Previous      decimal.Decimal
	Current       decimal.Decimal
	Received      decimal.Decimal
	TransactionID uuid.UUID
}

// CheckDeposits refreshes the wallet's balances on a chain and records a
// deposit transaction for every address whose balance increased. Fetch
// failures on individual addresses are skipped; the stored balance stays
// authoritative until a fetch succeeds.
func (s *Service) CheckDeposits(ctx context.Context, walletID uuid.UUID, chainKey chain.Key) ([]DepositEvent, error) {
	base, _, _, err := chain.Resolve(chainKey)
	if err != nil {
		return nil, err
	}
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	addrs, err := s.store.ListAddresses(ctx, walletID, base.Key)
	if err != nil {
		return nil, err
	}

	var events []DepositEvent
	for _, a := range addrs {
		prev := storedBalance(a)
		current, err := s.oracle.Sync(ctx, a)
		if err != nil {
			var fe *balance.FetchError
			if errors.As(err, &fe) {
				log.Oracle.Warn().Err(err).Str("address", a.Address).
					Msg("deposit check: balance fetch failed")
				continue
			}
			return nil, err
		}
		if !current.GreaterThan(prev) {
			continue
		}

		received := current.Sub(prev)
		tx := &storage.Transaction{
			ID:        uuid.New(),
			AccountID: w.AccountID,
			WalletID:  w.ID,
			AddressID: a.ID,
			Chain:     base.Key,
			Asset:     a.Asset,
			Type:      storage.TxDeposit,
			ToAddress: a.Address,
			Amount:    received.String(),
			Status:    storage.StatusCompleted,
		}
		if err := s.store.CreateTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("record deposit: %w", err)
		}
		log.Oracle.Info().Str("address", a.Address).Str("amount", received.String()).
			Str("chain", string(base.Key)).Msg("deposit detected")
		events = append(events, DepositEvent{
			Address:       a.Address,
			Asset:         a.Asset,
			Previous:      prev,
			Current:       current,
			Received:      received,
			TransactionID: tx.ID,
		})
	}
	return events, nil
}

func storedBalance(a *storage.WalletAddress) decimal.Decimal {
	raw := a.Balance
	if a.Asset != "" {
		raw = a.TokenBalance
	}
	d, err := chain.ParseAmount(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GetBalance returns the live balance of an address as a decimal string.
// When the address belongs to a custody wallet the fetched value is also
// written back to its row; unknown addresses are query-only.
func (s *Service) GetBalance(ctx context.Context, address string, chainKey chain.Key) (string, error) {
	base, asset, _, err := chain.Resolve(chainKey)
	if err != nil {
		return "", err
	}
	row, err := s.store.FindByAddress(ctx, base.Key, address, asset)
	if err == nil {
		amount, err := s.oracle.Sync(ctx, row)
		if err != nil {
			return "", err
		}
		return amount.String(), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	amount, err := s.oracle.Fetch(ctx, chainKey, address)
	if err != nil {
		return "", err
	}
	return amount.String(), nil
}

// InitiateWithdrawal records a pending withdrawal and returns its id.
// Nothing is signed until ExecuteWithdrawal.
func (s *Service) InitiateWithdrawal(ctx context.Context, walletID uuid.UUID, chainKey chain.Key, amount, toAddress string) (uuid.UUID, error) {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return uuid.Nil, err
	}
	amt, err := chain.ParseAmount(amount)
	if err != nil {
		return uuid.Nil, err
	}
	tx, err := s.engine.Initiate(ctx, w, chainKey, amt, toAddress)
	if err != nil {
		return uuid.Nil, err
	}
	return tx.ID, nil
}

// ExecuteWithdrawal signs and broadcasts a previously initiated withdrawal.
func (s *Service) ExecuteWithdrawal(ctx context.Context, transactionID uuid.UUID) (*transfer.Result, error) {
	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	w, err := s.store.GetWallet(ctx, tx.WalletID)
	if err != nil {
		return nil, err
	}
	return s.engine.Execute(ctx, w, tx)
}

// Sweep moves the wallet's spendable balance on a chain to the destination.
func (s *Service) Sweep(ctx context.Context, walletID uuid.UUID, chainKey chain.Key, toAddress string) (*transfer.Result, error) {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return s.engine.Sweep(ctx, w, chainKey, toAddress)
}

// GetSupportedChains lists every registered chain and token alias.
func (s *Service) GetSupportedChains() []chain.Params {
	return chain.Supported()
}

// ExportMnemonic decrypts and returns the wallet's mnemonic. The caller
// owns re-authentication and one-time-disclosure policy; every call is
// written to the audit log.
func (s *Service) ExportMnemonic(ctx context.Context, walletID uuid.UUID) (string, error) {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return "", err
	}
	mnemonic, err := s.cipher.Decrypt(w.EncryptedSeed)
	if err != nil {
		return "", err
	}
	log.Wallet.Warn().Str("wallet", w.ID.String()).Str("account", w.AccountID).
		Msg("mnemonic exported")
	return mnemonic, nil
}
