// Package transfer moves funds out of custody addresses: full-balance sweeps
// and two-phase withdrawals. Every attempt is recorded as a transaction row
// before any signing happens, and no failure path leaves a row in
// processing. Broadcasts are never retried; a failed transfer must be
// re-initiated explicitly.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/chainclient"
	"github.com/Klingon-tech/klingnet-custody/internal/derive"
	"github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
	"github.com/Klingon-tech/klingnet-custody/internal/wallet"
)

// ErrInsufficientFunds is returned when the transferable amount after fees
// is zero or negative. It is checked before any key material is decrypted.
var ErrInsufficientFunds = errors.New("insufficient funds for transfer")

// BroadcastError reports a transaction the network rejected or that never
// reached the network. The transaction row is already marked failed when
// this surfaces.
type BroadcastError struct {
	Chain chain.Key
	Err   error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast on %s: %v", e.Chain, e.Err)
}

func (e *BroadcastError) Unwrap() error { return e.Err }

// TransferFailedError reports a transfer that failed after its transaction
// row was created. The row id allows the caller to inspect the recorded
// error message.
type TransferFailedError struct {
	TransactionID uuid.UUID
	Err           error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer %s failed: %v", e.TransactionID, e.Err)
}

func (e *TransferFailedError) Unwrap() error { return e.Err }

// Result is the outcome of a successful transfer.
type Result struct {
	TransactionID uuid.UUID
	TxHash        string
	Amount        decimal.Decimal
	Fee           decimal.Decimal
}

// Engine signs and broadcasts outbound transfers.
type Engine struct {
	store   storage.Store
	clients *chainclient.Clients
	cipher  *wallet.Cipher
}

// New creates an Engine.
func New(store storage.Store, clients *chainclient.Clients, cipher *wallet.Cipher) *Engine {
	return &Engine{store: store, clients: clients, cipher: cipher}
}

// Sweep moves the full spendable balance of a wallet's richest address on
// the given chain to the destination. Sweeping a native asset first sweeps
// any nonzero token balances on the same chain, best effort, so a drained
// native balance cannot strand token value without gas.
func (e *Engine) Sweep(ctx context.Context, w *storage.HDWallet, chainKey chain.Key, to string) (*Result, error) {
	base, asset, contract, err := chain.Resolve(chainKey)
	if err != nil {
		return nil, err
	}

	if asset == "" {
		e.sweepTokens(ctx, w, base, to)
	}

	addrs, err := e.store.ListAddresses(ctx, w.ID, base.Key)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	src := richestAddress(addrs, asset)
	if src == nil {
		return nil, ErrInsufficientFunds
	}

	fee, err := e.estimateFee(ctx, base, asset)
	if err != nil {
		return nil, fmt.Errorf("estimate fee: %w", err)
	}

	balance := relevantBalance(src, asset)
	amount := balance
	if asset == "" {
		amount = balance.Sub(fee)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: balance %s, fee estimate %s on %s",
			ErrInsufficientFunds, balance, fee, base.Key)
	}

	return e.execute(ctx, w, base, asset, contract, src, to, amount, fee, storage.TxWithdrawal)
}

// sweepTokens sweeps every distinct nonzero token balance the wallet holds
// on the chain. Individual failures are logged and skipped.
func (e *Engine) sweepTokens(ctx context.Context, w *storage.HDWallet, base chain.Params, to string) {
	addrs, err := e.store.ListAddresses(ctx, w.ID, base.Key)
	if err != nil {
		log.Sweep.Warn().Err(err).Msg("token pre-sweep: listing addresses failed")
		return
	}
	seen := map[string]bool{}
	for _, a := range addrs {
		if a.Asset == "" || seen[a.Asset] {
			continue
		}
		seen[a.Asset] = true
		bal, err := chain.ParseAmount(a.TokenBalance)
		if err != nil || !bal.IsPositive() {
			continue
		}
		alias := aliasFor(base.Key, a.Asset)
		if alias == "" {
			continue
		}
		if _, err := e.Sweep(ctx, w, alias, to); err != nil {
			log.Sweep.Warn().Err(err).
				Str("asset", a.Asset).Str("chain", string(base.Key)).
				Msg("token pre-sweep failed, continuing")
		}
	}
}

func aliasFor(base chain.Key, asset string) chain.Key {
	for _, p := range chain.Supported() {
		if p.IsTokenAlias && p.BaseChain == base && p.Symbol == asset {
			return p.Key
		}
	}
	return ""
}

// Initiate records a pending withdrawal without signing anything. The
// caller completes it with Execute.
func (e *Engine) Initiate(ctx context.Context, w *storage.HDWallet, chainKey chain.Key, amount decimal.Decimal, to string) (*storage.Transaction, error) {
	base, asset, _, err := chain.Resolve(chainKey)
	if err != nil {
		return nil, err
	}
	p, err := chain.Get(chainKey)
	if err != nil {
		return nil, err
	}
	min, err := chain.ParseAmount(p.MinWithdraw)
	if err == nil && amount.LessThan(min) {
		return nil, fmt.Errorf("amount %s below minimum withdrawal %s for %s", amount, min, chainKey)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive amount %s", ErrInsufficientFunds, amount)
	}

	tx := &storage.Transaction{
		ID:        uuid.New(),
		AccountID: w.AccountID,
		WalletID:  w.ID,
		Chain:     base.Key,
		Asset:     asset,
		Type:      storage.TxWithdrawal,
		ToAddress: to,
		Amount:    amount.String(),
		Status:    storage.StatusPending,
	}
	if err := e.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("record withdrawal: %w", err)
	}
	log.Sweep.Info().Str("tx", tx.ID.String()).Str("chain", string(base.Key)).
		Str("amount", tx.Amount).Msg("withdrawal initiated")
	return tx, nil
}

// Execute signs and broadcasts a previously initiated withdrawal. The
// transaction must still be pending.
func (e *Engine) Execute(ctx context.Context, w *storage.HDWallet, tx *storage.Transaction) (*Result, error) {
	if tx.Status != storage.StatusPending {
		return nil, fmt.Errorf("transaction %s is %s, not pending", tx.ID, tx.Status)
	}
	base, err := chain.Get(tx.Chain)
	if err != nil {
		return nil, err
	}
	contract := ""
	if tx.Asset != "" {
		contract = chain.TokenContract(base.Key, tx.Asset)
		if contract == "" {
			return nil, fmt.Errorf("no contract registered for %s on %s", tx.Asset, base.Key)
		}
	}
	amount, err := chain.ParseAmount(tx.Amount)
	if err != nil {
		return nil, err
	}

	fee, err := e.estimateFee(ctx, base, tx.Asset)
	if err != nil {
		return nil, fmt.Errorf("estimate fee: %w", err)
	}

	addrs, err := e.store.ListAddresses(ctx, w.ID, base.Key)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	need := amount
	if tx.Asset == "" {
		need = amount.Add(fee)
	}
	src := addressCovering(addrs, tx.Asset, need)
	if src == nil {
		return nil, fmt.Errorf("%w: no address holds %s %s on %s",
			ErrInsufficientFunds, need, displayAsset(base, tx.Asset), base.Key)
	}

	return e.signAndRecord(ctx, w, base, tx.Asset, contract, src, tx, amount, fee)
}

// execute creates the transaction row and runs the signing pipeline.
func (e *Engine) execute(ctx context.Context, w *storage.HDWallet, base chain.Params, asset, contract string, src *storage.WalletAddress, to string, amount, fee decimal.Decimal, kind storage.TxType) (*Result, error) {
	tx := &storage.Transaction{
		ID:          uuid.New(),
		AccountID:   w.AccountID,
		WalletID:    w.ID,
		AddressID:   src.ID,
		Chain:       base.Key,
		Asset:       asset,
		Type:        kind,
		FromAddress: src.Address,
		ToAddress:   to,
		Amount:      amount.String(),
		Status:      storage.StatusPending,
	}
	if err := e.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	return e.signAndRecord(ctx, w, base, asset, contract, src, tx, amount, fee)
}

// signAndRecord decrypts the seed, derives the source key, broadcasts, and
// settles the transaction row. The row always ends completed or failed.
func (e *Engine) signAndRecord(ctx context.Context, w *storage.HDWallet, base chain.Params, asset, contract string, src *storage.WalletAddress, tx *storage.Transaction, amount, fee decimal.Decimal) (*Result, error) {
	txHash, actualFee, err := e.send(ctx, w, base, asset, contract, src, tx.ToAddress, amount, fee)
	if err != nil {
		e.settleFailed(ctx, tx, err)
		return nil, &TransferFailedError{TransactionID: tx.ID, Err: err}
	}

	now := time.Now().UTC()
	tx.Status = storage.StatusCompleted
	tx.TxHash = txHash
	tx.NetworkFee = actualFee.String()
	tx.FromAddress = src.Address
	tx.AddressID = src.ID
	tx.ConfirmedAt = &now
	if err := e.store.UpdateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("record completed transaction: %w", err)
	}

	if err := e.debit(ctx, src, asset, amount, actualFee); err != nil {
		log.Sweep.Error().Err(err).Str("address", src.Address).
			Msg("balance decrement failed, next sync will correct it")
	}

	log.Sweep.Info().Str("tx_hash", txHash).Str("chain", string(base.Key)).
		Str("amount", amount.String()).Str("fee", actualFee.String()).
		Msg("transfer completed")
	return &Result{TransactionID: tx.ID, TxHash: txHash, Amount: amount, Fee: actualFee}, nil
}

func (e *Engine) settleFailed(ctx context.Context, tx *storage.Transaction, cause error) {
	tx.Status = storage.StatusFailed
	tx.ErrorMessage = cause.Error()
	if err := e.store.UpdateTransaction(ctx, tx); err != nil {
		log.Sweep.Error().Err(err).Str("tx", tx.ID.String()).
			Msg("failed to mark transaction failed")
	}
}

// debit subtracts the sent amount from the stored balance. Token transfers
// debit the token column and charge the fee against the native column.
func (e *Engine) debit(ctx context.Context, src *storage.WalletAddress, asset string, amount, fee decimal.Decimal) error {
	if asset == "" {
		bal, err := chain.ParseAmount(src.Balance)
		if err != nil {
			return err
		}
		next := bal.Sub(amount).Sub(fee)
		if next.IsNegative() {
			next = decimal.Zero
		}
		return e.store.UpdateBalance(ctx, src.ID, next.String(), false)
	}

	tok, err := chain.ParseAmount(src.TokenBalance)
	if err != nil {
		return err
	}
	next := tok.Sub(amount)
	if next.IsNegative() {
		next = decimal.Zero
	}
	if err := e.store.UpdateBalance(ctx, src.ID, next.String(), true); err != nil {
		return err
	}
	if fee.IsPositive() {
		nat, err := chain.ParseAmount(src.Balance)
		if err != nil {
			return err
		}
		remaining := nat.Sub(fee)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		return e.store.UpdateBalance(ctx, src.ID, remaining.String(), false)
	}
	return nil
}

// richestAddress picks the address with the highest balance in the given
// asset, or nil when nothing is funded.
func richestAddress(addrs []*storage.WalletAddress, asset string) *storage.WalletAddress {
	var best *storage.WalletAddress
	bestBal := decimal.Zero
	for _, a := range addrs {
		if a.Asset != asset {
			continue
		}
		bal, err := chain.ParseAmount(relevantBalanceStr(a, asset))
		if err != nil || !bal.IsPositive() {
			continue
		}
		if best == nil || bal.GreaterThan(bestBal) {
			best, bestBal = a, bal
		}
	}
	return best
}

// addressCovering picks the lowest-index address whose balance covers need.
func addressCovering(addrs []*storage.WalletAddress, asset string, need decimal.Decimal) *storage.WalletAddress {
	for _, a := range addrs {
		if a.Asset != asset {
			continue
		}
		bal, err := chain.ParseAmount(relevantBalanceStr(a, asset))
		if err != nil {
			continue
		}
		if bal.GreaterThanOrEqual(need) {
			return a
		}
	}
	return nil
}

func relevantBalanceStr(a *storage.WalletAddress, asset string) string {
	if asset != "" {
		return a.TokenBalance
	}
	return a.Balance
}

func relevantBalance(a *storage.WalletAddress, asset string) decimal.Decimal {
	d, err := chain.ParseAmount(relevantBalanceStr(a, asset))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func displayAsset(base chain.Params, asset string) string {
	if asset != "" {
		return asset
	}
	return base.Symbol
}

// deriveSource decrypts the wallet seed and re-derives the key for the
// source address. The derived address must match the stored row; a mismatch
// means the seed or the row is corrupt and signing must not proceed.
func (e *Engine) deriveSource(w *storage.HDWallet, base chain.Params, src *storage.WalletAddress) (*derive.Result, error) {
	mnemonic, err := e.cipher.Decrypt(w.EncryptedSeed)
	if err != nil {
		return nil, err
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	defer wallet.Zero(seed)

	res, err := derive.Derive(seed, base.Key, src.AddressIndex)
	if err != nil {
		return nil, err
	}
	if res.Address != src.Address {
		wallet.Zero(res.PrivateKey)
		return nil, fmt.Errorf("derived address %s does not match stored %s at index %d on %s",
			res.Address, src.Address, src.AddressIndex, base.Key)
	}
	return res, nil
}
