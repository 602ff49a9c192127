// Package storage provides persistence for wallets, addresses, and
// blockchain transactions. Three implementations exist: an in-memory store
// for tests, an embedded Badger store for single-node deployments, and a
// Postgres store for production. All three enforce the same invariants:
// one wallet per account, unique (wallet, chain, index, asset) addresses,
// and forward-only transaction status transitions.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrWalletExists is returned when the account already has a wallet.
	ErrWalletExists = errors.New("wallet already exists for account")

	// ErrIndexConflict is returned when an address row for the same
	// (wallet, chain, index, asset) already exists. Callers resolve it by
	// fetching the existing row; derivation is deterministic so the existing
	// row carries the same address.
	ErrIndexConflict = errors.New("address index conflict")

	// ErrStatusRegression is returned when a transaction update would move
	// its status backwards.
	ErrStatusRegression = errors.New("transaction status regression")
)

// HDWallet holds one encrypted seed per account. The single seed spans all
// chains; wallet_addresses.chain scopes the derived addresses.
type HDWallet struct {
	ID        uuid.UUID
	AccountID string

	// EncryptedSeed is the seed-cipher blob; opaque to this package.
	EncryptedSeed string

	// AddressIndex is the last-allocated derivation index, -1 before the
	// first allocation. Monotonic per wallet.
	AddressIndex int64

	// Type is an informational classification tag (spot, trading, savings).
	Type string

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletAddress is a derived address owned by a wallet.
type WalletAddress struct {
	ID       uuid.UUID
	WalletID uuid.UUID

	Address        string
	AddressIndex   int64
	DerivationPath string
	Chain          chain.Key

	// Asset is the token symbol when this row tracks a token balance on a
	// shared base-chain address; empty for the native asset.
	Asset string

	// Balance and TokenBalance are decimal strings, independently updated.
	Balance      string
	TokenBalance string

	// Purpose is a usage hint (deposit, spot). Informational.
	Purpose string

	// IsUsed marks a deposit address that has received funds.
	IsUsed bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TxType classifies a blockchain transaction.
type TxType string

const (
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal" // sweeps are modeled as withdrawals
)

// TxStatus is the lifecycle state of a blockchain transaction.
type TxStatus string

const (
	StatusPending    TxStatus = "pending"
	StatusProcessing TxStatus = "processing"
	StatusCompleted  TxStatus = "completed"
	StatusFailed     TxStatus = "failed"
)

var statusRank = map[TxStatus]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
}

// CanTransition reports whether a status may move to the given next status.
// Transitions are monotonic forward; terminal states accept nothing.
func (s TxStatus) CanTransition(to TxStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	next, ok := statusRank[to]
	if !ok {
		return false
	}
	return next > from
}

// Terminal reports whether the status is final.
func (s TxStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction records one deposit or withdrawal.
type Transaction struct {
	ID        uuid.UUID
	AccountID string
	WalletID  uuid.UUID
	AddressID uuid.UUID

	Chain chain.Key
	Asset string
	Type  TxType

	FromAddress string
	ToAddress   string
	Amount      string
	NetworkFee  string

	Status TxStatus

	// TxHash is set only after a successful broadcast.
	TxHash       string
	ErrorMessage string
	ConfirmedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the persistence interface for the custody engine.
type Store interface {
	// CreateWallet persists a new wallet. Returns ErrWalletExists when the
	// account already has one.
	CreateWallet(ctx context.Context, w *HDWallet) error
	GetWallet(ctx context.Context, id uuid.UUID) (*HDWallet, error)
	GetWalletByAccount(ctx context.Context, accountID string) (*HDWallet, error)

	// Wallets lists every wallet, for the background sync jobs.
	Wallets(ctx context.Context) ([]*HDWallet, error)

	// SetWalletIndex records the last-allocated derivation index. The index
	// never moves backwards; a smaller value is ignored.
	SetWalletIndex(ctx context.Context, id uuid.UUID, index int64) error

	// CreateAddress persists a derived address. Returns ErrIndexConflict
	// when a row for the same (wallet, chain, index, asset) exists.
	CreateAddress(ctx context.Context, a *WalletAddress) error
	GetAddress(ctx context.Context, id uuid.UUID) (*WalletAddress, error)
	FindAddress(ctx context.Context, walletID uuid.UUID, c chain.Key, index int64, asset string) (*WalletAddress, error)

	// FindByAddress locates an address row by its chain-native address
	// string and asset tag.
	FindByAddress(ctx context.Context, c chain.Key, address, asset string) (*WalletAddress, error)

	// ListAddresses returns the wallet's addresses, optionally filtered by
	// chain (empty key = all), ordered by ascending index.
	ListAddresses(ctx context.Context, walletID uuid.UUID, c chain.Key) ([]*WalletAddress, error)

	// UpdateBalance sets the native (token=false) or token (token=true)
	// balance of an address.
	UpdateBalance(ctx context.Context, addressID uuid.UUID, balance string, token bool) error
	MarkUsed(ctx context.Context, addressID uuid.UUID) error

	// UnusedAddress returns the lowest-index unused native address on the
	// chain, or ErrNotFound.
	UnusedAddress(ctx context.Context, walletID uuid.UUID, c chain.Key) (*WalletAddress, error)

	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// UpdateTransaction persists tx mutations. Status changes must satisfy
	// CanTransition; otherwise ErrStatusRegression is returned.
	UpdateTransaction(ctx context.Context, t *Transaction) error

	// PendingTransactions returns transactions not yet in a terminal state.
	PendingTransactions(ctx context.Context) ([]*Transaction, error)

	Close() error
}
