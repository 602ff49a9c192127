package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

// DefaultQueryTimeout bounds individual queries so runaway SQL cannot hold
// pool connections indefinitely.
const DefaultQueryTimeout = 30 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS hd_wallets (
	id             UUID PRIMARY KEY,
	account_id     TEXT NOT NULL,
	encrypted_seed TEXT NOT NULL,
	address_index  BIGINT NOT NULL DEFAULT -1,
	wallet_type    TEXT NOT NULL DEFAULT 'spot',
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT hd_wallets_account_uniq UNIQUE (account_id)
);

CREATE TABLE IF NOT EXISTS wallet_addresses (
	id              UUID PRIMARY KEY,
	hd_wallet_id    UUID NOT NULL REFERENCES hd_wallets(id),
	address         TEXT NOT NULL,
	address_index   BIGINT NOT NULL,
	derivation_path TEXT NOT NULL,
	chain           TEXT NOT NULL,
	asset           TEXT NOT NULL DEFAULT '',
	balance         NUMERIC(36,18) NOT NULL DEFAULT 0,
	token_balance   NUMERIC(36,18) NOT NULL DEFAULT 0,
	purpose         TEXT NOT NULL DEFAULT 'deposit',
	is_used         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT wallet_addresses_derivation_uniq UNIQUE (hd_wallet_id, chain, address_index, asset)
);

CREATE TABLE IF NOT EXISTS blockchain_transactions (
	id            UUID PRIMARY KEY,
	account_id    TEXT NOT NULL,
	hd_wallet_id  UUID NOT NULL,
	address_id    UUID,
	chain         TEXT NOT NULL,
	asset         TEXT NOT NULL DEFAULT '',
	tx_type       TEXT NOT NULL,
	from_address  TEXT NOT NULL DEFAULT '',
	to_address    TEXT NOT NULL DEFAULT '',
	amount        NUMERIC(36,18) NOT NULL DEFAULT 0,
	network_fee   NUMERIC(36,18) NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	tx_hash       TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	confirmed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS blockchain_transactions_pending_idx
	ON blockchain_transactions (created_at)
	WHERE status IN ('pending', 'processing');
`

// PostgresStore is the production Store. Uniqueness and status monotonicity
// are enforced by database constraints, not application logic.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds connection-pool settings.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgres opens a pooled connection and ensures the schema exists.
func NewPostgres(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// uniqueViolation maps a Postgres unique-constraint error to the package
// sentinel for the violated constraint.
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return nil
	}
	switch pqErr.Constraint {
	case "hd_wallets_account_uniq":
		return ErrWalletExists
	case "wallet_addresses_derivation_uniq":
		return ErrIndexConflict
	}
	return nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

func (p *PostgresStore) CreateWallet(ctx context.Context, w *HDWallet) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO hd_wallets (id, account_id, encrypted_seed, address_index, wallet_type, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, w.ID, w.AccountID, w.EncryptedSeed, w.AddressIndex, w.Type, w.IsActive)
	if err != nil {
		if sentinel := uniqueViolation(err); sentinel != nil {
			return sentinel
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

const walletColumns = `id, account_id, encrypted_seed, address_index, wallet_type, is_active, created_at, updated_at`

func scanWallet(row *sql.Row) (*HDWallet, error) {
	var w HDWallet
	err := row.Scan(&w.ID, &w.AccountID, &w.EncryptedSeed, &w.AddressIndex, &w.Type, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return &w, nil
}

func (p *PostgresStore) GetWallet(ctx context.Context, id uuid.UUID) (*HDWallet, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return scanWallet(p.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM hd_wallets WHERE id = $1`, id))
}

func (p *PostgresStore) GetWalletByAccount(ctx context.Context, accountID string) (*HDWallet, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return scanWallet(p.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM hd_wallets WHERE account_id = $1`, accountID))
}

func (p *PostgresStore) Wallets(ctx context.Context) ([]*HDWallet, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx,
		`SELECT `+walletColumns+` FROM hd_wallets ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	var out []*HDWallet
	for rows.Next() {
		var w HDWallet
		err := rows.Scan(&w.ID, &w.AccountID, &w.EncryptedSeed, &w.AddressIndex, &w.Type, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetWalletIndex(ctx context.Context, id uuid.UUID, index int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := p.db.ExecContext(ctx, `
		UPDATE hd_wallets
		SET address_index = GREATEST(address_index, $2), updated_at = now()
		WHERE id = $1
	`, id, index)
	if err != nil {
		return fmt.Errorf("update wallet index: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) CreateAddress(ctx context.Context, a *WalletAddress) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallet_addresses
			(id, hd_wallet_id, address, address_index, derivation_path, chain, asset,
			 balance, token_balance, purpose, is_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE(NULLIF($8,'')::numeric, 0), COALESCE(NULLIF($9,'')::numeric, 0), $10, $11)
	`, a.ID, a.WalletID, a.Address, a.AddressIndex, a.DerivationPath, a.Chain, a.Asset,
		a.Balance, a.TokenBalance, a.Purpose, a.IsUsed)
	if err != nil {
		if sentinel := uniqueViolation(err); sentinel != nil {
			return sentinel
		}
		return fmt.Errorf("insert address: %w", err)
	}
	return nil
}

const addressColumns = `id, hd_wallet_id, address, address_index, derivation_path, chain, asset,
	balance::text, token_balance::text, purpose, is_used, created_at, updated_at`

func scanAddress(s interface{ Scan(...any) error }) (*WalletAddress, error) {
	var a WalletAddress
	err := s.Scan(&a.ID, &a.WalletID, &a.Address, &a.AddressIndex, &a.DerivationPath,
		&a.Chain, &a.Asset, &a.Balance, &a.TokenBalance, &a.Purpose, &a.IsUsed,
		&a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan address: %w", err)
	}
	return &a, nil
}

func (p *PostgresStore) GetAddress(ctx context.Context, id uuid.UUID) (*WalletAddress, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return scanAddress(p.db.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM wallet_addresses WHERE id = $1`, id))
}

func (p *PostgresStore) FindAddress(ctx context.Context, walletID uuid.UUID, c chain.Key, index int64, asset string) (*WalletAddress, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return scanAddress(p.db.QueryRowContext(ctx, `
		SELECT `+addressColumns+` FROM wallet_addresses
		WHERE hd_wallet_id = $1 AND chain = $2 AND address_index = $3 AND asset = $4
	`, walletID, c, index, asset))
}

func (p *PostgresStore) FindByAddress(ctx context.Context, c chain.Key, address, asset string) (*WalletAddress, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return scanAddress(p.db.QueryRowContext(ctx, `
		SELECT `+addressColumns+` FROM wallet_addresses
		WHERE chain = $1 AND address = $2 AND asset = $3
	`, c, address, asset))
}

func (p *PostgresStore) ListAddresses(ctx context.Context, walletID uuid.UUID, c chain.Key) ([]*WalletAddress, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + addressColumns + ` FROM wallet_addresses WHERE hd_wallet_id = $1`
	args := []any{walletID}
	if c != "" {
		query += ` AND chain = $2`
		args = append(args, c)
	}
	query += ` ORDER BY address_index, asset`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var out []*WalletAddress
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateBalance(ctx context.Context, addressID uuid.UUID, balance string, token bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	column := "balance"
	if token {
		column = "token_balance"
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE wallet_addresses SET `+column+` = $2::numeric, updated_at = now() WHERE id = $1
	`, addressID, balance)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) MarkUsed(ctx context.Context, addressID uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := p.db.ExecContext(ctx,
		`UPDATE wallet_addresses SET is_used = TRUE, updated_at = now() WHERE id = $1`, addressID)
	if err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) UnusedAddress(ctx context.Context, walletID uuid.UUID, c chain.Key) (*WalletAddress, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return scanAddress(p.db.QueryRowContext(ctx, `
		SELECT `+addressColumns+` FROM wallet_addresses
		WHERE hd_wallet_id = $1 AND chain = $2 AND asset = '' AND is_used = FALSE
		ORDER BY address_index
		LIMIT 1
	`, walletID, c))
}

func (p *PostgresStore) CreateTransaction(ctx context.Context, t *Transaction) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var addressID any
	if t.AddressID != uuid.Nil {
		addressID = t.AddressID
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO blockchain_transactions
			(id, account_id, hd_wallet_id, address_id, chain, asset, tx_type,
			 from_address, to_address, amount, network_fee, status, tx_hash, error_message, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			COALESCE(NULLIF($10,'')::numeric, 0), COALESCE(NULLIF($11,'')::numeric, 0), $12, $13, $14, $15)
	`, t.ID, t.AccountID, t.WalletID, addressID, t.Chain, t.Asset, t.Type,
		t.FromAddress, t.ToAddress, t.Amount, t.NetworkFee, t.Status, t.TxHash, t.ErrorMessage, t.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

const txColumns = `id, account_id, hd_wallet_id, COALESCE(address_id, '00000000-0000-0000-0000-000000000000'::uuid),
	chain, asset, tx_type, from_address, to_address, amount::text, network_fee::text,
	status, tx_hash, error_message, confirmed_at, created_at, updated_at`

func scanTransaction(s interface{ Scan(...any) error }) (*Transaction, error) {
	var t Transaction
	err := s.Scan(&t.ID, &t.AccountID, &t.WalletID, &t.AddressID, &t.Chain, &t.Asset, &t.Type,
		&t.FromAddress, &t.ToAddress, &t.Amount, &t.NetworkFee, &t.Status, &t.TxHash,
		&t.ErrorMessage, &t.ConfirmedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

func (p *PostgresStore) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM blockchain_transactions WHERE id = $1`, id))
}

func (p *PostgresStore) UpdateTransaction(ctx context.Context, t *Transaction) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// Status monotonicity is enforced in SQL: the row is only updated when
	// the current status equals the new one or ranks strictly below it.
	res, err := p.db.ExecContext(ctx, `
		UPDATE blockchain_transactions
		SET status = $2, tx_hash = $3, network_fee = COALESCE(NULLIF($4,'')::numeric, network_fee),
		    error_message = $5, confirmed_at = $6, updated_at = now()
		WHERE id = $1 AND (
			status = $2 OR
			(status = 'pending' AND $2 IN ('processing','completed','failed')) OR
			(status = 'processing' AND $2 IN ('completed','failed'))
		)
	`, t.ID, t.Status, t.TxHash, t.NetworkFee, t.ErrorMessage, t.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Distinguish a missing row from a disallowed transition.
		if _, getErr := p.GetTransaction(ctx, t.ID); getErr != nil {
			return getErr
		}
		return ErrStatusRegression
	}
	return nil
}

func (p *PostgresStore) PendingTransactions(ctx context.Context) ([]*Transaction, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM blockchain_transactions
		WHERE status IN ('pending', 'processing')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
