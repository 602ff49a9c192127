// Package balance reads live on-chain balances and reconciles them into the
// store. A backend failure is never recorded as a zero balance; only a
// successful query that returns nothing counts as empty.
package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/chainclient"
	"github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
)

const (
	fetchAttempts  = 3
	fetchBaseDelay = 500 * time.Millisecond
	syncWorkers    = 8
)

// FetchError wraps a backend failure so callers can distinguish an
// unreachable node from a confirmed zero balance.
type FetchError struct {
	Chain   chain.Key
	Address string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch balance %s on %s: %v", e.Address, e.Chain, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Oracle fetches on-chain balances and writes them back to the store.
type Oracle struct {
	store   storage.Store
	clients *chainclient.Clients
}

// New creates an Oracle.
func New(store storage.Store, clients *chainclient.Clients) *Oracle {
	return &Oracle{store: store, clients: clients}
}

// Fetch returns the live balance of an address as a human decimal amount.
// key may be a token alias; it resolves to the base chain and contract.
// Read-only queries are retried with backoff before giving up.
func (o *Oracle) Fetch(ctx context.Context, key chain.Key, address string) (decimal.Decimal, error) {
	base, asset, contract, err := chain.Resolve(key)
	if err != nil {
		return decimal.Zero, err
	}
	return o.fetch(ctx, base, asset, contract, address)
}

func (o *Oracle) fetch(ctx context.Context, base chain.Params, asset, contract, address string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := chainclient.Retry(ctx, fetchAttempts, fetchBaseDelay, func(ctx context.Context) error {
		var err error
		amount, err = o.fetchOnce(ctx, base, asset, contract, address)
		return err
	})
	if err != nil {
		return decimal.Zero, &FetchError{Chain: base.Key, Address: address, Err: err}
	}
	return amount, nil
}

func (o *Oracle) fetchOnce(ctx context.Context, base chain.Params, asset, contract, address string) (decimal.Decimal, error) {
	decimals := base.Decimals
	if asset != "" {
		decimals = chain.TokenDecimals(base.Key, asset)
	}

	switch base.Family {
	case chain.FamilyEVM:
		cl, err := o.clients.EVM(base.Key)
		if err != nil {
			return decimal.Zero, err
		}
		if asset == "" {
			raw, err := cl.Balance(ctx, address)
			if err != nil {
				return decimal.Zero, err
			}
			return chain.FromSmallest(raw, decimals), nil
		}
		raw, err := cl.TokenBalance(ctx, contract, address)
		if err != nil {
			return decimal.Zero, err
		}
		return chain.FromSmallest(raw, decimals), nil

	case chain.FamilyBTC:
		cl, err := o.clients.BTC(base.Key)
		if err != nil {
			return decimal.Zero, err
		}
		sats, err := cl.Balance(ctx, address)
		if err != nil {
			return decimal.Zero, err
		}
		return chain.FromSmallest(big.NewInt(sats), decimals), nil

	case chain.FamilySOL:
		cl, err := o.clients.Solana(base.Key)
		if err != nil {
			return decimal.Zero, err
		}
		if asset == "" {
			lamports, err := cl.Balance(ctx, address)
			if err != nil {
				return decimal.Zero, err
			}
			return chain.FromSmallest(new(big.Int).SetUint64(lamports), decimals), nil
		}
		raw, err := cl.TokenBalance(ctx, address, contract)
		if err != nil {
			return decimal.Zero, err
		}
		return chain.FromSmallest(new(big.Int).SetUint64(raw), decimals), nil

	case chain.FamilyTRX:
		cl, err := o.clients.Tron(base.Key)
		if err != nil {
			return decimal.Zero, err
		}
		if asset == "" {
			sun, err := cl.Balance(ctx, address)
			if err != nil {
				return decimal.Zero, err
			}
			return chain.FromSmallest(big.NewInt(sun), decimals), nil
		}
		raw, err := cl.TokenBalance(ctx, address, contract)
		if err != nil {
			return decimal.Zero, err
		}
		return chain.FromSmallest(raw, decimals), nil
	}
	return decimal.Zero, fmt.Errorf("%w: family %q", chain.ErrUnsupportedChain, base.Family)
}

// Sync fetches the live balance for one address row and writes it back.
// Rows with an Asset tag update the token balance column; others update the
// native column. On fetch failure the stored balance is left untouched.
func (o *Oracle) Sync(ctx context.Context, a *storage.WalletAddress) (decimal.Decimal, error) {
	base, err := chain.Get(a.Chain)
	if err != nil {
		return decimal.Zero, err
	}
	contract := ""
	if a.Asset != "" {
		contract = chain.TokenContract(base.Key, a.Asset)
		if contract == "" {
			return decimal.Zero, fmt.Errorf("no contract registered for %s on %s", a.Asset, base.Key)
		}
	}
	amount, err := o.fetch(ctx, base, a.Asset, contract, a.Address)
	if err != nil {
		return decimal.Zero, err
	}

	token := a.Asset != ""
	stored := a.Balance
	if token {
		stored = a.TokenBalance
	}
	prev, err := chain.ParseAmount(stored)
	if err != nil || !prev.Equal(amount) {
		if err := o.store.UpdateBalance(ctx, a.ID, amount.String(), token); err != nil {
			return decimal.Zero, fmt.Errorf("record balance: %w", err)
		}
	}
	if amount.IsPositive() && !a.IsUsed {
		if err := o.store.MarkUsed(ctx, a.ID); err != nil {
			return decimal.Zero, fmt.Errorf("mark address used: %w", err)
		}
	}
	return amount, nil
}

// SyncWallet refreshes every address of a wallet on one chain concurrently.
// Individual fetch failures are logged and skipped so one dead endpoint
// cannot stall the rest; the first store error aborts.
func (o *Oracle) SyncWallet(ctx context.Context, walletID uuid.UUID, key chain.Key) error {
	addrs, err := o.store.ListAddresses(ctx, walletID, key)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(syncWorkers)
	for _, a := range addrs {
		a := a
		g.Go(func() error {
			if _, err := o.Sync(ctx, a); err != nil {
				var fe *FetchError
				if errors.As(err, &fe) {
					log.Oracle.Warn().Err(err).Str("address", a.Address).Msg("balance fetch failed, keeping stored value")
					return nil
				}
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
