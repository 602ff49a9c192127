// Package monitor resolves in-flight transactions by polling the chains.
// Each transaction moves forward only: pending rows either complete, fail on
// chain, or time out and are marked failed so nothing polls forever.
package monitor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/chainclient"
	"github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
)

const pollWorkers = 8

// timeouts bound how long an unresolved transaction keeps being polled.
// Block times differ by an order of magnitude across families.
var timeouts = map[chain.Family]time.Duration{
	chain.FamilyBTC: 2 * time.Hour,
	chain.FamilyEVM: time.Hour,
	chain.FamilySOL: 10 * time.Minute,
	chain.FamilyTRX: 30 * time.Minute,
}

// Monitor polls pending transactions until they resolve.
type Monitor struct {
	store   storage.Store
	clients *chainclient.Clients
}

// New creates a Monitor.
func New(store storage.Store, clients *chainclient.Clients) *Monitor {
	return &Monitor{store: store, clients: clients}
}

// Run polls on the given interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Cycle(ctx); err != nil {
				log.Monitor.Warn().Err(err).Msg("monitor cycle failed")
			}
		}
	}
}

// Cycle checks every pending transaction once. Failures on one transaction
// never abort the rest of the cycle.
func (m *Monitor) Cycle(ctx context.Context) error {
	pending, err := m.store.PendingTransactions(ctx)
	if err != nil {
		return fmt.Errorf("list pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pollWorkers)
	for _, tx := range pending {
		tx := tx
		g.Go(func() error {
			if err := m.check(ctx, tx); err != nil {
				log.Monitor.Warn().Err(err).
					Str("tx", tx.ID.String()).Str("chain", string(tx.Chain)).
					Msg("status check failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// check resolves one transaction: completed when the chain confirms it,
// failed when the chain rejects it or the timeout elapses with no answer. A
// row that was never broadcast (no hash) fails once its timeout passes.
func (m *Monitor) check(ctx context.Context, tx *storage.Transaction) error {
	base, err := chain.Get(tx.Chain)
	if err != nil {
		return err
	}
	deadline, ok := timeouts[base.Family]
	if !ok {
		deadline = time.Hour
	}
	expired := time.Since(tx.CreatedAt) > deadline

	if tx.TxHash == "" {
		if expired {
			return m.fail(ctx, tx, "never broadcast within the monitoring window")
		}
		return nil
	}

	confirmed, failed, err := m.status(ctx, base, tx.TxHash)
	switch {
	case err != nil:
		if expired {
			return m.fail(ctx, tx, fmt.Sprintf("status unresolved after %s: %v", deadline, err))
		}
		return err
	case failed:
		return m.fail(ctx, tx, "rejected on chain")
	case confirmed:
		return m.complete(ctx, tx)
	case expired:
		return m.fail(ctx, tx, fmt.Sprintf("unconfirmed after %s", deadline))
	default:
		return nil
	}
}

func (m *Monitor) status(ctx context.Context, base chain.Params, txHash string) (confirmed, failed bool, err error) {
	switch base.Family {
	case chain.FamilyEVM:
		cl, err := m.clients.EVM(base.Key)
		if err != nil {
			return false, false, err
		}
		mined, success, err := cl.Receipt(ctx, txHash)
		if err != nil {
			return false, false, err
		}
		if !mined {
			return false, false, nil
		}
		return success, !success, nil

	case chain.FamilyBTC:
		cl, err := m.clients.BTC(base.Key)
		if err != nil {
			return false, false, err
		}
		ok, err := cl.Confirmed(ctx, txHash)
		return ok, false, err

	case chain.FamilySOL:
		cl, err := m.clients.Solana(base.Key)
		if err != nil {
			return false, false, err
		}
		return cl.SignatureStatus(ctx, txHash)

	case chain.FamilyTRX:
		cl, err := m.clients.Tron(base.Key)
		if err != nil {
			return false, false, err
		}
		return cl.TransactionResult(ctx, txHash)
	}
	return false, false, fmt.Errorf("%w: family %q", chain.ErrUnsupportedChain, base.Family)
}

func (m *Monitor) complete(ctx context.Context, tx *storage.Transaction) error {
	now := time.Now().UTC()
	tx.Status = storage.StatusCompleted
	tx.ConfirmedAt = &now
	if err := m.store.UpdateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	log.Monitor.Info().Str("tx", tx.ID.String()).Str("tx_hash", tx.TxHash).
		Str("chain", string(tx.Chain)).Msg("transaction confirmed")
	return nil
}

func (m *Monitor) fail(ctx context.Context, tx *storage.Transaction, reason string) error {
	tx.Status = storage.StatusFailed
	tx.ErrorMessage = reason
	if err := m.store.UpdateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	log.Monitor.Warn().Str("tx", tx.ID.String()).Str("tx_hash", tx.TxHash).
		Str("chain", string(tx.Chain)).Str("reason", reason).
		Msg("transaction failed")
	return nil
}
