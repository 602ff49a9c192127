// Package node wires the custody components together and runs the
// background jobs: balance sync, transaction monitoring, and gas sampling.
package node

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-custody/config"
	"github.com/Klingon-tech/klingnet-custody/internal/balance"
	"github.com/Klingon-tech/klingnet-custody/internal/chainclient"
	"github.com/Klingon-tech/klingnet-custody/internal/custody"
	"github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/monitor"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
	"github.com/Klingon-tech/klingnet-custody/internal/transfer"
	"github.com/Klingon-tech/klingnet-custody/internal/wallet"
)

// Node is the assembled custody engine.
type Node struct {
	cfg     *config.Config
	store   storage.Store
	clients *chainclient.Clients
	oracle  *balance.Oracle
	monitor *monitor.Monitor
	service *custody.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Node from configuration. The store is opened and the chain
// clients are constructed; nothing is polled until Start.
func New(cfg *config.Config) (*Node, error) {
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	cipher, err := wallet.NewCipher(cfg.SeedSecret)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("seed cipher: %w", err)
	}

	clients, err := chainclient.New(cfg.Chains)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("chain clients: %w", err)
	}

	oracle := balance.New(store, clients)
	engine := transfer.New(store, clients, cipher)

	return &Node{
		cfg:     cfg,
		store:   store,
		clients: clients,
		oracle:  oracle,
		monitor: monitor.New(store, clients),
		service: custody.New(store, cipher, oracle, engine),
	}, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		return storage.NewPostgres(storage.PostgresConfig{
			URL:             cfg.Store.DSN,
			MaxOpenConns:    16,
			MaxIdleConns:    4,
			ConnMaxLifetime: time.Hour,
		})
	default:
		return storage.NewBadger(cfg.StoreDir())
	}
}

// Service returns the custody service facade.
func (n *Node) Service() *custody.Service { return n.service }

// Start launches the background jobs.
func (n *Node) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	n.spawn(func() {
		n.monitor.Run(ctx, time.Duration(n.cfg.Sync.MonitorInterval)*time.Second)
	})
	n.spawn(func() {
		n.balanceLoop(ctx, time.Duration(n.cfg.Sync.BalanceInterval)*time.Second)
	})
	n.spawn(func() {
		n.gasLoop(ctx, time.Duration(n.cfg.Sync.GasInterval)*time.Second)
	})

	log.Logger.Info().Int("chains", len(n.cfg.Chains)).
		Str("store", string(n.cfg.Store.Backend)).Msg("custody engine started")
	return nil
}

func (n *Node) spawn(fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
}

// balanceLoop periodically refreshes stored balances for every wallet on
// every configured chain. A failing chain is logged and skipped.
func (n *Node) balanceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wallets, err := n.store.Wallets(ctx)
			if err != nil {
				log.Oracle.Warn().Err(err).Msg("balance sync: listing wallets failed")
				continue
			}
			for _, w := range wallets {
				for key := range n.cfg.Chains {
					if err := n.oracle.SyncWallet(ctx, w.ID, key); err != nil {
						log.Oracle.Warn().Err(err).
							Str("wallet", w.ID.String()).Str("chain", string(key)).
							Msg("balance sync failed")
					}
				}
			}
		}
	}
}

// gasLoop keeps the EVM gas-price histories warm so fee estimation rarely
// needs a live call.
func (n *Node) gasLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range n.clients.EVMKeys() {
				cl, err := n.clients.EVM(key)
				if err != nil {
					continue
				}
				if err := cl.SampleGasPrice(ctx); err != nil {
					log.Chain.Debug().Err(err).Str("chain", string(key)).
						Msg("gas sample failed")
				}
			}
		}
	}
}

// Stop cancels the jobs and releases the store and client connections.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	n.clients.Close()
	if err := n.store.Close(); err != nil {
		log.Logger.Error().Err(err).Msg("store close failed")
	}
	log.Logger.Info().Msg("custody engine stopped")
}
