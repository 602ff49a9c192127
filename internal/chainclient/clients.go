// Package chainclient provides the network clients for each supported chain
// family: JSON-RPC for EVM chains, a block-explorer REST API for Bitcoin,
// RPC for Solana, and the HTTP full-node API for Tron.
//
// Clients is explicit injected state: components needing network access
// receive a *Clients rather than reaching for process-wide singletons.
package chainclient

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

// Clients holds one client per configured chain, keyed by registry key.
type Clients struct {
	evm map[chain.Key]*EVMClient
	btc map[chain.Key]*BTCClient
	sol map[chain.Key]*SolanaClient
	trx map[chain.Key]*TronClient
}

// New builds clients for every chain with a configured endpoint. Chains
// without an endpoint are skipped; operations against them fail with a
// "not configured" error rather than at startup.
func New(endpoints map[chain.Key]string) (*Clients, error) {
	c := &Clients{
		evm: make(map[chain.Key]*EVMClient),
		btc: make(map[chain.Key]*BTCClient),
		sol: make(map[chain.Key]*SolanaClient),
		trx: make(map[chain.Key]*TronClient),
	}

	for key, url := range endpoints {
		if url == "" {
			continue
		}
		p, err := chain.Get(key)
		if err != nil {
			return nil, err
		}
		if p.IsTokenAlias {
			return nil, fmt.Errorf("endpoint configured for token alias %q; configure its base chain %q instead", key, p.BaseChain)
		}
		switch p.Family {
		case chain.FamilyEVM:
			c.evm[p.Key] = NewEVM(url, p.ChainID)
		case chain.FamilyBTC:
			c.btc[p.Key] = NewBTC(url, p.Testnet)
		case chain.FamilySOL:
			c.sol[p.Key] = NewSolana(url)
		case chain.FamilyTRX:
			c.trx[p.Key] = NewTron(url)
		}
	}
	return c, nil
}

// EVM returns the client for an EVM chain key.
func (c *Clients) EVM(key chain.Key) (*EVMClient, error) {
	cl, ok := c.evm[key]
	if !ok {
		return nil, fmt.Errorf("no EVM client configured for %q", key)
	}
	return cl, nil
}

// BTC returns the client for a Bitcoin chain key.
func (c *Clients) BTC(key chain.Key) (*BTCClient, error) {
	cl, ok := c.btc[key]
	if !ok {
		return nil, fmt.Errorf("no BTC client configured for %q", key)
	}
	return cl, nil
}

// Solana returns the client for a Solana chain key.
func (c *Clients) Solana(key chain.Key) (*SolanaClient, error) {
	cl, ok := c.sol[key]
	if !ok {
		return nil, fmt.Errorf("no Solana client configured for %q", key)
	}
	return cl, nil
}

// Tron returns the client for a Tron chain key.
func (c *Clients) Tron(key chain.Key) (*TronClient, error) {
	cl, ok := c.trx[key]
	if !ok {
		return nil, fmt.Errorf("no Tron client configured for %q", key)
	}
	return cl, nil
}

// EVMKeys returns the configured EVM chain keys (for gas sampling jobs).
func (c *Clients) EVMKeys() []chain.Key {
	keys := make([]chain.Key, 0, len(c.evm))
	for k := range c.evm {
		keys = append(keys, k)
	}
	return keys
}

// Close releases underlying connections.
func (c *Clients) Close() {
	for _, cl := range c.evm {
		cl.Close()
	}
}
