package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu        sync.RWMutex
	wallets   map[uuid.UUID]*HDWallet
	byAccount map[string]uuid.UUID
	addrs     map[uuid.UUID]*WalletAddress
	txs       map[uuid.UUID]*Transaction
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		wallets:   make(map[uuid.UUID]*HDWallet),
		byAccount: make(map[string]uuid.UUID),
		addrs:     make(map[uuid.UUID]*WalletAddress),
		txs:       make(map[uuid.UUID]*Transaction),
	}
}

func (m *MemoryStore) CreateWallet(_ context.Context, w *HDWallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byAccount[w.AccountID]; exists {
		return ErrWalletExists
	}
	cp := *w
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.wallets[cp.ID] = &cp
	m.byAccount[cp.AccountID] = cp.ID
	return nil
}

func (m *MemoryStore) GetWallet(_ context.Context, id uuid.UUID) (*HDWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) GetWalletByAccount(_ context.Context, accountID string) (*HDWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byAccount[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.wallets[id]
	return &cp, nil
}

func (m *MemoryStore) Wallets(_ context.Context) ([]*HDWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*HDWallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (m *MemoryStore) SetWalletIndex(_ context.Context, id uuid.UUID, index int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[id]
	if !ok {
		return ErrNotFound
	}
	if index > w.AddressIndex {
		w.AddressIndex = index
		w.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStore) CreateAddress(_ context.Context, a *WalletAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.addrs {
		if existing.WalletID == a.WalletID &&
			existing.Chain == a.Chain &&
			existing.AddressIndex == a.AddressIndex &&
			existing.Asset == a.Asset {
			return ErrIndexConflict
		}
	}
	cp := *a
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.addrs[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAddress(_ context.Context, id uuid.UUID) (*WalletAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.addrs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) FindAddress(_ context.Context, walletID uuid.UUID, c chain.Key, index int64, asset string) (*WalletAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.addrs {
		if a.WalletID == walletID && a.Chain == c && a.AddressIndex == index && a.Asset == asset {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindByAddress(_ context.Context, c chain.Key, address, asset string) (*WalletAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.addrs {
		if a.Chain == c && a.Address == address && a.Asset == asset {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListAddresses(_ context.Context, walletID uuid.UUID, c chain.Key) ([]*WalletAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*WalletAddress
	for _, a := range m.addrs {
		if a.WalletID != walletID {
			continue
		}
		if c != "" && a.Chain != c {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddressIndex != out[j].AddressIndex {
			return out[i].AddressIndex < out[j].AddressIndex
		}
		return out[i].Asset < out[j].Asset
	})
	return out, nil
}

func (m *MemoryStore) UpdateBalance(_ context.Context, addressID uuid.UUID, balance string, token bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.addrs[addressID]
	if !ok {
		return ErrNotFound
	}
	if token {
		a.TokenBalance = balance
	} else {
		a.Balance = balance
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) MarkUsed(_ context.Context, addressID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.addrs[addressID]
	if !ok {
		return ErrNotFound
	}
	a.IsUsed = true
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UnusedAddress(_ context.Context, walletID uuid.UUID, c chain.Key) (*WalletAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *WalletAddress
	for _, a := range m.addrs {
		if a.WalletID != walletID || a.Chain != c || a.Asset != "" || a.IsUsed {
			continue
		}
		if best == nil || a.AddressIndex < best.AddressIndex {
			best = a
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MemoryStore) CreateTransaction(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.txs[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, id uuid.UUID) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpdateTransaction(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.txs[t.ID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != old.Status && !old.Status.CanTransition(t.Status) {
		return ErrStatusRegression
	}
	cp := *t
	cp.CreatedAt = old.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	m.txs[t.ID] = &cp
	return nil
}

func (m *MemoryStore) PendingTransactions(_ context.Context) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, t := range m.txs {
		if !t.Status.Terminal() {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
