package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Klingon-tech/klingnet-custody/internal/chain"
)

// Key prefixes. Secondary-index keys hold the primary record's id.
const (
	prefixWallet     = "w:"  // w:<wallet-id> -> HDWallet JSON
	prefixAccount    = "wa:" // wa:<account-id> -> wallet id
	prefixAddress    = "a:"  // a:<address-id> -> WalletAddress JSON
	prefixAddrIndex  = "ai:" // ai:<wallet-id>:<chain>:<index>:<asset> -> address id
	prefixAddrWallet = "aw:" // aw:<wallet-id>:<address-id> -> address id
	prefixAddrValue  = "av:" // av:<chain>:<address>:<asset> -> address id
	prefixTx         = "t:"  // t:<tx-id> -> Transaction JSON
	prefixTxPending  = "tp:" // tp:<tx-id> -> tx id while not terminal
)

// BadgerStore is an embedded Store for single-node deployments. Badger
// transactions give the same check-then-insert atomicity the Postgres store
// gets from unique constraints.
type BadgerStore struct {
	db *badger.DB
}

// NewBadger opens (or creates) a Badger-backed store at the given path.
func NewBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger's built-in logging.

	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, fmt.Errorf("store at %s is locked by another process (is another custodyd instance running?): %w", path, err)
		}
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func addrIndexKey(walletID uuid.UUID, c chain.Key, index int64, asset string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%012d:%s", prefixAddrIndex, walletID, c, index, asset))
}

func addrValueKey(c chain.Key, address, asset string) []byte {
	return []byte(prefixAddrValue + string(c) + ":" + address + ":" + asset)
}

func getJSON[T any](txn *badger.Txn, key []byte, out *T) error {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("badger get: %w", err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return txn.Set(key, data)
}

func (b *BadgerStore) CreateWallet(_ context.Context, w *HDWallet) error {
	return b.db.Update(func(txn *badger.Txn) error {
		acctKey := []byte(prefixAccount + w.AccountID)
		if _, err := txn.Get(acctKey); err == nil {
			return ErrWalletExists
		} else if err != badger.ErrKeyNotFound {
			return fmt.Errorf("badger get: %w", err)
		}

		now := time.Now().UTC()
		w.CreatedAt, w.UpdatedAt = now, now
		if err := setJSON(txn, []byte(prefixWallet+w.ID.String()), w); err != nil {
			return err
		}
		return txn.Set(acctKey, []byte(w.ID.String()))
	})
}

func (b *BadgerStore) GetWallet(_ context.Context, id uuid.UUID) (*HDWallet, error) {
	var w HDWallet
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixWallet+id.String()), &w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (b *BadgerStore) GetWalletByAccount(_ context.Context, accountID string) (*HDWallet, error) {
	var w HDWallet
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixAccount + accountID))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("badger get: %w", err)
		}
		return item.Value(func(val []byte) error {
			return getJSON(txn, []byte(prefixWallet+string(val)), &w)
		})
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (b *BadgerStore) Wallets(_ context.Context) ([]*HDWallet, error) {
	var out []*HDWallet
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixWallet)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var w HDWallet
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &w)
			})
			if err != nil {
				return err
			}
			cp := w
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerStore) SetWalletIndex(_ context.Context, id uuid.UUID, index int64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixWallet + id.String())
		var w HDWallet
		if err := getJSON(txn, key, &w); err != nil {
			return err
		}
		if index <= w.AddressIndex {
			return nil
		}
		w.AddressIndex = index
		w.UpdatedAt = time.Now().UTC()
		return setJSON(txn, key, &w)
	})
}

func (b *BadgerStore) CreateAddress(_ context.Context, a *WalletAddress) error {
	return b.db.Update(func(txn *badger.Txn) error {
		idxKey := addrIndexKey(a.WalletID, a.Chain, a.AddressIndex, a.Asset)
		if _, err := txn.Get(idxKey); err == nil {
			return ErrIndexConflict
		} else if err != badger.ErrKeyNotFound {
			return fmt.Errorf("badger get: %w", err)
		}

		now := time.Now().UTC()
		a.CreatedAt, a.UpdatedAt = now, now
		if err := setJSON(txn, []byte(prefixAddress+a.ID.String()), a); err != nil {
			return err
		}
		if err := txn.Set(idxKey, []byte(a.ID.String())); err != nil {
			return err
		}
		walletKey := []byte(prefixAddrWallet + a.WalletID.String() + ":" + a.ID.String())
		if err := txn.Set(walletKey, []byte(a.ID.String())); err != nil {
			return err
		}
		return txn.Set(addrValueKey(a.Chain, a.Address, a.Asset), []byte(a.ID.String()))
	})
}

func (b *BadgerStore) GetAddress(_ context.Context, id uuid.UUID) (*WalletAddress, error) {
	var a WalletAddress
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixAddress+id.String()), &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (b *BadgerStore) FindAddress(_ context.Context, walletID uuid.UUID, c chain.Key, index int64, asset string) (*WalletAddress, error) {
	var a WalletAddress
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(addrIndexKey(walletID, c, index, asset))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("badger get: %w", err)
		}
		return item.Value(func(val []byte) error {
			return getJSON(txn, []byte(prefixAddress+string(val)), &a)
		})
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (b *BadgerStore) FindByAddress(_ context.Context, c chain.Key, address, asset string) (*WalletAddress, error) {
	var a WalletAddress
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(addrValueKey(c, address, asset))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("badger get: %w", err)
		}
		return item.Value(func(val []byte) error {
			return getJSON(txn, []byte(prefixAddress+string(val)), &a)
		})
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// forEachAddress iterates the wallet's addresses via the aw: index.
func (b *BadgerStore) forEachAddress(txn *badger.Txn, walletID uuid.UUID, fn func(*WalletAddress)) error {
	prefix := []byte(prefixAddrWallet + walletID.String() + ":")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			var a WalletAddress
			if err := getJSON(txn, []byte(prefixAddress+string(val)), &a); err != nil {
				return err
			}
			fn(&a)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *BadgerStore) ListAddresses(_ context.Context, walletID uuid.UUID, c chain.Key) ([]*WalletAddress, error) {
	var out []*WalletAddress
	err := b.db.View(func(txn *badger.Txn) error {
		return b.forEachAddress(txn, walletID, func(a *WalletAddress) {
			if c == "" || a.Chain == c {
				cp := *a
				out = append(out, &cp)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddressIndex != out[j].AddressIndex {
			return out[i].AddressIndex < out[j].AddressIndex
		}
		return out[i].Asset < out[j].Asset
	})
	return out, nil
}

func (b *BadgerStore) updateAddress(id uuid.UUID, mutate func(*WalletAddress)) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixAddress + id.String())
		var a WalletAddress
		if err := getJSON(txn, key, &a); err != nil {
			return err
		}
		mutate(&a)
		a.UpdatedAt = time.Now().UTC()
		return setJSON(txn, key, &a)
	})
}

func (b *BadgerStore) UpdateBalance(_ context.Context, addressID uuid.UUID, balance string, token bool) error {
	return b.updateAddress(addressID, func(a *WalletAddress) {
		if token {
			a.TokenBalance = balance
		} else {
			a.Balance = balance
		}
	})
}

func (b *BadgerStore) MarkUsed(_ context.Context, addressID uuid.UUID) error {
	return b.updateAddress(addressID, func(a *WalletAddress) { a.IsUsed = true })
}

func (b *BadgerStore) UnusedAddress(_ context.Context, walletID uuid.UUID, c chain.Key) (*WalletAddress, error) {
	var best *WalletAddress
	err := b.db.View(func(txn *badger.Txn) error {
		return b.forEachAddress(txn, walletID, func(a *WalletAddress) {
			if a.Chain != c || a.Asset != "" || a.IsUsed {
				return
			}
			if best == nil || a.AddressIndex < best.AddressIndex {
				cp := *a
				best = &cp
			}
		})
	})
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (b *BadgerStore) CreateTransaction(_ context.Context, t *Transaction) error {
	return b.db.Update(func(txn *badger.Txn) error {
		now := time.Now().UTC()
		t.CreatedAt, t.UpdatedAt = now, now
		if err := setJSON(txn, []byte(prefixTx+t.ID.String()), t); err != nil {
			return err
		}
		if !t.Status.Terminal() {
			return txn.Set([]byte(prefixTxPending+t.ID.String()), []byte(t.ID.String()))
		}
		return nil
	})
}

func (b *BadgerStore) GetTransaction(_ context.Context, id uuid.UUID) (*Transaction, error) {
	var t Transaction
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(prefixTx+id.String()), &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *BadgerStore) UpdateTransaction(_ context.Context, t *Transaction) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixTx + t.ID.String())
		var old Transaction
		if err := getJSON(txn, key, &old); err != nil {
			return err
		}
		if t.Status != old.Status && !old.Status.CanTransition(t.Status) {
			return ErrStatusRegression
		}
		t.CreatedAt = old.CreatedAt
		t.UpdatedAt = time.Now().UTC()
		if err := setJSON(txn, key, t); err != nil {
			return err
		}
		if t.Status.Terminal() {
			return txn.Delete([]byte(prefixTxPending + t.ID.String()))
		}
		return nil
	})
}

func (b *BadgerStore) PendingTransactions(_ context.Context) ([]*Transaction, error) {
	var out []*Transaction
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixTxPending)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var t Transaction
				if err := getJSON(txn, []byte(prefixTx+string(val)), &t); err != nil {
					return err
				}
				out = append(out, &t)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
