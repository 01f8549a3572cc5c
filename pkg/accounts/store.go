// BadgerDB-backed store implementation.
package accounts

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/X1-Litebank/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixAccount is the prefix for account records.
	// Key format: prefixAccount + pubkey (32 bytes)
	prefixAccount = []byte{0x01}
)

// BadgerConfig contains configuration for the BadgerDB store.
type BadgerConfig struct {
	// Path is the directory for the database. Ignored when InMemory is set.
	Path string

	// InMemory runs the database entirely in memory. This is the default
	// for simulator use; the store then behaves like MemStore but scales
	// to ledgers that would be unreasonable to hold in a Go map.
	InMemory bool

	// SyncWrites ensures writes are synced to disk. Irrelevant in memory.
	SyncWrites bool
}

// DefaultBadgerConfig returns an in-memory configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	closed bool
}

// OpenBadgerStore opens a BadgerDB-backed account store.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 1+types.PubkeySize)
	copy(key, prefixAccount)
	copy(key[1:], pubkey[:])
	return key
}

// GetAccount retrieves a copy of an account.
func (s *BadgerStore) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if s.closed {
		return nil, ErrClosed
	}
	var account *Account
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		account, err = Deserialize(raw)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", pubkey, err)
	}
	return account, nil
}

// SetAccount stores an account. Zero accounts are purged.
func (s *BadgerStore) SetAccount(pubkey types.Pubkey, account *Account) error {
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if account.IsZero() {
			err := txn.Delete(accountKey(pubkey))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return txn.Set(accountKey(pubkey), account.Serialize())
	})
}

// HasAccount checks if an account exists.
func (s *BadgerStore) HasAccount(pubkey types.Pubkey) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(accountKey(pubkey))
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return exists, err
}

// AccountsCount returns the number of accounts.
func (s *BadgerStore) AccountsCount() (uint64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// ForEach visits every account in ascending address order. Badger iterates
// keys lexicographically, which for raw pubkey bytes is already the order
// MemStore produces, so digests agree between backends.
func (s *BadgerStore) ForEach(fn func(pubkey types.Pubkey, account *Account) error) error {
	if s.closed {
		return ErrClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 1+types.PubkeySize {
				return ErrInvalidData
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			account, err := Deserialize(raw)
			if err != nil {
				return err
			}
			if err := fn(pubkey, account); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
