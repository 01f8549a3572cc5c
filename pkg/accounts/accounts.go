// Package accounts implements the account store holding all ledger state.
//
// The store maps 32-byte addresses to account records. It is the single
// mutable surface of the simulator: the transaction pipeline commits into it,
// and test code may inject arbitrary accounts directly, regardless of whether
// the resulting state is reachable through normal protocol rules.
//
// Two implementations are provided: MemStore, a plain map suitable for
// nearly every test, and BadgerStore, a BadgerDB-backed store for very large
// injected ledgers. Both return deep copies on read so callers can never
// mutate ledger state outside the commit protocol.
package accounts

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/fortiblox/X1-Litebank/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrInvalidData is returned when a serialized account is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxDataSize is the maximum account data size (10 MB).
const MaxDataSize = 10 * 1024 * 1024

// Account is a single ledger account record.
type Account struct {
	// Lamports is the account balance.
	Lamports uint64

	// Data is the account payload. For program accounts this is bytecode.
	Data []byte

	// Owner is the program that owns this account. Only the owner program
	// may modify the data or debit the balance.
	Owner types.Pubkey

	// Executable marks program accounts.
	Executable bool

	// RentEpoch is the epoch at which rent was last collected.
	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero returns true if the account has no lamports and no data.
// Zero accounts are indistinguishable from non-existent ones and are purged.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Equal reports whether two accounts are byte-identical.
func (a *Account) Equal(b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Lamports != b.Lamports || a.Owner != b.Owner ||
		a.Executable != b.Executable || a.RentEpoch != b.RentEpoch {
		return false
	}
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

// Size returns the total serialized size of the account.
func (a *Account) Size() int {
	// 8 (lamports) + 8 (data_len) + data + 32 (owner) + 1 (executable) + 8 (rent_epoch)
	return 8 + 8 + len(a.Data) + 32 + 1 + 8
}

// Serialize encodes the account for storage and snapshots.
// Format: lamports (8) + data_len (8) + data + owner (32) + executable (1) + rent_epoch (8)
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], a.Lamports)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], uint64(len(a.Data)))
	offset += 8

	copy(buf[offset:], a.Data)
	offset += len(a.Data)

	copy(buf[offset:], a.Owner[:])
	offset += 32

	if a.Executable {
		buf[offset] = 1
	}
	offset++

	binary.LittleEndian.PutUint64(buf[offset:], a.RentEpoch)
	return buf
}

// Deserialize decodes an account produced by Serialize.
func Deserialize(data []byte) (*Account, error) {
	if len(data) < 57 { // 8 + 8 + 0 + 32 + 1 + 8
		return nil, ErrInvalidData
	}

	offset := 0
	lamports := binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	dataLen := binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	if dataLen > MaxDataSize {
		return nil, ErrInvalidData
	}
	if uint64(len(data)-offset) < dataLen+41 { // 32 (owner) + 1 (executable) + 8 (rent_epoch)
		return nil, ErrInvalidData
	}

	accountData := make([]byte, dataLen)
	copy(accountData, data[offset:offset+int(dataLen)])
	offset += int(dataLen)

	var owner types.Pubkey
	copy(owner[:], data[offset:offset+32])
	offset += 32

	executable := data[offset] != 0
	offset++

	rentEpoch := binary.LittleEndian.Uint64(data[offset:])

	return &Account{
		Lamports:   lamports,
		Data:       accountData,
		Owner:      owner,
		Executable: executable,
		RentEpoch:  rentEpoch,
	}, nil
}

// Store is the account store interface.
type Store interface {
	// GetAccount retrieves a copy of an account by address.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores a copy of the account. Zero accounts are purged.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// ForEach iterates every account in unspecified order. The callback
	// receives copies and must not retain them across calls.
	ForEach(fn func(pubkey types.Pubkey, account *Account) error) error

	// Close releases the store.
	Close() error
}

// MemStore is the default in-memory store.
type MemStore struct {
	accounts map[types.Pubkey]*Account
	closed   bool
}

// NewMemStore creates a new in-memory account store.
func NewMemStore() *MemStore {
	return &MemStore{accounts: make(map[types.Pubkey]*Account)}
}

// GetAccount retrieves a copy of an account.
func (m *MemStore) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores a copy of the account.
func (m *MemStore) SetAccount(pubkey types.Pubkey, account *Account) error {
	if m.closed {
		return ErrClosed
	}
	if account.IsZero() {
		delete(m.accounts, pubkey)
		return nil
	}
	m.accounts[pubkey] = account.Clone()
	return nil
}

// HasAccount checks if an account exists.
func (m *MemStore) HasAccount(pubkey types.Pubkey) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// AccountsCount returns the number of accounts.
func (m *MemStore) AccountsCount() (uint64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// ForEach visits every account in sorted address order. Deterministic
// iteration keeps digests and snapshots stable across runs.
func (m *MemStore) ForEach(fn func(pubkey types.Pubkey, account *Account) error) error {
	if m.closed {
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	for k := range m.accounts {
		keys = append(keys, k)
	}
	SortPubkeys(keys)
	for _, k := range keys {
		if err := fn(k, m.accounts[k].Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the store.
func (m *MemStore) Close() error {
	m.closed = true
	m.accounts = nil
	return nil
}

// SortPubkeys sorts addresses in ascending byte order.
func SortPubkeys(keys []types.Pubkey) {
	sort.Slice(keys, func(i, j int) bool {
		for b := 0; b < types.PubkeySize; b++ {
			if keys[i][b] != keys[j][b] {
				return keys[i][b] < keys[j][b]
			}
		}
		return false
	})
}
