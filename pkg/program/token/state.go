package token

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/X1-Litebank/internal/types"
)

// On-chain state layouts. Account state uses 4-byte option tags; sizes
// match the SPL token program so external tooling can read the data.

const (
	// MintSize is the serialized size of a mint account.
	MintSize = 82

	// TokenAccountSize is the serialized size of a token holding account.
	TokenAccountSize = 165
)

// Token account states.
const (
	StateUninitialized = uint8(0)
	StateInitialized   = uint8(1)
	StateFrozen        = uint8(2)
)

var ErrInvalidState = errors.New("invalid token state data")

// OptionalPubkey is a maybe-absent public key with wire-stable encoding.
type OptionalPubkey struct {
	Present bool
	Key     types.Pubkey
}

func appendOptionalPubkey(buf []byte, o OptionalPubkey) []byte {
	if o.Present {
		buf = binary.LittleEndian.AppendUint32(buf, 1)
	} else {
		buf = binary.LittleEndian.AppendUint32(buf, 0)
	}
	return append(buf, o.Key[:]...)
}

func readOptionalPubkey(data []byte) OptionalPubkey {
	var o OptionalPubkey
	o.Present = binary.LittleEndian.Uint32(data[0:4]) != 0
	copy(o.Key[:], data[4:36])
	return o
}

// Mint describes one token type.
type Mint struct {
	MintAuthority   OptionalPubkey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority OptionalPubkey
}

// Serialize encodes the mint into its fixed 82-byte layout.
func (m *Mint) Serialize() []byte {
	buf := make([]byte, 0, MintSize)
	buf = appendOptionalPubkey(buf, m.MintAuthority)
	buf = binary.LittleEndian.AppendUint64(buf, m.Supply)
	buf = append(buf, m.Decimals)
	if m.IsInitialized {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendOptionalPubkey(buf, m.FreezeAuthority)
	return buf
}

// DeserializeMint decodes an 82-byte mint layout.
func DeserializeMint(data []byte) (*Mint, error) {
	if len(data) != MintSize {
		return nil, ErrInvalidState
	}
	m := &Mint{
		MintAuthority: readOptionalPubkey(data[0:36]),
		Supply:        binary.LittleEndian.Uint64(data[36:44]),
		Decimals:      data[44],
		IsInitialized: data[45] != 0,
	}
	m.FreezeAuthority = readOptionalPubkey(data[46:82])
	return m, nil
}

// TokenAccount holds a balance of one mint for one owner.
type TokenAccount struct {
	Mint            types.Pubkey
	Owner           types.Pubkey
	Amount          uint64
	Delegate        OptionalPubkey
	State           uint8
	IsNative        bool
	NativeReserve   uint64
	DelegatedAmount uint64
	CloseAuthority  OptionalPubkey
}

// Serialize encodes the account into its fixed 165-byte layout.
func (a *TokenAccount) Serialize() []byte {
	buf := make([]byte, 0, TokenAccountSize)
	buf = append(buf, a.Mint[:]...)
	buf = append(buf, a.Owner[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, a.Amount)
	buf = appendOptionalPubkey(buf, a.Delegate)
	buf = append(buf, a.State)
	if a.IsNative {
		buf = binary.LittleEndian.AppendUint32(buf, 1)
	} else {
		buf = binary.LittleEndian.AppendUint32(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint64(buf, a.NativeReserve)
	buf = binary.LittleEndian.AppendUint64(buf, a.DelegatedAmount)
	buf = appendOptionalPubkey(buf, a.CloseAuthority)
	return buf
}

// DeserializeTokenAccount decodes a 165-byte token account layout.
func DeserializeTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) != TokenAccountSize {
		return nil, ErrInvalidState
	}
	a := &TokenAccount{}
	copy(a.Mint[:], data[0:32])
	copy(a.Owner[:], data[32:64])
	a.Amount = binary.LittleEndian.Uint64(data[64:72])
	a.Delegate = readOptionalPubkey(data[72:108])
	a.State = data[108]
	a.IsNative = binary.LittleEndian.Uint32(data[109:113]) != 0
	a.NativeReserve = binary.LittleEndian.Uint64(data[113:121])
	a.DelegatedAmount = binary.LittleEndian.Uint64(data[121:129])
	a.CloseAuthority = readOptionalPubkey(data[129:165])
	return a, nil
}
