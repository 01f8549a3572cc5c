// Package message implements transaction messages and their wire format.
//
// The serialized message is the signable payload: header, compact array of
// account keys, recent blockhash, compact array of compiled instructions.
// Arrays use the compact-u16 length prefix of the Solana wire format, so
// signatures produced over these bytes match what a real node verifies.
package message

import (
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Litebank/internal/types"
)

var (
	// ErrTooManyAccounts is returned when a message references more than
	// 256 accounts (indexes are single bytes).
	ErrTooManyAccounts = errors.New("too many account keys")

	// ErrAccountNotInMessage is returned when an instruction references a
	// key absent from the message account list.
	ErrAccountNotInMessage = errors.New("account not in message")

	// ErrInvalidMessage is returned when decoding malformed message bytes.
	ErrInvalidMessage = errors.New("invalid message")
)

// AccountMeta names an account an instruction touches and its access mode.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is one call into a program. Immutable once constructed.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// MessageHeader describes the account types in a message.
type MessageHeader struct {
	// NumRequiredSignatures is the number of signatures required.
	NumRequiredSignatures uint8

	// NumReadonlySignedAccounts is the number of readonly signer accounts.
	NumReadonlySignedAccounts uint8

	// NumReadonlyUnsignedAccounts is the number of readonly non-signer accounts.
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references message accounts by index.
type CompiledInstruction struct {
	// ProgramIDIndex is the index of the program account in AccountKeys.
	ProgramIDIndex uint8

	// AccountIndexes lists the account indexes this instruction uses.
	AccountIndexes []uint8

	// Data is the opaque instruction payload.
	Data []byte
}

// AddressTableLookup references an address lookup table for versioned
// messages.
type AddressTableLookup struct {
	AccountKey      types.Pubkey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// Message is a compiled transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []types.Pubkey
	RecentBlockhash types.Hash
	Instructions    []CompiledInstruction

	// AddressTableLookups is only populated on versioned messages.
	AddressTableLookups []AddressTableLookup
}

// Compile builds a message from instructions. The fee payer becomes account
// zero; remaining accounts are ordered writable signers, readonly signers,
// writable non-signers, readonly non-signers, with program IDs appended as
// readonly non-signers. Access flags merge across instructions.
func Compile(payer types.Pubkey, instrs []Instruction, blockhash types.Hash) (*Message, error) {
	type meta struct {
		signer   bool
		writable bool
	}
	metas := make(map[types.Pubkey]*meta)
	order := []types.Pubkey{}

	upsert := func(key types.Pubkey, signer, writable bool) {
		m, ok := metas[key]
		if !ok {
			m = &meta{}
			metas[key] = m
			order = append(order, key)
		}
		m.signer = m.signer || signer
		m.writable = m.writable || writable
	}

	upsert(payer, true, true)
	for _, ix := range instrs {
		for _, am := range ix.Accounts {
			upsert(am.Pubkey, am.IsSigner, am.IsWritable)
		}
	}
	for _, ix := range instrs {
		upsert(ix.ProgramID, false, false)
	}

	if len(order) > 256 {
		return nil, ErrTooManyAccounts
	}

	// Stable bucket sort: payer, then writable signers, readonly signers,
	// writable non-signers, readonly non-signers.
	keys := make([]types.Pubkey, 0, len(order))
	keys = append(keys, payer)
	appendBucket := func(signer, writable bool) {
		for _, k := range order {
			if k == payer {
				continue
			}
			m := metas[k]
			if m.signer == signer && m.writable == writable {
				keys = append(keys, k)
			}
		}
	}
	appendBucket(true, true)
	appendBucket(true, false)
	appendBucket(false, true)
	appendBucket(false, false)

	index := make(map[types.Pubkey]uint8, len(keys))
	for i, k := range keys {
		index[k] = uint8(i)
	}

	var header MessageHeader
	for _, k := range keys {
		m := metas[k]
		if m.signer {
			header.NumRequiredSignatures++
			if !m.writable {
				header.NumReadonlySignedAccounts++
			}
		} else if !m.writable {
			header.NumReadonlyUnsignedAccounts++
		}
	}

	compiled := make([]CompiledInstruction, len(instrs))
	for i, ix := range instrs {
		ci := CompiledInstruction{
			ProgramIDIndex: index[ix.ProgramID],
			AccountIndexes: make([]uint8, len(ix.Accounts)),
			Data:           ix.Data,
		}
		for j, am := range ix.Accounts {
			idx, ok := index[am.Pubkey]
			if !ok {
				return nil, ErrAccountNotInMessage
			}
			ci.AccountIndexes[j] = idx
		}
		compiled[i] = ci
	}

	return &Message{
		Header:          header,
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
		Instructions:    compiled,
	}, nil
}

// IsSigner reports whether the account at index must sign.
func (m *Message) IsSigner(index int) bool {
	return index < int(m.Header.NumRequiredSignatures)
}

// IsWritable reports whether the account at index may be mutated.
func (m *Message) IsWritable(index int) bool {
	numSigners := int(m.Header.NumRequiredSignatures)
	if index < numSigners {
		return index < numSigners-int(m.Header.NumReadonlySignedAccounts)
	}
	return index < len(m.AccountKeys)-int(m.Header.NumReadonlyUnsignedAccounts)
}

// FeePayer returns the designated fee payer (account zero).
func (m *Message) FeePayer() (types.Pubkey, error) {
	if len(m.AccountKeys) == 0 {
		return types.Pubkey{}, ErrInvalidMessage
	}
	return m.AccountKeys[0], nil
}

// Serialize produces the signable payload.
func (m *Message) Serialize() []byte {
	size := 3 + compactU16Len(len(m.AccountKeys)) + len(m.AccountKeys)*types.PubkeySize +
		types.HashSize + compactU16Len(len(m.Instructions))
	for _, ix := range m.Instructions {
		size += 1 + compactU16Len(len(ix.AccountIndexes)) + len(ix.AccountIndexes) +
			compactU16Len(len(ix.Data)) + len(ix.Data)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts)
	buf = appendCompactU16(buf, len(m.AccountKeys))
	for _, key := range m.AccountKeys {
		buf = append(buf, key[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)
	buf = appendCompactU16(buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf = append(buf, ix.ProgramIDIndex)
		buf = appendCompactU16(buf, len(ix.AccountIndexes))
		buf = append(buf, ix.AccountIndexes...)
		buf = appendCompactU16(buf, len(ix.Data))
		buf = append(buf, ix.Data...)
	}
	return buf
}

// Deserialize decodes a legacy message produced by Serialize.
func Deserialize(data []byte) (*Message, error) {
	d := decoder{buf: data}
	var m Message
	m.Header.NumRequiredSignatures = d.u8()
	m.Header.NumReadonlySignedAccounts = d.u8()
	m.Header.NumReadonlyUnsignedAccounts = d.u8()

	numKeys := d.compactU16()
	if numKeys > 256 {
		return nil, ErrTooManyAccounts
	}
	m.AccountKeys = make([]types.Pubkey, numKeys)
	for i := range m.AccountKeys {
		copy(m.AccountKeys[i][:], d.bytes(types.PubkeySize))
	}
	copy(m.RecentBlockhash[:], d.bytes(types.HashSize))

	numInstrs := d.compactU16()
	if numInstrs > len(data) {
		return nil, ErrInvalidMessage
	}
	m.Instructions = make([]CompiledInstruction, numInstrs)
	for i := range m.Instructions {
		ix := &m.Instructions[i]
		ix.ProgramIDIndex = d.u8()
		numAccs := d.compactU16()
		ix.AccountIndexes = append([]uint8(nil), d.bytes(numAccs)...)
		dataLen := d.compactU16()
		ix.Data = append([]byte(nil), d.bytes(dataLen)...)
	}
	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, d.err)
	}
	return &m, nil
}

// compact-u16 encoding: little-endian base-128 varint capped at 3 bytes.

func appendCompactU16(buf []byte, v int) []byte {
	for {
		if v < 0x80 {
			return append(buf, byte(v))
		}
		buf = append(buf, byte(v&0x7f)|0x80)
		v >>= 7
	}
}

func compactU16Len(v int) int {
	switch {
	case v < 0x80:
		return 1
	case v < 0x4000:
		return 2
	default:
		return 3
	}
}

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) u8() uint8 {
	if d.err != nil || d.off >= len(d.buf) {
		d.fail()
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil || n < 0 || d.off+n > len(d.buf) {
		d.fail()
		return nil
	}
	v := d.buf[d.off : d.off+n]
	d.off += n
	return v
}

func (d *decoder) compactU16() int {
	v := 0
	for shift := 0; shift < 21; shift += 7 {
		b := d.u8()
		v |= int(b&0x7f) << shift
		if b < 0x80 {
			return v
		}
	}
	d.fail()
	return 0
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = errors.New("truncated input")
	}
}
