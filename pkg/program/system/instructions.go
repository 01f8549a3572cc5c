package system

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Litebank/internal/types"
	"github.com/fortiblox/X1-Litebank/pkg/message"
)

// Instruction builders producing wire-encoded system program instructions.

// NewTransferInstruction builds a lamport transfer from one account to
// another. The source must sign.
func NewTransferInstruction(from, to types.Pubkey, lamports uint64) message.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], InstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return message.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts: []message.AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsSigner: false, IsWritable: true},
		},
		Data: data,
	}
}

// NewCreateAccountInstruction builds an instruction funding and allocating
// a new account. Both the funder and the new account must sign.
func NewCreateAccountInstruction(funder, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) message.Instruction {
	data := make([]byte, 52)
	binary.LittleEndian.PutUint32(data[0:4], InstructionCreateAccount)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	binary.LittleEndian.PutUint64(data[12:20], space)
	copy(data[20:52], owner[:])
	return message.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts: []message.AccountMeta{
			{Pubkey: funder, IsSigner: true, IsWritable: true},
			{Pubkey: newAccount, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

// NewAssignInstruction builds an instruction reassigning a system-owned
// account to a new owner program.
func NewAssignInstruction(account, owner types.Pubkey) message.Instruction {
	data := make([]byte, 36)
	binary.LittleEndian.PutUint32(data[0:4], InstructionAssign)
	copy(data[4:36], owner[:])
	return message.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts: []message.AccountMeta{
			{Pubkey: account, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

// NewAllocateInstruction builds an instruction growing a system-owned
// account's data to the given size.
func NewAllocateInstruction(account types.Pubkey, space uint64) message.Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], InstructionAllocate)
	binary.LittleEndian.PutUint64(data[4:12], space)
	return message.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts: []message.AccountMeta{
			{Pubkey: account, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

// NewCreateAccountWithSeedInstruction builds an instruction creating an
// account at the address derived from base, seed and owner.
func NewCreateAccountWithSeedInstruction(funder, created, base types.Pubkey, seed string, lamports, space uint64, owner types.Pubkey) message.Instruction {
	data := make([]byte, 0, 92+len(seed))
	data = binary.LittleEndian.AppendUint32(data, InstructionCreateAccountWithSeed)
	data = append(data, base[:]...)
	data = binary.LittleEndian.AppendUint64(data, uint64(len(seed)))
	data = append(data, seed...)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	data = binary.LittleEndian.AppendUint64(data, space)
	data = append(data, owner[:]...)

	metas := []message.AccountMeta{
		{Pubkey: funder, IsSigner: true, IsWritable: true},
		{Pubkey: created, IsSigner: false, IsWritable: true},
	}
	if base != funder {
		metas = append(metas, message.AccountMeta{Pubkey: base, IsSigner: true, IsWritable: false})
	}
	return message.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts:  metas,
		Data:      data,
	}
}

// NewTransferWithSeedInstruction builds a transfer debiting a seed-derived
// account. The base key signs on behalf of the source.
func NewTransferWithSeedInstruction(from, base, to types.Pubkey, seed string, fromOwner types.Pubkey, lamports uint64) message.Instruction {
	data := make([]byte, 0, 52+len(seed))
	data = binary.LittleEndian.AppendUint32(data, InstructionTransferWithSeed)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	data = binary.LittleEndian.AppendUint64(data, uint64(len(seed)))
	data = append(data, seed...)
	data = append(data, fromOwner[:]...)
	return message.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts: []message.AccountMeta{
			{Pubkey: from, IsSigner: false, IsWritable: true},
			{Pubkey: base, IsSigner: true, IsWritable: false},
			{Pubkey: to, IsSigner: false, IsWritable: true},
		},
		Data: data,
	}
}
