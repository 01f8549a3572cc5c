package token

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Litebank/internal/types"
	"github.com/fortiblox/X1-Litebank/pkg/message"
)

// Instruction builders producing wire-encoded token program instructions.

// NewInitializeMintInstruction builds an instruction configuring a mint.
func NewInitializeMintInstruction(mint types.Pubkey, decimals uint8, mintAuthority types.Pubkey, freezeAuthority *types.Pubkey) message.Instruction {
	data := make([]byte, 0, 67)
	data = append(data, InstructionInitializeMint, decimals)
	data = append(data, mintAuthority[:]...)
	if freezeAuthority != nil {
		data = append(data, 1)
		data = append(data, freezeAuthority[:]...)
	} else {
		data = append(data, 0)
	}
	return message.Instruction{
		ProgramID: types.TokenProgramAddr,
		Accounts: []message.AccountMeta{
			{Pubkey: mint, IsSigner: false, IsWritable: true},
		},
		Data: data,
	}
}

// NewInitializeAccountInstruction builds an instruction configuring a
// holding account for a mint.
func NewInitializeAccountInstruction(account, mint, owner types.Pubkey) message.Instruction {
	return message.Instruction{
		ProgramID: types.TokenProgramAddr,
		Accounts: []message.AccountMeta{
			{Pubkey: account, IsSigner: false, IsWritable: true},
			{Pubkey: mint, IsSigner: false, IsWritable: false},
			{Pubkey: owner, IsSigner: false, IsWritable: false},
		},
		Data: []byte{InstructionInitializeAccount},
	}
}

// NewTransferInstruction builds a token transfer between holding accounts.
func NewTransferInstruction(source, destination, owner types.Pubkey, amount uint64) message.Instruction {
	data := make([]byte, 9)
	data[0] = InstructionTransfer
	binary.LittleEndian.PutUint64(data[1:9], amount)
	return message.Instruction{
		ProgramID: types.TokenProgramAddr,
		Accounts: []message.AccountMeta{
			{Pubkey: source, IsSigner: false, IsWritable: true},
			{Pubkey: destination, IsSigner: false, IsWritable: true},
			{Pubkey: owner, IsSigner: true, IsWritable: false},
		},
		Data: data,
	}
}

// NewMintToInstruction builds an instruction minting new supply.
func NewMintToInstruction(mint, destination, authority types.Pubkey, amount uint64) message.Instruction {
	data := make([]byte, 9)
	data[0] = InstructionMintTo
	binary.LittleEndian.PutUint64(data[1:9], amount)
	return message.Instruction{
		ProgramID: types.TokenProgramAddr,
		Accounts: []message.AccountMeta{
			{Pubkey: mint, IsSigner: false, IsWritable: true},
			{Pubkey: destination, IsSigner: false, IsWritable: true},
			{Pubkey: authority, IsSigner: true, IsWritable: false},
		},
		Data: data,
	}
}

// NewBurnInstruction builds an instruction destroying held supply.
func NewBurnInstruction(account, mint, owner types.Pubkey, amount uint64) message.Instruction {
	data := make([]byte, 9)
	data[0] = InstructionBurn
	binary.LittleEndian.PutUint64(data[1:9], amount)
	return message.Instruction{
		ProgramID: types.TokenProgramAddr,
		Accounts: []message.AccountMeta{
			{Pubkey: account, IsSigner: false, IsWritable: true},
			{Pubkey: mint, IsSigner: false, IsWritable: true},
			{Pubkey: owner, IsSigner: true, IsWritable: false},
		},
		Data: data,
	}
}
