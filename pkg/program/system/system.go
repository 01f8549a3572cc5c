// Package system implements the native system program.
//
// The system program owns all plain wallet accounts. It creates accounts,
// transfers lamports, assigns ownership, allocates data space, and handles
// the seed-derived variants of those operations.
package system

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Litebank/internal/types"
	"github.com/fortiblox/X1-Litebank/pkg/program"
)

// Instruction discriminants, encoded as a little-endian u32 prefix.
const (
	InstructionCreateAccount = iota
	InstructionAssign
	InstructionTransfer
	InstructionCreateAccountWithSeed
	InstructionAdvanceNonceAccount
	InstructionWithdrawNonceAccount
	InstructionInitializeNonceAccount
	InstructionAuthorizeNonceAccount
	InstructionAllocate
	InstructionAllocateWithSeed
	InstructionAssignWithSeed
	InstructionTransferWithSeed
	InstructionUpgradeNonceAccount
)

var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountDataTooSmall      = errors.New("account data too small")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrArithmeticOverflow       = errors.New("lamport arithmetic overflow")
	ErrInvalidSeed              = errors.New("invalid seed")
	ErrAddressMismatch          = errors.New("seed-derived address mismatch")
)

// MaxAccountDataSize caps allocations at 10 MB.
const MaxAccountDataSize = 10 * 1024 * 1024

// MaxSeedLen caps the seed string length for the with-seed variants.
const MaxSeedLen = 32

// Process is the system program entrypoint.
func Process(ctx program.InvokeContext, data []byte) error {
	if err := ctx.Consume(program.CostSystem); err != nil {
		return err
	}
	if len(data) < 4 {
		return ErrInvalidInstructionData
	}

	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return createAccount(ctx, data[4:])
	case InstructionAssign:
		return assign(ctx, data[4:])
	case InstructionTransfer:
		return transfer(ctx, data[4:])
	case InstructionCreateAccountWithSeed:
		return createAccountWithSeed(ctx, data[4:])
	case InstructionAllocate:
		return allocate(ctx, data[4:])
	case InstructionAllocateWithSeed:
		return allocateWithSeed(ctx, data[4:])
	case InstructionAssignWithSeed:
		return assignWithSeed(ctx, data[4:])
	case InstructionTransferWithSeed:
		return transferWithSeed(ctx, data[4:])
	default:
		return fmt.Errorf("%w: unknown discriminant", ErrInvalidInstructionData)
	}
}

// createAccount funds, allocates and assigns a brand-new account.
// Accounts: [0] funder (signer, writable), [1] new account (signer, writable).
func createAccount(ctx program.InvokeContext, data []byte) error {
	// lamports (8) + space (8) + owner (32)
	if len(data) < 48 {
		return ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])
	space := binary.LittleEndian.Uint64(data[8:16])
	var owner types.Pubkey
	copy(owner[:], data[16:48])

	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	funder, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	created, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !funder.IsSigner || !created.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !funder.IsWritable || !created.IsWritable {
		return ErrAccountNotWritable
	}
	if created.Owner != types.SystemProgramAddr || len(created.Data) > 0 || created.Lamports > 0 {
		return ErrAccountAlreadyInUse
	}
	if funder.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if lamports < ctx.MinimumBalance(space) {
		return ErrAccountNotRentExempt
	}

	funder.Lamports -= lamports
	created.Lamports = lamports
	created.Data = make([]byte, space)
	created.Owner = owner

	ctx.Log(fmt.Sprintf("CreateAccount: %s allocated %d bytes", created.Key, space))
	return nil
}

// assign changes the owner of a system-owned account.
// Accounts: [0] account (signer, writable).
func assign(ctx program.InvokeContext, data []byte) error {
	if len(data) < 32 {
		return ErrInvalidInstructionData
	}
	var owner types.Pubkey
	copy(owner[:], data[0:32])

	account, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !account.IsWritable {
		return ErrAccountNotWritable
	}
	if account.Owner != types.SystemProgramAddr {
		return ErrInvalidAccountOwner
	}

	account.Owner = owner
	ctx.Log(fmt.Sprintf("Assign: %s now owned by %s", account.Key, owner))
	return nil
}

// transfer moves lamports between two accounts.
// Accounts: [0] source (signer, writable), [1] destination (writable).
func transfer(ctx program.InvokeContext, data []byte) error {
	if len(data) < 8 {
		return ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])

	from, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	to, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !from.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}
	// Only the system program may debit arbitrary data-free accounts;
	// accounts carrying data belong to their owner program.
	if from.Owner != types.SystemProgramAddr || len(from.Data) > 0 {
		return ErrInvalidAccountOwner
	}
	if from.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if to.Lamports > ^uint64(0)-lamports {
		return ErrArithmeticOverflow
	}

	from.Lamports -= lamports
	to.Lamports += lamports

	ctx.Log(fmt.Sprintf("Transfer: %d lamports %s -> %s", lamports, from.Key, to.Key))
	return nil
}

// allocate grows a system-owned account's data to the requested size.
// Accounts: [0] account (signer, writable).
func allocate(ctx program.InvokeContext, data []byte) error {
	if len(data) < 8 {
		return ErrInvalidInstructionData
	}
	space := binary.LittleEndian.Uint64(data[0:8])
	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	account, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if !account.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !account.IsWritable {
		return ErrAccountNotWritable
	}
	if account.Owner != types.SystemProgramAddr {
		return ErrInvalidAccountOwner
	}
	if uint64(len(account.Data)) > space {
		return ErrAccountDataTooSmall
	}

	grow(account, space)
	ctx.Log(fmt.Sprintf("Allocate: %s grown to %d bytes", account.Key, space))
	return nil
}

// seedParams holds the common prefix of the with-seed instruction payloads:
// base (32) + seed length (8) + seed bytes.
type seedParams struct {
	base types.Pubkey
	seed []byte
	rest []byte
}

func parseSeedPrefix(data []byte) (seedParams, error) {
	var p seedParams
	if len(data) < 40 {
		return p, ErrInvalidInstructionData
	}
	copy(p.base[:], data[0:32])
	seedLen := binary.LittleEndian.Uint64(data[32:40])
	if seedLen > MaxSeedLen || uint64(len(data)) < 40+seedLen {
		return p, ErrInvalidSeed
	}
	p.seed = data[40 : 40+seedLen]
	p.rest = data[40+seedLen:]
	return p, nil
}

// createAccountWithSeed creates an account at an address derived from
// base, seed and owner.
// Accounts: [0] funder (signer, writable), [1] created (writable),
// [2] base (signer) when base differs from the funder.
func createAccountWithSeed(ctx program.InvokeContext, data []byte) error {
	p, err := parseSeedPrefix(data)
	if err != nil {
		return err
	}
	// lamports (8) + space (8) + owner (32)
	if len(p.rest) < 48 {
		return ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(p.rest[0:8])
	space := binary.LittleEndian.Uint64(p.rest[8:16])
	var owner types.Pubkey
	copy(owner[:], p.rest[16:48])

	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	funder, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	created, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !funder.IsSigner {
		return ErrMissingRequiredSignature
	}
	if err := verifySeedSigner(ctx, funder, p.base); err != nil {
		return err
	}

	expected, err := types.CreateWithSeed(p.base, string(p.seed), owner)
	if err != nil {
		return ErrInvalidSeed
	}
	if expected != created.Key {
		return ErrAddressMismatch
	}

	if created.Owner != types.SystemProgramAddr || len(created.Data) > 0 || created.Lamports > 0 {
		return ErrAccountAlreadyInUse
	}
	if funder.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if lamports < ctx.MinimumBalance(space) {
		return ErrAccountNotRentExempt
	}

	funder.Lamports -= lamports
	created.Lamports = lamports
	created.Data = make([]byte, space)
	created.Owner = owner

	ctx.Log(fmt.Sprintf("CreateAccountWithSeed: %s allocated %d bytes", created.Key, space))
	return nil
}

// allocateWithSeed grows a seed-derived account and assigns its owner.
// Accounts: [0] account (writable), [1] base (signer).
func allocateWithSeed(ctx program.InvokeContext, data []byte) error {
	p, err := parseSeedPrefix(data)
	if err != nil {
		return err
	}
	// space (8) + owner (32)
	if len(p.rest) < 40 {
		return ErrInvalidInstructionData
	}
	space := binary.LittleEndian.Uint64(p.rest[0:8])
	var owner types.Pubkey
	copy(owner[:], p.rest[8:40])

	if space > MaxAccountDataSize {
		return ErrAccountDataTooLarge
	}

	account, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if err := verifySeedSigner(ctx, account, p.base); err != nil {
		return err
	}

	expected, err := types.CreateWithSeed(p.base, string(p.seed), owner)
	if err != nil {
		return ErrInvalidSeed
	}
	if expected != account.Key {
		return ErrAddressMismatch
	}
	if account.Owner != types.SystemProgramAddr {
		return ErrInvalidAccountOwner
	}
	if uint64(len(account.Data)) > space {
		return ErrAccountDataTooSmall
	}

	grow(account, space)
	account.Owner = owner

	ctx.Log(fmt.Sprintf("AllocateWithSeed: %s grown to %d bytes", account.Key, space))
	return nil
}

// assignWithSeed reassigns ownership of a seed-derived account.
// Accounts: [0] account (writable), [1] base (signer).
func assignWithSeed(ctx program.InvokeContext, data []byte) error {
	p, err := parseSeedPrefix(data)
	if err != nil {
		return err
	}
	if len(p.rest) < 32 {
		return ErrInvalidInstructionData
	}
	var owner types.Pubkey
	copy(owner[:], p.rest[0:32])

	account, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if err := verifySeedSigner(ctx, account, p.base); err != nil {
		return err
	}

	expected, err := types.CreateWithSeed(p.base, string(p.seed), owner)
	if err != nil {
		return ErrInvalidSeed
	}
	if expected != account.Key {
		return ErrAddressMismatch
	}
	if account.Owner != types.SystemProgramAddr {
		return ErrInvalidAccountOwner
	}

	account.Owner = owner
	ctx.Log(fmt.Sprintf("AssignWithSeed: %s now owned by %s", account.Key, owner))
	return nil
}

// transferWithSeed debits a seed-derived account whose base key signed.
// Accounts: [0] source (writable), [1] base (signer), [2] destination
// (writable).
func transferWithSeed(ctx program.InvokeContext, data []byte) error {
	// lamports (8) + seed length (8) + seed + source owner (32)
	if len(data) < 16 {
		return ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])
	seedLen := binary.LittleEndian.Uint64(data[8:16])
	if seedLen > MaxSeedLen || uint64(len(data)) < 48+seedLen {
		return ErrInvalidSeed
	}
	seed := data[16 : 16+seedLen]
	var fromOwner types.Pubkey
	copy(fromOwner[:], data[16+seedLen:48+seedLen])

	from, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	base, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	to, err := ctx.Account(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if !base.IsSigner {
		return ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return ErrAccountNotWritable
	}

	expected, err := types.CreateWithSeed(base.Key, string(seed), fromOwner)
	if err != nil {
		return ErrInvalidSeed
	}
	if expected != from.Key {
		return ErrAddressMismatch
	}
	if from.Lamports < lamports {
		return ErrInsufficientFunds
	}
	if to.Lamports > ^uint64(0)-lamports {
		return ErrArithmeticOverflow
	}

	from.Lamports -= lamports
	to.Lamports += lamports

	ctx.Log(fmt.Sprintf("TransferWithSeed: %d lamports %s -> %s", lamports, from.Key, to.Key))
	return nil
}

// verifySeedSigner checks that the base key of a with-seed instruction
// signed, either via the account itself or the trailing base account.
func verifySeedSigner(ctx program.InvokeContext, account *program.AccountInfo, base types.Pubkey) error {
	if account.Key == base && account.IsSigner {
		return nil
	}
	for i := 0; i < ctx.NumAccounts(); i++ {
		info, err := ctx.Account(i)
		if err != nil {
			return err
		}
		if info.Key == base {
			if !info.IsSigner {
				return ErrMissingRequiredSignature
			}
			return nil
		}
	}
	return ErrMissingRequiredSignature
}

func grow(account *program.AccountInfo, space uint64) {
	if uint64(len(account.Data)) < space {
		next := make([]byte, space)
		copy(next, account.Data)
		account.Data = next
	}
}
