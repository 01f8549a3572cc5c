// Package token implements a native token program compatible with the SPL
// token account layouts. It supports minting, holding accounts, transfers
// and burns over fungible tokens.
package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Litebank/internal/types"
	"github.com/fortiblox/X1-Litebank/pkg/program"
)

// Instruction discriminants, encoded as a single byte prefix. The gaps
// match unimplemented SPL instructions so the wire encoding stays aligned.
const (
	InstructionInitializeMint    = 0
	InstructionInitializeAccount = 1
	InstructionTransfer          = 3
	InstructionMintTo            = 7
	InstructionBurn              = 8
)

var (
	ErrInvalidInstructionData = errors.New("invalid instruction data")
	ErrNotEnoughAccountKeys   = errors.New("not enough account keys")
	ErrAlreadyInitialized     = errors.New("account already initialized")
	ErrUninitialized          = errors.New("account not initialized")
	ErrAccountFrozen          = errors.New("account frozen")
	ErrMintMismatch           = errors.New("token account mint mismatch")
	ErrOwnerMismatch          = errors.New("authority does not match")
	ErrMissingSignature       = errors.New("authority signature missing")
	ErrInsufficientFunds      = errors.New("insufficient token balance")
	ErrSupplyOverflow         = errors.New("token supply overflow")
	ErrFixedSupply            = errors.New("mint has no mint authority")
	ErrNotRentExempt          = errors.New("account not rent exempt")
	ErrInvalidAccountSize     = errors.New("account data has wrong size")
	ErrNotOwnedByToken        = errors.New("account not owned by token program")
)

// Process is the token program entrypoint.
func Process(ctx program.InvokeContext, data []byte) error {
	if err := ctx.Consume(program.CostToken); err != nil {
		return err
	}
	if len(data) < 1 {
		return ErrInvalidInstructionData
	}

	switch data[0] {
	case InstructionInitializeMint:
		return initializeMint(ctx, data[1:])
	case InstructionInitializeAccount:
		return initializeAccount(ctx)
	case InstructionTransfer:
		return transfer(ctx, data[1:])
	case InstructionMintTo:
		return mintTo(ctx, data[1:])
	case InstructionBurn:
		return burn(ctx, data[1:])
	default:
		return fmt.Errorf("%w: unknown discriminant %d", ErrInvalidInstructionData, data[0])
	}
}

// initializeMint configures a freshly created account as a mint.
// Accounts: [0] mint (writable). Data: decimals (1) + mint authority (32)
// + optional freeze authority (1 + 32).
func initializeMint(ctx program.InvokeContext, data []byte) error {
	if len(data) < 34 {
		return ErrInvalidInstructionData
	}
	decimals := data[0]
	var authority types.Pubkey
	copy(authority[:], data[1:33])

	freeze := OptionalPubkey{}
	if data[33] != 0 {
		if len(data) < 66 {
			return ErrInvalidInstructionData
		}
		freeze.Present = true
		copy(freeze.Key[:], data[34:66])
	}

	mintInfo, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	if err := checkTokenAccount(ctx, mintInfo, MintSize); err != nil {
		return err
	}

	existing, err := DeserializeMint(mintInfo.Data)
	if err != nil {
		return err
	}
	if existing.IsInitialized {
		return ErrAlreadyInitialized
	}

	mint := &Mint{
		MintAuthority:   OptionalPubkey{Present: true, Key: authority},
		Decimals:        decimals,
		IsInitialized:   true,
		FreezeAuthority: freeze,
	}
	copy(mintInfo.Data, mint.Serialize())

	ctx.Log(fmt.Sprintf("InitializeMint: %s decimals=%d", mintInfo.Key, decimals))
	return nil
}

// initializeAccount configures a holding account for a mint.
// Accounts: [0] account (writable), [1] mint, [2] owner.
func initializeAccount(ctx program.InvokeContext) error {
	accountInfo, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	mintInfo, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	ownerInfo, err := ctx.Account(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	if err := checkTokenAccount(ctx, accountInfo, TokenAccountSize); err != nil {
		return err
	}

	if _, err := loadMint(mintInfo); err != nil {
		return err
	}

	existing, err := DeserializeTokenAccount(accountInfo.Data)
	if err != nil {
		return err
	}
	if existing.State != StateUninitialized {
		return ErrAlreadyInitialized
	}

	holding := &TokenAccount{
		Mint:  mintInfo.Key,
		Owner: ownerInfo.Key,
		State: StateInitialized,
	}
	copy(accountInfo.Data, holding.Serialize())

	ctx.Log(fmt.Sprintf("InitializeAccount: %s holds %s for %s", accountInfo.Key, mintInfo.Key, ownerInfo.Key))
	return nil
}

// transfer moves tokens between two holding accounts of the same mint.
// Accounts: [0] source (writable), [1] destination (writable),
// [2] owner (signer).
func transfer(ctx program.InvokeContext, data []byte) error {
	amount, err := parseAmount(data)
	if err != nil {
		return err
	}

	srcInfo, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	dstInfo, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	authInfo, err := ctx.Account(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	src, err := loadTokenAccount(srcInfo)
	if err != nil {
		return err
	}
	dst, err := loadTokenAccount(dstInfo)
	if err != nil {
		return err
	}

	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if err := checkAuthority(src.Owner, authInfo); err != nil {
		return err
	}
	if src.Amount < amount {
		return ErrInsufficientFunds
	}
	if dst.Amount > ^uint64(0)-amount {
		return ErrSupplyOverflow
	}

	src.Amount -= amount
	dst.Amount += amount
	copy(srcInfo.Data, src.Serialize())
	copy(dstInfo.Data, dst.Serialize())

	ctx.Log(fmt.Sprintf("Transfer: %d tokens %s -> %s", amount, srcInfo.Key, dstInfo.Key))
	return nil
}

// mintTo creates new supply in a holding account.
// Accounts: [0] mint (writable), [1] destination (writable),
// [2] mint authority (signer).
func mintTo(ctx program.InvokeContext, data []byte) error {
	amount, err := parseAmount(data)
	if err != nil {
		return err
	}

	mintInfo, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	dstInfo, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	authInfo, err := ctx.Account(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	mint, err := loadMint(mintInfo)
	if err != nil {
		return err
	}
	dst, err := loadTokenAccount(dstInfo)
	if err != nil {
		return err
	}

	if !mint.MintAuthority.Present {
		return ErrFixedSupply
	}
	if err := checkAuthority(mint.MintAuthority.Key, authInfo); err != nil {
		return err
	}
	if dst.Mint != mintInfo.Key {
		return ErrMintMismatch
	}
	if mint.Supply > ^uint64(0)-amount || dst.Amount > ^uint64(0)-amount {
		return ErrSupplyOverflow
	}

	mint.Supply += amount
	dst.Amount += amount
	copy(mintInfo.Data, mint.Serialize())
	copy(dstInfo.Data, dst.Serialize())

	ctx.Log(fmt.Sprintf("MintTo: %d tokens of %s to %s", amount, mintInfo.Key, dstInfo.Key))
	return nil
}

// burn destroys supply held in a token account.
// Accounts: [0] account (writable), [1] mint (writable),
// [2] owner (signer).
func burn(ctx program.InvokeContext, data []byte) error {
	amount, err := parseAmount(data)
	if err != nil {
		return err
	}

	accountInfo, err := ctx.Account(0)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	mintInfo, err := ctx.Account(1)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}
	authInfo, err := ctx.Account(2)
	if err != nil {
		return ErrNotEnoughAccountKeys
	}

	holding, err := loadTokenAccount(accountInfo)
	if err != nil {
		return err
	}
	mint, err := loadMint(mintInfo)
	if err != nil {
		return err
	}

	if holding.Mint != mintInfo.Key {
		return ErrMintMismatch
	}
	if err := checkAuthority(holding.Owner, authInfo); err != nil {
		return err
	}
	if holding.Amount < amount {
		return ErrInsufficientFunds
	}
	if mint.Supply < amount {
		return ErrInsufficientFunds
	}

	holding.Amount -= amount
	mint.Supply -= amount
	copy(accountInfo.Data, holding.Serialize())
	copy(mintInfo.Data, mint.Serialize())

	ctx.Log(fmt.Sprintf("Burn: %d tokens of %s from %s", amount, mintInfo.Key, accountInfo.Key))
	return nil
}

func parseAmount(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, ErrInvalidInstructionData
	}
	return binary.LittleEndian.Uint64(data[0:8]), nil
}

func checkAuthority(expected types.Pubkey, authInfo *program.AccountInfo) error {
	if authInfo.Key != expected {
		return ErrOwnerMismatch
	}
	if !authInfo.IsSigner {
		return ErrMissingSignature
	}
	return nil
}

// checkTokenAccount verifies a to-be-initialized account: owned by the
// token program, sized for its layout, and rent exempt.
func checkTokenAccount(ctx program.InvokeContext, info *program.AccountInfo, size int) error {
	if info.Owner != types.TokenProgramAddr {
		return ErrNotOwnedByToken
	}
	if len(info.Data) != size {
		return ErrInvalidAccountSize
	}
	if info.Lamports < ctx.MinimumBalance(uint64(size)) {
		return ErrNotRentExempt
	}
	return nil
}

func loadMint(info *program.AccountInfo) (*Mint, error) {
	if info.Owner != types.TokenProgramAddr {
		return nil, ErrNotOwnedByToken
	}
	mint, err := DeserializeMint(info.Data)
	if err != nil {
		return nil, err
	}
	if !mint.IsInitialized {
		return nil, ErrUninitialized
	}
	return mint, nil
}

func loadTokenAccount(info *program.AccountInfo) (*TokenAccount, error) {
	if info.Owner != types.TokenProgramAddr {
		return nil, ErrNotOwnedByToken
	}
	account, err := DeserializeTokenAccount(info.Data)
	if err != nil {
		return nil, err
	}
	switch account.State {
	case StateUninitialized:
		return nil, ErrUninitialized
	case StateFrozen:
		return nil, ErrAccountFrozen
	}
	return account, nil
}
