package litebank

import (
	"errors"
	"fmt"
)

// ErrorCode classifies why a transaction was rejected or failed.
type ErrorCode int

const (
	// CodeSignatureFailure: a signature is missing or does not verify.
	CodeSignatureFailure ErrorCode = iota + 1

	// CodeBlockhashNotFound: the recent blockhash is not in the active
	// window.
	CodeBlockhashNotFound

	// CodeAlreadyProcessed: the signature was seen before.
	CodeAlreadyProcessed

	// CodeUnsupportedVersion: the transaction uses address table lookups,
	// which require on-chain tables this bank does not host.
	CodeUnsupportedVersion

	// CodeAccountNotFound: the fee payer does not exist.
	CodeAccountNotFound

	// CodeInsufficientFundsForFee: the fee payer cannot cover the fee.
	CodeInsufficientFundsForFee

	// CodeTooManyAccountLocks: the transaction references more accounts
	// than the lock limit allows.
	CodeTooManyAccountLocks

	// CodeInvalidProgramForExecution: an instruction targets an address
	// that is not an executable program.
	CodeInvalidProgramForExecution

	// CodeInstructionError: an instruction handler returned an error.
	CodeInstructionError

	// CodeComputeBudgetExceeded: execution ran out of compute units.
	CodeComputeBudgetExceeded

	// CodeReadonlyViolation: an instruction mutated a readonly account.
	CodeReadonlyViolation

	// CodeUnbalancedInstruction: an instruction created or destroyed
	// lamports.
	CodeUnbalancedInstruction

	// CodeAccountLoadedTwice: the message lists the same account key at
	// more than one index.
	CodeAccountLoadedTwice
)

func (c ErrorCode) String() string {
	switch c {
	case CodeSignatureFailure:
		return "SignatureFailure"
	case CodeBlockhashNotFound:
		return "BlockhashNotFound"
	case CodeAlreadyProcessed:
		return "AlreadyProcessed"
	case CodeUnsupportedVersion:
		return "UnsupportedVersion"
	case CodeAccountNotFound:
		return "AccountNotFound"
	case CodeInsufficientFundsForFee:
		return "InsufficientFundsForFee"
	case CodeTooManyAccountLocks:
		return "TooManyAccountLocks"
	case CodeInvalidProgramForExecution:
		return "InvalidProgramForExecution"
	case CodeInstructionError:
		return "InstructionError"
	case CodeComputeBudgetExceeded:
		return "ComputeBudgetExceeded"
	case CodeReadonlyViolation:
		return "ReadonlyViolation"
	case CodeUnbalancedInstruction:
		return "UnbalancedInstruction"
	case CodeAccountLoadedTwice:
		return "AccountLoadedTwice"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// TransactionError describes why a transaction did not take effect.
// Rejections (everything before execution) are not recorded in history;
// execution failures are recorded with their state changes rolled back.
type TransactionError struct {
	// Code is the failure classification.
	Code ErrorCode

	// InstructionIndex is the failing instruction for execution errors,
	// -1 otherwise.
	InstructionIndex int

	// Err is the underlying cause, when one exists.
	Err error
}

func (e *TransactionError) Error() string {
	if e.InstructionIndex >= 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s at instruction %d: %v", e.Code, e.InstructionIndex, e.Err)
		}
		return fmt.Sprintf("%s at instruction %d", e.Code, e.InstructionIndex)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func rejection(code ErrorCode, err error) *TransactionError {
	return &TransactionError{Code: code, InstructionIndex: -1, Err: err}
}

// AsTransactionError extracts a TransactionError from an error chain.
func AsTransactionError(err error) (*TransactionError, bool) {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr, true
	}
	return nil, false
}

// Bank-level sentinel errors.
var (
	// ErrInvalidWarpTarget is returned when a warp target slot is behind
	// the current slot.
	ErrInvalidWarpTarget = errors.New("warp target must not be behind the current slot")

	// ErrTransactionNotFound is returned when a signature has no history
	// entry.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrClosed is returned after the bank has been closed.
	ErrClosed = errors.New("bank is closed")
)
