// Package computebudget implements the native compute-budget program.
//
// Compute-budget instructions do not execute anything themselves: the
// transaction processor scans for them before execution and applies the
// requested limit and price to the whole transaction. The builtin handler
// only re-validates the payload and charges its base cost.
package computebudget

import (
	"encoding/binary"
	"errors"

	"github.com/fortiblox/X1-Litebank/internal/types"
	"github.com/fortiblox/X1-Litebank/pkg/message"
	"github.com/fortiblox/X1-Litebank/pkg/program"
)

// Instruction discriminants, encoded as a single byte prefix.
const (
	InstructionRequestHeapFrame    = 1
	InstructionSetComputeUnitLimit = 2
	InstructionSetComputeUnitPrice = 3
)

// MaxComputeUnitLimit caps a requested per-transaction budget.
const MaxComputeUnitLimit = uint32(1_400_000)

var (
	ErrInvalidInstructionData = errors.New("invalid instruction data")
	ErrDuplicateInstruction   = errors.New("duplicate compute budget instruction")
)

// Budget is the outcome of scanning a transaction's compute-budget
// instructions.
type Budget struct {
	UnitLimit uint64
	UnitPrice uint64 // micro-lamports per compute unit
}

// Process is the compute-budget program entrypoint.
func Process(ctx program.InvokeContext, data []byte) error {
	if err := ctx.Consume(program.CostComputeBudget); err != nil {
		return err
	}
	_, _, err := parse(data)
	return err
}

// parse decodes one instruction, returning its discriminant and value.
func parse(data []byte) (byte, uint64, error) {
	if len(data) < 1 {
		return 0, 0, ErrInvalidInstructionData
	}
	switch data[0] {
	case InstructionRequestHeapFrame, InstructionSetComputeUnitLimit:
		if len(data) < 5 {
			return 0, 0, ErrInvalidInstructionData
		}
		return data[0], uint64(binary.LittleEndian.Uint32(data[1:5])), nil
	case InstructionSetComputeUnitPrice:
		if len(data) < 9 {
			return 0, 0, ErrInvalidInstructionData
		}
		return data[0], binary.LittleEndian.Uint64(data[1:9]), nil
	default:
		return 0, 0, ErrInvalidInstructionData
	}
}

// ScanBudget walks a compiled message's instructions and extracts the
// requested compute budget. At most one limit and one price instruction
// may appear; the default limit applies when none is present.
func ScanBudget(msg *message.Message, defaultLimit uint64) (Budget, error) {
	budget := Budget{UnitLimit: defaultLimit}
	var sawLimit, sawPrice bool
	for _, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(msg.AccountKeys) {
			continue
		}
		if msg.AccountKeys[ci.ProgramIDIndex] != types.ComputeBudgetProgramAddr {
			continue
		}
		disc, value, err := parse(ci.Data)
		if err != nil {
			return Budget{}, err
		}
		switch disc {
		case InstructionSetComputeUnitLimit:
			if sawLimit {
				return Budget{}, ErrDuplicateInstruction
			}
			sawLimit = true
			limit := value
			if limit > uint64(MaxComputeUnitLimit) {
				limit = uint64(MaxComputeUnitLimit)
			}
			budget.UnitLimit = limit
		case InstructionSetComputeUnitPrice:
			if sawPrice {
				return Budget{}, ErrDuplicateInstruction
			}
			sawPrice = true
			budget.UnitPrice = value
		}
	}
	return budget, nil
}

// NewSetComputeUnitLimitInstruction builds an instruction capping the
// transaction's compute budget.
func NewSetComputeUnitLimitInstruction(units uint32) message.Instruction {
	data := make([]byte, 5)
	data[0] = InstructionSetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:5], units)
	return message.Instruction{
		ProgramID: types.ComputeBudgetProgramAddr,
		Data:      data,
	}
}

// NewSetComputeUnitPriceInstruction builds an instruction setting the
// priority fee in micro-lamports per compute unit.
func NewSetComputeUnitPriceInstruction(microLamports uint64) message.Instruction {
	data := make([]byte, 9)
	data[0] = InstructionSetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:9], microLamports)
	return message.Instruction{
		ProgramID: types.ComputeBudgetProgramAddr,
		Data:      data,
	}
}
