// Package program implements the program loader and dispatch registry.
//
// Programs come in two flavors: builtins (native Go handlers for the system,
// compute-budget and token programs) and deployed bytecode (sBPF ELF blobs
// executed by a pluggable interpreter). The registry models this as a tagged
// variant per address — builtins are matched first, then deployed bytecode.
package program

import (
	"errors"

	"github.com/fortiblox/X1-Litebank/internal/types"
	"github.com/fortiblox/X1-Litebank/pkg/sysvars"
)

var (
	// ErrProgramNotFound is returned when an instruction's program address
	// is neither a builtin nor deployed bytecode.
	ErrProgramNotFound = errors.New("program not found")

	// ErrInvalidProgramData is returned when deployed bytecode fails
	// validation.
	ErrInvalidProgramData = errors.New("invalid program data")

	// ErrUnsupportedProgram is returned when bytecode execution is
	// requested but no interpreter is installed.
	ErrUnsupportedProgram = errors.New("no bytecode interpreter installed")

	// ErrAccountIndexOutOfRange is returned when a handler asks for an
	// account index the instruction did not declare.
	ErrAccountIndexOutOfRange = errors.New("account index out of range")
)

// Base compute costs charged per invocation of the builtins.
const (
	CostSystem        = uint64(150)
	CostComputeBudget = uint64(150)
	CostToken         = uint64(4_644)
)

// AccountInfo is a handler's view of one referenced account: a working copy
// scoped to the executing transaction. Mutations become visible only if the
// whole transaction commits.
type AccountInfo struct {
	Key        types.Pubkey
	Owner      types.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	RentEpoch  uint64
	IsSigner   bool
	IsWritable bool
}

// InvokeContext is the execution environment handed to program handlers.
type InvokeContext interface {
	// Account returns the working copy of the instruction account at index.
	Account(index int) (*AccountInfo, error)

	// NumAccounts returns the number of accounts the instruction declared.
	NumAccounts() int

	// ProgramID returns the address of the executing program.
	ProgramID() types.Pubkey

	// Clock returns the current clock sysvar.
	Clock() sysvars.Clock

	// MinimumBalance returns the rent-exempt minimum for a data length.
	MinimumBalance(dataLen uint64) uint64

	// Consume debits the transaction's compute budget.
	Consume(units uint64) error

	// Log appends a line to the transaction log.
	Log(msg string)

	// SetReturnData records the program's return data.
	SetReturnData(data []byte)
}

// Builtin is a native instruction handler.
type Builtin func(ctx InvokeContext, data []byte) error

// Interpreter executes deployed bytecode. It is an opaque sandbox; the
// simulator core only routes instructions into it.
type Interpreter interface {
	Execute(ctx InvokeContext, bytecode []byte, instructionData []byte) error
}

// Registry resolves program addresses to handlers.
type Registry struct {
	builtins map[types.Pubkey]Builtin
	bytecode map[types.Pubkey][]byte
	interp   Interpreter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		builtins: make(map[types.Pubkey]Builtin),
		bytecode: make(map[types.Pubkey][]byte),
	}
}

// RegisterBuiltin binds a native handler to an address.
func (r *Registry) RegisterBuiltin(addr types.Pubkey, handler Builtin) {
	r.builtins[addr] = handler
}

// SetInterpreter installs the bytecode interpreter used for deployed
// programs.
func (r *Registry) SetInterpreter(interp Interpreter) {
	r.interp = interp
}

// Deploy validates and stores bytecode under an address.
func (r *Registry) Deploy(addr types.Pubkey, bytecode []byte) error {
	if err := ValidateBytecode(bytecode); err != nil {
		return err
	}
	blob := make([]byte, len(bytecode))
	copy(blob, bytecode)
	r.bytecode[addr] = blob
	return nil
}

// IsRegistered reports whether the address resolves to any program.
func (r *Registry) IsRegistered(addr types.Pubkey) bool {
	if _, ok := r.builtins[addr]; ok {
		return true
	}
	_, ok := r.bytecode[addr]
	return ok
}

// IsBuiltin reports whether the address resolves to a native handler.
func (r *Registry) IsBuiltin(addr types.Pubkey) bool {
	_, ok := r.builtins[addr]
	return ok
}

// Invoke dispatches one instruction. Builtins take precedence over deployed
// bytecode at the same address.
func (r *Registry) Invoke(ctx InvokeContext, programID types.Pubkey, data []byte) error {
	if handler, ok := r.builtins[programID]; ok {
		return handler(ctx, data)
	}
	if blob, ok := r.bytecode[programID]; ok {
		if r.interp == nil {
			return ErrUnsupportedProgram
		}
		return r.interp.Execute(ctx, blob, data)
	}
	return ErrProgramNotFound
}
