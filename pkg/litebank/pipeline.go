package litebank

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/fortiblox/X1-Litebank/internal/types"
	"github.com/fortiblox/X1-Litebank/pkg/accounts"
	"github.com/fortiblox/X1-Litebank/pkg/message"
	"github.com/fortiblox/X1-Litebank/pkg/program"
	"github.com/fortiblox/X1-Litebank/pkg/program/computebudget"
	"github.com/fortiblox/X1-Litebank/pkg/sysvars"
)

// The pipeline runs a transaction through fixed stages: version check,
// signature verification, blockhash and replay checks, account loading,
// fee deduction, then sequential instruction execution. Failures before
// execution are rejections and leave no trace; failures during execution
// roll state back, charge the fee, and are recorded in history.

// workingSet holds the transaction's private copies of every referenced
// account, indexed like the message's account keys. Nothing touches the
// store until commit.
type workingSet struct {
	infos   []*program.AccountInfo
	existed []bool
}

func (b *Bank) loadWorkingSet(msg *message.Message) (*workingSet, error) {
	ws := &workingSet{
		infos:   make([]*program.AccountInfo, len(msg.AccountKeys)),
		existed: make([]bool, len(msg.AccountKeys)),
	}
	for i, key := range msg.AccountKeys {
		account, err := b.store.GetAccount(key)
		switch {
		case err == nil:
			ws.existed[i] = true
			ws.infos[i] = &program.AccountInfo{
				Key:        key,
				Owner:      account.Owner,
				Lamports:   account.Lamports,
				Data:       account.Data,
				Executable: account.Executable,
				RentEpoch:  account.RentEpoch,
				IsSigner:   msg.IsSigner(i),
				IsWritable: msg.IsWritable(i),
			}
		case errors.Is(err, accounts.ErrAccountNotFound):
			// Nonexistent accounts materialize as zero accounts owned by
			// the system program.
			ws.infos[i] = &program.AccountInfo{
				Key:        key,
				Owner:      types.SystemProgramAddr,
				IsSigner:   msg.IsSigner(i),
				IsWritable: msg.IsWritable(i),
			}
		default:
			return nil, err
		}
	}
	return ws, nil
}

// commit writes every working copy back to the store. Zero accounts are
// purged by the store itself.
func (b *Bank) commitWorkingSet(ws *workingSet) error {
	for _, info := range ws.infos {
		account := &accounts.Account{
			Lamports:   info.Lamports,
			Data:       info.Data,
			Owner:      info.Owner,
			Executable: info.Executable,
			RentEpoch:  info.RentEpoch,
		}
		if err := b.store.SetAccount(info.Key, account); err != nil {
			return err
		}
	}
	return nil
}

// logCollector accumulates program log lines up to a byte budget.
type logCollector struct {
	lines     []string
	bytes     int
	limit     int
	truncated bool
}

func (lc *logCollector) add(msg string) {
	if lc.truncated {
		return
	}
	if lc.limit > 0 && lc.bytes+len(msg) > lc.limit {
		lc.lines = append(lc.lines, "Log truncated")
		lc.truncated = true
		return
	}
	lc.bytes += len(msg)
	lc.lines = append(lc.lines, msg)
}

// invokeContext is the per-instruction execution environment handed to
// program handlers. Its account views alias the transaction working set.
type invokeContext struct {
	programID  types.Pubkey
	views      []*program.AccountInfo
	meter      *program.Meter
	logs       *logCollector
	clock      sysvars.Clock
	rent       sysvars.Rent
	returnData *[]byte
}

func (c *invokeContext) Account(index int) (*program.AccountInfo, error) {
	if index < 0 || index >= len(c.views) {
		return nil, program.ErrAccountIndexOutOfRange
	}
	return c.views[index], nil
}

func (c *invokeContext) NumAccounts() int {
	return len(c.views)
}

func (c *invokeContext) ProgramID() types.Pubkey {
	return c.programID
}

func (c *invokeContext) Clock() sysvars.Clock {
	return c.clock
}

func (c *invokeContext) MinimumBalance(dataLen uint64) uint64 {
	return c.rent.MinimumBalance(dataLen)
}

func (c *invokeContext) Consume(units uint64) error {
	return c.meter.Consume(units)
}

func (c *invokeContext) Log(msg string) {
	c.logs.add(msg)
}

func (c *invokeContext) SetReturnData(data []byte) {
	blob := make([]byte, len(data))
	copy(blob, data)
	*c.returnData = blob
}

// accountSnapshot captures one account's pre-instruction state for the
// post-instruction integrity checks.
type accountSnapshot struct {
	owner      types.Pubkey
	lamports   uint64
	data       []byte
	executable bool
	rentEpoch  uint64
}

func snapshotInfo(info *program.AccountInfo) accountSnapshot {
	data := make([]byte, len(info.Data))
	copy(data, info.Data)
	return accountSnapshot{
		owner:      info.Owner,
		lamports:   info.Lamports,
		data:       data,
		executable: info.Executable,
		rentEpoch:  info.RentEpoch,
	}
}

// verifyInstructionEffects enforces the mutation rules after a handler
// returns: readonly accounts must be untouched, only the owner program may
// change data, ownership or debit lamports, executable flags are frozen,
// and the instruction's lamport sum must balance.
func verifyInstructionEffects(programID types.Pubkey, views []*program.AccountInfo, pre []accountSnapshot) *TransactionError {
	var preSum, postSum uint64
	seen := make(map[types.Pubkey]bool, len(views))
	for i, info := range views {
		snap := pre[i]
		// Duplicate references view the same working copy; count each
		// account once for the balance check.
		if !seen[info.Key] {
			seen[info.Key] = true
			preSum += snap.lamports
			postSum += info.Lamports
		}

		changed := info.Lamports != snap.lamports ||
			info.Owner != snap.owner ||
			info.Executable != snap.executable ||
			info.RentEpoch != snap.rentEpoch ||
			!bytes.Equal(info.Data, snap.data)
		if !changed {
			continue
		}

		if !info.IsWritable {
			return &TransactionError{
				Code: CodeReadonlyViolation,
				Err:  fmt.Errorf("readonly account %s modified", info.Key),
			}
		}
		if info.Executable != snap.executable {
			return &TransactionError{
				Code: CodeReadonlyViolation,
				Err:  fmt.Errorf("executable flag of %s modified", info.Key),
			}
		}
		if snap.executable && !bytes.Equal(info.Data, snap.data) {
			return &TransactionError{
				Code: CodeReadonlyViolation,
				Err:  fmt.Errorf("executable account %s data modified", info.Key),
			}
		}

		// Credits are open to anyone; everything else is owner-only.
		ownerOnly := info.Lamports < snap.lamports ||
			info.Owner != snap.owner ||
			!bytes.Equal(info.Data, snap.data)
		if ownerOnly && snap.owner != programID {
			return &TransactionError{
				Code: CodeReadonlyViolation,
				Err:  fmt.Errorf("account %s owned by %s modified by %s", info.Key, snap.owner, programID),
			}
		}
	}

	if preSum != postSum {
		return &TransactionError{
			Code: CodeUnbalancedInstruction,
			Err:  fmt.Errorf("lamport sum changed from %d to %d", preSum, postSum),
		}
	}
	return nil
}

// processTransaction runs the full pipeline. On a rejection the returned
// result is nil. On an execution failure the result carries the error and,
// unless simulating, fee-only effects are committed and the result is
// recorded. ws is returned for simulation post-state inspection.
func (b *Bank) processTransaction(tx *message.Transaction, simulate bool) (*TransactionResult, *workingSet, *TransactionError) {
	msg := &tx.Message

	// Stage 1: version.
	if tx.Version != message.VersionLegacy && tx.Version != message.Version0 {
		return nil, nil, rejection(CodeUnsupportedVersion, fmt.Errorf("version %d", tx.Version))
	}
	if len(msg.AddressTableLookups) > 0 {
		return nil, nil, rejection(CodeUnsupportedVersion, errors.New("address table lookups require on-chain lookup tables"))
	}
	if len(msg.AccountKeys) == 0 || msg.Header.NumRequiredSignatures == 0 {
		return nil, nil, rejection(CodeSignatureFailure, errors.New("no required signatures"))
	}

	// Stage 2: signatures.
	if b.cfg.SigverifyEnabled {
		if err := tx.VerifySignatures(); err != nil {
			return nil, nil, rejection(CodeSignatureFailure, err)
		}
	}
	sig := tx.Signature()

	// Stage 3: blockhash and replay.
	if b.cfg.BlockhashCheckEnabled {
		if !b.isBlockhashValid(msg.RecentBlockhash) {
			return nil, nil, rejection(CodeBlockhashNotFound, nil)
		}
		if !simulate && b.history.contains(sig) {
			return nil, nil, rejection(CodeAlreadyProcessed, nil)
		}
	}

	// Stage 4: account loading.
	if len(msg.AccountKeys) > b.cfg.TransactionAccountLockLimit {
		return nil, nil, rejection(CodeTooManyAccountLocks,
			fmt.Errorf("%d accounts exceeds limit %d", len(msg.AccountKeys), b.cfg.TransactionAccountLockLimit))
	}
	// Each key gets exactly one working copy; a key listed at two indexes
	// would fork into independent copies and commit would clobber one
	// mutation with the other.
	seenKeys := make(map[types.Pubkey]bool, len(msg.AccountKeys))
	for _, key := range msg.AccountKeys {
		if seenKeys[key] {
			return nil, nil, rejection(CodeAccountLoadedTwice,
				fmt.Errorf("account %s listed more than once", key))
		}
		seenKeys[key] = true
	}
	ws, err := b.loadWorkingSet(msg)
	if err != nil {
		return nil, nil, rejection(CodeAccountNotFound, err)
	}
	payer := ws.infos[0]
	if !ws.existed[0] {
		return nil, nil, rejection(CodeAccountNotFound, fmt.Errorf("fee payer %s", payer.Key))
	}

	// Stage 5: fee.
	budget, err := computebudget.ScanBudget(msg, b.cfg.ComputeUnitLimit)
	if err != nil {
		return nil, nil, rejection(CodeInstructionError, err)
	}
	fee := b.calculateFee(int(msg.Header.NumRequiredSignatures), budget)
	if payer.Lamports < fee {
		return nil, nil, rejection(CodeInsufficientFundsForFee,
			fmt.Errorf("fee %d exceeds balance %d", fee, payer.Lamports))
	}
	payer.Lamports -= fee

	// Stage 6: execution.
	clock, clockErr := b.sysvars.Clock()
	if clockErr != nil {
		return nil, nil, rejection(CodeAccountNotFound, clockErr)
	}
	rent, rentErr := b.sysvars.Rent()
	if rentErr != nil {
		return nil, nil, rejection(CodeAccountNotFound, rentErr)
	}

	meter := program.NewMeter(budget.UnitLimit)
	logs := &logCollector{limit: b.cfg.LogBytesLimit}
	var returnData []byte

	result := &TransactionResult{
		Signature:  sig,
		Slot:       b.slot,
		FeeCharged: fee,
	}

	var execErr *TransactionError
	for i, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(msg.AccountKeys) {
			execErr = &TransactionError{
				Code:             CodeInvalidProgramForExecution,
				InstructionIndex: i,
				Err:              errors.New("program index out of range"),
			}
			break
		}
		programID := msg.AccountKeys[ci.ProgramIDIndex]
		if !b.registry.IsRegistered(programID) {
			execErr = &TransactionError{
				Code:             CodeInvalidProgramForExecution,
				InstructionIndex: i,
				Err:              fmt.Errorf("program %s", programID),
			}
			break
		}

		views := make([]*program.AccountInfo, len(ci.AccountIndexes))
		valid := true
		for j, idx := range ci.AccountIndexes {
			if int(idx) >= len(ws.infos) {
				valid = false
				break
			}
			views[j] = ws.infos[idx]
		}
		if !valid {
			execErr = &TransactionError{
				Code:             CodeInstructionError,
				InstructionIndex: i,
				Err:              errors.New("account index out of range"),
			}
			break
		}

		pre := make([]accountSnapshot, len(views))
		for j, info := range views {
			pre[j] = snapshotInfo(info)
		}

		logs.add(fmt.Sprintf("Program %s invoke", programID))
		ctx := &invokeContext{
			programID:  programID,
			views:      views,
			meter:      meter,
			logs:       logs,
			clock:      clock,
			rent:       rent,
			returnData: &returnData,
		}
		if err := b.registry.Invoke(ctx, programID, ci.Data); err != nil {
			logs.add(fmt.Sprintf("Program %s failed: %v", programID, err))
			code := CodeInstructionError
			if errors.Is(err, program.ErrComputeBudgetExceeded) {
				code = CodeComputeBudgetExceeded
			}
			execErr = &TransactionError{Code: code, InstructionIndex: i, Err: err}
			break
		}

		if verr := verifyInstructionEffects(programID, views, pre); verr != nil {
			logs.add(fmt.Sprintf("Program %s failed: %v", programID, verr.Err))
			verr.InstructionIndex = i
			execErr = verr
			break
		}
		logs.add(fmt.Sprintf("Program %s success", programID))
	}

	result.Err = execErr
	result.Logs = logs.lines
	result.ComputeUnitsConsumed = meter.Consumed()
	result.ReturnData = returnData

	if simulate {
		return result, ws, execErr
	}

	// Stage 7: commit.
	if execErr == nil {
		if err := b.commitWorkingSet(ws); err != nil {
			return nil, nil, rejection(CodeAccountNotFound, err)
		}
	} else if b.cfg.FeeChargeOnFailure {
		if err := b.chargeFee(payer.Key, fee); err != nil {
			return nil, nil, rejection(CodeAccountNotFound, err)
		}
	} else {
		result.FeeCharged = 0
	}

	b.history.record(result)
	b.txCount++
	b.advanceBlockhash()

	return result, ws, execErr
}

// calculateFee combines the flat per-signature fee with the prioritization
// fee requested through the compute budget, rounded up. The price is
// caller-supplied, so the product is taken at 128 bits and the result
// saturates instead of wrapping.
func (b *Bank) calculateFee(numSignatures int, budget computebudget.Budget) uint64 {
	fee := b.cfg.LamportsPerSignature * uint64(numSignatures)
	if budget.UnitPrice > 0 {
		hi, lo := bits.Mul64(budget.UnitPrice, budget.UnitLimit)
		lo, carry := bits.Add64(lo, 999_999, 0)
		hi += carry
		if hi >= 1_000_000 {
			return math.MaxUint64
		}
		priority, _ := bits.Div64(hi, lo, 1_000_000)
		if priority > math.MaxUint64-fee {
			return math.MaxUint64
		}
		fee += priority
	}
	return fee
}

// chargeFee debits the payer's stored account directly, used when a failed
// execution must still pay.
func (b *Bank) chargeFee(payer types.Pubkey, fee uint64) error {
	account, err := b.store.GetAccount(payer)
	if err != nil {
		return err
	}
	if account.Lamports < fee {
		account.Lamports = 0
	} else {
		account.Lamports -= fee
	}
	return b.store.SetAccount(payer, account)
}
