package litebank

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/fortiblox/X1-Litebank/internal/types"
	"github.com/fortiblox/X1-Litebank/pkg/accounts"
	"github.com/fortiblox/X1-Litebank/pkg/message"
	"github.com/fortiblox/X1-Litebank/pkg/program"
	"github.com/fortiblox/X1-Litebank/pkg/program/computebudget"
	"github.com/fortiblox/X1-Litebank/pkg/program/system"
	"github.com/fortiblox/X1-Litebank/pkg/program/token"
)

func newTestBank(t *testing.T, cfg Config) *Bank {
	t.Helper()
	bank, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { bank.Close() })
	return bank
}

func mustKeypair(t *testing.T) *types.Keypair {
	t.Helper()
	kp, err := types.NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair: %v", err)
	}
	return kp
}

func fund(t *testing.T, bank *Bank, addr types.Pubkey, lamports uint64) {
	t.Helper()
	if _, err := bank.Airdrop(addr, lamports); err != nil {
		t.Fatalf("Airdrop: %v", err)
	}
}

func sendTransfer(t *testing.T, bank *Bank, from *types.Keypair, to types.Pubkey, lamports uint64) (*TransactionResult, error) {
	t.Helper()
	instr := system.NewTransferInstruction(from.Pubkey(), to, lamports)
	tx, err := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), from)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	return bank.SendTransaction(tx)
}

func TestAirdropAndBalance(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	wallet := mustKeypair(t)

	result, err := bank.Airdrop(wallet.Pubkey(), 5_000_000_000)
	if err != nil {
		t.Fatalf("Airdrop: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("airdrop failed: %v", result.Err)
	}

	balance, err := bank.GetBalance(wallet.Pubkey())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 5_000_000_000 {
		t.Errorf("balance = %d, want 5000000000", balance)
	}

	// Unknown accounts report zero.
	balance, err = bank.GetBalance(types.Pubkey{42})
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 0 {
		t.Errorf("unknown account balance = %d, want 0", balance)
	}
}

func TestTransferDebitsFee(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000)

	result, err := sendTransfer(t, bank, alice, bob.Pubkey(), 250_000)
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}

	aliceBalance, _ := bank.GetBalance(alice.Pubkey())
	bobBalance, _ := bank.GetBalance(bob.Pubkey())
	wantAlice := uint64(1_000_000) - 250_000 - result.FeeCharged
	if aliceBalance != wantAlice {
		t.Errorf("alice = %d, want %d", aliceBalance, wantAlice)
	}
	if bobBalance != 250_000 {
		t.Errorf("bob = %d, want 250000", bobBalance)
	}
	if result.FeeCharged != DefaultConfig().LamportsPerSignature {
		t.Errorf("fee = %d, want %d", result.FeeCharged, DefaultConfig().LamportsPerSignature)
	}
}

func TestRejectionLeavesNoTrace(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)

	// Alice does not exist: fee payer missing.
	instr := system.NewTransferInstruction(alice.Pubkey(), bob.Pubkey(), 1)
	tx, err := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	result, err := bank.SendTransaction(tx)
	if result != nil {
		t.Error("rejection produced a result")
	}
	txErr, ok := AsTransactionError(err)
	if !ok || txErr.Code != CodeAccountNotFound {
		t.Fatalf("expected AccountNotFound rejection, got %v", err)
	}

	if _, err := bank.GetTransaction(tx.Signature()); !errors.Is(err, ErrTransactionNotFound) {
		t.Error("rejected transaction entered history")
	}
	if bank.TransactionCount() != 0 {
		t.Error("rejected transaction counted")
	}
}

func TestInsufficientFundsForFee(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 100) // below the 5000 lamport fee

	_, err := sendTransfer(t, bank, alice, bob.Pubkey(), 1)
	txErr, ok := AsTransactionError(err)
	if !ok || txErr.Code != CodeInsufficientFundsForFee {
		t.Fatalf("expected InsufficientFundsForFee, got %v", err)
	}

	// The payer keeps its balance: rejections charge nothing.
	balance, _ := bank.GetBalance(alice.Pubkey())
	if balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}
}

func TestExecutionFailureRecordedAndRolledBack(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 100_000)

	// Transfer more than the balance: passes fee checks, fails in the
	// system program.
	result, err := sendTransfer(t, bank, alice, bob.Pubkey(), 10_000_000)
	if err == nil {
		t.Fatal("expected execution failure")
	}
	if result == nil {
		t.Fatal("execution failure must return a result")
	}
	if result.Err == nil || result.Err.Code != CodeInstructionError || result.Err.InstructionIndex != 0 {
		t.Fatalf("unexpected error classification: %+v", result.Err)
	}

	// State rolled back, fee still charged.
	aliceBalance, _ := bank.GetBalance(alice.Pubkey())
	bobBalance, _ := bank.GetBalance(bob.Pubkey())
	if aliceBalance != 100_000-result.FeeCharged {
		t.Errorf("alice = %d, want %d", aliceBalance, 100_000-result.FeeCharged)
	}
	if bobBalance != 0 {
		t.Errorf("bob = %d, want 0", bobBalance)
	}

	// And the failure is visible in history.
	recorded, err := bank.GetTransaction(result.Signature)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if recorded.Err == nil {
		t.Error("history entry lost the error")
	}
}

func TestFeeChargeOnFailureDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FeeChargeOnFailure = false
	bank := newTestBank(t, cfg)
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 100_000)

	result, err := sendTransfer(t, bank, alice, bob.Pubkey(), 10_000_000)
	if err == nil || result == nil {
		t.Fatal("expected execution failure with result")
	}
	if result.FeeCharged != 0 {
		t.Errorf("fee charged = %d, want 0", result.FeeCharged)
	}
	balance, _ := bank.GetBalance(alice.Pubkey())
	if balance != 100_000 {
		t.Errorf("balance = %d, want 100000", balance)
	}
}

func TestReplayRejected(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000)

	instr := system.NewTransferInstruction(alice.Pubkey(), bob.Pubkey(), 100)
	tx, err := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	if _, err := bank.SendTransaction(tx); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err = bank.SendTransaction(tx)
	txErr, ok := AsTransactionError(err)
	if !ok || txErr.Code != CodeAlreadyProcessed {
		t.Fatalf("expected AlreadyProcessed, got %v", err)
	}
}

func TestStaleBlockhashRejected(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000)

	instr := system.NewTransferInstruction(alice.Pubkey(), types.Pubkey{9}, 1)
	bogus := types.ComputeHash([]byte("never issued"))
	tx, err := message.NewTransaction([]message.Instruction{instr}, bogus, alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	_, err = bank.SendTransaction(tx)
	txErr, ok := AsTransactionError(err)
	if !ok || txErr.Code != CodeBlockhashNotFound {
		t.Fatalf("expected BlockhashNotFound, got %v", err)
	}
}

func TestExpireBlockhash(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000)

	stale := bank.LatestBlockhash()
	instr := system.NewTransferInstruction(alice.Pubkey(), types.Pubkey{9}, 1)
	tx, err := message.NewTransaction([]message.Instruction{instr}, stale, alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	bank.ExpireBlockhash()
	if bank.LatestBlockhash() == stale {
		t.Fatal("blockhash did not change")
	}

	_, err = bank.SendTransaction(tx)
	txErr, ok := AsTransactionError(err)
	if !ok || txErr.Code != CodeBlockhashNotFound {
		t.Fatalf("expected BlockhashNotFound after expiry, got %v", err)
	}
}

func TestSignatureFailureRejected(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000)

	instr := system.NewTransferInstruction(alice.Pubkey(), types.Pubkey{9}, 1)
	tx, err := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	// Corrupt the signature.
	tx.Signatures[0][0] ^= 0xff

	_, err = bank.SendTransaction(tx)
	txErr, ok := AsTransactionError(err)
	if !ok || txErr.Code != CodeSignatureFailure {
		t.Fatalf("expected SignatureFailure, got %v", err)
	}
}

func TestTooManyAccountLocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TransactionAccountLockLimit = 3
	bank := newTestBank(t, cfg)
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 10_000_000)

	// payer + 4 recipients + system program = 6 account keys.
	var instrs []message.Instruction
	for i := byte(1); i <= 4; i++ {
		instrs = append(instrs, system.NewTransferInstruction(alice.Pubkey(), types.Pubkey{i}, 1))
	}
	tx, err := message.NewTransaction(instrs, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	_, err = bank.SendTransaction(tx)
	txErr, ok := AsTransactionError(err)
	if !ok || txErr.Code != CodeTooManyAccountLocks {
		t.Fatalf("expected TooManyAccountLocks, got %v", err)
	}
}

func TestDuplicateAccountKeysRejected(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 10_000_000)

	scribe := types.Pubkey{92}
	if err := bank.AddBuiltin(scribe, func(ctx program.InvokeContext, data []byte) error {
		info, err := ctx.Account(0)
		if err != nil {
			return err
		}
		copy(info.Data, "mutated!")
		return nil
	}); err != nil {
		t.Fatalf("AddBuiltin: %v", err)
	}

	target := types.Pubkey{93}
	if err := bank.SetAccount(target, &accounts.Account{Lamports: 1_000, Data: make([]byte, 8), Owner: scribe}); err != nil {
		t.Fatalf("SetAccount: %v", err)
	}

	// The compiler deduplicates keys, so forge a message that lists the
	// target at two indexes. Writing through one index and committing the
	// other would silently drop the mutation.
	tx := &message.Transaction{
		Version: message.VersionLegacy,
		Message: message.Message{
			Header: message.MessageHeader{
				NumRequiredSignatures:       1,
				NumReadonlyUnsignedAccounts: 1,
			},
			AccountKeys:     []types.Pubkey{alice.Pubkey(), target, target, scribe},
			RecentBlockhash: bank.LatestBlockhash(),
			Instructions: []message.CompiledInstruction{
				{ProgramIDIndex: 3, AccountIndexes: []uint8{1}},
			},
		},
	}
	if err := tx.Sign(alice); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	result, err := bank.SendTransaction(tx)
	if result != nil {
		t.Error("duplicate-key transaction produced a result")
	}
	txErr, ok := AsTransactionError(err)
	if !ok || txErr.Code != CodeAccountLoadedTwice {
		t.Fatalf("expected AccountLoadedTwice, got %v", err)
	}

	account, err := bank.GetAccount(target)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !bytes.Equal(account.Data, make([]byte, 8)) {
		t.Errorf("rejected transaction mutated state: data = %q", account.Data)
	}
	if _, err := bank.GetTransaction(tx.Signature()); !errors.Is(err, ErrTransactionNotFound) {
		t.Error("rejected transaction entered history")
	}
}

func TestUnknownProgramFails(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000)

	instr := message.Instruction{ProgramID: types.Pubkey{200}, Data: []byte{1}}
	tx, err := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	result, err := bank.SendTransaction(tx)
	if err == nil || result == nil {
		t.Fatal("expected recorded execution failure")
	}
	if result.Err.Code != CodeInvalidProgramForExecution {
		t.Errorf("code = %v, want InvalidProgramForExecution", result.Err.Code)
	}
}

func TestComputeBudgetExceeded(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000)

	// A 100-unit budget cannot even cover the first builtin invocation.
	instrs := []message.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(100),
		system.NewTransferInstruction(alice.Pubkey(), bob.Pubkey(), 1),
	}
	tx, err := message.NewTransaction(instrs, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	result, err := bank.SendTransaction(tx)
	if err == nil || result == nil {
		t.Fatal("expected recorded execution failure")
	}
	if result.Err.Code != CodeComputeBudgetExceeded {
		t.Errorf("code = %v, want ComputeBudgetExceeded", result.Err.Code)
	}
	balance, _ := bank.GetBalance(bob.Pubkey())
	if balance != 0 {
		t.Error("failed transaction moved lamports")
	}
}

func TestPriorityFee(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 10_000_000)

	instrs := []message.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(10_000),
		computebudget.NewSetComputeUnitPriceInstruction(1_000_000), // 1 lamport per unit
		system.NewTransferInstruction(alice.Pubkey(), bob.Pubkey(), 1),
	}
	tx, err := message.NewTransaction(instrs, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	result, err := bank.SendTransaction(tx)
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}

	want := DefaultConfig().LamportsPerSignature + 10_000
	if result.FeeCharged != want {
		t.Errorf("fee = %d, want %d", result.FeeCharged, want)
	}
}

func TestPriorityFeeOverflowSaturates(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000_000)

	// A maximal unit price overflows a 64-bit fee product. The fee must
	// saturate and reject the payer, not wrap toward zero and succeed.
	instrs := []message.Instruction{
		computebudget.NewSetComputeUnitPriceInstruction(math.MaxUint64),
		system.NewTransferInstruction(alice.Pubkey(), bob.Pubkey(), 1),
	}
	tx, err := message.NewTransaction(instrs, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	_, err = bank.SendTransaction(tx)
	txErr, ok := AsTransactionError(err)
	if !ok || txErr.Code != CodeInsufficientFundsForFee {
		t.Fatalf("expected InsufficientFundsForFee, got %v", err)
	}
	balance, _ := bank.GetBalance(alice.Pubkey())
	if balance != 1_000_000_000 {
		t.Errorf("balance = %d, want untouched 1000000000", balance)
	}
}

func TestSimulateDoesNotCommit(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000)

	instr := system.NewTransferInstruction(alice.Pubkey(), bob.Pubkey(), 300_000)
	tx, err := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	sim, err := bank.SimulateTransaction(tx)
	if err != nil {
		t.Fatalf("SimulateTransaction: %v", err)
	}

	// No state change, no history, no count.
	balance, _ := bank.GetBalance(bob.Pubkey())
	if balance != 0 {
		t.Error("simulation committed state")
	}
	if _, err := bank.GetTransaction(tx.Signature()); !errors.Is(err, ErrTransactionNotFound) {
		t.Error("simulation entered history")
	}
	if bank.TransactionCount() != 1 { // just the airdrop
		t.Errorf("transaction count = %d, want 1", bank.TransactionCount())
	}

	// Post-accounts reflect the would-be state.
	var sawBob bool
	for _, post := range sim.PostAccounts {
		if post.Pubkey == bob.Pubkey() {
			sawBob = true
			if post.Account.Lamports != 300_000 {
				t.Errorf("post bob = %d, want 300000", post.Account.Lamports)
			}
		}
	}
	if !sawBob {
		t.Error("post accounts missing the recipient")
	}

	// The same transaction still sends for real afterwards.
	if _, err := bank.SendTransaction(tx); err != nil {
		t.Fatalf("send after simulate: %v", err)
	}
	balance, _ = bank.GetBalance(bob.Pubkey())
	if balance != 300_000 {
		t.Errorf("bob = %d after real send, want 300000", balance)
	}
}

func TestWarpToSlot(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())

	if err := bank.WarpToSlot(1000); err != nil {
		t.Fatalf("WarpToSlot: %v", err)
	}
	if bank.Slot() != 1000 {
		t.Errorf("slot = %d, want 1000", bank.Slot())
	}

	clock, err := bank.GetClock()
	if err != nil {
		t.Fatalf("GetClock: %v", err)
	}
	if clock.Slot != 1000 {
		t.Errorf("clock slot = %d, want 1000", clock.Slot)
	}
	// Slot 1000 sits in warmup epoch 5 under the default schedule.
	if clock.Epoch != 5 {
		t.Errorf("epoch = %d, want 5", clock.Epoch)
	}

	hashes, err := bank.GetSlotHashes()
	if err != nil {
		t.Fatalf("GetSlotHashes: %v", err)
	}
	if len(hashes) == 0 || hashes[0].Slot != 0 {
		t.Error("departed slot hash not recorded")
	}

	// Warping to the current slot is a no-op.
	if err := bank.WarpToSlot(1000); err != nil {
		t.Errorf("warp in place: %v", err)
	}
	if bank.Slot() != 1000 {
		t.Errorf("slot = %d after in-place warp, want 1000", bank.Slot())
	}
	after, err := bank.GetClock()
	if err != nil {
		t.Fatalf("GetClock: %v", err)
	}
	if after != clock {
		t.Error("in-place warp changed the clock")
	}

	// Warping backwards is rejected and leaves the clock alone.
	if err := bank.WarpToSlot(5); !errors.Is(err, ErrInvalidWarpTarget) {
		t.Errorf("expected ErrInvalidWarpTarget, got %v", err)
	}
	after, err = bank.GetClock()
	if err != nil {
		t.Fatalf("GetClock: %v", err)
	}
	if after != clock {
		t.Error("failed warp changed the clock")
	}
}

func TestClockGatedBuiltin(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 10_000_000)

	gate := types.Pubkey{77}
	err := bank.AddBuiltin(gate, func(ctx program.InvokeContext, data []byte) error {
		if ctx.Clock().Slot < 500 {
			return fmt.Errorf("too early: slot %d", ctx.Clock().Slot)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddBuiltin: %v", err)
	}

	send := func() (*TransactionResult, error) {
		instr := message.Instruction{ProgramID: gate}
		tx, terr := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), alice)
		if terr != nil {
			t.Fatalf("NewTransaction: %v", terr)
		}
		return bank.SendTransaction(tx)
	}

	if _, err := send(); err == nil {
		t.Fatal("gate open before warp")
	}
	if err := bank.WarpToSlot(600); err != nil {
		t.Fatalf("WarpToSlot: %v", err)
	}
	if _, err := send(); err != nil {
		t.Fatalf("gate closed after warp: %v", err)
	}
}

func TestReadonlyViolationDetected(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 10_000_000)

	rogue := types.Pubkey{88}
	if err := bank.AddBuiltin(rogue, func(ctx program.InvokeContext, data []byte) error {
		info, err := ctx.Account(0)
		if err != nil {
			return err
		}
		info.Lamports++ // account is readonly
		return nil
	}); err != nil {
		t.Fatalf("AddBuiltin: %v", err)
	}

	victim := types.Pubkey{89}
	if err := bank.SetAccount(victim, &accounts.Account{Lamports: 5, Owner: rogue}); err != nil {
		t.Fatalf("SetAccount: %v", err)
	}

	instr := message.Instruction{
		ProgramID: rogue,
		Accounts:  []message.AccountMeta{{Pubkey: victim, IsWritable: false}},
	}
	tx, err := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	result, err := bank.SendTransaction(tx)
	if err == nil || result == nil {
		t.Fatal("expected recorded execution failure")
	}
	if result.Err.Code != CodeReadonlyViolation {
		t.Errorf("code = %v, want ReadonlyViolation", result.Err.Code)
	}
	balance, _ := bank.GetBalance(victim)
	if balance != 5 {
		t.Error("readonly mutation leaked into state")
	}
}

func TestUnbalancedInstructionDetected(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 10_000_000)

	minter := types.Pubkey{90}
	if err := bank.AddBuiltin(minter, func(ctx program.InvokeContext, data []byte) error {
		info, err := ctx.Account(0)
		if err != nil {
			return err
		}
		info.Lamports += 1_000_000 // creates lamports from nothing
		return nil
	}); err != nil {
		t.Fatalf("AddBuiltin: %v", err)
	}

	target := types.Pubkey{91}
	if err := bank.SetAccount(target, &accounts.Account{Lamports: 1, Owner: minter}); err != nil {
		t.Fatalf("SetAccount: %v", err)
	}

	instr := message.Instruction{
		ProgramID: minter,
		Accounts:  []message.AccountMeta{{Pubkey: target, IsWritable: true}},
	}
	tx, err := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	result, err := bank.SendTransaction(tx)
	if err == nil || result == nil {
		t.Fatal("expected recorded execution failure")
	}
	if result.Err.Code != CodeUnbalancedInstruction {
		t.Errorf("code = %v, want UnbalancedInstruction", result.Err.Code)
	}
}

func TestSetAccountInjection(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())

	addr := types.Pubkey{7}
	injected := &accounts.Account{
		Lamports: 123,
		Data:     []byte{0xde, 0xad},
		Owner:    types.Pubkey{8},
	}
	if err := bank.SetAccount(addr, injected); err != nil {
		t.Fatalf("SetAccount: %v", err)
	}

	got, err := bank.GetAccount(addr)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !got.Equal(injected) {
		t.Errorf("got %+v, want %+v", got, injected)
	}

	// Zeroing removes it.
	if err := bank.SetAccount(addr, &accounts.Account{}); err != nil {
		t.Fatalf("SetAccount zero: %v", err)
	}
	if _, err := bank.GetAccount(addr); !errors.Is(err, accounts.ErrAccountNotFound) {
		t.Error("zero account not removed")
	}
}

func TestDeterministicDigest(t *testing.T) {
	run := func() (types.Hash, types.Hash) {
		bank := newTestBank(t, DefaultConfig())
		alice, err := types.KeypairFromSeed(bytes.Repeat([]byte{1}, 32))
		if err != nil {
			t.Fatalf("KeypairFromSeed: %v", err)
		}
		bob, err := types.KeypairFromSeed(bytes.Repeat([]byte{2}, 32))
		if err != nil {
			t.Fatalf("KeypairFromSeed: %v", err)
		}

		fund(t, bank, alice.Pubkey(), 1_000_000)
		if _, err := sendTransfer(t, bank, alice, bob.Pubkey(), 100_000); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		if err := bank.WarpToSlot(42); err != nil {
			t.Fatalf("WarpToSlot: %v", err)
		}

		digest, err := bank.StateDigest()
		if err != nil {
			t.Fatalf("StateDigest: %v", err)
		}
		return digest, bank.LatestBlockhash()
	}

	d1, h1 := run()
	d2, h2 := run()
	if d1 != d2 {
		t.Error("identical workloads produced different state digests")
	}
	if h1 != h2 {
		t.Error("identical workloads produced different blockhashes")
	}
}

func TestHistoryCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryCapacity = 2
	bank := newTestBank(t, cfg)
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 10_000_000)

	var sigs []types.Signature
	for i := 0; i < 3; i++ {
		result, err := sendTransfer(t, bank, alice, types.Pubkey{byte(i + 1)}, 1_000)
		if err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
		sigs = append(sigs, result.Signature)
	}

	// Airdrop + 3 transfers with capacity 2: only the last two remain.
	if got := bank.history.len(); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
	if _, err := bank.GetTransaction(sigs[0]); !errors.Is(err, ErrTransactionNotFound) {
		t.Error("oldest entry not evicted")
	}
	for _, sig := range sigs[1:] {
		if _, err := bank.GetTransaction(sig); err != nil {
			t.Errorf("recent entry evicted: %v", err)
		}
	}
}

func TestHistoryResultsAreCopies(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 10_000_000)

	sent, err := sendTransfer(t, bank, alice, types.Pubkey{1}, 1_000)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	first, err := bank.GetTransaction(sent.Signature)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if len(first.Logs) == 0 {
		t.Fatal("expected program logs")
	}
	first.Logs[0] = "tampered"

	second, err := bank.GetTransaction(sent.Signature)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if second.Logs[0] == "tampered" {
		t.Error("mutating a returned result changed recorded history")
	}

	statuses, err := bank.GetTransactionStatuses([]types.Signature{sent.Signature})
	if err != nil {
		t.Fatalf("GetTransactionStatuses: %v", err)
	}
	statuses[0].Logs[0] = "tampered"
	third, err := bank.GetTransaction(sent.Signature)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if third.Logs[0] == "tampered" {
		t.Error("mutating a batch result changed recorded history")
	}
}

func TestGetTransactionStatuses(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 10_000_000)

	first, err := sendTransfer(t, bank, alice, types.Pubkey{1}, 1_000)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	second, err := sendTransfer(t, bank, alice, types.Pubkey{2}, 2_000)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	var unknown types.Signature
	unknown[0] = 0xaa
	statuses, err := bank.GetTransactionStatuses([]types.Signature{second.Signature, unknown, first.Signature})
	if err != nil {
		t.Fatalf("GetTransactionStatuses: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("len = %d, want 3", len(statuses))
	}
	if statuses[0] == nil || statuses[0].Signature != second.Signature {
		t.Error("entry 0 does not match its signature")
	}
	if statuses[1] != nil {
		t.Error("unknown signature yielded a record")
	}
	if statuses[2] == nil || statuses[2].Signature != first.Signature {
		t.Error("entry 2 does not match its signature")
	}
}

func TestSetClockGatesPrograms(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 10_000_000)

	deadline := types.Pubkey{78}
	if err := bank.AddBuiltin(deadline, func(ctx program.InvokeContext, data []byte) error {
		if ctx.Clock().UnixTimestamp > 100 {
			return fmt.Errorf("deadline passed at %d", ctx.Clock().UnixTimestamp)
		}
		return nil
	}); err != nil {
		t.Fatalf("AddBuiltin: %v", err)
	}

	clock, err := bank.GetClock()
	if err != nil {
		t.Fatalf("GetClock: %v", err)
	}
	clock.UnixTimestamp = 50
	if err := bank.SetClock(clock); err != nil {
		t.Fatalf("SetClock: %v", err)
	}

	send := func() error {
		instr := message.Instruction{ProgramID: deadline}
		tx, terr := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), alice)
		if terr != nil {
			t.Fatalf("NewTransaction: %v", terr)
		}
		_, serr := bank.SendTransaction(tx)
		return serr
	}

	if err := send(); err != nil {
		t.Fatalf("before deadline: %v", err)
	}

	clock.UnixTimestamp = 150
	if err := bank.SetClock(clock); err != nil {
		t.Fatalf("SetClock: %v", err)
	}
	if err := send(); err == nil {
		t.Fatal("deadline not enforced after clock update")
	}
}

func TestSnapshotRestore(t *testing.T) {
	source := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	fund(t, source, alice.Pubkey(), 1_000_000)
	if _, err := sendTransfer(t, source, alice, bob.Pubkey(), 250_000); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := source.WarpToSlot(33); err != nil {
		t.Fatalf("WarpToSlot: %v", err)
	}

	var buf bytes.Buffer
	if err := source.WriteSnapshot(&buf); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	restored := newTestBank(t, DefaultConfig())
	if err := restored.ReadSnapshot(&buf); err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if restored.Slot() != 33 {
		t.Errorf("restored slot = %d, want 33", restored.Slot())
	}

	srcDigest, err := source.StateDigest()
	if err != nil {
		t.Fatalf("StateDigest: %v", err)
	}
	dstDigest, err := restored.StateDigest()
	if err != nil {
		t.Fatalf("StateDigest: %v", err)
	}
	if srcDigest != dstDigest {
		t.Error("restored state does not match source")
	}

	balance, _ := restored.GetBalance(bob.Pubkey())
	if balance != 250_000 {
		t.Errorf("restored bob = %d, want 250000", balance)
	}
}

func TestBadgerBackendParity(t *testing.T) {
	workload := func(bank *Bank) types.Hash {
		alice, err := types.KeypairFromSeed(bytes.Repeat([]byte{3}, 32))
		if err != nil {
			t.Fatalf("KeypairFromSeed: %v", err)
		}
		fund(t, bank, alice.Pubkey(), 2_000_000)
		if _, err := sendTransfer(t, bank, alice, types.Pubkey{55}, 700_000); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		digest, err := bank.StateDigest()
		if err != nil {
			t.Fatalf("StateDigest: %v", err)
		}
		return digest
	}

	memBank := newTestBank(t, DefaultConfig())

	store, err := accounts.OpenBadgerStore(accounts.DefaultBadgerConfig())
	if err != nil {
		t.Fatalf("OpenBadgerStore: %v", err)
	}
	badgerBank, err := NewWithStore(DefaultConfig(), store)
	if err != nil {
		t.Fatalf("NewWithStore: %v", err)
	}
	t.Cleanup(func() { badgerBank.Close() })

	if workload(memBank) != workload(badgerBank) {
		t.Error("backends diverged on the same workload")
	}
}

func TestDeployProgram(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 10_000_000)

	programID := types.Pubkey{123}
	if err := bank.DeployProgram(programID, []byte("not an elf")); !errors.Is(err, program.ErrInvalidProgramData) {
		t.Errorf("expected ErrInvalidProgramData, got %v", err)
	}

	bytecode := validELF()
	if err := bank.DeployProgram(programID, bytecode); err != nil {
		t.Fatalf("DeployProgram: %v", err)
	}

	account, err := bank.GetAccount(programID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !account.Executable || account.Owner != types.BPFLoaderAddr {
		t.Error("program account not installed as executable")
	}

	// Without an interpreter, invoking it is an execution failure.
	instr := message.Instruction{ProgramID: programID}
	tx, err := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	result, err := bank.SendTransaction(tx)
	if err == nil || result == nil {
		t.Fatal("expected recorded execution failure")
	}
	if !errors.Is(result.Err, program.ErrUnsupportedProgram) {
		t.Errorf("expected ErrUnsupportedProgram cause, got %v", result.Err)
	}
}

// validELF builds a minimal header-only sBPF shared object.
func validELF() []byte {
	h := make([]byte, 64)
	copy(h, []byte{0x7f, 'E', 'L', 'F'})
	h[4] = 2 // 64-bit
	h[5] = 1 // little-endian
	h[16] = 3 // ET_DYN
	h[18] = 0x07
	h[19] = 0x01 // EM_SBPF (263)
	return h
}

func TestTokenLifecycle(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	mint := mustKeypair(t)
	aliceToken := mustKeypair(t)
	bobToken := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000_000)

	mintRent, err := bank.MinimumBalanceForRentExemption(token.MintSize)
	if err != nil {
		t.Fatalf("MinimumBalanceForRentExemption: %v", err)
	}
	accountRent, err := bank.MinimumBalanceForRentExemption(token.TokenAccountSize)
	if err != nil {
		t.Fatalf("MinimumBalanceForRentExemption: %v", err)
	}

	setup := []message.Instruction{
		system.NewCreateAccountInstruction(alice.Pubkey(), mint.Pubkey(), mintRent, token.MintSize, types.TokenProgramAddr),
		token.NewInitializeMintInstruction(mint.Pubkey(), 9, alice.Pubkey(), nil),
		system.NewCreateAccountInstruction(alice.Pubkey(), aliceToken.Pubkey(), accountRent, token.TokenAccountSize, types.TokenProgramAddr),
		token.NewInitializeAccountInstruction(aliceToken.Pubkey(), mint.Pubkey(), alice.Pubkey()),
		system.NewCreateAccountInstruction(alice.Pubkey(), bobToken.Pubkey(), accountRent, token.TokenAccountSize, types.TokenProgramAddr),
		token.NewInitializeAccountInstruction(bobToken.Pubkey(), mint.Pubkey(), bob.Pubkey()),
		token.NewMintToInstruction(mint.Pubkey(), aliceToken.Pubkey(), alice.Pubkey(), 1_000_000),
		token.NewTransferInstruction(aliceToken.Pubkey(), bobToken.Pubkey(), alice.Pubkey(), 400_000),
	}
	tx, err := message.NewTransaction(setup, bank.LatestBlockhash(), alice, mint, aliceToken, bobToken)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if _, err := bank.SendTransaction(tx); err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}

	check := func(addr types.Pubkey, want uint64) {
		t.Helper()
		account, err := bank.GetAccount(addr)
		if err != nil {
			t.Fatalf("GetAccount: %v", err)
		}
		holding, err := token.DeserializeTokenAccount(account.Data)
		if err != nil {
			t.Fatalf("DeserializeTokenAccount: %v", err)
		}
		if holding.Amount != want {
			t.Errorf("balance of %s = %d, want %d", addr, holding.Amount, want)
		}
	}
	check(aliceToken.Pubkey(), 600_000)
	check(bobToken.Pubkey(), 400_000)

	mintAccount, err := bank.GetAccount(mint.Pubkey())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	state, err := token.DeserializeMint(mintAccount.Data)
	if err != nil {
		t.Fatalf("DeserializeMint: %v", err)
	}
	if state.Supply != 1_000_000 {
		t.Errorf("supply = %d, want 1000000", state.Supply)
	}
}

func TestAtomicityAcrossInstructions(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	bob := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000)

	// First instruction succeeds, second fails: nothing may stick.
	instrs := []message.Instruction{
		system.NewTransferInstruction(alice.Pubkey(), bob.Pubkey(), 100_000),
		system.NewTransferInstruction(alice.Pubkey(), bob.Pubkey(), 100_000_000),
	}
	tx, err := message.NewTransaction(instrs, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	result, err := bank.SendTransaction(tx)
	if err == nil || result == nil {
		t.Fatal("expected recorded execution failure")
	}
	if result.Err.InstructionIndex != 1 {
		t.Errorf("failing index = %d, want 1", result.Err.InstructionIndex)
	}

	bobBalance, _ := bank.GetBalance(bob.Pubkey())
	if bobBalance != 0 {
		t.Errorf("partial effects committed: bob = %d", bobBalance)
	}
	aliceBalance, _ := bank.GetBalance(alice.Pubkey())
	if aliceBalance != 1_000_000-result.FeeCharged {
		t.Errorf("alice = %d, want fee-only debit", aliceBalance)
	}
}

func TestVersionedWithLookupsRejected(t *testing.T) {
	bank := newTestBank(t, DefaultConfig())
	alice := mustKeypair(t)
	fund(t, bank, alice.Pubkey(), 1_000_000)

	instr := system.NewTransferInstruction(alice.Pubkey(), types.Pubkey{9}, 1)
	tx, err := message.NewTransaction([]message.Instruction{instr}, bank.LatestBlockhash(), alice)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	tx.Version = message.Version0
	tx.Message.AddressTableLookups = []message.AddressTableLookup{{AccountKey: types.Pubkey{1}}}
	if err := tx.Sign(alice); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	_, err = bank.SendTransaction(tx)
	txErr, ok := AsTransactionError(err)
	if !ok || txErr.Code != CodeUnsupportedVersion {
		t.Fatalf("expected UnsupportedVersion, got %v", err)
	}
}

func TestClosedBank(t *testing.T) {
	bank, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := bank.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := bank.GetBalance(types.Pubkey{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := bank.Airdrop(types.Pubkey{1}, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := bank.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("double close: expected ErrClosed, got %v", err)
	}
}
