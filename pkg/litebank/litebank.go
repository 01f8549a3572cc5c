// Package litebank implements an in-process, single-node ledger bank.
//
// The bank executes transactions synchronously against its own account
// store using Solana account and transaction semantics: no networking, no
// consensus, no background workers. A call either commits atomically or
// leaves state untouched (the transaction fee aside), which makes the bank
// suitable as a fast deterministic test backend for on-chain programs.
package litebank

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Litebank/internal/types"
	"github.com/fortiblox/X1-Litebank/pkg/accounts"
	"github.com/fortiblox/X1-Litebank/pkg/message"
	"github.com/fortiblox/X1-Litebank/pkg/program"
	"github.com/fortiblox/X1-Litebank/pkg/program/computebudget"
	"github.com/fortiblox/X1-Litebank/pkg/program/system"
	"github.com/fortiblox/X1-Litebank/pkg/program/token"
	"github.com/fortiblox/X1-Litebank/pkg/sysvars"
)

// blockhashWindow is how many recent blockhashes stay valid.
const blockhashWindow = 150

// slotDurationMillis estimates wall time per slot for clock updates.
const slotDurationMillis = 400

// genesisTimestamp seeds the clock; fixed so fresh banks are identical.
const genesisTimestamp = int64(1_700_000_000)

// faucetSeed derives the airdrop keypair. A fixed seed keeps two banks
// fed the same transactions byte-identical.
var faucetSeed = [32]byte{
	'x', '1', 'l', 'i', 't', 'e', 'b', 'a',
	'n', 'k', '-', 'f', 'a', 'u', 'c', 'e',
	't', '-', 'k', 'e', 'y', 'p', 'a', 'i',
	'r', '-', 's', 'e', 'e', 'd', 0, 1,
}

// Bank is the ledger simulator. All methods are safe for concurrent use;
// a single mutex serializes every entry point, so execution is strictly
// sequential.
type Bank struct {
	mu sync.Mutex

	cfg      Config
	store    accounts.Store
	registry *program.Registry
	sysvars  *sysvars.Registry
	history  *history

	slot    uint64
	txCount uint64

	latestBlockhash types.Hash
	blockhashQueue  []types.Hash
	validHashes     map[types.Hash]struct{}

	faucet *types.Keypair

	closed bool
}

// New creates a bank backed by the in-memory account store.
func New(cfg Config) (*Bank, error) {
	return NewWithStore(cfg, accounts.NewMemStore())
}

// NewWithStore creates a bank over a caller-provided account store. The
// bank takes ownership of the store and closes it with Close.
func NewWithStore(cfg Config, store accounts.Store) (*Bank, error) {
	faucet, err := types.KeypairFromSeed(faucetSeed[:])
	if err != nil {
		return nil, fmt.Errorf("derive faucet keypair: %w", err)
	}

	b := &Bank{
		cfg:         cfg.withDefaults(),
		store:       store,
		registry:    program.NewRegistry(),
		sysvars:     sysvars.NewRegistry(store),
		history:     newHistory(cfg.HistoryCapacity),
		validHashes: make(map[types.Hash]struct{}),
		faucet:      faucet,
	}

	if err := b.sysvars.InitDefaults(); err != nil {
		return nil, fmt.Errorf("init sysvars: %w", err)
	}
	clock, err := b.sysvars.Clock()
	if err != nil {
		return nil, err
	}
	clock.UnixTimestamp = genesisTimestamp
	clock.EpochStartTimestamp = genesisTimestamp
	if err := b.sysvars.SetClock(clock); err != nil {
		return nil, err
	}

	if err := b.registerBuiltins(); err != nil {
		return nil, err
	}
	if err := b.fundFaucet(); err != nil {
		return nil, err
	}

	// Genesis blockhash.
	b.latestBlockhash = types.Hash(blake3.Sum256([]byte("genesis")))
	b.pushBlockhash(b.latestBlockhash)

	return b, nil
}

func (b *Bank) registerBuiltins() error {
	builtins := []struct {
		addr    types.Pubkey
		handler program.Builtin
	}{
		{types.SystemProgramAddr, system.Process},
		{types.ComputeBudgetProgramAddr, computebudget.Process},
		{types.TokenProgramAddr, token.Process},
	}
	for _, bi := range builtins {
		b.registry.RegisterBuiltin(bi.addr, bi.handler)
		account := &accounts.Account{
			Lamports:   1,
			Owner:      types.NativeLoaderAddr,
			Executable: true,
			RentEpoch:  ^uint64(0),
		}
		if err := b.store.SetAccount(bi.addr, account); err != nil {
			return fmt.Errorf("install builtin %s: %w", bi.addr, err)
		}
	}
	return nil
}

func (b *Bank) fundFaucet() error {
	account := &accounts.Account{
		Lamports: math.MaxUint64 / 2,
		Owner:    types.SystemProgramAddr,
	}
	return b.store.SetAccount(b.faucet.Pubkey(), account)
}

// Close releases the underlying store. Further calls fail with ErrClosed.
func (b *Bank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	return b.store.Close()
}

// SendTransaction executes a transaction against the bank.
//
// A rejection (bad signature, stale blockhash, replay, missing payer,
// unpayable fee) returns a nil result and the rejection error; nothing is
// recorded. An execution failure returns both the recorded result and the
// error: state is rolled back but the fee is charged and the transaction
// enters history. On success the error is nil.
func (b *Bank) SendTransaction(tx *message.Transaction) (*TransactionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.sendLocked(tx)
}

func (b *Bank) sendLocked(tx *message.Transaction) (*TransactionResult, error) {
	result, _, txErr := b.processTransaction(tx, false)
	if txErr != nil {
		if result == nil {
			return nil, txErr
		}
		return result, txErr
	}
	return result, nil
}

// AccountState pairs an address with account contents.
type AccountState struct {
	Pubkey  types.Pubkey
	Account accounts.Account
}

// SimulationResult extends a transaction result with the would-be post
// state of every writable account.
type SimulationResult struct {
	TransactionResult

	// PostAccounts holds the writable accounts as they would look had the
	// transaction committed.
	PostAccounts []AccountState
}

// SimulateTransaction runs the pipeline without committing anything:
// no state change, no fee, no history entry, no blockhash advance.
func (b *Bank) SimulateTransaction(tx *message.Transaction) (*SimulationResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	result, ws, txErr := b.processTransaction(tx, true)
	if result == nil {
		return nil, txErr
	}

	sim := &SimulationResult{TransactionResult: *result}
	for i, info := range ws.infos {
		if !info.IsWritable {
			continue
		}
		sim.PostAccounts = append(sim.PostAccounts, AccountState{
			Pubkey: tx.Message.AccountKeys[i],
			Account: accounts.Account{
				Lamports:   info.Lamports,
				Data:       info.Data,
				Owner:      info.Owner,
				Executable: info.Executable,
				RentEpoch:  info.RentEpoch,
			},
		})
	}
	if txErr != nil {
		return sim, txErr
	}
	return sim, nil
}

// Airdrop mints lamports to an address by sending a transfer from the
// bank's built-in faucet.
func (b *Bank) Airdrop(to types.Pubkey, lamports uint64) (*TransactionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	instr := system.NewTransferInstruction(b.faucet.Pubkey(), to, lamports)
	tx, err := message.NewTransaction([]message.Instruction{instr}, b.latestBlockhash, b.faucet)
	if err != nil {
		return nil, fmt.Errorf("build airdrop transaction: %w", err)
	}
	return b.sendLocked(tx)
}

// GetAccount returns a copy of the stored account.
func (b *Bank) GetAccount(addr types.Pubkey) (*accounts.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.store.GetAccount(addr)
}

// SetAccount injects arbitrary account state, bypassing the transaction
// pipeline. Setting a zero account removes the address.
func (b *Bank) SetAccount(addr types.Pubkey, account *accounts.Account) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return b.store.SetAccount(addr, account)
}

// GetBalance returns the lamport balance of an address; nonexistent
// accounts have balance zero.
func (b *Bank) GetBalance(addr types.Pubkey) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	account, err := b.store.GetAccount(addr)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Lamports, nil
}

// DeployProgram registers sBPF bytecode under an address and installs the
// matching executable account.
func (b *Bank) DeployProgram(programID types.Pubkey, bytecode []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	if err := b.registry.Deploy(programID, bytecode); err != nil {
		return err
	}
	rent, err := b.sysvars.Rent()
	if err != nil {
		return err
	}
	account := &accounts.Account{
		Lamports:   rent.MinimumBalance(uint64(len(bytecode))),
		Data:       bytecode,
		Owner:      types.BPFLoaderAddr,
		Executable: true,
		RentEpoch:  ^uint64(0),
	}
	return b.store.SetAccount(programID, account)
}

// AddBuiltin registers a native handler under an address, alongside the
// stock system, compute-budget and token builtins.
func (b *Bank) AddBuiltin(programID types.Pubkey, handler program.Builtin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	b.registry.RegisterBuiltin(programID, handler)
	account := &accounts.Account{
		Lamports:   1,
		Owner:      types.NativeLoaderAddr,
		Executable: true,
		RentEpoch:  ^uint64(0),
	}
	return b.store.SetAccount(programID, account)
}

// SetInterpreter installs the sBPF interpreter used for deployed
// bytecode programs.
func (b *Bank) SetInterpreter(interp program.Interpreter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registry.SetInterpreter(interp)
}

// GetTransaction returns the recorded result for a signature.
func (b *Bank) GetTransaction(sig types.Signature) (*TransactionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	result, ok := b.history.get(sig)
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return result.clone(), nil
}

// GetTransactionStatuses looks up a batch of signatures, preserving input
// order. Unknown signatures yield nil entries.
func (b *Bank) GetTransactionStatuses(sigs []types.Signature) ([]*TransactionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	results := make([]*TransactionResult, len(sigs))
	for i, sig := range sigs {
		if result, ok := b.history.get(sig); ok {
			results[i] = result.clone()
		}
	}
	return results, nil
}

// TransactionCount returns how many transactions have been processed.
func (b *Bank) TransactionCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txCount
}

// LatestBlockhash returns the blockhash new transactions should carry.
func (b *Bank) LatestBlockhash() types.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latestBlockhash
}

// ExpireBlockhash invalidates every outstanding blockhash and issues a
// fresh one, forcing in-flight transactions to re-sign.
func (b *Bank) ExpireBlockhash() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.blockhashQueue = nil
	b.validHashes = make(map[types.Hash]struct{})
	b.advanceBlockhash()
}

// Slot returns the current slot.
func (b *Bank) Slot() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot
}

// WarpToSlot jumps time forward to the target slot, recomputing the clock
// sysvar from the epoch schedule and recording the departed slot's hash.
// Warping backward is rejected; warping to the current slot is a no-op.
func (b *Bank) WarpToSlot(target uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if target < b.slot {
		return fmt.Errorf("%w: at slot %d, target %d", ErrInvalidWarpTarget, b.slot, target)
	}
	if target == b.slot {
		return nil
	}

	schedule, err := b.sysvars.EpochSchedule()
	if err != nil {
		return err
	}
	clock, err := b.sysvars.Clock()
	if err != nil {
		return err
	}

	slotHashes, err := b.sysvars.SlotHashes()
	if err != nil {
		return err
	}
	slotHashes = append(sysvars.SlotHashes{{Slot: b.slot, Hash: b.latestBlockhash}}, slotHashes...)
	if len(slotHashes) > sysvars.SlotHashesMax {
		slotHashes = slotHashes[:sysvars.SlotHashesMax]
	}
	if err := b.sysvars.SetSlotHashes(slotHashes); err != nil {
		return err
	}

	elapsed := target - b.slot
	epoch, _ := schedule.EpochAndSlotIndex(target)
	if epoch != clock.Epoch {
		clock.EpochStartTimestamp = clock.UnixTimestamp + int64(elapsed)*slotDurationMillis/1000
	}
	clock.Slot = target
	clock.Epoch = epoch
	clock.LeaderScheduleEpoch = schedule.LeaderScheduleEpoch(target)
	clock.UnixTimestamp += int64(elapsed) * slotDurationMillis / 1000
	if err := b.sysvars.SetClock(clock); err != nil {
		return err
	}

	b.slot = target
	b.advanceBlockhash()
	return nil
}

// GetClock returns the clock sysvar.
func (b *Bank) GetClock() (sysvars.Clock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sysvars.Clock{}, ErrClosed
	}
	return b.sysvars.Clock()
}

// SetClock overwrites the clock sysvar. The bank's slot follows the
// clock's.
func (b *Bank) SetClock(clock sysvars.Clock) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.sysvars.SetClock(clock); err != nil {
		return err
	}
	b.slot = clock.Slot
	return nil
}

// GetRent returns the rent sysvar.
func (b *Bank) GetRent() (sysvars.Rent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sysvars.Rent{}, ErrClosed
	}
	return b.sysvars.Rent()
}

// SetRent overwrites the rent sysvar.
func (b *Bank) SetRent(rent sysvars.Rent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return b.sysvars.SetRent(rent)
}

// GetEpochSchedule returns the epoch schedule sysvar.
func (b *Bank) GetEpochSchedule() (sysvars.EpochSchedule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sysvars.EpochSchedule{}, ErrClosed
	}
	return b.sysvars.EpochSchedule()
}

// SetEpochSchedule overwrites the epoch schedule sysvar.
func (b *Bank) SetEpochSchedule(schedule sysvars.EpochSchedule) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return b.sysvars.SetEpochSchedule(schedule)
}

// GetSlotHashes returns the slot hashes sysvar.
func (b *Bank) GetSlotHashes() (sysvars.SlotHashes, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sysvars.SlotHashes{}, ErrClosed
	}
	return b.sysvars.SlotHashes()
}

// MinimumBalanceForRentExemption returns the smallest balance that makes
// an account of the given data size rent exempt.
func (b *Bank) MinimumBalanceForRentExemption(dataLen uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	rent, err := b.sysvars.Rent()
	if err != nil {
		return 0, err
	}
	return rent.MinimumBalance(dataLen), nil
}

// StateDigest returns a deterministic hash over all account state. Two
// banks that processed the same transactions report the same digest.
func (b *Bank) StateDigest() (types.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return types.Hash{}, ErrClosed
	}
	return accounts.StateDigest(b.store)
}

// WriteSnapshot streams the full account state to w.
func (b *Bank) WriteSnapshot(w io.Writer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return accounts.WriteSnapshot(w, b.store, b.slot)
}

// ReadSnapshot loads account state from a snapshot stream, replacing
// overlapping accounts and adopting the snapshot's slot.
func (b *Bank) ReadSnapshot(r io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	header, err := accounts.ReadSnapshot(r, b.store)
	if err != nil {
		return err
	}
	b.slot = header.Slot
	return nil
}

// FaucetPubkey returns the address of the built-in airdrop faucet.
func (b *Bank) FaucetPubkey() types.Pubkey {
	return b.faucet.Pubkey()
}

// advanceBlockhash derives and registers the next blockhash. Derivation
// hashes the previous hash with the slot and transaction count, so the
// sequence is identical across banks fed the same workload.
func (b *Bank) advanceBlockhash() {
	hasher := blake3.New()
	hasher.Write(b.latestBlockhash[:])
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], b.slot)
	binary.LittleEndian.PutUint64(buf[8:16], b.txCount)
	hasher.Write(buf[:])

	var next types.Hash
	copy(next[:], hasher.Sum(nil))
	b.latestBlockhash = next
	b.pushBlockhash(next)
}

func (b *Bank) pushBlockhash(hash types.Hash) {
	b.blockhashQueue = append(b.blockhashQueue, hash)
	b.validHashes[hash] = struct{}{}
	for len(b.blockhashQueue) > blockhashWindow {
		expired := b.blockhashQueue[0]
		b.blockhashQueue = b.blockhashQueue[1:]
		delete(b.validHashes, expired)
	}
	b.syncRecentBlockhashes()
}

func (b *Bank) isBlockhashValid(hash types.Hash) bool {
	_, ok := b.validHashes[hash]
	return ok
}

// syncRecentBlockhashes mirrors the queue into the recent-blockhashes
// sysvar account, newest first.
func (b *Bank) syncRecentBlockhashes() {
	recent := make(sysvars.RecentBlockhashes, 0, len(b.blockhashQueue))
	for i := len(b.blockhashQueue) - 1; i >= 0; i-- {
		recent = append(recent, sysvars.RecentBlockhash{
			Blockhash:            b.blockhashQueue[i],
			LamportsPerSignature: b.cfg.LamportsPerSignature,
		})
	}
	// Sysvar write failures cannot surface mid-commit; the account store
	// is memory-backed and only fails once closed.
	_ = b.sysvars.SetRecentBlockhashes(recent)
}
