// X1-Litebank: In-Process Ledger Bank
//
// This is a demonstration driver for the litebank package. It spins up a
// bank, airdrops to a wallet, runs a lamport transfer, then mints and
// moves tokens, printing the resulting state along the way.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fortiblox/X1-Litebank/internal/types"
	"github.com/fortiblox/X1-Litebank/pkg/accounts"
	"github.com/fortiblox/X1-Litebank/pkg/litebank"
	"github.com/fortiblox/X1-Litebank/pkg/message"
	"github.com/fortiblox/X1-Litebank/pkg/program/system"
	"github.com/fortiblox/X1-Litebank/pkg/program/token"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	airdropAmount = flag.Uint64("airdrop", 10_000_000_000, "Lamports to airdrop to the demo wallet")
	useBadger     = flag.Bool("badger", false, "Back the bank with the in-memory badger store")
	verbose       = flag.Bool("verbose", false, "Print per-transaction program logs")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("X1-Litebank %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[litebank] ")

	if err := run(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run() error {
	cfg := litebank.DefaultConfig()

	var bank *litebank.Bank
	var err error
	if *useBadger {
		store, serr := accounts.OpenBadgerStore(accounts.DefaultBadgerConfig())
		if serr != nil {
			return fmt.Errorf("open badger store: %w", serr)
		}
		bank, err = litebank.NewWithStore(cfg, store)
	} else {
		bank, err = litebank.New(cfg)
	}
	if err != nil {
		return fmt.Errorf("create bank: %w", err)
	}
	defer bank.Close()

	alice, err := types.NewKeypair()
	if err != nil {
		return err
	}
	bob, err := types.NewKeypair()
	if err != nil {
		return err
	}

	// Fund the demo wallet.
	result, err := bank.Airdrop(alice.Pubkey(), *airdropAmount)
	if err != nil {
		return fmt.Errorf("airdrop: %w", err)
	}
	logResult("airdrop", result)

	// Plain lamport transfer.
	transfer := system.NewTransferInstruction(alice.Pubkey(), bob.Pubkey(), 1_000_000)
	tx, err := message.NewTransaction([]message.Instruction{transfer}, bank.LatestBlockhash(), alice)
	if err != nil {
		return err
	}
	result, err = bank.SendTransaction(tx)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	logResult("transfer", result)

	aliceBalance, err := bank.GetBalance(alice.Pubkey())
	if err != nil {
		return err
	}
	bobBalance, err := bank.GetBalance(bob.Pubkey())
	if err != nil {
		return err
	}
	log.Printf("balances: alice=%d bob=%d", aliceBalance, bobBalance)

	if err := runTokenDemo(bank, alice, bob); err != nil {
		return fmt.Errorf("token demo: %w", err)
	}

	digest, err := bank.StateDigest()
	if err != nil {
		return err
	}
	log.Printf("processed %d transactions, state digest %s", bank.TransactionCount(), digest)
	return nil
}

// runTokenDemo creates a mint, two holding accounts, mints supply to one
// and transfers part of it to the other.
func runTokenDemo(bank *litebank.Bank, alice, bob *types.Keypair) error {
	mint, err := types.NewKeypair()
	if err != nil {
		return err
	}
	aliceToken, err := types.NewKeypair()
	if err != nil {
		return err
	}
	bobToken, err := types.NewKeypair()
	if err != nil {
		return err
	}

	mintRent, err := bank.MinimumBalanceForRentExemption(token.MintSize)
	if err != nil {
		return err
	}
	accountRent, err := bank.MinimumBalanceForRentExemption(token.TokenAccountSize)
	if err != nil {
		return err
	}

	setup := []message.Instruction{
		system.NewCreateAccountInstruction(alice.Pubkey(), mint.Pubkey(), mintRent, token.MintSize, types.TokenProgramAddr),
		token.NewInitializeMintInstruction(mint.Pubkey(), 9, alice.Pubkey(), nil),
		system.NewCreateAccountInstruction(alice.Pubkey(), aliceToken.Pubkey(), accountRent, token.TokenAccountSize, types.TokenProgramAddr),
		token.NewInitializeAccountInstruction(aliceToken.Pubkey(), mint.Pubkey(), alice.Pubkey()),
		system.NewCreateAccountInstruction(alice.Pubkey(), bobToken.Pubkey(), accountRent, token.TokenAccountSize, types.TokenProgramAddr),
		token.NewInitializeAccountInstruction(bobToken.Pubkey(), mint.Pubkey(), bob.Pubkey()),
	}
	tx, err := message.NewTransaction(setup, bank.LatestBlockhash(), alice, mint, aliceToken, bobToken)
	if err != nil {
		return err
	}
	result, err := bank.SendTransaction(tx)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	logResult("token setup", result)

	moves := []message.Instruction{
		token.NewMintToInstruction(mint.Pubkey(), aliceToken.Pubkey(), alice.Pubkey(), 500_000),
		token.NewTransferInstruction(aliceToken.Pubkey(), bobToken.Pubkey(), alice.Pubkey(), 200_000),
	}
	tx, err = message.NewTransaction(moves, bank.LatestBlockhash(), alice)
	if err != nil {
		return err
	}
	result, err = bank.SendTransaction(tx)
	if err != nil {
		return fmt.Errorf("mint and move: %w", err)
	}
	logResult("token mint+transfer", result)

	account, err := bank.GetAccount(bobToken.Pubkey())
	if err != nil {
		return err
	}
	holding, err := token.DeserializeTokenAccount(account.Data)
	if err != nil {
		return err
	}
	log.Printf("bob token balance: %d", holding.Amount)
	return nil
}

func logResult(name string, result *litebank.TransactionResult) {
	log.Printf("%s: sig=%s slot=%d fee=%d compute=%d",
		name, result.Signature, result.Slot, result.FeeCharged, result.ComputeUnitsConsumed)
	if *verbose {
		for _, line := range result.Logs {
			log.Printf("  log: %s", line)
		}
	}
}
