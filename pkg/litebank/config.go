package litebank

import "github.com/fortiblox/X1-Litebank/pkg/program"

// Config controls bank behavior. Numeric fields left at zero fall back to
// the defaults shown in DefaultConfig; boolean switches are taken as given,
// so start from DefaultConfig when overriding individual fields.
type Config struct {
	// ComputeUnitLimit is the per-transaction compute budget when no
	// compute-budget instruction overrides it.
	ComputeUnitLimit uint64

	// LamportsPerSignature is the flat fee charged per signature.
	LamportsPerSignature uint64

	// SigverifyEnabled controls ed25519 signature verification. Disable
	// it to craft transactions without real keys in tests.
	SigverifyEnabled bool

	// BlockhashCheckEnabled controls recent-blockhash and replay checks.
	BlockhashCheckEnabled bool

	// FeeChargeOnFailure charges the fee payer even when execution fails
	// after a valid fee deduction, matching validator behavior.
	FeeChargeOnFailure bool

	// TransactionAccountLockLimit caps the accounts one transaction may
	// reference.
	TransactionAccountLockLimit int

	// HistoryCapacity bounds the transaction history; zero keeps all.
	HistoryCapacity int

	// LogBytesLimit truncates a transaction's accumulated log output.
	LogBytesLimit int
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		ComputeUnitLimit:            program.DefaultComputeUnits,
		LamportsPerSignature:        5000,
		SigverifyEnabled:            true,
		BlockhashCheckEnabled:       true,
		FeeChargeOnFailure:          true,
		TransactionAccountLockLimit: 64,
		HistoryCapacity:             0,
		LogBytesLimit:               10_000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ComputeUnitLimit == 0 {
		c.ComputeUnitLimit = def.ComputeUnitLimit
	}
	if c.LamportsPerSignature == 0 {
		c.LamportsPerSignature = def.LamportsPerSignature
	}
	if c.TransactionAccountLockLimit == 0 {
		c.TransactionAccountLockLimit = def.TransactionAccountLockLimit
	}
	if c.LogBytesLimit == 0 {
		c.LogBytesLimit = def.LogBytesLimit
	}
	return c
}
