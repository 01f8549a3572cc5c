package message

import (
	"errors"

	"github.com/fortiblox/X1-Litebank/internal/types"
)

// Transaction versions. Legacy transactions carry no version tag; version 0
// adds address-table lookups.
const (
	VersionLegacy = uint8(0xff)
	Version0      = uint8(0)
)

var (
	// ErrMissingSigner is returned when signing with a keypair that is not
	// a required signer of the message.
	ErrMissingSigner = errors.New("keypair is not a required signer")

	// ErrNotEnoughSignatures is returned when a transaction lacks a
	// signature for a required signer.
	ErrNotEnoughSignatures = errors.New("not enough signatures")

	// ErrSignatureMismatch is returned when a signature fails verification.
	ErrSignatureMismatch = errors.New("signature verification failed")
)

// Transaction is a signed message. Atomic: either every instruction's
// effects commit or none do.
type Transaction struct {
	// Version is VersionLegacy or Version0.
	Version uint8

	// Signatures holds one signature per required signer, ordered to match
	// the message's leading account keys.
	Signatures []types.Signature

	// Message is the compiled payload the signatures cover.
	Message Message
}

// NewTransaction compiles instructions into a signed legacy transaction.
// The first signer is the fee payer.
func NewTransaction(instrs []Instruction, blockhash types.Hash, signers ...*types.Keypair) (*Transaction, error) {
	if len(signers) == 0 {
		return nil, ErrNotEnoughSignatures
	}
	msg, err := Compile(signers[0].Pubkey(), instrs, blockhash)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		Version:    VersionLegacy,
		Signatures: make([]types.Signature, msg.Header.NumRequiredSignatures),
		Message:    *msg,
	}
	if err := tx.Sign(signers...); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign fills in signatures for the given keypairs. Each keypair must be a
// required signer of the message.
func (tx *Transaction) Sign(signers ...*types.Keypair) error {
	payload := tx.Message.Serialize()
	if len(tx.Signatures) != int(tx.Message.Header.NumRequiredSignatures) {
		tx.Signatures = make([]types.Signature, tx.Message.Header.NumRequiredSignatures)
	}
	for _, signer := range signers {
		idx := -1
		for i := 0; i < int(tx.Message.Header.NumRequiredSignatures); i++ {
			if tx.Message.AccountKeys[i] == signer.Pubkey() {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrMissingSigner
		}
		tx.Signatures[idx] = signer.Sign(payload)
	}
	return nil
}

// Signature returns the first signature, which identifies the transaction.
func (tx *Transaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// VerifySignatures checks every required signer's signature over the
// signable payload.
func (tx *Transaction) VerifySignatures() error {
	numRequired := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) < numRequired || numRequired > len(tx.Message.AccountKeys) {
		return ErrNotEnoughSignatures
	}
	payload := tx.Message.Serialize()
	for i := 0; i < numRequired; i++ {
		if tx.Signatures[i].IsZero() {
			return ErrNotEnoughSignatures
		}
		if !tx.Signatures[i].Verify(tx.Message.AccountKeys[i], payload) {
			return ErrSignatureMismatch
		}
	}
	return nil
}
