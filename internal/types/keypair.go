package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

// SeedSize is the size of an Ed25519 private key seed.
const SeedSize = ed25519.SeedSize

// ErrInvalidSeed is returned when a keypair seed has invalid length.
var ErrInvalidSeed = errors.New("invalid seed: must be 32 bytes")

// Keypair holds an Ed25519 signing key and its public address.
// It is the opaque sign capability used by transaction construction;
// the simulator core only ever sees pubkeys and signatures.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  Pubkey
}

// NewKeypair generates a random keypair.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	var p Pubkey
	copy(p[:], pub)
	return &Keypair{priv: priv, pub: p}, nil
}

// KeypairFromSeed derives a keypair deterministically from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var p Pubkey
	copy(p[:], priv.Public().(ed25519.PublicKey))
	return &Keypair{priv: priv, pub: p}, nil
}

// Pubkey returns the public address of the keypair.
func (k *Keypair) Pubkey() Pubkey {
	return k.pub
}

// Sign signs a message and returns the 64-byte signature.
func (k *Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.priv, message))
	return sig
}
