package types

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"
)

// PDA derivation limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

// pdaMarker is appended to the hash input during PDA derivation.
var pdaMarker = []byte("ProgramDerivedAddress")

// PDA derivation errors.
var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrInvalidSeeds          = errors.New("invalid seeds: derived address is on curve")
	ErrNoViableBump          = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress derives a program address from seeds and a program ID.
// The derived address must not be a valid Ed25519 point; addresses that land
// on the curve are rejected so that no private key can ever sign for a PDA.
func CreateProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return Pubkey{}, ErrMaxSeedsExceeded
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Pubkey{}, ErrMaxSeedLengthExceeded
		}
	}

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var addr Pubkey
	copy(addr[:], h.Sum(nil))

	if isOnCurve(addr) {
		return Pubkey{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress finds a valid PDA by trying bump seeds from 255 down.
func FindProgramAddress(seeds [][]byte, programID Pubkey) (Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return Pubkey{}, 0, ErrMaxSeedsExceeded
	}
	seedsWithBump := make([][]byte, len(seeds)+1)
	copy(seedsWithBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		seedsWithBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(seedsWithBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return Pubkey{}, 0, ErrNoViableBump
}

// CreateWithSeed derives an address as SHA256(base || seed || owner).
// Used by the system program's *WithSeed instructions.
func CreateWithSeed(base Pubkey, seed string, owner Pubkey) (Pubkey, error) {
	if len(seed) > MaxSeedLen {
		return Pubkey{}, ErrMaxSeedLengthExceeded
	}
	h := sha256.New()
	h.Write(base[:])
	h.Write([]byte(seed))
	h.Write(owner[:])

	var addr Pubkey
	copy(addr[:], h.Sum(nil))
	return addr, nil
}

// isOnCurve reports whether the bytes decompress to a valid Ed25519 point.
func isOnCurve(p Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}
