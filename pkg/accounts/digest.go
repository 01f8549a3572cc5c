// State digest computation.
package accounts

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/X1-Litebank/internal/types"
)

// StateDigest computes a BLAKE3 checksum over the entire store, visiting
// accounts in ascending address order. Two stores hold byte-identical state
// iff their digests match, which is what the simulator's atomicity and
// determinism guarantees are asserted against.
func StateDigest(store Store) (types.Hash, error) {
	h := blake3.New()
	var countBuf [8]byte
	var count uint64
	err := store.ForEach(func(pubkey types.Pubkey, account *Account) error {
		count++
		h.Write(pubkey[:])
		h.Write(account.Serialize())
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	binary.LittleEndian.PutUint64(countBuf[:], count)
	h.Write(countBuf[:])

	var digest types.Hash
	copy(digest[:], h.Sum(nil))
	return digest, nil
}
