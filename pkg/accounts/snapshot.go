// Snapshot export and import for account stores.
//
// Snapshots let a test suite capture a fully constructed ledger once and
// rehydrate it into fresh simulator instances. This is caller-driven state
// transfer between processes, not durable storage: the simulator never reads
// or writes snapshots on its own.
//
// Snapshot format:
//   - Magic (4 bytes): "X1LB"
//   - Version (4 bytes, little-endian)
//   - Slot (8 bytes, little-endian)
//   - AccountsCount (8 bytes, little-endian)
//   - zstd-compressed stream of records:
//     pubkey (32 bytes) + record length (8 bytes) + serialized account
package accounts

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Litebank/internal/types"
)

// Snapshot format version.
const snapshotVersion uint32 = 1

// snapshotMagic identifies litebank snapshot streams.
var snapshotMagic = []byte{'X', '1', 'L', 'B'}

// ErrInvalidSnapshot is returned when a snapshot stream is malformed.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// SnapshotHeader describes a snapshot stream.
type SnapshotHeader struct {
	// Version is the snapshot format version.
	Version uint32

	// Slot is the slot at which the snapshot was taken.
	Slot uint64

	// AccountsCount is the number of accounts in the snapshot.
	AccountsCount uint64
}

// WriteSnapshot writes the full contents of a store to w.
func WriteSnapshot(w io.Writer, store Store, slot uint64) error {
	count, err := store.AccountsCount()
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	header := make([]byte, 24)
	copy(header, snapshotMagic)
	binary.LittleEndian.PutUint32(header[4:], snapshotVersion)
	binary.LittleEndian.PutUint64(header[8:], slot)
	binary.LittleEndian.PutUint64(header[16:], count)
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}

	enc, err := zstd.NewWriter(bw)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}

	var lenBuf [8]byte
	err = store.ForEach(func(pubkey types.Pubkey, account *Account) error {
		if _, err := enc.Write(pubkey[:]); err != nil {
			return err
		}
		raw := account.Serialize()
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(raw)))
		if _, err := enc.Write(lenBuf[:]); err != nil {
			return err
		}
		_, err := enc.Write(raw)
		return err
	})
	if err != nil {
		enc.Close()
		return fmt.Errorf("write snapshot records: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return bw.Flush()
}

// ReadSnapshot loads a snapshot stream into a store, overwriting any
// accounts that share addresses with snapshot records.
func ReadSnapshot(r io.Reader, store Store) (*SnapshotHeader, error) {
	br := bufio.NewReader(r)

	header := make([]byte, 24)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("read snapshot header: %w", err)
	}
	for i := range snapshotMagic {
		if header[i] != snapshotMagic[i] {
			return nil, ErrInvalidSnapshot
		}
	}
	sh := &SnapshotHeader{
		Version:       binary.LittleEndian.Uint32(header[4:]),
		Slot:          binary.LittleEndian.Uint64(header[8:]),
		AccountsCount: binary.LittleEndian.Uint64(header[16:]),
	}
	if sh.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, sh.Version)
	}

	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var pubkeyBuf [types.PubkeySize]byte
	var lenBuf [8]byte
	for i := uint64(0); i < sh.AccountsCount; i++ {
		if _, err := io.ReadFull(dec, pubkeyBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: truncated record %d", ErrInvalidSnapshot, i)
		}
		if _, err := io.ReadFull(dec, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: truncated record %d", ErrInvalidSnapshot, i)
		}
		recordLen := binary.LittleEndian.Uint64(lenBuf[:])
		if recordLen > MaxDataSize+57 {
			return nil, ErrInvalidSnapshot
		}
		raw := make([]byte, recordLen)
		if _, err := io.ReadFull(dec, raw); err != nil {
			return nil, fmt.Errorf("%w: truncated record %d", ErrInvalidSnapshot, i)
		}
		account, err := Deserialize(raw)
		if err != nil {
			return nil, err
		}
		var pubkey types.Pubkey
		copy(pubkey[:], pubkeyBuf[:])
		if err := store.SetAccount(pubkey, account); err != nil {
			return nil, err
		}
	}
	return sh, nil
}
