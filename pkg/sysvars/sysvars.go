// Package sysvars implements the reserved sysvar accounts exposed to
// programs through the account store.
//
// Each sysvar has a protocol-defined little-endian byte layout (the bincode
// encoding used on mainnet) that must be preserved byte-for-byte so that
// deployed programs reading sysvar accounts see exactly what a real node
// would give them.
package sysvars

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/fortiblox/X1-Litebank/internal/types"
)

// ErrInvalidSysvarData is returned when a sysvar account holds a payload
// that doesn't match the expected layout.
var ErrInvalidSysvarData = errors.New("invalid sysvar data")

// Clock layout: slot (8) + epoch_start_timestamp (8) + epoch (8) +
// leader_schedule_epoch (8) + unix_timestamp (8).
const ClockSize = 40

// Clock is the clock sysvar: the simulator's logical time.
type Clock struct {
	Slot                uint64
	EpochStartTimestamp int64
	Epoch               uint64
	LeaderScheduleEpoch uint64
	UnixTimestamp       int64
}

// Serialize encodes the clock in its sysvar account layout.
func (c *Clock) Serialize() []byte {
	buf := make([]byte, ClockSize)
	binary.LittleEndian.PutUint64(buf[0:], c.Slot)
	binary.LittleEndian.PutUint64(buf[8:], uint64(c.EpochStartTimestamp))
	binary.LittleEndian.PutUint64(buf[16:], c.Epoch)
	binary.LittleEndian.PutUint64(buf[24:], c.LeaderScheduleEpoch)
	binary.LittleEndian.PutUint64(buf[32:], uint64(c.UnixTimestamp))
	return buf
}

// DeserializeClock decodes a clock sysvar payload.
func DeserializeClock(data []byte) (Clock, error) {
	if len(data) < ClockSize {
		return Clock{}, ErrInvalidSysvarData
	}
	return Clock{
		Slot:                binary.LittleEndian.Uint64(data[0:]),
		EpochStartTimestamp: int64(binary.LittleEndian.Uint64(data[8:])),
		Epoch:               binary.LittleEndian.Uint64(data[16:]),
		LeaderScheduleEpoch: binary.LittleEndian.Uint64(data[24:]),
		UnixTimestamp:       int64(binary.LittleEndian.Uint64(data[32:])),
	}, nil
}

// Rent layout: lamports_per_byte_year (8) + exemption_threshold (8, f64) +
// burn_percent (1).
const RentSize = 17

// AccountStorageOverhead is the per-account byte overhead charged by rent.
const AccountStorageOverhead = 128

// Rent is the rent sysvar.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// DefaultRent returns mainnet rent parameters.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: 3480,
		ExemptionThreshold:  2.0,
		BurnPercent:         50,
	}
}

// MinimumBalance returns the rent-exempt minimum for an account of the
// given data length.
func (r *Rent) MinimumBalance(dataLen uint64) uint64 {
	bytes := AccountStorageOverhead + dataLen
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// Serialize encodes the rent in its sysvar account layout.
func (r *Rent) Serialize() []byte {
	buf := make([]byte, RentSize)
	binary.LittleEndian.PutUint64(buf[0:], r.LamportsPerByteYear)
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(r.ExemptionThreshold))
	buf[16] = r.BurnPercent
	return buf
}

// DeserializeRent decodes a rent sysvar payload.
func DeserializeRent(data []byte) (Rent, error) {
	if len(data) < RentSize {
		return Rent{}, ErrInvalidSysvarData
	}
	return Rent{
		LamportsPerByteYear: binary.LittleEndian.Uint64(data[0:]),
		ExemptionThreshold:  math.Float64frombits(binary.LittleEndian.Uint64(data[8:])),
		BurnPercent:         data[16],
	}, nil
}

// EpochSchedule layout: slots_per_epoch (8) + leader_schedule_slot_offset (8) +
// warmup (1) + first_normal_epoch (8) + first_normal_slot (8).
const EpochScheduleSize = 33

// MinimumSlotsPerEpoch is the smallest epoch length during warmup.
const MinimumSlotsPerEpoch = 32

// EpochSchedule maps slots to epochs. During warmup, epochs grow as powers
// of two from MinimumSlotsPerEpoch up to SlotsPerEpoch.
type EpochSchedule struct {
	SlotsPerEpoch            uint64
	LeaderScheduleSlotOffset uint64
	Warmup                   bool
	FirstNormalEpoch         uint64
	FirstNormalSlot          uint64
}

// DefaultEpochSchedule returns the mainnet schedule (432,000-slot epochs
// with warmup).
func DefaultEpochSchedule() EpochSchedule {
	return CustomEpochSchedule(432_000, 432_000, true)
}

// CustomEpochSchedule builds a schedule, deriving the first normal epoch
// and slot when warmup is enabled.
func CustomEpochSchedule(slotsPerEpoch, leaderScheduleSlotOffset uint64, warmup bool) EpochSchedule {
	s := EpochSchedule{
		SlotsPerEpoch:            slotsPerEpoch,
		LeaderScheduleSlotOffset: leaderScheduleSlotOffset,
		Warmup:                   warmup,
	}
	if warmup {
		nextPow2 := nextPowerOfTwo(slotsPerEpoch)
		s.FirstNormalEpoch = uint64(trailingZeros(nextPow2) - trailingZeros(MinimumSlotsPerEpoch))
		s.FirstNormalSlot = nextPow2 - MinimumSlotsPerEpoch
	}
	return s
}

// EpochAndSlotIndex returns the epoch containing slot and the slot's index
// within it.
func (s *EpochSchedule) EpochAndSlotIndex(slot uint64) (uint64, uint64) {
	if slot < s.FirstNormalSlot {
		epoch := trailingZeros(nextPowerOfTwo(slot+MinimumSlotsPerEpoch+1)) -
			trailingZeros(MinimumSlotsPerEpoch) - 1
		epochLen := uint64(1) << (uint(epoch) + uint(trailingZeros(MinimumSlotsPerEpoch)))
		return uint64(epoch), slot - (epochLen - MinimumSlotsPerEpoch)
	}
	normalSlotIndex := slot - s.FirstNormalSlot
	normalEpochIndex := normalSlotIndex / s.SlotsPerEpoch
	return s.FirstNormalEpoch + normalEpochIndex, normalSlotIndex % s.SlotsPerEpoch
}

// FirstSlotInEpoch returns the first slot of the given epoch.
func (s *EpochSchedule) FirstSlotInEpoch(epoch uint64) uint64 {
	if epoch < s.FirstNormalEpoch {
		return (uint64(1)<<epoch - 1) * MinimumSlotsPerEpoch
	}
	return (epoch-s.FirstNormalEpoch)*s.SlotsPerEpoch + s.FirstNormalSlot
}

// LeaderScheduleEpoch returns the epoch whose leader schedule is computed
// at the given slot.
func (s *EpochSchedule) LeaderScheduleEpoch(slot uint64) uint64 {
	if slot < s.FirstNormalSlot {
		epoch, _ := s.EpochAndSlotIndex(slot)
		return epoch + 1
	}
	return s.FirstNormalEpoch +
		(slot+s.LeaderScheduleSlotOffset-s.FirstNormalSlot)/s.SlotsPerEpoch
}

// Serialize encodes the schedule in its sysvar account layout.
func (s *EpochSchedule) Serialize() []byte {
	buf := make([]byte, EpochScheduleSize)
	binary.LittleEndian.PutUint64(buf[0:], s.SlotsPerEpoch)
	binary.LittleEndian.PutUint64(buf[8:], s.LeaderScheduleSlotOffset)
	if s.Warmup {
		buf[16] = 1
	}
	binary.LittleEndian.PutUint64(buf[17:], s.FirstNormalEpoch)
	binary.LittleEndian.PutUint64(buf[25:], s.FirstNormalSlot)
	return buf
}

// DeserializeEpochSchedule decodes an epoch schedule sysvar payload.
func DeserializeEpochSchedule(data []byte) (EpochSchedule, error) {
	if len(data) < EpochScheduleSize {
		return EpochSchedule{}, ErrInvalidSysvarData
	}
	return EpochSchedule{
		SlotsPerEpoch:            binary.LittleEndian.Uint64(data[0:]),
		LeaderScheduleSlotOffset: binary.LittleEndian.Uint64(data[8:]),
		Warmup:                   data[16] != 0,
		FirstNormalEpoch:         binary.LittleEndian.Uint64(data[17:]),
		FirstNormalSlot:          binary.LittleEndian.Uint64(data[25:]),
	}, nil
}

// SlotHashesMax is the retained slot hash count.
const SlotHashesMax = 512

// SlotHash pairs a slot with the hash committed at that slot.
type SlotHash struct {
	Slot uint64
	Hash types.Hash
}

// SlotHashes is the slot hashes sysvar, newest first.
type SlotHashes []SlotHash

// Serialize encodes the slot hashes in their sysvar account layout:
// count (8) followed by slot (8) + hash (32) entries.
func (s SlotHashes) Serialize() []byte {
	buf := make([]byte, 8+len(s)*40)
	binary.LittleEndian.PutUint64(buf[0:], uint64(len(s)))
	offset := 8
	for _, sh := range s {
		binary.LittleEndian.PutUint64(buf[offset:], sh.Slot)
		copy(buf[offset+8:], sh.Hash[:])
		offset += 40
	}
	return buf
}

// DeserializeSlotHashes decodes a slot hashes sysvar payload.
func DeserializeSlotHashes(data []byte) (SlotHashes, error) {
	if len(data) < 8 {
		return nil, ErrInvalidSysvarData
	}
	count := binary.LittleEndian.Uint64(data[0:])
	if count > SlotHashesMax || uint64(len(data)-8) < count*40 {
		return nil, ErrInvalidSysvarData
	}
	hashes := make(SlotHashes, count)
	offset := 8
	for i := range hashes {
		hashes[i].Slot = binary.LittleEndian.Uint64(data[offset:])
		copy(hashes[i].Hash[:], data[offset+8:offset+40])
		offset += 40
	}
	return hashes, nil
}

// RecentBlockhashesMax is the retained blockhash count, matching the
// processor's replay-protection window.
const RecentBlockhashesMax = 150

// RecentBlockhash pairs a blockhash with the fee rate in force when it was
// produced.
type RecentBlockhash struct {
	Blockhash            types.Hash
	LamportsPerSignature uint64
}

// RecentBlockhashes is the (deprecated but still widely read) recent
// blockhashes sysvar, newest first.
type RecentBlockhashes []RecentBlockhash

// Serialize encodes the entries in their sysvar account layout:
// count (8) followed by hash (32) + lamports_per_signature (8) entries.
func (r RecentBlockhashes) Serialize() []byte {
	buf := make([]byte, 8+len(r)*40)
	binary.LittleEndian.PutUint64(buf[0:], uint64(len(r)))
	offset := 8
	for _, e := range r {
		copy(buf[offset:], e.Blockhash[:])
		binary.LittleEndian.PutUint64(buf[offset+32:], e.LamportsPerSignature)
		offset += 40
	}
	return buf
}

// DeserializeRecentBlockhashes decodes a recent blockhashes sysvar payload.
func DeserializeRecentBlockhashes(data []byte) (RecentBlockhashes, error) {
	if len(data) < 8 {
		return nil, ErrInvalidSysvarData
	}
	count := binary.LittleEndian.Uint64(data[0:])
	if count > RecentBlockhashesMax || uint64(len(data)-8) < count*40 {
		return nil, ErrInvalidSysvarData
	}
	entries := make(RecentBlockhashes, count)
	offset := 8
	for i := range entries {
		copy(entries[i].Blockhash[:], data[offset:offset+32])
		entries[i].LamportsPerSignature = binary.LittleEndian.Uint64(data[offset+32:])
		offset += 40
	}
	return entries, nil
}

// LastRestartSlotSize is the last restart slot sysvar payload size.
const LastRestartSlotSize = 8

// SerializeLastRestartSlot encodes the last restart slot sysvar.
func SerializeLastRestartSlot(slot uint64) []byte {
	buf := make([]byte, LastRestartSlotSize)
	binary.LittleEndian.PutUint64(buf, slot)
	return buf
}

// DeserializeLastRestartSlot decodes the last restart slot sysvar.
func DeserializeLastRestartSlot(data []byte) (uint64, error) {
	if len(data) < LastRestartSlotSize {
		return 0, ErrInvalidSysvarData
	}
	return binary.LittleEndian.Uint64(data), nil
}

func nextPowerOfTwo(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

func trailingZeros(v uint64) int {
	if v == 0 {
		return 64
	}
	n := 0
	for v&1 == 0 {
		v >>= 1
		n++
	}
	return n
}
