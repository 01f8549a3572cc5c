package sysvars

import (
	"fmt"

	"github.com/fortiblox/X1-Litebank/internal/types"
	"github.com/fortiblox/X1-Litebank/pkg/accounts"
)

// Registry reads and writes sysvar accounts in an account store.
//
// Sysvar accounts are always owned by the sysvar owner address and are never
// mutated by program instructions; only the registry's setters and the
// simulator's clock controller touch them.
type Registry struct {
	store accounts.Store
	rent  Rent
}

// NewRegistry creates a registry bound to a store. The rent parameters are
// used to fund sysvar accounts at their rent-exempt minimum.
func NewRegistry(store accounts.Store) *Registry {
	return &Registry{store: store, rent: DefaultRent()}
}

// write stores a sysvar payload under addr with the sysvar owner.
func (r *Registry) write(addr types.Pubkey, data []byte) error {
	acc := &accounts.Account{
		Lamports:  r.rent.MinimumBalance(uint64(len(data))),
		Data:      data,
		Owner:     types.SysvarOwnerAddr,
		RentEpoch: ^uint64(0),
	}
	if err := r.store.SetAccount(addr, acc); err != nil {
		return fmt.Errorf("write sysvar %s: %w", addr, err)
	}
	return nil
}

// read fetches a sysvar payload.
func (r *Registry) read(addr types.Pubkey) ([]byte, error) {
	acc, err := r.store.GetAccount(addr)
	if err != nil {
		return nil, fmt.Errorf("read sysvar %s: %w", addr, err)
	}
	return acc.Data, nil
}

// InitDefaults writes genesis values for every sysvar the simulator
// maintains.
func (r *Registry) InitDefaults() error {
	if err := r.SetClock(Clock{}); err != nil {
		return err
	}
	rent := DefaultRent()
	if err := r.SetRent(rent); err != nil {
		return err
	}
	schedule := DefaultEpochSchedule()
	if err := r.SetEpochSchedule(schedule); err != nil {
		return err
	}
	if err := r.SetSlotHashes(SlotHashes{}); err != nil {
		return err
	}
	if err := r.SetRecentBlockhashes(RecentBlockhashes{}); err != nil {
		return err
	}
	return r.SetLastRestartSlot(0)
}

// Clock returns the clock sysvar.
func (r *Registry) Clock() (Clock, error) {
	data, err := r.read(types.SysvarClockAddr)
	if err != nil {
		return Clock{}, err
	}
	return DeserializeClock(data)
}

// SetClock overwrites the clock sysvar, bypassing normal transaction flow.
func (r *Registry) SetClock(c Clock) error {
	return r.write(types.SysvarClockAddr, c.Serialize())
}

// Rent returns the rent sysvar.
func (r *Registry) Rent() (Rent, error) {
	data, err := r.read(types.SysvarRentAddr)
	if err != nil {
		return Rent{}, err
	}
	return DeserializeRent(data)
}

// SetRent overwrites the rent sysvar. Subsequent sysvar accounts are funded
// using the new parameters.
func (r *Registry) SetRent(rent Rent) error {
	if err := r.write(types.SysvarRentAddr, rent.Serialize()); err != nil {
		return err
	}
	r.rent = rent
	return nil
}

// EpochSchedule returns the epoch schedule sysvar.
func (r *Registry) EpochSchedule() (EpochSchedule, error) {
	data, err := r.read(types.SysvarEpochScheduleAddr)
	if err != nil {
		return EpochSchedule{}, err
	}
	return DeserializeEpochSchedule(data)
}

// SetEpochSchedule overwrites the epoch schedule sysvar.
func (r *Registry) SetEpochSchedule(s EpochSchedule) error {
	return r.write(types.SysvarEpochScheduleAddr, s.Serialize())
}

// SlotHashes returns the slot hashes sysvar.
func (r *Registry) SlotHashes() (SlotHashes, error) {
	data, err := r.read(types.SysvarSlotHashesAddr)
	if err != nil {
		return nil, err
	}
	return DeserializeSlotHashes(data)
}

// SetSlotHashes overwrites the slot hashes sysvar, truncating to the
// retention cap.
func (r *Registry) SetSlotHashes(hashes SlotHashes) error {
	if len(hashes) > SlotHashesMax {
		hashes = hashes[:SlotHashesMax]
	}
	return r.write(types.SysvarSlotHashesAddr, hashes.Serialize())
}

// RecentBlockhashes returns the recent blockhashes sysvar.
func (r *Registry) RecentBlockhashes() (RecentBlockhashes, error) {
	data, err := r.read(types.SysvarRecentBlockhashesAddr)
	if err != nil {
		return nil, err
	}
	return DeserializeRecentBlockhashes(data)
}

// SetRecentBlockhashes overwrites the recent blockhashes sysvar, truncating
// to the retention cap.
func (r *Registry) SetRecentBlockhashes(entries RecentBlockhashes) error {
	if len(entries) > RecentBlockhashesMax {
		entries = entries[:RecentBlockhashesMax]
	}
	return r.write(types.SysvarRecentBlockhashesAddr, entries.Serialize())
}

// LastRestartSlot returns the last restart slot sysvar.
func (r *Registry) LastRestartSlot() (uint64, error) {
	data, err := r.read(types.SysvarLastRestartSlotAddr)
	if err != nil {
		return 0, err
	}
	return DeserializeLastRestartSlot(data)
}

// SetLastRestartSlot overwrites the last restart slot sysvar.
func (r *Registry) SetLastRestartSlot(slot uint64) error {
	return r.write(types.SysvarLastRestartSlotAddr, SerializeLastRestartSlot(slot))
}
