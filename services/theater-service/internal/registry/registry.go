// Package registry is the read/admin surface for OT slots. Slot definitions
// are per-room and date-independent; the date only selects which allocations
// hold them.
package registry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/store"
	"github.com/theaterops/theaterops/services/theater-service/internal/timerange"
)

var (
	// ErrDuplicateSlotNumber enforces per-room uniqueness of the human label.
	ErrDuplicateSlotNumber = errors.New("slot number already used in this room")

	// ErrSlotInUse blocks time-range edits while an occupying allocation
	// still references the slot.
	ErrSlotInUse = errors.New("slot is referenced by an active allocation")
)

type Registry struct {
	store  store.Store
	logger *slog.Logger
}

func New(st store.Store, logger *slog.Logger) *Registry {
	return &Registry{store: st, logger: logger}
}

// ListByRoom returns all slots configured for the room, active and inactive.
func (r *Registry) ListByRoom(ctx context.Context, roomID int64) ([]model.Slot, error) {
	var slots []model.Slot
	err := r.store.Read(ctx, func(tx store.Tx) error {
		var err error
		slots, err = tx.SlotsByRoom(ctx, roomID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (r *Registry) Get(ctx context.Context, slotID int64) (model.Slot, error) {
	var slot model.Slot
	err := r.store.Read(ctx, func(tx store.Tx) error {
		var err error
		slot, err = tx.GetSlot(ctx, slotID)
		return err
	})
	if err != nil {
		return model.Slot{}, err
	}
	return slot, nil
}

// Create registers a new slot. The number must be unique within the room.
func (r *Registry) Create(ctx context.Context, roomID int64, number string, rng timerange.TimeRange) (model.Slot, error) {
	created := model.Slot{RoomID: roomID, Number: number, Range: rng, Active: true}
	err := r.adminWrite(ctx, roomID, func(tx store.Tx) error {
		siblings, err := tx.SlotsByRoom(ctx, roomID)
		if err != nil {
			return err
		}
		for _, s := range siblings {
			if s.Number == number {
				return ErrDuplicateSlotNumber
			}
		}
		created, err = tx.CreateSlot(ctx, created)
		return err
	})
	if err != nil {
		return model.Slot{}, err
	}
	r.logger.Info("slot created", "slot_id", created.ID, "room_id", roomID, "number", number, "range", rng.String())
	return created, nil
}

// Relabel renames a slot. Always allowed, including while booked.
func (r *Registry) Relabel(ctx context.Context, slotID int64, number string) (model.Slot, error) {
	return r.updateSlot(ctx, slotID, func(tx store.Tx, slot *model.Slot) error {
		siblings, err := tx.SlotsByRoom(ctx, slot.RoomID)
		if err != nil {
			return err
		}
		for _, s := range siblings {
			if s.ID != slot.ID && s.Number == number {
				return ErrDuplicateSlotNumber
			}
		}
		slot.Number = number
		return nil
	})
}

// UpdateRange changes the slot's time range. Blocked while any occupying
// allocation references the slot, on any date.
func (r *Registry) UpdateRange(ctx context.Context, slotID int64, rng timerange.TimeRange) (model.Slot, error) {
	return r.updateSlot(ctx, slotID, func(tx store.Tx, slot *model.Slot) error {
		refs, err := tx.AllocationsBySlot(ctx, slot.ID)
		if err != nil {
			return err
		}
		for _, a := range refs {
			if a.Occupies() {
				return ErrSlotInUse
			}
		}
		slot.Range = rng
		return nil
	})
}

// Deactivate takes the slot out of booking while keeping it for history.
func (r *Registry) Deactivate(ctx context.Context, slotID int64) (model.Slot, error) {
	return r.updateSlot(ctx, slotID, func(_ store.Tx, slot *model.Slot) error {
		slot.Active = false
		return nil
	})
}

func (r *Registry) updateSlot(ctx context.Context, slotID int64, fn func(store.Tx, *model.Slot) error) (model.Slot, error) {
	located, err := r.Get(ctx, slotID)
	if err != nil {
		return model.Slot{}, err
	}

	var updated model.Slot
	err = r.adminWrite(ctx, located.RoomID, func(tx store.Tx) error {
		slot, err := tx.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if err := fn(tx, &slot); err != nil {
			return err
		}
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return err
		}
		updated = slot
		return nil
	})
	if err != nil {
		return model.Slot{}, err
	}
	return updated, nil
}

// adminWrite takes the room lock exclusively (empty date). That serializes
// admins against each other and excludes in-flight bookings of the room, so
// the referenced-slot check in UpdateRange cannot race a Create that books
// the slot on some date.
func (r *Registry) adminWrite(ctx context.Context, roomID int64, fn func(store.Tx) error) error {
	return r.store.Write(ctx, roomID, "", fn)
}
