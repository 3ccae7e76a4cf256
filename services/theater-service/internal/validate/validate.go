// Package validate gates allocation creation. It is pure: the ledger feeds
// it the room's slots and the existing allocations read inside the same
// write transaction, which is what makes validate-then-insert atomic.
package validate

import (
	"sort"

	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/occupancy"
)

// Candidate is a proposed allocation.
type Candidate struct {
	RoomID  int64
	Date    model.Date
	SlotIDs []int64

	// AllowSlotless must be set explicitly for a zero-slot booking; an empty
	// slot set is otherwise a caller mistake, not a valid request.
	AllowSlotless bool
}

// Check runs the validation pipeline:
//  1. empty slot set (unless explicitly allowed),
//  2. every slot exists in the room and is bookable,
//  3. no slot is held by another occupying allocation.
func Check(c Candidate, slots []model.Slot, existing []*model.Allocation) error {
	ids := model.NormalizeSlotIDs(c.SlotIDs)
	if len(ids) == 0 {
		if c.AllowSlotless {
			return nil
		}
		return model.ErrEmptySlotSet
	}

	bookable := make(map[int64]struct{}, len(slots))
	inRoom := make(map[int64]struct{}, len(slots))
	for _, s := range slots {
		inRoom[s.ID] = struct{}{}
		if s.Active {
			bookable[s.ID] = struct{}{}
		}
	}
	for _, id := range ids {
		if _, ok := bookable[id]; !ok {
			_, exists := inRoom[id]
			return &model.UnknownSlotError{SlotID: id, RoomID: c.RoomID, Inactive: exists}
		}
	}

	held := occupancy.OccupiedIDs(existing)
	var conflictSlots []int64
	conflictAllocs := make(map[string]struct{})
	for _, id := range ids {
		if owner, ok := held[id]; ok {
			conflictSlots = append(conflictSlots, id)
			conflictAllocs[owner.ID] = struct{}{}
		}
	}
	if len(conflictSlots) > 0 {
		allocIDs := make([]string, 0, len(conflictAllocs))
		for id := range conflictAllocs {
			allocIDs = append(allocIDs, id)
		}
		sort.Strings(allocIDs)
		return &model.SlotConflictError{AllocationIDs: allocIDs, SlotIDs: conflictSlots}
	}
	return nil
}
