// Package occupancy computes the occupied/free partition of a room's slots
// for one calendar date. It is the single place that turns allocation state
// into a boolean "occupied" view, so the booking validator and any status
// board agree by construction.
package occupancy

import (
	"context"

	"github.com/theaterops/theaterops/services/theater-service/internal/model"
)

// SlotAllocation pairs an occupied slot with the allocation holding it.
type SlotAllocation struct {
	Slot       model.Slot
	Allocation *model.Allocation
}

// Snapshot is the full partition for a room+date. Restricted to active slots,
// Occupied and Free are disjoint and together cover the room.
type Snapshot struct {
	Occupied []SlotAllocation
	Free     []model.Slot
}

type Options struct {
	// IncludeInactiveSlots also partitions slots taken out of service.
	// Default: excluded from both sets.
	IncludeInactiveSlots bool
}

// OccupiedIDs returns the union of slot ids held by allocations that
// currently occupy. Status is irrelevant: a cancelled booking still holds its
// slots until deactivated.
func OccupiedIDs(allocations []*model.Allocation) map[int64]*model.Allocation {
	held := make(map[int64]*model.Allocation)
	for _, a := range allocations {
		if !a.Occupies() {
			continue
		}
		for _, id := range a.SlotIDs {
			held[id] = a
		}
	}
	return held
}

// Partition splits the room's slots into occupied and free given the
// allocations for that room+date. Pure; no I/O.
func Partition(slots []model.Slot, allocations []*model.Allocation, opts Options) Snapshot {
	held := OccupiedIDs(allocations)

	var snap Snapshot
	for _, s := range slots {
		if !s.Active && !opts.IncludeInactiveSlots {
			continue
		}
		if owner, ok := held[s.ID]; ok {
			snap.Occupied = append(snap.Occupied, SlotAllocation{Slot: s, Allocation: owner})
		} else {
			snap.Free = append(snap.Free, s)
		}
	}
	return snap
}

// SlotSource lists the slots configured for a room.
type SlotSource interface {
	ListByRoom(ctx context.Context, roomID int64) ([]model.Slot, error)
}

// AllocationSource lists allocations (active and inactive) for a room+date.
type AllocationSource interface {
	ListByRoomAndDate(ctx context.Context, roomID int64, date model.Date) ([]*model.Allocation, error)
}

// Resolver fetches both sides and partitions them. Reads may run concurrently
// with writers; a stale snapshot is acceptable to callers.
type Resolver struct {
	slots  SlotSource
	allocs AllocationSource
}

func NewResolver(slots SlotSource, allocs AllocationSource) *Resolver {
	return &Resolver{slots: slots, allocs: allocs}
}

func (r *Resolver) Resolve(ctx context.Context, roomID int64, date model.Date, opts Options) (Snapshot, error) {
	slots, err := r.slots.ListByRoom(ctx, roomID)
	if err != nil {
		return Snapshot{}, err
	}
	allocs, err := r.allocs.ListByRoomAndDate(ctx, roomID, date)
	if err != nil {
		return Snapshot{}, err
	}
	return Partition(slots, allocs, opts), nil
}
