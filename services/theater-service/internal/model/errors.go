package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers missing rooms, slots and allocations.
	ErrNotFound = errors.New("not found")

	// ErrEmptySlotSet is returned when no slots are supplied and the caller
	// did not explicitly opt into a slotless booking.
	ErrEmptySlotSet = errors.New("no slots supplied")

	// ErrPatientSource is returned unless exactly one patient source field
	// is set on a PatientRef.
	ErrPatientSource = errors.New("exactly one patient source must be set")
)

// UnknownSlotError reports a slot id the room cannot book: either the slot
// does not belong to the room, or it exists but is out of service.
type UnknownSlotError struct {
	SlotID   int64
	RoomID   int64
	Inactive bool // the slot exists in the room but is deactivated
}

func (e *UnknownSlotError) Error() string {
	if e.Inactive {
		return fmt.Sprintf("slot %d in room %d is inactive", e.SlotID, e.RoomID)
	}
	return fmt.Sprintf("slot %d does not belong to room %d", e.SlotID, e.RoomID)
}

// SlotConflictError reports slots already held by other active allocations.
type SlotConflictError struct {
	AllocationIDs []string // allocations holding the contested slots
	SlotIDs       []int64  // the contested slots
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slots %v already occupied by allocations %v", e.SlotIDs, e.AllocationIDs)
}

// InvalidTransitionError reports a status change outside the forward-only table.
type InvalidTransitionError struct {
	From OperationStatus
	To   OperationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition operation status from %s to %s", e.From, e.To)
}
