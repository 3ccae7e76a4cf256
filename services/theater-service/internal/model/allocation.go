package model

import (
	"slices"
	"time"
)

// OperationStatus is the lifecycle state of an OT booking.
type OperationStatus string

const (
	StatusScheduled  OperationStatus = "scheduled"
	StatusInProgress OperationStatus = "in_progress"
	StatusCompleted  OperationStatus = "completed"
	StatusCancelled  OperationStatus = "cancelled"
	StatusPostponed  OperationStatus = "postponed"
)

// transitions is the forward-only edge set. There are no self-edges: asking
// for the current status again is rejected, not treated as a no-op.
var transitions = map[OperationStatus][]OperationStatus{
	StatusScheduled:  {StatusInProgress, StatusCancelled, StatusPostponed},
	StatusInProgress: {StatusCompleted, StatusCancelled, StatusPostponed},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusPostponed:  {},
}

func ParseStatus(s string) (OperationStatus, bool) {
	switch OperationStatus(s) {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled, StatusPostponed:
		return OperationStatus(s), true
	}
	return "", false
}

func (s OperationStatus) CanTransition(to OperationStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PatientRef is the opaque link from an allocation to whoever is being
// operated on. Exactly one of the four sources must be set; the engine never
// dereferences any of them.
type PatientRef struct {
	PatientID       string
	AdmissionID     string
	AppointmentID   string
	EmergencySlotID string
}

func (p PatientRef) Validate() error {
	set := 0
	for _, v := range []string{p.PatientID, p.AdmissionID, p.AppointmentID, p.EmergencySlotID} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return ErrPatientSource
	}
	return nil
}

// Allocation is an OT booking: one room, one date, a set of slots, one
// patient source.
type Allocation struct {
	ID          string
	RoomID      int64
	Date        Date
	SlotIDs     []int64 // sorted, unique; empty only for explicit slotless bookings
	Patient     PatientRef
	Status      OperationStatus
	ActualStart *time.Time // set when the operation starts
	ActualEnd   *time.Time // set when the operation completes
	Active      bool       // soft-delete flag; inactive allocations hold no slots
	CreatedAt   time.Time
}

func (a *Allocation) HasSlot(id int64) bool {
	for _, sid := range a.SlotIDs {
		if sid == id {
			return true
		}
	}
	return false
}

// Occupies reports whether the allocation currently holds its slots. Status
// alone never releases slots: a soft-cancelled booking still blocks them
// until it is deactivated.
func (a *Allocation) Occupies() bool {
	return a.Active
}

// NormalizeSlotIDs returns a sorted, deduplicated copy of the slot set. The
// input slice is never touched; callers may keep sharing it across requests.
func NormalizeSlotIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
