// Package ledger is the single write path for OT allocations. Every mutation
// runs inside a store transaction serialized per (room, date), with the
// booking validator executed under the same lock, so validate-then-insert is
// atomic against concurrent front-desk sessions.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/outbox"
	"github.com/theaterops/theaterops/services/theater-service/internal/store"
	"github.com/theaterops/theaterops/services/theater-service/internal/validate"
)

type Ledger struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	// cancelReleases makes Cancel also deactivate, releasing slots in one
	// call. Default off: a soft-cancelled booking keeps blocking its slots
	// until explicitly deactivated.
	cancelReleases bool
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithCancelRelease(enabled bool) Option {
	return func(l *Ledger) { l.cancelReleases = enabled }
}

func New(st store.Store, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  st,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewAllocation is the creation request for a booking.
type NewAllocation struct {
	RoomID        int64
	Date          model.Date
	SlotIDs       []int64
	Patient       model.PatientRef
	AllowSlotless bool
}

// Create validates the candidate against the room's slots and current
// allocations, then inserts. Returns SlotConflictError, UnknownSlotError,
// ErrEmptySlotSet or ErrPatientSource on rejection.
func (l *Ledger) Create(ctx context.Context, req NewAllocation) (*model.Allocation, error) {
	if err := req.Patient.Validate(); err != nil {
		return nil, err
	}

	alloc := &model.Allocation{
		ID:        uuid.NewString(),
		RoomID:    req.RoomID,
		Date:      req.Date,
		SlotIDs:   model.NormalizeSlotIDs(req.SlotIDs),
		Patient:   req.Patient,
		Status:    model.StatusScheduled,
		Active:    true,
		CreatedAt: l.now(),
	}

	err := l.store.Write(ctx, req.RoomID, req.Date, func(tx store.Tx) error {
		slots, err := tx.SlotsByRoom(ctx, req.RoomID)
		if err != nil {
			return err
		}
		existing, err := tx.AllocationsByRoomAndDate(ctx, req.RoomID, req.Date)
		if err != nil {
			return err
		}
		candidate := validate.Candidate{
			RoomID:        req.RoomID,
			Date:          req.Date,
			SlotIDs:       alloc.SlotIDs,
			AllowSlotless: req.AllowSlotless,
		}
		if err := validate.Check(candidate, slots, existing); err != nil {
			return err
		}
		if err := tx.CreateAllocation(ctx, alloc); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, l.event(outbox.EventAllocationBooked, alloc, nil))
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("allocation booked", "allocation_id", alloc.ID, "room_id", alloc.RoomID, "date", alloc.Date, "slots", len(alloc.SlotIDs))
	return alloc, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*model.Allocation, error) {
	var alloc *model.Allocation
	err := l.store.Read(ctx, func(tx store.Tx) error {
		var err error
		alloc, err = tx.GetAllocation(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

// ListByRoomAndDate returns active and inactive allocations; callers sort.
func (l *Ledger) ListByRoomAndDate(ctx context.Context, roomID int64, date model.Date) ([]*model.Allocation, error) {
	var allocs []*model.Allocation
	err := l.store.Read(ctx, func(tx store.Tx) error {
		var err error
		allocs, err = tx.AllocationsByRoomAndDate(ctx, roomID, date)
		return err
	})
	if err != nil {
		return nil, err
	}
	return allocs, nil
}

// UpdateStatus applies a forward-only transition. Entering InProgress stamps
// ActualStart; entering Completed stamps ActualEnd.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, to model.OperationStatus) (*model.Allocation, error) {
	return l.mutate(ctx, id, func(alloc *model.Allocation) (string, error) {
		if !alloc.Status.CanTransition(to) {
			return "", &model.InvalidTransitionError{From: alloc.Status, To: to}
		}
		from := alloc.Status
		alloc.Status = to
		now := l.now()
		switch to {
		case model.StatusInProgress:
			if alloc.ActualStart == nil {
				alloc.ActualStart = &now
			}
		case model.StatusCompleted:
			if alloc.ActualEnd == nil {
				alloc.ActualEnd = &now
			}
		}
		l.logger.Info("allocation status changed", "allocation_id", alloc.ID, "from", from, "to", to)
		return outbox.EventAllocationStatusChanged, nil
	})
}

// Cancel moves the booking to Cancelled. It does not release slots unless
// the ledger was built with WithCancelRelease; Deactivate is the release
// mechanism otherwise.
func (l *Ledger) Cancel(ctx context.Context, id string) (*model.Allocation, error) {
	return l.mutate(ctx, id, func(alloc *model.Allocation) (string, error) {
		if !alloc.Status.CanTransition(model.StatusCancelled) {
			return "", &model.InvalidTransitionError{From: alloc.Status, To: model.StatusCancelled}
		}
		alloc.Status = model.StatusCancelled
		if l.cancelReleases {
			alloc.Active = false
		}
		l.logger.Info("allocation cancelled", "allocation_id", alloc.ID, "released", l.cancelReleases)
		return outbox.EventAllocationCancelled, nil
	})
}

// Deactivate clears the active flag, releasing the allocation's slots.
// Deactivating an already inactive allocation is a no-op.
func (l *Ledger) Deactivate(ctx context.Context, id string) (*model.Allocation, error) {
	return l.mutate(ctx, id, func(alloc *model.Allocation) (string, error) {
		if !alloc.Active {
			return "", nil
		}
		alloc.Active = false
		l.logger.Info("allocation deactivated", "allocation_id", alloc.ID)
		return outbox.EventAllocationReleased, nil
	})
}

// mutate loads the allocation, re-reads it under the room+date writer lock,
// applies fn and persists. fn returns the event type to emit ("" for none).
func (l *Ledger) mutate(ctx context.Context, id string, fn func(*model.Allocation) (string, error)) (*model.Allocation, error) {
	// First read resolves the lock key; the allocation is re-fetched inside
	// the write transaction before anything is decided.
	located, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *model.Allocation
	err = l.store.Write(ctx, located.RoomID, located.Date, func(tx store.Tx) error {
		alloc, err := tx.GetAllocation(ctx, id)
		if err != nil {
			return err
		}
		eventType, err := fn(alloc)
		if err != nil {
			return err
		}
		if err := tx.UpdateAllocation(ctx, alloc); err != nil {
			return err
		}
		updated = alloc
		if eventType == "" {
			return nil
		}
		return tx.AppendEvent(ctx, l.event(eventType, alloc, nil))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (l *Ledger) event(eventType string, alloc *model.Allocation, extra map[string]any) outbox.Event {
	payload := map[string]any{
		"allocation_id": alloc.ID,
		"room_id":       alloc.RoomID,
		"date":          alloc.Date.String(),
		"slot_ids":      alloc.SlotIDs,
		"status":        alloc.Status,
		"active":        alloc.Active,
	}
	for k, v := range extra {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		l.logger.Error("failed to build event payload", "err", err, "event_type", eventType)
		body = []byte("{}")
	}
	return outbox.Event{
		AggregateType: "allocation",
		AggregateID:   alloc.ID,
		EventType:     eventType,
		Payload:       body,
	}
}
