package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/theaterops/theaterops/libs/runtime"
	"github.com/theaterops/theaterops/services/theater-service/internal/memstore"
	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/occupancy"
	"github.com/theaterops/theaterops/services/theater-service/internal/outbox"
	"github.com/theaterops/theaterops/services/theater-service/internal/registry"
	"github.com/theaterops/theaterops/services/theater-service/internal/timerange"
)

const testDate = model.Date("2026-03-14")

// newTestEngine seeds room 1 with four half-hour slots starting at 09:00.
func newTestEngine(t *testing.T, opts ...Option) (*Ledger, *registry.Registry, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	logger := runtime.NewLogger("theater-service-test")
	reg := registry.New(st, logger)

	start := 9 * 60
	for i := 0; i < 4; i++ {
		rng, err := timerange.New(start+i*30, start+(i+1)*30)
		if err != nil {
			t.Fatalf("slot range: %v", err)
		}
		if _, err := reg.Create(context.Background(), 1, fmt.Sprintf("SL%02d", i+1), rng); err != nil {
			t.Fatalf("seed slot: %v", err)
		}
	}
	return New(st, logger, opts...), reg, st
}

func TestCreate_RoundTripOccupancy(t *testing.T) {
	led, reg, _ := newTestEngine(t)
	ctx := context.Background()

	alloc, err := led.Create(ctx, NewAllocation{
		RoomID:  1,
		Date:    testDate,
		SlotIDs: []int64{2, 1},
		Patient: model.PatientRef{PatientID: "p1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := alloc.SlotIDs; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected normalized slot ids [1 2], got %v", got)
	}
	if alloc.Status != model.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", alloc.Status)
	}

	snap, err := occupancy.NewResolver(reg, led).Resolve(ctx, 1, testDate, occupancy.Options{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(snap.Occupied) != 2 {
		t.Fatalf("expected 2 occupied slots, got %d", len(snap.Occupied))
	}
	for _, oc := range snap.Occupied {
		if oc.Allocation.ID != alloc.ID {
			t.Fatalf("slot %d attributed to %s, want %s", oc.Slot.ID, oc.Allocation.ID, alloc.ID)
		}
	}
	if len(snap.Free) != 2 {
		t.Fatalf("expected 2 free slots, got %d", len(snap.Free))
	}
}

func TestCreate_ConflictScenario(t *testing.T) {
	led, _, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p1"},
	})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	// Disjoint slot set on the same room/date must succeed.
	if _, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{2},
		Patient: model.PatientRef{AdmissionID: "adm1"},
	}); err != nil {
		t.Fatalf("disjoint create: %v", err)
	}

	_, err = led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p2"},
	})
	var conflict *model.SlotConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected SlotConflictError, got %v", err)
	}
	if len(conflict.AllocationIDs) != 1 || conflict.AllocationIDs[0] != first.ID {
		t.Fatalf("expected conflicting allocation %s, got %v", first.ID, conflict.AllocationIDs)
	}
	if len(conflict.SlotIDs) != 1 || conflict.SlotIDs[0] != 1 {
		t.Fatalf("expected contested slot [1], got %v", conflict.SlotIDs)
	}
}

func TestCreate_SameSlotsDifferentDateOrRoom(t *testing.T) {
	led, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p1"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Same slots, next day: no conflict.
	if _, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: "2026-03-15", SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p2"},
	}); err != nil {
		t.Fatalf("next-day create: %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	led, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{},
	})
	if !errors.Is(err, model.ErrPatientSource) {
		t.Fatalf("expected ErrPatientSource, got %v", err)
	}

	_, err = led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate,
		Patient: model.PatientRef{PatientID: "p1"},
	})
	if !errors.Is(err, model.ErrEmptySlotSet) {
		t.Fatalf("expected ErrEmptySlotSet, got %v", err)
	}

	// Slot from another room.
	_, err = led.Create(ctx, NewAllocation{
		RoomID: 2, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p1"},
	})
	var unknown *model.UnknownSlotError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownSlotError, got %v", err)
	}
}

func TestCreate_SlotlessOptIn(t *testing.T) {
	led, _, _ := newTestEngine(t)
	ctx := context.Background()

	alloc, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate,
		Patient:       model.PatientRef{AppointmentID: "apt1"},
		AllowSlotless: true,
	})
	if err != nil {
		t.Fatalf("slotless create: %v", err)
	}
	if len(alloc.SlotIDs) != 0 {
		t.Fatalf("expected no slots, got %v", alloc.SlotIDs)
	}
}

func TestUpdateStatus_ForwardOnly(t *testing.T) {
	clock := time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC)
	led, _, _ := newTestEngine(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	alloc, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := led.UpdateStatus(ctx, alloc.ID, model.StatusInProgress)
	if err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if got.ActualStart == nil || !got.ActualStart.Equal(clock) {
		t.Fatalf("expected ActualStart %v, got %v", clock, got.ActualStart)
	}

	clock = clock.Add(90 * time.Minute)
	got, err = led.UpdateStatus(ctx, alloc.ID, model.StatusCompleted)
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if got.ActualEnd == nil || !got.ActualEnd.Equal(clock) {
		t.Fatalf("expected ActualEnd %v, got %v", clock, got.ActualEnd)
	}

	// Completed is terminal.
	_, err = led.UpdateStatus(ctx, alloc.ID, model.StatusInProgress)
	var invalid *model.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestUpdateStatus_SameStatusRejected(t *testing.T) {
	led, _, _ := newTestEngine(t)
	ctx := context.Background()

	alloc, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = led.UpdateStatus(ctx, alloc.ID, model.StatusScheduled)
	var invalid *model.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError for same-status update, got %v", err)
	}
}

func TestCancel_DoesNotReleaseSlots(t *testing.T) {
	led, _, _ := newTestEngine(t)
	ctx := context.Background()

	alloc, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := led.Cancel(ctx, alloc.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Soft cancel still blocks the slot.
	_, err = led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p2"},
	})
	var conflict *model.SlotConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected SlotConflictError after soft cancel, got %v", err)
	}

	// Deactivation releases it.
	if _, err := led.Deactivate(ctx, alloc.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p2"},
	}); err != nil {
		t.Fatalf("create after release: %v", err)
	}
}

func TestCancel_WithCascadeReleasesImmediately(t *testing.T) {
	led, _, _ := newTestEngine(t, WithCancelRelease(true))
	ctx := context.Background()

	alloc, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cancelled, err := led.Cancel(ctx, alloc.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Active {
		t.Fatal("expected cascade cancel to deactivate")
	}
	if _, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p2"},
	}); err != nil {
		t.Fatalf("create after cascade cancel: %v", err)
	}
}

func TestCreate_EmitsBookedEvent(t *testing.T) {
	led, _, st := newTestEngine(t)
	ctx := context.Background()

	alloc, err := led.Create(ctx, NewAllocation{
		RoomID: 1, Date: testDate, SlotIDs: []int64{1},
		Patient: model.PatientRef{PatientID: "p1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var booked []outbox.Event
	for _, evt := range st.Events() {
		if evt.EventType == outbox.EventAllocationBooked {
			booked = append(booked, evt)
		}
	}
	if len(booked) != 1 {
		t.Fatalf("expected exactly one booked event, got %d", len(booked))
	}
	if booked[0].AggregateID != alloc.ID {
		t.Fatalf("event aggregate %s, want %s", booked[0].AggregateID, alloc.ID)
	}
}

func TestCreate_ConcurrentStormNeverDoubleBooks(t *testing.T) {
	led, _, _ := newTestEngine(t)
	ctx := context.Background()

	slotSets := [][]int64{{1}, {1, 2}, {2, 3}, {3}, {1, 2, 3, 4}, {4}, {2}, {3, 4}}
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = led.Create(ctx, NewAllocation{
				RoomID:  1,
				Date:    testDate,
				SlotIDs: slotSets[i%len(slotSets)],
				Patient: model.PatientRef{PatientID: fmt.Sprintf("p%d", i)},
			})
		}(i)
	}
	wg.Wait()

	allocs, err := led.ListByRoomAndDate(ctx, 1, testDate)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	held := make(map[int64]string)
	for _, a := range allocs {
		if !a.Occupies() {
			continue
		}
		for _, sid := range a.SlotIDs {
			if owner, taken := held[sid]; taken {
				t.Fatalf("slot %d double-booked by %s and %s", sid, owner, a.ID)
			}
			held[sid] = a.ID
		}
	}
	if len(held) == 0 {
		t.Fatal("expected at least one successful booking")
	}
}

// Front-desk clients may reuse one request template, so concurrent creates
// can arrive holding the very same slice. Normalization must not write
// through it.
func TestCreate_SharedSlotSliceAcrossSessions(t *testing.T) {
	led, _, _ := newTestEngine(t)
	ctx := context.Background()

	shared := []int64{2, 1, 2}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Distinct dates: every create succeeds, all reading shared.
			date := model.Date(fmt.Sprintf("2026-04-%02d", i+1))
			alloc, err := led.Create(ctx, NewAllocation{
				RoomID:  1,
				Date:    date,
				SlotIDs: shared,
				Patient: model.PatientRef{PatientID: fmt.Sprintf("p%d", i)},
			})
			if err != nil {
				t.Errorf("create on %s: %v", date, err)
				return
			}
			if len(alloc.SlotIDs) != 2 || alloc.SlotIDs[0] != 1 || alloc.SlotIDs[1] != 2 {
				t.Errorf("expected normalized [1 2], got %v", alloc.SlotIDs)
			}
		}(i)
	}
	wg.Wait()

	if shared[0] != 2 || shared[1] != 1 || shared[2] != 2 {
		t.Fatalf("caller's slice was mutated: %v", shared)
	}
}

func TestGet_NotFound(t *testing.T) {
	led, _, _ := newTestEngine(t)
	_, err := led.Get(context.Background(), "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
