package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/theaterops/theaterops/libs/runtime"
	"github.com/theaterops/theaterops/services/theater-service/internal/memstore"
	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/store"
	"github.com/theaterops/theaterops/services/theater-service/internal/timerange"
)

func newTestRegistry(t *testing.T) (*Registry, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return New(st, runtime.NewLogger("theater-service-test")), st
}

func mustRange(t *testing.T, start, end string) timerange.TimeRange {
	t.Helper()
	r, err := timerange.Parse(start, end)
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	return r
}

func TestCreate_AssignsIDAndListsByRoom(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	s1, err := reg.Create(ctx, 1, "SL01", mustRange(t, "09:00", "09:30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s1.ID == 0 {
		t.Fatal("expected assigned slot id")
	}
	if !s1.Active {
		t.Fatal("new slots start active")
	}

	if _, err := reg.Create(ctx, 2, "SL01", mustRange(t, "09:00", "09:30")); err != nil {
		t.Fatalf("same number in another room must be fine: %v", err)
	}

	slots, err := reg.ListByRoom(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slots) != 1 || slots[0].ID != s1.ID {
		t.Fatalf("expected [%d], got %v", s1.ID, slots)
	}
}

func TestCreate_DuplicateNumberRejected(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Create(ctx, 1, "SL01", mustRange(t, "09:00", "09:30")); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := reg.Create(ctx, 1, "SL01", mustRange(t, "09:30", "10:00"))
	if !errors.Is(err, ErrDuplicateSlotNumber) {
		t.Fatalf("expected ErrDuplicateSlotNumber, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Get(context.Background(), 99)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRelabel_AllowedWhileBooked(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx := context.Background()

	slot, err := reg.Create(ctx, 1, "SL01", mustRange(t, "09:00", "09:30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	seedAllocation(t, st, slot.ID, true)

	renamed, err := reg.Relabel(ctx, slot.ID, "THEATER-A1")
	if err != nil {
		t.Fatalf("relabel: %v", err)
	}
	if renamed.Number != "THEATER-A1" {
		t.Fatalf("expected new number, got %s", renamed.Number)
	}
}

func TestUpdateRange_BlockedWhileReferenced(t *testing.T) {
	reg, st := newTestRegistry(t)
	ctx := context.Background()

	slot, err := reg.Create(ctx, 1, "SL01", mustRange(t, "09:00", "09:30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	seedAllocation(t, st, slot.ID, true)

	_, err = reg.UpdateRange(ctx, slot.ID, mustRange(t, "09:00", "10:00"))
	if !errors.Is(err, ErrSlotInUse) {
		t.Fatalf("expected ErrSlotInUse, got %v", err)
	}

	// Releasing the allocation unblocks the edit.
	releaseAllocations(t, st, slot.ID)
	updated, err := reg.UpdateRange(ctx, slot.ID, mustRange(t, "09:00", "10:00"))
	if err != nil {
		t.Fatalf("update range after release: %v", err)
	}
	if updated.Range != mustRange(t, "09:00", "10:00") {
		t.Fatalf("range not updated: %s", updated.Range)
	}
}

func TestDeactivate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	slot, err := reg.Create(ctx, 1, "SL01", mustRange(t, "09:00", "09:30"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := reg.Deactivate(ctx, slot.ID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if got.Active {
		t.Fatal("expected inactive slot")
	}
}

func seedAllocation(t *testing.T, st *memstore.Store, slotID int64, active bool) {
	t.Helper()
	err := st.Write(context.Background(), 1, "2026-03-14", func(tx store.Tx) error {
		return tx.CreateAllocation(context.Background(), &model.Allocation{
			ID:      "a-" + string(rune('0'+slotID)),
			RoomID:  1,
			Date:    "2026-03-14",
			SlotIDs: []int64{slotID},
			Patient: model.PatientRef{PatientID: "p1"},
			Status:  model.StatusScheduled,
			Active:  active,
		})
	})
	if err != nil {
		t.Fatalf("seed allocation: %v", err)
	}
}

func releaseAllocations(t *testing.T, st *memstore.Store, slotID int64) {
	t.Helper()
	err := st.Write(context.Background(), 1, "2026-03-14", func(tx store.Tx) error {
		refs, err := tx.AllocationsBySlot(context.Background(), slotID)
		if err != nil {
			return err
		}
		for _, a := range refs {
			a.Active = false
			if err := tx.UpdateAllocation(context.Background(), a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("release allocations: %v", err)
	}
}
