// Package memstore is the in-memory store.Store implementation. It backs
// unit tests and the dev mode of the service (no DATABASE_URL configured).
// Writer serialization follows the store contract: a per-room RWMutex held
// shared by dated writes and exclusive by admin writes, plus a keyed mutex
// per (room, date). Transaction staging keeps failed callbacks from leaving
// partial state behind.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/outbox"
	"github.com/theaterops/theaterops/services/theater-service/internal/store"
)

type Store struct {
	mu     sync.RWMutex
	slots  map[int64]model.Slot
	allocs map[string]*model.Allocation
	events []outbox.Event
	nextID int64

	keyedMu sync.Mutex
	keyed   map[string]*sync.Mutex
	rooms   map[int64]*sync.RWMutex
}

func New() *Store {
	return &Store{
		slots:  make(map[int64]model.Slot),
		allocs: make(map[string]*model.Allocation),
		keyed:  make(map[string]*sync.Mutex),
		rooms:  make(map[int64]*sync.RWMutex),
	}
}

// Events returns a copy of the staged-and-committed event log. The memstore
// has no Kafka behind it; tests assert against this instead.
func (s *Store) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outbox.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Store) Read(ctx context.Context, fn func(store.Tx) error) error {
	// Read transactions stage like writes but never commit; mutating inside
	// a Read callback is a programming error and its effects are discarded.
	tx := s.newTx()
	return fn(tx)
}

func (s *Store) Write(ctx context.Context, roomID int64, date model.Date, fn func(store.Tx) error) error {
	// Room lock first, date key second; the fixed order keeps dated and
	// admin writers deadlock-free.
	room := s.roomLockFor(roomID)
	if date == "" {
		room.Lock()
		defer room.Unlock()
	} else {
		room.RLock()
		defer room.RUnlock()
		lock := s.lockFor(store.WriteKey(roomID, date))
		lock.Lock()
		defer lock.Unlock()
	}

	tx := s.newTx()
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.keyedMu.Lock()
	defer s.keyedMu.Unlock()
	if m, ok := s.keyed[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.keyed[key] = m
	return m
}

func (s *Store) roomLockFor(roomID int64) *sync.RWMutex {
	s.keyedMu.Lock()
	defer s.keyedMu.Unlock()
	if m, ok := s.rooms[roomID]; ok {
		return m
	}
	m := &sync.RWMutex{}
	s.rooms[roomID] = m
	return m
}

func (s *Store) newTx() *memTx {
	return &memTx{
		s:            s,
		stagedSlots:  make(map[int64]model.Slot),
		stagedAllocs: make(map[string]*model.Allocation),
	}
}

type memTx struct {
	s            *Store
	stagedSlots  map[int64]model.Slot
	stagedAllocs map[string]*model.Allocation
	stagedEvents []outbox.Event
}

func (tx *memTx) commit() {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for id, slot := range tx.stagedSlots {
		tx.s.slots[id] = slot
	}
	for id, alloc := range tx.stagedAllocs {
		tx.s.allocs[id] = alloc
	}
	tx.s.events = append(tx.s.events, tx.stagedEvents...)
}

func (tx *memTx) SlotsByRoom(_ context.Context, roomID int64) ([]model.Slot, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	var out []model.Slot
	for id, slot := range tx.s.slots {
		if staged, ok := tx.stagedSlots[id]; ok {
			slot = staged
		}
		if slot.RoomID == roomID {
			out = append(out, slot)
		}
	}
	for id, slot := range tx.stagedSlots {
		if _, exists := tx.s.slots[id]; !exists && slot.RoomID == roomID {
			out = append(out, slot)
		}
	}
	return out, nil
}

func (tx *memTx) GetSlot(_ context.Context, slotID int64) (model.Slot, error) {
	if slot, ok := tx.stagedSlots[slotID]; ok {
		return slot, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	if slot, ok := tx.s.slots[slotID]; ok {
		return slot, nil
	}
	return model.Slot{}, fmt.Errorf("slot %d: %w", slotID, model.ErrNotFound)
}

func (tx *memTx) CreateSlot(_ context.Context, s model.Slot) (model.Slot, error) {
	tx.s.mu.Lock()
	tx.s.nextID++
	s.ID = tx.s.nextID
	tx.s.mu.Unlock()
	tx.stagedSlots[s.ID] = s
	return s, nil
}

func (tx *memTx) UpdateSlot(ctx context.Context, s model.Slot) error {
	if _, err := tx.GetSlot(ctx, s.ID); err != nil {
		return err
	}
	tx.stagedSlots[s.ID] = s
	return nil
}

func (tx *memTx) AllocationsByRoomAndDate(_ context.Context, roomID int64, date model.Date) ([]*model.Allocation, error) {
	return tx.collect(func(a *model.Allocation) bool {
		return a.RoomID == roomID && a.Date == date
	}), nil
}

func (tx *memTx) AllocationsBySlot(_ context.Context, slotID int64) ([]*model.Allocation, error) {
	return tx.collect(func(a *model.Allocation) bool {
		return a.HasSlot(slotID)
	}), nil
}

func (tx *memTx) collect(keep func(*model.Allocation) bool) []*model.Allocation {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	var out []*model.Allocation
	for id, a := range tx.s.allocs {
		if staged, ok := tx.stagedAllocs[id]; ok {
			a = staged
		}
		if keep(a) {
			out = append(out, cloneAllocation(a))
		}
	}
	for id, a := range tx.stagedAllocs {
		if _, exists := tx.s.allocs[id]; !exists && keep(a) {
			out = append(out, cloneAllocation(a))
		}
	}
	return out
}

func (tx *memTx) GetAllocation(_ context.Context, id string) (*model.Allocation, error) {
	if a, ok := tx.stagedAllocs[id]; ok {
		return cloneAllocation(a), nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	if a, ok := tx.s.allocs[id]; ok {
		return cloneAllocation(a), nil
	}
	return nil, fmt.Errorf("allocation %s: %w", id, model.ErrNotFound)
}

func (tx *memTx) CreateAllocation(_ context.Context, a *model.Allocation) error {
	tx.stagedAllocs[a.ID] = cloneAllocation(a)
	return nil
}

func (tx *memTx) UpdateAllocation(ctx context.Context, a *model.Allocation) error {
	if _, err := tx.GetAllocation(ctx, a.ID); err != nil {
		return err
	}
	tx.stagedAllocs[a.ID] = cloneAllocation(a)
	return nil
}

func (tx *memTx) AppendEvent(_ context.Context, evt outbox.Event) error {
	tx.stagedEvents = append(tx.stagedEvents, evt)
	return nil
}

func cloneAllocation(a *model.Allocation) *model.Allocation {
	clone := *a
	clone.SlotIDs = append([]int64(nil), a.SlotIDs...)
	if a.ActualStart != nil {
		t := *a.ActualStart
		clone.ActualStart = &t
	}
	if a.ActualEnd != nil {
		t := *a.ActualEnd
		clone.ActualEnd = &t
	}
	return &clone
}
