// Package store defines the persistence contract the engine writes through.
// Implementations: Postgres (internal/storage) and in-memory (internal/memstore).
package store

import (
	"context"
	"strconv"

	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/outbox"
)

// Tx is the view inside one store transaction. Mutations only become visible
// once the surrounding Read/Write callback returns nil.
type Tx interface {
	SlotsByRoom(ctx context.Context, roomID int64) ([]model.Slot, error)
	GetSlot(ctx context.Context, slotID int64) (model.Slot, error)
	CreateSlot(ctx context.Context, s model.Slot) (model.Slot, error)
	UpdateSlot(ctx context.Context, s model.Slot) error

	AllocationsByRoomAndDate(ctx context.Context, roomID int64, date model.Date) ([]*model.Allocation, error)
	AllocationsBySlot(ctx context.Context, slotID int64) ([]*model.Allocation, error)
	GetAllocation(ctx context.Context, id string) (*model.Allocation, error)
	CreateAllocation(ctx context.Context, a *model.Allocation) error
	UpdateAllocation(ctx context.Context, a *model.Allocation) error

	// AppendEvent stages a domain event in the same transaction (outbox).
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

// Store runs callbacks inside transactions. Write locking is two-level:
//
//   - A dated write (date != "") holds the room lock shared plus the
//     (roomID, date) key exclusive. Bookings on different dates of one room
//     proceed in parallel; two bookings on the same date serialize, which is
//     what makes validate-then-insert atomic against double-booking.
//   - An admin write (date == "") holds the room lock exclusive, so slot
//     definition changes cannot interleave with any in-flight booking of
//     that room on any date.
//
// Reads take no write locks and may observe a stale snapshot.
type Store interface {
	Read(ctx context.Context, fn func(Tx) error) error
	Write(ctx context.Context, roomID int64, date model.Date, fn func(Tx) error) error
}

// WriteKey is the canonical serialization key for a room+date writer lock.
func WriteKey(roomID int64, date model.Date) string {
	return "ot:" + date.String() + ":" + strconv.FormatInt(roomID, 10)
}
