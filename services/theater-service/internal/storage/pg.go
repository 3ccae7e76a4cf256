// Package storage is the Postgres store.Store implementation. The schema's
// partial unique index on (room_id, on_date, slot_id) active holds is the
// storage-level backstop behind the validator; advisory locks implement the
// store contract across service replicas (shared room lock + exclusive date
// lock for bookings, exclusive room lock for slot administration).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/theaterops/theaterops/libs/db"
	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/outbox"
	"github.com/theaterops/theaterops/services/theater-service/internal/store"
	"github.com/theaterops/theaterops/services/theater-service/internal/timerange"
)

type Store struct {
	pool     *db.Pool
	outboxes *outbox.Repository
}

func New(pool *db.Pool, outboxes *outbox.Repository) *Store {
	return &Store{pool: pool, outboxes: outboxes}
}

func (s *Store) Read(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx, outboxes: s.outboxes}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Write(ctx context.Context, roomID int64, date model.Date, fn func(store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Room lock first, date key second; fixed order across all writers.
	if date == "" {
		if err := db.AdvisoryXactLock(ctx, tx, store.WriteKey(roomID, "")); err != nil {
			return err
		}
	} else {
		if err := db.AdvisoryXactLockShared(ctx, tx, store.WriteKey(roomID, "")); err != nil {
			return err
		}
		if err := db.AdvisoryXactLock(ctx, tx, store.WriteKey(roomID, date)); err != nil {
			return err
		}
	}
	if err := fn(&pgTx{tx: tx, outboxes: s.outboxes}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx       pgx.Tx
	outboxes *outbox.Repository
}

func (t *pgTx) SlotsByRoom(ctx context.Context, roomID int64) ([]model.Slot, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, room_id, slot_number, start_minute, end_minute, active
		FROM ot_slots
		WHERE room_id = $1
		ORDER BY start_minute, end_minute
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (t *pgTx) GetSlot(ctx context.Context, slotID int64) (model.Slot, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, room_id, slot_number, start_minute, end_minute, active
		FROM ot_slots
		WHERE id = $1
	`, slotID)
	slot, err := scanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Slot{}, model.ErrNotFound
	}
	return slot, err
}

func (t *pgTx) CreateSlot(ctx context.Context, s model.Slot) (model.Slot, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ot_slots (room_id, slot_number, start_minute, end_minute, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, s.RoomID, s.Number, s.Range.Start, s.Range.End, s.Active).Scan(&s.ID)
	if err != nil {
		return model.Slot{}, err
	}
	return s, nil
}

func (t *pgTx) UpdateSlot(ctx context.Context, s model.Slot) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE ot_slots
		SET slot_number = $2, start_minute = $3, end_minute = $4, active = $5
		WHERE id = $1
	`, s.ID, s.Number, s.Range.Start, s.Range.End, s.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

const allocationColumns = `
	a.id, a.room_id, a.on_date, a.status,
	COALESCE(a.patient_id, ''), COALESCE(a.admission_id, ''),
	COALESCE(a.appointment_id, ''), COALESCE(a.emergency_slot_id, ''),
	a.actual_start, a.actual_end, a.active, a.created_at,
	COALESCE(array_agg(s.slot_id ORDER BY s.slot_id) FILTER (WHERE s.slot_id IS NOT NULL), '{}')
`

const allocationGroupBy = `GROUP BY a.id`

func (t *pgTx) AllocationsByRoomAndDate(ctx context.Context, roomID int64, date model.Date) ([]*model.Allocation, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+allocationColumns+`
		FROM ot_allocations a
		LEFT JOIN ot_allocation_slots s ON s.allocation_id = a.id
		WHERE a.room_id = $1 AND a.on_date = $2
		`+allocationGroupBy, roomID, string(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAllocations(rows)
}

func (t *pgTx) AllocationsBySlot(ctx context.Context, slotID int64) ([]*model.Allocation, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+allocationColumns+`
		FROM ot_allocations a
		LEFT JOIN ot_allocation_slots s ON s.allocation_id = a.id
		WHERE a.id IN (SELECT allocation_id FROM ot_allocation_slots WHERE slot_id = $1)
		`+allocationGroupBy, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAllocations(rows)
}

func (t *pgTx) GetAllocation(ctx context.Context, id string) (*model.Allocation, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+allocationColumns+`
		FROM ot_allocations a
		LEFT JOIN ot_allocation_slots s ON s.allocation_id = a.id
		WHERE a.id = $1
		`+allocationGroupBy, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	allocs, err := collectAllocations(rows)
	if err != nil {
		return nil, err
	}
	if len(allocs) == 0 {
		return nil, model.ErrNotFound
	}
	return allocs[0], nil
}

func (t *pgTx) CreateAllocation(ctx context.Context, a *model.Allocation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ot_allocations
			(id, room_id, on_date, status, patient_id, admission_id, appointment_id, emergency_slot_id, active, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)
	`, a.ID, a.RoomID, string(a.Date), string(a.Status),
		a.Patient.PatientID, a.Patient.AdmissionID, a.Patient.AppointmentID, a.Patient.EmergencySlotID,
		a.Active, a.CreatedAt)
	if err != nil {
		return err
	}
	for _, slotID := range a.SlotIDs {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO ot_allocation_slots (allocation_id, room_id, on_date, slot_id, active)
			VALUES ($1, $2, $3, $4, $5)
		`, a.ID, a.RoomID, string(a.Date), slotID, a.Active)
		if err != nil {
			if isUniqueViolation(err) {
				return &model.SlotConflictError{SlotIDs: []int64{slotID}}
			}
			return err
		}
	}
	return nil
}

func (t *pgTx) UpdateAllocation(ctx context.Context, a *model.Allocation) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE ot_allocations
		SET status = $2, actual_start = $3, actual_end = $4, active = $5
		WHERE id = $1
	`, a.ID, string(a.Status), a.ActualStart, a.ActualEnd, a.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	// The slot hold rows mirror the allocation's active flag; clearing it is
	// what frees the partial unique index for the next booking.
	_, err = t.tx.Exec(ctx, `
		UPDATE ot_allocation_slots
		SET active = $2
		WHERE allocation_id = $1
	`, a.ID, a.Active)
	return err
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return t.outboxes.Insert(ctx, t.tx, evt)
}

func scanSlot(row pgx.Row) (model.Slot, error) {
	var s model.Slot
	var startMin, endMin int
	if err := row.Scan(&s.ID, &s.RoomID, &s.Number, &startMin, &endMin, &s.Active); err != nil {
		return model.Slot{}, err
	}
	rng, err := timerange.New(startMin, endMin)
	if err != nil {
		return model.Slot{}, err
	}
	s.Range = rng
	return s, nil
}

func collectAllocations(rows pgx.Rows) ([]*model.Allocation, error) {
	var allocs []*model.Allocation
	for rows.Next() {
		var a model.Allocation
		var onDate time.Time
		var status string
		if err := rows.Scan(
			&a.ID, &a.RoomID, &onDate, &status,
			&a.Patient.PatientID, &a.Patient.AdmissionID,
			&a.Patient.AppointmentID, &a.Patient.EmergencySlotID,
			&a.ActualStart, &a.ActualEnd, &a.Active, &a.CreatedAt,
			&a.SlotIDs,
		); err != nil {
			return nil, err
		}
		a.Date = model.Date(onDate.Format("2006-01-02"))
		a.Status = model.OperationStatus(status)
		allocs = append(allocs, &a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return allocs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
