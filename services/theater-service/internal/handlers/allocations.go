package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/theaterops/theaterops/services/theater-service/internal/ledger"
	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/occupancy"
	"github.com/theaterops/theaterops/services/theater-service/internal/registry"
	"github.com/theaterops/theaterops/services/theater-service/internal/spans"
	"github.com/theaterops/theaterops/services/theater-service/internal/timerange"
)

type AllocationHandler struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
	resolver *occupancy.Resolver
	logger   *slog.Logger
}

func NewAllocationHandler(led *ledger.Ledger, reg *registry.Registry, resolver *occupancy.Resolver, logger *slog.Logger) *AllocationHandler {
	return &AllocationHandler{ledger: led, registry: reg, resolver: resolver, logger: logger}
}

type createAllocationRequest struct {
	RoomID          int64   `json:"room_id"`
	Date            string  `json:"date"`
	SlotIDs         []int64 `json:"slot_ids"`
	PatientID       string  `json:"patient_id"`
	AdmissionID     string  `json:"admission_id"`
	AppointmentID   string  `json:"appointment_id"`
	EmergencySlotID string  `json:"emergency_slot_id"`
	AllowSlotless   bool    `json:"allow_slotless"`
}

type allocationItem struct {
	AllocationID    string  `json:"allocation_id"`
	RoomID          int64   `json:"room_id"`
	Date            string  `json:"date"`
	SlotIDs         []int64 `json:"slot_ids"`
	Status          string  `json:"status"`
	PatientID       string  `json:"patient_id,omitempty"`
	AdmissionID     string  `json:"admission_id,omitempty"`
	AppointmentID   string  `json:"appointment_id,omitempty"`
	EmergencySlotID string  `json:"emergency_slot_id,omitempty"`
	ActualStart     string  `json:"actual_start,omitempty"`
	ActualEnd       string  `json:"actual_end,omitempty"`
	Active          bool    `json:"active"`
	CreatedAt       string  `json:"created_at"`
}

func toAllocationItem(a *model.Allocation) allocationItem {
	item := allocationItem{
		AllocationID:    a.ID,
		RoomID:          a.RoomID,
		Date:            string(a.Date),
		SlotIDs:         a.SlotIDs,
		Status:          string(a.Status),
		PatientID:       a.Patient.PatientID,
		AdmissionID:     a.Patient.AdmissionID,
		AppointmentID:   a.Patient.AppointmentID,
		EmergencySlotID: a.Patient.EmergencySlotID,
		Active:          a.Active,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if item.SlotIDs == nil {
		item.SlotIDs = []int64{}
	}
	if a.ActualStart != nil {
		item.ActualStart = a.ActualStart.UTC().Format(time.RFC3339)
	}
	if a.ActualEnd != nil {
		item.ActualEnd = a.ActualEnd.UTC().Format(time.RFC3339)
	}
	return item
}

func (h *AllocationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.RoomID <= 0 {
		http.Error(w, "room_id required", http.StatusBadRequest)
		return
	}
	date, err := model.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		http.Error(w, "invalid date (expected YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	alloc, err := h.ledger.Create(r.Context(), ledger.NewAllocation{
		RoomID:  req.RoomID,
		Date:    date,
		SlotIDs: req.SlotIDs,
		Patient: model.PatientRef{
			PatientID:       strings.TrimSpace(req.PatientID),
			AdmissionID:     strings.TrimSpace(req.AdmissionID),
			AppointmentID:   strings.TrimSpace(req.AppointmentID),
			EmergencySlotID: strings.TrimSpace(req.EmergencySlotID),
		},
		AllowSlotless: req.AllowSlotless,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationItem(alloc))
}

func (h *AllocationHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID, date, ok := roomAndDateParams(w, r)
	if !ok {
		return
	}
	allocs, err := h.ledger.ListByRoomAndDate(r.Context(), roomID, date)
	if err != nil {
		http.Error(w, "failed to list allocations", http.StatusInternalServerError)
		return
	}

	items := make([]allocationItem, 0, len(allocs))
	for _, a := range allocs {
		items = append(items, toAllocationItem(a))
	}
	writeJSON(w, http.StatusOK, items)
}

type spanResponse struct {
	AllocationID string `json:"allocation_id"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Minutes      int    `json:"minutes"`
}

// Span serves GET /api/v1/allocations/{id}/span: the longest contiguous
// clock range covered by the allocation's slots.
func (h *AllocationHandler) Span(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/allocations/")
	id, found := strings.CutSuffix(rest, "/span")
	if !found || id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	alloc, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			http.Error(w, "allocation not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load allocation", http.StatusInternalServerError)
		return
	}
	slots, err := h.registry.ListByRoom(r.Context(), alloc.RoomID)
	if err != nil {
		http.Error(w, "failed to load slots", http.StatusInternalServerError)
		return
	}

	span, ok := spans.ForAllocation(alloc, slots)
	if !ok {
		http.Error(w, "allocation holds no slots", http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, spanResponse{
		AllocationID: alloc.ID,
		Start:        timerange.FormatClock(span.Start),
		End:          timerange.FormatClock(span.End),
		Minutes:      span.Minutes(),
	})
}

type statusRequest struct {
	AllocationID string `json:"allocation_id"`
	Status       string `json:"status"`
}

func (h *AllocationHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AllocationID = strings.TrimSpace(req.AllocationID)
	if req.AllocationID == "" {
		http.Error(w, "allocation_id required", http.StatusBadRequest)
		return
	}
	status, ok := model.ParseStatus(strings.TrimSpace(req.Status))
	if !ok {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	alloc, err := h.ledger.UpdateStatus(r.Context(), req.AllocationID, status)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationItem(alloc))
}

type allocationIDRequest struct {
	AllocationID string `json:"allocation_id"`
}

func (h *AllocationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.mutateByID(w, r, h.ledger.Cancel)
}

func (h *AllocationHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.mutateByID(w, r, h.ledger.Deactivate)
}

func (h *AllocationHandler) mutateByID(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (*model.Allocation, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req allocationIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AllocationID = strings.TrimSpace(req.AllocationID)
	if req.AllocationID == "" {
		http.Error(w, "allocation_id required", http.StatusBadRequest)
		return
	}

	alloc, err := fn(r.Context(), req.AllocationID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationItem(alloc))
}

type occupiedItem struct {
	SlotID       int64  `json:"slot_id"`
	SlotNumber   string `json:"slot_number"`
	Start        string `json:"start"`
	End          string `json:"end"`
	SlotActive   bool   `json:"slot_active"`
	AllocationID string `json:"allocation_id"`
	Status       string `json:"status"`
}

type freeItem struct {
	SlotID     int64  `json:"slot_id"`
	SlotNumber string `json:"slot_number"`
	Start      string `json:"start"`
	End        string `json:"end"`
	SlotActive bool   `json:"slot_active"`
}

type occupancyResponse struct {
	RoomID   int64          `json:"room_id"`
	Date     string         `json:"date"`
	Occupied []occupiedItem `json:"occupied"`
	Free     []freeItem     `json:"free"`
}

func (h *AllocationHandler) Occupancy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID, date, ok := roomAndDateParams(w, r)
	if !ok {
		return
	}
	opts := occupancy.Options{
		IncludeInactiveSlots: r.URL.Query().Get("include_inactive_slots") == "true",
	}

	snap, err := h.resolver.Resolve(r.Context(), roomID, date, opts)
	if err != nil {
		http.Error(w, "failed to resolve occupancy", http.StatusInternalServerError)
		return
	}

	resp := occupancyResponse{
		RoomID:   roomID,
		Date:     string(date),
		Occupied: make([]occupiedItem, 0, len(snap.Occupied)),
		Free:     make([]freeItem, 0, len(snap.Free)),
	}
	for _, oc := range snap.Occupied {
		resp.Occupied = append(resp.Occupied, occupiedItem{
			SlotID:       oc.Slot.ID,
			SlotNumber:   oc.Slot.Number,
			Start:        timerange.FormatClock(oc.Slot.Range.Start),
			End:          timerange.FormatClock(oc.Slot.Range.End),
			SlotActive:   oc.Slot.Active,
			AllocationID: oc.Allocation.ID,
			Status:       string(oc.Allocation.Status),
		})
	}
	for _, s := range snap.Free {
		resp.Free = append(resp.Free, freeItem{
			SlotID:     s.ID,
			SlotNumber: s.Number,
			Start:      timerange.FormatClock(s.Range.Start),
			End:        timerange.FormatClock(s.Range.End),
			SlotActive: s.Active,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Error         string   `json:"error"`
	AllocationIDs []string `json:"allocation_ids,omitempty"`
	SlotIDs       []int64  `json:"slot_ids,omitempty"`
}

func (h *AllocationHandler) writeLedgerError(w http.ResponseWriter, err error) {
	var conflict *model.SlotConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:         conflict.Error(),
			AllocationIDs: conflict.AllocationIDs,
			SlotIDs:       conflict.SlotIDs,
		})
		return
	}
	var transition *model.InvalidTransitionError
	if errors.As(err, &transition) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: transition.Error()})
		return
	}
	var unknown *model.UnknownSlotError
	if errors.As(err, &unknown) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: unknown.Error(), SlotIDs: []int64{unknown.SlotID}})
		return
	}
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "allocation not found", http.StatusNotFound)
	case errors.Is(err, model.ErrEmptySlotSet), errors.Is(err, model.ErrPatientSource):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("allocation request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func roomAndDateParams(w http.ResponseWriter, r *http.Request) (int64, model.Date, bool) {
	roomID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("room_id")), 10, 64)
	if err != nil || roomID <= 0 {
		http.Error(w, "room_id required", http.StatusBadRequest)
		return 0, "", false
	}
	date, err := model.ParseDate(strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		http.Error(w, "invalid date (expected YYYY-MM-DD)", http.StatusBadRequest)
		return 0, "", false
	}
	return roomID, date, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
