package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/registry"
	"github.com/theaterops/theaterops/services/theater-service/internal/timerange"
)

type SlotHandler struct {
	registry *registry.Registry
	logger   *slog.Logger
}

func NewSlotHandler(reg *registry.Registry, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{registry: reg, logger: logger}
}

type slotItem struct {
	SlotID     int64  `json:"slot_id"`
	RoomID     int64  `json:"room_id"`
	SlotNumber string `json:"slot_number"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Active     bool   `json:"active"`
}

func toSlotItem(s model.Slot) slotItem {
	return slotItem{
		SlotID:     s.ID,
		RoomID:     s.RoomID,
		SlotNumber: s.Number,
		Start:      timerange.FormatClock(s.Range.Start),
		End:        timerange.FormatClock(s.Range.End),
		Active:     s.Active,
	}
}

type createSlotRequest struct {
	RoomID     int64  `json:"room_id"`
	SlotNumber string `json:"slot_number"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

// Slots serves GET (list by room) and POST (create) on /api/v1/slots.
func (h *SlotHandler) Slots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SlotHandler) list(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("room_id")), 10, 64)
	if err != nil || roomID <= 0 {
		http.Error(w, "room_id required", http.StatusBadRequest)
		return
	}
	slots, err := h.registry.ListByRoom(r.Context(), roomID)
	if err != nil {
		http.Error(w, "failed to list slots", http.StatusInternalServerError)
		return
	}
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, toSlotItem(s))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *SlotHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SlotNumber = strings.TrimSpace(req.SlotNumber)
	if req.RoomID <= 0 || req.SlotNumber == "" {
		http.Error(w, "room_id and slot_number required", http.StatusBadRequest)
		return
	}
	rng, err := timerange.Parse(strings.TrimSpace(req.Start), strings.TrimSpace(req.End))
	if err != nil {
		http.Error(w, "invalid slot range (expected HH:MM, start before end, same day)", http.StatusUnprocessableEntity)
		return
	}

	slot, err := h.registry.Create(r.Context(), req.RoomID, req.SlotNumber, rng)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotItem(slot))
}

type relabelSlotRequest struct {
	SlotID     int64  `json:"slot_id"`
	SlotNumber string `json:"slot_number"`
}

func (h *SlotHandler) Relabel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req relabelSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SlotNumber = strings.TrimSpace(req.SlotNumber)
	if req.SlotID <= 0 || req.SlotNumber == "" {
		http.Error(w, "slot_id and slot_number required", http.StatusBadRequest)
		return
	}

	slot, err := h.registry.Relabel(r.Context(), req.SlotID, req.SlotNumber)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotItem(slot))
}

type updateRangeRequest struct {
	SlotID int64  `json:"slot_id"`
	Start  string `json:"start"`
	End    string `json:"end"`
}

func (h *SlotHandler) UpdateRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.SlotID <= 0 {
		http.Error(w, "slot_id required", http.StatusBadRequest)
		return
	}
	rng, err := timerange.Parse(strings.TrimSpace(req.Start), strings.TrimSpace(req.End))
	if err != nil {
		http.Error(w, "invalid slot range (expected HH:MM, start before end, same day)", http.StatusUnprocessableEntity)
		return
	}

	slot, err := h.registry.UpdateRange(r.Context(), req.SlotID, rng)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotItem(slot))
}

type slotIDRequest struct {
	SlotID int64 `json:"slot_id"`
}

func (h *SlotHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req slotIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.SlotID <= 0 {
		http.Error(w, "slot_id required", http.StatusBadRequest)
		return
	}

	slot, err := h.registry.Deactivate(r.Context(), req.SlotID)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotItem(slot))
}

func (h *SlotHandler) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "slot not found", http.StatusNotFound)
	case errors.Is(err, registry.ErrDuplicateSlotNumber):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, registry.ErrSlotInUse):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("slot request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
