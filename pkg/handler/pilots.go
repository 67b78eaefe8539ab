package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/vol-libre/guardian-angel/pkg/flight"
	"github.com/vol-libre/guardian-angel/pkg/guardian"
)

// PilotDirectory is the slice of the coordinator the API needs.
type PilotDirectory interface {
	Statuses() []flight.Status
	Status(key string) (flight.Status, bool)
	AddPilot(spec guardian.PilotSpec) error
	RemovePilot(key string)
}

// PilotHandler handles pilot-related HTTP requests
type PilotHandler struct {
	dir    PilotDirectory
	logger zerolog.Logger
}

// NewPilotHandler creates a new PilotHandler
func NewPilotHandler(dir PilotDirectory, logger zerolog.Logger) *PilotHandler {
	return &PilotHandler{
		dir:    dir,
		logger: logger.With().Str("handler", "pilots").Logger(),
	}
}

// Routes returns the pilot routes
func (h *PilotHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListPilots)
	r.Post("/", h.AddPilot)
	r.Get("/{key}", h.GetPilot)
	r.Delete("/{key}", h.RemovePilot)

	return r
}

// PilotListResponse represents the response for listing pilots
type PilotListResponse struct {
	Pilots        []flight.Status `json:"pilots"`
	Total         int             `json:"total"`
	CorrelationID string          `json:"correlation_id"`
}

// AddPilotRequest is the body of POST /api/v1/pilots
type AddPilotRequest struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	DiscordID string `json:"discord_id"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// ListPilots handles GET /api/v1/pilots
func (h *PilotHandler) ListPilots(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	statuses := h.dir.Statuses()
	WriteJSON(w, http.StatusOK, PilotListResponse{
		Pilots:        statuses,
		Total:         len(statuses),
		CorrelationID: correlationID,
	})
}

// GetPilot handles GET /api/v1/pilots/{key}
func (h *PilotHandler) GetPilot(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())
	key := chi.URLParam(r, "key")

	st, ok := h.dir.Status(key)
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown pilot", correlationID)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// AddPilot handles POST /api/v1/pilots
func (h *PilotHandler) AddPilot(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	var req AddPilotRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", correlationID)
		return
	}
	if req.Key == "" {
		WriteError(w, http.StatusUnprocessableEntity, "key is required", correlationID)
		return
	}

	if err := h.dir.AddPilot(guardian.PilotSpec{
		Key:       req.Key,
		Name:      req.Name,
		DiscordID: req.DiscordID,
		Phone:     req.Phone,
		Email:     req.Email,
	}); err != nil {
		WriteError(w, http.StatusConflict, err.Error(), correlationID)
		return
	}

	h.logger.Info().Str("pilot", req.Key).Msg("Pilot added via API")
	st, _ := h.dir.Status(req.Key)
	WriteJSON(w, http.StatusCreated, st)
}

// RemovePilot handles DELETE /api/v1/pilots/{key}
func (h *PilotHandler) RemovePilot(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())
	key := chi.URLParam(r, "key")

	if _, ok := h.dir.Status(key); !ok {
		WriteError(w, http.StatusNotFound, "unknown pilot", correlationID)
		return
	}
	h.dir.RemovePilot(key)
	h.logger.Info().Str("pilot", key).Msg("Pilot removed via API")
	w.WriteHeader(http.StatusNoContent)
}
