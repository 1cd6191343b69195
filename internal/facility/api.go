package facility

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/types"
)

// Handler provides HTTP handlers for the facility registry
type Handler struct {
	repo *Repository
}

// NewHandler creates a new facility handler
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the facility routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/facilities", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)

		r.Route("/{facilityID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})

	return r
}

// List lists facilities
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := ListFacilitiesFilter{
		Search: r.URL.Query().Get("search"),
	}

	if t := r.URL.Query().Get("type"); t != "" {
		facilityType := FacilityType(t)
		filter.Type = &facilityType
	}

	if region := r.URL.Query().Get("region"); region != "" {
		filter.Region = &region
	}

	facilities, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  facilities,
		"total": total,
	})
}

// Get gets a facility by ID
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "facilityID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid facility ID"))
		return
	}

	f, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, f)
}

// Create registers a new facility
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateFacilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Code == "" || req.Name == "" || req.Region == "" {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"code":   "code is required",
			"name":   "name is required",
			"region": "region is required",
		}))
		return
	}

	f := &Facility{
		ID:     types.NewID(),
		Code:   req.Code,
		Name:   req.Name,
		Type:   req.Type,
		Region: req.Region,
	}

	if err := h.repo.Create(r.Context(), f); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, f)
}

// Update updates a facility
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "facilityID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid facility ID"))
		return
	}

	f, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateFacilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Name != nil {
		f.Name = *req.Name
	}
	if req.Type != nil {
		f.Type = *req.Type
	}
	if req.Region != nil {
		f.Region = *req.Region
	}

	if err := h.repo.Update(r.Context(), f); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, f)
}

// Delete removes a facility
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "facilityID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid facility ID"))
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
