package alerts

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/salud-gob/procet/internal/shared/auth"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/metrics"
	"github.com/salud-gob/procet/internal/shared/types"
)

// systemActor is the resolver of record when no authenticated user is
// attached to the request
var systemActor = types.NewDeterministicID("procet", "system")

// Handler provides HTTP handlers for alerts
type Handler struct {
	repo   Repository
	engine *Engine
}

// NewHandler creates a new alerts handler
func NewHandler(repo Repository, engine *Engine) *Handler {
	return &Handler{repo: repo, engine: engine}
}

// Routes registers the alert routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/critical", h.RaiseCritical)

		r.Route("/{alertID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/resolve", h.Resolve)
			r.Post("/assign", h.Assign)
		})
	})

	return r
}

// List lists alerts with filters
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{}

	if s := q.Get("kind"); s != "" {
		kind := Kind(s)
		filter.Kind = &kind
	}
	if s := q.Get("severity"); s != "" {
		severity := Severity(s)
		filter.Severity = &severity
	}
	if s := q.Get("resolved"); s != "" {
		resolved, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid resolved flag"))
			return
		}
		filter.Resolved = &resolved
	}
	if s := q.Get("assignee_id"); s != "" {
		id, err := types.ParseID(s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid assignee_id"))
			return
		}
		filter.AssigneeID = &id
	}
	if s := q.Get("facility_id"); s != "" {
		id, err := types.ParseID(s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid facility_id"))
			return
		}
		filter.FacilityID = &id
	}
	if s := q.Get("from"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid from date, want YYYY-MM-DD"))
			return
		}
		filter.From = &parsed
	}
	if s := q.Get("to"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid to date, want YYYY-MM-DD"))
			return
		}
		filter.To = &parsed
	}
	if s := q.Get("limit"); s != "" {
		if limit, err := strconv.Atoi(s); err == nil {
			filter.Limit = limit
		}
	}
	if s := q.Get("offset"); s != "" {
		if offset, err := strconv.Atoi(s); err == nil {
			filter.Offset = offset
		}
	}

	alerts, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  alerts,
		"total": total,
	})
}

// Get gets an alert by ID
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid alert ID"))
		return
	}

	alert, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// ResolveRequest is the body of a resolve call
type ResolveRequest struct {
	Note string `json:"note"`
}

// Resolve closes an alert; there is no re-opening
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid alert ID"))
		return
	}

	var req ResolveRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	// Without an authenticated user (development mode) resolutions are
	// recorded against the fixed system actor, never an empty ID.
	actor := systemActor
	if user := auth.GetUser(r.Context()); user != nil {
		actor = user.ID
	}

	if err := h.repo.Resolve(r.Context(), id, actor, req.Note, time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordAlertResolved()

	alert, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// AssignRequest is the body of an assign call
type AssignRequest struct {
	AssigneeID types.ID `json:"assignee_id"`
}

// Assign sets the assignee of an alert
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "alertID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid alert ID"))
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.AssigneeID.IsZero() {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"assignee_id": "assignee_id is required",
		}))
		return
	}

	if err := h.repo.Assign(r.Context(), id, req.AssigneeID); err != nil {
		writeError(w, err)
		return
	}

	alert, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// CriticalRequest is the external critical-result signal
type CriticalRequest struct {
	FacilityID  types.ID `json:"facility_id"`
	SourceID    types.ID `json:"source_id"`
	Description string   `json:"description"`
}

// RaiseCritical records a critical result signalled by an external
// collaborator (the laboratory network)
func (h *Handler) RaiseCritical(w http.ResponseWriter, r *http.Request) {
	var req CriticalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}
	if req.FacilityID.IsZero() || req.SourceID.IsZero() {
		writeError(w, errors.Validation("validation failed", map[string]string{
			"facility_id": "facility_id is required",
			"source_id":   "source_id is required",
		}))
		return
	}

	alert, err := h.engine.RaiseCriticalResult(r.Context(), req.FacilityID, req.SourceID, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, alert)
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
