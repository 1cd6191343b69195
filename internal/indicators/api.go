package indicators

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/types"
)

// AlertSummarizer supplies the open-alert counts for the dashboard
type AlertSummarizer interface {
	OpenCountsBySeverity(ctx context.Context) (map[string]int, error)
}

// Handler provides the read API over the indicator store
type Handler struct {
	store      Store
	dispatcher *Dispatcher
	alerts     AlertSummarizer
}

// NewHandler creates a new indicators handler
func NewHandler(store Store, dispatcher *Dispatcher, alerts AlertSummarizer) *Handler {
	return &Handler{store: store, dispatcher: dispatcher, alerts: alerts}
}

// Routes registers the indicator routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/indicators", func(r chi.Router) {
		r.Get("/cohort", h.listFamily(FamilyCohort))
		r.Get("/operational", h.listFamily(FamilyOperational))
		r.Get("/prevention", h.listFamily(FamilyPrevention))
		r.Get("/timeseries", h.TimeSeries)
		r.Post("/recompute", h.Recompute)
		r.Get("/{family}/{facilityID}/{periodKey}", h.Get)
	})

	r.Get("/dashboard/summary", h.DashboardSummary)

	return r
}

// listFamily builds the list handler for one indicator family
func (h *Handler) listFamily(family Family) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Family = &family

		records, total, err := h.store.Query(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"data":  records,
			"total": total,
		})
	}
}

// Get returns one indicator record. Absence is a plain 404, not an
// engine error.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	family := Family(chi.URLParam(r, "family"))
	if family != FamilyCohort && family != FamilyOperational && family != FamilyPrevention {
		writeError(w, errors.BadRequest("unknown indicator family"))
		return
	}

	facilityID, err := types.ParseID(chi.URLParam(r, "facilityID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid facility ID"))
		return
	}

	key := Key{Family: family, FacilityID: facilityID, PeriodKey: chi.URLParam(r, "periodKey")}
	ind, err := h.store.Get(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ind)
}

// TimeSeriesPoint is one (period, value) element of a series
type TimeSeriesPoint struct {
	PeriodKey string  `json:"period_key"`
	Value     float64 `json:"value"`
}

// TimeSeries returns the ordered sequence of (period, value) for one
// metric of one facility
func (h *Handler) TimeSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	family := Family(q.Get("family"))
	if family != FamilyCohort && family != FamilyOperational && family != FamilyPrevention {
		writeError(w, errors.BadRequest("unknown indicator family"))
		return
	}

	facilityID, err := types.ParseID(q.Get("facility_id"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid facility_id"))
		return
	}

	metric := q.Get("metric")
	if metric == "" {
		writeError(w, errors.BadRequest("metric is required"))
		return
	}

	filter := Filter{Family: &family, FacilityID: &facilityID, Limit: 100}
	if err := parseRange(q.Get("from"), q.Get("to"), &filter); err != nil {
		writeError(w, err)
		return
	}

	records, _, err := h.store.Query(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].PeriodStart.Before(records[j].PeriodStart)
	})

	points := make([]TimeSeriesPoint, 0, len(records))
	for _, rec := range records {
		value, ok := rec.Counts[metric]
		if !ok {
			value, ok = rec.Ratios[metric]
		}
		if !ok {
			writeError(w, errors.BadRequest("unknown metric: "+metric))
			return
		}
		points = append(points, TimeSeriesPoint{PeriodKey: rec.PeriodKey, Value: value})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"family":      family,
		"facility_id": facilityID,
		"metric":      metric,
		"points":      points,
	})
}

// Recompute triggers a full recomputation walk
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if s := r.URL.Query().Get("as_of"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeError(w, errors.BadRequest("invalid as_of date, want YYYY-MM-DD"))
			return
		}
		asOf = parsed
	}

	if err := h.dispatcher.RecomputeAll(r.Context(), asOf); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"as_of": asOf.Format("2006-01-02")})
}

// DashboardSummary returns aggregate counts for the program dashboard
func (h *Handler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	summary := map[string]any{}

	if h.alerts != nil {
		bySeverity, err := h.alerts.OpenCountsBySeverity(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		open := 0
		for _, n := range bySeverity {
			open += n
		}
		summary["open_alerts"] = open
		summary["open_alerts_by_severity"] = bySeverity
	}

	for _, family := range []Family{FamilyCohort, FamilyOperational, FamilyPrevention} {
		f := family
		records, _, err := h.store.Query(r.Context(), Filter{Family: &f, Limit: 100})
		if err != nil {
			writeError(w, err)
			return
		}

		latest := make(map[types.ID]Indicator)
		for _, rec := range records {
			if prev, ok := latest[rec.FacilityID]; !ok || rec.PeriodStart.After(prev.PeriodStart) {
				latest[rec.FacilityID] = rec
			}
		}

		var out []Indicator
		for _, rec := range latest {
			out = append(out, rec)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].FacilityID < out[j].FacilityID })
		summary["latest_"+string(family)] = out
	}

	writeJSON(w, http.StatusOK, summary)
}

// --- Helpers ---

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{}

	if s := q.Get("facility_id"); s != "" {
		id, err := types.ParseID(s)
		if err != nil {
			return filter, errors.BadRequest("invalid facility_id")
		}
		filter.FacilityID = &id
	}

	if err := parseRange(q.Get("from"), q.Get("to"), &filter); err != nil {
		return filter, err
	}

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			return filter, errors.BadRequest("invalid limit")
		}
		filter.Limit = limit
	}

	if s := q.Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil {
			return filter, errors.BadRequest("invalid offset")
		}
		filter.Offset = offset
	}

	return filter, nil
}

func parseRange(from, to string, filter *Filter) error {
	if from != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			return errors.BadRequest("invalid from date, want YYYY-MM-DD")
		}
		filter.From = &parsed
	}
	if to != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			return errors.BadRequest("invalid to date, want YYYY-MM-DD")
		}
		filter.To = &parsed
	}
	return nil
}

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
