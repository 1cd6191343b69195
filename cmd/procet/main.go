package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/salud-gob/procet/internal/alerts"
	"github.com/salud-gob/procet/internal/facility"
	"github.com/salud-gob/procet/internal/facts"
	"github.com/salud-gob/procet/internal/facts/lims"
	"github.com/salud-gob/procet/internal/indicators"
	"github.com/salud-gob/procet/internal/shared/auth"
	"github.com/salud-gob/procet/internal/shared/config"
	"github.com/salud-gob/procet/internal/shared/database"
	"github.com/salud-gob/procet/internal/shared/events"
	"github.com/salud-gob/procet/internal/shared/metrics"
	secmiddleware "github.com/salud-gob/procet/internal/shared/middleware"
	"github.com/salud-gob/procet/internal/shared/types"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	Log    zerolog.Logger
	DB     *database.DB
	Bus    events.EventBus
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	app := &App{Config: cfg, Log: log}

	// Database (optional; memory stores otherwise)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Warn().Err(err).Msg("database not available, running with in-memory stores")
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool, log); err != nil {
			log.Error().Err(err).Msg("migration failed")
			os.Exit(1)
		}
	}

	// Event bus: KurrentDB when reachable, in-process otherwise
	bus, err := events.NewBus(ctx, cfg.KurrentDB, log)
	if err != nil {
		log.Warn().Err(err).Msg("kurrentdb not available, using in-process bus")
		app.Bus = events.NewMemoryBus(log)
	} else {
		app.Bus = bus
		defer bus.Close()
		log.Info().Str("host", cfg.KurrentDB.Host).Msg("kurrentdb event bus connected")
	}

	// Stores
	var (
		factStore    facts.Store
		indStore     indicators.Store
		alertRepo    alerts.Repository
		deadLetters  indicators.DeadLetterSink
		facilities   indicators.FacilityLister
		facilityRepo *facility.Repository
	)

	if app.DB != nil {
		facilityRepo = facility.NewRepository(app.DB.Pool)
		factStore = facts.NewPostgresStore(app.DB.Pool)
		indStore = indicators.NewPostgresStore(app.DB.Pool)
		alertRepo = alerts.NewPostgresRepository(app.DB.Pool)
		deadLetters = indicators.NewPostgresDeadLetters(app.DB.Pool)
		facilities = facilityRepo

		if err := seedFacilities(ctx, facilityRepo, log); err != nil {
			log.Warn().Err(err).Msg("facility seeding failed")
		}
	} else {
		memFacts := facts.NewMemoryStore()
		demo := seedDemo(memFacts)
		factStore = memFacts
		indStore = indicators.NewMemoryStore()
		alertRepo = alerts.NewMemoryRepository()
		deadLetters = indicators.LogDeadLetters{Log: log}
		facilities = demo
	}

	// Legacy laboratory source (optional)
	var labSource facts.LabSource
	if cfg.LIMS.Enabled {
		adapter := lims.New(cfg.LIMS, log)
		if err := adapter.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("lab source not available, using default ratios")
		} else {
			defer adapter.Stop()
			if facilityRepo != nil {
				if codes, err := facilityCodes(ctx, facilityRepo); err == nil {
					adapter.SetFacilityCodes(codes)
				}
			}
			labSource = adapter
		}
	}

	// Engine
	calculator := indicators.NewCalculator(cfg.Engine, factStore, labSource)
	dispatcher := indicators.NewDispatcher(cfg.Engine, calculator, indStore, factStore, facilities, deadLetters, log)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if err := dispatcher.Register(ctx, app.Bus); err != nil {
		log.Error().Err(err).Msg("failed to subscribe dispatcher")
		os.Exit(1)
	}

	alertEngine := alerts.NewEngine(cfg.Engine, factStore, alertRepo, log)
	alertEngine.Start(ctx)
	defer alertEngine.Stop()

	// Initial consistency walk, then nightly
	go func() {
		if err := dispatcher.RecomputeAll(ctx, time.Now().UTC()); err != nil {
			log.Error().Err(err).Msg("initial full recompute failed")
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := dispatcher.RecomputeAll(ctx, time.Now().UTC()); err != nil {
					log.Error().Err(err).Msg("nightly full recompute failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.InputSanitizer)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))
	r.Use(secmiddleware.NewIPRateLimiter(50, 100).Middleware)

	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		if facilityRepo != nil {
			r.Mount("/", facility.NewHandler(facilityRepo).Routes())
		}

		indHandler := indicators.NewHandler(indStore, dispatcher, alertRepo)
		r.Mount("/engine", indHandler.Routes())

		alertHandler := alerts.NewHandler(alertRepo, alertEngine)
		r.Mount("/warnings", alertHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		close(done)
	}()

	log.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Bool("database", app.DB != nil).
		Bool("lab_source", labSource != nil).
		Msg("procet indicators and alerts engine started")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}

	<-done
	log.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if cfg.Server.Env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "PROCET Indicators & Alerts Engine",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if err := app.Bus.Health(); err != nil {
			checks["event_bus"] = "not ready: " + err.Error()
		} else {
			checks["event_bus"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

// facilityCodes builds the facility id to registry code mapping for
// the lab adapter
func facilityCodes(ctx context.Context, repo *facility.Repository) (map[types.ID]string, error) {
	all, _, err := repo.List(ctx, facility.ListFacilitiesFilter{Limit: 100})
	if err != nil {
		return nil, err
	}

	codes := make(map[types.ID]string, len(all))
	for _, f := range all {
		codes[f.ID] = f.Code
	}
	return codes, nil
}

// seedFacilities registers the pilot facility set when the registry is
// empty
func seedFacilities(ctx context.Context, repo *facility.Repository, log zerolog.Logger) error {
	existing, _, err := repo.List(ctx, facility.ListFacilitiesFilter{Limit: 1})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	pilot := []facility.Facility{
		{Code: "CESFAM-STGO-01", Name: "CESFAM Santiago Centro", Type: facility.FacilityTypePrimaryCare, Region: "Metropolitana"},
		{Code: "CESFAM-PUQ-01", Name: "CESFAM Punta Arenas", Type: facility.FacilityTypePrimaryCare, Region: "Magallanes"},
		{Code: "HOSP-VALPO-01", Name: "Hospital Carlos van Buren", Type: facility.FacilityTypeHospital, Region: "Valparaíso"},
		{Code: "HOSP-CONC-01", Name: "Hospital Guillermo Grant Benavente", Type: facility.FacilityTypeHospital, Region: "Biobío"},
		{Code: "REF-ISP-01", Name: "Instituto de Salud Pública", Type: facility.FacilityTypeReference, Region: "Metropolitana"},
	}

	for i := range pilot {
		pilot[i].ID = types.NewID()
		if err := repo.Create(ctx, &pilot[i]); err != nil {
			log.Warn().Err(err).Str("code", pilot[i].Code).Msg("failed to seed facility")
		}
	}

	log.Info().Int("count", len(pilot)).Msg("pilot facilities registered")
	return nil
}

// demoFacilities is the in-memory facility lister used without a
// database
type demoFacilities struct {
	ids []types.ID
}

func (d *demoFacilities) ListIDs(ctx context.Context) ([]types.ID, error) {
	return d.ids, nil
}

// seedDemo loads a small fact set so the engine has something to
// compute in demo mode
func seedDemo(store *facts.MemoryStore) *demoFacilities {
	f1 := types.NewID()
	f2 := types.NewID()

	now := time.Now().UTC()
	qStart := types.QuarterOf(now).Start()

	p1 := facts.Patient{
		ID: types.NewID(), FacilityID: f1, RUT: "18444840-8",
		FullName: "Demo Patient One", State: facts.PatientStateActive,
		TBType: facts.TBTypePulmonary, DiagnosisDate: qStart.AddDate(0, 0, 9),
	}
	p2 := facts.Patient{
		ID: types.NewID(), FacilityID: f1, RUT: "9007920-4",
		FullName: "Demo Patient Two", State: facts.PatientStateDischarged,
		TBType: facts.TBTypePulmonary, DiagnosisDate: qStart.AddDate(0, 0, 20),
	}
	store.AddPatient(p1)
	store.AddPatient(p2)

	store.AddTreatment(facts.Treatment{
		ID: types.NewID(), PatientID: p1.ID, FacilityID: f1, Scheme: "2HRZE/4HR",
		StartDate: p1.DiagnosisDate.AddDate(0, 0, 2), ExpectedEndDate: now.AddDate(0, 0, 5),
	})

	store.AddContact(facts.Contact{
		ID: types.NewID(), PatientID: p1.ID, FacilityID: f1,
		FullName: "Demo Contact", StudyState: facts.StudyPending,
		RegisteredAt: now.AddDate(0, 0, -10),
	})

	return &demoFacilities{ids: []types.ID{f1, f2}}
}
