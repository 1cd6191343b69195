package lims

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/rs/zerolog"
	"github.com/salud-gob/procet/internal/facts"
	"github.com/salud-gob/procet/internal/shared/config"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/types"
)

// Adapter reads real bacilloscopy and confirmed-case counts from the
// laboratory network's SQL Server. When connected, its counters
// replace the configured default screening and yield ratios in the
// operational indicator. The lab schema keys facilities by their
// registry code, so the adapter holds a code mapping loaded from the
// facility registry at startup.
type Adapter struct {
	db     *sql.DB
	config config.LIMSConfig
	log    zerolog.Logger

	mu       sync.RWMutex
	running  bool
	codeByID map[types.ID]string
}

var _ facts.LabSource = (*Adapter)(nil)

// New creates a LIS adapter; Start must be called before use
func New(cfg config.LIMSConfig, log zerolog.Logger) *Adapter {
	return &Adapter{
		config:   cfg,
		log:      log.With().Str("component", "lims-adapter").Logger(),
		codeByID: make(map[types.ID]string),
	}
}

// Start opens the SQL Server connection
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s;encrypt=true;TrustServerCertificate=true",
		a.config.Host,
		a.config.Port,
		a.config.Database,
		a.config.User,
		a.config.Password,
	)

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open lab database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping lab database: %w", err)
	}

	a.db = db
	a.running = true
	a.log.Info().Str("host", a.config.Host).Msg("lab source connected")

	return nil
}

// Stop closes the connection
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false

	return a.db.Close()
}

// SetFacilityCodes replaces the facility id to lab code mapping
func (a *Adapter) SetFacilityCodes(codes map[types.ID]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.codeByID = codes
}

// CountsFor returns the lab counters for a facility-month. ok is false
// when the facility is unknown to the lab network or the month has no
// sample rows yet.
func (a *Adapter) CountsFor(ctx context.Context, facilityID types.ID, month time.Time) (facts.LabCounts, bool, error) {
	a.mu.RLock()
	running := a.running
	code, known := a.codeByID[facilityID]
	a.mu.RUnlock()

	if !running || !known {
		return facts.LabCounts{}, false, nil
	}

	next := month.AddDate(0, 1, 0)

	sampleQuery := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE FacilityCode = @p1 AND SampleDate >= @p2 AND SampleDate < @p3`,
		a.config.SampleTable)

	var bacilloscopies int
	err := a.db.QueryRowContext(ctx, sampleQuery,
		sql.Named("p1", code), sql.Named("p2", month), sql.Named("p3", next),
	).Scan(&bacilloscopies)
	if err != nil {
		return facts.LabCounts{}, false, errors.FactSourceUnavailable(err)
	}

	resultQuery := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE FacilityCode = @p1 AND ConfirmedDate >= @p2 AND ConfirmedDate < @p3`,
		a.config.ResultTable)

	var casesFound int
	err = a.db.QueryRowContext(ctx, resultQuery,
		sql.Named("p1", code), sql.Named("p2", month), sql.Named("p3", next),
	).Scan(&casesFound)
	if err != nil {
		return facts.LabCounts{}, false, errors.FactSourceUnavailable(err)
	}

	if bacilloscopies == 0 && casesFound == 0 {
		return facts.LabCounts{}, false, nil
	}

	return facts.LabCounts{
		Bacilloscopies: bacilloscopies,
		CasesFound:     casesFound,
	}, true, nil
}
