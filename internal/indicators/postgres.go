package indicators

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/types"
)

// PostgresStore persists indicator records in the indicators table.
// Counters and ratios are stored as JSONB blobs keyed by metric name.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates an indicator store over a pgx pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// Put replaces any prior record with the same key. The upsert is a
// single statement, so concurrent readers see either the old or the
// new record, never a mix.
func (s *PostgresStore) Put(ctx context.Context, ind *Indicator) error {
	stored := ind.Clone()
	stored.Recalculate()
	if stored.ComputedAt.IsZero() {
		stored.ComputedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO indicators (
			id, family, facility_id, period_key, period_start, period_end,
			counts, ratios, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (family, facility_id, period_key) DO UPDATE SET
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			counts = EXCLUDED.counts,
			ratios = EXCLUDED.ratios,
			computed_at = EXCLUDED.computed_at,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		stored.ID, stored.Family, stored.FacilityID, stored.PeriodKey,
		stored.PeriodStart, stored.PeriodEnd,
		stored.Counts, stored.Ratios, stored.ComputedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "deadlock") {
			return errors.StoreConflict("indicator upsert lost to concurrent writer")
		}
		return errors.Wrap(err, "failed to upsert indicator")
	}

	return nil
}

// Get returns the record for a key
func (s *PostgresStore) Get(ctx context.Context, key Key) (*Indicator, error) {
	query := `
		SELECT id, family, facility_id, period_key, period_start, period_end,
			counts, ratios, computed_at
		FROM indicators
		WHERE family = $1 AND facility_id = $2 AND period_key = $3`

	ind := &Indicator{}
	err := s.pool.QueryRow(ctx, query, key.Family, key.FacilityID, key.PeriodKey).Scan(
		&ind.ID, &ind.Family, &ind.FacilityID, &ind.PeriodKey,
		&ind.PeriodStart, &ind.PeriodEnd, &ind.Counts, &ind.Ratios, &ind.ComputedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("indicator", key.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get indicator")
	}

	return ind, nil
}

// Query returns records matching the filter, ordered by period
// descending then facility name ascending
func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]Indicator, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Family != nil {
		conditions = append(conditions, fmt.Sprintf("i.family = $%d", argNum))
		args = append(args, *filter.Family)
		argNum++
	}

	if filter.FacilityID != nil {
		conditions = append(conditions, fmt.Sprintf("i.facility_id = $%d", argNum))
		args = append(args, *filter.FacilityID)
		argNum++
	}

	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("i.period_start >= $%d", argNum))
		args = append(args, *filter.From)
		argNum++
	}

	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("i.period_start < $%d", argNum))
		args = append(args, *filter.To)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM indicators i %s", whereClause)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count indicators")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT i.id, i.family, i.facility_id, i.period_key, i.period_start, i.period_end,
			i.counts, i.ratios, i.computed_at
		FROM indicators i
		JOIN facilities f ON f.id = i.facility_id
		%s
		ORDER BY i.period_start DESC, f.name ASC
		LIMIT $%d OFFSET $%d`, whereClause, argNum, argNum+1)

	args = append(args, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to query indicators")
	}
	defer rows.Close()

	var records []Indicator
	for rows.Next() {
		var ind Indicator
		err := rows.Scan(
			&ind.ID, &ind.Family, &ind.FacilityID, &ind.PeriodKey,
			&ind.PeriodStart, &ind.PeriodEnd, &ind.Counts, &ind.Ratios, &ind.ComputedAt,
		)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan indicator")
		}
		records = append(records, ind)
	}

	return records, total, nil
}

// DeadLetter records a recomputation that exhausted its retry budget
type DeadLetter struct {
	ID         types.ID  `json:"id"`
	Family     Family    `json:"family"`
	FacilityID types.ID  `json:"facility_id"`
	PeriodKey  string    `json:"period_key"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	FailedAt   time.Time `json:"failed_at"`
}

// DeadLetterSink receives jobs that exhausted their retry budget
type DeadLetterSink interface {
	Record(ctx context.Context, dl DeadLetter) error
}

// PostgresDeadLetters persists dead letters for operator inspection
type PostgresDeadLetters struct {
	pool *pgxpool.Pool
}

// NewPostgresDeadLetters creates a dead-letter sink over a pgx pool
func NewPostgresDeadLetters(pool *pgxpool.Pool) *PostgresDeadLetters {
	return &PostgresDeadLetters{pool: pool}
}

var _ DeadLetterSink = (*PostgresDeadLetters)(nil)

// Record persists a dead letter
func (s *PostgresDeadLetters) Record(ctx context.Context, dl DeadLetter) error {
	query := `
		INSERT INTO dead_letters (id, family, facility_id, period_key, attempts, last_error, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		dl.ID, dl.Family, dl.FacilityID, dl.PeriodKey, dl.Attempts, dl.LastError, dl.FailedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record dead letter")
	}

	return nil
}
