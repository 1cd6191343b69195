package facility

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/types"
)

// Repository provides database operations for facilities
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new facility repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create registers a new facility
func (r *Repository) Create(ctx context.Context, f *Facility) error {
	query := `
		INSERT INTO facilities (id, code, name, facility_type, region)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query, f.ID, f.Code, f.Name, f.Type, f.Region)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("facility with this code already exists")
		}
		return errors.Wrap(err, "failed to create facility")
	}

	return nil
}

// Get retrieves a facility by ID
func (r *Repository) Get(ctx context.Context, id types.ID) (*Facility, error) {
	query := `
		SELECT id, code, name, facility_type, region, created_at, updated_at
		FROM facilities
		WHERE id = $1`

	f := &Facility{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.Code, &f.Name, &f.Type, &f.Region, &f.CreatedAt, &f.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("facility", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get facility")
	}

	return f, nil
}

// GetByCode retrieves a facility by code
func (r *Repository) GetByCode(ctx context.Context, code string) (*Facility, error) {
	query := `
		SELECT id, code, name, facility_type, region, created_at, updated_at
		FROM facilities
		WHERE code = $1`

	f := &Facility{}
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&f.ID, &f.Code, &f.Name, &f.Type, &f.Region, &f.CreatedAt, &f.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("facility", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get facility by code")
	}

	return f, nil
}

// Update updates a facility
func (r *Repository) Update(ctx context.Context, f *Facility) error {
	query := `
		UPDATE facilities SET
			name = $2, facility_type = $3, region = $4, updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, f.ID, f.Name, f.Type, f.Region)
	if err != nil {
		return errors.Wrap(err, "failed to update facility")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("facility", f.ID.String())
	}

	return nil
}

// Delete removes a facility from the registry
func (r *Repository) Delete(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM facilities WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete facility")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("facility", id.String())
	}

	return nil
}

// List lists facilities with optional filters
func (r *Repository) List(ctx context.Context, filter ListFacilitiesFilter) ([]Facility, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("facility_type = $%d", argNum))
		args = append(args, *filter.Type)
		argNum++
	}

	if filter.Region != nil {
		conditions = append(conditions, fmt.Sprintf("region = $%d", argNum))
		args = append(args, *filter.Region)
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR code ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM facilities %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count facilities")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT id, code, name, facility_type, region, created_at, updated_at
		FROM facilities
		%s
		ORDER BY name
		LIMIT $%d OFFSET $%d`, whereClause, argNum, argNum+1)

	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list facilities")
	}
	defer rows.Close()

	var facilities []Facility
	for rows.Next() {
		var f Facility
		err := rows.Scan(&f.ID, &f.Code, &f.Name, &f.Type, &f.Region, &f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan facility")
		}
		facilities = append(facilities, f)
	}

	return facilities, total, nil
}

// ListIDs returns the IDs of every registered facility
func (r *Repository) ListIDs(ctx context.Context) ([]types.ID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM facilities ORDER BY code`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list facility ids")
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id types.ID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan facility id")
		}
		ids = append(ids, id)
	}

	return ids, nil
}
