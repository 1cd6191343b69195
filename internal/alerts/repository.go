package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/types"
)

// Repository persists alerts. Alerts are created by the engine,
// mutated only through resolve/reassign/escalate, and never deleted.
type Repository interface {
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id types.ID) (*Alert, error)

	// FindOpenByFingerprint returns the unresolved alert with the same
	// dedup identity, or nil when none exists.
	FindOpenByFingerprint(ctx context.Context, kind Kind, facilityID types.ID, fingerprint string) (*Alert, error)

	// ListDue returns unresolved alerts whose due date has passed
	ListDue(ctx context.Context, asOf time.Time) ([]Alert, error)

	// Escalate bumps severity and advances the due date
	Escalate(ctx context.Context, id types.ID, severity Severity, dueAt time.Time) error

	Resolve(ctx context.Context, id types.ID, actor types.ID, note string, at time.Time) error
	Assign(ctx context.Context, id types.ID, assignee types.ID) error

	List(ctx context.Context, filter ListFilter) ([]Alert, int, error)
	OpenCountsBySeverity(ctx context.Context) (map[string]int, error)
}

// PostgresRepository is the production alert store
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates an alert repository over a pgx pool
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

// Create persists a new alert
func (r *PostgresRepository) Create(ctx context.Context, a *Alert) error {
	query := `
		INSERT INTO alerts (
			id, kind, severity, facility_id, entity_id, fingerprint,
			message, payload, assigned_to, due_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	message := a.Title
	if a.Description != "" {
		message = a.Title + "\n" + a.Description
	}

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.Kind, a.Severity, a.FacilityID, a.EntityID, a.Fingerprint,
		message, a.Payload, a.AssigneeID, a.DueAt, a.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create alert")
	}

	return nil
}

const alertColumns = `
	id, kind, severity, facility_id, entity_id, fingerprint,
	message, payload, assigned_to, due_at, resolved_at, resolved_by,
	COALESCE(resolution_note, ''), created_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	a := &Alert{}
	var message string
	err := row.Scan(
		&a.ID, &a.Kind, &a.Severity, &a.FacilityID, &a.EntityID, &a.Fingerprint,
		&message, &a.Payload, &a.AssigneeID, &a.DueAt, &a.ResolvedAt, &a.ResolvedBy,
		&a.ResolutionNote, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Title, a.Description, _ = strings.Cut(message, "\n")
	return a, nil
}

// Get retrieves an alert by ID
func (r *PostgresRepository) Get(ctx context.Context, id types.ID) (*Alert, error) {
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE id = $1`, alertColumns)

	a, err := scanAlert(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("alert", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get alert")
	}

	return a, nil
}

// FindOpenByFingerprint returns the unresolved alert with the same
// dedup identity, or nil
func (r *PostgresRepository) FindOpenByFingerprint(ctx context.Context, kind Kind, facilityID types.ID, fingerprint string) (*Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE kind = $1 AND facility_id = $2 AND fingerprint = $3 AND resolved_at IS NULL
		LIMIT 1`, alertColumns)

	a, err := scanAlert(r.pool.QueryRow(ctx, query, kind, facilityID, fingerprint))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find alert by fingerprint")
	}

	return a, nil
}

// ListDue returns unresolved alerts whose due date has passed
func (r *PostgresRepository) ListDue(ctx context.Context, asOf time.Time) ([]Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		WHERE resolved_at IS NULL AND due_at < $1
		ORDER BY due_at`, alertColumns)

	rows, err := r.pool.Query(ctx, query, asOf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due alerts")
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan alert")
		}
		alerts = append(alerts, *a)
	}

	return alerts, nil
}

// Escalate bumps severity and advances the due date
func (r *PostgresRepository) Escalate(ctx context.Context, id types.ID, severity Severity, dueAt time.Time) error {
	query := `
		UPDATE alerts SET severity = $2, due_at = $3, updated_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id, severity, dueAt)
	if err != nil {
		return errors.Wrap(err, "failed to escalate alert")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("alert", id.String())
	}

	return nil
}

// Resolve closes an alert; resolution is final
func (r *PostgresRepository) Resolve(ctx context.Context, id types.ID, actor types.ID, note string, at time.Time) error {
	query := `
		UPDATE alerts SET resolved_at = $2, resolved_by = $3, resolution_note = $4, updated_at = NOW()
		WHERE id = $1 AND resolved_at IS NULL`

	result, err := r.pool.Exec(ctx, query, id, at, actor, note)
	if err != nil {
		return errors.Wrap(err, "failed to resolve alert")
	}
	if result.RowsAffected() == 0 {
		return errors.Conflict("alert already resolved or not found")
	}

	return nil
}

// Assign sets the assignee without touching lifecycle state
func (r *PostgresRepository) Assign(ctx context.Context, id types.ID, assignee types.ID) error {
	query := `UPDATE alerts SET assigned_to = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, assignee)
	if err != nil {
		return errors.Wrap(err, "failed to assign alert")
	}
	if result.RowsAffected() == 0 {
		return errors.NotFound("alert", id.String())
	}

	return nil
}

// List lists alerts with optional filters
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Alert, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argNum))
		args = append(args, *filter.Kind)
		argNum++
	}

	if filter.Severity != nil {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", argNum))
		args = append(args, *filter.Severity)
		argNum++
	}

	if filter.Resolved != nil {
		if *filter.Resolved {
			conditions = append(conditions, "resolved_at IS NOT NULL")
		} else {
			conditions = append(conditions, "resolved_at IS NULL")
		}
	}

	if filter.AssigneeID != nil {
		conditions = append(conditions, fmt.Sprintf("assigned_to = $%d", argNum))
		args = append(args, *filter.AssigneeID)
		argNum++
	}

	if filter.FacilityID != nil {
		conditions = append(conditions, fmt.Sprintf("facility_id = $%d", argNum))
		args = append(args, *filter.FacilityID)
		argNum++
	}

	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *filter.From)
		argNum++
	}

	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argNum))
		args = append(args, *filter.To)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM alerts %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count alerts")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT %s FROM alerts
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, alertColumns, whereClause, argNum, argNum+1)

	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list alerts")
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan alert")
		}
		alerts = append(alerts, *a)
	}

	return alerts, total, nil
}

// OpenCountsBySeverity returns unresolved alert counts keyed by severity
func (r *PostgresRepository) OpenCountsBySeverity(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT severity, COUNT(*) FROM alerts
		WHERE resolved_at IS NULL
		GROUP BY severity`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count open alerts")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan alert count")
		}
		counts[severity] = n
	}

	return counts, nil
}

// MemoryRepository is an in-memory alert store used in tests and demo mode
type MemoryRepository struct {
	mu     sync.RWMutex
	alerts map[types.ID]*Alert
}

// NewMemoryRepository creates an empty in-memory alert repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{alerts: make(map[types.ID]*Alert)}
}

var _ Repository = (*MemoryRepository)(nil)

// Create persists a new alert
func (r *MemoryRepository) Create(ctx context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *a
	r.alerts[a.ID] = &clone
	return nil
}

// Get retrieves an alert by ID
func (r *MemoryRepository) Get(ctx context.Context, id types.ID) (*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, errors.NotFound("alert", id.String())
	}
	clone := *a
	return &clone, nil
}

// FindOpenByFingerprint returns the unresolved alert with the same identity
func (r *MemoryRepository) FindOpenByFingerprint(ctx context.Context, kind Kind, facilityID types.ID, fingerprint string) (*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.alerts {
		if a.Kind == kind && a.FacilityID == facilityID && a.Fingerprint == fingerprint && !a.Resolved() {
			clone := *a
			return &clone, nil
		}
	}
	return nil, nil
}

// ListDue returns unresolved alerts whose due date has passed
func (r *MemoryRepository) ListDue(ctx context.Context, asOf time.Time) ([]Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []Alert
	for _, a := range r.alerts {
		if !a.Resolved() && a.DueAt.Before(asOf) {
			due = append(due, *a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	return due, nil
}

// Escalate bumps severity and advances the due date
func (r *MemoryRepository) Escalate(ctx context.Context, id types.ID, severity Severity, dueAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok || a.Resolved() {
		return errors.NotFound("alert", id.String())
	}
	a.Severity = severity
	a.DueAt = dueAt
	return nil
}

// Resolve closes an alert
func (r *MemoryRepository) Resolve(ctx context.Context, id types.ID, actor types.ID, note string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return errors.NotFound("alert", id.String())
	}
	if a.Resolved() {
		return errors.Conflict("alert already resolved")
	}
	resolvedAt := at
	a.ResolvedAt = &resolvedAt
	a.ResolvedBy = &actor
	a.ResolutionNote = note
	return nil
}

// Assign sets the assignee
func (r *MemoryRepository) Assign(ctx context.Context, id types.ID, assignee types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return errors.NotFound("alert", id.String())
	}
	a.AssigneeID = &assignee
	return nil
}

// List lists alerts with optional filters
func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]Alert, int, error) {
	r.mu.RLock()
	var matched []Alert
	for _, a := range r.alerts {
		if filter.Kind != nil && a.Kind != *filter.Kind {
			continue
		}
		if filter.Severity != nil && a.Severity != *filter.Severity {
			continue
		}
		if filter.Resolved != nil && a.Resolved() != *filter.Resolved {
			continue
		}
		if filter.AssigneeID != nil && (a.AssigneeID == nil || *a.AssigneeID != *filter.AssigneeID) {
			continue
		}
		if filter.FacilityID != nil && a.FacilityID != *filter.FacilityID {
			continue
		}
		if filter.From != nil && a.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !a.CreatedAt.Before(*filter.To) {
			continue
		}
		matched = append(matched, *a)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)

	offset := filter.Offset
	if offset > total {
		offset = total
	}
	matched = matched[offset:]

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if limit < len(matched) {
		matched = matched[:limit]
	}

	return matched, total, nil
}

// OpenCountsBySeverity returns unresolved alert counts keyed by severity
func (r *MemoryRepository) OpenCountsBySeverity(ctx context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, a := range r.alerts {
		if !a.Resolved() {
			counts[string(a.Severity)]++
		}
	}
	return counts, nil
}
