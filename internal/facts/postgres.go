package facts

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/metrics"
	"github.com/salud-gob/procet/internal/shared/types"
)

// PostgresStore is the fact adapter over the transactional schema.
// Every query is read-only; failures surface as FactSourceUnavailable.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a fact adapter over a pgx pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// PatientsDiagnosedIn returns patients diagnosed in [from, to)
func (s *PostgresStore) PatientsDiagnosedIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Patient, error) {
	defer observe("patients_diagnosed_in")()

	query := `
		SELECT p.id, p.facility_id, p.rut, p.full_name, p.state, p.tb_type,
			COALESCE(p.priority_group, ''), p.diagnosis_date,
			(SELECT COUNT(*) FROM treatments t WHERE t.patient_id = p.id)
		FROM patients p
		WHERE p.facility_id = $1 AND p.diagnosis_date >= $2 AND p.diagnosis_date < $3
		ORDER BY p.diagnosis_date`

	rows, err := s.pool.Query(ctx, query, facilityID, from, to)
	if err != nil {
		return nil, errors.FactSourceUnavailable(err)
	}
	defer rows.Close()

	var patients []Patient
	for rows.Next() {
		var p Patient
		err := rows.Scan(
			&p.ID, &p.FacilityID, &p.RUT, &p.FullName, &p.State, &p.TBType,
			&p.PriorityGroup, &p.DiagnosisDate, &p.TreatmentCount,
		)
		if err != nil {
			return nil, errors.FactSourceUnavailable(err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.FactSourceUnavailable(err)
	}

	return patients, nil
}

// TreatmentsStartingIn returns treatments starting in [from, to)
func (s *PostgresStore) TreatmentsStartingIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Treatment, error) {
	defer observe("treatments_starting_in")()

	query := `
		SELECT id, patient_id, facility_id, scheme, start_date, expected_end_date, closed_at, outcome
		FROM treatments
		WHERE facility_id = $1 AND start_date >= $2 AND start_date < $3
		ORDER BY start_date`

	return s.scanTreatments(ctx, query, facilityID, from, to)
}

// ContactsRegisteredIn returns contacts registered in [from, to)
func (s *PostgresStore) ContactsRegisteredIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Contact, error) {
	defer observe("contacts_registered_in")()

	query := `
		SELECT id, patient_id, facility_id, full_name, COALESCE(relationship, ''),
			study_state, registered_at, studied_at
		FROM contacts
		WHERE facility_id = $1 AND registered_at >= $2 AND registered_at < $3
		ORDER BY registered_at`

	return s.scanContacts(ctx, query, facilityID, from, to)
}

// ChemoStartedIn returns chemoprophylaxis courses started in [from, to)
func (s *PostgresStore) ChemoStartedIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Chemoprophylaxis, error) {
	defer observe("chemo_started_in")()

	query := `
		SELECT id, contact_id, facility_id, state, start_date, expected_end_date, completed_at
		FROM chemoprophylaxis
		WHERE facility_id = $1 AND start_date >= $2 AND start_date < $3
		ORDER BY start_date`

	return s.scanChemo(ctx, query, facilityID, from, to)
}

// ChemoCompletedIn returns chemoprophylaxis courses completed in [from, to)
func (s *PostgresStore) ChemoCompletedIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Chemoprophylaxis, error) {
	defer observe("chemo_completed_in")()

	query := `
		SELECT id, contact_id, facility_id, state, start_date, expected_end_date, completed_at
		FROM chemoprophylaxis
		WHERE facility_id = $1 AND completed_at IS NOT NULL
			AND completed_at >= $2 AND completed_at < $3
		ORDER BY completed_at`

	return s.scanChemo(ctx, query, facilityID, from, to)
}

// OngoingTreatments returns every open treatment
func (s *PostgresStore) OngoingTreatments(ctx context.Context) ([]Treatment, error) {
	defer observe("ongoing_treatments")()

	query := `
		SELECT id, patient_id, facility_id, scheme, start_date, expected_end_date, closed_at, outcome
		FROM treatments
		WHERE closed_at IS NULL
		ORDER BY expected_end_date`

	return s.scanTreatments(ctx, query)
}

// TreatmentsEndingBetween returns open treatments with expected end in [from, to]
func (s *PostgresStore) TreatmentsEndingBetween(ctx context.Context, from, to time.Time) ([]Treatment, error) {
	defer observe("treatments_ending_between")()

	query := `
		SELECT id, patient_id, facility_id, scheme, start_date, expected_end_date, closed_at, outcome
		FROM treatments
		WHERE closed_at IS NULL AND expected_end_date >= $1 AND expected_end_date <= $2
		ORDER BY expected_end_date`

	return s.scanTreatments(ctx, query, from, to)
}

// PendingContactStudiesOlderThan returns pending contact studies registered on or before cutoff
func (s *PostgresStore) PendingContactStudiesOlderThan(ctx context.Context, cutoff time.Time) ([]Contact, error) {
	defer observe("pending_contact_studies")()

	query := `
		SELECT id, patient_id, facility_id, full_name, COALESCE(relationship, ''),
			study_state, registered_at, studied_at
		FROM contacts
		WHERE study_state = 'pending' AND registered_at <= $1
		ORDER BY registered_at`

	return s.scanContacts(ctx, query, cutoff)
}

// OverdueChemoAsOf returns in-progress courses whose planned end has passed
func (s *PostgresStore) OverdueChemoAsOf(ctx context.Context, asOf time.Time) ([]Chemoprophylaxis, error) {
	defer observe("overdue_chemo")()

	query := `
		SELECT id, contact_id, facility_id, state, start_date, expected_end_date, completed_at
		FROM chemoprophylaxis
		WHERE state = 'in_progress' AND expected_end_date < $1
		ORDER BY expected_end_date`

	return s.scanChemo(ctx, query, asOf)
}

// FactRange returns the earliest and latest effective fact dates
func (s *PostgresStore) FactRange(ctx context.Context) (time.Time, time.Time, bool, error) {
	defer observe("fact_range")()

	query := `
		SELECT MIN(d), MAX(d) FROM (
			SELECT diagnosis_date AS d FROM patients
			UNION ALL SELECT start_date FROM treatments
			UNION ALL SELECT registered_at FROM contacts
			UNION ALL SELECT start_date FROM chemoprophylaxis
		) dates`

	var from, to *time.Time
	if err := s.pool.QueryRow(ctx, query).Scan(&from, &to); err != nil {
		return time.Time{}, time.Time{}, false, errors.FactSourceUnavailable(err)
	}
	if from == nil || to == nil {
		return time.Time{}, time.Time{}, false, nil
	}

	return *from, *to, true, nil
}

// --- Scan helpers ---

func (s *PostgresStore) scanTreatments(ctx context.Context, query string, args ...interface{}) ([]Treatment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.FactSourceUnavailable(err)
	}
	defer rows.Close()

	var treatments []Treatment
	for rows.Next() {
		var t Treatment
		err := rows.Scan(
			&t.ID, &t.PatientID, &t.FacilityID, &t.Scheme,
			&t.StartDate, &t.ExpectedEndDate, &t.ClosedAt, &t.Outcome,
		)
		if err != nil {
			return nil, errors.FactSourceUnavailable(err)
		}
		treatments = append(treatments, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.FactSourceUnavailable(err)
	}

	return treatments, nil
}

func (s *PostgresStore) scanContacts(ctx context.Context, query string, args ...interface{}) ([]Contact, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.FactSourceUnavailable(err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		err := rows.Scan(
			&c.ID, &c.PatientID, &c.FacilityID, &c.FullName, &c.Relationship,
			&c.StudyState, &c.RegisteredAt, &c.StudiedAt,
		)
		if err != nil {
			return nil, errors.FactSourceUnavailable(err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.FactSourceUnavailable(err)
	}

	return contacts, nil
}

func (s *PostgresStore) scanChemo(ctx context.Context, query string, args ...interface{}) ([]Chemoprophylaxis, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.FactSourceUnavailable(err)
	}
	defer rows.Close()

	var courses []Chemoprophylaxis
	for rows.Next() {
		var c Chemoprophylaxis
		err := rows.Scan(
			&c.ID, &c.ContactID, &c.FacilityID, &c.State,
			&c.StartDate, &c.ExpectedEndDate, &c.CompletedAt,
		)
		if err != nil {
			return nil, errors.FactSourceUnavailable(err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.FactSourceUnavailable(err)
	}

	return courses, nil
}

func observe(query string) func() {
	start := time.Now()
	return func() {
		metrics.RecordFactQuery(query, time.Since(start))
	}
}
