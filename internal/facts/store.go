package facts

import (
	"context"
	"time"

	"github.com/salud-gob/procet/internal/shared/types"
)

// Store is the read-only fact vocabulary the engine consumes.
//
// Date ranges are half-open [from, to). Snapshot consistency is
// guaranteed only within a single call; callers must not assume
// cross-call transactional consistency. Transient source failures
// surface as a retriable FactSourceUnavailable error.
type Store interface {
	// PatientsDiagnosedIn returns patients whose diagnosis date falls
	// in the range, with TreatmentCount populated.
	PatientsDiagnosedIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Patient, error)

	// TreatmentsStartingIn returns treatments with start date in the range
	TreatmentsStartingIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Treatment, error)

	// ContactsRegisteredIn returns contacts registered in the range
	ContactsRegisteredIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Contact, error)

	// ChemoStartedIn returns chemoprophylaxis courses started in the range
	ChemoStartedIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Chemoprophylaxis, error)

	// ChemoCompletedIn returns chemoprophylaxis courses completed in the range
	ChemoCompletedIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Chemoprophylaxis, error)

	// OngoingTreatments returns every open treatment across all facilities
	OngoingTreatments(ctx context.Context) ([]Treatment, error)

	// TreatmentsEndingBetween returns open treatments whose expected end
	// falls in [from, to], across all facilities.
	TreatmentsEndingBetween(ctx context.Context, from, to time.Time) ([]Treatment, error)

	// PendingContactStudiesOlderThan returns contacts whose study is
	// still pending and was registered on or before the cutoff date.
	PendingContactStudiesOlderThan(ctx context.Context, cutoff time.Time) ([]Contact, error)

	// OverdueChemoAsOf returns in-progress chemoprophylaxis courses whose
	// planned end has passed as of the given date.
	OverdueChemoAsOf(ctx context.Context, asOf time.Time) ([]Chemoprophylaxis, error)

	// FactRange returns the earliest and latest effective dates across
	// all facts, for full-recompute enumeration. ok is false when the
	// fact store is empty.
	FactRange(ctx context.Context) (from, to time.Time, ok bool, err error)
}

// LabCounts carries real laboratory counters for a facility-month,
// used in place of the configured default ratios when a lab source
// is wired.
type LabCounts struct {
	Bacilloscopies int
	CasesFound     int
}

// LabSource provides real laboratory counters per facility-month.
// Implementations may return ok=false when no data exists for the
// bucket, in which case the calculator falls back to the configured
// default ratios.
type LabSource interface {
	CountsFor(ctx context.Context, facilityID types.ID, month time.Time) (counts LabCounts, ok bool, err error)
}
