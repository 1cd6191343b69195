package indicators

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salud-gob/procet/internal/facts"
	"github.com/salud-gob/procet/internal/shared/config"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/types"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		EventCoalesceWindow: 10 * time.Millisecond,
		AlertTickInterval:   time.Minute,
		RecomputeDeadline:   5 * time.Second,
		RetryBackoffBase:    time.Millisecond,
		RetryBackoffMax:     50 * time.Millisecond,
		RecomputeWorkers:    2,
		ScreeningRatio:      0.8,
		YieldRatio:          0.1,
		AdherenceRatio:      0.85,
		NewbornsPerMonth:    50,
		BCGCoverageRatio:    0.95,
	}
}

func TestCohortFor(t *testing.T) {
	store := facts.NewMemoryStore()
	facilityID := types.NewID()
	q := types.Quarter{Year: 2025, Quarter: 1}
	diagnosed := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	store.AddPatient(facts.Patient{
		ID: types.NewID(), FacilityID: facilityID,
		State: facts.PatientStateDischarged, DiagnosisDate: diagnosed,
	})
	store.AddPatient(facts.Patient{
		ID: types.NewID(), FacilityID: facilityID,
		State: facts.PatientStateAbandoned, DiagnosisDate: diagnosed,
	})
	store.AddPatient(facts.Patient{
		ID: types.NewID(), FacilityID: facilityID,
		State: facts.PatientStateDeceased, DiagnosisDate: diagnosed,
	})
	// A suspended diagnosis must not count as a case
	store.AddPatient(facts.Patient{
		ID: types.NewID(), FacilityID: facilityID,
		State: facts.PatientStateSuspended, DiagnosisDate: diagnosed,
	})
	// Diagnosed outside the quarter
	store.AddPatient(facts.Patient{
		ID: types.NewID(), FacilityID: facilityID,
		State: facts.PatientStateActive,
		DiagnosisDate: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	})

	calc := NewCalculator(testEngineConfig(), store, nil)
	ind, err := calc.CohortFor(context.Background(), facilityID, q)
	require.NoError(t, err)

	assert.Equal(t, FamilyCohort, ind.Family)
	assert.Equal(t, "2025-Q1", ind.PeriodKey)
	assert.Equal(t, 3.0, ind.Counts[CountNewCases])
	assert.Equal(t, 1.0, ind.Counts[CountCured])
	assert.Equal(t, 1.0, ind.Counts[CountAbandoned])
	assert.Equal(t, 1.0, ind.Counts[CountDeceased])

	assert.Equal(t, 33.33, ind.Ratios[RatioSuccess])
	assert.Equal(t, 33.33, ind.Ratios[RatioAbandonment])
	assert.Equal(t, 33.33, ind.Ratios[RatioMortality])
}

func TestCohortForCountsRetreatments(t *testing.T) {
	store := facts.NewMemoryStore()
	facilityID := types.NewID()
	patientID := types.NewID()
	diagnosed := time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)

	store.AddPatient(facts.Patient{
		ID: patientID, FacilityID: facilityID,
		State: facts.PatientStateActive, DiagnosisDate: diagnosed,
	})
	store.AddTreatment(facts.Treatment{
		ID: types.NewID(), PatientID: patientID, FacilityID: facilityID,
		StartDate: diagnosed,
	})
	store.AddTreatment(facts.Treatment{
		ID: types.NewID(), PatientID: patientID, FacilityID: facilityID,
		StartDate: diagnosed.AddDate(0, 1, 0),
	})

	calc := NewCalculator(testEngineConfig(), store, nil)
	ind, err := calc.CohortFor(context.Background(), facilityID, types.Quarter{Year: 2025, Quarter: 2})
	require.NoError(t, err)

	assert.Equal(t, 1.0, ind.Counts[CountNewCases])
	assert.Equal(t, 1.0, ind.Counts[CountRetreatments])
}

func TestCohortForEmptyBucket(t *testing.T) {
	calc := NewCalculator(testEngineConfig(), facts.NewMemoryStore(), nil)

	ind, err := calc.CohortFor(context.Background(), types.NewID(), types.Quarter{Year: 2025, Quarter: 1})
	require.NoError(t, err)

	// An empty bucket is still a full record: every counter present, zero
	for _, name := range familyCounters[FamilyCohort] {
		v, ok := ind.Counts[name]
		assert.True(t, ok, "counter %s missing", name)
		assert.Equal(t, 0.0, v, "counter %s not zero", name)
	}
	assert.Equal(t, 0.0, ind.Ratios[RatioSuccess])
}

func TestOperationalForDefaults(t *testing.T) {
	store := facts.NewMemoryStore()
	facilityID := types.NewID()
	month := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	inMonth := month.AddDate(0, 0, 10)

	for i := 0; i < 10; i++ {
		store.AddPatient(facts.Patient{
			ID: types.NewID(), FacilityID: facilityID,
			State: facts.PatientStateActive, DiagnosisDate: inMonth,
		})
	}

	studied := inMonth.AddDate(0, 0, 3)
	store.AddContact(facts.Contact{
		ID: types.NewID(), FacilityID: facilityID,
		StudyState: facts.StudyComplete, RegisteredAt: inMonth, StudiedAt: &studied,
	})
	store.AddContact(facts.Contact{
		ID: types.NewID(), FacilityID: facilityID,
		StudyState: facts.StudyPending, RegisteredAt: inMonth,
	})

	for i := 0; i < 3; i++ {
		store.AddTreatment(facts.Treatment{
			ID: types.NewID(), PatientID: types.NewID(), FacilityID: facilityID,
			StartDate: inMonth,
		})
	}

	calc := NewCalculator(testEngineConfig(), store, nil)
	ind, err := calc.OperationalFor(context.Background(), facilityID, month)
	require.NoError(t, err)

	assert.Equal(t, "2025-06-01", ind.PeriodKey)
	assert.Equal(t, 10.0, ind.Counts[CountSymptomatics])
	assert.Equal(t, 8.0, ind.Counts[CountBacilloscopies], "floor(10 * 0.8)")
	assert.Equal(t, 1.0, ind.Counts[CountCasesFound], "floor(10 * 0.1)")
	assert.Equal(t, 2.0, ind.Counts[CountContactsIdentified])
	assert.Equal(t, 1.0, ind.Counts[CountContactsStudied])
	assert.Equal(t, 3.0, ind.Counts[CountDOTPatients])
	assert.Equal(t, 2.0, ind.Counts[CountDOTAdherents], "floor(3 * 0.85)")

	assert.Equal(t, 80.0, ind.Ratios[RatioScreening])
	assert.Equal(t, 50.0, ind.Ratios[RatioContactCoverage])
	assert.Equal(t, 66.67, ind.Ratios[RatioDOTAdherence])
}

type stubLab struct {
	counts facts.LabCounts
	ok     bool
	err    error
}

func (s stubLab) CountsFor(ctx context.Context, facilityID types.ID, month time.Time) (facts.LabCounts, bool, error) {
	return s.counts, s.ok, s.err
}

func TestOperationalForWithLabSource(t *testing.T) {
	store := facts.NewMemoryStore()
	facilityID := types.NewID()
	month := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	store.AddPatient(facts.Patient{
		ID: types.NewID(), FacilityID: facilityID,
		State: facts.PatientStateActive, DiagnosisDate: month.AddDate(0, 0, 5),
	})

	lab := stubLab{counts: facts.LabCounts{Bacilloscopies: 42, CasesFound: 7}, ok: true}
	calc := NewCalculator(testEngineConfig(), store, lab)

	ind, err := calc.OperationalFor(context.Background(), facilityID, month)
	require.NoError(t, err)

	// Real lab counts replace the defined defaults
	assert.Equal(t, 42.0, ind.Counts[CountBacilloscopies])
	assert.Equal(t, 7.0, ind.Counts[CountCasesFound])
}

func TestOperationalForLabUnknownFacilityFallsBack(t *testing.T) {
	store := facts.NewMemoryStore()
	facilityID := types.NewID()
	month := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	store.AddPatient(facts.Patient{
		ID: types.NewID(), FacilityID: facilityID,
		State: facts.PatientStateActive, DiagnosisDate: month.AddDate(0, 0, 5),
	})

	lab := stubLab{ok: false}
	calc := NewCalculator(testEngineConfig(), store, lab)

	ind, err := calc.OperationalFor(context.Background(), facilityID, month)
	require.NoError(t, err)

	assert.Equal(t, 0.0, ind.Counts[CountBacilloscopies], "floor(1 * 0.8)")
	assert.Equal(t, 0.0, ind.Counts[CountCasesFound])
}

func TestPreventionFor(t *testing.T) {
	store := facts.NewMemoryStore()
	facilityID := types.NewID()
	month := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	inMonth := month.AddDate(0, 0, 8)

	for i := 0; i < 4; i++ {
		store.AddContact(facts.Contact{
			ID: types.NewID(), FacilityID: facilityID,
			StudyState: facts.StudyPending, RegisteredAt: inMonth,
		})
	}

	completedAt := inMonth.AddDate(0, 0, 2)
	store.AddChemo(facts.Chemoprophylaxis{
		ID: types.NewID(), FacilityID: facilityID,
		State: facts.ChemoInProgress, StartDate: inMonth,
	})
	store.AddChemo(facts.Chemoprophylaxis{
		ID: types.NewID(), FacilityID: facilityID,
		State: facts.ChemoCompleted, StartDate: inMonth, CompletedAt: &completedAt,
	})

	calc := NewCalculator(testEngineConfig(), store, nil)
	ind, err := calc.PreventionFor(context.Background(), facilityID, month)
	require.NoError(t, err)

	assert.Equal(t, 4.0, ind.Counts[CountEligibleContacts])
	assert.Equal(t, 2.0, ind.Counts[CountChemoStarts])
	assert.Equal(t, 1.0, ind.Counts[CountChemoCompletions])
	assert.Equal(t, 50.0, ind.Counts[CountNewborns])
	assert.Equal(t, 47.0, ind.Counts[CountBCGVaccinated], "floor(50 * 0.95)")

	assert.Equal(t, 50.0, ind.Ratios[RatioChemoCoverage])
	assert.Equal(t, 50.0, ind.Ratios[RatioChemoAdherence])
	assert.Equal(t, 94.0, ind.Ratios[RatioBCGCoverage])
}

func TestCalculatorFactSourceOutage(t *testing.T) {
	store := facts.NewMemoryStore()
	store.Err = errors.FactSourceUnavailable(context.DeadlineExceeded)

	calc := NewCalculator(testEngineConfig(), store, nil)
	_, err := calc.CohortFor(context.Background(), types.NewID(), types.Quarter{Year: 2025, Quarter: 1})
	require.Error(t, err)
	assert.True(t, errors.IsRetriable(err), "fact source outages must be retriable")
}

func TestForDispatchesByFamily(t *testing.T) {
	store := facts.NewMemoryStore()
	calc := NewCalculator(testEngineConfig(), store, nil)
	facilityID := types.NewID()

	cohort, err := calc.For(context.Background(), Key{Family: FamilyCohort, FacilityID: facilityID, PeriodKey: "2025-Q2"})
	require.NoError(t, err)
	assert.Equal(t, FamilyCohort, cohort.Family)

	operational, err := calc.For(context.Background(), Key{Family: FamilyOperational, FacilityID: facilityID, PeriodKey: "2025-04-01"})
	require.NoError(t, err)
	assert.Equal(t, FamilyOperational, operational.Family)

	_, err = calc.For(context.Background(), Key{Family: Family("bogus"), FacilityID: facilityID, PeriodKey: "2025-Q2"})
	assert.Error(t, err)

	_, err = calc.For(context.Background(), Key{Family: FamilyCohort, FacilityID: facilityID, PeriodKey: "not-a-quarter"})
	assert.Error(t, err)
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, 33.33, percentOf(1, 3))
	assert.Equal(t, 66.67, percentOf(2, 3))
	assert.Equal(t, 100.0, percentOf(3, 3))
	assert.Equal(t, 0.0, percentOf(5, 0), "zero denominator yields 0, not NaN")
}
