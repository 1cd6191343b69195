package indicators

import (
	"context"
	"math"
	"time"

	"github.com/salud-gob/procet/internal/facts"
	"github.com/salud-gob/procet/internal/shared/config"
	"github.com/salud-gob/procet/internal/shared/types"
)

// Calculator derives indicator records from the fact store. Each
// derivation is a pure function of the fact snapshot read during the
// call; the calculator performs no writes.
type Calculator struct {
	cfg   config.EngineConfig
	store facts.Store

	// lab, when non-nil, supplies real bacilloscopy and case counts
	// that replace the screening/yield default ratios.
	lab facts.LabSource
}

// NewCalculator creates a calculator over a fact store
func NewCalculator(cfg config.EngineConfig, store facts.Store, lab facts.LabSource) *Calculator {
	return &Calculator{cfg: cfg, store: store, lab: lab}
}

// CohortFor derives the cohort indicator for a facility-quarter
func (c *Calculator) CohortFor(ctx context.Context, facilityID types.ID, q types.Quarter) (*Indicator, error) {
	ind := New(FamilyCohort, facilityID, q.Key(), q.Start(), q.End())

	patients, err := c.store.PatientsDiagnosedIn(ctx, facilityID, q.Start(), q.End())
	if err != nil {
		return nil, err
	}

	for _, p := range patients {
		// A suspended diagnosis is not yet a confirmed case
		if p.State != facts.PatientStateSuspended {
			ind.Counts[CountNewCases]++
		}

		switch p.State {
		case facts.PatientStateDischarged:
			ind.Counts[CountCured]++
		case facts.PatientStateAbandoned:
			ind.Counts[CountAbandoned]++
		case facts.PatientStateDeceased:
			ind.Counts[CountDeceased]++
		}

		if p.TreatmentCount > 1 {
			ind.Counts[CountRetreatments]++
		}
	}

	// Failures and transfers stay zero until treatment-outcome
	// enrichment is wired upstream.

	ind.Recalculate()
	return ind, nil
}

// OperationalFor derives the operational indicator for a facility-month
func (c *Calculator) OperationalFor(ctx context.Context, facilityID types.ID, month time.Time) (*Indicator, error) {
	start := types.MonthOf(month)
	end := types.NextMonth(start)
	ind := New(FamilyOperational, facilityID, types.MonthKey(start), start, end)

	patients, err := c.store.PatientsDiagnosedIn(ctx, facilityID, start, end)
	if err != nil {
		return nil, err
	}
	symptomatics := float64(len(patients))
	ind.Counts[CountSymptomatics] = symptomatics

	// Lab counters come from the laboratory network when wired; the
	// configured ratios are the defined default until then.
	labApplied := false
	if c.lab != nil {
		counts, ok, err := c.lab.CountsFor(ctx, facilityID, start)
		if err != nil {
			return nil, err
		}
		if ok {
			ind.Counts[CountBacilloscopies] = float64(counts.Bacilloscopies)
			ind.Counts[CountCasesFound] = float64(counts.CasesFound)
			labApplied = true
		}
	}
	if !labApplied {
		ind.Counts[CountBacilloscopies] = math.Floor(symptomatics * c.cfg.ScreeningRatio)
		ind.Counts[CountCasesFound] = math.Floor(symptomatics * c.cfg.YieldRatio)
	}

	contacts, err := c.store.ContactsRegisteredIn(ctx, facilityID, start, end)
	if err != nil {
		return nil, err
	}
	ind.Counts[CountContactsIdentified] = float64(len(contacts))
	for _, ct := range contacts {
		if ct.StudyState == facts.StudyComplete {
			ind.Counts[CountContactsStudied]++
		}
	}

	treatments, err := c.store.TreatmentsStartingIn(ctx, facilityID, start, end)
	if err != nil {
		return nil, err
	}
	dot := float64(len(treatments))
	ind.Counts[CountDOTPatients] = dot
	ind.Counts[CountDOTAdherents] = math.Floor(dot * c.cfg.AdherenceRatio)

	// Mean diagnosis time needs examination timestamps that are not
	// projected yet; stays zero until the exam source is wired.

	ind.Recalculate()
	return ind, nil
}

// PreventionFor derives the prevention indicator for a facility-month
func (c *Calculator) PreventionFor(ctx context.Context, facilityID types.ID, month time.Time) (*Indicator, error) {
	start := types.MonthOf(month)
	end := types.NextMonth(start)
	ind := New(FamilyPrevention, facilityID, types.MonthKey(start), start, end)

	contacts, err := c.store.ContactsRegisteredIn(ctx, facilityID, start, end)
	if err != nil {
		return nil, err
	}
	ind.Counts[CountEligibleContacts] = float64(len(contacts))

	started, err := c.store.ChemoStartedIn(ctx, facilityID, start, end)
	if err != nil {
		return nil, err
	}
	ind.Counts[CountChemoStarts] = float64(len(started))

	completed, err := c.store.ChemoCompletedIn(ctx, facilityID, start, end)
	if err != nil {
		return nil, err
	}
	ind.Counts[CountChemoCompletions] = float64(len(completed))

	// Newborn counters come from configuration until a birth registry
	// source is wired.
	newborns := float64(c.cfg.NewbornsPerMonth)
	ind.Counts[CountNewborns] = newborns
	ind.Counts[CountBCGVaccinated] = math.Floor(newborns * c.cfg.BCGCoverageRatio)

	ind.Recalculate()
	return ind, nil
}

// For derives the record for an arbitrary bucket key
func (c *Calculator) For(ctx context.Context, key Key) (*Indicator, error) {
	switch key.Family {
	case FamilyCohort:
		q, err := types.ParseQuarterKey(key.PeriodKey)
		if err != nil {
			return nil, err
		}
		return c.CohortFor(ctx, key.FacilityID, q)
	case FamilyOperational:
		m, err := types.ParseMonthKey(key.PeriodKey)
		if err != nil {
			return nil, err
		}
		return c.OperationalFor(ctx, key.FacilityID, m)
	case FamilyPrevention:
		m, err := types.ParseMonthKey(key.PeriodKey)
		if err != nil {
			return nil, err
		}
		return c.PreventionFor(ctx, key.FacilityID, m)
	}
	return nil, errInvalidFamily(key.Family)
}
