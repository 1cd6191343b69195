package indicators

import (
	"fmt"
	"math"
	"time"

	"github.com/salud-gob/procet/internal/shared/types"
)

// Family identifies one of the three indicator families
type Family string

const (
	FamilyCohort      Family = "cohort"
	FamilyOperational Family = "operational"
	FamilyPrevention  Family = "prevention"
)

// Counter names by family
const (
	// Cohort (quarterly)
	CountNewCases     = "new_cases"
	CountRetreatments = "retreatments"
	CountCured        = "cured"
	CountAbandoned    = "abandoned"
	CountDeceased     = "deceased"
	CountFailures     = "failures"
	CountTransfers    = "transfers"

	// Operational (monthly)
	CountSymptomatics       = "symptomatics"
	CountBacilloscopies     = "bacilloscopies"
	CountCasesFound         = "cases_found"
	CountContactsIdentified = "contacts_identified"
	CountContactsStudied    = "contacts_studied"
	CountDOTPatients        = "dot_patients"
	CountDOTAdherents       = "dot_adherents"
	CountMeanDiagnosisHours = "mean_diagnosis_hours"

	// Prevention (monthly)
	CountEligibleContacts = "eligible_contacts"
	CountChemoStarts      = "chemo_starts"
	CountChemoCompletions = "chemo_completions"
	CountNewborns         = "newborns"
	CountBCGVaccinated    = "bcg_vaccinated"
)

// Derived ratio names by family. Ratios are percentages with two
// decimals, re-derived from the counters on every write.
const (
	RatioSuccess     = "success_rate"
	RatioAbandonment = "abandonment_rate"
	RatioMortality   = "mortality_rate"

	RatioScreening       = "screening_index"
	RatioContactCoverage = "contact_study_coverage"
	RatioDOTAdherence    = "dot_adherence"

	RatioChemoCoverage  = "chemo_coverage"
	RatioChemoAdherence = "chemo_adherence"
	RatioBCGCoverage    = "bcg_coverage"
)

var familyCounters = map[Family][]string{
	FamilyCohort: {
		CountNewCases, CountRetreatments, CountCured, CountAbandoned,
		CountDeceased, CountFailures, CountTransfers,
	},
	FamilyOperational: {
		CountSymptomatics, CountBacilloscopies, CountCasesFound,
		CountContactsIdentified, CountContactsStudied,
		CountDOTPatients, CountDOTAdherents, CountMeanDiagnosisHours,
	},
	FamilyPrevention: {
		CountEligibleContacts, CountChemoStarts, CountChemoCompletions,
		CountNewborns, CountBCGVaccinated,
	},
}

// Key identifies one indicator record
type Key struct {
	Family     Family   `json:"family"`
	FacilityID types.ID `json:"facility_id"`
	PeriodKey  string   `json:"period_key"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Family, k.FacilityID, k.PeriodKey)
}

// Indicator is one derived record for a (family, facility, period) key.
// An all-zero record is a valid measurement of an empty bucket and is
// distinct from the record never having been computed.
type Indicator struct {
	ID          types.ID           `json:"id"`
	Family      Family             `json:"family"`
	FacilityID  types.ID           `json:"facility_id"`
	PeriodKey   string             `json:"period_key"`
	PeriodStart time.Time          `json:"period_start"`
	PeriodEnd   time.Time          `json:"period_end"`
	Counts      map[string]float64 `json:"counts"`
	Ratios      map[string]float64 `json:"ratios"`
	ComputedAt  time.Time          `json:"computed_at"`
}

// New creates an indicator with every counter of the family present
// and zero, so an empty bucket still writes a full record.
func New(family Family, facilityID types.ID, periodKey string, start, end time.Time) *Indicator {
	counts := make(map[string]float64, len(familyCounters[family]))
	for _, name := range familyCounters[family] {
		counts[name] = 0
	}
	return &Indicator{
		ID:          types.NewID(),
		Family:      family,
		FacilityID:  facilityID,
		PeriodKey:   periodKey,
		PeriodStart: start,
		PeriodEnd:   end,
		Counts:      counts,
		Ratios:      make(map[string]float64),
	}
}

// Key returns the upsert key of the record
func (i *Indicator) Key() Key {
	return Key{Family: i.Family, FacilityID: i.FacilityID, PeriodKey: i.PeriodKey}
}

// Recalculate re-derives every ratio of the family from the counters.
// Called on every store write so cached ratios can never drift from
// the counters they were derived from.
func (i *Indicator) Recalculate() {
	i.Ratios = make(map[string]float64)

	switch i.Family {
	case FamilyCohort:
		total := i.Counts[CountNewCases] + i.Counts[CountRetreatments]
		i.Ratios[RatioSuccess] = percentOf(i.Counts[CountCured], total)
		i.Ratios[RatioAbandonment] = percentOf(i.Counts[CountAbandoned], total)
		i.Ratios[RatioMortality] = percentOf(i.Counts[CountDeceased], total)

	case FamilyOperational:
		i.Ratios[RatioScreening] = percentOf(i.Counts[CountBacilloscopies], i.Counts[CountSymptomatics])
		i.Ratios[RatioContactCoverage] = percentOf(i.Counts[CountContactsStudied], i.Counts[CountContactsIdentified])
		i.Ratios[RatioDOTAdherence] = percentOf(i.Counts[CountDOTAdherents], i.Counts[CountDOTPatients])

	case FamilyPrevention:
		i.Ratios[RatioChemoCoverage] = percentOf(i.Counts[CountChemoStarts], i.Counts[CountEligibleContacts])
		i.Ratios[RatioChemoAdherence] = percentOf(i.Counts[CountChemoCompletions], i.Counts[CountChemoStarts])
		i.Ratios[RatioBCGCoverage] = percentOf(i.Counts[CountBCGVaccinated], i.Counts[CountNewborns])
	}
}

// Clone returns a deep copy, so store reads behave as snapshots
func (i *Indicator) Clone() *Indicator {
	c := *i
	c.Counts = make(map[string]float64, len(i.Counts))
	for k, v := range i.Counts {
		c.Counts[k] = v
	}
	c.Ratios = make(map[string]float64, len(i.Ratios))
	for k, v := range i.Ratios {
		c.Ratios[k] = v
	}
	return &c
}

// percentOf returns count/total as a percentage rounded to two
// decimals; zero denominator yields 0.
func percentOf(count, total float64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(count/total*10000) / 100
}
