package facts

import (
	"time"

	"github.com/salud-gob/procet/internal/shared/types"
)

// PatientState defines the clinical state of a patient
type PatientState string

const (
	PatientStateActive     PatientState = "active"
	PatientStateSuspended  PatientState = "suspended"
	PatientStateDischarged PatientState = "discharged"
	PatientStateAbandoned  PatientState = "abandoned"
	PatientStateDeceased   PatientState = "deceased"
)

// TBType defines the localization of the disease
type TBType string

const (
	TBTypePulmonary      TBType = "pulmonary"
	TBTypeExtrapulmonary TBType = "extrapulmonary"
	TBTypeMixed          TBType = "mixed"
)

// TreatmentOutcome defines the final outcome of a closed treatment
type TreatmentOutcome string

const (
	OutcomeCure     TreatmentOutcome = "cure"
	OutcomeComplete TreatmentOutcome = "complete"
	OutcomeDeath    TreatmentOutcome = "death"
	OutcomeFailure  TreatmentOutcome = "failure"
	OutcomeAbandon  TreatmentOutcome = "abandon"
	OutcomeTransfer TreatmentOutcome = "transfer"
	OutcomeOngoing  TreatmentOutcome = "ongoing"
)

// ContactStudyState defines the progress of a contact study
type ContactStudyState string

const (
	StudyPending    ContactStudyState = "pending"
	StudyInProgress ContactStudyState = "in_progress"
	StudyComplete   ContactStudyState = "complete"
)

// ChemoState defines the state of a chemoprophylaxis course
type ChemoState string

const (
	ChemoPending    ChemoState = "pending"
	ChemoInProgress ChemoState = "in_progress"
	ChemoCompleted  ChemoState = "completed"
	ChemoSuspended  ChemoState = "suspended"
	ChemoAbandoned  ChemoState = "abandoned"
)

// Patient is the read-only projection of an index case
type Patient struct {
	ID            types.ID     `json:"id"`
	FacilityID    types.ID     `json:"facility_id"`
	RUT           types.RUT    `json:"rut"`
	FullName      string       `json:"full_name"`
	State         PatientState `json:"state"`
	TBType        TBType       `json:"tb_type"`
	PriorityGroup string       `json:"priority_group,omitempty"`
	DiagnosisDate time.Time    `json:"diagnosis_date"`

	// TreatmentCount is the number of treatments registered for the
	// patient, populated by the adapter for retreatment detection.
	TreatmentCount int `json:"treatment_count"`
}

// Treatment is the read-only projection of a drug treatment course
type Treatment struct {
	ID              types.ID          `json:"id"`
	PatientID       types.ID          `json:"patient_id"`
	FacilityID      types.ID          `json:"facility_id"`
	Scheme          string            `json:"scheme"`
	StartDate       time.Time         `json:"start_date"`
	ExpectedEndDate time.Time         `json:"expected_end_date"`
	ClosedAt        *time.Time        `json:"closed_at,omitempty"`
	Outcome         *TreatmentOutcome `json:"outcome,omitempty"`
}

// Ongoing reports whether the treatment is still open
func (t Treatment) Ongoing() bool {
	return t.ClosedAt == nil
}

// Contact is the read-only projection of a household contact
type Contact struct {
	ID           types.ID          `json:"id"`
	PatientID    types.ID          `json:"patient_id"`
	FacilityID   types.ID          `json:"facility_id"`
	FullName     string            `json:"full_name"`
	Relationship string            `json:"relationship,omitempty"`
	StudyState   ContactStudyState `json:"study_state"`
	RegisteredAt time.Time         `json:"registered_at"`
	StudiedAt    *time.Time        `json:"studied_at,omitempty"`
}

// Chemoprophylaxis is the read-only projection of a preventive course
type Chemoprophylaxis struct {
	ID              types.ID   `json:"id"`
	ContactID       types.ID   `json:"contact_id"`
	FacilityID      types.ID   `json:"facility_id"`
	State           ChemoState `json:"state"`
	StartDate       time.Time  `json:"start_date"`
	ExpectedEndDate time.Time  `json:"expected_end_date"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}
