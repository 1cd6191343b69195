package facts

import (
	"context"
	"sync"
	"time"

	"github.com/salud-gob/procet/internal/shared/types"
)

// MemoryStore is an in-memory fact store used in tests and as the
// demo source when no transactional database is wired.
type MemoryStore struct {
	mu         sync.RWMutex
	patients   []Patient
	treatments []Treatment
	contacts   []Contact
	chemo      []Chemoprophylaxis

	// Err, when set, is returned by every query to simulate a
	// fact source outage.
	Err error
}

// NewMemoryStore creates an empty in-memory fact store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ Store = (*MemoryStore)(nil)

// AddPatient adds a patient fact
func (s *MemoryStore) AddPatient(p Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients = append(s.patients, p)
}

// AddTreatment adds a treatment fact
func (s *MemoryStore) AddTreatment(t Treatment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.treatments = append(s.treatments, t)
	for i := range s.patients {
		if s.patients[i].ID == t.PatientID {
			s.patients[i].TreatmentCount++
		}
	}
}

// AddContact adds a contact fact
func (s *MemoryStore) AddContact(c Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = append(s.contacts, c)
}

// AddChemo adds a chemoprophylaxis fact
func (s *MemoryStore) AddChemo(c Chemoprophylaxis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chemo = append(s.chemo, c)
}

// SetPatientState updates a patient's clinical state
func (s *MemoryStore) SetPatientState(id types.ID, state PatientState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.patients {
		if s.patients[i].ID == id {
			s.patients[i].State = state
		}
	}
}

// CloseTreatment closes a treatment with an outcome
func (s *MemoryStore) CloseTreatment(id types.ID, closedAt time.Time, outcome TreatmentOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.treatments {
		if s.treatments[i].ID == id {
			at := closedAt
			s.treatments[i].ClosedAt = &at
			s.treatments[i].Outcome = &outcome
		}
	}
}

// PatientsDiagnosedIn returns patients diagnosed in [from, to)
func (s *MemoryStore) PatientsDiagnosedIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []Patient
	for _, p := range s.patients {
		if p.FacilityID == facilityID && inRange(p.DiagnosisDate, from, to) {
			out = append(out, p)
		}
	}
	return out, nil
}

// TreatmentsStartingIn returns treatments starting in [from, to)
func (s *MemoryStore) TreatmentsStartingIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Treatment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []Treatment
	for _, t := range s.treatments {
		if t.FacilityID == facilityID && inRange(t.StartDate, from, to) {
			out = append(out, t)
		}
	}
	return out, nil
}

// ContactsRegisteredIn returns contacts registered in [from, to)
func (s *MemoryStore) ContactsRegisteredIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []Contact
	for _, c := range s.contacts {
		if c.FacilityID == facilityID && inRange(c.RegisteredAt, from, to) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ChemoStartedIn returns chemoprophylaxis courses started in [from, to)
func (s *MemoryStore) ChemoStartedIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Chemoprophylaxis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []Chemoprophylaxis
	for _, c := range s.chemo {
		if c.FacilityID == facilityID && inRange(c.StartDate, from, to) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ChemoCompletedIn returns chemoprophylaxis courses completed in [from, to)
func (s *MemoryStore) ChemoCompletedIn(ctx context.Context, facilityID types.ID, from, to time.Time) ([]Chemoprophylaxis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []Chemoprophylaxis
	for _, c := range s.chemo {
		if c.FacilityID == facilityID && c.CompletedAt != nil && inRange(*c.CompletedAt, from, to) {
			out = append(out, c)
		}
	}
	return out, nil
}

// OngoingTreatments returns every open treatment
func (s *MemoryStore) OngoingTreatments(ctx context.Context) ([]Treatment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []Treatment
	for _, t := range s.treatments {
		if t.Ongoing() {
			out = append(out, t)
		}
	}
	return out, nil
}

// TreatmentsEndingBetween returns open treatments with expected end in [from, to]
func (s *MemoryStore) TreatmentsEndingBetween(ctx context.Context, from, to time.Time) ([]Treatment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []Treatment
	for _, t := range s.treatments {
		if t.Ongoing() && !t.ExpectedEndDate.Before(from) && !t.ExpectedEndDate.After(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

// PendingContactStudiesOlderThan returns pending studies registered on or before cutoff
func (s *MemoryStore) PendingContactStudiesOlderThan(ctx context.Context, cutoff time.Time) ([]Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []Contact
	for _, c := range s.contacts {
		if c.StudyState == StudyPending && !c.RegisteredAt.After(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

// OverdueChemoAsOf returns in-progress courses whose planned end has passed
func (s *MemoryStore) OverdueChemoAsOf(ctx context.Context, asOf time.Time) ([]Chemoprophylaxis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []Chemoprophylaxis
	for _, c := range s.chemo {
		if c.State == ChemoInProgress && c.ExpectedEndDate.Before(asOf) {
			out = append(out, c)
		}
	}
	return out, nil
}

// FactRange returns the earliest and latest effective fact dates
func (s *MemoryStore) FactRange(ctx context.Context) (time.Time, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Err != nil {
		return time.Time{}, time.Time{}, false, s.Err
	}

	var from, to time.Time
	ok := false
	add := func(d time.Time) {
		if !ok {
			from, to, ok = d, d, true
			return
		}
		if d.Before(from) {
			from = d
		}
		if d.After(to) {
			to = d
		}
	}

	for _, p := range s.patients {
		add(p.DiagnosisDate)
	}
	for _, t := range s.treatments {
		add(t.StartDate)
	}
	for _, c := range s.contacts {
		add(c.RegisteredAt)
	}
	for _, c := range s.chemo {
		add(c.StartDate)
	}

	return from, to, ok, nil
}

func inRange(d, from, to time.Time) bool {
	return !d.Before(from) && d.Before(to)
}
