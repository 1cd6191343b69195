package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salud-gob/procet/internal/facts"
	"github.com/salud-gob/procet/internal/shared/config"
	"github.com/salud-gob/procet/internal/shared/types"
)

func testAlertConfig() config.EngineConfig {
	return config.EngineConfig{
		AlertTickInterval:        time.Minute,
		OverdueAlertDue:          72 * time.Hour,
		CriticalAlertDue:         24 * time.Hour,
		TreatmentEndingWindow:    7 * 24 * time.Hour,
		ContactStudyOverdueAfter: 7 * 24 * time.Hour,
	}
}

func newTestEngine(factStore facts.Store, repo Repository) *Engine {
	return NewEngine(testAlertConfig(), factStore, repo, zerolog.Nop())
}

func TestTickTreatmentEndingSoon(t *testing.T) {
	factStore := facts.NewMemoryStore()
	repo := NewMemoryRepository()
	engine := newTestEngine(factStore, repo)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	facilityID := types.NewID()
	treatmentID := types.NewID()

	factStore.AddTreatment(facts.Treatment{
		ID: treatmentID, PatientID: types.NewID(), FacilityID: facilityID,
		StartDate:       now.AddDate(0, -6, 0),
		ExpectedEndDate: now.Add(5 * 24 * time.Hour),
	})
	// Outside the look-ahead window
	factStore.AddTreatment(facts.Treatment{
		ID: types.NewID(), PatientID: types.NewID(), FacilityID: facilityID,
		StartDate:       now.AddDate(0, -1, 0),
		ExpectedEndDate: now.Add(30 * 24 * time.Hour),
	})

	require.NoError(t, engine.Tick(context.Background(), now))

	open := false
	alerts, total, err := repo.List(context.Background(), ListFilter{Resolved: &open})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	a := alerts[0]
	assert.Equal(t, KindExpiration, a.Kind)
	assert.Equal(t, SeverityMedium, a.Severity)
	assert.Equal(t, facilityID, a.FacilityID)
	assert.Equal(t, treatmentID, a.EntityID)
	assert.Equal(t, Fingerprint("treatment-ending", treatmentID), a.Fingerprint)
	assert.True(t, a.DueAt.Equal(now.Add(5*24*time.Hour)), "due at the expected end date")
}

func TestTickContactStudyOverdue(t *testing.T) {
	factStore := facts.NewMemoryStore()
	repo := NewMemoryRepository()
	engine := newTestEngine(factStore, repo)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	facilityID := types.NewID()
	contactID := types.NewID()

	factStore.AddContact(facts.Contact{
		ID: contactID, PatientID: types.NewID(), FacilityID: facilityID,
		StudyState:   facts.StudyPending,
		RegisteredAt: now.Add(-10 * 24 * time.Hour),
	})
	// Recent enough to still be fine
	factStore.AddContact(facts.Contact{
		ID: types.NewID(), PatientID: types.NewID(), FacilityID: facilityID,
		StudyState:   facts.StudyPending,
		RegisteredAt: now.Add(-2 * 24 * time.Hour),
	})
	// Already studied
	studied := now.Add(-1 * 24 * time.Hour)
	factStore.AddContact(facts.Contact{
		ID: types.NewID(), PatientID: types.NewID(), FacilityID: facilityID,
		StudyState:   facts.StudyComplete,
		RegisteredAt: now.Add(-20 * 24 * time.Hour), StudiedAt: &studied,
	})

	require.NoError(t, engine.Tick(context.Background(), now))

	alerts, total, err := repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, KindFollowUp, alerts[0].Kind)
	assert.Equal(t, SeverityLow, alerts[0].Severity)
	assert.Equal(t, contactID, alerts[0].EntityID)
}

func TestTickChemoOverdue(t *testing.T) {
	factStore := facts.NewMemoryStore()
	repo := NewMemoryRepository()
	engine := newTestEngine(factStore, repo)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	facilityID := types.NewID()
	courseID := types.NewID()

	factStore.AddChemo(facts.Chemoprophylaxis{
		ID: courseID, ContactID: types.NewID(), FacilityID: facilityID,
		State:           facts.ChemoInProgress,
		StartDate:       now.AddDate(0, -7, 0),
		ExpectedEndDate: now.Add(-3 * 24 * time.Hour),
	})
	// Completed courses never trigger the rule
	completed := now.Add(-1 * 24 * time.Hour)
	factStore.AddChemo(facts.Chemoprophylaxis{
		ID: types.NewID(), ContactID: types.NewID(), FacilityID: facilityID,
		State:           facts.ChemoCompleted,
		StartDate:       now.AddDate(0, -7, 0),
		ExpectedEndDate: now.Add(-3 * 24 * time.Hour),
		CompletedAt:     &completed,
	})

	require.NoError(t, engine.Tick(context.Background(), now))

	alerts, total, err := repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, KindFollowUp, alerts[0].Kind)
	assert.Equal(t, SeverityMedium, alerts[0].Severity)
	assert.Equal(t, courseID, alerts[0].EntityID)
	assert.True(t, alerts[0].DueAt.Equal(now.Add(72*time.Hour)))
}

func TestTickDeduplicatesOpenAlerts(t *testing.T) {
	factStore := facts.NewMemoryStore()
	repo := NewMemoryRepository()
	engine := newTestEngine(factStore, repo)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	factStore.AddTreatment(facts.Treatment{
		ID: types.NewID(), PatientID: types.NewID(), FacilityID: types.NewID(),
		StartDate:       now.AddDate(0, -6, 0),
		ExpectedEndDate: now.Add(5 * 24 * time.Hour),
	})

	// The same condition holds across consecutive ticks; only one open
	// alert may exist for it.
	require.NoError(t, engine.Tick(context.Background(), now))
	require.NoError(t, engine.Tick(context.Background(), now.Add(time.Minute)))
	require.NoError(t, engine.Tick(context.Background(), now.Add(2*time.Minute)))

	_, total, err := repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestResolvedAlertRecreatesWhenConditionPersists(t *testing.T) {
	factStore := facts.NewMemoryStore()
	repo := NewMemoryRepository()
	engine := newTestEngine(factStore, repo)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	factStore.AddTreatment(facts.Treatment{
		ID: types.NewID(), PatientID: types.NewID(), FacilityID: types.NewID(),
		StartDate:       now.AddDate(0, -6, 0),
		ExpectedEndDate: now.Add(5 * 24 * time.Hour),
	})

	require.NoError(t, engine.Tick(context.Background(), now))

	alerts, _, err := repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	actor := types.NewID()
	require.NoError(t, repo.Resolve(context.Background(), alerts[0].ID, actor, "handled", now.Add(time.Hour)))

	// Resolution is final; a later tick with the condition still true
	// raises a fresh alert rather than reopening the old one.
	require.NoError(t, engine.Tick(context.Background(), now.Add(2*time.Hour)))

	all, total, err := repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	var openCount int
	for _, a := range all {
		if !a.Resolved() {
			openCount++
			assert.NotEqual(t, alerts[0].ID, a.ID)
		}
	}
	assert.Equal(t, 1, openCount)
}

func TestResolveIsFinal(t *testing.T) {
	repo := NewMemoryRepository()
	alert := &Alert{
		ID: types.NewID(), Kind: KindExpiration, Severity: SeverityMedium,
		FacilityID: types.NewID(), EntityID: types.NewID(),
		Fingerprint: "rule=test,x", CreatedAt: time.Now(), DueAt: time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), alert))

	actor := types.NewID()
	require.NoError(t, repo.Resolve(context.Background(), alert.ID, actor, "done", time.Now()))
	assert.Error(t, repo.Resolve(context.Background(), alert.ID, actor, "again", time.Now()))
}

func TestEscalateOverdue(t *testing.T) {
	factStore := facts.NewMemoryStore()
	repo := NewMemoryRepository()
	engine := newTestEngine(factStore, repo)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	overdue := &Alert{
		ID: types.NewID(), Kind: KindFollowUp, Severity: SeverityLow,
		FacilityID: types.NewID(), EntityID: types.NewID(),
		Fingerprint: "rule=contact-overdue,x",
		CreatedAt:   now.Add(-5 * 24 * time.Hour),
		DueAt:       now.Add(-time.Hour),
	}
	require.NoError(t, repo.Create(context.Background(), overdue))

	require.NoError(t, engine.Tick(context.Background(), now))

	got, err := repo.Get(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, got.Severity)
	assert.True(t, got.DueAt.Equal(now.Add(72*time.Hour)), "due date advances so each level bumps once")

	// The next tick inside the new due window must not bump again
	require.NoError(t, engine.Tick(context.Background(), now.Add(time.Hour)))
	got, err = repo.Get(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, got.Severity)
}

func TestEscalationStopsAtCritical(t *testing.T) {
	factStore := facts.NewMemoryStore()
	repo := NewMemoryRepository()
	engine := newTestEngine(factStore, repo)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	critical := &Alert{
		ID: types.NewID(), Kind: KindResult, Severity: SeverityCritical,
		FacilityID: types.NewID(), EntityID: types.NewID(),
		Fingerprint: "rule=critical-result,x",
		CreatedAt:   now.Add(-3 * 24 * time.Hour),
		DueAt:       now.Add(-time.Hour),
	}
	require.NoError(t, repo.Create(context.Background(), critical))

	require.NoError(t, engine.Tick(context.Background(), now))

	got, err := repo.Get(context.Background(), critical.ID)
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.True(t, got.DueAt.Equal(critical.DueAt), "critical alerts are not touched")
}

func TestRaiseCriticalResult(t *testing.T) {
	factStore := facts.NewMemoryStore()
	repo := NewMemoryRepository()
	engine := newTestEngine(factStore, repo)

	facilityID := types.NewID()
	sourceID := types.NewID()

	a, err := engine.RaiseCriticalResult(context.Background(), facilityID, sourceID, "MDR strain confirmed")
	require.NoError(t, err)
	assert.Equal(t, KindResult, a.Kind)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, "MDR strain confirmed", a.Description)

	// The same source signalled twice returns the open alert
	again, err := engine.RaiseCriticalResult(context.Background(), facilityID, sourceID, "MDR strain confirmed")
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)

	_, total, err := repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestTickSurvivesFactSourceOutage(t *testing.T) {
	factStore := facts.NewMemoryStore()
	factStore.Err = context.DeadlineExceeded
	repo := NewMemoryRepository()
	engine := newTestEngine(factStore, repo)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	overdue := &Alert{
		ID: types.NewID(), Kind: KindFollowUp, Severity: SeverityLow,
		FacilityID: types.NewID(), EntityID: types.NewID(),
		Fingerprint: "rule=contact-overdue,y",
		CreatedAt:   now.Add(-5 * 24 * time.Hour),
		DueAt:       now.Add(-time.Hour),
	}
	require.NoError(t, repo.Create(context.Background(), overdue))

	// Rule failures are isolated; the escalation pass still runs
	require.NoError(t, engine.Tick(context.Background(), now))

	got, err := repo.Get(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, got.Severity)
}
