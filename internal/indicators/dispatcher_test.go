package indicators

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salud-gob/procet/internal/facts"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/events"
	"github.com/salud-gob/procet/internal/shared/types"
)

// countingStore wraps the memory store and counts writes per key
type countingStore struct {
	*MemoryStore
	mu   sync.Mutex
	puts map[Key]int
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: NewMemoryStore(), puts: make(map[Key]int)}
}

func (s *countingStore) Put(ctx context.Context, ind *Indicator) error {
	s.mu.Lock()
	s.puts[ind.Key()]++
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, ind)
}

func (s *countingStore) putsFor(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[key]
}

func (s *countingStore) totalPuts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.puts {
		n += c
	}
	return n
}

// captureSink records dead letters for assertions
type captureSink struct {
	mu      sync.Mutex
	letters []DeadLetter
}

func (s *captureSink) Record(ctx context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, dl)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.letters)
}

func (s *captureSink) first() DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.letters[0]
}

type staticFacilities []types.ID

func (s staticFacilities) ListIDs(ctx context.Context) ([]types.ID, error) {
	return s, nil
}

func newTestDispatcher(factStore facts.Store, store Store, sink DeadLetterSink, facilities FacilityLister) *Dispatcher {
	cfg := testEngineConfig()
	calc := NewCalculator(cfg, factStore, nil)
	return NewDispatcher(cfg, calc, store, factStore, facilities, sink, zerolog.Nop())
}

func TestDispatcherCoalescesEvents(t *testing.T) {
	factStore := facts.NewMemoryStore()
	store := newCountingStore()
	d := newTestDispatcher(factStore, store, &captureSink{}, staticFacilities{})
	d.Start(context.Background())
	defer d.Stop()

	facilityID := types.NewID()
	effective := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	// Three diagnoses inside the quiescence window target the same
	// quarter bucket and must collapse into one recomputation.
	for i := 0; i < 3; i++ {
		event := events.NewEvent(events.KindPatientDiagnosed, "test", facilityID, types.NewID(), effective)
		require.NoError(t, d.HandleEvent(context.Background(), event))
	}

	key := Key{Family: FamilyCohort, FacilityID: facilityID, PeriodKey: "2025-Q1"}
	assert.Eventually(t, func() bool {
		return store.putsFor(key) > 0
	}, 2*time.Second, 5*time.Millisecond)

	// Give any spurious extra jobs time to surface
	time.Sleep(5 * testEngineConfig().EventCoalesceWindow)
	assert.Equal(t, 1, store.putsFor(key), "coalesced burst must compute exactly once")
}

func TestDispatcherDropsInvalidEvents(t *testing.T) {
	factStore := facts.NewMemoryStore()
	store := newCountingStore()
	d := newTestDispatcher(factStore, store, &captureSink{}, staticFacilities{})
	d.Start(context.Background())
	defer d.Stop()

	invalid := events.Event{
		ID:   "evt-1",
		Kind: "patient.diagnosed",
		// facility, entity and effective date all missing
	}
	require.NoError(t, d.HandleEvent(context.Background(), invalid), "invalid events are dropped, not redelivered")

	unknown := events.NewEvent("inventory.updated", "test", types.NewID(), types.NewID(), time.Now())
	require.NoError(t, d.HandleEvent(context.Background(), unknown))

	time.Sleep(5 * testEngineConfig().EventCoalesceWindow)
	assert.Equal(t, 0, store.totalPuts())
}

func TestDispatcherFansOutTreatmentStart(t *testing.T) {
	factStore := facts.NewMemoryStore()
	store := newCountingStore()
	d := newTestDispatcher(factStore, store, &captureSink{}, staticFacilities{})
	d.Start(context.Background())
	defer d.Stop()

	facilityID := types.NewID()
	effective := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	event := events.NewEvent(events.KindTreatmentStarted, "test", facilityID, types.NewID(), effective)
	require.NoError(t, d.HandleEvent(context.Background(), event))

	cohortKey := Key{Family: FamilyCohort, FacilityID: facilityID, PeriodKey: "2025-Q1"}
	operationalKey := Key{Family: FamilyOperational, FacilityID: facilityID, PeriodKey: "2025-02-01"}

	assert.Eventually(t, func() bool {
		return store.putsFor(cohortKey) == 1 && store.putsFor(operationalKey) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcherRetriesThenDeadLetters(t *testing.T) {
	factStore := facts.NewMemoryStore()
	factStore.Err = errors.FactSourceUnavailable(context.DeadlineExceeded)

	store := newCountingStore()
	sink := &captureSink{}
	d := newTestDispatcher(factStore, store, sink, staticFacilities{})
	d.Start(context.Background())
	defer d.Stop()

	facilityID := types.NewID()
	event := events.NewEvent(events.KindPatientDiagnosed, "test", facilityID, types.NewID(),
		time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, d.HandleEvent(context.Background(), event))

	// Backoff doubles from the base until it passes the cap, then the
	// job surfaces to the dead-letter sink.
	assert.Eventually(t, func() bool {
		return sink.count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	dl := sink.first()
	assert.Equal(t, FamilyCohort, dl.Family)
	assert.Equal(t, facilityID, dl.FacilityID)
	assert.Equal(t, "2025-Q1", dl.PeriodKey)
	assert.Greater(t, dl.Attempts, 1, "retriable failures retry before dead-lettering")
	assert.Equal(t, 0, store.totalPuts(), "the store is never touched on failure")
}

func TestDispatcherRecomputeAll(t *testing.T) {
	factStore := facts.NewMemoryStore()
	f1 := types.NewID()
	f2 := types.NewID()

	factStore.AddPatient(facts.Patient{
		ID: types.NewID(), FacilityID: f1,
		State: facts.PatientStateActive,
		DiagnosisDate: time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC),
	})
	factStore.AddContact(facts.Contact{
		ID: types.NewID(), FacilityID: f2,
		StudyState:   facts.StudyPending,
		RegisteredAt: time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
	})

	store := newCountingStore()
	d := newTestDispatcher(factStore, store, &captureSink{}, staticFacilities{f1, f2})

	asOf := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, d.RecomputeAll(context.Background(), asOf))

	// Fact range spans Feb..Mar 2025: one quarter and two months per
	// facility, monthly families twice over.
	assert.Equal(t, 10, store.totalPuts())

	got, err := store.Get(context.Background(), Key{Family: FamilyCohort, FacilityID: f1, PeriodKey: "2025-Q1"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Counts[CountNewCases])

	got, err = store.Get(context.Background(), Key{Family: FamilyPrevention, FacilityID: f2, PeriodKey: "2025-03-01"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Counts[CountEligibleContacts])
}

// recordingBus captures subscriptions for assertions
type recordingBus struct {
	subs map[string]string // pattern -> consumer group
}

func (b *recordingBus) Publish(ctx context.Context, event events.Event) error { return nil }

func (b *recordingBus) Subscribe(ctx context.Context, pattern, consumerName string, handler events.Handler) error {
	b.subs[pattern] = consumerName
	return nil
}

func (b *recordingBus) Close()        {}
func (b *recordingBus) Health() error { return nil }

func TestDispatcherRegisterUsesDistinctConsumerGroups(t *testing.T) {
	d := newTestDispatcher(facts.NewMemoryStore(), newCountingStore(), &captureSink{}, staticFacilities{})
	bus := &recordingBus{subs: make(map[string]string)}
	require.NoError(t, d.Register(context.Background(), bus))

	require.Len(t, bus.subs, 4)

	// Persistent subscription groups load-balance their events, so two
	// patterns sharing a group would each consume and drop the other's
	// kinds. Every pattern must own its group.
	seen := make(map[string]string)
	for pattern, consumer := range bus.subs {
		if prev, dup := seen[consumer]; dup {
			t.Fatalf("consumer group %s shared by %s and %s", consumer, prev, pattern)
		}
		seen[consumer] = pattern
	}

	// Every engine kind is covered by exactly one subscribed pattern
	for _, kind := range []string{
		events.KindPatientDiagnosed, events.KindPatientStateChanged,
		events.KindTreatmentStarted, events.KindTreatmentClosed,
		events.KindContactRegistered, events.KindContactStudyUpdated,
		events.KindChemoChanged,
	} {
		matches := 0
		for pattern := range bus.subs {
			if strings.HasPrefix(kind, strings.TrimSuffix(pattern, "*")) {
				matches++
			}
		}
		assert.Equal(t, 1, matches, "kind %s must match exactly one pattern", kind)
	}
}

func TestDispatcherConcurrentRecomputeKeepsLatestSnapshot(t *testing.T) {
	factStore := facts.NewMemoryStore()
	store := newCountingStore()
	facilityID := types.NewID()
	d := newTestDispatcher(factStore, store, &captureSink{}, staticFacilities{facilityID})
	d.Start(context.Background())
	defer d.Stop()

	effective := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	key := Key{Family: FamilyCohort, FacilityID: facilityID, PeriodKey: "2025-Q1"}

	factStore.AddPatient(facts.Patient{
		ID: types.NewID(), FacilityID: facilityID,
		State: facts.PatientStateActive, DiagnosisDate: effective,
	})
	require.NoError(t, d.HandleEvent(context.Background(),
		events.NewEvent(events.KindPatientDiagnosed, "test", facilityID, types.NewID(), effective)))

	assert.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), key)
		return err == nil && got.Counts[CountNewCases] == 1
	}, 2*time.Second, 5*time.Millisecond)

	// A second diagnosis lands, then a full walk and a fresh event race
	// on the same bucket. Serialized writes must leave the record equal
	// to a derivation of the latest snapshot, never a stale overwrite.
	factStore.AddPatient(facts.Patient{
		ID: types.NewID(), FacilityID: facilityID,
		State: facts.PatientStateDischarged, DiagnosisDate: effective.AddDate(0, 0, 5),
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = d.RecomputeAll(context.Background(), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	}()
	require.NoError(t, d.HandleEvent(context.Background(),
		events.NewEvent(events.KindPatientDiagnosed, "test", facilityID, types.NewID(), effective)))
	wg.Wait()

	assert.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), key)
		return err == nil && got.Counts[CountNewCases] == 2
	}, 2*time.Second, 5*time.Millisecond)

	calc := NewCalculator(testEngineConfig(), factStore, nil)
	want, err := calc.For(context.Background(), key)
	require.NoError(t, err)
	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, want.Counts, got.Counts)
	assert.Equal(t, want.Ratios, got.Ratios)
}

func TestDispatcherRecomputeAllEmptyFactStore(t *testing.T) {
	store := newCountingStore()
	d := newTestDispatcher(facts.NewMemoryStore(), store, &captureSink{}, staticFacilities{types.NewID()})

	require.NoError(t, d.RecomputeAll(context.Background(), time.Now()))
	assert.Equal(t, 0, store.totalPuts())
}
