package indicators

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/salud-gob/procet/internal/facts"
	"github.com/salud-gob/procet/internal/shared/config"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/events"
	"github.com/salud-gob/procet/internal/shared/metrics"
	"github.com/salud-gob/procet/internal/shared/types"
)

// LogDeadLetters is a dead-letter sink that only logs, used when no
// database is configured.
type LogDeadLetters struct {
	Log zerolog.Logger
}

// Record logs the dead letter
func (s LogDeadLetters) Record(ctx context.Context, dl DeadLetter) error {
	s.Log.Error().
		Str("family", string(dl.Family)).
		Str("facility_id", dl.FacilityID.String()).
		Str("period_key", dl.PeriodKey).
		Int("attempts", dl.Attempts).
		Str("last_error", dl.LastError).
		Msg("recomputation dead-lettered")
	return nil
}

// FacilityLister enumerates registered facilities for full recomputes
type FacilityLister interface {
	ListIDs(ctx context.Context) ([]types.ID, error)
}

// Dispatcher consumes upstream change events and triggers targeted
// recomputation of the affected buckets.
//
// Delivery is at-least-once: recomputation is idempotent because the
// calculator is pure and the store upserts by key, so duplicates are
// harmless. Events targeting the same bucket inside the coalesce
// window collapse into one job; jobs for the same key serialize on a
// per-key lock while distinct keys run in parallel on the worker pool.
type Dispatcher struct {
	cfg         config.EngineConfig
	calc        *Calculator
	store       Store
	factStore   facts.Store
	facilities  FacilityLister
	deadLetters DeadLetterSink
	log         zerolog.Logger

	mu      sync.Mutex
	pending map[Key]*time.Timer
	locks   map[Key]*sync.Mutex

	jobs   chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type job struct {
	key     Key
	attempt int
}

// NewDispatcher creates a dispatcher; Start must be called before
// events are handled.
func NewDispatcher(
	cfg config.EngineConfig,
	calc *Calculator,
	store Store,
	factStore facts.Store,
	facilities FacilityLister,
	deadLetters DeadLetterSink,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		calc:        calc,
		store:       store,
		factStore:   factStore,
		facilities:  facilities,
		deadLetters: deadLetters,
		log:         log.With().Str("component", "dispatcher").Logger(),
		pending:     make(map[Key]*time.Timer),
		locks:       make(map[Key]*sync.Mutex),
		jobs:        make(chan job, 256),
	}
}

// Start launches the recomputation worker pool
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)

	workers := d.cfg.RecomputeWorkers
	if workers < 1 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.log.Info().Int("workers", workers).Msg("dispatcher started")
}

// Stop cancels pending timers and waits for in-flight jobs
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	for key, timer := range d.pending {
		timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Register subscribes the dispatcher to every upstream event pattern.
// Each pattern gets its own consumer group: groups load-balance, so a
// shared group would hand events to a consumer whose pattern filters
// them out.
func (d *Dispatcher) Register(ctx context.Context, bus events.EventBus) error {
	subscriptions := []struct {
		pattern      string
		consumerName string
	}{
		{"patient.*", "procet-engine-patient"},
		{"treatment.*", "procet-engine-treatment"},
		{"contact.*", "procet-engine-contact"},
		{"chemoprophylaxis.*", "procet-engine-chemoprophylaxis"},
	}

	for _, s := range subscriptions {
		if err := bus.Subscribe(ctx, s.pattern, s.consumerName, d.HandleEvent); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent maps an upstream event to its affected buckets and
// schedules their recomputation. Malformed events are logged and
// dropped; returning nil keeps the bus from redelivering them.
func (d *Dispatcher) HandleEvent(ctx context.Context, event events.Event) error {
	metrics.RecordEventReceived(event.Kind)

	if err := event.Validate(); err != nil {
		metrics.RecordEventInvalid()
		d.log.Warn().Err(err).Str("event_id", event.ID).Str("kind", event.Kind).Msg("dropping invalid event")
		return nil
	}

	for _, key := range bucketsFor(event) {
		d.schedule(key)
	}
	return nil
}

// bucketsFor returns the bucket keys affected by an event
func bucketsFor(event events.Event) []Key {
	facilityID := event.FacilityID
	date := event.EffectiveDate
	quarterKey := types.QuarterOf(date).Key()
	monthKey := types.MonthKey(date)

	switch event.Kind {
	case events.KindPatientDiagnosed, events.KindPatientStateChanged, events.KindTreatmentClosed:
		return []Key{
			{Family: FamilyCohort, FacilityID: facilityID, PeriodKey: quarterKey},
		}
	case events.KindTreatmentStarted:
		return []Key{
			{Family: FamilyCohort, FacilityID: facilityID, PeriodKey: quarterKey},
			{Family: FamilyOperational, FacilityID: facilityID, PeriodKey: monthKey},
		}
	case events.KindContactRegistered, events.KindContactStudyUpdated:
		return []Key{
			{Family: FamilyOperational, FacilityID: facilityID, PeriodKey: monthKey},
			{Family: FamilyPrevention, FacilityID: facilityID, PeriodKey: monthKey},
		}
	case events.KindChemoChanged:
		return []Key{
			{Family: FamilyPrevention, FacilityID: facilityID, PeriodKey: monthKey},
		}
	}
	return nil
}

// schedule coalesces the bucket into a pending job. The first event
// arms a timer for the quiescence window; later events targeting the
// same key inside the window are absorbed.
func (d *Dispatcher) schedule(key Key) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.pending[key]; exists {
		metrics.RecordEventCoalesced()
		return
	}

	d.pending[key] = time.AfterFunc(d.cfg.EventCoalesceWindow, func() {
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
		d.enqueue(job{key: key})
	})
}

func (d *Dispatcher) enqueue(j job) {
	select {
	case d.jobs <- j:
	case <-d.ctx.Done():
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.jobs:
			d.run(j)
		case <-d.ctx.Done():
			return
		}
	}
}

// run executes one recomputation under the per-key lock and the
// configured deadline. Retriable failures re-queue with exponential
// backoff; past the cap, or on a non-retriable calculator failure,
// the job surfaces to the dead-letter sink.
func (d *Dispatcher) run(j job) {
	lock := d.keyLock(j.key)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	err := d.computeOnce(d.ctx, j.key)
	if err == nil {
		metrics.RecordRecomputation(string(j.key.Family), "success", time.Since(start))
		return
	}

	metrics.RecordRecomputation(string(j.key.Family), "failure", time.Since(start))

	if errors.IsRetriable(err) {
		d.retry(j, err)
		return
	}

	d.log.Error().Err(err).Str("bucket", j.key.String()).Msg("recomputation failed, dead-lettering")
	d.deadLetter(j, err)
}

// computeOnce derives and stores one bucket. The store is not mutated
// when the deadline fires before the derivation completes.
func (d *Dispatcher) computeOnce(parent context.Context, key Key) error {
	ctx, cancel := context.WithTimeout(parent, d.cfg.RecomputeDeadline)
	defer cancel()

	ind, err := d.calc.For(ctx, key)
	if err != nil {
		return classify(ctx, err, key)
	}

	if err := d.store.Put(ctx, ind); err != nil {
		return classify(ctx, err, key)
	}
	return nil
}

// classify maps context expiry to DeadlineExceeded and wraps anything
// unrecognized as a calculator failure.
func classify(ctx context.Context, err error, key Key) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.DeadlineExceeded("recomputation of " + key.String())
	}
	if errors.IsRetriable(err) {
		return err
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	return errors.CalculatorFailure(err, key.String())
}

func (d *Dispatcher) retry(j job, cause error) {
	backoff := d.cfg.RetryBackoffBase << j.attempt
	if backoff <= 0 || backoff > d.cfg.RetryBackoffMax {
		d.log.Error().Err(cause).Str("bucket", j.key.String()).Int("attempts", j.attempt+1).
			Msg("retry budget exhausted, dead-lettering")
		d.deadLetter(j, cause)
		return
	}

	d.log.Warn().Err(cause).Str("bucket", j.key.String()).Dur("backoff", backoff).
		Msg("recomputation re-queued")

	next := job{key: j.key, attempt: j.attempt + 1}
	time.AfterFunc(backoff, func() {
		d.enqueue(next)
	})
}

func (d *Dispatcher) deadLetter(j job, cause error) {
	metrics.RecordDeadLetter()

	dl := DeadLetter{
		ID:         types.NewID(),
		Family:     j.key.Family,
		FacilityID: j.key.FacilityID,
		PeriodKey:  j.key.PeriodKey,
		Attempts:   j.attempt + 1,
		LastError:  cause.Error(),
		FailedAt:   time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.deadLetters.Record(ctx, dl); err != nil {
		d.log.Error().Err(err).Str("bucket", j.key.String()).Msg("failed to record dead letter")
	}
}

func (d *Dispatcher) keyLock(key Key) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	lock, ok := d.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[key] = lock
	}
	return lock
}

// RecomputeAll walks every facility and every bucket covered by the
// fact range up to asOf and recomputes each one. Used on startup after
// fact-source outages and by the nightly consistency job. Errors are
// isolated per bucket; the walk continues.
func (d *Dispatcher) RecomputeAll(ctx context.Context, asOf time.Time) error {
	facilityIDs, err := d.facilities.ListIDs(ctx)
	if err != nil {
		return err
	}

	from, to, ok, err := d.factStore.FactRange(ctx)
	if err != nil {
		return err
	}
	if !ok {
		d.log.Info().Msg("fact store empty, nothing to recompute")
		return nil
	}
	if asOf.Before(to) {
		to = asOf
	}

	var keys []Key
	for _, facilityID := range facilityIDs {
		for _, q := range types.QuartersBetween(from, to) {
			keys = append(keys, Key{Family: FamilyCohort, FacilityID: facilityID, PeriodKey: q.Key()})
		}
		for _, m := range types.MonthsBetween(from, to) {
			keys = append(keys, Key{Family: FamilyOperational, FacilityID: facilityID, PeriodKey: types.MonthKey(m)})
			keys = append(keys, Key{Family: FamilyPrevention, FacilityID: facilityID, PeriodKey: types.MonthKey(m)})
		}
	}

	workers := d.cfg.RecomputeWorkers
	if workers < 1 {
		workers = 1
	}

	keyCh := make(chan Key)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range keyCh {
				lock := d.keyLock(key)
				lock.Lock()
				start := time.Now()
				if err := d.computeOnce(ctx, key); err != nil {
					metrics.RecordRecomputation(string(key.Family), "failure", time.Since(start))
					d.log.Error().Err(err).Str("bucket", key.String()).Msg("full recompute: bucket failed")
				} else {
					metrics.RecordRecomputation(string(key.Family), "success", time.Since(start))
				}
				lock.Unlock()
			}
		}()
	}

	for _, key := range keys {
		select {
		case keyCh <- key:
		case <-ctx.Done():
			close(keyCh)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(keyCh)
	wg.Wait()

	d.log.Info().Int("buckets", len(keys)).Time("as_of", asOf).Msg("full recompute finished")
	return nil
}
