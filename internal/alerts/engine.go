package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/salud-gob/procet/internal/facts"
	"github.com/salud-gob/procet/internal/shared/config"
	"github.com/salud-gob/procet/internal/shared/metrics"
	"github.com/salud-gob/procet/internal/shared/types"
)

// Engine evaluates the alert rules on a periodic tick, walking the
// fact store for triggering conditions. Ticks that would overlap a
// still-running evaluation are skipped, not queued. Rule failures are
// isolated: one broken rule never aborts the tick.
type Engine struct {
	cfg   config.EngineConfig
	facts facts.Store
	repo  Repository
	log   zerolog.Logger

	mu      sync.Mutex
	ticking bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates an alert engine
func NewEngine(cfg config.EngineConfig, factStore facts.Store, repo Repository, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		facts: factStore,
		repo:  repo,
		log:   log.With().Str("component", "alert-engine").Logger(),
	}
}

// Start launches the periodic evaluation loop
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.cfg.AlertTickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.tickOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	e.log.Info().Dur("interval", e.cfg.AlertTickInterval).Msg("alert engine started")
}

// Stop halts the evaluation loop
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// tickOnce runs a tick unless the previous one is still running
func (e *Engine) tickOnce(ctx context.Context) {
	e.mu.Lock()
	if e.ticking {
		e.mu.Unlock()
		metrics.RecordAlertTickSkipped()
		e.log.Warn().Msg("previous tick still running, skipping")
		return
	}
	e.ticking = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.ticking = false
		e.mu.Unlock()
	}()

	if err := e.Tick(ctx, time.Now().UTC()); err != nil {
		e.log.Error().Err(err).Msg("alert tick failed")
	}
}

// Tick evaluates every rule against the fact store as of now, then
// escalates overdue alerts.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	if err := e.treatmentsEndingSoon(ctx, now); err != nil {
		e.log.Error().Err(err).Msg("treatment-ending rule failed")
	}
	if err := e.contactStudiesOverdue(ctx, now); err != nil {
		e.log.Error().Err(err).Msg("contact-overdue rule failed")
	}
	if err := e.chemoOverdue(ctx, now); err != nil {
		e.log.Error().Err(err).Msg("chemo-overdue rule failed")
	}
	if err := e.escalateOverdue(ctx, now); err != nil {
		e.log.Error().Err(err).Msg("escalation pass failed")
	}
	return nil
}

// treatmentsEndingSoon raises an expiration alert for every open
// treatment whose expected end falls inside the look-ahead window.
func (e *Engine) treatmentsEndingSoon(ctx context.Context, now time.Time) error {
	ending, err := e.facts.TreatmentsEndingBetween(ctx, now, now.Add(e.cfg.TreatmentEndingWindow))
	if err != nil {
		return err
	}

	for _, t := range ending {
		alert := &Alert{
			ID:          types.NewID(),
			Kind:        KindExpiration,
			Severity:    SeverityMedium,
			Title:       "Treatment ending soon",
			Description: fmt.Sprintf("Treatment %s is expected to end on %s", t.ID, t.ExpectedEndDate.Format("2006-01-02")),
			FacilityID:  t.FacilityID,
			EntityID:    t.ID,
			Fingerprint: Fingerprint("treatment-ending", t.ID),
			Payload: map[string]any{
				"treatment_id":      t.ID,
				"patient_id":        t.PatientID,
				"expected_end_date": t.ExpectedEndDate.Format("2006-01-02"),
			},
			CreatedAt: now,
			DueAt:     t.ExpectedEndDate,
		}
		if err := e.maybeCreate(ctx, alert); err != nil {
			e.log.Error().Err(err).Str("fingerprint", alert.Fingerprint).Msg("failed to raise alert")
		}
	}
	return nil
}

// contactStudiesOverdue raises a follow-up alert for every contact
// study still pending past the configured age.
func (e *Engine) contactStudiesOverdue(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-e.cfg.ContactStudyOverdueAfter)
	pending, err := e.facts.PendingContactStudiesOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, c := range pending {
		alert := &Alert{
			ID:          types.NewID(),
			Kind:        KindFollowUp,
			Severity:    SeverityLow,
			Title:       "Contact study overdue",
			Description: fmt.Sprintf("Contact %s registered on %s has no study yet", c.ID, c.RegisteredAt.Format("2006-01-02")),
			FacilityID:  c.FacilityID,
			EntityID:    c.ID,
			Fingerprint: Fingerprint("contact-overdue", c.ID),
			Payload: map[string]any{
				"contact_id":    c.ID,
				"patient_id":    c.PatientID,
				"registered_at": c.RegisteredAt.Format("2006-01-02"),
			},
			CreatedAt: now,
			DueAt:     now.Add(e.cfg.OverdueAlertDue),
		}
		if err := e.maybeCreate(ctx, alert); err != nil {
			e.log.Error().Err(err).Str("fingerprint", alert.Fingerprint).Msg("failed to raise alert")
		}
	}
	return nil
}

// chemoOverdue raises a follow-up alert for every in-progress
// chemoprophylaxis course past its planned end.
func (e *Engine) chemoOverdue(ctx context.Context, now time.Time) error {
	overdue, err := e.facts.OverdueChemoAsOf(ctx, now)
	if err != nil {
		return err
	}

	for _, c := range overdue {
		alert := &Alert{
			ID:          types.NewID(),
			Kind:        KindFollowUp,
			Severity:    SeverityMedium,
			Title:       "Chemoprophylaxis overdue",
			Description: fmt.Sprintf("Course %s passed its planned end %s without completion", c.ID, c.ExpectedEndDate.Format("2006-01-02")),
			FacilityID:  c.FacilityID,
			EntityID:    c.ID,
			Fingerprint: Fingerprint("chemo-overdue", c.ID),
			Payload: map[string]any{
				"chemoprophylaxis_id": c.ID,
				"contact_id":          c.ContactID,
				"expected_end_date":   c.ExpectedEndDate.Format("2006-01-02"),
			},
			CreatedAt: now,
			DueAt:     now.Add(e.cfg.OverdueAlertDue),
		}
		if err := e.maybeCreate(ctx, alert); err != nil {
			e.log.Error().Err(err).Str("fingerprint", alert.Fingerprint).Msg("failed to raise alert")
		}
	}
	return nil
}

// RaiseCriticalResult records a critical laboratory result signalled
// by an external collaborator. Deduplication follows the same
// fingerprint rule as the derived alerts.
func (e *Engine) RaiseCriticalResult(ctx context.Context, facilityID, sourceID types.ID, description string) (*Alert, error) {
	now := time.Now().UTC()
	alert := &Alert{
		ID:          types.NewID(),
		Kind:        KindResult,
		Severity:    SeverityCritical,
		Title:       "Critical result",
		Description: description,
		FacilityID:  facilityID,
		EntityID:    sourceID,
		Fingerprint: Fingerprint("critical-result", sourceID),
		Payload:     map[string]any{"source_id": sourceID},
		CreatedAt:   now,
		DueAt:       now.Add(e.cfg.CriticalAlertDue),
	}

	existing, err := e.repo.FindOpenByFingerprint(ctx, alert.Kind, alert.FacilityID, alert.Fingerprint)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.RecordAlertDeduplicated()
		return existing, nil
	}

	if err := e.repo.Create(ctx, alert); err != nil {
		return nil, err
	}
	metrics.RecordAlertCreated(string(alert.Kind), string(alert.Severity))
	return alert, nil
}

// maybeCreate creates the alert unless an unresolved one with the same
// fingerprint already exists. A resolved predecessor does not suppress
// creation: the condition recurred.
func (e *Engine) maybeCreate(ctx context.Context, alert *Alert) error {
	existing, err := e.repo.FindOpenByFingerprint(ctx, alert.Kind, alert.FacilityID, alert.Fingerprint)
	if err != nil {
		return err
	}
	if existing != nil {
		metrics.RecordAlertDeduplicated()
		return nil
	}

	if err := e.repo.Create(ctx, alert); err != nil {
		return err
	}

	metrics.RecordAlertCreated(string(alert.Kind), string(alert.Severity))
	e.log.Info().
		Str("alert_id", alert.ID.String()).
		Str("kind", string(alert.Kind)).
		Str("severity", string(alert.Severity)).
		Str("facility_id", alert.FacilityID.String()).
		Msg("alert created")
	return nil
}

// escalateOverdue bumps the severity of every unresolved alert whose
// due date has passed and advances the due date by the kind's offset,
// so each severity level is bumped at most once.
func (e *Engine) escalateOverdue(ctx context.Context, now time.Time) error {
	due, err := e.repo.ListDue(ctx, now)
	if err != nil {
		return err
	}

	for _, a := range due {
		if a.Severity == SeverityCritical {
			continue
		}

		next := a.Severity.Escalate()
		nextDue := now.Add(e.dueOffset(a.Kind))
		if err := e.repo.Escalate(ctx, a.ID, next, nextDue); err != nil {
			e.log.Error().Err(err).Str("alert_id", a.ID.String()).Msg("failed to escalate alert")
			continue
		}

		metrics.RecordAlertEscalated(string(next))
		e.log.Info().
			Str("alert_id", a.ID.String()).
			Str("from", string(a.Severity)).
			Str("to", string(next)).
			Msg("alert escalated")
	}
	return nil
}

func (e *Engine) dueOffset(kind Kind) time.Duration {
	if kind == KindResult {
		return e.cfg.CriticalAlertDue
	}
	return e.cfg.OverdueAlertDue
}
