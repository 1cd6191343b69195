package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/types"
)

// Event kinds emitted by the transactional modules. The engine reacts
// to these and recomputes the affected indicator buckets.
const (
	KindPatientDiagnosed    = "patient.diagnosed"
	KindPatientStateChanged = "patient.state_changed"
	KindTreatmentStarted    = "treatment.started"
	KindTreatmentClosed     = "treatment.closed"
	KindContactRegistered   = "contact.registered"
	KindContactStudyUpdated = "contact.study_updated"
	KindChemoChanged        = "chemoprophylaxis.changed"
)

// Event is an upstream change notification. Every event carries an
// explicit facility; there is no process-wide default owner.
type Event struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Source string `json:"source"`

	FacilityID types.ID `json:"facility_id"`
	EntityID   types.ID `json:"entity_id"`

	// EffectiveDate is the fact date that determines the affected
	// buckets: diagnosis date, treatment start, contact registration
	// or chemoprophylaxis start, depending on Kind.
	EffectiveDate time.Time `json:"effective_date"`
	OccurredAt    time.Time `json:"occurred_at"`

	Data map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event with auto-generated ID and timestamp
func NewEvent(kind, source string, facilityID, entityID types.ID, effectiveDate time.Time) Event {
	return Event{
		ID:            uuid.New().String(),
		Kind:          kind,
		Source:        source,
		FacilityID:    facilityID,
		EntityID:      entityID,
		EffectiveDate: effectiveDate,
		OccurredAt:    time.Now().UTC(),
	}
}

// WithData attaches kind-specific payload fields
func (e Event) WithData(data map[string]any) Event {
	e.Data = data
	return e
}

// KnownKind reports whether the kind is one the engine understands
func KnownKind(kind string) bool {
	switch kind {
	case KindPatientDiagnosed, KindPatientStateChanged,
		KindTreatmentStarted, KindTreatmentClosed,
		KindContactRegistered, KindContactStudyUpdated,
		KindChemoChanged:
		return true
	}
	return false
}

// Validate checks the event against the inbound contract. Unknown
// kinds and missing fields are InvalidEvent: logged and dropped,
// never retried.
func (e Event) Validate() error {
	if !KnownKind(e.Kind) {
		return errors.InvalidEvent("unknown event kind: " + e.Kind)
	}
	if e.FacilityID.IsZero() {
		return errors.InvalidEvent("event missing facility_id")
	}
	if e.EntityID.IsZero() {
		return errors.InvalidEvent("event missing entity_id")
	}
	if e.EffectiveDate.IsZero() {
		return errors.InvalidEvent("event missing effective_date")
	}
	return nil
}

// Handler is a function that handles an event
type Handler func(ctx context.Context, event Event) error

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe creates a subscription to events matching a pattern
	Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// Ensure implementations satisfy EventBus
var (
	_ EventBus = (*Bus)(nil)
	_ EventBus = (*MemoryBus)(nil)
)
