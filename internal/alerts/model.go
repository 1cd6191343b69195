package alerts

import (
	"fmt"
	"time"

	"github.com/salud-gob/procet/internal/shared/types"
)

// Kind classifies what an alert is about
type Kind string

const (
	KindExpiration      Kind = "expiration"
	KindResult          Kind = "result"
	KindFollowUp        Kind = "follow-up"
	KindEpidemiological Kind = "epidemiological"
	KindDataQuality     Kind = "data-quality"
)

// Severity orders alerts by urgency
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Escalate returns the next severity level; critical stays critical
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	case SeverityHigh:
		return SeverityCritical
	}
	return SeverityCritical
}

// Alert is one warning produced by the rule engine. Identity for
// deduplication is (kind, facility, fingerprint), independent of ID.
type Alert struct {
	ID          types.ID       `json:"id"`
	Kind        Kind           `json:"kind"`
	Severity    Severity       `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	FacilityID  types.ID       `json:"facility_id"`
	EntityID    types.ID       `json:"entity_id"`
	Fingerprint string         `json:"fingerprint"`
	Payload     map[string]any `json:"payload,omitempty"`

	AssigneeID *types.ID `json:"assignee_id,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	DueAt          time.Time  `json:"due_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     *types.ID  `json:"resolved_by,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
}

// Resolved reports whether the alert has been closed
func (a *Alert) Resolved() bool {
	return a.ResolvedAt != nil
}

// Fingerprint builds the deduplication key for a rule and entity
func Fingerprint(rule string, entityID types.ID) string {
	return fmt.Sprintf("rule=%s,%s", rule, entityID)
}

// ListFilter defines filters for listing alerts
type ListFilter struct {
	Kind       *Kind      `json:"kind,omitempty"`
	Severity   *Severity  `json:"severity,omitempty"`
	Resolved   *bool      `json:"resolved,omitempty"`
	AssigneeID *types.ID  `json:"assignee_id,omitempty"`
	FacilityID *types.ID  `json:"facility_id,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}
