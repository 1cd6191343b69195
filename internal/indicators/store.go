package indicators

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/salud-gob/procet/internal/shared/errors"
	"github.com/salud-gob/procet/internal/shared/types"
)

// Store persists indicator records with upsert-by-key semantics.
// Writes re-derive the ratios from the counters; reads are snapshots
// and never block on writers.
type Store interface {
	// Put replaces any prior record with the same key
	Put(ctx context.Context, ind *Indicator) error

	// Get returns the record for a key, or NotFound
	Get(ctx context.Context, key Key) (*Indicator, error)

	// Query returns records matching the filter, ordered by period
	// descending then facility ascending, plus the unpaginated total.
	Query(ctx context.Context, filter Filter) ([]Indicator, int, error)
}

// Filter is a partial key plus an optional period range
type Filter struct {
	Family     *Family   `json:"family,omitempty"`
	FacilityID *types.ID `json:"facility_id,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

func errInvalidFamily(f Family) error {
	return errors.BadRequest("unknown indicator family: " + string(f))
}

// MemoryStore is an in-memory indicator store used in tests and demo
// mode. Writers hold the lock per operation; reads return deep copies.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]*Indicator
	names   map[types.ID]string
}

// NewMemoryStore creates an empty in-memory indicator store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Key]*Indicator),
		names:   make(map[types.ID]string),
	}
}

// SetFacilityName records the display name used to order query results
func (s *MemoryStore) SetFacilityName(id types.ID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[id] = name
}

var _ Store = (*MemoryStore)(nil)

// Put replaces any prior record with the same key
func (s *MemoryStore) Put(ctx context.Context, ind *Indicator) error {
	stored := ind.Clone()
	stored.Recalculate()
	if stored.ComputedAt.IsZero() {
		stored.ComputedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[stored.Key()]; ok {
		stored.ID = prev.ID
	}
	s.records[stored.Key()] = stored
	return nil
}

// Get returns the record for a key
func (s *MemoryStore) Get(ctx context.Context, key Key) (*Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ind, ok := s.records[key]
	if !ok {
		return nil, errors.NotFound("indicator", key.String())
	}
	return ind.Clone(), nil
}

// Query returns records matching the filter
func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]Indicator, int, error) {
	s.mu.RLock()
	var matched []Indicator
	for _, ind := range s.records {
		if filter.Family != nil && ind.Family != *filter.Family {
			continue
		}
		if filter.FacilityID != nil && ind.FacilityID != *filter.FacilityID {
			continue
		}
		if filter.From != nil && ind.PeriodStart.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !ind.PeriodStart.Before(*filter.To) {
			continue
		}
		matched = append(matched, *ind.Clone())
	}
	names := make(map[types.ID]string, len(s.names))
	for id, name := range s.names {
		names[id] = name
	}
	s.mu.RUnlock()

	// Period descending then facility name ascending; facilities
	// without a registered name order by ID.
	display := func(id types.ID) string {
		if name, ok := names[id]; ok {
			return name
		}
		return string(id)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].PeriodStart.Equal(matched[j].PeriodStart) {
			return matched[i].PeriodStart.After(matched[j].PeriodStart)
		}
		return display(matched[i].FacilityID) < display(matched[j].FacilityID)
	})

	total := len(matched)

	offset := filter.Offset
	if offset > total {
		offset = total
	}
	matched = matched[offset:]

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if limit < len(matched) {
		matched = matched[:limit]
	}

	return matched, total, nil
}
