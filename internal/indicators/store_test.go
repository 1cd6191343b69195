package indicators

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salud-gob/procet/internal/shared/types"
)

func quarterIndicator(facilityID types.ID, q types.Quarter) *Indicator {
	return New(FamilyCohort, facilityID, q.Key(), q.Start(), q.End())
}

func TestMemoryStorePutGet(t *testing.T) {
	store := NewMemoryStore()
	facilityID := types.NewID()
	ind := quarterIndicator(facilityID, types.Quarter{Year: 2025, Quarter: 1})
	ind.Counts[CountNewCases] = 4
	ind.Counts[CountCured] = 2

	require.NoError(t, store.Put(context.Background(), ind))

	got, err := store.Get(context.Background(), ind.Key())
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.Counts[CountNewCases])
	assert.Equal(t, 50.0, got.Ratios[RatioSuccess], "ratios are re-derived on write")
	assert.False(t, got.ComputedAt.IsZero())
}

func TestMemoryStoreUpsertByKey(t *testing.T) {
	store := NewMemoryStore()
	facilityID := types.NewID()
	q := types.Quarter{Year: 2025, Quarter: 1}

	first := quarterIndicator(facilityID, q)
	first.Counts[CountNewCases] = 2
	require.NoError(t, store.Put(context.Background(), first))

	stored, err := store.Get(context.Background(), first.Key())
	require.NoError(t, err)
	originalID := stored.ID

	// A second write for the same key replaces the record but keeps
	// its identity; no duplicate is created.
	second := quarterIndicator(facilityID, q)
	second.Counts[CountNewCases] = 5
	require.NoError(t, store.Put(context.Background(), second))

	got, err := store.Get(context.Background(), second.Key())
	require.NoError(t, err)
	assert.Equal(t, originalID, got.ID)
	assert.Equal(t, 5.0, got.Counts[CountNewCases])

	_, total, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestMemoryStorePutIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ind := quarterIndicator(types.NewID(), types.Quarter{Year: 2025, Quarter: 2})
	ind.Counts[CountNewCases] = 3
	ind.Counts[CountCured] = 1

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Put(context.Background(), ind))
	}

	got, err := store.Get(context.Background(), ind.Key())
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Counts[CountNewCases])
	assert.Equal(t, 33.33, got.Ratios[RatioSuccess])

	_, total, err := store.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), Key{Family: FamilyCohort, FacilityID: types.NewID(), PeriodKey: "2025-Q1"})
	assert.Error(t, err)
}

func TestMemoryStoreReadsAreSnapshots(t *testing.T) {
	store := NewMemoryStore()
	ind := quarterIndicator(types.NewID(), types.Quarter{Year: 2025, Quarter: 3})
	ind.Counts[CountNewCases] = 1
	require.NoError(t, store.Put(context.Background(), ind))

	got, err := store.Get(context.Background(), ind.Key())
	require.NoError(t, err)
	got.Counts[CountNewCases] = 99

	again, err := store.Get(context.Background(), ind.Key())
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.Counts[CountNewCases], "mutating a read must not affect the store")
}

func TestMemoryStoreQuery(t *testing.T) {
	store := NewMemoryStore()
	f1 := types.ID("0a8c3de1-0000-0000-0000-000000000001")
	f2 := types.ID("0a8c3de1-0000-0000-0000-000000000002")

	// Name order is the reverse of ID order; ties must follow the name
	store.SetFacilityName(f1, "Hospital Valparaíso")
	store.SetFacilityName(f2, "CESFAM Antofagasta")

	for _, q := range []types.Quarter{{Year: 2024, Quarter: 4}, {Year: 2025, Quarter: 1}} {
		require.NoError(t, store.Put(context.Background(), quarterIndicator(f1, q)))
		require.NoError(t, store.Put(context.Background(), quarterIndicator(f2, q)))
	}
	month := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(context.Background(),
		New(FamilyOperational, f1, types.MonthKey(month), month, types.NextMonth(month))))

	family := FamilyCohort
	results, total, err := store.Query(context.Background(), Filter{Family: &family})
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	// Ordered by period descending, then facility name ascending
	require.Len(t, results, 4)
	assert.Equal(t, "2025-Q1", results[0].PeriodKey)
	assert.Equal(t, f2, results[0].FacilityID)
	assert.Equal(t, f1, results[1].FacilityID)
	assert.Equal(t, "2024-Q4", results[2].PeriodKey)

	results, total, err = store.Query(context.Background(), Filter{Family: &family, FacilityID: &f1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, r := range results {
		assert.Equal(t, f1, r.FacilityID)
	}

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	results, _, err = store.Query(context.Background(), Filter{Family: &family, From: &from})
	require.NoError(t, err)
	for _, r := range results {
		assert.False(t, r.PeriodStart.Before(from))
	}

	results, total, err = store.Query(context.Background(), Filter{Family: &family, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, total, "total ignores pagination")
	assert.Len(t, results, 1)
}
