package types

import (
	"testing"
	"time"
)

// TestQuarterOf tests mapping dates to quarters
func TestQuarterOf(t *testing.T) {
	tests := []struct {
		name    string
		date    time.Time
		year    int
		quarter int
	}{
		{"January", time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), 2025, 1},
		{"End of March", time.Date(2025, 3, 31, 23, 59, 0, 0, time.UTC), 2025, 1},
		{"Start of April", time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), 2025, 2},
		{"July", time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC), 2025, 3},
		{"December", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), 2024, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := QuarterOf(tt.date)
			if q.Year != tt.year || q.Quarter != tt.quarter {
				t.Errorf("Expected %d-Q%d, got %d-Q%d", tt.year, tt.quarter, q.Year, q.Quarter)
			}
		})
	}
}

// TestQuarterKeyRoundTrip tests the key format and its parser
func TestQuarterKeyRoundTrip(t *testing.T) {
	q := Quarter{Year: 2025, Quarter: 3}
	if q.Key() != "2025-Q3" {
		t.Errorf("Expected key 2025-Q3, got %s", q.Key())
	}

	parsed, err := ParseQuarterKey("2025-Q3")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if parsed != q {
		t.Errorf("Expected %v, got %v", q, parsed)
	}

	for _, bad := range []string{"2025", "2025-Q5", "2025-Q0", "banana"} {
		if _, err := ParseQuarterKey(bad); err == nil {
			t.Errorf("Expected error for key %q", bad)
		}
	}
}

// TestQuarterBounds tests the half-open window of a quarter
func TestQuarterBounds(t *testing.T) {
	q := Quarter{Year: 2025, Quarter: 4}

	if !q.Start().Equal(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected start 2025-10-01, got %v", q.Start())
	}
	if !q.End().Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected end 2026-01-01, got %v", q.End())
	}

	if !q.Contains(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)) {
		t.Error("Expected quarter to contain its last day")
	}
	if q.Contains(q.End()) {
		t.Error("Expected end bound to be exclusive")
	}

	next := q.Next()
	if next.Year != 2026 || next.Quarter != 1 {
		t.Errorf("Expected 2026-Q1 after 2025-Q4, got %v", next)
	}
}

// TestMonthKeyRoundTrip tests the monthly key format
func TestMonthKeyRoundTrip(t *testing.T) {
	d := time.Date(2025, 2, 17, 13, 45, 0, 0, time.UTC)

	key := MonthKey(d)
	if key != "2025-02-01" {
		t.Errorf("Expected key 2025-02-01, got %s", key)
	}

	parsed, err := ParseMonthKey(key)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !parsed.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected 2025-02-01, got %v", parsed)
	}

	if _, err := ParseMonthKey("2025-Q1"); err == nil {
		t.Error("Expected error for a quarterly key")
	}
}

// TestQuartersBetween tests quarter enumeration over a date range
func TestQuartersBetween(t *testing.T) {
	from := time.Date(2024, 11, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)

	quarters := QuartersBetween(from, to)
	expected := []Quarter{
		{Year: 2024, Quarter: 4},
		{Year: 2025, Quarter: 1},
		{Year: 2025, Quarter: 2},
	}

	if len(quarters) != len(expected) {
		t.Fatalf("Expected %d quarters, got %d", len(expected), len(quarters))
	}
	for i, q := range quarters {
		if q != expected[i] {
			t.Errorf("Expected %v at index %d, got %v", expected[i], i, q)
		}
	}
}

// TestQuartersBetweenSingleDate tests that a degenerate range still
// yields the one quarter containing it
func TestQuartersBetweenSingleDate(t *testing.T) {
	d := time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)

	quarters := QuartersBetween(d, d)
	if len(quarters) != 1 {
		t.Fatalf("Expected 1 quarter, got %d", len(quarters))
	}
	if quarters[0] != (Quarter{Year: 2025, Quarter: 3}) {
		t.Errorf("Expected 2025-Q3, got %v", quarters[0])
	}
}

// TestQuartersBetweenReversed tests that swapped bounds normalize
func TestQuartersBetweenReversed(t *testing.T) {
	from := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	quarters := QuartersBetween(from, to)
	if len(quarters) != 2 {
		t.Fatalf("Expected 2 quarters, got %d", len(quarters))
	}
	if quarters[0] != (Quarter{Year: 2025, Quarter: 1}) {
		t.Errorf("Expected enumeration to start at 2025-Q1, got %v", quarters[0])
	}
}

// TestMonthsBetween tests month enumeration over a date range
func TestMonthsBetween(t *testing.T) {
	from := time.Date(2024, 11, 20, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)

	months := MonthsBetween(from, to)
	if len(months) != 4 {
		t.Fatalf("Expected 4 months, got %d", len(months))
	}
	if MonthKey(months[0]) != "2024-11-01" {
		t.Errorf("Expected first month 2024-11-01, got %s", MonthKey(months[0]))
	}
	if MonthKey(months[3]) != "2025-02-01" {
		t.Errorf("Expected last month 2025-02-01, got %s", MonthKey(months[3]))
	}

	single := MonthsBetween(to, to)
	if len(single) != 1 {
		t.Errorf("Expected 1 month for a single date, got %d", len(single))
	}
}
