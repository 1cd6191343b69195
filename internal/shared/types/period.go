package types

import (
	"fmt"
	"time"
)

// Granularity selects the bucketing scheme for period enumeration
type Granularity string

const (
	GranularityQuarterly Granularity = "quarterly"
	GranularityMonthly   Granularity = "monthly"
)

// Quarter identifies a cohort quarter: a three-month window anchored
// at months 1/4/7/10 of a year.
type Quarter struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"` // 1..4
}

// QuarterOf returns the quarter containing a date.
// Dates are treated as civil calendar dates; no timezone conversion.
func QuarterOf(d time.Time) Quarter {
	return Quarter{
		Year:    d.Year(),
		Quarter: (int(d.Month())-1)/3 + 1,
	}
}

// ParseQuarterKey parses a "YYYY-Qn" key
func ParseQuarterKey(s string) (Quarter, error) {
	var q Quarter
	if _, err := fmt.Sscanf(s, "%d-Q%d", &q.Year, &q.Quarter); err != nil {
		return Quarter{}, fmt.Errorf("invalid quarter key %q", s)
	}
	if q.Quarter < 1 || q.Quarter > 4 {
		return Quarter{}, fmt.Errorf("invalid quarter key %q: quarter out of range", s)
	}
	return q, nil
}

// Key returns the external period key, e.g. "2025-Q1"
func (q Quarter) Key() string {
	return fmt.Sprintf("%d-Q%d", q.Year, q.Quarter)
}

// Start returns the first day of the quarter (inclusive)
func (q Quarter) Start() time.Time {
	return time.Date(q.Year, time.Month((q.Quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first day of the next quarter (exclusive bound)
func (q Quarter) End() time.Time {
	return q.Next().Start()
}

// Next returns the following quarter
func (q Quarter) Next() Quarter {
	if q.Quarter == 4 {
		return Quarter{Year: q.Year + 1, Quarter: 1}
	}
	return Quarter{Year: q.Year, Quarter: q.Quarter + 1}
}

// Contains reports whether a date falls inside the quarter
func (q Quarter) Contains(d time.Time) bool {
	return QuarterOf(d) == q
}

// IsZero checks if the quarter is unset
func (q Quarter) IsZero() bool {
	return q.Year == 0 && q.Quarter == 0
}

// MonthOf returns the first day of the month containing a date,
// at midnight UTC. This is the key for the monthly indicator families.
func MonthOf(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthKey returns the external period key for a month, e.g. "2025-02-01"
func MonthKey(m time.Time) string {
	return MonthOf(m).Format("2006-01-02")
}

// ParseMonthKey parses a "YYYY-MM-01" key
func ParseMonthKey(s string) (time.Time, error) {
	m, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month key %q", s)
	}
	return MonthOf(m), nil
}

// NextMonth returns the first day of the month after m
func NextMonth(m time.Time) time.Time {
	return MonthOf(m).AddDate(0, 1, 0)
}

// QuartersBetween enumerates the ordered, inclusive sequence of distinct
// quarters touching [from, to]. A single date yields exactly one quarter.
func QuartersBetween(from, to time.Time) []Quarter {
	if to.Before(from) {
		from, to = to, from
	}
	var quarters []Quarter
	last := QuarterOf(to)
	for q := QuarterOf(from); ; q = q.Next() {
		quarters = append(quarters, q)
		if q == last {
			break
		}
	}
	return quarters
}

// MonthsBetween enumerates the ordered, inclusive sequence of distinct
// months touching [from, to].
func MonthsBetween(from, to time.Time) []time.Time {
	if to.Before(from) {
		from, to = to, from
	}
	var months []time.Time
	last := MonthOf(to)
	for m := MonthOf(from); !m.After(last); m = NextMonth(m) {
		months = append(months, m)
	}
	return months
}
