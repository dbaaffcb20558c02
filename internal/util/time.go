package util

import (
	"sync"
	"time"
)

const (
	// DateFormat is the business date format used for all date columns.
	DateFormat = "2006-01-02"

	// DateTimeFormat is the format used for timestamp columns. Values are
	// stored in UTC so they sort lexically in SQL.
	DateTimeFormat = "2006-01-02 15:04:05"
)

// Clock abstracts the current time for the scheduler-driven services.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	Location *time.Location
}

// Now returns the current time in the clock's location.
func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// FixedClock is a manually driven clock, used by tests and backfills.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock stopped at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

// Now returns the clock's current time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// FormatDate formats a time as a business date string.
func FormatDate(t time.Time) string {
	return t.Format(DateFormat)
}

// FormatDateTime formats a time as a UTC datetime string.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(DateTimeFormat)
}

// ParseDate parses a business date string.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateFormat, s)
}

// ParseDateIn parses a business date string in loc.
func ParseDateIn(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateFormat, s, loc)
}

// ParseDateTime parses a UTC datetime string.
func ParseDateTime(s string) (time.Time, error) {
	return time.Parse(DateTimeFormat, s)
}

// StartOfDay returns midnight of the given day.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DateIn returns midnight of t's calendar date in loc. The calendar date is
// read as written, not converted.
func DateIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// AtHour returns the given day at hour:00.
func AtHour(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}

// AddDays adds n calendar days, keeping the time of day.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// DaysBetween counts calendar days from one date to another.
func DaysBetween(from, to time.Time) int {
	from = StartOfDay(from)
	to = time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, from.Location())
	return int(to.Sub(from).Hours() / 24)
}

// DateRange returns every day from start to end inclusive.
func DateRange(start, end time.Time) []time.Time {
	var days []time.Time
	for d := StartOfDay(start); !d.After(StartOfDay(end)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
