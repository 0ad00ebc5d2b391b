package model

import (
	"fmt"
	"time"
)

// Event is a single calendar event as delivered by an event source. Recurring
// events arrive already expanded, one Event per instance. The enrichment
// pipeline only reads events; it never mutates them.
type Event struct {
	UID        string `json:"uid"`
	CalendarID string `json:"calendar_id"`

	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	// Location is free text and may be empty or whitespace only.
	Location string `json:"location,omitempty"`

	// Start / End are in the configured display timezone.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	AllDay bool `json:"all_day"`
}

// Date is a civil calendar date without a timezone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) After(o Date) bool {
	return o.Before(d)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Coordinate is a resolved geographic position.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationSpan is a maximal run of event-bearing dates that share one
// governing location.
type LocationSpan struct {
	Location  string `json:"location"`
	StartDate Date   `json:"start_date"`
	// EndDate is inclusive and is always an event-bearing date.
	EndDate Date `json:"end_date"`

	// Events are in chronological order.
	Events []Event `json:"events"`

	// TotalMinutes sums per-event durations, each clamped at zero.
	TotalMinutes int64 `json:"total_minutes"`

	// Representative is the event whose normalized summary occurs most
	// often in the span.
	Representative Event `json:"representative"`
	// Anchor is the event that introduced Location.
	Anchor Event `json:"anchor"`
}
