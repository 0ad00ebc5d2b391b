package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "aircal/internal/log"
)

// Component is one VEVENT before recurrence expansion.
type Component struct {
	CalendarID string

	UID string
	Seq int

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time
	// RecurrenceID is set on overrides of a single recurring instance.
	RecurrenceID *time.Time
}

// IsOverride reports whether c replaces one instance of a recurring event.
func (c Component) IsOverride() bool {
	return c.RecurrenceID != nil
}

// Parse decodes an ICS payload. VEVENTs that cannot be interpreted are
// logged and skipped.
func Parse(sub Subscription, body []byte) ([]Component, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]Component, 0)
	for _, ve := range cal.Events() {
		c, err := parseVEvent(sub.ID, ve)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", sub.ID, "reason", err.Error())
			continue
		}
		out = append(out, c)
	}

	appLog.Debug("ics parse completed", "id", sub.ID, "components", len(out))
	return out, nil
}

func parseVEvent(calendarID string, ve *ical.VEvent) (Component, error) {
	c := Component{CalendarID: calendarID}

	c.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	if c.UID == "" {
		return c, errors.New("missing UID")
	}
	if n, err := strconv.Atoi(strings.TrimSpace(propValue(ve, ical.ComponentPropertySequence))); err == nil {
		c.Seq = n
	}

	c.Summary = propValue(ve, ical.ComponentPropertySummary)
	c.Description = propValue(ve, ical.ComponentPropertyDescription)
	c.Location = propValue(ve, ical.ComponentPropertyLocation)

	// The library resolves TZID/VTIMEZONE for us; missing or broken values
	// leave zero times, which downstream treats as zero duration.
	c.Start, _ = ve.GetStartAt()
	c.End, _ = ve.GetEndAt()
	c.AllDay = isDateValue(ve.GetProperty(ical.ComponentPropertyDtStart))

	if c.AllDay && (c.End.IsZero() || !c.End.After(c.Start)) && !c.Start.IsZero() {
		c.End = c.Start.AddDate(0, 0, 1)
	}

	c.RRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part); err == nil {
				c.ExDates = append(c.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		if t, err := parseICSTime(rid.Value); err == nil {
			c.RecurrenceID = &t
		}
	}

	return c, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

// isDateValue detects VALUE=DATE or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if p == nil {
		return false
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime handles the basic DATE / local DATE-TIME / UTC forms found
// in EXDATE and RECURRENCE-ID values.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		return time.ParseInLocation("20060102", v, time.Local)
	}
}
