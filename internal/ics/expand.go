package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "aircal/internal/log"
	"aircal/internal/model"
)

const defaultMaxInstances = 5000

// Window is the time range and display zone for expansion.
type Window struct {
	Start time.Time
	End   time.Time
	// Location is the display timezone; nil means time.Local.
	Location *time.Location
	// MaxInstances caps instances per UID; defaultMaxInstances when zero.
	MaxInstances int
}

// Expand turns components into concrete events inside the window:
// single events are range-filtered, RRULEs are expanded with EXDATEs
// removed, RECURRENCE-ID overrides replace the matching instance. All
// times are converted to the display zone. UIDs that hit the instance cap
// are returned as truncated.
func Expand(components []Component, w Window) ([]model.Event, []string, error) {
	if w.End.Before(w.Start) {
		return nil, nil, errors.New("expand: window end is before start")
	}
	if w.Location == nil {
		w.Location = time.Local
	}
	if w.MaxInstances <= 0 {
		w.MaxInstances = defaultMaxInstances
	}

	masters := make(map[string][]Component)
	overrides := make(map[string][]Component)
	uids := make([]string, 0)
	for _, c := range components {
		if c.IsOverride() {
			overrides[c.UID] = append(overrides[c.UID], c)
			continue
		}
		if _, ok := masters[c.UID]; !ok {
			uids = append(uids, c.UID)
		}
		masters[c.UID] = append(masters[c.UID], c)
	}
	// Deterministic output regardless of map iteration.
	sort.Strings(uids)

	events := make([]model.Event, 0)
	truncated := make([]string, 0)

	for _, uid := range uids {
		capped := false
		for _, m := range masters[uid] {
			out, hit := expandOne(m, overrides[uid], w)
			capped = capped || hit
			events = append(events, out...)
		}
		if capped {
			truncated = append(truncated, uid)
			appLog.Warn("expand: instance cap reached", "uid", uid, "cap", w.MaxInstances)
		}
	}

	return events, truncated, nil
}

func expandOne(c Component, overrides []Component, w Window) ([]model.Event, bool) {
	if c.RRule == "" {
		if !overlaps(c.Start, c.End, w.Start, w.End) {
			return nil, false
		}
		return []model.Event{instance(c, c.Start, c.End, overrides, w.Location)}, false
	}

	r, err := rrule.StrToRRule(c.RRule)
	if err != nil {
		appLog.Error("expand: bad RRULE", err, "uid", c.UID, "rrule", c.RRule)
		return nil, false
	}
	r.DTStart(c.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range c.ExDates {
		set.ExDate(ex.In(c.Start.Location()))
	}

	starts := set.Between(w.Start.In(c.Start.Location()), w.End.In(c.Start.Location()), true)
	hit := false
	if len(starts) > w.MaxInstances {
		starts = starts[:w.MaxInstances]
		hit = true
	}

	out := make([]model.Event, 0, len(starts))
	dur := c.End.Sub(c.Start)
	for _, s := range starts {
		e := s.Add(dur)
		if c.AllDay {
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			e = s.AddDate(0, 0, 1)
		}
		out = append(out, instance(c, s, e, overrides, w.Location))
	}
	return out, hit
}

// instance builds the event for one occurrence, applying an override whose
// RECURRENCE-ID equals start.
func instance(c Component, start, end time.Time, overrides []Component, loc *time.Location) model.Event {
	for _, o := range overrides {
		if o.RecurrenceID.Equal(start) {
			c, start, end = o, o.Start, o.End
			break
		}
	}
	if c.AllDay {
		// All-day events keep their civil dates in the display zone.
		start, end = civil(start, loc), civil(end, loc)
	} else {
		start, end = start.In(loc), end.In(loc)
	}
	return model.Event{
		UID:         c.UID,
		CalendarID:  c.CalendarID,
		Summary:     c.Summary,
		Description: c.Description,
		Location:    c.Location,
		Start:       start,
		End:         end,
		AllDay:      c.AllDay,
	}
}

func civil(t time.Time, loc *time.Location) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
