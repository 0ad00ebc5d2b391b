package timeline

import (
	"strings"
	"time"

	"aircal/internal/model"
)

// BuildSpans partitions events into location spans.
//
// Dates are visited in ascending order. The first event of a date with a
// non-blank location is that date's location-bearing event; when its
// location differs from the governing one, the open span is closed and a
// new one starts on that date. Every event of a date joins the open span.
// Dates before the first location-bearing event belong to no span.
// Events without a start time are dropped.
func BuildSpans(events []model.Event) []model.LocationSpan {
	spans := make([]model.LocationSpan, 0)
	buckets, dates := BucketByDate(dated(events))

	var (
		current string
		open    *model.LocationSpan
	)

	for _, d := range dates {
		dayEvents := buckets[d]

		if anchor, loc, ok := locationBearing(dayEvents); ok && (open == nil || loc != current) {
			if open != nil {
				spans = append(spans, finish(*open))
			}
			current = loc
			open = &model.LocationSpan{
				Location:  loc,
				StartDate: d,
				Anchor:    anchor,
			}
		}

		if open == nil {
			continue
		}
		open.Events = append(open.Events, dayEvents...)
		open.EndDate = d
	}

	if open != nil {
		spans = append(spans, finish(*open))
	}

	return spans
}

// dated returns the events that carry a start time. A zero Start would
// otherwise bucket to 0001-01-01 and could open a span there.
func dated(events []model.Event) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if !ev.Start.IsZero() {
			out = append(out, ev)
		}
	}
	return out
}

// locationBearing returns the first event with a non-blank location and its
// trimmed location.
func locationBearing(events []model.Event) (model.Event, string, bool) {
	for _, ev := range events {
		if loc := strings.TrimSpace(ev.Location); loc != "" {
			return ev, loc, true
		}
	}
	return model.Event{}, "", false
}

func finish(span model.LocationSpan) model.LocationSpan {
	span.TotalMinutes = TotalMinutes(span.Events)
	span.Representative = Representative(span.Events)
	return span
}

// TotalMinutes sums whole-minute durations of events. Inverted or missing
// timestamps count as zero.
func TotalMinutes(events []model.Event) int64 {
	var total int64
	for _, ev := range events {
		total += durationMinutes(ev)
	}
	return total
}

func durationMinutes(ev model.Event) int64 {
	if ev.Start.IsZero() || ev.End.IsZero() {
		return 0
	}
	d := ev.End.Sub(ev.Start)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Minute)
}

// Representative picks the event whose normalized summary is most frequent.
// Ties go to the summary seen first; the returned event is the first one
// carrying that summary.
func Representative(events []model.Event) model.Event {
	if len(events) == 0 {
		return model.Event{}
	}

	counts := make(map[string]int)
	first := make(map[string]int)
	order := make([]string, 0)

	for i, ev := range events {
		key := normalizeSummary(ev.Summary)
		if _, seen := counts[key]; !seen {
			first[key] = i
			order = append(order, key)
		}
		counts[key]++
	}

	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	return events[first[best]]
}

func normalizeSummary(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Locations returns the distinct span locations in order of first appearance.
func Locations(spans []model.LocationSpan) []string {
	seen := make(map[string]struct{}, len(spans))
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		if _, ok := seen[s.Location]; ok {
			continue
		}
		seen[s.Location] = struct{}{}
		out = append(out, s.Location)
	}
	return out
}
