// Package timeline groups calendar events by date and partitions them into
// location spans.
package timeline

import (
	"sort"

	"aircal/internal/model"
)

// SortChronological returns a copy of events sorted ascending by Start.
// Events with equal Start keep their input order.
func SortChronological(events []model.Event) []model.Event {
	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})
	return sorted
}

// BucketByDate groups events by the calendar date of their Start and returns
// the buckets together with the date keys in ascending order. Within a bucket
// events are chronological. The input slice is left untouched.
func BucketByDate(events []model.Event) (map[model.Date][]model.Event, []model.Date) {
	buckets := make(map[model.Date][]model.Event)
	dates := make([]model.Date, 0)

	for _, ev := range SortChronological(events) {
		d := model.DateOf(ev.Start)
		if _, ok := buckets[d]; !ok {
			dates = append(dates, d)
		}
		buckets[d] = append(buckets[d], ev)
	}

	// Dates are discovered in chronological order already, except when
	// events carry different zone offsets; sort to be safe.
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	return buckets, dates
}
