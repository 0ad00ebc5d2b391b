package events

import (
	"context"
	"errors"
	"time"

	"aircal/internal/ics"
	appLog "aircal/internal/log"
	"aircal/internal/model"
)

// ICSSource serves events from ICS subscriptions.
type ICSSource struct {
	subs     []ics.Subscription
	fetcher  *ics.Fetcher
	location *time.Location
}

// NewICSSource expands events into loc (time.Local when nil).
func NewICSSource(subs []ics.Subscription, fetcher *ics.Fetcher, loc *time.Location) *ICSSource {
	if loc == nil {
		loc = time.Local
	}
	return &ICSSource{subs: subs, fetcher: fetcher, location: loc}
}

// Events fetches the selected subscriptions, parses them and expands
// recurrences into the window. Feeds that fail to fetch or parse are
// skipped; an error is returned only when none produced events.
func (s *ICSSource) Events(ctx context.Context, start, end time.Time, calendarIDs []string) ([]model.Event, error) {
	subs := make([]ics.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if wanted(sub.ID, calendarIDs) {
			subs = append(subs, sub)
		}
	}
	if len(subs) == 0 {
		return []model.Event{}, nil
	}

	results, fetchErrs := s.fetcher.FetchAll(ctx, subs)

	comps := make([]ics.Component, 0)
	parsed := 0
	var parseErrs []error
	for _, res := range results {
		cs, err := ics.Parse(res.Subscription, res.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", res.Subscription.ID)
			parseErrs = append(parseErrs, err)
			continue
		}
		parsed++
		comps = append(comps, cs...)
	}
	if parsed == 0 {
		return nil, errors.Join(append(fetchErrs, parseErrs...)...)
	}

	evs, truncated, err := ics.Expand(comps, ics.Window{Start: start, End: end, Location: s.location})
	if err != nil {
		return nil, err
	}
	if len(truncated) > 0 {
		appLog.Warn("ics expansion truncated", "uids", len(truncated))
	}
	return evs, nil
}
