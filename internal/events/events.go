// Package events provides the calendar event sources the enrichment
// pipeline reads from.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "aircal/internal/log"
	"aircal/internal/model"
)

// ErrNoSources is returned by Multi when it has no sources or every source
// failed.
var ErrNoSources = errors.New("no event source available")

// Source yields expanded events overlapping [start, end). An empty
// calendarIDs selects every calendar the source knows.
type Source interface {
	Events(ctx context.Context, start, end time.Time, calendarIDs []string) ([]model.Event, error)
}

// Named attaches a log name to a Source.
type Named struct {
	Name string
	Source
}

// Multi concatenates several sources. A failing source is logged and
// skipped; Multi only fails when all of them do.
type Multi []Named

func (m Multi) Events(ctx context.Context, start, end time.Time, calendarIDs []string) ([]model.Event, error) {
	if len(m) == 0 {
		return nil, ErrNoSources
	}

	out := make([]model.Event, 0)
	var errs []error
	for _, src := range m {
		evs, err := src.Events(ctx, start, end, calendarIDs)
		if err != nil {
			appLog.Error("event source failed", err, "source", src.Name)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}
		appLog.Debug("event source done", "source", src.Name, "events", len(evs))
		out = append(out, evs...)
	}

	if len(errs) == len(m) {
		return nil, fmt.Errorf("%w: %w", ErrNoSources, errors.Join(errs...))
	}
	return out, nil
}

// wanted reports whether id passes the calendarIDs filter.
func wanted(id string, calendarIDs []string) bool {
	if len(calendarIDs) == 0 {
		return true
	}
	for _, c := range calendarIDs {
		if c == id {
			return true
		}
	}
	return false
}
