// Package enrich runs the enrichment pipeline: events are grouped into
// location spans, every span gets a cover image and span locations are
// geocoded in the background.
package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"aircal/internal/cover"
	"aircal/internal/events"
	"aircal/internal/geocode"
	appLog "aircal/internal/log"
	"aircal/internal/metrics"
	"aircal/internal/model"
	"aircal/internal/timeline"
)

// Window is the range and calendar filter of one refresh.
type Window struct {
	Start       time.Time
	End         time.Time
	CalendarIDs []string
}

// WindowAround returns the window from backfillDays before the start of
// today to horizonDays after it, in loc.
func WindowAround(now time.Time, loc *time.Location, backfillDays, horizonDays int) Window {
	if loc == nil {
		loc = time.Local
	}
	n := now.In(loc)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	return Window{
		Start: today.AddDate(0, 0, -backfillDays),
		End:   today.AddDate(0, 0, horizonDays),
	}
}

// View is the enriched result of the latest refresh.
type View struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	RangeStart  time.Time `json:"range_start"`
	RangeEnd    time.Time `json:"range_end"`

	Spans []model.LocationSpan `json:"spans"`
	// Coordinates holds what the geocoder has published so far for the
	// span locations; it grows while the background run proceeds.
	Coordinates map[string]model.Coordinate `json:"coordinates"`
	// Covers maps representative summaries to image URLs.
	Covers map[string]string `json:"covers"`

	Fingerprint string `json:"fingerprint"`
	Geocoding   bool   `json:"geocoding"`
}

// Enricher owns the pipeline state between refreshes.
type Enricher struct {
	source   events.Source
	geocoder *geocode.Service
	covers   *cover.Service
	now      func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	view   View
	has    bool
	closed bool
	// seq numbers refreshes as they start; viewSeq is the refresh that
	// produced view.
	seq     uint64
	viewSeq uint64
}

// New wires an Enricher. geocoder and covers may be nil to skip that stage.
func New(source events.Source, geocoder *geocode.Service, covers *cover.Service) *Enricher {
	base, cancel := context.WithCancel(context.Background())
	return &Enricher{
		source:   source,
		geocoder: geocoder,
		covers:   covers,
		now:      time.Now,
		base:     base,
		cancel:   cancel,
	}
}

// Refresh fetches events for w, builds spans and covers, stores the new
// view and starts geocoding its locations in the background. A background
// run for a different location set is superseded; one for the same set
// keeps going. Overlapping refreshes take effect in the order they started:
// one that finishes after a newer refresh has stored its view changes
// nothing.
func (e *Enricher) Refresh(ctx context.Context, w Window) (View, error) {
	runID := uuid.NewString()
	started := e.now()

	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()
	appLog.Info("enrich refresh start", "run_id", runID, "start", w.Start.Format(time.RFC3339), "end", w.End.Format(time.RFC3339))

	evs, err := e.source.Events(ctx, w.Start, w.End, w.CalendarIDs)
	if err != nil {
		metrics.Refreshes.WithLabelValues("error").Inc()
		appLog.Error("enrich refresh failed", err, "run_id", runID)
		return View{}, err
	}

	spans := timeline.BuildSpans(evs)

	covers := map[string]string{}
	if e.covers != nil {
		covers = e.covers.Covers(ctx, spans)
	}

	locations := timeline.Locations(spans)
	v := View{
		RunID:       runID,
		GeneratedAt: e.now(),
		RangeStart:  w.Start,
		RangeEnd:    w.End,
		Spans:       spans,
		Covers:      covers,
		Fingerprint: geocode.Fingerprint(locations),
	}

	e.mu.Lock()
	if newer := e.viewSeq; seq < newer {
		e.mu.Unlock()
		metrics.Refreshes.WithLabelValues("stale").Inc()
		appLog.Info("enrich refresh outdated; newer view kept", "run_id", runID, "seq", seq, "view_seq", newer)
		return e.View(), nil
	}
	e.view = v
	e.viewSeq = seq
	e.has = true
	metrics.SpansBuilt.Set(float64(len(spans)))
	if e.geocoder != nil && !e.closed {
		// Claimed here so supersession follows refresh order, not goroutine
		// scheduling.
		if run, ok := e.geocoder.Begin(locations); ok {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				res := e.geocoder.Continue(e.base, run)
				appLog.Info("geocode run done", "run_id", runID, "resolved", len(res.Coordinates), "locations", len(locations))
			}()
		}
	}
	e.mu.Unlock()

	metrics.Refreshes.WithLabelValues("success").Inc()
	appLog.Info("enrich refresh done", "run_id", runID, "events", len(evs), "spans", len(spans), "covers", len(covers), "elapsed", e.now().Sub(started).String())

	return e.View(), nil
}

// View returns the latest view with the geocoder's current output merged
// in.
func (e *Enricher) View() View {
	v, _ := e.Latest()
	return v
}

// Latest is View plus whether any refresh has succeeded yet.
func (e *Enricher) Latest() (View, bool) {
	e.mu.Lock()
	v, has := e.view, e.has
	e.mu.Unlock()

	v.Coordinates = map[string]model.Coordinate{}
	if e.geocoder == nil || !has {
		return v, has
	}

	snap := e.geocoder.Snapshot()
	// Output of an older location set does not describe these spans.
	if snap.Fingerprint == v.Fingerprint {
		v.Coordinates = snap.Coordinates
		v.Geocoding = e.geocoder.Running()
	} else {
		v.Geocoding = true
	}
	return v, has
}

// Geocodes returns the geocoder's published output.
func (e *Enricher) Geocodes() geocode.Result {
	if e.geocoder == nil {
		return geocode.Result{Coordinates: map[string]model.Coordinate{}}
	}
	return e.geocoder.Snapshot()
}

// ForgetLocation removes a permanent geocode cache entry.
func (e *Enricher) ForgetLocation(location string) bool {
	if e.geocoder == nil {
		return false
	}
	return e.geocoder.Forget(location)
}

// Wait blocks until background geocoding started so far has finished.
func (e *Enricher) Wait() {
	e.wg.Wait()
}

// Close stops background geocoding and waits for it.
func (e *Enricher) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	if e.geocoder != nil {
		e.geocoder.Cancel()
	}
	e.wg.Wait()
}
