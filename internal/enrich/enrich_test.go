package enrich

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aircal/internal/cache"
	"aircal/internal/cover"
	"aircal/internal/events"
	"aircal/internal/geocode"
	"aircal/internal/model"
	"aircal/internal/store"
)

type staticSource struct {
	events []model.Event
	err    error
}

func (s staticSource) Events(context.Context, time.Time, time.Time, []string) ([]model.Event, error) {
	return s.events, s.err
}

func at(day, hour int) time.Time {
	return time.Date(2025, 3, day, hour, 0, 0, 0, time.UTC)
}

func trip() []model.Event {
	return []model.Event{
		{UID: "1", Summary: "Flight", Location: "NYC", Start: at(1, 9), End: at(1, 11)},
		{UID: "2", Summary: "Dinner", Start: at(2, 19), End: at(2, 21)},
		{UID: "3", Summary: "Museum", Location: "Paris", Start: at(3, 10), End: at(3, 12)},
	}
}

func newEnricher(src events.Source, resolve geocode.ResolverFunc) *Enricher {
	s := store.NewMemoryStore()
	geo := geocode.NewService(cache.LoadGeocode(s), resolve, geocode.Options{
		Sleep: func(context.Context, time.Duration) error { return nil },
	})
	covers := cover.NewService(cache.LoadCover(s, 0, nil), cover.NewPicsum("https://img.test", false, 0), "https://img.test", 0, 0)
	return New(src, geo, covers)
}

func TestRefresh_BuildsViewAndGeocodes(t *testing.T) {
	coords := map[string]model.Coordinate{
		"NYC":   {Lat: 40.7, Lng: -74.0},
		"Paris": {Lat: 48.85, Lng: 2.35},
	}
	e := newEnricher(staticSource{events: trip()}, func(_ context.Context, text string) (model.Coordinate, bool, error) {
		c, ok := coords[text]
		return c, ok, nil
	})
	defer e.Close()

	v, err := e.Refresh(context.Background(), Window{Start: at(1, 0), End: at(10, 0)})
	require.NoError(t, err)
	assert.NotEmpty(t, v.RunID)
	require.Len(t, v.Spans, 2)
	assert.Equal(t, "NYC", v.Spans[0].Location)
	assert.Equal(t, "Paris", v.Spans[1].Location)
	assert.Len(t, v.Covers, 2)
	assert.Contains(t, v.Covers["Flight"], "https://img.test/seed/")

	e.Wait()
	v = e.View()
	assert.Equal(t, coords, v.Coordinates)
	assert.False(t, v.Geocoding)
	assert.Equal(t, geocode.Fingerprint([]string{"Paris", "NYC"}), e.Geocodes().Fingerprint)
}

func TestRefresh_SourceFailureKeepsPreviousView(t *testing.T) {
	src := &switchSource{events: trip()}
	e := newEnricher(src, func(context.Context, string) (model.Coordinate, bool, error) {
		return model.Coordinate{}, false, nil
	})
	defer e.Close()

	first, err := e.Refresh(context.Background(), Window{Start: at(1, 0), End: at(10, 0)})
	require.NoError(t, err)

	src.err = errors.New("backend down")
	_, err = e.Refresh(context.Background(), Window{Start: at(1, 0), End: at(10, 0)})
	require.Error(t, err)

	v, ok := e.Latest()
	assert.True(t, ok)
	assert.Equal(t, first.RunID, v.RunID)
}

func cityDays(city string) []model.Event {
	return []model.Event{
		{UID: city + "-1", Summary: "Meetings", Location: city, Start: at(4, 9), End: at(4, 17)},
		{UID: city + "-2", Summary: "Meetings", Start: at(5, 9), End: at(5, 17)},
	}
}

// resolverLog is a resolver that knows every city and records its calls.
type resolverLog struct {
	mu    sync.Mutex
	calls []string
}

func (r *resolverLog) resolve(_ context.Context, text string) (model.Coordinate, bool, error) {
	r.mu.Lock()
	r.calls = append(r.calls, text)
	r.mu.Unlock()
	return model.Coordinate{Lat: float64(len(text)), Lng: 1}, true, nil
}

func (r *resolverLog) called(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.calls, text)
}

func TestRefresh_BackToBackFollowsNewestLocations(t *testing.T) {
	// One P keeps both geocoding goroutines queued until Wait.
	prev := runtime.GOMAXPROCS(1)
	t.Cleanup(func() { runtime.GOMAXPROCS(prev) })

	src := &switchSource{events: cityDays("Berlin")}
	geo := &resolverLog{}
	e := newEnricher(src, geo.resolve)
	defer e.Close()

	w := Window{Start: at(1, 0), End: at(10, 0)}
	_, err := e.Refresh(context.Background(), w)
	require.NoError(t, err)
	src.events = cityDays("Tokyo")
	_, err = e.Refresh(context.Background(), w)
	require.NoError(t, err)
	e.Wait()

	v := e.View()
	require.Len(t, v.Spans, 1)
	assert.Equal(t, "Tokyo", v.Spans[0].Location)
	assert.Equal(t, v.Fingerprint, e.Geocodes().Fingerprint)
	assert.Equal(t, map[string]model.Coordinate{"Tokyo": {Lat: 5, Lng: 1}}, v.Coordinates)
	assert.False(t, v.Geocoding)
}

// gatedSource serves Berlin to requests for the "slow" calendar once
// release is closed, and Tokyo to everything else at once.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
}

func (s gatedSource) Events(_ context.Context, _, _ time.Time, calendarIDs []string) ([]model.Event, error) {
	if slices.Contains(calendarIDs, "slow") {
		close(s.entered)
		<-s.release
		return cityDays("Berlin"), nil
	}
	return cityDays("Tokyo"), nil
}

func TestRefresh_LateFinishingRefreshKeepsNewerView(t *testing.T) {
	src := gatedSource{entered: make(chan struct{}), release: make(chan struct{})}
	geo := &resolverLog{}
	e := newEnricher(src, geo.resolve)
	defer e.Close()

	type outcome struct {
		v   View
		err error
	}
	late := make(chan outcome, 1)
	go func() {
		v, err := e.Refresh(context.Background(), Window{Start: at(1, 0), End: at(10, 0), CalendarIDs: []string{"slow"}})
		late <- outcome{v, err}
	}()
	<-src.entered

	newer, err := e.Refresh(context.Background(), Window{Start: at(1, 0), End: at(10, 0)})
	require.NoError(t, err)

	close(src.release)
	got := <-late
	require.NoError(t, got.err)
	assert.Equal(t, newer.RunID, got.v.RunID)

	e.Wait()
	v := e.View()
	assert.Equal(t, newer.RunID, v.RunID)
	require.Len(t, v.Spans, 1)
	assert.Equal(t, "Tokyo", v.Spans[0].Location)
	assert.Equal(t, v.Fingerprint, e.Geocodes().Fingerprint)
	assert.False(t, geo.called("Berlin"))
}

func TestLatest_BeforeFirstRefresh(t *testing.T) {
	e := New(staticSource{}, nil, nil)
	defer e.Close()

	v, ok := e.Latest()
	assert.False(t, ok)
	assert.Empty(t, v.Spans)
	assert.NotNil(t, v.Coordinates)
	assert.False(t, e.ForgetLocation("NYC"))
}

func TestRefresh_WithoutOptionalStages(t *testing.T) {
	e := New(staticSource{events: trip()}, nil, nil)
	defer e.Close()

	v, err := e.Refresh(context.Background(), Window{})
	require.NoError(t, err)
	assert.Len(t, v.Spans, 2)
	assert.Empty(t, v.Covers)
	assert.Empty(t, v.Coordinates)
}

func TestWindowAround(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 2025-03-01 20:00 UTC is already 03-02 in Tokyo.
	w := WindowAround(time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC), tokyo, 1, 7)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, tokyo), w.Start)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, tokyo), w.End)
}

type switchSource struct {
	events []model.Event
	err    error
}

func (s *switchSource) Events(context.Context, time.Time, time.Time, []string) ([]model.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}
