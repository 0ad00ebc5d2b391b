package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aircal/internal/store"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//aircal//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:trip-1\r\n" +
	"SUMMARY:Flight to Lisbon\r\n" +
	"LOCATION:Lisbon\r\n" +
	"DTSTART:20250303T080000Z\r\n" +
	"DTEND:20250303T110000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:gym\r\n" +
	"SUMMARY:Gym\r\n" +
	"DESCRIPTION:Leg day\r\n" +
	"DTSTART:20250301T180000Z\r\n" +
	"DTEND:20250301T190000Z\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"EXDATE:20250302T180000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:gym\r\n" +
	"RECURRENCE-ID:20250304T180000Z\r\n" +
	"SUMMARY:Gym (moved)\r\n" +
	"DTSTART:20250304T200000Z\r\n" +
	"DTEND:20250304T210000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No UID\r\n" +
	"DTSTART:20250301T180000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday\r\n" +
	"SUMMARY:Holiday\r\n" +
	"DTSTART;VALUE=DATE:20250305\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParse(t *testing.T) {
	comps, err := Parse(Subscription{ID: "personal"}, []byte(sampleICS))
	require.NoError(t, err)
	require.Len(t, comps, 4)

	byUID := map[string]Component{}
	for _, c := range comps {
		if !c.IsOverride() {
			byUID[c.UID] = c
		}
	}
	assert.Equal(t, "personal", byUID["trip-1"].CalendarID)
	assert.Equal(t, "Lisbon", byUID["trip-1"].Location)
	assert.Equal(t, "FREQ=DAILY;COUNT=5", byUID["gym"].RRule)
	assert.Len(t, byUID["gym"].ExDates, 1)
	assert.True(t, byUID["holiday"].AllDay)
	assert.Equal(t, 24*time.Hour, byUID["holiday"].End.Sub(byUID["holiday"].Start))

	_, err = Parse(Subscription{ID: "x"}, nil)
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	comps, err := Parse(Subscription{ID: "personal"}, []byte(sampleICS))
	require.NoError(t, err)

	events, truncated, err := Expand(comps, Window{
		Start:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		Location: time.UTC,
	})
	require.NoError(t, err)
	assert.Empty(t, truncated)

	var gym []string
	for _, e := range events {
		if e.UID == "gym" {
			gym = append(gym, e.Start.Format("01-02 15:04")+" "+e.Summary)
		}
	}
	// 03-02 excluded, 03-04 moved by override
	assert.ElementsMatch(t, []string{
		"03-01 18:00 Gym",
		"03-03 18:00 Gym",
		"03-04 20:00 Gym (moved)",
		"03-05 18:00 Gym",
	}, gym)

	_, _, err = Expand(comps, Window{Start: time.Now(), End: time.Now().Add(-time.Hour)})
	assert.Error(t, err)
}

func TestExpand_CapsInstances(t *testing.T) {
	comps := []Component{{
		UID:   "daily",
		Start: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		RRule: "FREQ=DAILY",
	}}
	events, truncated, err := Expand(comps, Window{
		Start:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		MaxInstances: 3,
	})
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, []string{"daily"}, truncated)
}

func TestFetcher_ConditionalAndStoredFallback(t *testing.T) {
	var hits atomic.Int32
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(store.NewMemoryStore(), time.Second)
	sub := Subscription{ID: "personal", URL: srv.URL + "/private/token.ics"}

	res, err := f.FetchOne(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	res, err = f.FetchOne(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, sampleICS, string(res.Body))

	down.Store(true)
	results, errs := f.FetchAll(context.Background(), []Subscription{sub, {ID: "empty"}})
	require.Len(t, results, 1)
	assert.True(t, results[0].FromCache)
	assert.Len(t, errs, 1)
	assert.EqualValues(t, 3, hits.Load())
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://cal.example.com/...(redacted)", redactURL("https://cal.example.com/u/secret.ics?token=1"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
