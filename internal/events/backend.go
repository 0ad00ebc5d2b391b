package events

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"aircal/internal/breaker"
	appLog "aircal/internal/log"
	"aircal/internal/model"
)

const maxBackendResponseBytes = 16 << 20

// naiveLayouts are tried in the display zone for timestamps without offset.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// BackendSource reads expanded events from the AirCal backend API.
type BackendSource struct {
	base     string
	defaults []string
	client   *http.Client
	location *time.Location
	cb       *gobreaker.CircuitBreaker[[]byte]
}

type backendEvent struct {
	UID         string `json:"uid"`
	CalendarID  string `json:"calendar_id"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Start       string `json:"start"`
	End         string `json:"end"`
	AllDay      bool   `json:"all_day"`
}

type backendResponse struct {
	Events []backendEvent `json:"events"`
}

// NewBackendSource talks to base (e.g. http://localhost:8000). calendarIDs
// apply when a request names none. Naive timestamps are read in loc
// (time.Local when nil).
func NewBackendSource(base string, calendarIDs []string, timeout time.Duration, loc *time.Location) *BackendSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	return &BackendSource{
		base:     strings.TrimRight(base, "/"),
		defaults: calendarIDs,
		client:   &http.Client{Timeout: timeout},
		location: loc,
		cb:       breaker.New[[]byte]("backend", breaker.Settings{}),
	}
}

func (b *BackendSource) Events(ctx context.Context, start, end time.Time, calendarIDs []string) ([]model.Event, error) {
	q := url.Values{}
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", end.Format(time.RFC3339))
	if len(calendarIDs) == 0 {
		calendarIDs = b.defaults
	}
	if len(calendarIDs) > 0 {
		q.Set("calendar_ids", strings.Join(calendarIDs, ","))
	}
	u := b.base + "/api/events?" + q.Encode()

	body, err := b.cb.Execute(func() ([]byte, error) {
		return b.get(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	var resp backendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode backend events: %w", err)
	}

	out := make([]model.Event, 0, len(resp.Events))
	for _, be := range resp.Events {
		out = append(out, model.Event{
			UID:         be.UID,
			CalendarID:  be.CalendarID,
			Summary:     be.Summary,
			Description: be.Description,
			Location:    be.Location,
			Start:       b.parseTime(be.Start, be.UID),
			End:         b.parseTime(be.End, be.UID),
			AllDay:      be.AllDay,
		})
	}
	return out, nil
}

func (b *BackendSource) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend request: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	return body, nil
}

// parseTime accepts RFC3339 or a naive ISO timestamp in the display zone.
// Anything else yields the zero time.
func (b *BackendSource) parseTime(v, uid string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.In(b.location)
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, v, b.location); err == nil {
			return t
		}
	}
	appLog.Warn("backend event timestamp unparseable", "uid", uid, "value", v)
	return time.Time{}
}
