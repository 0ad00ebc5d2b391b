package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	appLog "aircal/internal/log"
	"aircal/internal/store"
)

// Subscription is a single ICS feed.
type Subscription struct {
	// ID becomes the CalendarID of the feed's events.
	ID  string
	URL string
}

// FetchResult is the outcome of fetching one subscription.
type FetchResult struct {
	Subscription Subscription
	Body         []byte
	FromCache    bool // true when the stored body was reused
}

// validators holds the HTTP cache validators for one feed URL.
type validators struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads ICS feeds with conditional requests and keeps the last
// good body in a store so a failing feed still yields events.
type Fetcher struct {
	client *http.Client
	store  store.Store
}

func NewFetcher(s store.Store, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		store:  s,
	}
}

// FetchAll fetches every subscription. Failed feeds are logged, left out of
// the results and reported in the error slice.
func (f *Fetcher) FetchAll(ctx context.Context, subs []Subscription) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(subs))
	errs := make([]error, 0)

	for _, sub := range subs {
		res, err := f.FetchOne(ctx, sub)
		if err != nil {
			errs = append(errs, fmt.Errorf("ics %s: %w", sub.ID, err))
			appLog.Error("ics fetch failed", err, "id", sub.ID, "url", redactURL(sub.URL))
			continue
		}
		results = append(results, res)
	}

	return results, errs
}

// FetchOne fetches one feed, sending If-None-Match / If-Modified-Since from
// the stored validators. On 304, network errors and non-OK statuses the
// stored body is returned when there is one.
func (f *Fetcher) FetchOne(ctx context.Context, sub Subscription) (FetchResult, error) {
	if sub.URL == "" {
		return FetchResult{}, errors.New("subscription URL is empty")
	}

	meta := f.loadValidators(sub.URL)
	cachedBody, _ := f.store.Read(bodyKey(sub.URL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sub.URL, http.NoBody)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("ics fetch start", "id", sub.ID, "url", redactURL(sub.URL))

	stale := func(reason error) (FetchResult, error) {
		if len(cachedBody) == 0 {
			return FetchResult{}, reason
		}
		appLog.Warn("ics fetch degraded; using stored body", "id", sub.ID, "url", redactURL(sub.URL), "reason", reason.Error())
		return FetchResult{Subscription: sub, Body: cachedBody, FromCache: true}, nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return stale(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return stale(err)
		}
		f.save(sub, validators{
			URL:          sub.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}, body)
		appLog.Info("ics fetch success", "id", sub.ID, "url", redactURL(sub.URL), "bytes", len(body))
		return FetchResult{Subscription: sub, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no stored body")
		}
		appLog.Debug("ics not modified", "id", sub.ID)
		return FetchResult{Subscription: sub, Body: cachedBody, FromCache: true}, nil

	default:
		return stale(errors.New(resp.Status))
	}
}

func (f *Fetcher) loadValidators(url string) validators {
	var v validators
	data, err := f.store.Read(metaKey(url))
	if err != nil {
		return v
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return validators{}
	}
	return v
}

// save writes the body before the validators so validators never describe a
// body that is not stored.
func (f *Fetcher) save(sub Subscription, meta validators, body []byte) {
	if err := f.store.Write(bodyKey(sub.URL), body); err != nil {
		appLog.Error("ics body store failed", err, "id", sub.ID)
		return
	}
	data, err := json.Marshal(&meta)
	if err != nil {
		return
	}
	if err := f.store.Write(metaKey(sub.URL), data); err != nil {
		appLog.Error("ics validators store failed", err, "id", sub.ID)
	}
}

func bodyKey(url string) string { return "ics-body:" + url }
func metaKey(url string) string { return "ics-meta:" + url }

// redactURL keeps only scheme and host of a feed URL; private feed URLs
// carry secrets in their path or query.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
