package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"aircal/internal/model"
)

const (
	DefaultNominatimEndpoint = "https://nominatim.openstreetmap.org"
	defaultUserAgent         = "aircal-enrich/0.1"
	maxResponseBytes         = 1 << 20
)

// Nominatim resolves locations with an OpenStreetMap Nominatim compatible
// search endpoint.
type Nominatim struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

// nominatimPlace is one element of the jsonv2 search response.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// NewNominatim builds a resolver. Empty arguments select the public
// endpoint and a default User-Agent (Nominatim's usage policy requires one).
func NewNominatim(endpoint, userAgent string, timeout time.Duration) *Nominatim {
	if endpoint == "" {
		endpoint = DefaultNominatimEndpoint
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Nominatim{
		client:    &http.Client{Timeout: timeout},
		endpoint:  strings.TrimRight(endpoint, "/"),
		userAgent: userAgent,
	}
}

func (n *Nominatim) Resolve(ctx context.Context, text string) (model.Coordinate, bool, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint+"/search?"+q.Encode(), http.NoBody)
	if err != nil {
		return model.Coordinate{}, false, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return model.Coordinate{}, false, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Coordinate{}, false, fmt.Errorf("geocode request: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.Coordinate{}, false, fmt.Errorf("read geocode response: %w", err)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return model.Coordinate{}, false, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(places) == 0 {
		return model.Coordinate{}, false, nil
	}

	lat, errLat := strconv.ParseFloat(places[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(places[0].Lon, 64)
	if err := errors.Join(errLat, errLng); err != nil {
		return model.Coordinate{}, false, fmt.Errorf("parse geocode coordinates: %w", err)
	}
	return model.Coordinate{Lat: lat, Lng: lng}, true, nil
}
