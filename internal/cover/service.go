package cover

import (
	"context"

	"aircal/internal/cache"
	appLog "aircal/internal/log"
	"aircal/internal/metrics"
	"aircal/internal/model"
)

const (
	DefaultWidth  = 800
	DefaultHeight = 400
)

// Service hands out cover entries per event type, backed by a TTL cache.
type Service struct {
	cache    *cache.CoverCache
	source   ImageSource
	fallback *Picsum
	width    int
	height   int
}

// NewService wires a cover service. When source fails, a non-resolving
// Picsum with fallbackEndpoint builds the URL locally.
func NewService(c *cache.CoverCache, source ImageSource, fallbackEndpoint string, width, height int) *Service {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &Service{
		cache:    c,
		source:   source,
		fallback: NewPicsum(fallbackEndpoint, false, 0),
		width:    width,
		height:   height,
	}
}

// CoverFor returns the cover for ev's event type. A fresh cache entry is
// returned as is; otherwise keywords and URL are recomputed and stored.
func (s *Service) CoverFor(ctx context.Context, ev model.Event) cache.CoverEntry {
	key := EventTypeKey(ev.Summary)
	if e, ok := s.cache.Get(key); ok {
		metrics.CoverLookups.WithLabelValues("hit").Inc()
		return e
	}
	metrics.CoverLookups.WithLabelValues("miss").Inc()

	keywords := ExtractKeywords(ev.Summary, ev.Description, ev.Location)
	if len(keywords) == 0 {
		keywords = append([]string(nil), FallbackKeywords...)
	}
	seed := Seed(keywords)

	imageURL, err := s.source.ImageFor(ctx, seed, s.width, s.height)
	if err != nil {
		appLog.Error("cover image lookup failed; using seed url", err, "event_type", key, "seed", seed)
		metrics.CoverLookups.WithLabelValues("fallback").Inc()
		imageURL = s.fallback.SeedURL(seed, s.width, s.height)
	}

	entry := cache.CoverEntry{
		Keywords:  keywords,
		ImageURL:  imageURL,
		FetchedAt: s.cache.Now(),
	}
	if err != nil && ctx.Err() != nil {
		// Cancelled by the caller; the next lookup tries the source again.
		return entry
	}
	s.cache.Put(key, entry)
	appLog.Debug("cover computed", "event_type", key, "keywords", keywords, "url", imageURL)
	return entry
}

// Covers maps each span representative's summary to its image URL. Each
// event type is looked up at most once per call.
func (s *Service) Covers(ctx context.Context, spans []model.LocationSpan) map[string]string {
	out := make(map[string]string, len(spans))
	byKey := make(map[string]string)
	for _, span := range spans {
		ev := span.Representative
		key := EventTypeKey(ev.Summary)
		u, ok := byKey[key]
		if !ok {
			u = s.CoverFor(ctx, ev).ImageURL
			byKey[key] = u
		}
		out[ev.Summary] = u
	}
	return out
}
