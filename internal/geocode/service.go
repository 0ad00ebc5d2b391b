// Package geocode resolves free-text event locations to coordinates through
// a permanent local cache and a rate-limited external resolver.
package geocode

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"aircal/internal/cache"
	appLog "aircal/internal/log"
	"aircal/internal/metrics"
	"aircal/internal/model"
)

// DefaultDelay separates consecutive external requests within a run.
const DefaultDelay = 100 * time.Millisecond

const fingerprintSep = "\x1f"

// Resolver looks up one location. ok=false with a nil error means the
// resolver answered but found nothing.
type Resolver interface {
	Resolve(ctx context.Context, text string) (coord model.Coordinate, ok bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, text string) (model.Coordinate, bool, error)

func (f ResolverFunc) Resolve(ctx context.Context, text string) (model.Coordinate, bool, error) {
	return f(ctx, text)
}

// Publisher receives every published output set. It is called with the
// service lock held and must not call back into the Service.
type Publisher func(fingerprint string, coords map[string]model.Coordinate)

// Options configures a Service.
type Options struct {
	// Delay between consecutive resolver calls; DefaultDelay when zero.
	Delay   time.Duration
	Publish Publisher
	// Sleep waits between requests; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Result is a published output set.
type Result struct {
	Fingerprint string                      `json:"fingerprint"`
	Coordinates map[string]model.Coordinate `json:"coordinates"`
}

// Service runs geocoding passes over a location set. Only the most recent
// run may change the published output; older runs stop cooperatively.
type Service struct {
	cache    *cache.GeocodeCache
	resolver Resolver
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	publish  Publisher

	mu          sync.Mutex
	gen         uint64
	running     bool
	fingerprint string
	output      map[string]model.Coordinate
}

func NewService(c *cache.GeocodeCache, r Resolver, opts Options) *Service {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Service{
		cache:    c,
		resolver: r,
		delay:    opts.Delay,
		sleep:    opts.Sleep,
		publish:  opts.Publish,
		output:   make(map[string]model.Coordinate),
	}
}

// Normalize trims, drops blanks, deduplicates and sorts locations.
func Normalize(locations []string) []string {
	seen := make(map[string]struct{}, len(locations))
	out := make([]string, 0, len(locations))
	for _, l := range locations {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Fingerprint identifies a location set independent of order and duplicates.
func Fingerprint(locations []string) string {
	return strings.Join(Normalize(locations), fingerprintSep)
}

// Run geocodes locations and returns the published output as of its return.
// It is Begin followed by Continue.
//
// If a run for the same location set is already in progress, Run returns
// its current output without starting another. Otherwise any older run is
// superseded: the published output is reset and the older run stops before
// its next step.
//
// Cached coordinates are published first in a single step. Uncached
// locations are then resolved one by one with Delay between requests; each
// outcome is written to the cache (failures as unresolvable) and the output
// is republished. Locations cached as unresolvable are not retried.
func (s *Service) Run(ctx context.Context, locations []string) Result {
	run, ok := s.Begin(locations)
	if !ok {
		return s.Snapshot()
	}
	return s.Continue(ctx, run)
}

// Claim is a run that Begin has made current.
type Claim struct {
	gen  uint64
	locs []string
}

// Begin makes locations the current run without doing any work, so callers
// can fix the supersession order before handing the run to a goroutine.
// It returns false when a run for the same location set is in progress.
// Every true result must be followed by Continue.
func (s *Service) Begin(locations []string) (Claim, bool) {
	locs := Normalize(locations)
	fp := strings.Join(locs, fingerprintSep)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.fingerprint == fp {
		return Claim{}, false
	}
	if s.running {
		metrics.GeocodeRunsSuperseded.Inc()
		appLog.Debug("geocode run superseded", "old_locations", strings.Count(s.fingerprint, fingerprintSep)+1)
	}
	s.gen++
	s.running = true
	s.fingerprint = fp
	s.output = make(map[string]model.Coordinate, len(locs))
	return Claim{gen: s.gen, locs: locs}, true
}

// Continue performs the run claimed by Begin. A claim superseded in the
// meantime returns at its first step without publishing.
func (s *Service) Continue(ctx context.Context, run Claim) Result {
	tok, locs := run.gen, run.locs
	defer s.finish(tok)

	// Cache-only phase.
	hits := make(map[string]model.Coordinate)
	pending := make([]string, 0)
	for _, loc := range locs {
		coord, resolved, found := s.cache.Lookup(loc)
		switch {
		case found && resolved:
			hits[loc] = coord
			metrics.GeocodeCacheLookups.WithLabelValues("hit").Inc()
		case found:
			metrics.GeocodeCacheLookups.WithLabelValues("negative").Inc()
		default:
			pending = append(pending, loc)
			metrics.GeocodeCacheLookups.WithLabelValues("miss").Inc()
		}
	}
	if !s.publishIfCurrent(ctx, tok, hits) {
		return s.Snapshot()
	}

	appLog.Debug("geocode cache phase done", "locations", len(locs), "hits", len(hits), "pending", len(pending))

	// Resolution phase.
	for i, loc := range pending {
		if !s.current(ctx, tok) {
			return s.Snapshot()
		}

		coord, ok := s.resolveAndCache(ctx, loc)

		var add map[string]model.Coordinate
		if ok {
			add = map[string]model.Coordinate{loc: coord}
		}
		if !s.publishIfCurrent(ctx, tok, add) {
			return s.Snapshot()
		}

		if i < len(pending)-1 {
			if err := s.sleep(ctx, s.delay); err != nil {
				return s.Snapshot()
			}
		}
	}

	return s.Snapshot()
}

// resolveAndCache performs one external lookup and records the outcome.
// The cache is written even when the run has been superseded meanwhile.
func (s *Service) resolveAndCache(ctx context.Context, loc string) (model.Coordinate, bool) {
	coord, ok, err := s.resolver.Resolve(ctx, loc)
	switch {
	case err != nil && ctx.Err() != nil:
		// Our own cancellation, not an answer about loc.
		return model.Coordinate{}, false
	case err != nil:
		appLog.Error("geocode request failed; caching as unresolvable", err, "location", loc)
		metrics.GeocodeRequests.WithLabelValues("error").Inc()
		s.cache.PutUnresolvable(loc)
		return model.Coordinate{}, false
	case !ok:
		appLog.Info("geocode returned no result", "location", loc)
		metrics.GeocodeRequests.WithLabelValues("no_result").Inc()
		s.cache.PutUnresolvable(loc)
		return model.Coordinate{}, false
	default:
		metrics.GeocodeRequests.WithLabelValues("resolved").Inc()
		s.cache.PutResolved(loc, coord)
		return coord, true
	}
}

// publishIfCurrent merges add into the output and publishes it, unless the
// run identified by tok is no longer current.
func (s *Service) publishIfCurrent(ctx context.Context, tok uint64, add map[string]model.Coordinate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.gen != tok {
		return false
	}
	for k, v := range add {
		s.output[k] = v
	}
	if s.publish != nil {
		res := s.snapshotLocked()
		s.publish(res.Fingerprint, res.Coordinates)
	}
	return true
}

func (s *Service) current(ctx context.Context, tok uint64) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == tok
}

func (s *Service) finish(tok uint64) {
	s.mu.Lock()
	if s.gen == tok {
		s.running = false
	}
	s.mu.Unlock()
}

// Cancel supersedes the current run without starting a new one. The
// published output is kept.
func (s *Service) Cancel() {
	s.mu.Lock()
	s.gen++
	s.running = false
	s.mu.Unlock()
}

// Running reports whether a run is in progress.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Snapshot returns a copy of the currently published output.
func (s *Service) Snapshot() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() Result {
	coords := make(map[string]model.Coordinate, len(s.output))
	for k, v := range s.output {
		coords[k] = v
	}
	return Result{Fingerprint: s.fingerprint, Coordinates: coords}
}

// Forget drops location from the permanent cache so the next run that
// includes it asks the resolver again.
func (s *Service) Forget(location string) bool {
	return s.cache.Forget(strings.TrimSpace(location))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
