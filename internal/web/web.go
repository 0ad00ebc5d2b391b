package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aircal/internal/config"
	"aircal/internal/enrich"
	"aircal/internal/geocode"
	appLog "aircal/internal/log"
	"aircal/internal/model"
)

const (
	spansCacheTTL = 30 * time.Second
	// apiRateLimit is per client IP per minute.
	apiRateLimit = 120
)

// Pipeline is the part of the enricher the API serves.
type Pipeline interface {
	Refresh(ctx context.Context, w enrich.Window) (enrich.View, error)
	Latest() (enrich.View, bool)
	Geocodes() geocode.Result
	ForgetLocation(location string) bool
}

// Server provides the HTTP API over the enrichment pipeline.
type Server struct {
	cfg      *config.Config
	pipeline Pipeline
	window   func() enrich.Window
	router   chi.Router

	// In-memory cache for /api/spans responses. Responses are only cached
	// once geocoding has settled.
	spansMu    sync.RWMutex
	spansCache *spansCache
}

// NewServer constructs a new Server. window yields the range for refreshes
// triggered through the API.
func NewServer(cfg *config.Config, p Pipeline, window func() enrich.Window) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		window:   window,
	}
	s.router = s.routes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if s.basicAuthEnabled() {
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(apiRateLimit, time.Minute))
		r.Get("/spans", s.handleSpans)
		r.Get("/geocodes", s.handleGeocodes)
		r.Delete("/geocodes/{location}", s.handleForgetGeocode)
		r.Get("/covers", s.handleCovers)
		r.Post("/refresh", s.handleRefresh)
	})

	return r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="AirCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// spanDTO is a span with its cover and coordinate attached.
type spanDTO struct {
	Location       string            `json:"location"`
	StartDate      model.Date        `json:"start_date"`
	EndDate        model.Date        `json:"end_date"`
	TotalMinutes   int64             `json:"total_minutes"`
	Representative model.Event       `json:"representative"`
	Anchor         model.Event       `json:"anchor"`
	Events         []model.Event     `json:"events"`
	CoverURL       string            `json:"cover_url,omitempty"`
	Coordinate     *model.Coordinate `json:"coordinate,omitempty"`
}

type spansResponse struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	RangeStart  time.Time `json:"range_start"`
	RangeEnd    time.Time `json:"range_end"`
	Geocoding   bool      `json:"geocoding"`
	Spans       []spanDTO `json:"spans"`
}

type spansCache struct {
	resp      spansResponse
	updatedAt time.Time
}

// handleSpans returns the latest spans. Before the first refresh one is run
// synchronously.
func (s *Server) handleSpans(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	s.spansMu.RLock()
	sc := s.spansCache
	s.spansMu.RUnlock()
	if sc != nil && now.Sub(sc.updatedAt) < spansCacheTTL {
		writeJSON(w, http.StatusOK, sc.resp)
		return
	}

	v, ok := s.pipeline.Latest()
	if !ok {
		var err error
		if v, err = s.pipeline.Refresh(r.Context(), s.window()); err != nil {
			writeError(w, http.StatusBadGateway, "failed to load events")
			return
		}
	}

	resp := toSpansResponse(v)
	if !v.Geocoding {
		s.spansMu.Lock()
		s.spansCache = &spansCache{resp: resp, updatedAt: time.Now()}
		s.spansMu.Unlock()
	}
	writeJSON(w, http.StatusOK, resp)
}

func toSpansResponse(v enrich.View) spansResponse {
	dtos := make([]spanDTO, 0, len(v.Spans))
	for _, sp := range v.Spans {
		d := spanDTO{
			Location:       sp.Location,
			StartDate:      sp.StartDate,
			EndDate:        sp.EndDate,
			TotalMinutes:   sp.TotalMinutes,
			Representative: sp.Representative,
			Anchor:         sp.Anchor,
			Events:         sp.Events,
			CoverURL:       v.Covers[sp.Representative.Summary],
		}
		if c, ok := v.Coordinates[sp.Location]; ok {
			d.Coordinate = &c
		}
		dtos = append(dtos, d)
	}
	return spansResponse{
		RunID:       v.RunID,
		GeneratedAt: v.GeneratedAt,
		RangeStart:  v.RangeStart,
		RangeEnd:    v.RangeEnd,
		Geocoding:   v.Geocoding,
		Spans:       dtos,
	}
}

func (s *Server) handleGeocodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Geocodes())
}

// handleForgetGeocode clears one permanent geocode cache entry, including
// entries cached as unresolvable.
func (s *Server) handleForgetGeocode(w http.ResponseWriter, r *http.Request) {
	loc, err := url.PathUnescape(chi.URLParam(r, "location"))
	if err != nil || loc == "" {
		writeError(w, http.StatusBadRequest, "invalid location")
		return
	}
	if !s.pipeline.ForgetLocation(loc) {
		writeError(w, http.StatusNotFound, "location not cached")
		return
	}
	appLog.Info("geocode cache entry cleared", "location", loc)
	s.invalidateSpans()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCovers(w http.ResponseWriter, _ *http.Request) {
	v, _ := s.pipeline.Latest()
	covers := v.Covers
	if covers == nil {
		covers = map[string]string{}
	}
	writeJSON(w, http.StatusOK, covers)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	v, err := s.pipeline.Refresh(r.Context(), s.window())
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to load events")
		return
	}
	s.invalidateSpans()
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) invalidateSpans() {
	s.spansMu.Lock()
	s.spansCache = nil
	s.spansMu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
