package main

import (
	"context"
	"fmt"
	"time"

	"aircal/internal/cache"
	"aircal/internal/config"
	"aircal/internal/cover"
	"aircal/internal/enrich"
	"aircal/internal/events"
	"aircal/internal/geocode"
	"aircal/internal/ics"
	appLog "aircal/internal/log"
	"aircal/internal/model"
	"aircal/internal/store"
)

const (
	geocodeTimeout = 10 * time.Second
	coverTimeout   = 10 * time.Second
	icsTimeout     = 15 * time.Second
)

// app is the wired pipeline for one process.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	store    store.Store
	enricher *enrich.Enricher
}

// buildSource assembles the configured event sources.
func buildSource(cfg *config.Config, st store.Store, loc *time.Location) (events.Source, error) {
	var multi events.Multi

	if len(cfg.ICS) > 0 {
		subs := make([]ics.Subscription, 0, len(cfg.ICS))
		for _, c := range cfg.ICS {
			subs = append(subs, ics.Subscription{ID: c.ID, URL: c.URL})
		}
		multi = append(multi, events.Named{
			Name:   "ics",
			Source: events.NewICSSource(subs, ics.NewFetcher(st, icsTimeout), loc),
		})
	}
	if cfg.Backend.URL != "" {
		multi = append(multi, events.Named{
			Name:   "backend",
			Source: events.NewBackendSource(cfg.Backend.URL, cfg.Backend.CalendarIDs, cfg.BackendTimeout(), loc),
		})
	}

	if len(multi) == 0 {
		return nil, events.ErrNoSources
	}
	return multi, nil
}

// newApp opens the store and wires the pipeline. With enrichment off only
// spans are built; the geocoder and image endpoint are never contacted.
func newApp(cfg *config.Config, enrichment bool) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Cache.Driver, cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", cfg.Cache.Driver, err)
	}

	source, err := buildSource(cfg, st, loc)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var (
		geo    *geocode.Service
		covers *cover.Service
	)
	if enrichment {
		if cfg.Geocode.Enabled {
			geo = geocode.NewService(
				cache.LoadGeocode(st),
				geocode.NewNominatim(cfg.Geocode.Endpoint, cfg.Geocode.UserAgent, geocodeTimeout),
				geocode.Options{
					Delay: cfg.GeocodeDelay(),
					Publish: func(_ string, coords map[string]model.Coordinate) {
						appLog.Debug("geocode output published", "coordinates", len(coords))
					},
				},
			)
		}
		covers = cover.NewService(
			cache.LoadCover(st, cfg.CoverTTL(), nil),
			cover.NewPicsum(cfg.Cover.Endpoint, cfg.Cover.Resolve, coverTimeout),
			cfg.Cover.Endpoint,
			cfg.Cover.Width,
			cfg.Cover.Height,
		)
	}

	return &app{
		cfg:      cfg,
		loc:      loc,
		store:    st,
		enricher: enrich.New(source, geo, covers),
	}, nil
}

// window is the refresh range as of now.
func (a *app) window() enrich.Window {
	return enrich.WindowAround(time.Now(), a.loc, a.cfg.BackfillDays, a.cfg.HorizonDays)
}

func (a *app) refresh(ctx context.Context) (enrich.View, error) {
	return a.enricher.Refresh(ctx, a.window())
}

func (a *app) Close() {
	a.enricher.Close()
	if err := a.store.Close(); err != nil {
		appLog.Error("cache close failed", err)
	}
}
