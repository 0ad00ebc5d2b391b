package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v3"

	"aircal/internal/config"
	appLog "aircal/internal/log"
	"aircal/internal/web"
)

const version = "0.1.0"

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := rootCommand().Run(ctx, os.Args); err != nil {
		appLog.Error("aircal failed", err)
		os.Exit(1)
	}
}

func rootCommand() *cli.Command {
	var cfg *config.Config

	return &cli.Command{
		Name:    "aircal",
		Usage:   "enrich calendar events with location spans, coordinates and cover images",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "/etc/aircal/config.yaml",
				Usage:   "path to config file",
				Sources: cli.EnvVars("AIRCAL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file with AIRCAL_* overrides",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "HTTP listen address (overrides config if set)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "debug logging to the console",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			loaded, err := loadConfig(cmd)
			if err != nil {
				return ctx, err
			}
			cfg = loaded
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve the API and refresh on the configured schedule",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return serve(ctx, cfg)
				},
			},
			{
				Name:  "enrich",
				Usage: "run one refresh, wait for geocoding and print the result as JSON",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return enrichOnce(ctx, cfg, true)
				},
			},
			{
				Name:  "spans",
				Usage: "print location spans without geocoding or cover lookups",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return enrichOnce(ctx, cfg, false)
				},
			},
		},
	}
}

// loadConfig applies, in order: YAML file, .env / AIRCAL_* variables, flags.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	if err := config.LoadEnvFile(cmd.String("env-file")); err != nil {
		return nil, err
	}

	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", path)
		return nil, err
	}
	cfg.ApplyEnv()

	// CLI --listen overrides config file listen if provided.
	if l := cmd.String("listen"); l != "" {
		cfg.Listen = l
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if cmd.Bool("debug") {
		level, format = "debug", "console"
	}
	appLog.Configure(os.Stderr, format, level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appLog.Info("effective config",
		"config_path", path,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"horizon_days", cfg.HorizonDays,
		"backfill_days", cfg.BackfillDays,
		"ics_count", len(cfg.ICS),
		"backend", cfg.Backend.URL != "",
		"geocode", cfg.Geocode.Enabled,
		"cache_driver", cfg.Cache.Driver,
	)
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := cron.New(cron.WithLocation(a.loc))
	if _, err := sched.AddFunc(cfg.RefreshCron, func() {
		if _, err := a.refresh(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		<-sched.Stop().Done()
	}()

	// Initial refresh so the API has data before the first tick.
	go func() {
		if _, err := a.refresh(ctx); err != nil {
			appLog.Error("initial refresh failed", err)
		}
	}()

	srv := web.NewServer(cfg, a.enricher, a.window)
	err = srv.Run(ctx)
	appLog.Info("aircal exiting")
	return err
}

// enrichOnce refreshes once and prints the view. With enrichment it waits
// for the background geocoding run first.
func enrichOnce(ctx context.Context, cfg *config.Config, enrichment bool) error {
	a, err := newApp(cfg, enrichment)
	if err != nil {
		return err
	}
	defer a.Close()

	// Interrupts stop the background geocoding run so Wait returns.
	stop := context.AfterFunc(ctx, a.enricher.Close)
	defer stop()

	started := time.Now()
	if _, err := a.refresh(ctx); err != nil {
		return err
	}
	a.enricher.Wait()

	v := a.enricher.View()
	appLog.Info("enrichment complete", "spans", len(v.Spans), "coordinates", len(v.Coordinates), "elapsed", time.Since(started).String())

	var out any = v
	if !enrichment {
		out = v.Spans
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = os.Stdout.Write(data)
	return err
}
