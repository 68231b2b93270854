package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"calgrid/internal/cache"
	"calgrid/internal/config"
	"calgrid/internal/conflict"
	"calgrid/internal/i18n"
	"calgrid/internal/ics"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/push"
	"calgrid/internal/service"
	"calgrid/internal/store"
	"calgrid/internal/store/postgres"
	"calgrid/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	envPath    string
	listen     string
	dataDir    string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("calgrid starting", "version", version)

	if err := config.LoadDotenv(flags.envPath); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envPath)
		os.Exit(1)
	}
	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"business_timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"ics_count", len(conf.ICS),
		"storage", conf.Storage.Driver,
		"cache", conf.Cache.Driver,
		"push", conf.PushURL != "",
		"remote_conflicts", conf.Conflicts.RemoteURL != "",
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("calgrid stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("calgrid exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	zone, err := conf.Zone()
	if err != nil {
		return err
	}

	events, closeStore, err := openStore(ctx, conf)
	if err != nil {
		return err
	}
	defer closeStore()

	dayCache, closeCache, err := openCache(ctx, conf)
	if err != nil {
		return err
	}
	defer closeCache()

	var conflicts conflict.Source
	if conf.Conflicts.RemoteURL != "" {
		conflicts = conflict.NewHTTPSource(conf.Conflicts.RemoteURL)
	}

	svc, err := service.New(service.Options{
		Events:    events,
		Cache:     dayCache,
		Conflicts: conflicts,
		Zone:      zone,
		WorkDay:   conf.WorkDay,
		Layout:    conf.LayoutOptions(),
		Debounce:  conf.Conflicts.Debounce,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	feed := &ics.Feed{
		Fetcher: ics.NewFetcher(filepath.Join(flags.dataDir, "ics-cache")),
		Parser:  ics.NewParser(zone),
		Store:   events,
		Sources: icsSources(conf),
		OnReplace: func(ctx context.Context, before, after []model.Event) {
			if err := svc.InvalidateEvents(ctx, before, after); err != nil {
				appLog.Warn("availability cache invalidation failed", "err", err)
			}
		},
	}
	refresh := func() {
		n, err := feed.Refresh(ctx)
		if err != nil {
			appLog.Error("ics refresh finished with errors", err, "events", n)
			return
		}
		appLog.Info("ics refresh done", "events", n)
	}
	if len(feed.Sources) > 0 {
		refresh()
	}
	if flags.once {
		return nil
	}

	sched := cron.New()
	if len(feed.Sources) > 0 {
		if _, err := sched.AddFunc(conf.RefreshCron, refresh); err != nil {
			return err
		}
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	if conf.PushURL != "" {
		listener := push.NewListener(conf.PushURL, svc.ApplyMutation)
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("push listener stopped", err)
			}
		}()
	}

	srv := web.NewServer(conf, svc, i18n.NewTranslator(conf.Locale))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, conf *config.Config) (store.ReadWriter, func(), error) {
	if conf.Storage.Driver != "postgres" {
		return store.NewMemory(), func() {}, nil
	}
	if conf.Storage.Migrate {
		if err := postgres.RunMigrations(conf.Storage.DSN); err != nil {
			return nil, nil, err
		}
		appLog.Info("database migrations applied")
	}
	pool, err := postgres.NewPool(ctx, conf.Storage.DSN)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewEventRepository(pool), pool.Close, nil
}

func openCache(ctx context.Context, conf *config.Config) (cache.DayCache, func(), error) {
	if conf.Cache.Driver != "redis" {
		return cache.NewMemory(conf.Cache.TTL), func() {}, nil
	}
	client, err := cache.Dial(ctx, conf.Cache.Addr, conf.Cache.Password, conf.Cache.DB)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			appLog.Warn("redis close failed", "err", err)
		}
	}
	return cache.NewRedis(client, conf.Cache.Prefix, conf.Cache.TTL), closeFn, nil
}

func icsSources(conf *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		if c.URL == "" {
			continue
		}
		out = append(out, ics.Source{ID: c.ID, URL: c.URL, CalendarID: c.CalendarID})
	}
	return out
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calgrid/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envPath, "env", ".env", "Optional .env file with secrets")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.dataDir, "data-dir", "/var/lib/calgrid", "Directory for cached ICS feeds")
	flag.BoolVar(&cfg.once, "once", false, "Refresh ICS subscriptions once and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging")

	flag.Parse()

	return cfg
}
