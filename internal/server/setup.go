package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/api"
	"github.com/JakeFAU/govwatch/internal/browser"
	"github.com/JakeFAU/govwatch/internal/clock/system"
	"github.com/JakeFAU/govwatch/internal/config"
	"github.com/JakeFAU/govwatch/internal/extract"
	"github.com/JakeFAU/govwatch/internal/fetch"
	"github.com/JakeFAU/govwatch/internal/id/uuid"
	"github.com/JakeFAU/govwatch/internal/logging"
	"github.com/JakeFAU/govwatch/internal/orchestrator"
	kafkapublisher "github.com/JakeFAU/govwatch/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/govwatch/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/govwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/seace"
	"github.com/JakeFAU/govwatch/internal/sessionlog"
	"github.com/JakeFAU/govwatch/internal/sessionlog/sinks"
	"github.com/JakeFAU/govwatch/internal/sourceconfig"
	gcsstorage "github.com/JakeFAU/govwatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/govwatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/govwatch/internal/storage/memory"
	pgstore "github.com/JakeFAU/govwatch/internal/storage/postgres"
)

type alertStore interface {
	scraper.AlertStore
	api.AlertIndex
}

type storeSet struct {
	kv      sourceconfig.KV
	tenders scraper.TenderRepository
	alerts  alertStore
}

// setupStores selects Postgres when a DSN is configured and in-memory stores
// otherwise.
func setupStores(ctx context.Context, app *App) (storeSet, error) {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no database DSN configured, using in-memory stores")
		return storeSet{
			kv:      sourceconfig.NewMemoryKV(),
			tenders: memorystorage.NewTenderStore(),
			alerts:  memorystorage.NewAlertStore(system.New()),
		}, nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return storeSet{}, fmt.Errorf("database init failed: %w", err)
	}
	app.pool = pool
	app.onClose("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	if err := pgstore.Migrate(ctx, pool); err != nil {
		return storeSet{}, fmt.Errorf("database migrate failed: %w", err)
	}
	settings, err := pgstore.NewSettingsStore(pool)
	if err != nil {
		return storeSet{}, err
	}
	tenders, err := pgstore.NewTenderStore(pool)
	if err != nil {
		return storeSet{}, err
	}
	alerts, err := pgstore.NewAlertStore(pool)
	if err != nil {
		return storeSet{}, err
	}
	app.logger.Info("postgres stores initialized",
		zap.Int32("max_conns", app.cfg.Database.MaxConns),
		zap.Duration("max_conn_lifetime", app.cfg.Database.MaxConnLifetime),
	)
	return storeSet{kv: settings, tenders: tenders, alerts: alerts}, nil
}

// seedBootstrap writes configured settings for sources that were never
// configured. Stored settings always win.
func seedBootstrap(ctx context.Context, store *sourceconfig.Store, entries map[string]config.BootstrapEntry, logger *zap.Logger) error {
	for name, entry := range entries {
		name = strings.ToLower(name)
		if !scraper.IsKnownSource(name) {
			logger.Warn("bootstrap entry for unknown source ignored", zap.String("source", name))
			continue
		}
		seeded, err := store.Seed(ctx, name, scraper.SourceConfig{
			Enabled:       entry.Enabled,
			Frequency:     scraper.Frequency(entry.Frequency),
			RetentionDays: entry.RetentionDays,
		})
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", name, err)
		}
		if seeded {
			logger.Info("source settings seeded", zap.String("source", name), zap.Bool("enabled", entry.Enabled))
		}
	}
	return nil
}

func setupSessions(ctx context.Context, app *App) (*sessionlog.Bus, error) {
	cfg := app.cfg
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("session log level: %w", err)
	}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("session metrics sink: %w", err)
	}
	bus := sessionlog.NewBus(sessionlog.Config{
		HistorySize: cfg.Sessions.HistorySize,
		TTL:         cfg.SessionTTL(),
		IDGenerator: uuid.New(),
		Logger:      app.logger.Named("sessions"),
		Hub: sessionlog.HubConfig{
			BufferSize:     cfg.Sessions.BufferSize,
			MaxBatchEvents: cfg.Sessions.BatchMaxEvents,
			MaxBatchWait:   time.Duration(cfg.Sessions.BatchMaxWaitMs) * time.Millisecond,
			SinkTimeout:    time.Duration(cfg.Sessions.SinkTimeoutMs) * time.Millisecond,
			BaseContext:    ctx,
		},
	}, sinks.NewLogSink(app.logger.Named("session_log"), level), promSink)
	app.onClose("session bus", bus.Close)
	app.logger.Info("session log bus initialized",
		zap.Int("history_size", cfg.Sessions.HistorySize),
		zap.Duration("ttl", cfg.SessionTTL()),
		zap.String("sink_level", level.String()),
	)
	return bus, nil
}

func setupBlobStore(ctx context.Context, app *App) (scraper.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.onClose("gcs", func(context.Context) error { return store.Close() })
		app.logger.Info("using GCS snapshot storage", zap.String("bucket", app.cfg.Storage.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local snapshot storage", zap.String("path", app.cfg.Storage.BaseDir))
		return store, nil
	default:
		app.logger.Info("using in-memory snapshot storage")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (scraper.Publisher, error) {
	switch app.cfg.Publisher.Backend {
	case "pubsub":
		pub, err := pubsubpublisher.Open(ctx, app.cfg.Publisher.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.onClose("pubsub", func(context.Context) error { return pub.Close() })
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.Publisher.ProjectID),
			zap.String("topic", app.cfg.Publisher.Topic),
		)
		return pub, nil
	case "kafka":
		pub, err := kafkapublisher.New(kafkapublisher.Config{Brokers: app.cfg.Publisher.KafkaBrokers})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		app.onClose("kafka", func(context.Context) error { return pub.Close() })
		app.logger.Info("Kafka publisher initialized",
			zap.Strings("brokers", app.cfg.Publisher.KafkaBrokers),
			zap.String("topic", app.cfg.Publisher.Topic),
		)
		return pub, nil
	case "none":
		app.logger.Warn("alert publishing disabled")
		return nil, nil
	default:
		app.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	}
}

func setupSources(app *App, blobs scraper.BlobStore) ([]orchestrator.Source, error) {
	cfg := app.cfg
	clock := system.New()

	clientCfg := fetch.ClientConfig{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxRedirects: cfg.Fetch.MaxRedirects,
	}
	fetcher := fetch.NewFetcher(
		fetch.NewStandardClient(clientCfg),
		fetch.NewLegacyClient(clientCfg),
		fetch.NewSelector(cfg.Fetch.LegacyHosts),
		fetch.WithLimiter(fetch.NewHostLimiter(cfg.Fetch.PerHostRPS, cfg.Fetch.PerHostBurst)),
		fetch.WithLogger(app.logger.Named("fetch")),
	)

	elperuano, err := extract.NewElPeruano(fetcher, clock, listingOverride(cfg.Sources[scraper.SourceElPeruano]))
	if err != nil {
		return nil, fmt.Errorf("elperuano extractor: %w", err)
	}
	oece, err := extract.NewOECE(fetcher, clock, listingOverride(cfg.Sources[scraper.SourceOECE]))
	if err != nil {
		return nil, fmt.Errorf("oece extractor: %w", err)
	}

	heuristics, err := seace.DefaultHeuristics().Apply(seace.Overrides{
		EntityKeywords:   cfg.SEACE.EntityKeywords,
		SelectionTypes:   cfg.SEACE.SelectionTypes,
		StageNames:       cfg.SEACE.StageNames,
		Blocklist:        cfg.SEACE.Blocklist,
		MaxStageRowRunes: cfg.SEACE.MaxStageRowRunes,
		MaxCandidates:    cfg.SEACE.MaxCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("seace heuristics: %w", err)
	}
	launcher := browser.NewChromedpLauncher(browser.Config{
		Env: browser.Env{
			Override:             cfg.Browser.Executable,
			ServerlessExecutable: cfg.Browser.ServerlessExecutable,
			ForceServerless:      cfg.Browser.Serverless,
		},
		Headless:   cfg.Browser.Headless,
		UserAgent:  cfg.Fetch.UserAgent,
		NavTimeout: time.Duration(cfg.Browser.NavTimeoutSeconds) * time.Second,
	}, app.logger.Named("browser"))
	driver := seace.NewDriver(launcher, seace.Config{
		LoginURL:       cfg.SEACE.LoginURL,
		RetryAttempts:  cfg.SEACE.RetryAttempts,
		RetryDelay:     time.Duration(cfg.SEACE.RetryDelayMs) * time.Millisecond,
		SnapshotPrefix: cfg.SEACE.SnapshotPrefix,
	},
		seace.WithHeuristics(heuristics),
		seace.WithBlobStore(blobs),
		seace.WithClock(clock),
		seace.WithLogger(app.logger.Named("seace")),
	)
	fallback := scraper.AuthSettings{Username: cfg.SEACE.Username, Password: cfg.SEACE.Password}

	return []orchestrator.Source{
		elperuano,
		oece,
		seace.NewSource(driver, app.store, fallback),
	}, nil
}

func listingOverride(src config.ListingSource) extract.Override {
	return extract.Override{BaseURL: src.BaseURL, ListingURLs: src.ListingURLs}
}
