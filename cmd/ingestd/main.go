// Command ingestd runs the fiction-archive ingestion service: the HTTP
// surface, the single-threaded pipeline worker, and the stuck-job reaper.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsubclient "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/ficlib/archivist/internal/api"
	"github.com/ficlib/archivist/internal/clock/system"
	"github.com/ficlib/archivist/internal/config"
	"github.com/ficlib/archivist/internal/extract"
	collyfetcher "github.com/ficlib/archivist/internal/fetcher/colly"
	"github.com/ficlib/archivist/internal/hostlimit"
	"github.com/ficlib/archivist/internal/id/uuid"
	"github.com/ficlib/archivist/internal/ingest"
	"github.com/ficlib/archivist/internal/logging"
	"github.com/ficlib/archivist/internal/metrics"
	"github.com/ficlib/archivist/internal/pause"
	memorypub "github.com/ficlib/archivist/internal/publisher/memory"
	pubsubpub "github.com/ficlib/archivist/internal/publisher/pubsub"
	"github.com/ficlib/archivist/internal/ratesched"
	"github.com/ficlib/archivist/internal/reaper"
	"github.com/ficlib/archivist/internal/storage/gcs"
	"github.com/ficlib/archivist/internal/storage/local"
	"github.com/ficlib/archivist/internal/storage/memory"
	"github.com/ficlib/archivist/internal/storage/postgres"
	"github.com/ficlib/archivist/internal/validate"
	"github.com/ficlib/archivist/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ingestd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	matcher := ingest.NewSiteMatcher(cfg.Archive.Site, cfg.Archive.Hosts)
	sched := ratesched.New(cfg.Archive.MinInterval(), clock)

	jobs, catalog, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	validator := validate.New(validate.Policy{
		AcceptedFandomSlugs:   cfg.Policy.FandomSlugs,
		AcceptedFandomAliases: cfg.Policy.FandomAliases,
		RequiredPair:          [2]string{cfg.Policy.PairA, cfg.Policy.PairB},
		RequiredPairSlugs:     cfg.Policy.PairSlugs,
		Qualifiers:            cfg.Policy.Qualifiers,
		AllowGeneral:          cfg.Policy.AllowGeneral,
	}, catalog, logger.Named("validate"))

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout(),
	})
	hosts := hostlimit.New(hostlimit.Config{
		DefaultRPS:   cfg.HostLimit.DefaultRPS,
		DefaultBurst: cfg.HostLimit.DefaultBurst,
	})

	w := worker.New(jobs, catalog, fetcher, extract.New(matcher), validator, sched,
		matcher, blobs, publisher, hosts, clock, pause.New(),
		workerConfig(cfg), logger.Named("worker"))

	r := reaper.New(jobs, clock, reaper.Config{
		Interval:            time.Duration(cfg.Reaper.IntervalMinutes) * time.Minute,
		PendingAge:          time.Duration(cfg.Reaper.PendingMaxAgeHours) * time.Hour,
		ProcessingAge:       time.Duration(cfg.Reaper.ProcessingMaxAgeMinutes) * time.Minute,
		SeriesProcessingAge: time.Duration(cfg.Reaper.SeriesMaxAgeMinutes) * time.Minute,
		TerminalRetention:   time.Duration(cfg.Reaper.RetentionHours) * time.Hour,
	}, logger.Named("reaper"))

	srv := api.NewServer(jobs, matcher, uuid.New(), clock, logger.Named("api"))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go w.Run(ctx)
	go r.Run(ctx)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func workerConfig(cfg config.Config) worker.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return worker.Config{
		PollInterval:      ms(cfg.Worker.PollIntervalMs),
		ThinkMin:          ms(cfg.Worker.ThinkMinMs),
		ThinkMax:          ms(cfg.Worker.ThinkMaxMs),
		DelayMin:          ms(cfg.Worker.DelayMinMs),
		DelayMax:          ms(cfg.Worker.DelayMaxMs),
		LongDelayChance:   cfg.Worker.LongDelayChance,
		LongDelayMin:      ms(cfg.Worker.LongDelayMinMs),
		LongDelayMax:      ms(cfg.Worker.LongDelayMaxMs),
		PauseEveryMin:     cfg.Worker.PauseEveryMin,
		PauseEveryMax:     cfg.Worker.PauseEveryMax,
		PauseMin:          ms(cfg.Worker.PauseMinMs),
		PauseMax:          ms(cfg.Worker.PauseMaxMs),
		LongWaitThreshold: ms(cfg.Worker.LongWaitThresholdMs),
		HeartbeatInterval: ms(cfg.Worker.HeartbeatIntervalMs),
		CooldownThreshold: cfg.Worker.CooldownThreshold,
		Cooldown:          ms(cfg.Worker.CooldownMs),
		SeriesEstimate:    cfg.Worker.SeriesEstimate,
		Topic:             cfg.PubSub.TopicName,
		SnapshotPrefix:    cfg.Worker.SnapshotPrefix,
	}
}

func buildStores(ctx context.Context, cfg config.Config) (ingest.JobStore, ingest.CatalogStore, func(), error) {
	if cfg.Storage.Backend == "postgres" {
		pgCfg := postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		}
		jobs, err := postgres.NewJobStore(ctx, pgCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres job store: %w", err)
		}
		catalog, err := postgres.NewCatalogStore(ctx, pgCfg)
		if err != nil {
			jobs.Close()
			return nil, nil, nil, fmt.Errorf("postgres catalog store: %w", err)
		}
		return jobs, catalog, func() {
			jobs.Close()
			catalog.Close()
		}, nil
	}
	return memory.NewJobStore(), memory.NewCatalogStore(), func() {}, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (ingest.BlobStore, error) {
	switch cfg.Storage.Blob {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(ctx, client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		return store, nil
	default:
		return memory.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (ingest.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return memorypub.New(), func() {}, nil
	}
	client, err := pubsubclient.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub := pubsubpub.New(client)
	return pub, func() {
		pub.Close()
		_ = client.Close()
	}, nil
}
