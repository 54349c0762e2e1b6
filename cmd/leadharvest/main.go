// Package main wires together the contact crawler service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/api"
	"github.com/leadharvest/leadharvest/internal/blob"
	blobgcs "github.com/leadharvest/leadharvest/internal/blob/gcs"
	bloblocal "github.com/leadharvest/leadharvest/internal/blob/local"
	"github.com/leadharvest/leadharvest/internal/clock/system"
	"github.com/leadharvest/leadharvest/internal/config"
	"github.com/leadharvest/leadharvest/internal/crawler"
	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/fetcher"
	"github.com/leadharvest/leadharvest/internal/ids"
	"github.com/leadharvest/leadharvest/internal/logging"
	"github.com/leadharvest/leadharvest/internal/metrics"
	"github.com/leadharvest/leadharvest/internal/publisher"
	memorypublisher "github.com/leadharvest/leadharvest/internal/publisher/memory"
	pubsubpublisher "github.com/leadharvest/leadharvest/internal/publisher/pubsub"
	"github.com/leadharvest/leadharvest/internal/queue"
	"github.com/leadharvest/leadharvest/internal/store"
	"github.com/leadharvest/leadharvest/internal/store/localfs"
	"github.com/leadharvest/leadharvest/internal/store/postgres"
	"github.com/leadharvest/leadharvest/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, stop); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, stop context.CancelFunc) error {
	fallback, err := localfs.New(cfg.LocalFS.BaseDir)
	if err != nil {
		return fmt.Errorf("init localfs store: %w", err)
	}

	var primary store.Store
	if cfg.DB.DSN != "" {
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			// The resolver fails over to localfs; a dead primary at boot is
			// not fatal.
			logger.Warn("postgres init failed, running on local fallback", zap.Error(err))
		} else {
			primary = pg
		}
	}
	resolver := store.NewResolver(primary, fallback, cfg.HealthCheckTTL(), logger.Named("store"))
	defer resolver.Close()

	blobs, err := buildBlobProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	pub, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = pub.Close()
	}()

	clock := system.New()
	idGen := ids.NewGenerator()
	tasks := queue.New(cfg.Crawler.QueueDepth)
	baseFetcher := fetcher.New(fetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	engineCfg := crawler.EngineConfig{
		HardMaxPages: cfg.Crawler.HardMaxPages,
		HardTimeout:  cfg.HardTimeout(),
	}
	engineFactory := func(f crawler.Fetcher) worker.Crawler {
		return crawler.NewEngine(f, logger.Named("engine"), engineCfg)
	}

	crawlWorker := worker.New(tasks, resolver, baseFetcher, engineFactory, blobs, pub, clock,
		worker.Config{
			Topic:       cfg.PubSub.Topic,
			ContentType: cfg.Storage.ContentType,
			RetainPages: cfg.Crawler.RetainPages,
		}, logger.Named("worker"))

	discoveryQueue := discovery.NewQueue(cfg.Discovery.QueueDepth)
	datasetResolver := discovery.NewResolver(resolver, discoveryQueue, clock, logger.Named("discovery"))
	rediscoverer := discovery.NewRediscoverer(resolver, tasks, idGen, clock, logger.Named("discovery"))
	discoveryWorker := discovery.NewWorker(discoveryQueue, rediscoverer, logger.Named("discovery"))

	apiServer := api.NewServer(resolver, tasks, datasetResolver, idGen, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("crawl worker started")
		crawlWorker.Run(ctx)
	}()
	go func() {
		logger.Info("discovery worker started")
		discoveryWorker.Run(ctx)
	}()
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	tasks.Close()
	logger.Info("shutdown complete")
	return nil
}

func buildBlobProvider(ctx context.Context, cfg config.Config, logger *zap.Logger) (blob.Provider, error) {
	switch {
	case cfg.Storage.GCSBucket != "":
		store, err := blobgcs.New(ctx, blobgcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		logger.Info("page retention via gcs", zap.String("bucket", cfg.Storage.GCSBucket))
		return store, nil
	case cfg.Storage.LocalDir != "":
		store, err := bloblocal.New(bloblocal.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		logger.Info("page retention via local fs", zap.String("dir", cfg.Storage.LocalDir))
		return store, nil
	default:
		return blob.NoOp{}, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (publisher.Provider, error) {
	if cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(), nil
	}
	pub, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
		ProjectID: cfg.PubSub.ProjectID,
		Topic:     cfg.PubSub.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	logger.Info("crawl events via pubsub",
		zap.String("project", cfg.PubSub.ProjectID), zap.String("topic", cfg.PubSub.Topic))
	return pub, nil
}
