// Package main wires together the news ETL service binary.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/feedforge/newsetl/internal/api"
	"github.com/feedforge/newsetl/internal/archive"
	"github.com/feedforge/newsetl/internal/cleaner"
	"github.com/feedforge/newsetl/internal/clock"
	"github.com/feedforge/newsetl/internal/config"
	"github.com/feedforge/newsetl/internal/crawler"
	"github.com/feedforge/newsetl/internal/document"
	"github.com/feedforge/newsetl/internal/enricher"
	"github.com/feedforge/newsetl/internal/feed"
	"github.com/feedforge/newsetl/internal/logging"
	"github.com/feedforge/newsetl/internal/metrics"
	"github.com/feedforge/newsetl/internal/pipeline"
	"github.com/feedforge/newsetl/internal/publisher"
	"github.com/feedforge/newsetl/internal/scheduler"
	"github.com/feedforge/newsetl/internal/service"
	"github.com/feedforge/newsetl/internal/store"
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
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Warn("store close failed", zap.Error(closeErr))
		}
	}()
	if err := st.EnsureIndices(ctx); err != nil {
		logger.Fatal("ensure indices failed", zap.Error(err))
	}

	events, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	blobs, err := newArchive(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", zap.Error(err))
	}

	var targets []crawler.Target
	if cfg.Crawler.TargetsPath != "" {
		targets, err = crawler.LoadTargets(cfg.Crawler.TargetsPath)
		if err != nil {
			logger.Fatal("load crawl targets failed",
				zap.String("path", cfg.Crawler.TargetsPath), zap.Error(err))
		}
	}

	clk := clock.System{}
	fetcher := crawler.NewFetcher(cfg.Crawler.UserAgent, logger.Named("fetcher"))
	robots := crawler.NewRobotsCache(clk, logger.Named("robots"))
	siteCrawler := crawler.New(fetcher, robots, cfg.Crawler.UserAgent, logger.Named("crawler"))

	feedConnector := feed.NewConnector(
		&http.Client{Timeout: cfg.Feed.FeedTimeout()},
		cfg.Feed.BaseURL,
		cfg.Feed.Keyword,
		cfg.Feed.MaxRecords,
		cfg.Feed.Timespan,
		logger.Named("feed"),
	)

	clean := cleaner.New(cfg.Clean.MinBodyChars, cfg.Clean.AllowedLanguages, logger.Named("cleaner"))
	modelClient := enricher.NewClient(newModelHTTPClient(cfg.Enrich), enricher.ClientConfig{
		BaseURL:       cfg.Enrich.APIURL,
		AuthURL:       cfg.Enrich.AuthURL,
		Username:      cfg.Enrich.Username,
		Password:      cfg.Enrich.Password,
		ProjectID:     cfg.Enrich.ProjectID,
		APIVersion:    cfg.Enrich.APIVersion,
		GenerateModel: cfg.Enrich.GenerateModel,
		EmbedModel:    cfg.Enrich.EmbedModel,
	}, logger.Named("model"))
	enrich := enricher.New(modelClient, cfg.Enrich.GenerateModel, cfg.Enrich.EmbedModel,
		cfg.Enrich.MaxPromptChars, logger.Named("enricher"))

	pipe := pipeline.New(feedConnector, siteCrawler, targets, clean, enrich, st, events, blobs, logger.Named("pipeline"))

	sched := scheduler.New(clk, logger.Named("scheduler"))
	svc := service.New(pipe, st, enrich, sched, logger.Named("service"))

	if err := registerJobs(sched, pipe, svc, cfg, logger); err != nil {
		logger.Fatal("register jobs failed", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	apiServer := api.NewServer(svc, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

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
	logger.Info("shutdown complete")
}

func newStore(cfg config.Config, logger *zap.Logger) (store.Provider, error) {
	switch cfg.Store.Provider {
	case "opensearch":
		return store.NewOpenSearch(store.OpenSearchConfig{
			Addresses:          cfg.Store.Addresses,
			Username:           cfg.Store.Username,
			Password:           cfg.Store.Password,
			InsecureSkipVerify: cfg.Store.InsecureSkipTLS,
			EmbedDim:           cfg.Enrich.EmbedDim,
		}, logger.Named("store"))
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store provider: %s", cfg.Store.Provider)
	}
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (publisher.Publisher, error) {
	switch cfg.Publisher.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		logger.Info("publishing to pubsub",
			zap.String("project", cfg.Publisher.ProjectID),
			zap.String("topic", cfg.Publisher.TopicID))
		return publisher.NewPubSub(client.Topic(cfg.Publisher.TopicID))
	case "memory":
		return publisher.NewMemory(), nil
	case "noop":
		return publisher.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown publisher provider: %s", cfg.Publisher.Provider)
	}
}

func newArchive(ctx context.Context, cfg config.Config) (archive.BlobStore, error) {
	switch cfg.Archive.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		return archive.NewGCS(client, cfg.Archive.Bucket)
	case "local":
		return archive.NewLocal(cfg.Archive.BaseDir)
	case "memory":
		return archive.NewMemory(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", cfg.Archive.Provider)
	}
}

func newModelHTTPClient(cfg config.EnrichConfig) *http.Client {
	client := &http.Client{Timeout: cfg.EnrichTimeout()}
	if cfg.InsecureSkipTLS {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}
	return client
}

func registerJobs(sched *scheduler.Scheduler, pipe *pipeline.Pipeline, svc *service.Service, cfg config.Config, logger *zap.Logger) error {
	feedJob := scheduler.Job{
		ID:       "etl_gdelt",
		Interval: time.Duration(cfg.Scheduler.FeedIntervalMinutes) * time.Minute,
		Grace:    time.Duration(cfg.Scheduler.FeedGraceMinutes) * time.Minute,
		Run: func(ctx context.Context) {
			if _, err := pipe.RunFeed(ctx); err != nil {
				logger.Error("feed run failed", zap.Error(err))
				return
			}
			svc.RecordRun(document.SourceGdelt)
		},
	}
	if err := sched.Register(feedJob); err != nil {
		return err
	}

	crawlGrace := time.Duration(cfg.Scheduler.CrawlGraceMinutes) * time.Minute
	for _, target := range pipe.Targets() {
		if target.IntervalHours <= 0 {
			logger.Warn("crawl target has no interval, skipping schedule", zap.String("target", target.Name))
			continue
		}
		job := scheduler.Job{
			ID:       "etl_crawl_" + target.Name,
			Interval: target.Interval(),
			Grace:    crawlGrace,
			Run: func(ctx context.Context) {
				if _, err := pipe.RunCrawlTarget(ctx, target); err != nil {
					logger.Error("crawl run failed", zap.String("target", target.Name), zap.Error(err))
					return
				}
				svc.RecordRun(document.SourceSiteCrawl)
			},
		}
		if err := sched.Register(job); err != nil {
			return err
		}
	}
	return nil
}
