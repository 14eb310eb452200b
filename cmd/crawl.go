package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcps "cloud.google.com/go/pubsub"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-crawler/internal/api"
	"github.com/JakeFAU/adaptive-crawler/internal/breaker"
	"github.com/JakeFAU/adaptive-crawler/internal/client"
	"github.com/JakeFAU/adaptive-crawler/internal/config"
	"github.com/JakeFAU/adaptive-crawler/internal/crawler"
	"github.com/JakeFAU/adaptive-crawler/internal/executor"
	"github.com/JakeFAU/adaptive-crawler/internal/extract"
	"github.com/JakeFAU/adaptive-crawler/internal/logging"
	"github.com/JakeFAU/adaptive-crawler/internal/metrics"
	pubmemory "github.com/JakeFAU/adaptive-crawler/internal/publisher/memory"
	pubsub "github.com/JakeFAU/adaptive-crawler/internal/publisher/pubsub"
	storememory "github.com/JakeFAU/adaptive-crawler/internal/store/memory"
	"github.com/JakeFAU/adaptive-crawler/internal/store/postgres"
	"github.com/JakeFAU/adaptive-crawler/internal/throttle"
)

// newCrawlCmd creates and configures the 'crawl' subcommand, which runs
// a single crawl job to completion.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Starts the adaptive crawl",
		Long: `Runs a crawl job against the configured paginated endpoint. The job
ends when the source is exhausted, the upstream reports sustained
failures or missing data, or the process receives an interrupt.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	c, cleanup, err := buildCrawler(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(c, api.Config{Timeout: cfg.Server.RequestTimeout}, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if serr := srv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			logger.Error("status server failed", zap.Error(serr))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("status server shutdown failed", zap.Error(serr))
		}
	}()

	j, err := c.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}

	logger.Info("crawl finished",
		zap.String("job_id", j.ID),
		zap.String("status", string(j.Status)),
		zap.Int("requests", j.Counters.Requests),
		zap.Int("records", j.Counters.Records),
	)
	return nil
}

// buildCrawler assembles the full dependency graph from configuration.
// The returned cleanup closes any external connections it opened.
func buildCrawler(ctx context.Context, cfg config.Config, logger *zap.Logger) (*crawler.Crawler, func(), error) {
	cleanup := func() {}

	httpClient, err := client.New(cfg.ClientConfig(), logger)
	if err != nil {
		return nil, cleanup, fmt.Errorf("init http client: %w", err)
	}

	batchExecutor, err := executor.New(cfg.ExecutorConfig(), httpClient, logger)
	if err != nil {
		return nil, cleanup, fmt.Errorf("init executor: %w", err)
	}

	history := throttle.NewHistory(cfg.Throttle.MaxHistory, nil)
	adapter, err := throttle.NewAdapter(cfg.ThrottleConfig(), history, nil, logger)
	if err != nil {
		return nil, cleanup, fmt.Errorf("init throttle adapter: %w", err)
	}

	brk, err := breaker.New(cfg.BreakerConfig(), nil, nil, logger)
	if err != nil {
		return nil, cleanup, fmt.Errorf("init breaker: %w", err)
	}

	source, err := crawler.NewPageSource(cfg.SourceConfig())
	if err != nil {
		return nil, cleanup, fmt.Errorf("init page source: %w", err)
	}

	extractor := extract.New(cfg.Source.ListKey, cfg.Source.IDKey, logger)

	store, storeClose, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}

	publisher, pubClose, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		storeClose()
		return nil, cleanup, err
	}
	cleanup = func() {
		pubClose()
		storeClose()
	}

	c, err := crawler.New(
		cfg.CrawlerConfig(),
		adapter,
		history,
		brk,
		batchExecutor,
		extractor,
		source,
		store,
		publisher,
		logger,
	)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("init crawler: %w", err)
	}
	return c, cleanup, nil
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.RecordStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("no database configured, using in-memory record store")
		return storememory.New(), func() {}, nil
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		JobsTable:       cfg.DB.JobsTable,
		RecordsTable:    cfg.DB.RecordsTable,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres store: %w", err)
	}
	return store, store.Close, nil
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Info("no pubsub project configured, using in-memory publisher")
		return pubmemory.New(), func() {}, nil
	}
	gcpClient, err := gcps.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	publisher := pubsub.New(gcpClient)
	return publisher, func() {
		publisher.Close()
		_ = gcpClient.Close()
	}, nil
}

// resolveConfigPath honors --config when set and otherwise falls back
// to ./config.yaml when it exists, leaving env-only configuration
// possible when neither is present.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}
