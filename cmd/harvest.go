package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brandsight/adharvest/internal/api"
	"github.com/brandsight/adharvest/internal/assets"
	catalogmemory "github.com/brandsight/adharvest/internal/catalog/memory"
	catalogpostgres "github.com/brandsight/adharvest/internal/catalog/postgres"
	"github.com/brandsight/adharvest/internal/clock/system"
	"github.com/brandsight/adharvest/internal/config"
	"github.com/brandsight/adharvest/internal/harvest"
	"github.com/brandsight/adharvest/internal/id/uuid"
	"github.com/brandsight/adharvest/internal/ingest"
	pubsubpublisher "github.com/brandsight/adharvest/internal/publisher/pubsub"
	"github.com/brandsight/adharvest/internal/resolver"
	"github.com/brandsight/adharvest/internal/scheduler"
	"github.com/brandsight/adharvest/internal/session"
)

func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Run one harvest round over the configured channels",
		Long: `Deals observers to every configured channel, crawls their query
lists under the global deadline and promotes the surviving sightings into
the canonical catalog. Exits 0 on partial per-channel failures; only fatal
configuration errors exit non-zero.`,
		RunE: runHarvestCommand,
	}
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, cleanup, err := buildScheduler(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	reports := api.NewReportStore()
	if cfg.Server.Enabled {
		shutdown := startServer(cfg, reports, logger)
		defer shutdown()
	}

	report, err := sched.Run(ctx, cfg.WorkPlan())
	if err != nil {
		return fmt.Errorf("run harvest: %w", err)
	}
	reports.Set(report)

	logger.Info("harvest finished",
		zap.String("run_id", report.RunID),
		zap.Int("units", len(report.Units)),
		zap.Int("sightings", report.Sightings),
		zap.Int("promoted", report.Promoted),
		zap.Int("deduped", report.Deduped),
		zap.Int("rejected", report.Rejected),
		zap.Int("errors", report.Errors),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// buildScheduler assembles the full harvest stack from configuration. The
// returned cleanup closes any external clients.
func buildScheduler(ctx context.Context, cfg config.Config, logger *zap.Logger) (*scheduler.Scheduler, func(), error) {
	clock := system.New()
	ids := uuid.NewGenerator()
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	sessions, err := session.New(session.Config{
		Root:              cfg.Session.Root,
		MaxAge:            cfg.SessionMaxAge(),
		SensitivePrefixes: cfg.Session.SensitivePrefixes,
	}, clock, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init session store: %w", err)
	}

	identityResolver := resolver.New(resolver.Config{
		Budget:       cfg.ResolverBudget(),
		DomainQPS:    cfg.Resolver.DomainQPS,
		InfraDomains: cfg.Resolver.InfraDomains,
	}, buildLandingStrategies(cfg, logger, &closers), logger)

	catalog, err := buildCatalog(ctx, cfg, &closers)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	assetStore, err := buildAssetStore(ctx, cfg, clock, logger, &closers)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	publisher, err := buildPublisher(ctx, cfg, &closers)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	pipeline := ingest.New(
		identityResolver,
		catalog,
		assetStore,
		publisher,
		cfg.PubSub.TopicName,
		clock,
		ids,
		ingest.Config{MarketDomains: cfg.Ingest.MarketDomains},
		logger,
	)

	channelCfgs := make(map[string]scheduler.ChannelConfig, len(cfg.Channels))
	for id, channel := range cfg.Channels {
		channelCfgs[id] = scheduler.ChannelConfig{
			QueryTimeout: time.Duration(channel.QueryTimeoutSeconds) * time.Second,
			SoftTimeout:  time.Duration(channel.SoftTimeoutSeconds) * time.Second,
		}
	}
	sched := scheduler.New(adapters, sessions, pipeline, clock, ids, scheduler.Config{
		Deadline:               cfg.Deadline(),
		MaxConcurrency:         cfg.Harvest.MaxConcurrency,
		MinObserversPerChannel: cfg.Harvest.MinObserversPerChannel,
		QueryPacing:            cfg.QueryPacing(),
		Observers:              cfg.Harvest.Observers,
		Channels:               channelCfgs,
	}, logger)
	return sched, cleanup, nil
}

// buildLandingStrategies assembles the ordered landing-fetch list: colly
// first, chromedp render fallback when headless is enabled.
func buildLandingStrategies(cfg config.Config, logger *zap.Logger, closers *[]func()) []resolver.LandingFetcher {
	var strategies []resolver.LandingFetcher

	fetcher, err := resolver.NewCollyFetcher(cfg.Resolver.UserAgent, cfg.ResolverBudget(), logger)
	if err != nil {
		logger.Warn("colly landing fetcher unavailable", zap.Error(err))
	} else {
		strategies = append(strategies, fetcher)
	}

	renderer, err := resolver.NewChromedpRenderer(resolver.RendererConfig{
		Enabled:     cfg.Resolver.HeadlessEnabled,
		MaxParallel: cfg.Resolver.HeadlessMaxParallel,
		Timeout:     time.Duration(cfg.Resolver.HeadlessTimeoutSeconds) * time.Second,
		UserAgent:   cfg.Resolver.UserAgent,
	}, logger)
	switch {
	case err == nil:
		*closers = append(*closers, func() { _ = renderer.Close() })
		strategies = append(strategies, renderer)
	case errors.Is(err, resolver.ErrRendererDisabled):
	default:
		logger.Warn("headless renderer unavailable, resolving without it", zap.Error(err))
	}
	return strategies
}

func buildCatalog(ctx context.Context, cfg config.Config, closers *[]func()) (harvest.CatalogStore, error) {
	if cfg.Catalog.DSN == "" {
		return catalogmemory.New(), nil
	}
	store, err := catalogpostgres.New(ctx, catalogpostgres.Config{DSN: cfg.Catalog.DSN})
	if err != nil {
		return nil, fmt.Errorf("init catalog store: %w", err)
	}
	*closers = append(*closers, store.Close)
	return store, nil
}

func buildAssetStore(ctx context.Context, cfg config.Config, clock harvest.Clock, logger *zap.Logger, closers *[]func()) (*assets.Store, error) {
	var blob assets.Blob
	if cfg.Assets.GCSBucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		*closers = append(*closers, func() { _ = client.Close() })
		blob, err = assets.NewGCSBlob(client, cfg.Assets.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
	} else {
		local, err := assets.NewLocalBlob(cfg.Assets.Root)
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		blob = local
	}
	return assets.New(assets.Config{
		MaxDimension: cfg.Assets.MaxDimension,
		Retention:    cfg.AssetRetention(),
	}, blob, clock, logger), nil
}

func buildPublisher(ctx context.Context, cfg config.Config, closers *[]func()) (harvest.Publisher, error) {
	if cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	*closers = append(*closers, func() { _ = client.Close() })
	return pubsubpublisher.New(client), nil
}

// startServer runs the operational HTTP surface in the background and
// returns a shutdown func.
func startServer(cfg config.Config, reports *api.ReportStore, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(reports, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown failed", zap.Error(err))
		}
	}
}
