package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/api"
	"github.com/firmlens/firmcrawl/internal/clock/system"
	"github.com/firmlens/firmcrawl/internal/config"
	"github.com/firmlens/firmcrawl/internal/crawl"
	"github.com/firmlens/firmcrawl/internal/discover"
	"github.com/firmlens/firmcrawl/internal/driver"
	"github.com/firmlens/firmcrawl/internal/evidence"
	"github.com/firmlens/firmcrawl/internal/extract"
	"github.com/firmlens/firmcrawl/internal/fetch"
	"github.com/firmlens/firmcrawl/internal/govern"
	"github.com/firmlens/firmcrawl/internal/hash/sha256"
	"github.com/firmlens/firmcrawl/internal/id/uuid"
	"github.com/firmlens/firmcrawl/internal/logging"
	"github.com/firmlens/firmcrawl/internal/metrics"
	"github.com/firmlens/firmcrawl/internal/orchestrate"
	gcsstore "github.com/firmlens/firmcrawl/internal/storage/gcs"
	localstore "github.com/firmlens/firmcrawl/internal/storage/local"
	memblob "github.com/firmlens/firmcrawl/internal/storage/memory"
	memstore "github.com/firmlens/firmcrawl/internal/store/memory"
	"github.com/firmlens/firmcrawl/internal/store/postgres"
)

var firmsFile string

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl over the firm roster",
		Long: `Crawls every firm in the roster under the configured request and
wall-clock budgets, storing evidence and extracted datapoints. The roster
comes from --firms (JSON or CSV) or, when omitted, the firms table.`,
		RunE: runCrawlCommand,
	}
	cmd.Flags().StringVar(&firmsFile, "firms", "", "firm roster file (JSON or CSV)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	firms, err := loadFirms(ctx, firmsFile, deps.pgStore)
	if err != nil {
		return err
	}
	if len(firms) == 0 {
		return errors.New("firm roster is empty")
	}
	logger.Info("starting crawl run", zap.Int("firms", len(firms)), zap.Int("workers", cfg.Crawler.Workers))

	var ops *api.Server
	if cfg.Server.Enabled {
		ops = api.New(cfg.Server.Port, logger)
		ops.Start()
	}

	summary, err := deps.driver.Run(ctx, runID, firms)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}

	requestsUsed, _, _ := deps.governor.Snapshot()
	logger.Info("crawl run finished",
		zap.Int("firms_processed", summary.FirmsProcessed),
		zap.Int("firms_skipped", summary.FirmsSkipped),
		zap.Int("rules_satisfied", summary.RulesSatisfied),
		zap.Int("pricing_satisfied", summary.PriceSatisfied),
		zap.Int("aborted", summary.Aborted),
		zap.Int("requests_used", requestsUsed),
		zap.Duration("elapsed", summary.Elapsed))

	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown failed", zap.Error(err))
		}
	}
	return nil
}

// dependencies groups everything the crawl command wires together.
type dependencies struct {
	governor *govern.Governor
	driver   *driver.Driver
	renderer crawl.Renderer
	pgStore  *postgres.Store
}

func (d *dependencies) close(logger *zap.Logger) {
	if d.renderer != nil {
		if err := d.renderer.Close(context.Background()); err != nil {
			logger.Warn("renderer close failed", zap.Error(err))
		}
	}
	if d.pgStore != nil {
		d.pgStore.Close()
	}
}

func buildDependencies(ctx context.Context, cfg config.Config, logger *zap.Logger) (*dependencies, error) {
	governor := govern.New(govern.Config{
		MaxRequests: cfg.Crawler.MaxRequests,
		MaxRuntime:  cfg.Crawler.MaxRuntime,
		DomainDelay: cfg.Crawler.DomainDelay,
	})

	blobs, err := buildBlobStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	var (
		ledger     crawl.LedgerStore
		datapoints crawl.DatapointStore
		pgStore    *postgres.Store
	)
	if cfg.DB.DSN != "" {
		pgStore, err = postgres.New(ctx, postgres.Config{DSN: cfg.DB.DSN, MaxConns: int32(cfg.DB.MaxConns)})
		if err != nil {
			return nil, err
		}
		ledger, datapoints = pgStore, pgStore
	} else {
		logger.Warn("db.dsn not set, using in-memory stores")
		mem := memstore.New()
		ledger, datapoints = mem, mem
	}

	ev := evidence.New(blobs, ledger, sha256.New(), system.New(), logger)

	renderer, err := buildRenderer(cfg, logger)
	if err != nil {
		return nil, err
	}
	solver, err := buildSolver(cfg, logger)
	if err != nil {
		return nil, err
	}

	renderBudget := 0
	if renderer != nil {
		renderBudget = cfg.Render.PageBudget
	}
	engine := fetch.NewEngine(fetch.Config{
		UserAgent:        cfg.Crawler.UserAgent,
		Timeout:          cfg.Crawler.FetchTimeout,
		MaxBytes:         cfg.Crawler.MaxFetchBytes,
		MinTextChars:     cfg.Crawler.MinTextChars,
		MaxTextChars:     cfg.Crawler.MaxTextChars,
		PDFEnabled:       cfg.PDF.Enabled,
		OCREnabled:       cfg.PDF.OCREnabled,
		OCRMaxPages:      cfg.PDF.OCRMaxPages,
		SolverTimeout:    cfg.Captcha.PollTimeout,
		RenderPageBudget: renderBudget,
	}, governor, renderer, solver, logger)

	discoverer := discover.New(discover.Config{
		MaxPagesPerFirm: cfg.Crawler.MaxPagesPerFirm,
		SitemapMaxURLs:  cfg.Crawler.SitemapMaxURLs,
		CrawlDepth:      cfg.Crawler.CrawlDepth,
		MaxDeepLinks:    cfg.Crawler.MaxDeepLinks,
		Seeds:           cfg.Seeds,
		OnCaptcha:       orchestrate.NewCaptchaSink(datapoints, system.New(), logger),
	}, engine, logger)

	llm := extract.NewLLMClient(extract.LLMConfig{
		Endpoint: cfg.Extract.Endpoint,
		Model:    cfg.Extract.Model,
		Timeout:  cfg.Extract.Timeout,
	}, logger)
	if llm == nil {
		logger.Warn("extract.endpoint not set, extraction is regex-only")
	}
	pipeline := extract.New(extract.Config{
		MaxChunks:  cfg.Extract.MaxChunks,
		ChunkChars: cfg.Extract.ChunkChars,
	}, llm, logger)

	orch := orchestrate.New(orchestrate.Config{}, engine, discoverer, ev, datapoints, pipeline, system.New(), logger)
	drv := driver.New(driver.Config{Workers: cfg.Crawler.Workers}, orch, governor, logger)

	return &dependencies{
		governor: governor,
		driver:   drv,
		renderer: renderer,
		pgStore:  pgStore,
	}, nil
}

func buildBlobStore(ctx context.Context, cfg config.StorageConfig) (crawl.BlobStore, error) {
	switch cfg.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		return gcsstore.New(client, gcsstore.Config{Bucket: cfg.GCSBucket})
	case "local":
		return localstore.New(localstore.Config{BaseDir: cfg.LocalDir})
	case "memory":
		return memblob.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func buildRenderer(cfg config.Config, logger *zap.Logger) (crawl.Renderer, error) {
	if !cfg.Render.Enabled || cfg.Render.MaxConcurrency <= 0 {
		return nil, nil
	}
	renderer, err := fetch.NewChromedpRenderer(fetch.RendererConfig{
		UserAgent:      cfg.Crawler.UserAgent,
		Timeout:        cfg.Render.Timeout,
		MaxConcurrency: cfg.Render.MaxConcurrency,
		DomainQPS:      cfg.Render.DomainQPS,
	}, logger)
	switch {
	case err == nil:
		return renderer, nil
	case errors.Is(err, fetch.ErrRendererDisabled):
		logger.Warn("renderer disabled despite feature flag; continuing without it")
		return nil, nil
	default:
		return nil, fmt.Errorf("init renderer: %w", err)
	}
}

func buildSolver(cfg config.Config, logger *zap.Logger) (crawl.CaptchaSolver, error) {
	switch cfg.Captcha.Provider {
	case "":
		return nil, nil
	case "2captcha":
		return fetch.NewTwoCaptchaSolver(fetch.TwoCaptchaConfig{
			APIKey:       cfg.Captcha.APIKey,
			PollInterval: cfg.Captcha.PollInterval,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown captcha provider %q", cfg.Captcha.Provider)
	}
}
