// Package driver fans a batch of firms out over a bounded worker pool.
// All workers share one resource governor; once its budget saturates, no
// further firms are dispatched and in-flight firms finish without new
// network calls.
package driver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/firmlens/firmcrawl/internal/crawl"
	"github.com/firmlens/firmcrawl/internal/metrics"
	"github.com/firmlens/firmcrawl/internal/orchestrate"
)

// Config sizes the pool. Workers below 1 degrade to sequential operation.
type Config struct {
	Workers int
}

// Summary is the run-level report the CLI prints and logs.
type Summary struct {
	RunID          string
	FirmsProcessed int
	FirmsSkipped   int
	RulesSatisfied int
	PriceSatisfied int
	Aborted        int
	Elapsed        time.Duration
}

// FirmCrawler processes one firm start to finish. Implemented by the
// orchestrator; faked in tests.
type FirmCrawler interface {
	CrawlFirm(ctx context.Context, firm crawl.Firm) orchestrate.Result
}

// Driver runs the orchestrator for many firms concurrently.
type Driver struct {
	cfg      Config
	orch     FirmCrawler
	governor crawl.Governor
	logger   *zap.Logger
}

// New constructs a Driver.
func New(cfg Config, orch FirmCrawler, governor crawl.Governor, logger *zap.Logger) *Driver {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Driver{cfg: cfg, orch: orch, governor: governor, logger: logger}
}

// Run crawls every firm in the batch and returns the run summary. The global
// budget is checked before each dispatch; firms past the cutoff are skipped,
// not failed. Run itself only errors on context cancellation.
func (d *Driver) Run(ctx context.Context, runID string, firms []crawl.Firm) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: runID}
	var mu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.Workers)

	for _, firm := range firms {
		if ctx.Err() != nil {
			break
		}
		if !d.governor.Admit() {
			d.logger.Info("budget exhausted, skipping remaining firms",
				zap.String("run_id", runID),
				zap.String("firm_id", firm.ID))
			metrics.ObserveBudgetExhausted()
			mu.Lock()
			summary.FirmsSkipped++
			mu.Unlock()
			continue
		}

		group.Go(func() error {
			metrics.WorkerStarted()
			defer metrics.WorkerFinished()

			result := d.orch.CrawlFirm(ctx, firm)

			mu.Lock()
			defer mu.Unlock()
			summary.FirmsProcessed++
			if result.Satisfied[crawl.KindRules] {
				summary.RulesSatisfied++
			}
			if result.Satisfied[crawl.KindPricing] {
				summary.PriceSatisfied++
			}
			if result.Fatal != "" {
				summary.Aborted++
			}
			return nil
		})
	}

	err := group.Wait()
	summary.Elapsed = time.Since(start)
	return summary, err
}
