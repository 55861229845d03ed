// Package orchestrate sequences the per-firm crawl: homepage, discovery,
// candidate fetch-and-extract loops, homepage fallback, and the external
// aggregator escalation. One firm's crawl always reaches Done; failures are
// recorded as datapoints, never raised past the firm boundary.
package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/firmlens/firmcrawl/internal/crawl"
	"github.com/firmlens/firmcrawl/internal/discover"
	"github.com/firmlens/firmcrawl/internal/evidence"
	"github.com/firmlens/firmcrawl/internal/extract"
	"github.com/firmlens/firmcrawl/internal/metrics"
)

// State labels a position in the per-firm crawl state machine.
type State string

// Crawl states in transition order.
const (
	StateStart            State = "start"
	StateHomeFetched      State = "home_fetched"
	StateDiscovering      State = "discovering_candidates"
	StateTryingCandidate  State = "trying_candidate"
	StateSatisfied        State = "satisfied"
	StateExhausted        State = "exhausted_candidates"
	StateFallbackHome     State = "fallback_home"
	StateExternalFallback State = "external_fallback"
	StateDone             State = "done"
)

// homeKind and externalKind namespace non-kind evidence in the object store.
const (
	homeKind     = crawl.Kind("home")
	externalKind = crawl.Kind("external")
)

// Config bounds the per-firm crawl.
type Config struct {
	// MaxExternalCandidates caps aggregator fetches per firm.
	MaxExternalCandidates int
}

// Result summarizes one firm's crawl for the run report.
type Result struct {
	FirmID     string
	FinalState State
	Satisfied  map[crawl.Kind]bool
	Tried      map[crawl.Kind]int
	Fatal      string
}

// Orchestrator drives the state machine for one firm at a time. It owns no
// shared mutable state, so a single instance is safe across workers.
type Orchestrator struct {
	cfg        Config
	fetcher    crawl.Fetcher
	discoverer *discover.Discoverer
	evidence   *evidence.Store
	datapoints crawl.DatapointStore
	pipeline   *extract.Pipeline
	clock      crawl.Clock
	logger     *zap.Logger
}

// New constructs an Orchestrator.
func New(cfg Config, fetcher crawl.Fetcher, discoverer *discover.Discoverer, ev *evidence.Store, datapoints crawl.DatapointStore, pipeline *extract.Pipeline, clock crawl.Clock, logger *zap.Logger) *Orchestrator {
	if cfg.MaxExternalCandidates <= 0 {
		cfg.MaxExternalCandidates = 6
	}
	return &Orchestrator{
		cfg:        cfg,
		fetcher:    fetcher,
		discoverer: discoverer,
		evidence:   ev,
		datapoints: datapoints,
		pipeline:   pipeline,
		clock:      clock,
		logger:     logger,
	}
}

// CrawlFirm runs one firm start to Done. The returned Result never carries
// an error; a fatal condition is recorded in Result.Fatal and as a datapoint.
func (o *Orchestrator) CrawlFirm(ctx context.Context, firm crawl.Firm) Result {
	result := Result{
		FirmID:    firm.ID,
		Satisfied: make(map[crawl.Kind]bool, len(crawl.Kinds)),
		Tried:     make(map[crawl.Kind]int, len(crawl.Kinds)),
	}
	logger := o.logger.With(zap.String("firm_id", firm.ID))

	home, root := o.fetchHomepage(ctx, firm, logger)
	if !home.OK() {
		result.Fatal = "homepage_unreachable"
		result.FinalState = StateDone
		o.recordError(ctx, firm, "crawl_error", map[string]any{
			"stage":  string(StateStart),
			"url":    firm.WebsiteRoot,
			"status": string(home.Status),
			"error":  home.ErrText,
		}, logger)
		metrics.ObserveFirm("homepage_failed")
		return result
	}

	homeStored, err := o.storeFetch(ctx, firm, homeKind, "home", home)
	if err != nil {
		return o.abortFirm(ctx, firm, result, StateHomeFetched, err, logger)
	}

	// Aggregates accumulate fill-the-gaps across every page of a kind.
	aggregates := make(map[crawl.Kind]*extract.Record, len(crawl.Kinds))
	for _, kind := range crawl.Kinds {
		aggregates[kind] = extract.NewRecord(kind)
	}

	for _, kind := range crawl.Kinds {
		candidates := o.discoverer.Discover(ctx, firm, root, home.Body, kind)
		logger.Info("candidates discovered", zap.String("kind", string(kind)), zap.Int("count", len(candidates)))

		satisfied, attempted, err := o.tryCandidates(ctx, firm, kind, candidates, aggregates[kind], logger)
		if err != nil {
			return o.abortFirm(ctx, firm, result, StateTryingCandidate, err, logger)
		}
		result.Tried[kind] = attempted
		if !satisfied && home.Text != "" {
			// FallbackHome: one more extraction pass over the homepage text.
			if err := o.extractAndRecord(ctx, firm, kind, home, homeStored.Hash, aggregates[kind], logger); err != nil {
				return o.abortFirm(ctx, firm, result, StateFallbackHome, err, logger)
			}
			satisfied = aggregates[kind].Satisfied()
		}
		result.Satisfied[kind] = satisfied
	}

	if !done(result.Satisfied) {
		if err := o.externalFallback(ctx, firm, aggregates, &result, logger); err != nil {
			return o.abortFirm(ctx, firm, result, StateExternalFallback, err, logger)
		}
	}

	result.FinalState = StateDone
	metrics.ObserveFirm(firmOutcome(result))
	logger.Info("firm crawl finished",
		zap.Bool("rules_satisfied", result.Satisfied[crawl.KindRules]),
		zap.Bool("pricing_satisfied", result.Satisfied[crawl.KindPricing]))
	return result
}

// fetchHomepage tries the www/non-www root variants and returns the first
// usable result together with the root that produced it.
func (o *Orchestrator) fetchHomepage(ctx context.Context, firm crawl.Firm, logger *zap.Logger) (crawl.FetchResult, string) {
	var last crawl.FetchResult
	for _, root := range rootVariants(firm.WebsiteRoot) {
		result := o.fetcher.Fetch(ctx, crawl.FetchRequest{URL: root, AllowJS: true})
		o.recordCaptcha(ctx, firm, result, logger)
		if result.OK() {
			return result, root
		}
		last = result
		if result.Status == crawl.StatusBudgetExceeded {
			break
		}
		logger.Debug("homepage variant failed", zap.String("url", root), zap.String("status", string(result.Status)))
	}
	return last, firm.WebsiteRoot
}

// tryCandidates walks the kind's candidate list in priority order, stopping
// at first satisfaction. Per-candidate failures are datapoints, not errors;
// only storage failures propagate.
func (o *Orchestrator) tryCandidates(ctx context.Context, firm crawl.Firm, kind crawl.Kind, candidates []crawl.CandidateURL, aggregate *extract.Record, logger *zap.Logger) (bool, int, error) {
	attempted := 0
	for _, candidate := range candidates {
		attempted++
		result := o.fetcher.Fetch(ctx, crawl.FetchRequest{URL: candidate.URL, AllowJS: true, AllowPDF: true})
		o.recordCaptcha(ctx, firm, result, logger)

		if result.Status == crawl.StatusBudgetExceeded {
			logger.Info("budget exhausted mid-kind", zap.String("kind", string(kind)))
			return aggregate.Satisfied(), attempted, nil
		}
		if !result.OK() {
			o.recordError(ctx, firm, string(kind)+"_fetch_error", map[string]any{
				"url":    candidate.URL,
				"status": string(result.Status),
				"code":   result.StatusCode,
				"error":  result.ErrText,
			}, logger)
			continue
		}

		stored, err := o.storeFetch(ctx, firm, kind, string(kind), result)
		if err != nil {
			return false, attempted, err
		}
		if strings.TrimSpace(result.Text) == "" {
			continue
		}
		if err := o.extractAndRecord(ctx, firm, kind, result, stored.Hash, aggregate, logger); err != nil {
			return false, attempted, err
		}
		if aggregate.Satisfied() {
			return true, attempted, nil
		}
	}
	return aggregate.Satisfied(), attempted, nil
}

// externalFallback escalates unsatisfied kinds to the aggregator sites.
func (o *Orchestrator) externalFallback(ctx context.Context, firm crawl.Firm, aggregates map[crawl.Kind]*extract.Record, result *Result, logger *zap.Logger) error {
	candidates := externalCandidates(firm.WebsiteRoot)
	if len(candidates) > o.cfg.MaxExternalCandidates {
		candidates = candidates[:o.cfg.MaxExternalCandidates]
	}
	logger.Info("escalating to external sources", zap.Int("candidates", len(candidates)))

	for _, candidate := range candidates {
		if done(result.Satisfied) {
			return nil
		}
		fetched := o.fetcher.Fetch(ctx, crawl.FetchRequest{URL: candidate.URL, AllowJS: true})
		o.recordCaptcha(ctx, firm, fetched, logger)
		if fetched.Status == crawl.StatusBudgetExceeded {
			return nil
		}
		if !fetched.OK() || strings.TrimSpace(fetched.Text) == "" {
			continue
		}
		stored, err := o.storeFetch(ctx, firm, externalKind, "external", fetched)
		if err != nil {
			return err
		}
		for _, kind := range crawl.Kinds {
			if result.Satisfied[kind] {
				continue
			}
			if err := o.extractAndRecord(ctx, firm, kind, fetched, stored.Hash, aggregates[kind], logger); err != nil {
				return err
			}
			result.Satisfied[kind] = aggregates[kind].Satisfied()
		}
	}
	return nil
}

// storeFetch writes one fetch's bytes as evidence under a type-tagged key,
// e.g. "rules_html" or "pricing_pdf".
func (o *Orchestrator) storeFetch(ctx context.Context, firm crawl.Firm, kind crawl.Kind, keyPrefix string, result crawl.FetchResult) (evidence.PutResult, error) {
	key := keyPrefix + "_" + bodyTag(result)
	stored, err := o.evidence.Put(ctx, firm.ID, kind, key, sourceOf(result), result.ContentType, result.Body, result.Text)
	if err != nil {
		return evidence.PutResult{}, fmt.Errorf("store %s evidence: %w", key, err)
	}
	return stored, nil
}

// extractAndRecord runs the pipeline over one page's text, merges into the
// kind aggregate, and appends the merged record as the kind's datapoint.
func (o *Orchestrator) extractAndRecord(ctx context.Context, firm crawl.Firm, kind crawl.Kind, page crawl.FetchResult, evidenceHash string, aggregate *extract.Record, logger *zap.Logger) error {
	record := o.pipeline.Extract(ctx, kind, page.Text)
	aggregate.Merge(record.Fields)

	dp := crawl.Datapoint{
		FirmID:       firm.ID,
		Key:          string(kind),
		Value:        aggregate,
		ValueText:    valueText(aggregate),
		SourceURL:    sourceOf(page),
		EvidenceHash: evidenceHash,
		CreatedAt:    o.clock.Now(),
	}
	if err := o.datapoints.InsertDatapoint(ctx, dp); err != nil {
		return fmt.Errorf("insert %s datapoint: %w", kind, err)
	}
	if record.Err != "" {
		logger.Warn("extraction degraded", zap.String("kind", string(kind)), zap.String("error", record.Err), zap.String("url", sourceOf(page)))
	}
	return nil
}

// recordCaptcha appends a captcha_detected datapoint whenever a challenge
// was observed, solved or not. Insert failures are logged, not fatal: the
// signal is advisory.
func (o *Orchestrator) recordCaptcha(ctx context.Context, firm crawl.Firm, result crawl.FetchResult, logger *zap.Logger) {
	recordCaptchaSignal(ctx, o.datapoints, o.clock, logger, firm.ID, result.Captcha)
}

// NewCaptchaSink returns a callback for subsystems that fetch on their own,
// such as discovery's sitemap walk, so their challenge sightings land in the
// same captcha_detected datapoint stream.
func NewCaptchaSink(datapoints crawl.DatapointStore, clock crawl.Clock, logger *zap.Logger) func(context.Context, string, *crawl.CaptchaSignal) {
	return func(ctx context.Context, firmID string, signal *crawl.CaptchaSignal) {
		recordCaptchaSignal(ctx, datapoints, clock, logger, firmID, signal)
	}
}

func recordCaptchaSignal(ctx context.Context, datapoints crawl.DatapointStore, clock crawl.Clock, logger *zap.Logger, firmID string, signal *crawl.CaptchaSignal) {
	if signal == nil {
		return
	}
	dp := crawl.Datapoint{
		FirmID:    firmID,
		Key:       "captcha_detected",
		Value:     signal,
		SourceURL: signal.URL,
		CreatedAt: clock.Now(),
	}
	if err := datapoints.InsertDatapoint(ctx, dp); err != nil {
		logger.Warn("captcha datapoint insert failed", zap.String("firm_id", firmID), zap.Error(err))
	}
}

// recordError appends a non-fatal error datapoint and keeps going.
func (o *Orchestrator) recordError(ctx context.Context, firm crawl.Firm, key string, value map[string]any, logger *zap.Logger) {
	dp := crawl.Datapoint{
		FirmID:    firm.ID,
		Key:       key,
		Value:     value,
		CreatedAt: o.clock.Now(),
	}
	if err := o.datapoints.InsertDatapoint(ctx, dp); err != nil {
		logger.Warn("error datapoint insert failed", zap.String("key", key), zap.Error(err))
	}
}

// abortFirm handles a storage failure: the firm's remaining steps are
// skipped, other firms are unaffected.
func (o *Orchestrator) abortFirm(ctx context.Context, firm crawl.Firm, result Result, at State, err error, logger *zap.Logger) Result {
	logger.Error("firm aborted on storage failure", zap.String("state", string(at)), zap.Error(err))
	result.Fatal = err.Error()
	result.FinalState = StateDone
	o.recordError(ctx, firm, "crawl_error", map[string]any{
		"stage": string(at),
		"error": err.Error(),
	}, logger)
	metrics.ObserveFirm("aborted")
	return result
}

func rootVariants(root string) []string {
	parsed, err := url.Parse(root)
	if err != nil || parsed.Hostname() == "" {
		return []string{root}
	}
	twin := *parsed
	if strings.HasPrefix(parsed.Hostname(), "www.") {
		twin.Host = strings.TrimPrefix(parsed.Host, "www.")
	} else {
		twin.Host = "www." + parsed.Host
	}
	return []string{root, twin.String()}
}

func sourceOf(result crawl.FetchResult) string {
	if result.FinalURL != "" {
		return result.FinalURL
	}
	return result.URL
}

func bodyTag(result crawl.FetchResult) string {
	switch {
	case strings.Contains(strings.ToLower(result.ContentType), "pdf"):
		return "pdf"
	case strings.Contains(strings.ToLower(result.ContentType), "json"):
		return "json"
	default:
		return "html"
	}
}

func valueText(record *extract.Record) string {
	b, err := json.Marshal(record.Fields)
	if err != nil {
		return ""
	}
	return string(b)
}

func done(satisfied map[crawl.Kind]bool) bool {
	for _, kind := range crawl.Kinds {
		if !satisfied[kind] {
			return false
		}
	}
	return true
}

func firmOutcome(result Result) string {
	switch {
	case result.Satisfied[crawl.KindRules] && result.Satisfied[crawl.KindPricing]:
		return "satisfied"
	case result.Satisfied[crawl.KindRules] || result.Satisfied[crawl.KindPricing]:
		return "partial"
	default:
		return "unsatisfied"
	}
}
