// Package worker implements the Scrape Worker (C6): a polling loop (or
// one-shot invocation) that claims jobs from the Job Queue, drives the
// Fetcher and Parser through a polite per-host Throttle, and persists
// results as SCRAPED articles.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/fetch"
	"github.com/hallyuwire/corehub/server/internal/feed"
	"github.com/hallyuwire/corehub/server/internal/models"
	"github.com/hallyuwire/corehub/server/internal/parser"
	"github.com/hallyuwire/corehub/server/internal/queue"
)

// errFatalAbort signals that a Forbidden response aborted the remainder
// of a batch. The job is marked failed without a retry, per the
// Forbidden-is-fatal contract shared with C2.
var errFatalAbort = errors.New("worker: batch aborted by fatal fetch failure")

// HTTPFetcher is the subset of *fetch.Fetcher the worker depends on.
type HTTPFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Response, error)
}

// ArticleResult, FailureResult, and SkippedResult together form a
// BatchResult — the per-URL outcome ledger for one job.
type ArticleResult struct {
	URL       string `json:"url"`
	ArticleID int64  `json:"article_id,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

type FailureResult struct {
	URL   string `json:"url"`
	Error string `json:"error"`
	Fatal bool   `json:"fatal,omitempty"`
}

type SkippedResult struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// BatchResult aggregates one job's per-URL outcomes.
type BatchResult struct {
	Success []ArticleResult `json:"success"`
	Failed  []FailureResult `json:"failed"`
	Skipped []SkippedResult `json:"skipped"`
}

func (b *BatchResult) newlyScrapedIDs() []int64 {
	ids := make([]int64, 0, len(b.Success))
	for _, s := range b.Success {
		if !s.DryRun {
			ids = append(ids, s.ArticleID)
		}
	}
	return ids
}

// ScrapedArticle is what the worker writes back for one successfully
// fetched and parsed URL.
type ScrapedArticle struct {
	SourceURL    string
	LanguageCode models.LanguageCode
	TitleKo      string
	ContentKo    string
	Author       string
	PublishedAt  *time.Time
	ThumbnailURL string
}

// ArticleStore is the persistence surface the worker needs from the
// article table: status triage, upsert-as-SCRAPED, and the RSS
// check-latest watermark.
type ArticleStore interface {
	GetStatuses(ctx context.Context, urls []string) (map[string]models.ProcessStatus, error)
	UpsertScraped(ctx context.Context, a ScrapedArticle) (id int64, err error)
	MaxKnownPublishedAt(ctx context.Context, language models.LanguageCode) (time.Time, error)
}

// InlineImagesHook records an article's non-primary inline images
// (e.g. via the Thumbnail Service) immediately after it is persisted.
type InlineImagesHook func(ctx context.Context, articleID int64, images []parser.Image) error

// PostProcessHook is invoked, best-effort, with the ids of articles
// newly transitioned to SCRAPED by a successful batch.
type PostProcessHook func(ctx context.Context, articleIDs []int64) error

// ThumbnailBackfillHook re-fetches OG images for articles still
// missing one. Invoked best-effort after a successful batch.
type ThumbnailBackfillHook func(ctx context.Context) error

// RangeSource supplies the feed XML and (optional) paginated list-page
// callbacks a scrape_range job needs for one language. Site markup is
// not specified at this layer, so callers wire it in.
type RangeSource struct {
	FeedXML       func(ctx context.Context) (string, error)
	ListPage      feed.ListPageFetcher
	ParseListPage feed.ListPageParser
}

// RangeSourceResolver maps a language to its RangeSource.
type RangeSourceResolver func(language models.LanguageCode) (RangeSource, error)

// RSSSourceResolver maps a language to a function fetching that
// language's raw RSS/Atom XML.
type RSSSourceResolver func(language models.LanguageCode) (func(ctx context.Context) (string, error), error)

// ScrapeParams is the `scrape` job's params payload.
type ScrapeParams struct {
	URLs          []string            `json:"urls,omitempty"`
	SourceURL     string              `json:"source_url,omitempty"`
	Language      models.LanguageCode `json:"language"`
	BatchSize     int                 `json:"batch_size,omitempty"`
	DryRun        bool                `json:"dry_run,omitempty"`
	SkipProcessed *bool               `json:"skip_processed,omitempty"`
	RetryError    bool                `json:"retry_error,omitempty"`
	DateAfter     *time.Time          `json:"date_after,omitempty"`
	DateBefore    *time.Time          `json:"date_before,omitempty"`
}

// ScrapeRangeParams is the `scrape_range` job's params payload.
type ScrapeRangeParams struct {
	StartDate time.Time           `json:"start_date"`
	EndDate   time.Time           `json:"end_date"`
	Language  models.LanguageCode `json:"language"`
	MaxPages  int                 `json:"max_pages"`
	BatchSize int                 `json:"batch_size,omitempty"`
	DryRun    bool                `json:"dry_run,omitempty"`
}

// ScrapeRSSParams is the `scrape_rss` job's params payload.
type ScrapeRSSParams struct {
	Language  models.LanguageCode `json:"language"`
	StartDate *time.Time          `json:"start_date,omitempty"`
	EndDate   *time.Time          `json:"end_date,omitempty"`
}

// Worker polls the Job Queue and executes scrape jobs.
type Worker struct {
	id           string
	queue        *queue.Queue
	fetcher      HTTPFetcher
	store        ArticleStore
	feedSvc      *feed.Service
	logger       *zap.Logger
	pollInterval time.Duration

	rangeSource RangeSourceResolver
	rssSource   RSSSourceResolver

	inlineImages      InlineImagesHook
	postProcess       PostProcessHook
	thumbnailBackfill ThumbnailBackfillHook

	mu      sync.Mutex
	running bool
}

// Option configures optional Worker dependencies.
type Option func(*Worker)

// WithRangeSource wires the scrape_range feed/list-page resolver.
func WithRangeSource(r RangeSourceResolver) Option { return func(w *Worker) { w.rangeSource = r } }

// WithRSSSource wires the scrape_rss feed resolver.
func WithRSSSource(r RSSSourceResolver) Option { return func(w *Worker) { w.rssSource = r } }

// WithInlineImagesHook wires the per-article inline-image recorder.
func WithInlineImagesHook(h InlineImagesHook) Option { return func(w *Worker) { w.inlineImages = h } }

// WithPostProcessHook wires the Simple Post-Processor trigger.
func WithPostProcessHook(h PostProcessHook) Option { return func(w *Worker) { w.postProcess = h } }

// WithThumbnailBackfillHook wires the OG-image backfill sweep.
func WithThumbnailBackfillHook(h ThumbnailBackfillHook) Option {
	return func(w *Worker) { w.thumbnailBackfill = h }
}

// WithPollInterval overrides the default empty-queue poll interval.
func WithPollInterval(d time.Duration) Option { return func(w *Worker) { w.pollInterval = d } }

// New builds a Worker.
func New(id string, q *queue.Queue, f HTTPFetcher, store ArticleStore, feedSvc *feed.Service, logger *zap.Logger, opts ...Option) *Worker {
	w := &Worker{
		id:           id,
		queue:        q,
		fetcher:      f,
		store:        store,
		feedSvc:      feedSvc,
		logger:       logger,
		pollInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run starts the claim-run-persist loop. It installs SIGINT/SIGTERM
// handlers; on receipt, it finishes any in-flight job and returns
// cleanly rather than aborting mid-job.
func (w *Worker) Run(ctx context.Context) error {
	if !w.start() {
		return fmt.Errorf("worker: already running")
	}
	defer w.stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if n, err := w.queue.RecoverStuckJobs(ctx); err != nil {
		w.logger.Error("worker: recovering stuck jobs", zap.Error(err))
	} else if n > 0 {
		w.logger.Warn("worker: recovered stuck jobs", zap.Int64("count", n))
	}

	for {
		job, err := w.queue.ClaimPending(ctx, w.id)
		if err != nil {
			w.logger.Error("worker: claim failed", zap.Error(err))
			if !w.sleep(ctx, sigCh, w.pollInterval) {
				return nil
			}
			continue
		}
		if job == nil {
			if !w.sleep(ctx, sigCh, w.pollInterval) {
				return nil
			}
			continue
		}

		w.runClaimedJob(ctx, job)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sigCh:
			w.logger.Info("worker: shutdown signal received after in-flight job, exiting")
			return nil
		default:
		}
	}
}

// RunOnce executes exactly one job id and returns, independent of the
// poll loop. Used by the one-shot CLI invocation.
func (w *Worker) RunOnce(ctx context.Context, jobID int64) error {
	job, err := w.queue.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("worker: loading job %d: %w", jobID, err)
	}
	if err := w.queue.UpdateStatus(ctx, jobID, models.JobRunning, nil, nil); err != nil {
		return fmt.Errorf("worker: marking job %d running: %w", jobID, err)
	}
	job.Status = models.JobRunning
	w.runClaimedJob(ctx, job)
	return nil
}

func (w *Worker) start() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return false
	}
	w.running = true
	return true
}

func (w *Worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
}

func (w *Worker) sleep(ctx context.Context, sigCh <-chan os.Signal, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-sigCh:
		w.logger.Info("worker: shutdown signal received while idle, exiting")
		return false
	case <-time.After(d):
		return true
	}
}

// runClaimedJob dispatches by job type and persists the outcome. A
// Forbidden-triggered abort fails the job without a retry; any other
// top-level error increments the job's retry count.
func (w *Worker) runClaimedJob(ctx context.Context, job *models.JobQueue) {
	logger := w.logger.With(zap.Int64("job_id", job.ID), zap.String("job_type", string(job.JobType)))

	result, err := w.executeJob(ctx, job)

	resultJSON, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		logger.Error("worker: marshaling batch result", zap.Error(marshalErr))
	}
	resultStr := string(resultJSON)

	switch {
	case errors.Is(err, errFatalAbort):
		errMsg := "forbidden: batch aborted"
		if uErr := w.queue.UpdateStatus(ctx, job.ID, models.JobFailed, &resultStr, &errMsg); uErr != nil {
			logger.Error("worker: updating failed status", zap.Error(uErr))
		}
		logger.Warn("worker: job failed without retry (forbidden)")
		return
	case err != nil:
		errMsg := err.Error()
		if uErr := w.queue.UpdateStatus(ctx, job.ID, models.JobRunning, &resultStr, &errMsg); uErr != nil {
			logger.Error("worker: recording error before retry", zap.Error(uErr))
		}
		if _, rErr := w.queue.IncrementRetry(ctx, job.ID); rErr != nil {
			logger.Error("worker: incrementing retry", zap.Error(rErr))
		}
		logger.Error("worker: job execution error, retry scheduled", zap.Error(err))
		return
	}

	if uErr := w.queue.UpdateStatus(ctx, job.ID, models.JobCompleted, &resultStr, nil); uErr != nil {
		logger.Error("worker: marking job completed", zap.Error(uErr))
	}

	newIDs := result.newlyScrapedIDs()
	if len(newIDs) > 0 && w.postProcess != nil {
		if ppErr := w.postProcess(ctx, newIDs); ppErr != nil {
			logger.Warn("worker: post-processor trigger failed", zap.Error(ppErr))
		}
	}
	if w.thumbnailBackfill != nil {
		if tbErr := w.thumbnailBackfill(ctx); tbErr != nil {
			logger.Warn("worker: thumbnail backfill failed", zap.Error(tbErr))
		}
	}

	logger.Info("worker: job completed",
		zap.Int("success", len(result.Success)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("skipped", len(result.Skipped)))
}

func (w *Worker) executeJob(ctx context.Context, job *models.JobQueue) (*BatchResult, error) {
	switch job.JobType {
	case models.JobScrape:
		var p ScrapeParams
		if err := json.Unmarshal(job.Params, &p); err != nil {
			return nil, fmt.Errorf("worker: unmarshaling scrape params: %w", err)
		}
		return w.executeScrape(ctx, p)

	case models.JobScrapeRange:
		var p ScrapeRangeParams
		if err := json.Unmarshal(job.Params, &p); err != nil {
			return nil, fmt.Errorf("worker: unmarshaling scrape_range params: %w", err)
		}
		return w.executeScrapeRange(ctx, p)

	case models.JobScrapeRSS:
		var p ScrapeRSSParams
		if err := json.Unmarshal(job.Params, &p); err != nil {
			return nil, fmt.Errorf("worker: unmarshaling scrape_rss params: %w", err)
		}
		return w.executeScrapeRSS(ctx, p)

	default:
		return nil, fmt.Errorf("worker: unknown job type %q", job.JobType)
	}
}

func (w *Worker) executeScrape(ctx context.Context, p ScrapeParams) (*BatchResult, error) {
	urls := p.URLs
	if len(urls) == 0 && p.SourceURL != "" {
		urls = []string{p.SourceURL}
	}
	if p.BatchSize > 0 && len(urls) > p.BatchSize {
		urls = urls[:p.BatchSize]
	}

	skipProcessed := true
	if p.SkipProcessed != nil {
		skipProcessed = *p.SkipProcessed
	}

	toScrape, skipped, err := w.triage(ctx, urls, skipProcessed, p.RetryError)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Skipped: skipped}
	return w.scrapeURLs(ctx, toScrape, p.Language, p.DryRun, p.DateAfter, p.DateBefore, result)
}

func (w *Worker) executeScrapeRange(ctx context.Context, p ScrapeRangeParams) (*BatchResult, error) {
	if w.rangeSource == nil {
		return nil, fmt.Errorf("worker: no range source configured for scrape_range jobs")
	}
	src, err := w.rangeSource(p.Language)
	if err != nil {
		return nil, fmt.Errorf("worker: resolving range source: %w", err)
	}
	rawXML, err := src.FeedXML(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker: fetching feed xml: %w", err)
	}

	maxPages := p.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	candidates, err := feed.RangeCollect(ctx, rawXML, w.feedSvc, p.StartDate, p.EndDate, maxPages, src.ListPage, src.ParseListPage)
	if err != nil {
		return nil, fmt.Errorf("worker: collecting range candidates: %w", err)
	}

	urls := make([]string, 0, len(candidates))
	for _, c := range candidates {
		urls = append(urls, c.URL)
	}

	toScrape, skipped, err := w.triage(ctx, urls, true, false)
	if err != nil {
		return nil, err
	}
	if p.BatchSize > 0 && len(toScrape) > p.BatchSize {
		toScrape = toScrape[:p.BatchSize]
	}

	result := &BatchResult{Skipped: skipped}
	return w.scrapeURLs(ctx, toScrape, p.Language, p.DryRun, &p.StartDate, &p.EndDate, result)
}

func (w *Worker) executeScrapeRSS(ctx context.Context, p ScrapeRSSParams) (*BatchResult, error) {
	if w.rssSource == nil {
		return nil, fmt.Errorf("worker: no rss source configured for scrape_rss jobs")
	}
	fetchXML, err := w.rssSource(p.Language)
	if err != nil {
		return nil, fmt.Errorf("worker: resolving rss source: %w", err)
	}
	rawXML, err := fetchXML(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker: fetching rss xml: %w", err)
	}

	maxKnown := time.Time{}
	if p.StartDate != nil {
		maxKnown = *p.StartDate
	} else {
		maxKnown, err = w.store.MaxKnownPublishedAt(ctx, p.Language)
		if err != nil {
			return nil, fmt.Errorf("worker: reading max known published_at: %w", err)
		}
	}

	classify := func(ctx context.Context, url string) (string, bool, error) {
		statuses, err := w.store.GetStatuses(ctx, []string{url})
		if err != nil {
			return "", false, err
		}
		status, ok := statuses[url]
		return string(status), ok, nil
	}

	candidates, err := feed.CheckLatest(ctx, rawXML, w.feedSvc, maxKnown, classify, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("worker: checking latest feed entries: %w", err)
	}

	urls := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if p.EndDate != nil && c.PublishedAt != nil && c.PublishedAt.After(*p.EndDate) {
			continue
		}
		urls = append(urls, c.URL)
	}

	result := &BatchResult{}
	return w.scrapeURLs(ctx, urls, p.Language, false, nil, p.EndDate, result)
}

// triage bulk-classifies urls against the article store per the
// status-triage rules in §4.6.
func (w *Worker) triage(ctx context.Context, urls []string, skipProcessed, retryError bool) (toScrape []string, skipped []SkippedResult, err error) {
	statuses, err := w.store.GetStatuses(ctx, urls)
	if err != nil {
		return nil, nil, fmt.Errorf("worker: status triage: %w", err)
	}

	for _, u := range urls {
		status, known := statuses[u]
		switch {
		case !known:
			toScrape = append(toScrape, u)
		case status == models.StatusProcessed:
			if skipProcessed {
				skipped = append(skipped, SkippedResult{URL: u, Reason: "already processed"})
			} else {
				toScrape = append(toScrape, u)
			}
		case status == models.StatusError:
			if retryError {
				toScrape = append(toScrape, u)
			} else {
				skipped = append(skipped, SkippedResult{URL: u, Reason: "previous error, retry disabled"})
			}
		default:
			skipped = append(skipped, SkippedResult{URL: u, Reason: fmt.Sprintf("status %s", status)})
		}
	}
	return toScrape, skipped, nil
}

// scrapeURLs runs the fetch → parse → range-filter → upsert pipeline
// for each URL, stopping the whole batch the first time a fetch comes
// back Forbidden.
func (w *Worker) scrapeURLs(ctx context.Context, urls []string, language models.LanguageCode, dryRun bool, dateAfter, dateBefore *time.Time, result *BatchResult) (*BatchResult, error) {
	for _, u := range urls {
		resp, err := w.fetcher.Fetch(ctx, u)
		if errors.Is(err, fetch.ErrForbidden) {
			result.Failed = append(result.Failed, FailureResult{URL: u, Error: err.Error(), Fatal: true})
			return result, errFatalAbort
		}
		if err != nil {
			result.Failed = append(result.Failed, FailureResult{URL: u, Error: err.Error()})
			continue
		}

		parsed, err := parser.Parse(u, string(resp.Body))
		if err != nil {
			result.Failed = append(result.Failed, FailureResult{URL: u, Error: err.Error()})
			continue
		}

		if parsed.PublishedAt != nil {
			if dateAfter != nil && parsed.PublishedAt.Before(*dateAfter) {
				result.Skipped = append(result.Skipped, SkippedResult{URL: u, Reason: "published before date_after"})
				continue
			}
			if dateBefore != nil && parsed.PublishedAt.After(*dateBefore) {
				result.Skipped = append(result.Skipped, SkippedResult{URL: u, Reason: "published after date_before"})
				continue
			}
		}

		if dryRun {
			result.Success = append(result.Success, ArticleResult{URL: u, DryRun: true})
			continue
		}

		articleID, err := w.store.UpsertScraped(ctx, ScrapedArticle{
			SourceURL:    u,
			LanguageCode: language,
			TitleKo:      parsed.Title,
			ContentKo:    parsed.Body,
			Author:       parsed.Author,
			PublishedAt:  parsed.PublishedAt,
			ThumbnailURL: parsed.ImageURL,
		})
		if err != nil {
			result.Failed = append(result.Failed, FailureResult{URL: u, Error: err.Error()})
			continue
		}

		if w.inlineImages != nil && len(parsed.Images) > 0 {
			if hErr := w.inlineImages(ctx, articleID, parsed.Images); hErr != nil {
				w.logger.Warn("worker: inline images hook failed", zap.String("url", u), zap.Error(hErr))
			}
		}

		result.Success = append(result.Success, ArticleResult{URL: u, ArticleID: articleID})
	}

	return result, nil
}
