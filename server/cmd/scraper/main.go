// Command scraper is the job submission CLI for C6: scrape-range
// enqueues a bounded date-range scrape, check-latest enqueues an RSS
// freshness sweep as a scrape_rss job and, with --no-queue, also runs
// that job at once in this process (the job is still enqueued). Date inputs
// without a time component expand to the start/end of day in UTC.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/config"
	"github.com/hallyuwire/corehub/server/internal/db"
	"github.com/hallyuwire/corehub/server/internal/feed"
	"github.com/hallyuwire/corehub/server/internal/fetch"
	"github.com/hallyuwire/corehub/server/internal/logging"
	"github.com/hallyuwire/corehub/server/internal/models"
	"github.com/hallyuwire/corehub/server/internal/queue"
	"github.com/hallyuwire/corehub/server/internal/throttle"
	"github.com/hallyuwire/corehub/server/internal/worker"
)

const (
	dateOnlyLayout    = "2006-01-02"
	dateTimeLayout    = "2006-01-02T15:04:05"
	defaultPriority   = 0
	defaultMaxRetries = 3
)

var (
	flagStart     string
	flagEnd       string
	flagBatchSize int
	flagMaxPages  int
	flagLanguage  string
	flagForce     bool
	flagDryRun    bool
	flagNoQueue   bool
)

var rootCmd = &cobra.Command{Use: "scraper", Short: "Submit scrape jobs against a date range or the latest feed entries"}

var scrapeRangeCmd = &cobra.Command{
	Use:   "scrape-range",
	Short: "Enqueue a scrape_range job covering [--start, --end]",
	RunE:  runScrapeRange,
}

var checkLatestCmd = &cobra.Command{
	Use:   "check-latest",
	Short: "Enqueue a scrape_rss freshness check (with --no-queue, also run it now)",
	RunE:  runCheckLatest,
}

func main() {
	scrapeRangeCmd.Flags().StringVar(&flagStart, "start", "", "range start, YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS (required)")
	scrapeRangeCmd.Flags().StringVar(&flagEnd, "end", "", "range end, YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS (required)")
	scrapeRangeCmd.Flags().IntVar(&flagBatchSize, "batch-size", 0, "cap on URLs scraped per claim (0 = no cap)")
	scrapeRangeCmd.Flags().IntVar(&flagMaxPages, "max-pages", 1, "max list pages to paginate if RSS doesn't cover the range")
	scrapeRangeCmd.Flags().StringVar(&flagLanguage, "language", "kr", "language code to scrape")
	scrapeRangeCmd.Flags().BoolVar(&flagForce, "force", false, "skip the overlapping-job warning")
	scrapeRangeCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "parse and report without persisting")
	_ = scrapeRangeCmd.MarkFlagRequired("start")
	_ = scrapeRangeCmd.MarkFlagRequired("end")

	checkLatestCmd.Flags().BoolVar(&flagNoQueue, "no-queue", false, "also run the enqueued job immediately in this process; the job is still created")
	checkLatestCmd.Flags().StringVar(&flagLanguage, "language", "kr", "language code to check")

	rootCmd.AddCommand(scrapeRangeCmd, checkLatestCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseRangeBound parses a CLI date flag, expanding a bare date to the
// start or end of that UTC day when no time component is given.

func parseRangeBound(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(dateTimeLayout, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateOnlyLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("scraper: invalid date %q (want YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS): %w", raw, err)
	}
	if endOfDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC), nil
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func languageCode(raw string) models.LanguageCode {
	return models.LanguageCode(raw)
}

func runScrapeRange(cmd *cobra.Command, args []string) error {
	start, err := parseRangeBound(flagStart, false)
	if err != nil {
		return err
	}
	end, err := parseRangeBound(flagEnd, true)
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("scraper: --end %s is before --start %s", end, start)
	}

	cfg := config.Load()
	logger := logging.Must(cfg.LogLevel, string(cfg.Environment))
	defer logger.Sync()

	database, err := db.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("scraper: connecting to database: %w", err)
	}
	defer database.Close()

	jobQueue := queue.New(database)

	if !flagForce {
		if err := warnOnOverlap(cmd.Context(), jobQueue, start, end); err != nil {
			return err
		}
	}

	params := worker.ScrapeRangeParams{
		StartDate: start,
		EndDate:   end,
		Language:  languageCode(flagLanguage),
		MaxPages:  flagMaxPages,
		BatchSize: flagBatchSize,
		DryRun:    flagDryRun,
	}

	jobID, err := jobQueue.CreateJob(cmd.Context(), models.JobScrapeRange, params, defaultPriority, defaultMaxRetries)
	if err != nil {
		return fmt.Errorf("scraper: creating scrape_range job: %w", err)
	}
	logger.Info("scraper: queued scrape_range job",
		zap.Int64("job_id", jobID), zap.Time("start", start), zap.Time("end", end), zap.String("language", flagLanguage))
	fmt.Printf("queued scrape_range job %d for %s..%s (%s)\n", jobID, start.Format(time.RFC3339), end.Format(time.RFC3339), flagLanguage)
	return nil
}

// warnOnOverlap prints (but does not block on) a warning when a recent
// scrape_range job already covers an overlapping window, so an operator
// without --force sees the duplication before it queues.
func warnOnOverlap(ctx context.Context, jobQueue *queue.Queue, start, end time.Time) error {
	recent, err := jobQueue.ListRecentJobs(ctx, 50)
	if err != nil {
		return fmt.Errorf("scraper: checking recent jobs for overlap: %w", err)
	}
	for _, j := range recent {
		if j.JobType != models.JobScrapeRange {
			continue
		}
		var p worker.ScrapeRangeParams
		if err := json.Unmarshal(j.Params, &p); err != nil {
			continue
		}
		if p.Language != languageCode(flagLanguage) {
			continue
		}
		if start.Before(p.EndDate) && end.After(p.StartDate) {
			fmt.Printf("warning: job %d already covers an overlapping range (%s..%s); queuing anyway (pass --force to skip this check)\n",
				j.ID, p.StartDate.Format(time.RFC3339), p.EndDate.Format(time.RFC3339))
		}
	}
	return nil
}

func runCheckLatest(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := logging.Must(cfg.LogLevel, string(cfg.Environment))
	defer logger.Sync()

	database, err := db.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("scraper: connecting to database: %w", err)
	}
	defer database.Close()

	jobQueue := queue.New(database)
	params := worker.ScrapeRSSParams{Language: languageCode(flagLanguage)}

	jobID, err := jobQueue.CreateJob(cmd.Context(), models.JobScrapeRSS, params, defaultPriority, defaultMaxRetries)
	if err != nil {
		return fmt.Errorf("scraper: creating scrape_rss job: %w", err)
	}
	fmt.Printf("queued scrape_rss job %d for language %s\n", jobID, flagLanguage)

	if !flagNoQueue {
		return nil
	}

	th := throttle.New()
	fetcher := fetch.New(th, logger)
	feedSvc := feed.New()
	articleStore := worker.NewPGArticleStore(database)

	rssResolver := func(language models.LanguageCode) (func(ctx context.Context) (string, error), error) {
		feedURL, err := feedURLForLanguage(cfg, language)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (string, error) {
			resp, err := fetcher.Fetch(ctx, feedURL)
			if err != nil {
				return "", err
			}
			return string(resp.Body), nil
		}, nil
	}

	w := worker.New(cfg.WorkerID, jobQueue, fetcher, articleStore, feedSvc, logger, worker.WithRSSSource(rssResolver))
	fmt.Printf("running job %d immediately (--no-queue)\n", jobID)
	return w.RunOnce(context.Background(), jobID)
}

func feedURLForLanguage(cfg config.Config, language models.LanguageCode) (string, error) {
	switch language {
	case models.LanguageKorean:
		if cfg.FeedURLKo == "" {
			return "", fmt.Errorf("scraper: FEED_URL_KO not configured")
		}
		return cfg.FeedURLKo, nil
	case models.LanguageEnglish:
		if cfg.FeedURLEn == "" {
			return "", fmt.Errorf("scraper: FEED_URL_EN not configured")
		}
		return cfg.FeedURLEn, nil
	default:
		return "", fmt.Errorf("scraper: no feed configured for language %q", language)
	}
}
