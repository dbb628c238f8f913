package worker

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/fetch"
	"github.com/hallyuwire/corehub/server/internal/models"
	"github.com/hallyuwire/corehub/server/internal/queue"
)

type fakeFetcher struct {
	responses map[string]*fetch.Response
	errs      map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Response, error) {
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if resp, ok := f.responses[url]; ok {
		return resp, nil
	}
	return &fetch.Response{StatusCode: 200, Body: []byte("<html><head><title>x</title></head><body><article>body</article></body></html>")}, nil
}

type fakeStore struct {
	statuses map[string]models.ProcessStatus
	upserted []ScrapedArticle
	nextID   int64
	maxKnown time.Time
}

func (s *fakeStore) GetStatuses(ctx context.Context, urls []string) (map[string]models.ProcessStatus, error) {
	out := make(map[string]models.ProcessStatus)
	for _, u := range urls {
		if st, ok := s.statuses[u]; ok {
			out[u] = st
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertScraped(ctx context.Context, a ScrapedArticle) (int64, error) {
	s.nextID++
	s.upserted = append(s.upserted, a)
	return s.nextID, nil
}

func (s *fakeStore) MaxKnownPublishedAt(ctx context.Context, language models.LanguageCode) (time.Time, error) {
	return s.maxKnown, nil
}

func newTestWorker(f HTTPFetcher, store ArticleStore) *Worker {
	return New("worker-test", nil, f, store, nil, zap.NewNop())
}

func TestTriage_ClassifiesURLsPerStatusRules(t *testing.T) {
	store := &fakeStore{statuses: map[string]models.ProcessStatus{
		"https://x/processed": models.StatusProcessed,
		"https://x/error":     models.StatusError,
		"https://x/scraped":   models.StatusScraped,
	}}
	w := newTestWorker(&fakeFetcher{}, store)

	urls := []string{"https://x/unknown", "https://x/processed", "https://x/error", "https://x/scraped"}
	toScrape, skipped, err := w.triage(context.Background(), urls, true, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/unknown"}, toScrape)
	assert.Len(t, skipped, 3)
}

func TestTriage_RetryErrorReschedulesErrorStatus(t *testing.T) {
	store := &fakeStore{statuses: map[string]models.ProcessStatus{"https://x/error": models.StatusError}}
	w := newTestWorker(&fakeFetcher{}, store)

	toScrape, skipped, err := w.triage(context.Background(), []string{"https://x/error"}, true, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/error"}, toScrape)
	assert.Empty(t, skipped)
}

func TestScrapeURLs_SuccessPersistsAndRecordsResult(t *testing.T) {
	store := &fakeStore{statuses: map[string]models.ProcessStatus{}}
	w := newTestWorker(&fakeFetcher{}, store)

	result, err := w.scrapeURLs(context.Background(), []string{"https://x/a"}, models.LanguageKorean, false, nil, nil, &BatchResult{})
	require.NoError(t, err)
	require.Len(t, result.Success, 1)
	assert.Equal(t, int64(1), result.Success[0].ArticleID)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "x", store.upserted[0].TitleKo)
}

func TestScrapeURLs_DryRunSkipsPersistence(t *testing.T) {
	store := &fakeStore{}
	w := newTestWorker(&fakeFetcher{}, store)

	result, err := w.scrapeURLs(context.Background(), []string{"https://x/a"}, models.LanguageKorean, true, nil, nil, &BatchResult{})
	require.NoError(t, err)
	require.Len(t, result.Success, 1)
	assert.True(t, result.Success[0].DryRun)
	assert.Empty(t, store.upserted)
}

func TestScrapeURLs_ForbiddenAbortsBatchAsFatal(t *testing.T) {
	store := &fakeStore{}
	fetcher := &fakeFetcher{errs: map[string]error{"https://x/blocked": fetch.ErrForbidden}}
	w := newTestWorker(fetcher, store)

	result, err := w.scrapeURLs(context.Background(), []string{"https://x/blocked", "https://x/never-reached"}, models.LanguageKorean, false, nil, nil, &BatchResult{})
	assert.ErrorIs(t, err, errFatalAbort)
	require.Len(t, result.Failed, 1)
	assert.True(t, result.Failed[0].Fatal)
	assert.Empty(t, store.upserted)
}

func TestScrapeURLs_NonFatalFetchErrorContinuesBatch(t *testing.T) {
	store := &fakeStore{}
	fetcher := &fakeFetcher{errs: map[string]error{"https://x/down": fetch.ErrScraper}}
	w := newTestWorker(fetcher, store)

	result, err := w.scrapeURLs(context.Background(), []string{"https://x/down", "https://x/ok"}, models.LanguageKorean, false, nil, nil, &BatchResult{})
	require.NoError(t, err)
	assert.Len(t, result.Failed, 1)
	assert.Len(t, result.Success, 1)
}

func TestScrapeURLs_DateRangeFiltersOutOfWindowArticles(t *testing.T) {
	store := &fakeStore{}
	fetcher := &fakeFetcher{responses: map[string]*fetch.Response{
		"https://x/old": {StatusCode: 200, Body: []byte(`<html><head><meta property="og:title" content="t"><meta property="article:published_time" content="2020-01-01T00:00:00Z"></head><body><article>b</article></body></html>`)},
	}}
	w := newTestWorker(fetcher, store)

	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	result, err := w.scrapeURLs(context.Background(), []string{"https://x/old"}, models.LanguageKorean, false, &after, nil, &BatchResult{})
	require.NoError(t, err)
	assert.Empty(t, result.Success)
	require.Len(t, result.Skipped, 1)
	assert.Empty(t, store.upserted)
}

func TestExecuteScrape_ResolvesBatchSizeAndSourceURL(t *testing.T) {
	store := &fakeStore{statuses: map[string]models.ProcessStatus{}}
	w := newTestWorker(&fakeFetcher{}, store)

	result, err := w.executeScrape(context.Background(), ScrapeParams{SourceURL: "https://x/a", Language: models.LanguageKorean})
	require.NoError(t, err)
	assert.Len(t, result.Success, 1)
}

func newMockQueue(t *testing.T) (*queue.Queue, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sx := sqlx.NewDb(db, "postgres")
	return queue.New(sx), mock, func() { db.Close() }
}

func TestRunOnce_MarksRunningThenCompleted(t *testing.T) {
	q, mock, done := newMockQueue(t)
	defer done()

	cols := []string{
		"id", "job_type", "status", "params", "priority", "retry_count", "max_retries",
		"created_at", "started_at", "completed_at", "worker_id", "result", "error_msg",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		int64(1), "scrape", "pending", []byte(`{"source_url":"https://x/a","language":"kr"}`), 5, 0, 3,
		time.Now(), nil, nil, "", nil, "",
	)
	mock.ExpectQuery(`SELECT \* FROM job_queue WHERE id = \$1`).WillReturnRows(rows)
	mock.ExpectExec(`UPDATE job_queue`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE job_queue`).WillReturnResult(sqlmock.NewResult(0, 1))

	store := &fakeStore{statuses: map[string]models.ProcessStatus{}}
	w := New("worker-test", q, &fakeFetcher{}, store, nil, zap.NewNop())

	err := w.RunOnce(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
