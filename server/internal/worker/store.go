package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hallyuwire/corehub/server/internal/models"
)

// PGArticleStore is the Postgres-backed ArticleStore used in
// production, built on sqlx the same way internal/queue is.
type PGArticleStore struct {
	db *sqlx.DB
}

// NewPGArticleStore builds a PGArticleStore.
func NewPGArticleStore(db *sqlx.DB) *PGArticleStore {
	return &PGArticleStore{db: db}
}

// GetStatuses bulk-fetches the current process_status for every URL
// already present in the store; URLs absent from the returned map are
// unknown to the store.
func (s *PGArticleStore) GetStatuses(ctx context.Context, urls []string) (map[string]models.ProcessStatus, error) {
	out := make(map[string]models.ProcessStatus, len(urls))
	if len(urls) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT source_url, process_status FROM articles WHERE source_url = ANY($1)
	`, pq.Array(urls))
	if err != nil {
		return nil, fmt.Errorf("worker: querying statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		var status models.ProcessStatus
		if err := rows.Scan(&url, &status); err != nil {
			return nil, fmt.Errorf("worker: scanning status row: %w", err)
		}
		out[url] = status
	}
	return out, rows.Err()
}

// UpsertScraped inserts a new article row, or on a source_url
// conflict, overwrites the scraped fields and resets process_status to
// SCRAPED — a rescrape always wins over stale scraped content.
func (s *PGArticleStore) UpsertScraped(ctx context.Context, a ScrapedArticle) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO articles (source_url, language_code, title_ko, content_ko, author, published_at, thumbnail_url, process_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'SCRAPED')
		ON CONFLICT (source_url) DO UPDATE SET
			title_ko = EXCLUDED.title_ko,
			content_ko = EXCLUDED.content_ko,
			author = EXCLUDED.author,
			published_at = EXCLUDED.published_at,
			thumbnail_url = EXCLUDED.thumbnail_url,
			process_status = 'SCRAPED',
			updated_at = now()
		RETURNING id
	`, a.SourceURL, a.LanguageCode, a.TitleKo, a.ContentKo, a.Author, a.PublishedAt, a.ThumbnailURL).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("worker: upserting scraped article: %w", err)
	}
	return id, nil
}

// MaxKnownPublishedAt returns the newest published_at the store has
// recorded for a language, used as the check-latest watermark. Zero
// time means the store has no dated articles for that language yet.
func (s *PGArticleStore) MaxKnownPublishedAt(ctx context.Context, language models.LanguageCode) (time.Time, error) {
	var max sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT max(published_at) FROM articles WHERE language_code = $1
	`, language).Scan(&max)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("worker: querying max published_at: %w", err)
	}
	if !max.Valid {
		return time.Time{}, nil
	}
	return max.Time, nil
}

// MissingThumbnail is one article still lacking a thumbnail_url.
type MissingThumbnail struct {
	ID        int64
	SourceURL string
}

// ArticlesMissingThumbnail lists up to limit articles past the SCRAPED
// stage whose thumbnail_url is still empty, for the best-effort
// backfill sweep.
func (s *PGArticleStore) ArticlesMissingThumbnail(ctx context.Context, limit int) ([]MissingThumbnail, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, source_url FROM articles
		WHERE thumbnail_url = '' AND process_status != 'PENDING'
		ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("worker: querying thumbnail backfill candidates: %w", err)
	}
	defer rows.Close()

	var out []MissingThumbnail
	for rows.Next() {
		var m MissingThumbnail
		if err := rows.Scan(&m.ID, &m.SourceURL); err != nil {
			return nil, fmt.Errorf("worker: scanning thumbnail backfill row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetThumbnail writes a resolved thumbnail URL back onto an article.
func (s *PGArticleStore) SetThumbnail(ctx context.Context, articleID int64, thumbnailURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE articles SET thumbnail_url = $1, updated_at = now() WHERE id = $2
	`, thumbnailURL, articleID)
	if err != nil {
		return fmt.Errorf("worker: setting thumbnail: %w", err)
	}
	return nil
}
