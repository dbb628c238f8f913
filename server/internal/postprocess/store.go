package postprocess

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hallyuwire/corehub/server/internal/models"
)

func pqTextArray(values []string) any {
	if values == nil {
		values = []string{}
	}
	return pq.Array(values)
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore builds a PGStore.
func NewPGStore(db *sqlx.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) ListScraped(ctx context.Context, limit int) ([]ArticleRef, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, title_ko, content_ko FROM articles
		WHERE process_status = $1
		ORDER BY published_at DESC NULLS LAST
		LIMIT $2
	`, models.StatusScraped, limit)
	if err != nil {
		return nil, fmt.Errorf("postprocess: listing scraped articles: %w", err)
	}
	defer rows.Close()

	var refs []ArticleRef
	for rows.Next() {
		var ref ArticleRef
		if err := rows.Scan(&ref.ID, &ref.TitleKo, &ref.ContentKo); err != nil {
			return nil, fmt.Errorf("postprocess: scanning scraped article row: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ClaimScraped re-reads the article and confirms it is still SCRAPED —
// another process's post-processor or the Intelligence Engine may have
// already claimed it between ListScraped's snapshot and now.
func (s *PGStore) ClaimScraped(ctx context.Context, articleID int64) (ArticleRef, bool, error) {
	var row struct {
		ID            int64             `db:"id"`
		TitleKo       string            `db:"title_ko"`
		ContentKo     string            `db:"content_ko"`
		ProcessStatus models.ProcessStatus `db:"process_status"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT id, title_ko, content_ko, process_status FROM articles WHERE id = $1`, articleID)
	if err != nil {
		return ArticleRef{}, false, fmt.Errorf("postprocess: loading article %d: %w", articleID, err)
	}
	if row.ProcessStatus != models.StatusScraped {
		return ArticleRef{}, false, nil
	}
	return ArticleRef{ID: row.ID, TitleKo: row.TitleKo, ContentKo: row.ContentKo}, true, nil
}

// WriteResult fills only empty fields, so reprocessing an article is
// idempotent, writing its extraction and transitioning it to PROCESSED.
func (s *PGStore) WriteResult(ctx context.Context, articleID int64, titleEn, summaryKo, summaryEn string, hashtags []string) error {
	hashtagsArray := pqTextArray(hashtags)
	_, err := s.db.ExecContext(ctx, `
		UPDATE articles SET
			title_en = CASE WHEN title_en = '' THEN $2 ELSE title_en END,
			summary_ko = CASE WHEN summary_ko = '' THEN $3 ELSE summary_ko END,
			summary_en = CASE WHEN summary_en = '' THEN $4 ELSE summary_en END,
			hashtags_en = CASE WHEN hashtags_en = '{}' THEN $5::text[] ELSE hashtags_en END,
			process_status = $6
		WHERE id = $1
	`, articleID, titleEn, summaryKo, summaryEn, hashtagsArray, models.StatusProcessed)
	if err != nil {
		return fmt.Errorf("postprocess: writing result for article %d: %w", articleID, err)
	}
	return nil
}

func (s *PGStore) MarkSkipped(ctx context.Context, articleID int64) error {
	return s.setStatus(ctx, articleID, models.StatusProcessed)
}

func (s *PGStore) MarkError(ctx context.Context, articleID int64) error {
	return s.setStatus(ctx, articleID, models.StatusError)
}

func (s *PGStore) setStatus(ctx context.Context, articleID int64, status models.ProcessStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE articles SET process_status = $1 WHERE id = $2`, status, articleID)
	if err != nil {
		return fmt.Errorf("postprocess: setting article %d status to %s: %w", articleID, status, err)
	}
	return nil
}
