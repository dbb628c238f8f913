package intelligence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hallyuwire/corehub/server/internal/llm"
	"github.com/hallyuwire/corehub/server/internal/models"
)

// PGStore is the Postgres-backed Store.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore builds a PGStore.
func NewPGStore(db *sqlx.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) LoadArticle(ctx context.Context, articleID int64) (articleInput, error) {
	var row struct {
		ID           int64          `db:"id"`
		SourceURL    string         `db:"source_url"`
		TitleKo      string         `db:"title_ko"`
		ContentKo    string         `db:"content_ko"`
		ArtistNameKo string         `db:"artist_name_ko"`
		SummaryKo    string         `db:"summary_ko"`
		PublishedAt  sql.NullTime   `db:"published_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, source_url, title_ko, content_ko, artist_name_ko, summary_ko, published_at
		FROM articles WHERE id = $1
	`, articleID)
	if err != nil {
		return articleInput{}, fmt.Errorf("intelligence: loading article %d: %w", articleID, err)
	}
	a := articleInput{
		ID:           row.ID,
		SourceURL:    row.SourceURL,
		TitleKo:      row.TitleKo,
		ContentKo:    row.ContentKo,
		ArtistNameKo: row.ArtistNameKo,
		SummaryKo:    row.SummaryKo,
	}
	if row.PublishedAt.Valid {
		a.PublishedAt = &row.PublishedAt.Time
	}
	return a, nil
}

// ClaimPendingBatch atomically claims up to batchSize PENDING articles,
// transitioning them to SCRAPED as an in-progress marker under
// row-level locks that skip already-locked rows.
func (s *PGStore) ClaimPendingBatch(ctx context.Context, batchSize int) ([]articleInput, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("intelligence: beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var ids []int64
	err = tx.SelectContext(ctx, &ids, `
		SELECT id FROM articles
		WHERE process_status = $1
		ORDER BY published_at ASC NULLS LAST, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, models.StatusPending, batchSize)
	if err != nil {
		return nil, fmt.Errorf("intelligence: selecting pending batch: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE articles SET process_status = $1 WHERE id = ANY($2)
	`, models.StatusScraped, idArray(ids))
	if err != nil {
		return nil, fmt.Errorf("intelligence: marking batch in-progress: %w", err)
	}

	articles, err := loadArticlesByID(ctx, tx.Tx, ids)
	if err != nil {
		return nil, err
	}
	return articles, tx.Commit()
}

// PeekPendingBatch reads PENDING rows without transitioning them, for
// dry-run previews.
func (s *PGStore) PeekPendingBatch(ctx context.Context, batchSize int) ([]articleInput, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM articles
		WHERE process_status = $1
		ORDER BY published_at ASC NULLS LAST, id ASC
		LIMIT $2
	`, models.StatusPending, batchSize)
	if err != nil {
		return nil, fmt.Errorf("intelligence: peeking pending batch: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return loadArticlesByID(ctx, s.db.DB, ids)
}

func loadArticlesByID(ctx context.Context, db sqlExecer, ids []int64) ([]articleInput, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, source_url, title_ko, content_ko, artist_name_ko, summary_ko, published_at
		FROM articles WHERE id = ANY($1)
	`, idArray(ids))
	if err != nil {
		return nil, fmt.Errorf("intelligence: loading batch articles: %w", err)
	}
	defer rows.Close()

	var out []articleInput
	for rows.Next() {
		var a articleInput
		var published sql.NullTime
		if err := rows.Scan(&a.ID, &a.SourceURL, &a.TitleKo, &a.ContentKo, &a.ArtistNameKo, &a.SummaryKo, &published); err != nil {
			return nil, fmt.Errorf("intelligence: scanning batch article: %w", err)
		}
		if published.Valid {
			a.PublishedAt = &published.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// sqlExecer is the narrow *sql.DB/*sql.Tx surface loadArticlesByID needs.
type sqlExecer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func idArray(ids []int64) any { return pq.Array(ids) }

func pqTextArray(values []string) any {
	if values == nil {
		values = []string{}
	}
	return pq.Array(values)
}

func (s *PGStore) LoadArtistRegistry(ctx context.Context) ([]ArtistRef, error) {
	var rows []struct {
		ID             int64 `db:"id"`
		NameKo         string `db:"name_ko"`
		NameEn         string `db:"name_en"`
		StageNameKo    string `db:"stage_name_ko"`
		StageNameEn    string `db:"stage_name_en"`
		GlobalPriority *int   `db:"global_priority"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name_ko, name_en, stage_name_ko, stage_name_en, global_priority FROM artists
	`)
	if err != nil {
		return nil, fmt.Errorf("intelligence: loading artist registry: %w", err)
	}
	out := make([]ArtistRef, len(rows))
	for i, r := range rows {
		out[i] = ArtistRef{
			ID: r.ID, NameKo: r.NameKo, NameEn: r.NameEn,
			StageNameKo: r.StageNameKo, StageNameEn: r.StageNameEn,
			GlobalPriority: r.GlobalPriority,
		}
	}
	return out, nil
}

func (s *PGStore) LoadGlossary(ctx context.Context) ([]GlossaryTerm, error) {
	var rows []struct {
		TermKo   string                   `db:"term_ko"`
		TermEn   string                   `db:"term_en"`
		Category models.GlossaryCategory `db:"category"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT term_ko, term_en, category FROM glossary ORDER BY created_at ASC LIMIT 300
	`)
	if err != nil {
		return nil, fmt.Errorf("intelligence: loading glossary: %w", err)
	}
	out := make([]GlossaryTerm, len(rows))
	for i, r := range rows {
		out[i] = GlossaryTerm{TermKo: r.TermKo, TermEn: r.TermEn, Category: r.Category}
	}
	return out, nil
}

// WriteResult persists the write-through described below: the
// article row, the replaced entity mappings, and an AI_PROCESS
// SystemLog row, all in one transaction.
func (s *PGStore) WriteResult(ctx context.Context, articleID int64, ext *ExtractionResult, mappings []LinkedMapping, status models.ProcessStatus, systemNote string, usage llm.Usage) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("intelligence: beginning write-through transaction: %w", err)
	}
	defer tx.Rollback()

	var systemNoteArg any
	if systemNote == "" {
		systemNoteArg = nil
	} else {
		systemNoteArg = systemNote
	}

	seoHashtagsJSON, err := json.Marshal(ext.SEOHashtags)
	if err != nil {
		return fmt.Errorf("intelligence: marshaling seo_hashtags for article %d: %w", articleID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE articles SET
			process_status = $1,
			title_en = COALESCE(NULLIF($2, ''), title_en),
			summary_en = COALESCE(NULLIF($3, ''), summary_en),
			hashtags_en = CASE WHEN $4::text[] = '{}' THEN hashtags_en ELSE $4 END,
			seo_hashtags = CASE WHEN $5::jsonb = '[]'::jsonb THEN seo_hashtags ELSE $5 END,
			summary_ko = CASE WHEN summary_ko = '' THEN $6 ELSE summary_ko END,
			system_note = $7,
			sentiment = COALESCE(NULLIF($8, ''), sentiment)
		WHERE id = $9
	`, status, ext.TitleEn, ext.TopicSummaryEn, pqTextArray(ext.SEOHashtags), seoHashtagsJSON, ext.TopicSummary, systemNoteArg, normalizeSentiment(ext.Sentiment), articleID)
	if err != nil {
		return fmt.Errorf("intelligence: updating article %d: %w", articleID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_mappings WHERE article_id = $1`, articleID); err != nil {
		return fmt.Errorf("intelligence: clearing entity mappings for article %d: %w", articleID, err)
	}
	for _, m := range mappings {
		if m.EntityID == nil {
			continue
		}
		var artistID, groupID any
		switch m.Detected.EntityType {
		case models.EntityArtist:
			artistID = *m.EntityID
		case models.EntityGroup:
			groupID = *m.EntityID
		}
		confidence := m.Detected.ConfidenceScore + m.ConfidenceBoost
		if confidence > 1.0 {
			confidence = 1.0
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity_mappings (article_id, artist_id, group_id, entity_type, confidence_score, context_snippet)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, articleID, artistID, groupID, m.Detected.EntityType, confidence, contextSnippet(m.Detected))
		if err != nil {
			return fmt.Errorf("intelligence: inserting entity mapping for article %d: %w", articleID, err)
		}
	}

	details, err := json.Marshal(logDetails(ext, mappings, usage))
	if err != nil {
		return fmt.Errorf("intelligence: marshaling AI_PROCESS details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO system_logs (level, category, event, details_json, duration_ms)
		VALUES ('info', $1, 'article_processed', $2, $3)
	`, models.LogAIProcess, details, usage.ResponseTimeMS)
	if err != nil {
		return fmt.Errorf("intelligence: logging AI_PROCESS for article %d: %w", articleID, err)
	}

	return tx.Commit()
}

// MarkError transitions an article to ERROR and records an AI_PROCESS
// SystemLog capturing the error kind, a raw-response prefix (empty when
// the failure happened before any response existed), and the source URL,
// all in one transaction.
func (s *PGStore) MarkError(ctx context.Context, articleID int64, errKind, rawPrefix, sourceURL string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("intelligence: beginning mark-error transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE articles SET process_status = $1 WHERE id = $2
	`, models.StatusError, articleID); err != nil {
		return fmt.Errorf("intelligence: marking article %d ERROR: %w", articleID, err)
	}

	details, err := json.Marshal(map[string]any{
		"article_id": articleID,
		"error_kind": errKind,
		"raw_prefix": rawPrefix,
		"source_url": sourceURL,
	})
	if err != nil {
		return fmt.Errorf("intelligence: marshaling AI_PROCESS error details: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO system_logs (level, category, event, details_json)
		VALUES ('error', $1, 'article_error', $2)
	`, models.LogAIProcess, details); err != nil {
		return fmt.Errorf("intelligence: logging AI_PROCESS error for article %d: %w", articleID, err)
	}

	return tx.Commit()
}

func normalizeSentiment(s string) string {
	switch s {
	case "positive":
		return string(models.SentimentPositive)
	case "negative":
		return string(models.SentimentNegative)
	case "neutral", "mixed":
		return string(models.SentimentNeutral)
	default:
		return ""
	}
}

func contextSnippet(d DetectedArtist) string {
	if len(d.ContextHints) == 0 {
		return ""
	}
	return d.ContextHints[0]
}

func logDetails(ext *ExtractionResult, mappings []LinkedMapping, usage llm.Usage) map[string]any {
	confidenceByEntity := make(map[string]float64, len(mappings))
	var ambiguous, lowConfidence []string
	var linkedIDs []int64
	for _, m := range mappings {
		confidenceByEntity[m.Detected.NameKo] = m.Detected.ConfidenceScore
		if m.Detected.IsAmbiguous {
			ambiguous = append(ambiguous, m.Detected.NameKo)
		}
		if m.Detected.ConfidenceScore < EntityConfidenceThreshold {
			lowConfidence = append(lowConfidence, m.Detected.NameKo)
		}
		if m.EntityID != nil {
			linkedIDs = append(linkedIDs, *m.EntityID)
		}
	}
	return map[string]any{
		"prompt_tokens":         usage.PromptTokens,
		"completion_tokens":     usage.CompletionTokens,
		"total_tokens":          usage.TotalTokens,
		"response_time_ms":      usage.ResponseTimeMS,
		"overall_confidence":    ext.Confidence,
		"relevance_score":       ext.RelevanceScore,
		"entity_confidence":     confidenceByEntity,
		"ambiguous_entities":    ambiguous,
		"low_confidence_entities": lowConfidence,
		"linked_artist_ids":     linkedIDs,
	}
}
