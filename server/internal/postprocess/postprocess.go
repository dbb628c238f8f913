// Package postprocess implements the Simple Post-Processor (C11): a
// lightweight alternative to the Intelligence Engine for backlog
// throughput. One LLM call per SCRAPED article fills title_en,
// summary_ko, summary_en, and hashtags_en — no entity linking, no
// cross-validation. It exists purely to drain a large SCRAPED backlog
// faster than the tiered engine can.
package postprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/llm"
)

const (
	contentSnippetLength = 800
	defaultBatchDelay    = 300 * time.Millisecond
)

// LLMClient is the subset of *llm.Client the post-processor depends on.
type LLMClient interface {
	CallJSON(ctx context.Context, systemPrompt, userPrompt string) (string, llm.Usage, error)
}

// ArticleRef is the minimal article data the post-processor needs.
type ArticleRef struct {
	ID        int64
	TitleKo   string
	ContentKo string
}

// result is the LLM's structured output for one article.
type result struct {
	TitleEn    string   `json:"title_en"`
	SummaryKo  string   `json:"summary_ko"`
	SummaryEn  string   `json:"summary_en"`
	HashtagsEn []string `json:"hashtags_en"`
}

// Store is the persistence boundary the post-processor depends on.
type Store interface {
	// ListScraped returns up to limit SCRAPED articles, newest
	// published_at first with NULLs last.
	ListScraped(ctx context.Context, limit int) ([]ArticleRef, error)
	// ClaimScraped re-loads the article and confirms it is still
	// SCRAPED (another process may have already claimed it),
	// returning ok=false if not.
	ClaimScraped(ctx context.Context, articleID int64) (ArticleRef, bool, error)
	// WriteResult fills only the empty fields among title_en,
	// summary_ko, summary_en, hashtags_en and transitions to
	// PROCESSED.
	WriteResult(ctx context.Context, articleID int64, titleEn, summaryKo, summaryEn string, hashtags []string) error
	// MarkSkipped transitions an article with no title_ko straight to
	// PROCESSED — there is nothing to translate.
	MarkSkipped(ctx context.Context, articleID int64) error
	// MarkError transitions an article to ERROR after an exception.
	MarkError(ctx context.Context, articleID int64) error
}

// Engine is the Simple Post-Processor.
type Engine struct {
	llm        LLMClient
	store      Store
	logger     *zap.Logger
	batchDelay time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchDelay overrides the default fixed delay between calls.
func WithBatchDelay(d time.Duration) Option {
	return func(e *Engine) { e.batchDelay = d }
}

// New builds an Engine.
func New(llmClient LLMClient, store Store, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{llm: llmClient, store: store, logger: logger, batchDelay: defaultBatchDelay}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessScraped processes up to batchSize SCRAPED articles one at a
// time, sleeping batchDelay between calls, and returns the count that
// reached PROCESSED (counts only completions, not attempts,
// distinct from C8's richer BatchResult).
func (e *Engine) ProcessScraped(ctx context.Context, batchSize int) (int, error) {
	refs, err := e.store.ListScraped(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("postprocess: listing scraped articles: %w", err)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	done := 0
	for i, ref := range refs {
		claimed, ok, err := e.store.ClaimScraped(ctx, ref.ID)
		if err != nil {
			return done, fmt.Errorf("postprocess: claiming article %d: %w", ref.ID, err)
		}
		if !ok {
			continue
		}
		if e.processOne(ctx, claimed) {
			done++
		}
		if i < len(refs)-1 {
			select {
			case <-ctx.Done():
				return done, ctx.Err()
			case <-time.After(e.batchDelay):
			}
		}
	}
	return done, nil
}

// ProcessAllScraped repeats ProcessScraped until a pass returns zero,
// draining the entire SCRAPED backlog.
func (e *Engine) ProcessAllScraped(ctx context.Context, batchSize int) (int, error) {
	total := 0
	for {
		n, err := e.ProcessScraped(ctx, batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

func (e *Engine) processOne(ctx context.Context, ref ArticleRef) bool {
	if strings.TrimSpace(ref.TitleKo) == "" {
		if err := e.store.MarkSkipped(ctx, ref.ID); err != nil {
			e.logger.Error("postprocess: marking title-less article skipped failed", zap.Int64("article_id", ref.ID), zap.Error(err))
			return false
		}
		return true
	}

	snippet := ref.ContentKo
	if runes := []rune(snippet); len(runes) > contentSnippetLength {
		snippet = string(runes[:contentSnippetLength])
	}

	raw, _, err := e.llm.CallJSON(ctx, systemPrompt, buildUserPrompt(ref.TitleKo, snippet))
	if err != nil {
		e.logger.Warn("postprocess: LLM call failed", zap.Int64("article_id", ref.ID), zap.Error(err))
		e.markError(ctx, ref.ID)
		return false
	}

	var parsed result
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		e.logger.Warn("postprocess: decoding LLM response failed", zap.Int64("article_id", ref.ID), zap.Error(err))
		e.markError(ctx, ref.ID)
		return false
	}

	hashtags := normalizeHashtags(parsed.HashtagsEn)
	if err := e.store.WriteResult(ctx, ref.ID, parsed.TitleEn, parsed.SummaryKo, parsed.SummaryEn, hashtags); err != nil {
		e.logger.Warn("postprocess: writing result failed", zap.Int64("article_id", ref.ID), zap.Error(err))
		e.markError(ctx, ref.ID)
		return false
	}
	return true
}

func (e *Engine) markError(ctx context.Context, articleID int64) {
	if err := e.store.MarkError(ctx, articleID); err != nil {
		e.logger.Error("postprocess: marking article ERROR failed", zap.Int64("article_id", articleID), zap.Error(err))
	}
}

func normalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	return out
}
