package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/llm"
	"github.com/hallyuwire/corehub/server/internal/models"
)

var validate = validator.New()

const (
	artistCacheTTL   = 5 * time.Minute
	glossaryCacheTTL = 10 * time.Minute

	// rawPrefixLen bounds how much of a malformed LLM response gets
	// logged alongside the ERROR transition — enough to diagnose a
	// schema drift, not enough to bloat the SystemLog row.
	rawPrefixLen = 500
)

// LLMClient is the subset of *llm.Client the engine depends on.
type LLMClient interface {
	CallJSON(ctx context.Context, systemPrompt, userPrompt string) (string, llm.Usage, error)
}

// ResolverInput is what the Self-Healing Resolver (C9) needs from the
// article to run cross-validation and, if it fails, Auto-Reconciliation.
type ResolverInput struct {
	ArticleID         int64
	ArticleTitleKo    string
	ArticleConfidence float64
}

// Resolver is implemented by internal/resolver. It runs after entity
// linking on non-dry-run articles and returns mappings with
// any confidence boosts from FILL/no-op cross-validation applied.
type Resolver interface {
	// Resolve returns mappings with any FILL/no-op confidence boosts
	// applied, and reports glossaryChanged=true when it auto-enrolled a
	// new term so the caller can invalidate its glossary cache.
	Resolve(ctx context.Context, input ResolverInput, mappings []LinkedMapping) (resolved []LinkedMapping, glossaryChanged bool, err error)
}

// Store is the persistence boundary the engine depends on. See
// internal/intelligence/store.go for the Postgres implementation.
type Store interface {
	LoadArticle(ctx context.Context, articleID int64) (articleInput, error)
	ClaimPendingBatch(ctx context.Context, batchSize int) ([]articleInput, error)
	PeekPendingBatch(ctx context.Context, batchSize int) ([]articleInput, error)
	LoadArtistRegistry(ctx context.Context) ([]ArtistRef, error)
	LoadGlossary(ctx context.Context) ([]GlossaryTerm, error)
	WriteResult(ctx context.Context, articleID int64, extraction *ExtractionResult, mappings []LinkedMapping, status models.ProcessStatus, systemNote string, usage llm.Usage) error
	// MarkError transitions an article straight to ERROR after a
	// per-article failure that never produced a usable ExtractionResult
	// (the LLM call itself failed, or its response failed to decode or
	// validate), recording a SystemLog with errKind, a bounded prefix of
	// the raw response, and the source URL.
	MarkError(ctx context.Context, articleID int64, errKind, rawPrefix, sourceURL string) error
}

// Engine is the Intelligence Engine (C8).
type Engine struct {
	llm      LLMClient
	store    Store
	resolver Resolver
	logger   *zap.Logger

	artists   *registryCache
	glossary  *glossaryCache
}

// New builds an Engine. resolver may be nil, in which case
// cross-validation is skipped entirely (acceptable for dry runs and for
// deployments that haven't wired the resolver yet).
func New(llmClient LLMClient, store Store, resolver Resolver, logger *zap.Logger) *Engine {
	e := &Engine{llm: llmClient, store: store, resolver: resolver, logger: logger}
	e.artists = newArtistCache(artistCacheTTL, store.LoadArtistRegistry)
	e.glossary = newGlossaryCache(glossaryCacheTTL, store.LoadGlossary)
	return e
}

// invalidateGlossaryCache is called by ProcessOne when the resolver
// reports a successful ENROLL, so the next batch sees the new term.
func (e *Engine) invalidateGlossaryCache() { e.glossary.invalidate() }

// tierFor scans the cached artist registry for matches on artistNameKo
// and takes the best (smallest) global_priority among them.
func tierFor(artistNameKo string, registry []ArtistRef) Tier {
	if strings.TrimSpace(artistNameKo) == "" {
		return TierFull
	}
	best := -1
	for _, a := range registry {
		if a.NameKo != artistNameKo && a.StageNameKo != artistNameKo {
			continue
		}
		p := 1
		if a.GlobalPriority != nil {
			p = *a.GlobalPriority
		}
		if best == -1 || p < best {
			best = p
		}
	}
	switch {
	case best == -1, best <= 1:
		return TierFull
	case best == 2:
		return TierTitleOnly
	default:
		return TierKoOnly
	}
}

// ProcessOne runs the full pipeline for one article already in SCRAPED
// state: prompt construction, extraction, entity linking, status
// decision, and write-through. When dryRun is true nothing is persisted.
func (e *Engine) ProcessOne(ctx context.Context, articleID int64, dryRun bool) (ProcessOutcome, error) {
	article, err := e.store.LoadArticle(ctx, articleID)
	if err != nil {
		return ProcessOutcome{}, fmt.Errorf("intelligence: loading article %d: %w", articleID, err)
	}

	registry, err := e.artists.get(ctx)
	if err != nil {
		return ProcessOutcome{}, fmt.Errorf("intelligence: loading artist registry: %w", err)
	}

	tier := tierFor(article.ArtistNameKo, registry)

	var glossary []GlossaryTerm
	if tier != TierKoOnly {
		glossary, err = e.glossary.get(ctx)
		if err != nil {
			return ProcessOutcome{}, fmt.Errorf("intelligence: loading glossary: %w", err)
		}
	}

	systemPrompt := buildSystemPrompt(tier, glossary)
	userPrompt := buildUserPrompt(article)

	raw, usage, err := e.llm.CallJSON(ctx, systemPrompt, userPrompt)
	if err != nil {
		if !dryRun {
			e.markError(ctx, articleID, "llm_call_error", "", article.SourceURL)
		}
		return ProcessOutcome{ArticleID: articleID, Tier: tier, Error: err.Error()}, err
	}

	var extraction ExtractionResult
	if err := json.Unmarshal([]byte(raw), &extraction); err != nil {
		if !dryRun {
			e.markError(ctx, articleID, "validation_error", truncatePrefix(raw, rawPrefixLen), article.SourceURL)
		}
		return ProcessOutcome{ArticleID: articleID, Tier: tier, Error: err.Error()},
			fmt.Errorf("intelligence: decoding extraction JSON for article %d: %w", articleID, err)
	}
	if err := validate.Struct(extraction); err != nil {
		if !dryRun {
			e.markError(ctx, articleID, "validation_error", truncatePrefix(raw, rawPrefixLen), article.SourceURL)
		}
		return ProcessOutcome{ArticleID: articleID, Tier: tier, Error: err.Error()},
			fmt.Errorf("intelligence: extraction JSON failed schema validation for article %d: %w", articleID, err)
	}
	normalizeHashtags(&extraction)

	mappings := linkMappings(extraction.DetectedArtists, registry)

	if !dryRun && e.resolver != nil {
		resolved, glossaryChanged, err := e.resolver.Resolve(ctx, ResolverInput{
			ArticleID:         articleID,
			ArticleTitleKo:    article.TitleKo,
			ArticleConfidence: extraction.Confidence,
		}, mappings)
		if err != nil {
			e.logger.Warn("intelligence: resolver failed, keeping unboosted mappings",
				zap.Int64("article_id", articleID), zap.Error(err))
		} else {
			mappings = resolved
			if glossaryChanged {
				e.invalidateGlossaryCache()
			}
		}
	}

	status, systemNote := decideStatus(tier, extraction, mappings)

	outcome := ProcessOutcome{
		ArticleID:  articleID,
		Tier:       tier,
		Status:     status,
		SystemNote: systemNote,
		Extraction: &extraction,
		Mappings:   mappings,
		DryRun:     dryRun,
	}

	if dryRun {
		return outcome, nil
	}

	if err := e.store.WriteResult(ctx, articleID, &extraction, mappings, status, systemNote, usage); err != nil {
		return outcome, fmt.Errorf("intelligence: writing result for article %d: %w", articleID, err)
	}
	return outcome, nil
}

// markError transitions an article to ERROR, logging rather than
// propagating a failure here so the batch loop can continue past it.
func (e *Engine) markError(ctx context.Context, articleID int64, errKind, rawPrefix, sourceURL string) {
	if err := e.store.MarkError(ctx, articleID, errKind, rawPrefix, sourceURL); err != nil {
		e.logger.Error("intelligence: marking article ERROR failed", zap.Int64("article_id", articleID), zap.Error(err))
	}
}

func truncatePrefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// decideStatus implements the layered threshold decision.
func decideStatus(tier Tier, ext ExtractionResult, mappings []LinkedMapping) (models.ProcessStatus, string) {
	var reasons []string

	for _, m := range mappings {
		if m.Detected.ConfidenceScore < EntityConfidenceThreshold {
			reasons = append(reasons, fmt.Sprintf("entity %q confidence %.2f below threshold", m.Detected.NameKo, m.Detected.ConfidenceScore))
		}
		if m.Detected.IsAmbiguous {
			reason := m.Detected.AmbiguityReason
			if reason == "" {
				reason = "unspecified"
			}
			reasons = append(reasons, fmt.Sprintf("entity %q ambiguous: %s", m.Detected.NameKo, reason))
		}
	}

	if ext.RelevanceScore < MinRelevance {
		reasons = append(reasons, fmt.Sprintf("relevance_score %.2f below %.2f", ext.RelevanceScore, MinRelevance))
	}
	if ext.Confidence < MinConfidence {
		reasons = append(reasons, fmt.Sprintf("confidence %.2f below %.2f", ext.Confidence, MinConfidence))
	}
	if tier != TierKoOnly && (strings.TrimSpace(ext.TitleEn) == "" || strings.TrimSpace(ext.TopicSummaryEn) == "") {
		reasons = append(reasons, "missing English translation for non-KO_ONLY tier")
	}

	if len(reasons) > 0 {
		return models.StatusManualReview, "MANUAL_REVIEW 사유: " + strings.Join(reasons, "; ")
	}
	if ext.Confidence >= AutoCommitThreshold {
		return models.StatusVerified, ""
	}
	return models.StatusProcessed, fmt.Sprintf("confidence %.2f below auto-commit threshold %.2f", ext.Confidence, AutoCommitThreshold)
}

func linkMappings(detected []DetectedArtist, registry []ArtistRef) []LinkedMapping {
	mappings := make([]LinkedMapping, 0, len(detected))
	for _, d := range detected {
		id, score := linkEntity(d, registry)
		mappings = append(mappings, LinkedMapping{Detected: d, EntityID: id, MatchScore: score})
	}
	return mappings
}

func normalizeHashtags(ext *ExtractionResult) {
	tags := make([]string, 0, len(ext.SEOHashtags))
	for _, t := range ext.SEOHashtags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		tags = append(tags, t)
		if len(tags) == 15 {
			break
		}
	}
	ext.SEOHashtags = tags
}

// ProcessPending is the batch loop: atomically claims up to
// batchSize PENDING articles (or just peeks at them, for dry runs) and
// processes each. A claim failure for one article does not abort the
// batch; it is recorded as an error outcome.
func (e *Engine) ProcessPending(ctx context.Context, batchSize int, dryRun bool) (BatchResult, error) {
	var (
		articles []articleInput
		err      error
	)
	if dryRun {
		articles, err = e.store.PeekPendingBatch(ctx, batchSize)
	} else {
		articles, err = e.store.ClaimPendingBatch(ctx, batchSize)
	}
	if err != nil {
		return BatchResult{}, fmt.Errorf("intelligence: claiming batch: %w", err)
	}

	result := BatchResult{Claimed: len(articles)}
	for _, a := range articles {
		outcome, err := e.ProcessOne(ctx, a.ID, dryRun)
		if err != nil {
			e.logger.Error("intelligence: processing article failed", zap.Int64("article_id", a.ID), zap.Error(err))
			outcome.ArticleID = a.ID
			outcome.Error = err.Error()
		}
		result.Processed = append(result.Processed, outcome)
	}
	return result, nil
}
