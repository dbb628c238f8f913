// Package resolver implements the Self-Healing Resolver (C9): the
// cross-validation, Auto-Reconciliation, and Smart Glossary Auto-Enroll
// mechanisms that run after the Intelligence Engine (C8) links entities
// on a non-dry-run article.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/intelligence"
	"github.com/hallyuwire/corehub/server/internal/llm"
	"github.com/hallyuwire/corehub/server/internal/models"
)

// fillWhitelist is the hard invariant: only these column
// names may ever reach a composed UPDATE statement, because the field
// name appears inside the SQL text. name_en is the only field actively
// populated by detection today; the rest are accepted so the engine
// does not need a code change the day detection grows to cover them.
var fillWhitelist = map[string]bool{
	"name_en":        true,
	"nationality_ko":  true,
	"nationality_en":  true,
	"mbti":            true,
	"blood_type":      true,
	"height_cm":       true,
	"weight_kg":       true,
}

const confidenceBoost = 0.05

// LLMClient is the narrow reconciliation call the resolver issues: given
// a field-level conflict, decide whether the article or the stored value
// wins.
type LLMClient interface {
	CallJSON(ctx context.Context, systemPrompt, userPrompt string) (string, llm.Usage, error)
}

// ArtistProfile is the subset of an Artist's whitelisted field values the
// resolver cross-validates against detection output.
type ArtistProfile struct {
	ID     int64
	Fields map[string]string // whitelisted field name -> current DB value
}

// Store is the persistence boundary the resolver depends on.
type Store interface {
	LoadArtistProfile(ctx context.Context, artistID int64) (ArtistProfile, error)
	ApplyFill(ctx context.Context, articleID, artistID int64, field, newValue string, detectedConfidence, sourceReliability float64) error
	TouchLastVerified(ctx context.Context, artistID int64) error
	ApplyReconcile(ctx context.Context, articleID, artistID int64, field, newValue, reasoning string, detectedConfidence, sourceReliability float64) error
	LogNoOpReconcile(ctx context.Context, articleID, artistID int64, field, dbValue, reasoning string, detectedConfidence, sourceReliability float64) error
	LogConflict(ctx context.Context, articleID, entityID int64, entityType models.EntityType, field, existingValue, conflictingValue, reason string, conflictScore float64) error
	EnrollGlossaryTerm(ctx context.Context, termKo, termEn string, category models.GlossaryCategory, sourceArticleID int64) (enrolled bool, err error)
}

// Engine is the Self-Healing Resolver.
type Engine struct {
	llm    LLMClient
	store  Store
	logger *zap.Logger
}

// New builds an Engine.
func New(llmClient LLMClient, store Store, logger *zap.Logger) *Engine {
	return &Engine{llm: llmClient, store: store, logger: logger}
}

type reconcileDecision struct {
	Winner string `json:"winner"`
	Reason string `json:"reason"`
}

// Resolve implements intelligence.Resolver. It runs cross-validation for
// every linked ARTIST mapping, then Smart Glossary Auto-Enroll for every
// unlinked mapping with a usable English name.
func (e *Engine) Resolve(ctx context.Context, input intelligence.ResolverInput, mappings []intelligence.LinkedMapping) ([]intelligence.LinkedMapping, bool, error) {
	resolved := make([]intelligence.LinkedMapping, len(mappings))
	copy(resolved, mappings)

	for i, m := range resolved {
		if m.Detected.EntityType != models.EntityArtist || m.EntityID == nil {
			continue
		}
		boost, err := e.crossValidate(ctx, input, *m.EntityID, m.Detected)
		if err != nil {
			e.logger.Warn("resolver: cross-validation failed",
				zap.Int64("article_id", input.ArticleID), zap.Int64("artist_id", *m.EntityID), zap.Error(err))
			continue
		}
		resolved[i].ConfidenceBoost = boost
	}

	glossaryChanged := false
	for _, m := range resolved {
		if m.EntityID != nil {
			continue
		}
		enrolled, err := e.autoEnroll(ctx, input.ArticleID, m.Detected)
		if err != nil {
			e.logger.Warn("resolver: glossary auto-enroll failed",
				zap.Int64("article_id", input.ArticleID), zap.String("name_ko", m.Detected.NameKo), zap.Error(err))
			continue
		}
		if enrolled {
			glossaryChanged = true
		}
	}

	return resolved, glossaryChanged, nil
}

// crossValidate implements FILL + confidence boost. Only
// name_en is driven by today's detection schema; the dispatch still
// enforces the whitelist before composing anything field-specific.
func (e *Engine) crossValidate(ctx context.Context, input intelligence.ResolverInput, artistID int64, detected intelligence.DetectedArtist) (float64, error) {
	const field = "name_en"
	if !fillWhitelist[field] {
		return 0, fmt.Errorf("resolver: field %q is not in the fill whitelist", field)
	}

	detectedValue := strings.TrimSpace(detected.NameEn)
	if detectedValue == "" {
		return 0, nil
	}

	profile, err := e.store.LoadArtistProfile(ctx, artistID)
	if err != nil {
		return 0, fmt.Errorf("resolver: loading artist %d profile: %w", artistID, err)
	}
	dbValue := strings.TrimSpace(profile.Fields[field])

	switch {
	case dbValue == "":
		if err := e.store.ApplyFill(ctx, input.ArticleID, artistID, field, detectedValue, detected.ConfidenceScore, input.ArticleConfidence); err != nil {
			return 0, fmt.Errorf("resolver: applying FILL for artist %d field %s: %w", artistID, field, err)
		}
		return confidenceBoost, nil

	case strings.EqualFold(dbValue, detectedValue):
		if err := e.store.TouchLastVerified(ctx, artistID); err != nil {
			return 0, fmt.Errorf("resolver: touching last_verified_at for artist %d: %w", artistID, err)
		}
		return confidenceBoost, nil

	default:
		return 0, e.autoReconcile(ctx, input, artistID, field, dbValue, detectedValue, detected.ConfidenceScore)
	}
}

// autoReconcile implements reconciliation: a second, narrow LLM
// call decides a winner; anything else raises a ConflictFlag.
func (e *Engine) autoReconcile(ctx context.Context, input intelligence.ResolverInput, artistID int64, field, dbValue, detectedValue string, detectedConfidence float64) error {
	decision, err := e.callReconcile(ctx, field, dbValue, detectedValue, titlePrefix(input.ArticleTitleKo))
	if err != nil {
		return e.flagConflict(ctx, input, artistID, field, dbValue, detectedValue, "Auto-Reconcile 판단 불가")
	}

	switch decision.Winner {
	case "article":
		return e.store.ApplyReconcile(ctx, input.ArticleID, artistID, field, detectedValue, decision.Reason, detectedConfidence, input.ArticleConfidence)
	case "db":
		// Spec leaves logging a "db wins" outcome implicit; this
		// implementation logs it anyway so a no-change resolution is
		// distinguishable from the resolver never having run at all.
		return e.store.LogNoOpReconcile(ctx, input.ArticleID, artistID, field, dbValue, decision.Reason, detectedConfidence, input.ArticleConfidence)
	default:
		reason := decision.Reason
		if reason == "" {
			reason = "Auto-Reconcile 판단 불가"
		}
		return e.flagConflict(ctx, input, artistID, field, dbValue, detectedValue, reason)
	}
}

func (e *Engine) callReconcile(ctx context.Context, field, dbValue, detectedValue, titlePrefix string) (reconcileDecision, error) {
	system := `You resolve a single-field data conflict between a stored profile value and a value freshly detected from a news article. Respond with a single JSON object and no markdown fence: {"winner": "article" | "db", "reason": "<=30 characters"}.`
	user := fmt.Sprintf("field_name: %s\ndb_value: %s\ndetected_value: %s\narticle_title_prefix: %s", field, dbValue, detectedValue, titlePrefix)

	raw, _, err := e.llm.CallJSON(ctx, system, user)
	if err != nil {
		return reconcileDecision{}, fmt.Errorf("resolver: reconcile call: %w", err)
	}
	var decision reconcileDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return reconcileDecision{}, fmt.Errorf("resolver: decoding reconcile decision: %w", err)
	}
	return decision, nil
}

func (e *Engine) flagConflict(ctx context.Context, input intelligence.ResolverInput, artistID int64, field, dbValue, detectedValue, reason string) error {
	score := jaccardDissimilarity(dbValue, detectedValue)
	return e.store.LogConflict(ctx, input.ArticleID, artistID, models.EntityArtist, field, dbValue, detectedValue, reason, score)
}

// autoEnroll implements glossary auto-enrollment.
func (e *Engine) autoEnroll(ctx context.Context, articleID int64, detected intelligence.DetectedArtist) (bool, error) {
	nameEn := strings.TrimSpace(detected.NameEn)
	if nameEn == "" {
		return false, nil
	}
	category := models.GlossaryEvent
	if detected.EntityType == models.EntityArtist || detected.EntityType == models.EntityGroup {
		category = models.GlossaryArtist
	}
	return e.store.EnrollGlossaryTerm(ctx, detected.NameKo, nameEn, category, articleID)
}

func titlePrefix(title string) string {
	const maxLen = 40
	runes := []rune(title)
	if len(runes) <= maxLen {
		return title
	}
	return string(runes[:maxLen])
}
