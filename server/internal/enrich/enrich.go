// Package enrich implements the Profile Enricher (C10): a one-shot pass
// over Artist/Group rows missing an `enriched_at` stamp that fetches a
// short reference-corpus introduction and lets the LLM fill empty
// profile fields, never overwriting curated data.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/llm"
)

// EntityKind distinguishes the two enrichable entity tables.
type EntityKind string

const (
	KindArtist EntityKind = "ARTIST"
	KindGroup  EntityKind = "GROUP"
)

// criticalFields defines "sparse" for the re_enrich_sparse sweep.
var criticalFields = map[EntityKind][]string{
	KindArtist: {"name_en", "nationality_ko", "mbti"},
	KindGroup:  {"name_en", "label_ko", "fandom_name_ko"},
}

// EntityRef is the minimal identity the enricher needs to fetch a
// reference corpus entry and apply results back.
type EntityRef struct {
	ID         int64
	Kind       EntityKind
	NameKo     string
	NameEn     string
	StageName  string // artist only; empty for groups
}

// ReferenceFetcher retrieves a short introduction string for name from a
// public reference corpus. Failure is non-fatal.
type ReferenceFetcher interface {
	Fetch(ctx context.Context, name string) (string, bool, error)
}

// LLMClient is the subset of *llm.Client the enricher depends on.
type LLMClient interface {
	CallJSON(ctx context.Context, systemPrompt, userPrompt string) (string, llm.Usage, error)
}

// extractedFields is the LLM's structured output: a verified_match flag
// plus the whitelist of fields the enricher may write. When
// VerifiedMatch is false every other field must be null/empty — the
// model is instructed accordingly, and the enricher re-enforces it here
// rather than trusting the instruction alone.
type extractedFields struct {
	VerifiedMatch bool    `json:"verified_match"`
	NameEn        string  `json:"name_en,omitempty"`
	NationalityKo string  `json:"nationality_ko,omitempty"`
	NationalityEn string  `json:"nationality_en,omitempty"`
	MBTI          string  `json:"mbti,omitempty"`
	BloodType     string  `json:"blood_type,omitempty"`
	HeightCm      *float64 `json:"height_cm,omitempty"`
	WeightKg      *float64 `json:"weight_kg,omitempty"`
	LabelKo       string  `json:"label_ko,omitempty"`
	FandomNameKo  string  `json:"fandom_name_ko,omitempty"`
	BioKo         string  `json:"bio_ko,omitempty"`
	BioEn         string  `json:"bio_en,omitempty"`
}

// Store is the persistence boundary the enricher depends on.
type Store interface {
	// ListUnenriched returns up to limit entities with enriched_at IS
	// NULL: artists first, then groups, each ordered by global_priority
	// ascending with NULL last, then id.
	ListUnenriched(ctx context.Context, limit int) ([]EntityRef, error)
	// CurrentFields returns the entity's present (possibly empty) values
	// for every field extractedFields may populate, keyed the same way.
	CurrentFields(ctx context.Context, ref EntityRef) (map[string]string, error)
	// ApplyEnrichment writes every field in updates (the engine has
	// already dropped fields that are not empty, except bio_ko/bio_en
	// when overwriteBio is true) and always stamps enriched_at=now().
	ApplyEnrichment(ctx context.Context, ref EntityRef, updates map[string]string, overwriteBio bool) error
	// ResetSparseEnrichment clears enriched_at for entities of kind
	// whose critical fields are still empty, up to limit rows.
	ResetSparseEnrichment(ctx context.Context, kind EntityKind, criticalFields []string, limit int) (int, error)
}

// Engine is the Profile Enricher.
type Engine struct {
	llm      LLMClient
	store    Store
	fetcher  ReferenceFetcher
	logger   *zap.Logger
}

// New builds an Engine. fetcher may be nil, in which case enrichment
// relies entirely on the model's prior knowledge gated by
// verified_match.
func New(llmClient LLMClient, store Store, fetcher ReferenceFetcher, logger *zap.Logger) *Engine {
	return &Engine{llm: llmClient, store: store, fetcher: fetcher, logger: logger}
}

// EnrichOutcome summarizes one entity's enrichment attempt.
type EnrichOutcome struct {
	EntityID      int64  `json:"entity_id"`
	VerifiedMatch bool   `json:"verified_match"`
	FieldsWritten int    `json:"fields_written"`
	Error         string `json:"error,omitempty"`
}

// Run enriches up to limit unenriched entities in priority order.
func (e *Engine) Run(ctx context.Context, limit int) ([]EnrichOutcome, error) {
	refs, err := e.store.ListUnenriched(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("enrich: listing unenriched entities: %w", err)
	}

	outcomes := make([]EnrichOutcome, 0, len(refs))
	for _, ref := range refs {
		outcome, err := e.enrichOne(ctx, ref, false)
		if err != nil {
			e.logger.Error("enrich: enriching entity failed", zap.Int64("entity_id", ref.ID), zap.Error(err))
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (e *Engine) enrichOne(ctx context.Context, ref EntityRef, overwriteBio bool) (EnrichOutcome, error) {
	lookupNames := []string{ref.NameKo}
	if ref.StageName != "" {
		lookupNames = append(lookupNames, ref.StageName)
	}
	if ref.NameEn != "" {
		lookupNames = append(lookupNames, ref.NameEn)
	}

	reference, found := e.fetchReference(ctx, lookupNames)

	system, user := buildPrompt(ref, reference, found)
	raw, _, err := e.llm.CallJSON(ctx, system, user)
	if err != nil {
		return EnrichOutcome{EntityID: ref.ID}, fmt.Errorf("enrich: LLM call for entity %d: %w", ref.ID, err)
	}

	var extracted extractedFields
	if err := json.Unmarshal([]byte(raw), &extracted); err != nil {
		return EnrichOutcome{EntityID: ref.ID}, fmt.Errorf("enrich: decoding extraction for entity %d: %w", ref.ID, err)
	}

	outcome := EnrichOutcome{EntityID: ref.ID, VerifiedMatch: extracted.VerifiedMatch}
	if !extracted.VerifiedMatch {
		if err := e.store.ApplyEnrichment(ctx, ref, map[string]string{}, overwriteBio); err != nil {
			return outcome, fmt.Errorf("enrich: stamping enriched_at for unverified entity %d: %w", ref.ID, err)
		}
		return outcome, nil
	}

	current, err := e.store.CurrentFields(ctx, ref)
	if err != nil {
		return outcome, fmt.Errorf("enrich: loading current fields for entity %d: %w", ref.ID, err)
	}

	updates := fieldsToApply(ref.Kind, extracted, current, overwriteBio)
	outcome.FieldsWritten = len(updates)
	if err := e.store.ApplyEnrichment(ctx, ref, updates, overwriteBio); err != nil {
		return outcome, fmt.Errorf("enrich: applying enrichment for entity %d: %w", ref.ID, err)
	}
	return outcome, nil
}

func (e *Engine) fetchReference(ctx context.Context, names []string) (string, bool) {
	if e.fetcher == nil {
		return "", false
	}
	for _, name := range names {
		text, ok, err := e.fetcher.Fetch(ctx, name)
		if err != nil {
			e.logger.Debug("enrich: reference corpus fetch failed, continuing without it", zap.String("name", name), zap.Error(err))
			continue
		}
		if ok {
			return text, true
		}
	}
	return "", false
}

// fieldsToApply fills the entity-specific candidate field set,
// enforcing fill-only-empty-fields except for bio fields
// when overwriteBio is set.
func fieldsToApply(kind EntityKind, extracted extractedFields, current map[string]string, overwriteBio bool) map[string]string {
	candidates := map[string]string{
		"name_en":        extracted.NameEn,
		"nationality_ko": extracted.NationalityKo,
		"nationality_en": extracted.NationalityEn,
		"mbti":           extracted.MBTI,
		"blood_type":     extracted.BloodType,
		"bio_ko":         extracted.BioKo,
		"bio_en":         extracted.BioEn,
	}
	if kind == KindGroup {
		candidates = map[string]string{
			"name_en":         extracted.NameEn,
			"label_ko":        extracted.LabelKo,
			"fandom_name_ko":  extracted.FandomNameKo,
			"bio_ko":          extracted.BioKo,
			"bio_en":          extracted.BioEn,
		}
	}
	if extracted.HeightCm != nil {
		candidates["height_cm"] = fmt.Sprintf("%v", *extracted.HeightCm)
	}
	if extracted.WeightKg != nil {
		candidates["weight_kg"] = fmt.Sprintf("%v", *extracted.WeightKg)
	}

	updates := make(map[string]string)
	for field, value := range candidates {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		isBio := field == "bio_ko" || field == "bio_en"
		if strings.TrimSpace(current[field]) != "" && !(overwriteBio && isBio) {
			continue
		}
		updates[field] = value
	}
	return updates
}

// ReEnrichSparse resets enriched_at to NULL for up to limit entities of
// kind whose critical fields remain empty, so the next Run() pass picks
// them back up. Run passes overwriteBio=false, so that pass fills only
// empty fields and does not overwrite existing bio_ko/bio_en values.
func (e *Engine) ReEnrichSparse(ctx context.Context, kind EntityKind, limit int) (int, error) {
	fields, ok := criticalFields[kind]
	if !ok {
		return 0, fmt.Errorf("enrich: unknown entity kind %q", kind)
	}
	return e.store.ResetSparseEnrichment(ctx, kind, fields, limit)
}
