// Package intelligence implements the Intelligence Engine (C8): the
// tiered bilingual extraction pipeline that turns a SCRAPED article into
// a title/summary translation, a set of linked entity mappings, and a
// status decision, then hands linked mappings to internal/resolver for
// cross-validation against the entity graph.
package intelligence

import (
	"time"

	"github.com/hallyuwire/corehub/server/internal/models"
)

// Tier is the translation depth chosen for one article, driven by the
// mentioned artist's global_priority.
type Tier string

const (
	TierFull      Tier = "FULL"
	TierTitleOnly Tier = "TITLE_ONLY"
	TierKoOnly    Tier = "KO_ONLY"
)

// Status decision thresholds. EntityConfidenceThreshold and
// AutoCommitThreshold are vars, not consts, so the intelligence CLI's
// --threshold and --auto-commit-threshold flags can override them for
// a process.
var (
	EntityConfidenceThreshold = 0.80
	AutoCommitThreshold       = 0.95
)

const (
	MinRelevance  = 0.30
	MinConfidence = 0.60
)

// MinMatchScore is the entity-linking acceptance floor.
const MinMatchScore = 0.35

// ArtistRef is the subset of an Artist profile the entity linker and the
// tier selector need, loaded from the cached registry rather than a
// fresh query per article.
type ArtistRef struct {
	ID             int64
	NameKo         string
	NameEn         string
	StageNameKo    string
	StageNameEn    string
	GlobalPriority *int
}

// GlossaryTerm is one cached Korean->English mapping injected into the
// prompt's glossary section.
type GlossaryTerm struct {
	TermKo   string
	TermEn   string
	Category models.GlossaryCategory
}

// DetectedArtist is one entity the model claims the article mentions.
type DetectedArtist struct {
	NameKo          string            `json:"name_ko" validate:"required"`
	NameEn          string            `json:"name_en,omitempty"`
	ContextHints    []string          `json:"context_hints,omitempty" validate:"max=10"`
	MentionCount    int               `json:"mention_count" validate:"min=1"`
	IsPrimary       bool              `json:"is_primary"`
	EntityType      models.EntityType `json:"entity_type" validate:"oneof=ARTIST GROUP EVENT"`
	ConfidenceScore float64           `json:"confidence_score" validate:"min=0,max=1"`
	IsAmbiguous     bool              `json:"is_ambiguous"`
	AmbiguityReason string            `json:"ambiguity_reason,omitempty"`
}

// ExtractionResult is the exact JSON schema the prompt mandates. Field presence/emptiness drives both the status decision and
// the write-through. Validated with `validate` tags before use — a
// model that drifts from the mandated schema fails fast instead of
// silently corrupting the write-through.
type ExtractionResult struct {
	TitleKo         string           `json:"title_ko"`
	TitleEn         string           `json:"title_en"`
	DetectedArtists []DetectedArtist `json:"detected_artists" validate:"dive"`
	TopicSummary    string           `json:"topic_summary"`
	TopicSummaryEn  string           `json:"topic_summary_en"`
	SEOHashtags     []string         `json:"seo_hashtags"`
	Sentiment       string           `json:"sentiment" validate:"omitempty,oneof=positive negative neutral mixed"`
	RelevanceScore  float64          `json:"relevance_score" validate:"min=0,max=1"`
	MainCategory    string           `json:"main_category" validate:"omitempty,oneof=music drama film fashion entertainment award other"`
	Confidence      float64          `json:"confidence" validate:"min=0,max=1"`
}

// LinkedMapping pairs a DetectedArtist with the entity-linking decision
// made for it.
type LinkedMapping struct {
	Detected        DetectedArtist
	EntityID        *int64
	MatchScore      float64
	ConfidenceBoost float64
}

// ProcessOutcome summarizes one article's run through the engine, for
// logging and for dry-run previews.
type ProcessOutcome struct {
	ArticleID  int64               `json:"article_id"`
	Tier       Tier                `json:"tier"`
	Status     models.ProcessStatus `json:"status"`
	SystemNote string              `json:"system_note,omitempty"`
	Extraction *ExtractionResult   `json:"extraction,omitempty"`
	Mappings   []LinkedMapping     `json:"mappings,omitempty"`
	DryRun     bool                `json:"dry_run,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// BatchResult aggregates one process_pending run.
type BatchResult struct {
	Processed []ProcessOutcome `json:"processed"`
	Claimed   int              `json:"claimed"`
}

// articleInput is the subset of Article fields the engine reads.
type articleInput struct {
	ID           int64
	SourceURL    string
	TitleKo      string
	ContentKo    string
	ArtistNameKo string
	SummaryKo    string
	PublishedAt  *time.Time
}
