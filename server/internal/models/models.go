// Package models defines the persistence-facing domain types for the
// knowledge base: articles, the artist/group entity graph, the
// provenance and audit trail that makes the graph self-healing, and the
// job queue that drives ingestion.
//
// # Model Architecture
//
// Three layers:
//
//  1. Content layer: Article, scraped from a source URL and carried
//     through PENDING/SCRAPED/PROCESSED/VERIFIED/MANUAL_REVIEW/ERROR.
//  2. Entity layer: Artist, Group, MemberOf, ArtistEducation, ArtistSNS,
//     GroupSNS, EntityMapping, Glossary — a bilingual entity graph in
//     which every mutable field is paired with a `<field>_source_article_id`
//     foreign key recording provenance.
//  3. Audit layer: DataUpdateLog, AutoResolutionLog, ConflictFlag,
//     SystemLog — append-only tables that make every autonomous mutation
//     traceable.
//
// # Database Mapping
//
// Struct tags: `json:"field_name"` for API
// responses, `db:"column_name"` for sqlx struct scanning.
//
// # Provenance
//
// Every mutable Artist/Group field is paired with a
// `<field>_source_article_id *int64`. Entities never own the article they
// point to — the foreign key is a reference into a separately-owned
// table, materialized via joins on demand, never as an embedded struct.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// ============================================================================
// ENUMERATIONS
// ============================================================================
//
// Dynamic dispatch and duck-typing in the originating system map here to
// closed string-based sums, each with an exhaustive switch at its decision
// site (intelligence, resolver, worker). Treat an unhandled case in any
// switch over these types as a bug, not a default branch.

// ProcessStatus is an Article's position in its forward-only lifecycle.
type ProcessStatus string

const (
	StatusPending       ProcessStatus = "PENDING"
	StatusScraped       ProcessStatus = "SCRAPED"
	StatusProcessed     ProcessStatus = "PROCESSED"
	StatusVerified      ProcessStatus = "VERIFIED"
	StatusManualReview  ProcessStatus = "MANUAL_REVIEW"
	StatusError         ProcessStatus = "ERROR"
)

// LanguageCode is the language an Article was scraped in.
type LanguageCode string

const (
	LanguageKorean  LanguageCode = "kr"
	LanguageEnglish LanguageCode = "en"
	LanguageJapanese LanguageCode = "jp"
)

// Sentiment is the Intelligence Engine's classification of an article's tone.
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
)

// Gender is an Artist's gender classification.
type Gender string

const (
	GenderMale    Gender = "MALE"
	GenderFemale  Gender = "FEMALE"
	GenderMixed   Gender = "MIXED"
	GenderUnknown Gender = "UNKNOWN"
)

// ActivityStatus is a Group's current activity state.
type ActivityStatus string

const (
	ActivityActive    ActivityStatus = "ACTIVE"
	ActivityHiatus    ActivityStatus = "HIATUS"
	ActivityDisbanded ActivityStatus = "DISBANDED"
	ActivitySoloOnly  ActivityStatus = "SOLO_ONLY"
)

// EntityType tags what kind of thing an EntityMapping or log row refers to.
type EntityType string

const (
	EntityArtist EntityType = "ARTIST"
	EntityGroup  EntityType = "GROUP"
	EntityEvent  EntityType = "EVENT"
)

// GlossaryCategory partitions the Korean<->English term dictionary.
type GlossaryCategory string

const (
	GlossaryArtist GlossaryCategory = "ARTIST"
	GlossaryAgency GlossaryCategory = "AGENCY"
	GlossaryEvent  GlossaryCategory = "EVENT"
)

// JobStatus is a JobQueue row's lifecycle state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobType is the kind of work a JobQueue row describes.
type JobType string

const (
	JobScrape      JobType = "scrape"
	JobScrapeRange JobType = "scrape_range"
	JobScrapeRSS   JobType = "scrape_rss"
)

// UpdatedBy records who/what made a DataUpdateLog mutation.
type UpdatedBy string

const (
	UpdatedByAIPipeline UpdatedBy = "ai_pipeline"
	UpdatedByManual     UpdatedBy = "manual"
	UpdatedByScraper    UpdatedBy = "scraper"
)

// ResolutionType is which self-healing mechanism produced an AutoResolutionLog row.
type ResolutionType string

const (
	ResolutionFill      ResolutionType = "FILL"
	ResolutionReconcile ResolutionType = "RECONCILE"
	ResolutionEnroll    ResolutionType = "ENROLL"
)

// ConflictStatus is a ConflictFlag's review state.
type ConflictStatus string

const (
	ConflictOpen      ConflictStatus = "OPEN"
	ConflictResolved  ConflictStatus = "RESOLVED"
	ConflictDismissed ConflictStatus = "DISMISSED"
)

// LogCategory partitions SystemLog rows by subsystem.
type LogCategory string

const (
	LogScrape    LogCategory = "SCRAPE"
	LogAIProcess LogCategory = "AI_PROCESS"
	LogDBWrite   LogCategory = "DB_WRITE"
	LogS3Upload  LogCategory = "S3_UPLOAD"
	LogAPICall   LogCategory = "API_CALL"
)

// ============================================================================
// DATABASE TYPE HELPERS
// ============================================================================

// StringArray adapts []string to PostgreSQL TEXT[] columns, delegating to
// lib/pq and normalizing empty slices to "{}" instead of a null array.
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	return pq.Array([]string(a)).Value()
}

func (a *StringArray) Scan(value interface{}) error {
	return pq.Array((*[]string)(a)).Scan(value)
}

// JSONBlob adapts an arbitrary JSON document to a jsonb column. Used for
// job parameters/results, audit-log before/after values, and SEO hashtag
// metadata — anywhere the shape is caller-defined rather than relational.
type JSONBlob json.RawMessage

func (j JSONBlob) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

func (j *JSONBlob) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = JSONBlob(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		*j = b
	}
	return nil
}

// ============================================================================
// CONTENT MODEL
// ============================================================================

// Article is a scraped news item, identified by a unique source URL.
//
// Lifecycle: PENDING -> SCRAPED -> (PROCESSED | VERIFIED | MANUAL_REVIEW |
// ERROR), or PENDING -> ERROR directly. ERROR is terminal until an
// operator resets the row. Source URLs are globally unique; upserts
// coalesce incoming non-null values over existing ones, never the reverse.
type Article struct {
	ID             int64         `json:"id" db:"id"`
	SourceURL      string        `json:"source_url" db:"source_url"`
	LanguageCode   LanguageCode  `json:"language_code" db:"language_code"`
	TitleKo        string        `json:"title_ko" db:"title_ko"`
	TitleEn        string        `json:"title_en" db:"title_en"`
	ContentKo      string        `json:"content_ko" db:"content_ko"`
	SummaryKo      string        `json:"summary_ko" db:"summary_ko"`
	SummaryEn      string        `json:"summary_en" db:"summary_en"`
	Author         string        `json:"author" db:"author"`
	PublishedAt    *time.Time    `json:"published_at" db:"published_at"`
	ThumbnailURL   string        `json:"thumbnail_url" db:"thumbnail_url"`
	// Gallery is the ordered set of inline images collected during
	// parsing, distinct from ThumbnailURL which comes only from OG/Twitter
	// meta. Supplemented from original_source's photo_url gallery concept
	// (0013_photo_url_gallery.py) — not present in the original projection.
	Gallery        StringArray   `json:"gallery" db:"gallery"`
	HashtagsKo     StringArray   `json:"hashtags_ko" db:"hashtags_ko"`
	HashtagsEn     StringArray   `json:"hashtags_en" db:"hashtags_en"`
	SEOHashtags    JSONBlob      `json:"seo_hashtags" db:"seo_hashtags"`
	Sentiment      *Sentiment    `json:"sentiment" db:"sentiment"`
	ProcessStatus  ProcessStatus `json:"process_status" db:"process_status"`
	SystemNote     string        `json:"system_note" db:"system_note"`
	JobID          *int64        `json:"job_id" db:"job_id"`
	ArtistNameKo   string        `json:"artist_name_ko" db:"artist_name_ko"`
	GlobalPriority bool          `json:"global_priority" db:"global_priority"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// ============================================================================
// ENTITY MODELS
// ============================================================================

// Artist is a solo performer. Every mutable profile field below is paired
// with a `<field>_source_article_id` column recording which article last
// supplied its value.
type Artist struct {
	ID int64 `json:"id" db:"id"`

	NameKo               string `json:"name_ko" db:"name_ko"`
	NameKoSourceArticleID *int64 `json:"name_ko_source_article_id" db:"name_ko_source_article_id"`
	NameEn               string `json:"name_en" db:"name_en"`
	NameEnSourceArticleID *int64 `json:"name_en_source_article_id" db:"name_en_source_article_id"`

	StageNameKo               string `json:"stage_name_ko" db:"stage_name_ko"`
	StageNameKoSourceArticleID *int64 `json:"stage_name_ko_source_article_id" db:"stage_name_ko_source_article_id"`
	StageNameEn               string `json:"stage_name_en" db:"stage_name_en"`
	StageNameEnSourceArticleID *int64 `json:"stage_name_en_source_article_id" db:"stage_name_en_source_article_id"`

	Gender               *Gender `json:"gender" db:"gender"`
	GenderSourceArticleID *int64  `json:"gender_source_article_id" db:"gender_source_article_id"`

	BirthDate               *time.Time `json:"birth_date" db:"birth_date"`
	BirthDateSourceArticleID *int64    `json:"birth_date_source_article_id" db:"birth_date_source_article_id"`

	NationalityKo               string `json:"nationality_ko" db:"nationality_ko"`
	NationalityKoSourceArticleID *int64 `json:"nationality_ko_source_article_id" db:"nationality_ko_source_article_id"`
	NationalityEn               string `json:"nationality_en" db:"nationality_en"`
	NationalityEnSourceArticleID *int64 `json:"nationality_en_source_article_id" db:"nationality_en_source_article_id"`

	// MBTI must match ^[A-Z]{4}$ when present; validated at write time by
	// the resolver and the intelligence engine, not at the model layer.
	MBTI               string `json:"mbti" db:"mbti"`
	MBTISourceArticleID *int64 `json:"mbti_source_article_id" db:"mbti_source_article_id"`

	BloodType               string `json:"blood_type" db:"blood_type"`
	BloodTypeSourceArticleID *int64 `json:"blood_type_source_article_id" db:"blood_type_source_article_id"`

	HeightCm               *float64 `json:"height_cm" db:"height_cm"`
	HeightCmSourceArticleID *int64   `json:"height_cm_source_article_id" db:"height_cm_source_article_id"`
	WeightKg               *float64 `json:"weight_kg" db:"weight_kg"`
	WeightKgSourceArticleID *int64   `json:"weight_kg_source_article_id" db:"weight_kg_source_article_id"`

	BioKo               string `json:"bio_ko" db:"bio_ko"`
	BioKoSourceArticleID *int64 `json:"bio_ko_source_article_id" db:"bio_ko_source_article_id"`
	BioEn               string `json:"bio_en" db:"bio_en"`
	BioEnSourceArticleID *int64 `json:"bio_en_source_article_id" db:"bio_en_source_article_id"`

	// IsVerified is operator-curated only — never set by the pipeline.
	IsVerified bool `json:"is_verified" db:"is_verified"`

	// GlobalPriority: 1=full translation, 2=title+summary only, 3=KO
	// only; NULL behaves as 1 (see internal/intelligence tier mapping).
	GlobalPriority *int `json:"global_priority" db:"global_priority"`

	EnrichedAt           *time.Time `json:"enriched_at" db:"enriched_at"`
	LastVerifiedAt        *time.Time `json:"last_verified_at" db:"last_verified_at"`
	DataReliabilityScore  float64    `json:"data_reliability_score" db:"data_reliability_score"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Group is a band/team/unit. Analogous to Artist, with the same
// `<field>_source_article_id` provenance pattern on every mutable field.
type Group struct {
	ID int64 `json:"id" db:"id"`

	NameKo               string `json:"name_ko" db:"name_ko"`
	NameKoSourceArticleID *int64 `json:"name_ko_source_article_id" db:"name_ko_source_article_id"`
	NameEn               string `json:"name_en" db:"name_en"`
	NameEnSourceArticleID *int64 `json:"name_en_source_article_id" db:"name_en_source_article_id"`

	DebutDate               *time.Time `json:"debut_date" db:"debut_date"`
	DebutDateSourceArticleID *int64    `json:"debut_date_source_article_id" db:"debut_date_source_article_id"`

	LabelKo               string `json:"label_ko" db:"label_ko"`
	LabelKoSourceArticleID *int64 `json:"label_ko_source_article_id" db:"label_ko_source_article_id"`
	LabelEn               string `json:"label_en" db:"label_en"`
	LabelEnSourceArticleID *int64 `json:"label_en_source_article_id" db:"label_en_source_article_id"`

	FandomNameKo               string `json:"fandom_name_ko" db:"fandom_name_ko"`
	FandomNameKoSourceArticleID *int64 `json:"fandom_name_ko_source_article_id" db:"fandom_name_ko_source_article_id"`
	FandomNameEn               string `json:"fandom_name_en" db:"fandom_name_en"`
	FandomNameEnSourceArticleID *int64 `json:"fandom_name_en_source_article_id" db:"fandom_name_en_source_article_id"`

	ActivityStatus               *ActivityStatus `json:"activity_status" db:"activity_status"`
	ActivityStatusSourceArticleID *int64         `json:"activity_status_source_article_id" db:"activity_status_source_article_id"`

	BioKo               string `json:"bio_ko" db:"bio_ko"`
	BioKoSourceArticleID *int64 `json:"bio_ko_source_article_id" db:"bio_ko_source_article_id"`
	BioEn               string `json:"bio_en" db:"bio_en"`
	BioEnSourceArticleID *int64 `json:"bio_en_source_article_id" db:"bio_en_source_article_id"`

	IsVerified           bool       `json:"is_verified" db:"is_verified"`
	GlobalPriority       *int       `json:"global_priority" db:"global_priority"`
	EnrichedAt           *time.Time `json:"enriched_at" db:"enriched_at"`
	LastVerifiedAt        *time.Time `json:"last_verified_at" db:"last_verified_at"`
	DataReliabilityScore  float64    `json:"data_reliability_score" db:"data_reliability_score"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// MemberOf is an Artist<->Group membership edge. ended_on == nil means
// currently active. Multiple concurrent memberships are allowed; the
// invariant ended_on >= started_on is enforced at write time.
type MemberOf struct {
	ID              int64      `json:"id" db:"id"`
	ArtistID        int64      `json:"artist_id" db:"artist_id"`
	GroupID         int64      `json:"group_id" db:"group_id"`
	Roles           StringArray `json:"roles" db:"roles"`
	StartedOn       *time.Time `json:"started_on" db:"started_on"`
	EndedOn         *time.Time `json:"ended_on" db:"ended_on"`
	IsSubunit       bool       `json:"is_subunit" db:"is_subunit"`
	SourceArticleID *int64     `json:"source_article_id" db:"source_article_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// ArtistEducation is a one-to-many side table for an Artist's education history.
type ArtistEducation struct {
	ID              int64      `json:"id" db:"id"`
	ArtistID        int64      `json:"artist_id" db:"artist_id"`
	Institution     string     `json:"institution" db:"institution"`
	Degree          string     `json:"degree" db:"degree"`
	StartedOn       *time.Time `json:"started_on" db:"started_on"`
	EndedOn         *time.Time `json:"ended_on" db:"ended_on"`
	SourceArticleID *int64     `json:"source_article_id" db:"source_article_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// ArtistSNS is one social-media account for an Artist. Unique on
// (artist_id, platform).
type ArtistSNS struct {
	ID              int64     `json:"id" db:"id"`
	ArtistID        int64     `json:"artist_id" db:"artist_id"`
	Platform        string    `json:"platform" db:"platform"`
	URL             string    `json:"url" db:"url"`
	Handle          string    `json:"handle" db:"handle"`
	FollowerCount   *int64    `json:"follower_count" db:"follower_count"`
	SourceArticleID *int64    `json:"source_article_id" db:"source_article_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// GroupSNS is one social-media account for a Group. Unique on
// (group_id, platform).
type GroupSNS struct {
	ID              int64     `json:"id" db:"id"`
	GroupID         int64     `json:"group_id" db:"group_id"`
	Platform        string    `json:"platform" db:"platform"`
	URL             string    `json:"url" db:"url"`
	Handle          string    `json:"handle" db:"handle"`
	FollowerCount   *int64    `json:"follower_count" db:"follower_count"`
	SourceArticleID *int64    `json:"source_article_id" db:"source_article_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// EntityMapping links an Article to the entity it mentions. Exactly one
// of ArtistID/GroupID is set for ARTIST/GROUP rows; both are nil for
// EVENT rows (enforced by a DB check constraint, mirrored here as an
// invariant tests should assert). At most one row per (article, artist)
// and per (article, group).
type EntityMapping struct {
	ID              int64      `json:"id" db:"id"`
	ArticleID       int64      `json:"article_id" db:"article_id"`
	ArtistID        *int64     `json:"artist_id" db:"artist_id"`
	GroupID         *int64     `json:"group_id" db:"group_id"`
	EntityType      EntityType `json:"entity_type" db:"entity_type"`
	ConfidenceScore float64    `json:"confidence_score" db:"confidence_score"`
	ContextSnippet  string     `json:"context_snippet" db:"context_snippet"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Glossary is a Korean<->English term dictionary entry, unique on
// (term_ko, category). Auto-provisioned entries await human review.
type Glossary struct {
	ID                int64            `json:"id" db:"id"`
	TermKo            string           `json:"term_ko" db:"term_ko"`
	TermEn            string           `json:"term_en" db:"term_en"`
	Category          GlossaryCategory `json:"category" db:"category"`
	IsAutoProvisioned bool             `json:"is_auto_provisioned" db:"is_auto_provisioned"`
	SourceArticleID   *int64           `json:"source_article_id" db:"source_article_id"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
}

// ============================================================================
// JOB QUEUE MODEL
// ============================================================================

// JobQueue is one unit of scraping work. See internal/queue for claim,
// retry, and recovery semantics.
type JobQueue struct {
	ID          int64      `json:"id" db:"id"`
	JobType     JobType    `json:"job_type" db:"job_type"`
	Status      JobStatus  `json:"status" db:"status"`
	Params      JSONBlob   `json:"params" db:"params"`
	Priority    int        `json:"priority" db:"priority"`
	RetryCount  int        `json:"retry_count" db:"retry_count"`
	MaxRetries  int        `json:"max_retries" db:"max_retries"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	WorkerID    string     `json:"worker_id" db:"worker_id"`
	Result      JSONBlob   `json:"result" db:"result"`
	ErrorMsg    string     `json:"error_msg" db:"error_msg"`
}

// ============================================================================
// AUDIT MODELS (append-only)
// ============================================================================

// DataUpdateLog is one row per (article, entity, field) mutation. Never
// updated or deleted.
type DataUpdateLog struct {
	ID          int64      `json:"id" db:"id"`
	ArticleID   int64      `json:"article_id" db:"article_id"`
	EntityType  EntityType `json:"entity_type" db:"entity_type"`
	EntityID    int64      `json:"entity_id" db:"entity_id"`
	FieldName   string     `json:"field_name" db:"field_name"`
	OldValue    JSONBlob   `json:"old_value" db:"old_value_json"`
	NewValue    JSONBlob   `json:"new_value" db:"new_value_json"`
	UpdatedBy   UpdatedBy  `json:"updated_by" db:"updated_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// AutoResolutionLog is one row per autonomous resolver decision. Never
// updated or deleted. By the same pairing invariant, every DataUpdateLog
// row with updated_by='ai_pipeline' has a matching AutoResolutionLog row
// for the same (article, entity_type, entity_id, field_name).
type AutoResolutionLog struct {
	ID                int64          `json:"id" db:"id"`
	ArticleID         int64          `json:"article_id" db:"article_id"`
	EntityType        EntityType     `json:"entity_type" db:"entity_type"`
	EntityID          int64          `json:"entity_id" db:"entity_id"`
	FieldName         string         `json:"field_name" db:"field_name"`
	ResolutionType     ResolutionType `json:"resolution_type" db:"resolution_type"`
	LLMReasoning       string         `json:"llm_reasoning" db:"llm_reasoning"`
	LLMConfidence      float64        `json:"llm_confidence" db:"llm_confidence"`
	SourceReliability  float64        `json:"source_reliability" db:"source_reliability"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
}

// ConflictFlag is one row per unresolved contradiction between a detected
// value and the stored value, raised when auto-reconciliation could not
// decide a winner.
type ConflictFlag struct {
	ID                   int64          `json:"id" db:"id"`
	EntityType           EntityType     `json:"entity_type" db:"entity_type"`
	EntityID             int64          `json:"entity_id" db:"entity_id"`
	FieldName            string         `json:"field_name" db:"field_name"`
	ArticleID            int64          `json:"article_id" db:"article_id"`
	ExistingValue        JSONBlob       `json:"existing_value" db:"existing_value_json"`
	ConflictingValue     JSONBlob       `json:"conflicting_value" db:"conflicting_value_json"`
	Reason               string         `json:"reason" db:"reason"`
	ConflictScore        float64        `json:"conflict_score" db:"conflict_score"`
	Status               ConflictStatus `json:"status" db:"status"`
	CreatedAt            time.Time      `json:"created_at" db:"created_at"`
	ResolvedAt           *time.Time     `json:"resolved_at" db:"resolved_at"`
}

// SystemLog is an append-only operational event log.
type SystemLog struct {
	ID          int64       `json:"id" db:"id"`
	Level       string      `json:"level" db:"level"`
	Category    LogCategory `json:"category" db:"category"`
	Event       string      `json:"event" db:"event"`
	Details     JSONBlob    `json:"details" db:"details_json"`
	DurationMs  *int64      `json:"duration_ms" db:"duration_ms"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}
