// Package api implements the public, read-only REST projection: a filtered view over the knowledge base that never exposes a
// MANUAL_REVIEW or ERROR article, never exposes provenance columns
// (the `<field>_source_article_id` foreign keys) or the internal
// `system_note` field, and knows nothing about how the data underneath
// it got there. It also exposes the thin job-submission surface that
// fronts internal/queue for operators and the scraper/intelligence
// CLIs.
//
// The package never reasons about scraping, parsing, or LLM calls —
// it is a last-mile presentation layer over internal/queue and a
// direct set of read queries against the same Postgres database every
// other component writes to.
package api

import "time"

// PublicArticle is the projection of models.Article served to public
// consumers. ContentKo is populated only on the single-article detail
// endpoint ("GET /public/articles/{id}" includes content_ko);
// the list endpoint omits it to keep list payloads small.
type PublicArticle struct {
	ID             int64      `json:"id"`
	SourceURL      string     `json:"source_url"`
	LanguageCode   string     `json:"language_code"`
	TitleKo        string     `json:"title_ko"`
	TitleEn        string     `json:"title_en"`
	ContentKo      string     `json:"content_ko,omitempty"`
	SummaryKo      string     `json:"summary_ko"`
	SummaryEn      string     `json:"summary_en"`
	Author         string     `json:"author"`
	PublishedAt    *time.Time `json:"published_at"`
	ThumbnailURL   string     `json:"thumbnail_url"`
	Gallery        []string   `json:"gallery"`
	HashtagsKo     []string   `json:"hashtags_ko"`
	HashtagsEn     []string   `json:"hashtags_en"`
	ProcessStatus  string     `json:"process_status"`
	ArtistNameKo   string     `json:"artist_name_ko"`
	GlobalPriority bool       `json:"global_priority"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PublicArtist is the projection of models.Artist served to public
// consumers. Every `<field>_source_article_id` column, plus the
// pipeline-internal enriched_at/last_verified_at/data_reliability_score
// fields, is dropped: none of them describe the artist, they describe
// how the core came to know about the artist, which is not this
// endpoint's concern. PhotoURL is populated only on the detail
// endpoint.
type PublicArtist struct {
	ID             int64      `json:"id"`
	NameKo         string     `json:"name_ko"`
	NameEn         string     `json:"name_en"`
	StageNameKo    string     `json:"stage_name_ko"`
	StageNameEn    string     `json:"stage_name_en"`
	Gender         string     `json:"gender,omitempty"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	NationalityKo  string     `json:"nationality_ko"`
	NationalityEn  string     `json:"nationality_en"`
	MBTI           string     `json:"mbti,omitempty"`
	BloodType      string     `json:"blood_type,omitempty"`
	HeightCm       *float64   `json:"height_cm,omitempty"`
	WeightKg       *float64   `json:"weight_kg,omitempty"`
	BioKo          string     `json:"bio_ko"`
	BioEn          string     `json:"bio_en"`
	IsVerified     bool       `json:"is_verified"`
	GlobalPriority *int       `json:"global_priority,omitempty"`
	PhotoURL       string     `json:"photo_url,omitempty"`
}

// PublicGroup mirrors PublicArtist's provenance-stripping for groups.
// Members is populated only on the detail endpoint.
type PublicGroup struct {
	ID             int64          `json:"id"`
	NameKo         string         `json:"name_ko"`
	NameEn         string         `json:"name_en"`
	DebutDate      *time.Time     `json:"debut_date,omitempty"`
	LabelKo        string         `json:"label_ko"`
	LabelEn        string         `json:"label_en"`
	FandomNameKo   string         `json:"fandom_name_ko"`
	FandomNameEn   string         `json:"fandom_name_en"`
	ActivityStatus string         `json:"activity_status,omitempty"`
	BioKo          string         `json:"bio_ko"`
	BioEn          string         `json:"bio_en"`
	IsVerified     bool           `json:"is_verified"`
	GlobalPriority *int           `json:"global_priority,omitempty"`
	Members        []PublicMember `json:"members,omitempty"`
}

// PublicMember is one entry of a group's sorted member list: debut
// order first (oldest started_on first, nulls last), then name_ko.
type PublicMember struct {
	ArtistID  int64      `json:"artist_id"`
	NameKo    string     `json:"name_ko"`
	NameEn    string     `json:"name_en"`
	Roles     []string   `json:"roles"`
	StartedOn *time.Time `json:"started_on,omitempty"`
	EndedOn   *time.Time `json:"ended_on,omitempty"`
	IsSubunit bool       `json:"is_subunit"`
}

// SearchResult is one hit of the unified /public/search endpoint,
// tagged with its kind so a single response list can mix articles,
// artists, and groups. The list holds article hits first (ordered by
// full-text rank), then artist hits, then group hits; the kinds are not
// ranked against each other.
type SearchResult struct {
	Kind  string  `json:"kind"` // "article", "artist", or "group"
	ID    int64   `json:"id"`
	Title string  `json:"title"`
	Extra string  `json:"extra,omitempty"`
	Rank  float32 `json:"-"`
}

// Page bounds a list query. Limit is clamped to [1, maxPageSize];
// Offset is clamped to >= 0.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NewPage builds a Page from raw, possibly absent, query values,
// applying the list endpoints' shared defaulting and clamping rules.
func NewPage(limit, offset int, limitSet, offsetSet bool) Page {
	p := Page{Limit: defaultPageSize, Offset: 0}
	if limitSet {
		p.Limit = limit
	}
	if offsetSet {
		p.Offset = offset
	}
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
