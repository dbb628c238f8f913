package api

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hallyuwire/corehub/server/internal/models"
)

// publicStatuses is the hard visibility filter every public read applies:
// only PROCESSED and VERIFIED articles. MANUAL_REVIEW and ERROR rows
// never reach a query built with this predicate.
var publicStatuses = []string{string(models.StatusProcessed), string(models.StatusVerified)}

// articleColumns is the exact projection read from the articles table.
// Deliberately excludes system_note and job_id: the former is
// operator-internal narration, the latter a provenance pointer into
// the job queue. seo_hashtags and sentiment are internal enrichment
// bookkeeping and are likewise left off the public projection.
const articleColumns = `id, source_url, language_code, title_ko, title_en, content_ko,
	summary_ko, summary_en, author, published_at, thumbnail_url, gallery,
	hashtags_ko, hashtags_en, process_status, artist_name_ko, global_priority,
	created_at, updated_at`

type articleRow struct {
	ID             int64             `db:"id"`
	SourceURL      string            `db:"source_url"`
	LanguageCode   string            `db:"language_code"`
	TitleKo        string            `db:"title_ko"`
	TitleEn        string            `db:"title_en"`
	ContentKo      string            `db:"content_ko"`
	SummaryKo      string            `db:"summary_ko"`
	SummaryEn      string            `db:"summary_en"`
	Author         string            `db:"author"`
	PublishedAt    sql.NullTime      `db:"published_at"`
	ThumbnailURL   string            `db:"thumbnail_url"`
	Gallery        models.StringArray `db:"gallery"`
	HashtagsKo     models.StringArray `db:"hashtags_ko"`
	HashtagsEn     models.StringArray `db:"hashtags_en"`
	ProcessStatus  string            `db:"process_status"`
	ArtistNameKo   string            `db:"artist_name_ko"`
	GlobalPriority bool              `db:"global_priority"`
	CreatedAt      sql.NullTime      `db:"created_at"`
	UpdatedAt      sql.NullTime      `db:"updated_at"`
}

func (r articleRow) toPublic(includeContent bool) PublicArticle {
	a := PublicArticle{
		ID:             r.ID,
		SourceURL:      r.SourceURL,
		LanguageCode:   r.LanguageCode,
		TitleKo:        r.TitleKo,
		TitleEn:        r.TitleEn,
		SummaryKo:      r.SummaryKo,
		SummaryEn:      r.SummaryEn,
		Author:         r.Author,
		ThumbnailURL:   r.ThumbnailURL,
		Gallery:        []string(r.Gallery),
		HashtagsKo:     []string(r.HashtagsKo),
		HashtagsEn:     []string(r.HashtagsEn),
		ProcessStatus:  r.ProcessStatus,
		ArtistNameKo:   r.ArtistNameKo,
		GlobalPriority: r.GlobalPriority,
	}
	if r.PublishedAt.Valid {
		a.PublishedAt = &r.PublishedAt.Time
	}
	if r.CreatedAt.Valid {
		a.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		a.UpdatedAt = r.UpdatedAt.Time
	}
	if includeContent {
		a.ContentKo = r.ContentKo
	}
	return a
}

// ArticleFilter narrows GET /public/articles. Zero values are "no
// filter"; ArtistID/GroupID of 0 mean unfiltered since ids start at 1.
type ArticleFilter struct {
	ArtistID int64
	GroupID  int64
	Language string
	Query    string
}

// Store is the persistence surface internal/api depends on for public
// reads. A single Postgres-backed implementation (PGStore) is provided;
// the interface exists so handlers can be tested against an in-memory
// fake without a live database.
type Store interface {
	ListArticles(ctx context.Context, filter ArticleFilter, page Page) ([]PublicArticle, error)
	GetArticle(ctx context.Context, id int64) (*PublicArticle, error)
	ListArtists(ctx context.Context, query string, globalPriority *int, page Page) ([]PublicArtist, error)
	GetArtist(ctx context.Context, id int64) (*PublicArtist, error)
	ListArtistArticles(ctx context.Context, artistID int64, page Page) ([]PublicArticle, error)
	ListGroups(ctx context.Context, query string, page Page) ([]PublicGroup, error)
	GetGroup(ctx context.Context, id int64) (*PublicGroup, error)
	ListGroupArticles(ctx context.Context, groupID int64, page Page) ([]PublicArticle, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore builds a PGStore.
func NewPGStore(db *sqlx.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) ListArticles(ctx context.Context, filter ArticleFilter, page Page) ([]PublicArticle, error) {
	query := fmt.Sprintf(`SELECT %s FROM articles WHERE process_status = ANY($1)`, articleColumns)
	args := []any{pq.Array(publicStatuses)}
	n := 1

	if filter.ArtistID != 0 {
		n++
		query += fmt.Sprintf(` AND id IN (SELECT article_id FROM entity_mappings WHERE artist_id = $%d)`, n)
		args = append(args, filter.ArtistID)
	}
	if filter.GroupID != 0 {
		n++
		query += fmt.Sprintf(` AND id IN (SELECT article_id FROM entity_mappings WHERE group_id = $%d)`, n)
		args = append(args, filter.GroupID)
	}
	if filter.Language != "" {
		n++
		query += fmt.Sprintf(` AND language_code = $%d`, n)
		args = append(args, filter.Language)
	}
	if filter.Query != "" {
		n++
		query += fmt.Sprintf(` AND search_vector @@ plainto_tsquery('simple', $%d)`, n)
		args = append(args, filter.Query)
	}

	n++
	query += fmt.Sprintf(` ORDER BY published_at DESC NULLS LAST, id DESC LIMIT $%d`, n)
	args = append(args, page.Limit)
	n++
	query += fmt.Sprintf(` OFFSET $%d`, n)
	args = append(args, page.Offset)

	var rows []articleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("api: listing articles: %w", err)
	}
	out := make([]PublicArticle, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPublic(false))
	}
	return out, nil
}

func (s *PGStore) GetArticle(ctx context.Context, id int64) (*PublicArticle, error) {
	query := fmt.Sprintf(`SELECT %s FROM articles WHERE id = $1 AND process_status = ANY($2)`, articleColumns)
	var row articleRow
	err := s.db.GetContext(ctx, &row, query, id, pq.Array(publicStatuses))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("api: getting article %d: %w", id, err)
	}
	a := row.toPublic(true)
	return &a, nil
}

type artistRow struct {
	ID            int64          `db:"id"`
	NameKo        string         `db:"name_ko"`
	NameEn        string         `db:"name_en"`
	StageNameKo   string         `db:"stage_name_ko"`
	StageNameEn   string         `db:"stage_name_en"`
	Gender        sql.NullString `db:"gender"`
	BirthDate     sql.NullTime   `db:"birth_date"`
	NationalityKo string         `db:"nationality_ko"`
	NationalityEn string         `db:"nationality_en"`
	MBTI          string         `db:"mbti"`
	BloodType     string         `db:"blood_type"`
	HeightCm      sql.NullFloat64 `db:"height_cm"`
	WeightKg      sql.NullFloat64 `db:"weight_kg"`
	BioKo         string         `db:"bio_ko"`
	BioEn         string         `db:"bio_en"`
	IsVerified    bool           `db:"is_verified"`
	GlobalPriority sql.NullInt64 `db:"global_priority"`
}

const artistColumns = `id, name_ko, name_en, stage_name_ko, stage_name_en, gender,
	birth_date, nationality_ko, nationality_en, mbti, blood_type, height_cm,
	weight_kg, bio_ko, bio_en, is_verified, global_priority`

func (r artistRow) toPublic() PublicArtist {
	a := PublicArtist{
		ID:            r.ID,
		NameKo:        r.NameKo,
		NameEn:        r.NameEn,
		StageNameKo:   r.StageNameKo,
		StageNameEn:   r.StageNameEn,
		NationalityKo: r.NationalityKo,
		NationalityEn: r.NationalityEn,
		MBTI:          r.MBTI,
		BloodType:     r.BloodType,
		BioKo:         r.BioKo,
		BioEn:         r.BioEn,
		IsVerified:    r.IsVerified,
	}
	if r.Gender.Valid {
		a.Gender = r.Gender.String
	}
	if r.BirthDate.Valid {
		a.BirthDate = &r.BirthDate.Time
	}
	if r.HeightCm.Valid {
		v := r.HeightCm.Float64
		a.HeightCm = &v
	}
	if r.WeightKg.Valid {
		v := r.WeightKg.Float64
		a.WeightKg = &v
	}
	if r.GlobalPriority.Valid {
		v := int(r.GlobalPriority.Int64)
		a.GlobalPriority = &v
	}
	return a
}

func (s *PGStore) ListArtists(ctx context.Context, query string, globalPriority *int, page Page) ([]PublicArtist, error) {
	sqlText := fmt.Sprintf(`SELECT %s FROM artists WHERE 1=1`, artistColumns)
	args := []any{}
	n := 0

	if query != "" {
		n++
		sqlText += fmt.Sprintf(` AND (name_ko ILIKE $%d OR name_en ILIKE $%d OR stage_name_ko ILIKE $%d)`, n, n, n)
		args = append(args, "%"+query+"%")
	}
	if globalPriority != nil {
		n++
		sqlText += fmt.Sprintf(` AND global_priority = $%d`, n)
		args = append(args, *globalPriority)
	}

	n++
	sqlText += fmt.Sprintf(` ORDER BY global_priority ASC NULLS LAST, id ASC LIMIT $%d`, n)
	args = append(args, page.Limit)
	n++
	sqlText += fmt.Sprintf(` OFFSET $%d`, n)
	args = append(args, page.Offset)

	var rows []artistRow
	if err := s.db.SelectContext(ctx, &rows, sqlText, args...); err != nil {
		return nil, fmt.Errorf("api: listing artists: %w", err)
	}
	out := make([]PublicArtist, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPublic())
	}
	return out, nil
}

func (s *PGStore) GetArtist(ctx context.Context, id int64) (*PublicArtist, error) {
	query := fmt.Sprintf(`SELECT %s FROM artists WHERE id = $1`, artistColumns)
	var row artistRow
	err := s.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("api: getting artist %d: %w", id, err)
	}
	a := row.toPublic()

	photoURL, err := s.photoURLForArtist(ctx, id, row.NameKo)
	if err != nil {
		return nil, err
	}
	a.PhotoURL = photoURL
	return &a, nil
}

// photoURLForArtist prefers the most
// recent article whose denormalized artist_name_ko matches exactly,
// falling back to any related article (via entity_mappings) that
// carries a thumbnail.
func (s *PGStore) photoURLForArtist(ctx context.Context, artistID int64, nameKo string) (string, error) {
	var url string
	err := s.db.GetContext(ctx, &url, `
		SELECT thumbnail_url FROM articles
		WHERE artist_name_ko = $1 AND thumbnail_url <> '' AND process_status = ANY($2)
		ORDER BY published_at DESC NULLS LAST, id DESC
		LIMIT 1
	`, nameKo, pq.Array(publicStatuses))
	if err == nil {
		return url, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("api: resolving photo_url for artist %d: %w", artistID, err)
	}

	err = s.db.GetContext(ctx, &url, `
		SELECT a.thumbnail_url FROM articles a
		JOIN entity_mappings em ON em.article_id = a.id
		WHERE em.artist_id = $1 AND a.thumbnail_url <> '' AND a.process_status = ANY($2)
		ORDER BY a.published_at DESC NULLS LAST, a.id DESC
		LIMIT 1
	`, artistID, pq.Array(publicStatuses))
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("api: resolving fallback photo_url for artist %d: %w", artistID, err)
	}
	return url, nil
}

func (s *PGStore) ListArtistArticles(ctx context.Context, artistID int64, page Page) ([]PublicArticle, error) {
	return s.ListArticles(ctx, ArticleFilter{ArtistID: artistID}, page)
}

type groupRow struct {
	ID             int64          `db:"id"`
	NameKo         string         `db:"name_ko"`
	NameEn         string         `db:"name_en"`
	DebutDate      sql.NullTime   `db:"debut_date"`
	LabelKo        string         `db:"label_ko"`
	LabelEn        string         `db:"label_en"`
	FandomNameKo   string         `db:"fandom_name_ko"`
	FandomNameEn   string         `db:"fandom_name_en"`
	ActivityStatus sql.NullString `db:"activity_status"`
	BioKo          string         `db:"bio_ko"`
	BioEn          string         `db:"bio_en"`
	IsVerified     bool           `db:"is_verified"`
	GlobalPriority sql.NullInt64  `db:"global_priority"`
}

const groupColumns = `id, name_ko, name_en, debut_date, label_ko, label_en,
	fandom_name_ko, fandom_name_en, activity_status, bio_ko, bio_en,
	is_verified, global_priority`

func (r groupRow) toPublic() PublicGroup {
	g := PublicGroup{
		ID:           r.ID,
		NameKo:       r.NameKo,
		NameEn:       r.NameEn,
		LabelKo:      r.LabelKo,
		LabelEn:      r.LabelEn,
		FandomNameKo: r.FandomNameKo,
		FandomNameEn: r.FandomNameEn,
		BioKo:        r.BioKo,
		BioEn:        r.BioEn,
		IsVerified:   r.IsVerified,
	}
	if r.DebutDate.Valid {
		g.DebutDate = &r.DebutDate.Time
	}
	if r.ActivityStatus.Valid {
		g.ActivityStatus = r.ActivityStatus.String
	}
	if r.GlobalPriority.Valid {
		v := int(r.GlobalPriority.Int64)
		g.GlobalPriority = &v
	}
	return g
}

func (s *PGStore) ListGroups(ctx context.Context, query string, page Page) ([]PublicGroup, error) {
	sqlText := fmt.Sprintf(`SELECT %s FROM groups WHERE 1=1`, groupColumns)
	args := []any{}
	n := 0

	if query != "" {
		n++
		sqlText += fmt.Sprintf(` AND (name_ko ILIKE $%d OR name_en ILIKE $%d)`, n, n)
		args = append(args, "%"+query+"%")
	}

	n++
	sqlText += fmt.Sprintf(` ORDER BY global_priority ASC NULLS LAST, id ASC LIMIT $%d`, n)
	args = append(args, page.Limit)
	n++
	sqlText += fmt.Sprintf(` OFFSET $%d`, n)
	args = append(args, page.Offset)

	var rows []groupRow
	if err := s.db.SelectContext(ctx, &rows, sqlText, args...); err != nil {
		return nil, fmt.Errorf("api: listing groups: %w", err)
	}
	out := make([]PublicGroup, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPublic())
	}
	return out, nil
}

type memberRow struct {
	ArtistID  int64              `db:"artist_id"`
	NameKo    string             `db:"name_ko"`
	NameEn    string             `db:"name_en"`
	Roles     models.StringArray `db:"roles"`
	StartedOn sql.NullTime       `db:"started_on"`
	EndedOn   sql.NullTime       `db:"ended_on"`
	IsSubunit bool               `db:"is_subunit"`
}

func (s *PGStore) GetGroup(ctx context.Context, id int64) (*PublicGroup, error) {
	query := fmt.Sprintf(`SELECT %s FROM groups WHERE id = $1`, groupColumns)
	var row groupRow
	err := s.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("api: getting group %d: %w", id, err)
	}
	g := row.toPublic()

	var members []memberRow
	err = s.db.SelectContext(ctx, &members, `
		SELECT m.artist_id, a.name_ko, a.name_en, m.roles, m.started_on, m.ended_on, m.is_subunit
		FROM member_of m
		JOIN artists a ON a.id = m.artist_id
		WHERE m.group_id = $1
		ORDER BY m.started_on ASC NULLS LAST, a.name_ko ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("api: listing members of group %d: %w", id, err)
	}
	g.Members = make([]PublicMember, 0, len(members))
	for _, m := range members {
		pm := PublicMember{
			ArtistID:  m.ArtistID,
			NameKo:    m.NameKo,
			NameEn:    m.NameEn,
			Roles:     []string(m.Roles),
			IsSubunit: m.IsSubunit,
		}
		if m.StartedOn.Valid {
			pm.StartedOn = &m.StartedOn.Time
		}
		if m.EndedOn.Valid {
			pm.EndedOn = &m.EndedOn.Time
		}
		g.Members = append(g.Members, pm)
	}
	return &g, nil
}

func (s *PGStore) ListGroupArticles(ctx context.Context, groupID int64, page Page) ([]PublicArticle, error) {
	return s.ListArticles(ctx, ArticleFilter{GroupID: groupID}, page)
}

// Search unifies articles, artists, and groups behind a single query
// string. Articles are ranked by full-text relevance via search_vector;
// artists/groups by simple trigram-backed ILIKE, since neither carries
// its own tsvector.
func (s *PGStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	var results []SearchResult

	var articleRows []struct {
		ID      int64   `db:"id"`
		TitleKo string  `db:"title_ko"`
		Rank    float32 `db:"rank"`
	}
	err := s.db.SelectContext(ctx, &articleRows, `
		SELECT id, title_ko, ts_rank(search_vector, plainto_tsquery('simple', $1)) AS rank
		FROM articles
		WHERE process_status = ANY($2) AND search_vector @@ plainto_tsquery('simple', $1)
		ORDER BY rank DESC LIMIT $3
	`, query, pq.Array(publicStatuses), limit)
	if err != nil {
		return nil, fmt.Errorf("api: searching articles: %w", err)
	}
	for _, r := range articleRows {
		results = append(results, SearchResult{Kind: "article", ID: r.ID, Title: r.TitleKo, Rank: r.Rank})
	}

	var artistRows []struct {
		ID     int64  `db:"id"`
		NameKo string `db:"name_ko"`
	}
	err = s.db.SelectContext(ctx, &artistRows, `
		SELECT id, name_ko FROM artists WHERE name_ko ILIKE $1 OR name_en ILIKE $1 LIMIT $2
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("api: searching artists: %w", err)
	}
	for _, r := range artistRows {
		results = append(results, SearchResult{Kind: "artist", ID: r.ID, Title: r.NameKo, Rank: 1})
	}

	var groupRows []struct {
		ID     int64  `db:"id"`
		NameKo string `db:"name_ko"`
	}
	err = s.db.SelectContext(ctx, &groupRows, `
		SELECT id, name_ko FROM groups WHERE name_ko ILIKE $1 OR name_en ILIKE $1 LIMIT $2
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("api: searching groups: %w", err)
	}
	for _, r := range groupRows {
		results = append(results, SearchResult{Kind: "group", ID: r.ID, Title: r.NameKo, Rank: 1})
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
