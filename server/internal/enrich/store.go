package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// artistFillableColumns and groupFillableColumns whitelist the exact
// columns ApplyEnrichment may write for each entity kind, mirroring the
// resolver's whitelist-before-SQL discipline.
var artistFillableColumns = map[string]string{
	"name_en":        "name_en",
	"nationality_ko":  "nationality_ko",
	"nationality_en":  "nationality_en",
	"mbti":            "mbti",
	"blood_type":      "blood_type",
	"height_cm":       "height_cm",
	"weight_kg":       "weight_kg",
	"bio_ko":          "bio_ko",
	"bio_en":          "bio_en",
}

var groupFillableColumns = map[string]string{
	"name_en":        "name_en",
	"label_ko":       "label_ko",
	"fandom_name_ko": "fandom_name_ko",
	"bio_ko":         "bio_ko",
	"bio_en":         "bio_en",
}

func columnsFor(kind EntityKind) map[string]string {
	if kind == KindGroup {
		return groupFillableColumns
	}
	return artistFillableColumns
}

// PGStore is the Postgres-backed Store for enrichment.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore builds a PGStore.
func NewPGStore(db *sqlx.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) ListUnenriched(ctx context.Context, limit int) ([]EntityRef, error) {
	var artists []EntityRef
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, name_ko, name_en, stage_name_ko FROM artists
		WHERE enriched_at IS NULL
		ORDER BY global_priority ASC NULLS LAST, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("enrich: listing unenriched artists: %w", err)
	}
	for rows.Next() {
		var id int64
		var nameKo, nameEn, stageNameKo string
		if err := rows.Scan(&id, &nameKo, &nameEn, &stageNameKo); err != nil {
			rows.Close()
			return nil, fmt.Errorf("enrich: scanning unenriched artist row: %w", err)
		}
		artists = append(artists, EntityRef{ID: id, Kind: KindArtist, NameKo: nameKo, NameEn: nameEn, StageName: stageNameKo})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("enrich: iterating unenriched artists: %w", err)
	}

	groupRows, err := s.db.QueryxContext(ctx, `
		SELECT id, name_ko, name_en FROM groups
		WHERE enriched_at IS NULL
		ORDER BY global_priority ASC NULLS LAST, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("enrich: listing unenriched groups: %w", err)
	}
	defer groupRows.Close()
	var groups []EntityRef
	for groupRows.Next() {
		var id int64
		var nameKo, nameEn string
		if err := groupRows.Scan(&id, &nameKo, &nameEn); err != nil {
			return nil, fmt.Errorf("enrich: scanning unenriched group row: %w", err)
		}
		groups = append(groups, EntityRef{ID: id, Kind: KindGroup, NameKo: nameKo, NameEn: nameEn})
	}
	if err := groupRows.Err(); err != nil {
		return nil, fmt.Errorf("enrich: iterating unenriched groups: %w", err)
	}

	combined := append(artists, groups...)
	if len(combined) > limit {
		combined = combined[:limit]
	}
	return combined, nil
}

func (s *PGStore) CurrentFields(ctx context.Context, ref EntityRef) (map[string]string, error) {
	columns := columnsFor(ref.Kind)
	names := make([]string, 0, len(columns))
	for col := range columns {
		names = append(names, col)
	}
	// height_cm/weight_kg are numeric columns on artists only.
	table := "artists"
	if ref.Kind == KindGroup {
		table = "groups"
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, strings.Join(names, ", "), table)
	rows, err := s.db.QueryxContext(ctx, query, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("enrich: loading current fields for entity %d: %w", ref.ID, err)
	}
	defer rows.Close()

	result := make(map[string]string, len(names))
	if rows.Next() {
		raw, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("enrich: scanning current fields for entity %d: %w", ref.ID, err)
		}
		for i, col := range names {
			result[col] = stringifyFieldValue(raw[i])
		}
	}
	return result, rows.Err()
}

func stringifyFieldValue(v any) string {
	if v == nil {
		return ""
	}
	switch value := v.(type) {
	case []byte:
		return string(value)
	case string:
		return value
	default:
		return fmt.Sprintf("%v", value)
	}
}

// ApplyEnrichment writes only the updates map's entries (already
// filtered to empty-current-value fields by the engine) and always
// stamps enriched_at=now(), even when updates is empty — a
// verified_match=false result still counts as "processed" so the
// sweep doesn't retry it every run.
func (s *PGStore) ApplyEnrichment(ctx context.Context, ref EntityRef, updates map[string]string, overwriteBio bool) error {
	columns := columnsFor(ref.Kind)
	table := "artists"
	if ref.Kind == KindGroup {
		table = "groups"
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("enrich: beginning enrichment transaction: %w", err)
	}
	defer tx.Rollback()

	args := []any{ref.ID}
	setClauses := make([]string, 0, len(updates)+1)
	for field, value := range updates {
		column, ok := columns[field]
		if !ok {
			return fmt.Errorf("enrich: field %q is not a fillable column for %s", field, ref.Kind)
		}
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	setClauses = append(setClauses, "enriched_at = now()")

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, table, strings.Join(setClauses, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("enrich: applying enrichment to entity %d: %w", ref.ID, err)
	}
	return tx.Commit()
}

// ResetSparseEnrichment clears enriched_at for up to limit rows of kind
// whose critical fields are still empty, so Run() revisits them.
func (s *PGStore) ResetSparseEnrichment(ctx context.Context, kind EntityKind, criticalFields []string, limit int) (int, error) {
	table := "artists"
	if kind == KindGroup {
		table = "groups"
	}
	conditions := make([]string, 0, len(criticalFields))
	for _, field := range criticalFields {
		conditions = append(conditions, fmt.Sprintf("COALESCE(%s, '') = ''", field))
	}
	query := fmt.Sprintf(`
		UPDATE %s SET enriched_at = NULL
		WHERE id IN (
			SELECT id FROM %s WHERE enriched_at IS NOT NULL AND (%s)
			ORDER BY id LIMIT $1
		)
	`, table, table, strings.Join(conditions, " OR "))

	res, err := s.db.ExecContext(ctx, query, limit)
	if err != nil {
		return 0, fmt.Errorf("enrich: resetting sparse %s rows: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("enrich: checking sparse reset rows affected: %w", err)
	}
	return int(affected), nil
}
