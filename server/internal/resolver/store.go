package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hallyuwire/corehub/server/internal/models"
)

// artistFieldColumns maps a whitelisted logical field name to its exact
// column name; the provenance column is that name plus
// "_source_article_id". Column names in SQL text come only from this
// map, never from caller input, and a field missing from it is rejected.
var artistFieldColumns = map[string]string{
	"name_en":        "name_en",
	"nationality_ko":  "nationality_ko",
	"nationality_en":  "nationality_en",
	"mbti":            "mbti",
	"blood_type":      "blood_type",
	"height_cm":       "height_cm",
	"weight_kg":       "weight_kg",
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore builds a PGStore.
func NewPGStore(db *sqlx.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) LoadArtistProfile(ctx context.Context, artistID int64) (ArtistProfile, error) {
	var row struct {
		NameEn         string `db:"name_en"`
		NationalityKo  string `db:"nationality_ko"`
		NationalityEn  string `db:"nationality_en"`
		MBTI           string `db:"mbti"`
		BloodType      string `db:"blood_type"`
		HeightCm       *float64 `db:"height_cm"`
		WeightKg       *float64 `db:"weight_kg"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT name_en, nationality_ko, nationality_en, mbti, blood_type, height_cm, weight_kg
		FROM artists WHERE id = $1
	`, artistID)
	if err != nil {
		return ArtistProfile{}, fmt.Errorf("resolver: loading artist %d: %w", artistID, err)
	}
	return ArtistProfile{
		ID: artistID,
		Fields: map[string]string{
			"name_en":        row.NameEn,
			"nationality_ko":  row.NationalityKo,
			"nationality_en":  row.NationalityEn,
			"mbti":            row.MBTI,
			"blood_type":      row.BloodType,
			"height_cm":       floatFieldString(row.HeightCm),
			"weight_kg":       floatFieldString(row.WeightKg),
		},
	}, nil
}

func floatFieldString(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%v", *f)
}

// ApplyFill atomically updates the whitelisted field and records the
// provenance/audit pair: one DataUpdateLog row, one
// AutoResolutionLog row.
func (s *PGStore) ApplyFill(ctx context.Context, articleID, artistID int64, field, newValue string, detectedConfidence, sourceReliability float64) error {
	column, ok := artistFieldColumns[field]
	if !ok {
		return fmt.Errorf("resolver: field %q is not a whitelisted artist column", field)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resolver: beginning FILL transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`UPDATE artists SET %s = $1, %s_source_article_id = $2 WHERE id = $3`, column, column)
	if _, err := tx.ExecContext(ctx, query, newValue, articleID, artistID); err != nil {
		return fmt.Errorf("resolver: applying FILL to artist %d field %s: %w", artistID, field, err)
	}

	if err := insertDataUpdateLog(ctx, tx, articleID, models.EntityArtist, artistID, field, nil, newValue); err != nil {
		return err
	}
	if err := insertAutoResolutionLog(ctx, tx, articleID, models.EntityArtist, artistID, field, models.ResolutionFill, "", detectedConfidence, sourceReliability); err != nil {
		return err
	}
	return tx.Commit()
}

// TouchLastVerified marks an entity as freshly confirmed by an
// independent source, without changing any profile field.
func (s *PGStore) TouchLastVerified(ctx context.Context, artistID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE artists SET last_verified_at = now() WHERE id = $1`, artistID)
	if err != nil {
		return fmt.Errorf("resolver: touching last_verified_at for artist %d: %w", artistID, err)
	}
	return nil
}

// ApplyReconcile implements the "article" branch of RECONCILE: update
// the field and log both the mutation and the resolution decision.
func (s *PGStore) ApplyReconcile(ctx context.Context, articleID, artistID int64, field, newValue, reasoning string, detectedConfidence, sourceReliability float64) error {
	column, ok := artistFieldColumns[field]
	if !ok {
		return fmt.Errorf("resolver: field %q is not a whitelisted artist column", field)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resolver: beginning RECONCILE transaction: %w", err)
	}
	defer tx.Rollback()

	var oldValue string
	selectQuery := fmt.Sprintf(`SELECT %s FROM artists WHERE id = $1`, column)
	if err := tx.QueryRowContext(ctx, selectQuery, artistID).Scan(&oldValue); err != nil {
		return fmt.Errorf("resolver: loading prior value for artist %d field %s: %w", artistID, field, err)
	}

	updateQuery := fmt.Sprintf(`UPDATE artists SET %s = $1, %s_source_article_id = $2 WHERE id = $3`, column, column)
	if _, err := tx.ExecContext(ctx, updateQuery, newValue, articleID, artistID); err != nil {
		return fmt.Errorf("resolver: applying RECONCILE to artist %d field %s: %w", artistID, field, err)
	}

	if err := insertDataUpdateLog(ctx, tx, articleID, models.EntityArtist, artistID, field, oldValue, newValue); err != nil {
		return err
	}
	if err := insertAutoResolutionLog(ctx, tx, articleID, models.EntityArtist, artistID, field, models.ResolutionReconcile, reasoning, detectedConfidence, sourceReliability); err != nil {
		return err
	}
	return tx.Commit()
}

// LogNoOpReconcile records a "db wins" RECONCILE outcome: no field
// mutation, so no DataUpdateLog row, but an AutoResolutionLog row so the
// decision is distinguishable from the resolver never having run.
func (s *PGStore) LogNoOpReconcile(ctx context.Context, articleID, artistID int64, field, dbValue, reasoning string, detectedConfidence, sourceReliability float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auto_resolution_logs (article_id, entity_type, entity_id, field_name, resolution_type, llm_reasoning, llm_confidence, source_reliability)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, articleID, models.EntityArtist, artistID, field, models.ResolutionReconcile, reasoning, detectedConfidence, sourceReliability)
	if err != nil {
		return fmt.Errorf("resolver: logging no-op RECONCILE for artist %d field %s: %w", artistID, field, err)
	}
	return nil
}

// LogConflict raises an OPEN ConflictFlag for a contradiction
// Auto-Reconciliation could not resolve.
func (s *PGStore) LogConflict(ctx context.Context, articleID, entityID int64, entityType models.EntityType, field, existingValue, conflictingValue, reason string, conflictScore float64) error {
	existingJSON, err := json.Marshal(existingValue)
	if err != nil {
		return fmt.Errorf("resolver: marshaling existing_value: %w", err)
	}
	conflictingJSON, err := json.Marshal(conflictingValue)
	if err != nil {
		return fmt.Errorf("resolver: marshaling conflicting_value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conflict_flags (entity_type, entity_id, field_name, article_id, existing_value_json, conflicting_value_json, reason, conflict_score, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entityType, entityID, field, articleID, existingJSON, conflictingJSON, reason, conflictScore, models.ConflictOpen)
	if err != nil {
		return fmt.Errorf("resolver: logging conflict flag for entity %d field %s: %w", entityID, field, err)
	}
	return nil
}

// EnrollGlossaryTerm implements ENROLL: best-effort insert, ON CONFLICT
// DO NOTHING on (term_ko, category), logging AutoResolutionLog only on
// an actual insert.
func (s *PGStore) EnrollGlossaryTerm(ctx context.Context, termKo, termEn string, category models.GlossaryCategory, sourceArticleID int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("resolver: beginning ENROLL transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO glossary (term_ko, term_en, category, is_auto_provisioned, source_article_id)
		VALUES ($1, $2, $3, true, $4)
		ON CONFLICT (term_ko, category) DO NOTHING
	`, termKo, termEn, category, sourceArticleID)
	if err != nil {
		return false, fmt.Errorf("resolver: enrolling glossary term %q: %w", termKo, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolver: checking ENROLL rows affected: %w", err)
	}
	if affected == 0 {
		return false, tx.Commit()
	}

	// ENROLL has no artist/group id to pair with — it mutates the
	// glossary, not an entity profile — so the AutoResolutionLog row
	// carries entity_id=0 and a synthetic field_name identifying the
	// enrolled term instead of a real entity reference.
	if err := insertAutoResolutionLog(ctx, tx, sourceArticleID, models.EntityEvent, 0, "glossary:"+termKo, models.ResolutionEnroll, "", 0, 0); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func insertDataUpdateLog(ctx context.Context, tx *sqlx.Tx, articleID int64, entityType models.EntityType, entityID int64, field string, oldValue, newValue any) error {
	oldJSON, err := json.Marshal(oldValue)
	if err != nil {
		return fmt.Errorf("resolver: marshaling old_value for %s: %w", field, err)
	}
	newJSON, err := json.Marshal(newValue)
	if err != nil {
		return fmt.Errorf("resolver: marshaling new_value for %s: %w", field, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO data_update_logs (article_id, entity_type, entity_id, field_name, old_value_json, new_value_json, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, articleID, entityType, entityID, field, oldJSON, newJSON, models.UpdatedByAIPipeline)
	if err != nil {
		return fmt.Errorf("resolver: inserting data_update_logs row for %s: %w", field, err)
	}
	return nil
}

func insertAutoResolutionLog(ctx context.Context, tx *sqlx.Tx, articleID int64, entityType models.EntityType, entityID int64, field string, resolutionType models.ResolutionType, reasoning string, confidence, sourceReliability float64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO auto_resolution_logs (article_id, entity_type, entity_id, field_name, resolution_type, llm_reasoning, llm_confidence, source_reliability)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, articleID, entityType, entityID, field, resolutionType, reasoning, confidence, sourceReliability)
	if err != nil {
		return fmt.Errorf("resolver: inserting auto_resolution_logs row for %s: %w", field, err)
	}
	return nil
}
