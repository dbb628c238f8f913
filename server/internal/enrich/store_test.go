package enrich

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sx := sqlx.NewDb(db, "postgres")
	return NewPGStore(sx), mock, func() { db.Close() }
}

func TestListUnenriched_QueriesBothTablesAndCapsAtLimit(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectQuery(`SELECT id, name_ko, name_en, stage_name_ko FROM artists`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name_ko", "name_en", "stage_name_ko"}).
			AddRow(int64(1), "아이유", "IU", ""))
	mock.ExpectQuery(`SELECT id, name_ko, name_en FROM groups`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name_ko", "name_en"}).
			AddRow(int64(2), "뉴진스", "NewJeans"))

	refs, err := store.ListUnenriched(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, int64(1), refs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEnrichment_RejectsNonFillableField(t *testing.T) {
	store, _, done := newMockStore(t)
	defer done()

	err := store.ApplyEnrichment(context.Background(), EntityRef{ID: 1, Kind: KindArtist}, map[string]string{"agency_secret": "x"}, false)
	require.Error(t, err)
}

func TestApplyEnrichment_WritesUpdatesAndStampsEnrichedAt(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE artists SET mbti = \$2, enriched_at = now\(\) WHERE id = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ApplyEnrichment(context.Background(), EntityRef{ID: 1, Kind: KindArtist}, map[string]string{"mbti": "INFP"}, false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetSparseEnrichment_UsesCriticalFieldConditions(t *testing.T) {
	store, mock, done := newMockStore(t)
	defer done()

	mock.ExpectExec(`UPDATE artists SET enriched_at = NULL`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.ResetSparseEnrichment(context.Background(), KindArtist, []string{"name_en", "mbti"}, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
