package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/intelligence"
	"github.com/hallyuwire/corehub/server/internal/llm"
	"github.com/hallyuwire/corehub/server/internal/models"
)

type fakeStore struct {
	profiles map[int64]ArtistProfile

	filled         []string
	touched        []int64
	reconciled     []string
	noOpReconciled []string
	conflicts      []string
	enrolled       map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: map[int64]ArtistProfile{}, enrolled: map[string]bool{}}
}

func (s *fakeStore) LoadArtistProfile(ctx context.Context, artistID int64) (ArtistProfile, error) {
	return s.profiles[artistID], nil
}
func (s *fakeStore) ApplyFill(ctx context.Context, articleID, artistID int64, field, newValue string, detectedConfidence, sourceReliability float64) error {
	s.filled = append(s.filled, field+"="+newValue)
	return nil
}
func (s *fakeStore) TouchLastVerified(ctx context.Context, artistID int64) error {
	s.touched = append(s.touched, artistID)
	return nil
}
func (s *fakeStore) ApplyReconcile(ctx context.Context, articleID, artistID int64, field, newValue, reasoning string, detectedConfidence, sourceReliability float64) error {
	s.reconciled = append(s.reconciled, field+"="+newValue)
	return nil
}
func (s *fakeStore) LogNoOpReconcile(ctx context.Context, articleID, artistID int64, field, dbValue, reasoning string, detectedConfidence, sourceReliability float64) error {
	s.noOpReconciled = append(s.noOpReconciled, field)
	return nil
}
func (s *fakeStore) LogConflict(ctx context.Context, articleID, entityID int64, entityType models.EntityType, field, existingValue, conflictingValue, reason string, conflictScore float64) error {
	s.conflicts = append(s.conflicts, field)
	return nil
}
func (s *fakeStore) EnrollGlossaryTerm(ctx context.Context, termKo, termEn string, category models.GlossaryCategory, sourceArticleID int64) (bool, error) {
	if s.enrolled[termKo] {
		return false, nil
	}
	s.enrolled[termKo] = true
	return true, nil
}

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) CallJSON(ctx context.Context, systemPrompt, userPrompt string) (string, llm.Usage, error) {
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	return f.reply, llm.Usage{}, nil
}

func mapping(entityID *int64, entityType models.EntityType, nameKo, nameEn string, confidence float64) intelligence.LinkedMapping {
	return intelligence.LinkedMapping{
		EntityID: entityID,
		Detected: intelligence.DetectedArtist{
			NameKo: nameKo, NameEn: nameEn, EntityType: entityType, ConfidenceScore: confidence,
		},
	}
}

func TestResolve_FillsEmptyFieldAndBoostsConfidence(t *testing.T) {
	store := newFakeStore()
	artistID := int64(1)
	store.profiles[artistID] = ArtistProfile{ID: artistID, Fields: map[string]string{"name_en": ""}}
	e := New(&fakeLLM{}, store, zap.NewNop())

	resolved, _, err := e.Resolve(context.Background(), intelligence.ResolverInput{ArticleID: 10}, []intelligence.LinkedMapping{
		mapping(&artistID, models.EntityArtist, "아이유", "IU", 0.9),
	})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, confidenceBoost, resolved[0].ConfidenceBoost)
	assert.Equal(t, []string{"name_en=IU"}, store.filled)
}

func TestResolve_MatchingValueTouchesVerifiedAndBoosts(t *testing.T) {
	store := newFakeStore()
	artistID := int64(1)
	store.profiles[artistID] = ArtistProfile{ID: artistID, Fields: map[string]string{"name_en": "iu"}}
	e := New(&fakeLLM{}, store, zap.NewNop())

	resolved, _, err := e.Resolve(context.Background(), intelligence.ResolverInput{ArticleID: 10}, []intelligence.LinkedMapping{
		mapping(&artistID, models.EntityArtist, "아이유", "IU", 0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, confidenceBoost, resolved[0].ConfidenceBoost)
	assert.Equal(t, []int64{artistID}, store.touched)
	assert.Empty(t, store.filled)
}

func TestResolve_ConflictingValueReconcilesToArticle(t *testing.T) {
	store := newFakeStore()
	artistID := int64(1)
	store.profiles[artistID] = ArtistProfile{ID: artistID, Fields: map[string]string{"name_en": "Old Name"}}
	e := New(&fakeLLM{reply: `{"winner":"article","reason":"newer source"}`}, store, zap.NewNop())

	_, _, err := e.Resolve(context.Background(), intelligence.ResolverInput{ArticleID: 10, ArticleTitleKo: "title"}, []intelligence.LinkedMapping{
		mapping(&artistID, models.EntityArtist, "아이유", "IU", 0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name_en=IU"}, store.reconciled)
	assert.Empty(t, store.conflicts)
}

func TestResolve_ConflictingValueKeepsDBOnDBWinner(t *testing.T) {
	store := newFakeStore()
	artistID := int64(1)
	store.profiles[artistID] = ArtistProfile{ID: artistID, Fields: map[string]string{"name_en": "Old Name"}}
	e := New(&fakeLLM{reply: `{"winner":"db","reason":"established"}`}, store, zap.NewNop())

	_, _, err := e.Resolve(context.Background(), intelligence.ResolverInput{ArticleID: 10}, []intelligence.LinkedMapping{
		mapping(&artistID, models.EntityArtist, "아이유", "IU", 0.9),
	})
	require.NoError(t, err)
	assert.Empty(t, store.reconciled)
	assert.Equal(t, []string{"name_en"}, store.noOpReconciled)
	assert.Empty(t, store.conflicts)
}

func TestResolve_IndeterminateReconcileRaisesConflictFlag(t *testing.T) {
	store := newFakeStore()
	artistID := int64(1)
	store.profiles[artistID] = ArtistProfile{ID: artistID, Fields: map[string]string{"name_en": "Old Name"}}
	e := New(&fakeLLM{err: assert.AnError}, store, zap.NewNop())

	_, _, err := e.Resolve(context.Background(), intelligence.ResolverInput{ArticleID: 10}, []intelligence.LinkedMapping{
		mapping(&artistID, models.EntityArtist, "아이유", "IU", 0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name_en"}, store.conflicts)
}

func TestResolve_UnlinkedEntityWithEnglishNameAutoEnrolls(t *testing.T) {
	store := newFakeStore()
	e := New(&fakeLLM{}, store, zap.NewNop())

	_, glossaryChanged, err := e.Resolve(context.Background(), intelligence.ResolverInput{ArticleID: 10}, []intelligence.LinkedMapping{
		mapping(nil, models.EntityArtist, "뉴진스", "NewJeans", 0.9),
	})
	require.NoError(t, err)
	assert.True(t, glossaryChanged)
	assert.True(t, store.enrolled["뉴진스"])
}

func TestResolve_UnlinkedEntityWithoutEnglishNameSkipsEnroll(t *testing.T) {
	store := newFakeStore()
	e := New(&fakeLLM{}, store, zap.NewNop())

	_, glossaryChanged, err := e.Resolve(context.Background(), intelligence.ResolverInput{ArticleID: 10}, []intelligence.LinkedMapping{
		mapping(nil, models.EntityArtist, "뉴진스", "", 0.9),
	})
	require.NoError(t, err)
	assert.False(t, glossaryChanged)
	assert.Empty(t, store.enrolled)
}

func TestJaccardDissimilarity_UsedForConflictScore(t *testing.T) {
	assert.InDelta(t, 0.0, jaccardDissimilarity("abc", "abc"), 0.0001)
	assert.InDelta(t, 1.0, jaccardDissimilarity("abc", "xyz"), 0.0001)
}
