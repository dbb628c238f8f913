package intelligence

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/llm"
	"github.com/hallyuwire/corehub/server/internal/models"
)

type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) CallJSON(ctx context.Context, systemPrompt, userPrompt string) (string, llm.Usage, error) {
	f.calls++
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	return f.reply, llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, ResponseTimeMS: 42}, nil
}

type fakeStore struct {
	article  articleInput
	registry []ArtistRef
	glossary []GlossaryTerm
	batch    []articleInput

	writtenStatus   models.ProcessStatus
	writtenNote     string
	writtenMappings []LinkedMapping
	writeCalled     bool

	markErrorCalled    bool
	markErrorArticleID int64
	markErrorKind      string
	markErrorRawPrefix string
	markErrorSourceURL string
}

func (s *fakeStore) LoadArticle(ctx context.Context, articleID int64) (articleInput, error) {
	return s.article, nil
}
func (s *fakeStore) ClaimPendingBatch(ctx context.Context, batchSize int) ([]articleInput, error) {
	return s.batch, nil
}
func (s *fakeStore) PeekPendingBatch(ctx context.Context, batchSize int) ([]articleInput, error) {
	return s.batch, nil
}
func (s *fakeStore) LoadArtistRegistry(ctx context.Context) ([]ArtistRef, error) { return s.registry, nil }
func (s *fakeStore) LoadGlossary(ctx context.Context) ([]GlossaryTerm, error)    { return s.glossary, nil }
func (s *fakeStore) WriteResult(ctx context.Context, articleID int64, ext *ExtractionResult, mappings []LinkedMapping, status models.ProcessStatus, systemNote string, usage llm.Usage) error {
	s.writeCalled = true
	s.writtenStatus = status
	s.writtenNote = systemNote
	s.writtenMappings = mappings
	return nil
}
func (s *fakeStore) MarkError(ctx context.Context, articleID int64, errKind, rawPrefix, sourceURL string) error {
	s.markErrorCalled = true
	s.markErrorArticleID = articleID
	s.markErrorKind = errKind
	s.markErrorRawPrefix = rawPrefix
	s.markErrorSourceURL = sourceURL
	return nil
}

type fakeResolver struct {
	boost           float64
	glossaryChanged bool
}

func (r *fakeResolver) Resolve(ctx context.Context, input ResolverInput, mappings []LinkedMapping) ([]LinkedMapping, bool, error) {
	out := make([]LinkedMapping, len(mappings))
	for i, m := range mappings {
		m.ConfidenceBoost = r.boost
		out[i] = m
	}
	return out, r.glossaryChanged, nil
}

func sampleExtractionJSON(t *testing.T, overrides map[string]any) string {
	t.Helper()
	base := map[string]any{
		"title_ko":       "아이유 신곡 발표",
		"title_en":       "IU announces new single",
		"topic_summary":  "아이유가 신곡을 발표했다",
		"topic_summary_en": "IU announced a new single",
		"seo_hashtags":   []string{"comeback"},
		"sentiment":      "positive",
		"relevance_score": 0.9,
		"main_category":  "music",
		"confidence":     0.97,
		"detected_artists": []map[string]any{
			{"name_ko": "아이유", "name_en": "IU", "mention_count": 3, "is_primary": true, "entity_type": "ARTIST", "confidence_score": 0.9, "is_ambiguous": false},
		},
	}
	for k, v := range overrides {
		base[k] = v
	}
	b, err := json.Marshal(base)
	require.NoError(t, err)
	return string(b)
}

func newTestEngine(store Store, llmClient LLMClient, resolver Resolver) *Engine {
	return New(llmClient, store, resolver, zap.NewNop())
}

func TestProcessOne_AutoCommitsAndWritesThrough(t *testing.T) {
	store := &fakeStore{
		article:  articleInput{ID: 1, TitleKo: "t", ContentKo: "body", ArtistNameKo: "아이유"},
		registry: []ArtistRef{{ID: 7, NameKo: "아이유", NameEn: "IU"}},
	}
	client := &fakeLLM{reply: sampleExtractionJSON(t, nil)}
	resolver := &fakeResolver{boost: 0.05}
	e := newTestEngine(store, client, resolver)

	outcome, err := e.ProcessOne(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, outcome.Status)
	assert.True(t, store.writeCalled)
	require.Len(t, store.writtenMappings, 1)
	assert.Equal(t, int64(7), *store.writtenMappings[0].EntityID)
	assert.Equal(t, 1, client.calls)
}

func TestProcessOne_DryRunSkipsWriteThroughAndResolver(t *testing.T) {
	store := &fakeStore{article: articleInput{ID: 1, TitleKo: "t", ContentKo: "body"}}
	client := &fakeLLM{reply: sampleExtractionJSON(t, nil)}
	resolverCalled := false
	resolver := resolverFunc(func(ctx context.Context, input ResolverInput, mappings []LinkedMapping) ([]LinkedMapping, bool, error) {
		resolverCalled = true
		return mappings, false, nil
	})
	e := newTestEngine(store, client, resolver)

	outcome, err := e.ProcessOne(context.Background(), 1, true)
	require.NoError(t, err)
	assert.True(t, outcome.DryRun)
	assert.False(t, store.writeCalled)
	assert.False(t, resolverCalled)
}

func TestProcessOne_ManualReviewOnLowRelevance(t *testing.T) {
	store := &fakeStore{article: articleInput{ID: 1, TitleKo: "t", ContentKo: "body"}}
	client := &fakeLLM{reply: sampleExtractionJSON(t, map[string]any{"relevance_score": 0.1})}
	e := newTestEngine(store, client, nil)

	outcome, err := e.ProcessOne(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusManualReview, outcome.Status)
	assert.Equal(t, models.StatusManualReview, store.writtenStatus)
	assert.Contains(t, store.writtenNote, "MANUAL_REVIEW")
}

func TestProcessOne_KoOnlyTierSkipsGlossaryAndAllowsMissingTranslation(t *testing.T) {
	p := 3
	store := &fakeStore{
		article:  articleInput{ID: 1, TitleKo: "t", ContentKo: "body", ArtistNameKo: "아이유"},
		registry: []ArtistRef{{NameKo: "아이유", GlobalPriority: &p}},
		glossary: []GlossaryTerm{{TermKo: "x", TermEn: "y", Category: models.GlossaryArtist}},
	}
	client := &fakeLLM{reply: sampleExtractionJSON(t, map[string]any{"title_en": "", "topic_summary_en": ""})}
	e := newTestEngine(store, client, nil)

	outcome, err := e.ProcessOne(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Equal(t, TierKoOnly, outcome.Tier)
	assert.Equal(t, models.StatusVerified, outcome.Status)
}

func TestProcessPending_ProcessesClaimedBatch(t *testing.T) {
	store := &fakeStore{
		batch:   []articleInput{{ID: 1, TitleKo: "t", ContentKo: "body"}, {ID: 2, TitleKo: "t2", ContentKo: "body2"}},
		article: articleInput{ID: 1, TitleKo: "t", ContentKo: "body"},
	}
	client := &fakeLLM{reply: sampleExtractionJSON(t, nil)}
	e := newTestEngine(store, client, nil)

	result, err := e.ProcessPending(context.Background(), 10, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Claimed)
	assert.Len(t, result.Processed, 2)
}

func TestProcessPending_RecordsErrorOutcomeOnLLMFailure(t *testing.T) {
	store := &fakeStore{
		batch:   []articleInput{{ID: 1, TitleKo: "t", ContentKo: "body", SourceURL: "https://example.test/a"}},
		article: articleInput{ID: 1, TitleKo: "t", ContentKo: "body", SourceURL: "https://example.test/a"},
	}
	client := &fakeLLM{err: assert.AnError}
	e := newTestEngine(store, client, nil)

	result, err := e.ProcessPending(context.Background(), 10, false)
	require.NoError(t, err)
	require.Len(t, result.Processed, 1)
	assert.NotEmpty(t, result.Processed[0].Error)

	assert.True(t, store.markErrorCalled, "an LLM call failure must transition the article to ERROR, not just log in memory")
	assert.Equal(t, int64(1), store.markErrorArticleID)
	assert.Equal(t, "llm_call_error", store.markErrorKind)
	assert.Equal(t, "https://example.test/a", store.markErrorSourceURL)
	assert.False(t, store.writeCalled, "a failed article must not also go through the successful write-through path")
}

func TestProcessOne_MarksErrorOnMalformedExtractionJSON(t *testing.T) {
	store := &fakeStore{article: articleInput{ID: 1, TitleKo: "t", ContentKo: "body", SourceURL: "https://example.test/b"}}
	client := &fakeLLM{reply: "not json"}
	e := newTestEngine(store, client, nil)

	_, err := e.ProcessOne(context.Background(), 1, false)
	assert.Error(t, err)
	assert.True(t, store.markErrorCalled, "a JSON decode failure must transition the article to ERROR")
	assert.Equal(t, "validation_error", store.markErrorKind)
	assert.Equal(t, "not json", store.markErrorRawPrefix)
	assert.Equal(t, "https://example.test/b", store.markErrorSourceURL)
}

func TestProcessOne_MarksErrorOnSchemaValidationFailure(t *testing.T) {
	store := &fakeStore{article: articleInput{ID: 1, TitleKo: "t", ContentKo: "body", SourceURL: "https://example.test/c"}}
	client := &fakeLLM{reply: sampleExtractionJSON(t, map[string]any{"confidence": 5.0})}
	e := newTestEngine(store, client, nil)

	_, err := e.ProcessOne(context.Background(), 1, false)
	assert.Error(t, err)
	assert.True(t, store.markErrorCalled, "a schema validation failure must transition the article to ERROR")
	assert.Equal(t, "validation_error", store.markErrorKind)
}

func TestProcessOne_DryRunNeverCallsMarkError(t *testing.T) {
	store := &fakeStore{article: articleInput{ID: 1, TitleKo: "t", ContentKo: "body"}}
	client := &fakeLLM{err: assert.AnError}
	e := newTestEngine(store, client, nil)

	_, err := e.ProcessOne(context.Background(), 1, true)
	assert.Error(t, err)
	assert.False(t, store.markErrorCalled, "dry runs must not persist anything, including error transitions")
}

// resolverFunc adapts a function to the Resolver interface for tests.
type resolverFunc func(ctx context.Context, input ResolverInput, mappings []LinkedMapping) ([]LinkedMapping, bool, error)

func (f resolverFunc) Resolve(ctx context.Context, input ResolverInput, mappings []LinkedMapping) ([]LinkedMapping, bool, error) {
	return f(ctx, input, mappings)
}
