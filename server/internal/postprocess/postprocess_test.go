package postprocess

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/llm"
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
	return f.reply, llm.Usage{}, nil
}

type fakeStore struct {
	scraped  []ArticleRef
	claimed  map[int64]bool
	written  map[int64][]string
	skipped  []int64
	errored  []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{claimed: map[int64]bool{}, written: map[int64][]string{}}
}

func (s *fakeStore) ListScraped(ctx context.Context, limit int) ([]ArticleRef, error) {
	var pending []ArticleRef
	for _, ref := range s.scraped {
		if s.claimed[ref.ID] {
			continue
		}
		pending = append(pending, ref)
	}
	if limit < len(pending) {
		return pending[:limit], nil
	}
	return pending, nil
}

func (s *fakeStore) ClaimScraped(ctx context.Context, articleID int64) (ArticleRef, bool, error) {
	if claimed, already := s.claimed[articleID]; already && claimed {
		return ArticleRef{}, false, nil
	}
	for _, ref := range s.scraped {
		if ref.ID == articleID {
			s.claimed[articleID] = true
			return ref, true, nil
		}
	}
	return ArticleRef{}, false, nil
}

func (s *fakeStore) WriteResult(ctx context.Context, articleID int64, titleEn, summaryKo, summaryEn string, hashtags []string) error {
	s.written[articleID] = hashtags
	return nil
}

func (s *fakeStore) MarkSkipped(ctx context.Context, articleID int64) error {
	s.skipped = append(s.skipped, articleID)
	return nil
}

func (s *fakeStore) MarkError(ctx context.Context, articleID int64) error {
	s.errored = append(s.errored, articleID)
	return nil
}

func TestProcessScraped_WritesResultOnSuccess(t *testing.T) {
	store := newFakeStore()
	store.scraped = []ArticleRef{{ID: 1, TitleKo: "제목", ContentKo: "내용"}}
	reply := `{"title_en":"Title","summary_ko":"요약","summary_en":"Summary","hashtags_en":["#kpop","idol"]}`
	e := New(&fakeLLM{reply: reply}, store, zap.NewNop(), WithBatchDelay(time.Millisecond))

	n, err := e.ProcessScraped(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"kpop", "idol"}, store.written[1])
}

func TestProcessScraped_SkipsArticleWithNoTitleKo(t *testing.T) {
	store := newFakeStore()
	store.scraped = []ArticleRef{{ID: 1, TitleKo: "", ContentKo: "내용"}}
	e := New(&fakeLLM{}, store, zap.NewNop(), WithBatchDelay(time.Millisecond))

	n, err := e.ProcessScraped(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, store.skipped)
}

func TestProcessScraped_MarksErrorOnLLMFailure(t *testing.T) {
	store := newFakeStore()
	store.scraped = []ArticleRef{{ID: 1, TitleKo: "제목", ContentKo: "내용"}}
	e := New(&fakeLLM{err: fmt.Errorf("rate limited")}, store, zap.NewNop(), WithBatchDelay(time.Millisecond))

	n, err := e.ProcessScraped(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []int64{1}, store.errored)
}

func TestProcessScraped_MarksErrorOnUnparsableResponse(t *testing.T) {
	store := newFakeStore()
	store.scraped = []ArticleRef{{ID: 1, TitleKo: "제목", ContentKo: "내용"}}
	e := New(&fakeLLM{reply: "not json"}, store, zap.NewNop(), WithBatchDelay(time.Millisecond))

	n, err := e.ProcessScraped(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []int64{1}, store.errored)
}

func TestProcessScraped_SkipsAlreadyClaimedArticle(t *testing.T) {
	store := newFakeStore()
	store.scraped = []ArticleRef{{ID: 1, TitleKo: "제목", ContentKo: "내용"}}
	store.claimed[1] = true // already processed by another worker
	e := New(&fakeLLM{reply: `{"title_en":"x"}`}, store, zap.NewNop(), WithBatchDelay(time.Millisecond))

	n, err := e.ProcessScraped(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProcessAllScraped_DrainsUntilEmpty(t *testing.T) {
	store := newFakeStore()
	store.scraped = []ArticleRef{{ID: 1, TitleKo: "제목1"}, {ID: 2, TitleKo: "제목2"}}
	e := New(&fakeLLM{reply: `{"title_en":"x","hashtags_en":[]}`}, store, zap.NewNop(), WithBatchDelay(time.Millisecond))

	total, err := e.ProcessAllScraped(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestNormalizeHashtags_StripsHashPrefixAndBlanks(t *testing.T) {
	out := normalizeHashtags([]string{"#kpop", " idol ", "", "#"})
	assert.Equal(t, []string{"kpop", "idol"}, out)
}
