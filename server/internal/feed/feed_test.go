package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
<title>Sample Feed</title>
<item>
<title>Article One</title>
<link>https://example.test/a/1</link>
<pubDate>Mon, 02 Jan 2024 15:00:00 GMT</pubDate>
</item>
<item>
<title>Article Two</title>
<link>https://example.test/a/2</link>
<pubDate>Sun, 01 Jan 2024 10:00:00 GMT</pubDate>
</item>
</channel>
</rss>`

func TestFetchRSS_StripsNamespaceAndParses(t *testing.T) {
	svc := New()
	candidates, err := svc.FetchRSS(context.Background(), sampleRSS)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "https://example.test/a/1", candidates[0].URL)
	assert.Equal(t, "Article One", candidates[0].Title)
}

func TestCheckLatest_FiltersOlderAndKnownURLs(t *testing.T) {
	svc := New()
	maxKnown := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	classify := func(ctx context.Context, url string) (string, bool, error) {
		if url == "https://example.test/a/1" {
			return "PROCESSED", true, nil
		}
		return "", false, nil
	}

	candidates, err := CheckLatest(context.Background(), sampleRSS, svc, maxKnown, classify, nil, nil)
	require.NoError(t, err)
	// Article One is newer than maxKnown but already PROCESSED -> excluded.
	// Article Two is older than maxKnown -> excluded.
	assert.Empty(t, candidates)
}

func TestCheckLatest_KeepsFreshUnknownURLs(t *testing.T) {
	svc := New()
	maxKnown := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	candidates, err := CheckLatest(context.Background(), sampleRSS, svc, maxKnown, nil, nil, nil)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestRangeCollect_FiltersToWindow(t *testing.T) {
	svc := New()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	candidates, err := RangeCollect(context.Background(), sampleRSS, svc, start, end, 3, nil, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "https://example.test/a/1", candidates[0].URL)
}

func TestRangeCollect_PaginatesWhenOldestRSSEntryIsNewerThanStart(t *testing.T) {
	svc := New()
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	pageFetches := 0
	listPage := func(ctx context.Context, page int) (string, bool, error) {
		pageFetches++
		if page > 1 {
			return "", false, nil
		}
		return "page-1", true, nil
	}
	oldDate := time.Date(2022, 12, 1, 0, 0, 0, 0, time.UTC)
	parseListPage := func(html string) []Candidate {
		return []Candidate{{URL: "https://example.test/list/1", PublishedAt: &oldDate}}
	}

	candidates, err := RangeCollect(context.Background(), sampleRSS, svc, start, end, 3, listPage, parseListPage)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pageFetches, 1)

	// The list page's only entry predates start, so range filtering drops
	// it, but its presence should have stopped pagination after page 1.
	for _, c := range candidates {
		assert.NotEqual(t, "https://example.test/list/1", c.URL)
	}
}
