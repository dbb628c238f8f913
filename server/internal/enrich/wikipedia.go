package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/hallyuwire/corehub/server/internal/fetch"
)

// HTTPGetter is the subset of *fetch.Fetcher the Wikipedia reference
// fetcher depends on — narrow so it can be faked in tests without
// standing up throttle/backoff machinery. It reuses the polite-GET
// fetcher (C2) rather than a second bespoke HTTP client, so Wikipedia
// lookups get the same retry/backoff/throttle treatment as scraped
// sources.
type HTTPGetter interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Response, error)
}

const minExtractLength = 20

// WikipediaFetcher retrieves Korean Wikipedia intro extracts, mirroring
// profile_enricher.py's reference-corpus lookup: query the MediaWiki
// API for `extracts`, `exintro`, `explaintext`, treat a missing page or
// a too-short extract as "not found" rather than an error.
type WikipediaFetcher struct {
	http HTTPGetter
}

// NewWikipediaFetcher builds a ReferenceFetcher backed by Korean
// Wikipedia's public MediaWiki API.
func NewWikipediaFetcher(getter HTTPGetter) *WikipediaFetcher {
	return &WikipediaFetcher{http: getter}
}

type wikiQueryResponse struct {
	Query struct {
		Pages map[string]struct {
			PageID  *int   `json:"pageid"`
			Missing string `json:"missing"`
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

func (w *WikipediaFetcher) Fetch(ctx context.Context, name string) (string, bool, error) {
	if strings.TrimSpace(name) == "" {
		return "", false, nil
	}

	params := url.Values{
		"action":      {"query"},
		"titles":      {name},
		"prop":        {"extracts"},
		"exintro":     {"1"},
		"explaintext": {"1"},
		"redirects":   {"1"},
		"format":      {"json"},
		"utf8":        {"1"},
	}
	reqURL := "https://ko.wikipedia.org/w/api.php?" + params.Encode()

	resp, err := w.http.Fetch(ctx, reqURL)
	if err != nil {
		return "", false, fmt.Errorf("enrich: fetching wikipedia extract for %q: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, nil
	}

	var parsed wikiQueryResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", false, fmt.Errorf("enrich: decoding wikipedia response for %q: %w", name, err)
	}

	for _, page := range parsed.Query.Pages {
		if page.Missing != "" {
			continue
		}
		extract := strings.TrimSpace(page.Extract)
		if len(extract) >= minExtractLength {
			return extract, true, nil
		}
	}
	return "", false, nil
}
