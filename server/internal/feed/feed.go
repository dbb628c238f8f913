// Package feed discovers candidate article URLs two ways: "check-latest"
// against an RSS/Atom feed (falling back to a list page), and bounded
// date-range collection via RSS plus paginated list pages. This is Feed
// Discovery (C4).
package feed

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/mmcdole/gofeed"
)

// Candidate is one discovered article URL, with whatever date the feed or
// list page could recover. Entries without a parseable date are kept —
// per-article date rechecking happens during scraping, not discovery.
type Candidate struct {
	URL         string
	Title       string
	PublishedAt *time.Time
}

// ListPageFetcher fetches the nth list page's raw HTML (1-indexed) for a
// feed's site, and is expected to come from internal/fetch wired through
// internal/throttle. It returns io.EOF-like behavior via ok=false when
// there is no such page.
type ListPageFetcher func(ctx context.Context, page int) (html string, ok bool, err error)

// ListPageParser extracts candidates from one list page's HTML. It is
// site-specific and supplied by the caller (internal/worker), since list
// page markup varies per source beyond generic paginated traversal.
type ListPageParser func(html string) []Candidate

// namespaceDecl strips XML namespace prefix declarations before parsing,
// so prefix handling is irrelevant to gofeed.
var namespaceDecl = regexp.MustCompile(`\sxmlns(:[a-zA-Z0-9]+)?="[^"]*"`)

// Service wraps a reusable gofeed parser.
type Service struct {
	parser *gofeed.Parser
}

// New builds a feed discovery Service.
func New() *Service {
	return &Service{parser: gofeed.NewParser()}
}

// FetchRSS parses rawXML, an already-downloaded feed body, as RSS 2.0 or
// Atom, after stripping namespace declarations from it.
func (s *Service) FetchRSS(ctx context.Context, rawXML string) ([]Candidate, error) {
	cleaned := namespaceDecl.ReplaceAllString(rawXML, "")
	feed, err := s.parser.ParseString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("feed: parsing RSS/Atom: %w", err)
	}

	candidates := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		c := Candidate{URL: item.Link, Title: item.Title}
		if item.PublishedParsed != nil {
			c.PublishedAt = item.PublishedParsed
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// KnownURLClassifier reports the current process_status for a URL already
// present in the article store, or ok=false if the URL is unknown.
type KnownURLClassifier func(ctx context.Context, url string) (status string, ok bool, err error)

// CheckLatest implements the check-latest capability: parse the feed,
// keep entries newer than maxKnownPublishedAt, then drop entries whose
// URL is already PROCESSED, VERIFIED, or otherwise queued in the store.
// If the feed yields nothing, it falls back to the first list page.
func CheckLatest(
	ctx context.Context,
	rawFeedXML string,
	svc *Service,
	maxKnownPublishedAt time.Time,
	classify KnownURLClassifier,
	listPage ListPageFetcher,
	parseListPage ListPageParser,
) ([]Candidate, error) {
	candidates, err := svc.FetchRSS(ctx, rawFeedXML)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 && listPage != nil && parseListPage != nil {
		if html, ok, err := listPage(ctx, 1); err == nil && ok {
			candidates = parseListPage(html)
		}
	}

	fresh := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.PublishedAt != nil && !c.PublishedAt.After(maxKnownPublishedAt) {
			continue
		}
		if classify != nil {
			status, known, err := classify(ctx, c.URL)
			if err != nil {
				return nil, err
			}
			if known && (status == "PROCESSED" || status == "VERIFIED" || status == "SCRAPED" ||
				status == "PENDING" || status == "MANUAL_REVIEW") {
				continue
			}
		}
		fresh = append(fresh, c)
	}

	return fresh, nil
}

// RangeCollect implements bounded date-range collection: fetch RSS first;
// if its oldest entry is newer than start, paginate list pages up to
// maxPages, stopping early when a page's oldest dated entry precedes
// start. Entries without a date are kept as candidates regardless.
func RangeCollect(
	ctx context.Context,
	rawFeedXML string,
	svc *Service,
	start, end time.Time,
	maxPages int,
	listPage ListPageFetcher,
	parseListPage ListPageParser,
) ([]Candidate, error) {
	rssCandidates, err := svc.FetchRSS(ctx, rawFeedXML)
	if err != nil {
		return nil, err
	}

	all := filterByRange(rssCandidates, start, end)

	if oldestNewerThanStart(rssCandidates, start) && listPage != nil && parseListPage != nil {
		for page := 1; page <= maxPages; page++ {
			html, ok, err := listPage(ctx, page)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}

			pageCandidates := parseListPage(html)
			all = append(all, filterByRange(pageCandidates, start, end)...)

			if pageIsBeforeStart(pageCandidates, start) {
				break
			}
		}
	}

	return dedupe(all), nil
}

func filterByRange(candidates []Candidate, start, end time.Time) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.PublishedAt == nil {
			out = append(out, c)
			continue
		}
		if c.PublishedAt.Before(start) || c.PublishedAt.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func oldestNewerThanStart(candidates []Candidate, start time.Time) bool {
	oldest, ok := oldestDated(candidates)
	if !ok {
		return true
	}
	return oldest.After(start)
}

func pageIsBeforeStart(candidates []Candidate, start time.Time) bool {
	oldest, ok := oldestDated(candidates)
	if !ok {
		return false
	}
	return oldest.Before(start)
}

func oldestDated(candidates []Candidate) (time.Time, bool) {
	var dated []time.Time
	for _, c := range candidates {
		if c.PublishedAt != nil {
			dated = append(dated, *c.PublishedAt)
		}
	}
	if len(dated) == 0 {
		return time.Time{}, false
	}
	sort.Slice(dated, func(i, j int) bool { return dated[i].Before(dated[j]) })
	return dated[0], true
}

func dedupe(candidates []Candidate) []Candidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		out = append(out, c)
	}
	return out
}
