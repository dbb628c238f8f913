// Package parser extracts structured fields from a fetched HTML document:
// title, body, author, published timestamp, and representative image,
// each via a layered fallback chain. This is the Article Parser (C3).
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrParse is returned when the essential field (title) cannot be recovered.
var ErrParse = fmt.Errorf("parser: could not recover article title")

// Image is one inline image discovered during body cleaning.
type Image struct {
	URL string
	Alt string
}

// Parsed is the result of a successful Parse call.
type Parsed struct {
	Title       string
	Body        string
	Author      string
	PublishedAt *time.Time
	ImageURL    string // representative image: OG/Twitter meta only, never inline
	Images      []Image
}

// siteSelectors is the ordered, site-specific CSS selector list used as
// the third fallback tier, keyed by hostname. A catch-all "" entry is
// consulted for hosts with no dedicated rule.
type siteSelectors struct {
	Title  []string
	Body   []string
	Author []string
	Date   []string
}

var selectorsByHost = map[string]siteSelectors{
	"tenasia.hankyung.com": {
		Title:  []string{"h1.article-tit", "h1.headline", "h1"},
		Body:   []string{"#articletxt", ".article-body", ".article-view-content"},
		Author: []string{".author", ".byline", ".reporter"},
		Date:   []string{"span.date", "time.date", ".article-date"},
	},
	"": {
		Title:  []string{"h1", "article h1", ".title"},
		Body:   []string{"article", ".content", ".article-content", "#content"},
		Author: []string{".author", ".byline"},
		Date:   []string{"time[datetime]", ".date", ".published"},
	},
}

// mediaTags are stripped from the body after images/meta have been
// collected; noiseTags are stripped for being structural chrome rather
// than content.
var mediaTags = []string{"img", "figure", "picture", "video", "audio", "source", "iframe", "embed", "canvas", "svg"}
var noiseTags = []string{"script", "style", "nav", "header", "footer", "aside", "form", "button", "input", "noscript", "ins"}

// boilerplatePatterns strip common Korean news boilerplate: copyright
// notices, redistribution bans, and trailing "[기자명 기자]" bylines.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)copyright\s*\(c\)?.*?all rights reserved\.?`),
	regexp.MustCompile(`무단\s*전재\s*(및|밎)?\s*재배포\s*금지`),
	regexp.MustCompile(`\[[가-힣]{2,4}\s*기자\]\s*$`),
}

var koreanDatePattern = regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일(?:\s*(\d{1,2}):(\d{2}))?`)

// dateLayouts is the fixed ordered list of accepted formats, tried in
// order before the Korean-form regex rewrite and the final RFC1123 parse.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006/01/02 15:04:05",
	"2006-01-02",
	"2006.01.02",
	"2006/01/02",
}

// jsonLDArticle is the subset of schema.org Article/NewsArticle fields
// this parser extracts.
type jsonLDArticle struct {
	Type          json.RawMessage `json:"@type"`
	Headline      string          `json:"headline"`
	Name          string          `json:"name"`
	ArticleBody   string          `json:"articleBody"`
	DatePublished string          `json:"datePublished"`
	DateCreated   string          `json:"dateCreated"`
	Author        json.RawMessage `json:"author"`
}

// Parse extracts fields from rawHTML fetched from sourceURL, trying
// JSON-LD, then OpenGraph/Twitter Card meta, then site-specific CSS
// selectors, then a generic fallback — each tier only fills fields the
// previous tier left empty. Returns ErrParse if no tier recovers a title.
func Parse(sourceURL, rawHTML string) (*Parsed, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parser: %w", err)
	}

	host := hostOf(sourceURL)
	result := &Parsed{}

	applyJSONLD(doc, result)
	applyMeta(doc, result)
	images := collectImages(doc)
	applySelectors(doc, host, result)
	applyGeneric(doc, result)

	result.Images = images
	result.Body = cleanBody(result.Body)

	if strings.TrimSpace(result.Title) == "" {
		return nil, ErrParse
	}
	return result, nil
}

func applyJSONLD(doc *goquery.Document, result *Parsed) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw jsonLDArticle
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		if !isArticleType(raw.Type) {
			return true
		}
		if result.Title == "" {
			if raw.Headline != "" {
				result.Title = raw.Headline
			} else if raw.Name != "" {
				result.Title = raw.Name
			}
		}
		if result.Body == "" {
			result.Body = raw.ArticleBody
		}
		if result.Author == "" {
			result.Author = extractAuthorName(raw.Author)
		}
		if result.PublishedAt == nil {
			if t := parseDate(raw.DatePublished); t != nil {
				result.PublishedAt = t
			} else if t := parseDate(raw.DateCreated); t != nil {
				result.PublishedAt = t
			}
		}
		return true
	})
}

func isArticleType(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return matchesArticleType(single)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, v := range list {
			if matchesArticleType(v) {
				return true
			}
		}
	}
	return false
}

func matchesArticleType(v string) bool {
	v = strings.ToLower(v)
	return v == "article" || v == "newsarticle"
}

func extractAuthorName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Name != "" {
		return obj.Name
	}
	var list []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		names := make([]string, 0, len(list))
		for _, a := range list {
			if a.Name != "" {
				names = append(names, a.Name)
			}
		}
		return strings.Join(names, ", ")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	return ""
}

func applyMeta(doc *goquery.Document, result *Parsed) {
	meta := func(selector string) string {
		v, _ := doc.Find(selector).Attr("content")
		return v
	}

	if result.Title == "" {
		if v := meta(`meta[property="og:title"]`); v != "" {
			result.Title = v
		}
	}
	if result.Body == "" {
		if v := meta(`meta[property="og:description"]`); v != "" {
			result.Body = v
		}
	}
	if result.ImageURL == "" {
		if v := meta(`meta[property="og:image"]`); v != "" {
			result.ImageURL = v
		} else if v := meta(`meta[name="twitter:image"]`); v != "" {
			result.ImageURL = v
		}
	}
	if result.Author == "" {
		if v := meta(`meta[name="author"]`); v != "" {
			result.Author = v
		}
	}
	if result.PublishedAt == nil {
		if v := meta(`meta[property="article:published_time"]`); v != "" {
			result.PublishedAt = parseDate(v)
		}
	}
}

func applySelectors(doc *goquery.Document, host string, result *Parsed) {
	sel, ok := selectorsByHost[host]
	if !ok {
		sel = selectorsByHost[""]
	}
	fallback := selectorsByHost[""]

	if result.Title == "" {
		result.Title = firstText(doc, sel.Title, fallback.Title)
	}
	if result.Body == "" {
		result.Body = firstHTML(doc, sel.Body, fallback.Body)
	}
	if result.Author == "" {
		result.Author = firstText(doc, sel.Author, fallback.Author)
	}
	if result.PublishedAt == nil {
		result.PublishedAt = firstDate(doc, sel.Date, fallback.Date)
	}
}

func applyGeneric(doc *goquery.Document, result *Parsed) {
	if result.Title == "" {
		titleTag := doc.Find("title").First().Text()
		parts := regexp.MustCompile(`[|·—]`).Split(titleTag, 2)
		result.Title = strings.TrimSpace(parts[0])
	}
	if result.Body == "" {
		if html, err := doc.Find("article").First().Html(); err == nil {
			result.Body = html
		}
	}
	if result.PublishedAt == nil {
		if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			result.PublishedAt = parseDate(dt)
		}
	}
}

func firstText(doc *goquery.Document, selectors []string, fallback []string) string {
	for _, s := range append(selectors, fallback...) {
		if t := strings.TrimSpace(doc.Find(s).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func firstHTML(doc *goquery.Document, selectors []string, fallback []string) string {
	for _, s := range append(selectors, fallback...) {
		sel := doc.Find(s).First()
		if sel.Length() == 0 {
			continue
		}
		if html, err := sel.Html(); err == nil && strings.TrimSpace(html) != "" {
			return html
		}
	}
	return ""
}

func firstDate(doc *goquery.Document, selectors []string, fallback []string) *time.Time {
	for _, s := range append(selectors, fallback...) {
		sel := doc.Find(s).First()
		if sel.Length() == 0 {
			continue
		}
		if dt, ok := sel.Attr("datetime"); ok {
			if t := parseDate(dt); t != nil {
				return t
			}
		}
		if t := parseDate(strings.TrimSpace(sel.Text())); t != nil {
			return t
		}
	}
	return nil
}

// collectImages enumerates inline (url, alt) pairs before the body is
// cleaned of media tags, preferring src/data-src/data-lazy-src/
// data-original in that order and deduplicating by URL. These never
// become the representative image — that comes only from OG/Twitter meta.
func collectImages(doc *goquery.Document) []Image {
	seen := make(map[string]bool)
	var images []Image

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		var url string
		for _, attr := range []string{"src", "data-src", "data-lazy-src", "data-original"} {
			if v, ok := s.Attr(attr); ok && v != "" {
				url = v
				break
			}
		}
		if url == "" || !strings.HasPrefix(url, "http") {
			return
		}
		if seen[url] {
			return
		}
		seen[url] = true
		alt, _ := s.Attr("alt")
		images = append(images, Image{URL: url, Alt: alt})
	})

	return images
}

// cleanBody strips media/noise tags from raw HTML (by re-parsing the
// fragment wrapped in a <div> with goquery, since it is no longer a full
// document in all fallback tiers), keeps the remaining text, collapses
// whitespace, and removes Korean news boilerplate.
func cleanBody(body string) string {
	if body == "" {
		return ""
	}

	fragment, err := goquery.NewDocumentFromReader(strings.NewReader("<div>" + body + "</div>"))
	if err != nil {
		return collapseWhitespace(stripBoilerplate(body))
	}

	for _, tag := range append(append([]string{}, mediaTags...), noiseTags...) {
		fragment.Find(tag).Remove()
	}

	text := fragment.Find("div").First().Text()
	return collapseWhitespace(stripBoilerplate(text))
}

func stripBoilerplate(s string) string {
	for _, re := range boilerplatePatterns {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// parseDate tries the fixed ordered layout list, then a Korean-form
// "YYYY년 MM월 DD일[ HH:MM]" regex pre-substitution, then a final
// RFC1123 parse.
func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}

	if m := koreanDatePattern.FindStringSubmatch(raw); m != nil {
		hour, min := "00", "00"
		if m[4] != "" {
			hour, min = m[4], m[5]
		}
		rewritten := fmt.Sprintf("%s-%02s-%02s %02s:%02s:00", m[1], pad2(m[2]), pad2(m[3]), pad2(hour), pad2(min))
		if t, err := time.Parse("2006-01-02 15:04:05", rewritten); err == nil {
			return &t
		}
	}

	if t, err := time.Parse(time.RFC1123, raw); err == nil {
		return &t
	}

	return nil
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func hostOf(rawURL string) string {
	re := regexp.MustCompile(`^https?://([^/]+)`)
	m := re.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(m[1], "www."))
}
