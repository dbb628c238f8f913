// Package thumbnail implements the Thumbnail Service: a single
// pluggable capability — given a source image URL and an article id,
// produce a stable public URL or fail. The core module never reasons
// about image formats, resizing, or storage providers beyond this one
// interface; everything else is the concrete implementation's concern.
package thumbnail

import (
	"context"
	"fmt"
	"net/http"
	"path"

	"github.com/hallyuwire/corehub/server/internal/fetch"
)

// Service is the pluggable capability every caller depends on.
type Service interface {
	// Store fetches sourceURL and uploads it under a key derived from
	// articleID, returning a stable public URL. Implementations may
	// return an error for any reason (unreachable source, unsupported
	// content type, storage failure) — callers treat thumbnail failure
	// as non-fatal to the surrounding operation.
	Store(ctx context.Context, articleID int64, sourceURL string) (string, error)
}

// HTTPGetter is the subset of *fetch.Fetcher (C2) used to retrieve the
// source image, reusing the same throttle/backoff session rather than
// opening a second HTTP client.
type HTTPGetter interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Response, error)
}

const maxImageBytes = 10 << 20 // 10 MiB, generous for a news thumbnail

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// keyFor derives a storage key from the article id and the source
// URL's content type, so repeated uploads for the same article
// overwrite a stable key rather than accumulating garbage.
func keyFor(articleID int64, contentType string) string {
	ext, ok := allowedContentTypes[contentType]
	if !ok {
		ext = path.Ext(contentType)
		if ext == "" {
			ext = ".jpg"
		}
	}
	return fmt.Sprintf("thumbnails/%d%s", articleID, ext)
}

// fetchBody is a small helper shared by concrete implementations: fetch
// the source URL, cap its size, and return the body plus a sniffed
// content type.
func fetchBody(ctx context.Context, getter HTTPGetter, sourceURL string) ([]byte, string, error) {
	resp, err := getter.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, "", fmt.Errorf("thumbnail: fetching %q: %w", sourceURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("thumbnail: source %q returned status %d", sourceURL, resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		return nil, "", fmt.Errorf("thumbnail: source %q returned an empty body", sourceURL)
	}
	if len(resp.Body) > maxImageBytes {
		return nil, "", fmt.Errorf("thumbnail: source %q exceeds max size of %d bytes", sourceURL, maxImageBytes)
	}
	return resp.Body, http.DetectContentType(resp.Body), nil
}
