// Package fetch implements a polite HTTP GET with retries, exponential
// backoff, 403/429 semantics, and a human-jitter delay layered on top of
// the domain throttle. This is the HTTP Fetcher (C2).
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/throttle"
)

// ErrForbidden is returned when a host responds 403. This
// is fatal to the current batch — IP/UA blocks do not resolve on retry.
var ErrForbidden = fmt.Errorf("fetch: forbidden (403)")

// ErrRateLimit is returned when 429 persists beyond the retry budget.
var ErrRateLimit = fmt.Errorf("fetch: rate limited (429)")

// ErrScraper wraps generic HTTP/network exhaustion after all retries.
var ErrScraper = fmt.Errorf("fetch: exhausted retries")

const (
	defaultMaxRetries = 3
	defaultTimeout    = 15 * time.Second
	defaultJitterMin  = 2 * time.Second
	defaultJitterMax  = 5 * time.Second
	defaultUserAgent  = "Mozilla/5.0 (compatible; CoreHubBot/1.0; +https://github.com/hallyuwire/corehub)"
)

// Response is the successful result of a Fetch call.
type Response struct {
	StatusCode int
	Body       []byte
	FinalURL   string
}

// Fetcher performs politely-paced HTTP GETs. Every fetch routes through
// the supplied Throttle before the request and again sleeps an
// independent human-jitter delay — two-layer throttling is intentional:
// the Throttle enforces hard per-host invariants, the jitter makes
// request cadence irregular to a casual observer.
type Fetcher struct {
	client      *http.Client
	throttle    *throttle.Throttle
	logger      *zap.Logger
	maxRetries  int
	jitterMin   time.Duration
	jitterMax   time.Duration
	userAgent   string
	randSource  func() float64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxRetries overrides the default retry budget.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) { f.maxRetries = n }
}

// WithJitter overrides the human-jitter delay range.
func WithJitter(min, max time.Duration) Option {
	return func(f *Fetcher) { f.jitterMin, f.jitterMax = min, max }
}

// New builds a Fetcher. th may be shared across many Fetchers — it is
// safe for concurrent use.
func New(th *throttle.Throttle, logger *zap.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:     &http.Client{Timeout: defaultTimeout},
		throttle:   th,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		jitterMin:  defaultJitterMin,
		jitterMax:  defaultJitterMax,
		userAgent:  defaultUserAgent,
		randSource: rand.Float64,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs the fetch algorithm: backoff on attempts
// > 0, a human-jitter sleep, a throttled GET, and status-specific
// handling. 403 aborts immediately with ErrForbidden (no retries). 429
// honors Retry-After plus jitter and retries; exhausting retries on 429
// yields ErrRateLimit. 5xx and network errors are retriable; exhausting
// them yields ErrScraper.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 2 * time.Second
	boff.Multiplier = 2
	boff.RandomizationFactor = 0.5

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, boff.NextBackOff()); err != nil {
				return nil, err
			}
		}

		if err := sleep(ctx, f.jitter()); err != nil {
			return nil, err
		}

		if err := f.throttle.Wait(ctx, url); err != nil {
			return nil, err
		}

		resp, retryAfter, err := f.attempt(ctx, url)
		if err != nil {
			lastErr = err
			f.logger.Debug("fetch attempt failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		switch {
		case resp.StatusCode == http.StatusForbidden:
			f.logger.Warn("fetch forbidden, aborting without retry", zap.String("url", url))
			return nil, ErrForbidden
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter
			if wait <= 0 {
				wait = time.Second
			}
			wait += time.Duration(f.randSource()*4+1) * time.Second
			lastErr = ErrRateLimit
			f.logger.Debug("fetch rate limited, backing off", zap.String("url", url), zap.Duration("wait", wait))
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%w: status %d", ErrScraper, resp.StatusCode)
			continue
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		default:
			return resp, nil
		}
	}

	if lastErr == ErrRateLimit {
		return nil, ErrRateLimit
	}
	if lastErr == nil {
		lastErr = ErrScraper
	}
	return nil, fmt.Errorf("%w: %v", ErrScraper, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, url string) (*Response, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")

	httpResp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, 0, err
	}

	var retryAfter time.Duration
	if ra := httpResp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		FinalURL:   httpResp.Request.URL.String(),
	}, retryAfter, nil
}

func (f *Fetcher) jitter() time.Duration {
	span := f.jitterMax - f.jitterMin
	if span <= 0 {
		return f.jitterMin
	}
	return f.jitterMin + time.Duration(f.randSource()*float64(span))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
