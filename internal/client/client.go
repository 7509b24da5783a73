// Package client talks to the music API. Each route has its own rate limit
// gate built from the tier encoded in the API token, and every request waits
// on that gate before it is sent.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"martmusic/internal/cache"
	"martmusic/internal/models"
	"martmusic/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// apiKeyHeader carries the token on requests to the API.
const apiKeyHeader = "API-KEY"

// Route names used in logs and metrics.
const (
	RouteSearch   = "search"
	RouteDownload = "download"
)

// Client is a rate limited music API client. It is safe for concurrent use.
type Client struct {
	baseURL           string
	token             string
	tier              ratelimit.Tier
	httpClient        *http.Client
	clock             ratelimit.Clock
	searchLimiter     ratelimit.Limiter
	downloadLimiter   ratelimit.Limiter
	cache             cache.Cache
	cacheTTL          time.Duration
	userAgent         string
	maxBytesPerSecond int
	logger            *slog.Logger
	tracer            trace.Tracer
}

// New creates a client for token. The token's tier prefix selects the
// quotas; an unrecognized prefix fails with ratelimit.ErrUnknownTier.
func New(token string, opts ...Option) (*Client, error) {
	tier, err := ratelimit.TierFromToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid API token: %w", err)
	}

	c := &Client{
		baseURL:    models.DefaultBaseURL,
		token:      token,
		tier:       tier,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clock:      ratelimit.SystemClock{},
		userAgent:  "martmusic",
		logger:     slog.Default(),
		tracer:     otel.Tracer("martmusic/client"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.searchLimiter == nil {
		if c.searchLimiter, err = ratelimit.NewGateForTier(tier, c.clock); err != nil {
			return nil, err
		}
	}
	if c.downloadLimiter == nil {
		if c.downloadLimiter, err = ratelimit.NewGateForTier(tier, c.clock); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Tier returns the tier encoded in the client's token.
func (c *Client) Tier() ratelimit.Tier {
	return c.tier
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Search returns the songs matching query. Cached results are returned
// without spending quota.
func (c *Client) Search(ctx context.Context, query string) ([]models.Song, error) {
	ctx, span := c.tracer.Start(ctx, "client.Search", trace.WithAttributes(
		attribute.String("search.query", query),
	))
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, fail(span, ErrEmptyQuery)
	}

	// The trimmed query is both the cache key and what is sent
	query = strings.TrimSpace(query)
	key := cache.Key(query)
	if c.cache != nil {
		songs, ok, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("search cache lookup failed", "query", query, "error", err)
		case ok:
			span.SetAttributes(attribute.Bool("cache.hit", true), attribute.Int("search.results", len(songs)))
			c.logger.Debug("search served from cache", "query", query, "results", len(songs))
			return songs, nil
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	if err := c.wait(ctx, c.searchLimiter, RouteSearch); err != nil {
		return nil, fail(span, err)
	}

	endpoint := c.baseURL + "/api/search/" + url.PathEscape(query)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fail(span, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fail(span, newHTTPError(resp, endpoint))
	}

	var envelope models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fail(span, fmt.Errorf("failed to decode search response: %w", err))
	}

	songs, err := envelope.Songs()
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("search.results", len(songs)))

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, songs, c.cacheTTL); err != nil {
			c.logger.Warn("failed to cache search results", "query", query, "error", err)
		}
	}

	return songs, nil
}

// Download fetches the audio of song into memory. The bool reports whether
// the data is opus encoded, which is the case for songs the API hosts.
func (c *Client) Download(ctx context.Context, song *models.Song) (*bytes.Buffer, bool, error) {
	var buf bytes.Buffer
	_, isOpus, err := c.DownloadTo(ctx, song, &buf)
	if err != nil {
		return nil, false, err
	}
	return &buf, isOpus, nil
}

// DownloadTo streams the audio of song into w and returns the number of
// bytes written. The body is throttled when a byte rate is configured.
func (c *Client) DownloadTo(ctx context.Context, song *models.Song, w io.Writer) (int64, bool, error) {
	ctx, span := c.tracer.Start(ctx, "client.Download", trace.WithAttributes(
		attribute.String("song.title", song.Title),
		attribute.String("song.source", song.Source),
		attribute.Bool("song.downloadable", song.Downloadable),
	))
	defer span.End()

	if err := song.Validate(); err != nil {
		return 0, false, fail(span, fmt.Errorf("invalid song: %w", err))
	}

	if err := c.wait(ctx, c.downloadLimiter, RouteDownload); err != nil {
		return 0, false, fail(span, err)
	}

	endpoint := song.DownloadURL(c.baseURL)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return 0, false, fail(span, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false, fail(span, newHTTPError(resp, endpoint))
	}

	body := ratelimit.ThrottledReader(ctx, resp.Body, c.maxBytesPerSecond)
	n, err := io.Copy(w, body)
	span.SetAttributes(attribute.Int64("download.bytes", n))
	if err != nil {
		return n, false, fail(span, fmt.Errorf("failed to read download body: %w", err))
	}

	return n, song.Downloadable, nil
}

// wait blocks until the limiter admits the call or ctx is done. A done
// context is reported before any attempt is counted.
func (c *Client) wait(ctx context.Context, limiter ratelimit.Limiter, route string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ready := limiter.WaitAsync()
	select {
	case <-ready:
		return nil
	default:
	}

	start := time.Now()
	c.logger.Debug("waiting for rate limit", "route", route)
	select {
	case <-ready:
		c.logger.Debug("rate limit wait finished", "route", route, "waited", time.Since(start))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s rate limit wait: %w", route, ctx.Err())
	}
}

// get sends a GET request. The API key is only attached to requests for the
// API itself, never to third-party download hosts.
func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.isAPIURL(endpoint) {
		req.Header.Set(apiKeyHeader, c.token)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) isAPIURL(endpoint string) bool {
	return strings.HasPrefix(endpoint, c.baseURL+"/")
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
