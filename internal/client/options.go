package client

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"martmusic/internal/cache"
	"martmusic/internal/ratelimit"
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API root. Defaults to models.DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock sets the clock of the gates created by New.
func WithClock(clock ratelimit.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLimiters replaces the per-route gates, for example with instrumented
// ones. A nil limiter keeps the default gate for that route.
func WithLimiters(search, download ratelimit.Limiter) Option {
	return func(c *Client) {
		c.searchLimiter = search
		c.downloadLimiter = download
	}
}

// WithCache enables search result caching. A ttl of zero keeps entries
// until the cache evicts them.
func WithCache(sc cache.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = sc
		c.cacheTTL = ttl
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMaxBytesPerSecond throttles download bodies. Zero disables throttling.
func WithMaxBytesPerSecond(n int) Option {
	return func(c *Client) {
		c.maxBytesPerSecond = n
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}
