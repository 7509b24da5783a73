package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"martmusic/internal/cache"
	"martmusic/internal/models"
	"martmusic/internal/ratelimit"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "T1testtoken"

var testEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// fakeAPI serves the music API routes and records what it received.
type fakeAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	queries  []string
	apiKeys  []string
	agents   []string
	searches atomic.Int32

	searchStatus int
	searchBody   string
	audio        []byte
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		searchStatus: http.StatusOK,
		audio:        []byte("OggS-opus-audio-bytes"),
	}

	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/api/search/{query}", f.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/api/download/{id}", f.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/external/{id}", f.handleDownload).Methods(http.MethodGet)

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("API-KEY"))
	f.agents = append(f.agents, r.Header.Get("User-Agent"))
}

func (f *fakeAPI) handleSearch(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	f.searches.Add(1)
	query, err := url.PathUnescape(mux.Vars(r)["query"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.queries = append(f.queries, query)
	status, body := f.searchStatus, f.searchBody
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != "" {
		_, _ = io.WriteString(w, body)
		return
	}
	_ = json.NewEncoder(w).Encode(models.SearchResponse{
		Success: true,
		Result: []models.Song{
			{Title: "Result for " + query, Artist: "Artist", Path: "/api/download/1", Downloadable: true, Source: "youtube"},
		},
	})
}

func (f *fakeAPI) handleDownload(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	if mux.Vars(r)["id"] == "missing" {
		http.Error(w, "no such song", http.StatusNotFound)
		return
	}
	_, _ = w.Write(f.audio)
}

func (f *fakeAPI) receivedQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func (f *fakeAPI) lastUserAgent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[len(f.agents)-1]
}

func (f *fakeAPI) lastAPIKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apiKeys[len(f.apiKeys)-1]
}

func newTestClient(t *testing.T, f *fakeAPI, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithBaseURL(f.server.URL),
		WithClock(ratelimit.NewManualClock(testEpoch)),
	}
	c, err := New(testToken, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	c, err := New("T3abc")
	require.NoError(t, err)
	assert.Equal(t, ratelimit.TierThree, c.Tier())
	assert.Equal(t, models.DefaultBaseURL, c.BaseURL())
	assert.Equal(t, ratelimit.Limits{PerSecond: 10, PerMinute: 300}, c.searchLimiter.Limits())
	assert.Equal(t, ratelimit.Limits{PerSecond: 10, PerMinute: 300}, c.downloadLimiter.Limits())
	assert.NotSame(t, c.searchLimiter, c.downloadLimiter, "routes must not share a gate")
}

func TestNew_UnknownTier(t *testing.T) {
	for _, token := range []string{"", "T", "X9abcdef", "t1lowercase"} {
		t.Run(token, func(t *testing.T) {
			c, err := New(token)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, ratelimit.ErrUnknownTier)
		})
	}
}

func TestWithBaseURLTrimsSlash(t *testing.T) {
	c, err := New(testToken, WithBaseURL("https://music.example.com/"))
	require.NoError(t, err)
	assert.Equal(t, "https://music.example.com", c.BaseURL())
}

func TestSearch(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f, WithUserAgent("martmusic-test/1.0"))

	songs, err := c.Search(context.Background(), "daft punk")
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, "Result for daft punk", songs[0].Title)
	assert.True(t, songs[0].Downloadable)

	assert.Equal(t, []string{"daft punk"}, f.receivedQueries())
	assert.Equal(t, testToken, f.lastAPIKey())
	assert.Equal(t, "martmusic-test/1.0", f.lastUserAgent())
}

func TestSearch_EscapesQuery(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)

	_, err := c.Search(context.Background(), "AC/DC & friends?")
	require.NoError(t, err)
	assert.Equal(t, []string{"AC/DC & friends?"}, f.receivedQueries())
}

func TestSearch_EmptyQuery(t *testing.T) {
	f := newFakeAPI(t)
	gate := newCountingLimiter()
	c := newTestClient(t, f, WithLimiters(gate, nil))

	_, err := c.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Zero(t, gate.checks.Load(), "blank queries must not spend quota")
	assert.Zero(t, f.searches.Load())
}

func TestSearch_APIFailure(t *testing.T) {
	f := newFakeAPI(t)
	f.searchBody = `{"success": false, "error": "invalid API key"}`
	c := newTestClient(t, f)

	songs, err := c.Search(context.Background(), "x")
	assert.Nil(t, songs)

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "invalid API key", apiErr.Message)
}

func TestSearch_HTTPError(t *testing.T) {
	f := newFakeAPI(t)
	f.searchStatus = http.StatusTooManyRequests
	f.searchBody = "slow down"
	c := newTestClient(t, f)

	_, err := c.Search(context.Background(), "x")

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Equal(t, "slow down", httpErr.Body)
	assert.True(t, httpErr.Temporary())
	assert.Contains(t, err.Error(), "HTTP 429")
}

func TestSearch_InvalidJSON(t *testing.T) {
	f := newFakeAPI(t)
	f.searchBody = `{"success": tru`
	c := newTestClient(t, f)

	_, err := c.Search(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode search response")

	var syntaxErr *json.SyntaxError
	assert.True(t, errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF))
}

func TestSearch_CacheHitSkipsGate(t *testing.T) {
	f := newFakeAPI(t)
	gate := newCountingLimiter()
	mc := cache.NewMemoryCache(10, 0)
	defer mc.Close()
	c := newTestClient(t, f, WithLimiters(gate, nil), WithCache(mc, time.Minute))

	first, err := c.Search(context.Background(), "Daft Punk")
	require.NoError(t, err)
	second, err := c.Search(context.Background(), "  Daft Punk ")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), f.searches.Load())
	assert.Equal(t, int32(1), gate.checks.Load())
}

func TestSearch_CacheKeyMatchesSentQuery(t *testing.T) {
	f := newFakeAPI(t)
	mc := cache.NewMemoryCache(10, 0)
	defer mc.Close()
	c := newTestClient(t, f, WithLimiters(newCountingLimiter(), nil), WithCache(mc, time.Minute))

	_, err := c.Search(context.Background(), "  ABBA ")
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "abba")
	require.NoError(t, err)

	// Case is significant to the API, so each spelling is fetched once
	assert.Equal(t, []string{"ABBA", "abba"}, f.receivedQueries())
	assert.Equal(t, 2, mc.Len())

	_, ok, err := mc.Get(context.Background(), "ABBA")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSearch_FailuresAreNotCached(t *testing.T) {
	f := newFakeAPI(t)
	f.searchBody = `{"success": false, "error": "boom"}`
	mc := cache.NewMemoryCache(10, 0)
	defer mc.Close()
	c := newTestClient(t, f, WithLimiters(newCountingLimiter(), nil), WithCache(mc, time.Minute))

	_, err := c.Search(context.Background(), "x")
	require.Error(t, err)
	assert.Zero(t, mc.Len())
}

func TestSearch_WaitsForGate(t *testing.T) {
	f := newFakeAPI(t)
	clock := ratelimit.NewManualClock(testEpoch)
	c, err := New(testToken, WithBaseURL(f.server.URL), WithClock(clock))
	require.NoError(t, err)

	// T1 admits one search per second
	_, err = c.Search(context.Background(), "first")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Search(context.Background(), "second")
		done <- err
	}()

	require.Eventually(t, func() bool { return clock.Pending() == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("search was sent before the gate admitted it")
	default:
	}
	assert.Equal(t, int32(1), f.searches.Load())

	clock.Advance(time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("search did not resume after the window reset")
	}
	assert.Equal(t, int32(2), f.searches.Load())
}

func TestSearch_ContextCancelledWhileWaiting(t *testing.T) {
	f := newFakeAPI(t)
	clock := ratelimit.NewManualClock(testEpoch)
	c, err := New(testToken, WithBaseURL(f.server.URL), WithClock(clock))
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Search(ctx, "second")
		done <- err
	}()

	require.Eventually(t, func() bool { return clock.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not interrupt the wait")
	}
	assert.Equal(t, int32(1), f.searches.Load())
}

func TestSearch_CancelledContextSpendsNoQuota(t *testing.T) {
	f := newFakeAPI(t)
	gate := newCountingLimiter()
	c := newTestClient(t, f, WithLimiters(gate, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Search(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, gate.checks.Load())
}

func TestDownload_Hosted(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	song := &models.Song{Title: "Song", Path: "/api/download/1", Downloadable: true, Source: "youtube"}

	buf, isOpus, err := c.Download(context.Background(), song)
	require.NoError(t, err)
	assert.True(t, isOpus)
	assert.Equal(t, f.audio, buf.Bytes())
	assert.Equal(t, testToken, f.lastAPIKey())
}

func TestDownload_ExternalURLGetsNoAPIKey(t *testing.T) {
	f := newFakeAPI(t)
	// The fake serves both roles, so point the client at a different API root.
	c, err := New(testToken, WithBaseURL("http://api.invalid"), WithClock(ratelimit.NewManualClock(testEpoch)))
	require.NoError(t, err)
	song := &models.Song{Title: "Song", URL: f.server.URL + "/external/7", Downloadable: false, Source: "soundcloud"}

	buf, isOpus, err := c.Download(context.Background(), song)
	require.NoError(t, err)
	assert.False(t, isOpus)
	assert.Equal(t, f.audio, buf.Bytes())
	assert.Empty(t, f.lastAPIKey())
}

func TestDownload_HTTPError(t *testing.T) {
	f := newFakeAPI(t)
	c := newTestClient(t, f)
	song := &models.Song{Title: "Song", Path: "/api/download/missing", Downloadable: true}

	buf, _, err := c.Download(context.Background(), song)
	assert.Nil(t, buf)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "no such song", httpErr.Body)
	assert.False(t, httpErr.Temporary())
}

func TestDownload_InvalidSong(t *testing.T) {
	f := newFakeAPI(t)
	gate := newCountingLimiter()
	c := newTestClient(t, f, WithLimiters(nil, gate))

	_, _, err := c.Download(context.Background(), &models.Song{Title: "no location"})
	require.Error(t, err)
	assert.Zero(t, gate.checks.Load())
}

func TestDownloadTo_Throttled(t *testing.T) {
	f := newFakeAPI(t)
	f.audio = []byte(strings.Repeat("a", 2000))
	c := newTestClient(t, f, WithMaxBytesPerSecond(1000))
	song := &models.Song{Title: "Song", Path: "/api/download/1", Downloadable: true}

	var sb strings.Builder
	start := time.Now()
	n, isOpus, err := c.DownloadTo(context.Background(), song, &sb)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, isOpus)
	assert.Equal(t, int64(2000), n)
	assert.Equal(t, 2000, sb.Len())
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
}

func TestRoutesHaveIndependentGates(t *testing.T) {
	f := newFakeAPI(t)
	search := newCountingLimiter()
	download := newCountingLimiter()
	c := newTestClient(t, f, WithLimiters(search, download))

	_, err := c.Search(context.Background(), "x")
	require.NoError(t, err)
	_, _, err = c.Download(context.Background(), &models.Song{Title: "s", Path: "/api/download/1", Downloadable: true})
	require.NoError(t, err)
	_, _, err = c.Download(context.Background(), &models.Song{Title: "s", Path: "/api/download/2", Downloadable: true})
	require.NoError(t, err)

	assert.Equal(t, int32(1), search.checks.Load())
	assert.Equal(t, int32(2), download.checks.Load())
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{StatusCode: 500, URL: "https://x/y"}
	assert.Equal(t, "GET https://x/y: HTTP 500 Internal Server Error", err.Error())

	err.Body = "oops"
	assert.Equal(t, fmt.Sprintf("GET https://x/y: HTTP 500 %s: oops", http.StatusText(500)), err.Error())
}

// countingLimiter admits everything and counts checks.
type countingLimiter struct {
	checks atomic.Int32
}

func newCountingLimiter() *countingLimiter {
	return &countingLimiter{}
}

func (l *countingLimiter) CheckAdmission() ratelimit.Verdict {
	l.checks.Add(1)
	return ratelimit.Verdict{}
}

func (l *countingLimiter) Wait() {
	l.CheckAdmission()
}

func (l *countingLimiter) WaitAsync() <-chan struct{} {
	l.CheckAdmission()
	done := make(chan struct{})
	close(done)
	return done
}

func (l *countingLimiter) Limits() ratelimit.Limits {
	return ratelimit.Limits{PerSecond: 1000, PerMinute: 1000}
}
