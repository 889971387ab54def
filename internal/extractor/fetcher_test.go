package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const article = `<!doctype html>
<html lang="en">
<head>
  <title> Reading in Go </title>
  <meta name="description" content="A short article">
  <meta property="og:site_name" content="Example Blog">
  <meta name="author" content="J. Doe">
  <style>body { color: red }</style>
  <script>var tracking = true;</script>
</head>
<body>
  <h1>Reading   in Go</h1>
  <p>First paragraph.</p>
  <p>Second <b>bold</b> paragraph.</p>
  <img src="/img/a.png" alt="diagram">
  <img src="/img/a.png">
  <img src="https://cdn.example.com/b.jpg">
  <noscript><img src="/pixel.gif"></noscript>
</body>
</html>`

func newTestFetcher(t *testing.T, mutate func(*FetcherConfig)) *HTTPFetcher {
	t.Helper()
	cfg := FetcherConfig{
		MinTimeout:    10 * time.Millisecond,
		FailThreshold: 2,
		OpenFor:       time.Minute,
		Clock:         clock.NewFake(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewHTTPFetcher(cfg)
}

func TestExtractHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "reader-gateway/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(article))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(t, nil)
	res, err := f.Extract(context.Background(), srv.URL+"/post", Options{IncludeImages: true, IncludeMetadata: true})
	require.NoError(t, err)

	assert.Equal(t, "Reading in Go", res.Title)
	assert.Equal(t, "Reading in Go\nFirst paragraph.\nSecond bold paragraph.", res.Content)
	assert.Equal(t, int64(len(article)), res.SizeBytes)
	assert.Equal(t, "text/html", res.ContentType)
	assert.False(t, res.IsPDF)

	require.NotNil(t, res.Metadata)
	assert.Equal(t, "A short article", res.Metadata.Description)
	assert.Equal(t, "Example Blog", res.Metadata.SiteName)
	assert.Equal(t, "J. Doe", res.Metadata.Author)
	assert.Equal(t, "en", res.Metadata.Lang)
	assert.Equal(t, "Reading in Go", res.Metadata.Title)

	require.Len(t, res.Images, 2)
	assert.Equal(t, srv.URL+"/img/a.png", res.Images[0].URL)
	assert.Equal(t, "diagram", res.Images[0].Alt)
	assert.Equal(t, "https://cdn.example.com/b.jpg", res.Images[1].URL)
}

func TestExtractOmitsOptionalParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(article))
	}))
	t.Cleanup(srv.Close)

	res, err := newTestFetcher(t, nil).Extract(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Metadata)
	assert.Empty(t, res.Images)
	assert.NotEmpty(t, res.Content)
}

func TestExtractDetectsPDF(t *testing.T) {
	pdf := []byte("%PDF-1.7 fake body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdf)
	}))
	t.Cleanup(srv.Close)

	res, err := newTestFetcher(t, nil).Extract(context.Background(), srv.URL+"/doc.pdf", Options{})
	require.NoError(t, err)
	assert.True(t, res.IsPDF)
	assert.Equal(t, int64(len(pdf)), res.SizeBytes)
	assert.Empty(t, res.Content)
}

func TestExtractUpstreamErrorTripsBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(t, nil)
	for i := 0; i < 2; i++ {
		_, err := f.Extract(context.Background(), srv.URL, Options{})
		assert.ErrorIs(t, err, ErrFetchFailed)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	_, err := f.Extract(context.Background(), srv.URL, Options{})
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits the upstream")
}

func TestExtractTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	f := newTestFetcher(t, nil)
	_, err := f.Extract(context.Background(), srv.URL, Options{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, ErrFetchTimeout)
	assert.NotErrorIs(t, err, ErrFetchFailed)
}

func TestCallerCancellationDoesNotTripBreaker(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	f := newTestFetcher(t, func(c *FetcherConfig) { c.FailThreshold = 1 })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := f.Extract(ctx, srv.URL, Options{Timeout: 5 * time.Second})
	assert.ErrorIs(t, err, ErrFetchTimeout)

	host := strings.TrimPrefix(srv.URL, "http://")
	assert.Equal(t, "closed", f.breaker(host).State())
}

func TestExtractRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(t, func(c *FetcherConfig) { c.MaxBodyBytes = 1024 })
	_, err := f.Extract(context.Background(), srv.URL, Options{})
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestValidateURL(t *testing.T) {
	for _, bad := range []string{"", "ftp://example.com/x", "example.com/page", "http://", "://nope"} {
		_, err := ValidateURL(bad)
		assert.ErrorIs(t, err, ErrInvalidURL, bad)
	}
	u, err := ValidateURL(" https://example.com/a?b=c ")
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.Host)
}

func TestClampTimeout(t *testing.T) {
	f := NewHTTPFetcher(FetcherConfig{})
	assert.Equal(t, 5*time.Second, f.ClampTimeout(0))
	assert.Equal(t, time.Second, f.ClampTimeout(10*time.Millisecond))
	assert.Equal(t, 30*time.Second, f.ClampTimeout(time.Minute))
	assert.Equal(t, 7*time.Second, f.ClampTimeout(7*time.Second))
}
