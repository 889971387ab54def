package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/clock"
	"go.uber.org/zap"
)

type FetcherConfig struct {
	UserAgent      string
	DefaultTimeout time.Duration // default 5s
	MinTimeout     time.Duration // default 1s
	MaxTimeout     time.Duration // default 30s
	MaxBodyBytes   int64         // default 10MiB
	FailThreshold  int
	OpenFor        time.Duration
	Client         *http.Client
	Clock          clock.Clock
	Logger         *zap.Logger
}

// HTTPFetcher fetches pages over HTTP with one circuit breaker per host.
type HTTPFetcher struct {
	cfg    FetcherConfig
	client *http.Client
	clock  clock.Clock
	log    *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

var _ Extractor = (*HTTPFetcher)(nil)

func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Second
	}
	if cfg.MinTimeout <= 0 {
		cfg.MinTimeout = time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "reader-gateway/1.0"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		// per-request deadlines come from the context
		client = &http.Client{}
	}
	return &HTTPFetcher{
		cfg:      cfg,
		client:   client,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		breakers: make(map[string]*Breaker),
	}
}

// ClampTimeout bounds a caller-supplied timeout to [MinTimeout, MaxTimeout];
// zero selects DefaultTimeout.
func (f *HTTPFetcher) ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return f.cfg.DefaultTimeout
	case d < f.cfg.MinTimeout:
		return f.cfg.MinTimeout
	case d > f.cfg.MaxTimeout:
		return f.cfg.MaxTimeout
	default:
		return d
	}
}

func (f *HTTPFetcher) breaker(host string) *Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.breakers[host]
	if !ok {
		b = NewBreaker(f.cfg.FailThreshold, f.cfg.OpenFor, f.clock)
		f.breakers[host] = b
	}
	return b
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

func (f *HTTPFetcher) Extract(ctx context.Context, rawURL string, opts Options) (Result, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return Result{}, err
	}

	br := f.breaker(u.Host)
	if !br.TryAcquire() {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrFetchFailed, u.Host, ErrCircuitOpen)
	}

	start := f.clock.Now()
	res, err := f.fetch(ctx, u, opts)
	switch {
	case err == nil:
		br.OnSuccess()
	case ctx.Err() != nil:
		// the caller gave up; say nothing about the host
		br.Release()
	default:
		br.OnFailure()
		f.log.Debug("fetch failed", zap.String("host", u.Host), zap.String("breaker", br.State()), zap.Error(err))
	}
	if err != nil {
		return Result{}, err
	}

	res.FetchedAt = f.clock.Now()
	res.Duration = res.FetchedAt.Sub(start)
	return res, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, u *url.URL, opts Options) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.ClampTimeout(opts.Timeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Result{}, fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return Result{}, classify(ctx, err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return Result{}, fmt.Errorf("%w: response exceeds %d bytes", ErrFetchFailed, f.cfg.MaxBodyBytes)
	}

	ct := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(ct)

	res := Result{
		URL:         u.String(),
		FinalURL:    resp.Request.URL.String(),
		ContentType: mediaType,
		SizeBytes:   int64(len(body)),
		IsPDF:       opts.IsPDF || mediaType == "application/pdf",
	}
	if res.IsPDF {
		// PDF bodies are passed through untouched; only their size is billed.
		return res, nil
	}

	pg := parseHTML(body, resp.Request.URL, opts.IncludeImages)
	res.Title = pg.title
	res.Content = pg.text
	if opts.IncludeMetadata {
		meta := pg.meta
		res.Metadata = &meta
	}
	if opts.IncludeImages {
		res.Images = pg.images
	}
	return res, nil
}

func classify(ctx context.Context, err error) error {
	var netErr net.Error
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrFetchFailed, err)
}
