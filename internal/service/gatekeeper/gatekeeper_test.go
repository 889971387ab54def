package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/billing"
	"github.com/jmehdipour/reader-gateway/internal/clock"
	"github.com/jmehdipour/reader-gateway/internal/extractor"
	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/jmehdipour/reader-gateway/internal/ratelimit"
	"github.com/jmehdipour/reader-gateway/internal/tier"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 10, 17, 12, 0, 5, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testTiers = []model.Tier{
	{Name: "free", PerMinute: 10, PerDay: 100, MonthlyQuota: 100, BasePrice: dec("0.0015"), Discount: dec("1")},
	{Name: "pro", PerMinute: 60, PerDay: 5000, MonthlyQuota: 50000, BasePrice: dec("0.0015"), Discount: dec("0.10")},
	{Name: "business", PerMinute: 300, PerDay: 50000, MonthlyQuota: 500000, BasePrice: dec("0.0015"), Discount: dec("0.30")},
}

type fakeAccounts struct {
	mu      sync.Mutex
	byKey   map[string]*model.Account
	err     error
	touched int
}

func (f *fakeAccounts) GetByAPIKey(_ context.Context, key string) (*model.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.byKey[key]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) TouchLastUsed(context.Context, int64, time.Time) error {
	f.mu.Lock()
	f.touched++
	f.mu.Unlock()
	return nil
}

type fakeLedger struct {
	mu      sync.Mutex
	records []model.UsageRecord
	err     error
}

func (f *fakeLedger) Record(_ context.Context, rec model.UsageRecord) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeLedger) Reverse(context.Context, string, string, time.Time) (model.UsageRecord, error) {
	return model.UsageRecord{}, errors.New("not implemented")
}

func (f *fakeLedger) Summary(_ context.Context, accountID int64, _ time.Time) (int64, decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	total := decimal.Zero
	for _, r := range f.records {
		if r.AccountID == accountID {
			n++
			total = total.Add(r.Cost)
		}
	}
	return n, total, nil
}

func (f *fakeLedger) History(context.Context, int64, int, string) (model.UsagePage, error) {
	return model.UsagePage{}, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeExtractor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, url string, opts extractor.Options) (extractor.Result, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, url string, opts extractor.Options) (extractor.Result, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, url, opts)
	}
	return extractor.Result{URL: url, Content: "hello", SizeBytes: 10 * billing.KiB}, nil
}

func sized(n int64) func(context.Context, string, extractor.Options) (extractor.Result, error) {
	return func(_ context.Context, url string, _ extractor.Options) (extractor.Result, error) {
		return extractor.Result{URL: url, Content: "x", SizeBytes: n}, nil
	}
}

type env struct {
	gk       *Gatekeeper
	clk      *clock.Fake
	limiter  *ratelimit.Limiter
	accounts *fakeAccounts
	ledger   *fakeLedger
	ext      *fakeExtractor
	catalog  *tier.Catalog
}

func newEnv(t *testing.T, store ratelimit.CounterStore) *env {
	t.Helper()
	catalog, err := tier.NewCatalog(testTiers)
	require.NoError(t, err)

	if store == nil {
		store = ratelimit.NewMemoryStore(8)
	}
	e := &env{
		clk: clock.NewFake(start),
		accounts: &fakeAccounts{byKey: map[string]*model.Account{
			"k_free":      {ID: 1, APIKey: "k_free", Tier: "free", Status: model.AccountActive},
			"k_pro":       {ID: 2, APIKey: "k_pro", Tier: "pro", Status: model.AccountActive},
			"k_business":  {ID: 3, APIKey: "k_business", Tier: "business", Status: model.AccountActive},
			"k_suspended": {ID: 4, APIKey: "k_suspended", Tier: "pro", Status: model.AccountSuspended},
			"k_gold":      {ID: 5, APIKey: "k_gold", Tier: "gold", Status: model.AccountActive},
		}},
		ledger:  &fakeLedger{},
		ext:     &fakeExtractor{},
		catalog: catalog,
	}
	e.limiter = ratelimit.NewLimiter(store, e.clk, 50*time.Millisecond, nil)
	e.gk = New(Deps{
		Accounts:  e.accounts,
		Tiers:     catalog,
		Limiter:   e.limiter,
		Extractor: e.ext,
		Billing: billing.NewCalculator(billing.Pricing{
			LargePageSurcharge: dec("0.001"),
			ImageSurcharge:     dec("0.002"),
			PDFSurcharge:       dec("0.003"),
		}),
		Ledger: e.ledger,
		Clock:  e.clk,
	})
	return e
}

func (e *env) status(t *testing.T, accountID int64, tierName string) ratelimit.Verdict {
	t.Helper()
	tr, err := e.catalog.Resolve(tierName)
	require.NoError(t, err)
	v, err := e.limiter.Status(context.Background(), ratelimit.CallerID(accountID), tr)
	require.NoError(t, err)
	return v
}

func asError(t *testing.T, err error) *Error {
	t.Helper()
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	return gerr
}

var page = Request{URL: "https://example.com/article"}

func TestFreeTierEndToEnd(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		out, err := e.gk.Handle(ctx, "k_free", page)
		require.NoError(t, err, "request %d", i+1)
		require.NotNil(t, out.Record)
		assert.True(t, out.Record.Cost.IsZero(), "free tier is never charged")
		assert.Equal(t, 1, out.Record.BillableUnits)
		assert.Equal(t, int64(9-i), out.Verdict.Minute.Remaining)
	}

	out, err := e.gk.Handle(ctx, "k_free", page)
	gerr := asError(t, err)
	assert.Equal(t, CodeRateLimited, gerr.Code)
	assert.Equal(t, http.StatusTooManyRequests, gerr.Status())
	assert.False(t, gerr.Billable())
	require.NotNil(t, out.Verdict)
	assert.Equal(t, 55*time.Second, out.Verdict.RetryAfter)
	assert.Equal(t, []model.WindowKind{model.WindowMinute}, out.Verdict.Denied)
	assert.Contains(t, gerr.Message, "minute")
	assert.Nil(t, out.Result)

	assert.Equal(t, 10, e.ledger.count())
	assert.Equal(t, int32(10), e.ext.calls.Load(), "denied requests never reach the extractor")

	e.clk.Advance(61 * time.Second)
	out, err = e.gk.Handle(ctx, "k_free", page)
	require.NoError(t, err)
	assert.Equal(t, int64(9), out.Verdict.Minute.Remaining)
	assert.Equal(t, int64(89), out.Verdict.Day.Remaining)
}

func TestBusinessPDFCost(t *testing.T) {
	e := newEnv(t, nil)
	e.ext.fn = sized(200 * billing.KiB)

	out, err := e.gk.Handle(context.Background(), "k_business",
		Request{URL: "https://example.com/report.pdf", Options: extractor.Options{IsPDF: true}})
	require.NoError(t, err)

	rec := out.Record
	assert.Equal(t, "0.0032", rec.Cost.StringFixed(4))
	assert.True(t, rec.UsedPDF)
	assert.False(t, rec.UsedImages)
	assert.Equal(t, billing.BucketMedium, rec.SizeBucket)
	assert.Equal(t, out.RequestID, rec.RequestID)
	assert.Equal(t, int64(3), rec.AccountID)
	assert.Regexp(t, `^req_[0-9a-f]{12}$`, out.RequestID)
}

func TestProLargePageWithImagesCost(t *testing.T) {
	e := newEnv(t, nil)
	e.ext.fn = sized(600 * billing.KiB)

	out, err := e.gk.Handle(context.Background(), "k_pro",
		Request{URL: "https://example.com/gallery", Options: extractor.Options{IncludeImages: true}})
	require.NoError(t, err)
	assert.Equal(t, "0.0040", out.Record.Cost.StringFixed(4))
	assert.Equal(t, billing.BucketLarge, out.Record.SizeBucket)
	assert.True(t, out.Record.UsedImages)
}

func TestDetectedPDFIsBilledAsPDF(t *testing.T) {
	e := newEnv(t, nil)
	e.ext.fn = func(_ context.Context, url string, _ extractor.Options) (extractor.Result, error) {
		return extractor.Result{URL: url, SizeBytes: 1000, IsPDF: true}, nil
	}

	out, err := e.gk.Handle(context.Background(), "k_business", page)
	require.NoError(t, err)
	assert.True(t, out.Record.UsedPDF)
	assert.Equal(t, "0.0032", out.Record.Cost.StringFixed(4))
}

func TestUpstreamFailureIsNotBilledButConsumesQuota(t *testing.T) {
	cases := map[string]struct {
		err  error
		code Code
		want int
	}{
		"timeout": {fmt.Errorf("%w: deadline", extractor.ErrFetchTimeout), CodeFetchTimeout, http.StatusGatewayTimeout},
		"failure": {fmt.Errorf("%w: status 500", extractor.ErrFetchFailed), CodeFetchFailed, http.StatusBadGateway},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, nil)
			e.ext.fn = func(context.Context, string, extractor.Options) (extractor.Result, error) {
				return extractor.Result{}, tc.err
			}

			out, err := e.gk.Handle(context.Background(), "k_pro", page)
			gerr := asError(t, err)
			assert.Equal(t, tc.code, gerr.Code)
			assert.Equal(t, tc.want, gerr.Status())
			assert.False(t, gerr.Billable())
			assert.True(t, gerr.Retryable())
			assert.ErrorIs(t, err, tc.err)

			assert.Nil(t, out.Record)
			assert.Zero(t, e.ledger.count())
			assert.Equal(t, int64(1), e.status(t, 2, "pro").Minute.Used, "counters are not refunded")
			assert.Zero(t, e.accounts.touched)
		})
	}
}

func TestCancelledRequestMapsToTimeout(t *testing.T) {
	e := newEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	e.ext.fn = func(ctx context.Context, _ string, _ extractor.Options) (extractor.Result, error) {
		cancel()
		return extractor.Result{}, ctx.Err()
	}

	_, err := e.gk.Handle(ctx, "k_pro", page)
	assert.Equal(t, CodeFetchTimeout, asError(t, err).Code)
	assert.Zero(t, e.ledger.count())
}

func TestLedgerFailureDiscardsResult(t *testing.T) {
	e := newEnv(t, nil)
	e.ledger.err = errors.New("deadlock found")

	out, err := e.gk.Handle(context.Background(), "k_pro", page)
	gerr := asError(t, err)
	assert.Equal(t, CodeUnavailable, gerr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, gerr.Status())
	assert.True(t, gerr.Retryable())
	assert.Nil(t, out.Result, "unrecorded results are never served")
	assert.Nil(t, out.Record)
	require.NotNil(t, out.Verdict)
}

func TestAdmissionErrors(t *testing.T) {
	cases := []struct {
		key      string
		code     Code
		status   int
		withTier bool
	}{
		{"", CodeInvalidAPIKey, http.StatusUnauthorized, false},
		{"nope", CodeInvalidAPIKey, http.StatusUnauthorized, false},
		{"k_suspended", CodeAPIKeyDisabled, http.StatusForbidden, false},
		{"k_gold", CodeInternalConfig, http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.code)+"/"+tc.key, func(t *testing.T) {
			e := newEnv(t, nil)
			out, err := e.gk.Handle(context.Background(), tc.key, page)
			gerr := asError(t, err)
			assert.Equal(t, tc.code, gerr.Code)
			assert.Equal(t, tc.status, gerr.Status())
			assert.False(t, gerr.Billable())
			assert.False(t, gerr.Retryable())
			assert.Nil(t, out.Tier)
			assert.Nil(t, out.Verdict)
			assert.NotEmpty(t, out.RequestID)
			assert.Zero(t, e.ext.calls.Load())
			assert.Zero(t, e.ledger.count())
		})
	}
}

func TestUnknownTierNeverFallsBack(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.gk.Handle(context.Background(), "k_gold", page)
	assert.ErrorIs(t, err, tier.ErrUnknownTier)
}

func TestAccountStoreFailure(t *testing.T) {
	e := newEnv(t, nil)
	e.accounts.err = errors.New("connection refused")

	_, err := e.gk.Handle(context.Background(), "k_pro", page)
	assert.Equal(t, CodeUnavailable, asError(t, err).Code)
}

func TestInvalidURLConsumesNoQuota(t *testing.T) {
	e := newEnv(t, nil)

	out, err := e.gk.Handle(context.Background(), "k_pro", Request{URL: "ftp://example.com/x"})
	gerr := asError(t, err)
	assert.Equal(t, CodeInvalidRequest, gerr.Code)
	assert.Equal(t, http.StatusBadRequest, gerr.Status())
	require.NotNil(t, out.Tier)
	require.NotNil(t, out.Verdict, "quota headers are still rendered")
	assert.Equal(t, int64(60), out.Verdict.Minute.Remaining)
	assert.Zero(t, e.status(t, 2, "pro").Minute.Used)
}

type downStore struct{}

func (downStore) CheckAndIncrement(context.Context, string, []ratelimit.Window) ([]int64, bool, error) {
	return nil, false, errors.New("dial tcp: connection refused")
}

func (downStore) Peek(context.Context, string, []ratelimit.Window) ([]int64, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestCounterStoreDownFailsClosed(t *testing.T) {
	e := newEnv(t, downStore{})

	out, err := e.gk.Handle(context.Background(), "k_pro", page)
	gerr := asError(t, err)
	assert.Equal(t, CodeUnavailable, gerr.Code)
	assert.True(t, gerr.Retryable())
	assert.ErrorIs(t, err, ratelimit.ErrCounterStoreUnavailable)
	require.NotNil(t, out.Verdict)
	assert.False(t, out.Verdict.Allowed)
	assert.Zero(t, e.ext.calls.Load())
}

func TestLedgerReconcilesWithCounters(t *testing.T) {
	e := newEnv(t, nil)
	e.ext.fn = sized(600 * billing.KiB)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.gk.Handle(context.Background(), "k_pro", page)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, total, err := e.ledger.Summary(context.Background(), 2, start)
	require.NoError(t, err)

	v := e.status(t, 2, "pro")
	assert.Equal(t, int64(n), count)
	assert.Equal(t, v.Month.Used, count)
	assert.Equal(t, v.Day.Used, count)
	// (0.0015 + 0.001) × 0.9 = 0.00225, half-to-even 0.0022, × 40
	assert.Equal(t, "0.0880", total.StringFixed(4))
	assert.Equal(t, n, e.accounts.touched)
}

func TestRecordKeepsAdmissionMonthAcrossBoundary(t *testing.T) {
	e := newEnv(t, nil)
	admitted := time.Date(2026, 10, 31, 23, 59, 59, 500_000_000, time.UTC)
	e.clk.Set(admitted)
	e.ext.fn = func(_ context.Context, url string, _ extractor.Options) (extractor.Result, error) {
		e.clk.Advance(time.Second) // extraction finishes in November
		return extractor.Result{URL: url, Content: "x", SizeBytes: billing.KiB}, nil
	}

	out, err := e.gk.Handle(context.Background(), "k_pro", page)
	require.NoError(t, err)
	require.NotNil(t, out.Record)

	assert.True(t, out.Record.CreatedAt.Equal(admitted), "created_at %s", out.Record.CreatedAt)
	id, err := ulid.ParseStrict(out.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(admitted), id.Time())

	// October: one counted, one recorded.
	e.clk.Set(admitted)
	oct := e.status(t, 2, "pro")
	assert.Equal(t, int64(1), oct.Month.Used)
	assert.Equal(t, int64(1), oct.Day.Used)
	assert.Equal(t, time.October, out.Record.CreatedAt.Month())

	// November: nothing on either side.
	e.clk.Set(admitted.Add(time.Second))
	nov := e.status(t, 2, "pro")
	assert.Zero(t, nov.Month.Used)
	assert.Zero(t, nov.Day.Used)
}

func TestCallerSuppliedRequestID(t *testing.T) {
	e := newEnv(t, nil)
	out, err := e.gk.Handle(context.Background(), "k_pro", Request{ID: "req_abcdef012345", URL: page.URL})
	require.NoError(t, err)
	assert.Equal(t, "req_abcdef012345", out.RequestID)
	assert.Equal(t, "req_abcdef012345", out.Record.RequestID)
}

func TestCodes(t *testing.T) {
	all := map[Code]int{
		CodeInvalidRequest: 400,
		CodeInvalidAPIKey:  401,
		CodeAPIKeyDisabled: 403,
		CodeInternalConfig: 500,
		CodeRateLimited:    429,
		CodeUnavailable:    503,
		CodeFetchTimeout:   504,
		CodeFetchFailed:    502,
	}
	for code, status := range all {
		assert.Equal(t, status, code.Status(), code)
		assert.False(t, code.Billable(), code)
	}
}
