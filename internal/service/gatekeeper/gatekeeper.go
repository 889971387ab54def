// Package gatekeeper runs one extraction request through authentication,
// tier resolution, quota enforcement, extraction, pricing and the usage
// ledger, in that order.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmehdipour/reader-gateway/internal/billing"
	"github.com/jmehdipour/reader-gateway/internal/clock"
	"github.com/jmehdipour/reader-gateway/internal/extractor"
	"github.com/jmehdipour/reader-gateway/internal/metrics"
	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/jmehdipour/reader-gateway/internal/ratelimit"
	"github.com/jmehdipour/reader-gateway/internal/repository"
	"github.com/jmehdipour/reader-gateway/internal/tier"
	"github.com/jmehdipour/reader-gateway/internal/util"
	"go.uber.org/zap"
)

type Request struct {
	ID      string // generated when empty
	URL     string
	Options extractor.Options
}

// Outcome describes how far a request got. Tier and Verdict are set as
// soon as they are known so that quota headers can be rendered for
// rejected requests too. Result and Record are set only on success.
type Outcome struct {
	RequestID string
	Account   *model.Account
	Tier      *model.Tier
	Verdict   *ratelimit.Verdict
	Result    *extractor.Result
	Record    *model.UsageRecord
}

type Deps struct {
	Accounts     repository.AccountsRepository
	Tiers        *tier.Catalog
	Limiter      *ratelimit.Limiter
	Extractor    extractor.Extractor
	Billing      *billing.Calculator
	Ledger       repository.UsageLedgerRepository
	Clock        clock.Clock
	WriteTimeout time.Duration // ledger append bound, default 2s
	Logger       *zap.Logger
}

type Gatekeeper struct {
	accounts     repository.AccountsRepository
	tiers        *tier.Catalog
	limiter      *ratelimit.Limiter
	extractor    extractor.Extractor
	billing      *billing.Calculator
	ledger       repository.UsageLedgerRepository
	clock        clock.Clock
	writeTimeout time.Duration
	log          *zap.Logger
}

func New(d Deps) *Gatekeeper {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.WriteTimeout <= 0 {
		d.WriteTimeout = 2 * time.Second
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Gatekeeper{
		accounts:     d.Accounts,
		tiers:        d.Tiers,
		limiter:      d.Limiter,
		extractor:    d.Extractor,
		billing:      d.Billing,
		ledger:       d.Ledger,
		clock:        d.Clock,
		writeTimeout: d.WriteTimeout,
		log:          d.Logger,
	}
}

// NewRequestID returns an id of the form req_<12 hex>.
func NewRequestID() string {
	id := uuid.New()
	return "req_" + strings.ReplaceAll(id.String(), "-", "")[:12]
}

// Handle processes one request. A non-nil error is always a *Error; the
// outcome is populated up to the step that failed either way.
//
// Quota is consumed at admission and never refunded: an extraction that
// fails afterwards still used its slot but produces no ledger entry.
func (g *Gatekeeper) Handle(ctx context.Context, apiKey string, req Request) (Outcome, error) {
	out := Outcome{RequestID: req.ID}
	if out.RequestID == "" {
		out.RequestID = NewRequestID()
	}
	start := g.clock.Now()
	defer func() { metrics.HandleDuration.Observe(g.clock.Now().Sub(start).Seconds()) }()

	log := g.log.With(zap.String("request_id", out.RequestID))

	// RECEIVED
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return out, g.reject("", newError(CodeInvalidAPIKey, "missing API key", nil))
	}
	acct, err := g.accounts.GetByAPIKey(ctx, apiKey)
	if err != nil {
		log.Error("account lookup failed", zap.Error(err))
		return out, g.reject("", newError(CodeUnavailable, "account store unavailable", err))
	}
	if acct == nil {
		return out, g.reject("", newError(CodeInvalidAPIKey, "invalid API key", nil))
	}
	out.Account = acct
	if !acct.Active() {
		return out, g.reject("", newError(CodeAPIKeyDisabled, "API key is disabled", nil))
	}

	// TIER_RESOLVED
	t, err := g.tiers.Resolve(acct.Tier)
	if err != nil {
		log.Error("account references unknown tier",
			zap.Int64("account_id", acct.ID), zap.String("tier", acct.Tier), zap.Error(err))
		return out, g.reject(acct.Tier, newError(CodeInternalConfig, "account tier is not configured", err))
	}
	out.Tier = &t
	log = log.With(zap.Int64("account_id", acct.ID), zap.String("tier", t.Name))

	if _, err := extractor.ValidateURL(req.URL); err != nil {
		// report quota state without consuming any
		if v, perr := g.limiter.Status(ctx, ratelimit.CallerID(acct.ID), t); perr == nil {
			out.Verdict = &v
		}
		return out, g.reject(t.Name, newError(CodeInvalidRequest, err.Error(), err))
	}

	// RATE_CHECKED
	v, err := g.limiter.CheckAndIncrement(ctx, ratelimit.CallerID(acct.ID), t)
	out.Verdict = &v
	if err != nil {
		return out, g.reject(t.Name, newError(CodeUnavailable, "rate limiter unavailable, retry shortly", err))
	}
	if !v.Allowed {
		return out, g.reject(t.Name, newError(CodeRateLimited, deniedMessage(v), nil))
	}

	// ADMITTED
	res, err := g.extractor.Extract(ctx, req.URL, req.Options)
	if err != nil {
		gerr := extractionError(ctx, err)
		log.Info("extraction failed", zap.String("code", string(gerr.Code)), zap.Error(err))
		metrics.AdmissionsTotal.WithLabelValues("failed", t.Name).Inc()
		return out, gerr
	}

	// EXTRACTED → BILLED
	usedPDF := req.Options.IsPDF || res.IsPDF
	// The record carries the admission instant so it lands in the windows
	// whose counters it consumed.
	admittedAt := v.At
	if admittedAt.IsZero() {
		admittedAt = g.clock.Now()
	}
	rec := model.UsageRecord{
		ID:            util.NewAt(admittedAt),
		AccountID:     acct.ID,
		RequestID:     out.RequestID,
		Kind:          model.UsageCharge,
		URL:           req.URL,
		SizeBytes:     res.SizeBytes,
		SizeBucket:    g.billing.SizeBucket(res.SizeBytes),
		UsedImages:    req.Options.IncludeImages,
		UsedPDF:       usedPDF,
		Cost:          g.billing.Price(t, res.SizeBytes, req.Options.IncludeImages, usedPDF),
		BillableUnits: g.billing.Units(),
		CreatedAt:     admittedAt,
	}

	// RECORDED
	wctx, cancel := context.WithTimeout(ctx, g.writeTimeout)
	err = g.ledger.Record(wctx, rec)
	cancel()
	if err != nil {
		metrics.LedgerErrors.WithLabelValues("record").Inc()
		log.Error("usage record failed, discarding result", zap.Error(err))
		metrics.AdmissionsTotal.WithLabelValues("failed", t.Name).Inc()
		return out, newError(CodeUnavailable, "usage could not be recorded, retry shortly", err)
	}

	out.Result = &res
	out.Record = &rec
	metrics.AdmissionsTotal.WithLabelValues("billed", t.Name).Inc()
	metrics.BilledCostTotal.WithLabelValues(t.Name).Add(rec.Cost.InexactFloat64())

	if err := g.accounts.TouchLastUsed(ctx, acct.ID, g.clock.Now()); err != nil {
		log.Warn("touch last_used_at failed", zap.Error(err))
	}

	log.Debug("request billed",
		zap.String("record_id", rec.ID), zap.String("cost", rec.Cost.StringFixed(4)), zap.Int64("size", rec.SizeBytes))
	return out, nil
}

func (g *Gatekeeper) reject(tierName string, err *Error) *Error {
	outcome := "rejected"
	switch err.Code {
	case CodeRateLimited:
		outcome = "denied"
	case CodeUnavailable:
		outcome = "unavailable"
	}
	metrics.AdmissionsTotal.WithLabelValues(outcome, tierName).Inc()
	return err
}

func extractionError(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(err, extractor.ErrFetchTimeout), ctx.Err() != nil:
		return newError(CodeFetchTimeout, "upstream fetch timed out", err)
	case errors.Is(err, extractor.ErrInvalidURL):
		return newError(CodeInvalidRequest, err.Error(), err)
	default:
		return newError(CodeFetchFailed, "upstream fetch failed", err)
	}
}

func deniedMessage(v ratelimit.Verdict) string {
	kinds := make([]string, 0, len(v.Denied))
	for _, k := range v.Denied {
		kinds = append(kinds, k.String())
	}
	secs := int64((v.RetryAfter + time.Second - 1) / time.Second)
	return fmt.Sprintf("rate limit exceeded for %s window; retry in %ds", strings.Join(kinds, ", "), secs)
}
