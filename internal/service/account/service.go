// Package account answers read-only questions about a caller: quota use,
// month-to-date billing, history and the tier catalog.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/clock"
	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/jmehdipour/reader-gateway/internal/ratelimit"
	"github.com/jmehdipour/reader-gateway/internal/repository"
	"github.com/jmehdipour/reader-gateway/internal/tier"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultDailyDays = 30
	MaxDailyDays     = 90

	AlertWarning  = "warning"
	AlertCritical = "critical"
)

// ErrDailyUnavailable is returned when no analytics store is configured.
var ErrDailyUnavailable = errors.New("daily usage is not available")

type Thresholds struct {
	WarningPercent  float64
	CriticalPercent float64
}

type Alert struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type AccountInfo struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Tier       string     `json:"tier"`
	TierName   string     `json:"tier_name"`
	Active     bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Features   []string   `json:"features"`
}

type UsageInfo struct {
	Month           string   `json:"month"`
	Requests        int64    `json:"requests_this_month"`
	MonthlyLimit    int64    `json:"monthly_limit"` // 0 when unlimited
	UsagePercentage *float64 `json:"usage_percentage"`
	Remaining       int64    `json:"remaining"` // -1 when unlimited
}

type BillingInfo struct {
	MonthCost       decimal.Decimal `json:"current_month_cost_usd"`
	PricePerRequest decimal.Decimal `json:"price_per_request"`
	Discount        string          `json:"tier_discount"`
}

type Status struct {
	Account    AccountInfo        `json:"account"`
	Usage      UsageInfo          `json:"usage"`
	Billing    BillingInfo        `json:"billing"`
	RateLimits *ratelimit.Verdict `json:"rate_limits,omitempty"`
	Alerts     []Alert            `json:"alerts"`
}

type TierInfo struct {
	model.Tier
	PricePerRequest decimal.Decimal `json:"price_per_request"`
	DiscountPercent string          `json:"discount_percent"`
}

type Deps struct {
	Tiers      *tier.Catalog
	Limiter    *ratelimit.Limiter
	Ledger     repository.UsageLedgerRepository
	Daily      repository.CHUsageRepository // optional
	Clock      clock.Clock
	Thresholds Thresholds
	Logger     *zap.Logger
}

type Service struct {
	tiers      *tier.Catalog
	limiter    *ratelimit.Limiter
	ledger     repository.UsageLedgerRepository
	daily      repository.CHUsageRepository
	clock      clock.Clock
	thresholds Thresholds
	log        *zap.Logger
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Thresholds.WarningPercent <= 0 {
		d.Thresholds.WarningPercent = 80
	}
	if d.Thresholds.CriticalPercent <= 0 {
		d.Thresholds.CriticalPercent = 100
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		tiers:      d.Tiers,
		limiter:    d.Limiter,
		ledger:     d.Ledger,
		daily:      d.Daily,
		clock:      d.Clock,
		thresholds: d.Thresholds,
		log:        d.Logger,
	}
}

// Status assembles the account dashboard. Live rate-limit state is best
// effort and left out when the counter store cannot be reached.
func (s *Service) Status(ctx context.Context, acct model.Account) (Status, error) {
	t, err := s.tiers.Resolve(acct.Tier)
	if err != nil {
		return Status{}, err
	}
	now := s.clock.Now()

	count, cost, err := s.ledger.Summary(ctx, acct.ID, now)
	if err != nil {
		return Status{}, fmt.Errorf("month summary: %w", err)
	}

	st := Status{
		Account: AccountInfo{
			ID:         acct.ID,
			Name:       acct.Name,
			Tier:       t.Name,
			TierName:   t.DisplayName,
			Active:     acct.Active(),
			CreatedAt:  acct.CreatedAt,
			LastUsedAt: acct.LastUsedAt,
			Features:   t.Features,
		},
		Usage: UsageInfo{
			Month:        now.Format("2006-01"),
			Requests:     count,
			MonthlyLimit: t.MonthlyQuota,
			Remaining:    remaining(t.MonthlyQuota, count),
		},
		Billing: BillingInfo{
			MonthCost:       cost,
			PricePerRequest: t.EffectivePrice(),
			Discount:        t.DiscountPercent(),
		},
		Alerts: []Alert{},
	}

	if t.MonthlyQuota != model.Unlimited {
		pct := usagePercent(count, t.MonthlyQuota)
		st.Usage.UsagePercentage = &pct
		if a, ok := s.alertFor(pct); ok {
			st.Alerts = append(st.Alerts, a)
		}
	}

	v, err := s.limiter.Status(ctx, ratelimit.CallerID(acct.ID), t)
	if err != nil {
		s.log.Warn("rate limit status unavailable", zap.Int64("account_id", acct.ID), zap.Error(err))
	} else {
		st.RateLimits = &v
	}
	return st, nil
}

// alertFor returns at most one alert, the most severe that applies.
func (s *Service) alertFor(pct float64) (Alert, bool) {
	switch {
	case pct >= s.thresholds.CriticalPercent:
		return Alert{Level: AlertCritical, Message: "Monthly quota exceeded. Requests will be rejected."}, true
	case pct >= s.thresholds.WarningPercent:
		return Alert{Level: AlertWarning, Message: fmt.Sprintf("Usage at %.2f%% of monthly quota.", pct)}, true
	default:
		return Alert{}, false
	}
}

// Summary returns the billing snapshot of the calendar month containing
// month; the zero time selects the current month.
func (s *Service) Summary(ctx context.Context, acct model.Account, month time.Time) (model.UsageSummary, error) {
	if month.IsZero() {
		month = s.clock.Now()
	}
	t, err := s.tiers.Resolve(acct.Tier)
	if err != nil {
		return model.UsageSummary{}, err
	}
	count, cost, err := s.ledger.Summary(ctx, acct.ID, month)
	if err != nil {
		return model.UsageSummary{}, err
	}
	return model.UsageSummary{
		Month:     month.UTC().Format("2006-01"),
		Count:     count,
		TotalCost: cost,
		Quota:     t.MonthlyQuota,
		Remaining: remaining(t.MonthlyQuota, count),
	}, nil
}

func (s *Service) History(ctx context.Context, acct model.Account, limit int, cursor string) (model.UsagePage, error) {
	return s.ledger.History(ctx, acct.ID, limit, cursor)
}

func (s *Service) Tiers() []TierInfo {
	list := s.tiers.List()
	out := make([]TierInfo, 0, len(list))
	for _, t := range list {
		out = append(out, TierInfo{
			Tier:            t,
			PricePerRequest: t.EffectivePrice(),
			DiscountPercent: t.DiscountPercent(),
		})
	}
	return out
}

// Daily returns per-day rollups for the last days days, today included.
func (s *Service) Daily(ctx context.Context, acct model.Account, days int) ([]model.DailyUsage, error) {
	if s.daily == nil {
		return nil, ErrDailyUnavailable
	}
	days = ClampDays(days)
	now := s.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.daily.DailyByAccount(ctx, acct.ID, today.AddDate(0, 0, -(days-1)))
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.DailyUsage{}
	}
	return rows, nil
}

func ClampDays(days int) int {
	switch {
	case days <= 0:
		return DefaultDailyDays
	case days > MaxDailyDays:
		return MaxDailyDays
	default:
		return days
	}
}

func remaining(quota, count int64) int64 {
	if quota == model.Unlimited {
		return -1
	}
	if r := quota - count; r > 0 {
		return r
	}
	return 0
}

func usagePercent(count, quota int64) float64 {
	pct, _ := decimal.NewFromInt(count).Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(quota), 2).Float64()
	return pct
}
