package model

import "github.com/shopspring/decimal"

// Unlimited marks a limit or quota that is never enforced.
const Unlimited int64 = 0

// Tier is an immutable subscription plan. Tiers differ only by data.
type Tier struct {
	Name         string          `mapstructure:"name"          json:"tier"`
	DisplayName  string          `mapstructure:"display_name"  json:"name"`
	MonthlyQuota int64           `mapstructure:"monthly_quota" json:"monthly_limit"`
	PerMinute    int64           `mapstructure:"per_minute"    json:"rate_limit_per_minute"`
	PerDay       int64           `mapstructure:"per_day"       json:"rate_limit_per_day"`
	BasePrice    decimal.Decimal `mapstructure:"base_price"    json:"base_price"`
	Discount     decimal.Decimal `mapstructure:"discount"      json:"discount"` // fraction in [0,1]
	PriceMonthly decimal.Decimal `mapstructure:"price_monthly" json:"price_monthly"`
	Features     []string        `mapstructure:"features"      json:"features"`
}

// Limit returns the tier's ceiling for the given window kind.
func (t Tier) Limit(kind WindowKind) int64 {
	switch kind {
	case WindowMinute:
		return t.PerMinute
	case WindowDay:
		return t.PerDay
	case WindowMonth:
		return t.MonthlyQuota
	default:
		return Unlimited
	}
}

// EffectivePrice is the base price after the tier discount, without surcharges.
func (t Tier) EffectivePrice() decimal.Decimal {
	return t.BasePrice.Mul(decimal.NewFromInt(1).Sub(t.Discount)).RoundBank(6)
}

// DiscountPercent renders the discount as a whole percentage, e.g. "30%".
func (t Tier) DiscountPercent() string {
	return t.Discount.Shift(2).Round(0).String() + "%"
}
