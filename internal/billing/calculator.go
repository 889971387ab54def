// Package billing prices accepted extraction requests.
package billing

import (
	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/shopspring/decimal"
)

const (
	KiB = 1024

	// DefaultLargePageThreshold is the response size above which the
	// large-page surcharge applies.
	DefaultLargePageThreshold = 500 * KiB

	// DefaultPrecision is the number of currency decimal places kept.
	DefaultPrecision = 4
)

const (
	BucketSmall  = "small"  // <= 100KiB
	BucketMedium = "medium" // <= threshold
	BucketLarge  = "large"  // > threshold
)

// Pricing holds the surcharges shared by every tier. Base price and
// discount come from the tier.
type Pricing struct {
	LargePageThreshold int64           `mapstructure:"large_page_threshold_bytes"`
	LargePageSurcharge decimal.Decimal `mapstructure:"large_page_surcharge"`
	ImageSurcharge     decimal.Decimal `mapstructure:"image_surcharge"`
	PDFSurcharge       decimal.Decimal `mapstructure:"pdf_surcharge"`
	Precision          int32           `mapstructure:"precision"`
}

// Calculator is stateless; Price is safe for concurrent use.
type Calculator struct {
	p Pricing
}

func NewCalculator(p Pricing) *Calculator {
	if p.LargePageThreshold <= 0 {
		p.LargePageThreshold = DefaultLargePageThreshold
	}
	if p.Precision <= 0 {
		p.Precision = DefaultPrecision
	}
	return &Calculator{p: p}
}

func (c *Calculator) Pricing() Pricing { return c.p }

// Price returns the cost of one successfully extracted request.
// Surcharges are summed with the base price first; the tier discount
// applies to that total. The result is rounded half-to-even.
func (c *Calculator) Price(tier model.Tier, responseSizeBytes int64, usedImages, usedPDF bool) decimal.Decimal {
	cost := tier.BasePrice
	if responseSizeBytes > c.p.LargePageThreshold {
		cost = cost.Add(c.p.LargePageSurcharge)
	}
	if usedImages {
		cost = cost.Add(c.p.ImageSurcharge)
	}
	if usedPDF {
		cost = cost.Add(c.p.PDFSurcharge)
	}

	cost = cost.Mul(decimal.NewFromInt(1).Sub(tier.Discount))
	return cost.RoundBank(c.p.Precision)
}

// Units is the billable unit count of one extraction.
func (c *Calculator) Units() int { return 1 }

// SizeBucket classifies a response size for the ledger.
func (c *Calculator) SizeBucket(sizeBytes int64) string {
	switch {
	case sizeBytes > c.p.LargePageThreshold:
		return BucketLarge
	case sizeBytes > 100*KiB:
		return BucketMedium
	default:
		return BucketSmall
	}
}
