package billing

import (
	"sync"
	"testing"

	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func defaultCalc() *Calculator {
	return NewCalculator(Pricing{
		LargePageSurcharge: d("0.001"),
		ImageSurcharge:     d("0.002"),
		PDFSurcharge:       d("0.003"),
	})
}

var (
	free     = model.Tier{Name: "free", BasePrice: d("0.0015"), Discount: d("1")}
	standard = model.Tier{Name: "standard", BasePrice: d("0.0015"), Discount: d("0")}
	pro      = model.Tier{Name: "pro", BasePrice: d("0.0015"), Discount: d("0.10")}
	business = model.Tier{Name: "business", BasePrice: d("0.0015"), Discount: d("0.30")}
)

func assertCost(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func TestPriceBaseOnly(t *testing.T) {
	c := defaultCalc()
	assertCost(t, "0.0015", c.Price(standard, 1024, false, false))
	assertCost(t, "0", c.Price(free, 1024, true, true))
}

func TestPriceLargePageThresholdIsStrict(t *testing.T) {
	c := defaultCalc()
	assertCost(t, "0.0015", c.Price(standard, 500*KiB, false, false))
	assertCost(t, "0.0025", c.Price(standard, 500*KiB+1, false, false))
}

func TestDiscountAppliesToTotal(t *testing.T) {
	c := defaultCalc()
	// (0.0015 + 0.001 + 0.002) * 0.90 = 0.00405 -> 0.0040 (half to even).
	got := c.Price(pro, 600*KiB, true, false)
	assertCost(t, "0.0040", got)

	// Discounting each component and rounding separately would give 0.0041.
	perComponent := decimal.Zero
	for _, part := range []string{"0.0015", "0.001", "0.002"} {
		perComponent = perComponent.Add(d(part).Mul(d("0.90")).RoundBank(4))
	}
	assertCost(t, "0.0041", perComponent)
	assert.False(t, perComponent.Equal(got))
}

func TestBusinessPDFRoundsHalfToEven(t *testing.T) {
	c := defaultCalc()
	// (0.0015 + 0.003) * 0.70 = 0.00315 -> 0.0032.
	assertCost(t, "0.0032", c.Price(business, 10*KiB, false, true))
}

func TestAllSurcharges(t *testing.T) {
	c := defaultCalc()
	assertCost(t, "0.0075", c.Price(standard, 501*KiB, true, true))
	// 0.0075 * 0.7 = 0.00525 -> 0.0052
	assertCost(t, "0.0052", c.Price(business, 501*KiB, true, true))
}

func TestPriceIsDeterministicUnderConcurrency(t *testing.T) {
	c := defaultCalc()
	want := c.Price(pro, 700*KiB, true, true)

	var wg sync.WaitGroup
	results := make([]decimal.Decimal, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Price(pro, 700*KiB, true, true)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.True(t, want.Equal(r))
	}
}

func TestSizeBucket(t *testing.T) {
	c := defaultCalc()
	assert.Equal(t, BucketSmall, c.SizeBucket(0))
	assert.Equal(t, BucketSmall, c.SizeBucket(100*KiB))
	assert.Equal(t, BucketMedium, c.SizeBucket(100*KiB+1))
	assert.Equal(t, BucketMedium, c.SizeBucket(500*KiB))
	assert.Equal(t, BucketLarge, c.SizeBucket(500*KiB+1))
}

func TestNewCalculatorDefaults(t *testing.T) {
	c := NewCalculator(Pricing{})
	assert.Equal(t, int64(DefaultLargePageThreshold), c.Pricing().LargePageThreshold)
	assert.Equal(t, int32(DefaultPrecision), c.Pricing().Precision)
	assert.Equal(t, 1, c.Units())
}
