package tier

import (
	"errors"
	"testing"

	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTiers() []model.Tier {
	return []model.Tier{
		{Name: "free", PerMinute: 10, PerDay: 100, MonthlyQuota: 100, BasePrice: decimal.RequireFromString("0.0015"), Discount: decimal.NewFromInt(1)},
		{Name: "Pro", DisplayName: "Professional", PerMinute: 60, PerDay: 5000, MonthlyQuota: 50000, BasePrice: decimal.RequireFromString("0.0015"), Discount: decimal.RequireFromString("0.10")},
	}
}

func TestResolve(t *testing.T) {
	c, err := NewCatalog(testTiers())
	require.NoError(t, err)

	free, err := c.Resolve("free")
	require.NoError(t, err)
	assert.Equal(t, int64(10), free.PerMinute)
	assert.Equal(t, "Free", free.DisplayName)

	pro, err := c.Resolve(" PRO ")
	require.NoError(t, err)
	assert.Equal(t, "pro", pro.Name)
	assert.Equal(t, "Professional", pro.DisplayName)

	_, err = c.Resolve("platinum")
	assert.True(t, errors.Is(err, ErrUnknownTier))
}

func TestListKeepsOrder(t *testing.T) {
	c, err := NewCatalog(testTiers())
	require.NoError(t, err)

	names := []string{}
	for _, tr := range c.List() {
		names = append(names, tr.Name)
	}
	assert.Equal(t, []string{"free", "pro"}, names)
}

func TestCatalogDoesNotAliasInput(t *testing.T) {
	tiers := testTiers()
	tiers[1].Features = []string{"pdf"}
	c, err := NewCatalog(tiers)
	require.NoError(t, err)

	tiers[1].Features[0] = "mutated"
	tiers[1].PerMinute = 1

	pro, err := c.Resolve("pro")
	require.NoError(t, err)
	assert.Equal(t, []string{"pdf"}, pro.Features)
	assert.Equal(t, int64(60), pro.PerMinute)
}

func TestNewCatalogValidation(t *testing.T) {
	cases := map[string]func([]model.Tier) []model.Tier{
		"empty name": func(ts []model.Tier) []model.Tier { ts[0].Name = " "; return ts },
		"duplicate":  func(ts []model.Tier) []model.Tier { ts[1].Name = "FREE"; return ts },
		"negative":   func(ts []model.Tier) []model.Tier { ts[0].PerDay = -1; return ts },
		"discount":   func(ts []model.Tier) []model.Tier { ts[1].Discount = decimal.RequireFromString("1.5"); return ts },
		"price":      func(ts []model.Tier) []model.Tier { ts[1].BasePrice = decimal.RequireFromString("-0.1"); return ts },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewCatalog(mutate(testTiers()))
			assert.Error(t, err)
		})
	}

	_, err := NewCatalog(nil)
	assert.Error(t, err)
}

func TestTierHelpers(t *testing.T) {
	c, err := NewCatalog(testTiers())
	require.NoError(t, err)
	pro, _ := c.Resolve("pro")

	assert.Equal(t, int64(60), pro.Limit(model.WindowMinute))
	assert.Equal(t, int64(5000), pro.Limit(model.WindowDay))
	assert.Equal(t, int64(50000), pro.Limit(model.WindowMonth))
	assert.Equal(t, "10%", pro.DiscountPercent())
	assert.True(t, decimal.RequireFromString("0.00135").Equal(pro.EffectivePrice()))
}
