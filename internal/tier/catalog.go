// Package tier holds the subscription catalog. It is loaded once at startup
// and never mutated, so lookups need no locking.
package tier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmehdipour/reader-gateway/internal/model"
	"github.com/shopspring/decimal"
)

var ErrUnknownTier = errors.New("unknown tier")

type Catalog struct {
	byName map[string]model.Tier
	order  []string
}

// NewCatalog validates tiers and builds an immutable catalog. Order is kept
// for listings.
func NewCatalog(tiers []model.Tier) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, errors.New("tier catalog is empty")
	}

	c := &Catalog{
		byName: make(map[string]model.Tier, len(tiers)),
		order:  make([]string, 0, len(tiers)),
	}
	one := decimal.NewFromInt(1)

	for _, t := range tiers {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			return nil, errors.New("tier with empty name")
		}
		if _, dup := c.byName[name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", name)
		}
		if t.PerMinute < 0 || t.PerDay < 0 || t.MonthlyQuota < 0 {
			return nil, fmt.Errorf("tier %q: negative limit", name)
		}
		if t.BasePrice.IsNegative() || t.PriceMonthly.IsNegative() {
			return nil, fmt.Errorf("tier %q: negative price", name)
		}
		if t.Discount.IsNegative() || t.Discount.GreaterThan(one) {
			return nil, fmt.Errorf("tier %q: discount %s outside [0,1]", name, t.Discount)
		}

		t.Name = name
		if t.DisplayName == "" {
			t.DisplayName = strings.ToUpper(name[:1]) + name[1:]
		}
		t.Features = append([]string(nil), t.Features...)

		c.byName[name] = t
		c.order = append(c.order, name)
	}
	return c, nil
}

// Resolve returns the tier with the given name or ErrUnknownTier.
func (c *Catalog) Resolve(name string) (model.Tier, error) {
	t, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return model.Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return t, nil
}

// List returns every tier in catalog order.
func (c *Catalog) List() []model.Tier {
	out := make([]model.Tier, 0, len(c.order))
	for _, n := range c.order {
		out = append(out, c.byName[n])
	}
	return out
}
