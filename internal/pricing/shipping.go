package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier charges Cost for any item count up to and including UpperBound.
type Tier struct {
	UpperBound int
	Cost       decimal.Decimal
}

// Overflow prices item counts above the top tier: the top tier cost plus StepCost for every
// started block of StepItems beyond the top bound.
type Overflow struct {
	StepItems int
	StepCost  decimal.Decimal
}

// ShippingPolicy maps total item count to a shipping cost. Tiers are data so operators can
// retune pricing through configuration.
type ShippingPolicy struct {
	Tiers    []Tier
	Overflow Overflow
}

// DefaultShippingPolicy returns the storefront's stock tier table.
func DefaultShippingPolicy() ShippingPolicy {
	return ShippingPolicy{
		Tiers: []Tier{
			{UpperBound: 5, Cost: decimal.NewFromInt(150)},
			{UpperBound: 10, Cost: decimal.NewFromInt(250)},
			{UpperBound: 15, Cost: decimal.NewFromInt(350)},
			{UpperBound: 20, Cost: decimal.NewFromInt(450)},
			{UpperBound: 25, Cost: decimal.NewFromInt(550)},
		},
		Overflow: Overflow{StepItems: 5, StepCost: decimal.NewFromInt(100)},
	}
}

// Validate checks that tiers are strictly increasing with non-negative costs.
func (p ShippingPolicy) Validate() error {
	if len(p.Tiers) == 0 {
		return errors.New("shipping policy: at least one tier is required")
	}
	prev := 0
	for i, t := range p.Tiers {
		if t.UpperBound <= prev {
			return fmt.Errorf("shipping policy: tier %d upper bound %d must be greater than %d", i, t.UpperBound, prev)
		}
		if t.Cost.IsNegative() {
			return fmt.Errorf("shipping policy: tier %d cost must not be negative", i)
		}
		prev = t.UpperBound
	}
	if p.Overflow.StepItems <= 0 {
		return errors.New("shipping policy: overflow step items must be positive")
	}
	if p.Overflow.StepCost.IsNegative() {
		return errors.New("shipping policy: overflow step cost must not be negative")
	}
	return nil
}

// Cost returns the shipping cost for the given total item count. Zero items ship free.
func (p ShippingPolicy) Cost(itemCount int) decimal.Decimal {
	if itemCount <= 0 || len(p.Tiers) == 0 {
		return decimal.Zero
	}
	for _, t := range p.Tiers {
		if itemCount <= t.UpperBound {
			return t.Cost
		}
	}
	top := p.Tiers[len(p.Tiers)-1]
	step := p.Overflow.StepItems
	if step <= 0 {
		step = 1
	}
	extra := itemCount - top.UpperBound
	steps := extra / step
	if extra%step != 0 {
		steps++
	}
	return top.Cost.Add(p.Overflow.StepCost.Mul(decimal.NewFromInt(int64(steps))))
}

// ParseTiers reads a "bound:cost,bound:cost" list. Entries are sorted by bound.
func ParseTiers(csv string) ([]Tier, error) {
	var tiers []Tier
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bound, cost, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("shipping tier %q: expected bound:cost", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(bound))
		if err != nil {
			return nil, fmt.Errorf("shipping tier %q: bound: %w", part, err)
		}
		c, err := decimal.NewFromString(strings.TrimSpace(cost))
		if err != nil {
			return nil, fmt.Errorf("shipping tier %q: cost: %w", part, err)
		}
		tiers = append(tiers, Tier{UpperBound: n, Cost: c})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].UpperBound < tiers[j].UpperBound })
	return tiers, nil
}
