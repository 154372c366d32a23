package pricing

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultShippingPolicy(), decimal.NewFromInt(999_999))
	require.NoError(t, err)
	return engine
}

func TestComputeTotalsSingleItem(t *testing.T) {
	engine := newTestEngine(t)
	res, err := engine.ComputeTotals(Cart{{Name: "Tenis", Price: decimal.NewFromInt(100), Quantity: 1}})
	require.NoError(t, err)
	require.True(t, res.Subtotal.Equal(decimal.NewFromInt(100)), "subtotal %s", res.Subtotal)
	require.True(t, res.ShippingCost.Equal(decimal.NewFromInt(150)), "shipping %s", res.ShippingCost)
	require.True(t, res.Total.Equal(decimal.NewFromInt(250)), "total %s", res.Total)
	require.Equal(t, 1, res.ItemCount)
}

func TestComputeTotalsOverflowTier(t *testing.T) {
	engine := newTestEngine(t)
	res, err := engine.ComputeTotals(Cart{{Name: "Calcetas", Price: decimal.NewFromInt(50), Quantity: 30}})
	require.NoError(t, err)
	require.True(t, res.Subtotal.Equal(decimal.NewFromInt(1500)))
	// 25 in the top tier (550) plus one started block of 5 (100).
	require.True(t, res.ShippingCost.Equal(decimal.NewFromInt(650)), "shipping %s", res.ShippingCost)
	require.True(t, res.Total.Equal(decimal.NewFromInt(2150)))
}

func TestComputeTotalsEmptyCart(t *testing.T) {
	engine := newTestEngine(t)
	res, err := engine.ComputeTotals(nil)
	require.NoError(t, err)
	require.True(t, res.Subtotal.IsZero())
	require.True(t, res.ShippingCost.IsZero())
	require.True(t, res.Total.IsZero())
}

func TestComputeTotalsRejectsInvalidItems(t *testing.T) {
	engine := newTestEngine(t)
	tests := []struct {
		name  string
		item  CartItem
		field string
	}{
		{name: "negative quantity", item: CartItem{Name: "x", Price: decimal.NewFromInt(1), Quantity: -1}, field: "quantity"},
		{name: "zero quantity", item: CartItem{Name: "x", Price: decimal.NewFromInt(1), Quantity: 0}, field: "quantity"},
		{name: "negative price", item: CartItem{Name: "x", Price: decimal.NewFromInt(-1), Quantity: 1}, field: "price"},
		{name: "empty name", item: CartItem{Price: decimal.NewFromInt(1), Quantity: 1}, field: "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := Cart{{Name: "ok", Price: decimal.NewFromInt(10), Quantity: 1}, tt.item}
			_, err := engine.ComputeTotals(cart)
			require.ErrorIs(t, err, ErrInvalidCartItem)
			var itemErr *ItemError
			require.True(t, errors.As(err, &itemErr))
			require.Equal(t, 1, itemErr.Index)
			require.Equal(t, tt.field, itemErr.Field)
		})
	}
}

func TestComputeTotalsAboveMaximum(t *testing.T) {
	engine, err := NewEngine(DefaultShippingPolicy(), decimal.NewFromInt(1000))
	require.NoError(t, err)
	_, err = engine.ComputeTotals(Cart{{Name: "TV", Price: decimal.NewFromInt(900), Quantity: 1}})
	require.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestShippingCostMatchesTierTable(t *testing.T) {
	policy := DefaultShippingPolicy()
	cases := map[int]int64{0: 0, 1: 150, 5: 150, 6: 250, 10: 250, 11: 350, 15: 350, 16: 450, 20: 450, 21: 550, 25: 550, 26: 650, 30: 650, 31: 750, 40: 750, 41: 850}
	for count, want := range cases {
		got := policy.Cost(count)
		require.Truef(t, got.Equal(decimal.NewFromInt(want)), "count %d: want %d got %s", count, want, got)
	}
}

func TestComputeTotalsProperties(t *testing.T) {
	engine := newTestEngine(t)
	faker := gofakeit.New(42)
	for run := 0; run < 200; run++ {
		n := faker.IntRange(0, 8)
		cart := make(Cart, 0, n)
		want := decimal.Zero
		for i := 0; i < n; i++ {
			cents := faker.IntRange(0, 500_00)
			price := decimal.New(int64(cents), -2)
			qty := faker.IntRange(1, 6)
			cart = append(cart, CartItem{
				Name:      faker.ProductName(),
				ProductID: faker.UUID(),
				VariantID: faker.UUID(),
				Quantity:  qty,
				Price:     price,
			})
			want = want.Add(price.Mul(decimal.NewFromInt(int64(qty))))
		}

		first, err := engine.ComputeTotals(cart)
		require.NoError(t, err)
		require.Truef(t, first.Subtotal.Equal(want), "subtotal want %s got %s", want, first.Subtotal)
		count, ok := cart.ItemCount()
		require.True(t, ok)
		require.Equal(t, count, first.ItemCount)
		require.True(t, first.ShippingCost.Equal(engine.Policy().Cost(count)))
		require.True(t, first.Total.Equal(first.Subtotal.Add(first.ShippingCost)))

		second, err := engine.ComputeTotals(cart)
		require.NoError(t, err)
		require.True(t, first.Subtotal.Equal(second.Subtotal))
		require.True(t, first.ShippingCost.Equal(second.ShippingCost))
		require.True(t, first.Total.Equal(second.Total))
	}
}

func TestComputeTotalsConcurrent(t *testing.T) {
	engine := newTestEngine(t)
	cart := Cart{
		{Name: "Playera", Price: decimal.RequireFromString("199.99"), Quantity: 3},
		{Name: "Gorra", Price: decimal.RequireFromString("89.50"), Quantity: 4},
	}
	expected, err := engine.ComputeTotals(cart)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.ComputeTotals(cart)
			if err != nil {
				errs <- err
				return
			}
			if !res.Total.Equal(expected.Total) {
				errs <- errors.New("total drift: " + res.Total.String())
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestToMinorUnitsRoundsHalfUp(t *testing.T) {
	cases := map[string]int64{
		"19.995": 2000,
		"19.994": 1999,
		"0.005":  1,
		"0.004":  0,
		"100":    10000,
		"2.675":  268,
	}
	for in, want := range cases {
		got, err := ToMinorUnits(decimal.RequireFromString(in))
		require.NoError(t, err)
		require.Equalf(t, want, got, "amount %s", in)
	}
}

func TestToMinorUnitsRejectsAmountsBeyondInt64(t *testing.T) {
	// 2^64 / 100 major units would wrap to a handful of cents.
	huge := decimal.RequireFromString("184467440737095516.16")
	_, err := ToMinorUnits(huge)
	require.ErrorIs(t, err, ErrAmountOutOfRange)

	edge := decimal.New(math.MaxInt64, -2)
	got, err := ToMinorUnits(edge)
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), got)

	_, err = ToMinorUnits(edge.Add(decimal.RequireFromString("0.01")))
	require.ErrorIs(t, err, ErrAmountOutOfRange)
}

func TestComputeTotalsRejectsHugeQuantities(t *testing.T) {
	engine, err := NewEngine(DefaultShippingPolicy(), decimal.Zero)
	require.NoError(t, err)
	cart := Cart{
		{Name: "Playera", Price: decimal.NewFromInt(100), Quantity: 1},
		{Name: "Sticker", Price: decimal.Zero, Quantity: math.MaxInt/2 + 1},
		{Name: "Sticker", Price: decimal.Zero, Quantity: math.MaxInt/2 + 1},
	}
	_, err = engine.ComputeTotals(cart)
	require.ErrorIs(t, err, ErrInvalidCartItem)
	var itemErr *ItemError
	require.True(t, errors.As(err, &itemErr))
	require.Equal(t, 1, itemErr.Index)
	require.Equal(t, "quantity", itemErr.Field)

	res, err := engine.ComputeTotals(Cart{{Name: "Sticker", Price: decimal.Zero, Quantity: MaxQuantity}})
	require.NoError(t, err)
	require.Equal(t, MaxQuantity, res.ItemCount)
	require.True(t, res.ShippingCost.IsPositive())
}

func TestItemCountDetectsOverflow(t *testing.T) {
	_, ok := Cart{{Quantity: math.MaxInt}, {Quantity: 1}}.ItemCount()
	require.False(t, ok)

	n, ok := Cart{{Quantity: 3}, {Quantity: 4}}.ItemCount()
	require.True(t, ok)
	require.Equal(t, 7, n)
}

func TestShippingCostLargeCountsStayPositive(t *testing.T) {
	policy := DefaultShippingPolicy()
	for _, count := range []int{26, 1_000_000, math.MaxInt - 1, math.MaxInt} {
		cost := policy.Cost(count)
		require.Truef(t, cost.GreaterThan(decimal.NewFromInt(550)), "count %d: %s", count, cost)
	}
}

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers("10:250, 5:150.50")
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	require.Equal(t, 5, tiers[0].UpperBound)
	require.True(t, tiers[0].Cost.Equal(decimal.RequireFromString("150.50")))

	_, err = ParseTiers("5-150")
	require.Error(t, err)
}

func TestShippingPolicyValidate(t *testing.T) {
	bad := ShippingPolicy{
		Tiers:    []Tier{{UpperBound: 5, Cost: decimal.NewFromInt(1)}, {UpperBound: 5, Cost: decimal.NewFromInt(2)}},
		Overflow: Overflow{StepItems: 1},
	}
	require.Error(t, bad.Validate())
	require.NoError(t, DefaultShippingPolicy().Validate())
}
