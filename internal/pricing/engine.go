package pricing

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCartItem is returned when a cart line fails validation.
	ErrInvalidCartItem = errors.New("invalid cart item")
	// ErrAmountOutOfRange is returned when a total is zero where a charge is required or exceeds the configured maximum.
	ErrAmountOutOfRange = errors.New("amount out of range")
	// ErrTooManyItems is returned when a cart has more lines than the processor metadata can carry.
	ErrTooManyItems = errors.New("too many cart items")
)

// MaxQuantity bounds the units on a single line. It matches the lte tag on CartItem.Quantity.
const MaxQuantity = 1_000_000

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
)

// CartItem is a single purchasable line submitted for checkout. Price is per unit in major currency units.
type CartItem struct {
	Name        string          `json:"name" validate:"required,max=500"`
	Description string          `json:"description"`
	ProductID   string          `json:"productId" validate:"max=500"`
	VariantID   string          `json:"variantId" validate:"max=500"`
	Quantity    int             `json:"quantity" validate:"gte=1,lte=1000000"`
	Price       decimal.Decimal `json:"price"`
}

// Cart is an ordered list of line items. Order is kept for metadata indexing.
type Cart []CartItem

// ItemCount returns the total number of units in the cart. ok is false when the sum does not fit in an int.
func (c Cart) ItemCount() (n int, ok bool) {
	for _, it := range c {
		if it.Quantity > 0 && n > math.MaxInt-it.Quantity {
			return 0, false
		}
		n += it.Quantity
	}
	return n, true
}

// Result holds the derived totals for a cart. It is never persisted.
type Result struct {
	Subtotal     decimal.Decimal
	ShippingCost decimal.Decimal
	Total        decimal.Decimal
	ItemCount    int
}

// ItemError identifies the offending line of an invalid cart.
type ItemError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %s %s", e.Index, e.Field, e.Reason)
}

// Unwrap lets callers match ErrInvalidCartItem with errors.Is.
func (e *ItemError) Unwrap() error { return ErrInvalidCartItem }

// Engine computes cart totals. The zero value is not usable; use NewEngine.
type Engine struct {
	policy   ShippingPolicy
	maxTotal decimal.Decimal
	validate *validator.Validate
}

// NewEngine builds an engine using the given shipping policy. A non-positive maxTotal disables the upper bound.
func NewEngine(policy ShippingPolicy, maxTotal decimal.Decimal) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		policy:   policy,
		maxTotal: maxTotal,
		validate: newValidator(),
	}, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Policy returns the shipping policy the engine was built with.
func (e *Engine) Policy() ShippingPolicy { return e.policy }

// ComputeTotals validates the cart and derives subtotal, shipping and total.
// It has no side effects and is safe for concurrent use.
func (e *Engine) ComputeTotals(cart Cart) (Result, error) {
	subtotal := decimal.Zero
	for i, it := range cart {
		if err := e.validateItem(i, it); err != nil {
			return Result{}, err
		}
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	count, ok := cart.ItemCount()
	if !ok {
		return Result{}, fmt.Errorf("%w: item count overflows", ErrAmountOutOfRange)
	}
	shipping := e.policy.Cost(count)
	total := subtotal.Add(shipping)
	if e.maxTotal.IsPositive() && total.GreaterThan(e.maxTotal) {
		return Result{}, fmt.Errorf("%w: total %s exceeds maximum %s", ErrAmountOutOfRange, total.String(), e.maxTotal.String())
	}
	return Result{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		Total:        total,
		ItemCount:    count,
	}, nil
}

func (e *Engine) validateItem(index int, it CartItem) error {
	if err := e.validate.Struct(it); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ItemError{Index: index, Field: fe.Field(), Reason: describeTag(fe.Tag(), fe.Param())}
		}
		return &ItemError{Index: index, Field: "item", Reason: err.Error()}
	}
	if it.Price.IsNegative() {
		return &ItemError{Index: index, Field: "price", Reason: "must not be negative"}
	}
	return nil
}

// ToMinorUnits converts a major-unit amount to integer minor units, rounding half up.
// 19.995 becomes 2000, never 1999. Amounts that do not fit in an int64 fail with ErrAmountOutOfRange.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(hundred).Round(0)
	if minor.Abs().GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %s does not fit in minor units", ErrAmountOutOfRange, amount.String())
	}
	return minor.IntPart(), nil
}

func describeTag(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "gte":
		return "must be at least " + param
	case "lte":
		return "must be at most " + param
	case "max":
		return "must be at most " + param + " characters"
	default:
		return "failed " + tag
	}
}
