package pricing

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

// Unbounded marks a QuantityRule without an upper limit.
const Unbounded = -1

// QuantityRule holds the order bounds of a product.
type QuantityRule struct {
	ProductID string
	Min       int
	Multiple  int
	Max       int
}

// RuleFor derives the quantity bounds of p. The upper limit is the explicit
// maximum order quantity, else the stock snapshot when stock is tracked.
func RuleFor(p *product.Product) QuantityRule {
	r := QuantityRule{
		ProductID: p.ID,
		Min:       max(p.MinOrderQuantity, 1),
		Multiple:  max(p.OrderMultiple, 1),
		Max:       Unbounded,
	}
	switch {
	case p.MaxOrderQuantity != nil:
		r.Max = max(*p.MaxOrderQuantity, 0)
	case p.TrackStock && p.Stock != nil:
		r.Max = max(*p.Stock, 0)
	}
	return r
}

// Capped returns a copy of r whose upper limit is at most limit.
func (r QuantityRule) Capped(limit int) QuantityRule {
	limit = max(limit, 0)
	if r.Max == Unbounded || limit < r.Max {
		r.Max = limit
	}
	return r
}

// Orderable reports whether any quantity satisfies the bounds.
func (r QuantityRule) Orderable() bool {
	return r.Max == Unbounded || r.Min <= r.Max
}

// Normalize clamps q into [Min, Max]. It does not snap to the order multiple.
// A product whose minimum exceeds its maximum yields *OutOfRangeError.
func (r QuantityRule) Normalize(q int) (int, error) {
	if !r.Orderable() {
		return 0, &OutOfRangeError{ProductID: r.ProductID, Requested: q, Min: r.Min, Max: r.Max}
	}
	if q < r.Min {
		q = r.Min
	}
	if r.Max != Unbounded && q > r.Max {
		q = r.Max
	}
	return q, nil
}

// NormalizeRaw parses form input and normalizes it.
func (r QuantityRule) NormalizeRaw(raw string) (int, error) {
	return r.Normalize(ParseQuantity(raw, r.Min))
}

// Step moves q by one order multiple in the direction of dir and re-applies
// the bounds.
func (r QuantityRule) Step(q, dir int) (int, error) {
	switch {
	case dir > 0:
		q += r.Multiple
	case dir < 0:
		q -= r.Multiple
	}
	return r.Normalize(q)
}

// ParseQuantity coerces raw form input into an integer quantity. Input that
// is not a number yields fallback; fractions are truncated toward zero.
func ParseQuantity(raw string, fallback int) int {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	n := d.Truncate(0)
	switch {
	case n.GreaterThan(decimal.NewFromInt(math.MaxInt32)):
		return math.MaxInt32
	case n.LessThan(decimal.NewFromInt(math.MinInt32)):
		return math.MinInt32
	}
	return int(n.IntPart())
}
