package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

// Source names the link of the price chain that produced a unit price.
type Source string

const (
	SourceGroup   Source = "group"
	SourceTier    Source = "tier"
	SourceSale    Source = "sale"
	SourceBase    Source = "base"
	SourceVariant Source = "variant"
	SourceBox     Source = "box"
)

// Breakdown is the display-ready result of pricing a product at a quantity.
type Breakdown struct {
	UnitPrice decimal.Decimal
	// ListPrice is the product's base price; zero for grouped parents without one.
	ListPrice decimal.Decimal
	// OldPrice is the struck-through "was" price, when there is one.
	OldPrice        decimal.NullDecimal
	SavingsPercent  decimal.Decimal
	ActiveTierIndex int
	Source          Source
}

// Resolved reports whether b carries a unit price. A grouped parent whose
// children are priced individually has none.
func (b Breakdown) Resolved() bool {
	return b.Source != ""
}

// BasePrice returns the product's base price or *InvalidProductError when it
// is absent or negative.
func BasePrice(p *product.Product) (decimal.Decimal, error) {
	if !p.BasePrice.Valid {
		return decimal.Zero, &InvalidProductError{ProductID: p.ID, Reason: "base price missing"}
	}
	if p.BasePrice.Decimal.IsNegative() {
		return decimal.Zero, &InvalidProductError{ProductID: p.ID, Reason: "base price negative"}
	}
	return p.BasePrice.Decimal, nil
}

// Quote runs the price chain group -> tier -> sale -> base for a product with
// its own base price.
func Quote(p *product.Product, customerGroup string, q int, policy TierPolicy) (Breakdown, error) {
	base, err := BasePrice(p)
	if err != nil {
		return Breakdown{}, err
	}
	b, _ := resolve(p, decimal.NewNullDecimal(base), customerGroup, q, policy)
	return b, nil
}

// QuoteAggregate prices a grouped parent at the aggregate quantity of its
// children. It reports false when neither a group row, a tier nor a parent
// price applies, leaving pricing to each child.
func QuoteAggregate(parent *product.Product, customerGroup string, aggregate int, policy TierPolicy) (Breakdown, bool) {
	base := parent.BasePrice
	if base.Valid && base.Decimal.IsNegative() {
		base = decimal.NullDecimal{}
	}
	return resolve(parent, base, customerGroup, aggregate, policy)
}

// Finish fills the display fields of b from the list and compare-at prices.
func Finish(b Breakdown, compareAt decimal.NullDecimal) Breakdown {
	b.UnitPrice = b.UnitPrice.Round(2)
	b.OldPrice = decimal.NullDecimal{}
	b.SavingsPercent = decimal.Zero

	switch {
	case compareAt.Valid && compareAt.Decimal.GreaterThan(b.UnitPrice):
		b.OldPrice = compareAt
	case b.ListPrice.GreaterThan(b.UnitPrice):
		b.OldPrice = decimal.NewNullDecimal(b.ListPrice)
	}
	if b.OldPrice.Valid && b.OldPrice.Decimal.IsPositive() {
		saved := b.OldPrice.Decimal.Sub(b.UnitPrice)
		b.SavingsPercent = saved.Mul(hundred).Div(b.OldPrice.Decimal).Round(0)
	}
	return b
}

func resolve(p *product.Product, base decimal.NullDecimal, customerGroup string, q int, policy TierPolicy) (Breakdown, bool) {
	b := Breakdown{ActiveTierIndex: NoTier}
	if base.Valid {
		b.ListPrice = base.Decimal
	}

	if row, ok := ResolveGroupPrice(p.GroupPrices, customerGroup, q); ok {
		b.UnitPrice = row.Price
		b.Source = SourceGroup
		return Finish(b, p.CompareAtPrice), true
	}

	if idx := ResolveTier(p.Tiers, q, policy); idx != NoTier {
		t := p.Tiers[idx]
		switch {
		case base.Valid:
			b.UnitPrice = TierPrice(t, base.Decimal)
		case t.DiscountPrice.Valid && !t.DiscountPrice.Decimal.IsNegative():
			b.UnitPrice = t.DiscountPrice.Decimal
		default:
			// Percentage tier without a reference price.
			idx = NoTier
		}
		if idx != NoTier {
			b.Source = SourceTier
			b.ActiveTierIndex = idx
			return Finish(b, p.CompareAtPrice), true
		}
	}

	if !base.Valid {
		return b, false
	}
	if sale := p.SalePrice; sale.Valid && !sale.Decimal.IsNegative() && sale.Decimal.LessThanOrEqual(base.Decimal) {
		b.UnitPrice = sale.Decimal
		b.Source = SourceSale
		return Finish(b, p.CompareAtPrice), true
	}
	b.UnitPrice = base.Decimal
	b.Source = SourceBase
	return Finish(b, p.CompareAtPrice), true
}
